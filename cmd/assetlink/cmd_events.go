package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/assetlink/internal/state"
	"github.com/user/assetlink/internal/types"
)

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().Int("limit", 50, "number of most recent events to show (0 for all)")
	eventsCmd.Flags().Bool("json", false, "print raw JSON lines")
}

var eventsCmd = &cobra.Command{
	Use:   "events <instance>",
	Short: "Show the lifecycle event journal of an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		events := state.NewEventStore(cfg.DataDir)
		list, err := events.Tail(context.Background(), types.InstanceID(args[0]), limit)
		if err != nil {
			return fmt.Errorf("read events: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No events recorded.")
			return nil
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			for _, ev := range list {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tAT\tTYPE\tOK\tDETAIL")
		for _, ev := range list {
			detail := ev.Error
			if detail == "" && len(ev.Payload) > 0 {
				detail = string(ev.Payload)
				if len(detail) > 80 {
					detail = detail[:77] + "..."
				}
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%v\t%s\n",
				ev.Seq,
				ev.At.Format("15:04:05.000"),
				ev.Type,
				ev.Success,
				detail,
			)
		}
		return w.Flush()
	},
}
