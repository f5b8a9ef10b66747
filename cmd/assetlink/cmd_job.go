package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/assetlink/internal/scheduler"
	"github.com/user/assetlink/internal/state"
)

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobAddCmd, jobListCmd, jobRemoveCmd, jobEnableCmd, jobDisableCmd)

	jobAddCmd.Flags().String("name", "", "job name (required)")
	jobAddCmd.Flags().String("asset", "", "asset definition name (required)")
	jobAddCmd.Flags().String("schedule", "", "cron schedule expression")
	jobAddCmd.Flags().String("notify", "", "report target, e.g. telegram:<chat id> or log:")
	addRunFlags(jobAddCmd)
	_ = jobAddCmd.MarkFlagRequired("name")
	_ = jobAddCmd.MarkFlagRequired("asset")
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage jobs",
}

var jobAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new job",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		asset, _ := cmd.Flags().GetString("asset")
		schedule, _ := cmd.Flags().GetString("schedule")
		notify, _ := cmd.Flags().GetString("notify")

		if schedule != "" {
			if err := scheduler.Validate(schedule); err != nil {
				return err
			}
		}
		job := &state.Job{
			Name:     name,
			Asset:    asset,
			Schedule: schedule,
			Notify:   notify,
			Enabled:  true,
		}
		if err := applyRunFlags(cmd, job); err != nil {
			return err
		}
		if err := jobStore(loadConfig()).Add(job); err != nil {
			return fmt.Errorf("add job: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Job %q added.\n", name)
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := jobStore(loadConfig()).List()
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}

		if len(jobs) == 0 {
			fmt.Println("No jobs configured.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tASSET\tSCHEDULE\tENABLED\tNOTIFY\tPARAMETERS")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n",
				j.Name,
				j.Asset,
				j.Schedule,
				j.Enabled,
				j.Notify,
				formatParams(j.Parameters),
			)
		}
		return w.Flush()
	},
}

func formatParams(p map[string]any) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, p[k]))
	}
	return strings.Join(parts, ",")
}

var jobRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := jobStore(loadConfig()).Remove(args[0]); err != nil {
			return fmt.Errorf("remove job: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Job %q removed.\n", args[0])
		return nil
	},
}

var jobEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := jobStore(loadConfig()).SetEnabled(args[0], true); err != nil {
			return fmt.Errorf("enable job: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Job %q enabled.\n", args[0])
		return nil
	},
}

var jobDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := jobStore(loadConfig()).SetEnabled(args[0], false); err != nil {
			return fmt.Errorf("disable job: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Job %q disabled.\n", args[0])
		return nil
	},
}
