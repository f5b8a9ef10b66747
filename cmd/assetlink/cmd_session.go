package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionStatusCmd, sessionInstancesCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect the engine session and its instances",
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Connect to the engine and print its capabilities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		s, err := openStack(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		connectErr := s.sess.Ensure(ctx)
		defer s.sess.Close(context.Background())

		caps := s.sess.Capabilities()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "State\t%s\n", s.sess.State())
		if connectErr != nil {
			fmt.Fprintf(w, "Error\t%v\n", connectErr)
		}
		fmt.Fprintf(w, "Engine version\t%s\n", caps.Version)
		fmt.Fprintf(w, "Work graphs\t%v\n", caps.WorkGraphs)
		fmt.Fprintf(w, "Proxy outputs\t%v\n", caps.ProxyOutputs)
		fmt.Fprintf(w, "Bound selector inputs\t%v\n", caps.WorldInputBoundSelector)
		fmt.Fprintf(w, "Library\t%s (%d assets)\n", cfg.LibraryDir, len(s.lib.List()))
		fmt.Fprintf(w, "Bake folder\t%s\n", cfg.Bake.Folder)
		if err := w.Flush(); err != nil {
			return err
		}
		return connectErr
	},
}

var sessionInstancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List recorded asset instances",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		s, err := openStack(cfg)
		if err != nil {
			return err
		}

		ctx := context.Background()
		list, err := s.index.List(ctx)
		if err != nil {
			return fmt.Errorf("list instances: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No instances found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tASSET\tJOB\tSTATE\tEVENTS\tCREATED")
		for _, rec := range list {
			count, err := s.events.Count(ctx, rec.ID)
			if err != nil {
				count = 0
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				rec.ID,
				rec.Asset,
				rec.Job,
				rec.State,
				count,
				rec.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}
