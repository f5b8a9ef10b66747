package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/assetlink/internal/state"
)

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd)
	runCmd.Flags().Bool("json", false, "print the report as JSON")
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringArray("set", nil, "parameter override name=value (repeatable)")
	cmd.Flags().Bool("bake-all", false, "bake every output object")
	cmd.Flags().IntSlice("bake-output", nil, "output indices to bake")
	cmd.Flags().StringSlice("work-node", nil, "work node path to cook, e.g. /obj/topnet1/export")
	cmd.Flags().Bool("auto-bake", false, "bake work items as they cook")
}

// applyRunFlags copies the shared run flags onto job. Flags left unset keep
// the job's stored values.
func applyRunFlags(cmd *cobra.Command, job *state.Job) error {
	sets, _ := cmd.Flags().GetStringArray("set")
	if len(sets) > 0 {
		if job.Parameters == nil {
			job.Parameters = make(map[string]any)
		}
		for _, s := range sets {
			name, raw, ok := strings.Cut(s, "=")
			if !ok || name == "" {
				return fmt.Errorf("invalid --set %q, want name=value", s)
			}
			job.Parameters[name] = parseValue(raw)
		}
	}
	if cmd.Flags().Changed("bake-all") {
		job.BakeAll, _ = cmd.Flags().GetBool("bake-all")
	}
	if cmd.Flags().Changed("bake-output") {
		job.BakeOutputs, _ = cmd.Flags().GetIntSlice("bake-output")
	}
	if cmd.Flags().Changed("work-node") {
		paths, _ := cmd.Flags().GetStringSlice("work-node")
		job.WorkNodes = job.WorkNodes[:0]
		for _, p := range paths {
			wn, err := state.ParseWorkNode(p)
			if err != nil {
				return err
			}
			job.WorkNodes = append(job.WorkNodes, wn)
		}
	}
	if cmd.Flags().Changed("auto-bake") {
		job.AutoBake, _ = cmd.Flags().GetBool("auto-bake")
	}
	return nil
}

func parseValue(raw string) any {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

var runCmd = &cobra.Command{
	Use:   "run <job|asset>",
	Short: "Run a stored job, or an asset directly, once in the foreground",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		s, err := openStack(cfg)
		if err != nil {
			return err
		}

		job, err := jobStore(cfg).Get(args[0])
		if err != nil {
			if _, aerr := s.lib.Get(args[0]); aerr != nil {
				return fmt.Errorf("no job or asset named %q", args[0])
			}
			job = &state.Job{Name: args[0], Asset: args[0], BakeAll: true}
		}
		if err := applyRunFlags(cmd, job); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		defer s.sess.Close(context.Background())

		rep, err := s.runner.Run(ctx, job)
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON && rep != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if eerr := enc.Encode(rep); eerr != nil {
				return eerr
			}
		} else if rep != nil {
			fmt.Fprintln(os.Stdout, rep.Summary())
			for _, b := range rep.Bakes {
				if b.Success {
					fmt.Fprintf(os.Stdout, "  %s\n", b.Target)
				}
			}
		}
		if err != nil {
			return err
		}
		if !rep.Success() {
			return fmt.Errorf("job %s did not complete cleanly", job.Name)
		}
		return nil
	},
}
