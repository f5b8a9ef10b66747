package main

import (
	"testing"

	"github.com/spf13/cobra"

	"github.com/user/assetlink/internal/state"
)

func TestApplyRunFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "run"}
	addRunFlags(cmd)
	if err := cmd.ParseFlags([]string{
		"--set", "seed=7",
		"--set", "style=jagged",
		"--set", "scale=1.5",
		"--bake-output", "0,1",
		"--work-node", "/obj/topnet1/export",
	}); err != nil {
		t.Fatal(err)
	}

	job := &state.Job{Name: "rocks", Asset: "rock_gen", BakeAll: true, AutoBake: true}
	if err := applyRunFlags(cmd, job); err != nil {
		t.Fatal(err)
	}
	if job.Parameters["seed"] != int64(7) || job.Parameters["style"] != "jagged" || job.Parameters["scale"] != 1.5 {
		t.Errorf("unexpected parameters %v", job.Parameters)
	}
	if len(job.BakeOutputs) != 2 || job.BakeOutputs[1] != 1 {
		t.Errorf("unexpected bake outputs %v", job.BakeOutputs)
	}
	if len(job.WorkNodes) != 1 || job.WorkNodes[0].Network != "/obj/topnet1" || job.WorkNodes[0].Node != "export" {
		t.Errorf("unexpected work nodes %v", job.WorkNodes)
	}
	// Unset flags keep the stored values.
	if !job.BakeAll || !job.AutoBake {
		t.Errorf("expected stored flags kept, got %+v", job)
	}
}

func TestApplyRunFlagsRejectsBadInput(t *testing.T) {
	for _, args := range [][]string{
		{"--set", "novalue"},
		{"--work-node", "export"},
	} {
		cmd := &cobra.Command{Use: "run"}
		addRunFlags(cmd)
		if err := cmd.ParseFlags(args); err != nil {
			t.Fatal(err)
		}
		if err := applyRunFlags(cmd, &state.Job{}); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestFormatParams(t *testing.T) {
	got := formatParams(map[string]any{"seed": 3, "style": "smooth"})
	if got != "seed=3,style=smooth" {
		t.Errorf("unexpected %q", got)
	}
}
