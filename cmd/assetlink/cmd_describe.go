package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/assetlink/internal/library"
)

func init() {
	rootCmd.AddCommand(describeCmd, assetsCmd)
}

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "List the asset definitions in the library",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		lib, err := library.Load(cfg.LibraryDir)
		if err != nil {
			return err
		}
		assets := lib.List()
		if len(assets) == 0 {
			fmt.Printf("No assets in %s.\n", cfg.LibraryDir)
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tLABEL\tOUTPUTS\tNETWORKS")
		for _, a := range assets {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", a.Name, a.Version, a.Label, len(a.Outputs), len(a.Networks))
		}
		return w.Flush()
	},
}

var describeCmd = &cobra.Command{
	Use:   "describe <asset>",
	Short: "Show an asset's parameters, outputs, work networks and help",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		lib, err := library.Load(cfg.LibraryDir)
		if err != nil {
			return err
		}
		a, err := lib.Get(args[0])
		if err != nil {
			return err
		}

		title := a.Name
		if a.Label != "" {
			title = fmt.Sprintf("%s (%s)", a.Label, a.Name)
		}
		if a.Version != "" {
			title += " v" + a.Version
		}
		fmt.Println(title)
		fmt.Println()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PARAMETER\tTYPE\tDEFAULT\tRANGE")
		for _, p := range a.Parameters {
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", p.Name, p.Type, valueOrDash(p.Default), paramRange(p))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if a.Inputs.Node > 0 || len(a.Inputs.Parameters) > 0 {
			fmt.Printf("\nInputs: %d node", a.Inputs.Node)
			if len(a.Inputs.Parameters) > 0 {
				fmt.Printf(", parameters %s", strings.Join(a.Inputs.Parameters, ", "))
			}
			fmt.Println()
		}

		fmt.Println()
		for i, o := range a.Outputs {
			proxy := ""
			if o.IsProxy() {
				proxy = " (proxy)"
			}
			fmt.Printf("Output %d: %s%s, %d object(s)", i, o.Type, proxy, len(o.Objects))
			if o.Count != "" {
				fmt.Printf(" x %s", o.Count)
			}
			if o.When != "" {
				fmt.Printf(" when %s", o.When)
			}
			fmt.Println()
		}

		for _, n := range a.Networks {
			fmt.Printf("\nWork network %s\n", n.Path)
			for _, node := range n.Nodes {
				deps := ""
				if len(node.DependsOn) > 0 {
					deps = " <- " + strings.Join(node.DependsOn, ", ")
				}
				fmt.Printf("  %s/%s: %d item(s)%s\n", n.Path, node.Name, node.Items, deps)
			}
		}

		help, err := lib.Help(a.Name)
		if err != nil {
			return err
		}
		if help != "" {
			fmt.Println()
			fmt.Println(help)
		}
		return nil
	},
}

func valueOrDash(v any) any {
	if v == nil {
		return "-"
	}
	return v
}

func paramRange(p library.Parameter) string {
	switch {
	case len(p.Tokens) > 0:
		return strings.Join(p.Tokens, "|")
	case p.Min != nil && p.Max != nil:
		return fmt.Sprintf("%g..%g", *p.Min, *p.Max)
	case p.Min != nil:
		return fmt.Sprintf(">= %g", *p.Min)
	case p.Max != nil:
		return fmt.Sprintf("<= %g", *p.Max)
	}
	return ""
}
