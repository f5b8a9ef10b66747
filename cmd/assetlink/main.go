package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/assetlink/internal/bake"
	"github.com/user/assetlink/internal/config"
	"github.com/user/assetlink/internal/engine/sim"
	"github.com/user/assetlink/internal/library"
	"github.com/user/assetlink/internal/runner"
	"github.com/user/assetlink/internal/session"
	"github.com/user/assetlink/internal/state"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "assetlink",
	Short:         "Cook, bake and schedule procedural assets",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath(), "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func jobStore(cfg *config.Config) *state.JobStore {
	return state.NewJobStore(filepath.Join(cfg.DataDir, "jobs.json"))
}

// stack is everything a command needs to cook assets.
type stack struct {
	cfg       *config.Config
	lib       *library.Library
	eng       *sim.Engine
	sess      *session.Session
	artifacts *state.ArtifactStore
	events    *state.EventStore
	index     *state.InstanceStore
	runner    *runner.Runner
}

func openStack(cfg *config.Config) (*stack, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	lib, err := library.Load(cfg.LibraryDir)
	if err != nil {
		return nil, fmt.Errorf("load asset library: %w", err)
	}

	s := &stack{
		cfg:       cfg,
		lib:       lib,
		eng:       sim.New(lib, sim.WithLatency(time.Duration(cfg.Engine.LatencyMS)*time.Millisecond)),
		artifacts: state.NewArtifactStore(cfg.DataDir),
		events:    state.NewEventStore(cfg.DataDir),
		index:     state.NewInstanceStore(cfg.DataDir),
	}
	s.sess = session.New(s.eng)
	s.runner = runner.New(s.sess, lib, runner.Options{
		Artifacts:          s.artifacts,
		Journal:            s.events,
		Index:              s.index,
		BakePaths:          bake.NewPathResolver(cfg.Bake.Folder, cfg.Bake.PathTemplate),
		MaxConcurrentCooks: int64(cfg.MaxConcurrentCooks),
		MaxConcurrentJobs:  int64(cfg.MaxConcurrentJobs),
		MaxParallelItems:   int64(cfg.MaxParallelItems),
	})
	return s, nil
}
