package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/assetlink/internal/delivery"
	"github.com/user/assetlink/internal/runner"
	"github.com/user/assetlink/internal/scheduler"
	"github.com/user/assetlink/internal/state"
	"github.com/user/assetlink/internal/telegram"
	"github.com/user/assetlink/internal/webhook"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the assetlink daemon (cron, webhook, notifications)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "assetlink.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	s, err := openStack(cfg)
	if err != nil {
		return err
	}

	pidFile, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.sess.Ensure(ctx); err != nil {
		// Instances retry the connection on creation; keep serving.
		slog.Warn("engine session not connected", "error", err)
	}
	defer s.sess.Close(context.Background())

	s.runner.Start(ctx)
	defer s.runner.Stop()

	jobs := jobStore(cfg)

	slog.Info("assetlink started",
		"data_dir", cfg.DataDir,
		"library_dir", cfg.LibraryDir,
		"assets", len(s.lib.List()),
		"bake_folder", cfg.Bake.Folder,
		"max_concurrent_cooks", cfg.MaxConcurrentCooks,
		"max_concurrent_jobs", cfg.MaxConcurrentJobs,
		"pid_file", pidFile,
	)

	deliveryReg := delivery.NewRegistry(delivery.DefaultRetryPolicy())

	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, s.runner, jobs)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		deliveryReg.Register(telegram.Prefix, adapter.Deliver)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	notify := func(job *state.Job, rep *runner.Report) {
		target := job.Notify
		if target == "" {
			target = cfg.Notify.Default
		}
		if target == "" {
			return
		}
		if err := deliveryReg.Deliver(target, rep.Summary()); err != nil {
			slog.Error("report delivery failed", "job", job.Name, "target", target, "error", err)
		}
	}

	sched := scheduler.New(jobs, func(job *state.Job) {
		if _, err := s.runner.Submit(job, "cron", func(rep *runner.Report) { notify(job, rep) }); err != nil {
			slog.Error("cron submit failed", "job", job.Name, "error", err)
		}
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()
	slog.Info("scheduler started", "jobs", len(sched.Scheduled()))

	var httpServer *http.Server
	if cfg.HTTP.Enabled {
		httpServer = &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           webhook.NewServer(jobs, s.runner, notify, s.index, s.events),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("webhook server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("webhook server error", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, reloading job schedules")
			if err := sched.Reload(); err != nil {
				slog.Error("scheduler reload failed", "error", err)
			}
			continue
		}

		slog.Info("shutting down", "signal", sig)
		if httpServer != nil {
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Warn("webhook shutdown", "error", err)
			}
			done()
		}
		return nil
	}
}
