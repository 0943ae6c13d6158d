package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/g960059/pnp/internal/config"
	"github.com/g960059/pnp/internal/daemon"
	"github.com/g960059/pnp/internal/db"
	"github.com/g960059/pnp/internal/host"
	"github.com/g960059/pnp/internal/observer"
	"github.com/g960059/pnp/internal/target"
	"github.com/g960059/pnp/internal/telemetry"
	"github.com/g960059/pnp/internal/tmuxhost"
)

var version = "dev"

func main() {
	os.Exit(realMain(os.Args[1:], os.Stderr))
}

// realMain returns the process exit code so deferred cleanup runs before
// main exits.
func realMain(args []string, stderr io.Writer) int {
	cfg, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "pnpd: %v\n", err)
		return 1
	}
	logger, closeLog, err := newLogger(cfg, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "pnpd: %v\n", err)
		return 1
	}
	defer closeLog() //nolint:errcheck

	if err := telemetry.Init(cfg.SentryDSN, version); err != nil {
		logger.Warn("sentry disabled", "error", err)
	}
	defer telemetry.Flush()
	defer telemetry.RecoverPanic()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("pnpd stopped", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		return err
	}

	surface, tabs, panes := buildSurface(cfg, logger)
	telemetry.SetTarget(target.FromConfig(cfg).TargetID, cfg.Backend)

	loop := daemon.NewLoop(surface, store, cfg.Plugin, logger.With("component", "loop"))
	health := target.NewHealthTracker(cfg)
	watcher := daemon.NewWatcher(tabs, panes, loop, health, cfg.TopologyInterval, logger.With("component", "watcher"))
	srv := daemon.NewServer(cfg, loop, store, health, logger.With("component", "server"))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopErr := make(chan error, 1)
	go func() {
		loopErr <- loop.Run(ctx)
	}()
	go func() {
		_ = watcher.Run(ctx)
	}()
	startRetentionLoop(ctx, store, cfg, logger)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start(ctx)
	}()

	select {
	case err := <-loopErr:
		cancel()
		<-srvErr
		return fmt.Errorf("picker loop: %w", err)
	case err := <-srvErr:
		cancel()
		<-loopErr
		return err
	}
}

// buildSurface wires the host backend together with the topology sources
// the watcher polls.
func buildSurface(cfg config.Config, logger *slog.Logger) (host.Surface, daemon.TabLister, daemon.PaneLister) {
	if cfg.Backend == config.BackendDryRun {
		rec := host.NewDryRunRecorder()
		return rec, rec, nil
	}
	executor := target.NewExecutor(cfg)
	obs := observer.NewTmuxObserver(executor, cfg.StashSession)
	surface := tmuxhost.New(cfg, executor, obs, logger.With("component", "tmux"))
	return surface, obs, obs
}

func parseFlags(args []string) (config.Config, error) {
	fs := pflag.NewFlagSet("pnpd", pflag.ContinueOnError)
	configPath := fs.String("config", "", "TOML config file (default $XDG_CONFIG_HOME/pnp/config.toml)")
	defaults := config.DefaultConfig()
	socket := fs.String("socket", defaults.SocketPath, "UDS path for pnpd")
	dbPath := fs.String("db", defaults.DBPath, "SQLite journal path")
	logLevel := fs.String("log-level", defaults.LogLevel, "debug, info, warn or error")
	logFile := fs.String("log-file", "", "write logs to this file instead of stderr")
	visible := fs.Bool("visible", false, "keep the picker open after commands (debug)")
	dryRun := fs.Bool("dry-run", false, "record host calls against a placeholder client and tab (panes %1-%4) instead of driving tmux")
	readOnly := fs.Bool("read-only", false, "deny pane changes")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, err
	}
	if fs.Changed("socket") {
		cfg.SocketPath = *socket
	}
	if fs.Changed("db") {
		cfg.DBPath = *dbPath
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if fs.Changed("log-file") {
		cfg.LogFile = *logFile
	}
	if fs.Changed("visible") {
		cfg.Plugin["visible"] = fmt.Sprint(*visible)
	}
	if fs.Changed("dry-run") && *dryRun {
		cfg.Backend = config.BackendDryRun
	}
	if fs.Changed("read-only") {
		cfg.ReadOnly = *readOnly
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config, stderr io.Writer) (*slog.Logger, func() error, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}
	w := stderr
	closeFn := func() error { return nil }
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o700); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closeFn = f.Close
	}
	handler := telemetry.NewHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return slog.New(handler), closeFn, nil
}

func startRetentionLoop(ctx context.Context, store *db.Store, cfg config.Config, logger *slog.Logger) {
	run := func() {
		cutoff := time.Now().UTC().Add(-cfg.JournalTTL)
		n, err := store.PurgeBefore(ctx, cutoff)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("journal retention purge failed", "error", err)
			}
			return
		}
		if n > 0 {
			logger.Info("journal purged", "removed", n, "cutoff", cutoff)
		}
	}

	run()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
