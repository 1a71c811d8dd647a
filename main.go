// logwatch is a local viewer for Claude Code transcripts with a usage
// snapshot pipeline: it tails ~/.claude/projects JSONL files, polls the
// usage API, and serves both over a small JSON API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/onllm-dev/logwatch/internal/api"
	"github.com/onllm-dev/logwatch/internal/config"
	"github.com/onllm-dev/logwatch/internal/entries"
	"github.com/onllm-dev/logwatch/internal/poller"
	"github.com/onllm-dev/logwatch/internal/store"
	"github.com/onllm-dev/logwatch/internal/watcher"
	"github.com/onllm-dev/logwatch/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logWriter, err := cfg.LogWriter()
	if err != nil {
		return err
	}
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting logwatch",
		"port", cfg.Port,
		"poll_interval", cfg.PollInterval,
		"projects_dir", cfg.ProjectsDir)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	if cfg.ResetDB {
		logger.Warn("resetting database", "path", cfg.DBPath)
		if err := os.Remove(cfg.DBPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing database: %w", err)
		}
		for _, suffix := range []string{"-wal", "-shm"} {
			if err := os.Remove(cfg.DBPath + suffix); err != nil && !os.IsNotExist(err) {
				logger.Warn("could not remove database sidecar", "suffix", suffix, "error", err)
			}
		}
	}

	st, err := store.New(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	tokens := api.NewCredentialProvider(logger)
	client := api.NewClient("", logger)
	p := poller.New(client, tokens, st, logger, cfg.PollInterval, cfg.CacheTTL)
	if err := p.PrimeWatermark(); err != nil {
		logger.Warn("could not prime watermark", "error", err)
	}

	manager := entries.NewManager(cfg.ProjectsDir, cfg.MaxEntries, cfg.FileAgeDays, logger)
	if err := manager.Load(); err != nil {
		logger.Warn("initial transcript load failed", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := watcher.New(cfg.ProjectsDir, func() {
		if err := manager.Load(); err != nil {
			logger.Warn("reload failed", "error", err)
		}
	}, logger)
	if err != nil {
		logger.Warn("file watcher unavailable, entries update on /api/refresh only", "error", err)
	} else {
		if err := w.Start(ctx); err != nil {
			logger.Warn("file watcher failed to start", "error", err)
		}
		defer w.Close()
	}

	go p.Run(ctx)

	handler := web.NewHandler(manager, p, st, logger)
	server := web.NewServer(cfg.Host, cfg.Port, handler, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down gracefully", "signal", sig)
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
