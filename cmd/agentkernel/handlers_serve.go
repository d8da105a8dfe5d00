package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentkernel/kernel/internal/config"
	"github.com/agentkernel/kernel/internal/kernel"
)

// runServe implements the serve command: load config, build the kernel,
// run it until a shutdown signal arrives, then drain gracefully.
func runServe(ctx context.Context, configPath string) error {
	slog.Info("starting agentkernel", "version", version, "commit", commit, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"metrics_port", cfg.Server.MetricsPort,
		"llm_provider", cfg.LLM.DefaultProvider,
		"vfs_backend", cfg.VFS.Backend,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	k, err := kernel.New(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to initialize kernel: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- k.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, initiating graceful shutdown")
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := k.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	slog.Info("agentkernel stopped gracefully")
	return nil
}

// runReplay implements the replay command: build the kernel's component
// graph (without starting its servers or Scheduler loop) and drive
// ReplayController.ReplayFrom directly.
func runReplay(ctx context.Context, configPath string, eventID uint64) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	k, err := kernel.New(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to initialize kernel: %w", err)
	}
	defer k.Stop(context.Background())

	lastApplied, err := k.Replay().ReplayFrom(ctx, eventID)
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}

	slog.Info("replay complete", "requested_event_id", eventID, "last_applied_event_id", lastApplied)
	return nil
}

// runRestore implements the restore command: build the kernel's component
// graph and drive ReplayController.RestoreFrom directly.
func runRestore(ctx context.Context, configPath string, eventID uint64) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	k, err := kernel.New(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to initialize kernel: %w", err)
	}
	defer k.Stop(context.Background())

	lastApplied, err := k.Replay().RestoreFrom(ctx, eventID)
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	slog.Info("restore complete", "requested_event_id", eventID, "restored_to_event_id", lastApplied)
	return nil
}
