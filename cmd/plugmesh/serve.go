// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plugmesh/plugmesh/internal/bus"
	"github.com/plugmesh/plugmesh/internal/comm"
	"github.com/plugmesh/plugmesh/internal/config"
	"github.com/plugmesh/plugmesh/internal/event"
	"github.com/plugmesh/plugmesh/internal/logging"
	"github.com/plugmesh/plugmesh/internal/observability"
	"github.com/plugmesh/plugmesh/internal/request"
	"github.com/plugmesh/plugmesh/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the communication system",
		Long: `Start the communication system: initializes the bus, event system,
request/response client and contract registry, and serves metrics and
health probes until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}

	cmd.Flags().String("metrics.addr", "", "metrics/health HTTP address (empty = config default)")
	cmd.Flags().String("log.format", "", "log format (json or text)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logging.SetDefault(logging.Options{
		Service: "plugmesh",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})

	system := comm.NewSystem(comm.Config{
		Router: bus.RouterConfig{
			SyncFanoutThreshold: cfg.Bus.SyncFanoutThreshold,
			Workers:             cfg.Bus.Workers,
			QueueSize:           cfg.Bus.QueueSize,
		},
		Publisher: bus.PublisherConfig{
			MaxPayloadBytes:   cfg.Bus.MaxPayloadBytes,
			CriticalPerSecond: cfg.Bus.CriticalPerSecond,
		},
		Events: event.Config{
			Tick:        cfg.Events.Tick,
			BatchWindow: cfg.Events.BatchWindow,
			HistorySize: cfg.Events.History,
		},
		Request: request.Config{
			SweepInterval: cfg.Request.SweepInterval,
		},
		GracePeriod: cfg.Shutdown.GracePeriod,
	})
	if err := system.Initialize(); err != nil {
		errutil.LogError(slog.Default(), "failed to initialize communication system", err)
		return err
	}

	obsServer := observability.NewServer(cfg.Metrics.Addr, func() bool {
		return !system.IsShutdown()
	})
	obsErrCh, err := obsServer.Start()
	if err != nil {
		errutil.LogError(slog.Default(), "failed to start observability server", err)
		_ = system.Shutdown()
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("PlugMesh started")
	slog.Info("communication system ready", "metrics_addr", obsServer.Addr())

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case err := <-obsErrCh:
		if err != nil {
			errutil.LogError(slog.Default(), "observability server failed", err)
		}
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	// Graceful shutdown
	slog.Info("shutting down...")

	if err := system.Shutdown(); err != nil {
		errutil.LogError(slog.Default(), "communication system shutdown failed", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := obsServer.Stop(shutdownCtx); err != nil {
		errutil.LogError(slog.Default(), "observability server shutdown failed", err)
	}

	slog.Info("shutdown complete")
	return nil
}
