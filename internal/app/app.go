// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/yanrk/resource-monitor/internal/config"
	"github.com/yanrk/resource-monitor/internal/httpserver"
	"github.com/yanrk/resource-monitor/monitor"
)

const shutdownTimeout = 10 * time.Second

// Run bootstraps the application lifecycle.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	mon := monitor.New(monitor.Config{
		Logger:        baseLogger,
		NvidiaSMIPath: cfg.NvidiaSMIPath,
	})
	if err := mon.Init(); err != nil {
		return fmt.Errorf("init resource monitor: %w", err)
	}
	defer mon.Shutdown()

	if cards, err := mon.GraphicsCards(); err == nil {
		appLogger.Info("discovered graphics cards", "count", len(cards))
	}

	registerInitialProcesses(appLogger, mon, cfg.Monitor)

	srv := httpserver.New(cfg, baseLogger.With("component", "http"), mon, monitor.TickInterval)

	appLogger.Info("starting HTTP server", "listen_addr", cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		appLogger.Info("shutdown initiated", "reason", ctx.Err())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func registerInitialProcesses(logger *slog.Logger, mon *monitor.Monitor, cfg config.MonitorConfig) {
	if cfg.MonitorSelf {
		if pid, err := currentPID(); err == nil {
			if err := mon.AppendProcess(pid, cfg.Tree); err != nil {
				logger.Warn("failed to monitor own process", "pid", pid, "err", err)
			}
		}
	}
	for _, pid := range cfg.PIDs {
		if err := mon.AppendProcess(pid, cfg.Tree); err != nil {
			logger.Warn("failed to monitor process", "pid", pid, "err", err)
		}
	}
}
