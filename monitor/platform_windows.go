//go:build windows

package monitor

import (
	"fmt"
	"log/slog"

	"github.com/yanrk/resource-monitor/internal/nvsmi"
	"github.com/yanrk/resource-monitor/internal/winapi"
)

func newPlatformEngine(cfg Config, logger *slog.Logger) (*engine, error) {
	query, err := winapi.NewCounterQuery()
	if err != nil {
		return nil, fmt.Errorf("open counter query: %w", err)
	}
	sys := winapi.NewSystem()
	cli := nvsmi.New(cfg.NvidiaSMIPath, logger.With("component", "nvsmi"))
	return newEngine(sys, query, cli, logger), nil
}
