//go:build !windows

package monitor

import "log/slog"

func newPlatformEngine(Config, *slog.Logger) (*engine, error) {
	return nil, ErrUnsupportedPlatform
}
