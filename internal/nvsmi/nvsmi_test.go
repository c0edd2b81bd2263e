package nvsmi

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

func TestMissingToolLatches(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := New(filepath.Join(t.TempDir(), "definitely-not-nvidia-smi"), logger)

	if _, err := backend.CardNames(); err == nil {
		t.Fatalf("expected spawn failure for a missing binary")
	}

	// The latch short-circuits every subsequent call.
	if _, err := backend.CardNames(); !errors.Is(err, ErrToolMissing) {
		t.Fatalf("expected ErrToolMissing after the first failure, got %v", err)
	}
	if _, _, err := backend.MemoryInfo(); !errors.Is(err, ErrToolMissing) {
		t.Fatalf("expected ErrToolMissing, got %v", err)
	}
	if _, err := backend.TemperatureC(); !errors.Is(err, ErrToolMissing) {
		t.Fatalf("expected ErrToolMissing, got %v", err)
	}
}

func TestAliveStampClearedWhenIdle(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := New(filepath.Join(t.TempDir(), "definitely-not-nvidia-smi"), logger)

	if backend.AliveStamp() != 0 {
		t.Fatalf("expected zero stamp before any read")
	}
	_, _ = backend.CardNames()
	if backend.AliveStamp() != 0 {
		t.Fatalf("expected zero stamp after a failed spawn")
	}
}
