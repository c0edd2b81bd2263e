// Package nvsmi is the vendor CLI measurement back-end: it spawns
// nvidia-smi in one-shot and streaming modes, parses the tabular output,
// and publishes a liveness stamp around every line read so the watchdog
// can kill a stuck child.
package nvsmi

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/yanrk/resource-monitor/internal/hostapi"
)

// ErrToolMissing is returned once a spawn has failed; subsequent calls
// short-circuit instead of probing the filesystem again.
var ErrToolMissing = errors.New("nvsmi: tool missing")

// Backend implements hostapi.GPUCommand over the nvidia-smi binary.
type Backend struct {
	path   string
	logger *slog.Logger
	now    func() int64

	alive   atomic.Int64
	missing atomic.Bool

	mu       sync.Mutex
	children map[*exec.Cmd]struct{}
}

// New builds a back-end for the given binary path ("nvidia-smi" when
// empty, resolved from PATH).
func New(path string, logger *slog.Logger) *Backend {
	if path == "" {
		path = "nvidia-smi"
	}
	return &Backend{
		path:     path,
		logger:   logger,
		now:      hostapi.MonotonicSeconds,
		children: make(map[*exec.Cmd]struct{}),
	}
}

// AliveStamp returns the monotonic timestamp of the most recent CLI
// read, or 0 when no read is in flight.
func (b *Backend) AliveStamp() int64 {
	return b.alive.Load()
}

// Shutdown kills any outstanding CLI children to unblock their readers.
func (b *Backend) Shutdown() {
	b.mu.Lock()
	children := make([]*exec.Cmd, 0, len(b.children))
	for cmd := range b.children {
		children = append(children, cmd)
	}
	b.mu.Unlock()

	for _, cmd := range children {
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				b.logger.Debug("kill cli child", "pid", cmd.Process.Pid, "err", err)
			}
		}
	}
}

// CardNames runs the one-shot card enumeration; one card per non-empty
// line. At least one card is required for success.
func (b *Backend) CardNames() ([]string, error) {
	var names []string
	err := b.runLines([]string{"--query-gpu=name", "--format=csv,noheader"}, func(line string) bool {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			names = append(names, trimmed)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("nvsmi: no graphics cards reported")
	}
	return names, nil
}

// MemoryInfo runs the one-shot memory query and sums total and used
// (total minus free) video memory across cards.
func (b *Backend) MemoryInfo() (total, used uint64, err error) {
	err = b.runLines([]string{"--query-gpu=memory.total,memory.free", "--format=csv,noheader"}, func(line string) bool {
		cardTotal, cardFree, ok := parseMemoryLine(line)
		if ok {
			total += cardTotal
			used += cardTotal - cardFree
		}
		return true
	})
	if err != nil {
		return 0, 0, err
	}
	if total == 0 {
		return 0, 0, fmt.Errorf("nvsmi: no memory figures reported")
	}
	return total, used, nil
}

// TemperatureC runs the one-shot temperature query, in degrees Celsius.
func (b *Backend) TemperatureC() (int, error) {
	temperature, found := 0, false
	err := b.runLines([]string{"--query-gpu=temperature.gpu", "--format=csv,noheader,nounits"}, func(line string) bool {
		value, parseErr := strconv.Atoi(strings.TrimSpace(line))
		if parseErr != nil {
			return true
		}
		temperature, found = value, true
		return false
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("nvsmi: no temperature reported")
	}
	return temperature, nil
}

// StreamEngineUsage runs the streaming device monitor until the child
// exits, publishing one finalized aggregate per output tick.
func (b *Backend) StreamEngineUsage(publish func(hostapi.EngineUsage)) error {
	var parser dmonParser
	return b.runLines([]string{"dmon"}, func(line string) bool {
		if usage, ok := parser.feed(line); ok {
			publish(usage)
		}
		return true
	})
}

// runLines spawns the CLI and feeds trimmed stdout lines to handle until
// EOF or until handle returns false. The liveness stamp is refreshed
// before and after every read and cleared on close.
func (b *Backend) runLines(args []string, handle func(line string) bool) error {
	cmd, stdout, err := b.spawn(args)
	if err != nil {
		return err
	}
	defer func() {
		b.alive.Store(0)
		stdout.Close()
		if cmd.Process != nil {
			cmd.Process.Kill() //nolint:errcheck
		}
		cmd.Wait() //nolint:errcheck
		b.untrack(cmd)
	}()

	reader := bufio.NewReader(stdout)
	for {
		b.alive.Store(b.now())
		line, err := reader.ReadString('\n')
		b.alive.Store(b.now())

		if len(line) > 0 {
			if !handle(strings.TrimRight(line, "\r\n")) {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("nvsmi: read output: %w", err)
		}
	}
}

func (b *Backend) spawn(args []string) (*exec.Cmd, io.ReadCloser, error) {
	if b.missing.Load() {
		return nil, nil, ErrToolMissing
	}

	cmd := exec.Command(b.path, args...)
	hideWindow(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("nvsmi: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		b.missing.Store(true)
		return nil, nil, fmt.Errorf("nvsmi: spawn %s: %w", b.path, err)
	}

	b.mu.Lock()
	b.children[cmd] = struct{}{}
	b.mu.Unlock()
	return cmd, stdout, nil
}

func (b *Backend) untrack(cmd *exec.Cmd) {
	b.mu.Lock()
	delete(b.children, cmd)
	b.mu.Unlock()
}
