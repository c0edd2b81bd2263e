// Package monitor continuously samples host-wide and per-process resource
// utilisation (CPU, RAM, disk, network, GPU engines, GPU memory) on
// Windows and serves the most recent snapshot on demand. Consumers
// register process ids, optionally folding descendants into the root's
// figures, then poll the cached result or subscribe to the tick stream.
package monitor

import (
	"errors"
	"io"
	"log/slog"
	"sync"
)

// Errors returned by the public surface. Failure is observable but
// opaque; diagnostics go to the logger.
var (
	ErrNotRunning          = errors.New("monitor: not running")
	ErrInvalidPID          = errors.New("monitor: invalid pid")
	ErrUnknownPID          = errors.New("monitor: pid is not a monitored root")
	ErrUnsupportedPlatform = errors.New("monitor: only supported on windows")
)

// Config carries the optional knobs of a Monitor.
type Config struct {
	// Logger receives diagnostics; defaults to a discard logger.
	Logger *slog.Logger
	// NvidiaSMIPath overrides the vendor CLI binary; defaults to
	// "nvidia-smi" resolved from PATH.
	NvidiaSMIPath string
}

// Monitor is the public facade over the sampling engine.
type Monitor struct {
	cfg    Config
	logger *slog.Logger

	mu  sync.Mutex
	eng *engine
}

// New constructs an unstarted Monitor.
func New(cfg Config) *Monitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.NvidiaSMIPath == "" {
		cfg.NvidiaSMIPath = "nvidia-smi"
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger.With("component", "resource_monitor"),
	}
}

// Init starts the sampling engine. A running engine is shut down first,
// so Init doubles as a restart.
func (m *Monitor) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.eng != nil {
		m.eng.exit()
		m.eng = nil
	}

	eng, err := newPlatformEngine(m.cfg, m.logger)
	if err != nil {
		return err
	}
	if err := eng.init(); err != nil {
		return err
	}
	m.eng = eng
	return nil
}

// Shutdown stops the engine. Idempotent; safe to defer alongside
// explicit calls.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.eng != nil {
		m.eng.exit()
		m.eng = nil
	}
}

// AppendProcess registers pid as a monitored root. With tree set, live
// descendants are discovered each tick and folded into the root's
// figures.
func (m *Monitor) AppendProcess(pid uint32, tree bool) error {
	eng := m.engine()
	if eng == nil {
		return ErrNotRunning
	}
	return eng.appendProcess(pid, tree)
}

// RemoveProcess unregisters a root added with AppendProcess.
func (m *Monitor) RemoveProcess(pid uint32) error {
	eng := m.engine()
	if eng == nil {
		return ErrNotRunning
	}
	return eng.removeProcess(pid)
}

// ProcessResource returns the most recent per-root sample for pid.
func (m *Monitor) ProcessResource(pid uint32) (ProcessResource, error) {
	eng := m.engine()
	if eng == nil {
		return ProcessResource{}, ErrNotRunning
	}
	return eng.processResource(pid)
}

// SystemResource returns the most recent host-wide sample.
func (m *Monitor) SystemResource() (SystemResource, error) {
	eng := m.engine()
	if eng == nil {
		return SystemResource{}, ErrNotRunning
	}
	return eng.systemResource()
}

// GraphicsCards returns the adapters enumerated at Init.
func (m *Monitor) GraphicsCards() ([]GraphicsCard, error) {
	eng := m.engine()
	if eng == nil {
		return nil, ErrNotRunning
	}
	return eng.graphicsCards()
}

// Latest returns the most recent completed tick snapshot, if any tick
// has completed yet.
func (m *Monitor) Latest() (Snapshot, bool) {
	eng := m.engine()
	if eng == nil {
		return Snapshot{}, false
	}
	return eng.latestSnapshot()
}

// Subscribe registers a listener for completed tick snapshots. The
// returned cancel func must be called to release the subscription.
func (m *Monitor) Subscribe() (<-chan Snapshot, func(), error) {
	eng := m.engine()
	if eng == nil {
		return nil, nil, ErrNotRunning
	}
	return eng.subscribe()
}

func (m *Monitor) engine() *engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eng
}
