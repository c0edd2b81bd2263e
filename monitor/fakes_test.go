package monitor

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/yanrk/resource-monitor/internal/hostapi"
)

var errTest = errors.New("test failure")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHandle struct {
	alive      bool
	busy       uint64
	busyErr    error
	workingSet uint64
	wsErr      error
	closes     int
}

func (h *fakeHandle) Alive() bool                      { return h.alive }
func (h *fakeHandle) BusyTime() (uint64, error)        { return h.busy, h.busyErr }
func (h *fakeHandle) WorkingSetBytes() (uint64, error) { return h.workingSet, h.wsErr }
func (h *fakeHandle) Close() error {
	h.closes++
	return nil
}

type fakeSystem struct {
	mu sync.Mutex

	cpuCount   uint64
	cpuErr     error
	memTotal   uint64
	memAvail   uint64
	memErr     error
	diskTotal  uint64
	diskFree   uint64
	diskErr    error
	now        uint64
	perCore    []float64
	perCoreErr error
	processes  []hostapi.ProcessInfo
	procErr    error
	handles    map[uint32]*fakeHandle
	currentPID uint32
	current    *fakeHandle
	adapters   []hostapi.AdapterInfo
	adapterErr error
	kills      int
	opened     []uint32
}

func newFakeSystem() *fakeSystem {
	return &fakeSystem{
		cpuCount:   4,
		memTotal:   16 << 30,
		memAvail:   8 << 30,
		diskTotal:  512 << 30,
		diskFree:   256 << 30,
		now:        1 << 40,
		currentPID: 77,
		current:    &fakeHandle{alive: true, workingSet: 1 << 20},
		handles:    make(map[uint32]*fakeHandle),
	}
}

func (s *fakeSystem) CPUCount() (uint64, error) { return s.cpuCount, s.cpuErr }

func (s *fakeSystem) MemoryStatus() (uint64, uint64, error) {
	return s.memTotal, s.memAvail, s.memErr
}

func (s *fakeSystem) DiskStatus() (uint64, uint64, error) {
	return s.diskTotal, s.diskFree, s.diskErr
}

func (s *fakeSystem) NowAsFileTime() uint64 { return s.now }

func (s *fakeSystem) PerCoreUsage() ([]float64, error) { return s.perCore, s.perCoreErr }

func (s *fakeSystem) Processes() ([]hostapi.ProcessInfo, error) {
	return s.processes, s.procErr
}

func (s *fakeSystem) OpenProcess(pid uint32) (hostapi.ProcessHandle, error) {
	handle, ok := s.handles[pid]
	if !ok {
		return nil, errors.New("access denied")
	}
	s.opened = append(s.opened, pid)
	return handle, nil
}

func (s *fakeSystem) CurrentPID() uint32                    { return s.currentPID }
func (s *fakeSystem) CurrentProcess() hostapi.ProcessHandle { return s.current }

func (s *fakeSystem) Adapters() ([]hostapi.AdapterInfo, error) {
	return s.adapters, s.adapterErr
}

func (s *fakeSystem) KillProcessesByName(string, uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kills++
	return 1
}

type fakeCounter struct {
	doubles []hostapi.CounterItem
	larges  []hostapi.CounterItem
	ok      bool
	removes int
}

func (c *fakeCounter) DoubleItems() ([]hostapi.CounterItem, bool) { return c.doubles, c.ok }
func (c *fakeCounter) LargeItems() ([]hostapi.CounterItem, bool)  { return c.larges, c.ok }
func (c *fakeCounter) Remove()                                    { c.removes++ }

type fakeQuery struct {
	counters map[string]*fakeCounter
	started  time.Duration
	signal   chan struct{}
	closed   bool
}

func newFakeQuery(paths ...string) *fakeQuery {
	counters := make(map[string]*fakeCounter, len(paths))
	for _, path := range paths {
		counters[path] = &fakeCounter{ok: true}
	}
	return &fakeQuery{
		counters: counters,
		signal:   make(chan struct{}, 8),
	}
}

func (q *fakeQuery) AddCounter(path string) (hostapi.Counter, error) {
	counter, ok := q.counters[path]
	if !ok {
		return nil, errors.New("counter unavailable")
	}
	return counter, nil
}

func (q *fakeQuery) Start(interval time.Duration) error {
	q.started = interval
	return nil
}

func (q *fakeQuery) Wait() bool {
	_, ok := <-q.signal
	return ok
}

func (q *fakeQuery) Wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *fakeQuery) Close() { q.closed = true }

func (q *fakeQuery) fire() { q.signal <- struct{}{} }

type fakeCLI struct {
	names    []string
	namesErr error
	memTotal uint64
	memUsed  uint64
	memErr   error
	temp     int
	tempErr  error
	usages   []hostapi.EngineUsage

	stop      chan struct{}
	stopOnce  sync.Once
	shutdowns int
}

func newFakeCLI() *fakeCLI {
	return &fakeCLI{
		namesErr: errors.New("tool missing"),
		tempErr:  errors.New("tool missing"),
		stop:     make(chan struct{}),
	}
}

func (c *fakeCLI) CardNames() ([]string, error) { return c.names, c.namesErr }

func (c *fakeCLI) MemoryInfo() (uint64, uint64, error) {
	return c.memTotal, c.memUsed, c.memErr
}

func (c *fakeCLI) TemperatureC() (int, error) { return c.temp, c.tempErr }

func (c *fakeCLI) StreamEngineUsage(publish func(hostapi.EngineUsage)) error {
	for _, usage := range c.usages {
		publish(usage)
	}
	<-c.stop
	return nil
}

func (c *fakeCLI) AliveStamp() int64 { return 0 }

func (c *fakeCLI) Shutdown() {
	c.shutdowns++
	c.stopOnce.Do(func() { close(c.stop) })
}

func allCounterPaths() []string {
	return []string{
		processorCounterPath,
		gpuEngineCounterPath,
		gpuMemoryCounterPath,
		netSentCounterPath,
		netRecvCounterPath,
	}
}

// newTestEngine builds an engine over fakes without starting goroutines;
// tests drive the tick phases directly.
func newTestEngine(sys *fakeSystem, query *fakeQuery, cli *fakeCLI) *engine {
	eng := newEngine(sys, query, cli, discardLogger())
	eng.running.Store(true)
	eng.system.CPUCount = sys.cpuCount
	return eng
}
