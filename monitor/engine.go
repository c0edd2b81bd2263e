package monitor

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanrk/resource-monitor/internal/gpuname"
	"github.com/yanrk/resource-monitor/internal/hostapi"
)

// TickInterval is the sampling cadence assumed throughout.
const TickInterval = 5 * time.Second

const softwareAdapterVendorID = 0x1414

type gpuPath int

const (
	gpuPathUndecided gpuPath = iota
	// gpuPathStructured measures GPUs through the OS performance counters.
	gpuPathStructured
	// gpuPathCLI measures GPUs through the vendor command-line tool.
	gpuPathCLI
	// gpuPathNone runs without GPU engine measurements.
	gpuPathNone
)

// engine is the background collector: it owns the cadence, the shared
// snapshot and the read/write discipline. All snapshot state is guarded
// by mu; only the sampler goroutine writes during a tick.
type engine struct {
	logger *slog.Logger
	sys    hostapi.SystemAPI
	query  hostapi.CounterQuery
	cli    hostapi.GPUCommand

	running atomic.Bool
	path    gpuPath

	mu          sync.Mutex
	system      SystemResource
	cards       []GraphicsCard
	trees       map[uint32]*processTree
	helpers     map[uint32]*processHelper
	aggregates  map[uint32]*ProcessResource
	leaves      map[uint32]map[uint32]struct{}
	latest      *Snapshot
	subscribers map[*subscriber]struct{}

	processorCounter hostapi.Counter
	gpuEngineCounter hostapi.Counter
	gpuMemoryCounter hostapi.Counter
	netSentCounter   hostapi.Counter
	netRecvCounter   hostapi.Counter

	cliCards int

	samplerDone  chan struct{}
	streamDone   chan struct{}
	watchdogStop chan struct{}
	watchdogDone chan struct{}
}

func newEngine(sys hostapi.SystemAPI, query hostapi.CounterQuery, cli hostapi.GPUCommand, logger *slog.Logger) *engine {
	return &engine{
		logger:      logger,
		sys:         sys,
		query:       query,
		cli:         cli,
		trees:       make(map[uint32]*processTree),
		helpers:     make(map[uint32]*processHelper),
		aggregates:  make(map[uint32]*ProcessResource),
		leaves:      make(map[uint32]map[uint32]struct{}),
		subscribers: make(map[*subscriber]struct{}),
	}
}

func (e *engine) init() error {
	e.logger.Debug("resource monitor init begin")
	e.running.Store(true)

	ok := false
	defer func() {
		if !ok {
			e.exit()
		}
	}()

	count, err := e.sys.CPUCount()
	if err != nil {
		return fmt.Errorf("query cpu count: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("query cpu count: zero cores reported")
	}
	e.system.CPUCount = count

	if !e.refreshSystemMemory() {
		return fmt.Errorf("query system memory status")
	}
	if !e.refreshSystemDisk() {
		e.logger.Warn("disk totals unavailable")
	}

	e.initGraphicsCards()
	e.initCounters()

	if err := e.query.Start(TickInterval); err != nil {
		return fmt.Errorf("start counter collection: %w", err)
	}

	e.samplerDone = make(chan struct{})
	go e.run()

	if e.path == gpuPathCLI {
		e.watchdogStop = make(chan struct{})
		e.watchdogDone = make(chan struct{})
		dog := &watchdog{
			interval: watchdogInterval,
			grace:    watchdogGraceSec,
			alive:    e.cli.AliveStamp,
			now:      hostapi.MonotonicSeconds,
			kill: func() int {
				return e.sys.KillProcessesByName(cliImageName, cliKillExitCode)
			},
			logger: e.logger.With("component", "watchdog"),
		}
		go dog.run(e.watchdogStop, e.watchdogDone)

		e.streamDone = make(chan struct{})
		go e.runCLIStream()
	}

	ok = true
	e.logger.Debug("resource monitor init success", "gpu_path", e.path, "gpu_count", e.system.GPUCount)
	return nil
}

// initGraphicsCards populates the card list, the GPU memory totals and the
// GPU count, preferring the vendor CLI when it enumerates at least one
// card and falling back to the adapter enumerator otherwise.
func (e *engine) initGraphicsCards() {
	if names, err := e.cli.CardNames(); err == nil && len(names) > 0 {
		e.cliCards = len(names)
		e.cards = make([]GraphicsCard, 0, len(names))
		for _, name := range names {
			e.cards = append(e.cards, GraphicsCard{Name: name, Vendor: "NVIDIA"})
		}
		if total, used, err := e.cli.MemoryInfo(); err == nil {
			e.system.GPUMemoryTotal = total
			e.system.GPUMemoryUsed = used
		} else {
			e.logger.Warn("gpu memory totals unavailable from cli", "err", err)
		}
		e.system.GPUCount = uint64(len(e.cards))
		return
	}

	adapters, err := e.sys.Adapters()
	if err != nil {
		e.logger.Warn("graphics adapter enumeration failed", "err", err)
		return
	}
	for _, adapter := range adapters {
		if adapter.VendorID == softwareAdapterVendorID {
			continue
		}
		card := GraphicsCard{
			Name:                 adapter.Description,
			Vendor:               gpuname.VendorName(adapter.VendorID),
			VendorID:             adapter.VendorID,
			DedicatedMemoryBytes: adapter.DedicatedVideoMemory,
		}
		if card.Name == "" {
			card.Name = card.Vendor
		}
		e.cards = append(e.cards, card)
		e.system.GPUMemoryTotal += adapter.DedicatedVideoMemory
	}
	e.system.GPUCount = uint64(len(e.cards))
}

// initCounters opens the performance counters that can be opened and
// decides the GPU measurement path. Counter failures are not fatal: the
// processor counter has a per-core fallback, the GPU counters have the
// CLI back-end, and network rates simply go missing.
func (e *engine) initCounters() {
	if counter, err := e.query.AddCounter(processorCounterPath); err != nil {
		e.logger.Warn("processor counter unavailable, using per-core fallback", "err", err)
	} else {
		e.processorCounter = counter
	}

	engineCounter, engineErr := e.query.AddCounter(gpuEngineCounterPath)
	memoryCounter, memoryErr := e.query.AddCounter(gpuMemoryCounterPath)
	switch {
	case engineErr == nil && memoryErr == nil:
		e.path = gpuPathStructured
		e.gpuEngineCounter = engineCounter
		e.gpuMemoryCounter = memoryCounter
	default:
		if engineCounter != nil {
			engineCounter.Remove()
		}
		if memoryCounter != nil {
			memoryCounter.Remove()
		}
		if e.cliCards > 0 {
			e.path = gpuPathCLI
			e.logger.Info("gpu counters unavailable, using cli back-end",
				"engine_err", engineErr, "memory_err", memoryErr)
		} else {
			e.path = gpuPathNone
			e.logger.Warn("no gpu measurement back-end available",
				"engine_err", engineErr, "memory_err", memoryErr)
		}
	}

	if counter, err := e.query.AddCounter(netSentCounterPath); err != nil {
		e.logger.Warn("network sent counter unavailable", "err", err)
	} else {
		e.netSentCounter = counter
	}
	if counter, err := e.query.AddCounter(netRecvCounterPath); err != nil {
		e.logger.Warn("network received counter unavailable", "err", err)
	} else {
		e.netRecvCounter = counter
	}
}

// run is the sampler goroutine: it blocks on the counter collection
// signal, performs one tick under the snapshot mutex, and publishes the
// completed snapshot to subscribers.
func (e *engine) run() {
	defer close(e.samplerDone)

	for e.running.Load() {
		if !e.query.Wait() {
			return
		}
		if !e.running.Load() {
			return
		}

		// The temperature probe spawns the CLI; keep it outside the
		// critical section so a slow child never stalls readers.
		temperature, haveTemperature := 0, false
		if e.path == gpuPathCLI {
			if value, err := e.cli.TemperatureC(); err == nil {
				temperature, haveTemperature = value, true
			}
		}

		e.mu.Lock()
		e.tick()
		if haveTemperature {
			e.system.GPUTemperatureC = temperature
		}
		snapshot := e.snapshotLocked()
		e.latest = &snapshot
		targets := make([]*subscriber, 0, len(e.subscribers))
		for sub := range e.subscribers {
			targets = append(targets, sub)
		}
		e.mu.Unlock()

		for _, sub := range targets {
			sub.send(snapshot)
		}
	}
}

// tick performs one update pass. Phase order is fixed: topology before
// accumulators, zeroing before summation within each counter pass.
func (e *engine) tick() {
	e.updateProcessTree()
	e.accumulateCPU()
	e.accumulateRAM()
	e.refreshSystemMemory()
	e.refreshSystemDisk()
	e.parseProcessorCounter()
	e.parseGPUEngineCounter()
	e.parseGPUMemoryCounter()
	e.parseNetworkCounters()
}

// runCLIStream feeds finalized per-tick aggregates from the vendor CLI
// stream into the system GPU fields. It holds the snapshot mutex only for
// the store, never across a blocking read.
func (e *engine) runCLIStream() {
	defer close(e.streamDone)

	err := e.cli.StreamEngineUsage(func(usage hostapi.EngineUsage) {
		e.mu.Lock()
		e.system.GPU3DPercent = usage.SMPercent
		e.system.GPUEncodePercent = usage.EncPercent
		e.system.GPUDecodePercent = usage.DecPercent
		used := uint64(usage.MemPercent / 100 * float64(e.system.GPUMemoryTotal))
		if used > e.system.GPUMemoryTotal {
			used = e.system.GPUMemoryTotal
		}
		e.system.GPUMemoryUsed = used
		e.mu.Unlock()
	})
	if err != nil && e.running.Load() {
		e.logger.Warn("gpu engine stream ended", "err", err)
	}
}

// exit shuts the engine down: wake the sampler, kill outstanding CLI
// children, join watchdog, stream and sampler in that order, then release
// counters and the query. Idempotent.
func (e *engine) exit() {
	if !e.running.Swap(false) {
		return
	}
	e.logger.Debug("resource monitor exit begin")

	e.query.Wake()
	e.cli.Shutdown()

	if e.watchdogStop != nil {
		close(e.watchdogStop)
		<-e.watchdogDone
		e.watchdogStop = nil
		e.watchdogDone = nil
	}
	if e.streamDone != nil {
		<-e.streamDone
		e.streamDone = nil
	}
	if e.samplerDone != nil {
		<-e.samplerDone
		e.samplerDone = nil
	}

	for _, counter := range []hostapi.Counter{
		e.processorCounter, e.gpuEngineCounter, e.gpuMemoryCounter,
		e.netSentCounter, e.netRecvCounter,
	} {
		if counter != nil {
			counter.Remove()
		}
	}
	e.processorCounter = nil
	e.gpuEngineCounter = nil
	e.gpuMemoryCounter = nil
	e.netSentCounter = nil
	e.netRecvCounter = nil
	e.query.Close()

	e.mu.Lock()
	for sub := range e.subscribers {
		sub.close()
	}
	e.subscribers = make(map[*subscriber]struct{})
	e.mu.Unlock()

	e.logger.Debug("resource monitor exit end")
}

func (e *engine) appendProcess(pid uint32, tree bool) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.appendLocked(pid, tree); err != nil {
		e.logger.Error("append process failed", "pid", pid, "tree", tree, "err", err)
		return err
	}
	e.logger.Debug("append process", "pid", pid, "tree", tree)
	return nil
}

func (e *engine) removeProcess(pid uint32) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.removeLocked(pid); err != nil {
		e.logger.Error("remove process failed", "pid", pid, "err", err)
		return err
	}
	e.logger.Debug("remove process", "pid", pid)
	return nil
}

// processResource copies out the aggregate for a registered root, folding
// in every nested root recorded for it in the leaf map.
func (e *engine) processResource(pid uint32) (ProcessResource, error) {
	if !e.running.Load() {
		return ProcessResource{}, ErrNotRunning
	}
	if pid == 0 {
		return ProcessResource{}, ErrInvalidPID
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processResourceLocked(pid)
}

func (e *engine) processResourceLocked(pid uint32) (ProcessResource, error) {
	aggregate, ok := e.aggregates[pid]
	if !ok {
		return ProcessResource{}, ErrUnknownPID
	}
	out := *aggregate
	for descendant := range e.leaves[pid] {
		if sub, ok := e.aggregates[descendant]; ok {
			out.add(sub)
		}
	}
	return out, nil
}

func (r *ProcessResource) add(other *ProcessResource) {
	r.CPUPercent += other.CPUPercent
	r.RAMBytes += other.RAMBytes
	r.GPU3DPercent += other.GPU3DPercent
	r.GPUVRPercent += other.GPUVRPercent
	r.GPUEncodePercent += other.GPUEncodePercent
	r.GPUDecodePercent += other.GPUDecodePercent
	r.GPUMemoryBytes += other.GPUMemoryBytes
}

func (e *engine) systemResource() (SystemResource, error) {
	if !e.running.Load() {
		return SystemResource{}, ErrNotRunning
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.system, nil
}

func (e *engine) graphicsCards() ([]GraphicsCard, error) {
	if !e.running.Load() {
		return nil, ErrNotRunning
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cards := make([]GraphicsCard, len(e.cards))
	copy(cards, e.cards)
	return cards, nil
}

// snapshotLocked builds the immutable per-tick copy handed to
// subscribers: the system view plus every root's folded resource.
func (e *engine) snapshotLocked() Snapshot {
	snapshot := Snapshot{
		Timestamp: time.Now(),
		System:    e.system,
		Processes: make(map[uint32]ProcessResource, len(e.trees)),
	}
	for pid := range e.trees {
		if resource, err := e.processResourceLocked(pid); err == nil {
			snapshot.Processes[pid] = resource
		}
	}
	return snapshot
}

// latestSnapshot returns the most recent completed tick snapshot.
func (e *engine) latestSnapshot() (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.latest == nil {
		return Snapshot{}, false
	}
	return *e.latest, true
}

// subscribe registers a listener for completed snapshots. The latest
// snapshot, when one exists, is delivered immediately.
func (e *engine) subscribe() (<-chan Snapshot, func(), error) {
	if !e.running.Load() {
		return nil, nil, ErrNotRunning
	}
	sub := newSubscriber()

	e.mu.Lock()
	e.subscribers[sub] = struct{}{}
	if e.latest != nil {
		sub.send(*e.latest)
	}
	e.mu.Unlock()

	unsubscribe := func() {
		e.mu.Lock()
		delete(e.subscribers, sub)
		e.mu.Unlock()
		sub.close()
	}
	return sub.channel(), unsubscribe, nil
}

type subscriber struct {
	ch     chan Snapshot
	mu     sync.Mutex
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{ch: make(chan Snapshot, 1)}
}

func (s *subscriber) channel() <-chan Snapshot {
	return s.ch
}

func (s *subscriber) send(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- snapshot:
		return
	default:
		// Drop oldest to make room for new snapshot.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- snapshot:
		default:
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
