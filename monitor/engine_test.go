package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/yanrk/resource-monitor/internal/hostapi"
)

func TestInitFailsWithoutCPUCount(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem()
	sys.cpuErr = errTest
	eng := newEngine(sys, newFakeQuery(allCounterPaths()...), newFakeCLI(), discardLogger())

	if err := eng.init(); err == nil {
		t.Fatalf("expected init failure without cpu count")
	}
	if eng.running.Load() {
		t.Fatalf("failed init must leave the engine stopped")
	}
}

func TestInitChoosesStructuredPath(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem()
	sys.adapters = []hostapi.AdapterInfo{
		{Description: "Example GPU", DedicatedVideoMemory: 8 << 30, VendorID: 0x10de},
		{Description: "Microsoft Basic Render Driver", DedicatedVideoMemory: 0, VendorID: 0x1414},
	}
	query := newFakeQuery(allCounterPaths()...)
	cli := newFakeCLI()
	eng := newEngine(sys, query, cli, discardLogger())

	if err := eng.init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	defer eng.exit()

	if eng.path != gpuPathStructured {
		t.Fatalf("expected structured path, got %d", eng.path)
	}
	if query.started != TickInterval {
		t.Fatalf("expected %s cadence, got %s", TickInterval, query.started)
	}

	cards, err := eng.graphicsCards()
	if err != nil {
		t.Fatalf("graphicsCards failed: %v", err)
	}
	if len(cards) != 1 || cards[0].Name != "Example GPU" {
		t.Fatalf("software adapter must be excluded, got %+v", cards)
	}
	if eng.system.GPUCount != 1 {
		t.Fatalf("gpu count must match the card list, got %d", eng.system.GPUCount)
	}
	if eng.system.GPUMemoryTotal != 8<<30 {
		t.Fatalf("expected 8 GiB total, got %d", eng.system.GPUMemoryTotal)
	}
}

func TestInitFallsBackToCLIPath(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem()
	query := newFakeQuery(processorCounterPath, netSentCounterPath, netRecvCounterPath)
	cli := newFakeCLI()
	cli.names, cli.namesErr = []string{"GeForce RTX 3080"}, nil
	cli.memTotal, cli.memUsed = 10<<30, 2<<30
	cli.temp, cli.tempErr = 55, nil
	eng := newEngine(sys, query, cli, discardLogger())

	if err := eng.init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	if eng.path != gpuPathCLI {
		t.Fatalf("expected cli path, got %d", eng.path)
	}
	if eng.system.GPUCount != 1 || eng.system.GPUMemoryTotal != 10<<30 {
		t.Fatalf("cli card figures not applied: %+v", eng.system)
	}

	snapshots, cancel, err := eng.subscribe()
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancel()

	query.fire()
	snapshot := waitSnapshot(t, snapshots)
	if snapshot.System.GPUTemperatureC != 55 {
		t.Fatalf("expected temperature from the cli, got %d", snapshot.System.GPUTemperatureC)
	}

	eng.exit()
	if cli.shutdowns == 0 {
		t.Fatalf("exit must kill outstanding cli children")
	}
	eng.exit() // idempotent
}

func TestEngineStreamsCLIUsageIntoSystem(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem()
	query := newFakeQuery(processorCounterPath)
	cli := newFakeCLI()
	cli.names, cli.namesErr = []string{"GeForce RTX 3080"}, nil
	cli.memTotal = 10 << 30
	cli.usages = []hostapi.EngineUsage{
		{SMPercent: 40, MemPercent: 50, EncPercent: 5, DecPercent: 1},
	}
	eng := newEngine(sys, query, cli, discardLogger())

	if err := eng.init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	defer eng.exit()

	deadline := time.Now().Add(2 * time.Second)
	for {
		system, err := eng.systemResource()
		if err != nil {
			t.Fatalf("systemResource failed: %v", err)
		}
		if system.GPU3DPercent == 40 {
			if system.GPUMemoryUsed != 5<<30 {
				t.Fatalf("expected 50%% of 10 GiB, got %d", system.GPUMemoryUsed)
			}
			if system.GPUEncodePercent != 5 || system.GPUDecodePercent != 1 {
				t.Fatalf("unexpected engine figures: %+v", system)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("stream aggregate never reached the system resource")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTickPublishesSnapshotToSubscribers(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem()
	sys.handles[100] = &fakeHandle{alive: true, workingSet: 4 << 20}
	sys.processes = []hostapi.ProcessInfo{{PID: 100, ParentPID: 1, Name: "root.exe"}}
	query := newFakeQuery(allCounterPaths()...)
	eng := newEngine(sys, query, newFakeCLI(), discardLogger())

	if err := eng.init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	defer eng.exit()

	if err := eng.appendProcess(100, false); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	snapshots, cancel, err := eng.subscribe()
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancel()

	query.fire()
	snapshot := waitSnapshot(t, snapshots)

	resource, ok := snapshot.Processes[100]
	if !ok {
		t.Fatalf("snapshot must carry every root, got %v", snapshot.Processes)
	}
	if resource.RAMBytes != 4<<20 {
		t.Fatalf("expected 4 MiB working set, got %d", resource.RAMBytes)
	}
	if snapshot.System.RAMTotal != sys.memTotal {
		t.Fatalf("expected host ram total %d, got %d", sys.memTotal, snapshot.System.RAMTotal)
	}
	if snapshot.System.DiskUsed != sys.diskTotal-sys.diskFree {
		t.Fatalf("unexpected disk used %d", snapshot.System.DiskUsed)
	}

	if _, ok := eng.latestSnapshot(); !ok {
		t.Fatalf("latest snapshot must be cached after a tick")
	}
}

func TestReadsFailWhenStopped(t *testing.T) {
	t.Parallel()

	eng := newEngine(newFakeSystem(), newFakeQuery(allCounterPaths()...), newFakeCLI(), discardLogger())

	if _, err := eng.systemResource(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if _, err := eng.processResource(100); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if err := eng.appendProcess(100, false); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestProcessResourceUnknownRoot(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(newFakeSystem(), newFakeQuery(), newFakeCLI())
	if _, err := eng.processResourceLocked(12345); !errors.Is(err, ErrUnknownPID) {
		t.Fatalf("expected ErrUnknownPID, got %v", err)
	}
}

func waitSnapshot(t *testing.T, snapshots <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snapshot := <-snapshots:
		return snapshot
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a snapshot")
		return Snapshot{}
	}
}
