package monitor

import (
	"testing"

	"github.com/yanrk/resource-monitor/internal/hostapi"
)

func TestParseInstancePID(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   string
		pid  uint32
		ok   bool
	}{
		{"NvidiaEngine", "pid_25832_luid_0x00000000_0x0000DABC_phys_0_eng_0_engtype_3D", 25832, true},
		{"AmdEngine", "pid_18360_luid_0x00000000_0x0000B750_phys_0_eng_12_engtype_Video Decode 1", 18360, true},
		{"Memory", "pid_25832_luid_0x000000_0x00DABC_phys_0", 25832, true},
		{"MissingPrefix", "luid_0x0_phys_0", 0, false},
		{"EmptyPID", "pid__luid", 0, false},
		{"NonNumericPID", "pid_abc_luid", 0, false},
		{"ZeroPID", "pid_0_luid", 0, false},
		{"NoTerminator", "pid_25832", 0, false},
		{"Empty", "", 0, false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			pid, ok := parseInstancePID(tc.in)
			if ok != tc.ok || pid != tc.pid {
				t.Fatalf("parseInstancePID(%q) = (%d, %v), want (%d, %v)", tc.in, pid, ok, tc.pid, tc.ok)
			}
		})
	}
}

func TestClassifyEngineInstance(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   string
		want engineKind
	}{
		{"3D", "pid_1_luid_0x0_0x0_phys_0_eng_0_engtype_3D", engineKind3D},
		{"HighPriority3D", "pid_1_luid_0x0_0x0_phys_0_eng_1_engtype_High Priority 3D", engineKindNone},
		{"VR", "pid_1_luid_0x0_0x0_phys_0_eng_11_engtype_VR", engineKindVR},
		{"VideoEncode", "pid_1_luid_0x0_0x0_phys_0_eng_7_engtype_VideoEncode", engineKindEncode},
		{"VideoCodec", "pid_1_luid_0x0_0x0_phys_0_eng_14_engtype_Video Codec 0", engineKindEncode},
		{"VideoDecode", "pid_1_luid_0x0_0x0_phys_0_eng_3_engtype_VideoDecode", engineKindDecode},
		{"Copy", "pid_1_luid_0x0_0x0_phys_0_eng_12_engtype_Copy", engineKindNone},
		{"Compute", "pid_1_luid_0x0_0x0_phys_0_eng_1_engtype_Compute_0", engineKindNone},
		{"Security", "pid_1_luid_0x0_0x0_phys_0_eng_4_engtype_Security", engineKindNone},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := classifyEngineInstance(tc.in); got != tc.want {
				t.Fatalf("classifyEngineInstance(%q) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestGPUEngineCounterRouting(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem()
	sys.handles[100] = &fakeHandle{alive: true}
	eng := newTestEngine(sys, newFakeQuery(), newFakeCLI())
	if err := eng.appendLocked(100, false); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	eng.gpuEngineCounter = &fakeCounter{ok: true, doubles: []hostapi.CounterItem{
		{Instance: "pid_100_luid_0x0_0x0_phys_0_eng_0_engtype_3D", Value: 12.5},
		{Instance: "pid_100_luid_0x0_0x0_phys_0_eng_1_engtype_High Priority 3D", Value: 2.5},
		{Instance: "pid_100_luid_0x0_0x0_phys_0_eng_3_engtype_VideoDecode", Value: 7},
		{Instance: "pid_100_luid_0x0_0x0_phys_0_eng_12_engtype_Copy", Value: 99},
		{Instance: "pid_555_luid_0x0_0x0_phys_0_eng_0_engtype_3D", Value: 30},
		{Instance: "garbage_instance_engtype_3D", Value: 5},
	}}

	eng.parseGPUEngineCounter()

	aggregate := eng.aggregates[100]
	if aggregate.GPU3DPercent != 12.5 {
		t.Fatalf("expected only the _3D engine in the root (12.5), got %f", aggregate.GPU3DPercent)
	}
	if aggregate.GPUDecodePercent != 7 {
		t.Fatalf("expected decode 7, got %f", aggregate.GPUDecodePercent)
	}
	if aggregate.GPUEncodePercent != 0 || aggregate.GPUVRPercent != 0 {
		t.Fatalf("unexpected engine figures: %+v", aggregate)
	}

	// Untracked and unparseable pids still land in the system totals;
	// unclassified engine kinds are ignored outright.
	if eng.system.GPU3DPercent != 47.5 {
		t.Fatalf("expected system 3D total 47.5, got %f", eng.system.GPU3DPercent)
	}
	if eng.system.GPUDecodePercent != 7 {
		t.Fatalf("expected system decode total 7, got %f", eng.system.GPUDecodePercent)
	}
}

func TestGPUEngineCounterZeroesStaleFigures(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem()
	sys.handles[100] = &fakeHandle{alive: true}
	eng := newTestEngine(sys, newFakeQuery(), newFakeCLI())
	if err := eng.appendLocked(100, false); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	counter := &fakeCounter{ok: true, doubles: []hostapi.CounterItem{
		{Instance: "pid_100_luid_0x0_0x0_phys_0_eng_0_engtype_3D", Value: 40},
	}}
	eng.gpuEngineCounter = counter
	eng.parseGPUEngineCounter()
	if eng.aggregates[100].GPU3DPercent != 40 {
		t.Fatalf("expected 40, got %f", eng.aggregates[100].GPU3DPercent)
	}

	counter.doubles = nil
	eng.parseGPUEngineCounter()
	if eng.aggregates[100].GPU3DPercent != 0 || eng.system.GPU3DPercent != 0 {
		t.Fatalf("expected zeroed figures when the process goes idle")
	}

	// A failed read leaves the previous figures alone.
	counter.doubles = []hostapi.CounterItem{
		{Instance: "pid_100_luid_0x0_0x0_phys_0_eng_0_engtype_3D", Value: 40},
	}
	eng.parseGPUEngineCounter()
	counter.ok = false
	eng.parseGPUEngineCounter()
	if eng.aggregates[100].GPU3DPercent != 40 {
		t.Fatalf("failed read must not zero figures, got %f", eng.aggregates[100].GPU3DPercent)
	}
}

func TestGPUMemoryCounterClampsToTotal(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem()
	sys.handles[100] = &fakeHandle{alive: true}
	eng := newTestEngine(sys, newFakeQuery(), newFakeCLI())
	if err := eng.appendLocked(100, false); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	const total = 8 << 30
	eng.system.GPUMemoryTotal = total
	eng.gpuMemoryCounter = &fakeCounter{ok: true, larges: []hostapi.CounterItem{
		{Instance: "pid_100_luid_0x0_0x0_phys_0", Large: total + (1 << 30)},
		{Instance: "pid_555_luid_0x0_0x0_phys_0", Large: 1 << 30},
	}}

	eng.parseGPUMemoryCounter()

	if got := eng.aggregates[100].GPUMemoryBytes; got != total {
		t.Fatalf("per-root figure must clamp to the total, got %d", got)
	}
	if got := eng.system.GPUMemoryUsed; got != total {
		t.Fatalf("system figure must clamp to the total, got %d", got)
	}
}

func TestGPUMemoryCounterRoutesByPID(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem()
	sys.handles[100] = &fakeHandle{alive: true}
	eng := newTestEngine(sys, newFakeQuery(), newFakeCLI())
	if err := eng.appendLocked(100, false); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	eng.system.GPUMemoryTotal = 8 << 30
	eng.gpuMemoryCounter = &fakeCounter{ok: true, larges: []hostapi.CounterItem{
		{Instance: "pid_100_luid_0x0_0x0_phys_0", Large: 1 << 30},
		{Instance: "pid_555_luid_0x0_0x0_phys_0", Large: 2 << 30},
		{Instance: "pid_100_luid_0x0_0x1_phys_1", Large: 1 << 30},
		{Instance: "pid_9_luid_0x0", Large: -5},
	}}

	eng.parseGPUMemoryCounter()

	if got := eng.aggregates[100].GPUMemoryBytes; got != 2<<30 {
		t.Fatalf("expected both instances of pid 100 summed, got %d", got)
	}
	if got := eng.system.GPUMemoryUsed; got != 4<<30 {
		t.Fatalf("expected system total 4 GiB, got %d", got)
	}
}

func TestProcessorCounterTotalInstance(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(newFakeSystem(), newFakeQuery(), newFakeCLI())
	eng.processorCounter = &fakeCounter{ok: true, doubles: []hostapi.CounterItem{
		{Instance: "_Total", Value: 37.5},
	}}

	eng.parseProcessorCounter()
	if eng.system.CPUPercent != 37.5 {
		t.Fatalf("expected 37.5, got %f", eng.system.CPUPercent)
	}
}

func TestProcessorFallbackUsesPerCoreMean(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem()
	sys.perCore = []float64{10, 20, 30, 40}
	eng := newTestEngine(sys, newFakeQuery(), newFakeCLI())

	eng.parseProcessorCounter()
	if eng.system.CPUPercent != 25 {
		t.Fatalf("expected arithmetic mean 25, got %f", eng.system.CPUPercent)
	}
}

func TestNetworkCountersSumInterfaces(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(newFakeSystem(), newFakeQuery(), newFakeCLI())
	eng.netSentCounter = &fakeCounter{ok: true, doubles: []hostapi.CounterItem{
		{Instance: "Ethernet", Value: 1000},
		{Instance: "Wi-Fi", Value: 500},
	}}
	eng.netRecvCounter = &fakeCounter{ok: true, doubles: []hostapi.CounterItem{
		{Instance: "Ethernet", Value: 2000},
	}}

	eng.parseNetworkCounters()
	if eng.system.NetSentBps != 1500 {
		t.Fatalf("expected sent 1500, got %f", eng.system.NetSentBps)
	}
	if eng.system.NetRecvBps != 2000 {
		t.Fatalf("expected received 2000, got %f", eng.system.NetRecvBps)
	}
}
