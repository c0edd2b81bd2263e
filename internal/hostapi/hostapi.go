// Package hostapi defines the host surface the sampling engine consumes:
// process handles, performance counters, graphics adapters and the vendor
// CLI back-end. Production implementations live in internal/winapi and
// internal/nvsmi; tests substitute fakes.
package hostapi

import "time"

// ProcessInfo is one row of a host process enumeration.
type ProcessInfo struct {
	PID       uint32
	ParentPID uint32
	Name      string
}

// ProcessHandle is an open OS handle to a process. Closing the
// current-process sentinel must be a no-op.
type ProcessHandle interface {
	// Alive reports whether the process has not yet exited.
	Alive() bool
	// BusyTime returns kernel+user time consumed by the process,
	// in 100-nanosecond ticks.
	BusyTime() (uint64, error)
	// WorkingSetBytes returns the current working-set size.
	WorkingSetBytes() (uint64, error)
	Close() error
}

// AdapterInfo is one enumerated graphics adapter.
type AdapterInfo struct {
	Description          string
	DedicatedVideoMemory uint64
	VendorID             uint32
}

// SystemAPI is the host surface the engine samples from.
type SystemAPI interface {
	CPUCount() (uint64, error)
	// MemoryStatus returns total and available physical memory.
	MemoryStatus() (total, avail uint64, err error)
	// DiskStatus returns total and free bytes summed over fixed drives.
	DiskStatus() (total, free uint64, err error)
	// NowAsFileTime returns the wallclock as a 64-bit UTC filetime.
	NowAsFileTime() uint64
	// PerCoreUsage returns per-core busy percentages since the last call.
	PerCoreUsage() ([]float64, error)
	Processes() ([]ProcessInfo, error)
	OpenProcess(pid uint32) (ProcessHandle, error)
	CurrentPID() uint32
	// CurrentProcess returns the sentinel handle for this process.
	CurrentProcess() ProcessHandle
	Adapters() ([]AdapterInfo, error)
	// KillProcessesByName terminates every process whose image name
	// matches, with the given exit code. Returns the kill count.
	KillProcessesByName(image string, exitCode uint32) int
}

// CounterItem is one formatted per-instance counter value.
type CounterItem struct {
	Instance string
	Value    float64
	Large    int64
}

// Counter is an open performance counter.
type Counter interface {
	// DoubleItems returns the per-instance values formatted as doubles.
	// ok is false on any read status other than success.
	DoubleItems() (items []CounterItem, ok bool)
	// LargeItems returns the per-instance values formatted as 64-bit ints.
	LargeItems() (items []CounterItem, ok bool)
	Remove()
}

// CounterQuery owns a set of counters and a periodic collection signal.
type CounterQuery interface {
	AddCounter(path string) (Counter, error)
	// Start arms periodic collection at the given interval.
	Start(interval time.Duration) error
	// Wait blocks until the next collection completes or Wake is called.
	// It returns false when the query is no longer usable.
	Wait() bool
	// Wake unblocks a pending Wait.
	Wake()
	Close()
}

// EngineUsage is one finalized per-tick aggregate from the CLI stream.
// Values are means across GPUs; MemPercent is the memory controller
// utilisation, not a byte figure.
type EngineUsage struct {
	SMPercent  float64
	MemPercent float64
	EncPercent float64
	DecPercent float64
}

// GPUCommand is the vendor CLI back-end.
type GPUCommand interface {
	CardNames() ([]string, error)
	// MemoryInfo returns total and used video memory in bytes,
	// summed across cards.
	MemoryInfo() (total, used uint64, err error)
	TemperatureC() (int, error)
	// StreamEngineUsage runs the streaming command until the child
	// exits, invoking publish for every finalized per-tick aggregate.
	StreamEngineUsage(publish func(EngineUsage)) error
	// AliveStamp returns the monotonic timestamp of the most recent
	// CLI read, or 0 when no read is in flight.
	AliveStamp() int64
	// Shutdown kills any outstanding CLI children.
	Shutdown()
}
