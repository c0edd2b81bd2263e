package monitor

import (
	"strconv"
	"strings"
)

// Counter paths are bit-exact contracts with the OS; they are registered
// through the English-name API so they bind on localised systems too.
const (
	processorCounterPath = `\Processor(_Total)\% Processor Time`
	gpuEngineCounterPath = `\GPU Engine(*)\Utilization Percentage`
	gpuMemoryCounterPath = `\GPU Process Memory(*)\Dedicated Usage`
	netSentCounterPath   = `\Network Interface(*)\Bytes Sent/sec`
	netRecvCounterPath   = `\Network Interface(*)\Bytes Received/sec`
)

// parseInstancePID extracts the pid encoded in a counter instance name of
// the form "pid_<pid>_luid_...". Malformed names yield ok=false rather
// than a bogus pid.
func parseInstancePID(name string) (uint32, bool) {
	const prefix = "pid_"
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	rest := name[len(prefix):]
	end := strings.IndexByte(rest, '_')
	if end <= 0 {
		return 0, false
	}
	pid, err := strconv.ParseUint(rest[:end], 10, 32)
	if err != nil || pid == 0 {
		return 0, false
	}
	return uint32(pid), true
}

type engineKind int

const (
	engineKindNone engineKind = iota
	engineKind3D
	engineKindVR
	engineKindEncode
	engineKindDecode
)

// classifyEngineInstance maps a GPU engine instance name to an engine
// kind. Observed engtype tails include 3D, VR, VideoEncode, VideoDecode,
// Video Codec, Compute, Copy, Security; the first matching rule wins and
// unmatched kinds are ignored.
func classifyEngineInstance(name string) engineKind {
	switch {
	case strings.Contains(name, "_3D"):
		return engineKind3D
	case strings.Contains(name, "_VR"):
		return engineKindVR
	case strings.Contains(name, "Encode"), strings.Contains(name, "Codec"):
		return engineKindEncode
	case strings.Contains(name, "Decode"):
		return engineKindDecode
	}
	return engineKindNone
}

// parseProcessorCounter refreshes the system CPU percentage from the
// _Total processor instance, falling back to the mean of per-core usage
// when the counter is unavailable.
func (e *engine) parseProcessorCounter() {
	if e.processorCounter != nil {
		if items, ok := e.processorCounter.DoubleItems(); ok {
			total := 0.0
			for _, item := range items {
				total += item.Value
			}
			e.system.CPUPercent = total
			return
		}
	}

	cores, err := e.sys.PerCoreUsage()
	if err != nil || len(cores) == 0 {
		return
	}
	total := 0.0
	for _, core := range cores {
		total += core
	}
	e.system.CPUPercent = total / float64(len(cores))
}

// parseGPUEngineCounter demultiplexes the per-engine utilisation items
// into the owning roots' aggregates and the system totals. Items whose
// pid is untracked still land in the system totals.
func (e *engine) parseGPUEngineCounter() {
	if e.gpuEngineCounter == nil {
		return
	}
	items, ok := e.gpuEngineCounter.DoubleItems()
	if !ok {
		return
	}

	for _, aggregate := range e.aggregates {
		aggregate.GPU3DPercent = 0
		aggregate.GPUVRPercent = 0
		aggregate.GPUEncodePercent = 0
		aggregate.GPUDecodePercent = 0
	}
	e.system.GPU3DPercent = 0
	e.system.GPUVRPercent = 0
	e.system.GPUEncodePercent = 0
	e.system.GPUDecodePercent = 0

	for _, item := range items {
		var d3, vr, enc, dec float64
		switch classifyEngineInstance(item.Instance) {
		case engineKind3D:
			d3 = item.Value
		case engineKindVR:
			vr = item.Value
		case engineKindEncode:
			enc = item.Value
		case engineKindDecode:
			dec = item.Value
		default:
			continue
		}

		if pid, ok := parseInstancePID(item.Instance); ok {
			if helper, ok := e.helpers[pid]; ok {
				if aggregate, ok := e.aggregates[helper.rootPID]; ok {
					aggregate.GPU3DPercent += d3
					aggregate.GPUVRPercent += vr
					aggregate.GPUEncodePercent += enc
					aggregate.GPUDecodePercent += dec
				}
			}
		}
		e.system.GPU3DPercent += d3
		e.system.GPUVRPercent += vr
		e.system.GPUEncodePercent += enc
		e.system.GPUDecodePercent += dec
	}
}

// parseGPUMemoryCounter demultiplexes per-process dedicated GPU memory
// into the owning roots' aggregates and the system total, then clamps
// both to the GPU memory total.
func (e *engine) parseGPUMemoryCounter() {
	if e.gpuMemoryCounter == nil {
		return
	}
	items, ok := e.gpuMemoryCounter.LargeItems()
	if !ok {
		return
	}

	for _, aggregate := range e.aggregates {
		aggregate.GPUMemoryBytes = 0
	}
	e.system.GPUMemoryUsed = 0

	for _, item := range items {
		if item.Large < 0 {
			continue
		}
		usage := uint64(item.Large)
		if pid, ok := parseInstancePID(item.Instance); ok {
			if helper, ok := e.helpers[pid]; ok {
				if aggregate, ok := e.aggregates[helper.rootPID]; ok {
					aggregate.GPUMemoryBytes += usage
				}
			}
		}
		e.system.GPUMemoryUsed += usage
	}

	if total := e.system.GPUMemoryTotal; total > 0 {
		for _, aggregate := range e.aggregates {
			if aggregate.GPUMemoryBytes > total {
				aggregate.GPUMemoryBytes = total
			}
		}
		if e.system.GPUMemoryUsed > total {
			e.system.GPUMemoryUsed = total
		}
	}
}

// parseNetworkCounters sums interface instances into the host send and
// receive rates.
func (e *engine) parseNetworkCounters() {
	if e.netSentCounter != nil {
		if items, ok := e.netSentCounter.DoubleItems(); ok {
			total := 0.0
			for _, item := range items {
				total += item.Value
			}
			e.system.NetSentBps = total
		}
	}
	if e.netRecvCounter != nil {
		if items, ok := e.netRecvCounter.DoubleItems(); ok {
			total := 0.0
			for _, item := range items {
				total += item.Value
			}
			e.system.NetRecvBps = total
		}
	}
}
