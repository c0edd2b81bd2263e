package nvsmi

import (
	"strconv"
	"strings"

	"github.com/yanrk/resource-monitor/internal/hostapi"
)

const mib = 1024 * 1024

// parseMemoryLine parses one "<total> <unit>, <free> <unit>" memory query
// row into bytes.
func parseMemoryLine(line string) (total, free uint64, ok bool) {
	fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
	if len(fields) < 4 {
		return 0, 0, false
	}
	totalMiB, ok1 := parseMiB(fields[0], fields[1])
	freeMiB, ok2 := parseMiB(fields[2], fields[3])
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	return totalMiB * mib, freeMiB * mib, true
}

func parseMiB(magnitude, unit string) (uint64, bool) {
	value, err := strconv.ParseUint(magnitude, 10, 64)
	if err != nil {
		return 0, false
	}
	if strings.HasPrefix(unit, "G") {
		value *= 1024
	}
	return value, true
}

// dmonColumns holds the field indices learned from the stream header.
type dmonColumns struct {
	gpu int
	sm  int
	mem int
	enc int
	dec int
}

type dmonRow struct {
	sm  float64
	mem float64
	enc float64
	dec float64
}

// dmonParser consumes device-monitor stream lines. The header (a line
// beginning with "#" listing gpu sm mem enc dec ...) is parsed once to
// learn column positions; each data row then contributes to the current
// per-tick aggregate, which is finalized as the per-GPU mean whenever a
// row for GPU 0 starts the next tick.
type dmonParser struct {
	columns *dmonColumns
	rows    []dmonRow
}

func (p *dmonParser) feed(line string) (hostapi.EngineUsage, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return hostapi.EngineUsage{}, false
	}

	if strings.HasPrefix(trimmed, "#") {
		if p.columns == nil {
			if columns, ok := parseDmonHeader(trimmed); ok {
				p.columns = &columns
			}
		}
		return hostapi.EngineUsage{}, false
	}
	if p.columns == nil {
		return hostapi.EngineUsage{}, false
	}

	fields := strings.Fields(trimmed)
	gpu, ok := fieldInt(fields, p.columns.gpu)
	if !ok {
		return hostapi.EngineUsage{}, false
	}

	var usage hostapi.EngineUsage
	emitted := false
	if gpu == 0 && len(p.rows) > 0 {
		usage = p.finalize()
		emitted = true
		p.rows = p.rows[:0]
	}

	p.rows = append(p.rows, dmonRow{
		sm:  fieldFloat(fields, p.columns.sm),
		mem: fieldFloat(fields, p.columns.mem),
		enc: fieldFloat(fields, p.columns.enc),
		dec: fieldFloat(fields, p.columns.dec),
	})
	return usage, emitted
}

func (p *dmonParser) finalize() hostapi.EngineUsage {
	var usage hostapi.EngineUsage
	if len(p.rows) == 0 {
		return usage
	}
	for _, row := range p.rows {
		usage.SMPercent += row.sm
		usage.MemPercent += row.mem
		usage.EncPercent += row.enc
		usage.DecPercent += row.dec
	}
	count := float64(len(p.rows))
	usage.SMPercent /= count
	usage.MemPercent /= count
	usage.EncPercent /= count
	usage.DecPercent /= count
	return usage
}

// parseDmonHeader learns column indices from a "# gpu sm mem enc dec"
// style header. ok requires at least the gpu column; the units header
// that follows it lacks one and is ignored.
func parseDmonHeader(line string) (dmonColumns, bool) {
	fields := strings.Fields(strings.TrimPrefix(line, "#"))
	columns := dmonColumns{gpu: -1, sm: -1, mem: -1, enc: -1, dec: -1}
	for index, field := range fields {
		switch strings.ToLower(field) {
		case "gpu":
			columns.gpu = index
		case "sm":
			columns.sm = index
		case "mem":
			columns.mem = index
		case "enc":
			columns.enc = index
		case "dec":
			columns.dec = index
		}
	}
	return columns, columns.gpu >= 0
}

func fieldInt(fields []string, index int) (int, bool) {
	if index < 0 || index >= len(fields) {
		return 0, false
	}
	value, err := strconv.Atoi(fields[index])
	if err != nil {
		return 0, false
	}
	return value, true
}

// fieldFloat returns 0 for absent columns and the "-" placeholders the
// monitor prints for unsupported metrics.
func fieldFloat(fields []string, index int) float64 {
	if index < 0 || index >= len(fields) {
		return 0
	}
	value, err := strconv.ParseFloat(fields[index], 64)
	if err != nil {
		return 0
	}
	return value
}
