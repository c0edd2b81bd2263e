package httpserver

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yanrk/resource-monitor/monitor"
)

// monitorCollector exposes the latest snapshot as Prometheus gauges.
type monitorCollector struct {
	mon           *monitor.Monitor
	systemMetrics []systemMetric
	processDescs  map[string]*prometheus.Desc
}

type systemMetric struct {
	desc    *prometheus.Desc
	extract func(system monitor.SystemResource) float64
}

func newMonitorCollector(mon *monitor.Monitor) prometheus.Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName("resource_monitor", "system", name),
			help,
			nil,
			nil,
		)
	}
	procDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName("resource_monitor", "process", name),
			help,
			[]string{"pid"},
			nil,
		)
	}

	return &monitorCollector{
		mon: mon,
		systemMetrics: []systemMetric{
			{desc("cpu_percent", "Host CPU utilisation percentage."),
				func(s monitor.SystemResource) float64 { return s.CPUPercent }},
			{desc("ram_used_bytes", "Host physical memory in use."),
				func(s monitor.SystemResource) float64 { return float64(s.RAMUsed) }},
			{desc("ram_total_bytes", "Host physical memory installed."),
				func(s monitor.SystemResource) float64 { return float64(s.RAMTotal) }},
			{desc("disk_used_bytes", "Used bytes across fixed drives."),
				func(s monitor.SystemResource) float64 { return float64(s.DiskUsed) }},
			{desc("disk_total_bytes", "Total bytes across fixed drives."),
				func(s monitor.SystemResource) float64 { return float64(s.DiskTotal) }},
			{desc("net_sent_bytes_per_second", "Bytes sent across all interfaces."),
				func(s monitor.SystemResource) float64 { return s.NetSentBps }},
			{desc("net_received_bytes_per_second", "Bytes received across all interfaces."),
				func(s monitor.SystemResource) float64 { return s.NetRecvBps }},
			{desc("gpu_3d_percent", "GPU 3D engine utilisation summed across processes."),
				func(s monitor.SystemResource) float64 { return s.GPU3DPercent }},
			{desc("gpu_encode_percent", "GPU encode engine utilisation."),
				func(s monitor.SystemResource) float64 { return s.GPUEncodePercent }},
			{desc("gpu_decode_percent", "GPU decode engine utilisation."),
				func(s monitor.SystemResource) float64 { return s.GPUDecodePercent }},
			{desc("gpu_memory_used_bytes", "Dedicated GPU memory in use."),
				func(s monitor.SystemResource) float64 { return float64(s.GPUMemoryUsed) }},
			{desc("gpu_memory_total_bytes", "Dedicated GPU memory installed."),
				func(s monitor.SystemResource) float64 { return float64(s.GPUMemoryTotal) }},
			{desc("gpu_temperature_celsius", "GPU temperature."),
				func(s monitor.SystemResource) float64 { return float64(s.GPUTemperatureC) }},
		},
		processDescs: map[string]*prometheus.Desc{
			"cpu":     procDesc("cpu_percent", "Per-root CPU utilisation percentage."),
			"ram":     procDesc("ram_bytes", "Per-root working-set bytes."),
			"gpu_mem": procDesc("gpu_memory_bytes", "Per-root dedicated GPU memory bytes."),
		},
	}
}

func (c *monitorCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range c.systemMetrics {
		ch <- metric.desc
	}
	for _, desc := range c.processDescs {
		ch <- desc
	}
}

func (c *monitorCollector) Collect(ch chan<- prometheus.Metric) {
	snapshot, ok := c.mon.Latest()
	if !ok {
		return
	}

	for _, metric := range c.systemMetrics {
		ch <- prometheus.MustNewConstMetric(metric.desc, prometheus.GaugeValue, metric.extract(snapshot.System))
	}

	for pid, resource := range snapshot.Processes {
		label := strconv.FormatUint(uint64(pid), 10)
		ch <- prometheus.MustNewConstMetric(c.processDescs["cpu"], prometheus.GaugeValue, resource.CPUPercent, label)
		ch <- prometheus.MustNewConstMetric(c.processDescs["ram"], prometheus.GaugeValue, float64(resource.RAMBytes), label)
		ch <- prometheus.MustNewConstMetric(c.processDescs["gpu_mem"], prometheus.GaugeValue, float64(resource.GPUMemoryBytes), label)
	}
}

// wsCollector exposes WebSocket connection accounting.
type wsCollector struct {
	server *Server

	active   *prometheus.Desc
	total    *prometheus.Desc
	rejected *prometheus.Desc
	sent     *prometheus.Desc
	dropped  *prometheus.Desc
}

func (s *Server) newWSCollector() prometheus.Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName("resource_monitor", "websocket", name),
			help,
			nil,
			nil,
		)
	}
	return &wsCollector{
		server:   s,
		active:   desc("active_connections", "Currently connected WebSocket clients."),
		total:    desc("connections_total", "WebSocket connections accepted."),
		rejected: desc("rejected_total", "WebSocket connections rejected at capacity."),
		sent:     desc("messages_sent_total", "WebSocket messages written."),
		dropped:  desc("messages_dropped_total", "WebSocket messages dropped from full send queues."),
	}
}

func (c *wsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.total
	ch <- c.rejected
	ch <- c.sent
	ch <- c.dropped
}

func (c *wsCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(c.server.wsActive.Load()))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.CounterValue, float64(c.server.wsTotal.Load()))
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(c.server.wsRejected.Load()))
	ch <- prometheus.MustNewConstMetric(c.sent, prometheus.CounterValue, float64(c.server.wsSent.Load()))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(c.server.wsDropped.Load()))
}
