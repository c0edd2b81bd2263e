package monitor

import "time"

// ProcessResource is the per-root accumulation for one sample. Engine
// percentages are sums across engine instances and may exceed 100;
// GPUMemoryBytes is clamped to the system GPU memory total.
type ProcessResource struct {
	CPUPercent       float64 `json:"cpu_pct"`
	RAMBytes         uint64  `json:"ram_bytes"`
	GPU3DPercent     float64 `json:"gpu_3d_pct"`
	GPUVRPercent     float64 `json:"gpu_vr_pct"`
	GPUEncodePercent float64 `json:"gpu_enc_pct"`
	GPUDecodePercent float64 `json:"gpu_dec_pct"`
	GPUMemoryBytes   uint64  `json:"gpu_mem_bytes"`
}

// SystemResource is the host-wide view for one sample.
type SystemResource struct {
	CPUCount         uint64  `json:"cpu_count"`
	CPUPercent       float64 `json:"cpu_pct"`
	RAMUsed          uint64  `json:"ram_used"`
	RAMTotal         uint64  `json:"ram_total"`
	DiskUsed         uint64  `json:"disk_used"`
	DiskTotal        uint64  `json:"disk_total"`
	NetSentBps       float64 `json:"net_sent_bps"`
	NetRecvBps       float64 `json:"net_recv_bps"`
	GPUCount         uint64  `json:"gpu_count"`
	GPU3DPercent     float64 `json:"gpu_3d_pct"`
	GPUVRPercent     float64 `json:"gpu_vr_pct"`
	GPUEncodePercent float64 `json:"gpu_enc_pct"`
	GPUDecodePercent float64 `json:"gpu_dec_pct"`
	GPUMemoryUsed    uint64  `json:"gpu_mem_used"`
	GPUMemoryTotal   uint64  `json:"gpu_mem_total"`
	GPUTemperatureC  int     `json:"gpu_temperature_c"`
}

// GraphicsCard describes one enumerated adapter. Software adapters
// (vendor id 0x1414) are excluded during enumeration.
type GraphicsCard struct {
	Name                 string `json:"name"`
	Vendor               string `json:"vendor,omitempty"`
	VendorID             uint32 `json:"vendor_id,omitempty"`
	DedicatedMemoryBytes uint64 `json:"dedicated_memory_bytes"`
}

// Snapshot is the immutable copy published to subscribers after each
// completed tick.
type Snapshot struct {
	Timestamp time.Time                  `json:"ts"`
	System    SystemResource             `json:"system"`
	Processes map[uint32]ProcessResource `json:"processes"`
}
