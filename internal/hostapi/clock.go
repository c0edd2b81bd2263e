package hostapi

import "time"

var clockEpoch = time.Now()

// MonotonicSeconds returns a non-decreasing seconds counter shared by the
// CLI liveness stamp and the watchdog that inspects it.
func MonotonicSeconds() int64 {
	return int64(time.Since(clockEpoch) / time.Second)
}
