// Package monitoring exposes lightweight system stats for the health
// endpoint.
package monitoring

import (
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStats is the health-endpoint snapshot.
type SystemStats struct {
	UptimeSeconds  float64 `json:"uptime_seconds"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryPercent  float64 `json:"memory_percent"`
	MemoryUsedMB   uint64  `json:"memory_used_mb"`
	RequestsServed int64   `json:"requests_served"`
}

// Collector tracks process uptime and request counts.
type Collector struct {
	startTime time.Time
	requests  int64
}

// NewCollector creates a collector anchored at process start.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// CountRequest increments the served-request counter.
func (c *Collector) CountRequest() {
	atomic.AddInt64(&c.requests, 1)
}

// Snapshot gathers current system stats. Probe failures leave zero values;
// health reporting must never fail the endpoint.
func (c *Collector) Snapshot() SystemStats {
	stats := SystemStats{
		UptimeSeconds:  time.Since(c.startTime).Seconds(),
		RequestsServed: atomic.LoadInt64(&c.requests),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = vm.UsedPercent
		stats.MemoryUsedMB = vm.Used / 1024 / 1024
	}
	return stats
}
