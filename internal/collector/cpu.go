// CPU usage collector: overall utilization across all cores.
// Uses gopsutil for cross-platform CPU metrics.
package collector

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/cpu"
)

// CPUCollector collects overall CPU usage.
type CPUCollector struct {
	last atomic.Uint64
}

// NewCPUCollector creates a new CPU collector.
func NewCPUCollector() *CPUCollector {
	return &CPUCollector{}
}

// Name returns the collector identifier.
func (c *CPUCollector) Name() string { return SignalCPU }

// Collect returns CPU usage since the previous call. It does not sleep,
// so it is safe to call once per frame.
func (c *CPUCollector) Collect(ctx context.Context) (float64, error) {
	overall, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(overall) == 0 {
		return 0, ErrTelemetryUnavailable
	}
	c.last.Store(math.Float64bits(overall[0]))
	return overall[0], nil
}

// Last returns the most recent successful reading.
func (c *CPUCollector) Last() float64 {
	return math.Float64frombits(c.last.Load())
}

// IsAvailable returns true. CPU metrics are available on all platforms.
func (c *CPUCollector) IsAvailable() bool { return true }
