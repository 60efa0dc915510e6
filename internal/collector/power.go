package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"

	"github.com/vitalis-app/selector/internal/platform"
)

// CPUSource exposes the latest CPU utilization reading.
type CPUSource interface {
	Last() float64
}

// PowerCollector reports instantaneous power draw. It prefers the
// platform's battery discharge rate and falls back to a linear estimate
// from CPU load when the battery driver exposes nothing.
type PowerCollector struct {
	platform     platform.Platform
	cpu          CPUSource
	idleWatts    float64
	perCoreWatts float64
	cores        int
	logger       *zap.Logger
}

// NewPowerCollector creates a power collector. cpu supplies the load used
// by the estimate and must be collected before this one on each sample.
func NewPowerCollector(p platform.Platform, src CPUSource, idleWatts, perCoreWatts float64, logger *zap.Logger) *PowerCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	cores, err := cpu.Counts(true)
	if err != nil || cores <= 0 {
		cores = 1
	}
	return &PowerCollector{
		platform:     p,
		cpu:          src,
		idleWatts:    idleWatts,
		perCoreWatts: perCoreWatts,
		cores:        cores,
		logger:       logger,
	}
}

// Name returns the collector identifier.
func (c *PowerCollector) Name() string { return SignalPower }

// Collect returns the measured draw, or the CPU-based estimate.
func (c *PowerCollector) Collect(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if c.platform != nil {
		watts, err := c.platform.PowerDrawWatts()
		if err == nil {
			return watts, nil
		}
		c.logger.Debug("Platform power draw unavailable, estimating from CPU", zap.Error(err))
	}
	if c.cpu == nil {
		return 0, ErrTelemetryUnavailable
	}
	return EstimatePower(c.idleWatts, c.perCoreWatts, c.cores, c.cpu.Last()), nil
}

// IsAvailable returns true; the estimate is always computable.
func (c *PowerCollector) IsAvailable() bool { return true }

// EstimatePower models draw as idle + load × per-core cost × cores.
// cpuPercent is overall utilization in [0,100].
func EstimatePower(idleWatts, perCoreWatts float64, cores int, cpuPercent float64) float64 {
	if cpuPercent < 0 {
		cpuPercent = 0
	}
	if cpuPercent > 100 {
		cpuPercent = 100
	}
	return idleWatts + cpuPercent/100*perCoreWatts*float64(cores)
}
