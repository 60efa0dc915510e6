package collector

import (
	"context"

	"github.com/vitalis-app/selector/internal/errors"
	"github.com/vitalis-app/selector/internal/platform"
)

// BatteryCollector reports remaining battery capacity in percent.
type BatteryCollector struct {
	platform platform.Platform
}

// NewBatteryCollector creates a battery collector backed by p.
func NewBatteryCollector(p platform.Platform) *BatteryCollector {
	return &BatteryCollector{platform: p}
}

// Name returns the collector identifier.
func (c *BatteryCollector) Name() string { return SignalBattery }

// Collect reads battery capacity from the platform.
func (c *BatteryCollector) Collect(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	pct, err := c.platform.BatteryPercent()
	if err != nil {
		return 0, errors.Mark(err, ErrTelemetryUnavailable)
	}
	return float64(pct), nil
}

// IsAvailable probes the platform once at registration.
func (c *BatteryCollector) IsAvailable() bool {
	if c.platform == nil {
		return false
	}
	_, err := c.platform.BatteryPercent()
	return err == nil
}
