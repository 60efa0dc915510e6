// Package collector defines the Collector interface and the telemetry
// Sampler that turns collector readings into a models.TelemetrySample.
package collector

import (
	"context"

	"github.com/vitalis-app/selector/internal/errors"
)

// Signal names used by the Sampler to assemble a sample.
const (
	SignalCPU     = "cpu"
	SignalBattery = "battery"
	SignalPower   = "power"
)

// ErrTelemetryUnavailable marks a collector reading that could not be taken.
// The Sampler substitutes the last known value; it never surfaces this error.
var ErrTelemetryUnavailable = errors.New("telemetry unavailable")

// Collector is the interface that all telemetry collectors must implement.
// Each collector reads one scalar signal.
type Collector interface {
	// Name returns the signal this collector reports.
	Name() string

	// Collect reads the signal. The context bounds how long it may block.
	Collect(ctx context.Context) (float64, error)

	// IsAvailable checks if this collector can run on the current platform.
	// Collectors that return false will not be registered.
	IsAvailable() bool
}
