// Package platform provides an OS abstraction layer for power signals
// that gopsutil does not cover: battery capacity and instantaneous draw.
package platform

import "github.com/vitalis-app/selector/internal/errors"

// ErrUnavailable is returned when the OS cannot report a signal.
var ErrUnavailable = errors.New("platform signal unavailable")

// Platform reports battery and power readings.
type Platform interface {
	// BatteryPercent returns the remaining battery capacity in [0,100].
	BatteryPercent() (int, error)

	// PowerDrawWatts returns the instantaneous discharge rate.
	PowerDrawWatts() (float64, error)

	// Name returns the platform name (linux, stub).
	Name() string
}
