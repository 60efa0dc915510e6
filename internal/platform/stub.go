//go:build !linux

// Stub Platform implementation for systems without a sysfs power supply class.
package platform

// StubPlatform reports every signal as unavailable so the sampler falls
// back to its last-known or estimated values.
type StubPlatform struct{}

// New creates a stub platform instance.
func New(string) Platform {
	return &StubPlatform{}
}

// Name returns the platform identifier.
func (p *StubPlatform) Name() string { return "stub" }

// BatteryPercent always returns ErrUnavailable.
func (p *StubPlatform) BatteryPercent() (int, error) {
	return 0, ErrUnavailable
}

// PowerDrawWatts always returns ErrUnavailable.
func (p *StubPlatform) PowerDrawWatts() (float64, error) {
	return 0, ErrUnavailable
}
