package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalis-app/selector/internal/platform"
)

// scripted returns successive values; an error entry simulates a failed read.
type scripted struct {
	name      string
	values    []float64
	errs      []error
	available bool
	calls     int
}

func (s *scripted) Name() string      { return s.name }
func (s *scripted) IsAvailable() bool { return s.available }
func (s *scripted) Collect(context.Context) (float64, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return 0, s.errs[i]
	}
	return s.values[i], nil
}

type fakePlatform struct {
	battery    int
	batteryErr error
	watts      float64
	wattsErr   error
}

func (f *fakePlatform) Name() string                     { return "fake" }
func (f *fakePlatform) BatteryPercent() (int, error)     { return f.battery, f.batteryErr }
func (f *fakePlatform) PowerDrawWatts() (float64, error) { return f.watts, f.wattsErr }

type fixedCPU float64

func (f fixedCPU) Last() float64 { return float64(f) }

func TestSampler_UsesLastKnownOnFailure(t *testing.T) {
	battery := &scripted{
		name:      SignalBattery,
		values:    []float64{80, 0, 78},
		errs:      []error{nil, ErrTelemetryUnavailable, nil},
		available: true,
	}
	cpuSig := &scripted{name: SignalCPU, values: []float64{20, 35, 40}, available: true}

	s := NewSampler(time.Second, nil)
	s.Register(cpuSig)
	s.Register(battery)

	first := s.Sample(context.Background())
	assert.Equal(t, 80, first.BatteryPercent)
	assert.Equal(t, 20.0, first.CPUPercent)

	second := s.Sample(context.Background())
	assert.Equal(t, 80, second.BatteryPercent, "failed battery read keeps the stale value")
	assert.Equal(t, 35.0, second.CPUPercent)

	third := s.Sample(context.Background())
	assert.Equal(t, 78, third.BatteryPercent)
}

func TestSampler_AssumesFullBatteryBeforeFirstReading(t *testing.T) {
	s := NewSampler(0, nil)
	sample := s.Sample(context.Background())
	assert.Equal(t, 100, sample.BatteryPercent)
	assert.False(t, sample.Timestamp.IsZero())
}

func TestSampler_SkipsUnavailableCollectors(t *testing.T) {
	s := NewSampler(0, nil)
	s.Register(&scripted{name: SignalCPU, available: false})
	assert.Empty(t, s.Collectors())
}

func TestBatteryCollector_Availability(t *testing.T) {
	ok := NewBatteryCollector(&fakePlatform{battery: 55})
	assert.True(t, ok.IsAvailable())
	v, err := ok.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 55.0, v)

	missing := NewBatteryCollector(&fakePlatform{batteryErr: platform.ErrUnavailable})
	assert.False(t, missing.IsAvailable())
}

func TestPowerCollector_PrefersPlatform(t *testing.T) {
	c := NewPowerCollector(&fakePlatform{watts: 3.5}, fixedCPU(90), 0.5, 1, nil)
	v, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3.5, v)
}

func TestPowerCollector_EstimatesFromCPU(t *testing.T) {
	c := NewPowerCollector(&fakePlatform{wattsErr: platform.ErrUnavailable}, fixedCPU(50), 0.5, 1, nil)
	v, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, EstimatePower(0.5, 1, c.cores, 50), v, 1e-9)
}

func TestEstimatePower(t *testing.T) {
	tests := []struct {
		name string
		cpu  float64
		want float64
	}{
		{"idle", 0, 0.5},
		{"half", 50, 0.5 + 0.5*0.6*4},
		{"full", 100, 0.5 + 0.6*4},
		{"clamped above", 150, 0.5 + 0.6*4},
		{"clamped below", -5, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, EstimatePower(0.5, 0.6, 4, tt.cpu), 1e-9)
		})
	}
}
