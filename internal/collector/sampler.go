package collector

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitalis-app/selector/internal/models"
)

// assumedBattery is reported until a battery reading succeeds. Hosts
// without a battery are treated as mains powered.
const assumedBattery = 100.0

// Sampler runs registered collectors and assembles a TelemetrySample.
// A collector that fails contributes its last known value instead, so a
// sample is always produced.
type Sampler struct {
	collectors []Collector
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time

	mu   sync.Mutex
	last map[string]float64
}

// NewSampler creates a sampler whose Sample call is bounded by timeout.
func NewSampler(timeout time.Duration, logger *zap.Logger) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{
		collectors: make([]Collector, 0),
		timeout:    timeout,
		logger:     logger,
		now:        time.Now,
		last: map[string]float64{
			SignalBattery: assumedBattery,
		},
	}
}

// Register adds a collector if it's available on the current platform.
// Collectors run in registration order.
func (s *Sampler) Register(c Collector) {
	if c.IsAvailable() {
		s.collectors = append(s.collectors, c)
		s.logger.Info("Registered collector", zap.String("name", c.Name()))
	} else {
		s.logger.Warn("Collector not available, skipping", zap.String("name", c.Name()))
	}
}

// Collectors returns a copy of all registered collectors.
func (s *Sampler) Collectors() []Collector {
	result := make([]Collector, len(s.collectors))
	copy(result, s.collectors)
	return result
}

// Sample reads every collector and never fails.
func (s *Sampler) Sample(ctx context.Context) models.TelemetrySample {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.collectors {
		v, err := c.Collect(ctx)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			s.logger.Debug("Telemetry unavailable, using last known value",
				zap.String("collector", c.Name()),
				zap.Float64("last", s.last[c.Name()]),
				zap.Error(err))
			continue
		}
		s.last[c.Name()] = v
	}

	return models.TelemetrySample{
		BatteryPercent: clampBattery(s.last[SignalBattery]),
		CPUPercent:     math.Max(0, s.last[SignalCPU]),
		PowerWatts:     math.Max(0, s.last[SignalPower]),
		Timestamp:      s.now(),
	}
}

func clampBattery(v float64) int {
	pct := int(math.Round(v))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
