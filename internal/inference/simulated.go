package inference

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/vitalis-app/selector/internal/errors"
	"github.com/vitalis-app/selector/internal/models"
)

// Profile describes how a simulated variant behaves.
type Profile struct {
	MeanConfidence float64
	Spread         float64
	Latency        time.Duration
	MaxDetections  int
	FailureRate    float64
}

// DefaultProfiles approximates the TFLite detectors on a mid-range phone.
func DefaultProfiles() map[models.Variant]Profile {
	return map[models.Variant]Profile{
		"efficientdet-lite2": {MeanConfidence: 0.62, Spread: 0.15, Latency: 120 * time.Millisecond, MaxDetections: 6},
		"efficientdet-lite1": {MeanConfidence: 0.52, Spread: 0.15, Latency: 70 * time.Millisecond, MaxDetections: 5},
		"efficientdet-lite0": {MeanConfidence: 0.43, Spread: 0.15, Latency: 40 * time.Millisecond, MaxDetections: 5},
		"mobilenet-v1":       {MeanConfidence: 0.35, Spread: 0.20, Latency: 25 * time.Millisecond, MaxDetections: 4},
	}
}

// Simulated is an Engine that samples detections from per-variant profiles.
// It is deterministic for a given seed and call order.
type Simulated struct {
	profiles map[models.Variant]Profile
	sleep    bool

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated creates a simulated engine. When sleep is true Infer blocks
// for the profile latency.
func NewSimulated(profiles map[models.Variant]Profile, seed int64, sleep bool) *Simulated {
	return &Simulated{
		profiles: profiles,
		sleep:    sleep,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Infer returns a synthetic result for variant.
func (s *Simulated) Infer(ctx context.Context, variant models.Variant, frame Frame) (Result, error) {
	p, ok := s.profiles[variant]
	if !ok {
		return Result{}, errors.Wrapf(ErrModelUnavailable, "%s", variant)
	}

	s.mu.Lock()
	fail := s.rng.Float64() < p.FailureRate
	n := 0
	if p.MaxDetections > 0 {
		n = s.rng.Intn(p.MaxDetections + 1)
	}
	dets := make([]Detection, 0, n)
	for i := 0; i < n; i++ {
		c := p.MeanConfidence + (s.rng.Float64()*2-1)*p.Spread
		if c < 0 {
			c = 0
		}
		if c > 1 {
			c = 1
		}
		dets = append(dets, Detection{Label: "object", Confidence: c})
	}
	s.mu.Unlock()

	if s.sleep && p.Latency > 0 {
		timer := time.NewTimer(p.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}

	if fail {
		return Result{}, errors.Wrapf(ErrModelUnavailable, "%s: simulated delegate failure on frame %d", variant, frame.ID)
	}
	return Result{Detections: dets, Elapsed: p.Latency}, nil
}
