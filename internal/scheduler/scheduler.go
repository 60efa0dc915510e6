// Package scheduler drives the selector with synthetic camera frames at a
// fixed interval. A second, slower ticker runs housekeeping such as
// replaying spooled remote batches.
package scheduler

import (
	"context"
	"image"
	"image/color"
	"time"

	"go.uber.org/zap"

	"github.com/vitalis-app/selector/internal/inference"
	"github.com/vitalis-app/selector/internal/models"
)

// Submitter accepts frames. A non-nil error means the frame was dropped.
type Submitter interface {
	Submit(ctx context.Context, frame inference.Frame) (models.Decision, error)
}

// Stats summarises one Start call.
type Stats struct {
	Submitted uint64
	Dropped   uint64
	Switches  uint64
}

// Scheduler manages periodic frame submission.
type Scheduler struct {
	submitter Submitter
	interval  time.Duration
	frames    int
	logger    *zap.Logger

	housekeeping         func()
	housekeepingInterval time.Duration

	now func() time.Time
}

// New creates a Scheduler. frames <= 0 runs until ctx is cancelled.
func New(sub Submitter, interval time.Duration, frames int, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		submitter: sub,
		interval:  interval,
		frames:    frames,
		logger:    logger.Named("scheduler"),
		now:       time.Now,
	}
}

// OnHousekeeping registers fn to run every interval while frames flow.
func (s *Scheduler) OnHousekeeping(interval time.Duration, fn func()) {
	s.housekeeping = fn
	s.housekeepingInterval = interval
}

// Start submits frames until ctx is cancelled or the frame budget is spent.
// The first frame goes out immediately.
func (s *Scheduler) Start(ctx context.Context) Stats {
	frameTicker := time.NewTicker(s.interval)
	defer frameTicker.Stop()

	var houseC <-chan time.Time
	if s.housekeeping != nil && s.housekeepingInterval > 0 {
		houseTicker := time.NewTicker(s.housekeepingInterval)
		defer houseTicker.Stop()
		houseC = houseTicker.C
	}

	var (
		stats Stats
		last  models.Variant
		id    uint64
	)
	submit := func() bool {
		id++
		d, err := s.submitter.Submit(ctx, s.frame(id))
		stats.Submitted++
		if err != nil {
			stats.Dropped++
		}
		if last != "" && d.Variant != last {
			stats.Switches++
		}
		last = d.Variant
		s.logger.Debug("Submitted frame",
			zap.Uint64("frame", id),
			zap.String("variant", d.Variant.String()),
			zap.String("reason", string(d.Reason)))
		return s.frames <= 0 || int(id) < s.frames
	}

	if !submit() {
		return s.finish(stats)
	}
	for {
		select {
		case <-ctx.Done():
			return s.finish(stats)
		case <-frameTicker.C:
			if !submit() {
				return s.finish(stats)
			}
		case <-houseC:
			s.housekeeping()
		}
	}
}

func (s *Scheduler) finish(stats Stats) Stats {
	s.logger.Info("Frame loop stopped",
		zap.Uint64("submitted", stats.Submitted),
		zap.Uint64("dropped", stats.Dropped),
		zap.Uint64("switches", stats.Switches))
	return stats
}

// frame builds a small synthetic grayscale frame.
func (s *Scheduler) frame(id uint64) inference.Frame {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	shade := uint8(id % 256)
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	img.SetGray(0, 0, color.Gray{Y: ^shade})
	return inference.Frame{ID: id, Image: img, Timestamp: s.now()}
}
