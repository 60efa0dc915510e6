// Package selector runs the adaptive inference control loop: sample
// telemetry, pick a variant, run it on a worker, fold the result into the
// ledger and emit a snapshot.
package selector

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vitalis-app/selector/internal/config"
	"github.com/vitalis-app/selector/internal/emitter"
	"github.com/vitalis-app/selector/internal/errors"
	"github.com/vitalis-app/selector/internal/inference"
	"github.com/vitalis-app/selector/internal/ledger"
	"github.com/vitalis-app/selector/internal/models"
	"github.com/vitalis-app/selector/internal/policy"
)

// ErrFrameDropped is returned by Submit when max in-flight inferences are
// outstanding. The decision for the tick is still made and returned.
var ErrFrameDropped = errors.New("frame dropped: too many inferences in flight")

// Sampler produces telemetry. It must not fail; stale values are acceptable.
type Sampler interface {
	Sample(ctx context.Context) models.TelemetrySample
}

// Options configures a Controller.
type Options struct {
	Catalog             models.Catalog
	Window              int
	AcceptanceThreshold float64
	Policy              policy.Config
	MaxInFlight         int

	// InitialVariant seeds the incumbent before the first tick. Defaults
	// to the cheapest variant.
	InitialVariant models.Variant
	RunID          string
	Clock          func() time.Time
}

// OptionsFromConfig maps the selector section of cfg onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	s := cfg.Selector
	return Options{
		Catalog:             cfg.Catalog(),
		Window:              s.Window,
		AcceptanceThreshold: s.AcceptanceThreshold,
		Policy: policy.Config{
			ConfidenceWeight: s.ConfidenceWeight,
			PowerWeight:      s.PowerWeight,
			SwitchMargin:     s.SwitchMargin,
			MinDwell:         s.MinDwell.Duration,
		},
		MaxInFlight: s.MaxInFlight,
	}
}

// Controller owns the ledger and the incumbent decision. All mutation
// happens under mu; inference runs outside it.
type Controller struct {
	opts       Options
	sampler    Sampler
	engine     inference.Engine
	emitter    *emitter.Emitter
	policy     *policy.Policy
	aggregator ledger.Aggregator
	logger     *zap.Logger

	mu        sync.Mutex
	ledger    *ledger.Ledger
	incumbent policy.Incumbent
	inFlight  int
	dropped   uint64
	failures  uint64

	wg       sync.WaitGroup
	dropLog  rate.Sometimes
	errorLog rate.Sometimes
}

// New creates a controller. em may be nil when no sinks are needed.
func New(opts Options, sampler Sampler, engine inference.Engine, em *emitter.Emitter, logger *zap.Logger) (*Controller, error) {
	if len(opts.Catalog) == 0 {
		return nil, errors.New("catalog is empty")
	}
	if sampler == nil || engine == nil {
		return nil, errors.New("sampler and engine are required")
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 1
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.InitialVariant == "" {
		opts.InitialVariant = opts.Catalog.Cheapest().Name
	} else if _, ok := opts.Catalog.Lookup(opts.InitialVariant); !ok {
		return nil, errors.Wrapf(ledger.ErrUnknownVariant, "initial variant %s", opts.InitialVariant)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if em == nil {
		em = emitter.New(logger)
	}

	return &Controller{
		opts:       opts,
		sampler:    sampler,
		engine:     engine,
		emitter:    em,
		policy:     policy.New(opts.Policy),
		aggregator: ledger.NewAggregator(opts.AcceptanceThreshold),
		logger:     logger.Named("selector").With(zap.String("run_id", opts.RunID)),
		ledger:     ledger.New(opts.Catalog.Names(), opts.Window, opts.Clock()),
		incumbent:  policy.Incumbent{Variant: opts.InitialVariant},
		dropLog:    rate.Sometimes{First: 3, Interval: 10 * time.Second},
		errorLog:   rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}, nil
}

// RunID identifies this controller's snapshots.
func (c *Controller) RunID() string { return c.opts.RunID }

// Submit runs one tick for frame. It always returns the tick's decision;
// the error is ErrFrameDropped when backpressure rejected the frame. Every
// tick emits exactly one snapshot: dropped ticks immediately, accepted ones
// when their inference completes.
func (c *Controller) Submit(ctx context.Context, frame inference.Frame) (models.Decision, error) {
	sample := c.sampler.Sample(ctx)
	now := c.opts.Clock()

	c.mu.Lock()
	d := c.policy.Decide(policy.Input{
		Sample:    sample,
		Catalog:   c.opts.Catalog,
		Ledger:    c.ledger.Snapshot(),
		Incumbent: c.incumbent,
		Now:       now,
	})
	if d.Variant != c.incumbent.Variant || c.incumbent.ActiveSince.IsZero() {
		if d.Variant != c.incumbent.Variant {
			c.logger.Info("Switching variant",
				zap.String("from", c.incumbent.Variant.String()),
				zap.String("to", d.Variant.String()),
				zap.String("reason", string(d.Reason)),
				zap.Int("battery", sample.BatteryPercent),
				zap.Float64("cpu", sample.CPUPercent))
		}
		c.incumbent = policy.Incumbent{Variant: d.Variant, ActiveSince: now}
	}

	if c.inFlight >= c.opts.MaxInFlight {
		c.dropped++
		dropped := c.dropped
		st, _ := c.ledger.Stats(d.Variant)
		c.emitLocked(sample, d, st, models.MetricSnapshot{
			InstantaneousConfidence: st.LastConfidence,
			Dropped:                 true,
		})
		c.mu.Unlock()
		c.dropLog.Do(func() {
			c.logger.Warn("Dropping frame, inference backlog full",
				zap.Uint64("frame", frame.ID),
				zap.Int("max_in_flight", c.opts.MaxInFlight),
				zap.Uint64("dropped_total", dropped))
		})
		return d, ErrFrameDropped
	}
	c.inFlight++
	c.wg.Add(1)
	c.mu.Unlock()

	// Results of accepted frames are folded in even after the caller gives up.
	go c.run(context.WithoutCancel(ctx), frame, sample, d)
	return d, nil
}

// run performs inference for one accepted frame.
func (c *Controller) run(ctx context.Context, frame inference.Frame, sample models.TelemetrySample, d models.Decision) {
	defer c.wg.Done()

	started := c.opts.Clock()
	res, err := c.engine.Infer(ctx, d.Variant, frame)
	if err == nil && res.Elapsed == 0 {
		res.Elapsed = c.opts.Clock().Sub(started)
	}
	c.complete(frame, sample, d, res, err)
}

// complete applies a finished inference to the entry of the variant that
// produced it and emits the tick's snapshot.
func (c *Controller) complete(frame inference.Frame, sample models.TelemetrySample, d models.Decision, res inference.Result, inferErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight--

	if inferErr != nil {
		c.failures++
		c.errorLog.Do(func() {
			c.logger.Warn("Inference failed",
				zap.String("variant", d.Variant.String()),
				zap.Uint64("frame", frame.ID),
				zap.Error(inferErr))
		})
	}

	cur, _ := c.ledger.Stats(d.Variant)
	u := c.aggregator.Aggregate(cur, ledger.Observation{
		Confidences: res.Confidences(),
		Elapsed:     res.Elapsed,
		Err:         inferErr,
		CompletedAt: c.opts.Clock(),
	})
	st, err := c.ledger.Apply(d.Variant, u)
	if err != nil {
		c.logger.Error("Ledger update rejected", zap.Error(err))
		return
	}

	snap := c.emitLocked(sample, d, st, models.MetricSnapshot{
		InstantaneousConfidence: u.Instantaneous,
		InferenceTime:           res.Elapsed,
		Failed:                  u.Failed,
	})

	c.logger.Debug("Tick complete",
		zap.Uint64("tick", snap.Tick),
		zap.String("variant", d.Variant.String()),
		zap.Float64("confidence", u.Instantaneous),
		zap.Float64("average", st.RunningAverage),
		zap.Duration("elapsed", res.Elapsed))
}

// emitLocked fills snap from the tick's sample, decision and ledger state
// and hands it to the emitter. c.mu must be held so ticks leave in order.
func (c *Controller) emitLocked(sample models.TelemetrySample, d models.Decision, st ledger.Stats, snap models.MetricSnapshot) models.MetricSnapshot {
	total, correct := c.ledger.Totals()
	snap.RunID = c.opts.RunID
	snap.Timestamp = sample.Timestamp
	snap.BatteryPercent = sample.BatteryPercent
	snap.CPUPercent = sample.CPUPercent
	snap.PowerWatts = sample.PowerWatts
	snap.SelectedModel = d.Variant
	snap.Reason = d.Reason
	snap.RunningAverageConfidence = st.RunningAverage
	snap.TotalPredictions = total
	snap.CorrectPredictions = correct
	return c.emitter.Emit(snap)
}

// Wait blocks until every accepted inference has completed.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Stats returns a copy of the ledger.
func (c *Controller) Stats() map[models.Variant]ledger.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.Snapshot()
}

// Incumbent returns the most recently decided variant.
func (c *Controller) Incumbent() policy.Incumbent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.incumbent
}

// Counters reports frames dropped by backpressure, inference failures and
// inferences currently running.
func (c *Controller) Counters() (dropped, failures uint64, inFlight int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped, c.failures, c.inFlight
}
