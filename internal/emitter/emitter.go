// Package emitter fans each tick's MetricSnapshot out to log sinks and
// pushes one point per chart series on a logical time axis.
package emitter

import (
	"sync"

	"go.uber.org/zap"

	"github.com/vitalis-app/selector/internal/models"
)

// Chart series identifiers.
const (
	SeriesBattery           = "battery"
	SeriesCPU               = "cpu"
	SeriesPower             = "power"
	SeriesConfidence        = "confidence"
	SeriesAverageConfidence = "average_confidence"
	SeriesAccuracy          = "accuracy"
)

// Series lists every series in push order.
var Series = []string{
	SeriesBattery,
	SeriesCPU,
	SeriesPower,
	SeriesConfidence,
	SeriesAverageConfidence,
	SeriesAccuracy,
}

// LogSink accepts one snapshot per tick.
type LogSink interface {
	Write(models.MetricSnapshot) error
}

// ChartSink accepts points for named series.
type ChartSink interface {
	Push(series string, x, y float64)
}

// Emitter owns the logical X axis. X advances by one per Emit regardless
// of wall-clock gaps between ticks.
type Emitter struct {
	logs   []LogSink
	charts []ChartSink
	logger *zap.Logger

	mu sync.Mutex
	x  float64
}

// New creates an emitter.
func New(logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{logger: logger}
}

// AddLogSink registers a log sink.
func (e *Emitter) AddLogSink(s LogSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logs = append(e.logs, s)
}

// AddChartSink registers a chart sink.
func (e *Emitter) AddChartSink(s ChartSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.charts = append(e.charts, s)
}

// Emit stamps snap with the next tick, writes it to every log sink and
// pushes its series to every chart sink. Sink failures are logged only.
func (e *Emitter) Emit(snap models.MetricSnapshot) models.MetricSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.x++
	snap.Tick = uint64(e.x)

	for _, s := range e.logs {
		if err := s.Write(snap); err != nil {
			e.logger.Warn("Log sink write failed",
				zap.Uint64("tick", snap.Tick),
				zap.Error(err))
		}
	}

	points := [...]float64{
		float64(snap.BatteryPercent),
		snap.CPUPercent,
		snap.PowerWatts,
		snap.InstantaneousConfidence,
		snap.RunningAverageConfidence,
		snap.ProxyAccuracy(),
	}
	for _, c := range e.charts {
		for i, id := range Series {
			c.Push(id, e.x, points[i])
		}
	}

	return snap
}

// X returns the current position of the logical time axis.
func (e *Emitter) X() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.x
}
