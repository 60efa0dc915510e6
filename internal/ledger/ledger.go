// Package ledger keeps per-variant performance statistics: a bounded window
// of instantaneous confidences, the running average derived from it, and
// proxy accuracy counters.
//
// A Ledger is not safe for concurrent use. The selector's control loop is
// its only writer and serializes access.
package ledger

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/vitalis-app/selector/internal/errors"
	"github.com/vitalis-app/selector/internal/models"
)

// ErrUnknownVariant is returned for a variant that was not in the catalog
// the ledger was built from.
var ErrUnknownVariant = errors.New("unknown variant")

// Entry is the mutable record for one variant.
type Entry struct {
	lastUsed           time.Time
	runningAverage     float64
	lastConfidence     float64
	totalPredictions   uint64
	correctPredictions uint64
	failures           uint64
	lastInferenceTime  time.Duration

	// history is a ring of the last len(history) ≤ window confidences.
	history []float64
	next    int
	window  int
}

func newEntry(window int, created time.Time) *Entry {
	return &Entry{
		lastUsed: created,
		history:  make([]float64, 0, window),
		window:   window,
	}
}

// push records an instantaneous confidence and recomputes the average.
func (e *Entry) push(c float64) {
	if len(e.history) < e.window {
		e.history = append(e.history, c)
	} else {
		e.history[e.next] = c
	}
	e.next = (e.next + 1) % e.window
	e.runningAverage = stat.Mean(e.history, nil)
}

// Stats is a read-only copy of an Entry.
type Stats struct {
	Variant            models.Variant
	LastUsed           time.Time
	RunningAverage     float64
	LastConfidence     float64
	TotalPredictions   uint64
	CorrectPredictions uint64
	Failures           uint64
	LastInferenceTime  time.Duration
	Observations       int
}

// TimeSinceLastUse returns how long ago the variant last produced a result.
// Variants never used count from ledger construction.
func (s Stats) TimeSinceLastUse(now time.Time) time.Duration {
	return now.Sub(s.LastUsed)
}

// ProxyAccuracy is CorrectPredictions/TotalPredictions. "Correct" means
// the confidence cleared the acceptance threshold, not a labelled match.
func (s Stats) ProxyAccuracy() float64 {
	if s.TotalPredictions == 0 {
		return 0
	}
	return float64(s.CorrectPredictions) / float64(s.TotalPredictions)
}

// Ledger maps each catalog variant to its Entry. Keys are fixed at construction.
type Ledger struct {
	entries map[models.Variant]*Entry
	order   []models.Variant
}

// New creates a ledger with one neutral entry per variant.
func New(variants []models.Variant, window int, created time.Time) *Ledger {
	if window <= 0 {
		window = 1
	}
	l := &Ledger{
		entries: make(map[models.Variant]*Entry, len(variants)),
		order:   make([]models.Variant, 0, len(variants)),
	}
	for _, v := range variants {
		if _, dup := l.entries[v]; dup {
			continue
		}
		l.entries[v] = newEntry(window, created)
		l.order = append(l.order, v)
	}
	return l
}

// Apply folds an aggregator update into the variant's entry and returns
// the resulting stats.
func (l *Ledger) Apply(v models.Variant, u Update) (Stats, error) {
	e, ok := l.entries[v]
	if !ok {
		return Stats{}, errors.Wrapf(ErrUnknownVariant, "%s", v)
	}

	if u.At.After(e.lastUsed) {
		e.lastUsed = u.At
	}
	e.lastInferenceTime = u.Elapsed

	switch {
	case u.Failed:
		e.failures++
	case u.Evidence:
		e.push(u.Instantaneous)
		e.lastConfidence = u.Instantaneous
		e.totalPredictions++
		if u.Correct {
			e.correctPredictions++
		}
	}

	return e.stats(v), nil
}

// Stats returns a copy of one variant's entry.
func (l *Ledger) Stats(v models.Variant) (Stats, bool) {
	e, ok := l.entries[v]
	if !ok {
		return Stats{}, false
	}
	return e.stats(v), true
}

// Snapshot returns copies of every entry keyed by variant.
func (l *Ledger) Snapshot() map[models.Variant]Stats {
	out := make(map[models.Variant]Stats, len(l.entries))
	for v, e := range l.entries {
		out[v] = e.stats(v)
	}
	return out
}

// Variants returns the ledger keys in construction order.
func (l *Ledger) Variants() []models.Variant {
	out := make([]models.Variant, len(l.order))
	copy(out, l.order)
	return out
}

// Totals sums the accuracy counters across all variants.
func (l *Ledger) Totals() (total, correct uint64) {
	for _, e := range l.entries {
		total += e.totalPredictions
		correct += e.correctPredictions
	}
	return total, correct
}

func (e *Entry) stats(v models.Variant) Stats {
	return Stats{
		Variant:            v,
		LastUsed:           e.lastUsed,
		RunningAverage:     e.runningAverage,
		LastConfidence:     e.lastConfidence,
		TotalPredictions:   e.totalPredictions,
		CorrectPredictions: e.correctPredictions,
		Failures:           e.failures,
		LastInferenceTime:  e.lastInferenceTime,
		Observations:       len(e.history),
	}
}
