package ledger

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Observation is one inference outcome for a variant.
type Observation struct {
	Confidences []float64
	Elapsed     time.Duration
	Err         error
	CompletedAt time.Time
}

// Update is what the Aggregator derives from an Observation. The ledger
// applies it; the aggregator never touches an Entry.
type Update struct {
	// Instantaneous is the mean confidence of the result, the previous
	// value when the result was empty, or 0 when inference failed.
	Instantaneous float64
	Evidence      bool
	Correct       bool
	Failed        bool
	Elapsed       time.Duration
	At            time.Time
}

// Aggregator turns detection results into ledger updates.
type Aggregator struct {
	threshold float64
}

// NewAggregator creates an aggregator. A result counts as correct when its
// mean confidence strictly exceeds threshold.
func NewAggregator(threshold float64) Aggregator {
	return Aggregator{threshold: threshold}
}

// Aggregate computes the update for obs given the variant's current stats.
func (a Aggregator) Aggregate(current Stats, obs Observation) Update {
	u := Update{
		Elapsed: obs.Elapsed,
		At:      obs.CompletedAt,
	}

	if obs.Err != nil {
		u.Failed = true
		return u
	}

	// No detections is no evidence, not a wrong answer.
	if len(obs.Confidences) == 0 {
		u.Instantaneous = current.LastConfidence
		return u
	}

	u.Instantaneous = clamp01(stat.Mean(obs.Confidences, nil))
	u.Evidence = true
	u.Correct = u.Instantaneous > a.threshold
	return u
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
