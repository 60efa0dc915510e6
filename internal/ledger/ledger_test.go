package ledger

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalis-app/selector/internal/errors"
	"github.com/vitalis-app/selector/internal/models"
)

var (
	start    = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	variants = []models.Variant{"efficientdet-lite2", "mobilenet-v1"}
)

func observe(t *testing.T, l *Ledger, a Aggregator, v models.Variant, at time.Time, conf ...float64) Stats {
	t.Helper()
	cur, ok := l.Stats(v)
	require.True(t, ok)
	st, err := l.Apply(v, a.Aggregate(cur, Observation{Confidences: conf, CompletedAt: at}))
	require.NoError(t, err)
	return st
}

func TestNew_NeutralEntries(t *testing.T) {
	l := New(variants, 4, start)
	assert.Equal(t, variants, l.Variants())

	for _, v := range variants {
		st, ok := l.Stats(v)
		require.True(t, ok)
		assert.Zero(t, st.RunningAverage)
		assert.Zero(t, st.TotalPredictions)
		assert.Equal(t, start, st.LastUsed)
		assert.Equal(t, time.Minute, st.TimeSinceLastUse(start.Add(time.Minute)))
	}
}

func TestWindowedAverage(t *testing.T) {
	const w = 4
	l := New(variants, w, start)
	a := NewAggregator(0.5)
	v := variants[0]

	values := []float64{0.2, 0.4, 0.6, 0.8}
	var st Stats
	for i, c := range values {
		st = observe(t, l, a, v, start.Add(time.Duration(i)*time.Second), c)
	}
	assert.InDelta(t, 0.5, st.RunningAverage, 1e-12)
	assert.Equal(t, w, st.Observations)

	// The fifth value evicts 0.2.
	st = observe(t, l, a, v, start.Add(5*time.Second), 1.0)
	assert.InDelta(t, (0.4+0.6+0.8+1.0)/4, st.RunningAverage, 1e-12)
	assert.Equal(t, w, st.Observations)
}

func TestEmptyResultLeavesConfidenceAndCounters(t *testing.T) {
	l := New(variants, 8, start)
	a := NewAggregator(0.5)
	v := variants[1]

	before := observe(t, l, a, v, start.Add(time.Second), 0.7, 0.9)
	require.EqualValues(t, 1, before.TotalPredictions)

	cur, _ := l.Stats(v)
	u := a.Aggregate(cur, Observation{CompletedAt: start.Add(2 * time.Second)})
	assert.False(t, u.Evidence)
	assert.InDelta(t, before.LastConfidence, u.Instantaneous, 1e-12)

	after, err := l.Apply(v, u)
	require.NoError(t, err)
	assert.Equal(t, before.TotalPredictions, after.TotalPredictions)
	assert.Equal(t, before.LastConfidence, after.LastConfidence)
	assert.Equal(t, before.RunningAverage, after.RunningAverage)
	assert.Equal(t, start.Add(2*time.Second), after.LastUsed)
}

func TestInstantaneousIsMean(t *testing.T) {
	a := NewAggregator(0.5)
	u := a.Aggregate(Stats{}, Observation{Confidences: []float64{0.1, 0.5, 0.6}})
	assert.InDelta(t, 0.4, u.Instantaneous, 1e-12)
	assert.True(t, u.Evidence)
	assert.False(t, u.Correct)

	u = a.Aggregate(Stats{}, Observation{Confidences: []float64{0.7, 0.9}})
	assert.True(t, u.Correct)
}

func TestFailureMarksUseOnly(t *testing.T) {
	l := New(variants, 8, start)
	a := NewAggregator(0.3)
	v := variants[0]
	observe(t, l, a, v, start.Add(time.Second), 0.9)

	cur, _ := l.Stats(v)
	u := a.Aggregate(cur, Observation{Err: errors.New("model unavailable"), CompletedAt: start.Add(3 * time.Second)})
	assert.True(t, u.Failed)
	assert.Zero(t, u.Instantaneous)

	st, err := l.Apply(v, u)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.TotalPredictions)
	assert.EqualValues(t, 1, st.Failures)
	assert.Equal(t, 0.9, st.LastConfidence)
	assert.Equal(t, start.Add(3*time.Second), st.LastUsed)
}

func TestApplyUnknownVariant(t *testing.T) {
	l := New(variants, 8, start)
	_, err := l.Apply("yolo", Update{Evidence: true})
	assert.True(t, errors.Is(err, ErrUnknownVariant))
	assert.Len(t, l.Snapshot(), len(variants), "ledger never gains keys")
}

func TestLateResultDoesNotRewindLastUsed(t *testing.T) {
	l := New(variants, 8, start)
	a := NewAggregator(0.5)
	v := variants[0]
	observe(t, l, a, v, start.Add(5*time.Second), 0.6)
	st := observe(t, l, a, v, start.Add(2*time.Second), 0.6)
	assert.Equal(t, start.Add(5*time.Second), st.LastUsed)
}

func TestCorrectNeverExceedsTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	l := New(variants, 5, start)
	a := NewAggregator(0.5)

	for i := 0; i < 2000; i++ {
		v := variants[rng.Intn(len(variants))]
		cur, _ := l.Stats(v)
		obs := Observation{CompletedAt: start.Add(time.Duration(i) * time.Millisecond)}
		switch rng.Intn(4) {
		case 0:
			obs.Err = errors.New("boom")
		case 1:
			// empty
		default:
			n := 1 + rng.Intn(5)
			for j := 0; j < n; j++ {
				obs.Confidences = append(obs.Confidences, rng.Float64())
			}
		}
		_, err := l.Apply(v, a.Aggregate(cur, obs))
		require.NoError(t, err)

		for _, st := range l.Snapshot() {
			require.LessOrEqual(t, st.CorrectPredictions, st.TotalPredictions)
			require.GreaterOrEqual(t, st.RunningAverage, 0.0)
			require.LessOrEqual(t, st.RunningAverage, 1.0)
		}
	}

	total, correct := l.Totals()
	assert.LessOrEqual(t, correct, total)
}

func TestApply_WindowEvictsOldest(t *testing.T) {
	l := New(variants, 2, start)
	a := NewAggregator(0.5)
	v := variants[0]

	observe(t, l, a, v, start.Add(1*time.Second), 0.8)
	observe(t, l, a, v, start.Add(2*time.Second), 0.2, 0.4)
	got := observe(t, l, a, v, start.Add(3*time.Second), 0.9)

	want := Stats{
		Variant:            v,
		LastUsed:           start.Add(3 * time.Second),
		RunningAverage:     0.6,
		LastConfidence:     0.9,
		TotalPredictions:   3,
		CorrectPredictions: 2,
		Observations:       2,
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}
