package policy

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalis-app/selector/internal/ledger"
	"github.com/vitalis-app/selector/internal/models"
)

const (
	lite2  models.Variant = "efficientdet-lite2"
	lite1  models.Variant = "efficientdet-lite1"
	lite0  models.Variant = "efficientdet-lite0"
	mobile models.Variant = "mobilenet-v1"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func defaultPolicy() *Policy {
	return New(Config{
		ConfidenceWeight: 1.0,
		PowerWeight:      0.05,
		SwitchMargin:     0.05,
		MinDwell:         2 * time.Second,
	})
}

func emptyLedger(c models.Catalog) map[models.Variant]ledger.Stats {
	return ledger.New(c.Names(), 30, now.Add(-time.Minute)).Snapshot()
}

func sample(battery int, cpu float64) models.TelemetrySample {
	return models.TelemetrySample{BatteryPercent: battery, CPUPercent: cpu, PowerWatts: 2, Timestamp: now}
}

func TestDecide_FirstTickPicksHighestConfidenceFeasible(t *testing.T) {
	catalog := models.DefaultCatalog()
	d := defaultPolicy().Decide(Input{
		Sample:    sample(80, 20),
		Catalog:   catalog,
		Ledger:    emptyLedger(catalog),
		Incumbent: Incumbent{Variant: mobile},
		Now:       now,
	})
	assert.Equal(t, lite2, d.Variant)
	assert.Equal(t, models.ReasonBestScore, d.Reason)
}

func TestDecide_BatteryDropOverridesDwell(t *testing.T) {
	p := defaultPolicy()
	catalog := models.DefaultCatalog()
	stats := emptyLedger(catalog)
	inc := Incumbent{Variant: lite1, ActiveSince: now.Add(-100 * time.Millisecond)}

	d := p.Decide(Input{Sample: sample(50, 20), Catalog: catalog, Ledger: stats, Incumbent: inc, Now: now})
	require.Equal(t, lite1, d.Variant, "dwell keeps the incumbent while it is feasible")
	assert.Equal(t, models.ReasonDwell, d.Reason)

	d = p.Decide(Input{Sample: sample(14, 20), Catalog: catalog, Ledger: stats, Incumbent: inc, Now: now.Add(50 * time.Millisecond)})
	assert.Equal(t, mobile, d.Variant)
	assert.Equal(t, models.ReasonIncumbentInfeasible, d.Reason)
	spec, _ := catalog.Lookup(d.Variant)
	inc1, _ := catalog.Lookup(lite1)
	assert.Less(t, spec.PowerWatts, inc1.PowerWatts)
}

func TestDecide_FallbackWhenNothingFeasible(t *testing.T) {
	catalog := models.DefaultCatalog()
	for _, battery := range []int{0, 1, 4} {
		d := defaultPolicy().Decide(Input{
			Sample:    sample(battery, 10),
			Catalog:   catalog,
			Ledger:    emptyLedger(catalog),
			Incumbent: Incumbent{Variant: lite2, ActiveSince: now.Add(-time.Second)},
			Now:       now,
		})
		assert.Equal(t, mobile, d.Variant)
		assert.Equal(t, models.ReasonFallback, d.Reason)
	}
}

func TestDecide_FallbackOnCPUSaturation(t *testing.T) {
	catalog := models.Catalog{
		{Name: "big", PowerWatts: 4, MaxCPUPercent: 50, MinBatteryPercent: 0, PriorConfidence: 0.9},
		{Name: "small", PowerWatts: 1, MaxCPUPercent: 60, MinBatteryPercent: 0, PriorConfidence: 0.3},
	}
	d := defaultPolicy().Decide(Input{Sample: sample(90, 99), Catalog: catalog, Now: now})
	assert.Equal(t, models.Variant("small"), d.Variant)
	assert.Equal(t, models.ReasonFallback, d.Reason)
}

func TestDecide_HysteresisHoldsWithinMargin(t *testing.T) {
	catalog := models.DefaultCatalog()
	stats := emptyLedger(catalog)
	// lite1: 0.60-0.11 = 0.49, lite2: 0.62-0.15 = 0.47
	stats[lite1] = ledger.Stats{Variant: lite1, RunningAverage: 0.60, Observations: 10, LastUsed: now.Add(-time.Minute)}
	stats[lite2] = ledger.Stats{Variant: lite2, RunningAverage: 0.62, Observations: 10, LastUsed: now}

	d := defaultPolicy().Decide(Input{
		Sample:    sample(90, 10),
		Catalog:   catalog,
		Ledger:    stats,
		Incumbent: Incumbent{Variant: lite2, ActiveSince: now.Add(-time.Hour)},
		Now:       now,
	})
	assert.Equal(t, lite2, d.Variant)
	assert.Equal(t, models.ReasonHysteresis, d.Reason)
}

func TestDecide_SwitchesAfterDwellWhenMarginCleared(t *testing.T) {
	catalog := models.DefaultCatalog()
	stats := emptyLedger(catalog)
	stats[lite1] = ledger.Stats{Variant: lite1, RunningAverage: 0.80, Observations: 10}
	stats[lite2] = ledger.Stats{Variant: lite2, RunningAverage: 0.40, Observations: 10}
	p := defaultPolicy()

	in := Input{
		Sample:    sample(90, 10),
		Catalog:   catalog,
		Ledger:    stats,
		Incumbent: Incumbent{Variant: lite2, ActiveSince: now.Add(-time.Second)},
		Now:       now,
	}
	assert.Equal(t, models.ReasonDwell, p.Decide(in).Reason)

	in.Now = now.Add(time.Second)
	d := p.Decide(in)
	assert.Equal(t, lite1, d.Variant)
	assert.Equal(t, models.ReasonBestScore, d.Reason)
}

func TestDecide_NeverSwitchesBelowMargin(t *testing.T) {
	catalog := models.Catalog{
		{Name: "a", PowerWatts: 1, MaxCPUPercent: 100, PriorConfidence: 0.5},
		{Name: "b", PowerWatts: 1, MaxCPUPercent: 100, PriorConfidence: 0.5},
	}
	p := defaultPolicy()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		base := 0.2 + rng.Float64()*0.6
		delta := (rng.Float64()*2 - 1) * 0.0499
		stats := map[models.Variant]ledger.Stats{
			"a": {Variant: "a", RunningAverage: base, Observations: 1},
			"b": {Variant: "b", RunningAverage: base + delta, Observations: 1},
		}
		d := p.Decide(Input{
			Sample:    sample(50, 10),
			Catalog:   catalog,
			Ledger:    stats,
			Incumbent: Incumbent{Variant: "a", ActiveSince: now.Add(-time.Hour)},
			Now:       now,
		})
		require.Equal(t, models.Variant("a"), d.Variant, "delta %v", delta)
	}
}

func TestDecide_TieBrokenByLongestUnused(t *testing.T) {
	catalog := models.Catalog{
		{Name: "a", PowerWatts: 1, MaxCPUPercent: 100, PriorConfidence: 0.5},
		{Name: "b", PowerWatts: 1, MaxCPUPercent: 100, PriorConfidence: 0.5},
	}
	stats := map[models.Variant]ledger.Stats{
		"a": {Variant: "a", LastUsed: now.Add(-time.Second)},
		"b": {Variant: "b", LastUsed: now.Add(-10 * time.Second)},
	}
	d := defaultPolicy().Decide(Input{Sample: sample(50, 10), Catalog: catalog, Ledger: stats, Now: now})
	assert.Equal(t, models.Variant("b"), d.Variant)

	stats["a"] = ledger.Stats{Variant: "a", LastUsed: now.Add(-10 * time.Second)}
	d = defaultPolicy().Decide(Input{Sample: sample(50, 10), Catalog: catalog, Ledger: stats, Now: now})
	assert.Equal(t, models.Variant("a"), d.Variant, "full tie falls back to catalog order")
}

func TestScore_UsesPriorUntilObserved(t *testing.T) {
	p := defaultPolicy()
	spec := models.VariantSpec{Name: "x", PowerWatts: 2, PriorConfidence: 0.4}
	assert.InDelta(t, 0.3, p.Score(spec, ledger.Stats{}), 1e-12)
	assert.InDelta(t, 0.8, p.Score(spec, ledger.Stats{RunningAverage: 0.9, Observations: 3}), 1e-12)
}
