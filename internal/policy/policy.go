// Package policy decides which detection variant handles the next frame.
// Decide is a pure function of telemetry, ledger stats and the incumbent.
package policy

import (
	"math"
	"time"

	"github.com/vitalis-app/selector/internal/ledger"
	"github.com/vitalis-app/selector/internal/models"
)

// scoreEpsilon is the tolerance under which two scores are considered tied.
const scoreEpsilon = 1e-9

// Config holds the scoring weights and hysteresis settings.
type Config struct {
	ConfidenceWeight float64
	PowerWeight      float64
	SwitchMargin     float64
	MinDwell         time.Duration
}

// Incumbent is the variant chosen on the previous tick. A zero ActiveSince
// means no tick has been decided yet and hysteresis does not apply.
type Incumbent struct {
	Variant     models.Variant
	ActiveSince time.Time
}

// Input is everything one decision reads.
type Input struct {
	Sample    models.TelemetrySample
	Catalog   models.Catalog
	Ledger    map[models.Variant]ledger.Stats
	Incumbent Incumbent
	Now       time.Time
}

// Policy scores feasible variants and applies hysteresis.
type Policy struct {
	cfg Config
}

// New creates a policy.
func New(cfg Config) *Policy {
	return &Policy{cfg: cfg}
}

// Score rewards confidence and penalizes power draw. Variants without
// observations are scored on their prior confidence.
func (p *Policy) Score(spec models.VariantSpec, st ledger.Stats) float64 {
	conf := spec.PriorConfidence
	if st.Observations > 0 {
		conf = st.RunningAverage
	}
	return p.cfg.ConfidenceWeight*conf - p.cfg.PowerWeight*spec.PowerWatts
}

type candidate struct {
	spec  models.VariantSpec
	score float64
	idle  time.Duration
	index int
}

// better orders candidates by score, then longest unused, then catalog order.
func better(a, b candidate) bool {
	if math.Abs(a.score-b.score) > scoreEpsilon {
		return a.score > b.score
	}
	if a.idle != b.idle {
		return a.idle > b.idle
	}
	return a.index < b.index
}

// Decide returns the variant for the next frame. It never fails: when no
// variant is feasible the cheapest one is returned with ReasonFallback.
func (p *Policy) Decide(in Input) models.Decision {
	var (
		best  candidate
		found bool
	)
	for i, spec := range in.Catalog {
		if !spec.Feasible(in.Sample) {
			continue
		}
		st := in.Ledger[spec.Name]
		c := candidate{
			spec:  spec,
			score: p.Score(spec, st),
			idle:  st.TimeSinceLastUse(in.Now),
			index: i,
		}
		if !found || better(c, best) {
			best, found = c, true
		}
	}

	if !found {
		cheapest := in.Catalog.Cheapest()
		return models.Decision{
			Variant: cheapest.Name,
			Reason:  models.ReasonFallback,
			Score:   p.Score(cheapest, in.Ledger[cheapest.Name]),
		}
	}

	chosen := models.Decision{Variant: best.spec.Name, Reason: models.ReasonBestScore, Score: best.score}

	inc := in.Incumbent
	if inc.Variant == "" || inc.Variant == best.spec.Name {
		return chosen
	}
	incSpec, known := in.Catalog.Lookup(inc.Variant)
	if !known {
		return chosen
	}
	if !incSpec.Feasible(in.Sample) {
		chosen.Reason = models.ReasonIncumbentInfeasible
		return chosen
	}
	if inc.ActiveSince.IsZero() {
		return chosen
	}

	incScore := p.Score(incSpec, in.Ledger[inc.Variant])
	if best.score-incScore <= p.cfg.SwitchMargin {
		return models.Decision{Variant: inc.Variant, Reason: models.ReasonHysteresis, Score: incScore}
	}
	if in.Now.Sub(inc.ActiveSince) < p.cfg.MinDwell {
		return models.Decision{Variant: inc.Variant, Reason: models.ReasonDwell, Score: incScore}
	}
	return chosen
}
