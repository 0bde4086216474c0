package market

import (
	"math"
	"sort"
	"time"
)

// Weights holds the discovery ranking coefficients from spec.md §4.9.
// Defaults are (0.35, 0.25, 0.15, 0.10, 0.10, 0.05); operator override is
// supported by constructing a Weights value directly.
type Weights struct {
	Reputation   float64
	CapMatch     float64
	SpecMatch    float64
	PriceFit     float64
	Availability float64
	Freshness    float64
}

// DefaultWeights returns spec.md §4.9's default coefficient set.
func DefaultWeights() Weights {
	return Weights{
		Reputation:   0.35,
		CapMatch:     0.25,
		SpecMatch:    0.15,
		PriceFit:     0.10,
		Availability: 0.10,
		Freshness:    0.05,
	}
}

// Candidate is one scoreable listing: the event itself plus the per-filter
// feature values a caller computes from its payload. Every feature is
// expected in [0,1]; callers normalize before calling Score.
type Candidate struct {
	Event        Event
	Reputation   float64
	CapMatch     float64
	SpecMatch    float64
	PriceFit     float64
	Availability float64
}

// score computes spec.md §4.9's weighted sum for c, with freshness derived
// from the event's age relative to halfLife (exponential decay, newer is
// higher).
func score(c Candidate, w Weights, now time.Time, halfLife time.Duration) float64 {
	freshness := 1.0
	if halfLife > 0 {
		age := now.Sub(c.Event.CreatedAt)
		if age > 0 {
			halvings := float64(age) / float64(halfLife)
			freshness = math.Exp2(-halvings)
		}
	}
	return w.Reputation*c.Reputation +
		w.CapMatch*c.CapMatch +
		w.SpecMatch*c.SpecMatch +
		w.PriceFit*c.PriceFit +
		w.Availability*c.Availability +
		w.Freshness*freshness
}

// Ranked pairs a Candidate with its computed score for the sorted result.
type Ranked struct {
	Candidate Candidate
	Score     float64
}

// Rank orders candidates by descending score, breaking ties by reputation
// then by freshness (spec.md §4.9: "Ties broken by reputation, then by
// freshness").
func Rank(candidates []Candidate, w Weights, now time.Time, halfLife time.Duration) []Ranked {
	out := make([]Ranked, len(candidates))
	for i, c := range candidates {
		out[i] = Ranked{Candidate: c, Score: score(c, w, now, halfLife)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Candidate.Reputation != out[j].Candidate.Reputation {
			return out[i].Candidate.Reputation > out[j].Candidate.Reputation
		}
		return out[i].Candidate.Event.CreatedAt.After(out[j].Candidate.Event.CreatedAt)
	})
	return out
}
