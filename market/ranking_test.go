package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRankOrdersByScoreDescending(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := DefaultWeights()

	strong := Candidate{
		Event:        mkEvent("alice", KindAdvisorOffer, "d1", now),
		Reputation:   0.9, CapMatch: 0.9, SpecMatch: 0.9, PriceFit: 0.9, Availability: 0.9,
	}
	weak := Candidate{
		Event:        mkEvent("bob", KindAdvisorOffer, "d2", now),
		Reputation:   0.1, CapMatch: 0.1, SpecMatch: 0.1, PriceFit: 0.1, Availability: 0.1,
	}

	ranked := Rank([]Candidate{weak, strong}, w, now, time.Hour)
	require.Len(t, ranked, 2)
	require.Equal(t, "alice", ranked[0].Candidate.Event.Issuer)
	require.Greater(t, ranked[0].Score, ranked[1].Score)
}

func TestRankTieBrokenByReputationThenFreshness(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := Weights{} // all-zero weights: every candidate scores 0, forcing the tie-break path

	older := Candidate{Event: mkEvent("bob", KindAdvisorOffer, "d2", now.Add(-time.Hour)), Reputation: 0.2}
	newer := Candidate{Event: mkEvent("carol", KindAdvisorOffer, "d3", now), Reputation: 0.2}
	mostReputable := Candidate{Event: mkEvent("alice", KindAdvisorOffer, "d1", now.Add(-2*time.Hour)), Reputation: 0.8}

	ranked := Rank([]Candidate{older, newer, mostReputable}, w, now, time.Hour)
	require.Equal(t, "alice", ranked[0].Candidate.Event.Issuer) // reputation wins first
	require.Equal(t, "carol", ranked[1].Candidate.Event.Issuer) // then freshness among equal reputation
	require.Equal(t, "bob", ranked[2].Candidate.Event.Issuer)
}
