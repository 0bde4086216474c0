package dispute

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func candidates(n int) []Candidate {
	out := make([]Candidate, n)
	for i := 0; i < n; i++ {
		out[i] = Candidate{ID: string(rune('a' + i)), Bond: 1000, TenureDays: 200}
	}
	return out
}

func TestSelectSize(t *testing.T) {
	require.Equal(t, Size{Members: 7, Majority: 5}, SelectSize(20))
	require.Equal(t, Size{Members: 5, Majority: 3}, SelectSize(8))
	require.Equal(t, Size{Members: 3, Majority: 2}, SelectSize(4))
	require.Equal(t, Size{Bilateral: true}, SelectSize(2))
}

func TestSelectPanelDeterministic(t *testing.T) {
	seed := PanelSeed("dispute-1", []byte("block-42"))
	eligible := candidates(20)

	panel1, size1, err := SelectPanel(seed, eligible)
	require.NoError(t, err)
	panel2, size2, err := SelectPanel(seed, eligible)
	require.NoError(t, err)

	require.Equal(t, size1, size2)
	require.Equal(t, panel1, panel2)
	require.Len(t, panel1, 7)

	// Distinct elements.
	seen := map[string]bool{}
	for _, id := range panel1 {
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestSelectPanelDifferentSeedDifferentPanelUsually(t *testing.T) {
	eligible := candidates(20)
	seedA := PanelSeed("dispute-1", []byte("block-42"))
	seedB := PanelSeed("dispute-2", []byte("block-43"))

	panelA, _, err := SelectPanel(seedA, eligible)
	require.NoError(t, err)
	panelB, _, err := SelectPanel(seedB, eligible)
	require.NoError(t, err)
	require.NotEqual(t, panelA, panelB)
}

func TestSelectPanelBilateralBelowThreshold(t *testing.T) {
	seed := PanelSeed("dispute-1", []byte("block-42"))
	panel, size, err := SelectPanel(seed, candidates(2))
	require.NoError(t, err)
	require.Nil(t, panel)
	require.True(t, size.Bilateral)
}

func TestVoteAndResolve(t *testing.T) {
	seed := PanelSeed("dispute-1", []byte("block-42"))
	eligible := candidates(5)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	d, err := New("dispute-1", 1000, now, []byte("block-42"), eligible)
	require.NoError(t, err)
	require.Equal(t, StatusVoting, d.Status)
	require.Len(t, d.Panel, 5)

	for i, m := range d.Panel {
		require.NoError(t, d.CastVote(Vote{Member: m, Amount: 900 + float64(i*10), SlashRecommended: i < 2, CastAt: now}))
	}

	_ = seed
	outcome, err := d.Resolve()
	require.NoError(t, err)
	require.Equal(t, StatusResolved, d.Status)
	require.InDelta(t, 920, outcome.Amount, 0.001)
	require.False(t, outcome.SlashRecommended) // only 2 of 5 recommended slash
}

func TestResolveQuorumNotReached(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d, err := New("dispute-2", 1000, now, []byte("block-1"), candidates(5))
	require.NoError(t, err)
	require.NoError(t, d.CastVote(Vote{Member: d.Panel[0], Amount: 1000, CastAt: now}))
	_, err = d.Resolve()
	require.ErrorIs(t, err, ErrQuorumNotReached)
}

func TestNonVotersForfeit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d, err := New("dispute-3", 1000, now, []byte("block-1"), candidates(5))
	require.NoError(t, err)
	require.NoError(t, d.CastVote(Vote{Member: d.Panel[0], Amount: 1000, CastAt: now}))

	require.Empty(t, d.NonVoters(now.Add(time.Hour)))
	late := now.Add(BondForfeitWindow + time.Minute)
	nonVoters := d.NonVoters(late)
	require.Len(t, nonVoters, 4)
}

func TestDoubleVoteRejected(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d, err := New("dispute-4", 1000, now, []byte("block-1"), candidates(5))
	require.NoError(t, err)
	require.NoError(t, d.CastVote(Vote{Member: d.Panel[0], Amount: 1000, CastAt: now}))
	require.ErrorIs(t, d.CastVote(Vote{Member: d.Panel[0], Amount: 500, CastAt: now}), ErrAlreadyVoted)
}
