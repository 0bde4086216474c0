package engine

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hivecore/bond"
	"hivecore/dispute"
	"hivecore/obligation"
)

func newDisputeFixture(t *testing.T) (*DisputeRegistry, *bond.Store, time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	bonds := bond.NewStore()
	for i, owner := range []string{"panelist-1", "panelist-2", "panelist-3", "panelist-4", "panelist-5"} {
		_, err := bonds.Post(owner, big.NewInt(int64(1_000_000+i*10_000)), now.Add(365*24*time.Hour), now.Add(-200*24*time.Hour))
		require.NoError(t, err)
	}
	_, err := bonds.Post("provider-bob", big.NewInt(2_000_000), now.Add(365*24*time.Hour), now.Add(-400*24*time.Hour))
	require.NoError(t, err)

	obligations, err := obligation.Open(filepath.Join(t.TempDir(), "obligations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = obligations.Close() })

	return NewDisputeRegistry(bonds, obligations, 30, big.NewInt(50_000)), bonds, now
}

func TestDisputeRegistryFileSelectsPanelExcludingParties(t *testing.T) {
	registry, _, now := newDisputeFixture(t)

	d, err := registry.File("dispute-1", "advisor-alice", "provider-bob", 100_000, now, []byte("blockhash"))
	require.NoError(t, err)
	require.NotEmpty(t, d.Panel)
	for _, member := range d.Panel {
		require.NotEqual(t, "advisor-alice", member)
		require.NotEqual(t, "provider-bob", member)
	}
}

func TestDisputeRegistryResolveSlashesRespondentOnSupermajority(t *testing.T) {
	registry, bonds, now := newDisputeFixture(t)

	d, err := registry.File("dispute-2", "advisor-alice", "provider-bob", 100_000, now, []byte("blockhash"))
	require.NoError(t, err)

	for _, member := range d.Panel {
		err := registry.CastVote("dispute-2", dispute.Vote{
			Member: member, Amount: 100_000, SlashRecommended: true, CastAt: now,
		})
		require.NoError(t, err)
	}

	outcome, err := registry.Resolve("dispute-2", now)
	require.NoError(t, err)
	require.True(t, outcome.SlashRecommended)
	require.Equal(t, 100_000.0, outcome.Amount)

	b, err := bonds.Get("provider-bob")
	require.NoError(t, err)
	require.Equal(t, bond.StatusSlashed, b.Status)
	require.Equal(t, big.NewInt(1_900_000), b.Amount)

	window, err := registry.Obligations.Window(windowIDFor(now))
	require.NoError(t, err)
	require.Len(t, window, 1)
	require.Equal(t, "provider-bob", window[0].From)
	require.Equal(t, "advisor-alice", window[0].To)
	require.Equal(t, obligation.KindPenalty, window[0].Kind)
}

func TestDisputeRegistryResolveNoSlashWithoutSupermajority(t *testing.T) {
	registry, bonds, now := newDisputeFixture(t)

	d, err := registry.File("dispute-3", "advisor-alice", "provider-bob", 100_000, now, []byte("blockhash"))
	require.NoError(t, err)

	for i, member := range d.Panel {
		err := registry.CastVote("dispute-3", dispute.Vote{
			Member: member, Amount: 100_000, SlashRecommended: i == 0, CastAt: now,
		})
		require.NoError(t, err)
	}

	outcome, err := registry.Resolve("dispute-3", now)
	require.NoError(t, err)
	require.False(t, outcome.SlashRecommended)

	b, err := bonds.Get("provider-bob")
	require.NoError(t, err)
	require.Equal(t, bond.StatusActive, b.Status)
}
