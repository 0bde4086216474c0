package bond

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeriveTier(t *testing.T) {
	cases := []struct {
		name       string
		reputation float64
		amount     *big.Int
		tenure     int
		history    DisputeHistory
		want       Tier
	}{
		{"brand new", 0.2, big.NewInt(0), 0, DisputeHistory{}, TierNewcomer},
		{"recognized threshold", 0.6, big.NewInt(60_000), 35, DisputeHistory{}, TierRecognized},
		{"trusted threshold", 0.75, big.NewInt(600_000), 130, DisputeHistory{}, TierTrusted},
		{"senior threshold", 0.9, big.NewInt(3_000_000), 400, DisputeHistory{}, TierSenior},
		{"founding threshold", 0.97, big.NewInt(12_000_000), 800, DisputeHistory{}, TierFounding},
		{"heavy dispute losses cap tier", 0.97, big.NewInt(12_000_000), 800, DisputeHistory{Won: 1, Lost: 3}, TierNewcomer},
		{"light dispute losses ok", 0.6, big.NewInt(60_000), 35, DisputeHistory{Won: 5, Lost: 1}, TierRecognized},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, DeriveTier(c.reputation, c.amount, c.tenure, c.history))
		})
	}
}

func TestEffectiveWeight(t *testing.T) {
	require.Equal(t, big.NewInt(500), EffectiveWeight(big.NewInt(1000), 90))
	require.Equal(t, big.NewInt(1000), EffectiveWeight(big.NewInt(1000), 365))
	require.Equal(t, big.NewInt(0), EffectiveWeight(big.NewInt(1000), -10))
}

func TestMinimumBondToJoin(t *testing.T) {
	require.Equal(t, big.NewInt(100), MinimumBondToJoin(big.NewInt(100), big.NewInt(50)))
	require.Equal(t, big.NewInt(250), MinimumBondToJoin(big.NewInt(100), big.NewInt(500)))
}

func TestSlashQuantum(t *testing.T) {
	got := SlashQuantum(big.NewInt(1000), 0.5, 2, big.NewInt(100))
	// base path: 1000 * 0.5 * (1+1.0) = 1000; profit path: 200. base wins.
	require.Equal(t, big.NewInt(1000), got)

	got2 := SlashQuantum(big.NewInt(10), 0.5, 0, big.NewInt(1000))
	// base path: 10*0.5=5; profit path: 2000. profit wins.
	require.Equal(t, big.NewInt(2000), got2)
}

func TestStoreLifecycle(t *testing.T) {
	s := NewStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	locktime := now.Add(30 * 24 * time.Hour)

	_, err := s.Post("alice", big.NewInt(1000), locktime, now)
	require.NoError(t, err)

	_, err = s.Post("alice", big.NewInt(1000), locktime, now)
	require.ErrorIs(t, err, ErrAlreadyPosted)

	b, err := s.Slash("alice", big.NewInt(400), "violation", "dispute-1", now)
	require.NoError(t, err)
	require.Equal(t, StatusSlashed, b.Status)
	require.Equal(t, big.NewInt(600), b.Amount)

	_, err = s.Refund("alice", now)
	require.Error(t, err, "locktime not yet reached")

	b, err = s.Refund("alice", locktime.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, b.Status)

	_, err = s.Slash("alice", big.NewInt(1), "x", "y", now)
	require.ErrorIs(t, err, ErrNotActive)
}

func TestMedianBond(t *testing.T) {
	require.Equal(t, big.NewInt(0), MedianBond(nil))
	require.Equal(t, big.NewInt(20), MedianBond([]*big.Int{big.NewInt(10), big.NewInt(20), big.NewInt(30)}))
	require.Equal(t, big.NewInt(20), MedianBond([]*big.Int{big.NewInt(10), big.NewInt(30)}))
}

func TestDueForRefund(t *testing.T) {
	s := NewStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	locktime := now.Add(24 * time.Hour)

	_, err := s.Post("alice", big.NewInt(1000), locktime, now)
	require.NoError(t, err)
	_, err = s.Post("bob", big.NewInt(1000), locktime.Add(time.Hour), now)
	require.NoError(t, err)

	require.Empty(t, s.DueForRefund(now))
	require.ElementsMatch(t, []string{"alice"}, s.DueForRefund(locktime))
	require.ElementsMatch(t, []string{"alice", "bob"}, s.DueForRefund(locktime.Add(2*time.Hour)))
}
