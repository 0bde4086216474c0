package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hivecore/bond"
)

func TestPriceMonotonicInDanger(t *testing.T) {
	low, lowWindow := Price(1, bond.TierNewcomer)
	high, highWindow := Price(9, bond.TierNewcomer)
	require.Equal(t, -1, low.Cmp(high))
	require.Less(t, lowWindow, highWindow)
}

func TestPriceInverselyMonotonicInReputation(t *testing.T) {
	newcomer, _ := Price(5, bond.TierNewcomer)
	founding, _ := Price(5, bond.TierFounding)
	require.Equal(t, 1, newcomer.Cmp(founding))
}

func TestPriceClampsDangerRange(t *testing.T) {
	belowFloor, _ := Price(0, bond.TierNewcomer)
	atFloor, _ := Price(1, bond.TierNewcomer)
	require.Equal(t, 0, belowFloor.Cmp(atFloor))

	aboveCeil, _ := Price(99, bond.TierNewcomer)
	atCeil, _ := Price(10, bond.TierNewcomer)
	require.Equal(t, 0, aboveCeil.Cmp(atCeil))
}

type missingCapMint struct{ fakeMint }

func (m *missingCapMint) Capabilities(ctx context.Context) ([]Capability, error) {
	return []Capability{CapabilityNUT10}, nil
}

func TestIssueRejectsMintMissingCapability(t *testing.T) {
	store := NewStore(testVault(t), Caps{})
	mint := &missingCapMint{fakeMint: *newFakeMint()}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.Issue(context.Background(), mint, "t1", "payer", "payee",
		baseUnitPerDanger, now.Add(time.Hour), now, KindSimple, "")
	require.ErrorIs(t, err, ErrMintMissingCapability)
}

