package escrow

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hivecore/crypto"
)

type fakeMint struct {
	issued   map[string]bool
	redeemed map[string]bool
}

func newFakeMint() *fakeMint {
	return &fakeMint{issued: make(map[string]bool), redeemed: make(map[string]bool)}
}

func (m *fakeMint) Capabilities(ctx context.Context) ([]Capability, error) {
	return []Capability{CapabilityNUT10, CapabilityNUT11, CapabilityNUT14}, nil
}

func (m *fakeMint) CheckState(ctx context.Context, token string) (bool, error) {
	return m.redeemed[token], nil
}

func (m *fakeMint) Issue(ctx context.Context, cond SpendingCondition, amount *big.Int) (string, error) {
	token := cond.Nonce
	m.issued[token] = true
	return token, nil
}

func (m *fakeMint) Redeem(ctx context.Context, token string, secret, payeeSig []byte) error {
	if !m.issued[token] {
		return ErrNotFound
	}
	m.redeemed[token] = true
	return nil
}

func testVault(t *testing.T) *Vault {
	t.Helper()
	key, err := crypto.NewSealKey([]byte("test-key-material"))
	require.NoError(t, err)
	return NewVault(key)
}

func TestIssueRedeemHappyPath(t *testing.T) {
	store := NewStore(testVault(t), Caps{})
	mint := newFakeMint()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	timelock := now.Add(24 * time.Hour)

	ticket, err := store.Issue(ctx, mint, "t1", "payer", "payee", big.NewInt(5000), timelock, now, KindSimple, "")
	require.NoError(t, err)
	require.Equal(t, StatusActive, ticket.Status)

	secret, err := store.Reveal("t1")
	require.NoError(t, err)

	redeemed, err := store.Redeem(ctx, mint, "t1", secret, []byte("sig"), now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, StatusRedeemed, redeemed.Status)

	// Idempotent retry.
	again, err := store.Redeem(ctx, mint, "t1", secret, []byte("sig"), now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, StatusRedeemed, again.Status)

	// Secret zeroised after redemption.
	_, err = store.vault.Reveal("t1")
	require.ErrorIs(t, err, ErrNoSecret)
}

// TestReclaimAfterTimelock matches spec.md E6: amount 5000, timelock t;
// at now = t+1 with no preimage revealed, reclaim succeeds, the ticket
// becomes Refunded, and a subsequent redeem attempt is rejected
// EscrowExpired.
func TestReclaimAfterTimelock(t *testing.T) {
	store := NewStore(testVault(t), Caps{})
	mint := newFakeMint()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	timelock := now.Add(time.Hour)

	_, err := store.Issue(ctx, mint, "t1", "payer", "payee", big.NewInt(5000), timelock, now, KindSimple, "")
	require.NoError(t, err)

	after := timelock.Add(time.Second)
	reclaimed, err := store.Reclaim("t1", after)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, reclaimed.Status)

	_, err = store.Redeem(ctx, mint, "t1", []byte("whatever"), []byte("sig"), after)
	require.ErrorIs(t, err, ErrEscrowExpired)

	// Idempotent reclaim retry.
	again, err := store.Reclaim("t1", after)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, again.Status)
}

func TestBoundary_RedeemOneSecondBeforeTimelockAllowed(t *testing.T) {
	store := NewStore(testVault(t), Caps{})
	mint := newFakeMint()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	timelock := now.Add(time.Hour)

	_, err := store.Issue(ctx, mint, "t1", "payer", "payee", big.NewInt(100), timelock, now, KindSimple, "")
	require.NoError(t, err)
	secret, err := store.Reveal("t1")
	require.NoError(t, err)

	_, err = store.Redeem(ctx, mint, "t1", secret, []byte("sig"), timelock.Add(-time.Second))
	require.NoError(t, err)
}

func TestBoundary_ReclaimAtExactTimelockAllowed(t *testing.T) {
	store := NewStore(testVault(t), Caps{})
	mint := newFakeMint()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	timelock := now.Add(time.Hour)

	_, err := store.Issue(ctx, mint, "t1", "payer", "payee", big.NewInt(100), timelock, now, KindSimple, "")
	require.NoError(t, err)

	_, err = store.Reclaim("t1", timelock)
	require.NoError(t, err)
}

func TestBudgetExceeded(t *testing.T) {
	store := NewStore(testVault(t), Caps{DailyTotal: big.NewInt(1000)})
	mint := newFakeMint()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	timelock := now.Add(time.Hour)

	_, err := store.Issue(ctx, mint, "t1", "payer", "payee", big.NewInt(900), timelock, now, KindSimple, "")
	require.NoError(t, err)

	_, err = store.Issue(ctx, mint, "t2", "payer", "payee", big.NewInt(200), timelock, now, KindSimple, "")
	require.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestExpireScanReclaims(t *testing.T) {
	store := NewStore(testVault(t), Caps{})
	mint := newFakeMint()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	timelock := now.Add(time.Hour)

	_, err := store.Issue(ctx, mint, "t1", "payer", "payee", big.NewInt(100), timelock, now, KindSimple, "")
	require.NoError(t, err)

	changed := store.ExpireScan(timelock.Add(2*time.Hour), time.Hour)
	require.Len(t, changed, 1)
	require.Equal(t, StatusRefunded, changed[0].Status)
}

func TestZeroExpiredRefunds(t *testing.T) {
	store := NewStore(testVault(t), Caps{})
	mint := newFakeMint()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	timelock := now.Add(time.Hour)

	_, err := store.Issue(ctx, mint, "t1", "payer", "payee", big.NewInt(100), timelock, now, KindSimple, "")
	require.NoError(t, err)

	reclaimed, err := store.Reclaim("t1", timelock)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, reclaimed.Status)

	// Before the grace period elapses, the secret survives a sweep.
	zeroed := store.ZeroExpiredRefunds(timelock.Add(RefundGracePeriod - time.Second))
	require.Equal(t, 0, zeroed)
	_, err = store.vault.Reveal("t1")
	require.NoError(t, err)

	// Once it elapses, the sweep zeroises it.
	zeroed = store.ZeroExpiredRefunds(timelock.Add(RefundGracePeriod))
	require.Equal(t, 1, zeroed)
	_, err = store.vault.Reveal("t1")
	require.ErrorIs(t, err, ErrNoSecret)

	// Idempotent retry.
	zeroed = store.ZeroExpiredRefunds(timelock.Add(RefundGracePeriod + time.Hour))
	require.Equal(t, 0, zeroed)
}
