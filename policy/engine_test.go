package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseConfig() Config {
	return Config{
		Preset:                  PresetModerate,
		MaxDangerAutoexec:       5,
		MaxFeeChangePer24hPct:   50,
		MaxRebalanceAmount:      1_000_000,
		ProtectedResources:      map[string]bool{"chan-protected": true},
		ForbiddenCounterparties: map[string]bool{"peer-bad": true},
		QuietHours:              QuietHours{Enabled: true, Start: "22:00", End: "06:00"},
		RateLimitPerSecond:      1000,
		RateLimitBurst:          1000,
	}
}

func TestEvaluateOrderProtectedResourceFirst(t *testing.T) {
	e := New(baseConfig())
	out := e.Evaluate(Request{
		TargetResource: "chan-protected",
		Counterparty:   "peer-bad",
		Now:            time.Unix(1_700_000_000, 0),
	})
	require.True(t, out.Denied)
	require.Equal(t, DenyProtectedResource, out.Code)
}

func TestEvaluateForbiddenCounterparty(t *testing.T) {
	e := New(baseConfig())
	out := e.Evaluate(Request{Counterparty: "peer-bad", Now: time.Unix(1_700_000_000, 0)})
	require.True(t, out.Denied)
	require.Equal(t, DenyForbiddenCounterparty, out.Code)
}

func TestEvaluateQuietHoursBlocksNonMonitoring(t *testing.T) {
	e := New(baseConfig())
	quiet := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	out := e.Evaluate(Request{Now: quiet, IsMonitoring: false})
	require.True(t, out.Denied)
	require.Equal(t, DenyQuietHours, out.Code)

	out = e.Evaluate(Request{Now: quiet, IsMonitoring: true})
	require.True(t, out.Admitted)
}

func TestEvaluateNumericCapRebalance(t *testing.T) {
	e := New(baseConfig())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) // outside baseConfig's quiet hours
	out := e.Evaluate(Request{RebalanceAmt: 2_000_000, Now: now})
	require.True(t, out.Denied)
	require.Equal(t, DenyNumericCap, out.Code)
}

func TestEvaluateFeeChangeSlidingWindow(t *testing.T) {
	e := New(baseConfig())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	req := Request{TargetResource: "chan-X", FeeChangePct: 30, Now: now}

	out := e.Evaluate(req)
	require.True(t, out.Admitted)
	e.CommitFeeChange(req.TargetResource, req.FeeChangePct)

	out = e.Evaluate(req)
	require.True(t, out.Denied)
	require.Equal(t, DenyNumericCap, out.Code)
}

// TestEvaluateDoesNotCommitOnItsOwn exercises the fail-closed contract: a
// request that never reaches CommitFeeChange (because its pipeline failed
// downstream of Evaluate) must not consume any cap room, so a subsequent
// identical request still succeeds.
func TestEvaluateDoesNotCommitOnItsOwn(t *testing.T) {
	e := New(baseConfig())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	req := Request{TargetResource: "chan-X", FeeChangePct: 30, Now: now}

	for i := 0; i < 3; i++ {
		out := e.Evaluate(req)
		require.True(t, out.Admitted)
	}
	require.Empty(t, e.TrackedResources())
}

func TestRollFeeWindowResetsCommittedState(t *testing.T) {
	e := New(baseConfig())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	req := Request{TargetResource: "chan-X", FeeChangePct: 30, Now: now}

	e.Evaluate(req)
	e.CommitFeeChange(req.TargetResource, req.FeeChangePct)
	require.Equal(t, []string{"chan-X"}, e.TrackedResources())

	out := e.Evaluate(req)
	require.True(t, out.Denied)

	e.RollFeeWindow("chan-X")
	out = e.Evaluate(req)
	require.True(t, out.Admitted)
}

func TestNeedsConfirmationUsesOverride(t *testing.T) {
	cfg := baseConfig()
	e := New(cfg)
	now := time.Unix(1_700_000_000, 0)
	require.True(t, e.NeedsConfirmation(Request{Danger: 6, Now: now}))

	cfg.Override = &Override{MaxDangerAutoexec: 9, ExpiresAt: now.Add(time.Hour)}
	e2 := New(cfg)
	require.False(t, e2.NeedsConfirmation(Request{Danger: 6, Now: now}))
}

func TestConfirmationQueueLifecycle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	q := NewConfirmationQueue([]byte("test-secret"), func() time.Time { return now })

	handle, token, err := q.Enqueue("issuer-1", "rebalance/v1", 8)
	require.NoError(t, err)
	require.NotEmpty(t, handle)
	require.Equal(t, 1, q.Len())

	op, err := q.Resolve(token, true)
	require.NoError(t, err)
	require.Equal(t, handle, op.Handle)
	require.Equal(t, 0, q.Len())
}

func TestConfirmationQueueAutoRejectSweep(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	q := NewConfirmationQueue([]byte("test-secret"), func() time.Time { return now })
	_, _, err := q.Enqueue("issuer-1", "emergency/v1", 9)
	require.NoError(t, err)

	expired := q.SweepExpired(now.Add(5 * time.Hour))
	require.Len(t, expired, 1)
	require.Equal(t, 0, q.Len())
}
