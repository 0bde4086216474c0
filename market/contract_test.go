package market

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testWindows(now time.Time) Windows {
	return Windows{
		TrialStart: now,
		TrialEnd:   now.Add(30 * 24 * time.Hour),
		MainStart:  now.Add(30 * 24 * time.Hour),
		MainEnd:    now.Add(395 * 24 * time.Hour),
		Notice:     7 * 24 * time.Hour,
		AutoRenew:  true,
	}
}

func TestContractHappyPath(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewContract("c1", [2]string{"alice", "bob"}, testWindows(now))
	require.Equal(t, ContractProposed, c.Status)

	committed := false
	err := c.Accept([32]byte{1}, "escrow-1", func() error {
		committed = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, committed)
	require.Equal(t, ContractAccepted, c.Status)

	require.NoError(t, c.BeginTrial(now))
	require.Equal(t, ContractTrial, c.Status)

	require.NoError(t, c.ResolveTrial(TrialPass))
	require.Equal(t, ContractActive, c.Status)
}

func TestContractAcceptAtomicFailureLeavesUntouched(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewContract("c1", [2]string{"alice", "bob"}, testWindows(now))

	err := c.Accept([32]byte{1}, "escrow-1", func() error {
		return fmt.Errorf("boom")
	})
	require.Error(t, err)
	require.Equal(t, ContractProposed, c.Status)
	require.Empty(t, c.InitialEscrowID)
}

func TestContractTrialFailNoPenalty(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewContract("c1", [2]string{"alice", "bob"}, testWindows(now))
	require.NoError(t, c.Accept([32]byte{1}, "escrow-1", func() error { return nil }))
	require.NoError(t, c.BeginTrial(now))

	require.NoError(t, c.ResolveTrial(TrialFail))
	require.Equal(t, ContractTerminated, c.Status)
	require.Equal(t, TerminationReasonable, c.Termination)
}

func TestContractTrialBadFaithForCause(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewContract("c1", [2]string{"alice", "bob"}, testWindows(now))
	require.NoError(t, c.Accept([32]byte{1}, "escrow-1", func() error { return nil }))
	require.NoError(t, c.BeginTrial(now))

	require.NoError(t, c.ResolveTrial(TrialBadFaith))
	require.Equal(t, ContractTerminated, c.Status)
	require.Equal(t, TerminationForCause, c.Termination)
}

func TestContractCounterRoundsCapped(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewContract("c1", [2]string{"alice", "bob"}, testWindows(now))

	for i := 0; i < maxCounterRounds; i++ {
		require.NoError(t, c.Counter(now, now))
	}
	err := c.Counter(now, now)
	require.ErrorIs(t, err, ErrTooManyCounterRounds)
}

func TestContractCounterExpiredRound(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewContract("c1", [2]string{"alice", "bob"}, testWindows(now))
	opened := now
	err := c.Counter(opened.Add(defaultCounterExpiry+time.Second), opened)
	require.ErrorIs(t, err, ErrExpiredRound)
}

func TestContractRenewWithoutAutoRenewTerminates(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	windows := testWindows(now)
	windows.AutoRenew = false
	c := NewContract("c1", [2]string{"alice", "bob"}, windows)
	require.NoError(t, c.Accept([32]byte{1}, "escrow-1", func() error { return nil }))
	require.NoError(t, c.BeginTrial(now))
	require.NoError(t, c.ResolveTrial(TrialPass))

	require.NoError(t, c.Renew(now, windows))
	require.Equal(t, ContractTerminated, c.Status)
}
