package obligation

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "obligation.db")
	l, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	l := openTestLedger(t)
	for i := 0; i < 3; i++ {
		o, err := l.Append(Obligation{
			WindowID:  "W1",
			From:      "A",
			To:        "B",
			Kind:      KindPerAction,
			Amount:    10,
			ReceiptID: uint64(i),
			CreatedAt: time.Now(),
		})
		require.NoError(t, err)
		require.Equal(t, uint64(i), o.ID)
		require.Equal(t, StatusPending, o.Status)
	}
}

func TestWindowReturnsAppendOrder(t *testing.T) {
	l := openTestLedger(t)
	var want []uint64
	for i := 0; i < 4; i++ {
		o, err := l.Append(Obligation{WindowID: "W1", From: "A", To: "B", Kind: KindPerAction, Amount: float64(i)})
		require.NoError(t, err)
		want = append(want, o.ID)
	}
	_, err := l.Append(Obligation{WindowID: "W2", From: "A", To: "C", Kind: KindPerAction, Amount: 99})
	require.NoError(t, err)

	got, err := l.Window("W1")
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i, o := range got {
		require.Equal(t, want[i], o.ID)
	}
}

func TestGetUnknownIDReturnsErrNotFound(t *testing.T) {
	l := openTestLedger(t)
	_, err := l.Get(42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetStatusTransitionsEntry(t *testing.T) {
	l := openTestLedger(t)
	o, err := l.Append(Obligation{WindowID: "W1", From: "A", To: "B", Kind: KindPerAction, Amount: 5})
	require.NoError(t, err)

	require.NoError(t, l.SetStatus(o.ID, StatusNetted))
	got, err := l.Get(o.ID)
	require.NoError(t, err)
	require.Equal(t, StatusNetted, got.Status)
}

func TestSetStatusUnknownIDReturnsErrNotFound(t *testing.T) {
	l := openTestLedger(t)
	require.ErrorIs(t, l.SetStatus(7, StatusSettled), ErrNotFound)
}

func TestAppendIsOrderedAcrossWindows(t *testing.T) {
	l := openTestLedger(t)
	a, err := l.Append(Obligation{WindowID: "W1", From: "A", To: "B", Kind: KindPerAction, Amount: 1})
	require.NoError(t, err)
	b, err := l.Append(Obligation{WindowID: "W2", From: "C", To: "D", Kind: KindPerAction, Amount: 2})
	require.NoError(t, err)
	require.Less(t, a.ID, b.ID)
}
