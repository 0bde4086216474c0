package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleReceipt(issuer string, nonce uint64) Receipt {
	return Receipt{
		Issuer:    issuer,
		Schema:    "monitor/v1",
		Action:    "get_status",
		Nonce:     nonce,
		Timestamp: time.Unix(1_700_000_000+int64(nonce), 0),
		Result:    map[string]interface{}{"ok": true},
	}
}

func TestAppendAssignsMonotonicGaplessSeq(t *testing.T) {
	s := openTestStore(t)
	for i := uint64(0); i < 5; i++ {
		r, err := s.Append(sampleReceipt("issuer-1", i))
		require.NoError(t, err)
		require.Equal(t, i, r.Seq)
	}
	next, err := s.NextSeq()
	require.NoError(t, err)
	require.Equal(t, uint64(5), next)
}

func TestAppendLinksPrevHash(t *testing.T) {
	s := openTestStore(t)
	first, err := s.Append(sampleReceipt("issuer-1", 0))
	require.NoError(t, err)
	require.Equal(t, [32]byte{}, first.Prev)

	second, err := s.Append(sampleReceipt("issuer-1", 1))
	require.NoError(t, err)
	firstHash, err := first.SelfHash(hashReceipt)
	require.NoError(t, err)
	require.Equal(t, firstHash, second.Prev)
}

func TestVerifyChainAcceptsIntactChain(t *testing.T) {
	s := openTestStore(t)
	for i := uint64(0); i < 4; i++ {
		_, err := s.Append(sampleReceipt("issuer-1", i))
		require.NoError(t, err)
	}
	require.NoError(t, s.VerifyChain(0, 3))
}

func TestMerkleRootStableAcrossCalls(t *testing.T) {
	s := openTestStore(t)
	for i := uint64(0); i < 4; i++ {
		_, err := s.Append(sampleReceipt("issuer-1", i))
		require.NoError(t, err)
	}
	root1, err := s.MerkleRoot(0, 3)
	require.NoError(t, err)
	root2, err := s.MerkleRoot(0, 3)
	require.NoError(t, err)
	require.Equal(t, root1, root2)
}

func TestGetUnknownSeqReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSummarizeCoversFullWindow(t *testing.T) {
	s := openTestStore(t)
	for i := uint64(0); i < 3; i++ {
		_, err := s.Append(sampleReceipt("issuer-1", i))
		require.NoError(t, err)
	}
	sc, err := s.Summarize("issuer-1", 0, 2, time.Unix(1_700_010_000, 0))
	require.NoError(t, err)
	require.Equal(t, uint64(3), sc.Count)
}
