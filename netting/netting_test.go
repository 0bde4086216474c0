package netting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestBilateral_E4 matches spec.md E4: {A->B:150, A->B:2500, A->B:50, B->A:300} => net A->B 2400.
func TestBilateral_E4(t *testing.T) {
	items := []Item{
		{From: "A", To: "B", Amount: 150},
		{From: "A", To: "B", Amount: 2500},
		{From: "A", To: "B", Amount: 50},
		{From: "B", To: "A", Amount: 300},
	}
	got := Bilateral(items, "A", "B")
	require.Equal(t, Payment{From: "A", To: "B", Amount: 2400}, got)
}

func TestBilateral_ZeroMeansNoEscrow(t *testing.T) {
	items := []Item{
		{From: "A", To: "B", Amount: 100},
		{From: "B", To: "A", Amount: 100},
	}
	got := Bilateral(items, "A", "B")
	require.Zero(t, got.Amount)
}

// TestMultilateral_E5 matches spec.md E5: nets {A:-1200, B:+100, C:+400,
// D:+700} => three payments from A of 100/400/700 summing to 1200.
func TestMultilateral_E5(t *testing.T) {
	items := []Item{
		{From: "A", To: "B", Amount: 1000},
		{From: "A", To: "C", Amount: 200},
		{From: "B", To: "C", Amount: 500},
		{From: "B", To: "D", Amount: 400},
		{From: "C", To: "D", Amount: 300},
	}
	positions := NetPositions(items)
	require.InDelta(t, -1200, positions["A"], epsilon)
	require.InDelta(t, 100, positions["B"], epsilon)
	require.InDelta(t, 400, positions["C"], epsilon)
	require.InDelta(t, 700, positions["D"], epsilon)

	payments := Multilateral(items)
	require.Len(t, payments, 3)

	var total float64
	for _, p := range payments {
		require.Equal(t, "A", p.From)
		total += p.Amount
	}
	require.InDelta(t, 1200, total, epsilon)

	byTo := map[string]float64{}
	for _, p := range payments {
		byTo[p.To] = p.Amount
	}
	require.InDelta(t, 100, byTo["B"], epsilon)
	require.InDelta(t, 400, byTo["C"], epsilon)
	require.InDelta(t, 700, byTo["D"], epsilon)
}

func TestMultilateral_Deterministic(t *testing.T) {
	items := []Item{
		{From: "A", To: "B", Amount: 1000},
		{From: "A", To: "C", Amount: 200},
		{From: "B", To: "C", Amount: 500},
		{From: "B", To: "D", Amount: 400},
		{From: "C", To: "D", Amount: 300},
	}
	first := Multilateral(items)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Multilateral(items))
	}
}

func TestSettlementHashDeterministic(t *testing.T) {
	items := []Item{
		{From: "A", To: "B", Amount: 150, Kind: "per_action", ReceiptID: 1},
		{From: "A", To: "B", Amount: 50, Kind: "per_action", ReceiptID: 2},
	}
	reordered := []Item{items[1], items[0]}

	h1, err := SettlementHash(items, "W1", "A", "B")
	require.NoError(t, err)
	h2, err := SettlementHash(reordered, "W1", "A", "B")
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	h3, err := SettlementHash(items, "W2", "A", "B")
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}

func TestProposerHappyPath(t *testing.T) {
	items := []Item{{From: "A", To: "B", Amount: 100}}
	hash, err := SettlementHash(items, "W1", "A", "B")
	require.NoError(t, err)

	p := NewProposal("W1", hash, []string{"B"}, time.Hour)
	require.NoError(t, p.Ack("B", hash, nil))

	full, agreed, disagreed, pending := p.Quorum()
	require.True(t, full)
	require.Equal(t, []string{"B"}, agreed)
	require.Empty(t, disagreed)
	require.Empty(t, pending)

	committed, err := p.Commit()
	require.NoError(t, err)
	require.True(t, committed)

	// Re-propose/commit is a no-op (spec.md §8 idempotence law).
	committed, err = p.Commit()
	require.NoError(t, err)
	require.True(t, committed)
}

func TestProposerDisagreement(t *testing.T) {
	items := []Item{{From: "A", To: "B", Amount: 100}}
	hash, _ := SettlementHash(items, "W1", "A", "B")
	var wrongHash [32]byte
	copy(wrongHash[:], "wrong")

	p := NewProposal("W1", hash, []string{"B"}, time.Hour)
	require.NoError(t, p.Ack("B", wrongHash, []string{"amount mismatch"}))

	_, err := p.Commit()
	require.ErrorIs(t, err, ErrDisagreement)
	require.Equal(t, []string{"B"}, p.Disagreeing())
}

func TestProposerNonResponderExclusion(t *testing.T) {
	items := []Item{{From: "A", To: "B", Amount: 100}, {From: "A", To: "C", Amount: 50}}
	hash, _ := SettlementHash(items, "W1", "A", "BC")

	p := NewProposal("W1", hash, []string{"B", "C"}, time.Millisecond)
	require.NoError(t, p.Ack("B", hash, nil))

	time.Sleep(5 * time.Millisecond)
	excluded := p.ExcludeNonResponders(time.Now())
	require.Equal(t, []string{"C"}, excluded)

	committed, err := p.Commit()
	require.NoError(t, err)
	require.True(t, committed)
}
