// Package netting implements C9: pure bilateral and multilateral netting
// over a settlement window's obligations, plus the propose/ack/commit
// agreement protocol (spec.md §4.6). The computation itself never performs
// I/O — callers snapshot the Obligation Ledger and hand the orchestrator the
// resulting Plan (spec.md §9 "pure netting/dispute/tier functions take
// snapshots and return plans").
package netting

import (
	"sort"

	"hivecore/canonical"
	"hivecore/crypto"
)

// Item is the subset of an obligation.Obligation the netting computation
// needs; callers project their ledger rows into this shape.
type Item struct {
	From      string
	To        string
	Kind      string
	Amount    float64
	ReceiptID uint64
}

// Payment is one settlement instruction produced by netting.
type Payment struct {
	From   string
	To     string
	Amount float64
}

// Bilateral computes spec.md §4.6's bilateral net for exactly one
// counterparty pair: net(A->B) = sum(A->B) - sum(B->A). The returned Payment
// always has From/To set to the pair in the direction money actually flows;
// a zero Amount payment means no escrow is required (spec.md: "amount zero
// implies no escrow").
func Bilateral(items []Item, a, b string) Payment {
	var sum float64
	for _, it := range items {
		switch {
		case it.From == a && it.To == b:
			sum += it.Amount
		case it.From == b && it.To == a:
			sum -= it.Amount
		}
	}
	if sum >= 0 {
		return Payment{From: a, To: b, Amount: sum}
	}
	return Payment{From: b, To: a, Amount: -sum}
}

// BilateralPairs groups items by every counterparty pair present and
// returns one Bilateral Payment per pair, sorted deterministically.
func BilateralPairs(items []Item) []Payment {
	pairs := make(map[[2]string]bool)
	for _, it := range items {
		pairs[canonicalPair(it.From, it.To)] = true
	}
	keys := make([][2]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	out := make([]Payment, 0, len(keys))
	for _, k := range keys {
		p := Bilateral(items, k[0], k[1])
		if p.Amount != 0 {
			out = append(out, p)
		}
	}
	return out
}

func canonicalPair(a, b string) [2]string {
	if a <= b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

// NetPositions computes each participant's net position p_i = sum(owed to
// i) - sum(owed by i), per spec.md §4.6.
func NetPositions(items []Item) map[string]float64 {
	positions := make(map[string]float64)
	for _, it := range items {
		positions[it.To] += it.Amount
		positions[it.From] -= it.Amount
	}
	return positions
}

// party is a net position with a stable id, used to make the greedy
// matching in Multilateral deterministic.
type party struct {
	ID  string
	Net float64
}

// Multilateral computes spec.md §4.6's multilateral settlement: at most
// |positive|+|negative|-1 payments routing from negative-position
// parties to positive-position parties in decreasing-magnitude order with
// exact balance matching. Ties in magnitude are broken by ID so the result
// is byte-identical across honest counterparties (spec.md §8 property 7 /
// the determinism invariant in §4.6).
func Multilateral(items []Item) []Payment {
	positions := NetPositions(items)

	var debtors, creditors []party
	for id, net := range positions {
		switch {
		case net < -epsilon:
			debtors = append(debtors, party{ID: id, Net: -net})
		case net > epsilon:
			creditors = append(creditors, party{ID: id, Net: net})
		}
	}
	sortParties(debtors)
	sortParties(creditors)

	var payments []Payment
	di, ci := 0, 0
	for di < len(debtors) && ci < len(creditors) {
		d := &debtors[di]
		c := &creditors[ci]
		amt := d.Net
		if c.Net < amt {
			amt = c.Net
		}
		if amt > epsilon {
			payments = append(payments, Payment{From: d.ID, To: c.ID, Amount: amt})
		}
		d.Net -= amt
		c.Net -= amt
		if d.Net <= epsilon {
			di++
		}
		if c.Net <= epsilon {
			ci++
		}
	}
	return payments
}

// epsilon absorbs floating-point accumulation error in the obligation sums;
// spec.md §9 directs that genuine ledger disagreements are NOT tolerated
// (NettingDisagreement), this epsilon exists only for same-ledger rounding.
const epsilon = 1e-9

func sortParties(ps []party) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Net != ps[j].Net {
			return ps[i].Net > ps[j].Net
		}
		return ps[i].ID < ps[j].ID
	})
}

// canonicalItems renders items into the canonical form spec.md §6 requires
// for settlement_hash: sorted by (from, to, kind, receiptID).
func canonicalItems(items []Item) canonical.Value {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ReceiptID < b.ReceiptID
	})
	out := make([]canonical.Value, len(sorted))
	for i, it := range sorted {
		out[i] = map[string]canonical.Value{
			"from":      it.From,
			"to":        it.To,
			"kind":      it.Kind,
			"amount":    int64(it.Amount * 1e8), // fixed point with eight decimal places, since Amount is fractional
			"receiptId": it.ReceiptID,
		}
	}
	return out
}

// SettlementHash computes spec.md §6's settlement_hash =
// H(sort(obligations) || window_id || payer || payee).
func SettlementHash(items []Item, windowID, payer, payee string) ([32]byte, error) {
	body := map[string]canonical.Value{
		"obligations": canonicalItems(items),
		"window":      windowID,
		"payer":       payer,
		"payee":       payee,
	}
	enc, err := canonical.Encode(body)
	if err != nil {
		return [32]byte{}, err
	}
	return crypto.Keccak256(enc), nil
}
