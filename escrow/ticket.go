// Package escrow implements C7: conditional bearer-token escrow tickets
// under a P2PK(payee) & HashLock(h) & (Timelock(t) -> P2PK(payer)) spending
// predicate (spec.md §4.5), including the batch/milestone/performance
// composite variants and the daily/weekly spend-cap pricing function.
package escrow

import (
	"fmt"
	"math/big"
	"time"
)

// Status is the lifecycle state of an EscrowTicket (spec.md §3).
type Status string

const (
	StatusActive   Status = "active"
	StatusRedeemed Status = "redeemed"
	StatusRefunded Status = "refunded"
	StatusExpired  Status = "expired"
)

// Kind distinguishes the composite ticket variants spec.md §4.5 describes.
// A batch/milestone/performance "set" is modelled as N Ticket rows sharing
// a BatchID, each independently redeemable under its own hash lock.
type Kind string

const (
	KindSimple            Kind = "simple"
	KindBatch             Kind = "batch"
	KindMilestone         Kind = "milestone"
	KindPerformanceBase   Kind = "performance_base"
	KindPerformanceBonus  Kind = "performance_bonus"
)

// Ticket is one EscrowTicket entity (spec.md §3).
type Ticket struct {
	ID         string
	BatchID    string // shared by batch/milestone/performance siblings; empty for Kind=Simple
	Kind       Kind
	Payer      string
	Payee      string
	Amount     *big.Int
	HashLock   [32]byte // h = H(secret)
	Timelock   time.Time
	Status     Status
	MintToken  string // opaque bearer token reference returned by the mint
	CreatedAt  time.Time
	// RefundedAt is set when Status transitions to Refunded, anchoring the
	// "+N days" grace period before the vault zeroises the ticket's secret
	// (spec.md §3). Zero until a refund occurs.
	RefundedAt time.Time
	// SecretZeroed records that the vault has already zeroised this
	// ticket's secret, so the orchestrator's sweep does not re-scan it.
	SecretZeroed bool
	// MeasurementWindow/Threshold apply only to Kind=KindPerformanceBonus:
	// the secret is revealed only if the observable metric crosses
	// Threshold within [CreatedAt, MeasurementWindow] (spec.md §4.5).
	MeasurementWindow time.Time
	Threshold         float64
}

// SpendingCondition is the wire form spec.md §6 carries opaquely through the
// mint: P2PK(payee) & HashLock(h) & Timelock(t) -> P2PK(payer).
type SpendingCondition struct {
	Nonce        string
	PayeePubKey  []byte
	HashLockHex  string
	Locktime     int64
	RefundPubKey []byte
}

// ToSpendingCondition renders t's predicate in the wire shape the mint
// expects at issue time.
func (t Ticket) ToSpendingCondition(nonce string, payeePubKey, payerPubKey []byte) SpendingCondition {
	return SpendingCondition{
		Nonce:        nonce,
		PayeePubKey:  payeePubKey,
		HashLockHex:  fmt.Sprintf("%x", t.HashLock),
		Locktime:     t.Timelock.UTC().Unix(),
		RefundPubKey: payerPubKey,
	}
}

// IsTerminal reports whether t has reached one of its terminal states
// (spec.md §8 property 3: "exactly one terminal transition").
func (t Ticket) IsTerminal() bool {
	switch t.Status {
	case StatusRedeemed, StatusRefunded, StatusExpired:
		return true
	default:
		return false
	}
}

// RedeemableAt reports whether redemption is legal at instant now: strictly
// before the timelock (spec.md §8 boundary: "t-1s still allow redemption;
// t+0s only allow reclaim by payer").
func (t Ticket) RedeemableAt(now time.Time) bool {
	return now.UTC().Before(t.Timelock.UTC())
}

// ReclaimableAt reports whether the payer may reclaim at instant now: at or
// after the timelock.
func (t Ticket) ReclaimableAt(now time.Time) bool {
	return !now.UTC().Before(t.Timelock.UTC())
}
