package bond

import (
	"fmt"
	"math/big"
	"sync"
	"time"
)

// Status is the lifecycle state of a posted Bond (spec.md §3).
type Status string

const (
	StatusActive   Status = "active"
	StatusSlashed  Status = "slashed"  // partial: bond remains Active for further slashing
	StatusRefunded Status = "refunded"
	StatusForfeited Status = "forfeited"
)

// SlashEntry is one append to a bond's slash-log (spec.md §3 "slash-log").
type SlashEntry struct {
	Amount    *big.Int
	Reason    string
	DisputeID string
	At        time.Time
}

// Bond is the multi-signature-guarded collateral a hive member posts
// (spec.md §4.8): held under predicate MultiSig(k-of-n honest witnesses) OR
// Timelock(t_refund) -> P2PK(owner).
type Bond struct {
	Owner       string
	Amount      *big.Int // amount remaining after slashing
	Posted      *big.Int // original posted amount, monotone reference for "slashed <= posted"
	Locktime    time.Time
	Status      Status
	SlashLog    []SlashEntry
	PostedAt    time.Time
}

// SlashedTotal sums every entry in the slash log.
func (b Bond) SlashedTotal() *big.Int {
	total := big.NewInt(0)
	for _, e := range b.SlashLog {
		total.Add(total, e.Amount)
	}
	return total
}

var (
	// ErrAlreadyPosted is returned by Store.Post when owner already has a
	// bond (spec.md §3: "Bond is unique per owner").
	ErrAlreadyPosted = fmt.Errorf("bond: owner already has a posted bond")
	// ErrNotFound is returned for an owner with no bond.
	ErrNotFound = fmt.Errorf("bond: not found")
	// ErrNotActive is returned when an operation requires a live (Active or
	// Slashed) bond.
	ErrNotActive = fmt.Errorf("bond: not active")
	// ErrSlashExceedsRemaining caps slashing at the amount still posted.
	ErrSlashExceedsRemaining = fmt.Errorf("bond: slash exceeds remaining amount")
)

// Store is the in-memory (snapshot-backed by the caller's persistence layer,
// mirroring obligation.Ledger's bbolt pattern at the orchestrator level)
// bond lifecycle store.
type Store struct {
	mu    sync.Mutex
	bonds map[string]*Bond
}

// NewStore builds an empty bond Store.
func NewStore() *Store {
	return &Store{bonds: make(map[string]*Bond)}
}

// Post creates a new Active bond for owner.
func (s *Store) Post(owner string, amount *big.Int, locktime time.Time, now time.Time) (Bond, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bonds[owner]; exists {
		return Bond{}, ErrAlreadyPosted
	}
	b := &Bond{
		Owner:    owner,
		Amount:   new(big.Int).Set(amount),
		Posted:   new(big.Int).Set(amount),
		Locktime: locktime,
		Status:   StatusActive,
		PostedAt: now,
	}
	s.bonds[owner] = b
	return *b, nil
}

// Get returns the bond posted by owner.
func (s *Store) Get(owner string) (Bond, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bonds[owner]
	if !ok {
		return Bond{}, ErrNotFound
	}
	return *b, nil
}

// Slash reduces owner's bond by amount, recording the reason and dispute
// reference. The bond moves to Slashed (partial slash) and can be slashed
// again, unless amount exhausts it entirely, in which case it transitions
// to Forfeited.
func (s *Store) Slash(owner string, amount *big.Int, reason, disputeID string, now time.Time) (Bond, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bonds[owner]
	if !ok {
		return Bond{}, ErrNotFound
	}
	if b.Status != StatusActive && b.Status != StatusSlashed {
		return Bond{}, ErrNotActive
	}
	if amount.Cmp(b.Amount) > 0 {
		return Bond{}, ErrSlashExceedsRemaining
	}
	b.Amount = new(big.Int).Sub(b.Amount, amount)
	b.SlashLog = append(b.SlashLog, SlashEntry{Amount: new(big.Int).Set(amount), Reason: reason, DisputeID: disputeID, At: now})
	if b.Amount.Sign() == 0 {
		b.Status = StatusForfeited
	} else {
		b.Status = StatusSlashed
	}
	return *b, nil
}

// Refund transitions an Active (or partially Slashed but still positive)
// bond to Refunded. Usable only once the locktime has passed.
func (s *Store) Refund(owner string, now time.Time) (Bond, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bonds[owner]
	if !ok {
		return Bond{}, ErrNotFound
	}
	if b.Status != StatusActive && b.Status != StatusSlashed {
		return Bond{}, ErrNotActive
	}
	if now.Before(b.Locktime) {
		return Bond{}, fmt.Errorf("bond: locktime %s not yet reached", b.Locktime)
	}
	b.Status = StatusRefunded
	return *b, nil
}

// AllBonds returns a snapshot of every Active or Slashed bond, used by the
// Dispute panel's eligibility filter (spec.md §4.7 step 2).
func (s *Store) AllBonds() []Bond {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Bond, 0, len(s.bonds))
	for _, b := range s.bonds {
		if b.Status == StatusActive || b.Status == StatusSlashed {
			out = append(out, *b)
		}
	}
	return out
}

// AllByAmount returns every live bond's remaining amount, the input
// MedianBond takes to compute the median that MinimumBondToJoin expects.
func (s *Store) AllByAmount() []*big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*big.Int, 0, len(s.bonds))
	for _, b := range s.bonds {
		if b.Status == StatusActive || b.Status == StatusSlashed {
			out = append(out, new(big.Int).Set(b.Amount))
		}
	}
	return out
}

// DueForRefund returns the owners of every Active/Slashed bond whose
// locktime has been reached as of now, for the Orchestration Loop's
// bond-timelock monitoring tick (spec.md §4.10).
func (s *Store) DueForRefund(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for owner, b := range s.bonds {
		if (b.Status == StatusActive || b.Status == StatusSlashed) && !now.Before(b.Locktime) {
			out = append(out, owner)
		}
	}
	return out
}

// MedianBond computes the median of a set of bond amounts, sorting a copy
// so the caller's slice is left unchanged.
func MedianBond(amounts []*big.Int) *big.Int {
	if len(amounts) == 0 {
		return big.NewInt(0)
	}
	sorted := make([]*big.Int, len(amounts))
	copy(sorted, amounts)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].Cmp(sorted[j]) > 0; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return new(big.Int).Set(sorted[mid])
	}
	sum := new(big.Int).Add(sorted[mid-1], sorted[mid])
	return sum.Div(sum, big.NewInt(2))
}
