package escrow

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a ticket id does not exist.
	ErrNotFound = fmt.Errorf("escrow: ticket not found")
	// ErrEscrowExpired is returned when redemption is attempted at or past
	// the timelock, or against a Refunded/Expired ticket.
	ErrEscrowExpired = fmt.Errorf("escrow: ticket expired")
	// ErrNotYetExpired is returned when reclaim is attempted before the
	// timelock.
	ErrNotYetExpired = fmt.Errorf("escrow: timelock not yet reached")
	// ErrBudgetExceeded is returned when issuing a ticket would breach a
	// configured daily/weekly spend cap.
	ErrBudgetExceeded = fmt.Errorf("escrow: spend cap exceeded")
)

// Store is the in-memory ticket and spend-window ledger. Durable
// persistence is the caller's concern (bbolt, mirroring ledger.Store and
// obligation.Ledger); this type owns only the state-machine logic.
type Store struct {
	mu      sync.Mutex
	tickets map[string]*Ticket

	caps   Caps
	spend  *spendWindows
	vault  *Vault
}

// Caps mirrors the Policy Engine's escrow-relevant configuration
// (spec.md §4.2): daily_spend_cap, weekly_spend_cap, per_issuer_daily_cap.
type Caps struct {
	DailyTotal       *big.Int
	WeeklyTotal      *big.Int
	PerIssuerDaily   *big.Int
}

// NewStore builds an empty Store bound to vault and caps.
func NewStore(vault *Vault, caps Caps) *Store {
	return &Store{
		tickets: make(map[string]*Ticket),
		caps:    caps,
		spend:   newSpendWindows(),
		vault:   vault,
	}
}

// Issue mints a new ticket via mint, pre-flight checking the spend caps
// (replenishment itself counts against the daily cap, per spec.md §9's
// resolution of that open question) and the mint's advertised token
// capability set, then persists the ticket Active (spec.md §4.5 "issue").
func (s *Store) Issue(ctx context.Context, mint Mint, id, payer, payee string, amount *big.Int, timelock time.Time, now time.Time, kind Kind, batchID string) (Ticket, error) {
	if err := VerifyCapabilities(ctx, mint); err != nil {
		return Ticket{}, err
	}

	s.mu.Lock()
	if _, exists := s.tickets[id]; exists {
		s.mu.Unlock()
		return Ticket{}, fmt.Errorf("escrow: ticket id %q already issued", id)
	}
	if !s.spend.wouldFit(payer, amount, s.caps, now) {
		s.mu.Unlock()
		return Ticket{}, ErrBudgetExceeded
	}
	s.mu.Unlock()

	hashLock, err := s.vault.GenerateSecret(id)
	if err != nil {
		return Ticket{}, err
	}
	cond := Ticket{HashLock: hashLock, Timelock: timelock}.ToSpendingCondition(id, []byte(payee), []byte(payer))
	token, err := mint.Issue(ctx, cond, amount)
	if err != nil {
		return Ticket{}, fmt.Errorf("escrow: mint issue: %w", err)
	}
	spent, err := mint.CheckState(ctx, token)
	if err != nil {
		return Ticket{}, fmt.Errorf("escrow: mint checkstate: %w", err)
	}
	if spent {
		return Ticket{}, fmt.Errorf("escrow: mint returned an already-spent token")
	}

	t := &Ticket{
		ID: id, BatchID: batchID, Kind: kind,
		Payer: payer, Payee: payee, Amount: new(big.Int).Set(amount),
		HashLock: hashLock, Timelock: timelock, Status: StatusActive,
		MintToken: token, CreatedAt: now,
	}

	s.mu.Lock()
	s.tickets[id] = t
	s.spend.record(payer, amount, now)
	s.mu.Unlock()
	return *t, nil
}

// Get returns a copy of the ticket with id.
func (s *Store) Get(id string) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	return *t, nil
}

// Reveal returns the ticket's secret, emitted only after an independent
// caller provides proof the completion event occurred (spec.md §4.5:
// "emits the secret only after... a signed countersignature on the
// corresponding receipt"). Callers must verify that countersignature
// before calling Reveal; this method itself only enforces idempotence.
func (s *Store) Reveal(id string) ([]byte, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	return s.vault.Reveal(id)
}

// Redeem is the payee-side terminal transition: Active -> Redeemed, legal
// only strictly before the timelock (spec.md §8 boundary behaviour). A
// retry against an already-Redeemed ticket is an idempotent no-op.
func (s *Store) Redeem(ctx context.Context, mint Mint, id string, secret []byte, payeeSig []byte, now time.Time) (Ticket, error) {
	s.mu.Lock()
	t, ok := s.tickets[id]
	if !ok {
		s.mu.Unlock()
		return Ticket{}, ErrNotFound
	}
	if t.Status == StatusRedeemed {
		out := *t
		s.mu.Unlock()
		return out, nil
	}
	if t.Status != StatusActive {
		s.mu.Unlock()
		return Ticket{}, ErrEscrowExpired
	}
	if !t.RedeemableAt(now) {
		s.mu.Unlock()
		return Ticket{}, ErrEscrowExpired
	}
	token := t.MintToken
	s.mu.Unlock()

	if err := mint.Redeem(ctx, token, secret, payeeSig); err != nil {
		return Ticket{}, fmt.Errorf("escrow: mint redeem: %w", err)
	}

	s.mu.Lock()
	t.Status = StatusRedeemed
	t.SecretZeroed = true
	out := *t
	s.mu.Unlock()
	s.vault.Zero(id)
	return out, nil
}

// Reclaim is the payer-side terminal transition: Active -> Refunded, legal
// only at or after the timelock. A retry against an already-Refunded
// ticket is an idempotent no-op.
func (s *Store) Reclaim(id string, now time.Time) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	if t.Status == StatusRefunded {
		return *t, nil
	}
	if t.Status != StatusActive && t.Status != StatusExpired {
		return Ticket{}, fmt.Errorf("escrow: cannot reclaim ticket in status %q", t.Status)
	}
	if !t.ReclaimableAt(now) {
		return Ticket{}, ErrNotYetExpired
	}
	t.Status = StatusRefunded
	t.RefundedAt = now
	return *t, nil
}

// ZeroExpiredRefunds zeroises the vault secret of every Refunded ticket
// whose RefundGracePeriod has elapsed since RefundedAt (spec.md §3:
// "zeroised on redemption or refund+N days"), completing the half of that
// lifecycle invariant Redeem's immediate zeroisation does not cover.
// Already-zeroised tickets are skipped, so a retried sweep is a no-op.
func (s *Store) ZeroExpiredRefunds(now time.Time) int {
	s.mu.Lock()
	var due []string
	for id, t := range s.tickets {
		if t.Status != StatusRefunded || t.SecretZeroed {
			continue
		}
		if !now.UTC().Before(t.RefundedAt.UTC().Add(RefundGracePeriod)) {
			due = append(due, id)
		}
	}
	s.mu.Unlock()

	for _, id := range due {
		s.vault.Zero(id)
		s.mu.Lock()
		if t, ok := s.tickets[id]; ok {
			t.SecretZeroed = true
		}
		s.mu.Unlock()
	}
	return len(due)
}

// ExpireScan implements spec.md §4.5's background scanner: advances every
// Active ticket whose timelock plus grace has elapsed to Expired, then
// attempts an automatic reclaim. Returns the set of tickets that changed
// state this scan, for the orchestrator to hand to Reclaim's receipt path.
func (s *Store) ExpireScan(now time.Time, grace time.Duration) []Ticket {
	s.mu.Lock()
	var candidates []string
	for id, t := range s.tickets {
		if t.Status == StatusActive && now.UTC().After(t.Timelock.UTC().Add(grace)) {
			candidates = append(candidates, id)
		}
	}
	s.mu.Unlock()

	var changed []Ticket
	for _, id := range candidates {
		s.mu.Lock()
		t := s.tickets[id]
		if t.Status == StatusActive {
			t.Status = StatusExpired
		}
		snapshot := *t
		s.mu.Unlock()
		changed = append(changed, snapshot)

		if reclaimed, err := s.Reclaim(id, now); err == nil {
			changed[len(changed)-1] = reclaimed
		}
	}
	return changed
}

// ActiveCount reports how many tickets are currently Active, for the
// observability gauge.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tickets {
		if t.Status == StatusActive {
			n++
		}
	}
	return n
}

// spendWindows tracks the rolling daily/weekly/per-issuer spend sums
// backing the budget invariant in spec.md §4.5.
type spendWindows struct {
	mu      sync.Mutex
	daily   map[string][]timedAmount // keyed by issuer; "" holds the all-issuer total
	weekly  map[string][]timedAmount
}

type timedAmount struct {
	at     time.Time
	amount *big.Int
}

func newSpendWindows() *spendWindows {
	return &spendWindows{daily: make(map[string][]timedAmount), weekly: make(map[string][]timedAmount)}
}

func (w *spendWindows) wouldFit(issuer string, amount *big.Int, caps Caps, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	dailyTotal := w.sum(w.daily[""], now, 24*time.Hour)
	weeklyTotal := w.sum(w.weekly[""], now, 7*24*time.Hour)
	issuerDaily := w.sum(w.daily[issuer], now, 24*time.Hour)

	if caps.DailyTotal != nil && new(big.Int).Add(dailyTotal, amount).Cmp(caps.DailyTotal) > 0 {
		return false
	}
	if caps.WeeklyTotal != nil && new(big.Int).Add(weeklyTotal, amount).Cmp(caps.WeeklyTotal) > 0 {
		return false
	}
	if caps.PerIssuerDaily != nil && new(big.Int).Add(issuerDaily, amount).Cmp(caps.PerIssuerDaily) > 0 {
		return false
	}
	return true
}

func (w *spendWindows) sum(entries []timedAmount, now time.Time, window time.Duration) *big.Int {
	total := big.NewInt(0)
	cutoff := now.Add(-window)
	for _, e := range entries {
		if e.at.After(cutoff) {
			total.Add(total, e.amount)
		}
	}
	return total
}

func (w *spendWindows) record(issuer string, amount *big.Int, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	entry := timedAmount{at: now, amount: new(big.Int).Set(amount)}
	w.daily[""] = prune(append(w.daily[""], entry), now, 24*time.Hour)
	w.weekly[""] = prune(append(w.weekly[""], entry), now, 7*24*time.Hour)
	w.daily[issuer] = prune(append(w.daily[issuer], entry), now, 24*time.Hour)
}

func prune(entries []timedAmount, now time.Time, window time.Duration) []timedAmount {
	cutoff := now.Add(-window)
	out := entries[:0]
	for _, e := range entries {
		if e.at.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}
