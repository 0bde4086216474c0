// Package orchestrator implements C14: the single cooperative scheduler
// that multiplexes settlement-window closure, escrow-expiry scans,
// revocation-cache refresh, contract heartbeats and bond-timelock
// monitoring over a CPU-bounded worker pool (spec.md §4.10/§5).
package orchestrator

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// Defaults for the five periodic concerns spec.md §4.10 names.
const (
	DefaultSettlementInterval   = time.Hour
	DefaultEscrowInterval       = time.Minute
	DefaultRevocationInterval   = time.Hour
	DefaultHeartbeatInterval    = time.Hour
	DefaultBondInterval         = time.Hour
	DefaultPolicyWindowInterval = 24 * time.Hour

	// MaxHeartbeatMisses is spec.md §4.10's "3 consecutive misses ⇒
	// terminate".
	MaxHeartbeatMisses = 3

	// baseResolution is how often the scheduler's single ticker wakes to
	// check which per-concern intervals have elapsed; it must divide every
	// interval above evenly for "hourly"/"minutely" ticks to land on clean
	// boundaries.
	baseResolution = time.Minute
)

// SettlementCloser closes the settlement window for one counterparty group,
// invoking the Netting Engine (C9).
type SettlementCloser interface {
	SettlementGroups(ctx context.Context) ([]string, error)
	CloseWindow(ctx context.Context, group string) error
}

// EscrowExpirer advances expired escrow tickets and zeroises the secrets of
// tickets that passed their refund grace period (C7).
type EscrowExpirer interface {
	ExpireScan(now time.Time, grace time.Duration) (changed int)
	ZeroExpiredRefunds(now time.Time) (zeroed int)
}

// RevocationRefresher invalidates cached identity records so the next
// resolve re-fetches (C1).
type RevocationRefresher interface {
	RefreshAll(ctx context.Context) error
}

// HeartbeatSource enumerates active contracts and emits/detects their
// per-interval heartbeat (C12).
type HeartbeatSource interface {
	ActiveContracts(ctx context.Context) ([]string, error)
	EmitHeartbeat(ctx context.Context, contractID string) (ok bool, err error)
	TerminateForMissedHeartbeats(ctx context.Context, contractID string) error
}

// BondMonitor surfaces bonds whose locktime has been reached for refund
// (C11).
type BondMonitor interface {
	DueForRefund(now time.Time) []string
	Refund(ctx context.Context, owner string) error
}

// PolicyWindowRoller resets the Policy Engine's sliding fee-change-% window
// once a resource's 24h accumulation window elapses (C4).
type PolicyWindowRoller interface {
	TrackedResources() []string
	RollFeeWindow(resource string)
}

// Deps wires the Scheduler to its six collaborators. Any interface may be
// nil, in which case that concern is skipped — useful for tests exercising
// one concern in isolation.
type Deps struct {
	Settlement SettlementCloser
	Escrow     EscrowExpirer
	Revocation RevocationRefresher
	Heartbeats HeartbeatSource
	Bonds      BondMonitor
	Policy     PolicyWindowRoller

	EscrowGrace time.Duration
	NowFn       func() time.Time
	WorkerCount int

	// Intervals, all defaulted if zero.
	SettlementInterval   time.Duration
	EscrowInterval       time.Duration
	RevocationInterval   time.Duration
	HeartbeatInterval    time.Duration
	BondInterval         time.Duration
	PolicyWindowInterval time.Duration

	OnTaskError func(task string, err error)
}

// Scheduler is C14's single cooperative dispatcher.
type Scheduler struct {
	deps Deps
	pool *workerPool

	mu            sync.Mutex
	lastRun       map[string]time.Time
	heartbeatMiss map[string]int

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Scheduler from deps, applying defaults for any zero-valued
// interval/worker-count field.
func New(deps Deps) *Scheduler {
	if deps.NowFn == nil {
		deps.NowFn = time.Now
	}
	if deps.WorkerCount <= 0 {
		deps.WorkerCount = runtime.NumCPU()
	}
	if deps.SettlementInterval <= 0 {
		deps.SettlementInterval = DefaultSettlementInterval
	}
	if deps.EscrowInterval <= 0 {
		deps.EscrowInterval = DefaultEscrowInterval
	}
	if deps.RevocationInterval <= 0 {
		deps.RevocationInterval = DefaultRevocationInterval
	}
	if deps.HeartbeatInterval <= 0 {
		deps.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if deps.BondInterval <= 0 {
		deps.BondInterval = DefaultBondInterval
	}
	if deps.PolicyWindowInterval <= 0 {
		deps.PolicyWindowInterval = DefaultPolicyWindowInterval
	}
	return &Scheduler{
		deps:          deps,
		pool:          newWorkerPool(deps.WorkerCount),
		lastRun:       make(map[string]time.Time),
		heartbeatMiss: make(map[string]int),
	}
}

// Run drives the scheduler's single ticker until ctx is cancelled or Stop
// is called. It is the one goroutine spec.md §5 describes as
// "single-threaded cooperative at the per-subject level"; actual task work
// is dispatched onto the bounded worker pool, never run inline.
func (s *Scheduler) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	defer close(s.done)

	ticker := time.NewTicker(baseResolution)
	defer ticker.Stop()

	s.tick(ctx) // run once immediately so a short-lived test doesn't wait a full tick
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop cancels a running Scheduler, waits for its ticker goroutine to exit,
// then drains the worker pool so no dispatched task is left running.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	s.pool.wait()
}

// nextDue reports whether task is due at now given interval, recording now
// as its last run if so.
func (s *Scheduler) nextDue(task string, interval time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[task]
	if ok && now.Sub(last) < interval {
		return false
	}
	s.lastRun[task] = now
	return true
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.deps.NowFn().UTC()

	if s.deps.Escrow != nil && s.nextDue("escrow_expiry", s.deps.EscrowInterval, now) {
		s.pool.submit(func() { s.runEscrowExpiry(now) })
	}
	if s.deps.Settlement != nil && s.nextDue("settlement_close", s.deps.SettlementInterval, now) {
		s.pool.submit(func() { s.runSettlementClose(ctx) })
	}
	if s.deps.Revocation != nil && s.nextDue("revocation_refresh", s.deps.RevocationInterval, now) {
		s.pool.submit(func() { s.runRevocationRefresh(ctx) })
	}
	if s.deps.Heartbeats != nil && s.nextDue("heartbeat", s.deps.HeartbeatInterval, now) {
		s.pool.submit(func() { s.runHeartbeats(ctx) })
	}
	if s.deps.Bonds != nil && s.nextDue("bond_timelock", s.deps.BondInterval, now) {
		s.pool.submit(func() { s.runBondRefunds(ctx, now) })
	}
	if s.deps.Policy != nil && s.nextDue("policy_window_roll", s.deps.PolicyWindowInterval, now) {
		s.pool.submit(func() { s.runPolicyWindowRoll() })
	}
}

func (s *Scheduler) reportErr(task string, err error) {
	if err != nil && s.deps.OnTaskError != nil {
		s.deps.OnTaskError(task, err)
	}
}

func (s *Scheduler) runEscrowExpiry(now time.Time) {
	s.deps.Escrow.ExpireScan(now, s.deps.EscrowGrace)
	s.deps.Escrow.ZeroExpiredRefunds(now)
}

func (s *Scheduler) runSettlementClose(ctx context.Context) {
	groups, err := s.deps.Settlement.SettlementGroups(ctx)
	if err != nil {
		s.reportErr("settlement_close", err)
		return
	}
	for _, g := range groups {
		if err := s.deps.Settlement.CloseWindow(ctx, g); err != nil {
			s.reportErr("settlement_close:"+g, err)
		}
	}
}

func (s *Scheduler) runRevocationRefresh(ctx context.Context) {
	s.reportErr("revocation_refresh", s.deps.Revocation.RefreshAll(ctx))
}

// runHeartbeats emits a heartbeat for every active contract, tracking
// consecutive misses and terminating at MaxHeartbeatMisses (spec.md §4.10).
func (s *Scheduler) runHeartbeats(ctx context.Context) {
	contracts, err := s.deps.Heartbeats.ActiveContracts(ctx)
	if err != nil {
		s.reportErr("heartbeat", err)
		return
	}
	for _, id := range contracts {
		ok, err := s.deps.Heartbeats.EmitHeartbeat(ctx, id)
		if err != nil {
			s.reportErr("heartbeat:"+id, err)
			continue
		}
		s.mu.Lock()
		if ok {
			delete(s.heartbeatMiss, id)
			s.mu.Unlock()
			continue
		}
		s.heartbeatMiss[id]++
		misses := s.heartbeatMiss[id]
		s.mu.Unlock()
		if misses >= MaxHeartbeatMisses {
			if err := s.deps.Heartbeats.TerminateForMissedHeartbeats(ctx, id); err != nil {
				s.reportErr("heartbeat_terminate:"+id, err)
				continue
			}
			s.mu.Lock()
			delete(s.heartbeatMiss, id)
			s.mu.Unlock()
		}
	}
}

func (s *Scheduler) runBondRefunds(ctx context.Context, now time.Time) {
	for _, owner := range s.deps.Bonds.DueForRefund(now) {
		if err := s.deps.Bonds.Refund(ctx, owner); err != nil {
			s.reportErr("bond_refund:"+owner, err)
		}
	}
}

// runPolicyWindowRoll resets every resource's accumulated fee-change-%
// state once per PolicyWindowInterval (default 24h), so the numeric cap in
// policy.Engine.Evaluate is judged against a genuinely sliding window
// instead of a total that only ever grows.
func (s *Scheduler) runPolicyWindowRoll() {
	for _, resource := range s.deps.Policy.TrackedResources() {
		s.deps.Policy.RollFeeWindow(resource)
	}
}
