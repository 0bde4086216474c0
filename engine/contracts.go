package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hivecore/bond"
	"hivecore/escrow"
	"hivecore/identity"
	"hivecore/market"
	"hivecore/observability"
	"hivecore/orchestrator"
	"hivecore/schema"
)

var (
	_ orchestrator.HeartbeatSource      = (*HeartbeatAdapter)(nil)
	_ orchestrator.RevocationRefresher  = (*RevocationAdapter)(nil)
	_ orchestrator.BondMonitor          = (*BondAdapter)(nil)
	_ orchestrator.EscrowExpirer        = (*EscrowAdapter)(nil)
)

// ContractRegistry is the engine-level home for marketplace Contract
// instances (spec.md §4.9). market.Contract is a bare state-machine value
// with no persistent store of its own; the registry supplies that, plus
// the heartbeat bookkeeping the orchestrator's HeartbeatSource contract
// needs (spec.md §4.10).
type ContractRegistry struct {
	mu        sync.Mutex
	contracts map[string]*market.Contract
}

// NewContractRegistry builds an empty registry.
func NewContractRegistry() *ContractRegistry {
	return &ContractRegistry{contracts: make(map[string]*market.Contract)}
}

// Register adds or replaces a contract under its ID.
func (r *ContractRegistry) Register(c market.Contract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contracts[c.ID] = &c
}

// Get returns a copy of the contract with id.
func (r *ContractRegistry) Get(id string) (market.Contract, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contracts[id]
	if !ok {
		return market.Contract{}, false
	}
	return *c, true
}

// mutate locates the contract with id and applies fn under lock, returning
// a copy of its post-mutation state. It backs the negotiation/trial/renewal
// sub-actions the programmatic API's open_contract endpoint multiplexes.
func (r *ContractRegistry) mutate(id string, fn func(*market.Contract) error) (market.Contract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contracts[id]
	if !ok {
		return market.Contract{}, fmt.Errorf("engine: unknown contract %q", id)
	}
	if err := fn(c); err != nil {
		return market.Contract{}, err
	}
	return *c, nil
}

// Counter advances a Proposed contract's negotiation by one round.
func (r *ContractRegistry) Counter(id string, now, openedAt time.Time) (market.Contract, error) {
	return r.mutate(id, func(c *market.Contract) error { return c.Counter(now, openedAt) })
}

// Accept performs the atomic credential+escrow activation and advances the
// contract to Accepted.
func (r *ContractRegistry) Accept(id string, credentialHash [32]byte, escrowID string, commit func() error) (market.Contract, error) {
	return r.mutate(id, func(c *market.Contract) error { return c.Accept(credentialHash, escrowID, commit) })
}

// BeginTrial transitions an Accepted contract into Trial.
func (r *ContractRegistry) BeginTrial(id string, now time.Time) (market.Contract, error) {
	return r.mutate(id, func(c *market.Contract) error { return c.BeginTrial(now) })
}

// ResolveTrial applies a trial outcome to a Trial-status contract.
func (r *ContractRegistry) ResolveTrial(id string, outcome market.TrialOutcome) (market.Contract, error) {
	return r.mutate(id, func(c *market.Contract) error { return c.ResolveTrial(outcome) })
}

// Renew rolls an Active contract's main window forward, or terminates it
// without cause when AutoRenew is unset.
func (r *ContractRegistry) Renew(id string, now time.Time, nextWindow market.Windows) (market.Contract, error) {
	return r.mutate(id, func(c *market.Contract) error { return c.Renew(now, nextWindow) })
}

func (r *ContractRegistry) isHeartbeating(status market.ContractStatus) bool {
	switch status {
	case market.ContractAccepted, market.ContractTrial, market.ContractActive, market.ContractRenewed:
		return true
	default:
		return false
	}
}

// ActiveContracts implements orchestrator.HeartbeatSource.
func (r *ContractRegistry) ActiveContracts(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id, c := range r.contracts {
		if r.isHeartbeating(c.Status) {
			out = append(out, id)
		}
	}
	return out, nil
}

// HeartbeatProber is the narrow subset of schema.NodeRPC a contract
// heartbeat check needs: proof that the channel backing the contract is
// still alive.
type HeartbeatProber interface {
	Call(ctx context.Context, step schema.RPCStep) (map[string]interface{}, error)
}

// HeartbeatAdapter implements orchestrator.HeartbeatSource over a
// ContractRegistry and the attached node.
type HeartbeatAdapter struct {
	Registry *ContractRegistry
	Node     HeartbeatProber
}

// ActiveContracts delegates to the registry.
func (h *HeartbeatAdapter) ActiveContracts(ctx context.Context) ([]string, error) {
	return h.Registry.ActiveContracts(ctx)
}

// EmitHeartbeat probes the node for liveness of the channel backing
// contractID. A probe error is treated as a missed heartbeat, not a hard
// failure, so one slow node response does not abort the whole sweep.
func (h *HeartbeatAdapter) EmitHeartbeat(ctx context.Context, contractID string) (bool, error) {
	_, ok := h.Registry.Get(contractID)
	if !ok {
		return false, fmt.Errorf("engine: unknown contract %q", contractID)
	}
	if h.Node == nil {
		return true, nil
	}
	_, err := h.Node.Call(ctx, schema.RPCStep{Method: "node.GetInfo", Params: map[string]interface{}{"contract": contractID}})
	return err == nil, nil
}

// TerminateForMissedHeartbeats transitions contractID to Terminated
// (forcause) after MaxHeartbeatMisses consecutive misses (spec.md §4.10).
func (h *HeartbeatAdapter) TerminateForMissedHeartbeats(_ context.Context, contractID string) error {
	h.Registry.mu.Lock()
	defer h.Registry.mu.Unlock()
	c, ok := h.Registry.contracts[contractID]
	if !ok {
		return fmt.Errorf("engine: unknown contract %q", contractID)
	}
	c.Status = market.ContractTerminated
	c.Termination = market.TerminationForCause
	return nil
}

// RevocationAdapter implements orchestrator.RevocationRefresher by
// invalidating the identity cache for every issuer the Engine has ever
// accepted an operation from, forcing the next Submit to re-resolve (C1).
type RevocationAdapter struct {
	Engine   *Engine
	Resolver identity.Resolver
}

// RefreshAll invalidates every tracked issuer's cached identity record.
func (a *RevocationAdapter) RefreshAll(_ context.Context) error {
	for _, id := range a.Engine.TrackedIssuers() {
		a.Resolver.Invalidate(id)
	}
	return nil
}

// BondAdapter implements orchestrator.BondMonitor over a *bond.Store,
// adapting Refund's (owner, now) signature to the scheduler's
// (ctx, owner) contract.
type BondAdapter struct {
	Store *bond.Store
	NowFn func() time.Time
}

// DueForRefund delegates directly to the store.
func (a *BondAdapter) DueForRefund(now time.Time) []string {
	return a.Store.DueForRefund(now)
}

// Refund supplies the current time to bond.Store.Refund and discards the
// resulting Bond value, matching orchestrator.BondMonitor's contract.
func (a *BondAdapter) Refund(_ context.Context, owner string) error {
	now := time.Now().UTC()
	if a.NowFn != nil {
		now = a.NowFn()
	}
	_, err := a.Store.Refund(owner, now)
	return err
}

// EscrowAdapter implements orchestrator.EscrowExpirer over an *escrow.Store,
// adapting ExpireScan's []Ticket return to the scheduler's changed-count
// contract.
type EscrowAdapter struct {
	Store *escrow.Store
}

// ExpireScan delegates to the store and reports how many tickets changed.
// Every ticket this scan moves off Active reaches its terminal state via
// the expiry/reclaim path, never redemption, so each counts as an
// unredeemed terminal transition for the observability gauge.
func (a *EscrowAdapter) ExpireScan(now time.Time, grace time.Duration) int {
	changed := a.Store.ExpireScan(now, grace)
	for range changed {
		observability.Pipeline().RecordEscrowTerminal(false)
	}
	observability.Pipeline().SetEscrowActive(a.Store.ActiveCount())
	return len(changed)
}

// ZeroExpiredRefunds delegates to the store's refund grace-period sweep.
func (a *EscrowAdapter) ZeroExpiredRefunds(now time.Time) int {
	return a.Store.ZeroExpiredRefunds(now)
}
