package policy

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DenialCode is the stable machine-readable code for a policy rejection,
// matching the deterministic rule order from spec.md §4.2.
type DenialCode string

const (
	DenyProtectedResource    DenialCode = "protected_resource"
	DenyForbiddenCounterparty DenialCode = "forbidden_counterparty"
	DenyQuietHours           DenialCode = "quiet_hours"
	DenyRateLimit            DenialCode = "rate_limit"
	DenyNumericCap           DenialCode = "numeric_cap"
)

// Request is the subset of an operation the policy engine needs to rule on.
type Request struct {
	Issuer        string
	Schema        string
	Action        string
	IsMonitoring  bool
	Danger        int
	TargetResource string
	Counterparty   string
	FeeChangePct   float64 // 0 if not a fee-change action
	RebalanceAmt   float64 // 0 if not a rebalance action
	Now            time.Time
}

// Outcome is the result of evaluating a Request.
type Outcome struct {
	Admitted bool
	Pending  bool
	Denied   bool
	Code     DenialCode
	Detail   string
}

// windowState tracks sliding-window accumulation needed by the numeric-cap
// rule (fee-change % per 24h per channel, spend caps).
type windowState struct {
	mu           sync.Mutex
	feeChangePct map[string]float64 // per target resource, resets externally on window roll
	spendDaily   map[string]float64 // per issuer
	spendWeekly  map[string]float64
}

func newWindowState() *windowState {
	return &windowState{
		feeChangePct: make(map[string]float64),
		spendDaily:   make(map[string]float64),
		spendWeekly:  make(map[string]float64),
	}
}

// Engine evaluates requests against a Config in the fixed rule order spec.md
// §4.2 mandates: protected-resource ⇒ forbidden-counterparty ⇒ quiet-hours
// ⇒ rate-limit ⇒ numeric-cap ⇒ danger-threshold. The first matching denial
// wins; a danger-above-threshold request is handed to the caller to enqueue
// (see queue.go), never auto-denied here.
type Engine struct {
	cfg   Config
	state *windowState

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// New builds an Engine bound to cfg. Callers own cfg's lifetime and may
// mutate the ProtectedResources/ForbiddenCounterparties maps under their own
// synchronization between evaluations (the engine does not copy them).
func New(cfg Config) *Engine {
	return &Engine{
		cfg:      cfg,
		state:    newWindowState(),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Evaluate runs the deterministic rule chain against req. It does not by
// itself decide the danger-threshold outcome (Pending) — call
// NeedsConfirmation after a clean Evaluate to decide whether the caller must
// enqueue.
func (e *Engine) Evaluate(req Request) Outcome {
	if e.cfg.ProtectedResources[req.TargetResource] {
		return Outcome{Denied: true, Code: DenyProtectedResource, Detail: fmt.Sprintf("resource %q is protected", req.TargetResource)}
	}
	if req.Counterparty != "" && e.cfg.ForbiddenCounterparties[req.Counterparty] {
		return Outcome{Denied: true, Code: DenyForbiddenCounterparty, Detail: fmt.Sprintf("counterparty %q is forbidden", req.Counterparty)}
	}
	if e.cfg.QuietHours.Enabled && !req.IsMonitoring && inQuietHours(e.cfg.QuietHours, req.Now) {
		return Outcome{Denied: true, Code: DenyQuietHours, Detail: "only monitoring operations permitted during quiet hours"}
	}
	if !e.allowRate(req) {
		return Outcome{Denied: true, Code: DenyRateLimit, Detail: fmt.Sprintf("rate limit exceeded for issuer %q schema %q", req.Issuer, req.Schema)}
	}
	if ok, detail := e.checkNumericCaps(req); !ok {
		return Outcome{Denied: true, Code: DenyNumericCap, Detail: detail}
	}
	return Outcome{Admitted: true}
}

// NeedsConfirmation reports whether req's danger score exceeds the
// currently-effective max-danger-autoexec threshold.
func (e *Engine) NeedsConfirmation(req Request) bool {
	return req.Danger > e.cfg.EffectiveMaxDanger(req.Now)
}

func inQuietHours(qh QuietHours, now time.Time) bool {
	start, err1 := time.Parse("15:04", qh.Start)
	end, err2 := time.Parse("15:04", qh.End)
	if err1 != nil || err2 != nil {
		return false
	}
	nowMinutes := now.UTC().Hour()*60 + now.UTC().Minute()
	startMinutes := start.Hour()*60 + start.Minute()
	endMinutes := end.Hour()*60 + end.Minute()
	if startMinutes <= endMinutes {
		return nowMinutes >= startMinutes && nowMinutes < endMinutes
	}
	// Window wraps midnight.
	return nowMinutes >= startMinutes || nowMinutes < endMinutes
}

func (e *Engine) allowRate(req Request) bool {
	if e.cfg.RateLimitPerSecond <= 0 {
		return true
	}
	key := req.Issuer + "|" + req.Schema
	e.limiterMu.Lock()
	limiter, ok := e.limiters[key]
	if !ok {
		burst := e.cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(e.cfg.RateLimitPerSecond), burst)
		e.limiters[key] = limiter
	}
	e.limiterMu.Unlock()
	return limiter.Allow()
}

// checkNumericCaps evaluates the rebalance-amount and cumulative
// fee-change-% caps without mutating e.state: Evaluate must stay
// side-effect-free so a request that is later rejected by a downstream
// pipeline stage (translation, node RPC, receipt persistence) never
// permanently consumes cap room. Callers commit the fee-change amount via
// CommitFeeChange only once the operation that passed Evaluate has fully
// succeeded (mirroring replay.Guard.Advance's fail-closed commit point).
func (e *Engine) checkNumericCaps(req Request) (bool, string) {
	caps := DefaultPresetCaps(e.cfg.Preset)
	if req.RebalanceAmt > 0 {
		limit := e.cfg.MaxRebalanceAmount
		if limit <= 0 {
			limit = caps.MaxRebalanceAmount
		}
		if req.RebalanceAmt > limit {
			return false, fmt.Sprintf("rebalance amount %.2f exceeds cap %.2f", req.RebalanceAmt, limit)
		}
	}
	if req.FeeChangePct != 0 {
		e.state.mu.Lock()
		cumulative := e.state.feeChangePct[req.TargetResource] + req.FeeChangePct
		e.state.mu.Unlock()
		limit := e.cfg.MaxFeeChangePer24hPct
		if limit <= 0 {
			limit = caps.MaxFeeChangePerWindowPct
		}
		if cumulative > limit {
			return false, fmt.Sprintf("cumulative fee change %.2f%% would exceed 24h cap %.2f%%", cumulative, limit)
		}
	}
	return true, ""
}

// CommitFeeChange records a fee-change operation's percentage against
// resource's cumulative 24h total. Callers must only invoke this after the
// request that passed Evaluate has fully executed and persisted (spec.md
// §4.2: "caps are evaluated against the hypothetical post-execution
// state"); a zero pct is a no-op so callers may call this unconditionally.
func (e *Engine) CommitFeeChange(resource string, pct float64) {
	if pct == 0 {
		return
	}
	e.state.mu.Lock()
	e.state.feeChangePct[resource] += pct
	e.state.mu.Unlock()
}

// TrackedResources returns every resource with nonzero accumulated
// fee-change state, for the orchestrator's periodic window roll.
func (e *Engine) TrackedResources() []string {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()
	out := make([]string, 0, len(e.state.feeChangePct))
	for resource := range e.state.feeChangePct {
		out = append(out, resource)
	}
	return out
}

// RollFeeWindow resets the accumulated fee-change-% state for resource,
// called by the orchestrator when a 24h window elapses.
func (e *Engine) RollFeeWindow(resource string) {
	e.state.mu.Lock()
	delete(e.state.feeChangePct, resource)
	e.state.mu.Unlock()
}
