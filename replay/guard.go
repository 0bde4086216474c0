// Package replay implements C3: a monotonic-nonce and bounded-skew timestamp
// check per issuer (spec.md §4.1 stage 2, §5 ordering guarantees). It is
// adapted from the gateway HMAC authenticator's nonce cache, generalised
// from per-request nonces to the strictly-increasing per-issuer sequence
// spec.md requires.
package replay

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultSkew is the maximum allowed clock skew between an operation's
// timestamp and local time (spec.md §4.1 stage 2 / §8 boundary: exactly
// 300s accepts, 301s rejects).
const DefaultSkew = 300 * time.Second

// Persistence durably records the last accepted nonce per issuer so a
// process restart cannot accept a replay (spec.md §8 round-trip law:
// append+crash-recovery rebuilds the same state).
type Persistence interface {
	LoadLastNonce(ctx context.Context, issuer string) (uint64, bool, error)
	StoreLastNonce(ctx context.Context, issuer string, nonce uint64) error
}

// Guard enforces spec.md §4.1 stage 2 and §5's per-issuer ordering
// guarantee. Advance is only ever called after the full pipeline succeeds;
// a rejected operation never moves last_nonce (fail-closed).
type Guard struct {
	skew        time.Duration
	nowFn       func() time.Time
	persistence Persistence

	mu   sync.Mutex
	last map[string]uint64
}

// New builds a Guard. skew <= 0 uses DefaultSkew.
func New(skew time.Duration, nowFn func() time.Time, persistence Persistence) *Guard {
	if skew <= 0 {
		skew = DefaultSkew
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Guard{
		skew:        skew,
		nowFn:       nowFn,
		persistence: persistence,
		last:        make(map[string]uint64),
	}
}

// Hydrate warms the in-memory last-nonce table from persistence for issuer.
// Call lazily on first sight of an issuer, or eagerly at startup for known
// issuers.
func (g *Guard) Hydrate(ctx context.Context, issuer string) error {
	if g.persistence == nil {
		return nil
	}
	g.mu.Lock()
	_, known := g.last[issuer]
	g.mu.Unlock()
	if known {
		return nil
	}
	nonce, ok, err := g.persistence.LoadLastNonce(ctx, issuer)
	if err != nil {
		return fmt.Errorf("replay: hydrate %q: %w", issuer, err)
	}
	if !ok {
		return nil
	}
	g.mu.Lock()
	if _, exists := g.last[issuer]; !exists {
		g.last[issuer] = nonce
	}
	g.mu.Unlock()
	return nil
}

// Check validates nonce and timestamp without mutating state. Returns a
// descriptive error on ReplayOrSkew.
func (g *Guard) Check(issuer string, nonce uint64, ts time.Time) error {
	now := g.nowFn().UTC()
	skew := now.Sub(ts.UTC())
	if skew < 0 {
		skew = -skew
	}
	if skew > g.skew {
		return fmt.Errorf("replay: timestamp skew %s exceeds allowed %s", skew, g.skew)
	}
	g.mu.Lock()
	last, ok := g.last[issuer]
	g.mu.Unlock()
	if ok && nonce <= last {
		return fmt.Errorf("replay: nonce %d not greater than last accepted nonce %d for issuer %q", nonce, last, issuer)
	}
	return nil
}

// Advance records nonce as the new last-accepted value for issuer. Must only
// be called after the entire command pipeline has succeeded.
func (g *Guard) Advance(ctx context.Context, issuer string, nonce uint64) error {
	g.mu.Lock()
	last, ok := g.last[issuer]
	if ok && nonce <= last {
		g.mu.Unlock()
		return fmt.Errorf("replay: refusing to advance issuer %q nonce backwards (%d <= %d)", issuer, nonce, last)
	}
	g.last[issuer] = nonce
	g.mu.Unlock()
	if g.persistence != nil {
		if err := g.persistence.StoreLastNonce(ctx, issuer, nonce); err != nil {
			return fmt.Errorf("replay: persist nonce: %w", err)
		}
	}
	return nil
}

// LastNonce returns the last accepted nonce for issuer, if any.
func (g *Guard) LastNonce(issuer string) (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.last[issuer]
	return last, ok
}
