package market

import (
	"fmt"
	"math/bits"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrBelowPowThreshold is returned when an inbound event's proof-of-work
// nonce does not clear the configured bit-count floor (spec.md §4.9 "spam
// resistance").
var ErrBelowPowThreshold = fmt.Errorf("market: event below proof-of-work threshold")

// ErrRateLimited is returned when an issuer exceeds its per-kind publish
// rate.
var ErrRateLimited = fmt.Errorf("market: per-issuer rate limit exceeded")

// Store holds the replace-by-key marketplace cache plus the spam-resistance
// gates (spec.md §4.9), mirroring the in-memory-cache + background-GC shape
// the teacher's nonce store uses for its own replace-on-newer semantics.
type Store struct {
	mu     sync.RWMutex
	events map[ReplaceKey]Event

	minPowBits int

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter // key: issuer|kind
	ratePerSec float64
	rateBurst  int
}

// NewStore builds an empty Store. minPowBits is the floor every inbound
// event's proof-of-work nonce must clear; ratePerSec/rateBurst configure the
// per-issuer-per-kind token bucket.
func NewStore(minPowBits int, ratePerSec float64, rateBurst int) *Store {
	return &Store{
		events:     make(map[ReplaceKey]Event),
		minPowBits: minPowBits,
		limiters:   make(map[string]*rate.Limiter),
		ratePerSec: ratePerSec,
		rateBurst:  rateBurst,
	}
}

// powBits counts the number of leading zero bits in e's canonical hash,
// the conventional proof-of-work measure for content-addressed events.
func powBits(e Event) int {
	h := e.canonicalHash()
	total := 0
	for _, b := range h {
		if b == 0 {
			total += 8
			continue
		}
		total += bits.LeadingZeros8(b)
		break
	}
	return total
}

// Put applies the replacement rule and spam-resistance gates, then stores e
// if it supersedes (or is the first occupant of) its replace-key slot
// (spec.md §4.9/§8 property 8).
func (s *Store) Put(e Event, now time.Time) error {
	if e.Expired(now) {
		return nil // expired events are ignored at ingress, not an error
	}
	if powBits(e) < s.minPowBits {
		return ErrBelowPowThreshold
	}
	if !s.allowRate(e.Issuer, e.Kind) {
		return ErrRateLimited
	}

	key := e.replaceKey()
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.events[key]
	if !ok || e.Supersedes(existing) {
		s.events[key] = e
	}
	return nil
}

func (s *Store) allowRate(issuer string, kind Kind) bool {
	if s.ratePerSec <= 0 {
		return true
	}
	key := fmt.Sprintf("%s|%d", issuer, kind)
	s.limiterMu.Lock()
	limiter, ok := s.limiters[key]
	if !ok {
		burst := s.rateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.ratePerSec), burst)
		s.limiters[key] = limiter
	}
	s.limiterMu.Unlock()
	return limiter.Allow()
}

// Get returns the currently-visible event for key, if any.
func (s *Store) Get(key ReplaceKey) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[key]
	return e, ok
}

// All returns every non-expired event of the given kind as of now.
func (s *Store) All(kind Kind, now time.Time) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for k, e := range s.events {
		if k.Kind != kind || e.Expired(now) {
			continue
		}
		out = append(out, e)
	}
	sortByFreshness(out)
	return out
}

// GC deletes expired events plus grace from the cache (spec.md §4.9
// "garbage-collected from local cache after grace").
func (s *Store) GC(now time.Time, grace time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.events {
		if !e.Tags.Expiration.IsZero() && now.After(e.Tags.Expiration.Add(grace)) {
			delete(s.events, k)
			removed++
		}
	}
	return removed
}
