// Package market implements C12: the deterministic pub-sub marketplace
// state machine (spec.md §4.9) — profile/offer/RFP/contract/heartbeat/
// reputation-summary events, replace-by-(issuer,kind,d-tag) semantics,
// discovery ranking, and contract formation through to Trial/Active.
package market

import (
	"sort"
	"time"

	"hivecore/canonical"
	"hivecore/crypto"
)

// Kind identifies one marketplace event type, drawn from one of the two
// parallel numeric ranges spec.md §6 describes (advisor services vs.
// liquidity services). Kind 38383 carries the dual historical meaning
// spec.md §9 calls out; see DecodeKind38383.
type Kind int

const (
	// Advisor-services range.
	KindAdvisorProviderProfile  Kind = 38380
	KindAdvisorOffer            Kind = 38381
	KindAdvisorRFP              Kind = 38382
	KindAdvisorContractConfirm  Kind = 38383 // current meaning of 38383; see DecodeKind38383
	KindAdvisorHeartbeat        Kind = 38384
	KindAdvisorReputationSummary Kind = 38385

	// Liquidity-services range, same six kinds offset by 1000.
	KindLiquidityProviderProfile   Kind = 39380
	KindLiquidityOffer             Kind = 39381
	KindLiquidityRFP               Kind = 39382
	KindLiquidityContractConfirm   Kind = 39383
	KindLiquidityHeartbeat         Kind = 39384
	KindLiquidityReputationSummary Kind = 39385

	// kindAdvisorProviderProfileLegacy is the pre-reassignment meaning of
	// kind 38383: a ProviderProfile payload, accepted only during the
	// transition window (spec.md §9).
	kindAdvisorProviderProfileLegacy Kind = 38383
)

// Tags carries the standard event tags spec.md §6 names: d (replace-key),
// t (topic), expiration, did (issuer identifier), did-nostr-proof (binding
// credential reference), nonce (proof-of-work), alt (human summary).
type Tags struct {
	DTag           string
	Topic          string
	Expiration     time.Time
	DID            string
	CredentialRef  string
	PowNonce       uint64
	Alt            string
}

// Event is one marketplace event (spec.md §4.9/§6).
type Event struct {
	Issuer    string
	Kind      Kind
	CreatedAt time.Time
	Tags      Tags
	Payload   map[string]canonical.Value
	Sig       []byte
}

// ReplaceKey identifies the replace-by slot an event occupies: fixed
// (issuer, kind, d-tag) per spec.md §4.9/§8 property 8.
type ReplaceKey struct {
	Issuer string
	Kind   Kind
	DTag   string
}

func (e Event) replaceKey() ReplaceKey {
	return ReplaceKey{Issuer: e.Issuer, Kind: e.Kind, DTag: e.Tags.DTag}
}

// canonicalHash renders e into the deterministic encoding and hashes it,
// used both for the tie-break in Supersedes and as the event's stable id.
func (e Event) canonicalHash() [32]byte {
	body := map[string]canonical.Value{
		"issuer":    e.Issuer,
		"kind":      int64(e.Kind),
		"createdAt": e.CreatedAt.UTC().Unix(),
		"dTag":      e.Tags.DTag,
		"nonce":     e.Tags.PowNonce,
		"payload":   e.Payload,
	}
	enc, err := canonical.Encode(body)
	if err != nil {
		// Payload values come from this package's own decoders, which only
		// ever produce Encode-able canonical.Value trees; a failure here is
		// a programmer error.
		panic("market: non-canonical event payload: " + err.Error())
	}
	return crypto.Keccak256(enc)
}

// Supersedes reports whether e should replace existing under the
// replacement rule from spec.md §4.9: strictly larger created_at wins;
// ties broken by canonical-hash ordering (lexicographically larger hash
// wins, an arbitrary but total and symmetric tiebreak).
func (e Event) Supersedes(existing Event) bool {
	if !e.CreatedAt.Equal(existing.CreatedAt) {
		return e.CreatedAt.After(existing.CreatedAt)
	}
	eh, xh := e.canonicalHash(), existing.canonicalHash()
	for i := range eh {
		if eh[i] != xh[i] {
			return eh[i] > xh[i]
		}
	}
	return false
}

// Expired reports whether e's expiration tag has passed as of now.
func (e Event) Expired(now time.Time) bool {
	return !e.Tags.Expiration.IsZero() && now.After(e.Tags.Expiration)
}

// sortByFreshness orders events newest-first, used by discovery ranking's
// freshness tie-break.
func sortByFreshness(events []Event) {
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.After(events[j].CreatedAt) })
}
