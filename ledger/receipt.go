// Package ledger implements C6: the append-only, hash-chained receipt
// ledger that is the single system of record for every executed Operation
// (spec.md §4.4).
package ledger

import (
	"time"

	"hivecore/canonical"
	"hivecore/crypto"
)

// hashReceipt adapts crypto.Keccak256's variadic signature to the single-
// argument hash function canonical.Hash expects.
func hashReceipt(b []byte) [32]byte {
	return crypto.Keccak256(b)
}

// Receipt is one append-only entry. Seq is strictly monotonic and gapless;
// Prev is the hash of the previous entry's canonical form (the zero value
// for seq 0).
type Receipt struct {
	Seq            uint64
	Prev           [32]byte
	BeforeState    [32]byte
	AfterState     [32]byte
	Issuer         string
	Schema         string
	Action         string
	Nonce          uint64
	Timestamp      time.Time
	Result         map[string]canonical.Value
	IssuerSig      []byte
	NodeOperatorSig []byte
}

// SelfHash is the canonical-form digest of the receipt, excluding the two
// signatures. NodeOperatorSig is computed over this digest; IssuerSig is
// the issuer's envelope signature, which covers the envelope's canonical
// body rather than this form.
func (r Receipt) SelfHash(hashFn func([]byte) [32]byte) ([32]byte, error) {
	body := map[string]canonical.Value{
		"seq":          int64(r.Seq),
		"prev":         r.Prev[:],
		"before_state": r.BeforeState[:],
		"after_state":  r.AfterState[:],
		"issuer":       r.Issuer,
		"schema":       r.Schema,
		"action":       r.Action,
		"nonce":        int64(r.Nonce),
		"timestamp":    r.Timestamp.UTC().Unix(),
		"result":       canonical.Value(r.Result),
	}
	return canonical.Hash(body, hashFn)
}
