// Package engine implements spec.md §4.1's single entry point,
// submit(op_envelope) -> Result: the credential-gated command pipeline that
// ties together identity resolution (C1), the credential store (C2), the
// replay guard (C3), the policy engine (C4), schema translation and node
// RPC (C5), the receipt ledger (C6) and obligation extraction (C8).
package engine

import (
	"fmt"
	"time"

	"hivecore/canonical"
	"hivecore/crypto"
	"hivecore/ledger"
)

// Envelope is one signed operation submitted for execution (spec.md §3
// Operation / §4.1 stage 1). Params carries the schema-specific arguments;
// every value must be a type canonical.Value can encode once converted by
// toCanonicalValue, or Submit rejects the envelope as malformed.
type Envelope struct {
	Schema        string
	Action        string
	Params        map[string]interface{}
	Issuer        string
	Nonce         uint64
	Timestamp     time.Time
	CredentialRef string // hex content-hash reference into the credential store
	Sig           []byte // issuer's signature over canonicalBody's digest
}

// canonicalBody builds the canonical tree the issuer signs over: every
// envelope field except Sig itself (spec.md §6).
func (e Envelope) canonicalBody() (canonical.Value, error) {
	params, err := toCanonicalValue(e.Params)
	if err != nil {
		return nil, fmt.Errorf("engine: canonicalize params: %w", err)
	}
	return map[string]canonical.Value{
		"schema":         e.Schema,
		"action":         e.Action,
		"params":         params,
		"issuer":         e.Issuer,
		"nonce":          e.Nonce,
		"timestamp":      e.Timestamp.UTC().Unix(),
		"credential_ref": e.CredentialRef,
	}, nil
}

// digest returns the 32-byte Keccak256 digest the issuer's and node's
// signatures are computed over.
func (e Envelope) digest() ([32]byte, error) {
	body, err := e.canonicalBody()
	if err != nil {
		return [32]byte{}, err
	}
	return canonical.Hash(body, crypto.Keccak256)
}

// toCanonicalValue recursively converts a plain Go value (as produced by
// JSON unmarshalling or constructed directly by a caller) into a
// canonical.Value tree. Floats must be integral; spec.md §6's canonical
// encoding has no fractional numeric representation.
func toCanonicalValue(v interface{}) (canonical.Value, error) {
	switch t := v.(type) {
	case nil, bool, int, int64, uint64, uint32, string, []byte:
		return canonical.Value(t), nil
	case float64:
		if t != float64(int64(t)) {
			return nil, fmt.Errorf("engine: non-integer numeric value %v is not canonically representable", t)
		}
		return int64(t), nil
	case map[string]interface{}:
		out := make(map[string]canonical.Value, len(t))
		for k, e := range t {
			cv, err := toCanonicalValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = cv
		}
		return out, nil
	case map[string]canonical.Value:
		return t, nil
	case []interface{}:
		out := make([]canonical.Value, len(t))
		for i, e := range t {
			cv, err := toCanonicalValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("engine: unsupported parameter type %T", v)
	}
}

// toFloat reports whether v is one of the numeric kinds Submit's constraint
// checks understand, returning its value as a float64.
func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case uint32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

// RejectKind is the stable machine-readable failure taxonomy from spec.md
// §4.1/§7.
type RejectKind string

const (
	RejectMalformedEnvelope  RejectKind = "malformed_envelope"
	RejectInvalidSignature   RejectKind = "invalid_signature"
	RejectReplayOrSkew       RejectKind = "replay_or_skew"
	RejectUnknownCredential  RejectKind = "unknown_credential"
	RejectRevokedCredential  RejectKind = "revoked_credential"
	RejectUnverifiable       RejectKind = "unverifiable"
	RejectOutOfScope         RejectKind = "out_of_scope"
	RejectConstraintViolation RejectKind = "constraint_violation"
	RejectPolicyDenied       RejectKind = "policy_denied"
	RejectPolicyPending      RejectKind = "policy_pending"
	RejectUnsupportedSchema  RejectKind = "unsupported_schema"
	RejectNodeRPCRetryable   RejectKind = "node_rpc_failure_retryable"
	RejectNodeRPCFatal       RejectKind = "node_rpc_failure_fatal"
	RejectReceiptPersistenceFailed RejectKind = "receipt_persistence_failed"
)

// Result is Submit's return value: either an appended receipt, or a
// rejection carrying the taxonomy code a caller needs to decide whether a
// retry is meaningful. Handle/Token are only set for RejectPolicyPending.
type Result struct {
	Accepted bool
	Receipt  ledger.Receipt
	Reject   RejectKind
	Detail   string
	Handle   string
	Token    string
}
