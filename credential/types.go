// Package credential implements C2, the store of issued and received
// verifiable credentials (spec.md §3, §4.1). Other components hold only the
// content-hash reference returned by Put; the store is the sole owner of the
// credential value (spec.md §3 "Ownership/lifetime").
package credential

import (
	"fmt"
	"strings"
	"time"

	"hivecore/canonical"
	"hivecore/crypto"
)

// Permission identifies one bit of the management permission set
// (spec.md §3, ManagementCredential).
type Permission string

const (
	PermissionMonitor     Permission = "monitor"
	PermissionFeePolicy   Permission = "fee_policy"
	PermissionRebalance   Permission = "rebalance"
	PermissionConfigTune  Permission = "config_tune"
	PermissionChannelOpen Permission = "channel_open"
	PermissionChannelClose Permission = "channel_close"
	PermissionEmergency   Permission = "emergency"
)

// ValidPermission reports whether p is one of the fixed permission bits.
func ValidPermission(p Permission) bool {
	switch p {
	case PermissionMonitor, PermissionFeePolicy, PermissionRebalance, PermissionConfigTune,
		PermissionChannelOpen, PermissionChannelClose, PermissionEmergency:
		return true
	default:
		return false
	}
}

// Proof is one signature over the credential's canonical form. §3 allows two
// independent signatures (e.g. issuer + a co-signing notary).
type Proof struct {
	SignerID  string
	Signature []byte
}

// VerifiableCredential is the base entity from spec.md §3.
type VerifiableCredential struct {
	IssuerID    string
	SubjectID   string
	Type        string
	ValidFrom   time.Time
	ValidUntil  time.Time
	Constraints map[string]canonical.Value
	Proofs      []Proof
}

// ContentHash returns the content-addressed identity of the credential:
// Keccak256 over its canonical encoding excluding the proofs (proofs sign
// this same digest, so including them would be circular).
func (vc *VerifiableCredential) ContentHash() ([32]byte, error) {
	enc, err := canonical.Encode(vc.canonicalBody())
	if err != nil {
		return [32]byte{}, fmt.Errorf("credential: canonicalize: %w", err)
	}
	return crypto.Keccak256(enc), nil
}

func (vc *VerifiableCredential) canonicalBody() canonical.Value {
	constraints := make(map[string]canonical.Value, len(vc.Constraints))
	for k, v := range vc.Constraints {
		constraints[k] = v
	}
	return map[string]canonical.Value{
		"issuer":     vc.IssuerID,
		"subject":    vc.SubjectID,
		"type":       vc.Type,
		"validFrom":  vc.ValidFrom.UTC().Unix(),
		"validUntil": vc.ValidUntil.UTC().Unix(),
		"constraints": constraints,
	}
}

// ActiveAt reports whether the credential is valid at instant t:
// validFrom <= t < validUntil (spec.md §3, §8 boundary behaviours).
func (vc *VerifiableCredential) ActiveAt(t time.Time) bool {
	t = t.UTC()
	return !t.Before(vc.ValidFrom.UTC()) && t.Before(vc.ValidUntil.UTC())
}

// ManagementCredential extends VerifiableCredential with the delegated
// permission set, schema glob allowlist and numeric constraint caps used by
// the scope & constraint check (spec.md §4.1 stage 4).
type ManagementCredential struct {
	VerifiableCredential
	Permissions     map[Permission]bool
	AllowedSchemas  []string // glob patterns, e.g. "fee-policy/*"
	NumericCaps     map[string]float64
}

// HasPermission reports whether the credential grants p.
func (mc *ManagementCredential) HasPermission(p Permission) bool {
	return mc.Permissions[p]
}

// AllowsSchema reports whether schemaID matches any configured glob.
func (mc *ManagementCredential) AllowsSchema(schemaID string) bool {
	for _, pattern := range mc.AllowedSchemas {
		if globMatch(pattern, schemaID) {
			return true
		}
	}
	return false
}

// CheckNumericCap reports whether value stays within the configured cap for
// key (no cap configured means unconstrained, so it reports true).
func (mc *ManagementCredential) CheckNumericCap(key string, value float64) bool {
	cap, ok := mc.NumericCaps[key]
	if !ok {
		return true
	}
	return value <= cap
}

// globMatch implements the restricted glob the spec needs: a single
// trailing "*" wildcard, e.g. "fee-policy/*" matches "fee-policy/v1".
// Exact matches always succeed.
func globMatch(pattern, value string) bool {
	if pattern == value {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(value, prefix)
	}
	return false
}
