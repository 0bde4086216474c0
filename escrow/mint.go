package escrow

import (
	"context"
	"fmt"
	"math/big"
)

// Capability identifies one NUT operation the bearer-token mint must
// advertise before this engine will route tickets to it (spec.md §4.5
// invariant: "Every (mint, NUT-10/11/14) capability is verified at
// startup").
type Capability string

const (
	CapabilityNUT10 Capability = "NUT-10" // spending conditions
	CapabilityNUT11 Capability = "NUT-11" // P2PK
	CapabilityNUT14 Capability = "NUT-14" // hash-time-locked contracts
)

// RequiredCapabilities is the fixed capability set every mint used by this
// engine must advertise.
var RequiredCapabilities = []Capability{CapabilityNUT10, CapabilityNUT11, CapabilityNUT14}

// Mint is the narrow external-collaborator interface onto the bearer-token
// mint (spec.md §1: "blind-signature issuer; supplies NUT-10/11/14
// primitive operations" — out of scope, specified only at its interface).
type Mint interface {
	Capabilities(ctx context.Context) ([]Capability, error)
	CheckState(ctx context.Context, token string) (spent bool, err error)
	Issue(ctx context.Context, cond SpendingCondition, amount *big.Int) (token string, err error)
	Redeem(ctx context.Context, token string, secret []byte, payeeSig []byte) error
}

// ErrMintMissingCapability is returned by VerifyCapabilities when a mint
// does not advertise every required NUT operation.
var ErrMintMissingCapability = fmt.Errorf("escrow: mint missing required capability")

// VerifyCapabilities checks m against RequiredCapabilities, per spec.md
// §4.5: "tickets are only minted at mints advertising the required
// capability set."
func VerifyCapabilities(ctx context.Context, m Mint) error {
	got, err := m.Capabilities(ctx)
	if err != nil {
		return fmt.Errorf("escrow: probe mint capabilities: %w", err)
	}
	have := make(map[Capability]bool, len(got))
	for _, c := range got {
		have[c] = true
	}
	for _, req := range RequiredCapabilities {
		if !have[req] {
			return fmt.Errorf("%w: %s", ErrMintMissingCapability, req)
		}
	}
	return nil
}
