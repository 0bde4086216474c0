package escrow

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"hivecore/crypto"
)

// Vault holds EscrowTicket secrets encrypted at rest (spec.md §3: "Stored
// encrypted at rest; revealed only on verified completion event... Zeroised
// on redemption or refund+N days"). The decryption key is held in-process
// only (spec.md §4.5/§5).
type Vault struct {
	key crypto.SealKey

	mu      sync.Mutex
	sealed  map[string][]byte // ticketID -> sealed secret
	revealed map[string][]byte // ticketID -> plaintext, cached after first Reveal (idempotence)
}

// NewVault builds a Vault bound to key. Callers zero their own copy of key
// after this call; the Vault holds the value it needs.
func NewVault(key crypto.SealKey) *Vault {
	return &Vault{
		key:      key,
		sealed:   make(map[string][]byte),
		revealed: make(map[string][]byte),
	}
}

// GenerateSecret creates a fresh random preimage for a new ticket and
// stores it sealed, returning its HashLock per spec.md §3: "secret is
// generated by payer and never revealed until payee condition is met."
func (v *Vault) GenerateSecret(ticketID string) (hashLock [32]byte, err error) {
	secret := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return [32]byte{}, fmt.Errorf("escrow: generate secret: %w", err)
	}
	if err := v.Put(ticketID, secret); err != nil {
		return [32]byte{}, err
	}
	return crypto.Keccak256(secret), nil
}

// Put seals and stores secret under ticketID.
func (v *Vault) Put(ticketID string, secret []byte) error {
	sealed, err := v.key.Seal(secret)
	if err != nil {
		return fmt.Errorf("escrow: seal secret: %w", err)
	}
	v.mu.Lock()
	v.sealed[ticketID] = sealed
	v.mu.Unlock()
	return nil
}

// ErrNoSecret is returned by Reveal when no secret was ever stored for the
// ticket (e.g. a payee-side node that never held the payer's preimage).
var ErrNoSecret = fmt.Errorf("escrow: no secret stored for ticket")

// Reveal decrypts and returns the secret for ticketID. It is idempotent:
// repeated calls return the same bytes (spec.md §8 round-trip law:
// "reveal(id) called twice returns the same secret").
func (v *Vault) Reveal(ticketID string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if plain, ok := v.revealed[ticketID]; ok {
		return plain, nil
	}
	sealed, ok := v.sealed[ticketID]
	if !ok {
		return nil, ErrNoSecret
	}
	plain, err := v.key.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("escrow: open secret: %w", err)
	}
	v.revealed[ticketID] = plain
	return plain, nil
}

// Zero discards both the sealed and cached-plaintext copies of ticketID's
// secret (spec.md §3: "zeroised on redemption or refund+N days").
func (v *Vault) Zero(ticketID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if plain, ok := v.revealed[ticketID]; ok {
		for i := range plain {
			plain[i] = 0
		}
		delete(v.revealed, ticketID)
	}
	delete(v.sealed, ticketID)
}

// RefundGracePeriod is the "+N days" window after a refund before the
// secret is zeroised, giving the payer a chance to produce it as evidence
// in a dispute over the refund itself.
const RefundGracePeriod = 14 * 24 * time.Hour
