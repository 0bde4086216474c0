package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// BoxKeyPair is an X25519 keypair used only for the direct-message transport
// encryption primitive (spec.md §4.9/C13). It is independent from the
// secp256k1 signing key: one authenticates envelopes, the other seals bytes.
type BoxKeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateBoxKeyPair creates a new X25519 keypair.
func GenerateBoxKeyPair() (*BoxKeyPair, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return nil, fmt.Errorf("generate box keypair: %w", err)
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("generate box keypair: %w", err)
	}
	kp := &BoxKeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Seal encrypts a direct message to the recipient's X25519 public key using
// XChaCha20-Poly1305 over a shared secret derived from X25519 Diffie-Hellman.
func (kp *BoxKeyPair) Seal(recipientPub [32]byte, plaintext []byte) ([]byte, error) {
	shared, err := curve25519.X25519(kp.Private[:], recipientPub[:])
	if err != nil {
		return nil, fmt.Errorf("box seal: %w", err)
	}
	aead, err := chacha20poly1305.NewX(shared)
	if err != nil {
		return nil, fmt.Errorf("box seal: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("box seal: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a direct message sealed by the sender's Seal call.
func (kp *BoxKeyPair) Open(senderPub [32]byte, sealed []byte) ([]byte, error) {
	shared, err := curve25519.X25519(kp.Private[:], senderPub[:])
	if err != nil {
		return nil, fmt.Errorf("box open: %w", err)
	}
	aead, err := chacha20poly1305.NewX(shared)
	if err != nil {
		return nil, fmt.Errorf("box open: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("box open: ciphertext too short")
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ct, nil)
}
