package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// SealKey is a 32-byte AES-256-GCM key held in process memory only, used to
// encrypt escrow secrets and other sensitive material at rest.
type SealKey [32]byte

// Seal encrypts plaintext with AES-256-GCM, returning nonce||ciphertext||tag.
func (k SealKey) Seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(k[:])
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("seal: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a value produced by Seal.
func (k SealKey) Open(sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(k[:])
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("open: ciphertext too short")
	}
	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return plaintext, nil
}

// Zero overwrites the key material in place. Callers should discard the
// SealKey value after calling Zero.
func (k *SealKey) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// NewSealKey derives a 32-byte seal key from an arbitrary-length passphrase
// using the package's canonical KDF (scrypt-equivalent cost is intentionally
// avoided here; callers are expected to supply high-entropy material already,
// e.g. via the operator terminal prompt in cmd/hived).
func NewSealKey(material []byte) (SealKey, error) {
	if len(material) == 0 {
		return SealKey{}, errors.New("seal key material required")
	}
	digest := Keccak256(material)
	var key SealKey
	copy(key[:], digest[:])
	return key, nil
}
