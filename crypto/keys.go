package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix identifies the human-readable bech32 prefix used when
// rendering an identifier's controller key as text.
type AddressPrefix string

const (
	// HivePrefix is used for node-operator controller addresses.
	HivePrefix AddressPrefix = "hive"
	// AdvisorPrefix is used for advisor/provider identifiers.
	AdvisorPrefix AddressPrefix = "adv"
)

// Address represents a 20-byte controller-key address bound to a prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

// NewAddress builds an Address from 20 raw bytes.
func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != 20 {
		return Address{}, fmt.Errorf("address must be 20 bytes long, got %d", len(b))
	}
	cloned := append([]byte(nil), b...)
	return Address{prefix: prefix, bytes: cloned}, nil
}

// MustNewAddress constructs an address and panics if the input is invalid.
func MustNewAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := NewAddress(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns a defensive copy of the underlying 20 address bytes.
func (a Address) Bytes() []byte {
	return append([]byte(nil), a.bytes...)
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the address has not been initialised.
func (a Address) IsZero() bool {
	return len(a.bytes) == 0
}

// DecodeAddress parses a bech32-encoded address string.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(AddressPrefix(prefix), conv)
}

// PrivateKey wraps a secp256k1 private key used to sign operation envelopes,
// credentials, receipts and marketplace events.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

// PublicKey wraps the corresponding secp256k1 public key.
type PublicKey struct {
	*ecdsa.PublicKey
}

// GeneratePrivateKey creates a new random secp256k1 keypair.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the raw private key scalar.
func (k *PrivateKey) Bytes() []byte {
	return ethcrypto.FromECDSA(k.PrivateKey)
}

// PubKey derives the public key counterpart.
func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address derives the controller address bound to the given prefix.
func (k *PublicKey) Address(prefix AddressPrefix) Address {
	addrBytes := ethcrypto.PubkeyToAddress(*k.PublicKey).Bytes()
	return MustNewAddress(prefix, addrBytes)
}

// Bytes returns the uncompressed SEC1 encoding of the public key.
func (k *PublicKey) Bytes() []byte {
	return ethcrypto.FromECDSAPub(k.PublicKey)
}

// PrivateKeyFromBytes reconstructs a private key from its raw scalar.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PublicKeyFromBytes reconstructs a public key from its SEC1 encoding.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	key, err := ethcrypto.UnmarshalPubkey(b)
	if err != nil {
		return nil, err
	}
	return &PublicKey{key}, nil
}

// Sign produces a recoverable secp256k1 signature over a 32-byte digest.
func (k *PrivateKey) Sign(digest [32]byte) ([]byte, error) {
	return ethcrypto.Sign(digest[:], k.PrivateKey)
}

// Verify checks a signature (65-byte recoverable form, or 64-byte r||s) over a
// 32-byte digest against this public key.
func (k *PublicKey) Verify(digest [32]byte, sig []byte) bool {
	if len(sig) == 65 {
		sig = sig[:64]
	}
	if len(sig) != 64 {
		return false
	}
	return ethcrypto.VerifySignature(k.Bytes(), digest[:], sig)
}

// RecoverPublicKey recovers the signer's public key from a 65-byte
// recoverable signature over a 32-byte digest.
func RecoverPublicKey(digest [32]byte, sig []byte) (*PublicKey, error) {
	if len(sig) != 65 {
		return nil, fmt.Errorf("recoverable signature must be 65 bytes, got %d", len(sig))
	}
	pub, err := ethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return nil, fmt.Errorf("recover signer: %w", err)
	}
	return &PublicKey{pub}, nil
}
