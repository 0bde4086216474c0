package crypto

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"lukechampine.com/blake3"
)

// Keccak256 hashes the concatenation of the given byte slices, matching the
// curve's native hash so signed digests and derived identifiers (content
// hashes, ticket ids) share one hash function.
func Keccak256(data ...[]byte) [32]byte {
	return [32]byte(ethcrypto.Keccak256(data...))
}

// Blake3_256 hashes the concatenation of the given byte slices with BLAKE3.
// The receipt hash-chain and Merkle tree do not use it; they hash with
// Keccak256.
func Blake3_256(data ...[]byte) [32]byte {
	h := blake3.New(32, nil)
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
