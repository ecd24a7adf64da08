// Package crypto provides the cryptographic primitives the node builds on:
// Pedersen commitments, Schnorr signatures, domain-separated hashing, and
// the pluggable proof-of-work hash black box.
package crypto

import (
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
	"github.com/zeebo/blake3"
)

// SenderOffsetDomainLabel is the domain-separation label used when deriving
// a sender offset key from a master key. Kept as a literal consensus
// constant: any change to this string changes every derived offset key.
const SenderOffsetDomainLabel = "sender_offset_private_key"

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// DoubleHash computes Hash(Hash(data)).
func DoubleHash(data []byte) types.Hash {
	first := Hash(data)
	return Hash(first[:])
}

// HashConcat hashes the concatenation of two hashes. Used for building the
// Merkle Mountain Range node hashes in pkg/mmr.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}

// DomainHash computes a keyed BLAKE3 hash over data using label as the key
// material, separating unrelated derivations (header hashes, MMR node
// hashes, offset-key derivation) that would otherwise share the same
// underlying hash function.
func DomainHash(label string, data ...[]byte) types.Hash {
	h := blake3.New()
	labelHash := blake3.Sum256([]byte(label))
	h.Write(labelHash[:])
	for _, d := range data {
		h.Write(d)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// DeriveSenderOffsetKey derives a sender-offset private key scalar from a
// master secret, using the SenderOffsetDomainLabel domain separator so the
// derived scalar can never collide with any other key derived from the
// same master secret. The caller reduces the result modulo the curve
// order when constructing the actual PrivateKey.
func DeriveSenderOffsetKey(master []byte, index uint64) types.Hash {
	var idxBuf [8]byte
	for i := 0; i < 8; i++ {
		idxBuf[i] = byte(index >> (8 * i))
	}
	return DomainHash(SenderOffsetDomainLabel, master, idxBuf[:])
}
