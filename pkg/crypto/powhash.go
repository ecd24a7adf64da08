package crypto

import (
	"fmt"

	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
	"golang.org/x/crypto/sha3"
)

// randomXDomainLabel keys the RandomX-slot stand-in hash so it can never
// collide with any other domain-separated hash in this package.
const randomXDomainLabel = "mimbleforge/pow/randomx-slot/v1"

// PowHasher computes the proof-of-work hash for a header's pre-pow bytes
// plus its nonce, for one of the two supported algorithms. RandomX is an
// external, ASIC-resistant VM this node treats as a black-box capability
// (see DESIGN.md); SHA3x needs no such boundary since it's pure Go.
type PowHasher interface {
	Hash(preimage []byte, nonce uint64) types.Hash
	Algorithm() types.PowAlgorithm
}

// RandomXSlotHasher stands in for a real RandomX VM behind the PowHasher
// interface boundary: a keyed BLAKE3 hash domain-separated from every
// other hash this node computes. Swapping in an actual RandomX dataset
// means implementing this same interface against a CGO RandomX binding
// without touching any caller.
type RandomXSlotHasher struct {
	// SeedHash identifies the current RandomX dataset epoch. A real VM
	// would use it to select/regenerate the dataset; the stand-in mixes
	// it into the hash so epoch changes still change the output.
	SeedHash types.Hash
}

// Algorithm reports PowAlgoRandomX.
func (h RandomXSlotHasher) Algorithm() types.PowAlgorithm {
	return types.PowAlgoRandomX
}

// Hash computes the stand-in RandomX-slot proof-of-work hash.
func (h RandomXSlotHasher) Hash(preimage []byte, nonce uint64) types.Hash {
	var nonceBuf [8]byte
	for i := 0; i < 8; i++ {
		nonceBuf[i] = byte(nonce >> (8 * i))
	}
	return DomainHash(randomXDomainLabel, h.SeedHash[:], preimage, nonceBuf[:])
}

// Sha3xHasher implements the triple-Keccak ("sha3x") proof-of-work
// algorithm: three successive SHA3-256 passes over the preimage and
// nonce, matching the merge-mining-compatible GPU algorithm.
type Sha3xHasher struct{}

// Algorithm reports PowAlgoSha3x.
func (Sha3xHasher) Algorithm() types.PowAlgorithm {
	return types.PowAlgoSha3x
}

// Hash computes the sha3x proof-of-work hash.
func (Sha3xHasher) Hash(preimage []byte, nonce uint64) types.Hash {
	var nonceBuf [8]byte
	for i := 0; i < 8; i++ {
		nonceBuf[i] = byte(nonce >> (8 * i))
	}

	h1 := sha3.Sum256(append(append([]byte{}, preimage...), nonceBuf[:]...))
	h2 := sha3.Sum256(h1[:])
	h3 := sha3.Sum256(h2[:])
	return types.Hash(h3)
}

// HasherFor returns the PowHasher registered for algo, or an error if the
// algorithm is unrecognized. seedHash is only meaningful for
// PowAlgoRandomX.
func HasherFor(algo types.PowAlgorithm, seedHash types.Hash) (PowHasher, error) {
	switch algo {
	case types.PowAlgoRandomX:
		return RandomXSlotHasher{SeedHash: seedHash}, nil
	case types.PowAlgoSha3x:
		return Sha3xHasher{}, nil
	default:
		return nil, fmt.Errorf("powhash: unknown algorithm %v", algo)
	}
}
