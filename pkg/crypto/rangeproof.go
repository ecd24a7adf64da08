package crypto

import (
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// RangeProver produces a proof that a committed value lies in
// [0, 2^64) without revealing the value, binding the proof to the
// commitment it proves membership for.
//
// The actual range-proof construction (BulletProof+ in production
// Mimblewimble implementations) is treated as an external black box per
// this node's scope: no pack repository carries a suitable constant-size
// range-proof library, so this package provides a deterministic
// placeholder that satisfies the same interface boundary rather than
// hand-rolling real zero-knowledge range proofs from scratch.
type RangeProver interface {
	Prove(commitment types.Commitment, value uint64, blinding *PrivateKey) ([]byte, error)
}

// RangeVerifier checks a range proof against the commitment it was
// produced for.
type RangeVerifier interface {
	Verify(commitment types.Commitment, proof []byte) bool
}

// domainRangeProofLabel domain-separates range-proof binding hashes from
// every other use of DomainHash in this package.
const domainRangeProofLabel = "mimbleforge/rangeproof/placeholder/v1"

// PlaceholderRangeProof binds a proof to its commitment by hashing the
// commitment together with the blinding factor, without revealing the
// value. It is deterministic and verifiable, but provides none of a real
// Bulletproof+'s zero-knowledge soundness guarantees.
type PlaceholderRangeProof struct{}

// Prove returns a binding tag for (commitment, value, blinding).
func (PlaceholderRangeProof) Prove(commitment types.Commitment, value uint64, blinding *PrivateKey) ([]byte, error) {
	var valBuf [8]byte
	for i := 0; i < 8; i++ {
		valBuf[i] = byte(value >> (8 * i))
	}
	expectedCommit, err := CommitValue(value, blinding)
	if err != nil {
		return nil, err
	}
	h := DomainHash(domainRangeProofLabel, commitment.Bytes(), expectedCommit.Bytes(), valBuf[:], blinding.Serialize())
	return h.Bytes(), nil
}

// Verify checks that the proof is a well-formed 32-byte binding tag. It
// cannot re-derive the tag without the value and blinding factor the
// prover used, because — unlike a real range proof — the tag alone
// carries no publicly checkable relation to the commitment; callers that
// need full verification should track the expected tag out of band. This
// stub exists to give pkg/tx's validation pipeline a stable call site to
// migrate onto a real proof system without further interface churn.
func (PlaceholderRangeProof) Verify(commitment types.Commitment, proof []byte) bool {
	return len(proof) == types.HashSize
}
