// Package consensus implements spec.md §4.E pass 2 (contextual block
// validation) and the dual RandomX-slot/SHA3x proof-of-work difficulty
// and target logic both algorithms share.
package consensus

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/Klingon-tech/mimbleforge-node/pkg/block"
	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// Difficulty measures proof-of-work difficulty as a plain ratio against
// the easiest possible target, the way both RandomX and SHA3x chains in
// the retrieval pack express it.
type Difficulty uint64

// maxTarget is the easiest possible 256-bit target (difficulty 1).
var maxTarget = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Target returns the 256-bit target a header must hash under to satisfy
// difficulty d. Target shrinks as difficulty grows.
func Target(d Difficulty) *big.Int {
	if d == 0 {
		d = 1
	}
	return new(big.Int).Div(maxTarget, big.NewInt(int64(d)))
}

// HashMeetsTarget reports whether a proof-of-work hash, read as a
// big-endian 256-bit integer, is at or below the target for d.
func HashMeetsTarget(hash types.Hash, d Difficulty) bool {
	h := new(big.Int).SetBytes(hash[:])
	return h.Cmp(Target(d)) <= 0
}

// EncodePow packs the difficulty a header was mined against into the PoW
// summary's auxiliary data. RandomX treats this as the epoch-local
// target; SHA3x carries it the same way so both algorithms retarget
// through one shared code path.
func EncodePow(algo types.PowAlgorithm, d Difficulty, seed types.Hash) types.ProofOfWork {
	data := make([]byte, 8, 8+types.HashSize)
	binary.BigEndian.PutUint64(data, uint64(d))
	if algo == types.PowAlgoRandomX {
		data = append(data, seed[:]...)
	}
	return types.ProofOfWork{Algo: algo, Data: data}
}

// DifficultyFromPow decodes the difficulty a header's PoW summary was
// mined against.
func DifficultyFromPow(pow types.ProofOfWork) (Difficulty, error) {
	if len(pow.Data) < 8 {
		return 0, fmt.Errorf("consensus: pow data too short (%d bytes)", len(pow.Data))
	}
	return Difficulty(binary.BigEndian.Uint64(pow.Data[:8])), nil
}

// SeedHashFromPow decodes the RandomX seed hash embedded in a RandomX
// header's PoW data, if present.
func SeedHashFromPow(pow types.ProofOfWork) types.Hash {
	if pow.Algo != types.PowAlgoRandomX || len(pow.Data) < 8+types.HashSize {
		return types.Hash{}
	}
	var seed types.Hash
	copy(seed[:], pow.Data[8:8+types.HashSize])
	return seed
}

// AchievedHash computes the proof-of-work hash a header actually
// produced, for comparison against its target.
func AchievedHash(h *block.Header) (types.Hash, error) {
	hasher, err := crypto.HasherFor(h.Pow.Algo, SeedHashFromPow(h.Pow))
	if err != nil {
		return types.Hash{}, err
	}
	return hasher.Hash(h.PowPreimage(), h.Nonce), nil
}

// CheckProofOfWork verifies that a header's achieved hash satisfies the
// difficulty it claims to have been mined against.
func CheckProofOfWork(h *block.Header) error {
	d, err := DifficultyFromPow(h.Pow)
	if err != nil {
		return err
	}
	achieved, err := AchievedHash(h)
	if err != nil {
		return err
	}
	if !HashMeetsTarget(achieved, d) {
		return fmt.Errorf("consensus: proof of work does not meet target for difficulty %d", d)
	}
	return nil
}
