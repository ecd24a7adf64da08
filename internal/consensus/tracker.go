package consensus

import (
	"github.com/Klingon-tech/mimbleforge-node/internal/chainstore"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// NextDifficultyFor walks the chain store backward from height, collecting
// the most recent same-algorithm headers (up to params.WindowSize+1 of
// them) and returns the difficulty the next block of that algorithm must
// meet. Returns params.MinDifficulty if fewer than two prior same-algorithm
// blocks exist yet (early chain life).
func NextDifficultyFor(store *chainstore.Store, height uint64, algo types.PowAlgorithm, params RetargetParams) (Difficulty, error) {
	var history []TimestampedDifficulty

	for h := int64(height); h >= 0 && len(history) < params.WindowSize+1; h-- {
		hdr, err := store.HeaderAtHeight(uint64(h))
		if err != nil {
			break // Pruned or genesis boundary reached.
		}
		if hdr.Pow.Algo != algo {
			continue
		}
		d, err := DifficultyFromPow(hdr.Pow)
		if err != nil {
			continue
		}
		history = append([]TimestampedDifficulty{{Timestamp: hdr.Timestamp, Difficulty: d}}, history...)
	}

	return NextDifficulty(history, params), nil
}

// TimestampWindow returns the ascending timestamps of the most recent n
// headers at or below height, for the median-timestamp check in
// ValidateContextual.
func TimestampWindow(store *chainstore.Store, height uint64, n int) []uint64 {
	var out []uint64
	for h := int64(height); h >= 0 && len(out) < n; h-- {
		hdr, err := store.HeaderAtHeight(uint64(h))
		if err != nil {
			break
		}
		out = append([]uint64{hdr.Timestamp}, out...)
	}
	return out
}
