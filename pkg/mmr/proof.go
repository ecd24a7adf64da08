package mmr

import (
	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// Proof is an inclusion proof that a given leaf hash is a member of the
// range that produced a particular root. It carries the sibling path from
// the leaf up to its peak, plus the other peaks needed to re-bag the root.
type Proof struct {
	LeafIndex      uint64
	Siblings       []types.Hash
	SiblingIsRight []bool
	PeakIndex      int
	OtherPeaks     []types.Hash
}

// Verify recomputes the root from leafHash and the proof's path and
// checks it against root.
func (p *Proof) Verify(leafHash types.Hash, root types.Hash) bool {
	acc := leafHash
	for i, sib := range p.Siblings {
		if p.SiblingIsRight[i] {
			acc = crypto.HashConcat(acc, sib)
		} else {
			acc = crypto.HashConcat(sib, acc)
		}
	}

	peaks := make([]types.Hash, len(p.OtherPeaks)+1)
	copy(peaks[:p.PeakIndex], p.OtherPeaks[:p.PeakIndex])
	peaks[p.PeakIndex] = acc
	copy(peaks[p.PeakIndex+1:], p.OtherPeaks[p.PeakIndex:])

	return bagPeaks(peaks) == root
}

// PrunedHashSet is the minimal state needed to continue appending to, and
// computing roots from, a Merkle Mountain Range without retaining its full
// history — the representation exchanged during horizon sync. Inclusion
// proofs for leaves appended before the hash set was produced cannot be
// recovered from it; that is the point of pruning.
type PrunedHashSet struct {
	Peaks      []types.Hash
	NumLeaves  uint64
	TotalNodes int
}

// GetPrunedHashSet exports the current peaks plus leaf/node counts.
func (m *Mmr) GetPrunedHashSet() PrunedHashSet {
	return PrunedHashSet{
		Peaks:      m.peakHashes(),
		NumLeaves:  uint64(len(m.leafPos)),
		TotalNodes: len(m.nodes),
	}
}

// FromPrunedHashSet reconstructs an Mmr that can accept further appends and
// compute correct roots, but cannot produce inclusion proofs for any leaf
// that existed before the hash set was exported.
func FromPrunedHashSet(set PrunedHashSet) *Mmr {
	m := &Mmr{
		nodes:      make([]types.Hash, set.TotalNodes),
		parentPos:  make([]int, set.TotalNodes),
		siblingPos: make([]int, set.TotalNodes),
		leafPos:    make([]int, set.NumLeaves),
	}
	for i := range m.parentPos {
		m.parentPos[i] = -1
		m.siblingPos[i] = -1
	}

	// Reconstruct the peak stack at positions [total-len(peaks), total),
	// one node per peak, left to right. A range of NumLeaves leaves has one
	// peak per set bit of NumLeaves, highest bit leftmost, so those bits
	// give the peak heights.
	heights := make([]int, 0, len(set.Peaks))
	for b := 63; b >= 0; b-- {
		if set.NumLeaves&(uint64(1)<<uint(b)) != 0 {
			heights = append(heights, b)
		}
	}
	pos := set.TotalNodes - len(set.Peaks)
	for i := range set.Peaks {
		h := 0
		if i < len(heights) {
			h = heights[i]
		}
		m.nodes[pos] = set.Peaks[i]
		m.peaks = append(m.peaks, peak{pos: pos, height: h})
		pos++
	}
	return m
}
