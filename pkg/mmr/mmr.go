// Package mmr implements an append-only Merkle Mountain Range: the
// structure backing the node's kernel, output, and pruned-witness sets.
// Leaves are appended one at a time; the range never shrinks, it only
// grows new peaks and merges equal-height peaks as a binary counter would.
package mmr

import (
	"fmt"

	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

type peak struct {
	pos    int
	height int
}

// Mmr is an append-only Merkle Mountain Range over leaf hashes.
type Mmr struct {
	nodes      []types.Hash
	parentPos  []int
	siblingPos []int
	leafPos    []int // leafPos[i] is the node-array position of leaf i
	peaks      []peak
}

// New returns an empty Merkle Mountain Range.
func New() *Mmr {
	return &Mmr{}
}

// AppendLeaf adds a new leaf hash, merging peaks of equal height the way a
// binary counter carries, and returns the new leaf's 0-based leaf index.
func (m *Mmr) AppendLeaf(hash types.Hash) uint64 {
	pos := len(m.nodes)
	m.nodes = append(m.nodes, hash)
	m.parentPos = append(m.parentPos, -1)
	m.siblingPos = append(m.siblingPos, -1)
	m.peaks = append(m.peaks, peak{pos: pos, height: 0})

	leafIdx := uint64(len(m.leafPos))
	m.leafPos = append(m.leafPos, pos)

	for len(m.peaks) >= 2 && m.peaks[len(m.peaks)-1].height == m.peaks[len(m.peaks)-2].height {
		right := m.peaks[len(m.peaks)-1]
		left := m.peaks[len(m.peaks)-2]

		parentHash := crypto.HashConcat(m.nodes[left.pos], m.nodes[right.pos])
		parentPos := len(m.nodes)
		m.nodes = append(m.nodes, parentHash)
		m.parentPos = append(m.parentPos, -1)
		m.siblingPos = append(m.siblingPos, -1)

		m.parentPos[left.pos] = parentPos
		m.parentPos[right.pos] = parentPos
		m.siblingPos[left.pos] = right.pos
		m.siblingPos[right.pos] = left.pos

		m.peaks = m.peaks[:len(m.peaks)-2]
		m.peaks = append(m.peaks, peak{pos: parentPos, height: left.height + 1})
	}

	return leafIdx
}

// NumLeaves returns the number of leaves appended so far.
func (m *Mmr) NumLeaves() uint64 {
	return uint64(len(m.leafPos))
}

// Size returns the total node count, leaves plus internal merge nodes.
func (m *Mmr) Size() int {
	return len(m.nodes)
}

// bagPeaks folds a peak hash list right-to-left into a single root hash,
// matching the order Root and proof verification both rely on.
func bagPeaks(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}
	acc := hashes[len(hashes)-1]
	for i := len(hashes) - 2; i >= 0; i-- {
		acc = crypto.HashConcat(hashes[i], acc)
	}
	return acc
}

// Root returns the bagged root hash over all current peaks.
func (m *Mmr) Root() types.Hash {
	return bagPeaks(m.peakHashes())
}

func (m *Mmr) peakHashes() []types.Hash {
	hashes := make([]types.Hash, len(m.peaks))
	for i, p := range m.peaks {
		hashes[i] = m.nodes[p.pos]
	}
	return hashes
}

// GetPeaks returns the hashes of the current peaks, in the order they
// appear in the range (left to right, decreasing height).
func (m *Mmr) GetPeaks() []types.Hash {
	return m.peakHashes()
}

// Truncate rebuilds a range containing only the first n leaves of m by
// replaying their leaf hashes into a fresh Mmr. m's node history must
// still hold those leaves (true for any Mmr that has had n or more
// leaves appended since it was last constructed via New or
// FromPrunedHashSet) — used to undo the leaves a reverted block added.
func (m *Mmr) Truncate(n uint64) (*Mmr, error) {
	if n > uint64(len(m.leafPos)) {
		return nil, fmt.Errorf("mmr: truncate to %d exceeds %d known leaves", n, len(m.leafPos))
	}
	out := New()
	for i := uint64(0); i < n; i++ {
		out.AppendLeaf(m.nodes[m.leafPos[i]])
	}
	return out, nil
}

// LeafHash returns the hash stored at leaf index i.
func (m *Mmr) LeafHash(i uint64) (types.Hash, error) {
	if i >= uint64(len(m.leafPos)) {
		return types.Hash{}, fmt.Errorf("mmr: leaf index %d out of range (have %d leaves)", i, len(m.leafPos))
	}
	return m.nodes[m.leafPos[i]], nil
}

// InclusionProof builds a proof that the leaf at leafIndex is a member of
// the range with the MMR's current root.
func (m *Mmr) InclusionProof(leafIndex uint64) (*Proof, error) {
	if leafIndex >= uint64(len(m.leafPos)) {
		return nil, fmt.Errorf("mmr: leaf index %d out of range (have %d leaves)", leafIndex, len(m.leafPos))
	}
	pos := m.leafPos[leafIndex]

	var siblings []types.Hash
	var siblingIsRight []bool

	cur := pos
	for m.parentPos[cur] != -1 {
		sib := m.siblingPos[cur]
		siblings = append(siblings, m.nodes[sib])
		siblingIsRight = append(siblingIsRight, sib > cur)
		cur = m.parentPos[cur]
	}

	peakIdx := -1
	for i, p := range m.peaks {
		if p.pos == cur {
			peakIdx = i
			break
		}
	}
	if peakIdx == -1 {
		return nil, fmt.Errorf("mmr: internal error, peak for leaf %d not found", leafIndex)
	}

	other := make([]types.Hash, 0, len(m.peaks)-1)
	for i, p := range m.peaks {
		if i != peakIdx {
			other = append(other, m.nodes[p.pos])
		}
	}

	return &Proof{
		LeafIndex:      leafIndex,
		Siblings:       siblings,
		SiblingIsRight: siblingIsRight,
		PeakIndex:      peakIdx,
		OtherPeaks:     other,
	}, nil
}
