package mmr

import (
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
	"github.com/RoaringBitmap/roaring"
)

// MutableMmr pairs an append-only Mmr with a compressed bitmap of deleted
// leaf positions. Outputs are never physically removed from the range —
// spending one flips a bit instead — so historical inclusion proofs stay
// valid; only the derived "unspent" view changes.
type MutableMmr struct {
	mmr     *Mmr
	deleted *roaring.Bitmap
}

// NewMutable returns an empty MutableMmr.
func NewMutable() *MutableMmr {
	return &MutableMmr{mmr: New(), deleted: roaring.New()}
}

// Append adds a new leaf and returns its leaf index.
func (m *MutableMmr) Append(hash types.Hash) uint64 {
	return m.mmr.AppendLeaf(hash)
}

// Delete marks the leaf at index i as spent. Deleting an out-of-range or
// already-deleted index is a no-op.
func (m *MutableMmr) Delete(i uint64) {
	if i >= m.mmr.NumLeaves() {
		return
	}
	m.deleted.Add(uint32(i))
}

// IsDeleted reports whether the leaf at index i has been spent.
func (m *MutableMmr) IsDeleted(i uint64) bool {
	return m.deleted.Contains(uint32(i))
}

// Undelete clears the spent mark on leaf i, reversing a prior Delete —
// used when a reorg restores an output that a reverted block spent.
func (m *MutableMmr) Undelete(i uint64) {
	m.deleted.Remove(uint32(i))
}

// Rewind discards every leaf appended after the first n and clears any
// deleted-mark at or beyond n, undoing the leaves (and spends) a single
// reverted block contributed. It only succeeds if the underlying range
// still holds those leaves' hashes in memory — see Mmr.Truncate.
func (m *MutableMmr) Rewind(n uint64) error {
	truncated, err := m.mmr.Truncate(n)
	if err != nil {
		return err
	}
	m.mmr = truncated

	it := m.deleted.Iterator()
	var stale []uint32
	for it.HasNext() {
		v := it.Next()
		if uint64(v) >= n {
			stale = append(stale, v)
		}
	}
	for _, v := range stale {
		m.deleted.Remove(v)
	}
	return nil
}

// NumUnspent returns the count of leaves that have not been marked deleted.
func (m *MutableMmr) NumUnspent() uint64 {
	return m.mmr.NumLeaves() - m.deleted.GetCardinality()
}

// Root returns the underlying range's root. The root commits to every
// leaf ever appended; the deleted bitmap is tracked and validated
// separately rather than folded into the hash commitment.
func (m *MutableMmr) Root() types.Hash {
	return m.mmr.Root()
}

// NumLeaves returns the number of leaves ever appended (spent or not).
func (m *MutableMmr) NumLeaves() uint64 {
	return m.mmr.NumLeaves()
}

// InclusionProof proxies to the underlying Mmr.
func (m *MutableMmr) InclusionProof(leafIndex uint64) (*Proof, error) {
	return m.mmr.InclusionProof(leafIndex)
}

// LeafHash proxies to the underlying Mmr.
func (m *MutableMmr) LeafHash(i uint64) (types.Hash, error) {
	return m.mmr.LeafHash(i)
}

// DeletedBitmapBytes serializes the deleted-positions bitmap for storage
// or transfer during horizon sync.
func (m *MutableMmr) DeletedBitmapBytes() ([]byte, error) {
	return m.deleted.ToBytes()
}

// LoadDeletedBitmap replaces the deleted-positions bitmap from serialized
// bytes produced by DeletedBitmapBytes.
func (m *MutableMmr) LoadDeletedBitmap(b []byte) error {
	bm := roaring.New()
	if err := bm.UnmarshalBinary(b); err != nil {
		return err
	}
	m.deleted = bm
	return nil
}

// GetPrunedHashSet exports the underlying range's pruned hash set.
func (m *MutableMmr) GetPrunedHashSet() PrunedHashSet {
	return m.mmr.GetPrunedHashSet()
}

// NewMutableFromPrunedHashSet reconstructs a MutableMmr from a pruned hash
// set plus a previously-exported deleted bitmap.
func NewMutableFromPrunedHashSet(set PrunedHashSet, deletedBitmap []byte) (*MutableMmr, error) {
	m := &MutableMmr{mmr: FromPrunedHashSet(set), deleted: roaring.New()}
	if len(deletedBitmap) > 0 {
		if err := m.LoadDeletedBitmap(deletedBitmap); err != nil {
			return nil, err
		}
	}
	return m, nil
}
