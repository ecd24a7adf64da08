package mmr

import (
	"testing"

	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

func leafHash(label string) types.Hash {
	return crypto.Hash([]byte(label))
}

func TestMmr_EmptyRoot(t *testing.T) {
	m := New()
	if m.Root() != (types.Hash{}) {
		t.Error("empty MMR should have a zero root")
	}
	if m.NumLeaves() != 0 {
		t.Errorf("NumLeaves() = %d, want 0", m.NumLeaves())
	}
}

func TestMmr_SingleLeafRootEqualsLeaf(t *testing.T) {
	m := New()
	h := leafHash("only-leaf")
	m.AppendLeaf(h)
	if m.Root() != h {
		t.Errorf("single-leaf root = %x, want leaf hash %x", m.Root(), h)
	}
}

func TestMmr_RootChangesOnAppend(t *testing.T) {
	m := New()
	m.AppendLeaf(leafHash("a"))
	r1 := m.Root()
	m.AppendLeaf(leafHash("b"))
	r2 := m.Root()
	if r1 == r2 {
		t.Error("root should change after appending a new leaf")
	}
}

func TestMmr_NumLeavesAndSize(t *testing.T) {
	m := New()
	for i := 0; i < 7; i++ {
		m.AppendLeaf(leafHash(string(rune('a' + i))))
	}
	if m.NumLeaves() != 7 {
		t.Errorf("NumLeaves() = %d, want 7", m.NumLeaves())
	}
	// size must exceed leaf count once any merges have happened
	if m.Size() < 7 {
		t.Errorf("Size() = %d, want >= 7", m.Size())
	}
}

func TestMmr_InclusionProof_AllLeavesVerify(t *testing.T) {
	m := New()
	const n = 11
	hashes := make([]types.Hash, n)
	for i := 0; i < n; i++ {
		h := leafHash(string(rune('a' + i)))
		hashes[i] = h
		m.AppendLeaf(h)
	}
	root := m.Root()

	for i := 0; i < n; i++ {
		proof, err := m.InclusionProof(uint64(i))
		if err != nil {
			t.Fatalf("InclusionProof(%d): %v", i, err)
		}
		if !proof.Verify(hashes[i], root) {
			t.Errorf("proof for leaf %d failed to verify", i)
		}
	}
}

func TestMmr_InclusionProof_RejectsWrongLeaf(t *testing.T) {
	m := New()
	var hashes []types.Hash
	for i := 0; i < 5; i++ {
		h := leafHash(string(rune('a' + i)))
		hashes = append(hashes, h)
		m.AppendLeaf(h)
	}
	root := m.Root()

	proof, err := m.InclusionProof(2)
	if err != nil {
		t.Fatalf("InclusionProof: %v", err)
	}
	if proof.Verify(hashes[3], root) {
		t.Error("proof for leaf 2 should not verify against leaf 3's hash")
	}
}

func TestMmr_InclusionProof_OutOfRange(t *testing.T) {
	m := New()
	m.AppendLeaf(leafHash("only"))
	if _, err := m.InclusionProof(5); err == nil {
		t.Error("expected error for out-of-range leaf index")
	}
}

func TestMmr_LeafHash(t *testing.T) {
	m := New()
	h := leafHash("x")
	m.AppendLeaf(h)
	got, err := m.LeafHash(0)
	if err != nil {
		t.Fatalf("LeafHash: %v", err)
	}
	if got != h {
		t.Errorf("LeafHash(0) = %x, want %x", got, h)
	}
	if _, err := m.LeafHash(99); err == nil {
		t.Error("expected error for out-of-range leaf index")
	}
}

func TestMmr_PrunedHashSetRoundtripRoot(t *testing.T) {
	m := New()
	for i := 0; i < 13; i++ {
		m.AppendLeaf(leafHash(string(rune('a' + i))))
	}
	root := m.Root()

	set := m.GetPrunedHashSet()
	reconstructed := FromPrunedHashSet(set)
	if reconstructed.Root() != root {
		t.Errorf("reconstructed root = %x, want %x", reconstructed.Root(), root)
	}
	if reconstructed.NumLeaves() != m.NumLeaves() {
		t.Errorf("reconstructed NumLeaves() = %d, want %d", reconstructed.NumLeaves(), m.NumLeaves())
	}
}

func TestMmr_PrunedHashSetContinuesAppending(t *testing.T) {
	m := New()
	for i := 0; i < 5; i++ {
		m.AppendLeaf(leafHash(string(rune('a' + i))))
	}
	set := m.GetPrunedHashSet()
	reconstructed := FromPrunedHashSet(set)

	extra := leafHash("extra")
	m.AppendLeaf(extra)
	reconstructed.AppendLeaf(extra)

	if reconstructed.Root() != m.Root() {
		t.Errorf("root after appending to reconstructed MMR = %x, want %x", reconstructed.Root(), m.Root())
	}
}
