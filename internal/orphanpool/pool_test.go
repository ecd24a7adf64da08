package orphanpool

import (
	"testing"
	"time"

	"github.com/Klingon-tech/mimbleforge-node/pkg/block"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

func blockWithParentAndNonce(parent types.Hash, nonce uint64) *block.Block {
	return &block.Block{Header: &block.Header{
		Height:   1,
		PrevHash: parent,
		Nonce:    nonce,
	}}
}

func TestPoolChildrenResolvesBufferedOrphan(t *testing.T) {
	p := New(0, 0)

	var unknownParent types.Hash
	unknownParent[0] = 0xAB
	orphanBlk := blockWithParentAndNonce(unknownParent, 1)

	p.Add(orphanBlk)
	if !p.Has(orphanBlk.Header.Hash()) {
		t.Fatalf("Has() = false, want true right after Add")
	}
	if got := p.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}

	children := p.Children(unknownParent)
	if len(children) != 1 || children[0].Header.Hash() != orphanBlk.Header.Hash() {
		t.Fatalf("Children() did not return the buffered orphan")
	}
	if p.Has(orphanBlk.Header.Hash()) {
		t.Fatalf("Has() = true, want false after Children() popped it")
	}
	if got := p.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0 after pop", got)
	}
}

func TestPoolChildrenOnUnrelatedParentIsEmpty(t *testing.T) {
	p := New(0, 0)
	var parent, other types.Hash
	parent[0] = 1
	other[0] = 2
	p.Add(blockWithParentAndNonce(parent, 1))

	if children := p.Children(other); children != nil {
		t.Fatalf("Children(other) = %v, want nil", children)
	}
	if got := p.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1 (orphan should remain buffered)", got)
	}
}

func TestPoolExpiresStaleOrphans(t *testing.T) {
	p := New(time.Minute, 0)
	fakeNow := time.Now()
	p.now = func() time.Time { return fakeNow }

	var parent types.Hash
	parent[0] = 3
	p.Add(blockWithParentAndNonce(parent, 1))
	if got := p.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}

	fakeNow = fakeNow.Add(2 * time.Minute)
	var otherParent types.Hash
	otherParent[0] = 4
	p.Add(blockWithParentAndNonce(otherParent, 2))

	if p.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after the first orphan expired", p.Len())
	}
	if children := p.Children(parent); children != nil {
		t.Fatalf("expired orphan should no longer be retrievable, got %v", children)
	}
}

func TestPoolEvictsNewestWhenFull(t *testing.T) {
	p := New(0, 2)
	fakeNow := time.Now()
	p.now = func() time.Time { return fakeNow }

	var p1, p2, p3 types.Hash
	p1[0], p2[0], p3[0] = 1, 2, 3

	b1 := blockWithParentAndNonce(p1, 1)
	p.Add(b1)
	fakeNow = fakeNow.Add(time.Second)
	b2 := blockWithParentAndNonce(p2, 2)
	p.Add(b2)
	if got := p.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	fakeNow = fakeNow.Add(time.Second)
	b3 := blockWithParentAndNonce(p3, 3)
	p.Add(b3)

	if got := p.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2 after eviction", got)
	}
	if !p.Has(b1.Header.Hash()) {
		t.Fatalf("oldest orphan should survive eviction")
	}
	if p.Has(b2.Header.Hash()) {
		t.Fatalf("newest orphan at eviction time should have been evicted")
	}
}
