package peermgr

import (
	"testing"
	"time"

	"github.com/Klingon-tech/mimbleforge-node/internal/storage"
	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

func testPublicKey(t *testing.T) types.PublicKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pub, err := types.PublicKeyFromBytes(key.PublicKey())
	if err != nil {
		t.Fatalf("PublicKeyFromBytes: %v", err)
	}
	return pub
}

func TestManager_UpsertAndFind(t *testing.T) {
	m, err := Open(storage.NewMemory())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	pub := testPublicKey(t)
	p := NewPeer(pub)
	p.UserAgent = "mimbleforge/1.0"

	if err := m.Upsert(p); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok := m.FindByNodeID(p.NodeID)
	if !ok {
		t.Fatal("FindByNodeID: not found")
	}
	if got.UserAgent != "mimbleforge/1.0" {
		t.Errorf("UserAgent = %q", got.UserAgent)
	}

	got2, ok := m.FindByPublicKey(pub)
	if !ok || got2.NodeID != p.NodeID {
		t.Error("FindByPublicKey did not return the same record")
	}
}

func TestManager_PersistsAcrossOpen(t *testing.T) {
	db := storage.NewMemory()
	m1, err := Open(db)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p := NewPeer(testPublicKey(t))
	if err := m1.Upsert(p); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	m2, err := Open(db)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, ok := m2.FindByNodeID(p.NodeID); !ok {
		t.Error("reopened manager lost the persisted peer")
	}
}

func TestManager_FindAllStartsWith(t *testing.T) {
	m, _ := Open(storage.NewMemory())
	var want NodeID
	for i := 0; i < 20; i++ {
		p := NewPeer(testPublicKey(t))
		m.Upsert(p)
		want = p.NodeID
	}
	prefix := want.String()[:6]
	matches := m.FindAllStartsWith(prefix)
	found := false
	for _, p := range matches {
		if p.NodeID == want {
			found = true
		}
	}
	if !found {
		t.Error("FindAllStartsWith did not return the matching peer")
	}
}

func TestManager_BanPeerExcludesFromQueries(t *testing.T) {
	m, _ := Open(storage.NewMemory())
	target := NewPeer(testPublicKey(t))
	m.Upsert(target)

	others := make([]*Peer, 10)
	for i := range others {
		others[i] = NewPeer(testPublicKey(t))
		m.Upsert(others[i])
	}

	if err := m.BanPeer(target.NodeID, 1*time.Hour, "spam"); err != nil {
		t.Fatalf("BanPeer: %v", err)
	}
	if !m.IsBanned(target.NodeID) {
		t.Error("expected peer to be banned")
	}

	closest := m.ClosestPeers(target.NodeID, len(others)+1, nil, 0)
	for _, p := range closest {
		if p.NodeID == target.NodeID {
			t.Error("ClosestPeers returned a banned peer")
		}
	}
	random := m.RandomPeers(len(others)+1, nil)
	for _, p := range random {
		if p.NodeID == target.NodeID {
			t.Error("RandomPeers returned a banned peer")
		}
	}

	if err := m.Unban(target.NodeID); err != nil {
		t.Fatalf("Unban: %v", err)
	}
	if m.IsBanned(target.NodeID) {
		t.Error("expected peer to be unbanned")
	}
}

func TestManager_ClosestPeersOrdering(t *testing.T) {
	m, _ := Open(storage.NewMemory())
	target := NodeIDFromPublicKey(testPublicKey(t))

	for i := 0; i < 30; i++ {
		m.Upsert(NewPeer(testPublicKey(t)))
	}

	closest := m.ClosestPeers(target, 5, nil, 0)
	if len(closest) != 5 {
		t.Fatalf("len(closest) = %d, want 5", len(closest))
	}
	for i := 1; i < len(closest); i++ {
		prevDist := xorDistance(target, closest[i-1].NodeID)
		currDist := xorDistance(target, closest[i].NodeID)
		if less(currDist, prevDist) {
			t.Errorf("closest peers not sorted by ascending distance at index %d", i)
		}
	}
}

func TestManager_CalcRegionThreshold(t *testing.T) {
	m, _ := Open(storage.NewMemory())
	target := NodeIDFromPublicKey(testPublicKey(t))

	for i := 0; i < 10; i++ {
		m.Upsert(NewPeer(testPublicKey(t)))
	}

	dist, ok := m.CalcRegionThreshold(target, 5, 0)
	if !ok {
		t.Fatal("CalcRegionThreshold: expected ok")
	}
	closest := m.ClosestPeers(target, 5, nil, 0)
	want := xorDistance(target, closest[4].NodeID)
	if dist != want {
		t.Errorf("CalcRegionThreshold mismatch: got %x, want %x", dist, want)
	}

	if _, ok := m.CalcRegionThreshold(target, 100, 0); ok {
		t.Error("expected ok=false when fewer than n peers exist")
	}
}

func TestManager_FeatureFiltering(t *testing.T) {
	m, _ := Open(storage.NewMemory())
	const featureSync = 1 << 0

	withFeature := NewPeer(testPublicKey(t))
	withFeature.Features = featureSync
	m.Upsert(withFeature)

	withoutFeature := NewPeer(testPublicKey(t))
	m.Upsert(withoutFeature)

	target := NodeIDFromPublicKey(testPublicKey(t))
	matches := m.ClosestPeers(target, 10, nil, featureSync)
	if len(matches) != 1 || matches[0].NodeID != withFeature.NodeID {
		t.Errorf("feature filtering did not restrict to the peer advertising it")
	}
}
