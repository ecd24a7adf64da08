package peermgr

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Klingon-tech/mimbleforge-node/internal/storage"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

const peerKeyPrefix = "peer/"

func peerKey(id NodeID) []byte {
	return []byte(peerKeyPrefix + id.String())
}

// Manager is the peer table: a persistent, single-writer-locked record
// set keyed by node id. Spec.md §5 calls for exactly this discipline —
// "the peer manager uses a single writer lock with short critical
// sections" — so every mutating method takes the lock only for the
// in-memory update plus a synchronous persist, never across I/O that
// isn't the persist itself.
type Manager struct {
	mu    sync.Mutex
	db    storage.DB
	cache map[NodeID]*Peer
}

// Open loads every persisted peer record into memory and returns a ready
// Manager. The table is small enough (a few thousand records at most)
// that keeping it fully resident makes every query O(n) in Go instead of
// round-tripping storage per lookup.
func Open(db storage.DB) (*Manager, error) {
	m := &Manager{db: db, cache: make(map[NodeID]*Peer)}
	err := db.ForEach([]byte(peerKeyPrefix), func(key, value []byte) error {
		var p Peer
		if err := json.Unmarshal(value, &p); err != nil {
			return nil // skip corrupt records rather than fail startup
		}
		m.cache[p.NodeID] = &p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("peermgr: load peers: %w", err)
	}
	return m, nil
}

func (m *Manager) persistLocked(p *Peer) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("peermgr: marshal peer: %w", err)
	}
	return m.db.Put(peerKey(p.NodeID), data)
}

// Upsert inserts a new peer record or replaces an existing one, keyed by
// the record's own NodeID.
func (m *Manager) Upsert(p *Peer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[p.NodeID] = p
	return m.persistLocked(p)
}

// FindByNodeID looks up a peer by its node id.
func (m *Manager) FindByNodeID(id NodeID) (*Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.cache[id]
	return p, ok
}

// FindByPublicKey looks up a peer by its public key, deriving the node
// id the same way NewPeer does.
func (m *Manager) FindByPublicKey(pub types.PublicKey) (*Peer, bool) {
	return m.FindByNodeID(NodeIDFromPublicKey(pub))
}

// FindAllStartsWith returns every peer whose node id's hex string begins
// with prefix, for lookup-by-partial-id tooling (spec.md §4.J).
func (m *Manager) FindAllStartsWith(prefix string) []*Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix = strings.ToLower(prefix)
	var out []*Peer
	for id, p := range m.cache {
		if strings.HasPrefix(strings.ToLower(id.String()), prefix) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID.String() < out[j].NodeID.String() })
	return out
}

func containsID(ids []NodeID, id NodeID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// eligible lists every non-banned, feature-matching peer not present in
// exclude, as of now.
func (m *Manager) eligible(exclude []NodeID, features uint32, now time.Time) []*Peer {
	var out []*Peer
	for id, p := range m.cache {
		if p.IsBanned(now) || containsID(exclude, id) {
			continue
		}
		if features != 0 && !p.HasFeatures(features) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ClosestPeers returns up to n peers whose node id is closest to target
// by XOR distance, excluding banned peers, anything in exclude, and
// (when features != 0) peers missing any requested feature bit.
func (m *Manager) ClosestPeers(target NodeID, n int, exclude []NodeID, features uint32) []*Peer {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := m.eligible(exclude, features, time.Now())
	sort.Slice(candidates, func(i, j int) bool {
		return less(xorDistance(target, candidates[i].NodeID), xorDistance(target, candidates[j].NodeID))
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// CalcRegionThreshold returns the XOR distance (from target) of the
// n-th nearest eligible peer — the radius a Kademlia-style bucket of
// size n would need to cover target. ok is false if fewer than n
// eligible peers exist.
func (m *Manager) CalcRegionThreshold(target NodeID, n int, features uint32) (distance [32]byte, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := m.eligible(nil, features, time.Now())
	if len(candidates) < n || n <= 0 {
		return [32]byte{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return less(xorDistance(target, candidates[i].NodeID), xorDistance(target, candidates[j].NodeID))
	})
	return xorDistance(target, candidates[n-1].NodeID), true
}

// RandomPeers returns up to n eligible peers in random order.
func (m *Manager) RandomPeers(n int, exclude []NodeID) []*Peer {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := m.eligible(exclude, 0, time.Now())
	// Map iteration order is already randomized per-process by Go's
	// runtime, so no explicit shuffle is needed to avoid a fixed bias.
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// BanPeer sets banned_until = now + duration and records the reason,
// persisting the change. A duration <= 0 leaves banned_until at or before
// now, so the peer does not count as banned; Unban clears a ban.
func (m *Manager) BanPeer(id NodeID, duration time.Duration, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.cache[id]
	if !ok {
		return fmt.Errorf("peermgr: unknown peer %s", id)
	}
	p.BannedUntil = time.Now().Add(duration).Unix()
	p.BanReason = reason
	return m.persistLocked(p)
}

// Unban clears a peer's ban by setting banned_until = 0.
func (m *Manager) Unban(id NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.cache[id]
	if !ok {
		return fmt.Errorf("peermgr: unknown peer %s", id)
	}
	p.BannedUntil = 0
	p.BanReason = ""
	return m.persistLocked(p)
}

// IsBanned reports whether a known peer is currently banned.
func (m *Manager) IsBanned(id NodeID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.cache[id]
	if !ok {
		return false
	}
	return p.IsBanned(time.Now())
}

// Count returns the number of peer records in the table.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}
