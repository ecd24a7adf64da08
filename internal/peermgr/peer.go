// Package peermgr implements the persistent peer table spec.md §4.J
// describes: a single-writer record set keyed by node id, queryable by
// XOR distance for Kademlia-style routing, with duration-tiered bans.
package peermgr

import (
	"time"

	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// NodeID is the hash of a peer's public key — the space closest_peers,
// random_peers, and calc_region_threshold all measure XOR distance in.
type NodeID types.Hash

// NodeIDFromPublicKey derives a peer's node id from its public key.
func NodeIDFromPublicKey(pub types.PublicKey) NodeID {
	return NodeID(crypto.Hash(pub[:]))
}

// String returns the node id as a hex string.
func (n NodeID) String() string {
	return types.Hash(n).String()
}

// xorDistance returns the bitwise XOR distance between two node ids,
// itself a 32-byte value ordered the same way types.Hash is — larger
// byte sequences (compared lexicographically from the most significant
// byte) are farther.
func xorDistance(a, b NodeID) [32]byte {
	var d [32]byte
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

func less(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// AddressStats tracks per-address connection history for a peer, spec.md
// §4.J's "addresses with per-address stats" — the same information a
// connection manager would otherwise have to re-derive on every dial.
type AddressStats struct {
	Address          string  `json:"address"` // multiaddr string
	LastSeenUnix     int64   `json:"last_seen"`
	AvgLatencyMillis float64 `json:"avg_latency_ms"`
	ConnectAttempts  uint64  `json:"connect_attempts"`
	MessagesReceived uint64  `json:"messages_received"`
	MessagesRejected uint64  `json:"messages_rejected"`
}

// recordLatency folds a new latency sample into the running average.
func (a *AddressStats) recordLatency(sample time.Duration) {
	ms := float64(sample.Milliseconds())
	if a.ConnectAttempts == 0 {
		a.AvgLatencyMillis = ms
		return
	}
	// Exponential moving average: recent samples matter more than old
	// ones, and it needs no history buffer to compute.
	const alpha = 0.2
	a.AvgLatencyMillis = alpha*ms + (1-alpha)*a.AvgLatencyMillis
}

// Peer is one persistent peer-table record.
type Peer struct {
	NodeID      NodeID                   `json:"node_id"`
	PublicKey   types.PublicKey          `json:"public_key"`
	Addresses   map[string]*AddressStats `json:"addresses"`
	Features    uint32                   `json:"features"`
	UserAgent   string                   `json:"user_agent"`
	Offline     bool                     `json:"offline"`
	BannedUntil int64                    `json:"banned_until"` // unix seconds; 0 = not banned
	BanReason   string                   `json:"ban_reason"`
}

// NewPeer starts a fresh record for a newly discovered public key.
func NewPeer(pub types.PublicKey) *Peer {
	return &Peer{
		NodeID:    NodeIDFromPublicKey(pub),
		PublicKey: pub,
		Addresses: make(map[string]*AddressStats),
	}
}

// IsBanned reports whether the peer is currently banned, relative to now.
func (p *Peer) IsBanned(now time.Time) bool {
	return p.BannedUntil > now.Unix()
}

// HasFeatures reports whether the peer advertises every bit set in want.
func (p *Peer) HasFeatures(want uint32) bool {
	return p.Features&want == want
}

// RecordConnectAttempt updates (or creates) the stats for one address.
func (p *Peer) RecordConnectAttempt(addr string, now time.Time) *AddressStats {
	stats, ok := p.Addresses[addr]
	if !ok {
		stats = &AddressStats{Address: addr}
		p.Addresses[addr] = stats
	}
	stats.ConnectAttempts++
	stats.LastSeenUnix = now.Unix()
	return stats
}

// RecordMessage tallies one received message, optionally rejected, for
// the given address.
func (p *Peer) RecordMessage(addr string, rejected bool) {
	stats, ok := p.Addresses[addr]
	if !ok {
		stats = &AddressStats{Address: addr}
		p.Addresses[addr] = stats
	}
	stats.MessagesReceived++
	if rejected {
		stats.MessagesRejected++
	}
}
