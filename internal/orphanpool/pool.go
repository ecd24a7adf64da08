// Package orphanpool buffers blocks whose parent header hasn't been seen
// yet by this node. A header that extends neither the tip nor any known
// fork isn't necessarily malicious — it may just mean the node is a
// little behind a peer, or the parent is still in flight — so it gets
// parked here instead of triggering a ban, and is retried once a block
// with a matching hash arrives.
package orphanpool

import (
	"sync"
	"time"

	"github.com/Klingon-tech/mimbleforge-node/pkg/block"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// DefaultExpiry is how long an orphan is kept before it's treated as
// stale and dropped on the next Add/Expire pass.
const DefaultExpiry = time.Hour

// DefaultMaxOrphans bounds the pool size. When full, Add evicts the
// most recently added orphan to make room — mirroring the assumption
// that a flood of orphans is more likely junk than a real fork tip.
const DefaultMaxOrphans = 500

type orphan struct {
	block      *block.Block
	expiresAt  time.Time
}

// Pool holds blocks keyed by their own hash, with a secondary index from
// parent hash to children so a newly accepted block can cheaply find
// everything that was waiting on it.
type Pool struct {
	mu         sync.Mutex
	byHash     map[types.Hash]*orphan
	byParent   map[types.Hash][]types.Hash
	expiry     time.Duration
	maxOrphans int
	now        func() time.Time
}

// New returns an empty Pool. expiry and maxOrphans fall back to
// DefaultExpiry and DefaultMaxOrphans when zero.
func New(expiry time.Duration, maxOrphans int) *Pool {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if maxOrphans <= 0 {
		maxOrphans = DefaultMaxOrphans
	}
	return &Pool{
		byHash:     make(map[types.Hash]*orphan),
		byParent:   make(map[types.Hash][]types.Hash),
		expiry:     expiry,
		maxOrphans: maxOrphans,
		now:        time.Now,
	}
}

// Add buffers b, keyed by its own header hash, indexed under its
// prev_hash. Re-adding a hash already present refreshes its expiry.
func (p *Pool) Add(b *block.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.expireLocked()

	hash := b.Header.Hash()
	if _, exists := p.byHash[hash]; exists {
		p.byHash[hash].expiresAt = p.now().Add(p.expiry)
		return
	}

	if len(p.byHash) >= p.maxOrphans {
		p.evictNewestLocked()
	}

	p.byHash[hash] = &orphan{block: b, expiresAt: p.now().Add(p.expiry)}
	parent := b.Header.PrevHash
	p.byParent[parent] = append(p.byParent[parent], hash)
}

// Has reports whether hash is currently buffered.
func (p *Pool) Has(hash types.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, exists := p.byHash[hash]
	return exists
}

// Len returns the number of buffered orphans.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byHash)
}

// Remove discards the orphan with the given hash, if present.
func (p *Pool) Remove(hash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(hash)
}

// Children pops and returns every buffered orphan whose prev_hash is
// parentHash, removing them from the pool. Callers retry each returned
// block — if it's still an orphan of some deeper parent, the caller is
// expected to Add it back.
func (p *Pool) Children(parentHash types.Hash) []*block.Block {
	p.mu.Lock()
	defer p.mu.Unlock()

	hashes := p.byParent[parentHash]
	if len(hashes) == 0 {
		return nil
	}
	delete(p.byParent, parentHash)

	out := make([]*block.Block, 0, len(hashes))
	for _, h := range hashes {
		if o, exists := p.byHash[h]; exists {
			out = append(out, o.block)
			delete(p.byHash, h)
		}
	}
	return out
}

func (p *Pool) removeLocked(hash types.Hash) {
	o, exists := p.byHash[hash]
	if !exists {
		return
	}
	delete(p.byHash, hash)
	parent := o.block.Header.PrevHash
	siblings := p.byParent[parent]
	for i, h := range siblings {
		if h == hash {
			p.byParent[parent] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(p.byParent[parent]) == 0 {
		delete(p.byParent, parent)
	}
}

// expireLocked drops every orphan past its expiry. Called opportunistically
// from Add rather than on a timer, matching the pool's only access pattern.
func (p *Pool) expireLocked() {
	now := p.now()
	for hash, o := range p.byHash {
		if now.After(o.expiresAt) {
			p.removeLocked(hash)
		}
	}
}

// evictNewestLocked drops whichever orphan has the furthest-out expiry,
// i.e. the one added most recently, to make room for an incoming Add
// once the pool is full.
func (p *Pool) evictNewestLocked() {
	var newestHash types.Hash
	var newestAt time.Time
	first := true
	for hash, o := range p.byHash {
		if first || o.expiresAt.After(newestAt) {
			newestHash = hash
			newestAt = o.expiresAt
			first = false
		}
	}
	if !first {
		p.removeLocked(newestHash)
	}
}
