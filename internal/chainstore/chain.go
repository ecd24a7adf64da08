package chainstore

import (
	"fmt"
	"sync"

	"github.com/Klingon-tech/mimbleforge-node/pkg/block"
	"github.com/Klingon-tech/mimbleforge-node/pkg/mmr"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// Chain wires a Store to the live, appendable MMRs a running node needs to
// validate and extend the best chain. The store is the durable record;
// the three MutableMmrs are the working copies rebuilt from it at
// startup (or fast-forwarded from a horizon-sync pruned hash set).
type Chain struct {
	mu sync.RWMutex

	store *Store

	outputMmr  *mmr.MutableMmr
	witnessMmr *mmr.MutableMmr
	kernelMmr  *mmr.MutableMmr

	tip *block.Header
}

// Open rebuilds a Chain's in-memory MMRs from a store's persisted pruned
// hash sets and deleted bitmap. A fresh store (no prior commits) yields
// an empty Chain ready to accept the genesis block.
func Open(store *Store) (*Chain, error) {
	c := &Chain{store: store}

	outSet, err := store.PrunedHashSet(OutputMMRName)
	if err != nil {
		return nil, err
	}
	witSet, err := store.PrunedHashSet(WitnessMMRName)
	if err != nil {
		return nil, err
	}
	kerSet, err := store.PrunedHashSet(KernelMMRName)
	if err != nil {
		return nil, err
	}
	deletedBitmap, err := store.DeletedBitmap()
	if err != nil {
		return nil, err
	}

	c.outputMmr, err = mmr.NewMutableFromPrunedHashSet(outSet, deletedBitmap)
	if err != nil {
		return nil, fmt.Errorf("chainstore: rebuild output mmr: %w", err)
	}
	c.witnessMmr, err = mmr.NewMutableFromPrunedHashSet(witSet, nil)
	if err != nil {
		return nil, fmt.Errorf("chainstore: rebuild witness mmr: %w", err)
	}
	c.kernelMmr, err = mmr.NewMutableFromPrunedHashSet(kerSet, nil)
	if err != nil {
		return nil, fmt.Errorf("chainstore: rebuild kernel mmr: %w", err)
	}

	md, err := store.Metadata()
	if err != nil {
		return nil, err
	}
	if md.BestBlockHeight > 0 || !md.BestBlockHash.IsZero() {
		tip, err := store.HeaderByHash(md.BestBlockHash)
		if err != nil {
			return nil, fmt.Errorf("chainstore: load tip header: %w", err)
		}
		c.tip = tip
	}

	return c, nil
}

// Metadata returns the chain's current tip summary.
func (c *Chain) Metadata() (Metadata, error) {
	return c.store.Metadata()
}

// Tip returns the best block's header, or nil before genesis.
func (c *Chain) Tip() *block.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip
}

// Height returns the current chain height, or 0 before genesis.
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tip == nil {
		return 0
	}
	return c.tip.Height
}

// HeaderByHash looks up any header this store has ever recorded, on the
// best chain or not — the check internal/consensus needs to tell a
// legitimate fork (known parent, just not the tip) apart from a header
// that chains to nothing this node has seen.
func (c *Chain) HeaderByHash(hash types.Hash) (*block.Header, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.HeaderByHash(hash)
}

// OutputExists reports whether a commitment corresponds to a currently
// unspent output (i.e. an output MMR leaf that hasn't been flagged
// deleted) — the check internal/consensus needs when validating that an
// input actually spends something live.
func (c *Chain) OutputExists(comm types.Commitment) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.HasOutput(comm)
}

// ApplyBlock is defined in reorg.go, alongside the fork-detection and
// undo/revert machinery it shares with a reorg's replay path.

// outputLeafIndex resolves a commitment to its output MMR leaf index via
// the persisted flat record. Used only for inputs that spend an output
// created in an earlier block (same-block spends are resolved from the
// leafByCommitment map built during this call).
func (c *Chain) outputLeafIndex(comm types.Commitment) (uint64, error) {
	// The flat output record does not itself carry the leaf index in a
	// form exposed outside this package; ApplyBlock only needs this path
	// for inputs spending prior blocks' outputs, which the leaf/commitment
	// index (internal/chainstore's prefixOutputLeaf table) resolves by
	// scanning, acceptable since deletions are rare relative to appends.
	var found uint64
	var ok bool
	err := c.store.db.ForEach(prefixOutputLeaf, func(key, value []byte) error {
		if ok {
			return nil
		}
		if types.Commitment(value20(value)) == comm {
			found = heightFromBytes(key[len(prefixOutputLeaf):])
			ok = true
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("chainstore: no leaf index for commitment %s", comm)
	}
	return found, nil
}

func value20(b []byte) [types.CommitmentSize]byte {
	var c [types.CommitmentSize]byte
	copy(c[:], b)
	return c
}
