// Package chainstore persists the chain state a node needs to validate and
// extend the best chain: headers, kernels, outputs, MMR hash sets, the
// deleted-output bitmap, and a small metadata record summarizing the tip.
// It is a thin, prefix-namespaced layer over internal/storage.DB, in the
// same way the teacher's peer/ban stores are thin layers over the same
// interface.
package chainstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/mimbleforge-node/internal/storage"
	"github.com/Klingon-tech/mimbleforge-node/pkg/block"
	"github.com/Klingon-tech/mimbleforge-node/pkg/mmr"
	"github.com/Klingon-tech/mimbleforge-node/pkg/tx"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// Keyspace prefixes, one table per concern.
var (
	prefixHeaderByHeight = []byte("h/")  // height(8) -> Header JSON
	prefixHeaderByHash   = []byte("hh/") // hash(32) -> height(8)
	prefixKernel         = []byte("k/")  // kernel hash(32) -> Kernel JSON
	prefixOutput         = []byte("o/")  // commitment(33) -> Output JSON
	prefixOutputLeaf     = []byte("ol/") // leaf index(8) -> commitment(33)
	prefixMMR            = []byte("m/")  // mmr name -> PrunedHashSet JSON
	prefixDeletedBitmap  = []byte("d/")  // "bitmap" -> roaring bytes
	prefixMetadata       = []byte("md/") // "tip" -> Metadata JSON
	prefixBlockRecord    = []byte("b/")  // header hash(32) -> blockRecord JSON
	prefixUndo           = []byte("u/")  // header hash(32) -> undoRecord JSON
)

// Metadata is the chain tip summary spec.md §6 names: everything a node
// needs at startup without replaying the whole header chain.
type Metadata struct {
	BestBlockHeight            uint64     `json:"best_block_height"`
	BestBlockHash              types.Hash `json:"best_block_hash"`
	TotalAccumulatedDifficulty [2]uint64  `json:"total_accumulated_difficulty"` // [randomx, sha3x]
	PrunedHeight               uint64     `json:"pruned_height"`
	PrunedUtxoSum              types.Hash `json:"pruned_utxo_sum"`
	PrunedKernelSum            types.Hash `json:"pruned_kernel_sum"`
}

// Store is the persisted chain state. All mutation goes through a Txn so
// a block application commits atomically or not at all.
type Store struct {
	db storage.DB
}

// New wraps db (already scoped to this chain's keyspace by the caller,
// typically via storage.NewPrefixDB) as a chain Store.
func New(db storage.DB) *Store {
	return &Store{db: db}
}

func heightKey(height uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], height)
	return b[:]
}

func leafKey(idx uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], idx)
	return b[:]
}

func prefixed(prefix, key []byte) []byte {
	out := make([]byte, len(prefix)+len(key))
	copy(out, prefix)
	copy(out[len(prefix):], key)
	return out
}

// Metadata returns the current chain tip metadata, or a zero Metadata if
// the store has never been committed to.
func (s *Store) Metadata() (Metadata, error) {
	data, err := s.db.Get(prefixed(prefixMetadata, []byte("tip")))
	if err != nil {
		return Metadata{}, nil
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return Metadata{}, fmt.Errorf("chainstore: decode metadata: %w", err)
	}
	return md, nil
}

// HeaderAtHeight returns the header stored at the given height.
func (s *Store) HeaderAtHeight(height uint64) (*block.Header, error) {
	data, err := s.db.Get(prefixed(prefixHeaderByHeight, heightKey(height)))
	if err != nil {
		return nil, fmt.Errorf("chainstore: header at height %d: %w", height, err)
	}
	var h block.Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("chainstore: decode header: %w", err)
	}
	return &h, nil
}

// HeaderByHash looks up a header by its hash. Best-chain headers resolve
// through the hash->height index; any other header (a fork block, or one
// reverted by a reorg) is read from its stored block record.
func (s *Store) HeaderByHash(hash types.Hash) (*block.Header, error) {
	if heightBytes, err := s.db.Get(prefixed(prefixHeaderByHash, hash[:])); err == nil {
		h, err := s.HeaderAtHeight(binary.BigEndian.Uint64(heightBytes))
		if err == nil && h.Hash() == hash {
			return h, nil
		}
	}
	rec, err := s.BlockRecord(hash)
	if err != nil {
		return nil, fmt.Errorf("chainstore: header by hash %s: %w", hash, err)
	}
	return rec.Header, nil
}

// Kernel looks up a kernel by its hash.
func (s *Store) Kernel(hash types.Hash) (*tx.Kernel, error) {
	data, err := s.db.Get(prefixed(prefixKernel, hash[:]))
	if err != nil {
		return nil, fmt.Errorf("chainstore: kernel %s: %w", hash, err)
	}
	var k tx.Kernel
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("chainstore: decode kernel: %w", err)
	}
	return &k, nil
}

// Output looks up an unspent output by commitment. Spent outputs have no
// record here: Txn.SpendOutput deletes it when the spend is applied.
func (s *Store) Output(c types.Commitment) (*tx.Output, error) {
	data, err := s.db.Get(prefixed(prefixOutput, c[:]))
	if err != nil {
		return nil, fmt.Errorf("chainstore: output %s: %w", c, err)
	}
	var o tx.Output
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("chainstore: decode output: %w", err)
	}
	return &o, nil
}

// HasOutput reports whether a commitment has a stored output record.
func (s *Store) HasOutput(c types.Commitment) (bool, error) {
	return s.db.Has(prefixed(prefixOutput, c[:]))
}

// prunedHashSetName identifies one of the four body MMRs a block commits
// to, for keying the stored PrunedHashSet.
type prunedHashSetName string

const (
	OutputMMRName  prunedHashSetName = "output"
	WitnessMMRName prunedHashSetName = "witness"
	KernelMMRName  prunedHashSetName = "kernel"
)

// PrunedHashSet loads a named MMR's pruned hash set.
func (s *Store) PrunedHashSet(name prunedHashSetName) (mmr.PrunedHashSet, error) {
	data, err := s.db.Get(prefixed(prefixMMR, []byte(name)))
	if err != nil {
		return mmr.PrunedHashSet{}, nil // Empty MMR — not yet written.
	}
	var set mmr.PrunedHashSet
	if err := json.Unmarshal(data, &set); err != nil {
		return mmr.PrunedHashSet{}, fmt.Errorf("chainstore: decode mmr %s: %w", name, err)
	}
	return set, nil
}

// DeletedBitmap loads the serialized output-MMR deleted-leaf bitmap.
func (s *Store) DeletedBitmap() ([]byte, error) {
	data, err := s.db.Get(prefixed(prefixDeletedBitmap, []byte("bitmap")))
	if err != nil {
		return nil, nil
	}
	return data, nil
}

// BlockRecord returns the stored header+body+difficulty for hash,
// regardless of whether that block currently sits on the best chain —
// every accepted block is kept here, and no code path deletes a block
// record, so a later-arriving heavier fork can be replayed without
// re-fetching already-seen bodies from peers.
func (s *Store) BlockRecord(hash types.Hash) (*blockRecord, error) {
	data, err := s.db.Get(prefixed(prefixBlockRecord, hash[:]))
	if err != nil {
		return nil, fmt.Errorf("chainstore: block record %s: %w", hash, err)
	}
	var rec blockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("chainstore: decode block record: %w", err)
	}
	return &rec, nil
}

// HasBlockRecord reports whether a block with this hash has been stored,
// win or lose.
func (s *Store) HasBlockRecord(hash types.Hash) (bool, error) {
	return s.db.Has(prefixed(prefixBlockRecord, hash[:]))
}

// Undo returns the undo record a prior ApplyBlock wrote for hash, used
// to reverse that block's UTXO-set and MMR effects during a reorg.
func (s *Store) Undo(hash types.Hash) (*undoRecord, error) {
	data, err := s.db.Get(prefixed(prefixUndo, hash[:]))
	if err != nil {
		return nil, fmt.Errorf("chainstore: undo record %s: %w", hash, err)
	}
	var u undoRecord
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("chainstore: decode undo record: %w", err)
	}
	return &u, nil
}
