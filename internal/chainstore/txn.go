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

// Txn accumulates writes for a single block application (or rollback) and
// applies them as one storage.Batch on Commit — the chain store's
// equivalent of the teacher's badger.WriteBatch-backed NewBatch().
type Txn struct {
	store *Store
	batch storage.Batch
	err   error
}

// Begin starts a new write transaction over the store.
func (s *Store) Begin() *Txn {
	batcher, ok := s.db.(storage.Batcher)
	var b storage.Batch
	if ok {
		b = batcher.NewBatch()
	} else {
		b = &directBatch{db: s.db}
	}
	return &Txn{store: s, batch: b}
}

// directBatch applies writes immediately, for DBs with no native batch
// support — mirrors prefixFallbackBatch in internal/storage/prefix.go.
type directBatch struct {
	db storage.DB
}

func (d *directBatch) Put(key, value []byte) error { return d.db.Put(key, value) }
func (d *directBatch) Delete(key []byte) error      { return d.db.Delete(key) }
func (d *directBatch) Commit() error                 { return nil }

func (t *Txn) fail(err error) {
	if t.err == nil {
		t.err = err
	}
}

func (t *Txn) put(prefix, key []byte, v interface{}) {
	if t.err != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.fail(fmt.Errorf("chainstore: encode: %w", err))
		return
	}
	if err := t.batch.Put(prefixed(prefix, key), data); err != nil {
		t.fail(fmt.Errorf("chainstore: put: %w", err))
	}
}

// InsertHeader stores a header at its height and indexes its hash.
func (t *Txn) InsertHeader(h *block.Header) {
	t.put(prefixHeaderByHeight, heightKey(h.Height), h)
	if t.err != nil {
		return
	}
	if err := t.batch.Put(prefixed(prefixHeaderByHash, h.Hash().Bytes()), heightKey(h.Height)); err != nil {
		t.fail(fmt.Errorf("chainstore: index header hash: %w", err))
	}
}

// InsertKernel stores a kernel by its hash.
func (t *Txn) InsertKernel(k *tx.Kernel) {
	t.put(prefixKernel, k.Hash().Bytes(), k)
}

// InsertOutput stores an output by its commitment and records its output
// MMR leaf index for later lookup.
func (t *Txn) InsertOutput(o *tx.Output, leafIndex uint64) {
	t.put(prefixOutput, o.Commitment[:], o)
	if t.err != nil {
		return
	}
	if err := t.batch.Put(prefixed(prefixOutputLeaf, leafKey(leafIndex)), o.Commitment[:]); err != nil {
		t.fail(fmt.Errorf("chainstore: index output leaf: %w", err))
	}
}

// SpendOutput removes an output's flat record as soon as the spend is
// applied; no maturity delay applies. The MMR leaf
// itself is never removed — only the flat lookup record is — since the
// leaf stays in the output MMR's deleted-bitmap view forever.
func (t *Txn) SpendOutput(c types.Commitment) {
	if t.err != nil {
		return
	}
	if err := t.batch.Delete(prefixed(prefixOutput, c[:])); err != nil {
		t.fail(fmt.Errorf("chainstore: delete spent output: %w", err))
	}
}

// UpdatePrunedHashSet persists one body MMR's current pruned hash set.
func (t *Txn) UpdatePrunedHashSet(name prunedHashSetName, set mmr.PrunedHashSet) {
	t.put(prefixMMR, []byte(name), set)
}

// UpdateDeletedBitmap persists the output MMR's deleted-leaf bitmap.
func (t *Txn) UpdateDeletedBitmap(bitmap []byte) {
	if t.err != nil {
		return
	}
	if err := t.batch.Put(prefixed(prefixDeletedBitmap, []byte("bitmap")), bitmap); err != nil {
		t.fail(fmt.Errorf("chainstore: put deleted bitmap: %w", err))
	}
}

// SetBestBlock updates the chain tip metadata.
func (t *Txn) SetBestBlock(md Metadata) {
	t.put(prefixMetadata, []byte("tip"), md)
}

// PutBlockRecord stores a block's header, body, and achieved difficulty
// under its header hash, independent of whether it ends up on the best
// chain — fork blocks are kept the same way so a later reorg can replay
// them.
func (t *Txn) PutBlockRecord(hash types.Hash, rec blockRecord) {
	t.put(prefixBlockRecord, hash[:], rec)
}

// PutUndo stores the undo record for a just-applied block, keyed by its
// header hash.
func (t *Txn) PutUndo(hash types.Hash, u undoRecord) {
	t.put(prefixUndo, hash[:], u)
}

// DeleteUndo drops a block's undo record once it falls outside
// MaxReorgDepth of the tip and can no longer be reverted to.
func (t *Txn) DeleteUndo(hash types.Hash) {
	if t.err != nil {
		return
	}
	if err := t.batch.Delete(prefixed(prefixUndo, hash[:])); err != nil {
		t.fail(fmt.Errorf("chainstore: delete undo: %w", err))
	}
}

// Commit flushes every buffered write atomically. If any prior call
// recorded an error, Commit returns it without writing anything.
func (t *Txn) Commit() error {
	if t.err != nil {
		return t.err
	}
	if err := t.batch.Commit(); err != nil {
		return fmt.Errorf("chainstore: commit: %w", err)
	}
	return nil
}

// heightFromBytes decodes a big-endian uint64 key (a height or a leaf
// index) from raw ForEach results within this package.
func heightFromBytes(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
