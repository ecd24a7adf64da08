package chainstore

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/mimbleforge-node/pkg/block"
	"github.com/Klingon-tech/mimbleforge-node/pkg/tx"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// MaxReorgDepth bounds how many blocks a single reorg may revert. A
// competing branch whose fork point is deeper than this below the tip
// is rejected rather than replayed.
const MaxReorgDepth = 1000

var (
	// ErrAddBlockLocked is returned when ApplyBlock is already running
	// for another block; spec.md's AddBlockOperationLocked — the caller
	// should retry, not treat it as a validation failure or ban reason.
	ErrAddBlockLocked = errors.New("chainstore: add_block operation locked")
	// ErrReorgTooDeep means a competing branch's fork point lies more
	// than MaxReorgDepth blocks behind the tip.
	ErrReorgTooDeep = errors.New("chainstore: reorg exceeds max depth")
	// ErrUnknownParent means neither the tip nor any stored block record
	// matches prev_hash. Callers should route this to an orphan queue
	// before ever calling ApplyBlock; ApplyBlock itself treats it as a
	// storage-level contract violation rather than attempting recovery.
	ErrUnknownParent = errors.New("chainstore: block's parent is not known to this store")
	// ErrBlockAlreadyKnown means a block with this hash was already
	// applied or stashed as a fork candidate.
	ErrBlockAlreadyKnown = errors.New("chainstore: block already known")
)

// blockRecord is persisted for every accepted block body, win or lose.
// Fork blocks that never become the best chain are kept as well, and no
// code path deletes a block record, so a later reorg can replay them
// without re-fetching bodies from peers.
type blockRecord struct {
	Header     *block.Header `json:"header"`
	Body       block.Body    `json:"body"`
	Difficulty uint64        `json:"difficulty"`
}

// undoRecord captures what ApplyBlock changed for one block so
// revertTip can reverse it during a reorg.
type undoRecord struct {
	SpentOutputs    []spentOutputUndo  `json:"spent_outputs"`
	CreatedOutputs  []types.Commitment `json:"created_outputs"`
	CreatedKernels  []types.Hash       `json:"created_kernels"`
	OutputLeafStart uint64             `json:"output_leaf_start"`
	KernelLeafStart uint64             `json:"kernel_leaf_start"`
}

// spentOutputUndo is the pre-spend output record plus its MMR leaf
// index, enough to restore both the flat record and the deleted-bitmap
// bit a revert needs to undo.
type spentOutputUndo struct {
	Output *tx.Output `json:"output"`
	Leaf   uint64      `json:"leaf"`
}

// ApplyBlock commits a validated block's body to the chain state. If
// the block extends the current tip it is applied directly. If its
// parent is a known header that is not the tip, the block is stashed as
// a fork candidate and, when its branch's accumulated difficulty
// overtakes the current best chain, the chain reorgs onto it — reverting
// the old branch's blocks and replaying the new one, exactly as the
// teacher's chain.Reorg does for its UTXO set. Callers must have already
// run full structural plus contextual validation; ApplyBlock performs
// none of its own beyond what it needs to revert or replay safely.
//
// blockDifficulty is the achieved proof-of-work difficulty for the
// block's algorithm.
func (c *Chain) ApplyBlock(b *block.Block, blockDifficulty uint64) error {
	if !c.mu.TryLock() {
		return ErrAddBlockLocked
	}
	defer c.mu.Unlock()

	hash := b.Header.Hash()
	if known, err := c.store.HasBlockRecord(hash); err != nil {
		return err
	} else if known {
		return ErrBlockAlreadyKnown
	}

	txn := c.store.Begin()
	txn.PutBlockRecord(hash, blockRecord{Header: b.Header, Body: b.Body, Difficulty: blockDifficulty})

	switch {
	case c.tip == nil:
		if b.Header.Height != 0 || !b.Header.PrevHash.IsZero() {
			return fmt.Errorf("%w: genesis must be height 0 with zero prev_hash", ErrUnknownParent)
		}
		if err := c.extendTip(txn, b, blockDifficulty); err != nil {
			return err
		}
		return txn.Commit()

	case b.Header.PrevHash == c.tip.Hash():
		if err := c.extendTip(txn, b, blockDifficulty); err != nil {
			return err
		}
		return txn.Commit()

	default:
		parent, err := c.store.HeaderByHash(b.Header.PrevHash)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnknownParent, err)
		}
		if err := txn.Commit(); err != nil {
			return err
		}
		return c.considerReorg(b.Header, parent)
	}
}

// extendTip appends b's body to the live MMRs, records its undo data,
// advances the tip, and prunes undo history beyond MaxReorgDepth — the
// fast path every block takes until a heavier fork shows up. txn is not
// committed by extendTip; the caller commits once every write for this
// block has been queued.
func (c *Chain) extendTip(txn *Txn, b *block.Block, blockDifficulty uint64) error {
	undo, err := c.applyBody(txn, &b.Body)
	if err != nil {
		return err
	}

	bitmapBytes, err := c.outputMmr.DeletedBitmapBytes()
	if err != nil {
		return fmt.Errorf("chainstore: serialize deleted bitmap: %w", err)
	}
	txn.UpdatePrunedHashSet(OutputMMRName, c.outputMmr.GetPrunedHashSet())
	txn.UpdatePrunedHashSet(WitnessMMRName, c.witnessMmr.GetPrunedHashSet())
	txn.UpdatePrunedHashSet(KernelMMRName, c.kernelMmr.GetPrunedHashSet())
	txn.UpdateDeletedBitmap(bitmapBytes)

	txn.InsertHeader(b.Header)
	hash := b.Header.Hash()
	txn.PutUndo(hash, *undo)

	md, err := c.store.Metadata()
	if err != nil {
		return err
	}
	md.BestBlockHeight = b.Header.Height
	md.BestBlockHash = hash
	if int(b.Header.Pow.Algo) < len(md.TotalAccumulatedDifficulty) {
		md.TotalAccumulatedDifficulty[b.Header.Pow.Algo] += blockDifficulty
	}
	txn.SetBestBlock(md)

	if b.Header.Height > MaxReorgDepth {
		if old, err := c.store.HeaderAtHeight(b.Header.Height - MaxReorgDepth); err == nil {
			txn.DeleteUndo(old.Hash())
		}
	}

	c.tip = b.Header
	return nil
}

// applyBody appends outputs, witnesses, and kernels to the live MMRs and
// deletes spent-input leaves, returning the undo record a later revert
// would need. It mutates the MutableMmrs directly but queues every
// durable write against txn rather than writing through the store.
func (c *Chain) applyBody(txn *Txn, body *block.Body) (*undoRecord, error) {
	undo := &undoRecord{
		OutputLeafStart: c.outputMmr.NumLeaves(),
		KernelLeafStart: c.kernelMmr.NumLeaves(),
	}

	leafByCommitment := make(map[types.Commitment]uint64, len(body.Outputs))
	for i := range body.Outputs {
		o := &body.Outputs[i]
		outLeaf := c.outputMmr.Append(o.Hash())
		c.witnessMmr.Append(o.WitnessHash())
		leafByCommitment[o.Commitment] = outLeaf
		txn.InsertOutput(o, outLeaf)
		undo.CreatedOutputs = append(undo.CreatedOutputs, o.Commitment)
	}

	for i := range body.Kernels {
		k := &body.Kernels[i]
		c.kernelMmr.Append(k.Hash())
		txn.InsertKernel(k)
		undo.CreatedKernels = append(undo.CreatedKernels, k.Hash())
	}

	for i := range body.Inputs {
		in := &body.Inputs[i]
		if leaf, ok := leafByCommitment[in.Commitment]; ok {
			// Spent within the same block: cut-through already applies
			// to the body, but the leaf was just appended above, so it
			// still needs marking deleted for the unspent-count view.
			// It was also never a pre-existing output, so there is
			// nothing for undo to restore beyond removing the leaf
			// itself, which CreatedOutputs above already covers.
			c.outputMmr.Delete(leaf)
			txn.SpendOutput(in.Commitment)
			continue
		}
		out, err := c.store.Output(in.Commitment)
		if err != nil {
			return nil, fmt.Errorf("chainstore: spend unknown output %s: %w", in.Commitment, err)
		}
		leaf, err := c.outputLeafIndex(in.Commitment)
		if err != nil {
			return nil, err
		}
		c.outputMmr.Delete(leaf)
		txn.SpendOutput(in.Commitment)
		undo.SpentOutputs = append(undo.SpentOutputs, spentOutputUndo{Output: out, Leaf: leaf})
	}

	return undo, nil
}

// revertTip undoes the current tip block using its stored undo record,
// rewinding the live MMRs and restoring spent outputs, then moves the
// in-memory tip back to the parent header. It does not touch stored
// headers or block records — those remain for the new branch's replay
// to either reuse (if it agrees) or for history.
func (c *Chain) revertTip() error {
	tip := c.tip
	if tip == nil {
		return fmt.Errorf("chainstore: cannot revert before genesis")
	}
	hash := tip.Hash()
	undo, err := c.store.Undo(hash)
	if err != nil {
		return fmt.Errorf("chainstore: revert %s: %w", hash, err)
	}

	if err := c.outputMmr.Rewind(undo.OutputLeafStart); err != nil {
		return fmt.Errorf("chainstore: rewind output mmr: %w", err)
	}
	if err := c.witnessMmr.Rewind(undo.OutputLeafStart); err != nil {
		return fmt.Errorf("chainstore: rewind witness mmr: %w", err)
	}
	if err := c.kernelMmr.Rewind(undo.KernelLeafStart); err != nil {
		return fmt.Errorf("chainstore: rewind kernel mmr: %w", err)
	}

	txn := c.store.Begin()
	for i := range undo.SpentOutputs {
		su := &undo.SpentOutputs[i]
		c.outputMmr.Undelete(su.Leaf)
		txn.InsertOutput(su.Output, su.Leaf)
	}
	for _, comm := range undo.CreatedOutputs {
		txn.SpendOutput(comm)
	}

	bitmapBytes, err := c.outputMmr.DeletedBitmapBytes()
	if err != nil {
		return fmt.Errorf("chainstore: serialize deleted bitmap: %w", err)
	}
	txn.UpdatePrunedHashSet(OutputMMRName, c.outputMmr.GetPrunedHashSet())
	txn.UpdatePrunedHashSet(WitnessMMRName, c.witnessMmr.GetPrunedHashSet())
	txn.UpdatePrunedHashSet(KernelMMRName, c.kernelMmr.GetPrunedHashSet())
	txn.UpdateDeletedBitmap(bitmapBytes)
	txn.DeleteUndo(hash)

	var parent *block.Header
	if tip.Height > 0 {
		parent, err = c.store.HeaderByHash(tip.PrevHash)
		if err != nil {
			return fmt.Errorf("chainstore: load parent of reverted tip: %w", err)
		}
	}

	md, err := c.store.Metadata()
	if err != nil {
		return err
	}
	rec, err := c.store.BlockRecord(hash)
	if err != nil {
		return fmt.Errorf("chainstore: load reverted block record: %w", err)
	}
	if int(tip.Pow.Algo) < len(md.TotalAccumulatedDifficulty) {
		md.TotalAccumulatedDifficulty[tip.Pow.Algo] -= rec.Difficulty
	}
	if parent != nil {
		md.BestBlockHeight = parent.Height
		md.BestBlockHash = parent.Hash()
	} else {
		md.BestBlockHeight = 0
		md.BestBlockHash = types.Hash{}
	}
	txn.SetBestBlock(md)

	if err := txn.Commit(); err != nil {
		return err
	}
	c.tip = parent
	return nil
}

// considerReorg handles a block whose parent is a known header that is
// not the current tip: it walks the new branch back to its fork point
// on the best chain, compares accumulated difficulty, and — only if the
// new branch is strictly heavier — reverts the old branch down to the
// fork point and replays the new one block by block.
func (c *Chain) considerReorg(newHeader *block.Header, parent *block.Header) error {
	// ApplyBlock already persisted this block's full blockRecord (header,
	// body, difficulty) before calling in; read it back rather than
	// reconstructing one here, which would carry an empty Body and lose
	// the block's contents on replay.
	newRec, err := c.store.BlockRecord(newHeader.Hash())
	if err != nil {
		return fmt.Errorf("chainstore: load fork candidate's own block record: %w", err)
	}
	branch := []blockRecord{*newRec}
	cur := parent
	depth := 0
	for {
		if depth > MaxReorgDepth {
			return ErrReorgTooDeep
		}
		onBestChain, err := c.store.HeaderAtHeight(cur.Height)
		if err == nil && onBestChain.Hash() == cur.Hash() {
			break // Found the common ancestor.
		}
		rec, err := c.store.BlockRecord(cur.Hash())
		if err != nil {
			return fmt.Errorf("chainstore: fork branch missing ancestor %s: %w", cur.Hash(), err)
		}
		branch = append([]blockRecord{*rec}, branch...)
		if cur.Height == 0 {
			return fmt.Errorf("chainstore: fork branch never reaches the best chain")
		}
		parentOfCur, err := c.store.HeaderByHash(cur.PrevHash)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnknownParent, err)
		}
		cur = parentOfCur
		depth++
	}
	forkHeight := cur.Height

	var newWork uint64
	for _, rec := range branch {
		newWork += rec.Difficulty
	}
	var oldWork uint64
	for h := forkHeight + 1; h <= c.tip.Height; h++ {
		hdr, err := c.store.HeaderAtHeight(h)
		if err != nil {
			return fmt.Errorf("chainstore: load old branch header at height %d: %w", h, err)
		}
		rec, err := c.store.BlockRecord(hdr.Hash())
		if err != nil {
			return fmt.Errorf("chainstore: load old branch block at height %d: %w", h, err)
		}
		oldWork += rec.Difficulty
	}

	if newWork <= oldWork {
		return nil // Stashed as a fork candidate; not heavy enough to take over.
	}

	for c.tip.Height > forkHeight {
		if err := c.revertTip(); err != nil {
			return fmt.Errorf("chainstore: revert to fork point: %w", err)
		}
	}

	for _, rec := range branch {
		txn := c.store.Begin()
		undo, err := c.applyBody(txn, &rec.Body)
		if err != nil {
			return fmt.Errorf("chainstore: replay block at height %d: %w", rec.Header.Height, err)
		}
		bitmapBytes, err := c.outputMmr.DeletedBitmapBytes()
		if err != nil {
			return fmt.Errorf("chainstore: serialize deleted bitmap: %w", err)
		}
		txn.UpdatePrunedHashSet(OutputMMRName, c.outputMmr.GetPrunedHashSet())
		txn.UpdatePrunedHashSet(WitnessMMRName, c.witnessMmr.GetPrunedHashSet())
		txn.UpdatePrunedHashSet(KernelMMRName, c.kernelMmr.GetPrunedHashSet())
		txn.UpdateDeletedBitmap(bitmapBytes)
		txn.InsertHeader(rec.Header)
		hash := rec.Header.Hash()
		txn.PutUndo(hash, *undo)

		md, err := c.store.Metadata()
		if err != nil {
			return err
		}
		md.BestBlockHeight = rec.Header.Height
		md.BestBlockHash = hash
		if int(rec.Header.Pow.Algo) < len(md.TotalAccumulatedDifficulty) {
			md.TotalAccumulatedDifficulty[rec.Header.Pow.Algo] += rec.Difficulty
		}
		txn.SetBestBlock(md)

		if err := txn.Commit(); err != nil {
			return err
		}
		c.tip = rec.Header
	}

	return nil
}
