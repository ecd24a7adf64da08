package chainstore

import (
	"sync"
	"testing"

	"github.com/Klingon-tech/mimbleforge-node/internal/storage"
	"github.com/Klingon-tech/mimbleforge-node/pkg/block"
	"github.com/Klingon-tech/mimbleforge-node/pkg/tx"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// newTestChain returns an empty Chain over a fresh in-memory store, ready
// to accept a genesis block.
func newTestChain(t *testing.T) *Chain {
	t.Helper()
	c, err := Open(New(storage.NewMemory()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c
}

// commitmentN builds a commitment distinct for every n, which is all
// these tests need since ApplyBlock never checks commitments for
// cryptographic validity, only for MMR/UTXO bookkeeping.
func commitmentN(n byte) types.Commitment {
	var c types.Commitment
	c[0] = n
	c[1] = 0xc0
	return c
}

// buildBlock produces a block extending prev (nil for genesis) with one
// output, keyed by outputSeed, and no kernels or inputs. algo/nonce let
// callers vary the block so distinct blocks at the same height produce
// distinct hashes.
func buildBlock(prev *block.Header, outputSeed byte, nonce uint64) *block.Block {
	height := uint64(0)
	var prevHash types.Hash
	if prev != nil {
		height = prev.Height + 1
		prevHash = prev.Hash()
	}
	return &block.Block{
		Header: &block.Header{
			Height:   height,
			PrevHash: prevHash,
			Nonce:    nonce,
		},
		Body: block.Body{
			Outputs: []tx.Output{{Commitment: commitmentN(outputSeed)}},
		},
	}
}

// buildSpendingBlock produces a block extending prev that spends the
// given output (by commitment) and creates one new one.
func buildSpendingBlock(prev *block.Header, spend types.Commitment, outputSeed byte, nonce uint64) *block.Block {
	b := buildBlock(prev, outputSeed, nonce)
	b.Body.Inputs = []tx.Input{{Commitment: spend}}
	return b
}

func mustApply(t *testing.T, c *Chain, b *block.Block, difficulty uint64) {
	t.Helper()
	if err := c.ApplyBlock(b, difficulty); err != nil {
		t.Fatalf("ApplyBlock height %d: %v", b.Header.Height, err)
	}
}

func TestApplyBlock_LinearExtendsTip(t *testing.T) {
	c := newTestChain(t)

	genesis := buildBlock(nil, 1, 0)
	mustApply(t, c, genesis, 10)

	b1 := buildBlock(genesis.Header, 2, 0)
	mustApply(t, c, b1, 10)

	if c.Height() != 1 {
		t.Fatalf("Height() = %d, want 1", c.Height())
	}
	if c.Tip().Hash() != b1.Header.Hash() {
		t.Fatal("tip does not match the block just applied")
	}

	exists, err := c.OutputExists(commitmentN(2))
	if err != nil {
		t.Fatalf("OutputExists: %v", err)
	}
	if !exists {
		t.Fatal("output created by the tip block should be unspent")
	}
}

func TestApplyBlock_LighterForkIsStashedNotAdopted(t *testing.T) {
	c := newTestChain(t)

	genesis := buildBlock(nil, 1, 0)
	mustApply(t, c, genesis, 10)

	mainTip := buildBlock(genesis.Header, 2, 0)
	mustApply(t, c, mainTip, 10)

	fork := buildBlock(genesis.Header, 3, 99)
	mustApply(t, c, fork, 5) // Lighter than the main branch's 10.

	if c.Tip().Hash() != mainTip.Header.Hash() {
		t.Fatal("a lighter fork must not become the tip")
	}
	if c.Height() != 1 {
		t.Fatalf("Height() = %d, want 1 (unchanged by the stashed fork)", c.Height())
	}
}

func TestApplyBlock_HeavierForkTriggersReorgAndKeepsBody(t *testing.T) {
	c := newTestChain(t)

	genesis := buildBlock(nil, 1, 0)
	mustApply(t, c, genesis, 10)

	mainTip := buildBlock(genesis.Header, 2, 0)
	mustApply(t, c, mainTip, 10)

	// A heavier fork off genesis, carrying its own distinct output.
	fork := buildBlock(genesis.Header, 3, 99)
	mustApply(t, c, fork, 20)

	if c.Tip().Hash() != fork.Header.Hash() {
		t.Fatal("a heavier fork must take over as the tip")
	}
	if c.Height() != 1 {
		t.Fatalf("Height() = %d, want 1", c.Height())
	}

	// The reorg-winning block's own body must have survived replay, not
	// been dropped for an empty one.
	forkOutputExists, err := c.OutputExists(commitmentN(3))
	if err != nil {
		t.Fatalf("OutputExists(fork output): %v", err)
	}
	if !forkOutputExists {
		t.Fatal("fork block's output missing after reorg replay — its body was lost")
	}

	oldOutputExists, err := c.OutputExists(commitmentN(2))
	if err != nil {
		t.Fatalf("OutputExists(old branch output): %v", err)
	}
	if oldOutputExists {
		t.Fatal("losing branch's output should have been reverted")
	}
}

func TestApplyBlock_ReorgRestoresSpentOutputOnRevert(t *testing.T) {
	c := newTestChain(t)

	genesis := buildBlock(nil, 1, 0)
	mustApply(t, c, genesis, 10)

	// Main branch spends genesis's output.
	mainTip := buildSpendingBlock(genesis.Header, commitmentN(1), 2, 0)
	mustApply(t, c, mainTip, 10)

	spentOnMain, err := c.OutputExists(commitmentN(1))
	if err != nil {
		t.Fatalf("OutputExists: %v", err)
	}
	if spentOnMain {
		t.Fatal("genesis output should be spent on the main branch")
	}

	// A heavier fork off genesis that does not spend it.
	fork := buildBlock(genesis.Header, 3, 99)
	mustApply(t, c, fork, 20)

	restored, err := c.OutputExists(commitmentN(1))
	if err != nil {
		t.Fatalf("OutputExists after reorg: %v", err)
	}
	if !restored {
		t.Fatal("reverting the spending branch should have restored the genesis output")
	}
}

func TestApplyBlock_LockedWhileAnotherApplyIsInFlight(t *testing.T) {
	c := newTestChain(t)

	c.mu.Lock() // Simulate an ApplyBlock already in progress.
	defer c.mu.Unlock()

	b := buildBlock(nil, 1, 0)
	if err := c.ApplyBlock(b, 10); err != ErrAddBlockLocked {
		t.Fatalf("ApplyBlock() = %v, want ErrAddBlockLocked", err)
	}
}

func TestApplyBlock_ConcurrentCallsDoNotCorruptState(t *testing.T) {
	c := newTestChain(t)
	genesis := buildBlock(nil, 1, 0)
	mustApply(t, c, genesis, 10)

	const n = 8
	var wg sync.WaitGroup
	locked := 0
	var mu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b := buildBlock(genesis.Header, byte(10+i), uint64(i))
			err := c.ApplyBlock(b, 1)
			if err == ErrAddBlockLocked {
				mu.Lock()
				locked++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	// TryLock guarantees callers never corrupt state concurrently; at
	// least one of these candidate blocks landed as a fork candidate or
	// the new tip, and the chain is left in a consistent, single-tip
	// state regardless of how many lost the race.
	if c.Tip() == nil {
		t.Fatal("chain lost its tip after concurrent ApplyBlock calls")
	}
}
