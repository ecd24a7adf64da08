package main

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/Klingon-tech/mimbleforge-node/config"
	"github.com/Klingon-tech/mimbleforge-node/internal/chainstore"
	"github.com/Klingon-tech/mimbleforge-node/internal/consensus"
	"github.com/Klingon-tech/mimbleforge-node/internal/mempool"
	"github.com/Klingon-tech/mimbleforge-node/internal/p2p"
	"github.com/Klingon-tech/mimbleforge-node/internal/txbuild"
	"github.com/Klingon-tech/mimbleforge-node/pkg/block"
	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/tx"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
	"github.com/rs/zerolog"
)

// miningRetryDelay is how long the mining loop waits after a failed
// attempt (lost race, stale tip, application error) before trying again.
const miningRetryDelay = 2 * time.Second

// miningNoncesPerAttempt bounds how many nonces a single attempt searches
// before re-checking the tip, so a just-received block is never mined
// past for more than a fraction of a second.
const miningNoncesPerAttempt = 200_000

// runMiningLoop repeatedly assembles a candidate block on top of the
// current tip, searches for a nonce satisfying the retargeted difficulty
// for cfg's chosen algorithm, and on success applies and broadcasts it.
// It mines against whichever tip is current at the start of each
// attempt, so a block landing mid-search is simply discarded in favor of
// a fresh attempt on the next loop iteration.
func runMiningLoop(ctx context.Context, cfg *config.Config, genesis *config.Genesis, chain *chainstore.Chain, store *chainstore.Store, pool *mempool.Pool, node *p2p.Node, handlers *nodeHandlers, retargetRandomX, retargetSha3x consensus.RetargetParams, logger zerolog.Logger) {
	algo := types.PowAlgoRandomX
	if cfg.Mining.Algo == "sha3x" {
		algo = types.PowAlgoSha3x
	}
	retarget := retargetRandomX
	if algo == types.PowAlgoSha3x {
		retarget = retargetSha3x
	}

	spendKeyBytes, err := hex.DecodeString(cfg.Mining.Coinbase)
	if err != nil {
		logger.Error().Err(err).Msg("mining: coinbase spend key is not valid hex, mining disabled")
		return
	}
	spendKey, err := crypto.PrivateKeyFromBytes(spendKeyBytes)
	if err != nil {
		logger.Error().Err(err).Msg("mining: cannot derive coinbase spend key, mining disabled")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b, err := assembleCandidate(chain, store, pool, genesis, algo, retarget, spendKey)
		if err != nil {
			logger.Warn().Err(err).Msg("mining: failed to assemble candidate block")
			time.Sleep(miningRetryDelay)
			continue
		}

		found, err := searchNonce(ctx, b.Header, retarget)
		if err != nil {
			time.Sleep(miningRetryDelay)
			continue
		}
		if !found {
			continue // nonce budget exhausted; reassemble against the current tip.
		}

		if err := handlers.SubmitBlock(b); err != nil {
			logger.Warn().Err(err).Msg("mining: mined block rejected")
			time.Sleep(miningRetryDelay)
			continue
		}
		if err := node.BroadcastBlock(b); err != nil {
			logger.Warn().Err(err).Msg("mining: failed to broadcast mined block")
		}
		logger.Info().Uint64("height", b.Header.Height).Str("algo", algo.String()).Msg("mined block")
	}
}

// assembleCandidate builds the next block body (coinbase plus the
// mempool's best fee-paying transactions) and a header committing to it,
// with Pow populated with the target difficulty but no satisfying nonce
// yet — searchNonce fills that in.
func assembleCandidate(chain *chainstore.Chain, store *chainstore.Store, pool *mempool.Pool, genesis *config.Genesis, algo types.PowAlgorithm, retarget consensus.RetargetParams, spendKey *crypto.PrivateKey) (*block.Block, error) {
	tip := chain.Tip()
	height := uint64(1)
	if tip != nil {
		height = tip.Height + 1
	}

	candidates := pool.SelectForBlock(0)
	var fees uint64
	for _, t := range candidates {
		fees += t.TotalFee()
	}

	var heightBytes [8]byte
	for i := 0; i < 8; i++ {
		heightBytes[i] = byte(height >> (8 * i))
	}
	nonceSeed := crypto.DomainHash("mimbleforge/miner/coinbase-nonce/v1", []byte(genesis.ChainID), heightBytes[:])
	nonceKey, err := crypto.PrivateKeyFromBytes(nonceSeed[:])
	if err != nil {
		return nil, err
	}

	coinbaseTx, _, err := txbuild.NewCoinbaseBuilder().
		WithBlockHeight(height).
		WithFees(fees).
		WithSpendKey(spendKey).
		WithNonce(nonceKey).
		Build(genesis.Consensus, genesis.Consensus.EmissionSchedule())
	if err != nil {
		return nil, err
	}

	body := block.Body{
		Outputs: append(append([]tx.Output(nil), coinbaseTx.Outputs...), flattenOutputs(candidates)...),
		Kernels: append(append([]tx.Kernel(nil), coinbaseTx.Kernels...), flattenKernels(candidates)...),
		Inputs:  flattenInputs(candidates),
	}
	roots := block.ComputeRoots(&body)

	difficulty, err := consensus.NextDifficultyFor(store, height-1, algo, retarget)
	if err != nil {
		return nil, err
	}

	header := &block.Header{
		Version:           block.CurrentVersion,
		Height:            height,
		Timestamp:         uint64(time.Now().Unix()),
		OutputMR:          roots.OutputRoot,
		OutputMMRSize:     roots.OutputMMRSize,
		WitnessMR:         roots.WitnessRoot,
		KernelMR:          roots.KernelRoot,
		KernelMMRSize:     roots.KernelMMRSize,
		InputMR:           roots.InputRoot,
		TotalKernelOffset: coinbaseTx.KernelOffset,
		TotalScriptOffset: coinbaseTx.ScriptOffset,
		Pow:               consensus.EncodePow(algo, difficulty, randomXSeedFor(chain)),
	}
	if tip != nil {
		header.PrevHash = tip.Hash()
	}

	return &block.Block{Header: header, Body: body}, nil
}

// randomXSeedFor returns the seed hash RandomX candidates mine against:
// the current tip's hash, so the seed rotates every block the same way
// the achieved-hash check in consensus.AchievedHash expects.
func randomXSeedFor(chain *chainstore.Chain) types.Hash {
	if tip := chain.Tip(); tip != nil {
		return tip.Hash()
	}
	return types.Hash{}
}

// searchNonce tries nonces in order starting from 0 until one produces a
// hash meeting difficulty's target, the context is canceled, or the
// per-attempt nonce budget is exhausted (in which case it returns
// found=false so the caller reassembles against a possibly-newer tip).
func searchNonce(ctx context.Context, h *block.Header, retarget consensus.RetargetParams) (bool, error) {
	difficulty, err := consensus.DifficultyFromPow(h.Pow)
	if err != nil {
		return false, err
	}
	hasher, err := crypto.HasherFor(h.Pow.Algo, consensus.SeedHashFromPow(h.Pow))
	if err != nil {
		return false, err
	}
	preimage := h.PowPreimage()

	for nonce := uint64(0); nonce < miningNoncesPerAttempt; nonce++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}
		hash := hasher.Hash(preimage, nonce)
		if consensus.HashMeetsTarget(hash, difficulty) {
			h.Nonce = nonce
			return true, nil
		}
	}
	return false, nil
}

// flattenOutputs, flattenKernels, and flattenInputs concatenate the
// mempool candidates' bodies into the flat lists a block body carries.
// This node does not perform cut-through at assembly time: chainstore's
// own ApplyBlock processes and prunes spent outputs on commit, so a
// freshly assembled candidate simply lists every selected transaction's
// parts in full.
func flattenOutputs(txs []*tx.Transaction) []tx.Output {
	var out []tx.Output
	for _, t := range txs {
		out = append(out, t.Outputs...)
	}
	return out
}

func flattenKernels(txs []*tx.Transaction) []tx.Kernel {
	var out []tx.Kernel
	for _, t := range txs {
		out = append(out, t.Kernels...)
	}
	return out
}

func flattenInputs(txs []*tx.Transaction) []tx.Input {
	var out []tx.Input
	for _, t := range txs {
		out = append(out, t.Inputs...)
	}
	return out
}
