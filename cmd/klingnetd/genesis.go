package main

import (
	"fmt"

	"github.com/Klingon-tech/mimbleforge-node/config"
	"github.com/Klingon-tech/mimbleforge-node/internal/chainstore"
	"github.com/Klingon-tech/mimbleforge-node/internal/consensus"
	"github.com/Klingon-tech/mimbleforge-node/internal/txbuild"
	"github.com/Klingon-tech/mimbleforge-node/pkg/block"
	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// genesisSpendLabel and genesisNonceLabel derive the genesis coinbase's
// spend and nonce keys deterministically from the chain id, so every node
// launching the same network computes the identical genesis block without
// needing a premine key distributed out of band.
const (
	genesisSpendLabel = "mimbleforge/genesis/coinbase-spend/v1"
	genesisNonceLabel = "mimbleforge/genesis/coinbase-nonce/v1"
)

// bootstrapGenesis applies the network's genesis block to an empty chain.
// A fresh store has no tip; an already-initialized one is left untouched.
// The genesis block is constructed directly rather than mined: its
// proof-of-work is fixed at the easiest possible difficulty, which
// HashMeetsTarget satisfies unconditionally, and it bypasses the usual
// structural/contextual validation path entirely — there is no previous
// block for ValidateContextual to chain it against.
func bootstrapGenesis(chain *chainstore.Chain, genesis *config.Genesis) error {
	if chain.Tip() != nil {
		return nil
	}

	spendSeed := crypto.DomainHash(genesisSpendLabel, []byte(genesis.ChainID))
	nonceSeed := crypto.DomainHash(genesisNonceLabel, []byte(genesis.ChainID))
	spendKey, err := crypto.PrivateKeyFromBytes(spendSeed[:])
	if err != nil {
		return fmt.Errorf("genesis: derive spend key: %w", err)
	}
	nonceKey, err := crypto.PrivateKeyFromBytes(nonceSeed[:])
	if err != nil {
		return fmt.Errorf("genesis: derive nonce key: %w", err)
	}

	transaction, _, err := txbuild.NewCoinbaseBuilder().
		WithBlockHeight(0).
		WithSpendKey(spendKey).
		WithNonce(nonceKey).
		Build(genesis.Consensus, genesis.Consensus.EmissionSchedule())
	if err != nil {
		return fmt.Errorf("genesis: build coinbase: %w", err)
	}

	body := block.Body{Outputs: transaction.Outputs, Kernels: transaction.Kernels}
	roots := block.ComputeRoots(&body)

	header := &block.Header{
		Version:           block.CurrentVersion,
		Height:            0,
		Timestamp:         genesis.Timestamp,
		OutputMR:          roots.OutputRoot,
		OutputMMRSize:     roots.OutputMMRSize,
		WitnessMR:         roots.WitnessRoot,
		KernelMR:          roots.KernelRoot,
		KernelMMRSize:     roots.KernelMMRSize,
		InputMR:           roots.InputRoot,
		TotalKernelOffset: transaction.KernelOffset,
		TotalScriptOffset: transaction.ScriptOffset,
		Pow:               consensus.EncodePow(types.PowAlgoRandomX, 1, types.Hash{}),
	}

	b := &block.Block{Header: header, Body: body}
	if err := chain.ApplyBlock(b, 1); err != nil {
		return fmt.Errorf("genesis: apply block: %w", err)
	}
	return nil
}
