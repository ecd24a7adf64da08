// Package block defines the block type and its structural validation.
package block

import (
	"github.com/Klingon-tech/mimbleforge-node/pkg/tx"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// Body is the aggregate of every input, output, and kernel a block
// carries. Unlike a list of discrete transactions, a block body has
// already had cut-through applied: an output spent by an input inside
// the same block is legally removed from both lists rather than kept
// around as a matching pair, which is why Body has no notion of
// "transaction boundaries" at all.
type Body struct {
	Inputs  []tx.Input  `json:"inputs"`
	Outputs []tx.Output `json:"outputs"`
	Kernels []tx.Kernel `json:"kernels"`
}

// Block is a header plus the aggregate body it commits to.
type Block struct {
	Header *Header `json:"header"`
	Body   Body    `json:"body"`
}

// NewBlock creates a new block with the given header and body.
func NewBlock(header *Header, body Body) *Block {
	return &Block{Header: header, Body: body}
}

// Hash returns the block header hash.
func (b *Block) Hash() types.Hash {
	if b.Header == nil {
		return types.Hash{}
	}
	return b.Header.Hash()
}

// TotalFees returns the sum of every kernel's fee.
func (b *Block) TotalFees() uint64 {
	var total uint64
	for i := range b.Body.Kernels {
		total += b.Body.Kernels[i].Fee
	}
	return total
}

// CoinbaseOutput returns the block's coinbase output, if any.
func (b *Block) CoinbaseOutput() (*tx.Output, bool) {
	for i := range b.Body.Outputs {
		if b.Body.Outputs[i].Features.IsCoinbase() {
			return &b.Body.Outputs[i], true
		}
	}
	return nil, false
}

// CoinbaseKernel returns the block's coinbase kernel, if any.
func (b *Block) CoinbaseKernel() (*tx.Kernel, bool) {
	for i := range b.Body.Kernels {
		if b.Body.Kernels[i].IsCoinbase() {
			return &b.Body.Kernels[i], true
		}
	}
	return nil, false
}
