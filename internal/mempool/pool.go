// Package mempool manages candidate transactions waiting for block
// inclusion. A Mimblewimble mempool cannot see values or track spendable
// balances the way an account or value-transparent UTXO chain can — it
// only ever sees commitments, kernel excesses, and a fee the transaction
// itself discloses in the clear — so unlike the teacher's original
// value-bearing mempool, this pool is keyed purely on kernel excess and
// input/output commitments.
package mempool

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/tx"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// Mempool errors.
var (
	ErrAlreadyExists = errors.New("transaction already in mempool")
	ErrConflict      = errors.New("transaction conflicts with existing mempool entry")
	ErrPoolFull      = errors.New("mempool is full")
	ErrValidation    = errors.New("transaction failed validation")
	ErrFeeTooLow     = errors.New("transaction fee below minimum")
)

// UnspentChecker reports whether a commitment currently names a live,
// unspent output — the only chain-state fact the mempool needs to reject
// transactions that spend something already gone.
type UnspentChecker interface {
	OutputExists(c types.Commitment) (bool, error)
}

// entry wraps a transaction with its fee and metadata.
type entry struct {
	tx      *tx.Transaction
	txHash  types.Hash
	fee     uint64
	feeRate float64 // fee per byte of canonical encoding.
}

// Pool holds unconfirmed transactions, indexed for fast duplicate and
// double-spend detection.
type Pool struct {
	mu      sync.RWMutex
	txs     map[types.Hash]*entry
	spends  map[types.Commitment]types.Hash // input commitment -> spending tx hash
	maxSize int

	minFeeRate uint64 // base units per byte, 0 = no minimum.
	unspent    UnspentChecker
	rv         crypto.RangeVerifier
	params     tx.Params
	policy     *Policy
	heightFn   func() uint64
}

// New creates a new mempool. unspent may be nil to disable the
// unspent-output check (useful in isolated tests). The range verifier is
// always crypto.PlaceholderRangeProof{}.
func New(unspent UnspentChecker, params tx.Params, heightFn func() uint64, maxSize int) *Pool {
	if maxSize <= 0 {
		maxSize = 5000
	}
	if heightFn == nil {
		heightFn = func() uint64 { return 0 }
	}
	return &Pool{
		txs:      make(map[types.Hash]*entry),
		spends:   make(map[types.Commitment]types.Hash),
		maxSize:  maxSize,
		unspent:  unspent,
		rv:       crypto.PlaceholderRangeProof{},
		params:   params,
		policy:   DefaultPolicy(),
		heightFn: heightFn,
	}
}

// SetPolicy replaces the pool's acceptance policy.
func (p *Pool) SetPolicy(policy *Policy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policy = policy
}

// SetMinFeeRate sets the minimum fee rate (base units per byte of
// canonical encoding) for transaction acceptance.
func (p *Pool) SetMinFeeRate(rate uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minFeeRate = rate
}

// MinFeeRate returns the current minimum fee rate.
func (p *Pool) MinFeeRate() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.minFeeRate
}

// Add validates and adds a transaction to the mempool, returning its fee.
// Rejects duplicates, double-spend conflicts, and anything that fails
// pkg/tx's internal-consistency checks or references an output that is
// not currently unspent.
func (p *Pool) Add(transaction *tx.Transaction) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	txHash := transaction.Hash()
	if _, exists := p.txs[txHash]; exists {
		return 0, ErrAlreadyExists
	}

	for i := range transaction.Inputs {
		c := transaction.Inputs[i].Commitment
		if conflictHash, exists := p.spends[c]; exists {
			return 0, fmt.Errorf("%w: commitment %s already spent by %s", ErrConflict, c, conflictHash)
		}
	}

	if p.policy != nil {
		if err := p.policy.Check(transaction); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	if err := transaction.Validate(p.params, p.rv, p.heightFn()); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if p.unspent != nil {
		for i := range transaction.Inputs {
			c := transaction.Inputs[i].Commitment
			ok, err := p.unspent.OutputExists(c)
			if err != nil {
				return 0, fmt.Errorf("%w: check unspent %s: %v", ErrValidation, c, err)
			}
			if !ok {
				return 0, fmt.Errorf("%w: input %s does not reference an unspent output", ErrValidation, c)
			}
		}
	}

	fee := transaction.TotalFee()
	size := len(transaction.CanonicalBytes())
	var feeRate float64
	if size > 0 {
		feeRate = float64(fee) / float64(size)
	}

	if p.minFeeRate > 0 {
		required := p.minFeeRate * uint64(size)
		if fee < required {
			return 0, fmt.Errorf("%w: got %d, need %d (%d bytes x %d rate)", ErrFeeTooLow, fee, required, size, p.minFeeRate)
		}
	}

	if len(p.txs) >= p.maxSize {
		lowestHash, lowestRate := p.findLowestFeeRate()
		if feeRate <= lowestRate {
			return 0, ErrPoolFull
		}
		p.removeLocked(lowestHash)
	}

	e := &entry{tx: transaction, txHash: txHash, fee: fee, feeRate: feeRate}
	p.txs[txHash] = e
	for i := range transaction.Inputs {
		p.spends[transaction.Inputs[i].Commitment] = txHash
	}

	return fee, nil
}

// Remove removes a transaction from the mempool by hash.
func (p *Pool) Remove(txHash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(txHash)
}

func (p *Pool) removeLocked(txHash types.Hash) {
	e, exists := p.txs[txHash]
	if !exists {
		return
	}
	for i := range e.tx.Inputs {
		delete(p.spends, e.tx.Inputs[i].Commitment)
	}
	delete(p.txs, txHash)
}

// RemoveConfirmed removes every transaction whose kernels were included
// in a block, plus any remaining pool transaction that now conflicts
// with a spent commitment (cut-through may have consumed an output a
// still-pending transaction also named).
func (p *Pool) RemoveConfirmed(confirmed []*tx.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	spentNow := make(map[types.Commitment]bool)
	for _, t := range confirmed {
		p.removeLocked(t.Hash())
		for i := range t.Inputs {
			spentNow[t.Inputs[i].Commitment] = true
		}
	}
	for hash, e := range p.txs {
		for i := range e.tx.Inputs {
			if spentNow[e.tx.Inputs[i].Commitment] {
				p.removeLocked(hash)
				break
			}
		}
	}
}

// RemoveIncluded removes pool transactions that a newly applied block has
// made obsolete. A block body is already cut through, so it carries no
// reconstructable transaction list — only aggregate kernels and spent
// input commitments — which is why this differs from RemoveConfirmed:
// a pool entry is dropped either because one of its kernels now matches
// a kernel in the block, or because one of its inputs names a commitment
// the block just spent.
func (p *Pool) RemoveIncluded(kernels []tx.Kernel, spent []types.Commitment) {
	p.mu.Lock()
	defer p.mu.Unlock()

	includedExcess := make(map[types.Commitment]bool, len(kernels))
	for i := range kernels {
		includedExcess[kernels[i].Excess] = true
	}
	spentNow := make(map[types.Commitment]bool, len(spent))
	for _, c := range spent {
		spentNow[c] = true
	}

	for hash, e := range p.txs {
		obsolete := false
		for i := range e.tx.Kernels {
			if includedExcess[e.tx.Kernels[i].Excess] {
				obsolete = true
				break
			}
		}
		if !obsolete {
			for i := range e.tx.Inputs {
				if spentNow[e.tx.Inputs[i].Commitment] {
					obsolete = true
					break
				}
			}
		}
		if obsolete {
			p.removeLocked(hash)
		}
	}
}

// Has checks if a transaction exists in the mempool.
func (p *Pool) Has(txHash types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.txs[txHash]
	return exists
}

// Get retrieves a transaction from the mempool.
func (p *Pool) Get(txHash types.Hash) *tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, exists := p.txs[txHash]
	if !exists {
		return nil
	}
	return e.tx
}

// Count returns the number of transactions in the mempool.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.txs)
}

// Hashes returns the hashes of all transactions in the mempool.
func (p *Pool) Hashes() []types.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	hashes := make([]types.Hash, 0, len(p.txs))
	for h := range p.txs {
		hashes = append(hashes, h)
	}
	return hashes
}

func (p *Pool) findLowestFeeRate() (types.Hash, float64) {
	var lowestHash types.Hash
	lowestRate := math.MaxFloat64
	for h, e := range p.txs {
		if e.feeRate < lowestRate {
			lowestRate = e.feeRate
			lowestHash = h
		}
	}
	return lowestHash, lowestRate
}

// SelectForBlock returns transactions ordered by fee rate (highest
// first), up to the given limit — the candidate set a miner folds into
// its next block body.
func (p *Pool) SelectForBlock(limit int) []*tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := make([]*entry, 0, len(p.txs))
	for _, e := range p.txs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].feeRate > entries[j].feeRate })

	if limit > len(entries) || limit <= 0 {
		limit = len(entries)
	}
	result := make([]*tx.Transaction, limit)
	for i := 0; i < limit; i++ {
		result[i] = entries[i].tx
	}
	return result
}
