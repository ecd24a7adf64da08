package block

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/tx"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// Validation errors for a block's internal-consistency pass. Contextual
// checks (prev-hash chaining, timestamp median, PoW target, UTXO-set
// membership) live in internal/consensus, which has chain state this
// package does not.
var (
	ErrNilHeader            = errors.New("block has nil header")
	ErrBadVersion           = errors.New("unsupported block version")
	ErrZeroTimestamp        = errors.New("block timestamp is zero")
	ErrTooManyInputs        = errors.New("too many inputs in block")
	ErrTooManyOutputs       = errors.New("too many outputs in block")
	ErrTooManyKernels       = errors.New("too many kernels in block")
	ErrScriptTooLarge       = errors.New("script exceeds max size")
	ErrCovenantTooLarge     = errors.New("covenant exceeds max token count")
	ErrDuplicateInput       = errors.New("duplicate input commitment in block")
	ErrDuplicateOutput      = errors.New("duplicate output commitment in block")
	ErrHiddenCutThrough     = errors.New("output commitment matches an input commitment: cut-through was not applied")
	ErrRangeProofInvalid    = errors.New("range proof does not verify")
	ErrMetadataSigInvalid   = errors.New("output metadata signature does not verify")
	ErrScriptSigInvalid     = errors.New("input script signature does not verify")
	ErrKernelSigInvalid     = errors.New("kernel excess signature does not verify")
	ErrBalanceMismatch      = errors.New("block balance equation does not hold")
	ErrScriptOffsetMismatch = errors.New("script offset does not balance")
	ErrNoCoinbaseOutput     = errors.New("block has no coinbase output")
	ErrNoCoinbaseKernel     = errors.New("block has no coinbase kernel")
	ErrMultipleCoinbaseOut  = errors.New("more than one coinbase output")
	ErrMultipleCoinbaseKrn  = errors.New("more than one coinbase kernel")
	ErrCoinbaseImmature     = errors.New("coinbase output matures before the consensus lock height")
	ErrTimelocked           = errors.New("input or kernel still timelocked")
	ErrRootMismatch         = errors.New("header MMR root/size does not match the block body")
)

// Block version constants.
const (
	CurrentVersion = 3 // The current block version produced by this software.
	MaxVersion     = 3 // Bump when a fork introduces a new block version.
)

// Params bounds the structural limits a block's internal-consistency
// pass enforces; wired from a consensus constants source by callers.
type Params struct {
	MaxInputs          int
	MaxOutputs         int
	MaxKernels         int
	MaxScriptSize      int
	MaxCovenantSize    int
	CoinbaseLockHeight uint64
}

// Validate checks a block's structure and internal consistency: every
// check spec.md §4.E pass 1 names, generalized from a single
// transaction to a whole block body, plus the MMR roots the header
// commits to. blockReward is folded into the balance equation the same
// way a kernel fee is, so a coinbase that mismints is rejected without
// ever inspecting a plaintext output value. currentHeight gates
// maturity/timelock checks. This does NOT verify consensus rules that
// need chain state — see internal/consensus.
func (b *Block) Validate(p Params, rv crypto.RangeVerifier, blockReward, currentHeight uint64) error {
	if b.Header == nil {
		return ErrNilHeader
	}
	if b.Header.Version < 1 || b.Header.Version > MaxVersion {
		return fmt.Errorf("%w: got %d, want 1..%d", ErrBadVersion, b.Header.Version, MaxVersion)
	}
	if b.Header.Timestamp == 0 {
		return ErrZeroTimestamp
	}
	if len(b.Body.Inputs) > p.MaxInputs {
		return fmt.Errorf("%w: %d, max %d", ErrTooManyInputs, len(b.Body.Inputs), p.MaxInputs)
	}
	if len(b.Body.Outputs) > p.MaxOutputs {
		return fmt.Errorf("%w: %d, max %d", ErrTooManyOutputs, len(b.Body.Outputs), p.MaxOutputs)
	}
	if len(b.Body.Kernels) > p.MaxKernels {
		return fmt.Errorf("%w: %d, max %d", ErrTooManyKernels, len(b.Body.Kernels), p.MaxKernels)
	}

	if err := b.checkScriptAndCovenantSizes(p); err != nil {
		return err
	}
	if err := b.checkNoDuplicatesOrCutThrough(); err != nil {
		return err
	}
	if err := b.checkRangeProofs(rv); err != nil {
		return err
	}
	if err := b.checkMetadataSignatures(); err != nil {
		return err
	}
	if err := b.checkScriptSignatures(); err != nil {
		return err
	}
	if err := b.checkKernelSignatures(); err != nil {
		return err
	}
	if err := b.checkBalance(blockReward); err != nil {
		return err
	}
	if err := b.checkScriptOffset(); err != nil {
		return err
	}
	if err := b.checkCoinbaseRules(p); err != nil {
		return err
	}
	if err := b.checkTimelocks(currentHeight); err != nil {
		return err
	}
	if !ComputeRoots(&b.Body).Matches(b.Header) {
		return ErrRootMismatch
	}
	return nil
}

func (b *Block) checkScriptAndCovenantSizes(p Params) error {
	for i := range b.Body.Outputs {
		if b.Body.Outputs[i].Script.Size() > p.MaxScriptSize {
			return fmt.Errorf("output %d: %w", i, ErrScriptTooLarge)
		}
		if b.Body.Outputs[i].Covenant.TokenCount() > p.MaxCovenantSize {
			return fmt.Errorf("output %d: %w", i, ErrCovenantTooLarge)
		}
	}
	return nil
}

func (b *Block) checkNoDuplicatesOrCutThrough() error {
	inputSeen := make(map[types.Commitment]bool, len(b.Body.Inputs))
	for i := range b.Body.Inputs {
		c := b.Body.Inputs[i].Commitment
		if inputSeen[c] {
			return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
		}
		inputSeen[c] = true
	}

	outputSeen := make(map[types.Commitment]bool, len(b.Body.Outputs))
	for i := range b.Body.Outputs {
		c := b.Body.Outputs[i].Commitment
		if outputSeen[c] {
			return fmt.Errorf("output %d: %w", i, ErrDuplicateOutput)
		}
		outputSeen[c] = true
		if inputSeen[c] {
			return fmt.Errorf("output %d: %w", i, ErrHiddenCutThrough)
		}
	}
	return nil
}

func (b *Block) checkRangeProofs(rv crypto.RangeVerifier) error {
	for i := range b.Body.Outputs {
		o := &b.Body.Outputs[i]
		if o.Features.RangeProofType == types.RangeProofRevealedValue {
			continue
		}
		if !rv.Verify(o.Commitment, o.RangeProof) {
			return fmt.Errorf("output %d: %w", i, ErrRangeProofInvalid)
		}
	}
	return nil
}

func (b *Block) checkMetadataSignatures() error {
	for i := range b.Body.Outputs {
		o := &b.Body.Outputs[i]
		h := crypto.Hash(o.MetadataSigningBytes())
		if !crypto.VerifySignature(h[:], o.MetadataSig.Bytes(), o.SenderOffsetKey.Bytes()) {
			return fmt.Errorf("output %d: %w", i, ErrMetadataSigInvalid)
		}
	}
	return nil
}

func (b *Block) checkScriptSignatures() error {
	for i := range b.Body.Inputs {
		in := &b.Body.Inputs[i]
		if !crypto.VerifySignature(in.OutputHash[:], in.ScriptSig.Bytes(), in.ScriptSigKey.Bytes()) {
			return fmt.Errorf("input %d: %w", i, ErrScriptSigInvalid)
		}
		if !tx.Execute(in) {
			return fmt.Errorf("input %d: script execution failed", i)
		}
	}
	return nil
}

func (b *Block) checkKernelSignatures() error {
	for i := range b.Body.Kernels {
		k := &b.Body.Kernels[i]
		h := crypto.Hash(k.ChallengeBytes())
		if !crypto.VerifySignature(h[:], k.Signature.Bytes(), k.Excess.Bytes()) {
			return fmt.Errorf("kernel %d: %w", i, ErrKernelSigInvalid)
		}
	}
	return nil
}

// checkBalance verifies Σoutputs - Σinputs - Σfees - reward*H equals
// the block's total kernel offset plus the sum of every kernel excess.
// Folding the reward into the same subtracted side as the fees is what
// lets this check catch a coinbase that mismints without ever looking
// at a plaintext output value.
func (b *Block) checkBalance(blockReward uint64) error {
	var totalFees uint64
	excesses := make([]types.Commitment, len(b.Body.Kernels))
	for i := range b.Body.Kernels {
		totalFees += b.Body.Kernels[i].Fee
		excesses[i] = b.Body.Kernels[i].Excess
	}
	excessSum, err := crypto.SumCommitments(excesses, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBalanceMismatch, err)
	}

	outputs := make([]types.Commitment, len(b.Body.Outputs))
	for i := range b.Body.Outputs {
		outputs[i] = b.Body.Outputs[i].Commitment
	}
	inputs := make([]types.Commitment, len(b.Body.Inputs))
	for i := range b.Body.Inputs {
		inputs[i] = b.Body.Inputs[i].Commitment
	}
	feeCommit := crypto.CommitmentFromFee(totalFees)
	rewardCommit := crypto.CommitmentFromFee(blockReward)

	commitSum, err := crypto.SumCommitments(outputs, append(append(inputs, feeCommit), rewardCommit))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBalanceMismatch, err)
	}

	offsetPub, err := crypto.PublicKeyFromScalarBytes(b.Header.TotalKernelOffset[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBalanceMismatch, err)
	}
	rhs, err := crypto.SumCommitments([]types.Commitment{offsetPub, excessSum}, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBalanceMismatch, err)
	}

	if commitSum != rhs {
		return ErrBalanceMismatch
	}
	return nil
}

func (b *Block) checkScriptOffset() error {
	scriptSigKeys := make([]types.Commitment, len(b.Body.Inputs))
	for i := range b.Body.Inputs {
		scriptSigKeys[i] = types.Commitment(b.Body.Inputs[i].ScriptSigKey)
	}
	senderOffsetKeys := make([]types.Commitment, len(b.Body.Outputs))
	for i := range b.Body.Outputs {
		senderOffsetKeys[i] = types.Commitment(b.Body.Outputs[i].SenderOffsetKey)
	}

	lhs, err := crypto.SumCommitments(scriptSigKeys, senderOffsetKeys)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScriptOffsetMismatch, err)
	}

	offsetPub, err := crypto.PublicKeyFromScalarBytes(b.Header.TotalScriptOffset[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScriptOffsetMismatch, err)
	}
	if lhs != offsetPub {
		return ErrScriptOffsetMismatch
	}
	return nil
}

func (b *Block) checkCoinbaseRules(p Params) error {
	coinbaseOutputs := 0
	for i := range b.Body.Outputs {
		if b.Body.Outputs[i].Features.IsCoinbase() {
			coinbaseOutputs++
		}
	}
	if coinbaseOutputs == 0 {
		return ErrNoCoinbaseOutput
	}
	if coinbaseOutputs > 1 {
		return ErrMultipleCoinbaseOut
	}

	coinbaseKernels := 0
	for i := range b.Body.Kernels {
		if b.Body.Kernels[i].IsCoinbase() {
			coinbaseKernels++
		}
	}
	if coinbaseKernels == 0 {
		return ErrNoCoinbaseKernel
	}
	if coinbaseKernels > 1 {
		return ErrMultipleCoinbaseKrn
	}

	out, _ := b.CoinbaseOutput()
	if out.Features.Maturity < p.CoinbaseLockHeight {
		return ErrCoinbaseImmature
	}
	return nil
}

func (b *Block) checkTimelocks(currentHeight uint64) error {
	for i := range b.Body.Inputs {
		if b.Body.Inputs[i].Features.Maturity > currentHeight {
			return fmt.Errorf("input %d: %w", i, ErrTimelocked)
		}
	}
	for i := range b.Body.Kernels {
		if b.Body.Kernels[i].LockHeight > currentHeight {
			return fmt.Errorf("kernel %d: %w", i, ErrTimelocked)
		}
	}
	return nil
}
