package tx

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// Validation errors for internal-consistency checks (spec.md §4.E pass 1).
// Contextual checks that require chain state live in internal/consensus.
var (
	ErrNoKernels           = errors.New("transaction has no kernels")
	ErrTooManyInputs       = errors.New("too many inputs")
	ErrTooManyOutputs      = errors.New("too many outputs")
	ErrScriptTooLarge      = errors.New("script exceeds max size")
	ErrCovenantTooLarge    = errors.New("covenant exceeds max token count")
	ErrDuplicateInput      = errors.New("duplicate input commitment")
	ErrDuplicateOutput     = errors.New("duplicate output commitment")
	ErrHiddenCutThrough    = errors.New("output commitment matches an input commitment in the same body")
	ErrRangeProofInvalid   = errors.New("range proof does not verify")
	ErrMetadataSigInvalid  = errors.New("output metadata signature does not verify")
	ErrScriptSigInvalid    = errors.New("input script signature does not verify")
	ErrKernelSigInvalid    = errors.New("kernel excess signature does not verify")
	ErrKernelSumMismatch   = errors.New("kernel excess sum does not match commitment sum")
	ErrScriptOffsetMismatch = errors.New("script offset does not balance")
	ErrMultipleCoinbaseOut = errors.New("more than one coinbase output")
	ErrMultipleCoinbaseKrn = errors.New("more than one coinbase kernel")
	ErrCoinbaseValueMismatch = errors.New("coinbase value does not equal reward plus fees")
	ErrCoinbaseImmature    = errors.New("coinbase output matures before the consensus lock height")
	ErrTimelocked          = errors.New("input or kernel still timelocked")
)

// Params bounds the structural limits internal-consistency validation
// enforces; wired from config.ConsensusConstants by callers.
type Params struct {
	MaxInputs        int
	MaxOutputs       int
	MaxScriptSize    int
	MaxCovenantSize  int
	CoinbaseLockHeight uint64
}

// Validate runs every internal-consistency check spec.md §4.E pass 1
// names, for a transaction considered in isolation (no chain state).
// rangeVerifier is injected so callers can swap in a real proof system
// without this package depending on its construction details.
func (t *Transaction) Validate(p Params, rv crypto.RangeVerifier, currentHeight uint64) error {
	if len(t.Kernels) == 0 {
		return ErrNoKernels
	}
	if len(t.Inputs) > p.MaxInputs {
		return fmt.Errorf("%w: %d, max %d", ErrTooManyInputs, len(t.Inputs), p.MaxInputs)
	}
	if len(t.Outputs) > p.MaxOutputs {
		return fmt.Errorf("%w: %d, max %d", ErrTooManyOutputs, len(t.Outputs), p.MaxOutputs)
	}

	if err := t.checkScriptAndCovenantSizes(p); err != nil {
		return err
	}
	if err := t.checkNoDuplicatesOrCutThrough(); err != nil {
		return err
	}
	if err := t.checkRangeProofs(rv); err != nil {
		return err
	}
	if err := t.checkMetadataSignatures(); err != nil {
		return err
	}
	if err := t.checkScriptSignatures(); err != nil {
		return err
	}
	if err := t.checkKernelSignaturesAndSum(); err != nil {
		return err
	}
	if err := t.checkScriptOffset(); err != nil {
		return err
	}
	if err := t.checkCoinbaseRules(p); err != nil {
		return err
	}
	if err := t.checkTimelocks(currentHeight); err != nil {
		return err
	}
	return nil
}

func (t *Transaction) checkScriptAndCovenantSizes(p Params) error {
	for i := range t.Outputs {
		if t.Outputs[i].Script.Size() > p.MaxScriptSize {
			return fmt.Errorf("output %d: %w", i, ErrScriptTooLarge)
		}
		if t.Outputs[i].Covenant.TokenCount() > p.MaxCovenantSize {
			return fmt.Errorf("output %d: %w", i, ErrCovenantTooLarge)
		}
	}
	return nil
}

// checkNoDuplicatesOrCutThrough enforces item 6: no duplicate inputs, no
// duplicate outputs, and no cut-through hidden inside a single body — an
// output commitment that exactly matches an input commitment within the
// same transaction is illegal; cut-through only happens when a block
// aggregates multiple transactions.
func (t *Transaction) checkNoDuplicatesOrCutThrough() error {
	inputSeen := make(map[types.Commitment]bool, len(t.Inputs))
	for i := range t.Inputs {
		c := t.Inputs[i].Commitment
		if inputSeen[c] {
			return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
		}
		inputSeen[c] = true
	}

	outputSeen := make(map[types.Commitment]bool, len(t.Outputs))
	for i := range t.Outputs {
		c := t.Outputs[i].Commitment
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

func (t *Transaction) checkRangeProofs(rv crypto.RangeVerifier) error {
	for i := range t.Outputs {
		o := &t.Outputs[i]
		if o.Features.RangeProofType == types.RangeProofRevealedValue {
			continue
		}
		if !rv.Verify(o.Commitment, o.RangeProof) {
			return fmt.Errorf("output %d: %w", i, ErrRangeProofInvalid)
		}
	}
	return nil
}

func (t *Transaction) checkMetadataSignatures() error {
	for i := range t.Outputs {
		o := &t.Outputs[i]
		h := crypto.Hash(o.MetadataSigningBytes())
		if !crypto.VerifySignature(h[:], o.MetadataSig.Bytes(), o.SenderOffsetKey.Bytes()) {
			return fmt.Errorf("output %d: %w", i, ErrMetadataSigInvalid)
		}
	}
	return nil
}

// checkScriptSignatures verifies item 3's signature half; full script
// execution against the provided stack is the interpreter in script_vm.go.
func (t *Transaction) checkScriptSignatures() error {
	for i := range t.Inputs {
		in := &t.Inputs[i]
		if !crypto.VerifySignature(in.OutputHash[:], in.ScriptSig.Bytes(), in.ScriptSigKey.Bytes()) {
			return fmt.Errorf("input %d: %w", i, ErrScriptSigInvalid)
		}
		if !Execute(in) {
			return fmt.Errorf("input %d: script execution failed", i)
		}
	}
	return nil
}

func (t *Transaction) checkKernelSignaturesAndSum() error {
	for i := range t.Kernels {
		k := &t.Kernels[i]
		h := crypto.Hash(k.ChallengeBytes())
		if !crypto.VerifySignature(h[:], k.Signature.Bytes(), k.Excess.Bytes()) {
			return fmt.Errorf("kernel %d: %w", i, ErrKernelSigInvalid)
		}
	}

	excesses := make([]types.Commitment, len(t.Kernels))
	for i := range t.Kernels {
		excesses[i] = t.Kernels[i].Excess
	}
	excessSum, err := crypto.SumCommitments(excesses, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKernelSumMismatch, err)
	}

	outputs := make([]types.Commitment, len(t.Outputs))
	for i := range t.Outputs {
		outputs[i] = t.Outputs[i].Commitment
	}
	inputs := make([]types.Commitment, len(t.Inputs))
	for i := range t.Inputs {
		inputs[i] = t.Inputs[i].Commitment
	}
	feeCommit := crypto.CommitmentFromFee(t.TotalFee())

	commitSum, err := crypto.SumCommitments(outputs, append(inputs, feeCommit))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKernelSumMismatch, err)
	}

	offsetPub, err := crypto.PublicKeyFromScalarBytes(t.KernelOffset[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKernelSumMismatch, err)
	}
	// The balance equation: Σoutputs - Σinputs - fee*H == offset*G + Σexcess.
	// Blinding factors are split between each kernel's published excess and
	// the transaction-wide offset so no single kernel reveals the full net
	// blinding factor on its own.
	rhs, err := crypto.SumCommitments([]types.Commitment{offsetPub, excessSum}, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKernelSumMismatch, err)
	}
	if commitSum != rhs {
		return ErrKernelSumMismatch
	}
	return nil
}

func (t *Transaction) checkScriptOffset() error {
	scriptSigKeys := make([]types.Commitment, len(t.Inputs))
	for i := range t.Inputs {
		scriptSigKeys[i] = types.Commitment(t.Inputs[i].ScriptSigKey)
	}
	senderOffsetKeys := make([]types.Commitment, len(t.Outputs))
	for i := range t.Outputs {
		senderOffsetKeys[i] = types.Commitment(t.Outputs[i].SenderOffsetKey)
	}

	lhs, err := crypto.SumCommitments(scriptSigKeys, senderOffsetKeys)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScriptOffsetMismatch, err)
	}

	offsetPub, err := crypto.PublicKeyFromScalarBytes(t.ScriptOffset[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScriptOffsetMismatch, err)
	}
	if lhs != offsetPub {
		return ErrScriptOffsetMismatch
	}
	return nil
}

func (t *Transaction) checkCoinbaseRules(p Params) error {
	coinbaseOutputs := 0
	for i := range t.Outputs {
		if t.Outputs[i].Features.IsCoinbase() {
			coinbaseOutputs++
		}
	}
	if coinbaseOutputs > 1 {
		return ErrMultipleCoinbaseOut
	}
	coinbaseKernels := 0
	for i := range t.Kernels {
		if t.Kernels[i].IsCoinbase() {
			coinbaseKernels++
		}
	}
	if coinbaseKernels > 1 {
		return ErrMultipleCoinbaseKrn
	}

	out, hasOut := t.CoinbaseOutput()
	if hasOut && out.Features.Maturity < p.CoinbaseLockHeight {
		return ErrCoinbaseImmature
	}
	return nil
}

func (t *Transaction) checkTimelocks(currentHeight uint64) error {
	for i := range t.Inputs {
		if t.Inputs[i].Features.Maturity > currentHeight {
			return fmt.Errorf("input %d: %w", i, ErrTimelocked)
		}
	}
	for i := range t.Kernels {
		if t.Kernels[i].LockHeight > currentHeight {
			return fmt.Errorf("kernel %d: %w", i, ErrTimelocked)
		}
	}
	return nil
}
