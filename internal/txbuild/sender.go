package txbuild

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/tx"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// SenderState is a step in the interactive sender/receiver signing
// protocol (spec.md §4.F):
//
//	Initializing -> SingleRoundMessageReady -> CollectingSingleSignature -> Finalizing -> FinalizedTransaction
//	                                                                              \-> Failed(reason)
type SenderState int

const (
	StateInitializing SenderState = iota
	StateSingleRoundMessageReady
	StateCollectingSingleSignature
	StateFinalizing
	StateFinalizedTransaction
	StateFailed
)

// String names a protocol state for logging.
func (s SenderState) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StateSingleRoundMessageReady:
		return "SingleRoundMessageReady"
	case StateCollectingSingleSignature:
		return "CollectingSingleSignature"
	case StateFinalizing:
		return "Finalizing"
	case StateFinalizedTransaction:
		return "FinalizedTransaction"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// MaxTransactionInputs bounds how many inputs a single sender round may
// spend (spec.md §4.F / §8's "Too many inputs" boundary case).
const MaxTransactionInputs = 2500

// MinimumTransactionFee is the smallest fee the protocol accepts,
// regardless of the fee-per-gram rate (spec.md §8's "Fee is less than
// the minimum" boundary case).
const MinimumTransactionFee = 100

// Sender protocol errors.
var (
	ErrWrongState                    = errors.New("txbuild: operation is not valid in the protocol's current state")
	ErrNotEnoughFunds                = errors.New("txbuild: not enough funds")
	ErrFeeTooLow                     = errors.New("txbuild: fee is less than the minimum")
	ErrTooManyInputs                 = errors.New("txbuild: too many inputs")
	ErrNoRecipients                  = errors.New("txbuild: sender must set at least one recipient amount")
	ErrUnsupportedMultipleRecipients = errors.New("txbuild: multiple recipients are not supported")
	ErrTxIDMismatch                  = errors.New("txbuild: recipient reply tx_id does not match")
	ErrRecipientRangeProofInvalid    = errors.New("txbuild: recipient output range proof does not verify")
	ErrRecipientMetadataSigInvalid   = errors.New("txbuild: recipient output metadata signature does not verify")
)

// SingleRoundSenderData is the message a sender emits to the recipient
// once SingleRoundMessageReady is reached: everything the recipient
// needs to build its own output and contribute to the kernel signature.
type SingleRoundSenderData struct {
	TxID                    uint64
	Amount                  uint64
	FeePerGram              uint64
	LockHeight              uint64
	PublicExcess            types.Commitment // sender's partial public excess, k_s*G
	PublicNonce             types.Commitment // sender's partial public nonce, r_s*G
	Script                  types.Script     // script the sender wants locking the recipient's output
	RecipientOutputFeatures types.OutputFeatures
}

// RecipientSignedTransactionData is the recipient's reply once it has
// built its output. PartialExcess reveals the recipient's own output
// blinding factor so the sender can complete the kernel signature in a
// single round; a production two-party Schnorr aggregation would instead
// exchange only a partial signature share over a jointly derived nonce,
// but the underlying schnorr library this node uses (decred's dcrd
// secp256k1/schnorr, see pkg/crypto) does not expose nonce injection, so
// this protocol finishes the interactive round by combining raw
// blinding scalars instead — see DESIGN.md.
type RecipientSignedTransactionData struct {
	TxID            uint64
	Output          tx.Output
	PartialExcess   *crypto.PrivateKey
	SenderOffsetKey *crypto.PrivateKey // private key behind Output.SenderOffsetKey, needed to complete the script offset.
}

// SenderTransactionProtocol drives one sender through the interactive
// signing protocol for a single-recipient payment. Multi-recipient
// transactions are out of scope (spec.md §4.F declares them
// UnsupportedError).
type SenderTransactionProtocol struct {
	state   SenderState
	failErr error

	txID uint64

	inputs          []UTXO
	haveRecipient   bool
	recipientAmount uint64
	feePerGram      uint64
	lockHeight      uint64
	offset          *crypto.PrivateKey
	nonce           *crypto.PrivateKey
	script          types.Script

	fee                uint64
	changeValue        uint64
	changeKey          *crypto.PrivateKey
	changeOutput       *tx.Output
	changeSenderOffset *crypto.PrivateKey
	partialExcess      *crypto.PrivateKey

	message        *SingleRoundSenderData
	recipientReply *RecipientSignedTransactionData
}

// NewSenderProtocol starts a new interactive send identified by txID (a
// random 64-bit correlation id the caller generates, analogous to
// internal/basenode's request_key).
func NewSenderProtocol(txID uint64) *SenderTransactionProtocol {
	return &SenderTransactionProtocol{state: StateInitializing, txID: txID, script: types.Nop()}
}

// State returns the protocol's current step.
func (s *SenderTransactionProtocol) State() SenderState { return s.state }

// FailureReason returns the error that moved the protocol to Failed, if any.
func (s *SenderTransactionProtocol) FailureReason() error { return s.failErr }

func (s *SenderTransactionProtocol) fail(err error) error {
	s.state = StateFailed
	s.failErr = err
	return err
}

// WithInputs sets the UTXOs this payment spends.
func (s *SenderTransactionProtocol) WithInputs(inputs []UTXO) *SenderTransactionProtocol {
	s.inputs = inputs
	return s
}

// WithRecipientAmount sets the single recipient's payment amount. Calling
// this more than once fails BuildSingleRoundMessage with
// ErrUnsupportedMultipleRecipients.
func (s *SenderTransactionProtocol) WithRecipientAmount(amount uint64) *SenderTransactionProtocol {
	if s.haveRecipient {
		return s.failBuilder(ErrUnsupportedMultipleRecipients)
	}
	s.recipientAmount = amount
	s.haveRecipient = true
	return s
}

func (s *SenderTransactionProtocol) failBuilder(err error) *SenderTransactionProtocol {
	s.fail(err)
	return s
}

// WithFeePerGram sets the fee rate used to estimate the transaction fee.
func (s *SenderTransactionProtocol) WithFeePerGram(rate uint64) *SenderTransactionProtocol {
	s.feePerGram = rate
	return s
}

// WithLockHeight sets the kernel's lock height.
func (s *SenderTransactionProtocol) WithLockHeight(height uint64) *SenderTransactionProtocol {
	s.lockHeight = height
	return s
}

// WithOffset sets the transaction-wide kernel offset scalar.
func (s *SenderTransactionProtocol) WithOffset(offset *crypto.PrivateKey) *SenderTransactionProtocol {
	s.offset = offset
	return s
}

// WithNonce sets the sender's private nonce; its public point is sent as
// SingleRoundSenderData.PublicNonce. Finalize's kernel signature does not
// use it.
func (s *SenderTransactionProtocol) WithNonce(nonce *crypto.PrivateKey) *SenderTransactionProtocol {
	s.nonce = nonce
	return s
}

// WithScript overrides the script the recipient's output will carry.
func (s *SenderTransactionProtocol) WithScript(script types.Script) *SenderTransactionProtocol {
	s.script = script
	return s
}

// BuildSingleRoundMessage drives Initializing -> SingleRoundMessageReady.
// It computes change automatically, absorbing dust into the fee, and
// fails if the inputs don't cover the payment or the resulting fee is
// below MinimumTransactionFee.
func (s *SenderTransactionProtocol) BuildSingleRoundMessage() (*SingleRoundSenderData, error) {
	if s.state != StateInitializing {
		return nil, ErrWrongState
	}
	if len(s.inputs) == 0 {
		return nil, s.fail(fmt.Errorf("%w: no inputs", ErrNotEnoughFunds))
	}
	if len(s.inputs) > MaxTransactionInputs {
		return nil, s.fail(fmt.Errorf("%w: %d", ErrTooManyInputs, len(s.inputs)))
	}
	if !s.haveRecipient {
		return nil, s.fail(ErrNoRecipients)
	}
	if s.offset == nil {
		return nil, s.fail(errors.New("txbuild: offset scalar not set"))
	}
	if s.nonce == nil {
		return nil, s.fail(ErrMissingNonce)
	}

	var total uint64
	for _, u := range s.inputs {
		total += u.Value
	}

	const recipientOutputs = 1
	feeNoChange := tx.EstimateTxFee(len(s.inputs), recipientOutputs, 1, s.feePerGram)
	feeWithChange := tx.EstimateTxFee(len(s.inputs), recipientOutputs+1, 1, s.feePerGram)

	if total < s.recipientAmount+feeNoChange {
		return nil, s.fail(fmt.Errorf("%w: have %d, need at least %d", ErrNotEnoughFunds, total, s.recipientAmount+feeNoChange))
	}

	remainderNoChange := total - s.recipientAmount - feeNoChange
	remainderWithChange := total - s.recipientAmount - feeWithChange

	// Absorb the change into the fee instead of creating a dust output
	// when there's nothing left over, or when the extra output would
	// cost more than the change it recovers.
	if remainderWithChange == 0 || int64(remainderWithChange) < 0 || feeWithChange-feeNoChange >= remainderNoChange {
		s.fee = total - s.recipientAmount
		s.changeValue = 0
	} else {
		s.fee = feeWithChange
		s.changeValue = remainderWithChange
	}

	if s.fee < MinimumTransactionFee {
		return nil, s.fail(fmt.Errorf("%w: %d < %d", ErrFeeTooLow, s.fee, MinimumTransactionFee))
	}

	// The sender's partial private excess is the blinding factor it
	// contributes to the final kernel: its change output's blinding
	// factor, less every spent input's blinding factor, less the
	// transaction-wide offset.
	terms := make([]*crypto.PrivateKey, 0, len(s.inputs)+2)
	for _, u := range s.inputs {
		terms = append(terms, crypto.NegatePrivateKey(u.Blinding))
	}
	terms = append(terms, crypto.NegatePrivateKey(s.offset))

	if s.changeValue > 0 {
		changeKey, err := crypto.GenerateKey()
		if err != nil {
			return nil, s.fail(err)
		}
		s.changeKey = changeKey
		terms = append(terms, changeKey)

		out, offsetKey, err := buildStandardOutput(s.changeValue, changeKey, types.Nop())
		if err != nil {
			return nil, s.fail(err)
		}
		s.changeOutput = out
		s.changeSenderOffset = offsetKey
	}
	s.partialExcess = crypto.SumPrivateKeys(terms...)

	pubExcess, err := crypto.PublicKeyFromScalarBytes(s.partialExcess.Serialize())
	if err != nil {
		return nil, s.fail(err)
	}
	pubNonce, err := crypto.PublicKeyFromScalarBytes(s.nonce.Serialize())
	if err != nil {
		return nil, s.fail(err)
	}

	s.message = &SingleRoundSenderData{
		TxID:         s.txID,
		Amount:       s.recipientAmount,
		FeePerGram:   s.feePerGram,
		LockHeight:   s.lockHeight,
		PublicExcess: pubExcess,
		PublicNonce:  pubNonce,
		Script:       s.script,
		RecipientOutputFeatures: types.OutputFeatures{
			Version:        1,
			OutputType:     types.OutputStandard,
			RangeProofType: types.RangeProofBulletProofPlus,
		},
	}
	s.state = StateSingleRoundMessageReady
	return s.message, nil
}

// MarkMessageSent drives SingleRoundMessageReady -> CollectingSingleSignature
// once the caller has handed the single-round message to the recipient
// over whatever transport it uses.
func (s *SenderTransactionProtocol) MarkMessageSent() error {
	if s.state != StateSingleRoundMessageReady {
		return ErrWrongState
	}
	s.state = StateCollectingSingleSignature
	return nil
}

// ReceiveRecipientReply drives CollectingSingleSignature -> Finalizing. It
// verifies the recipient's output (range proof + metadata signature) and
// the tx_id, then stores the reply for Finalize to consume.
func (s *SenderTransactionProtocol) ReceiveRecipientReply(reply RecipientSignedTransactionData, rv crypto.RangeVerifier) error {
	if s.state != StateCollectingSingleSignature {
		return ErrWrongState
	}
	if reply.TxID != s.txID {
		return s.fail(ErrTxIDMismatch)
	}
	if !rv.Verify(reply.Output.Commitment, reply.Output.RangeProof) {
		return s.fail(ErrRecipientRangeProofInvalid)
	}
	h := crypto.Hash(reply.Output.MetadataSigningBytes())
	if !crypto.VerifySignature(h[:], reply.Output.MetadataSig.Bytes(), reply.Output.SenderOffsetKey.Bytes()) {
		return s.fail(ErrRecipientMetadataSigInvalid)
	}

	s.recipientReply = &reply
	s.state = StateFinalizing
	return nil
}

// Finalize drives Finalizing -> FinalizedTransaction (or Failed): it
// assembles the complete transaction body, signs the kernel by combining
// the sender's and recipient's partial excesses, and validates the
// result against pkg/tx's internal-consistency checks before returning.
func (s *SenderTransactionProtocol) Finalize(p tx.Params, rv crypto.RangeVerifier, currentHeight uint64) (*tx.Transaction, error) {
	if s.state != StateFinalizing {
		return nil, ErrWrongState
	}

	inputs := make([]tx.Input, len(s.inputs))
	for i, u := range s.inputs {
		sigBytes, err := u.ScriptSigKey.Sign(u.OutputHash[:])
		if err != nil {
			return nil, s.fail(err)
		}
		sig, err := types.SignatureFromBytes(sigBytes)
		if err != nil {
			return nil, s.fail(err)
		}
		sigKeyBytes, err := types.PublicKeyFromBytes(u.ScriptSigKey.PublicKey())
		if err != nil {
			return nil, s.fail(err)
		}
		inputs[i] = tx.Input{
			Features:     u.Features,
			Commitment:   u.Ref.Commitment,
			OutputHash:   u.OutputHash,
			Script:       u.Script,
			ScriptSig:    sig,
			ScriptSigKey: sigKeyBytes,
		}
	}

	outputs := []tx.Output{s.recipientReply.Output}
	if s.changeOutput != nil {
		outputs = append(outputs, *s.changeOutput)
	}

	finalExcessKey := crypto.SumPrivateKeys(s.partialExcess, s.recipientReply.PartialExcess)
	excess, err := crypto.CommitValue(0, finalExcessKey)
	if err != nil {
		return nil, s.fail(err)
	}
	kernel := tx.Kernel{
		Features:   types.KernelDefault,
		Fee:        s.fee,
		LockHeight: s.lockHeight,
		Excess:     excess,
	}
	sig, err := signHash(finalExcessKey, kernel.ChallengeBytes())
	if err != nil {
		return nil, s.fail(err)
	}
	kernel.Signature = sig

	var kernelOffset, scriptOffset types.Hash
	copy(kernelOffset[:], s.offset.Serialize())

	// The script offset balances every input's script-signing key
	// against every output's sender-offset key (pkg/tx's
	// checkScriptOffset). The sender knows its own inputs' script-sig
	// keys and its own change output's sender-offset key; the
	// recipient's output contributes its sender-offset key via the
	// reply, the same way it already revealed its excess contribution.
	offsetTerms := make([]*crypto.PrivateKey, 0, len(s.inputs)+2)
	for _, u := range s.inputs {
		offsetTerms = append(offsetTerms, u.ScriptSigKey)
	}
	offsetTerms = append(offsetTerms, crypto.NegatePrivateKey(s.recipientReply.SenderOffsetKey))
	if s.changeSenderOffset != nil {
		offsetTerms = append(offsetTerms, crypto.NegatePrivateKey(s.changeSenderOffset))
	}
	scriptOffsetKey := crypto.SumPrivateKeys(offsetTerms...)
	copy(scriptOffset[:], scriptOffsetKey.Serialize())

	finalTx := &tx.Transaction{
		Version:      1,
		Inputs:       inputs,
		Outputs:      outputs,
		Kernels:      []tx.Kernel{kernel},
		KernelOffset: kernelOffset,
		ScriptOffset: scriptOffset,
	}

	if err := finalTx.Validate(p, rv, currentHeight); err != nil {
		return nil, s.fail(fmt.Errorf("txbuild: finalized transaction failed validation: %w", err))
	}

	s.state = StateFinalizedTransaction
	return finalTx, nil
}

// BuildRecipientReply is the receiver half of the protocol: given the
// sender's single-round message and the recipient's own spend key, it
// builds the recipient's output and the reply the sender needs to
// finish signing.
func BuildRecipientReply(msg *SingleRoundSenderData, spendKey *crypto.PrivateKey) (RecipientSignedTransactionData, error) {
	out, senderOffsetKey, err := buildStandardOutput(msg.Amount, spendKey, msg.Script)
	if err != nil {
		return RecipientSignedTransactionData{}, err
	}
	out.Features = msg.RecipientOutputFeatures
	return RecipientSignedTransactionData{
		TxID:            msg.TxID,
		Output:          *out,
		PartialExcess:   spendKey,
		SenderOffsetKey: senderOffsetKey,
	}, nil
}

// buildStandardOutput constructs a standard (non-coinbase) output
// committing to value under blindingKey, with a freshly derived sender
// offset key and a matching metadata signature. Returns the sender
// offset private key alongside the output since the script offset
// balance equation needs it.
func buildStandardOutput(value uint64, blindingKey *crypto.PrivateKey, script types.Script) (*tx.Output, *crypto.PrivateKey, error) {
	commitment, err := crypto.CommitValue(value, blindingKey)
	if err != nil {
		return nil, nil, err
	}
	senderOffsetKey, err := DeriveSenderOffsetKey(blindingKey)
	if err != nil {
		return nil, nil, err
	}
	rp, err := crypto.PlaceholderRangeProof{}.Prove(commitment, value, blindingKey)
	if err != nil {
		return nil, nil, err
	}
	out := &tx.Output{
		Features: types.OutputFeatures{
			Version:        1,
			OutputType:     types.OutputStandard,
			RangeProofType: types.RangeProofBulletProofPlus,
		},
		Commitment:      commitment,
		RangeProof:      rp,
		Script:          script,
		SenderOffsetKey: mustPublicKey(senderOffsetKey),
	}
	metaSig, err := signHash(senderOffsetKey, out.MetadataSigningBytes())
	if err != nil {
		return nil, nil, err
	}
	out.MetadataSig = metaSig
	return out, senderOffsetKey, nil
}
