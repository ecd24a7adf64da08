package txbuild

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/mimbleforge-node/config"
	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/tx"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

func randomHash(t *testing.T, seed byte) types.Hash {
	t.Helper()
	var h types.Hash
	h[0] = seed
	return h
}

func makeSpendableUTXO(t *testing.T, value uint64, seed byte) UTXO {
	t.Helper()
	blinding := mustKey(t)
	scriptSigKey := mustKey(t)
	return UTXO{
		Ref:          types.CommitmentRef{Commitment: types.Commitment{seed}, Height: 1},
		Value:        value,
		Blinding:     blinding,
		Script:       types.Nop(),
		OutputHash:   randomHash(t, seed),
		ScriptSigKey: scriptSigKey,
	}
}

func testTxParams() tx.Params {
	c := config.TestnetGenesis().Consensus
	return tx.Params{
		MaxInputs:          MaxTransactionInputs,
		MaxOutputs:         10,
		MaxScriptSize:      c.MaxScriptSize,
		MaxCovenantSize:    c.MaxCovenantSize,
		CoinbaseLockHeight: c.CoinbaseLockHeight,
	}
}

func runHappyPath(t *testing.T, inputs []UTXO, amount, feePerGram uint64) *tx.Transaction {
	t.Helper()

	offset := mustKey(t)
	nonce := mustKey(t)
	sp := NewSenderProtocol(1234).
		WithInputs(inputs).
		WithRecipientAmount(amount).
		WithFeePerGram(feePerGram).
		WithOffset(offset).
		WithNonce(nonce)

	msg, err := sp.BuildSingleRoundMessage()
	if err != nil {
		t.Fatalf("BuildSingleRoundMessage: %v", err)
	}
	if sp.State() != StateSingleRoundMessageReady {
		t.Fatalf("state = %v, want SingleRoundMessageReady", sp.State())
	}

	if err := sp.MarkMessageSent(); err != nil {
		t.Fatalf("MarkMessageSent: %v", err)
	}
	if sp.State() != StateCollectingSingleSignature {
		t.Fatalf("state = %v, want CollectingSingleSignature", sp.State())
	}

	recipientKey := mustKey(t)
	reply, err := BuildRecipientReply(msg, recipientKey)
	if err != nil {
		t.Fatalf("BuildRecipientReply: %v", err)
	}

	if err := sp.ReceiveRecipientReply(reply, crypto.PlaceholderRangeProof{}); err != nil {
		t.Fatalf("ReceiveRecipientReply: %v", err)
	}
	if sp.State() != StateFinalizing {
		t.Fatalf("state = %v, want Finalizing", sp.State())
	}

	finalTx, err := sp.Finalize(testTxParams(), crypto.PlaceholderRangeProof{}, 100)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if sp.State() != StateFinalizedTransaction {
		t.Fatalf("state = %v, want FinalizedTransaction", sp.State())
	}
	return finalTx
}

func TestSenderProtocol_HappyPathWithChange(t *testing.T) {
	inputs := []UTXO{
		makeSpendableUTXO(t, 1_000_000, 1),
		makeSpendableUTXO(t, 1_000_000, 2),
	}
	finalTx := runHappyPath(t, inputs, 500_000, 10)

	if len(finalTx.Inputs) != 2 {
		t.Errorf("inputs = %d, want 2", len(finalTx.Inputs))
	}
	if len(finalTx.Outputs) != 2 {
		t.Errorf("outputs = %d, want 2 (recipient + change)", len(finalTx.Outputs))
	}
	if len(finalTx.Kernels) != 1 {
		t.Fatalf("kernels = %d, want 1", len(finalTx.Kernels))
	}
	if finalTx.Kernels[0].Fee == 0 {
		t.Error("expected a positive fee")
	}
}

func TestSenderProtocol_HappyPathNoChange(t *testing.T) {
	// The leftover after paying the recipient and the with-change fee is
	// small enough that adding a change output would cost more than it
	// recovers, so the builder should absorb it into the fee instead.
	inputs := []UTXO{makeSpendableUTXO(t, 2300, 1)}
	finalTx := runHappyPath(t, inputs, 500, 10)

	if len(finalTx.Outputs) != 1 {
		t.Errorf("outputs = %d, want 1 (no change output, dust absorbed into fee)", len(finalTx.Outputs))
	}
	if finalTx.Kernels[0].Fee != 1800 {
		t.Errorf("fee = %d, want 1800 (entire remainder absorbed)", finalTx.Kernels[0].Fee)
	}
}

func TestSenderProtocol_TooManyInputs(t *testing.T) {
	inputs := make([]UTXO, MaxTransactionInputs+1)
	for i := range inputs {
		inputs[i] = makeSpendableUTXO(t, 1000, byte(i%256))
	}

	sp := NewSenderProtocol(1).
		WithInputs(inputs).
		WithRecipientAmount(100).
		WithFeePerGram(1).
		WithOffset(mustKey(t)).
		WithNonce(mustKey(t))

	_, err := sp.BuildSingleRoundMessage()
	if !errors.Is(err, ErrTooManyInputs) {
		t.Errorf("expected ErrTooManyInputs, got: %v", err)
	}
	if sp.State() != StateFailed {
		t.Errorf("state = %v, want Failed", sp.State())
	}
}

func TestSenderProtocol_NotEnoughFunds(t *testing.T) {
	inputs := []UTXO{makeSpendableUTXO(t, 100, 1)}
	sp := NewSenderProtocol(1).
		WithInputs(inputs).
		WithRecipientAmount(1000).
		WithFeePerGram(1).
		WithOffset(mustKey(t)).
		WithNonce(mustKey(t))

	_, err := sp.BuildSingleRoundMessage()
	if !errors.Is(err, ErrNotEnoughFunds) {
		t.Errorf("expected ErrNotEnoughFunds, got: %v", err)
	}
}

func TestSenderProtocol_FeeTooLow(t *testing.T) {
	inputs := []UTXO{makeSpendableUTXO(t, 1000, 1)}
	sp := NewSenderProtocol(1).
		WithInputs(inputs).
		WithRecipientAmount(1000). // consumes the whole input, leaving fee = 0
		WithFeePerGram(0).
		WithOffset(mustKey(t)).
		WithNonce(mustKey(t))

	_, err := sp.BuildSingleRoundMessage()
	if !errors.Is(err, ErrFeeTooLow) {
		t.Errorf("expected ErrFeeTooLow, got: %v", err)
	}
}

func TestSenderProtocol_NoRecipients(t *testing.T) {
	inputs := []UTXO{makeSpendableUTXO(t, 1000, 1)}
	sp := NewSenderProtocol(1).
		WithInputs(inputs).
		WithFeePerGram(1).
		WithOffset(mustKey(t)).
		WithNonce(mustKey(t))

	_, err := sp.BuildSingleRoundMessage()
	if !errors.Is(err, ErrNoRecipients) {
		t.Errorf("expected ErrNoRecipients, got: %v", err)
	}
}

func TestSenderProtocol_MultipleRecipientsUnsupported(t *testing.T) {
	sp := NewSenderProtocol(1).WithRecipientAmount(100)
	sp = sp.WithRecipientAmount(200)
	if sp.State() != StateFailed || !errors.Is(sp.FailureReason(), ErrUnsupportedMultipleRecipients) {
		t.Errorf("expected Failed/ErrUnsupportedMultipleRecipients, got state=%v err=%v", sp.State(), sp.FailureReason())
	}
}

func TestSenderProtocol_WrongStateTransitions(t *testing.T) {
	sp := NewSenderProtocol(1)
	if err := sp.MarkMessageSent(); !errors.Is(err, ErrWrongState) {
		t.Errorf("MarkMessageSent before message ready: expected ErrWrongState, got %v", err)
	}
	if _, err := sp.Finalize(testTxParams(), crypto.PlaceholderRangeProof{}, 0); !errors.Is(err, ErrWrongState) {
		t.Errorf("Finalize before finalizing: expected ErrWrongState, got %v", err)
	}
}

func TestSenderProtocol_TxIDMismatch(t *testing.T) {
	inputs := []UTXO{makeSpendableUTXO(t, 1_000_000, 1)}
	sp := NewSenderProtocol(42).
		WithInputs(inputs).
		WithRecipientAmount(500_000).
		WithFeePerGram(10).
		WithOffset(mustKey(t)).
		WithNonce(mustKey(t))

	msg, err := sp.BuildSingleRoundMessage()
	if err != nil {
		t.Fatalf("BuildSingleRoundMessage: %v", err)
	}
	if err := sp.MarkMessageSent(); err != nil {
		t.Fatalf("MarkMessageSent: %v", err)
	}

	reply, err := BuildRecipientReply(msg, mustKey(t))
	if err != nil {
		t.Fatalf("BuildRecipientReply: %v", err)
	}
	reply.TxID = 999

	if err := sp.ReceiveRecipientReply(reply, crypto.PlaceholderRangeProof{}); !errors.Is(err, ErrTxIDMismatch) {
		t.Errorf("expected ErrTxIDMismatch, got: %v", err)
	}
}
