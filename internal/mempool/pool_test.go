package mempool

import (
	"testing"

	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/tx"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	return k
}

// buildBalancedTransaction constructs a single-input, single-output
// transaction whose value and blinding-factor balance equations hold, so
// it clears pkg/tx.Validate before the mempool even looks at it.
func buildBalancedTransaction(t *testing.T, vIn, fee uint64) *tx.Transaction {
	t.Helper()

	kIn := mustKey(t)
	offsetPriv := mustKey(t)
	excessPriv := mustKey(t)
	kOut := crypto.SumPrivateKeys(kIn, offsetPriv, excessPriv)

	scriptSigKeyPriv := mustKey(t)
	senderOffsetPriv := mustKey(t)
	scriptOffsetPriv := crypto.SumPrivateKeys(scriptSigKeyPriv, crypto.NegatePrivateKey(senderOffsetPriv))

	vOut := vIn - fee

	cIn, err := crypto.CommitValue(vIn, kIn)
	if err != nil {
		t.Fatalf("CommitValue(in) error: %v", err)
	}
	cOut, err := crypto.CommitValue(vOut, kOut)
	if err != nil {
		t.Fatalf("CommitValue(out) error: %v", err)
	}

	excessPub, err := types.CommitmentFromBytes(excessPriv.PublicKey())
	if err != nil {
		t.Fatalf("excess public key error: %v", err)
	}

	kernel := tx.Kernel{
		Features:   types.KernelDefault,
		Fee:        fee,
		LockHeight: 0,
		Excess:     excessPub,
	}
	kh := crypto.Hash(kernel.ChallengeBytes())
	ksig, err := excessPriv.Sign(kh[:])
	if err != nil {
		t.Fatalf("sign kernel: %v", err)
	}
	kernel.Signature, err = types.SignatureFromBytes(ksig)
	if err != nil {
		t.Fatalf("kernel signature: %v", err)
	}

	var outputHash types.Hash
	outputHash[0] = byte(vIn)
	outputHash[1] = byte(fee)

	scriptSigKeyPub, err := types.PublicKeyFromBytes(scriptSigKeyPriv.PublicKey())
	if err != nil {
		t.Fatalf("script sig key: %v", err)
	}
	osig, err := scriptSigKeyPriv.Sign(outputHash[:])
	if err != nil {
		t.Fatalf("sign input: %v", err)
	}
	scriptSig, err := types.SignatureFromBytes(osig)
	if err != nil {
		t.Fatalf("script sig: %v", err)
	}

	input := tx.Input{
		Features:     types.OutputFeatures{Version: 1},
		Commitment:   cIn,
		OutputHash:   outputHash,
		Script:       types.Nop(),
		ScriptSig:    scriptSig,
		ScriptSigKey: scriptSigKeyPub,
	}

	senderOffsetPub, err := types.PublicKeyFromBytes(senderOffsetPriv.PublicKey())
	if err != nil {
		t.Fatalf("sender offset key: %v", err)
	}
	output := tx.Output{
		Features:        types.OutputFeatures{Version: 1, RangeProofType: types.RangeProofRevealedValue},
		Commitment:      cOut,
		Script:          types.Nop(),
		SenderOffsetKey: senderOffsetPub,
	}
	mh := crypto.Hash(output.MetadataSigningBytes())
	msig, err := senderOffsetPriv.Sign(mh[:])
	if err != nil {
		t.Fatalf("sign metadata: %v", err)
	}
	output.MetadataSig, err = types.SignatureFromBytes(msig)
	if err != nil {
		t.Fatalf("metadata sig: %v", err)
	}

	txn := &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{input},
		Outputs: []tx.Output{output},
		Kernels: []tx.Kernel{kernel},
	}
	copy(txn.KernelOffset[:], offsetPriv.Serialize())
	copy(txn.ScriptOffset[:], scriptOffsetPriv.Serialize())
	return txn
}

func defaultParams() tx.Params {
	return tx.Params{
		MaxInputs:          10,
		MaxOutputs:         10,
		MaxScriptSize:      1024,
		MaxCovenantSize:    10,
		CoinbaseLockHeight: 0,
	}
}

// alwaysUnspent treats every commitment as currently unspent.
type alwaysUnspent struct{}

func (alwaysUnspent) OutputExists(types.Commitment) (bool, error) { return true, nil }

type neverUnspent struct{}

func (neverUnspent) OutputExists(types.Commitment) (bool, error) { return false, nil }

func TestPool_AddAndGet(t *testing.T) {
	p := New(alwaysUnspent{}, defaultParams(), nil, 0)
	txn := buildBalancedTransaction(t, 1000, 10)

	fee, err := p.Add(txn)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if fee != 10 {
		t.Fatalf("Add() fee = %d, want 10", fee)
	}
	if !p.Has(txn.Hash()) {
		t.Fatal("Has() = false after Add()")
	}
	if got := p.Get(txn.Hash()); got != txn {
		t.Fatal("Get() did not return the added transaction")
	}
	if p.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", p.Count())
	}
}

func TestPool_AddRejectsDuplicate(t *testing.T) {
	p := New(alwaysUnspent{}, defaultParams(), nil, 0)
	txn := buildBalancedTransaction(t, 1000, 10)

	if _, err := p.Add(txn); err != nil {
		t.Fatalf("first Add() error: %v", err)
	}
	if _, err := p.Add(txn); err != ErrAlreadyExists {
		t.Fatalf("second Add() error = %v, want ErrAlreadyExists", err)
	}
}

func TestPool_AddRejectsConflictingSpend(t *testing.T) {
	p := New(alwaysUnspent{}, defaultParams(), nil, 0)
	txA := buildBalancedTransaction(t, 1000, 10)
	txB := buildBalancedTransaction(t, 2000, 20)
	// Force a commitment conflict: txB spends the same input as txA.
	txB.Inputs[0].Commitment = txA.Inputs[0].Commitment

	if _, err := p.Add(txA); err != nil {
		t.Fatalf("Add(txA) error: %v", err)
	}
	if _, err := p.Add(txB); err == nil {
		t.Fatal("Add(txB) = nil, want a conflict error")
	}
}

func TestPool_AddRejectsUnknownInput(t *testing.T) {
	p := New(neverUnspent{}, defaultParams(), nil, 0)
	txn := buildBalancedTransaction(t, 1000, 10)

	if _, err := p.Add(txn); err == nil {
		t.Fatal("Add() = nil, want an error for a non-existent input")
	}
}

func TestPool_AddRejectsBelowMinFeeRate(t *testing.T) {
	p := New(alwaysUnspent{}, defaultParams(), nil, 0)
	p.SetMinFeeRate(1_000_000)
	txn := buildBalancedTransaction(t, 1000, 10)

	if _, err := p.Add(txn); err == nil {
		t.Fatal("Add() = nil, want ErrFeeTooLow")
	}
}

func TestPool_RemoveConfirmedKeepsUnrelated(t *testing.T) {
	p := New(alwaysUnspent{}, defaultParams(), nil, 0)
	txA := buildBalancedTransaction(t, 1000, 10)
	txB := buildBalancedTransaction(t, 2000, 20)

	if _, err := p.Add(txA); err != nil {
		t.Fatalf("Add(txA) error: %v", err)
	}
	if _, err := p.Add(txB); err != nil {
		t.Fatalf("Add(txB) error: %v", err)
	}

	p.RemoveConfirmed([]*tx.Transaction{txA})
	if p.Has(txA.Hash()) {
		t.Fatal("txA still present after RemoveConfirmed")
	}
	if !p.Has(txB.Hash()) {
		t.Fatal("txB unexpectedly removed")
	}
}

func TestPool_SelectForBlockOrdersByFeeRate(t *testing.T) {
	p := New(alwaysUnspent{}, defaultParams(), nil, 0)
	low := buildBalancedTransaction(t, 1000, 5)
	high := buildBalancedTransaction(t, 2000, 500)

	if _, err := p.Add(low); err != nil {
		t.Fatalf("Add(low) error: %v", err)
	}
	if _, err := p.Add(high); err != nil {
		t.Fatalf("Add(high) error: %v", err)
	}

	selected := p.SelectForBlock(1)
	if len(selected) != 1 {
		t.Fatalf("SelectForBlock(1) returned %d entries, want 1", len(selected))
	}
	if selected[0].Hash() != high.Hash() {
		t.Fatal("SelectForBlock did not prioritize the higher fee-rate transaction")
	}
}

func TestPool_EvictsLowestFeeRateWhenFull(t *testing.T) {
	p := New(alwaysUnspent{}, defaultParams(), nil, 1)
	low := buildBalancedTransaction(t, 1000, 5)
	high := buildBalancedTransaction(t, 2000, 500)

	if _, err := p.Add(low); err != nil {
		t.Fatalf("Add(low) error: %v", err)
	}
	if _, err := p.Add(high); err != nil {
		t.Fatalf("Add(high) error: %v", err)
	}
	if p.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 after eviction", p.Count())
	}
	if !p.Has(high.Hash()) {
		t.Fatal("higher fee-rate transaction was evicted instead of kept")
	}
}
