package block

import (
	"testing"

	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/tx"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

func blockTestKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	return k
}

// buildBalancedBlock constructs a single-coinbase-output block whose
// value and blinding-factor balance equations both hold against the
// given reward, for exercising the full internal-consistency pass.
func buildBalancedBlock(t *testing.T, reward uint64) (*Block, Params) {
	t.Helper()

	offsetPriv := blockTestKey(t)
	excessPriv := blockTestKey(t)
	senderOffsetPriv := blockTestKey(t)

	// Balance: reward*H + kOut*G (output) must equal 0 inputs + 0 fees +
	// reward*H + offset*G + excess*G, so the output's blinding factor has
	// to be exactly offset + excess.
	kOut := crypto.SumPrivateKeys(offsetPriv, excessPriv)
	cOut, err := crypto.CommitValue(reward, kOut)
	if err != nil {
		t.Fatalf("CommitValue() error: %v", err)
	}

	excessPub, err := types.CommitmentFromBytes(excessPriv.PublicKey())
	if err != nil {
		t.Fatalf("excess public key: %v", err)
	}
	kernel := tx.Kernel{
		Features: types.KernelCoinbase,
		Excess:   excessPub,
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

	senderOffsetPub, err := types.PublicKeyFromBytes(senderOffsetPriv.PublicKey())
	if err != nil {
		t.Fatalf("sender offset key: %v", err)
	}
	output := tx.Output{
		Features:        types.OutputFeatures{Version: 1, OutputType: types.OutputCoinbase, RangeProofType: types.RangeProofRevealedValue},
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

	body := Body{Outputs: []tx.Output{output}, Kernels: []tx.Kernel{kernel}}

	// Balance: reward*H + kOut*G (output) == 0 inputs + 0 fees + reward*H
	// + offset*G + excess*G, so kOut must equal offset + excess.
	wantKOut := crypto.SumPrivateKeys(offsetPriv, excessPriv)
	if kOut.Serialize() == nil || wantKOut.Serialize() == nil {
		t.Fatal("unexpected nil scalar")
	}
	// Rebuild the output commitment using the exact aggregate blinding
	// factor the balance equation requires.
	cOut, err = crypto.CommitValue(reward, wantKOut)
	if err != nil {
		t.Fatalf("CommitValue() error: %v", err)
	}
	body.Outputs[0].Commitment = cOut
	mh = crypto.Hash(body.Outputs[0].MetadataSigningBytes())
	msig, err = senderOffsetPriv.Sign(mh[:])
	if err != nil {
		t.Fatalf("sign metadata: %v", err)
	}
	body.Outputs[0].MetadataSig, err = types.SignatureFromBytes(msig)
	if err != nil {
		t.Fatalf("metadata sig: %v", err)
	}

	// Script offset: no inputs, one output, so offset must equal the
	// negation of the output's own sender-offset scalar.
	scriptOffsetPriv := crypto.NegatePrivateKey(senderOffsetPriv)

	roots := ComputeRoots(&body)
	header := &Header{
		Version:       CurrentVersion,
		Height:        1,
		PrevHash:      types.Hash{0xaa},
		Timestamp:     1700000000,
		OutputMR:      roots.OutputRoot,
		OutputMMRSize: roots.OutputMMRSize,
		WitnessMR:     roots.WitnessRoot,
		KernelMR:      roots.KernelRoot,
		KernelMMRSize: roots.KernelMMRSize,
		InputMR:       roots.InputRoot,
	}
	copy(header.TotalKernelOffset[:], offsetPriv.Serialize())
	copy(header.TotalScriptOffset[:], scriptOffsetPriv.Serialize())

	blk := NewBlock(header, body)

	params := Params{
		MaxInputs:          10,
		MaxOutputs:         10,
		MaxKernels:         10,
		MaxScriptSize:      1024,
		MaxCovenantSize:    10,
		CoinbaseLockHeight: 0,
	}
	return blk, params
}

func TestBlock_ValidateBalancedCoinbaseOnlyBlock(t *testing.T) {
	blk, params := buildBalancedBlock(t, 5000)
	if err := blk.Validate(params, crypto.PlaceholderRangeProof{}, 5000, 100); err != nil {
		t.Fatalf("Validate() error on a balanced block: %v", err)
	}
}

func TestBlock_ValidateRejectsWrongReward(t *testing.T) {
	blk, params := buildBalancedBlock(t, 5000)
	if err := blk.Validate(params, crypto.PlaceholderRangeProof{}, 4000, 100); err == nil {
		t.Fatal("Validate() = nil, want an error when the declared reward is wrong")
	}
}

func TestBlock_ValidateRejectsNilHeader(t *testing.T) {
	blk := &Block{}
	if err := blk.Validate(Params{}, crypto.PlaceholderRangeProof{}, 0, 0); err != ErrNilHeader {
		t.Errorf("Validate() error = %v, want ErrNilHeader", err)
	}
}

func TestBlock_ValidateRejectsMissingCoinbase(t *testing.T) {
	blk, params := buildBalancedBlock(t, 5000)
	blk.Body.Outputs = nil
	blk.Body.Kernels = nil

	if err := blk.Validate(params, crypto.PlaceholderRangeProof{}, 5000, 100); err == nil {
		t.Fatal("Validate() = nil, want an error for a block with no coinbase")
	}
}

func TestBlock_ValidateRejectsStaleRoots(t *testing.T) {
	blk, params := buildBalancedBlock(t, 5000)
	blk.Header.KernelMR = types.Hash{0xde, 0xad}

	if err := blk.Validate(params, crypto.PlaceholderRangeProof{}, 5000, 100); err != ErrRootMismatch {
		t.Errorf("Validate() error = %v, want ErrRootMismatch", err)
	}
}

func TestBlock_Hash(t *testing.T) {
	blk, _ := buildBalancedBlock(t, 5000)
	if blk.Hash().IsZero() {
		t.Error("Hash() should not be zero")
	}

	empty := &Block{}
	if !empty.Hash().IsZero() {
		t.Error("Hash() with a nil header should be zero")
	}
}

func TestBlock_CoinbaseAccessors(t *testing.T) {
	blk, _ := buildBalancedBlock(t, 5000)
	out, ok := blk.CoinbaseOutput()
	if !ok || !out.Features.IsCoinbase() {
		t.Error("CoinbaseOutput() did not find the coinbase output")
	}
	kern, ok := blk.CoinbaseKernel()
	if !ok || !kern.IsCoinbase() {
		t.Error("CoinbaseKernel() did not find the coinbase kernel")
	}
}
