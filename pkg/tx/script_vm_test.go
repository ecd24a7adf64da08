package tx

import (
	"testing"

	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

func TestExecute_NopAlwaysSucceeds(t *testing.T) {
	in := &Input{Script: types.Nop()}
	if !Execute(in) {
		t.Error("Execute() with a Nop script = false, want true")
	}
}

func TestExecute_CheckSigVerifyWithValidSignature(t *testing.T) {
	key := mustKey(t)
	pubKey := key.PublicKey()

	var outputHash types.Hash
	outputHash[0] = 0xAB

	sig, err := key.Sign(outputHash[:])
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	sigArr, err := types.SignatureFromBytes(sig)
	if err != nil {
		t.Fatalf("SignatureFromBytes() error: %v", err)
	}
	pubArr, err := types.PublicKeyFromBytes(pubKey)
	if err != nil {
		t.Fatalf("PublicKeyFromBytes() error: %v", err)
	}

	script := types.Script{Bytes: append([]byte{byte(types.OpPushPubKey)}, pubKey...)}
	script.Bytes = append(script.Bytes, byte(types.OpCheckSigVerify))

	in := &Input{
		Script:       script,
		OutputHash:   outputHash,
		ScriptSig:    sigArr,
		ScriptSigKey: pubArr,
	}

	if !Execute(in) {
		t.Error("Execute() with a valid script signature = false, want true")
	}
}

func TestExecute_CheckSigVerifyFailsWithWrongSignature(t *testing.T) {
	key := mustKey(t)
	other := mustKey(t)
	pubKey := key.PublicKey()

	var outputHash types.Hash
	outputHash[0] = 0xAB

	wrongSig, err := other.Sign(outputHash[:])
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	sigArr, _ := types.SignatureFromBytes(wrongSig)
	pubArr, _ := types.PublicKeyFromBytes(pubKey)

	script := types.Script{Bytes: append([]byte{byte(types.OpPushPubKey)}, pubKey...)}
	script.Bytes = append(script.Bytes, byte(types.OpCheckSigVerify))

	in := &Input{
		Script:       script,
		OutputHash:   outputHash,
		ScriptSig:    sigArr,
		ScriptSigKey: pubArr,
	}

	if Execute(in) {
		t.Error("Execute() with a mismatched signature = true, want false")
	}
}

func TestExecute_HashEqualVerify(t *testing.T) {
	preimage := []byte{1, 2, 3, 4}
	expected := crypto.DomainHash(scriptExecLabel, preimage)

	script := types.Script{Bytes: []byte{byte(types.OpHash256), byte(types.OpPushHash)}}
	script.Bytes = append(script.Bytes, expected[:]...)
	script.Bytes = append(script.Bytes, byte(types.OpEqualVerify))

	stack := [][]byte{preimage}
	in := &Input{Script: script, ScriptStack: stack}

	if Execute(in) {
		t.Error("Execute() = true, want false: EqualVerify alone leaves an empty stack")
	}
}

func TestExecute_EmptyScriptFails(t *testing.T) {
	in := &Input{Script: types.Script{}}
	if Execute(in) {
		t.Error("Execute() with an empty script = true, want false")
	}
}

func TestExecute_UnknownOpcodeFails(t *testing.T) {
	in := &Input{Script: types.Script{Bytes: []byte{0xFF}}}
	if Execute(in) {
		t.Error("Execute() with an unknown opcode = true, want false")
	}
}

func TestExecute_TruncatedPushFails(t *testing.T) {
	in := &Input{Script: types.Script{Bytes: []byte{byte(types.OpPushPubKey), 1, 2}}}
	if Execute(in) {
		t.Error("Execute() with a truncated push = true, want false")
	}
}
