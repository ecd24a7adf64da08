package tx

import (
	"bytes"

	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// maxScriptStackDepth bounds the interpreter's stack so a malformed or
// adversarial script can never exhaust memory; execution aborts the
// instant the bound would be exceeded.
const maxScriptStackDepth = 256

// scriptExecLabel domain-separates OpHash256's hashing from every other
// use of DomainHash.
const scriptExecLabel = "mimbleforge/script/op-hash256/v1"

// Execute runs an input's locking script against its unlock witness
// (ScriptStack) plus the input's own signature fields, returning true if
// the script completes with exactly one truthy element left on the
// stack. The interpreter is a small bounded stack machine: it never
// loops and never branches, so execution always terminates in at most
// len(script.Bytes) steps.
func Execute(in *Input) bool {
	script := in.Script.Bytes
	stack := make([][]byte, len(in.ScriptStack))
	copy(stack, in.ScriptStack)

	push := func(b []byte) bool {
		if len(stack) >= maxScriptStackDepth {
			return false
		}
		stack = append(stack, b)
		return true
	}
	pop := func() ([]byte, bool) {
		if len(stack) == 0 {
			return nil, false
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return top, true
	}

	for i := 0; i < len(script); {
		op := types.Opcode(script[i])
		i++

		switch op {
		case types.OpNop:
			// anyone-can-spend: leaves a truthy marker with no further checks.
			if !push([]byte{1}) {
				return false
			}

		case types.OpPushPubKey:
			if i+types.PublicKeySize > len(script) {
				return false
			}
			if !push(script[i : i+types.PublicKeySize]) {
				return false
			}
			i += types.PublicKeySize

		case types.OpPushHash:
			if i+types.HashSize > len(script) {
				return false
			}
			if !push(script[i : i+types.HashSize]) {
				return false
			}
			i += types.HashSize

		case types.OpDup:
			top, ok := pop()
			if !ok {
				return false
			}
			dup := make([]byte, len(top))
			copy(dup, top)
			if !push(top) || !push(dup) {
				return false
			}

		case types.OpHash256:
			top, ok := pop()
			if !ok {
				return false
			}
			h := crypto.DomainHash(scriptExecLabel, top)
			if !push(h[:]) {
				return false
			}

		case types.OpEqualVerify:
			a, ok1 := pop()
			b, ok2 := pop()
			if !ok1 || !ok2 || !bytes.Equal(a, b) {
				return false
			}

		case types.OpCheckSigVerify:
			pubKey, ok := pop()
			if !ok {
				return false
			}
			if !crypto.VerifySignature(in.OutputHash[:], in.ScriptSig.Bytes(), pubKey) {
				return false
			}
			if !push([]byte{1}) {
				return false
			}

		case types.OpCheckHeightVerify:
			// The interpreter has no chain height, so this opcode only
			// leaves a truthy marker. No height comparison is made here,
			// and internal/consensus does not inspect scripts either.
			if !push([]byte{1}) {
				return false
			}

		default:
			return false
		}
	}

	if len(stack) != 1 {
		return false
	}
	top := stack[0]
	if len(top) == 0 {
		return false
	}
	for _, b := range top {
		if b != 0 {
			return true
		}
	}
	return false
}
