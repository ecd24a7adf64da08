// Package tx defines the Mimblewimble transaction model: inputs, outputs,
// and kernels, their canonical encoding, and internal-consistency
// validation.
package tx

import (
	"encoding/binary"

	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// Output is a new confidential transaction output: a Pedersen commitment
// to a value, hidden behind a range proof, spendable only by whoever can
// satisfy its script.
type Output struct {
	Features         types.OutputFeatures `json:"features"`
	Commitment       types.Commitment     `json:"commitment"`
	RangeProof       []byte               `json:"range_proof"`
	Script           types.Script         `json:"script"`
	SenderOffsetKey  types.PublicKey      `json:"sender_offset_public_key"`
	MetadataSig      types.Signature      `json:"metadata_signature"`
	Covenant         types.Covenant       `json:"covenant"`
	EncryptedData    []byte               `json:"encrypted_data,omitempty"`
	MinValuePromise  uint64               `json:"minimum_value_promise"`
}

// MetadataSigningBytes returns the bytes the metadata signature signs:
// features || script || commitment || sender-offset || covenant ||
// encrypted-data || minimum-value-promise, matching spec.md §3's
// definition exactly so the signature is over an unambiguous encoding.
func (o *Output) MetadataSigningBytes() []byte {
	var buf []byte
	buf = append(buf, byte(o.Features.Version), byte(o.Features.OutputType), byte(o.Features.RangeProofType))
	buf = binary.LittleEndian.AppendUint64(buf, o.Features.Maturity)
	buf = appendVarBytes(buf, o.Features.Extra)
	buf = appendVarBytes(buf, o.Script.Bytes)
	buf = append(buf, o.Commitment[:]...)
	buf = append(buf, o.SenderOffsetKey[:]...)
	for _, t := range o.Covenant.Tokens {
		buf = appendVarBytes(buf, t)
	}
	buf = appendVarBytes(buf, o.EncryptedData)
	buf = binary.LittleEndian.AppendUint64(buf, o.MinValuePromise)
	return buf
}

// Hash returns the canonical hash of the output, used as a leaf in the
// output MMR and as the CommitmentRef an input must reference.
func (o *Output) Hash() types.Hash {
	return crypto.Hash(o.MetadataSigningBytes())
}

// WitnessHash hashes the output's range proof together with its
// metadata signature — the two fields the output MMR leaf itself does
// not commit to — for use as a leaf in the separate witness MMR. Output
// data can be pruned independently of witness data once a block is old
// enough, which is why the two live in different MMRs.
func (o *Output) WitnessHash() types.Hash {
	var buf []byte
	buf = appendVarBytes(buf, o.RangeProof)
	buf = append(buf, o.MetadataSig[:]...)
	return crypto.Hash(buf)
}

// Input consumes a previously created, still-unspent output.
type Input struct {
	Features     types.OutputFeatures `json:"features"`
	Commitment   types.Commitment     `json:"commitment"`
	OutputHash   types.Hash           `json:"output_hash"`
	Script       types.Script         `json:"script"`
	ScriptStack  [][]byte             `json:"script_input_stack"`
	ScriptSig    types.Signature      `json:"script_signature"`
	ScriptSigKey types.PublicKey      `json:"script_signature_public_key"`
}

// Hash returns the canonical hash of the input.
func (in *Input) Hash() types.Hash {
	var buf []byte
	buf = append(buf, byte(in.Features.Version), byte(in.Features.OutputType))
	buf = append(buf, in.Commitment[:]...)
	buf = append(buf, in.OutputHash[:]...)
	buf = appendVarBytes(buf, in.Script.Bytes)
	for _, s := range in.ScriptStack {
		buf = appendVarBytes(buf, s)
	}
	return crypto.Hash(buf)
}

// Kernel is the public commitment to a transaction's balance equation: its
// excess is a Pedersen commitment to zero whose discrete log the
// transaction's aggregate blinding factor proves knowledge of.
type Kernel struct {
	Features         types.KernelFeatures `json:"features"`
	Fee              uint64               `json:"fee"`
	LockHeight       uint64               `json:"lock_height"`
	Excess           types.Commitment     `json:"excess"`
	Signature        types.Signature      `json:"excess_sig"`
	BurnCommitment   *types.Commitment    `json:"burn_commitment,omitempty"`
}

// ChallengeBytes returns the bytes the kernel's Schnorr signature signs:
// (features, fee, lock_height, excess, optional burn commitment), exactly
// the tuple spec.md §3 names.
func (k *Kernel) ChallengeBytes() []byte {
	var buf []byte
	buf = append(buf, byte(k.Features))
	buf = binary.LittleEndian.AppendUint64(buf, k.Fee)
	buf = binary.LittleEndian.AppendUint64(buf, k.LockHeight)
	buf = append(buf, k.Excess[:]...)
	if k.BurnCommitment != nil {
		buf = append(buf, k.BurnCommitment[:]...)
	}
	return buf
}

// Hash returns the canonical hash of the kernel, used as a leaf in the
// kernel MMR.
func (k *Kernel) Hash() types.Hash {
	return crypto.Hash(k.ChallengeBytes())
}

// IsCoinbase reports whether this kernel carries the coinbase flag.
func (k *Kernel) IsCoinbase() bool {
	return k.Features.IsCoinbase()
}

// Transaction is an ordered, self-contained set of inputs, outputs, and
// kernels whose balance equation checks out once the kernel offset and
// script offset are accounted for.
type Transaction struct {
	Version       uint32   `json:"version"`
	Inputs        []Input  `json:"inputs"`
	Outputs       []Output `json:"outputs"`
	Kernels       []Kernel `json:"kernels"`
	KernelOffset  types.Hash `json:"kernel_offset"`
	ScriptOffset  types.Hash `json:"script_offset"`
}

func appendVarBytes(buf []byte, b []byte) []byte {
	buf = appendVarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func appendVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// CanonicalBytes returns the canonical on-wire encoding of the
// transaction: version, then length-prefixed input/output/kernel lists in
// field order, then the two offset scalars. Field order is consensus: any
// deviation produces a different hash.
func (t *Transaction) CanonicalBytes() []byte {
	var buf []byte
	buf = binary.LittleEndian.AppendUint32(buf, t.Version)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Inputs)))
	for i := range t.Inputs {
		h := t.Inputs[i].Hash()
		buf = append(buf, h[:]...)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Outputs)))
	for i := range t.Outputs {
		h := t.Outputs[i].Hash()
		buf = append(buf, h[:]...)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Kernels)))
	for i := range t.Kernels {
		h := t.Kernels[i].Hash()
		buf = append(buf, h[:]...)
	}

	buf = append(buf, t.KernelOffset[:]...)
	buf = append(buf, t.ScriptOffset[:]...)
	return buf
}

// Hash returns the canonical transaction hash.
func (t *Transaction) Hash() types.Hash {
	return crypto.Hash(t.CanonicalBytes())
}

// TotalFee returns the sum of every kernel's fee.
func (t *Transaction) TotalFee() uint64 {
	var total uint64
	for i := range t.Kernels {
		total += t.Kernels[i].Fee
	}
	return total
}

// CoinbaseOutput returns the transaction's coinbase output, if any.
func (t *Transaction) CoinbaseOutput() (*Output, bool) {
	for i := range t.Outputs {
		if t.Outputs[i].Features.IsCoinbase() {
			return &t.Outputs[i], true
		}
	}
	return nil, false
}

// CoinbaseKernel returns the transaction's coinbase kernel, if any.
func (t *Transaction) CoinbaseKernel() (*Kernel, bool) {
	for i := range t.Kernels {
		if t.Kernels[i].IsCoinbase() {
			return &t.Kernels[i], true
		}
	}
	return nil, false
}
