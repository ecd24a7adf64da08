package types

import (
	"encoding/hex"
	"encoding/json"
)

// Opcode identifies a single instruction in an output's spending predicate.
// The interpreter (pkg/tx) is a bounded stack machine: pure, deterministic,
// and side-effect-free, so a script's validity never depends on anything
// but the input that spends it.
type Opcode byte

const (
	// OpNop does nothing; the default "anyone can spend" script.
	OpNop Opcode = 0x00
	// OpPushPubKey pushes a 33-byte compressed public key literal.
	OpPushPubKey Opcode = 0x01
	// OpPushHash pushes a 32-byte hash literal.
	OpPushHash Opcode = 0x02
	// OpDup duplicates the top stack element.
	OpDup Opcode = 0x10
	// OpHash256 replaces the top element with its domain-separated hash.
	OpHash256 Opcode = 0x11
	// OpEqualVerify pops two elements and fails execution if they differ.
	OpEqualVerify Opcode = 0x12
	// OpCheckSigVerify pops a public key and fails unless the input's
	// script signature verifies against it.
	OpCheckSigVerify Opcode = 0x20
	// OpCheckHeightVerify pushes a truthy marker and never fails; pkg/tx's
	// interpreter has no chain height and makes no height comparison.
	OpCheckHeightVerify Opcode = 0x21
)

// Script is a byte-coded predicate restricting who may spend an output.
// Execution is bounded: pkg/tx's interpreter runs at most len(Bytes)
// steps. pkg/tx's Validate rejects an output whose script exceeds the
// consensus max_script_size limit; an input's script is executed without
// that size check.
type Script struct {
	Bytes []byte `json:"bytes"`
}

// Nop returns the trivial "anyone can spend" script.
func Nop() Script {
	return Script{Bytes: []byte{byte(OpNop)}}
}

// Size returns the serialized script length in bytes.
func (s Script) Size() int {
	return len(s.Bytes)
}

type scriptJSON struct {
	Bytes string `json:"bytes"`
}

// MarshalJSON encodes the script as hex bytes.
func (s Script) MarshalJSON() ([]byte, error) {
	return json.Marshal(scriptJSON{Bytes: hex.EncodeToString(s.Bytes)})
}

// UnmarshalJSON decodes a hex-encoded script.
func (s *Script) UnmarshalJSON(data []byte) error {
	var j scriptJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	if j.Bytes == "" {
		s.Bytes = nil
		return nil
	}
	b, err := hex.DecodeString(j.Bytes)
	if err != nil {
		return err
	}
	s.Bytes = b
	return nil
}

// Covenant restricts which future outputs may be produced when spending
// this output (e.g. "the next output must carry this exact script").
// It is represented as an opaque token stream; pkg/tx bounds the token
// count against max_covenant_tokens rather than evaluating full covenant
// semantics, which this spec keeps as a structural limit only.
type Covenant struct {
	Tokens [][]byte `json:"tokens"`
}

// TokenCount returns the number of covenant tokens.
func (c Covenant) TokenCount() int {
	return len(c.Tokens)
}

type covenantJSON struct {
	Tokens []string `json:"tokens"`
}

// MarshalJSON encodes the covenant as a list of hex token strings.
func (c Covenant) MarshalJSON() ([]byte, error) {
	toks := make([]string, len(c.Tokens))
	for i, t := range c.Tokens {
		toks[i] = hex.EncodeToString(t)
	}
	return json.Marshal(covenantJSON{Tokens: toks})
}

// UnmarshalJSON decodes a covenant from a list of hex token strings.
func (c *Covenant) UnmarshalJSON(data []byte) error {
	var j covenantJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	c.Tokens = make([][]byte, len(j.Tokens))
	for i, s := range j.Tokens {
		b, err := hex.DecodeString(s)
		if err != nil {
			return err
		}
		c.Tokens[i] = b
	}
	return nil
}

// OutputType tags the semantic role of a transaction output. A flat tagged
// variant lets the validator switch directly on the type instead of
// dispatching through an interface hierarchy.
type OutputType uint8

const (
	OutputStandard         OutputType = 0
	OutputCoinbase         OutputType = 1
	OutputBurn             OutputType = 2
	OutputValidatorNodeReg OutputType = 3
	OutputCodeTemplateReg  OutputType = 4
)

// String returns a human-readable name for the output type.
func (t OutputType) String() string {
	switch t {
	case OutputStandard:
		return "Standard"
	case OutputCoinbase:
		return "Coinbase"
	case OutputBurn:
		return "Burn"
	case OutputValidatorNodeReg:
		return "ValidatorNodeRegistration"
	case OutputCodeTemplateReg:
		return "CodeTemplateRegistration"
	default:
		return "Unknown"
	}
}

// RangeProofType distinguishes the kind of range proof carried by an
// output: a full BulletProof+ style proof, or a revealed value that
// needs none.
type RangeProofType uint8

const (
	RangeProofBulletProofPlus RangeProofType = 0
	RangeProofRevealedValue   RangeProofType = 1
)

// OutputFeatures carries the per-output consensus metadata: its type tag,
// maturity lock height, range-proof kind, and (for coinbase outputs) any
// extra bytes the miner attached.
type OutputFeatures struct {
	Version        uint8          `json:"version"`
	OutputType     OutputType     `json:"output_type"`
	Maturity       uint64         `json:"maturity"`
	RangeProofType RangeProofType `json:"range_proof_type"`
	Extra          []byte         `json:"extra,omitempty"`
}

// IsCoinbase returns true if these features mark a coinbase output.
func (f OutputFeatures) IsCoinbase() bool {
	return f.OutputType == OutputCoinbase
}

// KernelFeatures tags the semantic role of a transaction kernel.
type KernelFeatures uint8

const (
	KernelDefault  KernelFeatures = 0
	KernelCoinbase KernelFeatures = 1 << 0
	KernelBurn     KernelFeatures = 1 << 1
)

// IsCoinbase returns true if the coinbase flag is set.
func (f KernelFeatures) IsCoinbase() bool {
	return f&KernelCoinbase != 0
}

// PowAlgorithm identifies which of the two proof-of-work algorithms
// sealed a block.
type PowAlgorithm uint8

const (
	// PowAlgoRandomX is the ASIC-resistant, CPU-friendly algorithm.
	// RandomX itself is treated as a black-box capability; see
	// pkg/crypto for the keyed-hash stand-in behind the same interface.
	PowAlgoRandomX PowAlgorithm = 0
	// PowAlgoSha3x is the triple-Keccak algorithm used by GPU miners.
	PowAlgoSha3x PowAlgorithm = 1
)

// String returns a human-readable algorithm name.
func (a PowAlgorithm) String() string {
	switch a {
	case PowAlgoRandomX:
		return "RandomX"
	case PowAlgoSha3x:
		return "Sha3x"
	default:
		return "Unknown"
	}
}

// ProofOfWork is the header's PoW summary: the algorithm tag plus
// algorithm-specific auxiliary bytes (e.g. a RandomX seed hash).
type ProofOfWork struct {
	Algo PowAlgorithm `json:"pow_algo"`
	Data []byte       `json:"pow_data"`
}

type powJSON struct {
	Algo PowAlgorithm `json:"pow_algo"`
	Data string       `json:"pow_data"`
}

// MarshalJSON encodes the PoW summary with hex-encoded auxiliary data.
func (p ProofOfWork) MarshalJSON() ([]byte, error) {
	return json.Marshal(powJSON{Algo: p.Algo, Data: hex.EncodeToString(p.Data)})
}

// UnmarshalJSON decodes a PoW summary with hex-encoded auxiliary data.
func (p *ProofOfWork) UnmarshalJSON(data []byte) error {
	var j powJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	p.Algo = j.Algo
	if j.Data != "" {
		b, err := hex.DecodeString(j.Data)
		if err != nil {
			return err
		}
		p.Data = b
	}
	return nil
}

// Bytes returns the canonical encoding of the PoW summary: algorithm tag
// followed by a varint-length-prefixed data blob.
func (p ProofOfWork) Bytes() []byte {
	buf := make([]byte, 0, 1+len(p.Data)+2)
	buf = append(buf, byte(p.Algo))
	buf = appendVarint(buf, uint64(len(p.Data)))
	buf = append(buf, p.Data...)
	return buf
}

// appendVarint appends an unsigned LEB128 varint.
func appendVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}
