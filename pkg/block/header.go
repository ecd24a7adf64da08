package block

import (
	"encoding/binary"

	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// Header is the fixed-layout block header: every field a header commits to
// before proof-of-work is found, plus the nonce and PoW summary that seal
// it.
type Header struct {
	Version uint32 `json:"version"`
	Height  uint64 `json:"height"`

	PrevHash  types.Hash `json:"prev_hash"`
	Timestamp uint64     `json:"timestamp"`

	OutputMR   types.Hash `json:"output_mr"`
	WitnessMR  types.Hash `json:"witness_mr"`
	OutputMMRSize uint64  `json:"output_mmr_size"`

	KernelMR     types.Hash `json:"kernel_mr"`
	KernelMMRSize uint64    `json:"kernel_mmr_size"`

	InputMR types.Hash `json:"input_mr"`

	TotalKernelOffset types.Hash `json:"total_kernel_offset"`
	TotalScriptOffset types.Hash `json:"total_script_offset"`

	Nonce uint64            `json:"nonce"`
	Pow   types.ProofOfWork `json:"pow"`
}

// legacyHeaderVersionCutoff is the last header version hashed with the
// variable-length legacy encoding; versions above it use the fixed-array
// canonical encoding. Kept per the Open Question decision in DESIGN.md.
const legacyHeaderVersionCutoff = 2

// mergedMiningBytes returns the canonical encoding of every field the
// header commits to before mining, excluding the nonce and PoW summary —
// the bytes a merge-mining proxy hashes into the auxiliary chain.
func (h *Header) mergedMiningBytes() []byte {
	if h.Version <= legacyHeaderVersionCutoff {
		return h.legacyMergedMiningBytes()
	}
	return h.canonicalMergedMiningBytes()
}

// canonicalMergedMiningBytes is the version >= 3 fixed-array encoding:
// 32-byte hash fields with no length prefix, since their size is implicit
// in the format version.
func (h *Header) canonicalMergedMiningBytes() []byte {
	buf := make([]byte, 0, 256)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = binary.LittleEndian.AppendUint64(buf, h.Height)
	buf = append(buf, h.PrevHash[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	buf = append(buf, h.OutputMR[:]...)
	buf = append(buf, h.WitnessMR[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.OutputMMRSize)
	buf = append(buf, h.KernelMR[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.KernelMMRSize)
	buf = append(buf, h.InputMR[:]...)
	buf = append(buf, h.TotalKernelOffset[:]...)
	buf = append(buf, h.TotalScriptOffset[:]...)
	return buf
}

// legacyMergedMiningBytes is the version <= 2 encoding: every hash field
// is written with a varint length prefix, matching how the pre-v3 wire
// format stored them before the fixed-width layout was introduced.
func (h *Header) legacyMergedMiningBytes() []byte {
	buf := make([]byte, 0, 256)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = binary.LittleEndian.AppendUint64(buf, h.Height)
	buf = appendVarBytes(buf, h.PrevHash[:])
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	buf = appendVarBytes(buf, h.OutputMR[:])
	buf = appendVarBytes(buf, h.WitnessMR[:])
	buf = binary.LittleEndian.AppendUint64(buf, h.OutputMMRSize)
	buf = appendVarBytes(buf, h.KernelMR[:])
	buf = binary.LittleEndian.AppendUint64(buf, h.KernelMMRSize)
	buf = appendVarBytes(buf, h.InputMR[:])
	buf = appendVarBytes(buf, h.TotalKernelOffset[:])
	buf = appendVarBytes(buf, h.TotalScriptOffset[:])
	return buf
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

// MergedMiningHash hashes everything the header commits to except the
// nonce and PoW summary — stable across different proof-of-work attempts
// over the same header contents, as a merge-mining proxy requires.
func (h *Header) MergedMiningHash() types.Hash {
	return crypto.Hash(h.mergedMiningBytes())
}

// Hash computes the full block header hash: H(merged_mining_hash || pow ||
// nonce), the canonical formula every implementation of this consensus
// protocol must agree on. This is the block's identity once mined.
func (h *Header) Hash() types.Hash {
	mm := h.MergedMiningHash()
	buf := append(mm[:0:0], mm[:]...)
	buf = append(buf, h.Pow.Bytes()...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Nonce)
	return crypto.Hash(buf)
}

// PowPreimage returns the bytes a PowHasher hashes together with the
// nonce to produce the achieved proof-of-work hash: the merged-mining
// hash plus the PoW summary, but not the nonce itself (the hasher takes
// that as a separate argument so a miner can scan nonces
// without re-serializing the header each time).
func (h *Header) PowPreimage() []byte {
	mm := h.MergedMiningHash()
	return append(mm[:], h.Pow.Bytes()...)
}
