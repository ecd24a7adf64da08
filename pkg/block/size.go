package block

// headerFixedSize is the byte size of a header's fixed-width fields
// (everything but the variable-length legacy encoding, which only
// version<=2 headers use and which this bound conservatively ignores in
// favor of the canonical fixed layout's size).
const headerFixedSize = 4 + 8 + 32 + 8 + 32 + 32 + 8 + 32 + 8 + 32 + 32 + 32 + 8 + 16

// Size returns the block's approximate full serialized weight: the fixed
// header size plus every input/output/kernel's actual field content
// (scripts, range proofs, signatures), the bound spec.md §4.E's
// max_block_size check is measured against.
func (b *Block) Size() int {
	total := headerFixedSize
	for i := range b.Body.Outputs {
		o := &b.Body.Outputs[i]
		total += len(o.RangeProof) + len(o.Script.Bytes) + len(o.EncryptedData) + 33 + 33 + 64 + 8
		for _, t := range o.Covenant.Tokens {
			total += len(t)
		}
	}
	for i := range b.Body.Inputs {
		in := &b.Body.Inputs[i]
		total += len(in.Script.Bytes) + 33 + 32 + 64 + 33
		for _, s := range in.ScriptStack {
			total += len(s)
		}
	}
	total += len(b.Body.Kernels) * (1 + 8 + 8 + 33 + 64)
	return total
}
