package block

import (
	"github.com/Klingon-tech/mimbleforge-node/pkg/mmr"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// Roots is the set of four MMR roots (plus sizes) a header commits to,
// computed from a block body in the same order the body's slices
// appear — append order is consensus, since it determines each leaf's
// MMR position.
type Roots struct {
	OutputRoot    types.Hash
	OutputMMRSize uint64
	WitnessRoot   types.Hash
	KernelRoot    types.Hash
	KernelMMRSize uint64
	InputRoot     types.Hash
}

// ComputeRoots builds the output, witness, kernel, and input MMRs over
// a block body and returns their roots and sizes, for comparison
// against a header's declared MR fields.
func ComputeRoots(body *Body) Roots {
	outputMmr := mmr.New()
	witnessMmr := mmr.New()
	for i := range body.Outputs {
		outputMmr.AppendLeaf(body.Outputs[i].Hash())
		witnessMmr.AppendLeaf(body.Outputs[i].WitnessHash())
	}

	kernelMmr := mmr.New()
	for i := range body.Kernels {
		kernelMmr.AppendLeaf(body.Kernels[i].Hash())
	}

	inputMmr := mmr.New()
	for i := range body.Inputs {
		h := body.Inputs[i].Hash()
		inputMmr.AppendLeaf(h)
	}

	return Roots{
		OutputRoot:    outputMmr.Root(),
		OutputMMRSize: outputMmr.NumLeaves(),
		WitnessRoot:   witnessMmr.Root(),
		KernelRoot:    kernelMmr.Root(),
		KernelMMRSize: kernelMmr.NumLeaves(),
		InputRoot:     inputMmr.Root(),
	}
}

// Matches reports whether a header's MR fields agree with freshly
// computed roots.
func (r Roots) Matches(h *Header) bool {
	return r.OutputRoot == h.OutputMR &&
		r.OutputMMRSize == h.OutputMMRSize &&
		r.WitnessRoot == h.WitnessMR &&
		r.KernelRoot == h.KernelMR &&
		r.KernelMMRSize == h.KernelMMRSize &&
		r.InputRoot == h.InputMR
}
