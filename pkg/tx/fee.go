package tx

// EstimateTxFee returns the minimum fee for a transaction with the given
// number of inputs, outputs, and kernels at the given fee rate (base
// units per gram, where a gram approximates the canonical-encoding byte
// weight of one input/output/kernel).
func EstimateTxFee(numInputs, numOutputs, numKernels int, feeRate uint64) uint64 {
	const perInput = 32  // input hash folded into the canonical encoding
	const perOutput = 32 // output hash folded into the canonical encoding
	const perKernel = 32 // kernel hash folded into the canonical encoding
	const overhead = 4 + 4 + 4 + 4 + 32 + 32 // version + 3 counts + two offsets

	size := overhead + perInput*numInputs + perOutput*numOutputs + perKernel*numKernels
	return uint64(size) * feeRate
}

// RequiredFee returns the exact minimum fee for a fully built transaction
// at the given fee rate, based on its actual canonical encoding size.
func RequiredFee(transaction *Transaction, feeRate uint64) uint64 {
	return uint64(len(transaction.CanonicalBytes())) * feeRate
}
