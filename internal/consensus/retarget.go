package consensus

// RetargetParams bounds a single algorithm's difficulty-adjustment
// window, kept separate per algorithm since RandomX-slot and SHA3x miners
// compete for different blocks and must not influence each other's
// target.
type RetargetParams struct {
	TargetBlockTimeSecs uint64 // Desired average seconds between blocks of this algorithm.
	WindowSize          int    // Number of most-recent same-algorithm blocks considered.
	MinDifficulty       Difficulty
	MaxAdjustFactor      uint64 // Clamp: new difficulty in [old/factor, old*factor].
}

// DefaultRetargetParams returns sane defaults: a 2-minute block time per
// algorithm, a 90-block window, and a 4x clamp per adjustment — the same
// shape as the retarget clamp most PoW chains in the pack use.
func DefaultRetargetParams() RetargetParams {
	return RetargetParams{
		TargetBlockTimeSecs: 120,
		WindowSize:          90,
		MinDifficulty:       1,
		MaxAdjustFactor:      4,
	}
}

// TimestampedDifficulty is one same-algorithm header's timestamp and the
// difficulty it was mined against, the minimal data NextDifficulty needs.
type TimestampedDifficulty struct {
	Timestamp  uint64
	Difficulty Difficulty
}

// NextDifficulty computes the difficulty the next same-algorithm block
// must meet, given the most recent window of same-algorithm headers in
// ascending height order (oldest first). history may be shorter than
// WindowSize during chain startup; fewer than two entries returns
// params.MinDifficulty (nothing to retarget from yet).
func NextDifficulty(history []TimestampedDifficulty, params RetargetParams) Difficulty {
	if len(history) < 2 {
		return params.MinDifficulty
	}

	window := history
	if len(window) > params.WindowSize+1 {
		window = window[len(window)-(params.WindowSize+1):]
	}

	actualSpan := window[len(window)-1].Timestamp - window[0].Timestamp
	if actualSpan == 0 {
		actualSpan = 1
	}
	blocks := uint64(len(window) - 1)
	expectedSpan := blocks * params.TargetBlockTimeSecs

	lastDifficulty := window[len(window)-1].Difficulty
	if lastDifficulty == 0 {
		lastDifficulty = params.MinDifficulty
	}

	// newDifficulty = lastDifficulty * expectedSpan / actualSpan, clamped
	// to a bounded adjustment per retarget so a timestamp outlier can't
	// swing difficulty by more than MaxAdjustFactor in a single step.
	next := uint64(lastDifficulty) * expectedSpan / actualSpan

	maxUp := uint64(lastDifficulty) * params.MaxAdjustFactor
	minDown := uint64(lastDifficulty) / params.MaxAdjustFactor
	if minDown == 0 {
		minDown = 1
	}
	if next > maxUp {
		next = maxUp
	}
	if next < minDown {
		next = minDown
	}
	if Difficulty(next) < params.MinDifficulty {
		return params.MinDifficulty
	}
	return Difficulty(next)
}
