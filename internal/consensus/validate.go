package consensus

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/mimbleforge-node/internal/chainstore"
	"github.com/Klingon-tech/mimbleforge-node/pkg/block"
)

// Contextual validation errors (spec.md §4.E pass 2).
var (
	ErrBadPrevHash       = errors.New("header prev_hash does not match chain tip")
	ErrBadHeight         = errors.New("header height does not follow chain tip")
	ErrTimestampTooOld   = errors.New("header timestamp at or before the median of the timestamp window")
	ErrTimestampFuture   = errors.New("header timestamp too far in the future")
	ErrPowTargetMismatch = errors.New("header pow does not meet required difficulty")
	ErrRootMismatch      = errors.New("header commitment roots do not match computed body roots")
	ErrInputNotUnspent   = errors.New("input does not reference a currently unspent output")
	ErrVersionUnknown    = errors.New("header version is not recognized")
	ErrBlockTooLarge     = errors.New("block exceeds max serialized size")
	// ErrOrphanBlock means prev_hash names neither the tip nor any header
	// this store has ever recorded. It may be a legitimate block whose
	// parent just hasn't arrived yet, or it may be garbage — the caller
	// cannot tell which without more information, so this must be queued
	// rather than treated as proof of a protocol violation.
	ErrOrphanBlock = errors.New("header does not chain to any known block")
)

// Params bounds the contextual checks: version range, size limit, and
// the future-timestamp tolerance, wired from config.ConsensusConstants.
type Params struct {
	MinHeaderVersion  uint32
	MaxHeaderVersion  uint32
	MaxBlockSize      int
	FutureTimeLimitSecs uint64
	TimestampWindow   int // Number of preceding headers the median is taken over.
}

// ValidateContextual runs pass 2 against chain state: the header must
// chain off the tip or a known earlier block, its timestamp must clear
// the window median without running too far ahead of now, its proof of
// work must meet the required difficulty, its declared MMR roots must
// match the body's freshly computed roots, and every input it spends
// must reference a still-unspent output. A header whose prev_hash names
// no block this chain has ever recorded returns ErrOrphanBlock rather
// than a hard rejection — the caller is expected to buffer it and retry
// once its parent shows up, not ban whoever sent it. windowTimestamps is
// the ascending list of the TimestampWindow headers' timestamps ending
// at prev, prev included (oldest first); nowUnix is the validator's current
// wall-clock time.
func ValidateContextual(
	b *block.Block,
	prev *block.Header,
	windowTimestamps []uint64,
	chain *chainstore.Chain,
	nowUnix uint64,
	p Params,
) error {
	h := b.Header

	if h.Version < p.MinHeaderVersion || h.Version > p.MaxHeaderVersion {
		return fmt.Errorf("%w: %d", ErrVersionUnknown, h.Version)
	}
	if b.Size() > p.MaxBlockSize {
		return ErrBlockTooLarge
	}

	parent := prev
	if prev != nil && h.PrevHash != prev.Hash() {
		// Not extending the tip. Either this is a legitimate fork off a
		// block we already hold (chainstore's reorg machinery is the
		// place that decides whether it outweighs the current best
		// chain, not here), or prev_hash names a block we've never seen
		// at all, which is the one case this function refuses to just
		// wave through as ErrBadPrevHash: it queues instead.
		forkParent, err := chain.HeaderByHash(h.PrevHash)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrOrphanBlock, err)
		}
		parent = forkParent
	}
	if parent != nil {
		if h.Height != parent.Height+1 {
			return ErrBadHeight
		}
	} else {
		if h.Height != 0 {
			return ErrBadHeight
		}
		if !h.PrevHash.IsZero() {
			return ErrBadPrevHash
		}
	}

	if err := checkTimestamp(h.Timestamp, windowTimestamps, nowUnix, p); err != nil {
		return err
	}

	if err := CheckProofOfWork(h); err != nil {
		return fmt.Errorf("%w: %v", ErrPowTargetMismatch, err)
	}

	roots := block.ComputeRoots(&b.Body)
	if !roots.Matches(h) {
		return ErrRootMismatch
	}

	for i := range b.Body.Inputs {
		in := &b.Body.Inputs[i]
		unspent, err := chain.OutputExists(in.Commitment)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInputNotUnspent, err)
		}
		if !unspent {
			return fmt.Errorf("%w: commitment %s", ErrInputNotUnspent, in.Commitment)
		}
	}

	return nil
}

// checkTimestamp enforces item the teacher's pow.go historically applied:
// the new header's timestamp must exceed the median of the preceding
// window (preventing a miner from rewinding the clock) and must not sit
// further than FutureTimeLimitSecs ahead of the validator's own clock.
func checkTimestamp(ts uint64, window []uint64, now uint64, p Params) error {
	if len(window) > 0 {
		sorted := append([]uint64(nil), window...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		median := sorted[len(sorted)/2]
		if ts <= median {
			return ErrTimestampTooOld
		}
	}
	if ts > now+p.FutureTimeLimitSecs {
		return ErrTimestampFuture
	}
	return nil
}
