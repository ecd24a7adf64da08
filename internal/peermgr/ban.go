package peermgr

import "time"

// Ban duration tiers a peer-protocol violation is sentenced to (spec.md
// §7's "ban_reason { reason, duration: Short|Long }"). Short covers
// malformed-but-plausibly-accidental input (a bad frame, an
// out-of-range field); Long covers deliberate protocol violations
// (invalid blocks, invalid transactions, a sync peer that lied about
// its chain).
const (
	ShortBan = 1 * time.Hour
	LongBan  = 24 * time.Hour
)

// BanTier names a spec.md §7 ban-reason tier; Duration resolves it to a
// concrete duration for BanPeer.
type BanTier int

const (
	BanNone BanTier = iota
	BanShort
	BanLong
)

// Duration returns the concrete ban length for a tier. BanNone returns 0.
func (t BanTier) Duration() time.Duration {
	switch t {
	case BanShort:
		return ShortBan
	case BanLong:
		return LongBan
	default:
		return 0
	}
}

// String names the tier for logging.
func (t BanTier) String() string {
	switch t {
	case BanShort:
		return "short"
	case BanLong:
		return "long"
	default:
		return "none"
	}
}
