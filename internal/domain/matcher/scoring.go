package matcher

import (
	"math"
	"time"
)

// Confidence computes the match confidence for a given day offset.
// The offset must already have been validated against the window; an
// out-of-range offset returns 0.
//
// Amazon-style profiles are strictly additive: base points for the exact
// amount match plus a decreasing date bonus. Apple's profile instead caps
// via max(computed, floor) so that same-day is forced to 100 and the score
// never drops below 85 inside the window. The two formulas are deliberately
// not unified.
func (p ScoreProfile) Confidence(offsetDays int) int {
	idx := offsetDays
	if idx < 0 {
		idx = -idx
	}
	if idx >= len(p.DateBonus) {
		return 0
	}

	conf := p.BasePoints + p.DateBonus[idx]
	if p.FloorByOffset != nil && idx < len(p.FloorByOffset) && conf < p.FloorByOffset[idx] {
		conf = p.FloorByOffset[idx]
	}
	if conf > 100 {
		conf = 100
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}

// InWindow reports whether a day offset (transaction date minus record
// date) is acceptable for this profile. Forward-only profiles reject
// transactions dated before the record.
func (p ScoreProfile) InWindow(offsetDays int) bool {
	if p.ForwardOnly {
		return offsetDays >= 0 && offsetDays <= p.WindowDays()
	}
	abs := offsetDays
	if abs < 0 {
		abs = -abs
	}
	return abs <= p.WindowDays()
}

// dayOffset returns the calendar-day difference between a transaction date
// and a record date (transaction minus record). Times of day are ignored;
// card settlement timestamps carry no useful intra-day information.
func dayOffset(txAt, recordAt time.Time) int {
	txDay := txAt.UTC().Truncate(24 * time.Hour)
	recDay := recordAt.UTC().Truncate(24 * time.Hour)
	return int(math.Round(txDay.Sub(recDay).Hours() / 24))
}

// amountsMatch applies the exact-amount policy over absolute values.
// A small epsilon absorbs floating point representation error.
func amountsMatch(txAmount, recordAmount float64) bool {
	const epsilon = 0.0000001
	return math.Abs(math.Abs(txAmount)-math.Abs(recordAmount)) <= amountTolerance+epsilon
}
