package matcher

import (
	"github.com/kaihaan/spendmatch/internal/domain/ledger"
)

// AcceptThreshold is the minimum confidence a candidate must reach to be
// returned. It is the same for every source type.
const AcceptThreshold = 70

// amountTolerance is the exact-amount policy: the transaction and record
// amounts must agree to the cent. There is no proportional tolerance.
const amountTolerance = 0.01

// Gate decides whether a transaction is eligible for a source at all,
// based on its description text. Candidates are only scored for
// transactions that pass the gate.
type Gate func(tx ledger.BankTransaction) bool

// ScoreProfile parameterizes the shared scoring function for one source
// type. Confidence is BasePoints (awarded for the exact amount match) plus
// DateBonus indexed by absolute day offset; FloorByOffset, when set, raises
// the computed score to a per-offset minimum instead of adding to it.
type ScoreProfile struct {
	BasePoints    int
	DateBonus     []int // indexed by |offset| in days; len-1 == window edge
	FloorByOffset []int // optional; same indexing as DateBonus
	ForwardOnly   bool  // record date <= transaction date <= record date + window
}

// WindowDays returns the widest accepted date offset for this profile.
func (p ScoreProfile) WindowDays() int {
	return len(p.DateBonus) - 1
}

// SourceProfile bundles everything the generic matcher needs for one
// source type.
type SourceProfile struct {
	SourceType  ledger.SourceType
	Direction   ledger.Direction // which transaction direction this source matches
	Gate        Gate
	Score       ScoreProfile
	MatchMethod string
}
