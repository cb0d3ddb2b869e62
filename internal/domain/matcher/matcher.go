// Package matcher links bank transactions to purchase records from
// non-bank sources (Amazon, Amazon Business, Apple, Returns).
//
// The algorithm has the same shape for every source and is parameterized
// by a SourceProfile:
//   - a textual gate rejects ineligible transactions outright
//   - the amount must match to the cent (no proportional tolerance)
//   - the date offset must fall inside the source's window
//   - confidence is scored from base points plus a date-proximity bonus
//
// Candidates scoring below the universal 70-point threshold are dropped.
// Matching is pure: it never touches storage and running it twice over the
// same pools produces the same ranked list.
package matcher

import (
	"sort"

	"github.com/kaihaan/spendmatch/internal/domain/ledger"
)

// Matcher produces ranked match candidates for one source type.
type Matcher struct {
	profile SourceProfile
}

// NewMatcher creates a matcher with the given source profile.
func NewMatcher(profile SourceProfile) *Matcher {
	return &Matcher{profile: profile}
}

// SourceType returns the source this matcher is configured for.
func (m *Matcher) SourceType() ledger.SourceType {
	return m.profile.SourceType
}

// FindCandidates returns every candidate at or above the acceptance
// threshold, ordered by confidence descending then smallest date offset.
//
// Records with unparseable (zero) dates are skipped individually so one
// dirty record cannot poison the run; a transaction with no usable date
// produces no candidates at all.
func (m *Matcher) FindCandidates(tx ledger.BankTransaction, pool []ledger.SourceRecord) []ledger.MatchCandidate {
	if m.profile.Direction != "" && tx.Direction != m.profile.Direction {
		return nil
	}
	if m.profile.Gate != nil && !m.profile.Gate(tx) {
		return nil
	}
	if tx.Timestamp.IsZero() {
		return nil
	}

	var candidates []ledger.MatchCandidate
	for _, rec := range pool {
		if rec.OccurredAt.IsZero() {
			continue
		}
		if !amountsMatch(tx.Amount, rec.Amount) {
			continue
		}

		offset := dayOffset(tx.Timestamp, rec.OccurredAt)
		if !m.profile.Score.InWindow(offset) {
			continue
		}

		conf := m.profile.Score.Confidence(offset)
		if conf < AcceptThreshold {
			continue
		}

		candidates = append(candidates, ledger.MatchCandidate{
			TransactionID:  tx.ID,
			SourceType:     rec.SourceType,
			SourceID:       rec.SourceID,
			OrderID:        rec.OrderID,
			Confidence:     conf,
			DateOffsetDays: offset,
			MatchMethod:    m.profile.MatchMethod,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return absInt(candidates[i].DateOffsetDays) < absInt(candidates[j].DateOffsetDays)
	})

	return candidates
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
