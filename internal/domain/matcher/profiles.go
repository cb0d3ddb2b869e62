package matcher

import (
	"strings"

	"github.com/kaihaan/spendmatch/internal/domain/ledger"
)

// amazonSchedule is the shared date-bonus schedule for the ±3 day sources:
// 100 same-day, falling to the 70 acceptance floor at the window edge.
var amazonSchedule = []int{50, 40, 30, 20}

// appleScore settles 0-2 days after purchase (card settlement lags the
// store). Computed scores are capped up by the floor schedule: same-day is
// forced to 100 and day 2 never drops below 85.
var appleScore = ScoreProfile{
	BasePoints:    50,
	DateBonus:     []int{50, 35, 30},
	FloorByOffset: []int{100, 90, 85},
	ForwardOnly:   true,
}

// containsAmazonToken reports whether a description mentions Amazon at all.
func containsAmazonToken(desc string) bool {
	return strings.Contains(desc, "AMAZON") || strings.Contains(desc, "AMZN")
}

func amazonGate(tx ledger.BankTransaction) bool {
	return containsAmazonToken(strings.ToUpper(tx.Description))
}

// amazonBusinessGate matches Amazon mentions that are not retail
// marketplace charges ("AMZN MKTP" is always the consumer storefront).
func amazonBusinessGate(tx ledger.BankTransaction) bool {
	desc := strings.ToUpper(tx.Description)
	return containsAmazonToken(desc) && !strings.Contains(desc, "AMZN MKTP")
}

// appleGate requires an Apple merchant mention that survives removal of
// "APPLE PAY" payment-method phrases. "CARD PAYMENT TO TESCO VIA APPLE PAY"
// is a Tesco purchase, not an Apple one.
func appleGate(tx ledger.BankTransaction) bool {
	desc := strings.ToUpper(tx.Description)
	desc = strings.ReplaceAll(desc, "APPLE PAY", "")
	return strings.Contains(desc, "APPLE") || strings.Contains(desc, "ITUNES")
}

// returnsGate accepts any credit; refunds carry the original merchant text
// so there is no reliable token to require.
func returnsGate(tx ledger.BankTransaction) bool {
	return tx.Direction == ledger.DirectionCredit
}

// Profiles returns the matcher configuration for every supported source
// type, keyed by source.
func Profiles() map[ledger.SourceType]SourceProfile {
	return map[ledger.SourceType]SourceProfile{
		ledger.SourceAmazon: {
			SourceType:  ledger.SourceAmazon,
			Direction:   ledger.DirectionDebit,
			Gate:        amazonGate,
			Score:       ScoreProfile{BasePoints: 50, DateBonus: amazonSchedule},
			MatchMethod: "amazon_amount_date",
		},
		ledger.SourceAmazonBusiness: {
			SourceType:  ledger.SourceAmazonBusiness,
			Direction:   ledger.DirectionDebit,
			Gate:        amazonBusinessGate,
			Score:       ScoreProfile{BasePoints: 50, DateBonus: amazonSchedule},
			MatchMethod: "amazon_business_amount_date",
		},
		ledger.SourceApple: {
			SourceType:  ledger.SourceApple,
			Direction:   ledger.DirectionDebit,
			Gate:        appleGate,
			Score:       appleScore,
			MatchMethod: "apple_amount_date",
		},
		ledger.SourceReturns: {
			SourceType:  ledger.SourceReturns,
			Direction:   ledger.DirectionCredit,
			Gate:        returnsGate,
			Score:       ScoreProfile{BasePoints: 50, DateBonus: amazonSchedule},
			MatchMethod: "return_amount_date",
		},
	}
}

// ForSource returns a Matcher configured for one source type, or nil if
// the source has no matching profile.
func ForSource(st ledger.SourceType) *Matcher {
	p, ok := Profiles()[st]
	if !ok {
		return nil
	}
	return NewMatcher(p)
}
