package rules

import (
	"github.com/kaihaan/spendmatch/internal/domain/extract"
	"github.com/kaihaan/spendmatch/internal/domain/ledger"
)

// MerchantHint is a partial resolution: the merchant is known but no
// category rule fired, so enrichment still escalates to the classifier,
// seeded with the hint to reduce ambiguity.
type MerchantHint struct {
	NormalizedName  string
	MerchantType    string
	DefaultCategory string
}

// Outcome is the result of evaluating the rule set against one
// transaction. Exactly one of Result and Hint may be set; both nil means
// no rule applied.
type Outcome struct {
	Result *ledger.EnrichmentResult
	Hint   *MerchantHint
}

// Resolved reports whether the rules produced a complete enrichment.
func (o Outcome) Resolved() bool { return o.Result != nil }

// Apply evaluates the rule set against a transaction in fixed priority
// order:
//
//  1. structured payee extraction, looked up against direct-debit
//     normalizations: a hit is a complete result, confidence 1.0
//  2. full-description category rules by descending priority
//  3. full-description merchant normalizations: merchant hint only
//  4. nothing matched
func (rs *RuleSet) Apply(tx ledger.BankTransaction) Outcome {
	details := extract.Extract(tx.Description)

	if details.HasPayee() {
		for _, n := range rs.normalizations {
			if n.Source != SourceDirectDebit {
				continue
			}
			if !rs.matches(details.Payee, n.Pattern, n.PatternType) {
				continue
			}
			return Outcome{Result: rs.completeResult(n, details)}
		}
	}

	for _, r := range rs.categoryRules {
		if !rs.matches(tx.Description, r.Pattern, r.PatternType) {
			continue
		}
		return Outcome{Result: &ledger.EnrichmentResult{
			PrimaryCategory:   r.Category,
			Subcategory:       r.Subcategory,
			MerchantCleanName: r.MerchantName,
			Essential:         rs.IsEssential(r.Category),
			PaymentMethod:     paymentMethod(details),
			Confidence:        1.0,
			Source:            ledger.EnrichmentSourceRule,
		}}
	}

	for _, n := range rs.normalizations {
		if n.Source == SourceDirectDebit {
			continue
		}
		if !rs.matches(tx.Description, n.Pattern, n.PatternType) {
			continue
		}
		return Outcome{Hint: &MerchantHint{
			NormalizedName:  n.NormalizedName,
			MerchantType:    n.MerchantType,
			DefaultCategory: n.DefaultCategory,
		}}
	}

	return Outcome{}
}

// completeResult builds the enrichment for a direct-debit payee hit.
func (rs *RuleSet) completeResult(n MerchantNormalization, details extract.Details) *ledger.EnrichmentResult {
	return &ledger.EnrichmentResult{
		PrimaryCategory:   n.DefaultCategory,
		MerchantCleanName: n.NormalizedName,
		MerchantType:      n.MerchantType,
		Essential:         rs.IsEssential(n.DefaultCategory),
		PaymentMethod:     paymentMethod(details),
		Confidence:        1.0,
		Source:            ledger.EnrichmentSourceRule,
	}
}

// paymentMethod maps the extracted payment kind to the classification
// vocabulary, preferring the wallet provider when one was mentioned.
func paymentMethod(d extract.Details) string {
	if d.Provider != "" {
		return d.Provider
	}
	switch d.Kind {
	case extract.KindDirectDebit:
		return "DIRECT_DEBIT"
	case extract.KindCardPayment:
		return "CARD"
	case extract.KindStandingOrder:
		return "STANDING_ORDER"
	case extract.KindTransfer:
		return "TRANSFER"
	default:
		return ""
	}
}
