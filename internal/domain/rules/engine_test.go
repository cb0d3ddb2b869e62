package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaihaan/spendmatch/internal/domain/ledger"
)

func debitTx(description string) ledger.BankTransaction {
	return ledger.BankTransaction{
		ID:          "tx1",
		Timestamp:   time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC),
		Description: description,
		Amount:      -42.50,
		Currency:    "GBP",
		Direction:   ledger.DirectionDebit,
	}
}

func TestRuleSet_DirectDebitPayee_CompleteResult(t *testing.T) {
	rs := NewRuleSet(nil, []MerchantNormalization{
		{
			ID:              1,
			Pattern:         "BRITISH GAS",
			PatternType:     PatternContains,
			NormalizedName:  "British Gas",
			MerchantType:    "utility",
			DefaultCategory: "Utilities",
			Source:          SourceDirectDebit,
			Active:          true,
		},
	}, nil, nil)

	out := rs.Apply(debitTx("DIRECT DEBIT PAYMENT TO BRITISH GAS REF 882204417, MANDATE NO 0044"))

	require.True(t, out.Resolved())
	assert.Equal(t, "Utilities", out.Result.PrimaryCategory)
	assert.Equal(t, "British Gas", out.Result.MerchantCleanName)
	assert.Equal(t, 1.0, out.Result.Confidence)
	assert.Equal(t, ledger.EnrichmentSourceRule, out.Result.Source)
	assert.Equal(t, "DIRECT_DEBIT", out.Result.PaymentMethod)
	assert.True(t, out.Result.Essential)
}

func TestRuleSet_DirectDebitRule_IgnoredWithoutPayee(t *testing.T) {
	rs := NewRuleSet(nil, []MerchantNormalization{
		{
			ID:              1,
			Pattern:         "NETFLIX",
			PatternType:     PatternContains,
			NormalizedName:  "Netflix",
			DefaultCategory: "Entertainment",
			Source:          SourceDirectDebit,
			Active:          true,
		},
	}, nil, nil)

	// Description mentions the merchant but has no structured payee; the
	// direct-debit path must not fire, and there is no plain
	// normalization, so nothing applies.
	out := rs.Apply(debitTx("NETFLIX.COM 866-579-7172"))
	assert.False(t, out.Resolved())
	assert.Nil(t, out.Hint)
}

func TestRuleSet_CategoryRule_PriorityWins(t *testing.T) {
	rs := NewRuleSet([]CategoryRule{
		{ID: 1, Pattern: "TESCO", PatternType: PatternContains, Category: "Shopping", Priority: 10, Active: true},
		{ID: 2, Pattern: "TESCO", PatternType: PatternContains, Category: "Groceries", Priority: 50, Active: true},
	}, nil, nil, nil)

	out := rs.Apply(debitTx("CARD PAYMENT TO TESCO STORES 2045"))

	require.True(t, out.Resolved())
	assert.Equal(t, "Groceries", out.Result.PrimaryCategory)
}

func TestRuleSet_EqualPriority_InsertionOrderWins(t *testing.T) {
	rs := NewRuleSet([]CategoryRule{
		{ID: 1, Pattern: "COFFEE", PatternType: PatternContains, Category: "Eating Out", Priority: 10, Active: true},
		{ID: 2, Pattern: "COFFEE", PatternType: PatternContains, Category: "Groceries", Priority: 10, Active: true},
	}, nil, nil, nil)

	out := rs.Apply(debitTx("PRET COFFEE LONDON"))

	require.True(t, out.Resolved())
	assert.Equal(t, "Eating Out", out.Result.PrimaryCategory)
}

func TestRuleSet_PatternTypes(t *testing.T) {
	tests := []struct {
		name        string
		rule        CategoryRule
		description string
		match       bool
	}{
		{"contains", CategoryRule{Pattern: "uber", PatternType: PatternContains, Category: "Transport", Active: true}, "UBER *TRIP HELP.UBER.COM", true},
		{"starts_with hit", CategoryRule{Pattern: "TFL", PatternType: PatternStartsWith, Category: "Transport", Active: true}, "TFL TRAVEL CH", true},
		{"starts_with miss", CategoryRule{Pattern: "TFL", PatternType: PatternStartsWith, Category: "Transport", Active: true}, "PAYMENT TFL", false},
		{"exact hit", CategoryRule{Pattern: "payroll", PatternType: PatternExact, Category: "Income", Active: true}, "PAYROLL", true},
		{"exact miss", CategoryRule{Pattern: "payroll", PatternType: PatternExact, Category: "Income", Active: true}, "PAYROLL JAN", false},
		{"regex", CategoryRule{Pattern: `\bAMZN\b`, PatternType: PatternRegex, Category: "Shopping", Active: true}, "amzn mktp uk", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := NewRuleSet([]CategoryRule{tt.rule}, nil, nil, nil)
			out := rs.Apply(debitTx(tt.description))
			assert.Equal(t, tt.match, out.Resolved())
		})
	}
}

func TestRuleSet_InvalidRegex_SkippedNotFatal(t *testing.T) {
	rs := NewRuleSet([]CategoryRule{
		{ID: 1, Pattern: "([unclosed", PatternType: PatternRegex, Category: "Broken", Priority: 99, Active: true},
		{ID: 2, Pattern: "TESCO", PatternType: PatternContains, Category: "Groceries", Priority: 1, Active: true},
	}, nil, nil, nil)

	out := rs.Apply(debitTx("TESCO STORES"))

	require.True(t, out.Resolved())
	assert.Equal(t, "Groceries", out.Result.PrimaryCategory)
}

func TestRuleSet_InactiveRulesIgnored(t *testing.T) {
	rs := NewRuleSet([]CategoryRule{
		{ID: 1, Pattern: "TESCO", PatternType: PatternContains, Category: "Groceries", Active: false},
	}, nil, nil, nil)

	assert.False(t, rs.Apply(debitTx("TESCO STORES")).Resolved())
}

func TestRuleSet_NormalizationOnly_ReturnsHint(t *testing.T) {
	rs := NewRuleSet(nil, []MerchantNormalization{
		{
			ID:              1,
			Pattern:         "SAINSBURY",
			PatternType:     PatternContains,
			NormalizedName:  "Sainsbury's",
			MerchantType:    "supermarket",
			DefaultCategory: "Groceries",
			Active:          true,
		},
	}, nil, nil)

	out := rs.Apply(debitTx("SAINSBURYS S/MKT LONDON"))

	assert.False(t, out.Resolved(), "a hint is not a resolution")
	require.NotNil(t, out.Hint)
	assert.Equal(t, "Sainsbury's", out.Hint.NormalizedName)
	assert.Equal(t, "Groceries", out.Hint.DefaultCategory)
}

func TestRuleSet_NoMatch(t *testing.T) {
	rs := NewRuleSet(nil, nil, nil, nil)
	out := rs.Apply(debitTx("UNRECOGNISED MERCHANT 123"))
	assert.False(t, out.Resolved())
	assert.Nil(t, out.Hint)
}

func TestRuleSet_EssentialCategories(t *testing.T) {
	// Default fallback list.
	rs := NewRuleSet(nil, nil, nil, nil)
	assert.True(t, rs.IsEssential("groceries"))
	assert.False(t, rs.IsEssential("Entertainment"))

	// Configured set replaces the default entirely.
	custom := NewRuleSet(nil, nil, []string{"Pet Care"}, nil)
	assert.True(t, custom.IsEssential("pet care"))
	assert.False(t, custom.IsEssential("Groceries"))
}

func TestRuleSet_WalletProviderAsPaymentMethod(t *testing.T) {
	rs := NewRuleSet([]CategoryRule{
		{ID: 1, Pattern: "TESCO", PatternType: PatternContains, Category: "Groceries", Active: true},
	}, nil, nil, nil)

	out := rs.Apply(debitTx("CARD PAYMENT TO TESCO VIA APPLE PAY"))

	require.True(t, out.Resolved())
	assert.Equal(t, "APPLE PAY", out.Result.PaymentMethod)
}
