package gemini

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaihaan/spendmatch/internal/domain/ledger"
	"github.com/kaihaan/spendmatch/internal/providers"
)

type stubGenerator struct {
	out        *generation
	err        error
	lastModel  string
	lastPrompt string
}

func (s *stubGenerator) generateContent(_ context.Context, model, prompt string) (*generation, error) {
	s.lastModel = model
	s.lastPrompt = prompt
	if s.err != nil {
		return nil, s.err
	}
	return s.out, nil
}

func stubbedProvider(gen generator) *Provider {
	p := &Provider{apiKey: "test-key", model: defaultModel, gen: gen}
	p.initOnce.Do(func() {}) // mark initialized so the stub is used
	return p
}

func testBatch() []providers.BatchItem {
	return []providers.BatchItem{
		{Transaction: ledger.BankTransaction{
			ID:          "tx-9",
			Description: "DIRECT DEBIT PAYMENT TO BRITISH GAS",
			Amount:      -86.00,
			Currency:    "GBP",
			Direction:   ledger.DirectionDebit,
		}},
	}
}

func TestEnrichTransactions(t *testing.T) {
	stub := &stubGenerator{
		out: &generation{
			text:             `{"enrichments":[{"transaction_id":"tx-9","primary_category":"Utilities","merchant_name":"British Gas","merchant_type":"utility","essential":true,"payment_method":"DIRECT_DEBIT","confidence":0.97}]}`,
			promptTokens:     800,
			completionTokens: 150,
		},
	}
	p := stubbedProvider(stub)

	results, stats, err := p.EnrichTransactions(context.Background(), testBatch(), ledger.DirectionDebit)
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results["tx-9"]
	assert.Equal(t, "Utilities", r.PrimaryCategory)
	assert.Equal(t, "British Gas", r.MerchantCleanName)
	assert.True(t, r.Essential)
	assert.Equal(t, ledger.EnrichmentSourceLLM, r.Source)
	assert.Equal(t, "gemini", r.Provider)
	assert.Equal(t, defaultModel, r.Model)

	assert.Equal(t, defaultModel, stub.lastModel)
	assert.Contains(t, stub.lastPrompt, "tx-9")
	assert.Equal(t, 950, stats.TotalTokens)
	// 800 in at $0.30/M plus 150 out at $2.50/M.
	assert.InDelta(t, 0.000615, stats.Cost, 1e-9)
}

func TestEnrichTransactionsEmptyResponse(t *testing.T) {
	p := stubbedProvider(&stubGenerator{out: &generation{text: ""}})

	_, _, err := p.EnrichTransactions(context.Background(), testBatch(), ledger.DirectionDebit)
	require.Error(t, err)
}

func TestEnrichTransactionsEmptyBatch(t *testing.T) {
	stub := &stubGenerator{}
	p := stubbedProvider(stub)

	results, stats, err := p.EnrichTransactions(context.Background(), nil, ledger.DirectionDebit)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, stats.Calls)
	assert.Empty(t, stub.lastModel, "no API call for an empty batch")
}

func TestEnrichTransactionsErrorClassification(t *testing.T) {
	p := stubbedProvider(&stubGenerator{err: context.DeadlineExceeded})

	_, _, err := p.EnrichTransactions(context.Background(), testBatch(), ledger.DirectionDebit)
	require.Error(t, err)

	var pe *providers.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, providers.KindTimeout, pe.Kind)
	assert.True(t, providers.IsRetryable(err))
}

func TestCostUnknownModelFallsBackToFamily(t *testing.T) {
	p := &Provider{model: "gemini-2.0-flash-001"}
	got := p.cost(1_000_000, 1_000_000)
	assert.InDelta(t, 0.50, got, 1e-9)
}

func TestFactoryRegistered(t *testing.T) {
	p, err := providers.New(providers.Config{Name: ProviderName, APIKey: "test-key"})
	require.NoError(t, err)
	assert.Equal(t, ProviderName, p.Name())
	assert.Equal(t, defaultModel, p.Model())
}
