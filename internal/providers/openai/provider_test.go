package openai

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaihaan/spendmatch/internal/domain/ledger"
	"github.com/kaihaan/spendmatch/internal/providers"
)

type stubChatClient struct {
	response *chatCompletionResponse
	err      error
	lastReq  chatCompletionRequest
	calls    int
}

func (s *stubChatClient) createChatCompletion(_ context.Context, req chatCompletionRequest) (*chatCompletionResponse, error) {
	s.lastReq = req
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}

func testBatch() []providers.BatchItem {
	return []providers.BatchItem{
		{Transaction: ledger.BankTransaction{
			ID:          "tx-1",
			Description: "CARD PAYMENT TO TESCO STORES 2041",
			Amount:      -23.50,
			Currency:    "GBP",
			Direction:   ledger.DirectionDebit,
		}},
	}
}

func TestEnrichTransactions(t *testing.T) {
	stub := &stubChatClient{
		response: &chatCompletionResponse{
			Choices: []choice{{Message: message{
				Role: "assistant",
				Content: `{"enrichments":[{"transaction_id":"tx-1","primary_category":"Groceries","subcategory":"Supermarket","merchant_name":"Tesco","merchant_type":"supermarket","essential":true,"payment_method":"CARD","confidence":0.95}]}`,
			}}},
			Usage: usage{PromptTokens: 1000, CompletionTokens: 200, TotalTokens: 1200},
		},
	}
	p := &Provider{client: stub, model: "gpt-4o-mini"}

	results, stats, err := p.EnrichTransactions(context.Background(), testBatch(), ledger.DirectionDebit)
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results["tx-1"]
	assert.Equal(t, "Groceries", r.PrimaryCategory)
	assert.Equal(t, "Tesco", r.MerchantCleanName)
	assert.True(t, r.Essential)
	assert.Equal(t, ledger.EnrichmentSourceLLM, r.Source)
	assert.Equal(t, "openai", r.Provider)
	assert.Equal(t, "gpt-4o-mini", r.Model)

	assert.Equal(t, 1200, stats.TotalTokens)
	assert.Equal(t, 1, stats.Calls)
	// 1000 in at $0.15/M plus 200 out at $0.60/M.
	assert.InDelta(t, 0.00027, stats.Cost, 1e-9)
}

func TestEnrichTransactionsRequestShape(t *testing.T) {
	stub := &stubChatClient{
		response: &chatCompletionResponse{
			Choices: []choice{{Message: message{Content: `{"enrichments":[]}`}}},
		},
	}
	p := &Provider{client: stub, model: "gpt-4o"}

	_, _, err := p.EnrichTransactions(context.Background(), testBatch(), ledger.DirectionDebit)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", stub.lastReq.Model)
	assert.Equal(t, 0.1, stub.lastReq.Temperature)
	require.NotNil(t, stub.lastReq.ResponseFormat)
	assert.Equal(t, "json_object", stub.lastReq.ResponseFormat.Type)
	require.Len(t, stub.lastReq.Messages, 2)
	assert.Contains(t, stub.lastReq.Messages[1].Content, "tx-1")
	assert.Contains(t, stub.lastReq.Messages[1].Content, "TESCO")
}

func TestEnrichTransactionsFencedOutput(t *testing.T) {
	stub := &stubChatClient{
		response: &chatCompletionResponse{
			Choices: []choice{{Message: message{
				Content: "```json\n{\"enrichments\":[{\"transaction_id\":\"tx-1\",\"primary_category\":\"Groceries\",\"confidence\":0.9}]}\n```",
			}}},
		},
	}
	p := &Provider{client: stub, model: "gpt-4o-mini"}

	results, _, err := p.EnrichTransactions(context.Background(), testBatch(), ledger.DirectionDebit)
	require.NoError(t, err)
	assert.Equal(t, "Groceries", results["tx-1"].PrimaryCategory)
}

func TestEnrichTransactionsEmptyBatch(t *testing.T) {
	stub := &stubChatClient{}
	p := &Provider{client: stub, model: "gpt-4o-mini"}

	results, stats, err := p.EnrichTransactions(context.Background(), nil, ledger.DirectionDebit)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, stats.Calls)
	assert.Zero(t, stub.calls, "no API call for an empty batch")
}

func TestEnrichTransactionsProviderError(t *testing.T) {
	stub := &stubChatClient{
		err: &providers.Error{Kind: providers.KindRateLimited, Provider: ProviderName, RetryAfter: 2 * time.Second},
	}
	p := &Provider{client: stub, model: "gpt-4o-mini"}

	_, _, err := p.EnrichTransactions(context.Background(), testBatch(), ledger.DirectionDebit)
	require.Error(t, err)
	assert.True(t, providers.IsRetryable(err))
	assert.Equal(t, 2*time.Second, providers.RetryAfter(err))
}

func TestEnrichTransactionsMalformedJSON(t *testing.T) {
	stub := &stubChatClient{
		response: &chatCompletionResponse{
			Choices: []choice{{Message: message{Content: "sorry, I cannot help with that"}}},
		},
	}
	p := &Provider{client: stub, model: "gpt-4o-mini"}

	_, _, err := p.EnrichTransactions(context.Background(), testBatch(), ledger.DirectionDebit)
	require.Error(t, err)
}

func TestCostUnknownModelFallsBackToFamily(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini-2024-07-18"}
	got := p.cost(usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000})
	assert.InDelta(t, 0.75, got, 1e-9)
}

func TestFactoryRegistered(t *testing.T) {
	p, err := providers.New(providers.Config{Name: ProviderName, APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, ProviderName, p.Name())
	assert.Equal(t, defaultModel, p.Model())
}
