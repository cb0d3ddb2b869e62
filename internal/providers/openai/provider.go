// Package openai implements the classification provider backed by the
// OpenAI chat-completions API.
package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kaihaan/spendmatch/internal/domain/ledger"
	"github.com/kaihaan/spendmatch/internal/providers"
)

// ProviderName is the registry key for this backend.
const ProviderName = "openai"

const defaultModel = "gpt-4o-mini"

// costPerMillion holds input/output token prices in USD per million tokens.
type costPerMillion struct {
	input  float64
	output float64
}

var costTable = map[string]costPerMillion{
	"gpt-4o":      {input: 2.50, output: 10.00},
	"gpt-4o-mini": {input: 0.15, output: 0.60},
	"gpt-4.1":     {input: 2.00, output: 8.00},
}

func init() {
	providers.Register(ProviderName, func(cfg providers.Config) (providers.ClassificationProvider, error) {
		model := cfg.Model
		if model == "" {
			model = defaultModel
		}
		return &Provider{
			client: newHTTPChatClient(cfg.APIKey),
			model:  model,
		}, nil
	})
}

// Provider classifies transaction batches through chat completions.
type Provider struct {
	client chatClient
	model  string
}

var _ providers.ClassificationProvider = (*Provider)(nil)

func (p *Provider) Name() string  { return ProviderName }
func (p *Provider) Model() string { return p.model }

// MaxBatchSize is conservative: larger batches degrade per-item accuracy
// before they hit context limits.
func (p *Provider) MaxBatchSize() int { return 25 }

// MinRequestInterval spaces requests to stay inside default tier limits.
func (p *Provider) MinRequestInterval() time.Duration { return 500 * time.Millisecond }

// EnrichTransactions classifies one batch and reports token usage and cost
// for the call.
func (p *Provider) EnrichTransactions(ctx context.Context, batch []providers.BatchItem, direction ledger.Direction) (map[string]ledger.EnrichmentResult, providers.UsageStats, error) {
	if len(batch) == 0 {
		return map[string]ledger.EnrichmentResult{}, providers.UsageStats{}, nil
	}

	req := chatCompletionRequest{
		Model:       p.model,
		Temperature: 0.1, // classification must be repeatable
		ResponseFormat: &responseFormat{
			Type: "json_object",
		},
		Messages: []message{
			{
				Role:    "system",
				Content: "You classify bank transactions into spending categories. Always respond with valid JSON.",
			},
			{
				Role:    "user",
				Content: providers.BuildPrompt(batch, direction),
			},
		},
	}

	resp, err := p.client.createChatCompletion(ctx, req)
	if err != nil {
		return nil, providers.UsageStats{}, err
	}
	if len(resp.Choices) == 0 {
		return nil, providers.UsageStats{}, fmt.Errorf("empty completion from %s", p.model)
	}

	results, err := providers.ParseResponse(ProviderName, p.model, resp.Choices[0].Message.Content)
	if err != nil {
		return nil, providers.UsageStats{}, err
	}

	stats := providers.UsageStats{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		Cost:             p.cost(resp.Usage),
		Calls:            1,
	}
	return results, stats, nil
}

// ValidateCredentials issues a minimal request so a bad key fails at
// construction time instead of mid-run.
func (p *Provider) ValidateCredentials(ctx context.Context) error {
	_, err := p.client.createChatCompletion(ctx, chatCompletionRequest{
		Model:       p.model,
		Temperature: 0,
		Messages:    []message{{Role: "user", Content: "ping"}},
	})
	return err
}

func (p *Provider) cost(u usage) float64 {
	prices, ok := costTable[p.model]
	if !ok {
		// Unknown model: price it like the closest known family member.
		// Longest prefix wins so gpt-4o-mini variants do not price as gpt-4o.
		best := ""
		for name, c := range costTable {
			if strings.HasPrefix(p.model, name) && len(name) > len(best) {
				best, prices, ok = name, c, true
			}
		}
	}
	if !ok {
		return 0
	}
	return float64(u.PromptTokens)/1e6*prices.input + float64(u.CompletionTokens)/1e6*prices.output
}
