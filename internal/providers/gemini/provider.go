// Package gemini implements the classification provider backed by the
// Gemini API via the google.golang.org/genai SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/kaihaan/spendmatch/internal/domain/ledger"
	"github.com/kaihaan/spendmatch/internal/providers"
)

// ProviderName is the registry key for this backend.
const ProviderName = "gemini"

const defaultModel = "gemini-2.5-flash"

// requestTimeout bounds one model round-trip; a timeout surfaces as a
// retryable provider error.
const requestTimeout = 60 * time.Second

type costPerMillion struct {
	input  float64
	output float64
}

var costTable = map[string]costPerMillion{
	"gemini-2.5-flash": {input: 0.30, output: 2.50},
	"gemini-2.0-flash": {input: 0.10, output: 0.40},
	"gemini-1.5-pro":   {input: 1.25, output: 5.00},
}

func init() {
	providers.Register(ProviderName, func(cfg providers.Config) (providers.ClassificationProvider, error) {
		model := cfg.Model
		if model == "" {
			model = defaultModel
		}
		return &Provider{apiKey: cfg.APIKey, model: model}, nil
	})
}

// generation is the provider-neutral slice of a model response.
type generation struct {
	text             string
	promptTokens     int
	completionTokens int
}

// generator abstracts the SDK call so tests can stub it.
type generator interface {
	generateContent(ctx context.Context, model, prompt string) (*generation, error)
}

// Provider classifies transaction batches through Gemini. The SDK client
// needs a context to construct, so it is created lazily on first use.
type Provider struct {
	apiKey string
	model  string

	initOnce sync.Once
	gen      generator
	initErr  error
}

var _ providers.ClassificationProvider = (*Provider)(nil)

func (p *Provider) Name() string  { return ProviderName }
func (p *Provider) Model() string { return p.model }

// MaxBatchSize mirrors the openai provider; accuracy, not context length,
// is the binding constraint.
func (p *Provider) MaxBatchSize() int { return 25 }

// MinRequestInterval spaces requests for the free-tier RPM limit.
func (p *Provider) MinRequestInterval() time.Duration { return time.Second }

func (p *Provider) client(ctx context.Context) (generator, error) {
	p.initOnce.Do(func() {
		if p.gen != nil {
			return
		}
		c, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:      p.apiKey,
			Backend:     genai.BackendGeminiAPI,
			HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
		})
		if err != nil {
			p.initErr = &providers.Error{Kind: providers.KindAuthFailed, Provider: ProviderName,
				Err: fmt.Errorf("creating genai client: %w", err)}
			return
		}
		p.gen = &sdkGenerator{client: c}
	})
	return p.gen, p.initErr
}

// EnrichTransactions classifies one batch and reports token usage and cost
// for the call.
func (p *Provider) EnrichTransactions(ctx context.Context, batch []providers.BatchItem, direction ledger.Direction) (map[string]ledger.EnrichmentResult, providers.UsageStats, error) {
	if len(batch) == 0 {
		return map[string]ledger.EnrichmentResult{}, providers.UsageStats{}, nil
	}

	gen, err := p.client(ctx)
	if err != nil {
		return nil, providers.UsageStats{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	out, err := gen.generateContent(callCtx, p.model, providers.BuildPrompt(batch, direction))
	if err != nil {
		return nil, providers.UsageStats{}, classify(err)
	}
	if out.text == "" {
		return nil, providers.UsageStats{}, fmt.Errorf("empty response from %s", p.model)
	}

	results, err := providers.ParseResponse(ProviderName, p.model, out.text)
	if err != nil {
		return nil, providers.UsageStats{}, err
	}

	stats := providers.UsageStats{
		PromptTokens:     out.promptTokens,
		CompletionTokens: out.completionTokens,
		TotalTokens:      out.promptTokens + out.completionTokens,
		Cost:             p.cost(out.promptTokens, out.completionTokens),
		Calls:            1,
	}
	return results, stats, nil
}

// ValidateCredentials issues a minimal request so a bad key fails at
// construction time instead of mid-run.
func (p *Provider) ValidateCredentials(ctx context.Context) error {
	gen, err := p.client(ctx)
	if err != nil {
		return err
	}
	if _, err := gen.generateContent(ctx, p.model, "ping"); err != nil {
		return classify(err)
	}
	return nil
}

func (p *Provider) cost(promptTokens, completionTokens int) float64 {
	prices, ok := costTable[p.model]
	if !ok {
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
	return float64(promptTokens)/1e6*prices.input + float64(completionTokens)/1e6*prices.output
}

// classify maps SDK errors onto the shared provider error taxonomy.
func classify(err error) error {
	var pe *providers.Error
	if errors.As(err, &pe) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return providers.ClassifyHTTPStatus(ProviderName, apiErr.Code, http.Header{}, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &providers.Error{Kind: providers.KindTimeout, Provider: ProviderName, Err: err}
	}
	return &providers.Error{Kind: providers.KindUnknown, Provider: ProviderName, Err: err}
}

// sdkGenerator adapts the genai client to the generator interface.
type sdkGenerator struct {
	client *genai.Client
}

func (g *sdkGenerator) generateContent(ctx context.Context, model, prompt string) (*generation, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(0.1)),
		ResponseMIMEType: "application/json",
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, err
	}

	out := &generation{text: resp.Text()}
	if resp.UsageMetadata != nil {
		out.promptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.completionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
