// Package providers defines the pluggable classification backend used by
// the enrichment orchestrator. Concrete providers differ only in
// request/response shape and cost table; the orchestrator is
// provider-agnostic.
package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kaihaan/spendmatch/internal/domain/ledger"
	"github.com/kaihaan/spendmatch/internal/domain/rules"
)

// BatchItem is one transaction to classify, optionally seeded with a
// merchant hint from the rule engine.
type BatchItem struct {
	Transaction ledger.BankTransaction
	Hint        *rules.MerchantHint
}

// UsageStats accounts for tokens and cost across provider calls.
type UsageStats struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             float64
	Calls            int
}

// Add accumulates another usage sample.
func (u *UsageStats) Add(other UsageStats) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.Cost += other.Cost
	u.Calls += other.Calls
}

// ClassificationProvider is the uniform capability every backend
// implements. EnrichTransactions returns results keyed by transaction ID;
// a transaction missing from the map counts as failed for that batch.
type ClassificationProvider interface {
	Name() string
	Model() string
	// MaxBatchSize caps how many transactions one request may carry.
	MaxBatchSize() int
	// MinRequestInterval is the provider's rate limit; zero means none.
	MinRequestInterval() time.Duration
	EnrichTransactions(ctx context.Context, batch []BatchItem, direction ledger.Direction) (map[string]ledger.EnrichmentResult, UsageStats, error)
	ValidateCredentials(ctx context.Context) error
}

// Config selects and configures a backend.
type Config struct {
	Name   string // "openai" or "gemini"
	APIKey string
	Model  string
}

// Factory builds a provider from config. Selection happens here, once, so
// callers hold only the interface. Missing credentials or an unknown
// provider name are fatal configuration errors.
type Factory func(cfg Config) (ClassificationProvider, error)

var registry = map[string]Factory{}

// Register installs a factory under a provider name. Concrete provider
// packages register themselves from init.
func Register(name string, f Factory) {
	registry[strings.ToLower(name)] = f
}

// New constructs the configured provider.
func New(cfg Config) (ClassificationProvider, error) {
	if cfg.APIKey == "" {
		return nil, &Error{Kind: KindValidation, Provider: cfg.Name,
			Err: fmt.Errorf("missing API key for provider %q", cfg.Name)}
	}
	f, ok := registry[strings.ToLower(cfg.Name)]
	if !ok {
		return nil, &Error{Kind: KindValidation, Provider: cfg.Name,
			Err: fmt.Errorf("unknown classification provider %q", cfg.Name)}
	}
	return f(cfg)
}
