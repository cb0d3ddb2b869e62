// Package enrich runs the classification pipeline: deterministic rules
// first, then the content-addressed cache, and only then batched calls to
// the configured classification provider.
package enrich

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"

	"github.com/kaihaan/spendmatch/internal/domain/ledger"
	"github.com/kaihaan/spendmatch/internal/domain/merchant"
	"github.com/kaihaan/spendmatch/internal/domain/rules"
	"github.com/kaihaan/spendmatch/internal/infrastructure/storage"
	"github.com/kaihaan/spendmatch/internal/providers"
)

const defaultMaxRetries = 3

// Stats summarizes one enrichment run.
type Stats struct {
	RunID      int64    `json:"run_id"`
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	CacheHits  int      `json:"cache_hits"`
	RuleHits   int      `json:"rule_hits"`
	APICalls   int      `json:"api_calls"`
	TokensUsed int      `json:"tokens_used"`
	Cost       float64  `json:"cost"`
	RetryQueue []string `json:"retry_queue,omitempty"` // transaction IDs for reprocessing
}

// Progress is a point-in-time snapshot reported at batch granularity.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Enriched  int `json:"enriched"`
	Failed    int `json:"failed"`
}

// ProgressFunc receives progress snapshots as the run advances.
type ProgressFunc func(Progress)

// Options configures one enrichment run.
type Options struct {
	// Filter narrows which unenriched transactions are loaded.
	Filter storage.TransactionFilter

	// BatchSize caps transactions per provider call; 0 uses the
	// provider's own maximum.
	BatchSize int

	// MaxRetries bounds attempts per provider call; 0 selects the
	// default.
	MaxRetries uint

	// ForceRefresh re-enriches transactions that already have a result,
	// bypassing cache reads so each gets a fresh classification. Cached
	// entries are overwritten with the new result.
	ForceRefresh bool

	// DisableCache skips cache reads and writes entirely.
	DisableCache bool

	OnProgress ProgressFunc
}

// Orchestrator drives enrichment runs against a repository and a
// classification provider.
type Orchestrator struct {
	repo     storage.Repository
	provider providers.ClassificationProvider
	names    *merchant.Normalizer
	logger   *slog.Logger

	// lastCall supports provider rate limiting between batches.
	lastCall time.Time
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

// NewOrchestrator creates an enrichment orchestrator.
func NewOrchestrator(repo storage.Repository, provider providers.ClassificationProvider, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		repo:     repo,
		provider: provider,
		names:    merchant.NewNormalizer(),
		logger:   logger,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Run enriches every unenriched transaction the filter selects. Rules and
// cache are consulted before any provider call; failures are isolated per
// transaction and always leave either a failure row and retry-queue entry
// or a persisted result.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Stats, error) {
	runID, err := o.repo.StartRun(storage.RunKindEnrich)
	if err != nil {
		return nil, err
	}
	stats := &Stats{RunID: runID}

	ruleSet, err := o.loadRuleSet()
	if err != nil {
		return nil, err
	}

	txs, err := o.loadTransactions(opts)
	if err != nil {
		return nil, err
	}
	stats.Total = len(txs)

	o.logger.Info("starting enrichment run",
		"run_id", runID,
		"transactions", len(txs),
		"provider", o.provider.Name(),
		"model", o.provider.Model())

	pending := o.resolveLocally(runID, txs, ruleSet, opts, stats)

	o.report(opts, stats)

	for _, batch := range o.partition(pending, opts.BatchSize) {
		// Cancellation is honored between batches; an in-flight call is
		// allowed to finish so its results are not wasted.
		if ctx.Err() != nil {
			break
		}
		o.enrichBatch(ctx, runID, batch, opts, stats)
		o.report(opts, stats)
	}

	if err := o.repo.CompleteRun(runID, stats.Total, stats.Successful, stats.Failed); err != nil {
		o.logger.Warn("failed to record run completion", "run_id", runID, "error", err)
	}

	o.logger.Info("enrichment run complete",
		"run_id", runID,
		"total", stats.Total,
		"successful", stats.Successful,
		"failed", stats.Failed,
		"rule_hits", stats.RuleHits,
		"cache_hits", stats.CacheHits,
		"api_calls", stats.APICalls,
		"tokens", stats.TokensUsed,
		"cost", stats.Cost,
		"retry_queue", len(stats.RetryQueue))

	return stats, ctx.Err()
}

// loadTransactions selects the run's input: normally only transactions
// without an enrichment row, or everything the filter matches when a
// refresh is forced.
func (o *Orchestrator) loadTransactions(opts Options) ([]ledger.BankTransaction, error) {
	if opts.ForceRefresh {
		return o.repo.GetTransactions(opts.Filter)
	}
	return o.repo.GetUnenrichedTransactions(opts.Filter)
}

// loadRuleSet snapshots the active rules for this run.
func (o *Orchestrator) loadRuleSet() (*rules.RuleSet, error) {
	categoryRules, err := o.repo.GetActiveRules()
	if err != nil {
		return nil, err
	}
	normalizations, err := o.repo.GetActiveNormalizations()
	if err != nil {
		return nil, err
	}
	essential, err := o.repo.GetEssentialCategories()
	if err != nil {
		return nil, err
	}
	if len(essential) == 0 {
		essential = nil // select the built-in default
	}
	return rules.NewRuleSet(categoryRules, normalizations, essential, o.logger), nil
}

// resolveLocally settles what rules and cache can and returns the items
// that still need the classifier, each carrying any merchant hint the
// rules produced.
func (o *Orchestrator) resolveLocally(runID int64, txs []ledger.BankTransaction, ruleSet *rules.RuleSet, opts Options, stats *Stats) []providers.BatchItem {
	var pending []providers.BatchItem

	for _, tx := range txs {
		outcome := ruleSet.Apply(tx)
		if outcome.Resolved() {
			if o.persistResult(runID, tx.ID, *outcome.Result, stats) {
				stats.RuleHits++
			}
			continue
		}

		if !opts.DisableCache && !opts.ForceRefresh {
			key := ledger.CacheKey(tx.Description, tx.Direction)
			cached, err := o.repo.CacheGet(key)
			if err != nil {
				o.logger.Warn("cache lookup failed, falling through to provider",
					"transaction_id", tx.ID, "error", err)
			}
			if cached != nil {
				result := *cached
				result.Source = ledger.EnrichmentSourceCache
				if o.persistResult(runID, tx.ID, result, stats) {
					stats.CacheHits++
				}
				continue
			}
		}

		hint := outcome.Hint
		if hint == nil {
			// No rule fired, but a cleaned feed-provided merchant name
			// still narrows the classifier's search.
			if clean := o.names.Clean(tx.MerchantName); clean != "" {
				hint = &rules.MerchantHint{NormalizedName: clean}
			}
		}
		pending = append(pending, providers.BatchItem{Transaction: tx, Hint: hint})
	}

	return pending
}

// enrichBatch performs one provider call with retries and settles every
// transaction in the batch: persisted result, or retry queue plus failure
// row.
func (o *Orchestrator) enrichBatch(ctx context.Context, runID int64, batch directedBatch, opts Options, stats *Stats) {
	if err := o.awaitRateLimit(ctx); err != nil {
		o.queueBatch(runID, batch, err, stats)
		return
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	var (
		results map[string]ledger.EnrichmentResult
		usage   providers.UsageStats
	)
	err := retry.Do(
		func() error {
			var callErr error
			results, usage, callErr = o.provider.EnrichTransactions(ctx, batch.items, batch.direction)
			stats.APICalls++
			return callErr
		},
		retry.Attempts(maxRetries),
		retry.LastErrorOnly(true),
		retry.Delay(time.Second),
		retry.MaxJitter(500*time.Millisecond),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			// A provider-advertised Retry-After always wins over the
			// computed backoff.
			if ra := providers.RetryAfter(err); ra > 0 {
				return ra
			}
			return retry.BackOffDelay(n, err, config)
		}),
		retry.RetryIf(func(err error) bool {
			if ctx.Err() != nil {
				return false
			}
			return providers.IsRetryable(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			o.logger.Warn("provider call failed, retrying",
				"attempt", n+1, "batch_size", len(batch.items), "error", err)
		}),
	)
	o.lastCall = o.now()

	stats.TokensUsed += usage.TotalTokens
	stats.Cost += usage.Cost

	if err != nil {
		o.queueBatch(runID, batch, err, stats)
		return
	}

	for _, item := range batch.items {
		tx := item.Transaction
		result, ok := results[tx.ID]
		if !ok {
			o.fail(runID, tx.ID, "provider", providers.KindValidation.String(),
				"transaction missing from provider response", stats)
			continue
		}
		if !o.persistResult(runID, tx.ID, result, stats) {
			continue
		}
		if opts.DisableCache {
			continue
		}
		key := ledger.CacheKey(tx.Description, tx.Direction)
		if err := o.repo.CachePut(key, result); err != nil {
			// A failed cache write costs a future API call, nothing more.
			o.logger.Warn("failed to cache enrichment", "transaction_id", tx.ID, "error", err)
		}
	}
}

// persistResult writes one enrichment, reporting success. A write failure
// is isolated to its transaction.
func (o *Orchestrator) persistResult(runID int64, transactionID string, result ledger.EnrichmentResult, stats *Stats) bool {
	if err := o.repo.PersistEnrichment(transactionID, result); err != nil {
		o.fail(runID, transactionID, "persist", "unknown", err.Error(), stats)
		return false
	}
	stats.Successful++
	return true
}

// queueBatch routes an entire failed batch to the retry queue.
func (o *Orchestrator) queueBatch(runID int64, batch directedBatch, err error, stats *Stats) {
	kind := "unknown"
	var pe *providers.Error
	if errors.As(err, &pe) {
		kind = pe.Kind.String()
	}
	for _, item := range batch.items {
		o.fail(runID, item.Transaction.ID, "provider", kind, err.Error(), stats)
	}
}

// fail records one unresolved transaction: a failure row plus a retry
// queue entry, so nothing is silently dropped.
func (o *Orchestrator) fail(runID int64, transactionID, stage, kind, message string, stats *Stats) {
	stats.Failed++
	stats.RetryQueue = append(stats.RetryQueue, transactionID)

	failure := &storage.EnrichmentFailure{
		ID:            uuid.NewString(),
		RunID:         runID,
		TransactionID: transactionID,
		Stage:         stage,
		Provider:      o.provider.Name(),
		ErrorKind:     kind,
		Message:       message,
		OccurredAt:    o.now().UTC(),
	}
	if err := o.repo.LogFailure(failure); err != nil {
		o.logger.Error("failed to record enrichment failure",
			"transaction_id", transactionID, "error", err)
	}
}

// awaitRateLimit spaces provider calls by the provider's minimum interval.
func (o *Orchestrator) awaitRateLimit(ctx context.Context) error {
	interval := o.provider.MinRequestInterval()
	if interval <= 0 || o.lastCall.IsZero() {
		return nil
	}
	elapsed := o.now().Sub(o.lastCall)
	if elapsed >= interval {
		return nil
	}
	return o.sleep(ctx, interval-elapsed)
}

func (o *Orchestrator) report(opts Options, stats *Stats) {
	if opts.OnProgress == nil {
		return
	}
	opts.OnProgress(Progress{
		Processed: stats.Successful + stats.Failed,
		Total:     stats.Total,
		Enriched:  stats.Successful,
		Failed:    stats.Failed,
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
