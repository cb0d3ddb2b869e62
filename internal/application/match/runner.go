// Package match runs the cross-source reconciliation pipeline: it loads
// unmatched bank transactions, scores them against every configured source
// pool, and persists the accepted candidate sets.
package match

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/kaihaan/spendmatch/internal/domain/ledger"
	"github.com/kaihaan/spendmatch/internal/domain/matcher"
	"github.com/kaihaan/spendmatch/internal/infrastructure/storage"
)

const defaultWorkers = 4

// Progress is a point-in-time snapshot reported to the progress callback.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Matched   int `json:"matched"`
	Failed    int `json:"failed"`
}

// ProgressFunc receives progress snapshots as the run advances.
type ProgressFunc func(Progress)

// Stats summarizes one matching run.
type Stats struct {
	RunID      int64 `json:"run_id"`
	Processed  int   `json:"processed"`
	Matched    int   `json:"matched"`   // transactions with at least one candidate
	Unmatched  int   `json:"unmatched"` // transactions with none
	Candidates int   `json:"candidates"`
	Failed     int   `json:"failed"` // persistence failures
}

// Options configures one matching run.
type Options struct {
	// Sources limits matching to specific source types; empty means every
	// configured profile.
	Sources []ledger.SourceType

	// Workers sets worker-pool concurrency; 0 selects the default.
	Workers int

	// Filter narrows which unmatched transactions are loaded.
	Filter storage.TransactionFilter

	OnProgress ProgressFunc
}

// Runner executes matching runs against a repository.
type Runner struct {
	repo   storage.Repository
	logger *slog.Logger
}

// NewRunner creates a match runner.
func NewRunner(repo storage.Repository, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{repo: repo, logger: logger}
}

// sourcePool pairs a matcher with its loaded records.
type sourcePool struct {
	matcher *matcher.Matcher
	records []ledger.SourceRecord
}

// Run matches every unmatched transaction against the requested source
// pools. Scoring is pure and parallel; the claim table serializes the
// one-primary-per-source-record invariant, first claim kept. Persistence
// failures are isolated per transaction.
func (r *Runner) Run(ctx context.Context, opts Options) (*Stats, error) {
	runID, err := r.repo.StartRun(storage.RunKindMatch)
	if err != nil {
		return nil, err
	}
	stats := &Stats{RunID: runID}

	txs, err := r.repo.GetUnmatchedTransactions(opts.Filter)
	if err != nil {
		return nil, err
	}

	pools, err := r.loadPools(opts.Sources)
	if err != nil {
		return nil, err
	}

	r.logger.Info("starting match run",
		"run_id", runID, "transactions", len(txs), "sources", len(pools))

	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		claims = make(map[string]string) // source key -> claiming transaction ID
		jobs   = make(chan ledger.BankTransaction)
	)

	report := func() {
		if opts.OnProgress == nil {
			return
		}
		opts.OnProgress(Progress{
			Processed: stats.Processed,
			Total:     len(txs),
			Matched:   stats.Matched,
			Failed:    stats.Failed,
		})
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tx := range jobs {
				candidates := r.matchOne(tx, pools)

				mu.Lock()
				r.markPrimary(candidates, claims)
				err := r.repo.PersistMatchSet(tx.ID, candidates)
				if err != nil {
					// Release claims so another transaction can take the
					// records this one failed to keep.
					for _, c := range candidates {
						if c.IsPrimary {
							delete(claims, claimKey(c))
						}
					}
				}
				r.account(stats, tx, candidates, err)
				report()
				mu.Unlock()
			}
		}()
	}

feed:
	for _, tx := range txs {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- tx:
		}
	}
	close(jobs)
	wg.Wait()

	if err := r.repo.CompleteRun(runID, stats.Processed, stats.Matched, stats.Failed); err != nil {
		r.logger.Warn("failed to record run completion", "run_id", runID, "error", err)
	}

	r.logger.Info("match run complete",
		"run_id", runID,
		"processed", stats.Processed,
		"matched", stats.Matched,
		"unmatched", stats.Unmatched,
		"candidates", stats.Candidates,
		"failed", stats.Failed)

	return stats, ctx.Err()
}

// loadPools builds matcher+records pairs for the requested sources.
func (r *Runner) loadPools(sources []ledger.SourceType) ([]sourcePool, error) {
	if len(sources) == 0 {
		for st := range matcher.Profiles() {
			sources = append(sources, st)
		}
		sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	}

	var pools []sourcePool
	for _, st := range sources {
		m := matcher.ForSource(st)
		if m == nil {
			r.logger.Warn("no matcher profile for source, skipping", "source", st)
			continue
		}
		records, err := r.repo.GetSourceRecords(st)
		if err != nil {
			return nil, err
		}
		pools = append(pools, sourcePool{matcher: m, records: records})
	}
	return pools, nil
}

// matchOne scores one transaction against every pool and merges the
// per-source rankings into a single ordered candidate list.
func (r *Runner) matchOne(tx ledger.BankTransaction, pools []sourcePool) []ledger.MatchCandidate {
	var merged []ledger.MatchCandidate
	for _, p := range pools {
		merged = append(merged, p.matcher.FindCandidates(tx, p.records)...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Confidence != merged[j].Confidence {
			return merged[i].Confidence > merged[j].Confidence
		}
		return absInt(merged[i].DateOffsetDays) < absInt(merged[j].DateOffsetDays)
	})

	return merged
}

// markPrimary flags the best candidate whose source record is still
// unclaimed. Caller holds the claim lock.
func (r *Runner) markPrimary(candidates []ledger.MatchCandidate, claims map[string]string) {
	for i := range candidates {
		key := claimKey(candidates[i])
		if _, taken := claims[key]; taken {
			continue
		}
		claims[key] = candidates[i].TransactionID
		candidates[i].IsPrimary = true
		return
	}
}

func (r *Runner) account(stats *Stats, tx ledger.BankTransaction, candidates []ledger.MatchCandidate, persistErr error) {
	stats.Processed++
	if persistErr != nil {
		stats.Failed++
		r.logger.Error("failed to persist match set",
			"transaction_id", tx.ID, "candidates", len(candidates), "error", persistErr)
		return
	}
	stats.Candidates += len(candidates)
	if len(candidates) > 0 {
		stats.Matched++
	} else {
		stats.Unmatched++
	}
}

func claimKey(c ledger.MatchCandidate) string {
	return string(c.SourceType) + ":" + c.SourceID
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
