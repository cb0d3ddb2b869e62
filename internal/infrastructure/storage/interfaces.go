package storage

import (
	"github.com/kaihaan/spendmatch/internal/domain/ledger"
	"github.com/kaihaan/spendmatch/internal/domain/rules"
)

// Repository defines the complete storage interface.
// This interface allows swapping implementations (SQLite, PostgreSQL, etc.)
// and makes testing with mocks straightforward.
type Repository interface {
	TransactionRepository
	SourceRecordRepository
	MatchRepository
	EnrichmentRepository
	CacheRepository
	RuleRepository
	FailureRepository
	RunRepository
	Close() error
}

// TransactionRepository handles imported bank transactions.
type TransactionRepository interface {
	// SaveTransactions upserts a batch of imported transactions.
	SaveTransactions(txs []ledger.BankTransaction) error

	// GetTransaction retrieves one transaction, nil if absent.
	GetTransaction(transactionID string) (*ledger.BankTransaction, error)

	// GetUnmatchedTransactions returns transactions with no persisted
	// primary match, filtered and capped by the given filter.
	GetUnmatchedTransactions(filter TransactionFilter) ([]ledger.BankTransaction, error)

	// GetUnenrichedTransactions returns transactions with no enrichment
	// row, filtered and capped by the given filter.
	GetUnenrichedTransactions(filter TransactionFilter) ([]ledger.BankTransaction, error)

	// GetTransactions returns transactions regardless of match or
	// enrichment state. Used by forced re-enrichment.
	GetTransactions(filter TransactionFilter) ([]ledger.BankTransaction, error)
}

// TransactionFilter narrows transaction queries.
type TransactionFilter struct {
	Direction           ledger.Direction // empty = both
	DescriptionContains string           // case-insensitive substring, empty = all
	Limit               int              // 0 = default 500
}

// SourceRecordRepository handles purchase records imported from non-bank
// collaborators.
type SourceRecordRepository interface {
	// SaveSourceRecords upserts a batch of source records.
	SaveSourceRecords(records []ledger.SourceRecord) error

	// GetSourceRecords returns all records for one source system.
	GetSourceRecords(sourceType ledger.SourceType) ([]ledger.SourceRecord, error)
}

// MatchRepository handles match candidates linking transactions to source
// records.
type MatchRepository interface {
	// PersistMatchSet atomically replaces the stored candidate set for a
	// transaction. Either every candidate lands or none do.
	PersistMatchSet(transactionID string, candidates []ledger.MatchCandidate) error

	// GetMatches returns the stored candidates for a transaction,
	// primary first then descending confidence.
	GetMatches(transactionID string) ([]ledger.MatchCandidate, error)
}

// EnrichmentRepository handles classification results attached to
// transactions.
type EnrichmentRepository interface {
	// PersistEnrichment upserts the enrichment for a transaction.
	// Re-enrichment overwrites the previous row.
	PersistEnrichment(transactionID string, result ledger.EnrichmentResult) error

	// GetEnrichment retrieves the enrichment for a transaction, nil if
	// absent.
	GetEnrichment(transactionID string) (*ledger.EnrichmentResult, error)

	// HasEnrichment reports whether a transaction already has an
	// enrichment row.
	HasEnrichment(transactionID string) (bool, error)
}

// CacheRepository is the content-addressed enrichment cache. Keys come
// from ledger.CacheKey; entries never expire.
type CacheRepository interface {
	// CacheGet returns the cached result for a key, nil on miss. A hit
	// bumps the entry's use counter.
	CacheGet(key string) (*ledger.EnrichmentResult, error)

	// CachePut stores a result under a key, overwriting any previous
	// entry.
	CachePut(key string, result ledger.EnrichmentResult) error

	// CacheStats returns aggregate cache counters.
	CacheStats() (*CacheStats, error)
}

// RuleRepository loads the operator-maintained rule tables consumed by
// rules.NewRuleSet.
type RuleRepository interface {
	GetActiveRules() ([]rules.CategoryRule, error)
	GetActiveNormalizations() ([]rules.MerchantNormalization, error)

	// GetEssentialCategories returns the configured essential set; an
	// empty slice selects the built-in default.
	GetEssentialCategories() ([]string, error)
}

// FailureRepository records classification failures for later
// reprocessing. Nothing is silently dropped; a transaction that cannot be
// enriched always leaves a failure row.
type FailureRepository interface {
	LogFailure(failure *EnrichmentFailure) error
	ListFailures(limit int) ([]EnrichmentFailure, error)
}

// RunRepository tracks match and enrichment pipeline runs.
type RunRepository interface {
	// StartRun records the start of a pipeline run and returns the run ID.
	StartRun(kind string) (int64, error)

	// CompleteRun records final counters for a run.
	CompleteRun(runID int64, processed, succeeded, failed int) error

	// GetRun retrieves a run by ID, nil if absent.
	GetRun(runID int64) (*PipelineRun, error)

	// ListRuns returns recent runs, newest first.
	ListRuns(limit int) ([]PipelineRun, error)
}
