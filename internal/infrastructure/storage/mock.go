package storage

import (
	"sort"
	"strings"
	"sync"

	"github.com/kaihaan/spendmatch/internal/domain/ledger"
	"github.com/kaihaan/spendmatch/internal/domain/rules"
)

// MockRepository is an in-memory implementation of Repository for testing.
// It stores all data in maps and slices, making tests fast and isolated.
// All methods are safe for concurrent use so the worker-pool runners can be
// tested against it directly.
type MockRepository struct {
	mu sync.Mutex

	transactions   map[string]ledger.BankTransaction
	sourceRecords  map[ledger.SourceType][]ledger.SourceRecord
	matches        map[string][]ledger.MatchCandidate
	enrichments    map[string]ledger.EnrichmentResult
	cache          map[string]ledger.EnrichmentResult
	cacheHits      map[string]int
	categoryRules  []rules.CategoryRule
	normalizations []rules.MerchantNormalization
	essential      []string
	failures       []EnrichmentFailure
	runs           map[int64]*PipelineRun
	nextRunID      int64

	// Hooks for test assertions
	PersistMatchSetCalls   []string // transaction IDs in call order
	PersistEnrichmentCalls []string
	CacheGetCalls          int
	CachePutCalls          int
	LogFailureCalled       bool
	LastFailure            *EnrichmentFailure

	// Error injection for testing error paths
	PersistMatchSetErr   error
	PersistEnrichmentErr error
	// PersistEnrichmentErrFor fails persistence for specific transaction
	// IDs only, for batch-isolation tests.
	PersistEnrichmentErrFor map[string]error
	CacheGetErr             error
	CachePutErr             error
	LogFailureErr           error
	GetUnmatchedErr         error
	GetSourceRecordsErr     error
}

// NewMockRepository creates a new mock repository for testing
func NewMockRepository() *MockRepository {
	return &MockRepository{
		transactions:  make(map[string]ledger.BankTransaction),
		sourceRecords: make(map[ledger.SourceType][]ledger.SourceRecord),
		matches:       make(map[string][]ledger.MatchCandidate),
		enrichments:   make(map[string]ledger.EnrichmentResult),
		cache:         make(map[string]ledger.EnrichmentResult),
		cacheHits:     make(map[string]int),
		runs:          make(map[int64]*PipelineRun),
		nextRunID:     1,
	}
}

// Compile-time check that MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)

// Close does nothing for mock
func (m *MockRepository) Close() error {
	return nil
}

// SaveTransactions stores transactions in the in-memory map
func (m *MockRepository) SaveTransactions(txs []ledger.BankTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range txs {
		m.transactions[tx.ID] = tx
	}
	return nil
}

// GetTransaction retrieves one transaction, nil if absent
func (m *MockRepository) GetTransaction(transactionID string) (*ledger.BankTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[transactionID]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

// GetUnmatchedTransactions returns transactions with no primary match
func (m *MockRepository) GetUnmatchedTransactions(filter TransactionFilter) ([]ledger.BankTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetUnmatchedErr != nil {
		return nil, m.GetUnmatchedErr
	}

	var out []ledger.BankTransaction
	for _, tx := range m.transactions {
		if hasPrimary(m.matches[tx.ID]) {
			continue
		}
		if !matchesFilter(tx, filter) {
			continue
		}
		out = append(out, tx)
	}
	sortTransactions(out)
	return capLimit(out, filter.Limit), nil
}

// GetUnenrichedTransactions returns transactions with no enrichment
func (m *MockRepository) GetUnenrichedTransactions(filter TransactionFilter) ([]ledger.BankTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ledger.BankTransaction
	for _, tx := range m.transactions {
		if _, enriched := m.enrichments[tx.ID]; enriched {
			continue
		}
		if !matchesFilter(tx, filter) {
			continue
		}
		out = append(out, tx)
	}
	sortTransactions(out)
	return capLimit(out, filter.Limit), nil
}

// GetTransactions returns transactions regardless of match or enrichment
// state.
func (m *MockRepository) GetTransactions(filter TransactionFilter) ([]ledger.BankTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ledger.BankTransaction
	for _, tx := range m.transactions {
		if !matchesFilter(tx, filter) {
			continue
		}
		out = append(out, tx)
	}
	sortTransactions(out)
	return capLimit(out, filter.Limit), nil
}

// SaveSourceRecords stores source records
func (m *MockRepository) SaveSourceRecords(records []ledger.SourceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.sourceRecords[r.SourceType] = append(m.sourceRecords[r.SourceType], r)
	}
	return nil
}

// GetSourceRecords returns records for one source system
func (m *MockRepository) GetSourceRecords(sourceType ledger.SourceType) ([]ledger.SourceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetSourceRecordsErr != nil {
		return nil, m.GetSourceRecordsErr
	}
	records := m.sourceRecords[sourceType]
	out := make([]ledger.SourceRecord, len(records))
	copy(out, records)
	return out, nil
}

// PersistMatchSet replaces the candidate set for a transaction
func (m *MockRepository) PersistMatchSet(transactionID string, candidates []ledger.MatchCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PersistMatchSetCalls = append(m.PersistMatchSetCalls, transactionID)
	if m.PersistMatchSetErr != nil {
		return m.PersistMatchSetErr
	}
	copied := make([]ledger.MatchCandidate, len(candidates))
	copy(copied, candidates)
	m.matches[transactionID] = copied
	return nil
}

// GetMatches returns stored candidates for a transaction
func (m *MockRepository) GetMatches(transactionID string) ([]ledger.MatchCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	candidates := m.matches[transactionID]
	out := make([]ledger.MatchCandidate, len(candidates))
	copy(out, candidates)
	return out, nil
}

// PersistEnrichment stores the enrichment for a transaction
func (m *MockRepository) PersistEnrichment(transactionID string, result ledger.EnrichmentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PersistEnrichmentCalls = append(m.PersistEnrichmentCalls, transactionID)
	if m.PersistEnrichmentErr != nil {
		return m.PersistEnrichmentErr
	}
	if err, ok := m.PersistEnrichmentErrFor[transactionID]; ok {
		return err
	}
	m.enrichments[transactionID] = result
	return nil
}

// GetEnrichment retrieves the enrichment for a transaction
func (m *MockRepository) GetEnrichment(transactionID string) (*ledger.EnrichmentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result, ok := m.enrichments[transactionID]
	if !ok {
		return nil, nil
	}
	return &result, nil
}

// HasEnrichment reports whether a transaction has an enrichment
func (m *MockRepository) HasEnrichment(transactionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.enrichments[transactionID]
	return ok, nil
}

// CacheGet returns the cached result for a key, nil on miss
func (m *MockRepository) CacheGet(key string) (*ledger.EnrichmentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CacheGetCalls++
	if m.CacheGetErr != nil {
		return nil, m.CacheGetErr
	}
	result, ok := m.cache[key]
	if !ok {
		return nil, nil
	}
	m.cacheHits[key]++
	return &result, nil
}

// CachePut stores a result under a key
func (m *MockRepository) CachePut(key string, result ledger.EnrichmentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CachePutCalls++
	if m.CachePutErr != nil {
		return m.CachePutErr
	}
	m.cache[key] = result
	return nil
}

// CacheStats returns aggregate cache counters
func (m *MockRepository) CacheStats() (*CacheStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &CacheStats{Entries: len(m.cache)}
	for _, hits := range m.cacheHits {
		stats.TotalHits += hits
	}
	return stats, nil
}

// GetActiveRules returns the configured category rules
func (m *MockRepository) GetActiveRules() ([]rules.CategoryRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]rules.CategoryRule, len(m.categoryRules))
	copy(out, m.categoryRules)
	return out, nil
}

// GetActiveNormalizations returns the configured normalizations
func (m *MockRepository) GetActiveNormalizations() ([]rules.MerchantNormalization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]rules.MerchantNormalization, len(m.normalizations))
	copy(out, m.normalizations)
	return out, nil
}

// GetEssentialCategories returns the configured essential set
func (m *MockRepository) GetEssentialCategories() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.essential))
	copy(out, m.essential)
	return out, nil
}

// LogFailure records a classification failure
func (m *MockRepository) LogFailure(failure *EnrichmentFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LogFailureCalled = true
	m.LastFailure = failure
	if m.LogFailureErr != nil {
		return m.LogFailureErr
	}
	m.failures = append(m.failures, *failure)
	return nil
}

// ListFailures returns recorded failures, newest first
func (m *MockRepository) ListFailures(limit int) ([]EnrichmentFailure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit == 0 || limit > len(m.failures) {
		limit = len(m.failures)
	}
	out := make([]EnrichmentFailure, 0, limit)
	for i := len(m.failures) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.failures[i])
	}
	return out, nil
}

// StartRun creates a new pipeline run and returns its ID
func (m *MockRepository) StartRun(kind string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextRunID
	m.nextRunID++
	m.runs[id] = &PipelineRun{ID: id, Kind: kind, Status: "running"}
	return id, nil
}

// CompleteRun records final counters for a run
func (m *MockRepository) CompleteRun(runID int64, processed, succeeded, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil
	}
	run.Processed = processed
	run.Succeeded = succeeded
	run.Failed = failed
	run.Status = "completed"
	if failed > 0 {
		run.Status = "completed_with_errors"
	}
	return nil
}

// GetRun retrieves a run by ID
func (m *MockRepository) GetRun(runID int64) (*PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	copied := *run
	return &copied, nil
}

// ListRuns returns recorded runs
func (m *MockRepository) ListRuns(limit int) ([]PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit == 0 {
		limit = 20
	}
	var runs []PipelineRun
	for _, r := range m.runs {
		runs = append(runs, *r)
		if len(runs) >= limit {
			break
		}
	}
	return runs, nil
}

// Helper methods for test setup

// SetRules installs rule fixtures directly
func (m *MockRepository) SetRules(categoryRules []rules.CategoryRule, normalizations []rules.MerchantNormalization, essential []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categoryRules = categoryRules
	m.normalizations = normalizations
	m.essential = essential
}

// AllMatches returns the full stored match map (for assertions)
func (m *MockRepository) AllMatches() map[string][]ledger.MatchCandidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]ledger.MatchCandidate, len(m.matches))
	for k, v := range m.matches {
		copied := make([]ledger.MatchCandidate, len(v))
		copy(copied, v)
		out[k] = copied
	}
	return out
}

// AllFailures returns every recorded failure in insertion order
func (m *MockRepository) AllFailures() []EnrichmentFailure {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EnrichmentFailure, len(m.failures))
	copy(out, m.failures)
	return out
}

func hasPrimary(candidates []ledger.MatchCandidate) bool {
	for _, c := range candidates {
		if c.IsPrimary {
			return true
		}
	}
	return false
}

func matchesFilter(tx ledger.BankTransaction, filter TransactionFilter) bool {
	if filter.Direction != "" && tx.Direction != filter.Direction {
		return false
	}
	if filter.DescriptionContains != "" && !containsFold(tx.Description, filter.DescriptionContains) {
		return false
	}
	return true
}

// sortTransactions orders by occurrence time then ID, matching the SQL
// store's query order so tests see deterministic batches.
func sortTransactions(txs []ledger.BankTransaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].Timestamp.Equal(txs[j].Timestamp) {
			return txs[i].Timestamp.Before(txs[j].Timestamp)
		}
		return txs[i].ID < txs[j].ID
	})
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func capLimit(txs []ledger.BankTransaction, limit int) []ledger.BankTransaction {
	if limit == 0 {
		limit = 500
	}
	if len(txs) > limit {
		txs = txs[:limit]
	}
	return txs
}
