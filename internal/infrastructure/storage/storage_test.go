package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaihaan/spendmatch/internal/domain/ledger"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTransaction(id string) ledger.BankTransaction {
	return ledger.BankTransaction{
		ID:          id,
		Timestamp:   time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC),
		Description: "CARD PAYMENT TO AMAZON.CO.UK",
		Amount:      -29.99,
		Currency:    "GBP",
		Direction:   ledger.DirectionDebit,
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	tx := sampleTransaction("tx-1")
	require.NoError(t, s.SaveTransactions([]ledger.BankTransaction{tx}))

	got, err := s.GetTransaction("tx-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tx.Description, got.Description)
	assert.Equal(t, tx.Amount, got.Amount)
	assert.Equal(t, ledger.DirectionDebit, got.Direction)
	assert.True(t, tx.Timestamp.Equal(got.Timestamp))

	missing, err := s.GetTransaction("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetUnmatchedTransactions(t *testing.T) {
	s := newTestStorage(t)

	txs := []ledger.BankTransaction{sampleTransaction("tx-1"), sampleTransaction("tx-2")}
	require.NoError(t, s.SaveTransactions(txs))

	unmatched, err := s.GetUnmatchedTransactions(TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, unmatched, 2)

	// Persisting a primary match removes tx-1 from the unmatched set.
	require.NoError(t, s.PersistMatchSet("tx-1", []ledger.MatchCandidate{{
		TransactionID: "tx-1",
		SourceType:    ledger.SourceAmazon,
		SourceID:      "rec-1",
		Confidence:    100,
		MatchMethod:   "amazon_exact",
		IsPrimary:     true,
	}}))

	unmatched, err = s.GetUnmatchedTransactions(TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, unmatched, 1)
	assert.Equal(t, "tx-2", unmatched[0].ID)
}

func TestGetTransactionsIncludesEnriched(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.SaveTransactions([]ledger.BankTransaction{
		sampleTransaction("tx-1"), sampleTransaction("tx-2"),
	}))
	require.NoError(t, s.PersistEnrichment("tx-1", ledger.EnrichmentResult{
		PrimaryCategory: "Shopping",
		Source:          ledger.EnrichmentSourceLLM,
	}))

	unenriched, err := s.GetUnenrichedTransactions(TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, unenriched, 1)
	assert.Equal(t, "tx-2", unenriched[0].ID)

	all, err := s.GetTransactions(TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPersistMatchSetReplacesExisting(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.SaveTransactions([]ledger.BankTransaction{sampleTransaction("tx-1")}))

	first := []ledger.MatchCandidate{
		{TransactionID: "tx-1", SourceType: ledger.SourceAmazon, SourceID: "a", Confidence: 100, MatchMethod: "amazon_exact", IsPrimary: true},
		{TransactionID: "tx-1", SourceType: ledger.SourceAmazon, SourceID: "b", Confidence: 80, MatchMethod: "amazon_exact"},
	}
	require.NoError(t, s.PersistMatchSet("tx-1", first))

	second := []ledger.MatchCandidate{
		{TransactionID: "tx-1", SourceType: ledger.SourceApple, SourceID: "c", Confidence: 90, MatchMethod: "apple_exact", IsPrimary: true},
	}
	require.NoError(t, s.PersistMatchSet("tx-1", second))

	got, err := s.GetMatches("tx-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].SourceID)
	assert.True(t, got[0].IsPrimary)
}

func TestOnePrimaryPerSourceRecordEnforced(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.SaveTransactions([]ledger.BankTransaction{
		sampleTransaction("tx-1"), sampleTransaction("tx-2"),
	}))

	primary := ledger.MatchCandidate{
		SourceType: ledger.SourceAmazon, SourceID: "rec-1",
		Confidence: 100, MatchMethod: "amazon_exact", IsPrimary: true,
	}
	require.NoError(t, s.PersistMatchSet("tx-1", []ledger.MatchCandidate{primary}))

	// A second primary claim on the same source record must fail whole.
	err := s.PersistMatchSet("tx-2", []ledger.MatchCandidate{primary})
	require.Error(t, err)

	got, err := s.GetMatches("tx-2")
	require.NoError(t, err)
	assert.Empty(t, got, "failed match set must not be partially persisted")
}

func TestSourceRecordRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	records := []ledger.SourceRecord{
		{SourceType: ledger.SourceAmazon, SourceID: "r-1", OrderID: "202-123", OccurredAt: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), Amount: 29.99},
		{SourceType: ledger.SourceAmazon, SourceID: "r-2", OrderID: "202-456", Amount: 15.00}, // zero date
		{SourceType: ledger.SourceApple, SourceID: "r-3", OrderID: "M123", OccurredAt: time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC), Amount: 9.99},
	}
	require.NoError(t, s.SaveSourceRecords(records))

	amazon, err := s.GetSourceRecords(ledger.SourceAmazon)
	require.NoError(t, err)
	require.Len(t, amazon, 2)

	var zeroDated *ledger.SourceRecord
	for i := range amazon {
		if amazon[i].SourceID == "r-2" {
			zeroDated = &amazon[i]
		}
	}
	require.NotNil(t, zeroDated)
	assert.True(t, zeroDated.OccurredAt.IsZero())

	apple, err := s.GetSourceRecords(ledger.SourceApple)
	require.NoError(t, err)
	assert.Len(t, apple, 1)
}

func TestEnrichmentRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.SaveTransactions([]ledger.BankTransaction{sampleTransaction("tx-1")}))

	has, err := s.HasEnrichment("tx-1")
	require.NoError(t, err)
	assert.False(t, has)

	result := ledger.EnrichmentResult{
		PrimaryCategory:   "Shopping",
		MerchantCleanName: "Amazon",
		MerchantType:      "marketplace",
		PaymentMethod:     "CARD",
		Confidence:        0.92,
		Source:            ledger.EnrichmentSourceLLM,
		Provider:          "openai",
		Model:             "gpt-4o-mini",
	}
	require.NoError(t, s.PersistEnrichment("tx-1", result))

	got, err := s.GetEnrichment("tx-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, result, *got)

	has, err = s.HasEnrichment("tx-1")
	require.NoError(t, err)
	assert.True(t, has)

	// Re-enrichment overwrites.
	result.PrimaryCategory = "Groceries"
	result.Source = ledger.EnrichmentSourceManual
	require.NoError(t, s.PersistEnrichment("tx-1", result))

	got, err = s.GetEnrichment("tx-1")
	require.NoError(t, err)
	assert.Equal(t, "Groceries", got.PrimaryCategory)
	assert.Equal(t, ledger.EnrichmentSourceManual, got.Source)
}

func TestCacheRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	key := ledger.CacheKey("CARD PAYMENT TO TESCO", ledger.DirectionDebit)

	miss, err := s.CacheGet(key)
	require.NoError(t, err)
	assert.Nil(t, miss)

	result := ledger.EnrichmentResult{
		PrimaryCategory: "Groceries",
		Confidence:      0.9,
		Source:          ledger.EnrichmentSourceLLM,
	}
	require.NoError(t, s.CachePut(key, result))

	hit, err := s.CacheGet(key)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, result, *hit)

	stats, err := s.CacheStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 1, stats.TotalHits)
}

func TestFailureLog(t *testing.T) {
	s := newTestStorage(t)

	failure := &EnrichmentFailure{
		ID:            uuid.NewString(),
		RunID:         7,
		TransactionID: "tx-1",
		Stage:         "provider",
		Provider:      "openai",
		ErrorKind:     "rate_limited",
		Message:       "429 from upstream",
	}
	require.NoError(t, s.LogFailure(failure))

	failures, err := s.ListFailures(10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, failure.ID, failures[0].ID)
	assert.Equal(t, "rate_limited", failures[0].ErrorKind)
	assert.False(t, failures[0].OccurredAt.IsZero())
}

func TestPipelineRunLifecycle(t *testing.T) {
	s := newTestStorage(t)

	id, err := s.StartRun(RunKindEnrich)
	require.NoError(t, err)

	run, err := s.GetRun(id)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "running", run.Status)
	assert.Nil(t, run.CompletedAt)

	require.NoError(t, s.CompleteRun(id, 10, 9, 1))

	run, err = s.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, "completed_with_errors", run.Status)
	assert.Equal(t, 10, run.Processed)
	assert.Equal(t, 9, run.Succeeded)
	assert.Equal(t, 1, run.Failed)
	assert.NotNil(t, run.CompletedAt)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	s1, err := NewStorage(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Reopening runs the migration pass again against an up-to-date DB.
	s2, err := NewStorage(path)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	applied, err := s2.getAppliedMigrations()
	require.NoError(t, err)
	assert.Len(t, applied, len(allMigrations))
}
