package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kaihaan/spendmatch/internal/domain/ledger"
	"github.com/kaihaan/spendmatch/internal/domain/rules"
)

// Storage provides SQLite database access for the reconciliation core.
// It implements the Repository interface.
type Storage struct {
	db *sql.DB
}

// Compile-time check that Storage implements Repository
var _ Repository = (*Storage)(nil)

// NewStorage creates a new storage instance with SQLite database
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign key constraints (SQLite-specific)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Storage{db: db}

	// Run all pending migrations
	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// ================================================================
// TRANSACTIONS
// ================================================================

// SaveTransactions upserts a batch of imported bank transactions.
func (s *Storage) SaveTransactions(txs []ledger.BankTransaction) error {
	if len(txs) == 0 {
		return nil
	}

	dbTx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = dbTx.Rollback() }()

	stmt, err := dbTx.Prepare(`
		INSERT OR REPLACE INTO bank_transactions
		(id, occurred_at, description, amount, currency, merchant_name, direction)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, tx := range txs {
		if _, err := stmt.Exec(tx.ID, tx.Timestamp.UTC(), tx.Description,
			tx.Amount, tx.Currency, tx.MerchantName, string(tx.Direction)); err != nil {
			return fmt.Errorf("saving transaction %s: %w", tx.ID, err)
		}
	}

	return dbTx.Commit()
}

// GetTransaction retrieves one transaction by ID, nil if absent.
func (s *Storage) GetTransaction(transactionID string) (*ledger.BankTransaction, error) {
	query := `
	SELECT id, occurred_at, description, amount, currency, merchant_name, direction
	FROM bank_transactions WHERE id = ?
	`

	tx := &ledger.BankTransaction{}
	var direction string
	err := s.db.QueryRow(query, transactionID).Scan(
		&tx.ID, &tx.Timestamp, &tx.Description, &tx.Amount,
		&tx.Currency, &tx.MerchantName, &direction,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tx.Direction = ledger.Direction(direction)
	return tx, nil
}

// GetUnmatchedTransactions returns transactions without a primary match.
func (s *Storage) GetUnmatchedTransactions(filter TransactionFilter) ([]ledger.BankTransaction, error) {
	query := `
	SELECT t.id, t.occurred_at, t.description, t.amount, t.currency, t.merchant_name, t.direction
	FROM bank_transactions t
	WHERE NOT EXISTS (
		SELECT 1 FROM match_candidates m
		WHERE m.transaction_id = t.id AND m.is_primary = 1
	)
	`
	return s.queryTransactions(query, filter)
}

// GetTransactions returns transactions regardless of match or enrichment
// state. Used by forced re-enrichment.
func (s *Storage) GetTransactions(filter TransactionFilter) ([]ledger.BankTransaction, error) {
	query := `
	SELECT t.id, t.occurred_at, t.description, t.amount, t.currency, t.merchant_name, t.direction
	FROM bank_transactions t
	WHERE 1 = 1
	`
	return s.queryTransactions(query, filter)
}

// GetUnenrichedTransactions returns transactions without an enrichment row.
func (s *Storage) GetUnenrichedTransactions(filter TransactionFilter) ([]ledger.BankTransaction, error) {
	query := `
	SELECT t.id, t.occurred_at, t.description, t.amount, t.currency, t.merchant_name, t.direction
	FROM bank_transactions t
	WHERE NOT EXISTS (
		SELECT 1 FROM enrichments e WHERE e.transaction_id = t.id
	)
	`
	return s.queryTransactions(query, filter)
}

func (s *Storage) queryTransactions(base string, filter TransactionFilter) ([]ledger.BankTransaction, error) {
	query := base
	var args []any

	if filter.Direction != "" {
		query += ` AND t.direction = ?`
		args = append(args, string(filter.Direction))
	}
	if filter.DescriptionContains != "" {
		query += ` AND t.description LIKE ? COLLATE NOCASE`
		args = append(args, "%"+filter.DescriptionContains+"%")
	}

	limit := filter.Limit
	if limit == 0 {
		limit = 500
	}
	query += ` ORDER BY t.occurred_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var txs []ledger.BankTransaction
	for rows.Next() {
		var tx ledger.BankTransaction
		var direction string
		if err := rows.Scan(&tx.ID, &tx.Timestamp, &tx.Description, &tx.Amount,
			&tx.Currency, &tx.MerchantName, &direction); err != nil {
			return nil, err
		}
		tx.Direction = ledger.Direction(direction)
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

// ================================================================
// SOURCE RECORDS
// ================================================================

// SaveSourceRecords upserts a batch of purchase records.
func (s *Storage) SaveSourceRecords(records []ledger.SourceRecord) error {
	if len(records) == 0 {
		return nil
	}

	dbTx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = dbTx.Rollback() }()

	stmt, err := dbTx.Prepare(`
		INSERT OR REPLACE INTO source_records
		(source_type, source_id, order_id, occurred_at, amount, description)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		var occurred any
		if !r.OccurredAt.IsZero() {
			occurred = r.OccurredAt.UTC()
		}
		if _, err := stmt.Exec(string(r.SourceType), r.SourceID, r.OrderID,
			occurred, r.Amount, r.Description); err != nil {
			return fmt.Errorf("saving source record %s: %w", r.SourceKey(), err)
		}
	}

	return dbTx.Commit()
}

// GetSourceRecords returns all records for one source system.
func (s *Storage) GetSourceRecords(sourceType ledger.SourceType) ([]ledger.SourceRecord, error) {
	query := `
	SELECT source_type, source_id, order_id, occurred_at, amount, description
	FROM source_records
	WHERE source_type = ?
	ORDER BY occurred_at ASC
	`

	rows, err := s.db.Query(query, string(sourceType))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []ledger.SourceRecord
	for rows.Next() {
		var r ledger.SourceRecord
		var st string
		var occurred sql.NullTime
		if err := rows.Scan(&st, &r.SourceID, &r.OrderID, &occurred,
			&r.Amount, &r.Description); err != nil {
			return nil, err
		}
		r.SourceType = ledger.SourceType(st)
		if occurred.Valid {
			r.OccurredAt = occurred.Time
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// ================================================================
// MATCH CANDIDATES
// ================================================================

// PersistMatchSet atomically replaces the candidate set for a transaction.
func (s *Storage) PersistMatchSet(transactionID string, candidates []ledger.MatchCandidate) error {
	dbTx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = dbTx.Rollback() }()

	if _, err := dbTx.Exec(`DELETE FROM match_candidates WHERE transaction_id = ?`, transactionID); err != nil {
		return fmt.Errorf("clearing matches for %s: %w", transactionID, err)
	}

	stmt, err := dbTx.Prepare(`
		INSERT INTO match_candidates
		(transaction_id, source_type, source_id, order_id, confidence, date_offset_days, match_method, is_primary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range candidates {
		if _, err := stmt.Exec(transactionID, string(c.SourceType), c.SourceID,
			c.OrderID, c.Confidence, c.DateOffsetDays, c.MatchMethod, c.IsPrimary); err != nil {
			return fmt.Errorf("persisting match %s -> %s/%s: %w",
				transactionID, c.SourceType, c.SourceID, err)
		}
	}

	return dbTx.Commit()
}

// GetMatches returns stored candidates for a transaction, primary first.
func (s *Storage) GetMatches(transactionID string) ([]ledger.MatchCandidate, error) {
	query := `
	SELECT transaction_id, source_type, source_id, order_id, confidence, date_offset_days, match_method, is_primary
	FROM match_candidates
	WHERE transaction_id = ?
	ORDER BY is_primary DESC, confidence DESC
	`

	rows, err := s.db.Query(query, transactionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var candidates []ledger.MatchCandidate
	for rows.Next() {
		var c ledger.MatchCandidate
		var st string
		if err := rows.Scan(&c.TransactionID, &st, &c.SourceID, &c.OrderID,
			&c.Confidence, &c.DateOffsetDays, &c.MatchMethod, &c.IsPrimary); err != nil {
			return nil, err
		}
		c.SourceType = ledger.SourceType(st)
		candidates = append(candidates, c)
	}

	return candidates, rows.Err()
}

// ================================================================
// ENRICHMENTS
// ================================================================

// PersistEnrichment upserts the enrichment row for a transaction.
func (s *Storage) PersistEnrichment(transactionID string, result ledger.EnrichmentResult) error {
	query := `
	INSERT OR REPLACE INTO enrichments
	(transaction_id, primary_category, subcategory, merchant_clean_name, merchant_type,
	 essential, payment_method, confidence, source, provider, model, enriched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`

	_, err := s.db.Exec(query,
		transactionID,
		result.PrimaryCategory,
		result.Subcategory,
		result.MerchantCleanName,
		result.MerchantType,
		result.Essential,
		result.PaymentMethod,
		result.Confidence,
		string(result.Source),
		result.Provider,
		result.Model,
	)

	return err
}

// GetEnrichment retrieves the enrichment for a transaction, nil if absent.
func (s *Storage) GetEnrichment(transactionID string) (*ledger.EnrichmentResult, error) {
	query := `
	SELECT primary_category, subcategory, merchant_clean_name, merchant_type,
	       essential, payment_method, confidence, source, provider, model
	FROM enrichments WHERE transaction_id = ?
	`

	result := &ledger.EnrichmentResult{}
	var source string
	err := s.db.QueryRow(query, transactionID).Scan(
		&result.PrimaryCategory,
		&result.Subcategory,
		&result.MerchantCleanName,
		&result.MerchantType,
		&result.Essential,
		&result.PaymentMethod,
		&result.Confidence,
		&source,
		&result.Provider,
		&result.Model,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	result.Source = ledger.EnrichmentSource(source)
	return result, nil
}

// HasEnrichment reports whether a transaction has an enrichment row.
func (s *Storage) HasEnrichment(transactionID string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM enrichments WHERE transaction_id = ?`, transactionID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ================================================================
// ENRICHMENT CACHE
// ================================================================

// CacheGet returns the cached result for a key, nil on miss.
func (s *Storage) CacheGet(key string) (*ledger.EnrichmentResult, error) {
	var resultJSON string
	err := s.db.QueryRow(`SELECT result_json FROM enrichment_cache WHERE cache_key = ?`, key).Scan(&resultJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result ledger.EnrichmentResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, fmt.Errorf("corrupt cache entry %q: %w", key, err)
	}

	// Hit bookkeeping failures never mask a usable result.
	_, _ = s.db.Exec(`
		UPDATE enrichment_cache
		SET hit_count = hit_count + 1, last_used_at = CURRENT_TIMESTAMP
		WHERE cache_key = ?
	`, key)

	return &result, nil
}

// CachePut stores a result under a key, overwriting any previous entry.
func (s *Storage) CachePut(key string, result ledger.EnrichmentResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO enrichment_cache (cache_key, result_json)
		VALUES (?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET result_json = excluded.result_json
	`, key, string(resultJSON))
	return err
}

// CacheStats returns aggregate cache counters.
func (s *Storage) CacheStats() (*CacheStats, error) {
	stats := &CacheStats{}
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(hit_count), 0) FROM enrichment_cache
	`).Scan(&stats.Entries, &stats.TotalHits)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// ================================================================
// RULES
// ================================================================

// GetActiveRules loads active category rules ordered by priority.
func (s *Storage) GetActiveRules() ([]rules.CategoryRule, error) {
	query := `
	SELECT id, pattern, pattern_type, category, subcategory, merchant_name, priority, active, use_count
	FROM category_rules
	WHERE active = 1
	ORDER BY priority DESC, id ASC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []rules.CategoryRule
	for rows.Next() {
		var r rules.CategoryRule
		var pt string
		if err := rows.Scan(&r.ID, &r.Pattern, &pt, &r.Category, &r.Subcategory,
			&r.MerchantName, &r.Priority, &r.Active, &r.UseCount); err != nil {
			return nil, err
		}
		r.PatternType = rules.PatternType(pt)
		out = append(out, r)
	}

	return out, rows.Err()
}

// GetActiveNormalizations loads active merchant normalizations ordered by
// priority.
func (s *Storage) GetActiveNormalizations() ([]rules.MerchantNormalization, error) {
	query := `
	SELECT id, pattern, pattern_type, normalized_name, merchant_type, default_category,
	       source, priority, active, use_count
	FROM merchant_normalizations
	WHERE active = 1
	ORDER BY priority DESC, id ASC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []rules.MerchantNormalization
	for rows.Next() {
		var n rules.MerchantNormalization
		var pt string
		if err := rows.Scan(&n.ID, &n.Pattern, &pt, &n.NormalizedName, &n.MerchantType,
			&n.DefaultCategory, &n.Source, &n.Priority, &n.Active, &n.UseCount); err != nil {
			return nil, err
		}
		n.PatternType = rules.PatternType(pt)
		out = append(out, n)
	}

	return out, rows.Err()
}

// GetEssentialCategories returns the configured essential category set.
func (s *Storage) GetEssentialCategories() ([]string, error) {
	rows, err := s.db.Query(`SELECT category FROM essential_categories ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}

	return out, rows.Err()
}

// ================================================================
// FAILURES
// ================================================================

// LogFailure records a classification failure.
func (s *Storage) LogFailure(failure *EnrichmentFailure) error {
	occurredAt := failure.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO enrichment_failures
		(id, run_id, transaction_id, stage, provider, error_kind, message, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		failure.ID,
		failure.RunID,
		failure.TransactionID,
		failure.Stage,
		failure.Provider,
		failure.ErrorKind,
		failure.Message,
		occurredAt,
	)

	return err
}

// ListFailures returns recent failures, newest first.
func (s *Storage) ListFailures(limit int) ([]EnrichmentFailure, error) {
	if limit == 0 {
		limit = 50
	}

	query := `
	SELECT id, run_id, transaction_id, stage, provider, error_kind, message, occurred_at
	FROM enrichment_failures
	ORDER BY occurred_at DESC
	LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var failures []EnrichmentFailure
	for rows.Next() {
		var f EnrichmentFailure
		if err := rows.Scan(&f.ID, &f.RunID, &f.TransactionID, &f.Stage,
			&f.Provider, &f.ErrorKind, &f.Message, &f.OccurredAt); err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}

	return failures, rows.Err()
}

// ================================================================
// PIPELINE RUNS
// ================================================================

// StartRun records the start of a pipeline run.
func (s *Storage) StartRun(kind string) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO pipeline_runs (kind, status) VALUES (?, 'running')
	`, kind)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// CompleteRun records final counters for a run.
func (s *Storage) CompleteRun(runID int64, processed, succeeded, failed int) error {
	query := `
		UPDATE pipeline_runs
		SET completed_at = CURRENT_TIMESTAMP,
		    processed = ?,
		    succeeded = ?,
		    failed = ?,
		    status = CASE WHEN ? > 0 THEN 'completed_with_errors' ELSE 'completed' END
		WHERE id = ?
	`

	_, err := s.db.Exec(query, processed, succeeded, failed, failed, runID)
	return err
}

// GetRun retrieves a run by ID, nil if absent.
func (s *Storage) GetRun(runID int64) (*PipelineRun, error) {
	query := `
	SELECT id, kind, started_at, completed_at, processed, succeeded, failed, status
	FROM pipeline_runs WHERE id = ?
	`

	run := &PipelineRun{}
	var completedAt sql.NullTime
	err := s.db.QueryRow(query, runID).Scan(
		&run.ID, &run.Kind, &run.StartedAt, &completedAt,
		&run.Processed, &run.Succeeded, &run.Failed, &run.Status,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// ListRuns returns recent runs, newest first.
func (s *Storage) ListRuns(limit int) ([]PipelineRun, error) {
	if limit == 0 {
		limit = 20
	}

	query := `
	SELECT id, kind, started_at, completed_at, processed, succeeded, failed, status
	FROM pipeline_runs
	ORDER BY started_at DESC, id DESC
	LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []PipelineRun
	for rows.Next() {
		var run PipelineRun
		var completedAt sql.NullTime
		if err := rows.Scan(&run.ID, &run.Kind, &run.StartedAt, &completedAt,
			&run.Processed, &run.Succeeded, &run.Failed, &run.Status); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			run.CompletedAt = &completedAt.Time
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}
