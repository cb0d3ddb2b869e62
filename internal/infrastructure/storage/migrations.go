package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// Migration represents a database schema migration
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

// allMigrations defines all migrations in order
var allMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up:      migration001InitialSchema,
	},
	{
		Version: 2,
		Name:    "add_match_candidates_table",
		Up:      migration002AddMatchCandidatesTable,
	},
	{
		Version: 3,
		Name:    "add_enrichment_tables",
		Up:      migration003AddEnrichmentTables,
	},
	{
		Version: 4,
		Name:    "add_rule_tables",
		Up:      migration004AddRuleTables,
	},
	{
		Version: 5,
		Name:    "add_pipeline_runs_table",
		Up:      migration005AddPipelineRunsTable,
	},
}

// runMigrations executes all pending migrations
func (s *Storage) runMigrations() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue // Already applied
		}

		slog.Info("running migration", "version", migration.Version, "name", migration.Name)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}

		_, err = tx.Exec(`
			INSERT INTO schema_migrations (version, name) VALUES (?, ?)
		`, migration.Version, migration.Name)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// ensureMigrationsTable creates the schema_migrations table
func (s *Storage) ensureMigrationsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	_, err := s.db.Exec(query)
	return err
}

// getAppliedMigrations returns a set of applied migration versions
func (s *Storage) getAppliedMigrations() (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

// ================================================================
// MIGRATION FUNCTIONS
// ================================================================

// migration001InitialSchema creates the imported-data tables: bank
// transactions and purchase records from non-bank sources.
func migration001InitialSchema(db *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bank_transactions (
			id TEXT PRIMARY KEY,
			occurred_at TIMESTAMP NOT NULL,
			description TEXT NOT NULL,
			amount REAL NOT NULL,
			currency TEXT NOT NULL DEFAULT 'GBP',
			merchant_name TEXT NOT NULL DEFAULT '',
			direction TEXT NOT NULL,
			imported_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_bank_transactions_occurred
		 ON bank_transactions(occurred_at)`,

		`CREATE INDEX IF NOT EXISTS idx_bank_transactions_direction
		 ON bank_transactions(direction)`,

		`CREATE TABLE IF NOT EXISTS source_records (
			source_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			order_id TEXT NOT NULL DEFAULT '',
			occurred_at TIMESTAMP,
			amount REAL NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			imported_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (source_type, source_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_source_records_order_id
		 ON source_records(order_id)`,

		`CREATE INDEX IF NOT EXISTS idx_source_records_occurred
		 ON source_records(occurred_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// migration002AddMatchCandidatesTable creates the match_candidates table.
// The partial unique index enforces at most one primary match per source
// record at the database level.
func migration002AddMatchCandidatesTable(db *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS match_candidates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			transaction_id TEXT NOT NULL,
			source_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			order_id TEXT NOT NULL DEFAULT '',
			confidence INTEGER NOT NULL,
			date_offset_days INTEGER NOT NULL,
			match_method TEXT NOT NULL,
			is_primary BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (transaction_id, source_type, source_id),
			FOREIGN KEY (transaction_id) REFERENCES bank_transactions(id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_match_candidates_transaction
		 ON match_candidates(transaction_id)`,

		`CREATE INDEX IF NOT EXISTS idx_match_candidates_source
		 ON match_candidates(source_type, source_id)`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_match_candidates_one_primary_per_record
		 ON match_candidates(source_type, source_id) WHERE is_primary = 1`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// migration003AddEnrichmentTables creates the enrichment result table, the
// content-addressed cache, and the failure log.
func migration003AddEnrichmentTables(db *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS enrichments (
			transaction_id TEXT PRIMARY KEY,
			primary_category TEXT NOT NULL,
			subcategory TEXT NOT NULL DEFAULT '',
			merchant_clean_name TEXT NOT NULL DEFAULT '',
			merchant_type TEXT NOT NULL DEFAULT '',
			essential BOOLEAN NOT NULL DEFAULT 0,
			payment_method TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL,
			source TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			enriched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (transaction_id) REFERENCES bank_transactions(id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_enrichments_category
		 ON enrichments(primary_category)`,

		`CREATE TABLE IF NOT EXISTS enrichment_cache (
			cache_key TEXT PRIMARY KEY,
			result_json TEXT NOT NULL,
			hit_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_used_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS enrichment_failures (
			id TEXT PRIMARY KEY,
			run_id INTEGER,
			transaction_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT '',
			error_kind TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			occurred_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_enrichment_failures_transaction
		 ON enrichment_failures(transaction_id)`,

		`CREATE INDEX IF NOT EXISTS idx_enrichment_failures_occurred
		 ON enrichment_failures(occurred_at DESC)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// migration004AddRuleTables creates the operator-maintained rule tables.
func migration004AddRuleTables(db *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS category_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pattern TEXT NOT NULL,
			pattern_type TEXT NOT NULL DEFAULT 'contains',
			category TEXT NOT NULL,
			subcategory TEXT NOT NULL DEFAULT '',
			merchant_name TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT 1,
			use_count INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE INDEX IF NOT EXISTS idx_category_rules_active
		 ON category_rules(active, priority DESC)`,

		`CREATE TABLE IF NOT EXISTS merchant_normalizations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pattern TEXT NOT NULL,
			pattern_type TEXT NOT NULL DEFAULT 'contains',
			normalized_name TEXT NOT NULL,
			merchant_type TEXT NOT NULL DEFAULT '',
			default_category TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT 1,
			use_count INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE INDEX IF NOT EXISTS idx_merchant_normalizations_active
		 ON merchant_normalizations(active, priority DESC)`,

		`CREATE TABLE IF NOT EXISTS essential_categories (
			category TEXT PRIMARY KEY
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// migration005AddPipelineRunsTable creates the pipeline_runs table for
// tracking match and enrichment executions.
func migration005AddPipelineRunsTable(db *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			completed_at TIMESTAMP,
			processed INTEGER DEFAULT 0,
			succeeded INTEGER DEFAULT 0,
			failed INTEGER DEFAULT 0,
			status TEXT DEFAULT 'running'
		)`,

		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_kind
		 ON pipeline_runs(kind)`,

		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started
		 ON pipeline_runs(started_at DESC)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}
