package storage

import (
	"database/sql"
	"fmt"

	"golang-reconciliation-engine/pkg/logger"
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
		Name:    "add_transaction_history",
		Up:      migration002AddTransactionHistory,
	},
}

// runMigrations executes all pending migrations
func (s *Store) runMigrations() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.appliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue
		}

		log := s.logger.WithFields(logger.Fields{"version": migration.Version, "name": migration.Name})
		log.Debug("Running migration")

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, migration.Version, migration.Name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		log.Info("Migration applied")
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

func (s *Store) appliedMigrations() (map[int]bool, error) {
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

// migration001InitialSchema creates the per-company configuration tables
func migration001InitialSchema(tx *sql.Tx) error {
	queries := []string{
		// One row per institution profile override, stored as YAML
		`CREATE TABLE IF NOT EXISTS bank_profiles (
			company_id TEXT NOT NULL,
			name TEXT NOT NULL,
			profile_yaml TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (company_id, name)
		)`,

		// Global fee patterns; company_id '' applies to every company
		`CREATE TABLE IF NOT EXISTS fee_patterns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			company_id TEXT NOT NULL DEFAULT '',
			fee_type TEXT NOT NULL,
			pattern TEXT NOT NULL,
			expected_amount TEXT NOT NULL DEFAULT '',
			frequency TEXT NOT NULL DEFAULT '',
			UNIQUE (company_id, fee_type, pattern)
		)`,

		`CREATE TABLE IF NOT EXISTS preferences (
			company_id TEXT PRIMARY KEY,
			consider_bank_delays BOOLEAN NOT NULL,
			cross_bank_matching BOOLEAN NOT NULL,
			confidence_threshold REAL NOT NULL,
			auto_approve_threshold REAL NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// migration002AddTransactionHistory stores reconciled records for later
// duplicate checks
func migration002AddTransactionHistory(tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS transaction_history (
			company_id TEXT NOT NULL,
			id TEXT NOT NULL,
			description TEXT NOT NULL,
			amount TEXT NOT NULL,
			posted_at INTEGER NOT NULL,
			utc_offset INTEGER NOT NULL DEFAULT 0,
			direction TEXT NOT NULL,
			institution TEXT NOT NULL DEFAULT '',
			account_id TEXT NOT NULL DEFAULT '',
			reference TEXT NOT NULL DEFAULT '',
			category_hint TEXT NOT NULL DEFAULT '',
			run_id TEXT NOT NULL DEFAULT '',
			saved_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (company_id, id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_transaction_history_posted
		 ON transaction_history(company_id, posted_at)`,
	}

	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}
