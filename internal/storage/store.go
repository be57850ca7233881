// Package storage persists per-company reconciliation configuration and
// transaction history in SQLite. A Store serves as the bank profile, fee
// pattern, preferences and history source of the orchestrator.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"golang-reconciliation-engine/internal/banking"
	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/reconciler"
	"golang-reconciliation-engine/pkg/logger"
)

// Store provides SQLite access for company overrides and history
type Store struct {
	db     *sql.DB
	base   *banking.Catalog
	logger logger.Logger
}

var (
	_ reconciler.BankConfigSource  = (*Store)(nil)
	_ reconciler.FeePatternSource  = (*Store)(nil)
	_ reconciler.PreferencesSource = (*Store)(nil)
	_ reconciler.HistorySource     = (*Store)(nil)
)

// Open opens or creates the database at path and applies pending
// migrations. Company bank overrides are layered over base; a nil base
// means the embedded catalog.
func Open(path string, base *banking.Catalog, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if base == nil {
		catalog, err := banking.DefaultCatalog()
		if err != nil {
			return nil, err
		}
		base = catalog
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases shared and serialises writes
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		base:   base,
		logger: log.WithComponent("storage"),
	}

	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.logger.WithField("path", path).Debug("Store opened")
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveBankProfile stores a company override for one institution. The
// profile replaces the base profile with the same name.
func (s *Store) SaveBankProfile(ctx context.Context, companyID string, profile *banking.BankConfig) error {
	data, err := yaml.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode bank profile: %w", err)
	}

	// validate on a fresh copy so the caller's profile is left untouched
	var check banking.BankConfig
	if err := yaml.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("failed to decode bank profile: %w", err)
	}
	if err := check.Compile(); err != nil {
		return fmt.Errorf("invalid bank profile: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO bank_profiles (company_id, name, profile_yaml, updated_at)
	VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	`, companyID, banking.CanonicalName(check.Name), string(data))
	return err
}

// ImportCatalog stores every bank in catalog as a company override
func (s *Store) ImportCatalog(ctx context.Context, companyID string, catalog *banking.Catalog) (int, error) {
	for i, bank := range catalog.Banks {
		if err := s.SaveBankProfile(ctx, companyID, bank); err != nil {
			return i, fmt.Errorf("bank %s: %w", bank.Name, err)
		}
	}
	return len(catalog.Banks), nil
}

// BankProfiles returns the stored overrides of a company, sorted by name
func (s *Store) BankProfiles(ctx context.Context, companyID string) ([]*banking.BankConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT profile_yaml FROM bank_profiles WHERE company_id = ? ORDER BY name
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var profiles []*banking.BankConfig
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		profile := &banking.BankConfig{}
		if err := yaml.Unmarshal([]byte(data), profile); err != nil {
			return nil, fmt.Errorf("stored bank profile is corrupt: %w", err)
		}
		profiles = append(profiles, profile)
	}

	return profiles, rows.Err()
}

// LoadBankConfigs returns the base catalog with the company overrides
// applied. The result is compiled afresh on every call.
func (s *Store) LoadBankConfigs(ctx context.Context, companyID string) (*banking.Catalog, error) {
	overrides, err := s.BankProfiles(ctx, companyID)
	if err != nil {
		return nil, err
	}

	merged := &banking.Catalog{Default: s.base.Default}
	replaced := make(map[string]bool, len(overrides))
	for _, o := range overrides {
		replaced[banking.CanonicalName(o.Name)] = true
	}
	for _, bank := range s.base.Banks {
		if !replaced[banking.CanonicalName(bank.Name)] {
			merged.Banks = append(merged.Banks, bank)
		}
	}
	merged.Banks = append(merged.Banks, overrides...)

	data, err := merged.Marshal()
	if err != nil {
		return nil, err
	}
	catalog, err := banking.ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("company %s: %w", companyID, err)
	}

	if len(overrides) > 0 {
		s.logger.WithFields(logger.Fields{"company_id": companyID, "overrides": len(overrides)}).Debug("Applied bank profile overrides")
	}
	return catalog, nil
}

// SaveFeePattern stores a fee pattern. An empty companyID applies it to
// every company.
func (s *Store) SaveFeePattern(ctx context.Context, companyID string, pattern *banking.FeePattern) error {
	check := &banking.FeePattern{
		Type:           pattern.Type,
		Pattern:        pattern.Pattern,
		ExpectedAmount: pattern.ExpectedAmount,
		Frequency:      pattern.Frequency,
	}
	if err := check.Compile(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO fee_patterns (company_id, fee_type, pattern, expected_amount, frequency)
	VALUES (?, ?, ?, ?, ?)
	`, companyID, check.Type, check.Pattern, strings.TrimSpace(check.ExpectedAmount), check.Frequency)
	return err
}

// LoadFeePatterns returns the global and company fee patterns. With none
// stored, the base catalog's default patterns are returned.
func (s *Store) LoadFeePatterns(ctx context.Context, companyID string) ([]*banking.FeePattern, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT fee_type, pattern, expected_amount, frequency
	FROM fee_patterns
	WHERE company_id = '' OR company_id = ?
	ORDER BY company_id, id
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var patterns []*banking.FeePattern
	for rows.Next() {
		p := &banking.FeePattern{}
		if err := rows.Scan(&p.Type, &p.Pattern, &p.ExpectedAmount, &p.Frequency); err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(patterns) == 0 && s.base.Default != nil {
		return s.base.Default.FeePatterns, nil
	}
	return patterns, nil
}

// SavePreferences stores the preferences of a company
func (s *Store) SavePreferences(ctx context.Context, companyID string, prefs *models.Preferences) error {
	if err := prefs.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO preferences
	(company_id, consider_bank_delays, cross_bank_matching, confidence_threshold, auto_approve_threshold, updated_at)
	VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, companyID, prefs.ConsiderBankDelays, prefs.CrossBankMatching, prefs.ConfidenceThreshold, prefs.AutoApproveThreshold)
	return err
}

// LoadPreferences returns the stored preferences of a company, or nil when
// none are stored.
func (s *Store) LoadPreferences(ctx context.Context, companyID string) (*models.Preferences, error) {
	prefs := &models.Preferences{}
	err := s.db.QueryRowContext(ctx, `
	SELECT consider_bank_delays, cross_bank_matching, confidence_threshold, auto_approve_threshold
	FROM preferences WHERE company_id = ?
	`, companyID).Scan(
		&prefs.ConsiderBankDelays,
		&prefs.CrossBankMatching,
		&prefs.ConfidenceThreshold,
		&prefs.AutoApproveThreshold,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return prefs, nil
}

// SaveHistory appends records to the company history. Invalid records are
// skipped. It returns the number of records saved.
func (s *Store) SaveHistory(ctx context.Context, companyID, runID string, records []*models.TransactionRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT OR REPLACE INTO transaction_history
	(company_id, id, description, amount, posted_at, utc_offset, direction,
	 institution, account_id, reference, category_hint, run_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer func() { _ = stmt.Close() }()

	saved := 0
	for _, r := range records {
		if r == nil || !r.IsValid() {
			continue
		}
		_, offset := r.Date.Zone()
		if _, err := stmt.ExecContext(ctx,
			companyID,
			r.ID,
			r.Description,
			r.Amount.String(),
			r.Date.UnixNano(),
			offset,
			string(r.Direction),
			r.Institution,
			r.AccountID,
			r.Reference,
			r.CategoryHint,
			runID,
		); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to save record %s: %w", r.ID, err)
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.logger.WithFields(logger.Fields{"company_id": companyID, "saved": saved}).Info("History saved")
	return saved, nil
}

// LoadHistory returns the company records posted in [from, to). A zero
// bound is open.
func (s *Store) LoadHistory(ctx context.Context, companyID string, from, to time.Time) ([]*models.TransactionRecord, error) {
	query := `
	SELECT id, description, amount, posted_at, utc_offset, direction,
	       institution, account_id, reference, category_hint
	FROM transaction_history
	WHERE company_id = ?`
	args := []any{companyID}

	if !from.IsZero() {
		query += ` AND posted_at >= ?`
		args = append(args, from.UnixNano())
	}
	if !to.IsZero() {
		query += ` AND posted_at < ?`
		args = append(args, to.UnixNano())
	}
	query += ` ORDER BY posted_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []*models.TransactionRecord
	for rows.Next() {
		var (
			r         models.TransactionRecord
			amount    string
			posted    int64
			offset    int
			direction string
		)
		if err := rows.Scan(&r.ID, &r.Description, &amount, &posted, &offset, &direction,
			&r.Institution, &r.AccountID, &r.Reference, &r.CategoryHint); err != nil {
			return nil, err
		}

		r.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("stored amount for %s is corrupt: %w", r.ID, err)
		}
		r.Date = time.Unix(0, posted).In(time.FixedZone("", offset))
		r.Direction = models.Direction(direction)

		records = append(records, &r)
	}

	return records, rows.Err()
}
