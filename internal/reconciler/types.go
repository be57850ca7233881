package reconciler

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"golang-reconciliation-engine/internal/banking"
	"golang-reconciliation-engine/internal/matcher"
	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/review"
	"golang-reconciliation-engine/pkg/logger"
)

// Preferences are the per-company reconciliation settings
type Preferences = models.Preferences

// Config holds engine-level options that are not company preferences
type Config struct {
	Matching *matcher.MatchingConfig

	// LargeTransactionThreshold escalates transactions by absolute amount
	LargeTransactionThreshold decimal.Decimal

	// LoadTimeout bounds each external configuration load
	LoadTimeout time.Duration

	// HistoryLookbackDays widens the history query before the period start
	HistoryLookbackDays int
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() *Config {
	return &Config{
		Matching:                  matcher.DefaultMatchingConfig(),
		LargeTransactionThreshold: decimal.NewFromInt(50000),
		LoadTimeout:               5 * time.Second,
		HistoryLookbackDays:       30,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Matching == nil {
		return fmt.Errorf("matching configuration is required")
	}
	if err := c.Matching.Validate(); err != nil {
		return err
	}
	if c.LargeTransactionThreshold.IsNegative() {
		return fmt.Errorf("large transaction threshold cannot be negative")
	}
	if c.LoadTimeout <= 0 {
		return fmt.Errorf("load timeout must be positive, got %s", c.LoadTimeout)
	}
	if c.HistoryLookbackDays < 0 {
		return fmt.Errorf("history lookback cannot be negative, got %d", c.HistoryLookbackDays)
	}
	return nil
}

// Context scopes a run to one company, a set of accounts and a period
type Context struct {
	CompanyID string `json:"company_id"`

	// Accounts limits the batch to these account ids; empty means all
	Accounts []string `json:"accounts,omitempty"`

	// PeriodStart and PeriodEnd bound the batch by date; zero means open
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	// Preferences override the stored company preferences when set
	Preferences *Preferences `json:"preferences,omitempty"`
}

// Request is one reconciliation batch
type Request struct {
	Records       []*models.TransactionRecord
	KnownRecords  []*models.TransactionRecord
	Context       Context
	CategoryHints models.CategoryHints
}

// TimingMatch is the settlement-aware view of one transaction
type TimingMatch struct {
	TransactionID          string            `json:"transaction_id"`
	Confidence             float64           `json:"confidence"`
	MatchType              matcher.MatchType `json:"match_type,omitempty"`
	MatchedTransactionID   string            `json:"matched_transaction_id,omitempty"`
	Institution            string            `json:"institution"`
	WithinProcessingWindow bool              `json:"within_processing_window"`
	ImmediatePayment       bool              `json:"immediate_payment"`
	CrossInstitution       bool              `json:"cross_institution"`
	ExpectedDelayHours     float64           `json:"expected_delay_hours"`
	Reasoning              string            `json:"reasoning"`
}

// Statistics are the run counters. AutoMatched, HighConfidence and
// RequiresReview count transactions, so a duplicate pair or a mapped
// transfer adds two to AutoMatched. CrossBankTransfers counts mappings.
type Statistics struct {
	TotalProcessed     int `json:"total_processed"`
	AutoMatched        int `json:"auto_matched"`
	RequiresReview     int `json:"requires_review"`
	HighConfidence     int `json:"high_confidence"`
	CrossBankTransfers int `json:"cross_bank_transfers"`
	FeesIdentified     int `json:"fees_identified"`
	InvalidRecords     int `json:"invalid_records"`
	OutOfScope         int `json:"out_of_scope"`
}

// Result is the immutable outcome of one run
type Result struct {
	RunID         string                          `json:"run_id"`
	CompanyID     string                          `json:"company_id"`
	ProcessedAt   time.Time                       `json:"processed_at"`
	Duration      time.Duration                   `json:"duration"`
	Preferences   Preferences                     `json:"preferences"`
	Duplicates    []*matcher.DuplicateMatch       `json:"duplicates"`
	Transfers     []*matcher.CrossBankTransferMap `json:"transfers"`
	TimingMatches []*TimingMatch                  `json:"timing_matches"`
	FeeAnalysis   *banking.FeeAnalysis            `json:"fee_analysis"`
	ReviewQueue   []*review.Entry                 `json:"review_queue"`
	Statistics    Statistics                      `json:"statistics"`
	Warnings      []string                        `json:"warnings,omitempty"`
	Stages        logger.StageStats               `json:"stages"`
}

// Progress is reported to callbacks at the start of every stage
type Progress struct {
	Stage           string        `json:"stage"`
	CompletedStages int           `json:"completed_stages"`
	TotalStages     int           `json:"total_stages"`
	PercentComplete float64       `json:"percent_complete"`
	Elapsed         time.Duration `json:"elapsed"`
}

// ProgressCallback is called to report run progress
type ProgressCallback func(Progress)
