package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"golang-reconciliation-engine/internal/matcher"
	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/parsers"
	"golang-reconciliation-engine/internal/reconciler"
	"golang-reconciliation-engine/internal/reporter"
	"golang-reconciliation-engine/pkg/logger"
)

// DateLayout is the layout of period flags
const DateLayout = "2006-01-02"

// Options are the reconcile settings resolved from flags, environment and
// the config file
type Options struct {
	Inputs    []string `mapstructure:"input"`
	CompanyID string   `mapstructure:"company"`
	Accounts  []string `mapstructure:"accounts"`

	PeriodStart string `mapstructure:"period-start"`
	PeriodEnd   string `mapstructure:"period-end"`

	// Parser settings
	TimeZone           string `mapstructure:"timezone"`
	Delimiter          string `mapstructure:"delimiter"`
	DefaultInstitution string `mapstructure:"institution"`
	DefaultAccount     string `mapstructure:"account"`

	// Output
	OutputFormat  string `mapstructure:"format"`
	OutputFile    string `mapstructure:"output"`
	IncludeTiming bool   `mapstructure:"include-timing"`
	ShowProgress  bool   `mapstructure:"progress"`

	// Sources
	DatabasePath string `mapstructure:"db"`
	BanksFile    string `mapstructure:"banks-file"`
	SaveHistory  bool   `mapstructure:"save-history"`

	// Engine
	MatchingProfile  string        `mapstructure:"matching"`
	LargeTransaction string        `mapstructure:"large-transaction"`
	LoadTimeout      time.Duration `mapstructure:"load-timeout"`

	// Preference overrides; zero values leave the stored preference alone
	ConfidenceThreshold  float64 `mapstructure:"confidence-threshold"`
	AutoApproveThreshold float64 `mapstructure:"auto-approve-threshold"`
	IgnoreBankDelays     bool    `mapstructure:"ignore-bank-delays"`
	NoCrossBank          bool    `mapstructure:"no-cross-bank"`
}

// Validate checks the options before any file is read
func (o *Options) Validate() error {
	if len(o.Inputs) == 0 {
		return fmt.Errorf("at least one input file is required")
	}
	if strings.TrimSpace(o.CompanyID) == "" {
		return fmt.Errorf("company is required")
	}
	if !reporter.OutputFormat(o.OutputFormat).IsValid() {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv, xlsx", o.OutputFormat)
	}
	if reporter.OutputFormat(o.OutputFormat).IsBinary() && o.OutputFile == "" {
		return fmt.Errorf("%s output requires --output", o.OutputFormat)
	}
	if len([]rune(o.Delimiter)) > 1 {
		return fmt.Errorf("delimiter must be a single character, got '%s'", o.Delimiter)
	}
	if o.SaveHistory && o.DatabasePath == "" {
		return fmt.Errorf("save-history requires --db")
	}
	if o.ConfidenceThreshold < 0 || o.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be between 0 and 1")
	}
	if o.AutoApproveThreshold < 0 || o.AutoApproveThreshold > 1 {
		return fmt.Errorf("auto-approve threshold must be between 0 and 1")
	}
	if _, _, err := ParsePeriod(o.PeriodStart, o.PeriodEnd, time.UTC); err != nil {
		return err
	}
	return nil
}

// CreateRecordParserConfig creates the CSV/XLSX parser configuration
func CreateRecordParserConfig(o *Options) (*parsers.RecordParserConfig, error) {
	config := parsers.DefaultRecordParserConfig()

	if o.TimeZone != "" {
		config.TimeZone = o.TimeZone
	}
	if o.Delimiter != "" {
		config.Delimiter = []rune(o.Delimiter)[0]
	}
	config.DefaultInstitution = o.DefaultInstitution
	config.DefaultAccount = o.DefaultAccount

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parser config: %w", err)
	}
	return config, nil
}

// CreateMatchingConfig returns the named matching profile
func CreateMatchingConfig(profile string) (*matcher.MatchingConfig, error) {
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case "", "default":
		return matcher.DefaultMatchingConfig(), nil
	case "strict":
		return matcher.StrictMatchingConfig(), nil
	case "relaxed":
		return matcher.RelaxedMatchingConfig(), nil
	default:
		return nil, fmt.Errorf("unknown matching profile '%s'. Valid profiles: default, strict, relaxed", profile)
	}
}

// CreateReconcilerConfig creates the engine configuration
func CreateReconcilerConfig(o *Options) (*reconciler.Config, error) {
	matching, err := CreateMatchingConfig(o.MatchingProfile)
	if err != nil {
		return nil, err
	}

	config := reconciler.DefaultConfig()
	config.Matching = matching

	if o.LargeTransaction != "" {
		amount, err := decimal.NewFromString(strings.TrimSpace(o.LargeTransaction))
		if err != nil {
			return nil, fmt.Errorf("invalid large transaction threshold '%s': %w", o.LargeTransaction, err)
		}
		config.LargeTransactionThreshold = amount
	}
	if o.LoadTimeout > 0 {
		config.LoadTimeout = o.LoadTimeout
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// HasPreferenceOverrides reports whether any preference flag is set
func (o *Options) HasPreferenceOverrides() bool {
	return o.ConfidenceThreshold > 0 || o.AutoApproveThreshold > 0 || o.IgnoreBankDelays || o.NoCrossBank
}

// ApplyPreferenceOverrides returns a copy of base with the preference flags
// applied. A nil base means the default preferences.
func ApplyPreferenceOverrides(base *models.Preferences, o *Options) *models.Preferences {
	prefs := models.DefaultPreferences()
	if base != nil {
		copied := *base
		prefs = &copied
	}

	if o.ConfidenceThreshold > 0 {
		prefs.ConfidenceThreshold = o.ConfidenceThreshold
	}
	if o.AutoApproveThreshold > 0 {
		prefs.AutoApproveThreshold = o.AutoApproveThreshold
	}
	if o.IgnoreBankDelays {
		prefs.ConsiderBankDelays = false
	}
	if o.NoCrossBank {
		prefs.CrossBankMatching = false
	}
	return prefs
}

// ParsePeriod parses the inclusive period bounds in loc. Empty bounds stay
// zero.
func ParsePeriod(start, end string, loc *time.Location) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error

	if start != "" {
		from, err = time.ParseInLocation(DateLayout, start, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid period start. Use YYYY-MM-DD: %w", err)
		}
	}
	if end != "" {
		to, err = time.ParseInLocation(DateLayout, end, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid period end. Use YYYY-MM-DD: %w", err)
		}
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("period start cannot be after period end")
	}
	return from, to, nil
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string, includeTiming bool) *reporter.ReportConfig {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(format)
	config.IncludeTimingMatches = includeTiming

	switch config.Format {
	case reporter.FormatJSON:
		config.IncludeStageStats = true
	case reporter.FormatCSV:
		config.CSVHeaders = true
		config.CSVDelimiter = ','
	case reporter.FormatXLSX:
		config.IncludeTimingMatches = true
	}

	return config
}

// CreateLoggerConfig creates the logger configuration from the global flags
func CreateLoggerConfig(level, format string, verbose bool) (*logger.Config, error) {
	config := logger.DefaultConfig()
	if level != "" {
		config.Level = logger.Level(strings.ToLower(level))
	}
	if verbose {
		config.Level = logger.DebugLevel
	}
	if format != "" {
		config.Format = logger.Format(strings.ToLower(format))
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
