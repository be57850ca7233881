package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/reporter"
	"golang-reconciliation-engine/pkg/logger"
)

func validOptions() *Options {
	return &Options{
		Inputs:       []string{"batch.csv"},
		CompanyID:    "acme",
		OutputFormat: "console",
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Options)
		expectError bool
	}{
		{"valid options", func(*Options) {}, false},
		{"no input", func(o *Options) { o.Inputs = nil }, true},
		{"no company", func(o *Options) { o.CompanyID = "  " }, true},
		{"bad format", func(o *Options) { o.OutputFormat = "pdf" }, true},
		{"xlsx without output", func(o *Options) { o.OutputFormat = "xlsx" }, true},
		{"xlsx with output", func(o *Options) {
			o.OutputFormat = "xlsx"
			o.OutputFile = "report.xlsx"
		}, false},
		{"long delimiter", func(o *Options) { o.Delimiter = ";;" }, true},
		{"history without db", func(o *Options) { o.SaveHistory = true }, true},
		{"threshold out of range", func(o *Options) { o.ConfidenceThreshold = 1.2 }, true},
		{"auto approve out of range", func(o *Options) { o.AutoApproveThreshold = -0.1 }, true},
		{"reversed period", func(o *Options) {
			o.PeriodStart = "2024-02-01"
			o.PeriodEnd = "2024-01-01"
		}, true},
		{"bad period date", func(o *Options) { o.PeriodStart = "01/02/2024" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOptions()
			tt.modify(o)
			err := o.Validate()

			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCreateRecordParserConfig(t *testing.T) {
	o := validOptions()
	o.Delimiter = ";"
	o.TimeZone = "UTC"
	o.DefaultInstitution = "Capitec"

	config, err := CreateRecordParserConfig(o)
	if err != nil {
		t.Fatalf("failed to create parser config: %v", err)
	}
	if config.Delimiter != ';' {
		t.Errorf("expected ';' delimiter, got %q", config.Delimiter)
	}
	if config.TimeZone != "UTC" || config.DefaultInstitution != "Capitec" {
		t.Errorf("unexpected parser config %+v", config)
	}

	o.TimeZone = "Nowhere/City"
	if _, err := CreateRecordParserConfig(o); err == nil {
		t.Error("expected error for unknown time zone")
	}
}

func TestCreateMatchingConfig(t *testing.T) {
	tests := []struct {
		profile     string
		expectError bool
	}{
		{"", false},
		{"default", false},
		{"Strict", false},
		{"relaxed", false},
		{"lenient", true},
	}

	for _, tt := range tests {
		t.Run(tt.profile, func(t *testing.T) {
			config, err := CreateMatchingConfig(tt.profile)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error for profile %q", tt.profile)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := config.Validate(); err != nil {
				t.Errorf("profile %q should be valid: %v", tt.profile, err)
			}
		})
	}
}

func TestCreateReconcilerConfig(t *testing.T) {
	o := validOptions()
	o.LargeTransaction = "100000"
	o.LoadTimeout = 2 * time.Second

	config, err := CreateReconcilerConfig(o)
	if err != nil {
		t.Fatalf("failed to create reconciler config: %v", err)
	}
	if !config.LargeTransactionThreshold.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("expected large transaction threshold 100000, got %s", config.LargeTransactionThreshold)
	}
	if config.LoadTimeout != 2*time.Second {
		t.Errorf("expected load timeout 2s, got %s", config.LoadTimeout)
	}

	o.LargeTransaction = "lots"
	if _, err := CreateReconcilerConfig(o); err == nil {
		t.Error("expected error for invalid large transaction threshold")
	}
}

func TestApplyPreferenceOverrides(t *testing.T) {
	o := validOptions()
	if o.HasPreferenceOverrides() {
		t.Error("expected no overrides by default")
	}

	o.ConfidenceThreshold = 0.85
	o.NoCrossBank = true
	if !o.HasPreferenceOverrides() {
		t.Error("expected overrides to be detected")
	}

	stored := &models.Preferences{
		ConsiderBankDelays:   false,
		CrossBankMatching:    true,
		ConfidenceThreshold:  0.6,
		AutoApproveThreshold: 0.95,
	}
	prefs := ApplyPreferenceOverrides(stored, o)

	if prefs.ConfidenceThreshold != 0.85 || prefs.CrossBankMatching {
		t.Errorf("expected overrides applied, got %+v", prefs)
	}
	if prefs.AutoApproveThreshold != 0.95 || prefs.ConsiderBankDelays {
		t.Errorf("expected stored values kept, got %+v", prefs)
	}
	if stored.ConfidenceThreshold != 0.6 {
		t.Error("stored preferences should not be modified")
	}

	defaults := ApplyPreferenceOverrides(nil, o)
	if !defaults.ConsiderBankDelays || defaults.AutoApproveThreshold != models.DefaultPreferences().AutoApproveThreshold {
		t.Errorf("expected defaults for unset fields, got %+v", defaults)
	}
}

func TestParsePeriod(t *testing.T) {
	sast := time.FixedZone("SAST", 2*60*60)

	from, to, err := ParsePeriod("2024-01-01", "2024-01-31", sast)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !from.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, sast)) || !to.Equal(time.Date(2024, 1, 31, 0, 0, 0, 0, sast)) {
		t.Errorf("unexpected period %s - %s", from, to)
	}

	from, to, err = ParsePeriod("", "", sast)
	if err != nil || !from.IsZero() || !to.IsZero() {
		t.Errorf("expected open period, got %s - %s (%v)", from, to, err)
	}
}

func TestCreateReportConfig(t *testing.T) {
	tests := []struct {
		format        string
		includeTiming bool
		wantTiming    bool
		wantStages    bool
	}{
		{"console", false, false, false},
		{"json", true, true, true},
		{"csv", false, false, false},
		{"xlsx", false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			config := CreateReportConfig(tt.format, tt.includeTiming)

			if config.Format != reporter.OutputFormat(tt.format) {
				t.Errorf("expected format %s, got %s", tt.format, config.Format)
			}
			if config.IncludeTimingMatches != tt.wantTiming {
				t.Errorf("expected IncludeTimingMatches %v", tt.wantTiming)
			}
			if config.IncludeStageStats != tt.wantStages {
				t.Errorf("expected IncludeStageStats %v", tt.wantStages)
			}
			if err := config.Validate(); err != nil {
				t.Errorf("report config should be valid: %v", err)
			}
		})
	}
}

func TestCreateLoggerConfig(t *testing.T) {
	config, err := CreateLoggerConfig("warn", "json", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Level != logger.WarnLevel || config.Format != logger.JSONFormat {
		t.Errorf("unexpected logger config %+v", config)
	}

	config, err = CreateLoggerConfig("warn", "", true)
	if err != nil || config.Level != logger.DebugLevel {
		t.Errorf("expected verbose to force debug, got %+v (%v)", config, err)
	}

	if _, err := CreateLoggerConfig("loud", "", false); err == nil {
		t.Error("expected error for unknown level")
	}
}
