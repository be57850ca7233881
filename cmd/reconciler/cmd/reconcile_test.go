package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"golang-reconciliation-engine/cmd/reconciler/config"
	"golang-reconciliation-engine/internal/parsers"
	"golang-reconciliation-engine/pkg/errors"
)

const batchCSV = `id,date,description,amount,institution,account_id
S1,2024-01-25 09:00,SALARY ACME CORP,25000.00,FNB,ACC-1
S2,2024-01-25 09:00,SALARY ACME CORP,25000.00,FNB,ACC-1
OUT1,2024-01-10 10:00,EFT TO ABSA SAVINGS,-5000.00,FNB,ACC-1
IN1,2024-01-11 08:00,EFT FROM FNB,5000.00,ABSA,ACC-2
FEE1,2024-01-31 20:00,MONTHLY ACCOUNT FEE,-69.00,FNB,ACC-1
BAD,2024-01-31,BROKEN ROW,R1.2.3,FNB,ACC-1
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create %s: %v", name, err)
	}
	return path
}

type jsonReport struct {
	RunID      string `json:"run_id"`
	CompanyID  string `json:"company_id"`
	Duplicates []struct {
		TransactionID        string `json:"transaction_id"`
		MatchedTransactionID string `json:"matched_transaction_id"`
		MatchType            string `json:"match_type"`
	} `json:"duplicates"`
	Transfers []struct {
		PrimaryTransactionID   string `json:"primary_transaction_id"`
		SecondaryTransactionID string `json:"secondary_transaction_id"`
	} `json:"transfers"`
	ReviewQueue []struct {
		TransactionID   string `json:"transaction_id"`
		SuggestedAction string `json:"suggested_action"`
	} `json:"review_queue"`
	Statistics struct {
		TotalProcessed     int `json:"total_processed"`
		RequiresReview     int `json:"requires_review"`
		CrossBankTransfers int `json:"cross_bank_transfers"`
		FeesIdentified     int `json:"fees_identified"`
		OutOfScope         int `json:"out_of_scope"`
	} `json:"statistics"`
	Preferences struct {
		ConfidenceThreshold float64 `json:"confidence_threshold"`
		CrossBankMatching   bool    `json:"cross_bank_matching"`
	} `json:"preferences"`
}

func runJSON(t *testing.T, opts *config.Options) (*jsonReport, string) {
	t.Helper()
	opts.OutputFormat = "json"

	var stdout, stderr bytes.Buffer
	r := newRunner(opts, &stdout, &stderr)
	if _, err := r.run(context.Background(), ""); err != nil {
		t.Fatalf("run failed: %v\nstderr: %s", err, stderr.String())
	}

	var report jsonReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("report is not valid JSON: %v\n%s", err, stdout.String())
	}
	return &report, stderr.String()
}

func TestRunnerReconcilesBatch(t *testing.T) {
	dir := t.TempDir()
	opts := &config.Options{
		Inputs:    []string{writeFile(t, dir, "batch.csv", batchCSV)},
		CompanyID: "acme",
	}

	report, _ := runJSON(t, opts)

	if report.CompanyID != "acme" || report.RunID == "" {
		t.Errorf("unexpected run header %q/%q", report.CompanyID, report.RunID)
	}
	if len(report.Duplicates) != 1 || report.Duplicates[0].TransactionID != "S2" || report.Duplicates[0].MatchedTransactionID != "S1" {
		t.Errorf("expected S2 as duplicate of S1, got %+v", report.Duplicates)
	}
	if len(report.Transfers) != 1 || report.Transfers[0].PrimaryTransactionID != "OUT1" {
		t.Errorf("expected OUT1 -> IN1 transfer, got %+v", report.Transfers)
	}
	if report.Statistics.TotalProcessed != 6 || report.Statistics.FeesIdentified != 1 {
		t.Errorf("unexpected statistics %+v", report.Statistics)
	}

	found := false
	for _, entry := range report.ReviewQueue {
		if entry.TransactionID == "BAD" {
			found = true
			if entry.SuggestedAction != "manual_match" {
				t.Errorf("expected manual_match for BAD, got %s", entry.SuggestedAction)
			}
		}
	}
	if !found {
		t.Errorf("expected malformed row in review queue, got %+v", report.ReviewQueue)
	}
}

func TestRunnerPeriodAndOverrides(t *testing.T) {
	dir := t.TempDir()
	opts := &config.Options{
		Inputs:              []string{writeFile(t, dir, "batch.csv", batchCSV)},
		CompanyID:           "acme",
		PeriodStart:         "2024-01-20",
		PeriodEnd:           "2024-01-31",
		ConfidenceThreshold: 0.85,
		NoCrossBank:         true,
	}

	report, _ := runJSON(t, opts)

	if report.Preferences.ConfidenceThreshold != 0.85 || report.Preferences.CrossBankMatching {
		t.Errorf("expected overrides applied, got %+v", report.Preferences)
	}
	if len(report.Transfers) != 0 {
		t.Errorf("expected no transfers, got %+v", report.Transfers)
	}
	if report.Statistics.OutOfScope != 2 {
		t.Errorf("expected OUT1 and IN1 out of scope, got %d", report.Statistics.OutOfScope)
	}
}

func TestRunnerRenamesRepeatedIDs(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "fnb.csv", "id,date,description,amount,institution\nT1,2024-01-05 10:00,CARD PURCHASE PNP,-120.00,FNB\n")
	second := writeFile(t, dir, "absa.csv", "id,date,description,amount,institution\nT1,2024-01-06 11:00,DEBIT ORDER GYM,-450.00,ABSA\n")

	opts := &config.Options{Inputs: []string{first, second}, CompanyID: "acme"}

	var stdout, stderr bytes.Buffer
	r := newRunner(opts, &stdout, &stderr)
	records, err := r.parseInputs(context.Background(), mustParserConfig(t, opts))
	if err != nil {
		t.Fatalf("parseInputs failed: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != "T1" || records[1].ID != "T1@absa.csv" {
		t.Errorf("expected second T1 renamed, got %s and %s", records[0].ID, records[1].ID)
	}
}

func mustParserConfig(t *testing.T, opts *config.Options) *parsers.RecordParserConfig {
	t.Helper()
	c, err := config.CreateRecordParserConfig(opts)
	if err != nil {
		t.Fatalf("failed to create parser config: %v", err)
	}
	return c
}

func TestRunnerDetectsDuplicatesAgainstHistory(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "reconciler.db")

	january := writeFile(t, dir, "jan.csv", "id,date,description,amount,institution\nA1,2024-01-25 09:00,SALARY ACME CORP,25000.00,FNB\n")
	reimport := writeFile(t, dir, "jan-again.csv", "id,date,description,amount,institution\nB1,2024-01-25 09:00,SALARY ACME CORP,25000.00,FNB\n")

	first, _ := runJSON(t, &config.Options{
		Inputs:       []string{january},
		CompanyID:    "acme",
		DatabasePath: db,
		SaveHistory:  true,
	})
	if len(first.Duplicates) != 0 {
		t.Fatalf("expected no duplicates on first run, got %+v", first.Duplicates)
	}

	second, _ := runJSON(t, &config.Options{
		Inputs:       []string{reimport},
		CompanyID:    "acme",
		DatabasePath: db,
	})
	if len(second.Duplicates) != 1 {
		t.Fatalf("expected re-imported salary flagged, got %+v", second.Duplicates)
	}
	dup := second.Duplicates[0]
	if dup.TransactionID != "B1" || dup.MatchedTransactionID != "A1" || dup.MatchType != "exact" {
		t.Errorf("unexpected duplicate %+v", dup)
	}

	other, _ := runJSON(t, &config.Options{
		Inputs:       []string{reimport},
		CompanyID:    "globex",
		DatabasePath: db,
	})
	if len(other.Duplicates) != 0 {
		t.Errorf("history must not leak across companies, got %+v", other.Duplicates)
	}
}

func TestRunnerWritesOutputFile(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "report.csv")
	opts := &config.Options{
		Inputs:       []string{writeFile(t, dir, "batch.csv", batchCSV)},
		CompanyID:    "acme",
		OutputFormat: "csv",
	}

	var stdout, stderr bytes.Buffer
	if _, err := newRunner(opts, &stdout, &stderr).run(context.Background(), output); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if stdout.Len() != 0 {
		t.Errorf("expected nothing on stdout, got %q", stdout.String())
	}
	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("failed to read report: %v", err)
	}
	if !strings.HasPrefix(string(data), "Type,Transaction_ID") {
		t.Errorf("unexpected CSV report:\n%s", data)
	}
}

func TestRunnerRejectsBadBanksFile(t *testing.T) {
	dir := t.TempDir()
	opts := &config.Options{
		Inputs:       []string{writeFile(t, dir, "batch.csv", batchCSV)},
		CompanyID:    "acme",
		BanksFile:    writeFile(t, dir, "banks.yaml", "banks: [not: valid: yaml"),
		OutputFormat: "json",
	}

	var stdout, stderr bytes.Buffer
	_, err := newRunner(opts, &stdout, &stderr).run(context.Background(), "")
	if err == nil {
		t.Fatal("expected error for invalid bank catalog")
	}
	rerr, ok := errors.AsReconcilerError(err)
	if !ok || rerr.Category != errors.CategoryConfiguration {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestValidateFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	validFile := writeFile(t, tmpDir, "valid.csv", "test")

	tests := []struct {
		name        string
		filePath    string
		expectError bool
	}{
		{"valid file", validFile, false},
		{"empty path", "", true},
		{"non-existent file", "/non/existent/file.csv", true},
		{"directory instead of file", tmpDir, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFileExists(tt.filePath, "test file")

			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestPreRunReconcile(t *testing.T) {
	tmpDir := t.TempDir()
	input := writeFile(t, tmpDir, "batch.csv", batchCSV)

	tests := []struct {
		name          string
		setup         func()
		errorContains string
	}{
		{
			name: "valid flags",
			setup: func() {
				viper.Set("input", []string{input})
				viper.Set("company", "acme")
				viper.Set("format", "console")
			},
		},
		{
			name: "missing input",
			setup: func() {
				viper.Set("company", "acme")
				viper.Set("format", "console")
			},
			errorContains: "at least one input file",
		},
		{
			name: "missing company",
			setup: func() {
				viper.Set("input", []string{input})
				viper.Set("format", "console")
			},
			errorContains: "company is required",
		},
		{
			name: "invalid format",
			setup: func() {
				viper.Set("input", []string{input})
				viper.Set("company", "acme")
				viper.Set("format", "pdf")
			},
			errorContains: "invalid output format",
		},
		{
			name: "input does not exist",
			setup: func() {
				viper.Set("input", []string{filepath.Join(tmpDir, "missing.csv")})
				viper.Set("company", "acme")
				viper.Set("format", "console")
			},
			errorContains: "missing.csv",
		},
		{
			name: "output directory does not exist",
			setup: func() {
				viper.Set("input", []string{input})
				viper.Set("company", "acme")
				viper.Set("format", "json")
				viper.Set("output", filepath.Join(tmpDir, "nope", "report.json"))
			},
			errorContains: "nope",
		},
		{
			name: "history without database",
			setup: func() {
				viper.Set("input", []string{input})
				viper.Set("company", "acme")
				viper.Set("format", "console")
				viper.Set("save-history", true)
			},
			errorContains: "save-history requires --db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()
			tt.setup()

			err := preRunReconcile(&cobra.Command{}, nil)

			if tt.errorContains == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing '%s'", tt.errorContains)
			}
			msg := err.Error()
			if rerr, ok := errors.AsReconcilerError(err); ok && rerr.Cause != nil {
				msg += " " + rerr.Cause.Error()
			}
			if !strings.Contains(msg, tt.errorContains) {
				t.Errorf("expected error to contain '%s', got: %s", tt.errorContains, msg)
			}
		})
	}
}

func TestReconcileCommandFlags(t *testing.T) {
	for _, name := range []string{
		"input", "company", "accounts", "period-start", "period-end",
		"timezone", "delimiter", "format", "output", "db", "banks-file",
		"save-history", "matching", "confidence-threshold", "no-cross-bank",
	} {
		if reconcileCmd.Flags().Lookup(name) == nil {
			t.Errorf("flag '%s' not found", name)
		}
	}

	var help bytes.Buffer
	reconcileCmd.SetOut(&help)
	_ = reconcileCmd.Help()

	for _, section := range []string{"Usage:", "Examples:", "Flags:", "--input", "--company", "--save-history"} {
		if !strings.Contains(help.String(), section) {
			t.Errorf("help text should contain '%s'", section)
		}
	}
}

func TestFormatParseProblems(t *testing.T) {
	if got := FormatParseProblems("a.csv", nil, 0); got != "" {
		t.Errorf("expected empty output, got %q", got)
	}

	got := FormatParseProblems("a.csv", []string{"line 3: invalid amount", "line 9: invalid date"}, 4)
	for _, want := range []string{"a.csv: 4 problem(s)", "1. line 3: invalid amount", "... and 2 more"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in:\n%s", want, got)
		}
	}
}
