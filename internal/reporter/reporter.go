// Package reporter renders reconciliation results.
//
// Supported output formats:
//   - Console: tables for terminal display, optionally coloured
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per finding for spreadsheet applications
//   - XLSX: a workbook with one sheet per finding type
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(reporter.DefaultReportConfig())
//	err = generator.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"golang-reconciliation-engine/internal/reconciler"
	"golang-reconciliation-engine/internal/review"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatXLSX    OutputFormat = "xlsx"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatXLSX:
		return true
	default:
		return false
	}
}

// IsBinary reports whether the format must not be written to a terminal
func (f OutputFormat) IsBinary() bool {
	return f == FormatXLSX
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Sections
	IncludeDuplicates    bool `json:"include_duplicates"`
	IncludeTransfers     bool `json:"include_transfers"`
	IncludeFees          bool `json:"include_fees"`
	IncludeReviewQueue   bool `json:"include_review_queue"`
	IncludeTimingMatches bool `json:"include_timing_matches"`
	IncludeStageStats    bool `json:"include_stage_stats"`

	// Console formatting options
	UseColors     bool `json:"use_colors"`
	TableMaxWidth int  `json:"table_max_width"`

	// MaxRows limits each console table; 0 means no limit
	MaxRows int `json:"max_rows"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:               FormatConsole,
		IncludeDuplicates:    true,
		IncludeTransfers:     true,
		IncludeFees:          true,
		IncludeReviewQueue:   true,
		IncludeTimingMatches: false,
		IncludeStageStats:    false,
		UseColors:            true,
		TableMaxWidth:        120,
		MaxRows:              50,
		CSVDelimiter:         ',',
		CSVHeaders:           true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}

	if c.MaxRows < 0 {
		return fmt.Errorf("max rows cannot be negative, got %d", c.MaxRows)
	}

	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}

	return nil
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{config: config}, nil
}

// GenerateReport renders result and writes it to writer
func (rg *ReportGenerator) GenerateReport(result *reconciler.Result, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("reconciliation result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	case FormatXLSX:
		return rg.generateXLSXReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// palette holds the console highlight functions
type palette struct {
	heading func(a ...interface{}) string
	good    func(a ...interface{}) string
	warn    func(a ...interface{}) string
	bad     func(a ...interface{}) string
}

func newPalette(enabled bool) palette {
	mk := func(attrs ...color.Attribute) func(a ...interface{}) string {
		c := color.New(attrs...)
		if !enabled {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	return palette{
		heading: mk(color.Bold, color.FgCyan),
		good:    mk(color.FgGreen),
		warn:    mk(color.FgYellow),
		bad:     mk(color.FgRed, color.Bold),
	}
}

func (p palette) action(a review.Action) string {
	switch a {
	case review.ActionApprove:
		return p.good(string(a))
	case review.ActionReject:
		return p.bad(string(a))
	default:
		return p.warn(string(a))
	}
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(result *reconciler.Result, writer io.Writer) error {
	p := newPalette(rg.config.UseColors)

	fmt.Fprintf(writer, "%s\n", p.heading("RECONCILIATION REPORT"))
	fmt.Fprintf(writer, "Run:       %s\n", result.RunID)
	fmt.Fprintf(writer, "Company:   %s\n", result.CompanyID)
	fmt.Fprintf(writer, "Generated: %s\n", result.ProcessedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Duration:  %v\n\n", result.Duration.Round(time.Millisecond))

	fmt.Fprintf(writer, "%s\n", p.heading("=== SUMMARY ==="))
	rg.printSummaryTable(result.Statistics, writer)
	fmt.Fprintf(writer, "\n")

	if rg.config.IncludeDuplicates && len(result.Duplicates) > 0 {
		fmt.Fprintf(writer, "%s\n", p.heading("=== DUPLICATES ==="))
		rg.printDuplicates(result, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeTransfers && len(result.Transfers) > 0 {
		fmt.Fprintf(writer, "%s\n", p.heading("=== CROSS-BANK TRANSFERS ==="))
		rg.printTransfers(result, writer, p)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeFees && result.FeeAnalysis != nil && len(result.FeeAnalysis.IdentifiedFees) > 0 {
		fmt.Fprintf(writer, "%s\n", p.heading("=== FEES ==="))
		rg.printFees(result, writer, p)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeTimingMatches && len(result.TimingMatches) > 0 {
		fmt.Fprintf(writer, "%s\n", p.heading("=== SETTLEMENT TIMING ==="))
		rg.printTimingMatches(result, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeReviewQueue {
		fmt.Fprintf(writer, "%s\n", p.heading("=== REVIEW QUEUE ==="))
		rg.printReviewQueue(result.ReviewQueue, writer, p)
		fmt.Fprintf(writer, "\n")
	}

	if len(result.Warnings) > 0 {
		fmt.Fprintf(writer, "%s\n", p.heading("=== WARNINGS ==="))
		for _, w := range result.Warnings {
			fmt.Fprintf(writer, "  %s %s\n", p.warn("!"), w)
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeStageStats && len(result.Stages.StageDurations) > 0 {
		fmt.Fprintf(writer, "%s\n", p.heading("=== PROCESSING STAGES ==="))
		rg.printStageStats(result, writer)
	}

	return nil
}

// generateJSONReport generates a structured JSON report
func (rg *ReportGenerator) generateJSONReport(result *reconciler.Result, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	return encoder.Encode(rg.filterResultForOutput(result))
}

// csvHeaders are the columns of the flat CSV report
var csvHeaders = []string{
	"Type",
	"Transaction_ID",
	"Related_ID",
	"Institution",
	"Amount",
	"Confidence",
	"Status",
	"Complexity_Score",
	"Notes",
}

// generateCSVReport writes one row per finding
func (rg *ReportGenerator) generateCSVReport(result *reconciler.Result, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(csvHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, row := range rg.findingRows(result) {
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write %s record: %w", strings.ToLower(row[0]), err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// findingRows flattens the enabled sections into csvHeaders rows
func (rg *ReportGenerator) findingRows(result *reconciler.Result) [][]string {
	var rows [][]string

	if rg.config.IncludeDuplicates {
		for _, d := range result.Duplicates {
			rows = append(rows, []string{
				"Duplicate", d.TransactionID, d.MatchedTransactionID, "", "",
				formatConfidence(d.Confidence), string(d.MatchType), "", d.Reason,
			})
		}
	}

	if rg.config.IncludeTransfers {
		for _, t := range result.Transfers {
			rows = append(rows, []string{
				"Transfer", t.PrimaryTransactionID, t.SecondaryTransactionID,
				t.PrimaryInstitution + " -> " + t.SecondaryInstitution,
				t.TransferAmount.StringFixed(2), formatConfidence(t.Confidence),
				string(t.MappingStatus), "", t.Reason,
			})
		}
	}

	if rg.config.IncludeFees && result.FeeAnalysis != nil {
		for _, f := range result.FeeAnalysis.IdentifiedFees {
			expected := ""
			if f.ExpectedAmount != nil {
				expected = f.ExpectedAmount.StringFixed(2)
			}
			rows = append(rows, []string{
				"Fee", f.TransactionID, "", f.Institution, expected,
				formatConfidence(f.Confidence), f.FeeType, "", "",
			})
		}
		for _, u := range result.FeeAnalysis.UnusualFees {
			rows = append(rows, []string{
				"Unusual Fee", u.TransactionID, "", u.Institution, u.ActualAmount.StringFixed(2),
				formatConfidence(u.Confidence), u.FeeType, "", u.Reason,
			})
		}
	}

	if rg.config.IncludeTimingMatches {
		for _, m := range result.TimingMatches {
			rows = append(rows, []string{
				"Timing", m.TransactionID, m.MatchedTransactionID, m.Institution, "",
				formatConfidence(m.Confidence), string(m.MatchType), "", m.Reasoning,
			})
		}
	}

	if rg.config.IncludeReviewQueue {
		for _, e := range result.ReviewQueue {
			rows = append(rows, []string{
				"Review", e.TransactionID, "", "", "", "",
				string(e.SuggestedAction), fmt.Sprintf("%.2f", e.ComplexityScore),
				strings.Join(e.Reasons, "; "),
			})
		}
	}

	return rows
}

// Helper methods for console output formatting

func (rg *ReportGenerator) newTable(writer io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(writer)
	table.SetHeader(headers)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(true)
	table.SetColWidth(rg.config.TableMaxWidth / len(headers))
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

// appendLimited appends rows up to MaxRows and reports how many were cut
func (rg *ReportGenerator) appendLimited(table *tablewriter.Table, rows [][]string, writer io.Writer) {
	limit := len(rows)
	if rg.config.MaxRows > 0 && rg.config.MaxRows < limit {
		limit = rg.config.MaxRows
	}
	table.AppendBulk(rows[:limit])
	table.Render()

	if limit < len(rows) {
		fmt.Fprintf(writer, "  ... and %d more\n", len(rows)-limit)
	}
}

func (rg *ReportGenerator) printSummaryTable(stats reconciler.Statistics, writer io.Writer) {
	table := rg.newTable(writer, "Metric", "Count", "Share")

	total := stats.TotalProcessed
	row := func(name string, n int) []string {
		return []string{name, fmt.Sprintf("%d", n), fmt.Sprintf("%.1f%%", rg.calculatePercentage(n, total))}
	}

	table.Append([]string{"Total processed", fmt.Sprintf("%d", total), ""})
	table.AppendBulk([][]string{
		row("Auto matched", stats.AutoMatched),
		row("High confidence", stats.HighConfidence),
		row("Requires review", stats.RequiresReview),
		row("Cross-bank transfers", stats.CrossBankTransfers),
		row("Fees identified", stats.FeesIdentified),
		row("Invalid records", stats.InvalidRecords),
	})
	if stats.OutOfScope > 0 {
		table.Append([]string{"Out of scope", fmt.Sprintf("%d", stats.OutOfScope), ""})
	}
	table.Render()
}

func (rg *ReportGenerator) printDuplicates(result *reconciler.Result, writer io.Writer) {
	fmt.Fprintf(writer, "Likely duplicates: %d\n", len(result.Duplicates))

	rows := make([][]string, 0, len(result.Duplicates))
	for _, d := range result.Duplicates {
		rows = append(rows, []string{
			d.TransactionID, d.MatchedTransactionID, string(d.MatchType),
			formatConfidence(d.Confidence), d.Reason,
		})
	}
	rg.appendLimited(rg.newTable(writer, "Transaction", "Duplicates", "Match", "Confidence", "Reason"), rows, writer)
}

func (rg *ReportGenerator) printTransfers(result *reconciler.Result, writer io.Writer, p palette) {
	fmt.Fprintf(writer, "Transfers: %d\n", len(result.Transfers))

	rows := make([][]string, 0, len(result.Transfers))
	for _, t := range result.Transfers {
		status := p.good(string(t.MappingStatus))
		if !t.WithinExpectedWindow {
			status = p.warn(string(t.MappingStatus))
		}
		rows = append(rows, []string{
			fmt.Sprintf("%s (%s)", t.PrimaryTransactionID, t.PrimaryInstitution),
			fmt.Sprintf("%s (%s)", t.SecondaryTransactionID, t.SecondaryInstitution),
			t.TransferAmount.StringFixed(2),
			fmt.Sprintf("%.1fh / %.1fh", t.ActualDelayHours, t.ExpectedDelayHours),
			status,
			formatConfidence(t.Confidence),
		})
	}
	rg.appendLimited(rg.newTable(writer, "Outgoing", "Incoming", "Amount", "Delay (actual/expected)", "Status", "Confidence"), rows, writer)
}

func (rg *ReportGenerator) printFees(result *reconciler.Result, writer io.Writer, p palette) {
	fees := result.FeeAnalysis
	fmt.Fprintf(writer, "Fees identified: %d\n", len(fees.IdentifiedFees))

	rows := make([][]string, 0, len(fees.IdentifiedFees))
	for _, f := range fees.IdentifiedFees {
		expected := "-"
		if f.ExpectedAmount != nil {
			expected = f.ExpectedAmount.StringFixed(2)
		}
		rows = append(rows, []string{f.TransactionID, f.FeeType, f.Institution, expected, formatConfidence(f.Confidence)})
	}
	rg.appendLimited(rg.newTable(writer, "Transaction", "Fee type", "Institution", "Expected", "Confidence"), rows, writer)

	if len(fees.UnusualFees) > 0 {
		fmt.Fprintf(writer, "\n%s\n", p.warn(fmt.Sprintf("Unusual fees (%d):", len(fees.UnusualFees))))
		for _, u := range fees.UnusualFees {
			fmt.Fprintf(writer, "  - %s: %s\n", u.TransactionID, u.Reason)
		}
	}
}

func (rg *ReportGenerator) printTimingMatches(result *reconciler.Result, writer io.Writer) {
	rows := make([][]string, 0, len(result.TimingMatches))
	for _, m := range result.TimingMatches {
		window := "outside"
		if m.WithinProcessingWindow {
			window = "within"
		}
		match := "-"
		if m.MatchType != "" {
			match = fmt.Sprintf("%s %s", m.MatchType, m.MatchedTransactionID)
		}
		rows = append(rows, []string{
			m.TransactionID, m.Institution, window,
			fmt.Sprintf("%.1fh", m.ExpectedDelayHours), match, formatConfidence(m.Confidence),
		})
	}
	rg.appendLimited(rg.newTable(writer, "Transaction", "Institution", "Window", "Delay", "Match", "Confidence"), rows, writer)
}

func (rg *ReportGenerator) printReviewQueue(entries []*review.Entry, writer io.Writer, p palette) {
	if len(entries) == 0 {
		fmt.Fprintf(writer, "%s\n", p.good("No transactions require review"))
		return
	}

	fmt.Fprintf(writer, "Transactions requiring review: %d\n", len(entries))

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.TransactionID,
			fmt.Sprintf("%.2f", e.ComplexityScore),
			p.action(e.SuggestedAction),
			strings.Join(e.Reasons, "; "),
		})
	}
	rg.appendLimited(rg.newTable(writer, "Transaction", "Score", "Action", "Reasons"), rows, writer)
}

func (rg *ReportGenerator) printStageStats(result *reconciler.Result, writer io.Writer) {
	stages := make([]string, 0, len(result.Stages.StageDurations))
	for stage := range result.Stages.StageDurations {
		stages = append(stages, stage)
	}
	sort.Strings(stages)

	table := rg.newTable(writer, "Stage", "Duration")
	for _, stage := range stages {
		table.Append([]string{stage, result.Stages.StageDurations[stage].String()})
	}
	table.Render()
}

// Helper methods

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func formatConfidence(c float64) string {
	return fmt.Sprintf("%.2f", c)
}

func (rg *ReportGenerator) filterResultForOutput(result *reconciler.Result) map[string]interface{} {
	output := map[string]interface{}{
		"run_id":       result.RunID,
		"company_id":   result.CompanyID,
		"processed_at": result.ProcessedAt,
		"duration":     result.Duration.String(),
		"preferences":  result.Preferences,
		"statistics":   result.Statistics,
		"warnings":     nonNil(result.Warnings),
	}

	if rg.config.IncludeDuplicates {
		output["duplicates"] = result.Duplicates
	}

	if rg.config.IncludeTransfers {
		output["transfers"] = result.Transfers
	}

	if rg.config.IncludeFees && result.FeeAnalysis != nil {
		output["fee_analysis"] = result.FeeAnalysis
	}

	if rg.config.IncludeTimingMatches {
		output["timing_matches"] = result.TimingMatches
	}

	if rg.config.IncludeReviewQueue {
		output["review_queue"] = result.ReviewQueue
	}

	if rg.config.IncludeStageStats {
		output["stages"] = result.Stages
	}

	return output
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
