package reporter

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"golang-reconciliation-engine/internal/reconciler"
)

// Workbook sheet names
const (
	SheetSummary     = "Summary"
	SheetReviewQueue = "Review Queue"
	SheetDuplicates  = "Duplicates"
	SheetTransfers   = "Transfers"
	SheetFees        = "Fees"
	SheetTiming      = "Timing"
)

// generateXLSXReport writes a workbook with a summary sheet and one sheet
// per enabled section
func (rg *ReportGenerator) generateXLSXReport(result *reconciler.Result, writer io.Writer) error {
	book := excelize.NewFile()
	defer func() { _ = book.Close() }()

	bold, err := book.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := book.SetSheetName(book.GetSheetName(0), SheetSummary); err != nil {
		return err
	}

	stats := result.Statistics
	summary := [][]interface{}{
		{"Field", "Value"},
		{"Run", result.RunID},
		{"Company", result.CompanyID},
		{"Processed at", result.ProcessedAt.Format("2006-01-02 15:04:05 -0700")},
		{"Duration", result.Duration.String()},
		{"Total processed", stats.TotalProcessed},
		{"Auto matched", stats.AutoMatched},
		{"High confidence", stats.HighConfidence},
		{"Requires review", stats.RequiresReview},
		{"Cross-bank transfers", stats.CrossBankTransfers},
		{"Fees identified", stats.FeesIdentified},
		{"Invalid records", stats.InvalidRecords},
		{"Out of scope", stats.OutOfScope},
	}
	for _, w := range result.Warnings {
		summary = append(summary, []interface{}{"Warning", w})
	}
	if err := writeSheet(book, SheetSummary, summary, bold); err != nil {
		return err
	}

	sheets := []struct {
		name    string
		enabled bool
		rows    func() [][]interface{}
	}{
		{SheetReviewQueue, rg.config.IncludeReviewQueue, func() [][]interface{} {
			rows := [][]interface{}{{"Transaction", "Complexity score", "Suggested action", "Reasons"}}
			for _, e := range result.ReviewQueue {
				rows = append(rows, []interface{}{e.TransactionID, e.ComplexityScore, string(e.SuggestedAction), strings.Join(e.Reasons, "; ")})
			}
			return rows
		}},
		{SheetDuplicates, rg.config.IncludeDuplicates, func() [][]interface{} {
			rows := [][]interface{}{{"Transaction", "Duplicate of", "Match type", "Confidence", "Reason"}}
			for _, d := range result.Duplicates {
				rows = append(rows, []interface{}{d.TransactionID, d.MatchedTransactionID, string(d.MatchType), d.Confidence, d.Reason})
			}
			return rows
		}},
		{SheetTransfers, rg.config.IncludeTransfers, func() [][]interface{} {
			rows := [][]interface{}{{
				"Outgoing", "Outgoing institution", "Incoming", "Incoming institution", "Amount",
				"Expected delay (h)", "Actual delay (h)", "Within window", "Status", "Confidence",
			}}
			for _, t := range result.Transfers {
				amount, _ := t.TransferAmount.Float64()
				rows = append(rows, []interface{}{
					t.PrimaryTransactionID, t.PrimaryInstitution, t.SecondaryTransactionID, t.SecondaryInstitution, amount,
					t.ExpectedDelayHours, t.ActualDelayHours, t.WithinExpectedWindow, string(t.MappingStatus), t.Confidence,
				})
			}
			return rows
		}},
		{SheetFees, rg.config.IncludeFees && result.FeeAnalysis != nil, func() [][]interface{} {
			rows := [][]interface{}{{"Transaction", "Fee type", "Institution", "Expected amount", "Confidence", "Unusual"}}
			unusual := make(map[string]string, len(result.FeeAnalysis.UnusualFees))
			for _, u := range result.FeeAnalysis.UnusualFees {
				unusual[u.TransactionID] = u.Reason
			}
			for _, f := range result.FeeAnalysis.IdentifiedFees {
				var expected interface{}
				if f.ExpectedAmount != nil {
					expected, _ = f.ExpectedAmount.Float64()
				}
				rows = append(rows, []interface{}{f.TransactionID, f.FeeType, f.Institution, expected, f.Confidence, unusual[f.TransactionID]})
			}
			return rows
		}},
		{SheetTiming, rg.config.IncludeTimingMatches, func() [][]interface{} {
			rows := [][]interface{}{{
				"Transaction", "Institution", "Within window", "Immediate", "Cross institution",
				"Expected delay (h)", "Match type", "Matched", "Confidence", "Reasoning",
			}}
			for _, m := range result.TimingMatches {
				rows = append(rows, []interface{}{
					m.TransactionID, m.Institution, m.WithinProcessingWindow, m.ImmediatePayment, m.CrossInstitution,
					m.ExpectedDelayHours, string(m.MatchType), m.MatchedTransactionID, m.Confidence, m.Reasoning,
				})
			}
			return rows
		}},
	}

	for _, s := range sheets {
		if !s.enabled {
			continue
		}
		if _, err := book.NewSheet(s.name); err != nil {
			return fmt.Errorf("failed to add sheet %s: %w", s.name, err)
		}
		if err := writeSheet(book, s.name, s.rows(), bold); err != nil {
			return err
		}
	}

	return book.Write(writer)
}

// writeSheet writes rows from A1 down and styles the first row as a header
func writeSheet(book *excelize.File, sheet string, rows [][]interface{}, headerStyle int) error {
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := book.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}

	if len(rows) > 0 {
		if err := book.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
			return err
		}
		last, err := excelize.ColumnNumberToName(len(rows[0]))
		if err != nil {
			return err
		}
		if err := book.SetColWidth(sheet, "A", last, 20); err != nil {
			return err
		}
	}
	return nil
}
