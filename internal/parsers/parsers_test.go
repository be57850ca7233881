package parsers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/pkg/errors"
)

// Helper function to create temporary CSV file
func createTempCSVFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "statement.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}

func newParser(t *testing.T, config *RecordParserConfig) *RecordParser {
	t.Helper()
	parser, err := NewRecordParser(config)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}
	return parser
}

func TestDefaultParseConfig(t *testing.T) {
	config := DefaultParseConfig()

	if !config.HasHeader {
		t.Error("Expected HasHeader to be true")
	}
	if config.Delimiter != ',' {
		t.Errorf("Expected delimiter to be ',', got %q", config.Delimiter)
	}
	if !config.SkipEmptyRows {
		t.Error("Expected SkipEmptyRows to be true")
	}
}

func TestParseError(t *testing.T) {
	err := &ParseError{
		Line:    5,
		Field:   "amount",
		Value:   "invalid",
		Message: "invalid format",
	}

	expected := "parse error at line 5 (amount='invalid'): invalid format"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestRecordParserConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*RecordParserConfig)
		wantError bool
	}{
		{"Valid config", func(*RecordParserConfig) {}, false},
		{"No date column", func(c *RecordParserConfig) { delete(c.Columns, FieldDate) }, true},
		{"No description column", func(c *RecordParserConfig) { c.Columns[FieldDescription] = nil }, true},
		{"Debit and credit instead of amount", func(c *RecordParserConfig) { delete(c.Columns, FieldAmount) }, false},
		{"No amount columns at all", func(c *RecordParserConfig) {
			delete(c.Columns, FieldAmount)
			delete(c.Columns, FieldCredit)
		}, true},
		{"Bad timezone", func(c *RecordParserConfig) { c.TimeZone = "Mars/Olympus" }, true},
		{"Quote delimiter", func(c *RecordParserConfig) { c.Delimiter = '"' }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultRecordParserConfig()
			tt.modify(config)
			err := config.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestNewRecordParser_InvalidConfig(t *testing.T) {
	config := DefaultRecordParserConfig()
	config.TimeZone = "nowhere"

	_, err := NewRecordParser(config)
	rerr, ok := errors.AsReconcilerError(err)
	if !ok {
		t.Fatalf("Expected ReconcilerError, got %v", err)
	}
	if rerr.Category != errors.CategoryConfiguration {
		t.Errorf("Expected configuration error, got %s", rerr.Category)
	}
}

func TestRecordParser_ParseFile(t *testing.T) {
	content := `id,date,description,amount,institution,account_id,reference,category
T1,2024-01-10 10:00,EFT TO ABSA SAVINGS,-5000.00,FNB,ACC-1,INV-77,transfers
T2,2024-01-11 08:00,EFT FROM FNB,"R5,000.00",ABSA,ACC-2,,
T3,2024-01-31,MONTHLY ACCOUNT FEE,69.00 DR,FNB,ACC-1,,bank fees
`
	parser := newParser(t, nil)

	records, stats, err := parser.ParseFile(context.Background(), createTempCSVFile(t, content))
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	if stats.RecordsParsed != 3 || stats.RecordsMalformed != 0 || stats.HasErrors() {
		t.Errorf("Unexpected stats: %s", stats)
	}

	sast, _ := time.LoadLocation("Africa/Johannesburg")

	first := records[0]
	if first.ID != "T1" || first.Institution != "FNB" || first.AccountID != "ACC-1" {
		t.Errorf("Unexpected first record %+v", first)
	}
	if !first.Amount.Equal(decimal.RequireFromString("-5000")) || first.Direction != models.DirectionDebit {
		t.Errorf("Expected debit of -5000, got %s %s", first.Amount, first.Direction)
	}
	if !first.Date.Equal(time.Date(2024, 1, 10, 10, 0, 0, 0, sast)) {
		t.Errorf("Expected date read in SAST, got %s", first.Date)
	}
	if first.Reference != "INV-77" || first.CategoryHint != "transfers" {
		t.Errorf("Expected reference and category hint, got %q %q", first.Reference, first.CategoryHint)
	}
	if first.Source["description"] != "EFT TO ABSA SAVINGS" {
		t.Errorf("Expected raw source row, got %v", first.Source)
	}

	if !records[1].Amount.Equal(decimal.RequireFromString("5000")) || records[1].Direction != models.DirectionCredit {
		t.Errorf("Expected credit of 5000, got %s %s", records[1].Amount, records[1].Direction)
	}
	if !records[2].Amount.Equal(decimal.RequireFromString("-69")) {
		t.Errorf("Expected DR suffix to make a debit, got %s", records[2].Amount)
	}

	for _, r := range records {
		if !r.IsValid() {
			t.Errorf("Expected %s to be valid: %v", r.ID, r.Validate())
		}
	}
}

func TestRecordParser_MalformedRowsAreKept(t *testing.T) {
	content := `id,date,description,amount
A,2024-01-05,SPAR,abc
B,not-a-date,WOOLWORTHS,-120.00
C,,CHECKERS,
D,2024-01-06,PICK N PAY,-80.00
`
	parser := newParser(t, nil)

	records, stats, err := parser.Parse(context.Background(), strings.NewReader(content), "batch.csv")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(records) != 4 {
		t.Fatalf("Expected malformed rows to be kept, got %d records", len(records))
	}
	if stats.RecordsMalformed != 3 {
		t.Errorf("Expected 3 malformed records, got %d", stats.RecordsMalformed)
	}

	tests := []struct {
		id      string
		problem string
	}{
		{"A", "invalid amount 'abc'"},
		{"B", "invalid date 'not-a-date'"},
		{"C", "missing amount; missing date"},
		{"D", ""},
	}
	for i, tt := range tests {
		r := records[i]
		if r.ID != tt.id {
			t.Errorf("Expected record %s at %d, got %s", tt.id, i, r.ID)
		}
		if r.Malformed != tt.problem {
			t.Errorf("Record %s: expected malformed %q, got %q", tt.id, tt.problem, r.Malformed)
		}
		if (tt.problem == "") != r.IsValid() {
			t.Errorf("Record %s: validity does not match malformed marker", tt.id)
		}
	}
}

func TestRecordParser_ColumnAliasesAndSplitAmounts(t *testing.T) {
	content := `Transaction_ID;Posting_Date;Narrative;Money_Out;Money_In;Type
X1;15/01/2024;CARD PURCHASE;250.00;;
X2;16/01/2024;SALARY;;25000.00;
X3;17/01/2024;REVERSAL;40.00;;CR
`
	config := DefaultRecordParserConfig()
	config.Delimiter = ';'
	config.DefaultInstitution = "Capitec"
	config.DefaultAccount = "SAVINGS"

	records, _, err := newParser(t, config).Parse(context.Background(), strings.NewReader(content), "capitec.csv")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}

	if !records[0].Amount.Equal(decimal.RequireFromString("-250")) {
		t.Errorf("Expected money out to be negative, got %s", records[0].Amount)
	}
	if !records[1].Amount.Equal(decimal.RequireFromString("25000")) {
		t.Errorf("Expected money in to be positive, got %s", records[1].Amount)
	}
	if records[2].Direction != models.DirectionCredit || !records[2].Amount.IsPositive() {
		t.Errorf("Expected explicit CR direction to win, got %s %s", records[2].Amount, records[2].Direction)
	}
	if records[0].Institution != "Capitec" || records[0].AccountID != "SAVINGS" {
		t.Errorf("Expected defaults applied, got %q %q", records[0].Institution, records[0].AccountID)
	}
	if records[0].Date.Day() != 15 || records[0].Date.Month() != time.January {
		t.Errorf("Expected day-first date, got %s", records[0].Date)
	}
}

func TestRecordParser_GeneratesAndDeduplicatesIDs(t *testing.T) {
	content := `id,date,description,amount
,2024-01-05,SPAR,-10
DUP,2024-01-05,SPAR,-11
DUP,2024-01-05,SPAR,-12
`
	records, stats, err := newParser(t, nil).Parse(context.Background(), strings.NewReader(content), "/tmp/jan.csv")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	ids := []string{records[0].ID, records[1].ID, records[2].ID}
	expected := []string{"jan-2", "DUP", "DUP#4"}
	for i := range ids {
		if ids[i] != expected[i] {
			t.Errorf("Expected id %q at %d, got %q", expected[i], i, ids[i])
		}
	}
	if stats.ErrorCount != 1 {
		t.Errorf("Expected one duplicate id warning, got %d", stats.ErrorCount)
	}
}

func TestRecordParser_HeaderlessFile(t *testing.T) {
	config := DefaultRecordParserConfig()
	config.HasHeader = false

	records, _, err := newParser(t, config).Parse(context.Background(),
		strings.NewReader("H1,2024-02-01,NETFLIX,-199.00,FNB,ACC-9\n"), "feed")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != "H1" || records[0].AccountID != "ACC-9" {
		t.Errorf("Unexpected records %+v", records)
	}
}

func TestRecordParser_ParseXLSX(t *testing.T) {
	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	rows := [][]interface{}{
		{"Transaction_ID", "Date", "Description", "Amount", "Bank"},
		{"X1", "2024-03-01", "PAYSHAP TO J SMITH", "-500.00", "Capitec"},
		{},
		{"X2", "2024-03-02", "SERVICE FEE", "bad", "Capitec"},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := book.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("Failed to write row: %v", err)
		}
	}
	path := filepath.Join(t.TempDir(), "statement.xlsx")
	if err := book.SaveAs(path); err != nil {
		t.Fatalf("Failed to save workbook: %v", err)
	}

	records, stats, err := newParser(t, nil).ParseFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].ID != "X1" || records[0].Institution != "Capitec" || !records[0].IsValid() {
		t.Errorf("Unexpected first record %+v", records[0])
	}
	if records[1].Malformed != "invalid amount 'bad'" {
		t.Errorf("Expected malformed amount, got %q", records[1].Malformed)
	}
	if stats.TotalLines != 4 {
		t.Errorf("Expected 4 lines, got %d", stats.TotalLines)
	}
}

func TestRecordParser_StructuralErrors(t *testing.T) {
	parser := newParser(t, nil)

	_, _, err := parser.Parse(context.Background(), strings.NewReader("id,when,amount\n1,2024-01-01,5\n"), "bad.csv")
	rerr, ok := errors.AsReconcilerError(err)
	if !ok || rerr.Code != errors.CodeMissingColumn {
		t.Errorf("Expected missing column error, got %v", err)
	}

	_, _, err = parser.Parse(context.Background(), strings.NewReader(""), "empty.csv")
	if err == nil {
		t.Error("Expected error for empty input")
	}

	_, _, err = parser.ParseFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	rerr, ok = errors.AsReconcilerError(err)
	if !ok || rerr.Code != errors.CodeFileNotFound {
		t.Errorf("Expected file not found, got %v", err)
	}
}

func TestRecordParser_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newParser(t, nil).Parse(ctx, strings.NewReader("id,date,description,amount\nA,2024-01-01,X,1\n"), "x.csv")
	rerr, ok := errors.AsReconcilerError(err)
	if !ok || rerr.Code != errors.CodeCancelled {
		t.Errorf("Expected cancellation error, got %v", err)
	}
}

func TestParseContext_ColumnIndex(t *testing.T) {
	parseCtx := NewParseContext(context.Background(), "test")
	parseCtx.Headers = []string{"ID", "Posting_Date", "Amount"}

	tests := []struct {
		names    []string
		expected int
	}{
		{[]string{"id"}, 0},
		{[]string{"date", "posting_date"}, 1},
		{[]string{"AMOUNT"}, 2},
		{[]string{"missing"}, -1},
	}

	for _, tt := range tests {
		if got := parseCtx.ColumnIndex(tt.names...); got != tt.expected {
			t.Errorf("ColumnIndex(%v) = %d, want %d", tt.names, got, tt.expected)
		}
	}
}
