package parsers

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"
)

// headerlessOrder is the column order assumed when a file has no header row
var headerlessOrder = []string{FieldID, FieldDate, FieldDescription, FieldAmount, FieldInstitution, FieldAccount, FieldReference}

// RecordParser turns CSV bank exports into transaction records
type RecordParser struct {
	*BaseParser
	config   *RecordParserConfig
	location *time.Location
	logger   logger.Logger
}

// columns is the resolved column index per standard field
type columns map[string]int

func (c columns) has(field string) bool {
	return c[field] >= 0
}

// NewRecordParser creates a new RecordParser with the given configuration
func NewRecordParser(config *RecordParserConfig) (*RecordParser, error) {
	if config == nil {
		config = DefaultRecordParserConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "record_parser_config", config.TimeZone, err).
			WithSuggestion("check the parser column and timezone settings")
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = config.HasHeader
	parseConfig.Delimiter = config.Delimiter

	return &RecordParser{
		BaseParser: NewBaseParser(parseConfig),
		config:     config,
		location:   config.location(),
		logger:     logger.GetGlobalLogger().WithComponent("record_parser"),
	}, nil
}

// ParseFile parses a CSV or XLSX file of transactions, chosen by extension
func (rp *RecordParser) ParseFile(ctx context.Context, filePath string) ([]*models.TransactionRecord, *ParseStats, error) {
	if strings.EqualFold(filepath.Ext(filePath), ".xlsx") {
		file, err := os.Open(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
			}
			return nil, nil, errors.FileError(errors.CodeFilePermission, filePath, err)
		}
		defer func() { _ = file.Close() }()
		return rp.ParseXLSX(ctx, file, filePath)
	}

	file, _, err := rp.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = file.Close() }()

	return rp.Parse(ctx, file, filePath)
}

// Parse parses CSV transactions from r. source names the input in errors
// and generated record ids.
func (rp *RecordParser) Parse(ctx context.Context, r io.Reader, source string) ([]*models.TransactionRecord, *ParseStats, error) {
	reader := rp.NewReader(r)
	parseCtx := NewParseContext(ctx, source)

	if err := rp.ReadHeaders(reader, parseCtx, rp.headerlessHeaders()); err != nil {
		return nil, NewParseStats(), err
	}

	return rp.parseRows(parseCtx, func() ([]string, error) {
		return rp.ReadRecord(reader, parseCtx)
	})
}

// ParseXLSX parses transactions from the first sheet of an XLSX workbook
func (rp *RecordParser) ParseXLSX(ctx context.Context, r io.Reader, source string) ([]*models.TransactionRecord, *ParseStats, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, NewParseStats(), errors.ParseError(errors.CodeInvalidFormat, source, 0, "workbook", "", err).
			WithSuggestion("check the file is a valid XLSX workbook")
	}
	defer func() { _ = book.Close() }()

	rows, err := book.GetRows(book.GetSheetName(0))
	if err != nil {
		return nil, NewParseStats(), errors.ParseError(errors.CodeInvalidFormat, source, 0, "sheet", book.GetSheetName(0), err)
	}

	parseCtx := NewParseContext(ctx, source)
	if rp.config.HasHeader {
		if len(rows) == 0 {
			return nil, NewParseStats(), errors.ValidationError(errors.CodeMissingField, "file_content", "empty", nil).
				WithSuggestion("ensure the first sheet contains a header row and data rows")
		}
		parseCtx.Headers = make([]string, len(rows[0]))
		for i, h := range rows[0] {
			parseCtx.Headers[i] = strings.TrimSpace(h)
		}
		parseCtx.LineNumber = 1
		rows = rows[1:]
	} else {
		parseCtx.Headers = rp.headerlessHeaders()
	}

	return rp.parseRows(parseCtx, func() ([]string, error) {
		for {
			if err := parseCtx.Err(); err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				return nil, io.EOF
			}
			row := rows[0]
			rows = rows[1:]
			parseCtx.LineNumber++
			if !isEmptyRow(row) {
				return row, nil
			}
		}
	})
}

// parseRows turns every row returned by next into a record until io.EOF
func (rp *RecordParser) parseRows(parseCtx *ParseContext, next func() ([]string, error)) ([]*models.TransactionRecord, *ParseStats, error) {
	log := rp.logger.WithField("source", parseCtx.Source)
	log.Info("Starting record parsing")

	stats := NewParseStats()
	cols, err := rp.resolveColumns(parseCtx)
	if err != nil {
		log.WithError(err).WithField("headers", parseCtx.Headers).Error("Required columns are missing")
		return nil, stats, err
	}

	prefix := strings.TrimSuffix(filepath.Base(parseCtx.Source), filepath.Ext(parseCtx.Source))
	seen := make(map[string]int)
	var records []*models.TransactionRecord

	for {
		row, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctxErr := parseCtx.Err(); ctxErr != nil {
				return records, stats, errors.ReconciliationError(errors.CodeCancelled, "parsing", ctxErr)
			}
			stats.AddError(rowError(parseCtx.LineNumber, err))
			continue
		}

		record := rp.recordFromRow(row, cols, parseCtx.Headers)
		if record.ID == "" {
			record.ID = fmt.Sprintf("%s-%d", prefix, parseCtx.LineNumber)
		}
		if first, dup := seen[record.ID]; dup {
			stats.AddError(&ParseError{
				Line:    parseCtx.LineNumber,
				Field:   FieldID,
				Value:   record.ID,
				Message: fmt.Sprintf("id already used on line %d, renamed", first),
			})
			record.ID = fmt.Sprintf("%s#%d", record.ID, parseCtx.LineNumber)
		}
		seen[record.ID] = parseCtx.LineNumber

		if record.Malformed != "" {
			stats.RecordsMalformed++
			stats.AddError(&ParseError{Line: parseCtx.LineNumber, Field: "record", Value: record.ID, Message: record.Malformed})
		}

		records = append(records, record)
		stats.RecordsParsed++
	}

	stats.TotalLines = parseCtx.LineNumber

	log.WithFields(logger.Fields{
		"total_lines":       stats.TotalLines,
		"records_parsed":    stats.RecordsParsed,
		"records_malformed": stats.RecordsMalformed,
		"error_count":       stats.ErrorCount,
	}).Info("Record parsing completed")
	if stats.HasErrors() {
		log.WithField("sample_errors", stats.SampleErrors(3)).Warn("Encountered problems during parsing")
	}

	return records, stats, nil
}

func rowError(line int, err error) *ParseError {
	if pe, ok := err.(*ParseError); ok {
		return pe
	}
	return &ParseError{Line: line, Field: "record", Message: "failed to read record", Err: err}
}

func (rp *RecordParser) headerlessHeaders() []string {
	headers := make([]string, 0, len(headerlessOrder))
	for _, field := range headerlessOrder {
		if aliases := rp.config.Columns[field]; len(aliases) > 0 {
			headers = append(headers, aliases[0])
		} else {
			headers = append(headers, field)
		}
	}
	return headers
}

// resolveColumns maps each standard field to a header index
func (rp *RecordParser) resolveColumns(parseCtx *ParseContext) (columns, error) {
	cols := make(columns)
	for _, field := range []string{FieldID, FieldDescription, FieldAmount, FieldDebit, FieldCredit,
		FieldDirection, FieldDate, FieldInstitution, FieldAccount, FieldReference, FieldCategory} {
		cols[field] = parseCtx.ColumnIndex(rp.config.Columns[field]...)
	}

	var missing []string
	if !cols.has(FieldDate) {
		missing = append(missing, FieldDate)
	}
	if !cols.has(FieldDescription) {
		missing = append(missing, FieldDescription)
	}
	if !cols.has(FieldAmount) && !(cols.has(FieldDebit) && cols.has(FieldCredit)) {
		missing = append(missing, FieldAmount)
	}

	if len(missing) > 0 {
		return nil, errors.ParseError(errors.CodeMissingColumn, parseCtx.Source, parseCtx.LineNumber,
			strings.Join(missing, ", "), "", nil).
			WithSuggestion(fmt.Sprintf("available headers: %s", strings.Join(parseCtx.Headers, ", ")))
	}
	return cols, nil
}

// recordFromRow builds a record from one row. Amount, direction and date
// problems mark the record malformed instead of failing the row.
func (rp *RecordParser) recordFromRow(row []string, cols columns, headers []string) *models.TransactionRecord {
	record := &models.TransactionRecord{
		ID:           fieldAt(row, cols[FieldID]),
		Description:  fieldAt(row, cols[FieldDescription]),
		Institution:  fieldAt(row, cols[FieldInstitution]),
		AccountID:    fieldAt(row, cols[FieldAccount]),
		Reference:    fieldAt(row, cols[FieldReference]),
		CategoryHint: fieldAt(row, cols[FieldCategory]),
		Source:       make(map[string]string, len(headers)),
	}
	for i, h := range headers {
		if i < len(row) {
			record.Source[h] = row[i]
		}
	}
	if record.Institution == "" {
		record.Institution = rp.config.DefaultInstitution
	}
	if record.AccountID == "" {
		record.AccountID = rp.config.DefaultAccount
	}

	var problems []string

	amount, err := rp.parseAmount(row, cols)
	if err != nil {
		problems = append(problems, err.Error())
	}

	direction := models.DirectionFromAmount(amount)
	if raw := fieldAt(row, cols[FieldDirection]); raw != "" {
		parsed, err := models.ParseDirection(raw)
		if err != nil {
			problems = append(problems, err.Error())
		} else {
			direction = parsed
			amount = amount.Abs()
			if direction == models.DirectionDebit {
				amount = amount.Neg()
			}
		}
	}
	record.Amount = amount
	record.Direction = direction

	if raw := fieldAt(row, cols[FieldDate]); raw == "" {
		problems = append(problems, "missing date")
	} else if ts, err := models.ParseTimeInLocation(raw, rp.location); err != nil {
		problems = append(problems, fmt.Sprintf("invalid date '%s'", raw))
	} else {
		record.Date = ts
	}

	record.Malformed = strings.Join(problems, "; ")
	return record
}

func (rp *RecordParser) parseAmount(row []string, cols columns) (decimal.Decimal, error) {
	if cols.has(FieldAmount) {
		if raw := fieldAt(row, cols[FieldAmount]); raw != "" {
			amount, err := models.ParseDecimalFromString(raw)
			if err != nil {
				return decimal.Zero, fmt.Errorf("invalid amount '%s'", raw)
			}
			return amount, nil
		}
	}

	debit, credit := fieldAt(row, cols[FieldDebit]), fieldAt(row, cols[FieldCredit])
	switch {
	case debit != "" && credit != "":
		return decimal.Zero, fmt.Errorf("both debit '%s' and credit '%s' are set", debit, credit)
	case debit != "":
		amount, err := models.ParseDecimalFromString(debit)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid amount '%s'", debit)
		}
		return amount.Abs().Neg(), nil
	case credit != "":
		amount, err := models.ParseDecimalFromString(credit)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid amount '%s'", credit)
		}
		return amount.Abs(), nil
	}

	return decimal.Zero, fmt.Errorf("missing amount")
}
