package parsers

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// Standard field names. Each maps to one or more accepted column headers.
const (
	FieldID          = "id"
	FieldDescription = "description"
	FieldAmount      = "amount"
	FieldDebit       = "debit"
	FieldCredit      = "credit"
	FieldDirection   = "direction"
	FieldDate        = "date"
	FieldInstitution = "institution"
	FieldAccount     = "account"
	FieldReference   = "reference"
	FieldCategory    = "category"
)

// RecordParserConfig describes how a CSV batch maps onto transaction records
type RecordParserConfig struct {
	// Columns lists the accepted headers per standard field, in preference
	// order. Header matching is case-insensitive.
	Columns map[string][]string `json:"columns" yaml:"columns"`

	// DefaultInstitution and DefaultAccount apply when the file has no
	// such column or the cell is empty
	DefaultInstitution string `json:"default_institution,omitempty" yaml:"default_institution,omitempty"`
	DefaultAccount     string `json:"default_account,omitempty" yaml:"default_account,omitempty"`

	// TimeZone is used for timestamps without an explicit offset
	TimeZone string `json:"timezone" yaml:"timezone"`

	HasHeader bool `json:"has_header" yaml:"has_header"`
	Delimiter rune `json:"delimiter" yaml:"delimiter"`
}

// DefaultRecordParserConfig returns the column aliases of common South
// African bank exports
func DefaultRecordParserConfig() *RecordParserConfig {
	return &RecordParserConfig{
		Columns: map[string][]string{
			FieldID:          {"id", "transaction_id", "trxID", "unique_identifier"},
			FieldDescription: {"description", "narrative", "details", "transaction_description"},
			FieldAmount:      {"amount", "transaction_amount", "value"},
			FieldDebit:       {"debit", "debit_amount", "money_out"},
			FieldCredit:      {"credit", "credit_amount", "money_in"},
			FieldDirection:   {"direction", "type", "dr_cr"},
			FieldDate:        {"date", "timestamp", "transaction_date", "posting_date", "transactionTime"},
			FieldInstitution: {"institution", "bank"},
			FieldAccount:     {"account_id", "account", "account_number"},
			FieldReference:   {"reference", "ref"},
			FieldCategory:    {"category", "category_hint"},
		},
		TimeZone:  "Africa/Johannesburg",
		HasHeader: true,
		Delimiter: ',',
	}
}

// Validate checks if the parser configuration is valid
func (c *RecordParserConfig) Validate() error {
	if len(c.Columns[FieldDate]) == 0 {
		return fmt.Errorf("date column cannot be empty")
	}
	if len(c.Columns[FieldDescription]) == 0 {
		return fmt.Errorf("description column cannot be empty")
	}
	if len(c.Columns[FieldAmount]) == 0 && (len(c.Columns[FieldDebit]) == 0 || len(c.Columns[FieldCredit]) == 0) {
		return fmt.Errorf("either an amount column or both debit and credit columns are required")
	}
	if c.Delimiter == 0 || c.Delimiter == '\n' || c.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("invalid timezone '%s': %w", c.TimeZone, err)
	}
	return nil
}

// WithAlias adds header as an accepted column for field, ahead of the
// existing aliases
func (c *RecordParserConfig) WithAlias(field, header string) *RecordParserConfig {
	if c.Columns == nil {
		c.Columns = make(map[string][]string)
	}
	header = strings.TrimSpace(header)
	if header != "" {
		c.Columns[field] = append([]string{header}, c.Columns[field]...)
	}
	return c
}

// location returns the configured time zone, falling back to UTC
func (c *RecordParserConfig) location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
