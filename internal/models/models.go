package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"golang-reconciliation-engine/pkg/errors"
)

// Direction represents the direction of money movement on an account
type Direction string

const (
	// DirectionDebit is money leaving the account
	DirectionDebit Direction = "debit"
	// DirectionCredit is money entering the account
	DirectionCredit Direction = "credit"
)

// String returns the string representation of Direction
func (d Direction) String() string {
	return string(d)
}

// IsValid checks if the direction is valid
func (d Direction) IsValid() bool {
	return d == DirectionDebit || d == DirectionCredit
}

// TransactionRecord is one already-parsed bank transaction. Records are
// created once per incoming row and never mutated afterwards.
type TransactionRecord struct {
	ID           string            `json:"id"`
	Description  string            `json:"description"`
	Amount       decimal.Decimal   `json:"amount"`
	Date         time.Time         `json:"date"`
	Direction    Direction         `json:"direction"`
	Institution  string            `json:"institution"`
	AccountID    string            `json:"account_id"`
	Reference    string            `json:"reference,omitempty"`
	CategoryHint string            `json:"category_hint,omitempty"`
	Source       map[string]string `json:"source,omitempty"`

	// Malformed is set by the input layer when amount or date could not be
	// parsed. Such records are kept so they can be surfaced for review.
	Malformed string `json:"malformed,omitempty"`
}

// NewTransactionRecord creates a new TransactionRecord instance
func NewTransactionRecord(id, description string, amount decimal.Decimal, date time.Time, direction Direction, institution, accountID string) *TransactionRecord {
	return &TransactionRecord{
		ID:          id,
		Description: description,
		Amount:      amount,
		Date:        date,
		Direction:   direction,
		Institution: institution,
		AccountID:   accountID,
	}
}

// Validate reports whether the record can take part in comparisons.
func (r *TransactionRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.ValidationError(errors.CodeMissingField, "id", r.ID, nil)
	}

	if r.Malformed != "" {
		return errors.ValidationError(errors.CodeInvalidData, "record", r.ID, fmt.Errorf("%s", r.Malformed))
	}

	if r.Amount.IsZero() {
		return errors.ValidationError(errors.CodeInvalidAmount, "amount", r.Amount.String(), nil).
			WithContext("record_id", r.ID)
	}

	if r.Date.IsZero() {
		return errors.ValidationError(errors.CodeInvalidDate, "date", "", nil).
			WithContext("record_id", r.ID)
	}

	if !r.Direction.IsValid() {
		return errors.ValidationError(errors.CodeInvalidData, "direction", string(r.Direction), nil).
			WithContext("record_id", r.ID)
	}

	return nil
}

// IsValid is a shorthand for Validate() == nil
func (r *TransactionRecord) IsValid() bool {
	return r.Validate() == nil
}

// AbsAmount returns the absolute value of the record amount
func (r *TransactionRecord) AbsAmount() decimal.Decimal {
	return r.Amount.Abs()
}

// IsDebit returns true if the record is a debit
func (r *TransactionRecord) IsDebit() bool {
	return r.Direction == DirectionDebit
}

// IsCredit returns true if the record is a credit
func (r *TransactionRecord) IsCredit() bool {
	return r.Direction == DirectionCredit
}

// String returns a string representation of the record
func (r *TransactionRecord) String() string {
	return fmt.Sprintf("TransactionRecord{ID: %s, Amount: %s, Direction: %s, Date: %s, Institution: %s}",
		r.ID, r.Amount.String(), r.Direction, r.Date.Format(time.RFC3339), r.Institution)
}

// MarshalJSON writes the amount as a string so no precision is lost
func (r *TransactionRecord) MarshalJSON() ([]byte, error) {
	type Alias TransactionRecord
	return json.Marshal(&struct {
		Amount string `json:"amount"`
		*Alias
	}{
		Amount: r.Amount.String(),
		Alias:  (*Alias)(r),
	})
}

// CategoryHints maps record id to an externally computed category label.
type CategoryHints map[string]string

// HintFor returns the category hint for a record, preferring the explicit map.
func (h CategoryHints) HintFor(r *TransactionRecord) string {
	if h != nil {
		if hint, ok := h[r.ID]; ok {
			return strings.ToLower(strings.TrimSpace(hint))
		}
	}
	return strings.ToLower(strings.TrimSpace(r.CategoryHint))
}

// ParseDecimalFromString parses an amount, tolerating currency symbols,
// thousand separators and a trailing DR/CR marker.
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	negative := false
	upper := strings.ToUpper(s)
	switch {
	case strings.HasSuffix(upper, "DR"):
		negative = true
		s = strings.TrimSpace(s[:len(s)-2])
	case strings.HasSuffix(upper, "CR"):
		s = strings.TrimSpace(s[:len(s)-2])
	}

	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}

	s = strings.NewReplacer("R", "", "$", "", ",", "", " ", "").Replace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	if negative && d.IsPositive() {
		d = d.Neg()
	}
	return d, nil
}

// ParseDirection parses and validates a direction from string
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBIT", "D", "DR":
		return DirectionDebit, nil
	case "CREDIT", "C", "CR":
		return DirectionCredit, nil
	default:
		return "", fmt.Errorf("invalid direction '%s': must be debit or credit", s)
	}
}

// DirectionFromAmount infers a direction from the sign of a signed amount
func DirectionFromAmount(amount decimal.Decimal) Direction {
	if amount.IsNegative() {
		return DirectionDebit
	}
	return DirectionCredit
}

var timeFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"02/01/2006 15:04",
	"02/01/2006",
	"02 Jan 2006",
	"2 January 2006",
}

// ParseTimeInLocation parses a timestamp using the common bank export
// formats. Values without an explicit offset are read in loc.
func ParseTimeInLocation(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}
	if loc == nil {
		loc = time.UTC
	}

	var lastErr error
	for _, format := range timeFormats {
		t, err := time.ParseInLocation(format, s, loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}

// CalendarDaysBetween returns the absolute number of calendar days between
// two timestamps, ignoring the time of day.
func CalendarDaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	days := int(da.Sub(db).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}
