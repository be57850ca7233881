// Package banking holds per-institution settlement knowledge: EFT
// processing windows, settlement delays, payment-rail patterns and fee
// patterns. Profiles are data, loaded from YAML or a repository, and are
// read-only once compiled.
package banking

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
)

// ProcessingWindow is the local time range in which an institution
// processes standard EFT payments.
type ProcessingWindow struct {
	Start        string   `yaml:"start" json:"start"`
	End          string   `yaml:"end" json:"end"`
	WeekdaysOnly bool     `yaml:"weekdays_only" json:"weekdays_only"`
	Holidays     []string `yaml:"holidays,omitempty" json:"holidays,omitempty"`
}

// SettlementDelays holds settlement delays in hours
type SettlementDelays struct {
	SameInstitutionHours  float64 `yaml:"same_institution_hours" json:"same_institution_hours"`
	CrossInstitutionHours float64 `yaml:"cross_institution_hours" json:"cross_institution_hours"`
	ImmediatePaymentHours float64 `yaml:"immediate_payment_hours" json:"immediate_payment_hours"`
}

// FeePattern identifies a recurring bank charge by description
type FeePattern struct {
	Type           string `yaml:"type" json:"type"`
	Pattern        string `yaml:"pattern" json:"pattern"`
	ExpectedAmount string `yaml:"expected_amount,omitempty" json:"expected_amount,omitempty"`
	Frequency      string `yaml:"frequency,omitempty" json:"frequency,omitempty"`

	regex    *regexp.Regexp
	expected *decimal.Decimal
}

// BankConfig is the settlement and fee profile of one institution
type BankConfig struct {
	Name                     string           `yaml:"name" json:"name"`
	Aliases                  []string         `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	TimeZone                 string           `yaml:"timezone" json:"timezone"`
	ProcessingWindow         ProcessingWindow `yaml:"processing_window" json:"processing_window"`
	Delays                   SettlementDelays `yaml:"delays" json:"delays"`
	ReferencePatterns        []string         `yaml:"reference_patterns,omitempty" json:"reference_patterns,omitempty"`
	ImmediatePatterns        []string         `yaml:"immediate_patterns,omitempty" json:"immediate_patterns,omitempty"`
	CrossInstitutionPatterns []string         `yaml:"cross_institution_patterns,omitempty" json:"cross_institution_patterns,omitempty"`
	FeePatterns              []*FeePattern    `yaml:"fee_patterns,omitempty" json:"fee_patterns,omitempty"`

	compiled    bool
	location    *time.Location
	windowStart time.Duration
	windowEnd   time.Duration
	holidays    map[string]struct{}
	reference   []*regexp.Regexp
	immediate   []*regexp.Regexp
	crossInst   []*regexp.Regexp
}

// DefaultProfile returns the generic profile used for unknown institutions:
// a 08:00 to 15:30 weekday window, 2h same-institution, 24h
// cross-institution and 1h immediate-payment delays.
func DefaultProfile() *BankConfig {
	return &BankConfig{
		Name:     "default",
		TimeZone: "Africa/Johannesburg",
		ProcessingWindow: ProcessingWindow{
			Start:        "08:00",
			End:          "15:30",
			WeekdaysOnly: true,
		},
		Delays: SettlementDelays{
			SameInstitutionHours:  2,
			CrossInstitutionHours: 24,
			ImmediatePaymentHours: 1,
		},
		ReferencePatterns: []string{`(?i)\bref(?:erence)?[:\s#-]*([a-z0-9-]{4,})`},
		ImmediatePatterns: []string{`(?i)\b(instant|immediate|real[\s-]?time|rtc|payshap|cash\s?send)\b`},
		CrossInstitutionPatterns: []string{
			`(?i)\b(eft|inter[\s-]?bank|external)\b`,
		},
		FeePatterns: []*FeePattern{
			{Type: "monthly_fee", Pattern: `(?i)\b(monthly|account)\s+(admin\s+)?fee\b`, Frequency: "monthly"},
			{Type: "transaction_fee", Pattern: `(?i)\b(transaction|txn)\s+(fee|charge)\b`, Frequency: "per_transaction"},
			{Type: "service_fee", Pattern: `(?i)\bservice\s+(fee|charge)\b`, Frequency: "monthly"},
		},
	}
}

// Compile parses times and regular expressions. It is called once when a
// profile is loaded; the profile must not be modified afterwards.
func (c *BankConfig) Compile() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("bank profile name cannot be empty")
	}

	tz := c.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("bank %s: invalid timezone '%s': %w", c.Name, tz, err)
	}
	c.location = loc

	if c.windowStart, err = parseClock(c.ProcessingWindow.Start); err != nil {
		return fmt.Errorf("bank %s: invalid window start: %w", c.Name, err)
	}
	if c.windowEnd, err = parseClock(c.ProcessingWindow.End); err != nil {
		return fmt.Errorf("bank %s: invalid window end: %w", c.Name, err)
	}
	if c.windowEnd <= c.windowStart {
		return fmt.Errorf("bank %s: window end %s must be after start %s", c.Name, c.ProcessingWindow.End, c.ProcessingWindow.Start)
	}

	c.holidays = make(map[string]struct{}, len(c.ProcessingWindow.Holidays))
	for _, h := range c.ProcessingWindow.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("bank %s: invalid holiday '%s': %w", c.Name, h, err)
		}
		c.holidays[h] = struct{}{}
	}

	if c.Delays.SameInstitutionHours < 0 || c.Delays.CrossInstitutionHours < 0 || c.Delays.ImmediatePaymentHours < 0 {
		return fmt.Errorf("bank %s: settlement delays cannot be negative", c.Name)
	}

	if c.reference, err = compileAll(c.ReferencePatterns); err != nil {
		return fmt.Errorf("bank %s: reference pattern: %w", c.Name, err)
	}
	if c.immediate, err = compileAll(c.ImmediatePatterns); err != nil {
		return fmt.Errorf("bank %s: immediate pattern: %w", c.Name, err)
	}
	if c.crossInst, err = compileAll(c.CrossInstitutionPatterns); err != nil {
		return fmt.Errorf("bank %s: cross-institution pattern: %w", c.Name, err)
	}

	for _, fp := range c.FeePatterns {
		if err := fp.Compile(); err != nil {
			return fmt.Errorf("bank %s: %w", c.Name, err)
		}
	}

	c.compiled = true
	return nil
}

// Compile parses the fee regex and expected amount
func (fp *FeePattern) Compile() error {
	if strings.TrimSpace(fp.Type) == "" {
		return fmt.Errorf("fee pattern type cannot be empty")
	}
	re, err := regexp.Compile(fp.Pattern)
	if err != nil {
		return fmt.Errorf("fee pattern %s: %w", fp.Type, err)
	}
	fp.regex = re

	fp.expected = nil
	if strings.TrimSpace(fp.ExpectedAmount) != "" {
		amount, err := decimal.NewFromString(strings.TrimSpace(fp.ExpectedAmount))
		if err != nil {
			return fmt.Errorf("fee pattern %s: invalid expected amount '%s': %w", fp.Type, fp.ExpectedAmount, err)
		}
		if !amount.IsPositive() {
			return fmt.Errorf("fee pattern %s: expected amount must be positive", fp.Type)
		}
		fp.expected = &amount
	}
	return nil
}

// Matches reports whether the description matches the fee pattern
func (fp *FeePattern) Matches(description string) bool {
	return fp.regex != nil && fp.regex.MatchString(description)
}

// Expected returns the configured expected amount, if any
func (fp *FeePattern) Expected() (decimal.Decimal, bool) {
	if fp.expected == nil {
		return decimal.Zero, false
	}
	return *fp.expected, true
}

// Location returns the profile time zone
func (c *BankConfig) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// Names returns the canonical lookup keys of the profile
func (c *BankConfig) Names() []string {
	names := []string{CanonicalName(c.Name)}
	for _, alias := range c.Aliases {
		names = append(names, CanonicalName(alias))
	}
	return names
}

// IsWithinProcessingWindow reports whether ts falls inside the EFT window
func (c *BankConfig) IsWithinProcessingWindow(ts time.Time) bool {
	local := ts.In(c.Location())
	if !c.isProcessingDay(local) {
		return false
	}
	offset := sinceMidnight(local)
	return offset >= c.windowStart && offset <= c.windowEnd
}

// NextWindowOpening returns ts itself when it is inside the window,
// otherwise the next time the window opens.
func (c *BankConfig) NextWindowOpening(ts time.Time) time.Time {
	local := ts.In(c.Location())
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.Location())

	for i := 0; i < 31; i++ {
		d := midnight.AddDate(0, 0, i)
		if !c.isProcessingDay(d) {
			continue
		}
		open := d.Add(c.windowStart)
		closing := d.Add(c.windowEnd)
		if local.Before(open) {
			return open
		}
		if !local.After(closing) {
			return local
		}
	}

	return local
}

// ExtractReference returns the first reference captured from description
func (c *BankConfig) ExtractReference(description string) string {
	for _, re := range c.reference {
		if m := re.FindStringSubmatch(description); m != nil {
			if len(m) > 1 {
				return m[1]
			}
			return m[0]
		}
	}
	return ""
}

func (c *BankConfig) isProcessingDay(local time.Time) bool {
	if c.ProcessingWindow.WeekdaysOnly {
		if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return false
		}
	}
	_, holiday := c.holidays[local.Format("2006-01-02")]
	return !holiday
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern '%s': %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got '%s'", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func sinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
}

// CanonicalName folds an institution name for lookups
func CanonicalName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
