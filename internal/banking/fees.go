package banking

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/pkg/logger"
)

// FeeTypeCategorised is reported for debits whose category hint says fee but
// no fee pattern matched the description.
const FeeTypeCategorised = "categorised_fee"

const (
	unpricedFeeConfidence    = 0.7
	categorisedFeeConfidence = 0.5
	hintBonus                = 0.1

	// UnusualFeeDeviation is the relative deviation from the expected amount
	// above which a fee is flagged
	UnusualFeeDeviation = 0.2
)

// FeeTag marks a debit as a recognised bank charge
type FeeTag struct {
	TransactionID  string           `json:"transaction_id"`
	FeeType        string           `json:"fee_type"`
	Confidence     float64          `json:"confidence"`
	ExpectedAmount *decimal.Decimal `json:"expected_amount,omitempty"`
	Institution    string           `json:"institution"`
}

// UnusualFee is a fee whose amount deviates from the expected amount by more
// than UnusualFeeDeviation
type UnusualFee struct {
	*FeeTag
	ActualAmount     decimal.Decimal `json:"actual_amount"`
	DeviationPercent float64         `json:"deviation_percent"`
	Reason           string          `json:"reason"`
}

// FeeAnalysis is the output of one recognizer run
type FeeAnalysis struct {
	IdentifiedFees []*FeeTag     `json:"identified_fees"`
	UnusualFees    []*UnusualFee `json:"unusual_fees"`
}

// ProfileLookup resolves the profile of an institution
type ProfileLookup interface {
	Profile(institution string) *BankConfig
}

// FeeRecognizer tags debits matching institution or global fee patterns
type FeeRecognizer struct {
	profiles ProfileLookup
	global   []*FeePattern
	logger   logger.Logger
}

// NewFeeRecognizer creates a recognizer. Global patterns are tried after the
// institution's own patterns; patterns that fail to compile are skipped.
func NewFeeRecognizer(profiles ProfileLookup, global []*FeePattern, log logger.Logger) *FeeRecognizer {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("fee_recognizer")

	compiled := make([]*FeePattern, 0, len(global))
	for _, fp := range global {
		if fp == nil {
			continue
		}
		if fp.regex == nil {
			if err := fp.Compile(); err != nil {
				log.WithError(err).WithField("fee_type", fp.Type).Warn("Skipping global fee pattern")
				continue
			}
		}
		compiled = append(compiled, fp)
	}

	return &FeeRecognizer{
		profiles: profiles,
		global:   compiled,
		logger:   log,
	}
}

// Analyze tags every valid debit that matches a fee pattern, or whose
// category hint names a fee.
func (f *FeeRecognizer) Analyze(records []*models.TransactionRecord, hints models.CategoryHints) *FeeAnalysis {
	analysis := &FeeAnalysis{
		IdentifiedFees: []*FeeTag{},
		UnusualFees:    []*UnusualFee{},
	}

	for _, r := range records {
		if !r.IsValid() || !r.IsDebit() {
			continue
		}

		feeHint := IsFeeCategory(hints.HintFor(r))
		pattern := f.match(r)

		switch {
		case pattern != nil:
			tag, unusual := f.tag(r, pattern, feeHint)
			analysis.IdentifiedFees = append(analysis.IdentifiedFees, tag)
			if unusual != nil {
				analysis.UnusualFees = append(analysis.UnusualFees, unusual)
			}
		case feeHint:
			analysis.IdentifiedFees = append(analysis.IdentifiedFees, &FeeTag{
				TransactionID: r.ID,
				FeeType:       FeeTypeCategorised,
				Confidence:    categorisedFeeConfidence,
				Institution:   r.Institution,
			})
		}
	}

	f.logger.WithFields(logger.Fields{
		"records":  len(records),
		"fees":     len(analysis.IdentifiedFees),
		"unusual":  len(analysis.UnusualFees),
		"patterns": len(f.global),
	}).Info("Fee analysis completed")

	return analysis
}

func (f *FeeRecognizer) match(r *models.TransactionRecord) *FeePattern {
	if f.profiles != nil {
		for _, fp := range f.profiles.Profile(r.Institution).FeePatterns {
			if fp.Matches(r.Description) {
				return fp
			}
		}
	}
	for _, fp := range f.global {
		if fp.Matches(r.Description) {
			return fp
		}
	}
	return nil
}

func (f *FeeRecognizer) tag(r *models.TransactionRecord, fp *FeePattern, feeHint bool) (*FeeTag, *UnusualFee) {
	tag := &FeeTag{
		TransactionID: r.ID,
		FeeType:       fp.Type,
		Confidence:    unpricedFeeConfidence,
		Institution:   r.Institution,
	}

	expected, ok := fp.Expected()
	deviation := 0.0
	if ok {
		tag.ExpectedAmount = &expected
		deviation, _ = r.AbsAmount().Sub(expected).Abs().Div(expected).Float64()
		tag.Confidence = math.Max(0, 1-deviation)
	}
	if feeHint {
		tag.Confidence = math.Min(1, tag.Confidence+hintBonus)
	}
	tag.Confidence = math.Round(tag.Confidence*10000) / 10000

	if !ok || deviation <= UnusualFeeDeviation {
		return tag, nil
	}

	pct := math.Round(deviation*10000) / 100
	return tag, &UnusualFee{
		FeeTag:           tag,
		ActualAmount:     r.AbsAmount(),
		DeviationPercent: pct,
		Reason:           fp.Type + " of " + r.AbsAmount().StringFixed(2) + " differs from expected " + expected.StringFixed(2) + " by " + decimal.NewFromFloat(pct).StringFixed(1) + "%",
	}
}

// IsFeeCategory reports whether a category label names a bank charge
func IsFeeCategory(hint string) bool {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		return false
	}
	return strings.Contains(hint, "fee") || strings.Contains(hint, "charge")
}
