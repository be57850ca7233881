package banking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-reconciliation-engine/internal/models"
)

func TestFeeRecognizerAnalyze(t *testing.T) {
	model := defaultModel(t)
	ts := sast(t, 2024, 1, 31, 23, 0)

	records := []*models.TransactionRecord{
		newRecord("F1", "MONTHLY ACCOUNT FEE", "-69.00", ts, "FNB"),
		newRecord("F2", "MONTHLY ACCOUNT FEE", "-89.00", ts, "FNB"),
		newRecord("F3", "TRANSACTION FEE", "-4.50", ts, "TymeBank"),
		newRecord("F4", "DEBIT ORDER DISCOVERY", "-450.00", ts, "ABSA"),
		newRecord("F5", "MONTHLY ACCOUNT FEE REVERSAL", "69.00", ts, "FNB"),
		newRecord("F6", "CARD PURCHASE SPAR", "-120.00", ts, "FNB"),
	}
	hints := models.CategoryHints{
		"F3": "Bank Fees",
		"F4": "bank charges",
	}

	analysis := NewFeeRecognizer(model, nil, nil).Analyze(records, hints)
	require.Len(t, analysis.IdentifiedFees, 4)

	byID := make(map[string]*FeeTag)
	for _, tag := range analysis.IdentifiedFees {
		byID[tag.TransactionID] = tag
	}

	exact := byID["F1"]
	require.NotNil(t, exact)
	assert.Equal(t, "monthly_fee", exact.FeeType)
	assert.Equal(t, 1.0, exact.Confidence)
	require.NotNil(t, exact.ExpectedAmount)
	assert.Equal(t, "69", exact.ExpectedAmount.String())

	high := byID["F2"]
	require.NotNil(t, high)
	assert.Equal(t, 0.7101, high.Confidence)

	unpriced := byID["F3"]
	require.NotNil(t, unpriced)
	assert.Equal(t, "transaction_fee", unpriced.FeeType)
	assert.InDelta(t, 0.8, unpriced.Confidence, 1e-9)
	assert.Nil(t, unpriced.ExpectedAmount)

	categorised := byID["F4"]
	require.NotNil(t, categorised)
	assert.Equal(t, FeeTypeCategorised, categorised.FeeType)
	assert.Equal(t, 0.5, categorised.Confidence)

	assert.NotContains(t, byID, "F5")
	assert.NotContains(t, byID, "F6")

	require.Len(t, analysis.UnusualFees, 1)
	unusual := analysis.UnusualFees[0]
	assert.Equal(t, "F2", unusual.TransactionID)
	assert.Equal(t, 28.99, unusual.DeviationPercent)
	assert.Equal(t, "89", unusual.ActualAmount.String())
	assert.Contains(t, unusual.Reason, "monthly_fee")
}

func TestFeeRecognizerGlobalPatterns(t *testing.T) {
	model := defaultModel(t)
	ts := sast(t, 2024, 1, 15, 12, 0)

	global := []*FeePattern{
		{Type: "card_replacement_fee", Pattern: `(?i)\bcard\s+replacement\b`, ExpectedAmount: "140.00"},
		{Type: "broken", Pattern: `(`},
	}
	recognizer := NewFeeRecognizer(model, global, nil)

	analysis := recognizer.Analyze([]*models.TransactionRecord{
		newRecord("G1", "CARD REPLACEMENT", "-140.00", ts, "Nedbank"),
		newRecord("G2", "CARD REPLACEMENT", "-200.00", ts, "Nedbank"),
	}, nil)

	require.Len(t, analysis.IdentifiedFees, 2)
	assert.Equal(t, "card_replacement_fee", analysis.IdentifiedFees[0].FeeType)
	assert.Equal(t, 1.0, analysis.IdentifiedFees[0].Confidence)
	require.Len(t, analysis.UnusualFees, 1)
	assert.Equal(t, "G2", analysis.UnusualFees[0].TransactionID)
}

func TestFeeRecognizerSkipsInvalid(t *testing.T) {
	model := defaultModel(t)
	r := newRecord("X1", "MONTHLY ACCOUNT FEE", "-69.00", sast(t, 2024, 1, 31, 23, 0), "FNB")
	r.Malformed = "unparseable amount"

	analysis := NewFeeRecognizer(model, nil, nil).Analyze([]*models.TransactionRecord{r}, nil)
	assert.Empty(t, analysis.IdentifiedFees)
	assert.Empty(t, analysis.UnusualFees)
}

func TestIsFeeCategory(t *testing.T) {
	assert.True(t, IsFeeCategory("Bank Fees"))
	assert.True(t, IsFeeCategory("service charge"))
	assert.False(t, IsFeeCategory("groceries"))
	assert.False(t, IsFeeCategory(""))
}
