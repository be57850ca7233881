package review

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBuildEscalatesLowConfidenceMatch(t *testing.T) {
	builder := NewQueueBuilder(nil, nil)

	entries := builder.Build([]*Candidate{{
		TransactionID:   "T1",
		Amount:          amount("-1250.00"),
		HasMatch:        true,
		MatchConfidence: 0.65,
		MatchReason:     "amount and date agree",
	}})

	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "T1", entry.TransactionID)
	assert.Equal(t, ActionManualMatch, entry.SuggestedAction)
	assert.Equal(t, 0.3, entry.ComplexityScore)
	require.NotEmpty(t, entry.Reasons)
	assert.Contains(t, entry.Reasons[0], "0.65")
}

func TestBuildWeights(t *testing.T) {
	tests := []struct {
		name      string
		candidate *Candidate
		queued    bool
		score     float64
		action    Action
		reasons   int
	}{
		{
			name:      "confident match",
			candidate: &Candidate{TransactionID: "A", Amount: amount("100"), HasMatch: true, MatchConfidence: 0.95},
		},
		{
			name:      "no findings",
			candidate: &Candidate{TransactionID: "B", Amount: amount("100")},
		},
		{
			name:      "transfer outside window",
			candidate: &Candidate{TransactionID: "C", Amount: amount("-5000"), TransferOutsideWindow: true},
			queued:    true, score: 0.4, action: ActionManualMatch, reasons: 1,
		},
		{
			name:      "large confident match",
			candidate: &Candidate{TransactionID: "D", Amount: amount("75000"), HasMatch: true, MatchConfidence: 0.99},
			queued:    true, score: 0.2, action: ActionApprove, reasons: 1,
		},
		{
			name:      "large unmatched",
			candidate: &Candidate{TransactionID: "E", Amount: amount("-75000")},
			queued:    true, score: 0.2, action: ActionManualMatch, reasons: 1,
		},
		{
			name:      "exactly at large threshold",
			candidate: &Candidate{TransactionID: "F", Amount: amount("50000")},
		},
		{
			name:      "weak fee",
			candidate: &Candidate{TransactionID: "G", Amount: amount("-89"), HasFee: true, FeeType: "monthly_fee", FeeConfidence: 0.71},
			queued:    true, score: 0.3, action: ActionReject, reasons: 1,
		},
		{
			name:      "invalid data",
			candidate: &Candidate{TransactionID: "H", InvalidReason: "invalid data"},
			queued:    true, score: 0.5, action: ActionManualMatch, reasons: 1,
		},
		{
			name: "everything at once",
			candidate: &Candidate{
				TransactionID: "I", Amount: amount("-60000"),
				HasMatch: true, MatchConfidence: 0.5,
				TransferOutsideWindow: true,
				HasFee:                true, FeeConfidence: 0.5,
			},
			queued: true, score: 1.2, action: ActionReject, reasons: 4,
		},
	}

	builder := NewQueueBuilder(DefaultConfig(), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := builder.Build([]*Candidate{tt.candidate})
			if !tt.queued {
				assert.Empty(t, entries)
				return
			}
			require.Len(t, entries, 1)
			assert.Equal(t, tt.score, entries[0].ComplexityScore)
			assert.Equal(t, tt.action, entries[0].SuggestedAction)
			assert.Len(t, entries[0].Reasons, tt.reasons)
		})
	}
}

func TestBuildOrdering(t *testing.T) {
	builder := NewQueueBuilder(nil, nil)

	entries := builder.Build([]*Candidate{
		{TransactionID: "B", Amount: amount("-75000")},
		{TransactionID: "C", InvalidReason: "invalid data"},
		{TransactionID: "A", Amount: amount("-75000")},
		{TransactionID: "D", Amount: amount("10"), TransferOutsideWindow: true, HasMatch: true, MatchConfidence: 0.1},
	})

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.TransactionID
	}
	assert.Equal(t, []string{"D", "C", "A", "B"}, ids)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, (&Config{ConfidenceThreshold: 1.5}).Validate())
	assert.Error(t, (&Config{ConfidenceThreshold: 0.5, LargeTransactionThreshold: amount("-1")}).Validate())
}
