// Package review builds the prioritised queue of results that need a human
// decision before they can be treated as final.
package review

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"golang-reconciliation-engine/pkg/logger"
)

// Action is the decision suggested to the reviewer
type Action string

const (
	ActionApprove     Action = "approve"
	ActionManualMatch Action = "manual_match"
	ActionReject      Action = "reject"
)

// Complexity weights
const (
	WeightLowConfidence    = 0.3
	WeightTransferOutside  = 0.4
	WeightLargeTransaction = 0.2
	WeightLowFeeConfidence = 0.3
	WeightInvalidData      = 0.5

	// FeeConfidenceFloor is the fee confidence below which a fee is queued
	FeeConfidenceFloor = 0.8
)

// Config holds the escalation thresholds
type Config struct {
	// ConfidenceThreshold is the company's minimum acceptable match confidence
	ConfidenceThreshold float64 `json:"confidence_threshold"`

	// LargeTransactionThreshold is compared against the absolute amount
	LargeTransactionThreshold decimal.Decimal `json:"large_transaction_threshold"`
}

// DefaultConfig returns a 0.7 confidence threshold and a 50 000 large
// transaction threshold
func DefaultConfig() *Config {
	return &Config{
		ConfidenceThreshold:       0.7,
		LargeTransactionThreshold: decimal.NewFromInt(50000),
	}
}

// Validate checks the threshold ranges
func (c *Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be between 0 and 1, got %.2f", c.ConfidenceThreshold)
	}
	if c.LargeTransactionThreshold.IsNegative() {
		return fmt.Errorf("large transaction threshold cannot be negative")
	}
	return nil
}

// Candidate collects everything the engine learned about one transaction
type Candidate struct {
	TransactionID string
	Amount        decimal.Decimal

	HasMatch        bool
	MatchConfidence float64
	MatchReason     string

	// TransferOutsideWindow is set for failed mappings and for
	// cross-institution debits without a counterpart
	TransferOutsideWindow bool
	TransferReason        string

	HasFee        bool
	FeeType       string
	FeeConfidence float64

	InvalidReason string
}

// Entry is one row of the review queue
type Entry struct {
	TransactionID   string   `json:"transaction_id"`
	Reasons         []string `json:"reasons"`
	ComplexityScore float64  `json:"complexity_score"`
	SuggestedAction Action   `json:"suggested_action"`
}

// QueueBuilder scores candidates and orders the queue
type QueueBuilder struct {
	config *Config
	logger logger.Logger
}

// NewQueueBuilder creates a builder. A nil config uses DefaultConfig.
func NewQueueBuilder(config *Config, log logger.Logger) *QueueBuilder {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &QueueBuilder{
		config: config,
		logger: log.WithComponent("review_queue"),
	}
}

// Build returns an entry for every candidate with positive complexity,
// sorted by score descending then transaction id.
func (b *QueueBuilder) Build(candidates []*Candidate) []*Entry {
	entries := make([]*Entry, 0)

	for _, c := range candidates {
		if e := b.score(c); e != nil {
			entries = append(entries, e)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].ComplexityScore != entries[j].ComplexityScore {
			return entries[i].ComplexityScore > entries[j].ComplexityScore
		}
		return entries[i].TransactionID < entries[j].TransactionID
	})

	b.logger.WithFields(logger.Fields{
		"candidates": len(candidates),
		"queued":     len(entries),
	}).Info("Review queue built")

	return entries
}

func (b *QueueBuilder) score(c *Candidate) *Entry {
	var (
		weight  float64
		reasons []string
		action  = ActionManualMatch
	)

	if c.InvalidReason != "" {
		weight += WeightInvalidData
		reasons = append(reasons, c.InvalidReason)
	}

	if c.HasMatch && c.MatchConfidence < b.config.ConfidenceThreshold {
		weight += WeightLowConfidence
		reason := fmt.Sprintf("match confidence %.2f below threshold %.2f", c.MatchConfidence, b.config.ConfidenceThreshold)
		if c.MatchReason != "" {
			reason += " (" + c.MatchReason + ")"
		}
		reasons = append(reasons, reason)
	}

	if c.TransferOutsideWindow {
		weight += WeightTransferOutside
		reason := "cross-institution transfer outside expected settlement window"
		if c.TransferReason != "" {
			reason += ": " + c.TransferReason
		}
		reasons = append(reasons, reason)
	}

	if c.Amount.Abs().GreaterThan(b.config.LargeTransactionThreshold) {
		weight += WeightLargeTransaction
		reasons = append(reasons, fmt.Sprintf("amount %s exceeds large transaction threshold %s",
			c.Amount.Abs().StringFixed(2), b.config.LargeTransactionThreshold.StringFixed(2)))
	}

	if c.HasFee && c.FeeConfidence < FeeConfidenceFloor {
		weight += WeightLowFeeConfidence
		reasons = append(reasons, fmt.Sprintf("%s fee match confidence %.2f", c.FeeType, c.FeeConfidence))
		action = ActionReject
	}

	if weight <= 0 {
		return nil
	}

	// invalid records can only be resolved by hand
	if c.InvalidReason != "" {
		action = ActionManualMatch
	}

	// a large amount is the only concern and the match itself is trusted
	if len(reasons) == 1 && weight == WeightLargeTransaction && c.HasMatch {
		action = ActionApprove
	}

	return &Entry{
		TransactionID:   c.TransactionID,
		Reasons:         reasons,
		ComplexityScore: math.Round(weight*100) / 100,
		SuggestedAction: action,
	}
}
