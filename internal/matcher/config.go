// Package matcher finds duplicate bank transactions and links the two legs
// of cross-institution transfers.
//
// Records are compared on three signals only: the free-text description,
// the amount and the date. The engine works in stages:
//  1. Descriptions are normalized once per run and cached by record id
//  2. Each new record ranks same-direction candidates by a cheap priority
//     score and keeps only the best few
//  3. Retained pairs are scored on a bounded worker pool and classified
//  4. Symmetric pairs are collapsed and the output is sorted
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.AmountTolerancePercent = 1.0
//
//	detector := matcher.NewDuplicateDetector(config, nil)
//	result := detector.Detect(newRecords, knownRecords, hints)
package matcher

import (
	"fmt"
	"math"
	"runtime"
)

// MatchType classifies why two records were considered the same event.
type MatchType string

const (
	// MatchExact is an identical normalized description, amount and day.
	MatchExact MatchType = "exact"

	// MatchFuzzyDescription is a near-identical description with an
	// (almost) equal amount.
	MatchFuzzyDescription MatchType = "fuzzy_description"

	// MatchAmountDate is an equal amount on a close date, regardless of text.
	MatchAmountDate MatchType = "amount_date"

	// MatchPatternBased is a shared recurring-payment pattern such as salary
	// or rent on both sides.
	MatchPatternBased MatchType = "pattern_based"

	// MatchTransfer is used for timing results produced by the transfer mapper.
	MatchTransfer MatchType = "cross_bank_transfer"
)

// String returns the string representation of MatchType
func (mt MatchType) String() string {
	return string(mt)
}

// MatchingConfig holds the tunable thresholds used by the duplicate detector
// and the transfer mapper. The defaults are product-tuning constants and can
// be overridden per run.
type MatchingConfig struct {
	// AmountTolerancePercent is the relative amount difference at which
	// amount similarity reaches zero
	AmountTolerancePercent float64 `json:"amount_tolerance_percent" mapstructure:"amount_tolerance_percent"`

	// DateRangeDays is the day gap at which date similarity reaches zero
	DateRangeDays int `json:"date_range_days" mapstructure:"date_range_days"`

	// DescriptionThreshold is the minimum description similarity for a
	// fuzzy_description match
	DescriptionThreshold float64 `json:"description_threshold" mapstructure:"description_threshold"`

	// MediumConfidenceThreshold discards matches below this confidence
	MediumConfidenceThreshold float64 `json:"medium_confidence_threshold" mapstructure:"medium_confidence_threshold"`

	// PriorityWindowDays is the date window used by candidate pruning
	PriorityWindowDays int `json:"priority_window_days" mapstructure:"priority_window_days"`

	// MaxComparisons bounds the total number of full pairwise comparisons
	MaxComparisons int `json:"max_comparisons" mapstructure:"max_comparisons"`

	// MaxCandidatesPerTransaction caps the candidates retained per record
	MaxCandidatesPerTransaction int `json:"max_candidates_per_transaction" mapstructure:"max_candidates_per_transaction"`

	// Workers sizes the comparison pool; zero means GOMAXPROCS
	Workers int `json:"workers" mapstructure:"workers"`

	// SearchWindowMultiplier widens the transfer search window beyond the
	// expected settlement delay
	SearchWindowMultiplier float64 `json:"search_window_multiplier" mapstructure:"search_window_multiplier"`

	// EnablePatternMatching turns on pattern_based classification
	EnablePatternMatching bool `json:"enable_pattern_matching" mapstructure:"enable_pattern_matching"`
}

// DefaultMatchingConfig returns a configuration with sensible defaults
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountTolerancePercent:      2.0,
		DateRangeDays:               3,
		DescriptionThreshold:        0.8,
		MediumConfidenceThreshold:   0.7,
		PriorityWindowDays:          30,
		MaxComparisons:              50000,
		MaxCandidatesPerTransaction: 50,
		Workers:                     0,
		SearchWindowMultiplier:      1.0,
		EnablePatternMatching:       true,
	}
}

// StrictMatchingConfig returns a configuration for strict matching
func StrictMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountTolerancePercent:      0.5,
		DateRangeDays:               1,
		DescriptionThreshold:        0.9,
		MediumConfidenceThreshold:   0.8,
		PriorityWindowDays:          30,
		MaxComparisons:              20000,
		MaxCandidatesPerTransaction: 20,
		Workers:                     0,
		SearchWindowMultiplier:      1.0,
		EnablePatternMatching:       false,
	}
}

// RelaxedMatchingConfig returns a configuration for relaxed matching
func RelaxedMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountTolerancePercent:      5.0,
		DateRangeDays:               5,
		DescriptionThreshold:        0.7,
		MediumConfidenceThreshold:   0.6,
		PriorityWindowDays:          30,
		MaxComparisons:              100000,
		MaxCandidatesPerTransaction: 100,
		Workers:                     0,
		SearchWindowMultiplier:      1.5,
		EnablePatternMatching:       true,
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.AmountTolerancePercent < 0.0 || mc.AmountTolerancePercent > 100.0 {
		return fmt.Errorf("amount tolerance percent must be between 0.0 and 100.0: %f", mc.AmountTolerancePercent)
	}

	if mc.DateRangeDays < 0 {
		return fmt.Errorf("date range days cannot be negative: %d", mc.DateRangeDays)
	}

	if mc.DescriptionThreshold < 0.0 || mc.DescriptionThreshold > 1.0 {
		return fmt.Errorf("description threshold must be between 0.0 and 1.0: %f", mc.DescriptionThreshold)
	}

	if mc.MediumConfidenceThreshold < 0.0 || mc.MediumConfidenceThreshold > 1.0 {
		return fmt.Errorf("medium confidence threshold must be between 0.0 and 1.0: %f", mc.MediumConfidenceThreshold)
	}

	if mc.PriorityWindowDays <= 0 {
		return fmt.Errorf("priority window days must be positive: %d", mc.PriorityWindowDays)
	}

	if mc.MaxComparisons <= 0 {
		return fmt.Errorf("max comparisons must be positive: %d", mc.MaxComparisons)
	}

	if mc.MaxCandidatesPerTransaction <= 0 {
		return fmt.Errorf("max candidates per transaction must be positive: %d", mc.MaxCandidatesPerTransaction)
	}

	if mc.Workers < 0 {
		return fmt.Errorf("workers cannot be negative: %d", mc.Workers)
	}

	if mc.SearchWindowMultiplier < 1.0 {
		return fmt.Errorf("search window multiplier must be at least 1.0: %f", mc.SearchWindowMultiplier)
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	clone := *mc
	return &clone
}

// CandidateLimit returns how many candidates each of n new records may keep
// so that the total stays within MaxComparisons.
func (mc *MatchingConfig) CandidateLimit(n int) int {
	if n <= 0 {
		return 0
	}
	k := mc.MaxComparisons / n
	if k < 1 {
		k = 1
	}
	if mc.MaxCandidatesPerTransaction > 0 && k > mc.MaxCandidatesPerTransaction {
		k = mc.MaxCandidatesPerTransaction
	}
	return k
}

// WorkerCount resolves the comparison pool size
func (mc *MatchingConfig) WorkerCount() int {
	if mc.Workers > 0 {
		return mc.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{AmountTolerance: %.2f%%, DateRange: %d days, DescriptionThreshold: %.2f, MinConfidence: %.2f, MaxComparisons: %d}",
		mc.AmountTolerancePercent, mc.DateRangeDays, mc.DescriptionThreshold, mc.MediumConfidenceThreshold, mc.MaxComparisons)
}

// roundScore keeps scores stable across evaluation order.
func roundScore(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
