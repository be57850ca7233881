package matcher

import (
	"fmt"
	"sort"

	"github.com/sourcegraph/conc/iter"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/pkg/logger"
)

// ReasonInvalidData is attached to records excluded from comparison
const ReasonInvalidData = "invalid data"

// DuplicateMatch reports that TransactionID likely records the same event as
// MatchedTransactionID.
type DuplicateMatch struct {
	TransactionID        string           `json:"transaction_id"`
	MatchedTransactionID string           `json:"matched_transaction_id"`
	Confidence           float64          `json:"confidence"`
	MatchType            MatchType        `json:"match_type"`
	Similarities         SimilarityVector `json:"similarities"`
	Reason               string           `json:"reason"`
}

// InvalidRecord is a new record that could not be compared
type InvalidRecord struct {
	Record *models.TransactionRecord `json:"record"`
	Reason string                    `json:"reason"`
	Err    error                     `json:"-"`
}

// DetectionResult is the output of one detector run
type DetectionResult struct {
	// Matches are deduplicated, above-threshold matches sorted by confidence
	Matches []*DuplicateMatch

	// BestCandidates holds each new record's best classified candidate,
	// including ones below the confidence threshold
	BestCandidates map[string]*DuplicateMatch

	// Invalid lists new records excluded from comparison
	Invalid []InvalidRecord

	// Comparisons is the number of full pairwise comparisons performed
	Comparisons int
}

// DuplicateDetector finds likely duplicates of new records among the new
// batch and previously known records of the same direction.
type DuplicateDetector struct {
	config   *MatchingConfig
	scorer   *SimilarityScorer
	patterns []RecurringPattern
	logger   logger.Logger
}

type recordOutcome struct {
	matches     []*DuplicateMatch
	best        *DuplicateMatch
	comparisons int
}

// NewDuplicateDetector creates a detector with the given configuration
func NewDuplicateDetector(config *MatchingConfig, log logger.Logger) *DuplicateDetector {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	return &DuplicateDetector{
		config:   config,
		scorer:   NewSimilarityScorer(config),
		patterns: DefaultRecurringPatterns,
		logger:   log.WithComponent("duplicate_detector"),
	}
}

// Scorer exposes the detector's similarity scorer
func (d *DuplicateDetector) Scorer() *SimilarityScorer {
	return d.scorer
}

// Detect runs duplicate detection for newRecords against newRecords and
// knownRecords. Records are never modified.
func (d *DuplicateDetector) Detect(newRecords, knownRecords []*models.TransactionRecord, hints models.CategoryHints) *DetectionResult {
	result := &DetectionResult{
		BestCandidates: make(map[string]*DuplicateMatch),
	}

	validNew := make([]*models.TransactionRecord, 0, len(newRecords))
	newIDs := make(map[string]struct{}, len(newRecords))
	for _, r := range newRecords {
		newIDs[r.ID] = struct{}{}
		if err := r.Validate(); err != nil {
			d.logger.WithFields(logger.Fields{
				"record_id": r.ID,
				"error":     err.Error(),
			}).Warn("Excluding record from comparison")
			result.Invalid = append(result.Invalid, InvalidRecord{Record: r, Reason: ReasonInvalidData, Err: err})
			continue
		}
		validNew = append(validNew, r)
	}

	poolRecords := make([]*models.TransactionRecord, 0, len(knownRecords)+len(validNew))
	for _, r := range knownRecords {
		if _, dup := newIDs[r.ID]; dup {
			continue
		}
		if !r.IsValid() {
			d.logger.WithField("record_id", r.ID).Debug("Skipping invalid known record")
			continue
		}
		poolRecords = append(poolRecords, r)
	}
	poolRecords = append(poolRecords, validNew...)

	if len(validNew) == 0 {
		return result
	}

	pool := NewCandidatePool(poolRecords)
	normalized := make(map[string]string, len(poolRecords))
	patternOf := make(map[string]string, len(poolRecords))
	for _, r := range pool.AllRecords {
		norm := NormalizeDescription(r.Description)
		normalized[r.ID] = norm
		if d.config.EnablePatternMatching {
			patternOf[r.ID] = recurringPatternOf(norm, hints.HintFor(r), d.patterns)
		}
	}

	limit := d.config.CandidateLimit(len(validNew))
	d.logger.WithFields(logger.Fields{
		"new_records":    len(validNew),
		"pool_size":      len(pool.AllRecords),
		"candidates_per": limit,
		"workers":        d.config.WorkerCount(),
	}).Debug("Starting duplicate detection")

	mapper := iter.Mapper[*models.TransactionRecord, recordOutcome]{
		MaxGoroutines: d.config.WorkerCount(),
	}
	outcomes := mapper.Map(validNew, func(rp **models.TransactionRecord) recordOutcome {
		return d.compareRecord(*rp, pool, normalized, patternOf, limit)
	})

	var all []*DuplicateMatch
	for i, outcome := range outcomes {
		all = append(all, outcome.matches...)
		result.Comparisons += outcome.comparisons
		if outcome.best != nil {
			result.BestCandidates[validNew[i].ID] = outcome.best
		}
	}

	result.Matches = dedupMatches(all, pool)
	sortMatches(result.Matches)

	d.logger.WithFields(logger.Fields{
		"comparisons": result.Comparisons,
		"matches":     len(result.Matches),
		"invalid":     len(result.Invalid),
	}).Info("Duplicate detection completed")

	return result
}

// compareRecord scores r against its retained candidates. It only reads
// shared state, so calls may run concurrently.
func (d *DuplicateDetector) compareRecord(r *models.TransactionRecord, pool *CandidatePool, normalized, patternOf map[string]string, limit int) recordOutcome {
	var outcome recordOutcome

	for _, candidate := range pool.TopCandidates(r, limit, d.config.PriorityWindowDays) {
		if candidate.Direction != r.Direction {
			continue
		}
		outcome.comparisons++

		sim := d.scorer.Score(r, candidate, normalized[r.ID], normalized[candidate.ID])
		matchType, confidence, reason := d.Classify(sim, patternOf[r.ID], patternOf[candidate.ID])
		if matchType == "" {
			continue
		}

		match := &DuplicateMatch{
			TransactionID:        r.ID,
			MatchedTransactionID: candidate.ID,
			Confidence:           confidence,
			MatchType:            matchType,
			Similarities:         sim,
			Reason:               reason,
		}

		if outcome.best == nil || confidence > outcome.best.Confidence {
			outcome.best = match
		}
		if confidence >= d.config.MediumConfidenceThreshold {
			outcome.matches = append(outcome.matches, match)
		}
	}

	return outcome
}

// Classify maps a similarity vector to a match type and confidence. An
// empty match type means the pair is not a duplicate.
func (d *DuplicateDetector) Classify(sim SimilarityVector, patternA, patternB string) (MatchType, float64, string) {
	switch {
	case sim.Description == 1 && sim.Amount == 1 && sim.Date >= 0.8:
		return MatchExact, 1.0, "identical description, amount and date"

	case sim.Description >= d.config.DescriptionThreshold && sim.Amount >= 0.95:
		confidence := roundScore(0.6*sim.Description + 0.3*sim.Amount + 0.1*sim.Date)
		return MatchFuzzyDescription, confidence, fmt.Sprintf(
			"description %.0f%% similar, amount %.0f%% similar, date %.0f%% similar",
			sim.Description*100, sim.Amount*100, sim.Date*100)

	case sim.Amount == 1 && sim.Date >= 0.8:
		confidence := roundScore(0.5*sim.Amount + 0.3*sim.Date + 0.2*sim.Description)
		return MatchAmountDate, confidence, fmt.Sprintf(
			"same amount within date window, description %.0f%% similar", sim.Description*100)

	case d.config.EnablePatternMatching && patternA != "" && patternA == patternB:
		confidence := roundScore(0.4*sim.Description + 0.4*sim.Amount + 0.2*sim.Date)
		return MatchPatternBased, confidence, fmt.Sprintf(
			"both descriptions match recurring %s pattern", patternA)
	}

	return "", 0, ""
}

// dedupMatches keeps one match per unordered pair: the higher confidence,
// and on a tie the orientation that reports the later record as duplicate.
func dedupMatches(matches []*DuplicateMatch, pool *CandidatePool) []*DuplicateMatch {
	byPair := make(map[string]*DuplicateMatch, len(matches))
	keys := make([]string, 0, len(matches))

	for _, m := range matches {
		key := pairKey(m.TransactionID, m.MatchedTransactionID)
		existing, ok := byPair[key]
		if !ok {
			byPair[key] = m
			keys = append(keys, key)
			continue
		}
		if m.Confidence > existing.Confidence ||
			(m.Confidence == existing.Confidence && pool.Ordinal(m.MatchedTransactionID) < pool.Ordinal(existing.MatchedTransactionID)) {
			byPair[key] = m
		}
	}

	out := make([]*DuplicateMatch, 0, len(keys))
	for _, key := range keys {
		out = append(out, byPair[key])
	}
	return out
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

func sortMatches(matches []*DuplicateMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		if matches[i].TransactionID != matches[j].TransactionID {
			return matches[i].TransactionID < matches[j].TransactionID
		}
		return matches[i].MatchedTransactionID < matches[j].MatchedTransactionID
	})
}
