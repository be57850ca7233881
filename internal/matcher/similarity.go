package matcher

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"golang-reconciliation-engine/internal/models"
)

// SimilarityVector holds the three per-signal similarity scores of a pair.
type SimilarityVector struct {
	Description float64 `json:"description_similarity"`
	Amount      float64 `json:"amount_similarity"`
	Date        float64 `json:"date_similarity"`
}

var editOptions = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: levenshtein.IdenticalRunes,
}

// SimilarityScorer computes description, amount and date similarity. It is
// stateless apart from its configuration and safe for concurrent use.
type SimilarityScorer struct {
	tolerancePercent float64
	dateRangeDays    int
}

// NewSimilarityScorer creates a scorer from the matching configuration
func NewSimilarityScorer(config *MatchingConfig) *SimilarityScorer {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &SimilarityScorer{
		tolerancePercent: config.AmountTolerancePercent,
		dateRangeDays:    config.DateRangeDays,
	}
}

// Score compares two records using precomputed normalized descriptions.
func (s *SimilarityScorer) Score(a, b *models.TransactionRecord, normA, normB string) SimilarityVector {
	return SimilarityVector{
		Description: roundScore(s.DescriptionSimilarity(normA, normB)),
		Amount:      roundScore(s.AmountSimilarity(a.Amount, b.Amount)),
		Date:        roundScore(s.DateSimilarity(a, b)),
	}
}

// DescriptionSimilarity scores two normalized descriptions as a weighted
// blend of token Jaccard (0.4), edit distance (0.3) and term-frequency
// cosine (0.3).
func (s *SimilarityScorer) DescriptionSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	return 0.4*jaccard(a, b) + 0.3*levenshteinSimilarity(a, b) + 0.3*cosine(a, b)
}

// AmountSimilarity is 1 for equal magnitudes and decays linearly to 0 once
// the difference reaches the tolerance percentage of the first amount.
func (s *SimilarityScorer) AmountSimilarity(a, b decimal.Decimal) float64 {
	absA, absB := a.Abs(), b.Abs()
	if absA.Equal(absB) {
		return 1.0
	}

	allowed := absA.Mul(decimal.NewFromFloat(s.tolerancePercent)).Div(decimal.NewFromInt(100))
	if !allowed.IsPositive() {
		return 0.0
	}

	ratio, _ := absA.Sub(absB).Abs().Div(allowed).Float64()
	return math.Max(0, 1-ratio)
}

// DateSimilarity is 1 on the same calendar day and decays linearly to 0 at
// the configured day window.
func (s *SimilarityScorer) DateSimilarity(a, b *models.TransactionRecord) float64 {
	days := models.CalendarDaysBetween(a.Date, b.Date)
	if days == 0 {
		return 1.0
	}
	if s.dateRangeDays <= 0 || days >= s.dateRangeDays {
		return 0.0
	}
	return 1 - float64(days)/float64(s.dateRangeDays)
}

// priorityScore is the cheap ranking used to prune candidates before the
// full comparison.
func priorityScore(a, b *models.TransactionRecord, windowDays int) float64 {
	var amountProximity float64
	absA, absB := a.AbsAmount(), b.AbsAmount()
	larger := decimal.Max(absA, absB)
	if larger.IsPositive() {
		ratio, _ := absA.Sub(absB).Abs().Div(larger).Float64()
		amountProximity = clamp01(1 - ratio)
	}

	days := models.CalendarDaysBetween(a.Date, b.Date)
	dateProximity := clamp01(1 - float64(days)/float64(windowDays))

	return 0.6*amountProximity + 0.4*dateProximity
}

func jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		if len(tok) > 2 {
			set[tok] = struct{}{}
		}
	}
	return set
}

func levenshteinSimilarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1.0
	}
	distance := levenshtein.DistanceForStrings(ra, rb, editOptions)
	return clamp01(1 - float64(distance)/float64(maxLen))
}

func cosine(a, b string) float64 {
	termsA, tfA := termFrequency(a)
	termsB, tfB := termFrequency(b)

	// iterate in token order so float sums are reproducible
	var dot, normA, normB float64
	for _, term := range termsA {
		ca := tfA[term]
		normA += ca * ca
		dot += ca * tfB[term]
	}
	for _, term := range termsB {
		cb := tfB[term]
		normB += cb * cb
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func termFrequency(s string) ([]string, map[string]float64) {
	var terms []string
	tf := make(map[string]float64)
	for _, tok := range strings.Fields(s) {
		if _, seen := tf[tok]; !seen {
			terms = append(terms, tok)
		}
		tf[tok]++
	}
	return terms, tf
}
