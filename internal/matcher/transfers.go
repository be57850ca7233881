package matcher

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/pkg/logger"
)

// MappingStatus reports whether a transfer settled inside its expected delay
type MappingStatus string

const (
	MappingMapped MappingStatus = "mapped"
	MappingFailed MappingStatus = "failed"
)

// CrossBankTransferMap links the outgoing leg of a transfer at one
// institution to its incoming leg at another.
type CrossBankTransferMap struct {
	PrimaryTransactionID   string          `json:"primary_transaction_id"`
	SecondaryTransactionID string          `json:"secondary_transaction_id"`
	PrimaryInstitution     string          `json:"primary_institution"`
	SecondaryInstitution   string          `json:"secondary_institution"`
	TransferAmount         decimal.Decimal `json:"transfer_amount"`
	ExpectedDelayHours     float64         `json:"expected_delay_hours"`
	ActualDelayHours       float64         `json:"actual_delay_hours"`
	WithinExpectedWindow   bool            `json:"within_expected_window"`
	MappingStatus          MappingStatus   `json:"mapping_status"`
	Confidence             float64         `json:"confidence"`
	Reason                 string          `json:"reason"`
}

// TransferTiming supplies settlement knowledge to the transfer mapper
type TransferTiming interface {
	// ExpectedDelay is the time from the debit timestamp to expected
	// settlement of the counterpart
	ExpectedDelay(r *models.TransactionRecord, crossInstitution bool) time.Duration

	// IsCrossInstitutionTransfer reports whether the description looks like
	// a payment to another institution
	IsCrossInstitutionTransfer(r *models.TransactionRecord) bool

	// Reference returns the payment reference of a record, if any
	Reference(r *models.TransactionRecord) string
}

// TransferResult is the output of one mapper run
type TransferResult struct {
	Mappings []*CrossBankTransferMap

	// Unmapped lists debits that look like cross-institution transfers but
	// have no counterpart inside the search window
	Unmapped []string
}

// TransferMapper pairs debits with credits at other institutions
type TransferMapper struct {
	config *MatchingConfig
	timing TransferTiming
	logger logger.Logger
}

type transferCandidate struct {
	debit      *models.TransactionRecord
	credit     *models.TransactionRecord
	expected   time.Duration
	actual     time.Duration
	confidence float64
	refsMatch  bool
	debitOrd   int
	creditOrd  int
}

// NewTransferMapper creates a mapper using timing for expected delays
func NewTransferMapper(config *MatchingConfig, timing TransferTiming, log logger.Logger) *TransferMapper {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	return &TransferMapper{
		config: config,
		timing: timing,
		logger: log.WithComponent("transfer_mapper"),
	}
}

// Map links outgoing cross-institution debits to credits at a different
// institution with equal absolute amount that arrived no earlier than the debit and within the
// search window. Each record takes part in at most one mapping.
func (m *TransferMapper) Map(records []*models.TransactionRecord) *TransferResult {
	valid := make([]*models.TransactionRecord, 0, len(records))
	for _, r := range records {
		if r.IsValid() {
			valid = append(valid, r)
		}
	}
	pool := NewCandidatePool(valid)

	var candidates []transferCandidate
	for _, debit := range pool.GetByDirection(models.DirectionDebit) {
		// card purchases and debit orders are never one leg of a transfer
		if !m.timing.IsCrossInstitutionTransfer(debit) {
			continue
		}
		expected := m.timing.ExpectedDelay(debit, true)
		window := time.Duration(float64(expected) * m.config.SearchWindowMultiplier)

		for _, credit := range pool.GetByAbsAmount(models.DirectionCredit, debit.Amount) {
			if strings.EqualFold(strings.TrimSpace(credit.Institution), strings.TrimSpace(debit.Institution)) {
				continue
			}
			actual := credit.Date.Sub(debit.Date)
			if actual < 0 || actual > window {
				continue
			}

			c := transferCandidate{
				debit:     debit,
				credit:    credit,
				expected:  expected,
				actual:    actual,
				refsMatch: m.referencesMatch(debit, credit),
				debitOrd:  pool.Ordinal(debit.ID),
				creditOrd: pool.Ordinal(credit.ID),
			}
			c.confidence = transferConfidence(debit, credit, actual <= expected, c.refsMatch)
			candidates = append(candidates, c)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		if a.actual != b.actual {
			return a.actual < b.actual
		}
		if a.debitOrd != b.debitOrd {
			return a.debitOrd < b.debitOrd
		}
		return a.creditOrd < b.creditOrd
	})

	usedDebits := make(map[string]bool)
	usedCredits := make(map[string]bool)
	result := &TransferResult{}

	for _, c := range candidates {
		if usedDebits[c.debit.ID] || usedCredits[c.credit.ID] {
			continue
		}
		usedDebits[c.debit.ID] = true
		usedCredits[c.credit.ID] = true
		result.Mappings = append(result.Mappings, newTransferMap(c))
	}

	sort.SliceStable(result.Mappings, func(i, j int) bool {
		return pool.Ordinal(result.Mappings[i].PrimaryTransactionID) < pool.Ordinal(result.Mappings[j].PrimaryTransactionID)
	})

	for _, debit := range pool.GetByDirection(models.DirectionDebit) {
		if usedDebits[debit.ID] || !m.timing.IsCrossInstitutionTransfer(debit) {
			continue
		}
		result.Unmapped = append(result.Unmapped, debit.ID)
		m.logger.WithFields(logger.Fields{
			"record_id":   debit.ID,
			"institution": debit.Institution,
			"amount":      debit.Amount.String(),
		}).Debug("No counterpart found for cross-institution transfer")
	}

	m.logger.WithFields(logger.Fields{
		"candidates": len(candidates),
		"mapped":     len(result.Mappings),
		"unmapped":   len(result.Unmapped),
	}).Info("Transfer mapping completed")

	return result
}

func newTransferMap(c transferCandidate) *CrossBankTransferMap {
	within := c.actual <= c.expected
	status := MappingFailed
	if within {
		status = MappingMapped
	}

	reason := fmt.Sprintf("%s to %s, settled after %.1fh (expected %.1fh)",
		c.debit.Institution, c.credit.Institution, c.actual.Hours(), c.expected.Hours())
	if c.refsMatch {
		reason += ", references match"
	}

	return &CrossBankTransferMap{
		PrimaryTransactionID:   c.debit.ID,
		SecondaryTransactionID: c.credit.ID,
		PrimaryInstitution:     c.debit.Institution,
		SecondaryInstitution:   c.credit.Institution,
		TransferAmount:         c.debit.AbsAmount(),
		ExpectedDelayHours:     roundHours(c.expected),
		ActualDelayHours:       roundHours(c.actual),
		WithinExpectedWindow:   within,
		MappingStatus:          status,
		Confidence:             c.confidence,
		Reason:                 reason,
	}
}

func transferConfidence(debit, credit *models.TransactionRecord, withinDelay, refsMatch bool) float64 {
	confidence := 0.7
	if debit.AbsAmount().Equal(credit.AbsAmount()) {
		confidence += 0.2
	}
	if withinDelay {
		confidence += 0.1
	}
	if refsMatch {
		confidence += 0.1
	}
	return roundScore(math.Min(confidence, 0.99))
}

// referencesMatch compares references, falling back to the other side's
// description when only one leg carries a reference
func (m *TransferMapper) referencesMatch(debit, credit *models.TransactionRecord) bool {
	debitRef, creditRef := m.timing.Reference(debit), m.timing.Reference(credit)
	switch {
	case debitRef != "" && creditRef != "":
		return referencesMatch(debitRef, creditRef)
	case debitRef != "":
		return containsReference(credit.Description, debitRef)
	case creditRef != "":
		return containsReference(debit.Description, creditRef)
	}
	return false
}

func containsReference(description, reference string) bool {
	ref := normalizeReference(reference)
	return ref != "" && strings.Contains(normalizeReference(description), ref)
}

func roundHours(d time.Duration) float64 {
	return math.Round(d.Hours()*100) / 100
}
