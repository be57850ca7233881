package matcher

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"golang-reconciliation-engine/internal/models"
)

// CandidatePool indexes the valid records of one run for candidate lookups.
// Every record carries an ordinal: its position in the pool (known records
// first, then the new batch in input order).
type CandidatePool struct {
	// DirectionIndex maps a direction to its records in ordinal order
	DirectionIndex map[models.Direction][]*models.TransactionRecord

	// AbsAmountIndex maps direction and absolute amount to records
	AbsAmountIndex map[models.Direction]map[string][]*models.TransactionRecord

	// DateIndex maps date strings (YYYY-MM-DD) to records
	DateIndex map[string][]*models.TransactionRecord

	// AllRecords holds all indexed records in ordinal order
	AllRecords []*models.TransactionRecord

	ordinals map[string]int
}

// PoolStats provides statistics about a candidate pool
type PoolStats struct {
	TotalRecords  int
	Credits       int
	Debits        int
	UniqueAmounts int
	UniqueDates   int
}

type rankedCandidate struct {
	record   *models.TransactionRecord
	priority float64
	ordinal  int
}

// NewCandidatePool builds a pool from records already in ordinal order.
// Records with a duplicate id keep the first occurrence.
func NewCandidatePool(records []*models.TransactionRecord) *CandidatePool {
	pool := &CandidatePool{
		DirectionIndex: make(map[models.Direction][]*models.TransactionRecord),
		AbsAmountIndex: make(map[models.Direction]map[string][]*models.TransactionRecord),
		DateIndex:      make(map[string][]*models.TransactionRecord),
		ordinals:       make(map[string]int, len(records)),
	}

	for _, r := range records {
		if _, exists := pool.ordinals[r.ID]; exists {
			continue
		}
		pool.add(r)
	}

	return pool
}

func (p *CandidatePool) add(r *models.TransactionRecord) {
	p.ordinals[r.ID] = len(p.AllRecords)
	p.AllRecords = append(p.AllRecords, r)

	p.DirectionIndex[r.Direction] = append(p.DirectionIndex[r.Direction], r)

	byAmount, ok := p.AbsAmountIndex[r.Direction]
	if !ok {
		byAmount = make(map[string][]*models.TransactionRecord)
		p.AbsAmountIndex[r.Direction] = byAmount
	}
	amountKey := r.AbsAmount().String()
	byAmount[amountKey] = append(byAmount[amountKey], r)

	dateKey := r.Date.Format("2006-01-02")
	p.DateIndex[dateKey] = append(p.DateIndex[dateKey], r)
}

// Ordinal returns the pool position of a record id, or -1 when absent
func (p *CandidatePool) Ordinal(id string) int {
	if ord, ok := p.ordinals[id]; ok {
		return ord
	}
	return -1
}

// GetByDirection returns records of the given direction
func (p *CandidatePool) GetByDirection(direction models.Direction) []*models.TransactionRecord {
	return p.DirectionIndex[direction]
}

// GetByAbsAmount returns records of the given direction with the same
// absolute amount
func (p *CandidatePool) GetByAbsAmount(direction models.Direction, amount decimal.Decimal) []*models.TransactionRecord {
	byAmount := p.AbsAmountIndex[direction]
	if byAmount == nil {
		return nil
	}
	return byAmount[amount.Abs().String()]
}

// GetByDate returns records for the specified date
func (p *CandidatePool) GetByDate(date time.Time) []*models.TransactionRecord {
	return p.DateIndex[date.Format("2006-01-02")]
}

// TopCandidates ranks same-direction records by priority score and returns
// at most limit of them, excluding r itself. Ties keep pool order.
func (p *CandidatePool) TopCandidates(r *models.TransactionRecord, limit, windowDays int) []*models.TransactionRecord {
	if limit <= 0 {
		return nil
	}

	sameDirection := p.DirectionIndex[r.Direction]
	ranked := make([]rankedCandidate, 0, len(sameDirection))
	for _, candidate := range sameDirection {
		if candidate.ID == r.ID {
			continue
		}
		ranked = append(ranked, rankedCandidate{
			record:   candidate,
			priority: priorityScore(r, candidate, windowDays),
			ordinal:  p.ordinals[candidate.ID],
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].priority != ranked[j].priority {
			return ranked[i].priority > ranked[j].priority
		}
		return ranked[i].ordinal < ranked[j].ordinal
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]*models.TransactionRecord, len(ranked))
	for i, c := range ranked {
		out[i] = c.record
	}
	return out
}

// GetPoolStats returns statistics about the pool
func (p *CandidatePool) GetPoolStats() PoolStats {
	unique := 0
	for _, byAmount := range p.AbsAmountIndex {
		unique += len(byAmount)
	}
	return PoolStats{
		TotalRecords:  len(p.AllRecords),
		Credits:       len(p.DirectionIndex[models.DirectionCredit]),
		Debits:        len(p.DirectionIndex[models.DirectionDebit]),
		UniqueAmounts: unique,
		UniqueDates:   len(p.DateIndex),
	}
}
