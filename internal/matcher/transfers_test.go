package matcher

import (
	"strings"
	"testing"
	"time"

	"golang-reconciliation-engine/internal/models"
)

type fixedTiming struct {
	delay time.Duration
}

func (f fixedTiming) ExpectedDelay(*models.TransactionRecord, bool) time.Duration {
	return f.delay
}

func (f fixedTiming) IsCrossInstitutionTransfer(r *models.TransactionRecord) bool {
	return strings.Contains(strings.ToUpper(r.Description), "EFT")
}

func (f fixedTiming) Reference(r *models.TransactionRecord) string {
	return r.Reference
}

func at(year int, month time.Month, d, hour int) time.Time {
	return time.Date(year, month, d, hour, 0, 0, 0, time.UTC)
}

func TestTransferMapperMapsWithinDelay(t *testing.T) {
	out := record("OUT1", "EFT TO ABSA SAVINGS", "-5000.00", at(2024, 1, 10, 10), models.DirectionDebit, "FNB")
	in := record("IN1", "EFT FROM FNB", "5000.00", at(2024, 1, 11, 8), models.DirectionCredit, "ABSA")

	mapper := NewTransferMapper(nil, fixedTiming{delay: 24 * time.Hour}, nil)
	result := mapper.Map([]*models.TransactionRecord{out, in})

	if len(result.Mappings) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(result.Mappings))
	}

	m := result.Mappings[0]
	if m.PrimaryTransactionID != "OUT1" || m.SecondaryTransactionID != "IN1" {
		t.Errorf("unexpected mapping %s -> %s", m.PrimaryTransactionID, m.SecondaryTransactionID)
	}
	if m.MappingStatus != MappingMapped {
		t.Errorf("expected mapped status, got %s", m.MappingStatus)
	}
	if m.Confidence < 0.8 || m.Confidence > 0.99 {
		t.Errorf("expected confidence in [0.8, 0.99], got %f", m.Confidence)
	}
	if m.ActualDelayHours != 22 || m.ExpectedDelayHours != 24 {
		t.Errorf("expected 22h actual / 24h expected, got %.2f / %.2f", m.ActualDelayHours, m.ExpectedDelayHours)
	}
	if !m.WithinExpectedWindow {
		t.Error("expected mapping to be within window")
	}
	if len(result.Unmapped) != 0 {
		t.Errorf("expected no unmapped debits, got %v", result.Unmapped)
	}
}

func TestTransferMapperRejectsInvalidPairs(t *testing.T) {
	out := record("OUT1", "EFT TO NEDBANK", "-5000.00", at(2024, 1, 10, 10), models.DirectionDebit, "FNB")

	tests := []struct {
		name   string
		credit *models.TransactionRecord
	}{
		{"same institution", record("IN1", "EFT", "5000.00", at(2024, 1, 10, 12), models.DirectionCredit, "fnb")},
		{"arrives before debit", record("IN2", "EFT", "5000.00", at(2024, 1, 10, 9), models.DirectionCredit, "Nedbank")},
		{"arrives after window", record("IN3", "EFT", "5000.00", at(2024, 1, 11, 11), models.DirectionCredit, "Nedbank")},
		{"different amount", record("IN4", "EFT", "4999.99", at(2024, 1, 10, 12), models.DirectionCredit, "Nedbank")},
	}

	mapper := NewTransferMapper(nil, fixedTiming{delay: 24 * time.Hour}, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := mapper.Map([]*models.TransactionRecord{out, tt.credit})
			if len(result.Mappings) != 0 {
				t.Errorf("expected no mapping, got %+v", result.Mappings[0])
			}
			if len(result.Unmapped) != 1 || result.Unmapped[0] != "OUT1" {
				t.Errorf("expected OUT1 reported as unmapped transfer, got %v", result.Unmapped)
			}
		})
	}
}

func TestTransferMapperConsumesCreditOnce(t *testing.T) {
	first := record("OUT1", "EFT PAYMENT", "-1200.00", at(2024, 2, 5, 9), models.DirectionDebit, "Capitec")
	second := record("OUT2", "EFT PAYMENT", "-1200.00", at(2024, 2, 5, 11), models.DirectionDebit, "Standard Bank")
	credit := record("IN1", "PAYMENT", "1200.00", at(2024, 2, 5, 13), models.DirectionCredit, "ABSA")

	mapper := NewTransferMapper(nil, fixedTiming{delay: 24 * time.Hour}, nil)
	result := mapper.Map([]*models.TransactionRecord{first, second, credit})

	if len(result.Mappings) != 1 {
		t.Fatalf("expected a single mapping, got %d", len(result.Mappings))
	}
	if result.Mappings[0].PrimaryTransactionID != "OUT2" {
		t.Errorf("expected the shorter delay to win, got %s", result.Mappings[0].PrimaryTransactionID)
	}
}

func TestTransferMapperIgnoresNonTransferDebits(t *testing.T) {
	card := record("CARD1", "WOOLWORTHS CAPE TOWN CARD PURCHASE", "-500.00", at(2024, 1, 10, 10), models.DirectionDebit, "FNB")
	sale := record("SALE1", "CUSTOMER INVOICE 42 SETTLED", "500.00", at(2024, 1, 10, 12), models.DirectionCredit, "ABSA")

	mapper := NewTransferMapper(nil, fixedTiming{delay: 24 * time.Hour}, nil)
	result := mapper.Map([]*models.TransactionRecord{card, sale})

	if len(result.Mappings) != 0 {
		t.Errorf("a card purchase must not be mapped as a transfer, got %+v", result.Mappings[0])
	}
	if len(result.Unmapped) != 0 {
		t.Errorf("a card purchase is not an unmapped transfer, got %v", result.Unmapped)
	}
}

func TestTransferMapperReferenceBonus(t *testing.T) {
	config := DefaultMatchingConfig()
	config.SearchWindowMultiplier = 2.0

	out := record("OUT1", "EFT TO SUPPLIER", "-800.00", at(2024, 3, 1, 10), models.DirectionDebit, "FNB")
	out.Reference = "INV-2024-77"
	in := record("IN1", "CREDIT INV202477 FNB", "800.00", at(2024, 3, 2, 16), models.DirectionCredit, "ABSA")

	mapper := NewTransferMapper(config, fixedTiming{delay: 24 * time.Hour}, nil)
	result := mapper.Map([]*models.TransactionRecord{out, in})

	if len(result.Mappings) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(result.Mappings))
	}
	m := result.Mappings[0]
	if m.MappingStatus != MappingFailed {
		t.Errorf("a 30h settlement against a 24h expectation should be failed, got %s", m.MappingStatus)
	}
	if m.WithinExpectedWindow {
		t.Error("expected mapping outside its window")
	}
	if m.Confidence != 0.99 {
		t.Errorf("expected 0.7+0.2+0.1 capped at 0.99, got %f", m.Confidence)
	}
	if !strings.Contains(m.Reason, "references match") {
		t.Errorf("expected reason to mention references, got %q", m.Reason)
	}
}

func TestReferencesMatch(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"INV-001", "inv001", true},
		{"ABC123", "REF ABC123 X", true},
		{"ABC123", "XYZ", false},
		{"", "ABC", false},
		{"--", "ABC", false},
	}

	for _, tt := range tests {
		if got := referencesMatch(tt.a, tt.b); got != tt.want {
			t.Errorf("referencesMatch(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
