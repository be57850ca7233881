// Package fixtures generates synthetic multi-bank transaction batches with
// planted duplicates, inter-bank transfers, bank fees and malformed rows.
// Batches are reproducible for a given seed.
package fixtures

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Header is the column layout written by WriteCSV
var Header = []string{"id", "date", "description", "amount", "institution", "account_id", "reference", "category"}

// Config controls the shape of a generated batch
type Config struct {
	// Count is the number of background transactions; planted scenarios
	// are added on top
	Count int

	Start time.Time
	Days  int

	Institutions []string

	// Rates are fractions of Count
	DuplicateRate float64
	TransferRate  float64
	MalformedRate float64

	// MonthlyFees adds one monthly account fee per institution
	MonthlyFees bool

	Seed int64
}

// DefaultConfig returns a 30-day January batch across four banks
func DefaultConfig() *Config {
	sast := time.FixedZone("SAST", 2*60*60)
	return &Config{
		Count:         200,
		Start:         time.Date(2024, 1, 1, 0, 0, 0, 0, sast),
		Days:          30,
		Institutions:  []string{"FNB", "ABSA", "Standard Bank", "Capitec"},
		DuplicateRate: 0.05,
		TransferRate:  0.05,
		MalformedRate: 0.02,
		MonthlyFees:   true,
		Seed:          1,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Count <= 0 {
		return fmt.Errorf("count must be positive, got %d", c.Count)
	}
	if c.Days <= 0 {
		return fmt.Errorf("days must be positive, got %d", c.Days)
	}
	if c.Start.IsZero() {
		return fmt.Errorf("start date is required")
	}
	if len(c.Institutions) == 0 {
		return fmt.Errorf("at least one institution is required")
	}
	if c.TransferRate > 0 && len(c.Institutions) < 2 {
		return fmt.Errorf("transfers need at least two institutions")
	}
	for name, rate := range map[string]float64{"duplicate": c.DuplicateRate, "transfer": c.TransferRate, "malformed": c.MalformedRate} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("%s rate must be between 0 and 1, got %.2f", name, rate)
		}
	}
	return nil
}

// Row is one generated CSV row
type Row struct {
	ID          string
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Institution string
	AccountID   string
	Reference   string
	Category    string

	// RawAmount replaces the formatted amount, for malformed rows
	RawAmount string
}

// Manifest lists the ids of every planted scenario
type Manifest struct {
	// Duplicates maps each planted copy to the row it copies
	Duplicates map[string]string
	// Transfers maps each outgoing leg to its incoming leg
	Transfers map[string]string
	Fees      []string
	Malformed []string
}

// Batch is a generated batch and what was planted in it
type Batch struct {
	Rows     []Row
	Manifest Manifest
}

var merchants = []struct {
	description string
	category    string
	min, max    float64
	credit      bool
}{
	{"CARD PURCHASE WOOLWORTHS", "groceries", 80, 1800, false},
	{"CARD PURCHASE PICK N PAY", "groceries", 60, 2500, false},
	{"DEBIT ORDER DISCOVERY HEALTH", "insurance", 1500, 6000, false},
	{"DEBIT ORDER TELKOM", "utilities", 300, 1200, false},
	{"PREPAID ELECTRICITY CITY POWER", "utilities", 200, 1500, false},
	{"FUEL ENGEN", "transport", 400, 1600, false},
	{"PAYMENT TO SUPPLIER", "suppliers", 2000, 45000, false},
	{"CUSTOMER PAYMENT", "sales", 500, 60000, true},
	{"CASH DEPOSIT", "sales", 200, 20000, true},
	{"INTEREST RECEIVED", "interest", 5, 300, true},
}

// Generator builds batches from a Config
type Generator struct {
	config *Config
	rng    *rand.Rand
	seq    int
}

// NewGenerator validates config and creates a generator
func NewGenerator(config *Config) (*Generator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}, nil
}

// Generate returns a new batch. Rows are ordered by date.
func (g *Generator) Generate() *Batch {
	batch := &Batch{
		Manifest: Manifest{
			Duplicates: make(map[string]string),
			Transfers:  make(map[string]string),
		},
	}

	for i := 0; i < g.config.Count; i++ {
		batch.Rows = append(batch.Rows, g.background())
	}

	for i := 0; i < g.scaled(g.config.TransferRate); i++ {
		out, in := g.transfer()
		batch.Rows = append(batch.Rows, out, in)
		batch.Manifest.Transfers[out.ID] = in.ID
	}

	copied := make(map[string]bool)
	for i := 0; i < g.scaled(g.config.DuplicateRate); i++ {
		original := batch.Rows[g.rng.Intn(g.config.Count)]
		if copied[original.ID] {
			continue
		}
		copied[original.ID] = true
		dup := original
		dup.ID = g.nextID("DUP")
		batch.Rows = append(batch.Rows, dup)
		batch.Manifest.Duplicates[dup.ID] = original.ID
	}

	if g.config.MonthlyFees {
		for _, inst := range g.config.Institutions {
			fee := g.fee(inst)
			batch.Rows = append(batch.Rows, fee)
			batch.Manifest.Fees = append(batch.Manifest.Fees, fee.ID)
		}
	}

	for i := 0; i < g.scaled(g.config.MalformedRate); i++ {
		bad := g.background()
		bad.ID = g.nextID("BAD")
		bad.RawAmount = fmt.Sprintf("R%d,%d.%dx", g.rng.Intn(90)+10, g.rng.Intn(900)+100, g.rng.Intn(9))
		batch.Rows = append(batch.Rows, bad)
		batch.Manifest.Malformed = append(batch.Manifest.Malformed, bad.ID)
	}

	sortRows(batch.Rows)
	return batch
}

func (g *Generator) scaled(rate float64) int {
	return int(float64(g.config.Count)*rate + 0.5)
}

func (g *Generator) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s%06d", prefix, g.seq)
}

func (g *Generator) institution() string {
	return g.config.Institutions[g.rng.Intn(len(g.config.Institutions))]
}

func accountFor(institution string) string {
	return "ACC-" + institution
}

// businessTime returns a weekday timestamp inside banking hours
func (g *Generator) businessTime() time.Time {
	day := g.config.Start.AddDate(0, 0, g.rng.Intn(g.config.Days))
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, 1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 8+g.rng.Intn(7), g.rng.Intn(60), 0, 0, day.Location())
}

func (g *Generator) amount(min, max float64) decimal.Decimal {
	return decimal.NewFromFloat(min + g.rng.Float64()*(max-min)).Round(2)
}

func (g *Generator) background() Row {
	m := merchants[g.rng.Intn(len(merchants))]
	amount := g.amount(m.min, m.max)
	if !m.credit {
		amount = amount.Neg()
	}
	inst := g.institution()

	return Row{
		ID:          g.nextID("TXN"),
		Date:        g.businessTime(),
		Description: m.description,
		Amount:      amount,
		Institution: inst,
		AccountID:   accountFor(inst),
		Category:    m.category,
	}
}

// transfer returns the outgoing and incoming legs of an EFT between two
// institutions, settling on the next business day
func (g *Generator) transfer() (Row, Row) {
	from := g.institution()
	to := g.institution()
	for to == from {
		to = g.institution()
	}

	sent := g.businessTime()
	received := sent.AddDate(0, 0, 1)
	for received.Weekday() == time.Saturday || received.Weekday() == time.Sunday {
		received = received.AddDate(0, 0, 1)
	}
	received = time.Date(received.Year(), received.Month(), received.Day(), 8, 0, 0, 0, received.Location())

	amount := g.amount(1000, 25000)
	ref := fmt.Sprintf("TRF%05d", g.rng.Intn(100000))

	out := Row{
		ID:          g.nextID("OUT"),
		Date:        sent,
		Description: fmt.Sprintf("EFT TO %s REF %s", to, ref),
		Amount:      amount.Neg(),
		Institution: from,
		AccountID:   accountFor(from),
		Reference:   ref,
		Category:    "transfers",
	}
	in := Row{
		ID:          g.nextID("IN"),
		Date:        received,
		Description: fmt.Sprintf("EFT FROM %s REF %s", from, ref),
		Amount:      amount,
		Institution: to,
		AccountID:   accountFor(to),
		Reference:   ref,
		Category:    "transfers",
	}
	return out, in
}

func (g *Generator) fee(institution string) Row {
	last := g.config.Start.AddDate(0, 0, g.config.Days-1)
	return Row{
		ID:          g.nextID("FEE"),
		Date:        time.Date(last.Year(), last.Month(), last.Day(), 20, 0, 0, 0, last.Location()),
		Description: "MONTHLY ACCOUNT FEE",
		Amount:      decimal.RequireFromString("-69.00"),
		Institution: institution,
		AccountID:   accountFor(institution),
		Category:    "bank fees",
	}
}

func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Date.Before(rows[j].Date)
	})
}

// WriteCSV writes rows in the Header layout
func WriteCSV(w io.Writer, rows []Row) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, r := range rows {
		amount := r.Amount.StringFixed(2)
		if r.RawAmount != "" {
			amount = r.RawAmount
		}
		record := []string{
			r.ID,
			r.Date.Format("2006-01-02 15:04:05"),
			r.Description,
			amount,
			r.Institution,
			r.AccountID,
			r.Reference,
			r.Category,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write row %s: %w", r.ID, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteCSVFile writes rows to path
func WriteCSVFile(path string, rows []Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return WriteCSV(file, rows)
}
