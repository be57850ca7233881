package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-reconciliation-engine/internal/banking"
	"golang-reconciliation-engine/internal/models"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:", nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconciler.db")

	store, err := Open(path, nil, nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(path, nil, nil)
	require.NoError(t, err)
	defer store.Close()

	var count int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(allMigrations), count)
}

func TestBankProfileOverrides(t *testing.T) {
	store := openStore(t)
	ctx := t.Context()

	base, err := store.LoadBankConfigs(ctx, "acme")
	require.NoError(t, err)
	fnb, ok := base.Find("FNB")
	require.True(t, ok)
	baseCross := fnb.Delays.CrossInstitutionHours

	override := &banking.BankConfig{
		Name:     fnb.Name,
		Aliases:  fnb.Aliases,
		TimeZone: "Africa/Johannesburg",
		ProcessingWindow: banking.ProcessingWindow{
			Start: "07:00", End: "17:00", WeekdaysOnly: true,
		},
		Delays: banking.SettlementDelays{
			SameInstitutionHours: 1, CrossInstitutionHours: 48, ImmediatePaymentHours: 0.25,
		},
	}
	require.NoError(t, store.SaveBankProfile(ctx, "acme", override))

	catalog, err := store.LoadBankConfigs(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, catalog.Banks, len(base.Banks))

	got, ok := catalog.Find("FNB")
	require.True(t, ok)
	assert.Equal(t, 48.0, got.Delays.CrossInstitutionHours)
	assert.Equal(t, "07:00", got.ProcessingWindow.Start)

	// other companies still see the base profile
	other, err := store.LoadBankConfigs(ctx, "globex")
	require.NoError(t, err)
	otherFNB, ok := other.Find("FNB")
	require.True(t, ok)
	assert.Equal(t, baseCross, otherFNB.Delays.CrossInstitutionHours)

	profiles, err := store.BankProfiles(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, fnb.Name, profiles[0].Name)
}

func TestSaveBankProfileRejectsInvalid(t *testing.T) {
	store := openStore(t)

	err := store.SaveBankProfile(t.Context(), "acme", &banking.BankConfig{
		Name:             "TymeBank",
		TimeZone:         "Africa/Johannesburg",
		ProcessingWindow: banking.ProcessingWindow{Start: "16:00", End: "08:00"},
	})
	assert.Error(t, err)

	profiles, err := store.BankProfiles(t.Context(), "acme")
	require.NoError(t, err)
	assert.Empty(t, profiles)
}

func TestImportCatalogAddsNewInstitution(t *testing.T) {
	store := openStore(t)
	ctx := t.Context()

	catalog, err := banking.ParseCatalog([]byte(`
banks:
  - name: TymeBank
    aliases: [TYME]
    timezone: Africa/Johannesburg
    processing_window:
      start: "08:00"
      end: "16:00"
      weekdays_only: false
    delays:
      same_institution_hours: 0.5
      cross_institution_hours: 24
      immediate_payment_hours: 0.1
`))
	require.NoError(t, err)

	n, err := store.ImportCatalog(ctx, "acme", catalog)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	merged, err := store.LoadBankConfigs(ctx, "acme")
	require.NoError(t, err)
	_, ok := merged.Find("tyme")
	assert.True(t, ok)
	_, ok = merged.Find("Capitec")
	assert.True(t, ok)
}

func TestFeePatterns(t *testing.T) {
	store := openStore(t)
	ctx := t.Context()

	defaults, err := store.LoadFeePatterns(ctx, "acme")
	require.NoError(t, err)
	assert.NotEmpty(t, defaults, "Expected base catalog fee patterns when none are stored")

	require.NoError(t, store.SaveFeePattern(ctx, "", &banking.FeePattern{
		Type: "card_replacement_fee", Pattern: `(?i)card\s+replacement`, ExpectedAmount: "140.00",
	}))
	require.NoError(t, store.SaveFeePattern(ctx, "acme", &banking.FeePattern{
		Type: "cash_handling_fee", Pattern: `(?i)cash\s+deposit\s+fee`,
	}))
	assert.Error(t, store.SaveFeePattern(ctx, "acme", &banking.FeePattern{Type: "broken", Pattern: `(`}))

	patterns, err := store.LoadFeePatterns(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	assert.Equal(t, "card_replacement_fee", patterns[0].Type)
	assert.Equal(t, "140.00", patterns[0].ExpectedAmount)
	assert.Equal(t, "cash_handling_fee", patterns[1].Type)

	globexOnly, err := store.LoadFeePatterns(ctx, "globex")
	require.NoError(t, err)
	require.Len(t, globexOnly, 1)
	assert.Equal(t, "card_replacement_fee", globexOnly[0].Type)
}

func TestPreferences(t *testing.T) {
	store := openStore(t)
	ctx := t.Context()

	prefs, err := store.LoadPreferences(ctx, "acme")
	require.NoError(t, err)
	assert.Nil(t, prefs)

	want := &models.Preferences{
		ConsiderBankDelays:   false,
		CrossBankMatching:    true,
		ConfidenceThreshold:  0.75,
		AutoApproveThreshold: 0.95,
	}
	require.NoError(t, store.SavePreferences(ctx, "acme", want))

	got, err := store.LoadPreferences(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Error(t, store.SavePreferences(ctx, "acme", &models.Preferences{ConfidenceThreshold: 1.5}))
}

func TestHistory(t *testing.T) {
	store := openStore(t)
	ctx := t.Context()
	sast := time.FixedZone("SAST", 2*60*60)

	record := func(id string, day int, amount string) *models.TransactionRecord {
		amt := decimal.RequireFromString(amount)
		r := models.NewTransactionRecord(id, "NETFLIX.COM", amt, time.Date(2024, 1, day, 6, 30, 0, 0, sast),
			models.DirectionFromAmount(amt), "FNB", "ACC-1")
		r.Reference = "NF-" + id
		return r
	}

	records := []*models.TransactionRecord{
		record("H1", 3, "-199.00"),
		record("H2", 10, "-199.00"),
		record("H3", 20, "-229.00"),
		{ID: "BAD", Malformed: "invalid amount"},
	}

	saved, err := store.SaveHistory(ctx, "acme", "run-1", records)
	require.NoError(t, err)
	assert.Equal(t, 3, saved)

	all, err := store.LoadHistory(ctx, "acme", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	first := all[0]
	assert.Equal(t, "H1", first.ID)
	assert.True(t, first.Amount.Equal(decimal.RequireFromString("-199")))
	assert.True(t, first.Date.Equal(time.Date(2024, 1, 3, 6, 30, 0, 0, sast)))
	_, offset := first.Date.Zone()
	assert.Equal(t, 2*60*60, offset)
	assert.Equal(t, models.DirectionDebit, first.Direction)
	assert.Equal(t, "NF-H1", first.Reference)

	window, err := store.LoadHistory(ctx, "acme",
		time.Date(2024, 1, 5, 0, 0, 0, 0, sast),
		time.Date(2024, 1, 20, 6, 30, 0, 0, sast))
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "H2", window[0].ID)

	other, err := store.LoadHistory(ctx, "globex", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, other)
}
