package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-reconciliation-engine/cmd/reconciler/config"
	"golang-reconciliation-engine/internal/banking"
	"golang-reconciliation-engine/internal/models"
)

const overrideCatalog = `banks:
  - name: FNB
    aliases: [first national bank]
    timezone: Africa/Johannesburg
    processing_window:
      start: "07:00"
      end: "16:00"
      weekdays_only: false
    delays:
      same_institution_hours: 1
      cross_institution_hours: 12
      immediate_payment_hours: 0.5
`

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func TestRenderBankTable(t *testing.T) {
	catalog, err := banking.DefaultCatalog()
	require.NoError(t, err)

	var buf bytes.Buffer
	renderBankTable(&buf, catalog, map[string]bool{"capitec": true})
	out := buf.String()

	for _, want := range []string{"Bank", "EFT Window", "FNB", "ABSA", "Standard Bank", "Nedbank", "Capitec", "(default)", "08:00-15:30 weekdays", "0.5h", "24h"} {
		assert.Contains(t, out, want)
	}

	var capitecRow string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "Capitec") {
			capitecRow = line
		}
	}
	assert.Contains(t, capitecRow, "company")
}

func TestApplyPreferenceFlags(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().Bool("consider-bank-delays", true, "")
	cmd.Flags().Bool("cross-bank-matching", true, "")
	cmd.Flags().Float64("confidence-threshold", 0.7, "")
	cmd.Flags().Float64("auto-approve-threshold", 0.9, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--cross-bank-matching=false", "--confidence-threshold", "0.8"}))

	prefs := &models.Preferences{ConsiderBankDelays: false, CrossBankMatching: true, ConfidenceThreshold: 0.6, AutoApproveThreshold: 0.95}
	applyPreferenceFlags(cmd, prefs)

	assert.False(t, prefs.ConsiderBankDelays, "unset flag must keep stored value")
	assert.False(t, prefs.CrossBankMatching)
	assert.Equal(t, 0.8, prefs.ConfidenceThreshold)
	assert.Equal(t, 0.95, prefs.AutoApproveThreshold)
}

func TestRequireCompanyAndDB(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	_, _, err := requireCompanyAndDB()
	assert.Error(t, err)

	viper.Set("company", "acme")
	_, _, err = requireCompanyAndDB()
	assert.Error(t, err)

	viper.Set("db", "x.db")
	company, db, err := requireCompanyAndDB()
	require.NoError(t, err)
	assert.Equal(t, "acme", company)
	assert.Equal(t, "x.db", db)
}

func TestLoadBaseCatalog(t *testing.T) {
	catalog, err := loadBaseCatalog("")
	require.NoError(t, err)
	assert.Len(t, catalog.Banks, 5)

	dir := t.TempDir()
	custom, err := loadBaseCatalog(writeFile(t, dir, "banks.yaml", overrideCatalog))
	require.NoError(t, err)
	require.Len(t, custom.Banks, 1)
	assert.Equal(t, "FNB", custom.Banks[0].Name)
	assert.NotNil(t, custom.Default, "catalog without default gets the generic profile")

	_, err = loadBaseCatalog(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = loadBaseCatalog(writeFile(t, dir, "broken.yaml", "banks: [unclosed"))
	assert.Error(t, err)
}

func TestBanksImportAndList(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "reconciler.db")
	file := writeFile(t, dir, "overrides.yaml", overrideCatalog)

	out, err := executeCommand(t, "banks", "import", file, "--company", "acme", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 bank profile(s) for company acme")

	out, err = executeCommand(t, "banks", "list", "--company", "acme", "--db", db)
	require.NoError(t, err)

	var fnbRow string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "| FNB") {
			fnbRow = line
		}
	}
	assert.Contains(t, fnbRow, "07:00-16:00")
	assert.Contains(t, fnbRow, "12h")
	assert.Contains(t, fnbRow, "company")
	assert.Contains(t, out, "Capitec", "base profiles stay listed")
}

func TestPreferencesSetAndShow(t *testing.T) {
	db := filepath.Join(t.TempDir(), "reconciler.db")

	out, err := executeCommand(t, "preferences", "show", "--company", "acme", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Preferences for acme (defaults)")
	assert.Contains(t, out, "Confidence threshold:   0.70")

	out, err = executeCommand(t, "preferences", "set", "--company", "acme", "--db", db, "--confidence-threshold", "0.85", "--cross-bank-matching=false")
	require.NoError(t, err)
	assert.Contains(t, out, "Preferences for acme (stored)")

	out, err = executeCommand(t, "preferences", "show", "--company", "acme", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Confidence threshold:   0.85")
	assert.Contains(t, out, "Cross-bank matching:    false")
	assert.Contains(t, out, "Consider bank delays:   true")
}

func TestGenerateCommand(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "sample.csv")

	out, err := executeCommand(t, "generate", "--output", output, "--count", "50", "--seed", "7", "--institutions", "FNB,ABSA")
	require.NoError(t, err)
	assert.Contains(t, out, "in "+output)
	assert.Contains(t, out, "Seed used: 7")

	report, _ := runJSON(t, &config.Options{Inputs: []string{output}, CompanyID: "acme"})
	assert.Greater(t, report.Statistics.TotalProcessed, 50)
	assert.NotEmpty(t, report.Duplicates)
}

func TestGenerateConfigRejectsBadInput(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	_, _, err := generateConfig()
	assert.Error(t, err, "output is required")

	viper.Set("output", "x.csv")
	viper.Set("start", "01/01/2024")
	_, _, err = generateConfig()
	assert.Error(t, err)

	viper.Set("start", "2024-01-01")
	viper.Set("count", 10)
	viper.Set("days", 5)
	viper.Set("institutions", []string{"FNB"})
	viper.Set("transfer-rate", 0.1)
	_, _, err = generateConfig()
	assert.Error(t, err, "transfers need two institutions")

	viper.Set("transfer-rate", 0)
	c, output, err := generateConfig()
	require.NoError(t, err)
	assert.Equal(t, "x.csv", output)
	assert.Equal(t, 10, c.Count)
}
