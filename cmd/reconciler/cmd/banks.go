package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"golang-reconciliation-engine/internal/banking"
	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/storage"
	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"
)

var banksCmd = &cobra.Command{
	Use:   "banks",
	Short: "Inspect and manage bank profiles",
	Long: `Bank profiles describe each institution's EFT processing window,
settlement delays, payment-rail patterns and fee patterns.

The embedded catalog covers the major South African banks. A company can
override individual profiles by importing a YAML catalog into the database.

Examples:
  reconciler banks list
  reconciler banks list --company acme --db reconciler.db
  reconciler banks import overrides.yaml --company acme --db reconciler.db`,
}

var banksListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List the bank profiles a company reconciles with",
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		company := viper.GetString("company")

		base, err := loadBaseCatalog(viper.GetString("banks-file"))
		if err != nil {
			return err
		}

		overrides := map[string]bool{}
		catalog := base
		if db := viper.GetString("db"); db != "" {
			store, err := openStore(db, base)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			catalog, err = store.LoadBankConfigs(ctx, company)
			if err != nil {
				return errors.ExternalLoadError(errors.CodeLoadFailed, "bank profiles", err)
			}
			profiles, err := store.BankProfiles(ctx, company)
			if err != nil {
				return errors.ExternalLoadError(errors.CodeLoadFailed, "bank profiles", err)
			}
			for _, p := range profiles {
				overrides[banking.CanonicalName(p.Name)] = true
			}
		}

		renderBankTable(cmd.OutOrStdout(), catalog, overrides)
		return nil
	},
}

var banksImportCmd = &cobra.Command{
	Use:     "import FILE",
	Short:   "Store the banks of a YAML catalog as company overrides",
	Args:    cobra.ExactArgs(1),
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		company, db, err := requireCompanyAndDB()
		if err != nil {
			return err
		}

		catalog, err := loadBaseCatalog(args[0])
		if err != nil {
			return err
		}

		store, err := openStore(db, nil)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		n, err := store.ImportCatalog(cmdContext(cmd), company, catalog)
		if err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "banks", args[0], err)
		}

		logger.GetGlobalLogger().WithFields(logger.Fields{"company_id": company, "profiles": n}).Info("Bank profiles imported")
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d bank profile(s) for company %s\n", n, company)
		return nil
	},
}

var preferencesCmd = &cobra.Command{
	Use:   "preferences",
	Short: "Show or change the stored preferences of a company",
	Long: `Preferences control how a company is reconciled: whether bank
settlement delays are considered, whether transfers between institutions are
matched, the confidence threshold and the auto-approve threshold.

Examples:
  reconciler preferences show --company acme --db reconciler.db
  reconciler preferences set --company acme --db reconciler.db --confidence-threshold 0.8 --cross-bank-matching=false`,
}

var preferencesShowCmd = &cobra.Command{
	Use:     "show",
	Short:   "Show the preferences a company is reconciled with",
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		company, db, err := requireCompanyAndDB()
		if err != nil {
			return err
		}

		store, err := openStore(db, nil)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		prefs, err := store.LoadPreferences(cmdContext(cmd), company)
		if err != nil {
			return errors.ExternalLoadError(errors.CodeLoadFailed, "preferences", err)
		}

		source := "stored"
		if prefs == nil {
			prefs = models.DefaultPreferences()
			source = "defaults"
		}
		writePreferences(cmd.OutOrStdout(), company, source, prefs)
		return nil
	},
}

var preferencesSetCmd = &cobra.Command{
	Use:     "set",
	Short:   "Change stored preferences; unset flags keep their value",
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		company, db, err := requireCompanyAndDB()
		if err != nil {
			return err
		}

		store, err := openStore(db, nil)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		ctx := cmdContext(cmd)
		prefs, err := store.LoadPreferences(ctx, company)
		if err != nil {
			return errors.ExternalLoadError(errors.CodeLoadFailed, "preferences", err)
		}
		if prefs == nil {
			prefs = models.DefaultPreferences()
		}

		applyPreferenceFlags(cmd, prefs)

		if err := store.SavePreferences(ctx, company, prefs); err != nil {
			return errors.ValidationError(errors.CodeOutOfRange, "preferences", company, err)
		}

		writePreferences(cmd.OutOrStdout(), company, "stored", prefs)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(banksCmd)
	banksCmd.AddCommand(banksListCmd, banksImportCmd)

	banksListCmd.Flags().String("company", "", "show the profiles of this company")
	banksListCmd.Flags().String("db", "", "SQLite database with company overrides")
	banksListCmd.Flags().String("banks-file", "", "YAML bank catalog replacing the embedded one")

	banksImportCmd.Flags().String("company", "", "company the overrides apply to (required)")
	banksImportCmd.Flags().String("db", "", "SQLite database (required)")

	rootCmd.AddCommand(preferencesCmd)
	preferencesCmd.AddCommand(preferencesShowCmd, preferencesSetCmd)

	for _, c := range []*cobra.Command{preferencesShowCmd, preferencesSetCmd} {
		c.Flags().String("company", "", "company id (required)")
		c.Flags().String("db", "", "SQLite database (required)")
	}
	preferencesSetCmd.Flags().Bool("consider-bank-delays", true, "use per-institution settlement delays")
	preferencesSetCmd.Flags().Bool("cross-bank-matching", true, "match transfers between institutions")
	preferencesSetCmd.Flags().Float64("confidence-threshold", 0.7, "minimum confidence for automatic matching (0-1)")
	preferencesSetCmd.Flags().Float64("auto-approve-threshold", 0.9, "confidence from which matches are approved without review (0-1)")
}

func requireCompanyAndDB() (string, string, error) {
	company := strings.TrimSpace(viper.GetString("company"))
	if company == "" {
		return "", "", errors.ValidationError(errors.CodeMissingField, "company", "", nil).
			WithSuggestion("Pass --company")
	}
	db := viper.GetString("db")
	if db == "" {
		return "", "", errors.ValidationError(errors.CodeMissingField, "db", "", nil).
			WithSuggestion("Pass --db with the path of the SQLite database")
	}
	return company, db, nil
}

// loadBaseCatalog reads path, or the embedded catalog when path is empty
func loadBaseCatalog(path string) (*banking.Catalog, error) {
	if path == "" {
		catalog, err := banking.DefaultCatalog()
		if err != nil {
			return nil, errors.InternalError(errors.CodeUnexpectedError, "load embedded bank catalog", err)
		}
		return catalog, nil
	}

	if err := validateFileExists(path, "bank catalog"); err != nil {
		return nil, err
	}
	catalog, err := banking.LoadCatalogFile(path)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "banks-file", path, err)
	}
	return catalog, nil
}

func openStore(path string, base *banking.Catalog) (*storage.Store, error) {
	store, err := storage.Open(path, base, logger.GetGlobalLogger())
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "db", path, err)
	}
	return store, nil
}

// applyPreferenceFlags copies the explicitly set flags of cmd onto prefs
func applyPreferenceFlags(cmd *cobra.Command, prefs *models.Preferences) {
	flags := cmd.Flags()
	if flags.Changed("consider-bank-delays") {
		prefs.ConsiderBankDelays, _ = flags.GetBool("consider-bank-delays")
	}
	if flags.Changed("cross-bank-matching") {
		prefs.CrossBankMatching, _ = flags.GetBool("cross-bank-matching")
	}
	if flags.Changed("confidence-threshold") {
		prefs.ConfidenceThreshold, _ = flags.GetFloat64("confidence-threshold")
	}
	if flags.Changed("auto-approve-threshold") {
		prefs.AutoApproveThreshold, _ = flags.GetFloat64("auto-approve-threshold")
	}
}

func writePreferences(w io.Writer, company, source string, prefs *models.Preferences) {
	fmt.Fprintf(w, "Preferences for %s (%s):\n", company, source)
	fmt.Fprintf(w, "  Consider bank delays:   %v\n", prefs.ConsiderBankDelays)
	fmt.Fprintf(w, "  Cross-bank matching:    %v\n", prefs.CrossBankMatching)
	fmt.Fprintf(w, "  Confidence threshold:   %.2f\n", prefs.ConfidenceThreshold)
	fmt.Fprintf(w, "  Auto-approve threshold: %.2f\n", prefs.AutoApproveThreshold)
}

// renderBankTable writes one row per profile plus the generic fallback
func renderBankTable(w io.Writer, catalog *banking.Catalog, overrides map[string]bool) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Bank", "Aliases", "Time Zone", "EFT Window", "Same", "Cross", "Immediate", "Fees", "Source"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, bank := range catalog.Banks {
		source := "catalog"
		if overrides[banking.CanonicalName(bank.Name)] {
			source = "company"
		}
		table.Append(bankRow(bank, bank.Name, source))
	}
	if catalog.Default != nil {
		table.Append(bankRow(catalog.Default, "(default)", "catalog"))
	}

	table.Render()
}

func bankRow(bank *banking.BankConfig, name, source string) []string {
	window := bank.ProcessingWindow.Start + "-" + bank.ProcessingWindow.End
	if bank.ProcessingWindow.WeekdaysOnly {
		window += " weekdays"
	}
	return []string{
		name,
		strings.Join(bank.Aliases, ", "),
		bank.TimeZone,
		window,
		fmt.Sprintf("%gh", bank.Delays.SameInstitutionHours),
		fmt.Sprintf("%gh", bank.Delays.CrossInstitutionHours),
		fmt.Sprintf("%gh", bank.Delays.ImmediatePaymentHours),
		fmt.Sprintf("%d", len(bank.FeePatterns)),
		source,
	}
}
