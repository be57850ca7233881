package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"golang-reconciliation-engine/cmd/reconciler/config"
	"golang-reconciliation-engine/internal/banking"
	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/parsers"
	"golang-reconciliation-engine/internal/reconciler"
	"golang-reconciliation-engine/internal/reporter"
	"golang-reconciliation-engine/internal/storage"
	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile a batch of transactions",
	Long: `Reconcile reads one or more CSV or XLSX transaction exports, runs the
reconciliation engine for one company and writes a report.

Rows with an unparseable amount or date are kept and queued for review.
With --db, company bank profiles, fee patterns, preferences and transaction
history are read from a SQLite database; --save-history appends the batch to
that history so later runs can detect re-imported transactions.

Examples:
  # Basic reconciliation
  reconciler reconcile --input jan.csv --company acme

  # Several institutions, one period and account
  reconciler reconcile --input fnb.csv,absa.xlsx --company acme \
    --accounts ACC-1 --period-start 2024-01-01 --period-end 2024-01-31

  # Stored configuration and history, JSON report
  reconciler reconcile --input jan.csv --company acme --db reconciler.db \
    --save-history --format json --output report.json

  # Override preferences for one run
  reconciler reconcile --input jan.csv --company acme --confidence-threshold 0.85 --no-cross-bank`,

	PreRunE: preRunReconcile,
	RunE:    runReconcileCmd,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	addReconcileFlags(reconcileCmd)
}

// addReconcileFlags registers the flags shared by reconcile and schedule
func addReconcileFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	flags.StringSliceP("input", "i", []string{}, "comma-separated CSV or XLSX transaction files (required)")
	flags.StringP("company", "c", "", "company id the batch belongs to (required)")
	flags.StringSlice("accounts", []string{}, "only reconcile these account ids")
	flags.String("period-start", "", "first day of the period (YYYY-MM-DD)")
	flags.String("period-end", "", "last day of the period (YYYY-MM-DD)")

	flags.String("timezone", "Africa/Johannesburg", "time zone for timestamps without an offset")
	flags.String("delimiter", ",", "CSV field delimiter")
	flags.String("institution", "", "institution for rows without one")
	flags.String("account", "", "account id for rows without one")

	flags.StringP("format", "f", "console", "output format: console, json, csv, xlsx")
	flags.StringP("output", "o", "", "output file path (default: stdout)")
	flags.Bool("include-timing", false, "include per-transaction settlement timing in the report")
	flags.Bool("progress", false, "show stage progress")

	flags.String("db", "", "SQLite database with company configuration and history")
	flags.String("banks-file", "", "YAML bank catalog replacing the embedded one")
	flags.Bool("save-history", false, "append the batch to the company history (requires --db)")

	flags.String("matching", "default", "matching profile: default, strict, relaxed")
	flags.String("large-transaction", "", "amount from which transactions are escalated (default 50000)")
	flags.Duration("load-timeout", 5*time.Second, "timeout for each configuration source")

	flags.Float64("confidence-threshold", 0, "override the company confidence threshold (0-1)")
	flags.Float64("auto-approve-threshold", 0, "override the company auto-approve threshold (0-1)")
	flags.Bool("ignore-bank-delays", false, "use generic settlement delays for every institution")
	flags.Bool("no-cross-bank", false, "disable cross-bank transfer matching")
}

func preRunReconcile(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd, args); err != nil {
		return err
	}
	opts, err := loadOptions()
	if err != nil {
		return err
	}
	if err := validateInputs(opts); err != nil {
		return err
	}
	return validateOutputPath(opts.OutputFile)
}

// loadOptions reads the reconcile options from viper
func loadOptions() (*config.Options, error) {
	var opts config.Options
	if err := viper.Unmarshal(&opts); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "options", nil, err)
	}
	if err := opts.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "options", nil, err).
			WithSuggestion("Use 'reconciler reconcile --help' to see all available options")
	}
	return &opts, nil
}

func validateInputs(opts *config.Options) error {
	for i, input := range opts.Inputs {
		if err := validateFileExists(input, fmt.Sprintf("input file %d", i+1)); err != nil {
			return err
		}
	}
	if opts.BanksFile != "" {
		if err := validateFileExists(opts.BanksFile, "bank catalog"); err != nil {
			return err
		}
	}
	return nil
}

func validateOutputPath(outputFile string) error {
	if outputFile == "" {
		return nil
	}
	dir := filepath.Dir(outputFile)
	if dir != "." {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return errors.FileError(errors.CodeFileNotFound, dir, err).
				WithSuggestion("Create the output directory first")
		}
	}
	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return errors.ValidationError(errors.CodeMissingField, description, "", nil)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err).
			WithContext("description", description)
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}

	if info.IsDir() {
		return errors.FileError(errors.CodeInvalidFormat, filePath,
			fmt.Errorf("%s is a directory, expected a file", description))
	}

	file, err := os.Open(filePath)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	_ = file.Close()

	return nil
}

func runReconcileCmd(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions()
	if err != nil {
		return err
	}

	r := newRunner(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	_, err = r.run(cmd.Context(), opts.OutputFile)
	return err
}

// runner executes reconciliation runs for one set of options
type runner struct {
	opts    *config.Options
	stdout  io.Writer
	stderr  io.Writer
	verbose bool
	logger  logger.Logger
}

func newRunner(opts *config.Options, stdout, stderr io.Writer) *runner {
	return &runner{
		opts:    opts,
		stdout:  stdout,
		stderr:  stderr,
		verbose: viper.GetBool("verbose"),
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
	}
}

// run parses the inputs, reconciles them and writes the report to
// outputPath, or stdout when it is empty
func (r *runner) run(ctx context.Context, outputPath string) (*reconciler.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	opts := r.opts
	log := r.logger.WithField("company_id", opts.CompanyID)

	parserConfig, err := config.CreateRecordParserConfig(opts)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parser", nil, err)
	}
	engineConfig, err := config.CreateReconcilerConfig(opts)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "engine", nil, err)
	}

	records, err := r.parseInputs(ctx, parserConfig)
	if err != nil {
		return nil, err
	}

	sourceOpts, store, err := r.openSources()
	if err != nil {
		return nil, err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	runCtx, err := r.buildContext(ctx, store, parserConfig)
	if err != nil {
		return nil, err
	}

	orchestrator, err := reconciler.NewOrchestrator(engineConfig, append(sourceOpts, reconciler.WithLogger(log))...)
	if err != nil {
		return nil, err
	}
	if opts.ShowProgress {
		orchestrator.AddProgressCallback(func(p reconciler.Progress) {
			fmt.Fprintf(r.stderr, "\r[%d/%d] %-12s (%.1f%% complete)", p.CompletedStages, p.TotalStages, p.Stage, p.PercentComplete)
		})
	}

	result, err := orchestrator.Run(ctx, &reconciler.Request{Records: records, Context: runCtx})
	if opts.ShowProgress {
		fmt.Fprintf(r.stderr, "\n")
	}
	if err != nil {
		return nil, err
	}

	if opts.SaveHistory && store != nil {
		saved, err := store.SaveHistory(ctx, opts.CompanyID, result.RunID, records)
		if err != nil {
			return result, errors.ExternalLoadError(errors.CodeLoadFailed, "transaction history", err).
				WithSuggestion("The report was not written; check the database is writable")
		}
		log.WithField("saved", saved).Info("Batch appended to history")
	}

	if err := r.writeReport(result, outputPath); err != nil {
		return result, err
	}

	if r.verbose {
		stats := result.Statistics
		fmt.Fprintf(r.stderr, "\nReconciliation completed (run %s).\n", result.RunID)
		fmt.Fprintf(r.stderr, "Processed %d transactions: %d auto-matched, %d require review.\n",
			stats.TotalProcessed, stats.AutoMatched, stats.RequiresReview)
		fmt.Fprintf(r.stderr, "Found %d cross-bank transfers and %d fees.\n", stats.CrossBankTransfers, stats.FeesIdentified)
		fmt.Fprintf(r.stderr, "Processing time: %v\n", result.Duration)
	}

	return result, nil
}

// parseInputs parses every input into one batch. Ids repeated across files
// are suffixed with the file name.
func (r *runner) parseInputs(ctx context.Context, parserConfig *parsers.RecordParserConfig) ([]*models.TransactionRecord, error) {
	parser, err := parsers.NewRecordParser(parserConfig)
	if err != nil {
		return nil, err
	}

	var batch []*models.TransactionRecord
	seen := make(map[string]string)

	for _, input := range r.opts.Inputs {
		records, stats, err := parser.ParseFile(ctx, input)
		if err != nil {
			return nil, err
		}
		if stats.HasErrors() && r.verbose {
			fmt.Fprintln(r.stderr, FormatParseProblems(input, stats.SampleErrors(5), stats.ErrorCount))
		}

		base := filepath.Base(input)
		for _, rec := range records {
			if other, dup := seen[rec.ID]; dup {
				renamed := rec.ID + "@" + base
				r.logger.WithFields(logger.Fields{
					"record_id": rec.ID,
					"first":     other,
					"renamed":   renamed,
				}).Warn("Transaction id repeated across input files")
				rec.ID = renamed
			}
			seen[rec.ID] = input
		}
		batch = append(batch, records...)
	}

	return batch, nil
}

// openSources builds the orchestrator sources. With --db the store serves
// every source; otherwise a --banks-file catalog replaces the embedded one.
func (r *runner) openSources() ([]reconciler.Option, *storage.Store, error) {
	var base *banking.Catalog
	if r.opts.BanksFile != "" {
		catalog, err := banking.LoadCatalogFile(r.opts.BanksFile)
		if err != nil {
			return nil, nil, errors.ConfigurationError(errors.CodeInvalidConfig, "banks-file", r.opts.BanksFile, err).
				WithSuggestion("Check the catalog with 'reconciler banks list --banks-file " + r.opts.BanksFile + "'")
		}
		base = catalog
	}

	if r.opts.DatabasePath != "" {
		store, err := storage.Open(r.opts.DatabasePath, base, r.logger)
		if err != nil {
			return nil, nil, errors.ConfigurationError(errors.CodeInvalidConfig, "db", r.opts.DatabasePath, err)
		}
		return []reconciler.Option{
			reconciler.WithBankConfigSource(store),
			reconciler.WithFeePatternSource(store),
			reconciler.WithPreferencesSource(store),
			reconciler.WithHistorySource(store),
		}, store, nil
	}

	if base != nil {
		source := banking.NewStaticSource(base)
		return []reconciler.Option{
			reconciler.WithBankConfigSource(source),
			reconciler.WithFeePatternSource(source),
		}, nil, nil
	}

	return nil, nil, nil
}

// buildContext resolves the period and any preference overrides
func (r *runner) buildContext(ctx context.Context, store *storage.Store, parserConfig *parsers.RecordParserConfig) (reconciler.Context, error) {
	opts := r.opts

	loc, err := time.LoadLocation(parserConfig.TimeZone)
	if err != nil {
		loc = time.UTC
	}
	start, end, err := config.ParsePeriod(opts.PeriodStart, opts.PeriodEnd, loc)
	if err != nil {
		return reconciler.Context{}, errors.ValidationError(errors.CodeInvalidDate, "period", opts.PeriodStart+".."+opts.PeriodEnd, err)
	}

	runCtx := reconciler.Context{
		CompanyID:   strings.TrimSpace(opts.CompanyID),
		Accounts:    opts.Accounts,
		PeriodStart: start,
		PeriodEnd:   end,
	}

	if opts.HasPreferenceOverrides() {
		var stored *models.Preferences
		if store != nil {
			stored, err = store.LoadPreferences(ctx, runCtx.CompanyID)
			if err != nil {
				r.logger.WithError(err).Warn("Failed to load stored preferences, overriding defaults")
				stored = nil
			}
		}
		runCtx.Preferences = config.ApplyPreferenceOverrides(stored, opts)
	}

	return runCtx, nil
}

// writeReport renders result to outputPath, or stdout when it is empty
func (r *runner) writeReport(result *reconciler.Result, outputPath string) error {
	reportConfig := config.CreateReportConfig(r.opts.OutputFormat, r.opts.IncludeTiming)
	generator, err := reporter.NewSafeReportGenerator(reportConfig, r.logger)
	if err != nil {
		return err
	}

	if outputPath == "" {
		return generator.GenerateReportSafely(result, r.stdout)
	}

	output, err := os.Create(outputPath)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, outputPath, err)
	}
	defer func() { _ = output.Close() }()

	return generator.GenerateReportSafely(result, output)
}
