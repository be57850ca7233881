package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"golang-reconciliation-engine/internal/fixtures"
	"golang-reconciliation-engine/pkg/errors"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a sample transaction batch",
	Long: `Generate writes a synthetic multi-bank batch in the reconcile CSV layout.
The batch contains planted duplicates, transfers between institutions,
monthly account fees and rows with unparseable amounts, so it can be used to
try out the engine or load-test it.

Examples:
  reconciler generate --output sample.csv
  reconciler generate --count 5000 --start 2024-03-01 --days 31 --seed 42 --output march.csv
  reconciler generate --institutions FNB,Capitec --duplicate-rate 0.1 --output small.csv`,

	PreRunE: bindFlags,
	RunE:    runGenerateCmd,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	flags := generateCmd.Flags()
	flags.StringP("output", "o", "", "output CSV file (required)")
	flags.Int("count", 200, "number of background transactions")
	flags.String("start", "2024-01-01", "first day of the batch (YYYY-MM-DD)")
	flags.Int("days", 30, "number of days the batch covers")
	flags.StringSlice("institutions", []string{"FNB", "ABSA", "Standard Bank", "Capitec"}, "institutions to spread transactions over")
	flags.Float64("duplicate-rate", 0.05, "fraction of transactions copied as duplicates")
	flags.Float64("transfer-rate", 0.05, "fraction of transactions added as transfer pairs")
	flags.Float64("malformed-rate", 0.02, "fraction of transactions added with an unparseable amount")
	flags.Bool("fees", true, "add a monthly account fee per institution")
	flags.Int64("seed", 1, "random seed")
}

// generateConfig builds the generator configuration from viper
func generateConfig() (*fixtures.Config, string, error) {
	output := viper.GetString("output")
	if output == "" {
		return nil, "", errors.ValidationError(errors.CodeMissingField, "output", "", nil).
			WithSuggestion("Pass --output with the CSV file to write")
	}

	loc, err := time.LoadLocation("Africa/Johannesburg")
	if err != nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation("2006-01-02", viper.GetString("start"), loc)
	if err != nil {
		return nil, "", errors.ValidationError(errors.CodeInvalidDate, "start", viper.GetString("start"), err)
	}

	var institutions []string
	for _, inst := range viper.GetStringSlice("institutions") {
		if inst = strings.TrimSpace(inst); inst != "" {
			institutions = append(institutions, inst)
		}
	}

	config := &fixtures.Config{
		Count:         viper.GetInt("count"),
		Start:         start,
		Days:          viper.GetInt("days"),
		Institutions:  institutions,
		DuplicateRate: viper.GetFloat64("duplicate-rate"),
		TransferRate:  viper.GetFloat64("transfer-rate"),
		MalformedRate: viper.GetFloat64("malformed-rate"),
		MonthlyFees:   viper.GetBool("fees"),
		Seed:          viper.GetInt64("seed"),
	}
	if err := config.Validate(); err != nil {
		return nil, "", errors.ConfigurationError(errors.CodeInvalidConfig, "generate", nil, err)
	}
	return config, output, nil
}

func runGenerateCmd(cmd *cobra.Command, args []string) error {
	config, output, err := generateConfig()
	if err != nil {
		return err
	}
	if err := validateOutputPath(output); err != nil {
		return err
	}

	generator, err := fixtures.NewGenerator(config)
	if err != nil {
		return err
	}
	batch := generator.Generate()

	if err := fixtures.WriteCSVFile(output, batch.Rows); err != nil {
		return errors.FileError(errors.CodeFilePermission, output, err)
	}

	m := batch.Manifest
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Generated %d transactions in %s\n", len(batch.Rows), output)
	fmt.Fprintf(out, "Planted: %d duplicates, %d transfers, %d fees, %d malformed rows\n",
		len(m.Duplicates), len(m.Transfers), len(m.Fees), len(m.Malformed))
	fmt.Fprintf(out, "Seed used: %d\n", config.Seed)
	return nil
}
