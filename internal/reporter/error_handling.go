package reporter

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"

	"golang-reconciliation-engine/internal/reconciler"
	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"
)

// SafeReportGenerator checks its input before rendering and retries a failed
// render through a list of recovery strategies
type SafeReportGenerator struct {
	*ReportGenerator
	logger     logger.Logger
	recoveries []recovery
}

// recovery is one way of salvaging a report after the first render failed
type recovery struct {
	name    string
	applies func(cause error, writer io.Writer) bool
	render  func(result *reconciler.Result, writer io.Writer, cause error) error
}

// NewSafeReportGenerator validates config and builds the generator
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report_config", config, err).
			WithSuggestion("Check the report configuration values")
	}

	srg := &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}
	srg.recoveries = []recovery{
		{name: "backup_file", applies: srg.canUseBackupFile, render: srg.renderToBackupFile},
		{name: "console", applies: srg.canUseConsole, render: srg.renderAsConsole},
	}
	return srg, nil
}

// GenerateReportSafely renders result to writer. When rendering fails the
// report is written to a sibling backup file (file outputs) or re-rendered
// in the console format.
func (srg *SafeReportGenerator) GenerateReportSafely(result *reconciler.Result, writer io.Writer) error {
	log := srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": describeWriter(writer),
	})
	log.Debug("Rendering report")

	if err := srg.ValidateResult(result, writer); err != nil {
		log.WithError(err).Error("Report rejected")
		return err
	}

	cause := srg.GenerateReport(result, writer)
	if cause == nil {
		log.WithField("run_id", result.RunID).Info("Report written")
		return nil
	}

	for _, r := range srg.recoveries {
		if !r.applies(cause, writer) {
			continue
		}
		log.WithError(cause).WithField("recovery", r.name).Warn("Report rendering failed, recovering")
		if err := r.render(result, writer, cause); err != nil {
			log.WithError(err).Error("Report recovery failed")
			return errors.InternalError(errors.CodeUnexpectedError, "report_"+r.name,
				fmt.Errorf("render failed: %v; %s recovery failed: %w", cause, r.name, err))
		}
		log.WithField("recovery", r.name).Info("Report written after recovery")
		return nil
	}

	log.WithError(cause).Error("Report rendering failed")
	if rerr, ok := errors.AsReconcilerError(cause); ok {
		return rerr
	}
	return errors.InternalError(errors.CodeUnexpectedError, "report_generation", cause).
		WithSuggestion("Check the output destination and report format settings")
}

// ValidateResult rejects a missing result or writer, and binary formats
// aimed at a terminal
func (srg *SafeReportGenerator) ValidateResult(result *reconciler.Result, writer io.Writer) error {
	switch {
	case result == nil:
		return errors.ValidationError(errors.CodeMissingField, "result", nil, nil).
			WithSuggestion("Provide a valid reconciliation result")
	case writer == nil:
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("Provide a valid output writer")
	case srg.config.Format.IsBinary() && isTerminal(writer):
		return errors.ValidationError(errors.CodeInvalidData, "output", describeWriter(writer),
			fmt.Errorf("%s output cannot be written to a terminal", srg.config.Format)).
			WithSuggestion("Use --output to write the workbook to a file")
	}

	if srg.config.IncludeFees && result.FeeAnalysis == nil {
		srg.logger.Warn("Result has no fee analysis, fee section will be empty")
	}
	return nil
}

func (srg *SafeReportGenerator) canUseBackupFile(cause error, writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok || file.Name() == "" || isTerminal(writer) {
		return false
	}
	return os.IsPermission(cause) || os.IsNotExist(cause) || os.IsExist(cause) || isDiskFull(cause)
}

func (srg *SafeReportGenerator) renderToBackupFile(result *reconciler.Result, writer io.Writer, cause error) error {
	original := writer.(*os.File).Name()
	backup := srg.generateBackupPath(original)

	file, err := os.Create(backup)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if !srg.config.Format.IsBinary() && srg.config.Format != FormatJSON {
		fmt.Fprintf(file, "NOTE: Report saved to backup location, %s could not be written (%v)\n\n", original, cause)
	}
	if err := srg.GenerateReport(result, file); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Warning: Could not write to %s, report saved to %s\n", original, backup)
	return nil
}

func (srg *SafeReportGenerator) canUseConsole(error, io.Writer) bool {
	return srg.config.Format != FormatConsole
}

func (srg *SafeReportGenerator) renderAsConsole(result *reconciler.Result, writer io.Writer, cause error) error {
	plain := *srg.config
	plain.Format = FormatConsole
	plain.UseColors = false

	console, err := NewReportGenerator(&plain)
	if err != nil {
		return err
	}

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format, %s rendering failed: %v\n\n", srg.config.Format, cause)
	return console.GenerateReport(result, writer)
}

// generateBackupPath returns path with "_backup" before its extension
func (srg *SafeReportGenerator) generateBackupPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_backup" + ext
}

func describeWriter(writer io.Writer) string {
	if f, ok := writer.(*os.File); ok {
		if f.Name() == "" {
			return "file:unnamed"
		}
		return "file:" + f.Name()
	}
	return fmt.Sprintf("writer:%T", writer)
}

func isTerminal(writer io.Writer) bool {
	f, ok := writer.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func isDiskFull(err error) bool {
	return stderrors.Is(err, syscall.ENOSPC)
}
