// Package errors defines the categorised error type shared by the engine,
// its input parsers and the CLI.
//
// The engine distinguishes four propagation classes:
//   - validation errors are per record and never abort a batch
//   - configuration fallbacks are per institution and only logged
//   - external load failures are per run and degrade to default config
//   - fatal input errors abort the run before any output is produced
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFile           ErrorCategory = "file"
	CategoryParse          ErrorCategory = "parse"
	CategoryValidation     ErrorCategory = "validation"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryInput          ErrorCategory = "input"
	CategoryExternal       ErrorCategory = "external"
	CategoryReconciliation ErrorCategory = "reconciliation"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"

	// Parse errors
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeMissingColumn ErrorCode = "missing_column"

	// Validation errors
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeInvalidData   ErrorCode = "invalid_data"
	CodeMissingField  ErrorCode = "missing_field"
	CodeOutOfRange    ErrorCode = "out_of_range"

	// Configuration errors
	CodeInvalidConfig    ErrorCode = "invalid_config"
	CodeUnknownInstitute ErrorCode = "unknown_institution"

	// Input errors
	CodeMissingBatch   ErrorCode = "missing_batch"
	CodeMalformedBatch ErrorCode = "malformed_batch"
	CodeMissingContext ErrorCode = "missing_context"

	// External load errors
	CodeLoadFailed  ErrorCode = "load_failed"
	CodeLoadTimeout ErrorCode = "load_timeout"

	// Reconciliation errors
	CodeStageFailed ErrorCode = "stage_failed"
	CodeCancelled   ErrorCode = "cancelled"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether the error must abort a reconciliation run.
func (e *ReconcilerError) IsFatal() bool {
	return e.Category == CategoryInput || e.Category == CategoryInternal ||
		(e.Category == CategoryReconciliation && e.Code == CodeCancelled)
}

// GetExitCode returns an appropriate exit code for the error
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation, CategoryInput:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryReconciliation, CategoryInternal:
		return 5
	case CategoryExternal:
		return 6
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(category ErrorCategory, code ErrorCode, message string, err error) *ReconcilerError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// template renders the message of one error code; args are the constructor
// arguments in order
type template struct {
	message    func(args ...interface{}) string
	suggestion string
}

func format(layout string) func(args ...interface{}) string {
	return func(args ...interface{}) string { return fmt.Sprintf(layout, args...) }
}

var templates = map[ErrorCategory]map[ErrorCode]template{
	CategoryFile: {
		CodeFileNotFound: {
			message:    format("file not found: %s"),
			suggestion: "check if the file path is correct and the file exists",
		},
		CodeFilePermission: {
			message:    format("permission denied accessing file: %s"),
			suggestion: "check file permissions and ensure you have read access",
		},
		"": {
			message:    format("file error: %s"),
			suggestion: "check the file and try again",
		},
	},
	CategoryParse: {
		CodeInvalidFormat: {
			message:    format("invalid format in file %s at line %d, column '%s': '%s'"),
			suggestion: "check the data format and ensure it matches the expected structure",
		},
		CodeMissingColumn: {
			message: func(a ...interface{}) string {
				return fmt.Sprintf("missing required column '%s' in file %s", a[2], a[0])
			},
			suggestion: "verify the file has all required columns with correct headers",
		},
		"": {
			message: func(a ...interface{}) string {
				return fmt.Sprintf("parse error in file %s at line %d", a[0], a[1])
			},
			suggestion: "check the file format and data integrity",
		},
	},
	CategoryValidation: {
		CodeInvalidAmount: {
			message:    format("invalid amount in field '%s': %v"),
			suggestion: "ensure amounts are valid decimal numbers (e.g., '12.34')",
		},
		CodeInvalidDate: {
			message:    format("invalid date in field '%s': %v"),
			suggestion: "use date format YYYY-MM-DD or RFC3339",
		},
		CodeMissingField: {
			message: func(a ...interface{}) string {
				return fmt.Sprintf("required field '%s' is missing or empty", a[0])
			},
			suggestion: "provide a value for this required field",
		},
		CodeOutOfRange: {
			message:    format("value out of range in field '%s': %v"),
			suggestion: "ensure the value is within the acceptable range",
		},
		"": {
			message:    format("validation error in field '%s': %v"),
			suggestion: "check the field value and format",
		},
	},
	CategoryConfiguration: {
		CodeInvalidConfig: {
			message:    format("invalid configuration for '%s': %v"),
			suggestion: "check the configuration documentation for valid values",
		},
		CodeUnknownInstitute: {
			message: func(a ...interface{}) string {
				return fmt.Sprintf("no bank profile for institution '%v', using generic defaults", a[1])
			},
			suggestion: "add a bank profile for this institution",
		},
		"": {
			message: func(a ...interface{}) string {
				return fmt.Sprintf("configuration error: %s", a[0])
			},
			suggestion: "check your configuration and try again",
		},
	},
	CategoryInput: {
		CodeMissingBatch: {
			message:    format("invalid reconciliation input: %s"),
			suggestion: "provide at least one transaction record",
		},
		CodeMissingContext: {
			message:    format("invalid reconciliation input: %s"),
			suggestion: "provide a reconciliation context with a company identifier",
		},
		"": {
			message:    format("invalid reconciliation input: %s"),
			suggestion: "fix the reconciliation request and call again",
		},
	},
	CategoryExternal: {
		CodeLoadTimeout: {
			message:    format("timed out loading %s"),
			suggestion: "the run continues with default configuration",
		},
		"": {
			message:    format("failed to load %s"),
			suggestion: "the run continues with default configuration",
		},
	},
	CategoryReconciliation: {
		CodeCancelled: {
			message:    format("reconciliation cancelled before %s"),
			suggestion: "re-run the batch",
		},
		CodeStageFailed: {
			message:    format("stage %s failed"),
			suggestion: "review the data and configuration",
		},
		"": {
			message:    format("reconciliation error during %s"),
			suggestion: "review the data and configuration",
		},
	},
	CategoryInternal: {
		"": {
			message:    format("unexpected error during %s"),
			suggestion: "this is likely a bug - please report it with the error details",
		},
	},
}

// render builds an error from the template registered for category and code
func render(category ErrorCategory, code ErrorCode, err error, args ...interface{}) *ReconcilerError {
	t, ok := templates[category][code]
	if !ok {
		t = templates[category][""]
	}
	return build(category, code, t.message(args...), err).WithSuggestion(t.suggestion)
}

// FileError reports a missing or unreadable file
func FileError(code ErrorCode, path string, err error) *ReconcilerError {
	return render(CategoryFile, code, err, path).WithContext("file_path", path)
}

// ParseError reports a problem at a position of an input file
func ParseError(code ErrorCode, file string, line int, column string, value string, err error) *ReconcilerError {
	return render(CategoryParse, code, err, file, line, column, value).
		WithContext("file", file).
		WithContext("line", line).
		WithContext("column", column).
		WithContext("value", value)
}

// ValidationError creates a per-record validation error. The record is
// excluded from comparisons but the batch continues.
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	return render(CategoryValidation, code, err, field, value).
		WithContext("field", field).
		WithContext("value", value)
}

func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	return render(CategoryConfiguration, code, err, setting, value).
		WithContext("setting", setting).
		WithContext("value", value)
}

// FatalInputError reports a malformed or missing batch or context. It aborts
// the run before any output is produced.
func FatalInputError(code ErrorCode, detail string, err error) *ReconcilerError {
	return render(CategoryInput, code, err, detail)
}

// ExternalLoadError describes a configuration source that could not be read.
// Callers log it and continue with default configuration.
func ExternalLoadError(code ErrorCode, source string, err error) *ReconcilerError {
	return render(CategoryExternal, code, err, source).WithContext("source", source)
}

func ReconciliationError(code ErrorCode, stage string, err error) *ReconcilerError {
	return render(CategoryReconciliation, code, err, stage).WithContext("stage", stage)
}

func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	return render(CategoryInternal, code, err, operation).WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*ReconcilerError    `json:"errors"`
	SampleErrors []*ReconcilerError    `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if summary.Errors == nil {
		summary.Errors = []*ReconcilerError{}
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	maxSamples := 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else if len(errs) > 0 {
		summary.SampleErrors = errs
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}

	return maxCode
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return Wrap(err, category, code, message)
}
