package reconciler

import (
	"context"
	"time"

	"golang-reconciliation-engine/internal/banking"
	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/pkg/errors"
)

// BankConfigSource supplies the bank profiles for a company
type BankConfigSource interface {
	LoadBankConfigs(ctx context.Context, companyID string) (*banking.Catalog, error)
}

// FeePatternSource supplies fee patterns that apply to every institution
type FeePatternSource interface {
	LoadFeePatterns(ctx context.Context, companyID string) ([]*banking.FeePattern, error)
}

// PreferencesSource supplies stored company preferences
type PreferencesSource interface {
	LoadPreferences(ctx context.Context, companyID string) (*models.Preferences, error)
}

// HistorySource supplies previously reconciled records for duplicate checks
type HistorySource interface {
	LoadHistory(ctx context.Context, companyID string, from, to time.Time) ([]*models.TransactionRecord, error)
}

// loadWithTimeout runs load with a deadline. The returned error is an
// external load error; the caller falls back to defaults.
func loadWithTimeout[T any](ctx context.Context, timeout time.Duration, source string, load func(context.Context) (T, error)) (T, *errors.ReconcilerError) {
	var zero T

	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		value, err := load(loadCtx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return zero, errors.ExternalLoadError(errors.CodeLoadFailed, source, o.err)
		}
		return o.value, nil
	case <-loadCtx.Done():
		return zero, errors.ExternalLoadError(errors.CodeLoadTimeout, source, loadCtx.Err())
	}
}
