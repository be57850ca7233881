// Package reconciler runs one reconciliation batch end to end.
//
// A run validates the batch, narrows it to the requested accounts and
// period, loads bank profiles, fee patterns, preferences and history (each
// with a timeout and a default fallback), then runs duplicate detection,
// cross-bank transfer mapping, fee recognition, timing analysis and the
// review queue, and aggregates statistics.
//
// Example usage:
//
//	orchestrator, err := reconciler.NewOrchestrator(reconciler.DefaultConfig(),
//		reconciler.WithHistorySource(store))
//	orchestrator.AddProgressCallback(func(p reconciler.Progress) {
//		fmt.Printf("%.0f%% %s\n", p.PercentComplete, p.Stage)
//	})
//
//	result, err := orchestrator.Run(ctx, &reconciler.Request{
//		Records: records,
//		Context: reconciler.Context{CompanyID: "acme"},
//	})
package reconciler

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"golang-reconciliation-engine/internal/banking"
	"golang-reconciliation-engine/internal/matcher"
	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/review"
	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"
)

// Stage names, in execution order
const (
	StageScope      = "scope"
	StageLoad       = "load_configuration"
	StageDuplicates = "duplicate_detection"
	StageTransfers  = "transfer_mapping"
	StageFees       = "fee_recognition"
	StageTiming     = "timing_analysis"
	StageReview     = "review_queue"
	StageStatistics = "statistics"

	totalStages = 8
)

const highConfidenceThreshold = 0.8

// Orchestrator runs reconciliation batches. It keeps no state between runs.
type Orchestrator struct {
	config  *Config
	banks   BankConfigSource
	fees    FeePatternSource
	prefs   PreferencesSource
	history HistorySource
	logger  logger.Logger

	progressCallbacks []ProgressCallback
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithBankConfigSource sets where bank profiles are loaded from
func WithBankConfigSource(source BankConfigSource) Option {
	return func(o *Orchestrator) { o.banks = source }
}

// WithFeePatternSource sets where global fee patterns are loaded from
func WithFeePatternSource(source FeePatternSource) Option {
	return func(o *Orchestrator) { o.fees = source }
}

// WithPreferencesSource sets where company preferences are loaded from
func WithPreferencesSource(source PreferencesSource) Option {
	return func(o *Orchestrator) { o.prefs = source }
}

// WithHistorySource sets where previously reconciled records are loaded from
func WithHistorySource(source HistorySource) Option {
	return func(o *Orchestrator) { o.history = source }
}

// WithLogger sets the logger
func WithLogger(log logger.Logger) Option {
	return func(o *Orchestrator) { o.logger = log }
}

// runState is the per-run scratch space
type runState struct {
	req      *Request
	log      logger.Logger
	tracker  *logger.StageTracker
	started  time.Time
	warnings []string
}

func (r *runState) warn(msg string) {
	r.warnings = append(r.warnings, msg)
}

// loadedConfig is the configuration snapshot of one run
type loadedConfig struct {
	catalog *banking.Catalog
	fees    []*banking.FeePattern
	prefs   *Preferences
	history []*models.TransactionRecord
}

// NewOrchestrator creates an orchestrator. Without a bank config source the
// embedded catalog is used, which also serves global fee patterns.
func NewOrchestrator(config *Config, opts ...Option) (*Orchestrator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", config.Matching, err)
	}

	o := &Orchestrator{
		config: config,
		logger: logger.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithComponent("orchestrator")

	if o.banks == nil {
		source, err := banking.NewDefaultSource()
		if err != nil {
			return nil, errors.InternalError(errors.CodeUnexpectedError, "loading embedded bank catalog", err)
		}
		o.banks = source
		if o.fees == nil {
			o.fees = source
		}
	}

	o.logger.WithFields(logger.Fields{
		"matching":     config.Matching.String(),
		"load_timeout": config.LoadTimeout.String(),
		"history":      o.history != nil,
		"preferences":  o.prefs != nil,
	}).Debug("Orchestrator created")

	return o, nil
}

// AddProgressCallback adds a progress callback function
func (o *Orchestrator) AddProgressCallback(callback ProgressCallback) {
	o.progressCallbacks = append(o.progressCallbacks, callback)
}

// Run reconciles one batch. It returns an error only for fatal input or
// cancellation; every other problem degrades into warnings and review
// entries.
func (o *Orchestrator) Run(ctx context.Context, req *Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		o.logger.WithError(err).Error("Rejecting reconciliation request")
		return nil, err
	}

	runID := uuid.New().String()
	log := o.logger.WithFields(logger.Fields{
		"run_id":     runID,
		"company_id": req.Context.CompanyID,
	})
	run := &runState{
		req:     req,
		log:     log,
		tracker: logger.NewStageTracker("reconcile", totalStages, log),
		started: time.Now(),
	}
	log.WithField("records", len(req.Records)).Info("Starting reconciliation run")

	o.begin(run, StageScope)
	records, outOfScope := o.scope(run)
	run.tracker.End(logger.Fields{"in_scope": len(records), "out_of_scope": outOfScope})

	if err := checkCancelled(ctx, StageLoad); err != nil {
		return nil, err
	}
	o.begin(run, StageLoad)
	cfg, err := o.loadConfiguration(ctx, run, records)
	if err != nil {
		return nil, err
	}
	run.tracker.End(logger.Fields{
		"banks":        len(cfg.catalog.Banks),
		"fee_patterns": len(cfg.fees),
		"history":      len(cfg.history),
	})

	if err := checkCancelled(ctx, StageDuplicates); err != nil {
		return nil, err
	}
	o.begin(run, StageDuplicates)
	known := make([]*models.TransactionRecord, 0, len(req.KnownRecords)+len(cfg.history))
	known = append(known, req.KnownRecords...)
	known = append(known, cfg.history...)
	detection := matcher.NewDuplicateDetector(o.config.Matching, log).Detect(records, known, req.CategoryHints)
	run.tracker.End(logger.Fields{"matches": len(detection.Matches), "comparisons": detection.Comparisons})

	var timingOpts []banking.TimingOption
	if !cfg.prefs.ConsiderBankDelays {
		timingOpts = append(timingOpts, banking.WithDefaultDelays())
	}
	timing := banking.NewTimingModel(cfg.catalog.Banks, cfg.catalog.Default, log, timingOpts...)

	if err := checkCancelled(ctx, StageTransfers); err != nil {
		return nil, err
	}
	o.begin(run, StageTransfers)
	transfers := &matcher.TransferResult{}
	if cfg.prefs.CrossBankMatching {
		transfers = matcher.NewTransferMapper(o.config.Matching, timing, log).Map(records)
	} else {
		log.Info("Cross-bank matching disabled by preferences")
	}
	run.tracker.End(logger.Fields{"mapped": len(transfers.Mappings), "unmapped": len(transfers.Unmapped)})

	if err := checkCancelled(ctx, StageFees); err != nil {
		return nil, err
	}
	o.begin(run, StageFees)
	fees := banking.NewFeeRecognizer(timing, cfg.fees, log).Analyze(records, req.CategoryHints)
	run.tracker.End(logger.Fields{"fees": len(fees.IdentifiedFees), "unusual": len(fees.UnusualFees)})

	if err := checkCancelled(ctx, StageTiming); err != nil {
		return nil, err
	}
	o.begin(run, StageTiming)
	timingMatches := buildTimingMatches(records, detection, transfers, timing)
	run.tracker.End(logger.Fields{"timing_matches": len(timingMatches)})

	if err := checkCancelled(ctx, StageReview); err != nil {
		return nil, err
	}
	o.begin(run, StageReview)
	builder := review.NewQueueBuilder(&review.Config{
		ConfidenceThreshold:       cfg.prefs.ConfidenceThreshold,
		LargeTransactionThreshold: o.config.LargeTransactionThreshold,
	}, log)
	queue := builder.Build(reviewCandidates(records, detection, transfers, fees))
	run.tracker.End(logger.Fields{"queued": len(queue)})

	if err := checkCancelled(ctx, StageStatistics); err != nil {
		return nil, err
	}
	o.begin(run, StageStatistics)
	stats := buildStatistics(records, detection, transfers, fees, timingMatches, queue, cfg.prefs)
	stats.OutOfScope = outOfScope
	run.tracker.End(nil)
	run.tracker.Complete()

	for _, w := range timing.Warnings() {
		run.warn(w.Message)
	}

	duplicates := detection.Matches
	if duplicates == nil {
		duplicates = []*matcher.DuplicateMatch{}
	}
	mappings := transfers.Mappings
	if mappings == nil {
		mappings = []*matcher.CrossBankTransferMap{}
	}

	result := &Result{
		RunID:         runID,
		CompanyID:     req.Context.CompanyID,
		ProcessedAt:   run.started,
		Duration:      time.Since(run.started),
		Preferences:   *cfg.prefs,
		Duplicates:    duplicates,
		Transfers:     mappings,
		TimingMatches: timingMatches,
		FeeAnalysis:   fees,
		ReviewQueue:   queue,
		Statistics:    stats,
		Warnings:      run.warnings,
		Stages:        run.tracker.Stats(),
	}

	log.WithFields(logger.Fields{
		"processed":       stats.TotalProcessed,
		"auto_matched":    stats.AutoMatched,
		"requires_review": stats.RequiresReview,
		"transfers":       stats.CrossBankTransfers,
		"fees":            stats.FeesIdentified,
		"warnings":        len(run.warnings),
		"duration":        result.Duration.String(),
	}).Info("Reconciliation run completed")

	return result, nil
}

func (o *Orchestrator) begin(run *runState, stage string) {
	run.tracker.Begin(stage)
	if len(o.progressCallbacks) == 0 {
		return
	}

	stats := run.tracker.Stats()
	progress := Progress{
		Stage:           stage,
		CompletedStages: stats.CompletedStages,
		TotalStages:     stats.TotalStages,
		PercentComplete: stats.PercentComplete,
		Elapsed:         stats.Elapsed,
	}
	for _, callback := range o.progressCallbacks {
		callback(progress)
	}
}

func validateRequest(req *Request) *errors.ReconcilerError {
	if req == nil || len(req.Records) == 0 {
		return errors.FatalInputError(errors.CodeMissingBatch, "batch contains no records", nil)
	}
	if strings.TrimSpace(req.Context.CompanyID) == "" {
		return errors.FatalInputError(errors.CodeMissingContext, "company identifier is required", nil)
	}

	start, end := req.Context.PeriodStart, req.Context.PeriodEnd
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return errors.FatalInputError(errors.CodeMalformedBatch,
			fmt.Sprintf("period start %s is after period end %s", start.Format("2006-01-02"), end.Format("2006-01-02")), nil)
	}

	if p := req.Context.Preferences; p != nil {
		if err := p.Validate(); err != nil {
			return errors.FatalInputError(errors.CodeMalformedBatch, "invalid preferences", err)
		}
	}

	seen := make(map[string]int, len(req.Records))
	for i, r := range req.Records {
		if r == nil {
			return errors.FatalInputError(errors.CodeMalformedBatch, fmt.Sprintf("record %d is nil", i), nil)
		}
		if strings.TrimSpace(r.ID) == "" {
			return errors.FatalInputError(errors.CodeMalformedBatch, fmt.Sprintf("record %d has no id", i), nil)
		}
		if first, dup := seen[r.ID]; dup {
			return errors.FatalInputError(errors.CodeMalformedBatch,
				fmt.Sprintf("record id '%s' appears at positions %d and %d", r.ID, first, i), nil)
		}
		seen[r.ID] = i
	}

	return nil
}

func checkCancelled(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return errors.ReconciliationError(errors.CodeCancelled, stage, err)
	}
	return nil
}

// scope drops records outside the requested accounts and period. Records
// without a usable date are kept so they reach the review queue.
func (o *Orchestrator) scope(run *runState) ([]*models.TransactionRecord, int) {
	c := run.req.Context

	accounts := make(map[string]struct{}, len(c.Accounts))
	for _, a := range c.Accounts {
		accounts[strings.TrimSpace(a)] = struct{}{}
	}

	var startDay, endDay string
	if !c.PeriodStart.IsZero() {
		startDay = c.PeriodStart.Format("2006-01-02")
	}
	if !c.PeriodEnd.IsZero() {
		endDay = c.PeriodEnd.Format("2006-01-02")
	}

	records := make([]*models.TransactionRecord, 0, len(run.req.Records))
	excluded := 0
	for _, r := range run.req.Records {
		if len(accounts) > 0 {
			if _, ok := accounts[strings.TrimSpace(r.AccountID)]; !ok {
				run.log.WithFields(logger.Fields{"record_id": r.ID, "account_id": r.AccountID}).Debug("Record outside account scope")
				excluded++
				continue
			}
		}
		if !r.Date.IsZero() {
			day := r.Date.Format("2006-01-02")
			if (startDay != "" && day < startDay) || (endDay != "" && day > endDay) {
				run.log.WithFields(logger.Fields{"record_id": r.ID, "date": day}).Debug("Record outside reconciliation period")
				excluded++
				continue
			}
		}
		records = append(records, r)
	}

	if excluded > 0 {
		run.warn(fmt.Sprintf("%d record(s) outside the requested accounts or period were excluded", excluded))
		run.log.WithField("excluded", excluded).Warn("Records outside scope excluded")
	}

	return records, excluded
}

func (o *Orchestrator) loadConfiguration(ctx context.Context, run *runState, records []*models.TransactionRecord) (*loadedConfig, error) {
	companyID := run.req.Context.CompanyID
	timeout := o.config.LoadTimeout
	cfg := &loadedConfig{}

	catalog, lerr := loadWithTimeout(ctx, timeout, "bank configuration", func(ctx context.Context) (*banking.Catalog, error) {
		return o.banks.LoadBankConfigs(ctx, companyID)
	})
	if lerr == nil && catalog == nil {
		lerr = errors.ExternalLoadError(errors.CodeLoadFailed, "bank configuration", fmt.Errorf("source returned no catalog"))
	}
	if lerr != nil {
		o.fallback(run, lerr)
		fallback, err := banking.DefaultCatalog()
		if err != nil {
			return nil, errors.InternalError(errors.CodeUnexpectedError, "loading embedded bank catalog", err)
		}
		catalog = fallback
	}
	cfg.catalog = catalog

	if o.fees != nil {
		fees, lerr := loadWithTimeout(ctx, timeout, "fee patterns", func(ctx context.Context) ([]*banking.FeePattern, error) {
			return o.fees.LoadFeePatterns(ctx, companyID)
		})
		if lerr != nil {
			o.fallback(run, lerr)
		} else {
			cfg.fees = fees
		}
	}

	cfg.prefs = models.DefaultPreferences()
	switch {
	case run.req.Context.Preferences != nil:
		p := *run.req.Context.Preferences
		cfg.prefs = &p
	case o.prefs != nil:
		prefs, lerr := loadWithTimeout(ctx, timeout, "company preferences", func(ctx context.Context) (*models.Preferences, error) {
			return o.prefs.LoadPreferences(ctx, companyID)
		})
		if lerr == nil && prefs != nil {
			if err := prefs.Validate(); err != nil {
				lerr = errors.ExternalLoadError(errors.CodeLoadFailed, "company preferences", err)
			}
		}
		switch {
		case lerr != nil:
			o.fallback(run, lerr)
		case prefs != nil:
			p := *prefs
			cfg.prefs = &p
		}
	}

	if o.history != nil {
		from, to := o.historyRange(run.req.Context, records)
		history, lerr := loadWithTimeout(ctx, timeout, "transaction history", func(ctx context.Context) ([]*models.TransactionRecord, error) {
			return o.history.LoadHistory(ctx, companyID, from, to)
		})
		if lerr != nil {
			o.fallback(run, lerr)
		} else {
			cfg.history = history
		}
	}

	run.log.WithFields(logger.Fields{
		"banks":                len(cfg.catalog.Banks),
		"consider_bank_delays": cfg.prefs.ConsiderBankDelays,
		"cross_bank_matching":  cfg.prefs.CrossBankMatching,
		"confidence_threshold": cfg.prefs.ConfidenceThreshold,
	}).Debug("Configuration loaded")

	return cfg, nil
}

func (o *Orchestrator) fallback(run *runState, err *errors.ReconcilerError) {
	msg := err.Message
	if err.Cause != nil {
		msg += ": " + err.Cause.Error()
	}
	run.warn(msg)
	run.log.WithError(err).WithField("code", string(err.Code)).Warn("Configuration load failed, using defaults")
}

// historyRange is the period widened by the lookback, or the span of the
// batch when the period is open.
func (o *Orchestrator) historyRange(c Context, records []*models.TransactionRecord) (time.Time, time.Time) {
	from, to := c.PeriodStart, c.PeriodEnd
	for _, r := range records {
		if r.Date.IsZero() {
			continue
		}
		if c.PeriodStart.IsZero() && (from.IsZero() || r.Date.Before(from)) {
			from = r.Date
		}
		if c.PeriodEnd.IsZero() && (to.IsZero() || r.Date.After(to)) {
			to = r.Date
		}
	}
	if !from.IsZero() {
		from = from.AddDate(0, 0, -o.config.HistoryLookbackDays)
	}
	if !to.IsZero() {
		to = to.AddDate(0, 0, 1)
	}
	return from, to
}

func buildTimingMatches(records []*models.TransactionRecord, detection *matcher.DetectionResult, transfers *matcher.TransferResult, timing *banking.TimingModel) []*TimingMatch {
	mappingByID := transferIndex(transfers)
	out := make([]*TimingMatch, 0, len(records))

	for _, r := range records {
		if !r.IsValid() {
			continue
		}

		mapping := mappingByID[r.ID]
		cross := mapping != nil || timing.IsCrossInstitutionTransfer(r)
		delay := timing.ExpectedDelay(r, cross)

		tm := &TimingMatch{
			TransactionID:          r.ID,
			Institution:            r.Institution,
			WithinProcessingWindow: timing.IsWithinProcessingWindow(r),
			ImmediatePayment:       timing.IsImmediatePayment(r),
			CrossInstitution:       cross,
			ExpectedDelayHours:     math.Round(delay.Hours()*100) / 100,
		}

		var reasons []string
		switch {
		case mapping != nil:
			tm.Confidence = mapping.Confidence
			tm.MatchType = matcher.MatchTransfer
			tm.MatchedTransactionID = counterpart(mapping, r.ID)
			reasons = append(reasons, fmt.Sprintf("%s transfer: %s", mapping.MappingStatus, mapping.Reason))
		case detection.BestCandidates[r.ID] != nil:
			best := detection.BestCandidates[r.ID]
			tm.Confidence = best.Confidence
			tm.MatchType = best.MatchType
			tm.MatchedTransactionID = best.MatchedTransactionID
			reasons = append(reasons, fmt.Sprintf("%s match with %s: %s", best.MatchType, best.MatchedTransactionID, best.Reason))
		default:
			reasons = append(reasons, "no match found")
		}

		if tm.WithinProcessingWindow {
			reasons = append(reasons, "posted inside processing window")
		} else {
			reasons = append(reasons, "posted outside processing window")
		}
		if tm.ImmediatePayment {
			reasons = append(reasons, "immediate payment")
		}
		if cross {
			reasons = append(reasons, "cross-institution")
		}
		reasons = append(reasons, fmt.Sprintf("expected settlement %.1fh", tm.ExpectedDelayHours))
		tm.Reasoning = strings.Join(reasons, "; ")

		out = append(out, tm)
	}

	return out
}

func reviewCandidates(records []*models.TransactionRecord, detection *matcher.DetectionResult, transfers *matcher.TransferResult, fees *banking.FeeAnalysis) []*review.Candidate {
	invalid := make(map[string]bool, len(detection.Invalid))
	for _, inv := range detection.Invalid {
		invalid[inv.Record.ID] = true
	}

	mappingByID := transferIndex(transfers)
	unmapped := make(map[string]bool, len(transfers.Unmapped))
	for _, id := range transfers.Unmapped {
		unmapped[id] = true
	}

	feeByID := make(map[string]*banking.FeeTag, len(fees.IdentifiedFees))
	for _, tag := range fees.IdentifiedFees {
		feeByID[tag.TransactionID] = tag
	}

	candidates := make([]*review.Candidate, 0, len(records))
	for _, r := range records {
		c := &review.Candidate{
			TransactionID: r.ID,
			Amount:        r.Amount,
		}

		if invalid[r.ID] {
			c.InvalidReason = matcher.ReasonInvalidData
			candidates = append(candidates, c)
			continue
		}

		if mapping := mappingByID[r.ID]; mapping != nil {
			if mapping.MappingStatus == matcher.MappingFailed {
				c.TransferOutsideWindow = true
				c.TransferReason = mapping.Reason
			} else {
				c.HasMatch = true
				c.MatchConfidence = mapping.Confidence
				c.MatchReason = mapping.Reason
			}
		} else if best := detection.BestCandidates[r.ID]; best != nil {
			c.HasMatch = true
			c.MatchConfidence = best.Confidence
			c.MatchReason = best.Reason
		}

		if unmapped[r.ID] {
			c.TransferOutsideWindow = true
			c.TransferReason = "no counterpart found within the expected settlement window"
		}

		if tag := feeByID[r.ID]; tag != nil {
			c.HasFee = true
			c.FeeType = tag.FeeType
			c.FeeConfidence = tag.Confidence
		}

		candidates = append(candidates, c)
	}

	return candidates
}

func buildStatistics(records []*models.TransactionRecord, detection *matcher.DetectionResult, transfers *matcher.TransferResult, fees *banking.FeeAnalysis, timingMatches []*TimingMatch, queue []*review.Entry, prefs *Preferences) Statistics {
	failed := make(map[string]bool)
	for _, m := range transfers.Mappings {
		if m.MappingStatus == matcher.MappingFailed {
			failed[m.PrimaryTransactionID] = true
			failed[m.SecondaryTransactionID] = true
		}
	}

	stats := Statistics{
		TotalProcessed:     len(records),
		RequiresReview:     len(queue),
		CrossBankTransfers: len(transfers.Mappings),
		FeesIdentified:     len(fees.IdentifiedFees),
		InvalidRecords:     len(detection.Invalid),
	}

	for _, tm := range timingMatches {
		if tm.MatchType == "" || failed[tm.TransactionID] {
			continue
		}
		if tm.Confidence >= prefs.AutoApproveThreshold {
			stats.AutoMatched++
		}
		if tm.Confidence >= highConfidenceThreshold {
			stats.HighConfidence++
		}
	}

	return stats
}

func transferIndex(transfers *matcher.TransferResult) map[string]*matcher.CrossBankTransferMap {
	index := make(map[string]*matcher.CrossBankTransferMap, len(transfers.Mappings)*2)
	for _, m := range transfers.Mappings {
		index[m.PrimaryTransactionID] = m
		index[m.SecondaryTransactionID] = m
	}
	return index
}

func counterpart(m *matcher.CrossBankTransferMap, id string) string {
	if m.PrimaryTransactionID == id {
		return m.SecondaryTransactionID
	}
	return m.PrimaryTransactionID
}
