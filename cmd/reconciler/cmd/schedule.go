package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run reconciliation on a cron schedule",
	Long: `Schedule runs the reconcile pipeline every time the cron expression fires
until the process receives SIGINT or SIGTERM. It accepts every reconcile flag.

Each run re-reads the input files. With --output, every run writes its own
report next to the given path, suffixed with the run time. A run that is
still in progress when the next one is due is skipped.

Examples:
  # Weekdays at 06:00 South African time
  reconciler schedule --cron "0 6 * * 1-5" --input /data/daily.csv --company acme \
    --db reconciler.db --save-history --format json --output /reports/acme.json

  # Every 15 minutes, starting immediately
  reconciler schedule --cron "@every 15m" --run-now --input feed.csv --company acme`,

	PreRunE: preRunSchedule,
	RunE:    runScheduleCmd,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	addReconcileFlags(scheduleCmd)

	scheduleCmd.Flags().String("cron", "", "cron expression, standard 5-field or descriptor such as @daily (required)")
	scheduleCmd.Flags().String("cron-timezone", "Africa/Johannesburg", "time zone the cron expression is evaluated in")
	scheduleCmd.Flags().Bool("run-now", false, "run once immediately before waiting for the schedule")
}

func preRunSchedule(cmd *cobra.Command, args []string) error {
	if err := preRunReconcile(cmd, args); err != nil {
		return err
	}
	_, err := parseSchedule(viper.GetString("cron"), viper.GetString("cron-timezone"))
	return err
}

// parseSchedule validates spec and loads the location it is evaluated in
func parseSchedule(spec, timezone string) (*time.Location, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "cron", spec, fmt.Errorf("cron expression is required")).
			WithSuggestion(`Use a 5-field expression such as "0 6 * * 1-5" or a descriptor such as "@daily"`)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "cron-timezone", timezone, err)
	}

	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "cron", spec, err).
			WithSuggestion(`Use a 5-field expression such as "0 6 * * 1-5" or a descriptor such as "@daily"`)
	}
	return loc, nil
}

func runScheduleCmd(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions()
	if err != nil {
		return err
	}
	spec := viper.GetString("cron")
	loc, err := parseSchedule(spec, viper.GetString("cron-timezone"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := newScheduler(newRunner(opts, cmd.OutOrStdout(), cmd.ErrOrStderr()), loc)
	if _, err := s.add(ctx, spec); err != nil {
		return err
	}

	if viper.GetBool("run-now") {
		s.runOnce(ctx)
	}

	s.cron.Start()
	s.logger.WithFields(logger.Fields{
		"cron":     spec,
		"timezone": loc.String(),
		"next_run": s.cron.Entries()[0].Next.Format(time.RFC3339),
	}).Info("Scheduler started")

	<-ctx.Done()

	s.logger.Info("Shutting down scheduler, waiting for the running reconciliation")
	<-s.cron.Stop().Done()
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// scheduler runs a runner on a cron schedule
type scheduler struct {
	runner *runner
	cron   *cron.Cron
	loc    *time.Location
	logger logger.Logger
}

func newScheduler(r *runner, loc *time.Location) *scheduler {
	log := r.logger.WithComponent("scheduler")
	return &scheduler{
		runner: r,
		loc:    loc,
		logger: log,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger{log}),
			cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log})),
		),
	}
}

func (s *scheduler) add(ctx context.Context, spec string) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(spec, func() { s.runOnce(ctx) })
	if err != nil {
		return 0, errors.ConfigurationError(errors.CodeInvalidConfig, "cron", spec, err)
	}
	return id, nil
}

// runOnce executes one reconciliation. Failures are logged; the schedule
// keeps running.
func (s *scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	now := time.Now().In(s.loc)
	output := timestampedPath(s.runner.opts.OutputFile, now)

	start := time.Now()
	result, err := s.runner.run(ctx, output)
	if err != nil {
		s.logger.WithError(err).Error("Scheduled reconciliation failed")
		return
	}

	s.logger.WithFields(logger.Fields{
		"run_id":          result.RunID,
		"output":          output,
		"processed":       result.Statistics.TotalProcessed,
		"requires_review": result.Statistics.RequiresReview,
		"duration":        time.Since(start).String(),
	}).Info("Scheduled reconciliation completed")
}

// timestampedPath inserts the run time before the extension of path, so
// report.json becomes report-20240131T060000.json. An empty path stays empty.
func timestampedPath(path string, at time.Time) string {
	if path == "" {
		return ""
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + at.Format("20060102T150405") + ext
}

// cronLogger adapts the application logger to cron.Logger
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(kvFields(keysAndValues)).Error(msg)
}

func kvFields(keysAndValues []interface{}) logger.Fields {
	fields := make(logger.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

var _ cron.Logger = cronLogger{}
