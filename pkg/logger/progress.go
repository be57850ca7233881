package logger

import (
	"sync"
	"time"
)

// StageTracker logs the start and end of each stage of a multi-stage
// operation and keeps per-stage durations.
type StageTracker struct {
	logger      Logger
	operation   string
	totalStages int
	startTime   time.Time

	mutex      sync.Mutex
	completed  int
	current    string
	stageStart time.Time
	durations  map[string]time.Duration
}

// StageStats is a snapshot of a StageTracker.
type StageStats struct {
	Operation       string                   `json:"operation"`
	TotalStages     int                      `json:"total_stages"`
	CompletedStages int                      `json:"completed_stages"`
	CurrentStage    string                   `json:"current_stage"`
	PercentComplete float64                  `json:"percent_complete"`
	Elapsed         time.Duration            `json:"elapsed"`
	StageDurations  map[string]time.Duration `json:"stage_durations"`
}

// NewStageTracker creates a tracker for an operation with totalStages stages.
func NewStageTracker(operation string, totalStages int, log Logger) *StageTracker {
	if log == nil {
		log = GetGlobalLogger()
	}

	tracker := &StageTracker{
		logger:      log.WithComponent("progress"),
		operation:   operation,
		totalStages: totalStages,
		startTime:   time.Now(),
		durations:   make(map[string]time.Duration),
	}

	tracker.logger.WithFields(Fields{
		"operation": operation,
		"stages":    totalStages,
	}).Debug("Starting operation")

	return tracker
}

// Begin marks stage as running. A stage still open is closed first.
func (s *StageTracker) Begin(stage string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.closeCurrent()
	s.current = stage
	s.stageStart = time.Now()

	s.logger.WithFields(Fields{
		"operation": s.operation,
		"stage":     stage,
		"step":      s.completed + 1,
		"of":        s.totalStages,
	}).Debug("Stage started")
}

// End closes the running stage and logs fields alongside its duration.
func (s *StageTracker) End(fields Fields) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.current == "" {
		return
	}
	stage := s.current
	duration := s.closeCurrent()

	entry := Fields{
		"operation": s.operation,
		"stage":     stage,
		"duration":  duration.String(),
	}
	for k, v := range fields {
		entry[k] = v
	}
	s.logger.WithFields(entry).Info("Stage completed")
}

func (s *StageTracker) closeCurrent() time.Duration {
	if s.current == "" {
		return 0
	}
	d := time.Since(s.stageStart)
	s.durations[s.current] = d
	s.completed++
	s.current = ""
	return d
}

// Stats returns a snapshot of the tracker.
func (s *StageTracker) Stats() StageStats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	durations := make(map[string]time.Duration, len(s.durations))
	for k, v := range s.durations {
		durations[k] = v
	}

	var percent float64
	if s.totalStages > 0 {
		percent = float64(s.completed) / float64(s.totalStages) * 100
	}

	return StageStats{
		Operation:       s.operation,
		TotalStages:     s.totalStages,
		CompletedStages: s.completed,
		CurrentStage:    s.current,
		PercentComplete: percent,
		Elapsed:         time.Since(s.startTime),
		StageDurations:  durations,
	}
}

// Complete closes any open stage and logs the total elapsed time.
func (s *StageTracker) Complete() {
	s.mutex.Lock()
	s.closeCurrent()
	elapsed := time.Since(s.startTime)
	completed := s.completed
	s.mutex.Unlock()

	s.logger.WithFields(Fields{
		"operation": s.operation,
		"stages":    completed,
		"duration":  elapsed.String(),
	}).Info("Operation completed")
}
