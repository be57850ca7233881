package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"debug", DebugConfig(), false},
		{"bad level", &Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", &Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"file without path", &Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWithFieldsAccumulate(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&Config{Level: InfoLevel, Format: JSONFormat, Output: StderrOutput, DisableTimestamp: true}, &buf)
	if err != nil {
		t.Fatalf("NewWithWriter failed: %v", err)
	}

	log.WithComponent("bank_timing").WithField("institution", "TYME").Warn("fallback profile")

	var line map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "bank_timing" {
		t.Errorf("expected component field, got %v", line["component"])
	}
	if line["institution"] != "TYME" {
		t.Errorf("expected institution field, got %v", line["institution"])
	}
	if line["level"] != "warning" {
		t.Errorf("expected warning level, got %v", line["level"])
	}
}

func TestStageTracker(t *testing.T) {
	var buf bytes.Buffer
	log, _ := NewWithWriter(&Config{Level: DebugLevel, Format: TextFormat, Output: StderrOutput, DisableTimestamp: true}, &buf)

	tracker := NewStageTracker("reconcile", 3, log)
	tracker.Begin("duplicates")
	tracker.End(Fields{"matches": 2})
	tracker.Begin("transfers")

	stats := tracker.Stats()
	if stats.CompletedStages != 1 {
		t.Errorf("expected 1 completed stage, got %d", stats.CompletedStages)
	}
	if stats.CurrentStage != "transfers" {
		t.Errorf("expected current stage transfers, got %s", stats.CurrentStage)
	}

	tracker.Complete()
	stats = tracker.Stats()
	if stats.CompletedStages != 2 {
		t.Errorf("expected 2 completed stages, got %d", stats.CompletedStages)
	}
	if _, ok := stats.StageDurations["duplicates"]; !ok {
		t.Error("expected duration for duplicates stage")
	}
	if !strings.Contains(buf.String(), "Stage completed") {
		t.Error("expected stage completion log line")
	}
}
