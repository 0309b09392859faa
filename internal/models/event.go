package models

import (
	"encoding/json"
	"time"
)

// Stage identifies where in a run a progress event was emitted.
type Stage string

const (
	StageStarted    Stage = "started"
	StageDispatched Stage = "dispatched"
	StageDiscovery  Stage = "discovery"
	StageAnnotation Stage = "annotation"
	StageEnrichment Stage = "enrichment"
	StageAssembly   Stage = "assembly"
	StageSucceeded  Stage = "succeeded"
	StageFailed     Stage = "failed"
	StageCancelled  Stage = "cancelled"
	StageComplete   Stage = "complete"
	StageError      Stage = "error"
)

// IsTerminal reports whether the stage ends a run.
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageError
}

// IsGeneTerminal reports whether the stage ends a single gene task.
func (s Stage) IsGeneTerminal() bool {
	return s == StageSucceeded || s == StageFailed || s == StageCancelled
}

// Level is the severity of a progress event.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// ProgressEvent is an immutable notification emitted by the orchestrator or a worker.
// Sequence and Timestamp are assigned by the event channel when published.
type ProgressEvent struct {
	Sequence  uint64          `json:"sequence"`
	RunID     string          `json:"run_id"`
	Stage     Stage           `json:"stage"`
	Gene      string          `json:"gene,omitempty"`
	Level     Level           `json:"level"`
	Message   string          `json:"message"`
	Progress  float64         `json:"progress,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// IsTerminal reports whether this is the final event of a run.
func (e ProgressEvent) IsTerminal() bool {
	return e.Gene == "" && e.Stage.IsTerminal()
}
