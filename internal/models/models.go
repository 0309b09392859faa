// Package models defines the core domain types for pgxdash.
package models

import (
	"fmt"
	"time"
)

// TaskState represents the lifecycle state of a gene task.
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateRunning   TaskState = "running"
	TaskStateSucceeded TaskState = "succeeded"
	TaskStateFailed    TaskState = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateSucceeded || s == TaskStateFailed
}

// ErrInvalidTransition is returned when a state change is not allowed.
type ErrInvalidTransition struct {
	Gene string
	From TaskState
	To   TaskState
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("gene %s: invalid transition %s -> %s", e.Gene, e.From, e.To)
}

var allowedTransitions = map[TaskState][]TaskState{
	TaskStatePending: {TaskStateRunning, TaskStateFailed},
	TaskStateRunning: {TaskStateSucceeded, TaskStateFailed},
}

// GeneTask is the unit of work for one gene inside a run.
// A task is written by exactly one goroutine at a time.
type GeneTask struct {
	Gene       string         `json:"gene"`
	State      TaskState      `json:"state"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Result     *GeneResult    `json:"result,omitempty"`
	Failure    *FailureRecord `json:"failure,omitempty"`
}

// NewGeneTask creates a pending task for gene.
func NewGeneTask(gene string) *GeneTask {
	return &GeneTask{Gene: gene, State: TaskStatePending}
}

// Transition moves the task to the given state if allowed.
func (t *GeneTask) Transition(to TaskState, at time.Time) error {
	for _, next := range allowedTransitions[t.State] {
		if next != to {
			continue
		}
		if to == TaskStateRunning {
			t.StartedAt = &at
		}
		if to.IsTerminal() {
			t.FinishedAt = &at
		}
		t.State = to
		return nil
	}
	return &ErrInvalidTransition{Gene: t.Gene, From: t.State, To: to}
}

// Succeed records a result and marks the task succeeded.
func (t *GeneTask) Succeed(result *GeneResult, at time.Time) error {
	if err := t.Transition(TaskStateSucceeded, at); err != nil {
		return err
	}
	t.Result = result
	return nil
}

// Fail records a failure and marks the task failed.
func (t *GeneTask) Fail(failure *FailureRecord, at time.Time) error {
	if err := t.Transition(TaskStateFailed, at); err != nil {
		return err
	}
	t.Failure = failure
	return nil
}

// Medication is a drug the patient currently takes.
type Medication struct {
	Name string `json:"name" yaml:"name"`
	Dose string `json:"dose,omitempty" yaml:"dose"`
}

// Demographics holds identifying patient details.
type Demographics struct {
	FirstName string `json:"first_name,omitempty" yaml:"first_name"`
	LastName  string `json:"last_name,omitempty" yaml:"last_name"`
	MRN       string `json:"mrn,omitempty" yaml:"mrn"`
	Age       int    `json:"age,omitempty" yaml:"age"`
	Sex       string `json:"sex,omitempty" yaml:"sex"`
	Ethnicity string `json:"ethnicity,omitempty" yaml:"ethnicity"`
}

// PatientContext is the read-only patient profile shared by all gene tasks.
type PatientContext struct {
	PatientID    string       `json:"patient_id" yaml:"patient_id"`
	Demographics Demographics `json:"demographics" yaml:"demographics"`
	Conditions   []string     `json:"conditions,omitempty" yaml:"conditions"`
	Medications  []Medication `json:"medications,omitempty" yaml:"medications"`
}

// RunStatus represents the lifecycle of a persisted run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the persisted record of one orchestrated multi-gene analysis.
type Run struct {
	ID            string           `json:"id"`
	PatientID     string           `json:"patient_id,omitempty"`
	Genes         []string         `json:"genes"`
	Status        RunStatus        `json:"status"`
	OverallStatus OverallStatus    `json:"overall_status,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
	Report        *MultiGeneReport `json:"report,omitempty"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	RunID      string    `json:"run_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
