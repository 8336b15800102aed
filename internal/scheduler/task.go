package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Stage names one of the pipeline's independently scheduled step sequences.
type Stage string

const (
	Environment Stage = "environment"
	Simulation  Stage = "simulation"
)

// ParseStage returns the stage named s.
func ParseStage(s string) (Stage, error) {
	switch st := Stage(s); st {
	case Environment, Simulation:
		return st, nil
	}
	return "", fmt.Errorf("unknown stage %q (want environment or simulation)", s)
}

// Status is the coarse state of a stage, derived from its StageState.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// StageState is the observable state of a stage. Values returned by the
// scheduler are copies and never change after they are returned.
type StageState struct {
	Stage      Stage     `json:"stage"`
	Running    bool      `json:"running"`
	Succeeded  bool      `json:"succeeded"`
	Progress   int       `json:"progress"`
	RunID      string    `json:"runId,omitempty"`
	Step       string    `json:"step,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	StartedAt  time.Time `json:"startedAt,omitzero"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
}

// Status summarizes the state.
func (s StageState) Status() Status {
	switch {
	case s.Running:
		return StatusRunning
	case s.Succeeded:
		return StatusSucceeded
	case s.RunID != "":
		return StatusFailed
	default:
		return StatusIdle
	}
}

// Step is one unit of a stage. Its weight is added to the stage progress
// when Run returns nil.
type Step struct {
	Name   string
	Weight int
	Run    func(ctx context.Context) error
}

// StepError identifies the step a stage failed in.
type StepError struct {
	Stage Stage
	Step  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step %q failed: %v", e.Stage, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Task is the handle to one stage run. It completes exactly once.
type Task struct {
	ID    string
	Stage Stage

	done chan struct{}
	err  error
}

func newTask(id string, stage Stage) *Task {
	return &Task{ID: id, Stage: stage, done: make(chan struct{})}
}

// Done is closed when the run has finished and the stage state is final.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the run finishes or ctx is done. Cancelling ctx stops the
// wait, not the run.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the run's failure, or nil if it succeeded or is still running.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

var (
	// ErrRunning is reported when a stage is asked to start while it runs.
	ErrRunning = errors.New("stage is already running")
	// ErrPrerequisite is reported when a required stage has not succeeded.
	ErrPrerequisite = errors.New("prerequisite stage has not succeeded")
	// ErrConflict is reported when a stage that must not overlap is running.
	ErrConflict = errors.New("conflicting stage is running")
	// ErrWeights is reported for step lists whose weights do not total 100.
	ErrWeights = errors.New("step weights must total 100")
)
