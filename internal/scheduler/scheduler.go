// Package scheduler runs pipeline stages as asynchronous tasks, allowing at
// most one run per stage and tracking each stage's observable state.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rescale/ventsim/internal/events"
	"github.com/rescale/ventsim/internal/logging"
	"github.com/rescale/ventsim/internal/progress"
)

// Request describes a stage run. Guard is evaluated with the scheduler lock
// held and must not call back into the scheduler.
type Request struct {
	Stage Stage
	// Requires lists stages whose last run must have succeeded.
	Requires []Stage
	// Excludes lists stages that must not be running.
	Excludes []Stage
	Guard    func() error
	// Prepare runs inside the task before the first step; a failure fails
	// the run at zero progress.
	Prepare func(ctx context.Context) error
	Steps   []Step
}

// Options configures a Scheduler.
type Options struct {
	EventBus *events.EventBus
	Logger   *logging.Logger
	// Reporter, when set, returns an additional progress reporter for each
	// run, for example a terminal progress bar.
	Reporter func(stage Stage, runID string) progress.Reporter
}

type stageEntry struct {
	state   StageState
	tracker progress.Tracker
}

// Scheduler owns the state of every stage it has seen.
type Scheduler struct {
	eventBus *events.EventBus
	logger   *logging.Logger
	reporter func(Stage, string) progress.Reporter

	mu     sync.Mutex
	stages map[Stage]*stageEntry
	wg     sync.WaitGroup
}

// New creates a scheduler tracking the environment and simulation stages.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		eventBus: opts.EventBus,
		logger:   logging.OrNop(opts.Logger).Component("scheduler"),
		reporter: opts.Reporter,
		stages:   make(map[Stage]*stageEntry),
	}
	s.entry(Environment)
	s.entry(Simulation)
	return s
}

// entry must be called with s.mu held or before the scheduler is shared.
func (s *Scheduler) entry(stage Stage) *stageEntry {
	e, ok := s.stages[stage]
	if !ok {
		e = &stageEntry{state: StageState{Stage: stage}}
		s.stages[stage] = e
	}
	return e
}

func (e *stageEntry) snapshot() StageState {
	st := e.state
	st.Progress = e.tracker.Value()
	return st
}

// State returns a copy of the stage's state.
func (s *Scheduler) State(stage Stage) StageState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry(stage).snapshot()
}

// Snapshot returns copies of the environment and simulation states, taken
// together under one lock.
func (s *Scheduler) Snapshot() []StageState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []StageState{
		s.entry(Environment).snapshot(),
		s.entry(Simulation).snapshot(),
	}
}

// AnyRunning reports whether any stage has a run in flight.
func (s *Scheduler) AnyRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.stages {
		if e.state.Running {
			return true
		}
	}
	return false
}

// Check reports why req would be refused, or nil if it would start. It does
// not change any state.
func (s *Scheduler) Check(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admit(req)
}

func (s *Scheduler) admit(req Request) error {
	if s.entry(req.Stage).state.Running {
		return fmt.Errorf("%s: %w", req.Stage, ErrRunning)
	}
	for _, dep := range req.Requires {
		if !s.entry(dep).state.Succeeded {
			return fmt.Errorf("%s: %w: %s", req.Stage, ErrPrerequisite, dep)
		}
	}
	for _, other := range req.Excludes {
		if s.entry(other).state.Running {
			return fmt.Errorf("%s: %w: %s", req.Stage, ErrConflict, other)
		}
	}
	total := 0
	for _, step := range req.Steps {
		total += step.Weight
	}
	if total != progress.Complete {
		return fmt.Errorf("%s: %w (got %d)", req.Stage, ErrWeights, total)
	}
	if req.Guard != nil {
		if err := req.Guard(); err != nil {
			return fmt.Errorf("%s: %w", req.Stage, err)
		}
	}
	return nil
}

// Request starts req if its stage is idle and every guard passes. A refused
// request changes nothing and returns (nil, false). The run does not inherit
// ctx's cancellation; once started it runs to completion or first failure.
func (s *Scheduler) Request(ctx context.Context, req Request) (*Task, bool) {
	s.mu.Lock()
	if err := s.admit(req); err != nil {
		s.mu.Unlock()
		s.logger.Debug().Err(err).Str("stage", string(req.Stage)).Msg("Run request ignored")
		return nil, false
	}

	e := s.entry(req.Stage)
	old := e.snapshot()
	runID := uuid.NewString()
	e.tracker.Reset()
	e.state = StageState{
		Stage:     req.Stage,
		Running:   true,
		RunID:     runID,
		StartedAt: time.Now(),
	}
	current := e.snapshot()
	s.wg.Add(1)
	s.mu.Unlock()

	s.publishState(old, current)
	s.logger.Info().Str("stage", string(req.Stage)).Str("run_id", runID).Int("steps", len(req.Steps)).Msg("Stage started")

	task := newTask(runID, req.Stage)
	go s.run(context.WithoutCancel(ctx), task, req)
	return task, true
}

// Invalidate clears the stage's succeeded flag so dependent stages are
// refused until it runs again.
func (s *Scheduler) Invalidate(stage Stage) {
	s.mu.Lock()
	e := s.entry(stage)
	if !e.state.Succeeded {
		s.mu.Unlock()
		return
	}
	old := e.snapshot()
	e.state.Succeeded = false
	e.tracker.Reset()
	current := e.snapshot()
	s.mu.Unlock()

	s.publishState(old, current)
	s.logger.Info().Str("stage", string(stage)).Msg("Stage invalidated")
}

// Wait blocks until every started run has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) reporterFor(stage Stage, runID string) progress.Reporter {
	rep := progress.Multi{progress.NewEventProgress(s.eventBus, string(stage), runID)}
	if s.reporter != nil {
		if extra := s.reporter(stage, runID); extra != nil {
			rep = append(rep, extra)
		}
	}
	return rep
}

func (s *Scheduler) run(ctx context.Context, task *Task, req Request) {
	e := s.stageEntry(req.Stage)
	rep := s.reporterFor(req.Stage, task.ID)
	rep.Start(progress.Complete, "")

	err := s.execute(ctx, task, req, e, rep)
	s.finish(task, e, rep, err)
}

func (s *Scheduler) stageEntry(stage Stage) *stageEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry(stage)
}

func (s *Scheduler) execute(ctx context.Context, task *Task, req Request, e *stageEntry, rep progress.Reporter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", req.Stage, r)
		}
	}()

	if req.Prepare != nil {
		if err := req.Prepare(ctx); err != nil {
			return &StepError{Stage: req.Stage, Step: "prepare", Err: err}
		}
	}

	for _, step := range req.Steps {
		s.setStep(e, step.Name)
		rep.SetDescription(step.Name)
		log := s.logger.With().Str("stage", string(req.Stage)).Str("run_id", task.ID).Str("step", step.Name).Logger()
		log.Debug().Msg("Step started")

		started := time.Now()
		if step.Run != nil {
			if err := step.Run(ctx); err != nil {
				return &StepError{Stage: req.Stage, Step: step.Name, Err: err}
			}
		}
		value := e.tracker.Add(step.Weight)
		rep.Update(int64(value))
		log.Debug().Int("progress", value).Dur("elapsed", time.Since(started)).Msg("Step finished")
	}
	return nil
}

func (s *Scheduler) setStep(e *stageEntry, step string) {
	s.mu.Lock()
	e.state.Step = step
	s.mu.Unlock()
}

// finish is the only place a run's outcome is recorded.
func (s *Scheduler) finish(task *Task, e *stageEntry, rep progress.Reporter, err error) {
	defer s.wg.Done()

	s.mu.Lock()
	old := e.snapshot()
	e.state.Running = false
	e.state.Succeeded = err == nil
	e.state.FinishedAt = time.Now()
	if err != nil {
		e.state.LastError = err.Error()
	} else {
		e.state.Step = ""
	}
	current := e.snapshot()
	s.mu.Unlock()

	duration := current.FinishedAt.Sub(current.StartedAt)
	if err != nil {
		rep.Error(err)
		s.logger.Error().Err(err).Str("stage", string(task.Stage)).Str("run_id", task.ID).Int("progress", current.Progress).Msg("Stage failed")
	} else {
		rep.Finish()
		s.logger.Info().Str("stage", string(task.Stage)).Str("run_id", task.ID).Dur("duration", duration).Msg("Stage succeeded")
	}

	s.publishState(old, current)
	s.eventBus.PublishComplete(events.CompleteEvent{
		Stage:     string(task.Stage),
		RunID:     task.ID,
		Succeeded: current.Succeeded,
		Progress:  current.Progress,
		Duration:  duration,
		Error:     current.LastError,
	})

	task.err = err
	close(task.done)
}

func (s *Scheduler) publishState(old, current StageState) {
	s.eventBus.PublishStateChange(events.StateChangeEvent{
		Stage:        string(current.Stage),
		RunID:        current.RunID,
		OldStatus:    string(old.Status()),
		NewStatus:    string(current.Status()),
		Running:      current.Running,
		Succeeded:    current.Succeeded,
		Progress:     current.Progress,
		ErrorMessage: current.LastError,
	})
}
