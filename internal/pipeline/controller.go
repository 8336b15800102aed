// Package pipeline drives the two case stages: meshing the environment
// around the uploaded geometry, then solving the wind flow over it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rescale/ventsim/internal/casetemplate"
	"github.com/rescale/ventsim/internal/constants"
	"github.com/rescale/ventsim/internal/events"
	"github.com/rescale/ventsim/internal/export"
	"github.com/rescale/ventsim/internal/foam"
	"github.com/rescale/ventsim/internal/logging"
	"github.com/rescale/ventsim/internal/models"
	"github.com/rescale/ventsim/internal/progress"
	"github.com/rescale/ventsim/internal/runner"
	"github.com/rescale/ventsim/internal/scheduler"
	"github.com/rescale/ventsim/internal/viz"
	"github.com/rescale/ventsim/internal/workspace"
)

// ErrStageBusy is returned by operations refused while a stage runs.
var ErrStageBusy = errors.New("a stage is running")

// Options configures a Controller.
type Options struct {
	// Template is the case tree workspaces are seeded from and templates
	// are parsed from. Nil uses TemplateDir, or the embedded case.
	Template    fs.FS
	TemplateDir string

	WorkRoot      string
	KeepWorkspace bool
	// MinFreeBytes is the free space an environment run needs in the
	// workspace file system. Zero skips the check.
	MinFreeBytes int64

	Toolset       runner.Toolset
	Decomposition Decomposition

	Runner   runner.Runner
	Sink     viz.Sink
	EventBus *events.EventBus
	Logger   *logging.Logger
	// Reporter adds a progress reporter to every stage run.
	Reporter func(stage scheduler.Stage, runID string) progress.Reporter

	Parameters *models.CaseParameters
}

// decomposition identifies what the processor directories were split from.
type decomposition struct {
	mesh     uint64
	abl      string
	split    Decomposition
	recorded bool
}

// Controller is the session context of one case: its parameters, geometry,
// workspace and the state of both stages.
type Controller struct {
	engine      *foam.Engine
	templateErr error
	ws          *workspace.Workspace
	runner      runner.Runner
	tools       runner.Toolset
	split       Decomposition
	minFree     int64
	sink        viz.Sink
	sched       *scheduler.Scheduler
	eventBus    *events.EventBus
	logger      *logging.Logger

	mu         sync.Mutex
	params     models.CaseParameters
	geometry   models.GeometrySet
	proxies    []viz.Proxy
	mesh       uint64
	decomposed decomposition
	closed     bool
}

// New creates a controller with a fresh workspace. Template load failures do
// not fail New; they are reported by TemplateError and fail every stage run
// that needs the broken artifact.
func New(opts Options) (*Controller, error) {
	logger := logging.OrNop(opts.Logger)

	tree := opts.Template
	if tree == nil {
		tree = casetemplate.Open(opts.TemplateDir)
	}

	engine, templateErr := foam.Load(tree)
	if templateErr != nil {
		logger.Error().Err(templateErr).Msg("Case templates failed to load")
	}

	ws, err := workspace.New(tree, workspace.Options{
		Root:   opts.WorkRoot,
		Keep:   opts.KeepWorkspace,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	tools := opts.Toolset
	if tools.Launcher == "" {
		tools = runner.DefaultToolset()
	}
	split := opts.Decomposition
	if split.Processors <= 0 {
		split.Processors = tools.Processors
	}
	if split.Method == "" {
		split.Method = constants.DefaultDecompositionMethod
	}
	tools.Processors = split.Processors

	r := opts.Runner
	if r == nil {
		r = runner.NewExecRunner(logger)
	}
	sink := opts.Sink
	if sink == nil {
		sink = viz.NewEventSink(opts.EventBus, logger)
	}

	params := models.DefaultParameters()
	if opts.Parameters != nil {
		if err := opts.Parameters.Validate(); err != nil {
			ws.Close()
			return nil, err
		}
		params = *opts.Parameters
	}

	c := &Controller{
		engine:      engine,
		templateErr: templateErr,
		ws:          ws,
		runner:      r,
		tools:       tools,
		split:       split,
		minFree:     opts.MinFreeBytes,
		sink:        sink,
		eventBus:    opts.EventBus,
		logger:      logger.Component("pipeline"),
		params:      params,
		sched: scheduler.New(scheduler.Options{
			EventBus: opts.EventBus,
			Logger:   logger,
			Reporter: opts.Reporter,
		}),
	}
	return c, nil
}

// TemplateError returns the error from loading the case templates, if any.
func (c *Controller) TemplateError() error { return c.templateErr }

// Workspace returns the case workspace.
func (c *Controller) Workspace() *workspace.Workspace { return c.ws }

// Decomposition returns the processor count and method the case is split with.
func (c *Controller) Decomposition() Decomposition { return c.split }

// Parameters returns the current case parameters.
func (c *Controller) Parameters() models.CaseParameters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

func meshChanged(a, b models.CaseParameters) bool {
	return a.Length != b.Length || a.Width != b.Width || a.Height != b.Height ||
		a.Inlet != b.Inlet || a.Outlet != b.Outlet
}

// SetParameters validates and stores p. Changing the domain or its patches
// invalidates both stages and is refused while any stage runs.
func (c *Controller) SetParameters(p models.CaseParameters) error {
	return c.UpdateParameters(func(cur *models.CaseParameters) error {
		*cur = p
		return nil
	})
}

// UpdateParameters applies fn to a copy of the current parameters and stores
// the result as SetParameters does. The read and the store happen under one
// lock, so concurrent partial updates do not lose each other's fields. An
// error from fn leaves the parameters unchanged.
func (c *Controller) UpdateParameters(fn func(*models.CaseParameters) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.params
	if err := fn(&p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	remesh := meshChanged(c.params, p)
	if remesh && c.sched.AnyRunning() {
		return fmt.Errorf("cannot change the domain: %w", ErrStageBusy)
	}
	c.params = p
	if remesh {
		c.sched.Invalidate(scheduler.Environment)
		c.sched.Invalidate(scheduler.Simulation)
	}
	c.logger.Info().
		Float64("length", p.Length).Float64("width", p.Width).Float64("height", p.Height).
		Str("inlet", string(p.Inlet)).Str("outlet", string(p.Outlet)).
		Float64("wind_speed", p.WindSpeed).Str("landscape", p.Landscape.String()).
		Float64("duration", p.Duration).Bool("remesh", remesh).
		Msg("Parameters updated")
	return nil
}

// SetCutPlaneHeight moves the result cut plane. Zero selects the wind
// reference height.
func (c *Controller) SetCutPlaneHeight(height float64) error {
	c.mu.Lock()
	p := c.params
	p.CutPlaneHeight = height
	if err := p.Validate(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.params = p
	c.mu.Unlock()

	if c.sched.State(scheduler.Simulation).Succeeded {
		if err := c.sink.UpdateCutPlane(p.EffectiveCutPlaneHeight()); err != nil {
			c.logger.Warn().Err(err).Msg("Visualization did not accept cut plane")
		}
	}
	return nil
}

// Geometry returns the stored geometry set.
func (c *Controller) Geometry() models.GeometrySet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.geometry
}

// Proxies returns one render proxy per stored geometry file.
func (c *Controller) Proxies() []viz.Proxy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]viz.Proxy(nil), c.proxies...)
}

// ReplaceGeometry makes files the case geometry. Files no longer present are
// deleted from the workspace. An empty list clears the geometry, resets the
// visualization and leaves the environment stage not ready. Refused while
// any stage runs.
func (c *Controller) ReplaceGeometry(files []models.GeometryFile) error {
	set, err := models.NewGeometrySet(files)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sched.AnyRunning() {
		return fmt.Errorf("cannot replace geometry: %w", ErrStageBusy)
	}

	change, err := c.ws.ReplaceGeometry(set)
	if err != nil {
		return err
	}
	c.geometry = set

	if change.Changed() || set.Empty() {
		c.sched.Invalidate(scheduler.Environment)
		c.sched.Invalidate(scheduler.Simulation)
	}

	if set.Empty() {
		c.proxies = nil
		if err := c.sink.Reset(); err != nil {
			c.logger.Warn().Err(err).Msg("Visualization reset failed")
		}
	} else {
		c.proxies = viz.Proxies(set, c.ws.GeometryPaths(set))
		if err := c.sink.ShowGeometry(c.proxies); err != nil {
			c.logger.Warn().Err(err).Msg("Visualization did not accept geometry")
		}
	}
	c.eventBus.PublishGeometry(set.Names())
	return nil
}

// Run requests a run of stage. A refused request is a no-op and returns
// (nil, false); Readiness reports why.
func (c *Controller) Run(ctx context.Context, stage scheduler.Stage) (*scheduler.Task, bool) {
	switch stage {
	case scheduler.Environment:
		return c.RunEnvironment(ctx)
	case scheduler.Simulation:
		return c.RunSimulation(ctx)
	}
	return nil, false
}

// RunEnvironment requests an environment stage run.
func (c *Controller) RunEnvironment(ctx context.Context) (*scheduler.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false
	}
	return c.sched.Request(ctx, c.environmentRequest())
}

// RunSimulation requests a simulation stage run.
func (c *Controller) RunSimulation(ctx context.Context) (*scheduler.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false
	}
	return c.sched.Request(ctx, c.simulationRequest())
}

// Readiness reports why a run of stage would be refused now, or nil.
func (c *Controller) Readiness(stage scheduler.Stage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch stage {
	case scheduler.Environment:
		return c.sched.Check(c.environmentRequest())
	case scheduler.Simulation:
		return c.sched.Check(c.simulationRequest())
	}
	return fmt.Errorf("unknown stage %q", stage)
}

// Status is a consistent view of the session for observers.
type Status struct {
	Stages     []scheduler.StageState `json:"stages"`
	Parameters models.CaseParameters  `json:"parameters"`
	Geometry   []string               `json:"geometry"`
	Proxies    []viz.Proxy            `json:"proxies"`
	Workspace  string                 `json:"workspace"`
}

// Stage returns the state of stage from the status.
func (s Status) Stage(stage scheduler.Stage) scheduler.StageState {
	for _, st := range s.Stages {
		if st.Stage == stage {
			return st
		}
	}
	return scheduler.StageState{Stage: stage}
}

// Status returns the current state of both stages and the case inputs.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Stages:     c.sched.Snapshot(),
		Parameters: c.params,
		Geometry:   c.geometry.Names(),
		Proxies:    append([]viz.Proxy(nil), c.proxies...),
		Workspace:  c.ws.Dir(),
	}
}

// Wait blocks until no stage is running.
func (c *Controller) Wait() {
	c.sched.Wait()
}

// Export archives the case and uploads it to store under key. Refused while
// any stage runs.
func (c *Controller) Export(ctx context.Context, store export.Store, key string) (string, error) {
	if c.sched.AnyRunning() {
		return "", fmt.Errorf("cannot export: %w", ErrStageBusy)
	}

	tmp, err := os.MkdirTemp("", "ventsim-export-")
	if err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	archive := filepath.Join(tmp, c.ws.Name()+".tar.gz")
	if err := c.ws.Archive(ctx, archive, "gzip"); err != nil {
		return "", err
	}
	location, err := store.Upload(ctx, key, archive)
	if err != nil {
		return "", fmt.Errorf("failed to upload case to %s: %w", store.Name(), err)
	}
	c.logger.Info().Str("store", store.Name()).Str("location", location).Msg("Case exported")
	return location, nil
}

// Close waits for running stages to finish, then removes the workspace.
// Stage runs cannot be interrupted.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.sched.Wait()
	return c.ws.Close()
}
