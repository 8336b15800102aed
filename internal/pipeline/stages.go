package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/rescale/ventsim/internal/diskspace"
	"github.com/rescale/ventsim/internal/foam"
	"github.com/rescale/ventsim/internal/models"
	"github.com/rescale/ventsim/internal/runner"
	"github.com/rescale/ventsim/internal/scheduler"
	"github.com/rescale/ventsim/internal/viz"
)

// Step names as reported in progress events.
const (
	StepRenderFeatures  = "render surfaceFeaturesDict"
	StepFeatures        = "surfaceFeatures"
	StepRenderBlockMesh = "render blockMeshDict and fields"
	StepBlockMesh       = "blockMesh"
	StepRenderSnappy    = "render snappyHexMeshDict and decomposeParDict"
	StepDecompose       = "decomposePar"
	StepSnappy          = "snappyHexMesh"
	StepReconstructMesh = "reconstructParMesh"
	StepShowMesh        = "show mesh"

	StepRenderABL         = "render ABLConditions"
	StepRenderControl     = "render controlDict"
	StepRenderDecompose   = "render decomposeParDict"
	StepSolve             = "simpleFoam"
	StepReconstructFields = "reconstructPar"
	StepTouch             = "paraFoam touch"
	StepShowField         = "show field"
)

// ErrNoGeometry is the environment guard failure when no geometry is stored.
var ErrNoGeometry = errors.New("no geometry uploaded")

// command runs cmds in the case directory as one step. The first failing
// command ends the step with its *runner.CommandError.
func (c *Controller) command(cmds ...runner.Command) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := runner.RunAll(ctx, c.runner, c.ws.Dir(), cmds...)
		return err
	}
}

// write stores pre-rendered artifacts in the workspace.
func (c *Controller) write(arts *Artifacts, paths ...string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		for _, p := range paths {
			content, ok := arts.Get(p)
			if !ok {
				return fmt.Errorf("%s was not rendered", p)
			}
			if err := c.ws.WriteArtifact(p, content); err != nil {
				return err
			}
		}
		return nil
	}
}

// environmentRequest must be called with c.mu held. The request works on a
// snapshot of the parameters and geometry taken now.
func (c *Controller) environmentRequest() scheduler.Request {
	params := c.params
	geometry := c.geometry
	arts := &Artifacts{}

	fieldPaths := []string{foam.BlockMeshDict}
	for _, f := range foam.Fields {
		fieldPaths = append(fieldPaths, foam.FieldFile(f))
	}

	return scheduler.Request{
		Stage:    scheduler.Environment,
		Excludes: []scheduler.Stage{scheduler.Simulation},
		Guard: func() error {
			if err := params.Validate(); err != nil {
				return err
			}
			if geometry.Empty() {
				return ErrNoGeometry
			}
			return nil
		},
		Prepare: func(ctx context.Context) error {
			if err := diskspace.Check(c.ws.Dir(), c.minFree); err != nil {
				return err
			}
			rendered, err := RenderEnvironment(c.engine, params, geometry, c.split)
			if err != nil {
				return err
			}
			*arts = rendered

			c.sched.Invalidate(scheduler.Simulation)
			c.mu.Lock()
			c.mesh++
			c.decomposed = decomposition{}
			c.mu.Unlock()
			return c.ws.ClearMeshHistory()
		},
		Steps: []scheduler.Step{
			{Name: StepRenderFeatures, Weight: 1, Run: c.write(arts, foam.SurfaceFeaturesDict)},
			{Name: StepFeatures, Weight: 4, Run: c.command(c.tools.ExtractFeatures())},
			{Name: StepRenderBlockMesh, Weight: 2, Run: c.write(arts, fieldPaths...)},
			{Name: StepBlockMesh, Weight: 13, Run: c.command(c.tools.MeshBlock())},
			{Name: StepRenderSnappy, Weight: 2, Run: c.write(arts, foam.SnappyHexMeshDict, foam.DecomposeParDict)},
			{Name: StepDecompose, Weight: 5, Run: c.command(c.tools.Decompose())},
			{Name: StepSnappy, Weight: 60, Run: c.command(c.tools.Snap())},
			{Name: StepReconstructMesh, Weight: 8, Run: c.command(c.tools.ReconstructMesh())},
			{Name: StepShowMesh, Weight: 5, Run: c.showMesh},
		},
	}
}

func (c *Controller) showMesh(ctx context.Context) error {
	if err := c.command(c.tools.Touch())(ctx); err != nil {
		return err
	}
	if err := c.sink.ShowMesh(c.ws.FoamPath()); err != nil {
		c.logger.Warn().Err(err).Msg("Visualization did not accept mesh")
	}
	return nil
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// simulationRequest must be called with c.mu held.
func (c *Controller) simulationRequest() scheduler.Request {
	params := c.params
	proxies := append([]viz.Proxy(nil), c.proxies...)
	endTime := models.TimeName(params.Duration)
	arts := &Artifacts{}
	var key decomposition

	return scheduler.Request{
		Stage:    scheduler.Simulation,
		Requires: []scheduler.Stage{scheduler.Environment},
		Excludes: []scheduler.Stage{scheduler.Environment},
		Guard:    params.Validate,
		Prepare: func(ctx context.Context) error {
			rendered, err := RenderSimulation(c.engine, params, c.split)
			if err != nil {
				return err
			}
			*arts = rendered

			abl, _ := rendered.Get(foam.ABLConditions)
			c.mu.Lock()
			key = decomposition{mesh: c.mesh, abl: digest(abl), split: c.split, recorded: true}
			c.mu.Unlock()
			return c.ws.ClearSolution(endTime)
		},
		Steps: []scheduler.Step{
			{Name: StepRenderABL, Weight: 2, Run: c.write(arts, foam.ABLConditions)},
			{Name: StepRenderControl, Weight: 1, Run: c.write(arts, foam.ControlDict)},
			{Name: StepRenderDecompose, Weight: 1, Run: c.write(arts, foam.DecomposeParDict)},
			{Name: StepDecompose, Weight: 6, Run: func(ctx context.Context) error {
				return c.decompose(ctx, key)
			}},
			{Name: StepSolve, Weight: 60, Run: c.command(c.tools.Solve())},
			{Name: StepReconstructFields, Weight: 8, Run: c.command(c.tools.ReconstructFields())},
			{Name: StepTouch, Weight: 2, Run: c.command(c.tools.Touch())},
			{Name: StepShowField, Weight: 20, Run: func(ctx context.Context) error {
				view := viz.FieldView{
					CasePath:       c.ws.FoamPath(),
					Field:          viz.DefaultField,
					SolutionTime:   endTime,
					CutPlaneHeight: c.Parameters().EffectiveCutPlaneHeight(),
					Normal:         models.Vector{Z: 1},
					Geometry:       proxies,
				}
				if err := c.sink.ShowField(view); err != nil {
					c.logger.Warn().Err(err).Msg("Visualization did not accept field")
				}
				return nil
			}},
		},
	}
}

// decompose splits the case unless the processor directories already hold
// this mesh with these boundary conditions.
func (c *Controller) decompose(ctx context.Context, key decomposition) error {
	c.mu.Lock()
	reuse := c.decomposed == key && c.ws.HasDecomposition()
	c.mu.Unlock()

	if reuse {
		c.logger.Info().Msg("Reusing existing decomposition")
		return nil
	}
	if err := c.command(c.tools.Decompose())(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.decomposed = key
	c.mu.Unlock()
	return nil
}
