package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/rescale/ventsim/internal/casetemplate"
	"github.com/rescale/ventsim/internal/diskspace"
	"github.com/rescale/ventsim/internal/foam"
	"github.com/rescale/ventsim/internal/models"
	"github.com/rescale/ventsim/internal/runner"
	"github.com/rescale/ventsim/internal/scheduler"
	"github.com/rescale/ventsim/internal/viz"
)

type harness struct {
	c    *Controller
	run  *fakeRunner
	sink *viz.Recorder
}

func newHarness(t *testing.T, template fstest.MapFS) *harness {
	t.Helper()
	h := &harness{run: &fakeRunner{}, sink: &viz.Recorder{}}
	opts := Options{
		WorkRoot: t.TempDir(),
		Runner:   h.run,
		Sink:     h.sink,
	}
	if template != nil {
		opts.Template = template
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	h.c = c
	return h
}

func stl(name string) models.GeometryFile {
	return models.GeometryFile{Name: name, Content: []byte("solid " + name + "\nendsolid\n")}
}

func await(t *testing.T, task *scheduler.Task, ok bool) error {
	t.Helper()
	if !ok || task == nil {
		t.Fatal("run request was refused")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := task.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("stage did not finish")
	}
	return err
}

func read(t *testing.T, c *Controller, rel string) string {
	t.Helper()
	data, err := c.Workspace().ReadArtifact(rel)
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

var environmentTools = []string{
	"surfaceFeatures", "blockMesh", "decomposePar", "snappyHexMesh", "reconstructParMesh", "paraFoam",
}

var simulationTools = []string{"decomposePar", "simpleFoam", "reconstructPar", "paraFoam"}

func TestEndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	params := models.CaseParameters{
		Length: 5, Width: 5, Height: 5,
		Inlet: models.PatchFront, Outlet: models.PatchBack,
		WindSpeed: 5, WindReferenceHeight: 5,
		Landscape: models.LandscapeOpen,
		Duration:  5,
	}
	if err := h.c.SetParameters(params); err != nil {
		t.Fatalf("SetParameters: %v", err)
	}
	if err := h.c.ReplaceGeometry([]models.GeometryFile{stl("house.stl")}); err != nil {
		t.Fatalf("ReplaceGeometry: %v", err)
	}

	if err := h.c.Readiness(scheduler.Simulation); !errors.Is(err, scheduler.ErrPrerequisite) {
		t.Errorf("simulation should wait for the environment, got %v", err)
	}

	task, ok := h.c.RunEnvironment(ctx)
	if err := await(t, task, ok); err != nil {
		t.Fatalf("environment failed: %v", err)
	}
	env := h.c.Status().Stage(scheduler.Environment)
	if !env.Succeeded || env.Progress != 100 || env.Running {
		t.Fatalf("unexpected environment state %+v", env)
	}
	if got := h.run.tools(); !reflect.DeepEqual(got, environmentTools) {
		t.Errorf("environment ran %v, want %v", got, environmentTools)
	}
	if got := h.run.commandFor(t, "snappyHexMesh").String(); got != "mpirun -np 12 snappyHexMesh -parallel -overwrite" {
		t.Errorf("snappyHexMesh command = %s", got)
	}

	features := read(t, h.c, foam.SurfaceFeaturesDict)
	if strings.Count(features, `"house.stl"`) != 1 {
		t.Errorf("surfaceFeaturesDict should list house.stl once:\n%s", features)
	}
	for _, field := range foam.Fields {
		text := read(t, h.c, foam.FieldFile(field))
		if n := strings.Count(text, "    house\n"); n != 1 {
			t.Errorf("0/%s has %d house stanzas, want 1", field, n)
		}
	}
	snappy := read(t, h.c, foam.SnappyHexMeshDict)
	if !strings.Contains(snappy, "house.stl") || strings.Contains(snappy, "building") {
		t.Errorf("snappyHexMeshDict not expanded for house:\n%s", snappy)
	}

	if cmd, ok := h.sink.Last("showMesh"); !ok || cmd.CasePath != h.c.Workspace().FoamPath() {
		t.Errorf("mesh not handed to the sink: %+v", cmd)
	}

	if err := h.c.Readiness(scheduler.Simulation); err != nil {
		t.Fatalf("simulation should be eligible: %v", err)
	}
	h.run.reset()
	task, ok = h.c.RunSimulation(ctx)
	if err := await(t, task, ok); err != nil {
		t.Fatalf("simulation failed: %v", err)
	}
	sim := h.c.Status().Stage(scheduler.Simulation)
	if !sim.Succeeded || sim.Progress != 100 {
		t.Fatalf("unexpected simulation state %+v", sim)
	}
	if got := h.run.tools(); !reflect.DeepEqual(got, simulationTools) {
		t.Errorf("simulation ran %v, want %v", got, simulationTools)
	}

	abl := read(t, h.c, foam.ABLConditions)
	if !strings.Contains(abl, "flowDir              (0 -1 0);\n") {
		t.Errorf("ABLConditions flow direction wrong:\n%s", abl)
	}
	if !strings.Contains(abl, "z0                   uniform 0.0002;\n") {
		t.Errorf("ABLConditions roughness wrong:\n%s", abl)
	}

	field, ok := h.sink.Last("showField")
	if !ok {
		t.Fatal("field not handed to the sink")
	}
	if field.View.Field != "U" || field.View.CutPlaneHeight != 5 || field.View.SolutionTime != "5" {
		t.Errorf("unexpected field view %+v", field.View)
	}
	if len(field.View.Geometry) != 1 || field.View.Geometry[0].Name != "house" {
		t.Errorf("field view should carry the house proxy: %+v", field.View.Geometry)
	}
}

func TestRerunSimulationReusesDecomposition(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.c.ReplaceGeometry([]models.GeometryFile{stl("house.stl")})

	task, ok := h.c.RunEnvironment(ctx)
	await(t, task, ok)
	task, ok = h.c.RunSimulation(ctx)
	if err := await(t, task, ok); err != nil {
		t.Fatalf("first simulation: %v", err)
	}

	h.run.reset()
	p := h.c.Parameters()
	p.Duration = 10
	h.c.SetParameters(p)
	task, ok = h.c.RunSimulation(ctx)
	if err := await(t, task, ok); err != nil {
		t.Fatalf("second simulation: %v", err)
	}
	want := []string{"simpleFoam", "reconstructPar", "paraFoam"}
	if got := h.run.tools(); !reflect.DeepEqual(got, want) {
		t.Errorf("duration-only rerun ran %v, want %v", got, want)
	}
	if !strings.Contains(read(t, h.c, foam.ControlDict), "endTime         10;") {
		t.Error("controlDict should carry the new end time")
	}

	h.run.reset()
	p.WindSpeed = 8
	h.c.SetParameters(p)
	task, ok = h.c.RunSimulation(ctx)
	await(t, task, ok)
	if got := h.run.tools(); !reflect.DeepEqual(got, simulationTools) {
		t.Errorf("boundary change should decompose again, ran %v", got)
	}
}

func TestSimulationClearsStaleSolution(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.c.ReplaceGeometry([]models.GeometryFile{stl("house.stl")})
	task, ok := h.c.RunEnvironment(ctx)
	await(t, task, ok)

	dir := h.c.Workspace().Dir()
	os.MkdirAll(filepath.Join(dir, "5"), 0755)
	os.MkdirAll(filepath.Join(dir, "processor0", "5"), 0755)

	task, ok = h.c.RunSimulation(ctx)
	await(t, task, ok)
	if _, err := os.Stat(filepath.Join(dir, "5")); !os.IsNotExist(err) {
		t.Error("stale time directory should be removed before solving")
	}
}

func TestSolutionTimeFollowsTimePrecision(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	p := h.c.Parameters()
	p.Duration = 0.1234567
	h.c.SetParameters(p)
	h.c.ReplaceGeometry([]models.GeometryFile{stl("house.stl")})
	task, ok := h.c.RunEnvironment(ctx)
	await(t, task, ok)

	dir := h.c.Workspace().Dir()
	os.MkdirAll(filepath.Join(dir, "0.123457"), 0755)
	os.MkdirAll(filepath.Join(dir, "processor0", "0.123457"), 0755)

	task, ok = h.c.RunSimulation(ctx)
	await(t, task, ok)
	if _, err := os.Stat(filepath.Join(dir, "0.123457")); !os.IsNotExist(err) {
		t.Error("stale 0.123457 directory should be removed before solving")
	}
	cmd, ok := h.sink.Last("showField")
	if !ok || cmd.View.SolutionTime != "0.123457" {
		t.Errorf("field should be shown at 0.123457: %+v", cmd)
	}
}

func TestEnvironmentGuards(t *testing.T) {
	h := newHarness(t, nil)

	if _, ok := h.c.RunEnvironment(context.Background()); ok {
		t.Error("environment should be refused without geometry")
	}
	if err := h.c.Readiness(scheduler.Environment); !errors.Is(err, ErrNoGeometry) {
		t.Errorf("expected ErrNoGeometry, got %v", err)
	}
	if st := h.c.Status().Stage(scheduler.Environment); st.RunID != "" {
		t.Errorf("refused request changed state: %+v", st)
	}

	p := h.c.Parameters()
	p.Outlet = p.Inlet
	if err := h.c.SetParameters(p); !errors.Is(err, models.ErrInvalidParameters) {
		t.Errorf("inlet == outlet should be rejected, got %v", err)
	}
	if h.c.Parameters().Outlet == h.c.Parameters().Inlet {
		t.Error("rejected parameters must not be stored")
	}
}

func TestRequestWhileRunningIsNoOp(t *testing.T) {
	h := newHarness(t, nil)
	h.run.block = make(chan struct{})
	h.run.blocked = make(chan struct{}, 1)
	h.c.ReplaceGeometry([]models.GeometryFile{stl("house.stl")})

	task, ok := h.c.RunEnvironment(context.Background())
	if !ok {
		t.Fatal("first request refused")
	}
	<-h.run.blocked

	before := h.c.Status().Stage(scheduler.Environment)
	if again, ok := h.c.RunEnvironment(context.Background()); ok || again != nil {
		t.Error("second request should be a no-op")
	}
	if after := h.c.Status().Stage(scheduler.Environment); after != before {
		t.Errorf("state changed:\n before %+v\n after  %+v", before, after)
	}
	if err := h.c.ReplaceGeometry([]models.GeometryFile{stl("shed.stl")}); !errors.Is(err, ErrStageBusy) {
		t.Errorf("geometry replacement while running should fail with ErrStageBusy, got %v", err)
	}
	if before.Progress != 27 {
		t.Errorf("progress before snapping = %d, want 27", before.Progress)
	}

	close(h.run.block)
	await(t, task, true)
}

func TestProcessFailureStopsStage(t *testing.T) {
	h := newHarness(t, nil)
	h.run.failTool = "blockMesh"
	h.c.ReplaceGeometry([]models.GeometryFile{stl("house.stl")})

	task, ok := h.c.RunEnvironment(context.Background())
	err := await(t, task, ok)

	var cmdErr *runner.CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Command.Name != "blockMesh" {
		t.Fatalf("expected blockMesh CommandError, got %v", err)
	}
	st := h.c.Status().Stage(scheduler.Environment)
	// render(1) + surfaceFeatures(4) + render(2)
	if st.Progress != 7 || st.Succeeded || st.LastError == "" {
		t.Errorf("unexpected state after failure %+v", st)
	}
	if got := h.run.tools(); !reflect.DeepEqual(got, []string{"surfaceFeatures", "blockMesh"}) {
		t.Errorf("commands after failure: %v", got)
	}
	// partial artifacts stay on disk
	if !strings.Contains(read(t, h.c, foam.BlockMeshDict), "inlet") {
		t.Error("rendered blockMeshDict should remain")
	}
	if _, ok := h.c.RunSimulation(context.Background()); ok {
		t.Error("simulation must not start after a failed environment")
	}
}

func brokenTemplate(t *testing.T, path string) fstest.MapFS {
	t.Helper()
	out := fstest.MapFS{}
	err := fsWalk(casetemplate.FS(), func(p string, data []byte) {
		out[p] = &fstest.MapFile{Data: data}
	})
	if err != nil {
		t.Fatal(err)
	}
	out[path] = &fstest.MapFile{Data: []byte("FoamFile\n{\n}\n")}
	return out
}

func TestTemplateFailureRunsNoCommand(t *testing.T) {
	h := newHarness(t, brokenTemplate(t, foam.BlockMeshDict))
	if err := h.c.TemplateError(); !errors.Is(err, foam.ErrMalformedTemplate) {
		t.Errorf("TemplateError = %v", err)
	}
	h.c.ReplaceGeometry([]models.GeometryFile{stl("house.stl")})

	task, ok := h.c.RunEnvironment(context.Background())
	err := await(t, task, ok)
	if !errors.Is(err, foam.ErrMalformedTemplate) {
		t.Fatalf("expected ErrMalformedTemplate, got %v", err)
	}
	if got := h.run.tools(); len(got) != 0 {
		t.Errorf("no command may run after a template failure, ran %v", got)
	}
	if st := h.c.Status().Stage(scheduler.Environment); st.Progress != 0 || st.Succeeded {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestEnvironmentNeedsFreeSpace(t *testing.T) {
	h := newHarness(t, nil)
	h.c.minFree = 1 << 62
	h.c.ReplaceGeometry([]models.GeometryFile{stl("house.stl")})

	task, ok := h.c.RunEnvironment(context.Background())
	err := await(t, task, ok)
	if !errors.Is(err, diskspace.ErrInsufficientSpace) {
		t.Fatalf("expected ErrInsufficientSpace, got %v", err)
	}
	if got := h.run.tools(); len(got) != 0 {
		t.Errorf("no command may run without free space, ran %v", got)
	}
}

func TestReplaceGeometry(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.c.ReplaceGeometry([]models.GeometryFile{stl("a.stl"), stl("b.stl")}); err != nil {
		t.Fatal(err)
	}
	if err := h.c.ReplaceGeometry([]models.GeometryFile{stl("b.stl"), stl("c.stl")}); err != nil {
		t.Fatal(err)
	}

	geomDir := h.c.Workspace().GeometryDir()
	if _, err := os.Stat(filepath.Join(geomDir, "a.stl")); !os.IsNotExist(err) {
		t.Error("a.stl should be removed")
	}
	for _, name := range []string{"b.stl", "c.stl"} {
		if _, err := os.Stat(filepath.Join(geomDir, name)); err != nil {
			t.Errorf("%s should exist: %v", name, err)
		}
	}
	proxies := h.c.Proxies()
	if len(proxies) != 2 || proxies[0].Name != "b" || proxies[1].Name != "c" {
		t.Errorf("expected one proxy per file, got %+v", proxies)
	}
	if cmd, ok := h.sink.Last("showGeometry"); !ok || len(cmd.Proxies) != 2 {
		t.Errorf("sink should show the new proxies: %+v", cmd)
	}

	if err := h.c.ReplaceGeometry([]models.GeometryFile{stl("x.stl"), stl("x.stl")}); err == nil {
		t.Error("duplicate names should be rejected")
	}
	if len(h.c.Geometry().Names()) != 2 {
		t.Error("a rejected set must not replace the stored one")
	}
}

func TestEmptyGeometryResets(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.c.ReplaceGeometry([]models.GeometryFile{stl("house.stl")})
	task, ok := h.c.RunEnvironment(ctx)
	await(t, task, ok)

	if err := h.c.ReplaceGeometry(nil); err != nil {
		t.Fatalf("ReplaceGeometry(nil): %v", err)
	}
	if _, ok := h.sink.Last("reset"); !ok {
		t.Error("visualization should be reset")
	}
	if len(h.c.Proxies()) != 0 {
		t.Error("proxies should be cleared")
	}
	if st := h.c.Status().Stage(scheduler.Environment); st.Succeeded {
		t.Error("environment should no longer be ready")
	}
	if _, ok := h.c.RunSimulation(ctx); ok {
		t.Error("simulation should be refused after geometry is cleared")
	}
}

func TestDomainChangeInvalidatesEnvironment(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.c.ReplaceGeometry([]models.GeometryFile{stl("house.stl")})
	task, ok := h.c.RunEnvironment(ctx)
	await(t, task, ok)

	p := h.c.Parameters()
	p.WindSpeed = 12
	h.c.SetParameters(p)
	if !h.c.Status().Stage(scheduler.Environment).Succeeded {
		t.Error("wind change should keep the mesh")
	}

	p.Inlet, p.Outlet = models.PatchLeft, models.PatchRight
	h.c.SetParameters(p)
	if h.c.Status().Stage(scheduler.Environment).Succeeded {
		t.Error("patch change should invalidate the mesh")
	}
}

func TestDomainChangeRefusedDuringSimulation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.c.ReplaceGeometry([]models.GeometryFile{stl("house.stl")})
	task, ok := h.c.RunEnvironment(ctx)
	await(t, task, ok)

	h.run.blockTool = "simpleFoam"
	h.run.block = make(chan struct{})
	h.run.blocked = make(chan struct{}, 1)
	task, ok = h.c.RunSimulation(ctx)
	if !ok {
		t.Fatal("simulation request refused")
	}
	<-h.run.blocked

	p := h.c.Parameters()
	p.Length = 50
	if err := h.c.SetParameters(p); !errors.Is(err, ErrStageBusy) {
		t.Errorf("domain change during simulation should fail with ErrStageBusy, got %v", err)
	}
	p = h.c.Parameters()
	p.WindSpeed = 9
	if err := h.c.SetParameters(p); err != nil {
		t.Errorf("wind change during simulation should be stored: %v", err)
	}

	close(h.run.block)
	if err := await(t, task, true); err != nil {
		t.Fatalf("simulation: %v", err)
	}
	if got := h.c.Parameters().Length; got != 5 {
		t.Errorf("length = %v, want 5", got)
	}
	st := h.c.Status()
	if !st.Stage(scheduler.Environment).Succeeded || !st.Stage(scheduler.Simulation).Succeeded {
		t.Errorf("both stages should stay succeeded: %+v", st.Stages)
	}
}

func TestUpdateParametersMerges(t *testing.T) {
	h := newHarness(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.c.UpdateParameters(func(p *models.CaseParameters) error {
				p.WindSpeed += 1
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			h.c.UpdateParameters(func(p *models.CaseParameters) error {
				p.Duration += 1
				return nil
			})
		}()
	}
	wg.Wait()

	p := h.c.Parameters()
	if p.WindSpeed != 25 || p.Duration != 25 {
		t.Errorf("wind speed %v, duration %v; want 25 and 25", p.WindSpeed, p.Duration)
	}
	err := h.c.UpdateParameters(func(p *models.CaseParameters) error {
		p.Outlet = p.Inlet
		return nil
	})
	if !errors.Is(err, models.ErrInvalidParameters) {
		t.Errorf("invalid update should fail validation, got %v", err)
	}
	if p := h.c.Parameters(); p.Inlet == p.Outlet {
		t.Error("rejected update should not be stored")
	}

	errDecode := errors.New("decode")
	err = h.c.UpdateParameters(func(p *models.CaseParameters) error {
		p.Length = 99
		return errDecode
	})
	if !errors.Is(err, errDecode) || h.c.Parameters().Length == 99 {
		t.Errorf("failed update should store nothing, got %v", err)
	}
}

func TestSetCutPlaneHeight(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.c.ReplaceGeometry([]models.GeometryFile{stl("house.stl")})
	task, ok := h.c.RunEnvironment(ctx)
	await(t, task, ok)
	task, ok = h.c.RunSimulation(ctx)
	await(t, task, ok)

	if err := h.c.SetCutPlaneHeight(2.5); err != nil {
		t.Fatal(err)
	}
	if cmd, ok := h.sink.Last("updateCutPlane"); !ok || cmd.Height != 2.5 {
		t.Errorf("sink should receive the new height: %+v", cmd)
	}
	if err := h.c.SetCutPlaneHeight(-1); err == nil {
		t.Error("negative height should be rejected")
	}
	h.c.SetCutPlaneHeight(0)
	if cmd, _ := h.sink.Last("updateCutPlane"); cmd.Height != h.c.Parameters().WindReferenceHeight {
		t.Errorf("zero should fall back to the wind reference height, got %v", cmd.Height)
	}
}
