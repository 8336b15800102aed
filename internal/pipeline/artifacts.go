package pipeline

import (
	"github.com/rescale/ventsim/internal/foam"
	"github.com/rescale/ventsim/internal/models"
)

// Artifact is a rendered case file.
type Artifact struct {
	Path    string
	Content []byte
}

// Artifacts is an ordered list of rendered case files.
type Artifacts []Artifact

// Get returns the content rendered for path.
func (a Artifacts) Get(path string) ([]byte, bool) {
	for _, art := range a {
		if art.Path == path {
			return art.Content, true
		}
	}
	return nil, false
}

// Decomposition is the domain decomposition a case is split with.
type Decomposition struct {
	Processors int
	Method     string
}

func render(engine *foam.Engine, out *Artifacts, path string, v foam.Values) error {
	text, err := engine.Render(path, v)
	if err != nil {
		return err
	}
	*out = append(*out, Artifact{Path: path, Content: []byte(text)})
	return nil
}

// RenderEnvironment renders every artifact the environment stage writes, in
// the order the stage writes them.
func RenderEnvironment(engine *foam.Engine, p models.CaseParameters, geometry models.GeometrySet, d Decomposition) (Artifacts, error) {
	var out Artifacts

	if err := render(engine, &out, foam.SurfaceFeaturesDict, foam.SurfaceFeaturesValues(geometry)); err != nil {
		return nil, err
	}

	bm, err := foam.BlockMeshValues(p)
	if err != nil {
		return nil, err
	}
	if err := render(engine, &out, foam.BlockMeshDict, bm); err != nil {
		return nil, err
	}
	for _, field := range foam.Fields {
		v, err := foam.FieldValues(field, geometry)
		if err != nil {
			return nil, err
		}
		if err := render(engine, &out, foam.FieldFile(field), v); err != nil {
			return nil, err
		}
	}

	if err := render(engine, &out, foam.SnappyHexMeshDict, foam.SnappyHexMeshValues(p, geometry)); err != nil {
		return nil, err
	}
	dv, err := foam.DecomposeValues(d.Processors, d.Method)
	if err != nil {
		return nil, err
	}
	if err := render(engine, &out, foam.DecomposeParDict, dv); err != nil {
		return nil, err
	}
	return out, nil
}

// RenderSimulation renders every artifact the simulation stage writes.
func RenderSimulation(engine *foam.Engine, p models.CaseParameters, d Decomposition) (Artifacts, error) {
	var out Artifacts

	abl, err := foam.ABLValues(p)
	if err != nil {
		return nil, err
	}
	if err := render(engine, &out, foam.ABLConditions, abl); err != nil {
		return nil, err
	}
	if err := render(engine, &out, foam.ControlDict, foam.ControlValues(p)); err != nil {
		return nil, err
	}
	dv, err := foam.DecomposeValues(d.Processors, d.Method)
	if err != nil {
		return nil, err
	}
	if err := render(engine, &out, foam.DecomposeParDict, dv); err != nil {
		return nil, err
	}
	return out, nil
}

// RenderAll renders the artifacts of both stages, later stages overriding
// earlier ones for shared paths.
func RenderAll(engine *foam.Engine, p models.CaseParameters, geometry models.GeometrySet, d Decomposition) (Artifacts, error) {
	env, err := RenderEnvironment(engine, p, geometry, d)
	if err != nil {
		return nil, err
	}
	sim, err := RenderSimulation(engine, p, d)
	if err != nil {
		return nil, err
	}
	out := make(Artifacts, 0, len(env)+len(sim))
	for _, a := range env {
		if _, dup := sim.Get(a.Path); !dup {
			out = append(out, a)
		}
	}
	return append(out, sim...), nil
}
