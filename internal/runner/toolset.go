package runner

import (
	"strconv"

	"github.com/rescale/ventsim/internal/constants"
)

// Toolset names the executables a case runs and how parallel tools are launched.
type Toolset struct {
	Launcher           string
	Processors         int
	SurfaceFeatures    string
	BlockMesh          string
	DecomposePar       string
	SnappyHexMesh      string
	ReconstructParMesh string
	Solver             string
	ReconstructPar     string
	ParaFoam           string
}

// DefaultToolset returns the stock OpenFOAM tool names.
func DefaultToolset() Toolset {
	return Toolset{
		Launcher:           constants.DefaultLauncher,
		Processors:         constants.DefaultProcessors,
		SurfaceFeatures:    "surfaceFeatures",
		BlockMesh:          "blockMesh",
		DecomposePar:       "decomposePar",
		SnappyHexMesh:      "snappyHexMesh",
		ReconstructParMesh: "reconstructParMesh",
		Solver:             "simpleFoam",
		ReconstructPar:     "reconstructPar",
		ParaFoam:           "paraFoam",
	}
}

func (t Toolset) parallel(app string, args ...string) Command {
	full := append([]string{"-np", strconv.Itoa(t.Processors), app}, args...)
	return Command{Name: t.Launcher, Args: full}
}

// ExtractFeatures runs surfaceFeatures.
func (t Toolset) ExtractFeatures() Command { return Command{Name: t.SurfaceFeatures} }

// MeshBlock runs blockMesh.
func (t Toolset) MeshBlock() Command { return Command{Name: t.BlockMesh} }

// Decompose runs decomposePar -force.
func (t Toolset) Decompose() Command {
	return Command{Name: t.DecomposePar, Args: []string{"-force"}}
}

// Snap runs snappyHexMesh in parallel, overwriting the base mesh.
func (t Toolset) Snap() Command {
	return t.parallel(t.SnappyHexMesh, "-parallel", "-overwrite")
}

// ReconstructMesh runs reconstructParMesh -constant.
func (t Toolset) ReconstructMesh() Command {
	return Command{Name: t.ReconstructParMesh, Args: []string{"-constant"}}
}

// Solve runs the flow solver in parallel.
func (t Toolset) Solve() Command {
	return t.parallel(t.Solver, "-parallel")
}

// ReconstructFields runs reconstructPar.
func (t Toolset) ReconstructFields() Command { return Command{Name: t.ReconstructPar} }

// Touch runs paraFoam -builtin -touch, which writes <case>.foam for readers.
func (t Toolset) Touch() Command {
	return Command{Name: t.ParaFoam, Args: []string{"-builtin", "-touch"}}
}
