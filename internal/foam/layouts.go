package foam

import "path"

// Artifact paths relative to the case directory.
const (
	SurfaceFeaturesDict = "system/surfaceFeaturesDict"
	BlockMeshDict       = "system/blockMeshDict"
	SnappyHexMeshDict   = "system/snappyHexMeshDict"
	DecomposeParDict    = "system/decomposeParDict"
	ControlDict         = "system/controlDict"
	ABLConditions       = "0/include/ABLConditions"
)

// Fields are the solution fields that carry one boundary stanza per geometry file.
var Fields = []string{"U", "p", "k", "epsilon", "nut"}

// FieldFile returns the artifact path of a field's initial conditions.
func FieldFile(field string) string {
	return path.Join("0", field)
}

// Anchor names shared by layouts and value builders.
const (
	anchorSurfaces   = "surfaces"
	anchorInlet      = "inlet"
	anchorOutlet     = "outlet"
	anchorSide0      = "side0"
	anchorSide1      = "side1"
	anchorBoundaries = "boundaries"
	anchorGeometry   = "geometry"
	anchorFeatures   = "features"
	anchorRefinement = "refinementSurfaces"
	anchorInside     = "insidePoint"
	anchorSubdomains = "numberOfSubdomains"
	anchorMethod     = "method"
	anchorEndTime    = "endTime"
	anchorWrite      = "writeInterval"
	anchorUref       = "Uref"
	anchorZref       = "Zref"
	anchorFlowDir    = "flowDir"
	anchorZ0         = "z0"
)

func vertexAnchor(i int) string {
	return "vertex" + string(rune('0'+i))
}

func blockMeshLayout() Layout {
	l := Layout{
		Fields: []Field{
			{Name: anchorInlet, Line: 46, Key: "(", Whole: true},
			{Name: anchorSide0, Line: 54, Key: "(", Whole: true},
			{Name: anchorSide1, Line: 55, Key: "(", Whole: true},
			{Name: anchorOutlet, Line: 63, Key: "(", Whole: true},
		},
	}
	for i := 0; i < 8; i++ {
		l.Fields = append(l.Fields, Field{Name: vertexAnchor(i), Line: 20 + i, Key: "(", Whole: true})
	}
	return l
}

// fieldBlocks holds the placeholder stanza range of each field file.
var fieldBlocks = map[string][2]int{
	"U":       {47, 51},
	"p":       {45, 49},
	"k":       {48, 53},
	"epsilon": {48, 53},
	"nut":     {48, 54},
}

func fieldLayout(field string) Layout {
	r := fieldBlocks[field]
	return Layout{
		Blocks: []Block{{Name: anchorBoundaries, Start: r[0], End: r[1], Key: "building"}},
	}
}

// Layouts returns the anchor layout of every rendered artifact keyed by path.
func Layouts() map[string]Layout {
	layouts := map[string]Layout{
		SurfaceFeaturesDict: {
			Blocks: []Block{{Name: anchorSurfaces, Start: 18, End: 19, Key: `"building.stl"`}},
		},
		BlockMeshDict: blockMeshLayout(),
		SnappyHexMeshDict: {
			Fields: []Field{{Name: anchorInside, Line: 63, Key: "insidePoint"}},
			Blocks: []Block{
				{Name: anchorGeometry, Start: 22, End: 27, Key: "building"},
				{Name: anchorFeatures, Start: 39, End: 43, Key: "{"},
				{Name: anchorRefinement, Start: 47, End: 55, Key: "building"},
			},
		},
		DecomposeParDict: {
			Fields: []Field{
				{Name: anchorSubdomains, Line: 16, Key: "numberOfSubdomains"},
				{Name: anchorMethod, Line: 18, Key: "method"},
			},
		},
		ControlDict: {
			Fields: []Field{
				{Name: anchorEndTime, Line: 24, Key: "endTime"},
				{Name: anchorWrite, Line: 30, Key: "writeInterval"},
			},
		},
		ABLConditions: {
			Fields: []Field{
				{Name: anchorUref, Line: 8, Key: "Uref"},
				{Name: anchorZref, Line: 9, Key: "Zref"},
				{Name: anchorFlowDir, Line: 11, Key: "flowDir"},
				{Name: anchorZ0, Line: 12, Key: "z0"},
			},
		},
	}
	for _, f := range Fields {
		layouts[FieldFile(f)] = fieldLayout(f)
	}
	return layouts
}
