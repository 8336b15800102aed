package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Landscape is the terrain class the wind profile is computed for.
type Landscape int

const (
	LandscapeOpen Landscape = iota
	LandscapeNegligible
	LandscapeMinimal
	LandscapeOccasional
	LandscapeScattered
	LandscapeLarge
	LandscapeHomogeneous
	LandscapeVarying
)

var landscapeNames = [...]string{
	"open",
	"negligible",
	"minimal",
	"occasional",
	"scattered",
	"large",
	"homogeneous",
	"varying",
}

// Aerodynamic roughness length z0 in metres, indexed by Landscape.
var roughnessTable = [...]float64{0.0002, 0.005, 0.03, 0.10, 0.25, 0.5, 1.0, 2.0}

// Valid reports whether l is a known landscape class.
func (l Landscape) Valid() bool {
	return l >= LandscapeOpen && l <= LandscapeVarying
}

func (l Landscape) String() string {
	if !l.Valid() {
		return "landscape(" + strconv.Itoa(int(l)) + ")"
	}
	return landscapeNames[l]
}

// Roughness returns z0 for the landscape, or 0 for an unknown class.
func (l Landscape) Roughness() float64 {
	if !l.Valid() {
		return 0
	}
	return roughnessTable[l]
}

// ParseLandscape accepts a class name or its ordinal.
func ParseLandscape(s string) (Landscape, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "occassional" {
		s = "occasional"
	}
	for i, name := range landscapeNames {
		if s == name {
			return Landscape(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Landscape(n).Valid() {
		return Landscape(n), nil
	}
	return 0, fmt.Errorf("unknown landscape %q", s)
}

// MarshalText encodes the landscape by name for JSON and YAML.
func (l Landscape) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("unknown landscape %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText decodes a landscape name or ordinal.
func (l *Landscape) UnmarshalText(b []byte) error {
	v, err := ParseLandscape(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Vector is a 3-component direction or position.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Foam formats the vector as an OpenFOAM tuple, e.g. "(0 -1 0)".
func (v Vector) Foam() string {
	return "(" + FormatNumber(v.X) + " " + FormatNumber(v.Y) + " " + FormatNumber(v.Z) + ")"
}

// FormatNumber renders v in the shortest form that round-trips, without
// exponent notation for ordinary case dimensions.
func FormatNumber(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// TimePrecision matches timePrecision in the shipped controlDict.
const TimePrecision = 6

// TimeName returns the directory name OpenFOAM writes time t under with
// timeFormat general, e.g. "0.123457" for 0.1234567 and "1e+06" for 1e6.
func TimeName(t float64) string {
	return strconv.FormatFloat(t, 'g', TimePrecision, 64)
}

// Face returns the block vertex indices of the patch in the order
// blockMeshDict expects.
func (p Patch) Face() [4]int {
	switch p {
	case PatchFront:
		return [4]int{0, 1, 5, 4}
	case PatchBack:
		return [4]int{3, 7, 6, 2}
	case PatchLeft:
		return [4]int{0, 4, 7, 3}
	case PatchRight:
		return [4]int{1, 2, 6, 5}
	}
	return [4]int{}
}

// FaceString formats the patch face as "(a b c d)".
func (p Patch) FaceString() string {
	f := p.Face()
	return fmt.Sprintf("(%d %d %d %d)", f[0], f[1], f[2], f[3])
}

// Compass of the direction table: the flow direction of a pair is the
// normalized step from the inlet's entry to the outlet's, so back to front
// is (0 1 0) and front to back is (0 -1 0). These are table coordinates,
// not the patch faces of the block: Face puts front at y = -width.
var patchPosition = map[Patch][2]float64{
	PatchFront: {0, 1},
	PatchBack:  {0, -1},
	PatchLeft:  {-1, 0},
	PatchRight: {1, 0},
}

const diagonal = 0.707107

var flowTable = buildFlowTable()

func buildFlowTable() map[[2]Patch]Vector {
	table := make(map[[2]Patch]Vector, 12)
	for _, in := range Patches {
		for _, out := range Patches {
			if in == out {
				continue
			}
			a, b := patchPosition[in], patchPosition[out]
			dx, dy := b[0]-a[0], b[1]-a[1]
			table[[2]Patch{in, out}] = Vector{X: unit(dx, dy), Y: unit(dy, dx)}
		}
	}
	return table
}

// unit normalizes one ground-plane component to 0, ±1 or ±0.707107.
func unit(c, other float64) float64 {
	switch {
	case c == 0:
		return 0
	case other == 0:
		return math.Copysign(1, c)
	default:
		return math.Copysign(diagonal, c)
	}
}

// FlowDirection returns the unit wind direction for an inlet/outlet pair.
// The boolean is false when the pair is invalid or identical.
func FlowDirection(inlet, outlet Patch) (Vector, bool) {
	v, ok := flowTable[[2]Patch{inlet, outlet}]
	return v, ok
}

// BoxVertices returns the eight corners of the domain box in blockMeshDict
// vertex order: the ground rectangle counter-clockwise, then the same at height.
func BoxVertices(length, width, height float64) [8]Vector {
	x, y, z := length, width, height
	return [8]Vector{
		{-x, -y, 0}, {x, -y, 0}, {x, y, 0}, {-x, y, 0},
		{-x, -y, z}, {x, -y, z}, {x, y, z}, {-x, y, z},
	}
}
