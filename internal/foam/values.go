package foam

import (
	"fmt"
	"strconv"

	"github.com/rescale/ventsim/internal/models"
)

// insideFraction places the snappyHexMesh seed point near the upper corner of
// the domain, away from geometry standing on the ground in the middle.
const insideFraction = 0.9

// SurfaceFeaturesValues lists every geometry file for feature extraction.
func SurfaceFeaturesValues(geometry models.GeometrySet) Values {
	return Values{
		Blocks: map[string][]string{anchorSurfaces: perFile(geometry.Files(), surfaceEntry)},
	}
}

// BlockMeshValues fills in the box vertices and the patch faces.
func BlockMeshValues(p models.CaseParameters) (Values, error) {
	sides := p.SidePatches()
	if !p.Inlet.Valid() || !p.Outlet.Valid() || len(sides) != 2 {
		return Values{}, fmt.Errorf("inlet %q and outlet %q do not leave two side patches", p.Inlet, p.Outlet)
	}

	fields := map[string]string{
		anchorInlet:  p.Inlet.FaceString(),
		anchorOutlet: p.Outlet.FaceString(),
		anchorSide0:  sides[0].FaceString(),
		anchorSide1:  sides[1].FaceString(),
	}
	for i, v := range models.BoxVertices(p.Length, p.Width, p.Height) {
		fields[vertexAnchor(i)] = v.Foam()
	}
	return Values{Fields: fields}, nil
}

// FieldValues emits one wall stanza per geometry file for a solution field.
func FieldValues(field string, geometry models.GeometrySet) (Values, error) {
	if _, ok := wallConditions[field]; !ok {
		return Values{}, fmt.Errorf("no wall condition for field %q", field)
	}
	files := geometry.Files()
	stanzas := make([]string, len(files))
	for i, f := range files {
		stanzas[i] = boundaryStanza(field, f.Stem())
	}
	return Values{Blocks: map[string][]string{anchorBoundaries: stanzas}}, nil
}

// SnappyHexMeshValues fills the geometry, feature and refinement sections.
func SnappyHexMeshValues(p models.CaseParameters, geometry models.GeometrySet) Values {
	files := geometry.Files()
	inside := models.Vector{
		X: -p.Length * insideFraction,
		Y: -p.Width * insideFraction,
		Z: p.Height * insideFraction,
	}
	return Values{
		Fields: map[string]string{anchorInside: inside.Foam()},
		Blocks: map[string][]string{
			anchorGeometry:   perFile(files, geometryStanza),
			anchorFeatures:   perFile(files, featureStanza),
			anchorRefinement: perFile(files, refinementStanza),
		},
	}
}

// DecomposeValues sets the subdomain count and decomposition method.
func DecomposeValues(processors int, method string) (Values, error) {
	if processors < 1 {
		return Values{}, fmt.Errorf("processor count must be at least 1, got %d", processors)
	}
	if method == "" {
		return Values{}, fmt.Errorf("decomposition method is empty")
	}
	return Values{Fields: map[string]string{
		anchorSubdomains: strconv.Itoa(processors),
		anchorMethod:     method,
	}}, nil
}

// ControlValues sets the end time and write interval to the run duration.
func ControlValues(p models.CaseParameters) Values {
	d := models.FormatNumber(p.Duration)
	return Values{Fields: map[string]string{
		anchorEndTime: d,
		anchorWrite:   d,
	}}
}

// ABLValues sets the atmospheric boundary layer inputs.
func ABLValues(p models.CaseParameters) (Values, error) {
	dir, ok := p.FlowDirection()
	if !ok {
		return Values{}, fmt.Errorf("no flow direction for inlet %q and outlet %q", p.Inlet, p.Outlet)
	}
	return Values{Fields: map[string]string{
		anchorUref:    models.FormatNumber(p.WindSpeed),
		anchorZref:    models.FormatNumber(p.WindReferenceHeight),
		anchorFlowDir: dir.Foam(),
		anchorZ0:      "uniform " + models.FormatNumber(p.Roughness()),
	}}, nil
}
