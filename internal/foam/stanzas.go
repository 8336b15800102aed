package foam

import (
	"strings"

	"github.com/rescale/ventsim/internal/models"
)

// Boundary condition entries written for a geometry patch, per field.
var wallConditions = map[string][]string{
	"U":       {"type            noSlip;"},
	"p":       {"type            zeroGradient;"},
	"k":       {"type            kqRWallFunction;", "value           $internalField;"},
	"epsilon": {"type            epsilonWallFunction;", "value           $internalField;"},
	"nut":     {"type            nutkAtmRoughWallFunction;", "z0              $z0;", "value           uniform 0;"},
}

// Surface refinement applied to every geometry file in snappyHexMeshDict.
const (
	featureLevel    = 1
	refinementLevel = "(2 3)"
)

func boundaryStanza(field, patch string) string {
	var sb strings.Builder
	sb.WriteString("    " + patch + "\n")
	sb.WriteString("    {\n")
	for _, entry := range wallConditions[field] {
		sb.WriteString("        " + entry + "\n")
	}
	sb.WriteString("    }\n")
	return sb.String()
}

func surfaceEntry(g models.GeometryFile) string {
	return `    "` + g.Name + `"` + "\n"
}

func geometryStanza(g models.GeometryFile) string {
	return "    " + g.Stem() + "\n" +
		"    {\n" +
		"        type triSurfaceMesh;\n" +
		`        file "` + g.Name + `";` + "\n" +
		"    }\n"
}

func featureStanza(g models.GeometryFile) string {
	return "        {\n" +
		`            file "` + g.Stem() + `.eMesh";` + "\n" +
		"            level " + models.FormatNumber(featureLevel) + ";\n" +
		"        }\n"
}

func refinementStanza(g models.GeometryFile) string {
	return "        " + g.Stem() + "\n" +
		"        {\n" +
		"            level " + refinementLevel + ";\n" +
		"            patchInfo\n" +
		"            {\n" +
		"                type wall;\n" +
		"            }\n" +
		"        }\n"
}

func perFile(files []models.GeometryFile, stanza func(models.GeometryFile) string) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = stanza(f)
	}
	return out
}
