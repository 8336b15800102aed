package casefile

import (
	"bytes"
	"text/template"

	"github.com/rescale/ventsim/internal/models"
)

var exampleTemplate = template.Must(template.New("case").Parse(`# ventsim case file
#
# Every key is optional; left-out keys keep the values shown here.

domain:
  # extent of the box around the geometry, in metres
  length: {{.Length}}
  width: {{.Width}}
  height: {{.Height}}

patches:
  # front, back, left or right; inlet and outlet must differ
  inlet: {{.Inlet}}
  outlet: {{.Outlet}}

wind:
  speed: {{.WindSpeed}}
  referenceHeight: {{.WindReferenceHeight}}

# open, negligible, minimal, occasional, scattered, large, homogeneous, varying
landscape: {{.Landscape}}

simulation:
  # end time of the steady solver run
  duration: {{.Duration}}

# surface files, relative to this file
geometry:{{if not .Geometry}} []{{end}}
{{- range .Geometry}}
  - {{.}}
{{- end}}
`))

// Example returns a commented case document holding the default parameters
// and the given geometry paths.
func Example(geometry ...string) []byte {
	p := models.DefaultParameters()
	data := struct {
		Length, Width, Height          string
		Inlet, Outlet                  models.Patch
		WindSpeed, WindReferenceHeight string
		Landscape                      string
		Duration                       string
		Geometry                       []string
	}{
		Length:              models.FormatNumber(p.Length),
		Width:               models.FormatNumber(p.Width),
		Height:              models.FormatNumber(p.Height),
		Inlet:               p.Inlet,
		Outlet:              p.Outlet,
		WindSpeed:           models.FormatNumber(p.WindSpeed),
		WindReferenceHeight: models.FormatNumber(p.WindReferenceHeight),
		Landscape:           p.Landscape.String(),
		Duration:            models.FormatNumber(p.Duration),
		Geometry:            geometry,
	}

	var buf bytes.Buffer
	if err := exampleTemplate.Execute(&buf, data); err != nil {
		// fixed template over plain strings
		panic(err)
	}
	return buf.Bytes()
}
