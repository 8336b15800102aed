package viz

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/template"
)

// ScriptName is the ParaView Python script a ScriptSink keeps in the case.
const ScriptName = "view.py"

var viewScript = template.Must(template.New(ScriptName).Parse(`# Generated by ventsim. Open with: pvpython {{.Script}}
from paraview import simple

view = simple.GetActiveViewOrCreate('RenderView')
{{range $i, $p := .Geometry}}
geometry{{$i}} = simple.STLReader(FileNames=[{{printf "%q" $p.Path}}])
display = simple.Show(geometry{{$i}}, view, 'GeometryRepresentation')
display.Opacity = {{$p.Opacity}}
{{end}}
{{- if .CasePath}}
case = simple.OpenFOAMReader(FileName={{printf "%q" .CasePath}})
{{- if .Field}}
{{- if .SolutionTime}}
simple.GetAnimationScene().AnimationTime = {{.SolutionTime}}
{{- end}}
cut = simple.Slice(Input=case)
cut.SliceType = 'Plane'
cut.SliceType.Origin = [0.0, 0.0, {{.Height}}]
cut.SliceType.Normal = [0.0, 0.0, 1.0]
display = simple.Show(cut, view, 'GeometryRepresentation')
simple.ColorBy(display, ('POINTS', {{printf "%q" .Field}}, 'Magnitude'))
display.RescaleTransferFunctionToDataRange(True, False)
display.SetScalarBarVisibility(view, True)
{{- else}}
display = simple.Show(case, view)
display.Opacity = {{.MeshOpacity}}
{{- end}}
{{- end}}

view.ResetCamera()
simple.Render()
`))

type scriptState struct {
	Script       string
	Geometry     []Proxy
	CasePath     string
	Field        string
	SolutionTime string
	Height       float64
	MeshOpacity  float64
}

// ScriptSink keeps a pvpython script in dir that reproduces the current view.
type ScriptSink struct {
	dir   string
	mu    sync.Mutex
	state scriptState
}

// NewScriptSink creates a sink writing dir/view.py.
func NewScriptSink(dir string) *ScriptSink {
	return &ScriptSink{
		dir:   dir,
		state: scriptState{Script: filepath.Join(dir, ScriptName), MeshOpacity: MeshOpacity},
	}
}

// Path returns the script location.
func (s *ScriptSink) Path() string { return s.state.Script }

func (s *ScriptSink) write() error {
	var buf bytes.Buffer
	if err := viewScript.Execute(&buf, s.state); err != nil {
		return fmt.Errorf("failed to render view script: %w", err)
	}
	if len(s.state.Geometry) == 0 && s.state.CasePath == "" {
		if err := os.Remove(s.state.Script); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	if err := os.WriteFile(s.state.Script, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write view script: %w", err)
	}
	return nil
}

func (s *ScriptSink) ShowGeometry(proxies []Proxy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Geometry = append([]Proxy(nil), proxies...)
	s.state.CasePath, s.state.Field = "", ""
	return s.write()
}

func (s *ScriptSink) ShowMesh(casePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CasePath = casePath
	s.state.Field = ""
	return s.write()
}

func (s *ScriptSink) ShowField(view FieldView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if view.Geometry != nil {
		s.state.Geometry = append([]Proxy(nil), view.Geometry...)
	}
	s.state.CasePath = view.CasePath
	s.state.Field = view.Field
	s.state.SolutionTime = view.SolutionTime
	s.state.Height = view.CutPlaneHeight
	return s.write()
}

func (s *ScriptSink) UpdateCutPlane(height float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Height = height
	if s.state.Field == "" {
		return nil
	}
	return s.write()
}

func (s *ScriptSink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = scriptState{Script: s.state.Script, MeshOpacity: MeshOpacity}
	return s.write()
}
