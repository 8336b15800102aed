// Package viz defines the visualization sink the pipeline hands its results
// to. A sink only displays; nothing it returns affects a stage's outcome.
package viz

import (
	"errors"
	"sync"

	"github.com/rescale/ventsim/internal/models"
)

const (
	// GeometryOpacity is applied to geometry proxies shown alongside results.
	GeometryOpacity = 0.25
	// MeshOpacity is applied to the meshed domain after the environment stage.
	MeshOpacity = 0.3
	// DefaultField is the field displayed after a simulation.
	DefaultField = "U"
)

// Proxy is the render handle for one geometry file.
type Proxy struct {
	Name    string  `json:"name"`
	Path    string  `json:"path"`
	Opacity float64 `json:"opacity"`
}

// FieldView describes a solved field on a horizontal cut plane.
type FieldView struct {
	CasePath       string        `json:"casePath"`
	Field          string        `json:"field"`
	SolutionTime   string        `json:"solutionTime"`
	CutPlaneHeight float64       `json:"cutPlaneHeight"`
	Normal         models.Vector `json:"normal"`
	Geometry       []Proxy       `json:"geometry,omitempty"`
}

// Sink receives display commands.
type Sink interface {
	ShowGeometry(proxies []Proxy) error
	ShowMesh(casePath string) error
	ShowField(view FieldView) error
	UpdateCutPlane(height float64) error
	Reset() error
}

// Proxies builds one proxy per geometry file, in set order.
func Proxies(set models.GeometrySet, paths []string) []Proxy {
	files := set.Files()
	out := make([]Proxy, 0, len(files))
	for i, f := range files {
		p := Proxy{Name: f.Stem(), Opacity: GeometryOpacity}
		if i < len(paths) {
			p.Path = paths[i]
		}
		out = append(out, p)
	}
	return out
}

// Multi forwards every command to each sink and joins their errors.
type Multi []Sink

func (m Multi) ShowGeometry(proxies []Proxy) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.ShowGeometry(proxies))
	}
	return errors.Join(errs...)
}

func (m Multi) ShowMesh(casePath string) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.ShowMesh(casePath))
	}
	return errors.Join(errs...)
}

func (m Multi) ShowField(view FieldView) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.ShowField(view))
	}
	return errors.Join(errs...)
}

func (m Multi) UpdateCutPlane(height float64) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.UpdateCutPlane(height))
	}
	return errors.Join(errs...)
}

func (m Multi) Reset() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Reset())
	}
	return errors.Join(errs...)
}

// Command is one call recorded by a Recorder.
type Command struct {
	Name     string
	Proxies  []Proxy
	CasePath string
	View     FieldView
	Height   float64
}

// Recorder is a Sink that remembers every command it receives.
type Recorder struct {
	mu       sync.Mutex
	commands []Command
}

func (r *Recorder) record(c Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, c)
	return nil
}

func (r *Recorder) ShowGeometry(proxies []Proxy) error {
	return r.record(Command{Name: "showGeometry", Proxies: append([]Proxy(nil), proxies...)})
}

func (r *Recorder) ShowMesh(casePath string) error {
	return r.record(Command{Name: "showMesh", CasePath: casePath})
}

func (r *Recorder) ShowField(view FieldView) error {
	return r.record(Command{Name: "showField", View: view, Height: view.CutPlaneHeight})
}

func (r *Recorder) UpdateCutPlane(height float64) error {
	return r.record(Command{Name: "updateCutPlane", Height: height})
}

func (r *Recorder) Reset() error {
	return r.record(Command{Name: "reset"})
}

// Commands returns a copy of the recorded commands.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// Last returns the most recent command with the given name.
func (r *Recorder) Last(name string) (Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.commands) - 1; i >= 0; i-- {
		if r.commands[i].Name == name {
			return r.commands[i], true
		}
	}
	return Command{}, false
}
