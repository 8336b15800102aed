package viz

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rescale/ventsim/internal/events"
	"github.com/rescale/ventsim/internal/models"
)

func TestProxiesOnePerFile(t *testing.T) {
	set, err := models.NewGeometrySet([]models.GeometryFile{
		{Name: "house.stl", Content: []byte("solid")},
		{Name: "shed.obj", Content: []byte("o")},
	})
	if err != nil {
		t.Fatal(err)
	}
	proxies := Proxies(set, []string{"/c/house.stl", "/c/shed.obj"})
	if len(proxies) != 2 {
		t.Fatalf("expected 2 proxies, got %d", len(proxies))
	}
	if proxies[0].Name != "house" || proxies[1].Path != "/c/shed.obj" || proxies[0].Opacity != GeometryOpacity {
		t.Errorf("unexpected proxies %+v", proxies)
	}
	if got := Proxies(models.GeometrySet{}, nil); len(got) != 0 {
		t.Errorf("empty set should give no proxies, got %v", got)
	}
}

type failingSink struct{ Recorder }

func (f *failingSink) Reset() error { return errors.New("viewer gone") }

func TestMultiForwardsAndJoinsErrors(t *testing.T) {
	a := &Recorder{}
	b := &failingSink{}
	m := Multi{a, b}

	m.ShowMesh("/case/c.foam")
	if err := m.Reset(); err == nil || !strings.Contains(err.Error(), "viewer gone") {
		t.Errorf("expected joined error, got %v", err)
	}
	if err := m.UpdateCutPlane(3); err != nil {
		t.Errorf("UpdateCutPlane: %v", err)
	}
	if len(a.Commands()) != 3 {
		t.Errorf("recorder saw %d commands", len(a.Commands()))
	}
	if c, ok := b.Last("showMesh"); !ok || c.CasePath != "/case/c.foam" {
		t.Errorf("second sink missed ShowMesh: %+v", c)
	}
}

func TestEventSinkPublishes(t *testing.T) {
	bus := events.NewEventBus(8)
	defer bus.Close()
	ch := bus.Subscribe(events.EventVisualization)

	s := NewEventSink(bus, nil)
	s.ShowField(FieldView{Field: "U", SolutionTime: "5", CutPlaneHeight: 2.5, Geometry: []Proxy{{Name: "house"}}})

	e := (<-ch).(*events.VisualizationEvent)
	if e.Command != "showField" || e.Field != "U" || e.CutPlaneHeight != 2.5 || len(e.Proxies) != 1 {
		t.Errorf("unexpected event %+v", e)
	}
}

func TestScriptSink(t *testing.T) {
	dir := t.TempDir()
	s := NewScriptSink(dir)

	s.ShowGeometry([]Proxy{{Name: "house", Path: "/c/constant/triSurface/house.stl", Opacity: GeometryOpacity}})
	s.ShowField(FieldView{CasePath: "/c/c.foam", Field: "U", SolutionTime: "5", CutPlaneHeight: 5})

	data, err := os.ReadFile(filepath.Join(dir, ScriptName))
	if err != nil {
		t.Fatalf("script not written: %v", err)
	}
	script := string(data)
	for _, want := range []string{
		`simple.STLReader(FileNames=["/c/constant/triSurface/house.stl"])`,
		"display.Opacity = 0.25",
		`simple.OpenFOAMReader(FileName="/c/c.foam")`,
		"cut.SliceType.Origin = [0.0, 0.0, 5]",
		`simple.ColorBy(display, ('POINTS', "U", 'Magnitude'))`,
		"AnimationTime = 5",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q:\n%s", want, script)
		}
	}

	s.UpdateCutPlane(1.5)
	data, _ = os.ReadFile(s.Path())
	if !strings.Contains(string(data), "Origin = [0.0, 0.0, 1.5]") {
		t.Errorf("cut plane not updated:\n%s", data)
	}

	s.Reset()
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Error("Reset should remove the script")
	}
}
