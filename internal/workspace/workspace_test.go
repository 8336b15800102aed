package workspace

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/rescale/ventsim/internal/models"
)

func templateFS() fstest.MapFS {
	return fstest.MapFS{
		"system/controlDict":      {Data: []byte("endTime 5;\n")},
		"0/U":                     {Data: []byte("U\n")},
		"0/include/ABLConditions": {Data: []byte("Uref 10;\n")},
	}
}

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	w, err := New(templateFS(), Options{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func set(t *testing.T, files ...models.GeometryFile) models.GeometrySet {
	t.Helper()
	s, err := models.NewGeometrySet(files)
	if err != nil {
		t.Fatalf("NewGeometrySet: %v", err)
	}
	return s
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestNewSeedsTemplate(t *testing.T) {
	w := newWorkspace(t)

	data, err := w.ReadArtifact("system/controlDict")
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	if string(data) != "endTime 5;\n" {
		t.Errorf("unexpected seeded content %q", data)
	}
	if info, err := os.Stat(w.GeometryDir()); err != nil || !info.IsDir() {
		t.Errorf("geometry directory missing: %v", err)
	}
	if filepath.Base(w.FoamPath()) != w.Name()+".foam" {
		t.Errorf("unexpected foam path %s", w.FoamPath())
	}
}

func TestWriteArtifact(t *testing.T) {
	w := newWorkspace(t)

	if err := w.WriteArtifact("system/controlDict", []byte("endTime 9;\n")); err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}
	data, _ := w.ReadArtifact("system/controlDict")
	if string(data) != "endTime 9;\n" {
		t.Errorf("artifact not replaced: %q", data)
	}
	if _, err := os.Stat(filepath.Join(w.Dir(), "system", "controlDict.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	if err := w.WriteArtifact("../escape", []byte("x")); err == nil {
		t.Error("expected error for path outside the case")
	}
}

func TestReplaceGeometryDiffAndPrune(t *testing.T) {
	w := newWorkspace(t)

	a := models.GeometryFile{Name: "a.stl", Content: []byte("solid a")}
	b := models.GeometryFile{Name: "b.stl", Content: []byte("solid b")}
	c := models.GeometryFile{Name: "c.stl", Content: []byte("solid c")}

	if _, err := w.ReplaceGeometry(set(t, a, b)); err != nil {
		t.Fatalf("ReplaceGeometry: %v", err)
	}
	// feature edges extracted from a and b by a previous run
	for _, name := range []string{"a.eMesh", "b.eMesh"} {
		os.WriteFile(filepath.Join(w.GeometryDir(), name), []byte("edges"), 0644)
	}
	bPath := filepath.Join(w.GeometryDir(), "b.stl")
	old := time.Now().Add(-time.Hour)
	os.Chtimes(bPath, old, old)

	change, err := w.ReplaceGeometry(set(t, b, c))
	if err != nil {
		t.Fatalf("ReplaceGeometry: %v", err)
	}

	want := []string{"b.eMesh", "b.stl", "c.stl"}
	if got := listDir(t, w.GeometryDir()); !reflect.DeepEqual(got, want) {
		t.Errorf("geometry dir = %v, want %v", got, want)
	}

	sort.Strings(change.Removed)
	if !reflect.DeepEqual(change.Removed, []string{"a.eMesh", "a.stl"}) {
		t.Errorf("Removed = %v", change.Removed)
	}
	if !reflect.DeepEqual(change.Written, []string{"c.stl"}) {
		t.Errorf("Written = %v", change.Written)
	}
	if !reflect.DeepEqual(change.Unchanged, []string{"b.stl"}) {
		t.Errorf("Unchanged = %v", change.Unchanged)
	}

	info, err := os.Stat(bPath)
	if err != nil {
		t.Fatalf("stat b.stl: %v", err)
	}
	if !info.ModTime().Equal(old) {
		t.Error("unchanged file was rewritten")
	}
}

func TestReplaceGeometryRewritesChangedContent(t *testing.T) {
	w := newWorkspace(t)

	w.ReplaceGeometry(set(t, models.GeometryFile{Name: "a.stl", Content: []byte("v1")}))
	change, err := w.ReplaceGeometry(set(t, models.GeometryFile{Name: "a.stl", Content: []byte("v2")}))
	if err != nil {
		t.Fatalf("ReplaceGeometry: %v", err)
	}
	if !reflect.DeepEqual(change.Written, []string{"a.stl"}) {
		t.Errorf("Written = %v", change.Written)
	}
	data, _ := os.ReadFile(filepath.Join(w.GeometryDir(), "a.stl"))
	if string(data) != "v2" {
		t.Errorf("content = %q", data)
	}
}

func TestReplaceGeometryEmptyClearsAll(t *testing.T) {
	w := newWorkspace(t)

	w.ReplaceGeometry(set(t, models.GeometryFile{Name: "a.stl", Content: []byte("x")}))
	os.MkdirAll(filepath.Join(w.Dir(), "constant", "extendedFeatureEdgeMesh"), 0755)

	change, err := w.ReplaceGeometry(models.GeometrySet{})
	if err != nil {
		t.Fatalf("ReplaceGeometry: %v", err)
	}
	if !change.Changed() {
		t.Error("clearing geometry should report a change")
	}
	if got := listDir(t, w.GeometryDir()); len(got) != 0 {
		t.Errorf("geometry dir should be empty, has %v", got)
	}
	if _, err := os.Stat(filepath.Join(w.Dir(), "constant", "extendedFeatureEdgeMesh")); !os.IsNotExist(err) {
		t.Error("feature edge directory should be removed")
	}
}

func mkdirs(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.MkdirAll(filepath.Join(root, n), 0755); err != nil {
			t.Fatal(err)
		}
	}
}

func TestClearMeshHistory(t *testing.T) {
	w := newWorkspace(t)
	mkdirs(t, w.Dir(), "processor0/5", "processor11", "5", "0.5", "processorX")

	if err := w.ClearMeshHistory(); err != nil {
		t.Fatalf("ClearMeshHistory: %v", err)
	}
	got := listDir(t, w.Dir())
	want := []string{"0", "constant", "processorX", "system"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("case dir = %v, want %v", got, want)
	}
}

func TestClearSolution(t *testing.T) {
	w := newWorkspace(t)
	mkdirs(t, w.Dir(), "processor0/5", "processor0/constant", "processor1/5", "5", "10")

	if err := w.ClearSolution("5"); err != nil {
		t.Fatalf("ClearSolution: %v", err)
	}
	for _, gone := range []string{"5", "processor0/5", "processor1/5"} {
		if _, err := os.Stat(filepath.Join(w.Dir(), gone)); !os.IsNotExist(err) {
			t.Errorf("%s should be removed", gone)
		}
	}
	for _, kept := range []string{"10", "processor0/constant", "0"} {
		if _, err := os.Stat(filepath.Join(w.Dir(), kept)); err != nil {
			t.Errorf("%s should be kept: %v", kept, err)
		}
	}
	if !w.HasDecomposition() {
		t.Error("processor directories should survive")
	}

	for _, bad := range []string{"0", "", "..", "system"} {
		if err := w.ClearSolution(bad); err == nil {
			t.Errorf("ClearSolution(%q) should fail", bad)
		}
	}
}

func TestCloseRemovesDirectory(t *testing.T) {
	w, err := New(templateFS(), Options{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dir := w.Dir()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("case directory should be removed")
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close should be a no-op: %v", err)
	}
	if err := w.WriteArtifact("system/controlDict", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestCloseKeep(t *testing.T) {
	w, err := New(templateFS(), Options{Root: t.TempDir(), Keep: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.Close()
	if _, err := os.Stat(w.Dir()); err != nil {
		t.Errorf("kept case directory should exist: %v", err)
	}
}

func TestArchive(t *testing.T) {
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not available")
	}
	w := newWorkspace(t)
	mkdirs(t, w.Dir(), "processor0")

	out := filepath.Join(t.TempDir(), "case.tar.gz")
	if err := w.Archive(context.Background(), out, "gzip"); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		t.Errorf("archive missing or empty: %v", err)
	}

	list, err := exec.Command("tar", "-tzf", out).Output()
	if err != nil {
		t.Fatalf("tar -t: %v", err)
	}
	if got := string(list); !containsLine(got, w.Name()+"/system/controlDict") {
		t.Errorf("archive should contain controlDict:\n%s", got)
	}
	if containsPrefix(string(list), w.Name()+"/processor0") {
		t.Error("archive should not contain processor directories")
	}
}

func containsLine(list, want string) bool {
	for _, line := range strings.Split(list, "\n") {
		if line == want {
			return true
		}
	}
	return false
}

func containsPrefix(list, prefix string) bool {
	for _, line := range strings.Split(list, "\n") {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
