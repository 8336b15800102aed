package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rescale/ventsim/internal/casefile"
	"github.com/rescale/ventsim/internal/models"
)

func writeCase(t *testing.T, dir string) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "house.stl"), []byte("solid house\nendsolid house\n"), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "case.yaml")
	if err := os.WriteFile(path, casefile.Example("house.stl"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInitCasePrintsExample(t *testing.T) {
	out, err := execute(t, "", "init-case", "--geometry", "a.stl,b.obj")
	if err != nil {
		t.Fatalf("init-case: %v", err)
	}
	c, err := casefile.Parse([]byte(out), "/cases")
	if err != nil {
		t.Fatalf("printed case does not parse: %v", err)
	}
	if c.Parameters != models.DefaultParameters() {
		t.Errorf("parameters = %+v", c.Parameters)
	}
	want := []string{filepath.Join("/cases", "a.stl"), filepath.Join("/cases", "b.obj")}
	if len(c.Geometry) != 2 || c.Geometry[0] != want[0] || c.Geometry[1] != want[1] {
		t.Errorf("geometry = %v, want %v", c.Geometry, want)
	}
}

func TestInitCaseWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "case.yaml")
	if _, err := execute(t, "", "init-case", path); err != nil {
		t.Fatalf("init-case: %v", err)
	}
	if _, err := casefile.Load(path); err != nil {
		t.Errorf("written case does not load: %v", err)
	}
	if _, err := execute(t, "", "init-case", path); err == nil {
		t.Error("expected refusal to overwrite")
	}
	if _, err := execute(t, "", "init-case", path, "--force"); err != nil {
		t.Errorf("--force: %v", err)
	}
}

func TestRender(t *testing.T) {
	dir := t.TempDir()
	casePath := writeCase(t, dir)
	out := filepath.Join(dir, "out")

	stdout, err := execute(t, "", "render", casePath, "-o", out,
		"--config", filepath.Join(dir, "absent.conf"))
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	for _, rel := range []string{
		"system/surfaceFeaturesDict",
		"system/blockMeshDict",
		"system/snappyHexMeshDict",
		"system/decomposeParDict",
		"system/controlDict",
		"0/include/ABLConditions",
		"0/U",
	} {
		path := filepath.Join(out, filepath.FromSlash(rel))
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s not rendered: %v", rel, err)
		}
		if !strings.Contains(stdout, path) {
			t.Errorf("%s not listed in output", rel)
		}
	}

	data, err := os.ReadFile(filepath.Join(out, "system", "snappyHexMeshDict"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "house.stl") {
		t.Error("snappyHexMeshDict should reference the geometry")
	}
}

func TestRenderRejectsMissingGeometry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "case.yaml")
	os.WriteFile(path, casefile.Example("missing.stl"), 0644)

	if _, err := execute(t, "", "render", path, "-o", filepath.Join(dir, "out"),
		"--config", filepath.Join(dir, "absent.conf")); err == nil {
		t.Error("expected error for a missing geometry file")
	}
}

// TestRunWithStubTools runs both stages with every tool replaced by true(1).
func TestRunWithStubTools(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}
	dir := t.TempDir()
	casePath := writeCase(t, dir)
	workRoot := filepath.Join(dir, "work")

	conf := fmt.Sprintf(`[case]
work_root = %s
min_free_mb = 0

[solver]
launcher = true
surface_features = true
block_mesh = true
decompose_par = true
snappy_hex_mesh = true
reconstruct_par_mesh = true
solver = true
reconstruct_par = true
para_foam = true
`, workRoot)
	confPath := filepath.Join(dir, "ventsim.conf")
	if err := os.WriteFile(confPath, []byte(conf), 0600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "", "run", casePath, "--config", confPath, "--keep", "--no-webhook")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "Case directory: ") {
		t.Fatalf("kept case directory not reported:\n%s", out)
	}
	caseDir := strings.TrimSpace(out[strings.Index(out, "Case directory: ")+len("Case directory: "):])

	data, err := os.ReadFile(filepath.Join(caseDir, "system", "controlDict"))
	if err != nil {
		t.Fatalf("controlDict: %v", err)
	}
	if !strings.Contains(string(data), "endTime") {
		t.Errorf("controlDict not rendered:\n%s", data)
	}
	if _, err := os.Stat(filepath.Join(caseDir, "constant", "triSurface", "house.stl")); err != nil {
		t.Errorf("geometry not stored in the case: %v", err)
	}
}

func TestRunFailsWithoutGeometry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "case.yaml")
	os.WriteFile(path, casefile.Example(), 0644)
	conf := filepath.Join(dir, "ventsim.conf")
	os.WriteFile(conf, []byte(fmt.Sprintf("[case]\nwork_root = %s\n", filepath.Join(dir, "work"))), 0600)

	_, err := execute(t, "", "run", path, "--config", conf, "--no-webhook")
	if err == nil || !strings.Contains(err.Error(), "no geometry uploaded") {
		t.Errorf("expected a no-geometry refusal, got %v", err)
	}
}
