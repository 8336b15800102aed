package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rescale/ventsim/internal/config"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	AddCommands(root)

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func TestConfigPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ventsim.conf")
	out, err := execute(t, "", "config", "path", "--config", path)
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if strings.TrimSpace(out) != path {
		t.Errorf("config path printed %q, want %q", out, path)
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ventsim.conf")

	// work root, template dir, launcher, processors, method, bind, port,
	// webhook, export backend
	answers := "/scratch/ventsim\n\n\n4\n\n\n9000\n\n\n"
	out, err := execute(t, answers, "config", "init", "--config", path)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Configuration saved to") {
		t.Errorf("unexpected output:\n%s", out)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Case.WorkRoot != "/scratch/ventsim" {
		t.Errorf("WorkRoot = %q", cfg.Case.WorkRoot)
	}
	if cfg.Solver.Processors != 4 {
		t.Errorf("Processors = %d", cfg.Solver.Processors)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Solver.Launcher != "mpirun" {
		t.Errorf("Launcher = %q, want default", cfg.Solver.Launcher)
	}

	out, err = execute(t, "", "config", "init", "--config", path)
	if err != nil {
		t.Fatalf("second config init: %v", err)
	}
	if !strings.Contains(out, "already exists") {
		t.Errorf("existing config should not be overwritten without --force:\n%s", out)
	}
}

func TestConfigInitRetriesBadNumber(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ventsim.conf")
	answers := "\n\n\nmany\n8\n\n\n\n\n\n"
	out, err := execute(t, answers, "config", "init", "--config", path)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Invalid number: many") {
		t.Errorf("expected a retry prompt:\n%s", out)
	}
	cfg, _ := config.Load(path)
	if cfg.Solver.Processors != 8 {
		t.Errorf("Processors = %d", cfg.Solver.Processors)
	}
}

func TestConfigShowMasksSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ventsim.conf")
	cfg := config.New()
	cfg.Export.Backend = "minio"
	cfg.Export.Endpoint = "localhost:9000"
	cfg.Export.Bucket = "cases"
	cfg.Export.AccessKey = "minio"
	cfg.Export.SecretKey = "supersecret"
	if err := config.Save(cfg, path); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "", "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "supersecret") {
		t.Error("secret key printed in clear")
	}
	if !strings.Contains(out, "<set (11 chars)>") {
		t.Errorf("masked secret missing:\n%s", out)
	}
	if !strings.Contains(out, "Backend:        minio") {
		t.Errorf("backend missing:\n%s", out)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "ventsim v") {
		t.Errorf("version output %q", out)
	}
}

func TestMissingConfigFileIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.conf")
	if _, err := execute(t, "", "config", "show", "--config", path); err != nil {
		t.Errorf("config show with missing file: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("config show should not create the file")
	}
}
