package pathutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if got, err := Resolve(""); err != nil || got != "" {
		t.Errorf("Resolve(\"\") = %q, %v", got, err)
	}

	got, err := Resolve(filepath.Join(dir, "a", "b"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := filepath.Join(dir, "a", "b"); got != want {
		t.Errorf("missing components: got %s, want %s", got, want)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err = Resolve("~/ventsim-work")
	if err != nil {
		t.Fatalf("Resolve(~): %v", err)
	}
	if filepath.Base(got) != "ventsim-work" || !filepath.IsAbs(got) {
		t.Errorf("tilde not expanded: %s", got)
	}
	if real, err := filepath.EvalSymlinks(home); err == nil && filepath.Dir(got) != real {
		t.Errorf("expected %s under %s", got, real)
	}
}

func TestResolveFollowsSymlinks(t *testing.T) {
	dir, _ := filepath.EvalSymlinks(t.TempDir())
	target := filepath.Join(dir, "target")
	os.Mkdir(target, 0755)
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skip("symlinks not supported")
	}

	got, err := Resolve(filepath.Join(link, "cases"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := filepath.Join(target, "cases"); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}
