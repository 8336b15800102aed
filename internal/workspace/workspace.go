// Package workspace owns the on-disk OpenFOAM case of one session.
package workspace

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rescale/ventsim/internal/constants"
	"github.com/rescale/ventsim/internal/logging"
	"github.com/rescale/ventsim/internal/models"
	"github.com/rescale/ventsim/internal/validation"
)

// ErrClosed is returned by operations on a workspace that has been torn down.
var ErrClosed = errors.New("workspace is closed")

// Options configures a new workspace.
type Options struct {
	// Root is the parent directory; empty uses the system temp directory.
	Root string
	// Keep leaves the case directory on disk after Close.
	Keep   bool
	Logger *logging.Logger
}

// Workspace is a case directory seeded from a template tree.
type Workspace struct {
	dir    string
	keep   bool
	logger *logging.Logger

	mu     sync.Mutex
	closed bool
}

// New creates a fresh case directory under opts.Root and copies template into it.
func New(template fs.FS, opts Options) (*Workspace, error) {
	if opts.Root != "" {
		if err := os.MkdirAll(opts.Root, 0755); err != nil {
			return nil, fmt.Errorf("failed to create work root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(opts.Root, constants.WorkspacePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create case directory: %w", err)
	}

	if err := os.CopyFS(dir, template); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to seed case directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, constants.GeometryDir), 0755); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to create geometry directory: %w", err)
	}

	w := &Workspace{
		dir:    dir,
		keep:   opts.Keep,
		logger: logging.OrNop(opts.Logger).Component("workspace"),
	}
	w.logger.Info().Str("dir", dir).Msg("Case workspace created")
	return w, nil
}

// Dir returns the absolute case directory.
func (w *Workspace) Dir() string { return w.dir }

// Name returns the case name, the base name of the directory.
func (w *Workspace) Name() string { return filepath.Base(w.dir) }

// FoamPath returns the reader stub paraFoam -touch creates for the case.
func (w *Workspace) FoamPath() string {
	return filepath.Join(w.dir, w.Name()+".foam")
}

// GeometryDir returns the directory uploaded surfaces are stored in.
func (w *Workspace) GeometryDir() string {
	return filepath.Join(w.dir, constants.GeometryDir)
}

// Path resolves a case-relative path, refusing paths that leave the case.
func (w *Workspace) Path(rel string) (string, error) {
	if err := validation.ValidatePathInDirectory(rel, w.dir); err != nil {
		return "", err
	}
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel), nil
	}
	return filepath.Join(w.dir, filepath.FromSlash(rel)), nil
}

func (w *Workspace) checkOpen() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return nil
}

// WriteArtifact atomically replaces a case file with content.
func (w *Workspace) WriteArtifact(rel string, content []byte) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	path, err := w.Path(rel)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, content)
}

// ReadArtifact reads a case file.
func (w *Workspace) ReadArtifact(rel string) ([]byte, error) {
	path, err := w.Path(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// GeometryChange lists what ReplaceGeometry did on disk.
type GeometryChange struct {
	Removed   []string
	Written   []string
	Unchanged []string
}

// Changed reports whether any file was added, rewritten or deleted.
func (c GeometryChange) Changed() bool {
	return len(c.Removed) > 0 || len(c.Written) > 0
}

// ReplaceGeometry makes the geometry directory hold exactly set. Files not in
// the set are deleted together with their extracted feature edges; files whose
// content is unchanged are left untouched.
func (w *Workspace) ReplaceGeometry(set models.GeometrySet) (GeometryChange, error) {
	var change GeometryChange
	if err := w.checkOpen(); err != nil {
		return change, err
	}

	keep := make(map[string]bool, set.Len()*2)
	for _, f := range set.Files() {
		keep[f.Name] = true
		keep[f.Stem()+".eMesh"] = true
	}

	geomDir := w.GeometryDir()
	entries, err := os.ReadDir(geomDir)
	if err != nil && !os.IsNotExist(err) {
		return change, fmt.Errorf("failed to list geometry: %w", err)
	}
	for _, e := range entries {
		if keep[e.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(geomDir, e.Name())); err != nil {
			return change, fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
		change.Removed = append(change.Removed, e.Name())
	}

	if err := os.MkdirAll(geomDir, 0755); err != nil {
		return change, fmt.Errorf("failed to create geometry directory: %w", err)
	}
	for _, f := range set.Files() {
		path := filepath.Join(geomDir, f.Name)
		if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, f.Content) {
			change.Unchanged = append(change.Unchanged, f.Name)
			continue
		}
		if err := writeFileAtomic(path, f.Content); err != nil {
			return change, err
		}
		change.Written = append(change.Written, f.Name)
	}

	if change.Changed() {
		// surfaceFeatures regenerates these on the next environment run
		if err := os.RemoveAll(filepath.Join(w.dir, "constant", "extendedFeatureEdgeMesh")); err != nil {
			return change, fmt.Errorf("failed to remove feature edges: %w", err)
		}
	}

	w.logger.Info().
		Strs("removed", change.Removed).
		Strs("written", change.Written).
		Int("unchanged", len(change.Unchanged)).
		Msg("Geometry replaced")
	return change, nil
}

// GeometryPaths returns the absolute paths of the files in set.
func (w *Workspace) GeometryPaths(set models.GeometrySet) []string {
	paths := make([]string, 0, set.Len())
	for _, name := range set.Names() {
		paths = append(paths, filepath.Join(w.GeometryDir(), name))
	}
	return paths
}

// ProcessorDirs returns the decomposed sub-case directories, sorted.
func (w *Workspace) ProcessorDirs() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(w.dir, "processor*"))
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, m := range matches {
		if _, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(m), "processor")); err != nil {
			continue
		}
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			dirs = append(dirs, m)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// HasDecomposition reports whether processor0 exists.
func (w *Workspace) HasDecomposition() bool {
	info, err := os.Stat(filepath.Join(w.dir, "processor0"))
	return err == nil && info.IsDir()
}

// TimeDirs returns the non-zero solution time directories at the case root.
func (w *Workspace) TimeDirs() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := strconv.ParseFloat(e.Name(), 64)
		if err != nil || v == 0 {
			continue
		}
		dirs = append(dirs, e.Name())
	}
	sort.Strings(dirs)
	return dirs, nil
}

// ClearMeshHistory removes everything a previous environment run left behind
// that would confuse the next one: decomposed sub-cases and solution time
// directories computed on the old mesh.
func (w *Workspace) ClearMeshHistory() error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	procs, err := w.ProcessorDirs()
	if err != nil {
		return err
	}
	times, err := w.TimeDirs()
	if err != nil {
		return err
	}
	removed := make([]string, 0, len(procs)+len(times))
	for _, p := range procs {
		removed = append(removed, filepath.Base(p))
	}
	removed = append(removed, times...)

	for _, name := range removed {
		if err := os.RemoveAll(filepath.Join(w.dir, name)); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	w.logger.Debug().Strs("removed", removed).Msg("Mesh history cleared")
	return nil
}

// ClearSolution removes the time directory a simulation ending at endTime
// writes, both reconstructed and inside every processor directory.
func (w *Workspace) ClearSolution(endTime string) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if err := validation.ValidateFilename(endTime); err != nil {
		return fmt.Errorf("invalid time directory: %w", err)
	}
	if v, err := strconv.ParseFloat(endTime, 64); err != nil || v == 0 {
		return fmt.Errorf("refusing to clear time directory %q", endTime)
	}

	targets := []string{filepath.Join(w.dir, endTime)}
	procs, err := w.ProcessorDirs()
	if err != nil {
		return err
	}
	for _, p := range procs {
		targets = append(targets, filepath.Join(p, endTime))
	}
	for _, t := range targets {
		if err := os.RemoveAll(t); err != nil {
			return fmt.Errorf("failed to remove %s: %w", t, err)
		}
	}
	w.logger.Debug().Str("time", endTime).Int("processors", len(procs)).Msg("Solution history cleared")
	return nil
}

// Close removes the case directory unless the workspace was created with Keep.
func (w *Workspace) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	if w.keep {
		w.logger.Info().Str("dir", w.dir).Msg("Keeping case workspace")
		return nil
	}
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("failed to remove case directory: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := path + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	success := false
	defer func() {
		if !success {
			file.Close()
			os.Remove(tempFile)
		}
	}()

	if _, err := file.Write(content); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}

	success = true
	return nil
}
