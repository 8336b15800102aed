// Package ingest watches a drop folder and makes its surface files the case
// geometry.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rescale/ventsim/internal/constants"
	"github.com/rescale/ventsim/internal/logging"
	"github.com/rescale/ventsim/internal/models"
	"github.com/rescale/ventsim/internal/validation"
)

// SurfaceExtensions are the file types picked up from the drop folder.
var SurfaceExtensions = []string{".stl", ".obj"}

// Target receives each new geometry set.
type Target interface {
	ReplaceGeometry(files []models.GeometryFile) error
}

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period after the last file event before the
	// folder is read. Zero uses constants.IngestDebounce.
	Debounce time.Duration
	// Retry is the delay before retrying a refused replacement. Zero uses
	// four times Debounce.
	Retry time.Duration
	// Busy reports whether err means the target is temporarily refusing
	// replacements. Busy errors are retried; others are logged.
	Busy   func(err error) bool
	Logger *logging.Logger
}

// Watcher mirrors a directory of surface files into a Target.
type Watcher struct {
	dir      string
	target   Target
	debounce time.Duration
	retry    time.Duration
	busy     func(error) bool
	logger   *logging.Logger

	mu   sync.Mutex
	last string
}

// NewWatcher creates a watcher for dir, creating the directory if needed.
func NewWatcher(dir string, target Target, opts Options) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create drop folder: %w", err)
	}
	w := &Watcher{
		dir:      dir,
		target:   target,
		debounce: opts.Debounce,
		retry:    opts.Retry,
		busy:     opts.Busy,
		logger:   logging.OrNop(opts.Logger).Component("ingest"),
		// an empty folder at start is not a change
		last: fingerprint(nil),
	}
	if w.debounce <= 0 {
		w.debounce = constants.IngestDebounce
	}
	if w.retry <= 0 {
		w.retry = 4 * w.debounce
	}
	if w.busy == nil {
		w.busy = func(error) bool { return false }
	}
	return w, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

func isSurface(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range SurfaceExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Scan reads the surface files in the folder, sorted by name. Files whose
// names cannot become patch names are skipped with a warning.
func (w *Watcher) Scan() ([]models.GeometryFile, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read drop folder: %w", err)
	}

	var files []models.GeometryFile
	for _, e := range entries {
		if e.IsDir() || !isSurface(e.Name()) {
			continue
		}
		if err := validation.ValidateGeometryName(e.Name()); err != nil {
			w.logger.Warn().Err(err).Str("file", e.Name()).Msg("Skipping surface file")
			continue
		}
		content, err := os.ReadFile(filepath.Join(w.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		files = append(files, models.GeometryFile{Name: e.Name(), Content: content})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func fingerprint(files []models.GeometryFile) string {
	h := sha256.New()
	for _, f := range files {
		sum := sha256.Sum256(f.Content)
		h.Write([]byte(f.Name))
		h.Write([]byte{0})
		h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Sync scans the folder and hands the files to the target unless they are
// what was last delivered. It reports whether the target was called.
func (w *Watcher) Sync() (bool, error) {
	files, err := w.Scan()
	if err != nil {
		return false, err
	}
	fp := fingerprint(files)

	w.mu.Lock()
	defer w.mu.Unlock()
	if fp == w.last {
		return false, nil
	}
	if err := w.target.ReplaceGeometry(files); err != nil {
		return false, err
	}
	w.last = fp

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	w.logger.Info().Strs("files", names).Msg("Geometry picked up from drop folder")
	return true, nil
}

// Run syncs once, then again after every burst of changes in the folder,
// until ctx is done. Replacements refused as busy are retried.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Info().Str("dir", w.dir).Msg("Watching drop folder")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isSurface(filepath.Base(ev.Name)) || ev.Op == fsnotify.Chmod {
				continue
			}
			w.logger.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("Drop folder changed")
			resetTimer(timer, w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("File watcher error")

		case <-timer.C:
			if _, err := w.Sync(); err != nil {
				if w.busy(err) {
					w.logger.Debug().Err(err).Msg("Geometry replacement deferred")
					timer.Reset(w.retry)
					continue
				}
				w.logger.Error().Err(err).Msg("Failed to ingest drop folder")
			}
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// IsBusy is a Busy func matching err against sentinel.
func IsBusy(sentinel error) func(error) bool {
	return func(err error) bool { return errors.Is(err, sentinel) }
}
