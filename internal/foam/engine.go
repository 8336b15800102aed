package foam

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
)

// Engine holds the parsed templates of every rendered artifact.
type Engine struct {
	templates map[string]*Template
	failures  map[string]error
}

// Load reads and parses every artifact listed in Layouts from fsys.
//
// Artifacts that fail to load are remembered and their Render calls return
// the load error; the returned error joins all failures so callers can
// refuse to start with a broken template tree.
func Load(fsys fs.FS) (*Engine, error) {
	e := &Engine{
		templates: make(map[string]*Template),
		failures:  make(map[string]error),
	}

	layouts := Layouts()
	paths := make([]string, 0, len(layouts))
	for p := range layouts {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var errs []error
	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			err = fmt.Errorf("read template %s: %w", p, err)
			e.failures[p] = err
			errs = append(errs, err)
			continue
		}
		t, err := Parse(p, string(data), layouts[p])
		if err != nil {
			e.failures[p] = err
			errs = append(errs, err)
			continue
		}
		e.templates[p] = t
	}
	return e, errors.Join(errs...)
}

// Render renders the artifact at path with v.
func (e *Engine) Render(path string, v Values) (string, error) {
	if err, failed := e.failures[path]; failed {
		return "", err
	}
	t, ok := e.templates[path]
	if !ok {
		return "", fmt.Errorf("no template for %s", path)
	}
	return t.Render(v)
}

// Artifacts returns the paths the engine can render, sorted.
func (e *Engine) Artifacts() []string {
	out := make([]string, 0, len(e.templates))
	for p := range e.templates {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
