package models

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rescale/ventsim/internal/validation"
)

// ErrInvalidGeometry is wrapped by every geometry set validation failure.
var ErrInvalidGeometry = errors.New("invalid geometry")

// GeometryFile is one uploaded surface file.
type GeometryFile struct {
	Name    string `json:"name"`
	Content []byte `json:"-"`
}

// Stem returns the file name without its extension. OpenFOAM uses the stem
// as the patch name of the surface.
func (g GeometryFile) Stem() string {
	return strings.TrimSuffix(g.Name, filepath.Ext(g.Name))
}

// GeometrySet is an ordered collection of geometry files, unique by name and stem.
type GeometrySet struct {
	files []GeometryFile
}

// NewGeometrySet validates files and returns them as a set, keeping order.
func NewGeometrySet(files []GeometryFile) (GeometrySet, error) {
	names := make(map[string]struct{}, len(files))
	stems := make(map[string]string, len(files))
	out := make([]GeometryFile, 0, len(files))

	for _, f := range files {
		if err := validation.ValidateGeometryName(f.Name); err != nil {
			return GeometrySet{}, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
		}
		if _, dup := names[f.Name]; dup {
			return GeometrySet{}, fmt.Errorf("%w: duplicate geometry file %q", ErrInvalidGeometry, f.Name)
		}
		stem := f.Stem()
		if prev, dup := stems[stem]; dup {
			return GeometrySet{}, fmt.Errorf("%w: geometry files %q and %q share the patch name %q", ErrInvalidGeometry, prev, f.Name, stem)
		}
		names[f.Name] = struct{}{}
		stems[stem] = f.Name
		out = append(out, f)
	}
	return GeometrySet{files: out}, nil
}

// Files returns a copy of the files in order.
func (s GeometrySet) Files() []GeometryFile {
	return append([]GeometryFile(nil), s.files...)
}

// Names returns the file names in order.
func (s GeometrySet) Names() []string {
	names := make([]string, len(s.files))
	for i, f := range s.files {
		names[i] = f.Name
	}
	return names
}

// Len returns the number of files.
func (s GeometrySet) Len() int { return len(s.files) }

// Empty reports whether the set has no files.
func (s GeometrySet) Empty() bool { return len(s.files) == 0 }

// Contains reports whether a file with this name is in the set.
func (s GeometrySet) Contains(name string) bool {
	for _, f := range s.files {
		if f.Name == name {
			return true
		}
	}
	return false
}
