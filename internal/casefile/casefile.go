// Package casefile reads YAML case documents: the parameters of a case and
// the geometry files it meshes around.
package casefile

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/rescale/ventsim/internal/models"
)

//go:embed schema.json
var schemaJSON []byte

var (
	compiledSchema *gojsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

func getSchema() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledSchema, compileErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	})
	return compiledSchema, compileErr
}

// ErrInvalidCase is wrapped by every schema violation.
var ErrInvalidCase = errors.New("invalid case file")

// ValidationError lists the schema violations of a case document.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidCase, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidCase }

// landscape accepts a class name or an ordinal scalar.
type landscape string

func (l *landscape) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: landscape must be a name or a number", n.Line)
	}
	*l = landscape(n.Value)
	return nil
}

type document struct {
	Domain *struct {
		Length *float64 `yaml:"length"`
		Width  *float64 `yaml:"width"`
		Height *float64 `yaml:"height"`
	} `yaml:"domain"`
	Patches *struct {
		Inlet  *models.Patch `yaml:"inlet"`
		Outlet *models.Patch `yaml:"outlet"`
	} `yaml:"patches"`
	Wind *struct {
		Speed           *float64 `yaml:"speed"`
		ReferenceHeight *float64 `yaml:"referenceHeight"`
	} `yaml:"wind"`
	Landscape  *landscape `yaml:"landscape"`
	Simulation *struct {
		Duration       *float64 `yaml:"duration"`
		CutPlaneHeight *float64 `yaml:"cutPlaneHeight"`
	} `yaml:"simulation"`
	Geometry []string `yaml:"geometry"`
}

// Case is a parsed case document.
type Case struct {
	// Path is the file the case was loaded from, empty for Parse.
	Path       string
	Parameters models.CaseParameters
	// Geometry holds the geometry file paths, resolved against the case
	// file's directory.
	Geometry []string
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Parse validates data against the case schema and decodes it. Sections and
// keys that are left out keep their default values. Relative geometry paths
// are resolved against baseDir.
func Parse(data []byte, baseDir string) (*Case, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCase, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	schema, err := getSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling case schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("validating case: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, &ValidationError{Problems: problems}
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCase, err)
	}

	p := models.DefaultParameters()
	if d := doc.Domain; d != nil {
		set(&p.Length, d.Length)
		set(&p.Width, d.Width)
		set(&p.Height, d.Height)
	}
	if d := doc.Patches; d != nil {
		set(&p.Inlet, d.Inlet)
		set(&p.Outlet, d.Outlet)
	}
	if d := doc.Wind; d != nil {
		set(&p.WindSpeed, d.Speed)
		set(&p.WindReferenceHeight, d.ReferenceHeight)
	}
	if doc.Landscape != nil {
		l, err := models.ParseLandscape(string(*doc.Landscape))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCase, err)
		}
		p.Landscape = l
	}
	if d := doc.Simulation; d != nil {
		set(&p.Duration, d.Duration)
		set(&p.CutPlaneHeight, d.CutPlaneHeight)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	c := &Case{Parameters: p}
	for _, g := range doc.Geometry {
		if !filepath.IsAbs(g) {
			g = filepath.Join(baseDir, g)
		}
		c.Geometry = append(c.Geometry, filepath.Clean(g))
	}
	return c, nil
}

// Load reads and parses the case file at path.
func Load(path string) (*Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read case file: %w", err)
	}
	c, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.Path = path
	return c, nil
}

// LoadGeometry reads the geometry files the case names.
func (c *Case) LoadGeometry() ([]models.GeometryFile, error) {
	files := make([]models.GeometryFile, 0, len(c.Geometry))
	for _, path := range c.Geometry {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read geometry: %w", err)
		}
		files = append(files, models.GeometryFile{Name: filepath.Base(path), Content: content})
	}
	return files, nil
}
