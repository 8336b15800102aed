// Package foam renders OpenFOAM dictionaries from shipped templates.
//
// A template is parsed once against a Layout that names its anchors: fields
// are single lines whose value is replaced, blocks are line ranges replaced by
// a variable number of records. Every other line is emitted byte for byte.
package foam

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMalformedTemplate is returned when a template does not match its layout.
var ErrMalformedTemplate = errors.New("malformed template")

// Field anchors one line of a template.
type Field struct {
	Name string
	// Line is the zero-based line index.
	Line int
	// Key is the text the trimmed line must start with.
	Key string
	// Whole replaces everything after the indentation. Otherwise only the
	// value after Key and its padding is replaced and a trailing ';' is kept.
	Whole bool
}

// Block anchors a placeholder range [Start, End) that is replaced by records.
type Block struct {
	Name  string
	Start int
	End   int
	// Key is the trimmed text expected on the first placeholder line.
	Key string
}

// Layout declares the anchors of one artifact.
type Layout struct {
	Fields []Field
	Blocks []Block
}

// Values supplies field values and block records for Render.
type Values struct {
	Fields map[string]string
	Blocks map[string][]string
}

type fieldSlot struct {
	name   string
	prefix string
	suffix string
	eol    string
}

// Template is a parsed artifact ready to render.
type Template struct {
	name   string
	lines  []string
	fields map[int]fieldSlot
	blocks map[int]Block
	names  map[string]bool
}

// Name returns the artifact name the template was parsed for.
func (t *Template) Name() string { return t.name }

// Parse checks text against layout and prepares it for rendering.
func Parse(name, text string, layout Layout) (*Template, error) {
	lines := splitLines(text)
	t := &Template{
		name:   name,
		lines:  lines,
		fields: make(map[int]fieldSlot, len(layout.Fields)),
		blocks: make(map[int]Block, len(layout.Blocks)),
		names:  make(map[string]bool, len(layout.Fields)+len(layout.Blocks)),
	}

	malformed := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrMalformedTemplate, name, fmt.Sprintf(format, args...))
	}

	claimed := make(map[int]string)
	claim := func(line int, anchor string) error {
		if line < 0 || line >= len(lines) {
			return malformed("anchor %q needs line %d but the template has %d lines", anchor, line+1, len(lines))
		}
		if prev, taken := claimed[line]; taken {
			return malformed("anchors %q and %q overlap at line %d", prev, anchor, line+1)
		}
		claimed[line] = anchor
		return nil
	}
	register := func(anchor string) error {
		if t.names[anchor] {
			return malformed("anchor %q declared twice", anchor)
		}
		t.names[anchor] = true
		return nil
	}

	for _, b := range layout.Blocks {
		if err := register(b.Name); err != nil {
			return nil, err
		}
		if b.End <= b.Start {
			return nil, malformed("block %q has an empty range", b.Name)
		}
		for i := b.Start; i < b.End; i++ {
			if err := claim(i, b.Name); err != nil {
				return nil, err
			}
		}
		if got := strings.TrimSpace(lines[b.Start]); got != b.Key {
			return nil, malformed("block %q expects %q at line %d, found %q", b.Name, b.Key, b.Start+1, got)
		}
		t.blocks[b.Start] = b
	}

	for _, f := range layout.Fields {
		if err := register(f.Name); err != nil {
			return nil, err
		}
		if err := claim(f.Line, f.Name); err != nil {
			return nil, err
		}
		slot, ok := parseField(lines[f.Line], f)
		if !ok {
			return nil, malformed("field %q expects %q at line %d, found %q",
				f.Name, f.Key, f.Line+1, strings.TrimSpace(lines[f.Line]))
		}
		t.fields[f.Line] = slot
	}

	return t, nil
}

// Anchors returns the field and block names the template accepts, sorted.
func (t *Template) Anchors() []string {
	out := make([]string, 0, len(t.names))
	for n := range t.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Render substitutes v into the template. Every anchor must be supplied and
// no unknown anchor may be.
func (t *Template) Render(v Values) (string, error) {
	for name := range v.Fields {
		if !t.names[name] {
			return "", fmt.Errorf("%s: unknown field %q", t.name, name)
		}
	}
	for name := range v.Blocks {
		if !t.names[name] {
			return "", fmt.Errorf("%s: unknown block %q", t.name, name)
		}
	}

	var sb strings.Builder
	for i := 0; i < len(t.lines); i++ {
		if b, ok := t.blocks[i]; ok {
			records, ok := v.Blocks[b.Name]
			if !ok {
				return "", fmt.Errorf("%s: no records for block %q", t.name, b.Name)
			}
			for _, r := range records {
				sb.WriteString(r)
				if !strings.HasSuffix(r, "\n") {
					sb.WriteByte('\n')
				}
			}
			i = b.End - 1
			continue
		}
		if slot, ok := t.fields[i]; ok {
			value, ok := v.Fields[slot.name]
			if !ok {
				return "", fmt.Errorf("%s: no value for field %q", t.name, slot.name)
			}
			sb.WriteString(slot.prefix)
			sb.WriteString(value)
			sb.WriteString(slot.suffix)
			sb.WriteString(slot.eol)
			continue
		}
		sb.WriteString(t.lines[i])
	}
	return sb.String(), nil
}

func parseField(line string, f Field) (fieldSlot, bool) {
	body, eol := cutEOL(line)
	trimmed := strings.TrimLeft(body, " \t")
	indent := body[:len(body)-len(trimmed)]
	if !strings.HasPrefix(trimmed, f.Key) {
		return fieldSlot{}, false
	}

	slot := fieldSlot{name: f.Name, eol: eol}
	if f.Whole {
		slot.prefix = indent
		return slot, true
	}

	rest := trimmed[len(f.Key):]
	value := strings.TrimLeft(rest, " \t")
	if value == rest {
		// key must be followed by padding, otherwise "Uref" would match "Urefx"
		return fieldSlot{}, false
	}
	slot.prefix = indent + f.Key + rest[:len(rest)-len(value)]
	if strings.HasSuffix(strings.TrimRight(value, " \t"), ";") {
		slot.suffix = ";"
	}
	return slot, true
}

// splitLines splits text after each newline, keeping terminators.
func splitLines(text string) []string {
	lines := strings.SplitAfter(text, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

func cutEOL(line string) (string, string) {
	switch {
	case strings.HasSuffix(line, "\r\n"):
		return line[:len(line)-2], "\r\n"
	case strings.HasSuffix(line, "\n"):
		return line[:len(line)-1], "\n"
	}
	return line, ""
}
