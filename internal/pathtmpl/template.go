// Package pathtmpl renders and parses the bracketed path templates that map
// records to files on disk, and derives natural keys from key fields.
//
// A template is a slash-separated string of literal text and placeholders:
//
//	data/articles/[language]/[slug].md
//	data/[model_name]/[key].[content_format]
//
// The identity placeholders [app_label] and [model_name] are filled from the
// model; every other placeholder names a record field.
package pathtmpl

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Identity placeholders, resolved from the model rather than the record.
const (
	AppLabel  = "app_label"
	ModelName = "model_name"
)

// ErrNoMatch is returned when a path or key does not fit a template.
var ErrNoMatch = errors.New("path does not match template")

// MissingFieldError is returned by Render when a placeholder has no value.
type MissingFieldError struct {
	Field    string
	Template string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing value for [%s] in template %q", e.Field, e.Template)
}

var placeholderRe = regexp.MustCompile(`\[(\w+)\]`)

// segmentValueRe matches one placeholder value; values never span a slash.
const segmentValueRe = `([^/]+)`

type part struct {
	literal string
	field   string // non-empty for placeholders
}

// Identity names a model for the identity placeholders.
type Identity struct {
	AppLabel  string
	ModelName string
}

func (id Identity) lookup(name string) (string, bool) {
	switch name {
	case AppLabel:
		return id.AppLabel, true
	case ModelName:
		return id.ModelName, true
	}
	return "", false
}

// Template is a compiled path template.
type Template struct {
	raw    string
	parts  []part
	fields []string
}

// Compile parses a raw template string.
func Compile(raw string) (*Template, error) {
	if raw == "" {
		return nil, errors.New("empty path template")
	}
	if strings.HasPrefix(raw, "/") {
		return nil, fmt.Errorf("path template must be relative: %q", raw)
	}

	t := &Template{raw: raw}
	seen := make(map[string]bool)

	rest := raw
	prevPlaceholder := false
	for rest != "" {
		loc := placeholderRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			if err := checkLiteral(rest, raw); err != nil {
				return nil, err
			}
			t.parts = append(t.parts, part{literal: rest})
			break
		}

		if loc[0] > 0 {
			lit := rest[:loc[0]]
			if err := checkLiteral(lit, raw); err != nil {
				return nil, err
			}
			t.parts = append(t.parts, part{literal: lit})
			prevPlaceholder = false
		}

		if prevPlaceholder {
			return nil, fmt.Errorf("adjacent placeholders are ambiguous in template %q", raw)
		}

		name := rest[loc[2]:loc[3]]
		t.parts = append(t.parts, part{field: name})
		if !seen[name] {
			seen[name] = true
			t.fields = append(t.fields, name)
		}
		prevPlaceholder = true
		rest = rest[loc[1]:]
	}

	return t, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(raw string) *Template {
	t, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return t
}

func checkLiteral(lit, raw string) error {
	if strings.ContainsAny(lit, "[]") {
		return fmt.Errorf("malformed placeholder in template %q", raw)
	}
	return nil
}

// String returns the template source.
func (t *Template) String() string { return t.raw }

// Fields returns the placeholder names in order of first appearance,
// including identity placeholders.
func (t *Template) Fields() []string {
	return append([]string(nil), t.fields...)
}

// Has reports whether the template contains the named placeholder.
func (t *Template) Has(name string) bool {
	for _, f := range t.fields {
		if f == name {
			return true
		}
	}
	return false
}

// Render substitutes every placeholder and returns an absolute path under root.
// Field values are escaped so that they always occupy a single path segment.
func (t *Template) Render(root string, id Identity, values map[string]string) (string, error) {
	var b strings.Builder
	for _, p := range t.parts {
		if p.field == "" {
			b.WriteString(p.literal)
			continue
		}

		v, ok := id.lookup(p.field)
		if !ok {
			v = values[p.field]
		}
		if v == "" {
			return "", &MissingFieldError{Field: p.field, Template: t.raw}
		}
		b.WriteString(escapeSegment(v))
	}

	return filepath.Join(root, filepath.FromSlash(b.String())), nil
}

// Glob returns a filepath.Glob pattern matching every file of the model named
// by id: identity placeholders are concrete, field placeholders become "*".
func (t *Template) Glob(root string, id Identity) string {
	var b strings.Builder
	for _, p := range t.parts {
		if p.field == "" {
			b.WriteString(globEscape(p.literal))
			continue
		}
		if v, ok := id.lookup(p.field); ok && v != "" {
			b.WriteString(globEscape(escapeSegment(v)))
			continue
		}
		b.WriteString("*")
	}

	return filepath.Join(globEscape(root), filepath.FromSlash(b.String()))
}

// Pattern compiles the template into a matcher for the model named by id.
// Identity placeholders with a non-empty value must match literally; any left
// empty are captured like ordinary fields.
func (t *Template) Pattern(id Identity) *Pattern {
	var b strings.Builder
	b.WriteString("^")

	var names []string
	for _, p := range t.parts {
		if p.field == "" {
			b.WriteString(regexp.QuoteMeta(p.literal))
			continue
		}
		if v, ok := id.lookup(p.field); ok && v != "" {
			b.WriteString(regexp.QuoteMeta(escapeSegment(v)))
			continue
		}
		b.WriteString(segmentValueRe)
		names = append(names, p.field)
	}
	b.WriteString("$")

	return &Pattern{re: regexp.MustCompile(b.String()), names: names}
}

// Parse is the inverse of Render: it recovers the field values encoded in
// path. It returns ErrNoMatch when path is outside root or has a different
// shape from the template.
func (t *Template) Parse(root, path string, id Identity) (map[string]string, error) {
	return t.Pattern(id).MatchPath(root, path)
}

// Pattern is a template compiled for one model identity.
type Pattern struct {
	re    *regexp.Regexp
	names []string
}

// Match matches a slash-separated path relative to the project root.
func (p *Pattern) Match(rel string) (map[string]string, bool) {
	m := p.re.FindStringSubmatch(rel)
	if m == nil {
		return nil, false
	}

	values := make(map[string]string, len(p.names))
	for i, name := range p.names {
		v := unescapeSegment(m[i+1])
		if prev, ok := values[name]; ok && prev != v {
			return nil, false
		}
		values[name] = v
	}
	return values, true
}

// MatchPath matches an absolute path against the pattern anchored at root.
func (p *Pattern) MatchPath(root, path string) (map[string]string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoMatch, path)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return nil, fmt.Errorf("%w: %s is outside %s", ErrNoMatch, path, root)
	}

	values, ok := p.Match(rel)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoMatch, rel)
	}
	return values, nil
}

var (
	segmentEscaper   = strings.NewReplacer("%", "%25", "/", "%2F")
	segmentUnescaper = strings.NewReplacer("%25", "%", "%2F", "/", "%2f", "/")
)

// escapeSegment keeps a value inside one path segment. Dot-only values are
// escaped too so they cannot address a parent directory.
func escapeSegment(v string) string {
	switch v {
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return segmentEscaper.Replace(v)
}

func unescapeSegment(v string) string {
	switch v {
	case "%2E":
		return "."
	case "%2E%2E":
		return ".."
	}
	return segmentUnescaper.Replace(v)
}

func globEscape(s string) string {
	if filepath.Separator == '\\' {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
