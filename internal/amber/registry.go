package amber

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"amber-go/internal/pathtmpl"
)

// DefaultPathTemplate is used by models that do not declare a template.
const DefaultPathTemplate = "data/[model_name]/[key].[content_format]"

// Structural names that cannot be declared as fields.
const (
	KeyField           = "key"
	ContentField       = "content"
	ContentFormatField = "content_format"
)

var reservedNames = []string{KeyField, ContentField, ContentFormatField, pathtmpl.AppLabel, pathtmpl.ModelName}

// FieldKind classifies a declared field.
type FieldKind int

const (
	Scalar FieldKind = iota
	Time
	ForeignKey
	ManyToMany
)

var fieldKindNames = map[FieldKind]string{
	Scalar:     "scalar",
	Time:       "time",
	ForeignKey: "foreign_key",
	ManyToMany: "many_to_many",
}

func (k FieldKind) String() string {
	if s, ok := fieldKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("FieldKind(%d)", int(k))
}

// IsRelation reports whether the field points at other records.
func (k FieldKind) IsRelation() bool {
	return k == ForeignKey || k == ManyToMany
}

// ParseFieldKind converts a configured kind name. An empty name is Scalar.
func ParseFieldKind(s string) (FieldKind, error) {
	if s == "" {
		return Scalar, nil
	}
	for k, name := range fieldKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown field kind: %q", s)
}

// Field describes one declared field. Target names the related model for
// relation fields.
type Field struct {
	Name   string
	Kind   FieldKind
	Target string
}

// ModelSpec is the declaration a Model is built from.
type ModelSpec struct {
	AppLabel     string
	Name         string
	PathTemplate string
	HasContent   bool
	KeyFields    []string
	KeyStructure string
	Fields       []Field
}

// Model is a registered model type.
type Model struct {
	appLabel     string
	name         string
	hasContent   bool
	fields       []Field
	byName       map[string]int
	keyFields    []string
	template     *pathtmpl.Template
	keyStructure *pathtmpl.KeyStructure
	pattern      *pathtmpl.Pattern
}

// ID returns "app_label.model_name".
func (m *Model) ID() string { return m.appLabel + "." + m.name }

func (m *Model) AppLabel() string { return m.appLabel }
func (m *Model) Name() string     { return m.name }
func (m *Model) HasContent() bool { return m.hasContent }

func (m *Model) Identity() pathtmpl.Identity {
	return pathtmpl.Identity{AppLabel: m.appLabel, ModelName: m.name}
}

// Fields returns the declared fields in declaration order.
func (m *Model) Fields() []Field { return slices.Clone(m.fields) }

func (m *Model) Field(name string) (Field, bool) {
	i, ok := m.byName[name]
	if !ok {
		return Field{}, false
	}
	return m.fields[i], true
}

// KeyFields returns the fields a key is derived from, in order.
func (m *Model) KeyFields() []string { return slices.Clone(m.keyFields) }

func (m *Model) Template() *pathtmpl.Template         { return m.template }
func (m *Model) KeyStructure() *pathtmpl.KeyStructure { return m.keyStructure }

// DefaultContentFormat is assumed when neither the path nor the front
// matter names a format.
func (m *Model) DefaultContentFormat() string {
	if m.hasContent {
		return "md"
	}
	return "yml"
}

// Registry is the set of models the sync layer knows about, anchored at a
// project root.
type Registry struct {
	root   string
	models []*Model
	byID   map[string]*Model
}

// NewRegistry validates and compiles the model declarations. Declaration
// order is kept: it decides which model owns a path that several templates
// could match.
func NewRegistry(root string, specs []ModelSpec) (*Registry, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}

	r := &Registry{root: absRoot, byID: make(map[string]*Model)}
	for _, spec := range specs {
		m, err := compileModel(spec)
		if err != nil {
			return nil, fmt.Errorf("model %s.%s: %w", spec.AppLabel, spec.Name, err)
		}
		if _, dup := r.byID[m.ID()]; dup {
			return nil, fmt.Errorf("duplicate model: %s", m.ID())
		}
		r.models = append(r.models, m)
		r.byID[m.ID()] = m
	}

	// Relation targets may name models declared later, so resolve them
	// once every model is known.
	for _, m := range r.models {
		for i, f := range m.fields {
			if !f.Kind.IsRelation() {
				continue
			}
			target, err := r.Model(f.Target)
			if err != nil {
				return nil, fmt.Errorf("model %s field %s: %w", m.ID(), f.Name, err)
			}
			m.fields[i].Target = target.ID()
		}
	}

	return r, nil
}

func compileModel(spec ModelSpec) (*Model, error) {
	if spec.AppLabel == "" || spec.Name == "" {
		return nil, errors.New("app_label and name are required")
	}

	m := &Model{
		appLabel:   strings.ToLower(spec.AppLabel),
		name:       strings.ToLower(spec.Name),
		hasContent: spec.HasContent,
		byName:     make(map[string]int),
	}

	for _, f := range spec.Fields {
		if f.Name == "" {
			return nil, errors.New("field without a name")
		}
		if slices.Contains(reservedNames, f.Name) {
			return nil, fmt.Errorf("field name %q is reserved", f.Name)
		}
		if _, dup := m.byName[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field %q", f.Name)
		}
		if f.Kind.IsRelation() && f.Target == "" {
			return nil, fmt.Errorf("relation field %q has no target", f.Name)
		}
		m.byName[f.Name] = len(m.fields)
		m.fields = append(m.fields, f)
	}

	raw := spec.PathTemplate
	if raw == "" {
		raw = DefaultPathTemplate
	}
	tmpl, err := pathtmpl.Compile(raw)
	if err != nil {
		return nil, err
	}
	m.template = tmpl
	m.pattern = tmpl.Pattern(m.Identity())

	ks, err := pathtmpl.CompileKeyStructure(spec.KeyStructure)
	if err != nil {
		return nil, err
	}
	m.keyStructure = ks

	m.keyFields = slices.Clone(spec.KeyFields)
	if len(m.keyFields) == 0 {
		m.keyFields = ks.Names()
	}
	if ks != nil && !slices.Equal(m.keyFields, ks.Names()) {
		return nil, fmt.Errorf("key fields %v do not match key structure %q", m.keyFields, ks)
	}

	for _, name := range tmpl.Fields() {
		switch name {
		case pathtmpl.AppLabel, pathtmpl.ModelName, KeyField, ContentFormatField:
			continue
		}
		f, ok := m.Field(name)
		if !ok {
			return nil, fmt.Errorf("template placeholder [%s] is not a declared field", name)
		}
		if f.Kind == ManyToMany {
			return nil, fmt.Errorf("template placeholder [%s] is a many-to-many field", name)
		}
	}

	for _, name := range m.keyFields {
		f, ok := m.Field(name)
		if !ok {
			return nil, fmt.Errorf("key field %q is not a declared field", name)
		}
		if f.Kind == ManyToMany {
			return nil, fmt.Errorf("key field %q is a many-to-many field", name)
		}
	}
	for _, name := range ks.Names() {
		if _, ok := m.Field(name); !ok {
			return nil, fmt.Errorf("key structure field %q is not a declared field", name)
		}
	}

	// The key must be recoverable from the path alone, otherwise a deleted
	// file could not be mapped back to its record.
	if !tmpl.Has(KeyField) {
		if len(m.keyFields) == 0 {
			return nil, fmt.Errorf("template %q has no [key] and the model declares no key fields", raw)
		}
		for _, name := range m.keyFields {
			if !tmpl.Has(name) {
				return nil, fmt.Errorf("template %q has no [key] and key field [%s] is not in the path", raw, name)
			}
		}
	}

	return m, nil
}

// Root returns the absolute project root.
func (r *Registry) Root() string { return r.root }

// Models returns the registered models in declaration order.
func (r *Registry) Models() []*Model { return slices.Clone(r.models) }

// Model looks a model up by "app_label.model_name" or, when unambiguous,
// by bare model name.
func (r *Registry) Model(name string) (*Model, error) {
	if m, ok := r.byID[strings.ToLower(name)]; ok {
		return m, nil
	}
	if m, ok := r.byID[name]; ok {
		return m, nil
	}

	var found *Model
	for _, m := range r.models {
		if m.name == strings.ToLower(name) {
			if found != nil {
				return nil, fmt.Errorf("ambiguous model name: %s", name)
			}
			found = m
		}
	}
	if found == nil {
		return nil, fmt.Errorf("unknown model: %s", name)
	}
	return found, nil
}

// Describe returns the field descriptors of a model.
func (r *Registry) Describe(model string) ([]Field, error) {
	m, err := r.Model(model)
	if err != nil {
		return nil, err
	}
	return m.Fields(), nil
}

// Match finds the first model, in declaration order, whose template matches
// path, and returns the values encoded in the path.
func (r *Registry) Match(path string) (*Model, map[string]string, error) {
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving path: %w", err)
		}
		path = abs
	}
	for _, m := range r.models {
		values, err := m.pattern.MatchPath(r.root, path)
		if err == nil {
			return m, values, nil
		}
	}
	return nil, nil, &PathMatchError{Path: path}
}

// Glob returns the glob pattern enumerating every file of a model.
func (r *Registry) Glob(m *Model) string {
	return m.template.Glob(r.root, m.Identity())
}
