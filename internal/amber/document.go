package amber

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"amber-go/internal/pathtmpl"
)

// Separator divides front matter from content in a content-bearing document.
const Separator = "\n---\n"

// Codec converts records to documents and back.
type Codec struct {
	registry *Registry
}

func NewCodec(registry *Registry) *Codec {
	return &Codec{registry: registry}
}

// PathFor renders the file path of a record.
func (c *Codec) PathFor(rec *Record) (string, error) {
	m, err := c.registry.Model(rec.Model)
	if err != nil {
		return "", err
	}

	values := map[string]string{
		KeyField:           rec.Key,
		ContentFormatField: contentFormat(m, rec),
	}
	for _, name := range m.template.Fields() {
		f, ok := m.Field(name)
		if !ok {
			continue
		}
		if f.Kind == ForeignKey {
			if keys := rec.Relations[name]; len(keys) == 1 {
				if k, err := keys[0].Key(); err == nil {
					values[name] = k
				}
			}
			continue
		}
		if v, ok := rec.Fields[name]; ok && !isEmpty(v) {
			values[name] = fmt.Sprint(v)
		}
	}

	return m.template.Render(c.registry.root, m.Identity(), values)
}

// Serialize renders a record as a document. Front matter keys are sorted
// and empty values are omitted, so unchanged records serialize to identical
// bytes. Values already encoded in the path are left out.
func (c *Codec) Serialize(rec *Record) ([]byte, error) {
	m, err := c.registry.Model(rec.Model)
	if err != nil {
		return nil, err
	}

	entries := make(map[string]*yaml.Node)

	if f := rec.ContentFormat; f != "" && f != m.DefaultContentFormat() && !m.template.Has(ContentFormatField) {
		n, err := encodeScalar(f)
		if err != nil {
			return nil, err
		}
		entries[ContentFormatField] = n
	}

	for _, f := range m.fields {
		if c.inPath(m, f.Name) {
			continue
		}

		var (
			n   *yaml.Node
			err error
		)
		switch f.Kind {
		case Scalar:
			v := rec.Fields[f.Name]
			if isEmpty(v) {
				continue
			}
			n, err = encodeScalar(v)
		case Time:
			v := rec.Fields[f.Name]
			if isEmpty(v) {
				continue
			}
			n, err = encodeTimeOfDay(v)
		case ForeignKey:
			keys := rec.Relations[f.Name]
			if len(keys) == 0 {
				continue
			}
			n, err = encodeNaturalKey(keys[0])
		case ManyToMany:
			keys := rec.Relations[f.Name]
			if len(keys) == 0 {
				continue
			}
			n = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
			for _, k := range keys {
				item, kerr := encodeNaturalKey(k)
				if kerr != nil {
					err = kerr
					break
				}
				n.Content = append(n.Content, item)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", f.Name, err)
		}
		entries[f.Name] = n
	}

	var buf bytes.Buffer
	if len(entries) > 0 {
		doc := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		names := make([]string, 0, len(entries))
		for name := range entries {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			doc.Content = append(doc.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name},
				entries[name])
		}

		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encoding front matter: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encoding front matter: %w", err)
		}
	}

	if m.hasContent {
		buf.WriteString(Separator[1:])
		buf.WriteString(rec.Content)
	}

	return buf.Bytes(), nil
}

// inPath reports whether a field is recovered from the path rather than the
// front matter.
func (c *Codec) inPath(m *Model, name string) bool {
	if m.template.Has(name) {
		return true
	}
	return m.template.Has(KeyField) && slices.Contains(m.keyStructure.Names(), name)
}

// Deserialize parses the document at path. The sequence yields exactly one
// record or one error.
func (c *Codec) Deserialize(path string, data []byte) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		m, values, err := c.registry.Match(path)
		if err != nil {
			yield(nil, err)
			return
		}
		rec, err := c.decode(m, values, string(data))
		if err != nil {
			yield(nil, &DeserializationError{Path: path, Err: err})
			return
		}
		yield(rec, nil)
	}
}

func (c *Codec) decode(m *Model, pathValues map[string]string, text string) (*Record, error) {
	frontText, content, separated := splitDocument(text, m.hasContent)

	var raw any
	if err := yaml.Unmarshal([]byte(frontText), &raw); err != nil {
		return nil, &ParseError{Err: err}
	}

	var front map[string]any
	switch v := raw.(type) {
	case nil:
		if m.hasContent && !separated {
			content = text
		}
	case map[string]any:
		if m.hasContent && !separated {
			return nil, ErrMissingContent
		}
		front = v
	case map[any]any:
		return nil, &ParseError{Err: errors.New("front matter keys must be strings")}
	default:
		if !m.hasContent || separated {
			return nil, &ParseError{Err: errors.New("front matter is not a mapping")}
		}
		// A document with no separator whose text is not a mapping is
		// all content.
		content = text
	}

	rec := &Record{
		Model:     m.ID(),
		Fields:    make(map[string]any),
		Relations: make(map[string][]NaturalKey),
	}
	if m.hasContent {
		rec.Content = content
	}

	values := make(map[string]any, len(front)+len(pathValues))
	for name, v := range front {
		switch name {
		case KeyField:
			rec.Key = scalarString(v)
		case ContentFormatField:
			rec.ContentFormat = scalarString(v)
		default:
			if _, ok := m.Field(name); !ok {
				return nil, fmt.Errorf("unknown field %q", name)
			}
			values[name] = v
		}
	}

	// Path values win over front matter.
	for name, v := range pathValues {
		switch name {
		case KeyField:
			rec.Key = v
		case ContentFormatField:
			rec.ContentFormat = v
		default:
			values[name] = v
		}
	}

	if rec.Key == "" {
		key, err := deriveKey(m, values)
		if err != nil {
			return nil, err
		}
		rec.Key = key
	}
	fromKey, err := m.keyStructure.Fields(rec.Key)
	if err != nil {
		return nil, fmt.Errorf("key %q: %w", rec.Key, err)
	}
	for name, v := range fromKey {
		values[name] = v
	}

	if rec.ContentFormat == "" {
		rec.ContentFormat = m.DefaultContentFormat()
	}

	for _, f := range m.fields {
		v := values[f.Name]
		switch f.Kind {
		case Scalar:
			if v != nil {
				rec.Fields[f.Name] = v
			}
		case Time:
			if v == nil {
				continue
			}
			t, err := normalizeTimeOfDay(v)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			rec.Fields[f.Name] = t
		case ForeignKey:
			keys := []NaturalKey{}
			if v != nil {
				k, err := toNaturalKey(v)
				if err != nil {
					return nil, fmt.Errorf("field %s: %w", f.Name, err)
				}
				keys = append(keys, k)
			}
			rec.Relations[f.Name] = keys
		case ManyToMany:
			keys := []NaturalKey{}
			if v != nil {
				items, ok := v.([]any)
				if !ok {
					return nil, fmt.Errorf("field %s: expected a list, got %T", f.Name, v)
				}
				for _, item := range items {
					k, err := toNaturalKey(item)
					if err != nil {
						return nil, fmt.Errorf("field %s: %w", f.Name, err)
					}
					keys = append(keys, k)
				}
			}
			rec.Relations[f.Name] = keys
		}
	}

	return rec, nil
}

// splitDocument separates front matter from content. The split happens at
// most once, so content may itself contain separator lines.
func splitDocument(text string, hasContent bool) (front, content string, separated bool) {
	if !hasContent {
		return text, "", false
	}
	if rest, ok := strings.CutPrefix(text, Separator[1:]); ok {
		return "", rest, true
	}
	if front, content, ok := strings.Cut(text, Separator); ok {
		return front, content, true
	}
	return text, "", false
}

func deriveKey(m *Model, values map[string]any) (string, error) {
	if len(m.keyFields) == 0 {
		return "", errors.New("record has no key")
	}
	strs := make(map[string]string, len(m.keyFields))
	for _, name := range m.keyFields {
		if v := values[name]; v != nil {
			strs[name] = scalarString(v)
		}
	}
	return pathtmpl.DeriveKey(strs, m.keyFields)
}

func contentFormat(m *Model, rec *Record) string {
	if rec.ContentFormat != "" {
		return rec.ContentFormat
	}
	return m.DefaultContentFormat()
}

// toNaturalKey wraps a relation value as a tuple: a scalar becomes a
// single-element tuple, a list of scalars a multi-part one.
func toNaturalKey(v any) (NaturalKey, error) {
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return nil, errors.New("empty natural key")
		}
		k := make(NaturalKey, len(t))
		for i, item := range t {
			s, err := naturalKeyPart(item)
			if err != nil {
				return nil, err
			}
			k[i] = s
		}
		return k, nil
	default:
		s, err := naturalKeyPart(v)
		if err != nil {
			return nil, err
		}
		return NaturalKey{s}, nil
	}
}

func naturalKeyPart(v any) (string, error) {
	switch v.(type) {
	case string, int, int64, uint64, float64, bool:
		s := scalarString(v)
		if s == "" {
			return "", errors.New("empty natural key")
		}
		return s, nil
	}
	return "", fmt.Errorf("invalid natural key value: %v", v)
}

func scalarString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func encodeScalar(v any) (*yaml.Node, error) {
	var n yaml.Node
	if err := n.Encode(v); err != nil {
		return nil, err
	}
	return &n, nil
}

// encodeTimeOfDay always emits a quoted string: a bare 16:17:18 may be read
// back as a sexagesimal integer.
func encodeTimeOfDay(v any) (*yaml.Node, error) {
	s, err := normalizeTimeOfDay(v)
	if err != nil {
		return nil, err
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s, Style: yaml.DoubleQuotedStyle}, nil
}

func encodeNaturalKey(k NaturalKey) (*yaml.Node, error) {
	if len(k) == 1 {
		return encodeScalar(k[0])
	}
	return encodeScalar([]string(k))
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return rv.Len() == 0
	}
	return rv.IsZero()
}
