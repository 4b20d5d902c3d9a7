package amber

import (
	"fmt"
	"maps"
	"strings"

	"amber-go/internal/pathtmpl"
)

// Record is one model instance as exchanged between files and the repository.
type Record struct {
	Model         string
	Key           string
	ContentFormat string
	Content       string

	// Fields holds scalar and time-of-day values by field name.
	Fields map[string]any

	// Relations holds foreign-key (at most one element) and many-to-many
	// targets by field name.
	Relations map[string][]NaturalKey
}

// NaturalKey is the tuple form of a relation target's key.
type NaturalKey []string

// Key returns the target's key string. A multi-part tuple is joined the way
// keys are derived from key fields.
func (k NaturalKey) Key() (string, error) {
	switch len(k) {
	case 0:
		return "", fmt.Errorf("empty natural key")
	case 1:
		return k[0], nil
	}
	values := make(map[string]string, len(k))
	names := make([]string, len(k))
	for i, v := range k {
		names[i] = fmt.Sprint(i)
		values[names[i]] = v
	}
	return pathtmpl.DeriveKey(values, names)
}

func (k NaturalKey) String() string {
	return strings.Join(k, pathtmpl.KeySeparator)
}

// NaturalKeys wraps plain keys as single-element tuples.
func NaturalKeys(keys ...string) []NaturalKey {
	out := make([]NaturalKey, len(keys))
	for i, k := range keys {
		out[i] = NaturalKey{k}
	}
	return out
}

// Clone returns a copy that shares no maps or slices with r.
func (r *Record) Clone() *Record {
	c := *r
	c.Fields = maps.Clone(r.Fields)
	if r.Relations != nil {
		c.Relations = make(map[string][]NaturalKey, len(r.Relations))
		for name, keys := range r.Relations {
			cp := make([]NaturalKey, len(keys))
			for i, k := range keys {
				cp[i] = append(NaturalKey(nil), k...)
			}
			c.Relations[name] = cp
		}
	}
	return &c
}
