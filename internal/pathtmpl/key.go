package pathtmpl

import (
	"fmt"
	"regexp"
	"strings"
)

// KeySeparator joins key field values into a natural key. A literal separator
// inside a value is doubled.
const KeySeparator = "/"

// keyValueRe matches one key field value: any non-separator rune or an
// escaped (doubled) separator.
const keyValueRe = `((?:[^/]|//)+)`

// DeriveKey joins the named field values into a natural key.
func DeriveKey(values map[string]string, names []string) (string, error) {
	parts := make([]string, len(names))
	for i, name := range names {
		v, ok := values[name]
		if !ok || v == "" {
			return "", &MissingFieldError{Field: name, Template: strings.Join(names, KeySeparator)}
		}
		parts[i] = strings.ReplaceAll(v, KeySeparator, KeySeparator+KeySeparator)
	}
	return strings.Join(parts, KeySeparator), nil
}

// KeyStructure describes how a natural key is assembled from fields, for
// example "[language]/[slug]". A nil KeyStructure means the key is opaque.
type KeyStructure struct {
	raw   string
	re    *regexp.Regexp
	names []string
}

// CompileKeyStructure compiles a key structure. An empty string yields nil.
// Placeholders must be joined by exactly one KeySeparator, the way DeriveKey
// assembles keys.
func CompileKeyStructure(raw string) (*KeyStructure, error) {
	if raw == "" {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString("^")

	var names []string
	last := 0
	for _, loc := range placeholderRe.FindAllStringSubmatchIndex(raw, -1) {
		lit := raw[last:loc[0]]
		if err := checkLiteral(lit, raw); err != nil {
			return nil, err
		}
		want := KeySeparator
		if len(names) == 0 {
			want = ""
		}
		if lit != want {
			return nil, fmt.Errorf("key structure %q must join placeholders with %q and nothing else", raw, KeySeparator)
		}
		b.WriteString(regexp.QuoteMeta(lit))
		b.WriteString(keyValueRe)
		names = append(names, raw[loc[2]:loc[3]])
		last = loc[1]
	}
	if err := checkLiteral(raw[last:], raw); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("key structure %q has no placeholders", raw)
	}
	if raw[last:] != "" {
		return nil, fmt.Errorf("key structure %q must join placeholders with %q and nothing else", raw, KeySeparator)
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("compiling key structure %q: %w", raw, err)
	}

	return &KeyStructure{raw: raw, re: re, names: names}, nil
}

// String returns the key structure source.
func (k *KeyStructure) String() string {
	if k == nil {
		return ""
	}
	return k.raw
}

// Names returns the field names in the order they appear in the key.
func (k *KeyStructure) Names() []string {
	if k == nil {
		return nil
	}
	return append([]string(nil), k.names...)
}

// Fields recovers the field values from a key. It returns an empty map for an
// opaque (nil) key structure.
func (k *KeyStructure) Fields(key string) (map[string]string, error) {
	values := make(map[string]string)
	if k == nil {
		return values, nil
	}

	m := k.re.FindStringSubmatch(key)
	if m == nil {
		return nil, fmt.Errorf("%w: key %q against %q", ErrNoMatch, key, k.raw)
	}
	for i, name := range k.names {
		values[name] = strings.ReplaceAll(m[i+1], KeySeparator+KeySeparator, KeySeparator)
	}
	return values, nil
}
