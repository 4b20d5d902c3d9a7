package amber

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingContent is returned when a content-bearing document has front
// matter but no separator before its content.
var ErrMissingContent = errors.New("missing content")

// ErrEmptyRepository is returned by a dump that would remove every document
// because the repository holds no records.
var ErrEmptyRepository = errors.New("repository is empty, load documents before dumping")

// ParseError reports malformed front matter.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "parsing front matter: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// DeserializationError is returned for any document that cannot be turned
// into a record.
type DeserializationError struct {
	Path string
	Err  error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("deserializing %s: %v", e.Path, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// UnresolvedReferenceError is returned when a relation target does not exist
// after the deferred retry pass.
type UnresolvedReferenceError struct {
	Model     string
	Key       string
	Field     string
	Target    string
	TargetKey string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s %q: %s refers to missing %s %q", e.Model, e.Key, e.Field, e.Target, e.TargetKey)
}

// PathMatchError is returned when a path belongs to no registered model.
type PathMatchError struct {
	Path string
}

func (e *PathMatchError) Error() string {
	return "path does not match any model: " + e.Path
}

// LoadFromFileError wraps any failure that aborted a load batch with the file
// being processed at the time.
type LoadFromFileError struct {
	Path string
	Err  error
}

func (e *LoadFromFileError) Error() string {
	return fmt.Sprintf("loading %s: %v", e.Path, e.Err)
}

func (e *LoadFromFileError) Unwrap() error { return e.Err }

// DependentsError is returned by the restrict delete policy when other
// records still refer to a record whose file has gone.
type DependentsError struct {
	Model      string
	Key        string
	Dependents []Reference
}

func (e *DependentsError) Error() string {
	refs := make([]string, len(e.Dependents))
	for i, d := range e.Dependents {
		refs[i] = fmt.Sprintf("%s %q (%s)", d.Model, d.Key, d.Field)
	}
	return fmt.Sprintf("cannot delete %s %q: referenced by %s", e.Model, e.Key, strings.Join(refs, ", "))
}
