package amber

import "context"

// Reference identifies a record field that points at another record.
type Reference struct {
	Model string
	Key   string
	Field string
}

// Repository persists records by model and natural key.
type Repository interface {
	// GetByKey returns the record, or nil if none exists.
	GetByKey(ctx context.Context, model, key string) (*Record, error)

	// List returns every record of a model ordered by key.
	List(ctx context.Context, model string) ([]*Record, error)

	// Save inserts or updates a record. Scalar fields, content and
	// content format are replaced. Only the relation fields present in
	// rec.Relations are replaced; an empty slice clears a relation.
	// A target that does not exist yields *UnresolvedReferenceError.
	Save(ctx context.Context, rec *Record) error

	// Delete removes a record and every relation link to or from it.
	// Deleting a missing record is not an error.
	Delete(ctx context.Context, model, key string) error

	// Referrers lists the relation fields of other records pointing at
	// the given record.
	Referrers(ctx context.Context, model, key string) ([]Reference, error)

	// WithinTx runs fn against a transactional view of the repository.
	// The transaction commits if fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(Repository) error) error
}
