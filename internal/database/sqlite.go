package database

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"amber-go/internal/amber"
	"amber-go/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ModelDescriber supplies the field descriptors of a model. *amber.Registry
// implements it.
type ModelDescriber interface {
	Describe(model string) ([]amber.Field, error)
}

// querier is the subset of *sql.DB and *sql.Tx the queries need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteDatabase implements amber.Repository using SQLite.
type SQLiteDatabase struct {
	db     *sql.DB
	q      querier
	inTx   bool
	models ModelDescriber
	path   string
}

// NewSQLiteDatabase opens a SQLite database.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteDatabase(path string, models ModelDescriber) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, q: db, models: models, path: path}, nil
}

// OpenConnection opens a SQLite connection with foreign keys enforced.
// A single connection is used so that an in-memory database is shared by
// every query and writers never contend.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// Record operations

type recordRow struct {
	id            int64
	model         string
	key           string
	contentFormat string
	content       string
	fields        string
}

const selectRecord = `SELECT id, model, natural_key, content_format, content, fields FROM records`

func scanRecord(sc interface{ Scan(...any) error }) (*recordRow, error) {
	var r recordRow
	if err := sc.Scan(&r.id, &r.model, &r.key, &r.contentFormat, &r.content, &r.fields); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteDatabase) GetByKey(ctx context.Context, model, key string) (*amber.Record, error) {
	row, err := scanRecord(s.q.QueryRowContext(ctx, selectRecord+` WHERE model = ? AND natural_key = ?`, model, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding record: %w", err)
	}
	return s.toRecord(ctx, row)
}

func (s *SQLiteDatabase) List(ctx context.Context, model string) ([]*amber.Record, error) {
	rows, err := s.q.QueryContext(ctx, selectRecord+` WHERE model = ? ORDER BY natural_key`, model)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	var found []*recordRow
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("listing records: %w", err)
	}
	rows.Close()

	// Relations are read after the cursor is closed: there is only one
	// connection.
	records := make([]*amber.Record, len(found))
	for i, r := range found {
		rec, err := s.toRecord(ctx, r)
		if err != nil {
			return nil, err
		}
		records[i] = rec
	}
	return records, nil
}

func (s *SQLiteDatabase) toRecord(ctx context.Context, r *recordRow) (*amber.Record, error) {
	fields, err := decodeFields(r.fields)
	if err != nil {
		return nil, fmt.Errorf("decoding fields of %s %q: %w", r.model, r.key, err)
	}

	rec := &amber.Record{
		Model:         r.model,
		Key:           r.key,
		ContentFormat: r.contentFormat,
		Content:       r.content,
		Fields:        fields,
		Relations:     make(map[string][]amber.NaturalKey),
	}

	descs, err := s.describe(r.model)
	if err != nil {
		return nil, err
	}
	for _, f := range descs {
		if f.Kind.IsRelation() {
			rec.Relations[f.Name] = []amber.NaturalKey{}
		}
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT r.field, t.natural_key
		FROM relations r JOIN records t ON t.id = r.target_id
		WHERE r.record_id = ?
		ORDER BY r.field, r.position`, r.id)
	if err != nil {
		return nil, fmt.Errorf("reading relations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var field, target string
		if err := rows.Scan(&field, &target); err != nil {
			return nil, fmt.Errorf("scanning relation: %w", err)
		}
		rec.Relations[field] = append(rec.Relations[field], amber.NaturalKey{target})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading relations: %w", err)
	}
	return rec, nil
}

func (s *SQLiteDatabase) Save(ctx context.Context, rec *amber.Record) error {
	if rec.Key == "" {
		return fmt.Errorf("saving %s: empty key", rec.Model)
	}

	fields := rec.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding fields: %w", err)
	}

	return s.WithinTx(ctx, func(repo amber.Repository) error {
		tx := repo.(*SQLiteDatabase)

		var id int64
		err := tx.q.QueryRowContext(ctx, `
			INSERT INTO records (model, natural_key, content_format, content, fields, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (model, natural_key) DO UPDATE SET
				content_format = excluded.content_format,
				content = excluded.content,
				fields = excluded.fields,
				updated_at = excluded.updated_at
			RETURNING id`,
			rec.Model, rec.Key, rec.ContentFormat, rec.Content, string(encoded), time.Now().UTC(),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("upserting record: %w", err)
		}

		if len(rec.Relations) == 0 {
			return nil
		}
		descs, err := tx.describe(rec.Model)
		if err != nil {
			return err
		}
		targets := make(map[string]string, len(descs))
		for _, f := range descs {
			if f.Kind.IsRelation() {
				targets[f.Name] = f.Target
			}
		}

		for field, keys := range rec.Relations {
			target, ok := targets[field]
			if !ok {
				return fmt.Errorf("%s has no relation field %q", rec.Model, field)
			}
			if _, err := tx.q.ExecContext(ctx, `DELETE FROM relations WHERE record_id = ? AND field = ?`, id, field); err != nil {
				return fmt.Errorf("clearing relation %s: %w", field, err)
			}
			for pos, nk := range keys {
				targetKey, err := nk.Key()
				if err != nil {
					return fmt.Errorf("relation %s: %w", field, err)
				}
				targetID, err := tx.recordID(ctx, target, targetKey)
				if err != nil {
					return err
				}
				if targetID == 0 {
					return &amber.UnresolvedReferenceError{
						Model: rec.Model, Key: rec.Key, Field: field,
						Target: target, TargetKey: targetKey,
					}
				}
				if _, err := tx.q.ExecContext(ctx,
					`INSERT INTO relations (record_id, field, position, target_id) VALUES (?, ?, ?, ?)`,
					id, field, pos, targetID); err != nil {
					return fmt.Errorf("linking %s: %w", field, err)
				}
			}
		}
		return nil
	})
}

// recordID returns the row id of a record, or 0 if it does not exist.
func (s *SQLiteDatabase) recordID(ctx context.Context, model, key string) (int64, error) {
	var id int64
	err := s.q.QueryRowContext(ctx, `SELECT id FROM records WHERE model = ? AND natural_key = ?`, model, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("finding %s %q: %w", model, key, err)
	}
	return id, nil
}

func (s *SQLiteDatabase) Delete(ctx context.Context, model, key string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM records WHERE model = ? AND natural_key = ?`, model, key); err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) Referrers(ctx context.Context, model, key string) ([]amber.Reference, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT DISTINCT src.model, src.natural_key, r.field
		FROM relations r
		JOIN records src ON src.id = r.record_id
		JOIN records t ON t.id = r.target_id
		WHERE t.model = ? AND t.natural_key = ?
		ORDER BY src.model, src.natural_key, r.field`, model, key)
	if err != nil {
		return nil, fmt.Errorf("finding referrers: %w", err)
	}
	defer rows.Close()

	var refs []amber.Reference
	for rows.Next() {
		var ref amber.Reference
		if err := rows.Scan(&ref.Model, &ref.Key, &ref.Field); err != nil {
			return nil, fmt.Errorf("scanning referrer: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// WithinTx runs fn in a transaction. Calls nested inside an open
// transaction join it.
func (s *SQLiteDatabase) WithinTx(ctx context.Context, fn func(amber.Repository) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&SQLiteDatabase{db: s.db, q: tx, inTx: true, models: s.models, path: s.path}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) describe(model string) ([]amber.Field, error) {
	if s.models == nil {
		return nil, nil
	}
	fields, err := s.models.Describe(model)
	if err != nil {
		return nil, fmt.Errorf("describing %s: %w", model, err)
	}
	return fields, nil
}

// decodeFields reads the stored JSON object, turning whole numbers back
// into ints so values compare equal to freshly parsed front matter.
func decodeFields(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		fields[k] = normalizeNumbers(v)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		for i := range t {
			t[i] = normalizeNumbers(t[i])
		}
	case map[string]any:
		for k := range t {
			t[k] = normalizeNumbers(t[k])
		}
	}
	return v
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Migrate applies pending schema migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil && !s.inTx {
		return s.db.Close()
	}
	return nil
}

var _ amber.Repository = (*SQLiteDatabase)(nil)
