package migrations

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp(t *testing.T) {
	t.Run("creates tables on a fresh database", func(t *testing.T) {
		db := openTestDB(t)

		if err := MigrateUp(db); err != nil {
			t.Fatalf("MigrateUp() error = %v", err)
		}

		for _, table := range []string{"records", "relations", "sync_operations", "schema_migrations"} {
			var name string
			err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
			if err != nil {
				t.Errorf("table %s missing: %v", table, err)
			}
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		db := openTestDB(t)

		if err := MigrateUp(db); err != nil {
			t.Fatalf("first MigrateUp() error = %v", err)
		}
		if err := MigrateUp(db); err != nil {
			t.Errorf("second MigrateUp() error = %v", err)
		}
		if err := CheckDBMigrationStatus(db); err != nil {
			t.Errorf("CheckDBMigrationStatus() error = %v", err)
		}
	})
}

func TestCheckDBMigrationStatus(t *testing.T) {
	t.Run("fresh database needs migration", func(t *testing.T) {
		db := openTestDB(t)

		err := CheckDBMigrationStatus(db)
		if !errors.Is(err, ErrNoVersion) {
			t.Errorf("CheckDBMigrationStatus() error = %v, want ErrNoVersion", err)
		}
	})

	t.Run("migrated database is current", func(t *testing.T) {
		db := openTestDB(t)
		if err := MigrateUp(db); err != nil {
			t.Fatalf("MigrateUp() error = %v", err)
		}

		if err := CheckDBMigrationStatus(db); err != nil {
			t.Errorf("CheckDBMigrationStatus() error = %v", err)
		}
	})
}

func TestLatestVersion(t *testing.T) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		t.Fatalf("iofs.New() error = %v", err)
	}
	defer src.Close()

	got, err := LatestVersion(src)
	if err != nil {
		t.Fatalf("LatestVersion() error = %v", err)
	}
	if got != 1 {
		t.Errorf("LatestVersion() = %d, want 1", got)
	}
}

func TestSchema(t *testing.T) {
	t.Run("model and key are unique together", func(t *testing.T) {
		db := openTestDB(t)
		if err := MigrateUp(db); err != nil {
			t.Fatalf("MigrateUp() error = %v", err)
		}

		insert := "INSERT INTO records (model, natural_key, updated_at) VALUES (?, ?, datetime('now'))"
		if _, err := db.Exec(insert, "blog.tag", "go"); err != nil {
			t.Fatalf("first insert error = %v", err)
		}
		if _, err := db.Exec(insert, "blog.article", "go"); err != nil {
			t.Errorf("same key in another model error = %v", err)
		}
		if _, err := db.Exec(insert, "blog.tag", "go"); err == nil {
			t.Error("duplicate insert succeeded, want unique constraint violation")
		}
	})

	t.Run("relations require existing records", func(t *testing.T) {
		db := openTestDB(t)
		if err := MigrateUp(db); err != nil {
			t.Fatalf("MigrateUp() error = %v", err)
		}

		_, err := db.Exec("INSERT INTO relations (record_id, field, position, target_id) VALUES (1, 'tags', 0, 2)")
		if err == nil {
			t.Error("insert succeeded, want foreign key violation")
		}
	})

	t.Run("deleting a record removes its relations", func(t *testing.T) {
		db := openTestDB(t)
		if err := MigrateUp(db); err != nil {
			t.Fatalf("MigrateUp() error = %v", err)
		}

		mustExec(t, db, "INSERT INTO records (id, model, natural_key, updated_at) VALUES (1, 'blog.article', 'a', datetime('now'))")
		mustExec(t, db, "INSERT INTO records (id, model, natural_key, updated_at) VALUES (2, 'blog.tag', 't', datetime('now'))")
		mustExec(t, db, "INSERT INTO relations (record_id, field, position, target_id) VALUES (1, 'tags', 0, 2)")
		mustExec(t, db, "DELETE FROM records WHERE id = 2")

		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM relations").Scan(&n); err != nil {
			t.Fatalf("count error = %v", err)
		}
		if n != 0 {
			t.Errorf("relations after delete = %d, want 0", n)
		}
	})
}

func mustExec(t *testing.T, db *sql.DB, query string) {
	t.Helper()
	if _, err := db.Exec(query); err != nil {
		t.Fatalf("Exec(%q) error = %v", query, err)
	}
}

// openTestDB opens an in-memory SQLite database with foreign keys enabled.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	return db
}
