package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"amber-go/internal/amber"
	"amber-go/internal/config"
)

// newTestConfig returns a config for a two-model project in a temp dir
// holding one tag and one author.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()

	root := t.TempDir()
	cfg := config.NewConfig(root)
	cfg.Models = []config.ModelConfig{
		{
			AppLabel: "blog",
			Name:     "tag",
			Fields:   []config.FieldConfig{{Name: "label"}},
		},
		{
			AppLabel:     "blog",
			Name:         "author",
			PathTemplate: "data/authors/[key].yml",
			Fields: []config.FieldConfig{
				{Name: "name"},
				{Name: "tags", Kind: "many_to_many", Target: "tag"},
			},
		},
	}

	writeProjectFile(t, root, "data/tag/go.yml", "label: Go\n")
	writeProjectFile(t, root, "data/authors/jane.yml", "name: Jane\ntags:\n- go\n")
	return cfg
}

func writeProjectFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func newTestApp(t *testing.T, cfg *config.Config, operation string) *AmberApp {
	t.Helper()
	a, err := NewAmberApp(cfg, operation)
	if err != nil {
		t.Fatalf("NewAmberApp() error = %v", err)
	}
	return a
}

func TestNewRegistry(t *testing.T) {
	t.Run("builds declared models", func(t *testing.T) {
		cfg := newTestConfig(t)

		r, err := NewRegistry(cfg)
		if err != nil {
			t.Fatalf("NewRegistry() error = %v", err)
		}

		m, err := r.Model("blog.author")
		if err != nil {
			t.Fatalf("Model() error = %v", err)
		}
		if m == nil {
			t.Fatal("Model(blog.author) = nil")
		}
	})

	t.Run("unknown field kind", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Models[0].Fields[0].Kind = "json"

		if _, err := NewRegistry(cfg); err == nil {
			t.Error("NewRegistry() error = nil, want error")
		}
	})
}

func TestNewAmberApp_invalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{name: "no models", modify: func(c *config.Config) { c.Models = nil }},
		{name: "bad policy", modify: func(c *config.Config) { c.OnDelete = "purge" }},
		{name: "bad database", modify: func(c *config.Config) { c.Database.Type = "postgres" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t)
			tt.modify(cfg)

			if _, err := NewAmberApp(cfg, "Load"); err == nil {
				t.Error("NewAmberApp() error = nil, want error")
			}
		})
	}
}

func TestAmberApp_LoadAndDump(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	a := newTestApp(t, cfg, "Load")
	defer a.Close()

	result, err := a.Load(ctx, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if result.Loaded != 2 || result.Deferred != result.Resolved {
		t.Errorf("Load() = %+v, want 2 loaded with every deferred field resolved", result)
	}

	// Dumping freshly loaded records reproduces the documents.
	os.Remove(filepath.Join(cfg.ProjectRoot, "data", "tag", "go.yml"))
	n, err := a.Dump(ctx)
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Dump() = %d, want 2", n)
	}
	data, err := os.ReadFile(filepath.Join(cfg.ProjectRoot, "data", "tag", "go.yml"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "label: Go\n" {
		t.Errorf("go.yml = %q, want %q", data, "label: Go\n")
	}
}

func TestAmberApp_DumpKeepsDocumentsWithoutRecords(t *testing.T) {
	tests := []struct {
		name    string
		dbType  string
		wantErr error
	}{
		{name: "memory database", dbType: "memory", wantErr: ErrMemoryDump},
		{name: "sqlite database never loaded", dbType: "sqlite", wantErr: amber.ErrEmptyRepository},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.Database.Type = tt.dbType
			a := newTestApp(t, cfg, "Dump")
			defer a.Close()

			n, err := a.Dump(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Dump() error = %v, want %v", err, tt.wantErr)
			}
			if n != 0 {
				t.Errorf("Dump() = %d, want 0", n)
			}

			for _, rel := range []string{"data/tag/go.yml", "data/authors/jane.yml"} {
				if _, err := os.Stat(filepath.Join(cfg.ProjectRoot, filepath.FromSlash(rel))); err != nil {
					t.Errorf("%s after Dump(): %v", rel, err)
				}
			}
		})
	}
}

func TestAmberApp_LoadPaths(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	a := newTestApp(t, cfg, "Load")
	defer a.Close()

	// Relative paths are taken from the working directory.
	t.Chdir(cfg.ProjectRoot)

	result, err := a.Load(ctx, []string{filepath.Join("data", "tag", "go.yml")})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if result.Loaded != 1 {
		t.Errorf("Loaded = %d, want 1", result.Loaded)
	}
}

func TestAmberApp_History(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)

	a := newTestApp(t, cfg, "Load")
	if _, err := a.Load(ctx, nil); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	writeProjectFile(t, cfg.ProjectRoot, "data/tag/bad.yml", "label: [unclosed\n")
	a = newTestApp(t, cfg, "Load")
	_, err := a.Load(ctx, nil)
	var lerr *amber.LoadFromFileError
	if !errors.As(err, &lerr) {
		t.Fatalf("Load() error = %v, want LoadFromFileError", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	a = newTestApp(t, cfg, "History")
	defer a.Close()
	ops, err := a.GetHistory(10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}

	type row struct{ Operation, Status string }
	var got []row
	for _, op := range ops {
		got = append(got, row{op.Operation, op.Status})
		if !op.FinishedAt.Valid {
			t.Errorf("operation %d has no finish time", op.ID)
		}
	}
	want := []row{{"Load", StatusError}, {"Load", StatusSuccess}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetHistory() mismatch (-want +got):\n%s", diff)
	}
}

func TestAmberApp_BuildAndPublish(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	cfg.CNAME = "example.com"
	a := newTestApp(t, cfg, "Build")
	defer a.Close()

	n, err := a.Build(ctx)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if n == 0 {
		t.Fatal("Build() wrote no pages")
	}

	for _, rel := range []string{"index.html", "blog.tag/go/index.html", "blog.author/jane/index.html", "CNAME"} {
		if _, err := os.Stat(filepath.Join(cfg.OutputDir, filepath.FromSlash(rel))); err != nil {
			t.Errorf("output %s: %v", rel, err)
		}
	}

	published, err := a.Publish(ctx)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if published != n+1 {
		t.Errorf("Publish() = %d, want %d", published, n+1)
	}
	data, err := os.ReadFile(filepath.Join(cfg.Publish.FSRoot, "CNAME"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "example.com" {
		t.Errorf("CNAME = %q, want %q", data, "example.com")
	}
}
