package testutil

import (
	"path/filepath"
	"testing"

	"amber-go/internal/amber"
)

// ProjectRoot is the root of the fixture project in the mock filesystem.
var ProjectRoot = filepath.FromSlash("/project")

// FixtureModels declares a small blog:
//
//	blog.tag      data/tag/<key>.yml                     no content
//	blog.author   data/authors/<key>.yml                 no content, editor -> author, tags -> tag
//	blog.article  data/articles/<language>/<slug>.<fmt>  content, key "<language>/<slug>",
//	              author -> author, tags -> tag, published_at is a time of day
func FixtureModels() []amber.ModelSpec {
	return []amber.ModelSpec{
		{
			AppLabel: "blog",
			Name:     "tag",
			Fields:   []amber.Field{{Name: "label"}},
		},
		{
			AppLabel:     "blog",
			Name:         "author",
			PathTemplate: "data/authors/[key].yml",
			Fields: []amber.Field{
				{Name: "name"},
				{Name: "editor", Kind: amber.ForeignKey, Target: "author"},
				{Name: "tags", Kind: amber.ManyToMany, Target: "tag"},
			},
		},
		{
			AppLabel:     "blog",
			Name:         "article",
			PathTemplate: "data/articles/[language]/[slug].[content_format]",
			HasContent:   true,
			KeyStructure: "[language]/[slug]",
			Fields: []amber.Field{
				{Name: "language"},
				{Name: "slug"},
				{Name: "title"},
				{Name: "published_at", Kind: amber.Time},
				{Name: "author", Kind: amber.ForeignKey, Target: "blog.author"},
				{Name: "tags", Kind: amber.ManyToMany, Target: "tag"},
			},
		},
	}
}

// NewTestRegistry builds the fixture registry rooted at root.
func NewTestRegistry(t *testing.T, root string) *amber.Registry {
	t.Helper()

	r, err := amber.NewRegistry(root, FixtureModels())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

// Env bundles a service wired to an in-memory database and mock filesystem.
type Env struct {
	Registry *amber.Registry
	DB       amber.Repository
	FS       *MockFilesystemManager
	Service  *amber.Service
}

// NewEnv creates an Env over the fixture models rooted at ProjectRoot.
func NewEnv(t *testing.T, opts amber.Options) *Env {
	t.Helper()

	registry := NewTestRegistry(t, ProjectRoot)
	db := NewTestDatabase(t, registry)
	fsmgr := NewMockFilesystemManager()

	return &Env{
		Registry: registry,
		DB:       db,
		FS:       fsmgr,
		Service:  amber.NewService(registry, db, fsmgr, amber.NewNopLogger(), opts),
	}
}

// Path joins slash-separated elements under ProjectRoot.
func Path(rel string) string {
	return filepath.Join(ProjectRoot, filepath.FromSlash(rel))
}
