package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sync/errgroup"

	"amber-go/internal/amber"
	"amber-go/internal/config"
	"amber-go/internal/database"
	"amber-go/internal/fs"
	"amber-go/internal/publish"
	"amber-go/internal/site"
)

// ErrMemoryDump is returned when dumping from an in-memory database, which
// holds nothing until documents are loaded in the same run.
var ErrMemoryDump = errors.New("dump needs a persistent database, the memory database is empty on every run")

// AmberApp is the application layer between the CLI and the amber service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and manages the DB lifecycle on Close.
type AmberApp struct {
	cfg      *config.Config
	db       *database.SQLiteDatabase
	fsmgr    *fs.OSFilesystemManager
	registry *amber.Registry
	service  *amber.Service
	logger   amber.Logger
	op       *Operation
	logFile  *os.File
}

// NewRegistry builds the model registry declared in the config.
func NewRegistry(cfg *config.Config) (*amber.Registry, error) {
	specs := make([]amber.ModelSpec, 0, len(cfg.Models))
	for _, mc := range cfg.Models {
		spec := amber.ModelSpec{
			AppLabel:     mc.AppLabel,
			Name:         mc.Name,
			PathTemplate: mc.PathTemplate,
			HasContent:   mc.HasContent,
			KeyFields:    mc.KeyFields,
			KeyStructure: mc.KeyStructure,
		}
		for _, fc := range mc.Fields {
			kind, err := amber.ParseFieldKind(fc.Kind)
			if err != nil {
				return nil, fmt.Errorf("model %s.%s field %s: %w", mc.AppLabel, mc.Name, fc.Name, err)
			}
			spec.Fields = append(spec.Fields, amber.Field{Name: fc.Name, Kind: kind, Target: fc.Target})
		}
		specs = append(specs, spec)
	}
	return amber.NewRegistry(cfg.ProjectRoot, specs)
}

// NewAmberApp creates a fully wired AmberApp from the given config.
// operation identifies the CLI command being run (e.g. "Load", "Build").
// The caller must call Close when done.
func NewAmberApp(cfg *config.Config, operation string) (*AmberApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	policy, err := amber.ParseDeletePolicy(cfg.OnDelete)
	if err != nil {
		return nil, err
	}

	registry, err := NewRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("building model registry: %w", err)
	}

	fsmgr, err := fs.NewOSFilesystemManager(cfg.ProjectRoot, cfg.Filesystem.Ignore)
	if err != nil {
		return nil, fmt.Errorf("creating filesystem manager: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, registry)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	// The database is a cache of the documents, so its schema is brought
	// up to date rather than checked.
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	slogger, logFile, err := newLogger(cfg.LogDir, newOpID())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	svc := amber.NewService(registry, db, fsmgr, logger, amber.Options{
		OnDelete:      policy,
		LenientReload: cfg.LenientReload,
	})

	return &AmberApp{
		cfg:      cfg,
		db:       db,
		fsmgr:    fsmgr,
		registry: registry,
		service:  svc,
		logger:   logger,
		op:       NewOperation(operation, ""),
		logFile:  logFile,
	}, nil
}

// persistOperation saves the sync operation to the database, giving it an auto-increment ID.
// This should only be called for DB-mutating commands.
func (a *AmberApp) persistOperation(parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	dbOp, err := a.db.CreateSyncOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting sync operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// track records the outcome of the running operation.
func (a *AmberApp) track(err error) error {
	if err != nil {
		a.op.Status = StatusError
	}
	return err
}

// Load loads the given documents as one batch, or every document when no
// path is given.
func (a *AmberApp) Load(ctx context.Context, rawPaths []string) (*amber.LoadResult, error) {
	if err := a.persistOperation(fmt.Sprint(rawPaths)); err != nil {
		return nil, err
	}
	if len(rawPaths) == 0 {
		result, err := a.service.LoadAll(ctx)
		return result, a.track(err)
	}

	paths := make([]string, len(rawPaths))
	for i, p := range rawPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, a.track(fmt.Errorf("resolving path: %w", err))
		}
		paths[i] = abs
	}
	result, err := a.service.LoadFiles(ctx, paths)
	return result, a.track(err)
}

// Dump writes every record back to its document. An in-memory database
// starts empty each run, so dumping from one is refused.
func (a *AmberApp) Dump(ctx context.Context) (int, error) {
	if a.cfg.Database.Type == "memory" {
		return 0, ErrMemoryDump
	}
	if err := a.persistOperation(""); err != nil {
		return 0, err
	}
	n, err := a.service.DumpAll(ctx)
	return n, a.track(err)
}

func (a *AmberApp) newSite(metrics bool) (*site.Server, error) {
	return site.NewServer(a.registry, a.db, a.logger, site.Options{
		StaticDir: a.cfg.Site.StaticDir,
		StaticURL: a.cfg.Site.StaticURL,
		Metrics:   metrics,
	})
}

// Build loads every document and renders the site into the output directory.
// It returns the number of pages written.
func (a *AmberApp) Build(ctx context.Context) (int, error) {
	if err := a.persistOperation(a.cfg.OutputDir); err != nil {
		return 0, err
	}
	if _, err := a.service.LoadAll(ctx); err != nil {
		return 0, a.track(err)
	}

	s, err := a.newSite(false)
	if err != nil {
		return 0, a.track(err)
	}
	n, err := site.Build(ctx, s.Handler(), site.BuildOptions{
		OutputDir: a.cfg.OutputDir,
		CNAME:     a.cfg.CNAME,
	}, a.logger)
	return n, a.track(err)
}

// Serve loads every document, then serves the site while reloading
// documents as they change, until ctx is cancelled or reloading fails.
// A port of 0 keeps the configured listen address.
func (a *AmberApp) Serve(ctx context.Context, port int) error {
	addr := a.cfg.ListenAddr
	if port != 0 {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = "127.0.0.1"
		}
		addr = net.JoinHostPort(host, strconv.Itoa(port))
	}
	if err := a.persistOperation(addr); err != nil {
		return err
	}

	interval, err := a.cfg.Poll()
	if err != nil {
		return a.track(err)
	}
	if _, err := a.service.LoadAll(ctx); err != nil {
		return a.track(err)
	}
	snap, err := a.service.Snapshot()
	if err != nil {
		return a.track(err)
	}

	s, err := a.newSite(a.cfg.Site.Metrics)
	if err != nil {
		return a.track(err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return site.Serve(ctx, s.Handler(), addr, a.logger)
	})
	g.Go(func() error {
		return a.service.Watch(ctx, interval, snap)
	})
	return a.track(g.Wait())
}

// Publish copies the built output to the configured publish target.
func (a *AmberApp) Publish(ctx context.Context) (int, error) {
	target, err := publish.NewTargetFromConfig(ctx, a.cfg.Publish)
	if err != nil {
		return 0, fmt.Errorf("creating publish target: %w", err)
	}
	return publish.Publish(ctx, target, a.cfg.OutputDir, a.logger)
}

// GetHistory returns the most recent sync operations.
func (a *AmberApp) GetHistory(limit int) ([]*database.SyncOperation, error) {
	return a.db.ListSyncOperations(limit)
}

// Close finalizes the operation and closes all resources.
func (a *AmberApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.db.FinishSyncOperation(a.op.ID, a.op.Status); err != nil {
			firstErr = fmt.Errorf("finishing sync operation: %w", err)
		}
	}

	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
