package amber

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"amber-go/internal/metrics"
)

// Options tunes the service behaviour.
type Options struct {
	// OnDelete decides what happens to records whose file disappears.
	OnDelete DeletePolicy

	// LenientReload keeps the watch loop running after a failed tick.
	LenientReload bool
}

// Service is the orchestration layer that moves records between the
// document corpus and the repository.
type Service struct {
	registry *Registry
	codec    *Codec
	repo     Repository
	fsmgr    FilesystemManager
	logger   Logger
	opts     Options
}

// NewService creates a new Service with the provided dependencies.
func NewService(registry *Registry, repo Repository, fsmgr FilesystemManager, logger Logger, opts Options) *Service {
	return &Service{
		registry: registry,
		codec:    NewCodec(registry),
		repo:     repo,
		fsmgr:    fsmgr,
		logger:   logger,
		opts:     opts,
	}
}

// Files enumerates every document of every model, in model declaration
// order and sorted by path within a model. A path whose first matching
// model is a different one is listed only under that model.
func (s *Service) Files() ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	for _, m := range s.registry.models {
		paths, err := s.modelFiles(m)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			if seen[p] {
				continue
			}
			seen[p] = true
			files = append(files, p)
		}
	}
	return files, nil
}

func (s *Service) modelFiles(m *Model) ([]string, error) {
	matches, err := s.fsmgr.Glob(s.registry.Glob(m))
	if err != nil {
		return nil, fmt.Errorf("listing %s files: %w", m.ID(), err)
	}
	slices.Sort(matches)

	var files []string
	for _, p := range matches {
		if s.fsmgr.IsIgnored(p) {
			continue
		}
		owner, _, err := s.registry.Match(p)
		if err != nil || owner != m {
			continue
		}
		files = append(files, p)
	}
	return files, nil
}

// LoadAll loads every document into the repository as one batch.
func (s *Service) LoadAll(ctx context.Context) (*LoadResult, error) {
	files, err := s.Files()
	if err != nil {
		return nil, err
	}
	return s.LoadFiles(ctx, files)
}

// DumpAll writes every record of every model to its document and removes
// documents whose record no longer exists. Every record is serialized before
// any file is touched. It refuses with ErrEmptyRepository when the repository
// holds no records but documents exist, since that would only delete the
// corpus. It returns the number of files written.
func (s *Service) DumpAll(ctx context.Context) (int, error) {
	var docs []document
	for _, m := range s.registry.models {
		records, err := s.repo.List(ctx, m.ID())
		if err != nil {
			return 0, fmt.Errorf("listing %s records: %w", m.ID(), err)
		}
		for _, rec := range records {
			doc, err := s.render(rec)
			if err != nil {
				return 0, err
			}
			docs = append(docs, doc)
		}
	}

	existing, err := s.Files()
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 && len(existing) > 0 {
		return 0, fmt.Errorf("%w: %d document(s) on disk", ErrEmptyRepository, len(existing))
	}

	keep := make(map[string]bool, len(docs))
	for _, d := range docs {
		keep[d.path] = true
	}
	stale := 0
	for _, p := range existing {
		if keep[p] {
			continue
		}
		if err := s.fsmgr.Remove(p); err != nil {
			return 0, fmt.Errorf("removing %s: %w", p, err)
		}
		stale++
	}
	s.logger.Debug("stale documents removed", "count", stale)

	for i, d := range docs {
		if err := s.write(d); err != nil {
			return i, err
		}
	}

	s.logger.Info("dump complete", "files", len(docs))
	return len(docs), nil
}

// document is a serialized record ready to be written.
type document struct {
	rec  *Record
	path string
	data []byte
}

func (s *Service) render(rec *Record) (document, error) {
	path, err := s.codec.PathFor(rec)
	if err != nil {
		return document{}, fmt.Errorf("computing path for %s %q: %w", rec.Model, rec.Key, err)
	}
	data, err := s.codec.Serialize(rec)
	if err != nil {
		return document{}, fmt.Errorf("serializing %s %q: %w", rec.Model, rec.Key, err)
	}
	return document{rec: rec, path: path, data: data}, nil
}

func (s *Service) write(d document) error {
	if err := s.fsmgr.WriteFile(d.path, d.data); err != nil {
		return fmt.Errorf("writing %s: %w", d.path, err)
	}
	metrics.RecordsDumped.WithLabelValues(d.rec.Model).Inc()
	s.logger.Debug("record dumped", "model", d.rec.Model, "key", d.rec.Key, "path", d.path)
	return nil
}

// DumpRecord writes one record to its document and returns the path.
func (s *Service) DumpRecord(rec *Record) (string, error) {
	d, err := s.render(rec)
	if err != nil {
		return "", err
	}
	if err := s.write(d); err != nil {
		return "", err
	}
	return d.path, nil
}

// Lookup returns the record stored for a document path, or nil.
func (s *Service) Lookup(ctx context.Context, path string) (*Record, error) {
	m, key, err := s.keyForPath(path)
	if err != nil {
		return nil, err
	}
	return s.repo.GetByKey(ctx, m.ID(), key)
}

// keyForPath recovers the model and key of a document from its path alone.
func (s *Service) keyForPath(path string) (*Model, string, error) {
	m, values, err := s.registry.Match(path)
	if err != nil {
		return nil, "", err
	}
	if key := values[KeyField]; key != "" {
		return m, key, nil
	}

	fields := make(map[string]any, len(values))
	for name, v := range values {
		fields[name] = v
	}
	key, err := deriveKey(m, fields)
	if err != nil {
		return nil, "", fmt.Errorf("deriving key from %s: %w", path, err)
	}
	return m, key, nil
}

func absPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	return abs, nil
}
