package amber

import (
	"context"
	"errors"
	"fmt"

	"amber-go/internal/metrics"
)

// LoadResult summarizes a load batch.
type LoadResult struct {
	// Loaded is the number of documents saved on the first pass.
	Loaded int

	// Deferred is the number of relation fields whose targets were not
	// yet loaded on the first pass.
	Deferred int

	// Resolved is the number of deferred fields filled on the retry pass.
	Resolved int
}

// deferredRelation is a relation field held back until the rest of the
// batch has been saved.
type deferredRelation struct {
	path  string
	model string
	key   string
	field string
	keys  []NaturalKey
}

// LoadFiles loads a batch of documents in one transaction. Relations whose
// targets are not yet in the repository are saved on a second pass, once
// every document in the batch has been saved; a target still missing then is
// an *UnresolvedReferenceError. Any failure aborts the whole batch and is
// returned as a *LoadFromFileError naming the offending document.
func (s *Service) LoadFiles(ctx context.Context, paths []string) (*LoadResult, error) {
	result := &LoadResult{}

	err := s.repo.WithinTx(ctx, func(repo Repository) error {
		var deferred []deferredRelation
		for _, raw := range paths {
			path, err := absPath(raw)
			if err != nil {
				return &LoadFromFileError{Path: raw, Err: err}
			}
			d, err := s.loadFile(ctx, repo, path)
			if err != nil {
				return &LoadFromFileError{Path: path, Err: err}
			}
			deferred = append(deferred, d...)
			result.Loaded++
		}

		result.Deferred = len(deferred)
		for _, d := range deferred {
			if err := s.resolveDeferred(ctx, repo, d); err != nil {
				return &LoadFromFileError{Path: d.path, Err: err}
			}
			result.Resolved++
		}
		return nil
	})
	if err != nil {
		metrics.LoadErrors.Inc()
		return nil, err
	}

	metrics.DeferredRelations.Add(float64(result.Deferred))
	s.logger.Info("load complete", "files", result.Loaded, "deferred", result.Deferred)
	return result, nil
}

func (s *Service) loadFile(ctx context.Context, repo Repository, path string) ([]deferredRelation, error) {
	data, err := s.fsmgr.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	var deferred []deferredRelation
	for rec, err := range s.codec.Deserialize(path, data) {
		if err != nil {
			return nil, err
		}

		m, err := s.registry.Model(rec.Model)
		if err != nil {
			return nil, err
		}
		for _, f := range m.fields {
			keys, ok := rec.Relations[f.Name]
			if !ok || len(keys) == 0 {
				continue
			}
			missing, err := firstMissing(ctx, repo, f, rec.Model, rec.Key, keys)
			if err != nil {
				return nil, err
			}
			if missing == nil {
				continue
			}
			deferred = append(deferred, deferredRelation{
				path:  path,
				model: rec.Model,
				key:   rec.Key,
				field: f.Name,
				keys:  keys,
			})
			delete(rec.Relations, f.Name)
			s.logger.Debug("relation deferred", "model", rec.Model, "key", rec.Key, "field", f.Name, "target", missing.TargetKey)
		}

		if err := repo.Save(ctx, rec); err != nil {
			return nil, fmt.Errorf("saving %s %q: %w", rec.Model, rec.Key, err)
		}
		metrics.RecordsLoaded.WithLabelValues(rec.Model).Inc()
		s.logger.Debug("file loaded", "path", path, "model", rec.Model, "key", rec.Key)
	}

	return deferred, nil
}

func (s *Service) resolveDeferred(ctx context.Context, repo Repository, d deferredRelation) error {
	m, err := s.registry.Model(d.model)
	if err != nil {
		return err
	}
	f, _ := m.Field(d.field)

	missing, err := firstMissing(ctx, repo, f, d.model, d.key, d.keys)
	if err != nil {
		return err
	}
	if missing != nil {
		return missing
	}

	rec, err := repo.GetByKey(ctx, d.model, d.key)
	if err != nil {
		return fmt.Errorf("finding %s %q: %w", d.model, d.key, err)
	}
	if rec == nil {
		return fmt.Errorf("%s %q disappeared during load", d.model, d.key)
	}
	rec.Relations = map[string][]NaturalKey{d.field: d.keys}
	if err := repo.Save(ctx, rec); err != nil {
		return fmt.Errorf("saving %s %q: %w", d.model, d.key, err)
	}
	return nil
}

// firstMissing returns an error describing the first relation target that
// is not in the repository, or nil when every target exists.
func firstMissing(ctx context.Context, repo Repository, f Field, model, key string, keys []NaturalKey) (*UnresolvedReferenceError, error) {
	for _, nk := range keys {
		target, err := nk.Key()
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		rec, err := repo.GetByKey(ctx, f.Target, target)
		if err != nil {
			return nil, fmt.Errorf("finding %s %q: %w", f.Target, target, err)
		}
		if rec == nil {
			return &UnresolvedReferenceError{
				Model:     model,
				Key:       key,
				Field:     f.Name,
				Target:    f.Target,
				TargetKey: target,
			}, nil
		}
	}
	return nil, nil
}

// IsUnresolved reports whether err was caused by a relation target that
// never appeared.
func IsUnresolved(err error) bool {
	var u *UnresolvedReferenceError
	return errors.As(err, &u)
}
