package amber

import (
	"context"
	"fmt"

	"amber-go/internal/metrics"
)

// DeletePolicy decides what happens to the records that refer to a record
// whose document has disappeared.
type DeletePolicy string

const (
	// DeleteIgnore deletes the record and drops relation links to it.
	// Referring documents are left as they are.
	DeleteIgnore DeletePolicy = "ignore"

	// DeleteRestrict refuses to delete a record that other records refer
	// to, unless their documents disappeared in the same batch.
	DeleteRestrict DeletePolicy = "restrict"

	// DeleteCascade deletes foreign-key referrers along with their
	// documents, and rewrites the documents of many-to-many referrers.
	DeleteCascade DeletePolicy = "cascade"
)

// ParseDeletePolicy validates a configured policy name.
func ParseDeletePolicy(s string) (DeletePolicy, error) {
	switch p := DeletePolicy(s); p {
	case DeleteIgnore, DeleteRestrict, DeleteCascade:
		return p, nil
	}
	return "", fmt.Errorf("unknown delete policy: %q (want ignore, restrict or cascade)", s)
}

type recordID struct {
	model string
	key   string
}

// deletePlan collects filesystem work to do once the transaction commits.
type deletePlan struct {
	removeFiles []string
	redump      []recordID
	visited     map[recordID]bool
	deleted     int
}

// ApplyMissing deletes the records whose documents are gone, following the
// configured delete policy. Records already deleted, for example by an
// earlier cascade, are skipped. It returns the number of records deleted.
func (s *Service) ApplyMissing(ctx context.Context, paths []string) (int, error) {
	batch := make(map[recordID]bool, len(paths))
	var targets []recordID
	for _, p := range paths {
		m, key, err := s.keyForPath(p)
		if err != nil {
			return 0, err
		}
		id := recordID{model: m.ID(), key: key}
		if !batch[id] {
			batch[id] = true
			targets = append(targets, id)
		}
	}

	plan := &deletePlan{visited: make(map[recordID]bool)}
	err := s.repo.WithinTx(ctx, func(repo Repository) error {
		for _, id := range targets {
			rec, err := repo.GetByKey(ctx, id.model, id.key)
			if err != nil {
				return fmt.Errorf("finding %s %q: %w", id.model, id.key, err)
			}
			if rec == nil || plan.visited[id] {
				continue
			}
			if err := s.deleteRecord(ctx, repo, id, batch, plan); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, p := range plan.removeFiles {
		if err := s.fsmgr.Remove(p); err != nil {
			return plan.deleted, fmt.Errorf("removing %s: %w", p, err)
		}
	}
	for _, id := range plan.redump {
		rec, err := s.repo.GetByKey(ctx, id.model, id.key)
		if err != nil {
			return plan.deleted, fmt.Errorf("finding %s %q: %w", id.model, id.key, err)
		}
		if rec == nil {
			continue
		}
		if _, err := s.DumpRecord(rec); err != nil {
			return plan.deleted, err
		}
	}

	return plan.deleted, nil
}

func (s *Service) deleteRecord(ctx context.Context, repo Repository, id recordID, batch map[recordID]bool, plan *deletePlan) error {
	plan.visited[id] = true

	refs, err := repo.Referrers(ctx, id.model, id.key)
	if err != nil {
		return fmt.Errorf("finding referrers of %s %q: %w", id.model, id.key, err)
	}

	switch s.opts.OnDelete {
	case DeleteRestrict:
		var blocking []Reference
		for _, r := range refs {
			if !batch[recordID{model: r.Model, key: r.Key}] {
				blocking = append(blocking, r)
			}
		}
		if len(blocking) > 0 {
			return &DependentsError{Model: id.model, Key: id.key, Dependents: blocking}
		}

	case DeleteCascade:
		for _, r := range refs {
			rid := recordID{model: r.Model, key: r.Key}
			if plan.visited[rid] {
				continue
			}
			m, err := s.registry.Model(r.Model)
			if err != nil {
				return err
			}
			f, _ := m.Field(r.Field)
			if f.Kind == ManyToMany {
				plan.redump = append(plan.redump, rid)
				continue
			}

			rec, err := repo.GetByKey(ctx, r.Model, r.Key)
			if err != nil {
				return fmt.Errorf("finding %s %q: %w", r.Model, r.Key, err)
			}
			if rec == nil {
				continue
			}
			path, err := s.codec.PathFor(rec)
			if err != nil {
				return fmt.Errorf("computing path for %s %q: %w", r.Model, r.Key, err)
			}
			plan.removeFiles = append(plan.removeFiles, path)
			if err := s.deleteRecord(ctx, repo, rid, batch, plan); err != nil {
				return err
			}
		}
	}

	if err := repo.Delete(ctx, id.model, id.key); err != nil {
		return fmt.Errorf("deleting %s %q: %w", id.model, id.key, err)
	}
	plan.deleted++
	metrics.RecordsDeleted.WithLabelValues(id.model).Inc()
	s.logger.Info("record deleted", "model", id.model, "key", id.key)
	return nil
}
