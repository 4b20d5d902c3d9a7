package amber

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"time"

	"amber-go/internal/metrics"
)

// Snapshot maps each document path to its modification time.
type Snapshot map[string]time.Time

// Snapshot stats every document of every model. A file that disappears
// between listing and stat is left out.
func (s *Service) Snapshot() (Snapshot, error) {
	files, err := s.Files()
	if err != nil {
		return nil, err
	}

	snap := make(Snapshot, len(files))
	for _, p := range files {
		info, err := s.fsmgr.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		snap[p] = info.ModTime()
	}

	metrics.SnapshotFiles.Set(float64(len(snap)))
	return snap, nil
}

// Diff compares two snapshots. A path is changed if it is new or its
// modification time differs, and missing if it is no longer present. Both
// lists are sorted.
func Diff(prev, next Snapshot) (changed, missing []string) {
	for p, t := range next {
		if old, ok := prev[p]; !ok || !old.Equal(t) {
			changed = append(changed, p)
		}
	}
	for p := range prev {
		if _, ok := next[p]; !ok {
			missing = append(missing, p)
		}
	}
	slices.Sort(changed)
	slices.Sort(missing)
	return changed, missing
}

// ApplyChanged loads the changed documents as one batch.
func (s *Service) ApplyChanged(ctx context.Context, paths []string) (*LoadResult, error) {
	return s.LoadFiles(ctx, paths)
}

// Tick takes a fresh snapshot, applies the differences from prev and
// returns the new snapshot. The snapshot is returned even when applying the
// changes fails, so a bad document is retried only after its next edit.
func (s *Service) Tick(ctx context.Context, prev Snapshot) (Snapshot, error) {
	next, err := s.Snapshot()
	if err != nil {
		return prev, err
	}

	changed, missing := Diff(prev, next)
	if len(changed) == 0 && len(missing) == 0 {
		metrics.ReconcileTicks.WithLabelValues("idle").Inc()
		return next, nil
	}
	s.logger.Info("changes detected", "changed", len(changed), "missing", len(missing))

	if len(changed) > 0 {
		if _, err := s.ApplyChanged(ctx, changed); err != nil {
			return next, err
		}
	}
	if len(missing) > 0 {
		if _, err := s.ApplyMissing(ctx, missing); err != nil {
			return next, err
		}
	}

	metrics.ReconcileTicks.WithLabelValues("applied").Inc()
	return next, nil
}

// Watch polls the corpus every interval until ctx is cancelled. A tick in
// progress is allowed to finish. When prev is nil the first snapshot is
// taken on entry. A failed tick ends the loop unless LenientReload is set.
func (s *Service) Watch(ctx context.Context, interval time.Duration, prev Snapshot) error {
	if prev == nil {
		var err error
		if prev, err = s.Snapshot(); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		next, err := s.Tick(context.WithoutCancel(ctx), prev)
		if err != nil {
			metrics.ReconcileTicks.WithLabelValues("error").Inc()
			if !s.opts.LenientReload {
				return err
			}
			s.logger.Error("reload failed", "error", err)
		}
		prev = next
	}
}
