package publish

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"amber-go/internal/amber"
)

// Target provides an interface for destinations of built output.
type Target interface {
	// Put stores the object at key, a slash-separated path relative to the
	// output root. size is the number of bytes that will be read from r.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// ValidateSetup verifies that the target is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}

// uploadConcurrency bounds the number of files in flight at once.
const uploadConcurrency = 4

// Publish copies every regular file under dir to target and returns the
// number of files copied. Keys are the slash-separated paths relative to dir.
func Publish(ctx context.Context, target Target, dir string, logger amber.Logger) (int, error) {
	if err := target.ValidateSetup(ctx); err != nil {
		return 0, fmt.Errorf("validating publish target: %w", err)
	}

	files := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = path
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walking %s: %w", dir, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for key, path := range files {
		g.Go(func() error {
			if err := putFile(ctx, target, key, path); err != nil {
				return fmt.Errorf("publishing %s: %w", key, err)
			}
			logger.Debug("file published", "key", key)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	logger.Info("publish complete", "files", len(files))
	return len(files), nil
}

func putFile(ctx context.Context, target Target, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	return target.Put(ctx, key, f, info.Size())
}
