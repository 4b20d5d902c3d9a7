package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileSystemTarget copies published output into a directory, typically the
// checkout of a static hosting repository.
type FileSystemTarget struct {
	root string
}

// NewFileSystemTarget creates a new filesystem target rooted at the given path.
func NewFileSystemTarget(root string) (*FileSystemTarget, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create publish root: %w", err)
	}
	return &FileSystemTarget{root: root}, nil
}

// Put writes the object to <root>/<key>, creating parent directories.
func (v *FileSystemTarget) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	destPath := filepath.Join(v.root, filepath.FromSlash(key))
	if rel, err := filepath.Rel(v.root, destPath); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("key escapes publish root: %s", key)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return v.writeFile(destPath, r, size)
}

// ValidateSetup verifies that the root is an accessible directory.
func (v *FileSystemTarget) ValidateSetup(ctx context.Context) error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("publish root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("publish root is not a directory: %s", v.root)
	}
	return nil
}

// writeFile writes data from r to the specified path using atomic write (temp file + rename).
func (v *FileSystemTarget) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	// Create temp file in the same directory to ensure atomic rename works
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemTarget implements Target
var _ Target = (*FileSystemTarget)(nil)
