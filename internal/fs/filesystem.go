package fs

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/natefinch/atomic"

	"amber-go/internal/amber"
)

// OSFilesystemManager is the real filesystem implementation of
// amber.FilesystemManager, rooted at the project directory.
type OSFilesystemManager struct {
	root   string
	ignore *IgnoreMatcher
}

// NewOSFilesystemManager creates a filesystem manager for the project at
// root. The default patterns, the configured patterns and the project's
// ignore file are combined.
func NewOSFilesystemManager(root string, patterns []string) (*OSFilesystemManager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}

	fromFile, err := ParseIgnoreFile(filepath.Join(abs, IgnoreFileName))
	if err != nil {
		return nil, err
	}

	all := slices.Concat(DefaultIgnorePatterns, patterns, fromFile)
	return &OSFilesystemManager{root: abs, ignore: NewIgnoreMatcher(all)}, nil
}

func (m *OSFilesystemManager) Root() string { return m.root }

// Glob returns the regular files matching pattern.
func (m *OSFilesystemManager) Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	files := matches[:0]
	for _, p := range matches {
		info, err := os.Lstat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, p)
	}
	return files, nil
}

func (m *OSFilesystemManager) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func (m *OSFilesystemManager) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile replaces path atomically, creating parent directories.
func (m *OSFilesystemManager) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

// Remove deletes a file and then any parent directories it leaves empty,
// stopping at the project root.
func (m *OSFilesystemManager) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	for dir := filepath.Dir(path); dir != m.root && isWithin(m.root, dir); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break // not empty, or already gone
		}
	}
	return nil
}

func (m *OSFilesystemManager) IsIgnored(path string) bool {
	rel, err := filepath.Rel(m.root, path)
	if err != nil {
		return false
	}
	return m.ignore.Match(rel)
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel)
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:2] == ".." && os.IsPathSeparator(rel[2])
}

var _ amber.FilesystemManager = (*OSFilesystemManager)(nil)
