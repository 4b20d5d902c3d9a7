package testutil

import (
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"amber-go/internal/amber"
)

// MockFile represents a file in the mock filesystem.
type MockFile struct {
	Content []byte
	ModTime time.Time
}

// MockFilesystemManager is an in-memory filesystem for testing. Every write
// advances a fake clock by one second so modification times always differ.
type MockFilesystemManager struct {
	mu     sync.Mutex
	files  map[string]*MockFile
	now    time.Time
	vanish map[string]bool
	writes int
}

// NewMockFilesystemManager creates a new mock filesystem.
func NewMockFilesystemManager() *MockFilesystemManager {
	return &MockFilesystemManager{
		files:  make(map[string]*MockFile),
		now:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		vanish: make(map[string]bool),
	}
}

// AddFile creates or replaces a file.
func (m *MockFilesystemManager) AddFile(path string, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(path, []byte(content))
}

func (m *MockFilesystemManager) put(path string, content []byte) {
	m.now = m.now.Add(time.Second)
	m.files[filepath.Clean(path)] = &MockFile{Content: content, ModTime: m.now}
}

// Touch bumps the modification time of an existing file.
func (m *MockFilesystemManager) Touch(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[path]; ok {
		m.now = m.now.Add(time.Second)
		f.ModTime = m.now
	}
}

// Delete removes a file as an external editor would.
func (m *MockFilesystemManager) Delete(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
}

// VanishOnStat makes path disappear the next time it is stat'ed, simulating
// a deletion racing with enumeration.
func (m *MockFilesystemManager) VanishOnStat(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vanish[path] = true
}

// Exists reports whether path is present.
func (m *MockFilesystemManager) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

// Content returns the content of path, or "" if it does not exist.
func (m *MockFilesystemManager) Content(path string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[path]; ok {
		return string(f.Content)
	}
	return ""
}

// Paths returns every file path, sorted.
func (m *MockFilesystemManager) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// Writes returns the number of WriteFile calls made.
func (m *MockFilesystemManager) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MockFilesystemManager) Glob(pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []string
	for p := range m.files {
		ok, err := filepath.Match(pattern, p)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, p)
		}
	}
	slices.Sort(matches)
	return matches, nil
}

func (m *MockFilesystemManager) Stat(path string) (fs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.vanish[path] {
		delete(m.vanish, path)
		delete(m.files, path)
	}
	f, ok := m.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: path, Err: fs.ErrNotExist}
	}
	return &mockFileInfo{name: filepath.Base(path), size: int64(len(f.Content)), modTime: f.ModTime}, nil
}

func (m *MockFilesystemManager) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return slices.Clone(f.Content), nil
}

func (m *MockFilesystemManager) WriteFile(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	m.put(path, slices.Clone(data))
	return nil
}

func (m *MockFilesystemManager) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}

// IsIgnored skips dotfiles.
func (m *MockFilesystemManager) IsIgnored(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

type mockFileInfo struct {
	name    string
	size    int64
	modTime time.Time
}

func (fi *mockFileInfo) Name() string       { return fi.name }
func (fi *mockFileInfo) Size() int64        { return fi.size }
func (fi *mockFileInfo) Mode() fs.FileMode  { return 0o644 }
func (fi *mockFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *mockFileInfo) IsDir() bool        { return false }
func (fi *mockFileInfo) Sys() any           { return nil }

var _ amber.FilesystemManager = (*MockFilesystemManager)(nil)
