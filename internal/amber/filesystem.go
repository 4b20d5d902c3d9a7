package amber

import "io/fs"

// FilesystemManager abstracts the document corpus on disk so the sync layer
// can be tested without touching the real filesystem.
type FilesystemManager interface {
	// Glob returns the paths matching a filepath.Match pattern.
	Glob(pattern string) ([]string, error)

	// Stat returns fresh file info. A file removed since it was listed
	// yields an error satisfying errors.Is(err, fs.ErrNotExist).
	Stat(path string) (fs.FileInfo, error)

	ReadFile(path string) ([]byte, error)

	// WriteFile replaces path atomically, creating parent directories.
	WriteFile(path string, data []byte) error

	// Remove deletes a file. Removing a missing file is not an error.
	Remove(path string) error

	// IsIgnored reports whether path should be skipped when enumerating
	// documents (dotfiles, editor swap files, configured patterns).
	IsIgnored(path string) bool
}
