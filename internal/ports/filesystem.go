package ports

import (
	"io"
	"io/fs"
)

// FileSystem abstracts local file operations for testing.
type FileSystem interface {
	// ReadFile reads the named file and returns its contents.
	ReadFile(name string) ([]byte, error)

	// WriteFile writes data to the named file, creating it if necessary.
	WriteFile(name string, data []byte, perm fs.FileMode) error

	// Create creates or truncates the named file for writing.
	Create(name string) (io.WriteCloser, error)

	// Stat returns file info for the named file.
	Stat(name string) (fs.FileInfo, error)

	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string, perm fs.FileMode) error

	// Remove removes the named file or empty directory.
	Remove(name string) error
}
