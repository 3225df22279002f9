package transfer

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ValidateFilename accepts a bare file name only: no separators, no dot
// entries, nothing that cleaning would change.
func ValidateFilename(name string) error {
	switch {
	case name == "", name == ".", name == "..":
	case strings.ContainsAny(name, "/\\\x00\n\r"):
	case filepath.Clean(name) != name:
	case strings.TrimSpace(name) != name:
	default:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
}

// validateDir accepts a remote directory for archiving.
func validateDir(dir string) error {
	if dir == "" || strings.ContainsAny(dir, "\x00\n\r") {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, dir)
	}
	return nil
}

// remoteJoin composes a remote path. Remote hosts use forward slashes
// regardless of the local OS.
func remoteJoin(dir, name string) string {
	return path.Join(dir, name)
}

// archiveName is the local name of a directory archive.
func archiveName(dir string) string {
	base := path.Base(path.Clean(dir))
	switch base {
	case "/":
		base = "root"
	case ".", "..", "":
		base = "archive"
	}
	return base + ".tar.gz"
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}
