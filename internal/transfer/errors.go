package transfer

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrInvalidFilename rejects names that could escape the working directory.
	ErrInvalidFilename = errors.New("invalid file name")

	// ErrRemoteNotFound matches a download of a file that does not exist.
	ErrRemoteNotFound = fs.ErrNotExist

	// ErrNoPendingUpload means there is no upload awaiting an overwrite decision.
	ErrNoPendingUpload = errors.New("no upload awaiting confirmation")

	// ErrTooLarge means the file exceeds the configured size limit.
	ErrTooLarge = errors.New("file exceeds size limit")

	// ErrNotRegularFile means the remote path is a directory or special file.
	ErrNotRegularFile = errors.New("not a regular file")

	// ErrArchiveFailed means the remote archive command reported errors.
	ErrArchiveFailed = errors.New("archive command failed")
)

// Error describes a failed transfer step.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
