package filesystem

import (
	"errors"
	"fmt"
)

var (
	// ErrRootNotFound is an error that occurs when the root of a scan does
	// not exist.
	ErrRootNotFound = errors.New("root does not exist")

	// ErrRootNotDirectory is an error that occurs when the root of a scan is
	// not a directory.
	ErrRootNotDirectory = errors.New("root is not a directory")

	// ErrRootUnreadable is an error that occurs when the root of a scan
	// exists but cannot be read.
	ErrRootUnreadable = errors.New("root is not readable")

	// ErrEntryUnreadable is an error that occurs when an element below the
	// root of a scan cannot be read.
	ErrEntryUnreadable = errors.New("entry is not readable")

	// ErrUnsupportedEntry is an error that occurs when a scan encounters an
	// element that is neither a regular file nor a directory, such as a
	// symbolic link. These are never followed or copied.
	ErrUnsupportedEntry = errors.New("unsupported entry")

	// ErrInvalidPattern is an error that occurs when an exclusion pattern is
	// not a valid doublestar pattern.
	ErrInvalidPattern = errors.New("invalid exclusion pattern")
)

// ScanError is the error returned for any failed scan. Path is relative to
// the Root and empty when the Root itself is at fault.
type ScanError struct {
	Root string
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("(fs-scan) %s: %v", e.Root, e.Err)
	}

	return fmt.Sprintf("(fs-scan) %s: %s: %v", e.Root, e.Path, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}
