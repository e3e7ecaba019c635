// Package filesystem implements the tree scanner, which walks a root
// directory and produces a [schema.Inventory] of everything beneath it.
package filesystem

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sys/unix"
)

type osProvider interface {
	EvalSymlinks(path string) (string, error)
	ReadDir(name string) ([]os.DirEntry, error)
	Stat(name string) (os.FileInfo, error)
}

type unixProvider interface {
	Lstat(path string, stat *unix.Stat_t) error
}

type fsWalker interface {
	WalkDir(root string, fn fs.WalkDirFunc) error
}

// Handler is the principal implementation for the filesystem services.
type Handler struct {
	osHandler   osProvider
	unixHandler unixProvider
	walkHandler fsWalker
	excludes    []string
}

// NewHandler returns a pointer to a new filesystem [Handler]. The excludes
// are doublestar patterns matched against the slash-separated relative path
// of every element, excluded directories are skipped along with everything
// beneath them.
func NewHandler(osOps osProvider, unixOps unixProvider, walker fsWalker, excludes ...string) (*Handler, error) {
	for _, pattern := range excludes {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("(fs) %w: %q", ErrInvalidPattern, pattern)
		}
	}

	return &Handler{
		osHandler:   osOps,
		unixHandler: unixOps,
		walkHandler: walker,
		excludes:    excludes,
	}, nil
}

// IsExcluded reports if a relative path matches any of the exclusion patterns.
func (f *Handler) IsExcluded(relPath string) bool {
	for _, pattern := range f.excludes {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}

	return false
}
