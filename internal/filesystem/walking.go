package filesystem

import (
	"io/fs"
	"path/filepath"
)

// FileWalker is an implementation wrapping [filepath.WalkDir].
type FileWalker struct{}

// WalkDir wraps around [filepath.WalkDir].
func (*FileWalker) WalkDir(root string, fn fs.WalkDirFunc) error {
	return filepath.WalkDir(root, fn)
}
