package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/desertwitch/mirrord/internal/schema"
)

// Scan walks the given root and returns a [schema.Inventory] of all files and
// directories beneath it, the root itself not being part of it. Any failure
// returns a [ScanError], in which case no partial [schema.Inventory] is
// returned. The tree is only ever read.
//
// A root that is a symbolic link to a directory is followed, symbolic links
// beneath the root are not.
func (f *Handler) Scan(root string) (*schema.Inventory, error) {
	if err := f.checkRoot(root); err != nil {
		return nil, err
	}

	walkRoot, err := f.osHandler.EvalSymlinks(root)
	if err != nil {
		return nil, &ScanError{Root: root, Err: fmt.Errorf("%w: %w", ErrRootUnreadable, err)}
	}

	var records []*schema.Record

	err = f.walkHandler.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == walkRoot {
				return &ScanError{Root: root, Err: fmt.Errorf("%w: %w", ErrRootUnreadable, err)}
			}

			return &ScanError{Root: root, Path: relativeTo(walkRoot, path), Err: fmt.Errorf("%w: %w", ErrEntryUnreadable, err)}
		}

		if path == walkRoot {
			return nil
		}

		relPath := relativeTo(walkRoot, path)

		if f.IsExcluded(relPath) {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}

			return nil
		}

		metadata, kind, err := f.getMetadata(path)
		if err != nil {
			if errors.Is(err, ErrUnsupportedEntry) {
				return &ScanError{Root: root, Path: relPath, Err: err}
			}

			return &ScanError{Root: root, Path: relPath, Err: fmt.Errorf("%w: %w", ErrEntryUnreadable, err)}
		}

		records = append(records, &schema.Record{
			Path:     relPath,
			Kind:     kind,
			Metadata: metadata,
		})

		return nil
	})
	if err != nil {
		var scanErr *ScanError
		if errors.As(err, &scanErr) {
			return nil, scanErr
		}

		return nil, &ScanError{Root: root, Err: fmt.Errorf("%w: %w", ErrRootUnreadable, err)}
	}

	return schema.NewInventory(root, records...), nil
}

// checkRoot establishes that a root exists and is a readable directory.
func (f *Handler) checkRoot(root string) error {
	info, err := f.osHandler.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &ScanError{Root: root, Err: ErrRootNotFound}
		}

		return &ScanError{Root: root, Err: fmt.Errorf("%w: %w", ErrRootUnreadable, err)}
	}

	if !info.IsDir() {
		return &ScanError{Root: root, Err: ErrRootNotDirectory}
	}

	if _, err := f.osHandler.ReadDir(root); err != nil {
		return &ScanError{Root: root, Err: fmt.Errorf("%w: %w", ErrRootUnreadable, err)}
	}

	return nil
}

// relativeTo returns the canonical relative path of path beneath root.
func relativeTo(root string, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return schema.ToRelPath(path)
	}

	return schema.ToRelPath(rel)
}
