// Package journal implements the undo log of a single pass. Every successful
// replica mutation is recorded with its inverse, so that all of a pass's
// mutations can be reverted in reverse order after a fatal failure.
package journal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/desertwitch/mirrord/internal/schema"
	"golang.org/x/sys/unix"
)

type osProvider interface {
	MkdirTemp(dir, pattern string) (string, error)
	Remove(name string) error
	RemoveAll(path string) error
}

type unixProvider interface {
	Chmod(path string, mode uint32) error
	Mkdir(path string, mode uint32) error
	UtimesNano(path string, times []unix.Timespec) error
}

// fileCopier atomically copies a file along with its metadata.
type fileCopier interface {
	CopyFile(ctx context.Context, src string, dst string, metadata *schema.Metadata) (uint64, error)
}

// Inverse is the type of undo action held by an [Entry].
type Inverse int

const (
	// InverseRemoveFile removes a file that did not exist before the pass.
	InverseRemoveFile Inverse = iota

	// InverseRemoveDir removes a directory that did not exist before the pass.
	InverseRemoveDir

	// InverseRestoreFile restores an overwritten or deleted file from the stash.
	InverseRestoreFile

	// InverseRestoreDir recreates a deleted directory.
	InverseRestoreDir
)

func (i Inverse) String() string {
	switch i {
	case InverseRemoveFile:
		return "remove-file"
	case InverseRemoveDir:
		return "remove-dir"
	case InverseRestoreFile:
		return "restore-file"
	case InverseRestoreDir:
		return "restore-dir"
	default:
		return "unknown"
	}
}

// Entry is a single undo action. Path is the absolute replica path, RelPath
// its canonical relative form. StashPath and Metadata are only set for
// restoring inverses.
type Entry struct {
	Inverse   Inverse
	Path      string
	RelPath   string
	StashPath string
	Metadata  *schema.Metadata
}

// Journal is the ordered undo log of one pass. It is not thread-safe, a pass
// executes its operations sequentially.
type Journal struct {
	osHandler   osProvider
	unixHandler unixProvider
	copier      fileCopier
	logger      *slog.Logger

	stashParent string
	stashDir    string
	stashed     int

	entries []*Entry
}

// New returns a pointer to a new empty [Journal]. Prior file contents are
// stashed into a directory created on first use beneath stashParent, which
// defaults to the operating system's temporary directory when empty.
func New(osOps osProvider, unixOps unixProvider, copier fileCopier, logger *slog.Logger, stashParent string) *Journal {
	return &Journal{
		osHandler:   osOps,
		unixHandler: unixOps,
		copier:      copier,
		logger:      logger,
		stashParent: stashParent,
	}
}

// Len returns the amount of recorded entries.
func (j *Journal) Len() int {
	return len(j.entries)
}

// Entries returns a copy of the recorded entries in recording order.
func (j *Journal) Entries() []*Entry {
	entries := make([]*Entry, len(j.entries))
	copy(entries, j.entries)

	return entries
}

// StashDir returns the stash directory, empty if nothing was stashed yet.
func (j *Journal) StashDir() string {
	return j.stashDir
}

// RecordCreatedFile records a file that was newly created by the pass.
func (j *Journal) RecordCreatedFile(path string, relPath string) {
	j.entries = append(j.entries, &Entry{Inverse: InverseRemoveFile, Path: path, RelPath: relPath})
}

// RecordCreatedDir records a directory that was newly created by the pass.
func (j *Journal) RecordCreatedDir(path string, relPath string) {
	j.entries = append(j.entries, &Entry{Inverse: InverseRemoveDir, Path: path, RelPath: relPath})
}

// RecordDeletedDir records a directory that was deleted by the pass.
func (j *Journal) RecordDeletedDir(path string, relPath string, metadata *schema.Metadata) {
	j.entries = append(j.entries, &Entry{Inverse: InverseRestoreDir, Path: path, RelPath: relPath, Metadata: metadata})
}

// Stash copies the current content of a replica file into the stash, before
// it is overwritten or deleted. The returned [Entry] is pending: it must be
// passed to [Journal.Commit] once the mutation succeeded, or to
// [Journal.Release] if it failed.
func (j *Journal) Stash(ctx context.Context, path string, relPath string, metadata *schema.Metadata) (*Entry, error) {
	if err := j.ensureStashDir(); err != nil {
		return nil, err
	}

	j.stashed++
	stashPath := filepath.Join(j.stashDir, fmt.Sprintf("%06d", j.stashed))

	if _, err := j.copier.CopyFile(ctx, path, stashPath, metadata); err != nil {
		return nil, fmt.Errorf("(journal) failed to stash %s: %w", path, err)
	}

	return &Entry{
		Inverse:   InverseRestoreFile,
		Path:      path,
		RelPath:   relPath,
		StashPath: stashPath,
		Metadata:  metadata,
	}, nil
}

// Commit appends a pending [Entry] returned by [Journal.Stash].
func (j *Journal) Commit(e *Entry) {
	j.entries = append(j.entries, e)
}

// Release drops a pending [Entry] returned by [Journal.Stash], removing its
// stashed content.
func (j *Journal) Release(e *Entry) {
	if err := j.osHandler.Remove(e.StashPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		j.logger.Warn("Failure removing released stash file (skipped)",
			"path", e.StashPath,
			"err", err,
		)
	}
}

// Rollback replays all entries in reverse recording order. Every inversion is
// attempted regardless of earlier failures; the failures are logged and
// returned. The [Journal] is discarded afterwards.
//
// Restored directories get their timestamps back last, after everything
// beneath them was restored.
func (j *Journal) Rollback(ctx context.Context) []error {
	var errs []error
	var restoredDirs []*Entry

	for i := len(j.entries) - 1; i >= 0; i-- {
		e := j.entries[i]

		if err := j.invert(ctx, e); err != nil {
			errs = append(errs, j.rollbackFailure(e, err))

			continue
		}

		if e.Inverse == InverseRestoreDir {
			restoredDirs = append(restoredDirs, e)
		}

		j.logger.Info("Rollback: reverted",
			"path", e.RelPath,
			"inverse", e.Inverse.String(),
		)
	}

	for i := len(restoredDirs) - 1; i >= 0; i-- {
		e := restoredDirs[i]

		ts := []unix.Timespec{e.Metadata.AccessedAt, e.Metadata.ModifiedAt}
		if err := j.unixHandler.UtimesNano(e.Path, ts); err != nil {
			errs = append(errs, j.rollbackFailure(e, fmt.Errorf("failed to set timestamps: %w", err)))
		}
	}

	j.Discard()

	return errs
}

func (j *Journal) rollbackFailure(e *Entry, err error) error {
	j.logger.Warn("Rollback: failure reverting operation (skipped)",
		"path", e.RelPath,
		"inverse", e.Inverse.String(),
		"err", err,
	)

	return fmt.Errorf("(journal) %s %s: %w", e.Inverse, e.RelPath, err)
}

// Discard drops all entries and removes the stash.
func (j *Journal) Discard() {
	j.entries = nil

	if j.stashDir == "" {
		return
	}

	if err := j.osHandler.RemoveAll(j.stashDir); err != nil {
		j.logger.Warn("Failure removing journal stash (skipped)",
			"path", j.stashDir,
			"err", err,
		)
	}

	j.stashDir = ""
	j.stashed = 0
}

func (j *Journal) invert(ctx context.Context, e *Entry) error {
	switch e.Inverse {
	case InverseRemoveFile, InverseRemoveDir:
		if err := j.osHandler.Remove(e.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove: %w", err)
		}

		return nil

	case InverseRestoreFile:
		if _, err := j.copier.CopyFile(ctx, e.StashPath, e.Path, e.Metadata); err != nil {
			return fmt.Errorf("failed to restore from stash: %w", err)
		}

		return nil

	case InverseRestoreDir:
		if err := j.unixHandler.Mkdir(e.Path, e.Metadata.Perms); err != nil && !errors.Is(err, unix.EEXIST) {
			return fmt.Errorf("failed to mkdir: %w", err)
		}

		if err := j.unixHandler.Chmod(e.Path, e.Metadata.Perms); err != nil {
			return fmt.Errorf("failed to chmod: %w", err)
		}

		return nil

	default:
		return fmt.Errorf("%w: %d", ErrUnknownInverse, e.Inverse)
	}
}

func (j *Journal) ensureStashDir() error {
	if j.stashDir != "" {
		return nil
	}

	parent := j.stashParent
	if parent == "" {
		parent = os.TempDir()
	}

	dir, err := j.osHandler.MkdirTemp(parent, "mirrord-journal-*")
	if err != nil {
		return fmt.Errorf("(journal) failed to create stash: %w", err)
	}
	j.stashDir = dir

	return nil
}
