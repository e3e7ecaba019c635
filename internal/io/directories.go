package io

import (
	"errors"
	"fmt"

	"github.com/desertwitch/mirrord/internal/plan"
	"github.com/desertwitch/mirrord/internal/schema"
	"golang.org/x/sys/unix"
)

// createDirectory creates a replica directory, journaling its creation. An
// already existing directory is accepted as is.
func (i *Handler) createDirectory(ex *execution, a *plan.Action) error {
	dstPath := schema.HostPath(ex.replicaRoot, a.Path)

	if err := i.unixHandler.Mkdir(dstPath, a.Source.Metadata.Perms); err != nil {
		if !errors.Is(err, unix.EEXIST) {
			return fmt.Errorf("failed to mkdir: %w", err)
		}

		info, err := i.osHandler.Stat(dstPath)
		if err != nil {
			return fmt.Errorf("failed to check existing element: %w", err)
		}
		if !info.IsDir() {
			return ErrKindConflict
		}

		return nil
	}
	ex.journal.RecordCreatedDir(dstPath, a.Path)

	if err := i.ensurePermissions(dstPath, a.Source.Metadata); err != nil {
		return fmt.Errorf("failed to ensure permissions: %w", err)
	}

	ex.result.Created++
	i.logSuccess(OpCreateDir, a, 0)

	return nil
}

// deleteElement deletes a replica element. Files are stashed into the
// journal beforehand, directories must already be empty.
func (i *Handler) deleteElement(ex *execution, a *plan.Action) error {
	dstPath := schema.HostPath(ex.replicaRoot, a.Path)

	if a.Replica.IsDir() {
		isEmpty, err := i.fsHandler.IsEmptyFolder(dstPath)
		if err != nil {
			return fmt.Errorf("failed to establish emptiness: %w", err)
		}
		if !isEmpty {
			return ErrDirectoryNotEmpty
		}

		if err := i.osHandler.Remove(dstPath); err != nil {
			return fmt.Errorf("failed to remove directory: %w", err)
		}
		ex.journal.RecordDeletedDir(dstPath, a.Path, a.Replica.Metadata)

		ex.result.Deleted++
		i.logSuccess(OpDelete, a, 0)

		return nil
	}

	pending, err := ex.journal.Stash(ex.ctx, dstPath, a.Path, a.Replica.Metadata)
	if err != nil {
		return fmt.Errorf("failed to stash replica file: %w", err)
	}

	if err := i.osHandler.Remove(dstPath); err != nil {
		ex.journal.Release(pending)

		return fmt.Errorf("failed to remove file: %w", err)
	}
	ex.journal.Commit(pending)

	ex.result.Deleted++
	i.logSuccess(OpDelete, a, 0)

	return nil
}
