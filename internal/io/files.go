package io

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/desertwitch/mirrord/internal/plan"
	"github.com/desertwitch/mirrord/internal/schema"
	"github.com/zeebo/blake3"
)

//nolint:containedctx
type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
		return cr.reader.Read(p)
	}
}

// copyElement copies a source file into the replica, journaling either the
// prior replica file or the creation of a new one.
func (i *Handler) copyElement(ex *execution, a *plan.Action) error {
	srcPath := schema.HostPath(ex.sourceRoot, a.Path)
	dstPath := schema.HostPath(ex.replicaRoot, a.Path)

	if i.options.InUseChecker != nil && i.options.InUseChecker.IsInUse(srcPath) {
		return ErrSourceFileInUse
	}

	if i.options.SpaceChecker != nil {
		enoughSpace, err := i.options.SpaceChecker.HasEnoughFreeSpace(ex.replicaRoot, i.options.SpaceFloor, a.Source.Size())
		if err != nil {
			return fmt.Errorf("failed to check for enough space: %w", err)
		}
		if !enoughSpace {
			return ErrNotEnoughSpace
		}
	}

	// A replica directory of the same path was cleared before, so only an
	// existing file is overwritten here.
	if a.Replica != nil && !a.Replica.IsDir() {
		pending, err := ex.journal.Stash(ex.ctx, dstPath, a.Path, a.Replica.Metadata)
		if err != nil {
			return fmt.Errorf("failed to stash replica file: %w", err)
		}

		n, err := i.CopyFile(ex.ctx, srcPath, dstPath, a.Source.Metadata)
		if err != nil {
			ex.journal.Release(pending)

			return fmt.Errorf("failed to copy file: %w", err)
		}
		ex.journal.Commit(pending)

		ex.result.Copied++
		ex.result.BytesCopied += n
		i.logSuccess(OpCopy, a, n)

		return nil
	}

	n, err := i.CopyFile(ex.ctx, srcPath, dstPath, a.Source.Metadata)
	if err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}
	ex.journal.RecordCreatedFile(dstPath, a.Path)

	ex.result.Copied++
	ex.result.BytesCopied += n
	i.logSuccess(OpCopy, a, n)

	return nil
}

// CopyFile copies src to dst, replacing any existing file at dst atomically.
// The content is written to a temporary file next to dst, verified by
// comparing the checksum of the source stream with that of the temporary
// file read back after syncing, given the permissions and timestamps of the metadata and only
// then renamed into place, so no partially written file is ever visible at
// dst. It returns the amount of bytes copied.
func (i *Handler) CopyFile(ctx context.Context, src string, dst string, metadata *schema.Metadata) (uint64, error) {
	var transferComplete bool

	srcFile, err := i.osHandler.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := i.osHandler.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.mirrord")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := dstFile.Name()

	defer func() {
		if !transferComplete {
			_ = dstFile.Close()
			i.osHandler.Remove(tmpPath) //nolint:errcheck
		}
	}()

	srcHasher := blake3.New()

	ctxReader := &contextReader{
		ctx:    ctx,
		reader: io.TeeReader(srcFile, srcHasher),
	}

	n, err := io.Copy(dstFile, ctxReader)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, fmt.Errorf("transfer canceled: %w", err)
		}

		return 0, fmt.Errorf("failed to copy file: %w", err)
	}

	if err := dstFile.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync destination fs: %w", err)
	}

	if err := dstFile.Close(); err != nil {
		return 0, fmt.Errorf("failed to close destination file: %w", err)
	}

	srcChecksum := hex.EncodeToString(srcHasher.Sum(nil))

	dstChecksum, err := i.hashFile(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("failed to verify destination file: %w", err)
	}

	if srcChecksum != dstChecksum {
		return 0, fmt.Errorf("%w: %s (src) != %s (dst)", ErrHashMismatch, srcChecksum, dstChecksum)
	}

	if err := i.ensurePermissions(tmpPath, metadata); err != nil {
		return 0, fmt.Errorf("failed to ensure permissions: %w", err)
	}

	if err := i.ensureTimestamps(tmpPath, metadata); err != nil {
		return 0, fmt.Errorf("failed to ensure timestamps: %w", err)
	}

	if err := i.osHandler.Rename(tmpPath, dst); err != nil {
		return 0, fmt.Errorf("failed to rename temporary file to destination file: %w", err)
	}

	transferComplete = true

	return handleSize(n), nil
}

// hashFile returns the hex checksum of the file at path.
func (i *Handler) hashFile(path string) (string, error) {
	f, err := i.osHandler.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open: %w", err)
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("failed to read: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// handleSize converts a int64 filesize to a uint64 filesize (with sizes < 0 becoming 0).
func handleSize(size int64) uint64 {
	if size < 0 {
		return 0
	}

	return uint64(size)
}
