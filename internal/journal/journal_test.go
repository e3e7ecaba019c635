package journal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/desertwitch/mirrord/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// plainCopier copies files without atomicity, sufficient for the journal.
type plainCopier struct {
	failOn string
}

func (c *plainCopier) CopyFile(_ context.Context, src string, dst string, metadata *schema.Metadata) (uint64, error) {
	if c.failOn != "" && dst == c.failOn {
		return 0, errors.New("copy failure")
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return 0, err
	}

	if err := os.WriteFile(dst, data, os.FileMode(metadata.Perms)); err != nil {
		return 0, err
	}

	mtime := metadata.ModTime()
	if err := os.Chtimes(dst, mtime, mtime); err != nil {
		return 0, err
	}

	return uint64(len(data)), nil
}

func newTestJournal(t *testing.T, copier fileCopier) *Journal {
	t.Helper()

	return New(&schema.OS{}, &schema.Unix{}, copier, slog.New(slog.NewTextHandler(io.Discard, nil)), t.TempDir())
}

func metadataOf(t *testing.T, path string) *schema.Metadata {
	t.Helper()

	info, err := os.Stat(path)
	require.NoError(t, err)

	return &schema.Metadata{
		Perms:      uint32(info.Mode().Perm()),
		Size:       uint64(info.Size()),
		ModifiedAt: unix.NsecToTimespec(info.ModTime().UnixNano()),
		IsDir:      info.IsDir(),
	}
}

func TestJournal_Rollback_RestoresAll(t *testing.T) {
	t.Parallel()

	replica := t.TempDir()
	j := newTestJournal(t, &plainCopier{})
	ctx := testContext(t)

	// A file overwritten by the pass.
	overwritten := filepath.Join(replica, "a.txt")
	require.NoError(t, os.WriteFile(overwritten, []byte("old"), 0o644))
	require.NoError(t, os.Chtimes(overwritten, time.Unix(90, 0), time.Unix(90, 0)))

	e, err := j.Stash(ctx, overwritten, "a.txt", metadataOf(t, overwritten))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(overwritten, []byte("new content"), 0o644))
	j.Commit(e)

	// A directory and a file created by the pass.
	created := filepath.Join(replica, "sub")
	require.NoError(t, os.Mkdir(created, 0o755))
	j.RecordCreatedDir(created, "sub")
	require.NoError(t, os.WriteFile(filepath.Join(created, "b.txt"), []byte("b"), 0o644))
	j.RecordCreatedFile(filepath.Join(created, "b.txt"), "sub/b.txt")

	// A directory with a file deleted by the pass.
	gone := filepath.Join(replica, "gone")
	require.NoError(t, os.Mkdir(gone, 0o750))
	goneFile := filepath.Join(gone, "c.txt")
	require.NoError(t, os.WriteFile(goneFile, []byte("c"), 0o600))

	e, err = j.Stash(ctx, goneFile, "gone/c.txt", metadataOf(t, goneFile))
	require.NoError(t, err)
	require.NoError(t, os.Remove(goneFile))
	j.Commit(e)

	require.NoError(t, os.Chtimes(gone, time.Unix(70, 0), time.Unix(70, 0)))
	goneMeta := metadataOf(t, gone)
	require.NoError(t, os.Remove(gone))
	j.RecordDeletedDir(gone, "gone", goneMeta)

	require.Equal(t, 5, j.Len())
	stash := j.StashDir()
	require.DirExists(t, stash)

	errs := j.Rollback(ctx)
	require.Empty(t, errs)

	data, err := os.ReadFile(overwritten)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
	assert.Equal(t, int64(90), metadataOf(t, overwritten).ModTime().Unix())

	assert.NoDirExists(t, created)

	data, err = os.ReadFile(goneFile)
	require.NoError(t, err)
	assert.Equal(t, "c", string(data))
	assert.Equal(t, uint32(0o750), metadataOf(t, gone).Perms)
	assert.Equal(t, int64(70), metadataOf(t, gone).ModTime().Unix(), "restored directory should keep its timestamps")

	assert.Equal(t, 0, j.Len())
	assert.NoDirExists(t, stash)
}

func TestJournal_Rollback_ContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	replica := t.TempDir()
	ctx := testContext(t)

	target := filepath.Join(replica, "a.txt")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))

	copier := &plainCopier{}
	j := newTestJournal(t, copier)

	e, err := j.Stash(ctx, target, "a.txt", metadataOf(t, target))
	require.NoError(t, err)
	require.NoError(t, os.Remove(target))
	j.Commit(e)

	created := filepath.Join(replica, "new.txt")
	require.NoError(t, os.WriteFile(created, []byte("x"), 0o644))
	j.RecordCreatedFile(created, "new.txt")

	copier.failOn = target

	errs := j.Rollback(ctx)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "a.txt")

	assert.NoFileExists(t, created, "later inversions should still run")
}

func TestJournal_Release(t *testing.T) {
	t.Parallel()

	replica := t.TempDir()
	target := filepath.Join(replica, "a.txt")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))

	j := newTestJournal(t, &plainCopier{})

	e, err := j.Stash(testContext(t), target, "a.txt", metadataOf(t, target))
	require.NoError(t, err)
	require.FileExists(t, e.StashPath)

	j.Release(e)
	assert.NoFileExists(t, e.StashPath)
	assert.Equal(t, 0, j.Len())
}

func TestJournal_Discard(t *testing.T) {
	t.Parallel()

	replica := t.TempDir()
	created := filepath.Join(replica, "new.txt")
	require.NoError(t, os.WriteFile(created, []byte("x"), 0o644))

	j := newTestJournal(t, &plainCopier{})
	j.RecordCreatedFile(created, "new.txt")
	j.Discard()

	assert.Equal(t, 0, j.Len())
	assert.Empty(t, j.Rollback(testContext(t)))
	assert.FileExists(t, created, "a discarded journal should not revert anything")
}

func TestJournal_Rollback_UnknownInverse(t *testing.T) {
	t.Parallel()

	j := newTestJournal(t, &plainCopier{})
	j.Commit(&Entry{Inverse: Inverse(42), Path: "/nowhere", RelPath: "nowhere"})

	errs := j.Rollback(testContext(t))
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], ErrUnknownInverse)
}
