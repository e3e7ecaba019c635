package io

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertwitch/mirrord/internal/filesystem"
	"github.com/desertwitch/mirrord/internal/journal"
	"github.com/desertwitch/mirrord/internal/plan"
	"github.com/desertwitch/mirrord/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// faultyOS wraps [schema.OS], failing selected calls by path.
type faultyOS struct {
	schema.OS

	sync.Mutex
	openErrs   map[string]error
	renameErrs map[string]error
	statErrs   map[string]error
	removeErrs map[string]error

	// openHook may replace the name of a file about to be opened.
	openHook func(name string) string
}

func newFaultyOS() *faultyOS {
	return &faultyOS{
		openErrs:   make(map[string]error),
		renameErrs: make(map[string]error),
		statErrs:   make(map[string]error),
		removeErrs: make(map[string]error),
	}
}

func (f *faultyOS) Open(name string) (*os.File, error) {
	f.Lock()
	err := f.openErrs[name]
	hook := f.openHook
	f.Unlock()

	if err != nil {
		return nil, err
	}

	if hook != nil {
		name = hook(name)
	}

	return f.OS.Open(name)
}

func (f *faultyOS) Rename(oldpath, newpath string) error {
	f.Lock()
	err := f.renameErrs[newpath]
	f.Unlock()

	if err != nil {
		return err
	}

	return f.OS.Rename(oldpath, newpath)
}

func (f *faultyOS) Stat(name string) (os.FileInfo, error) {
	f.Lock()
	err := f.statErrs[name]
	f.Unlock()

	if err != nil {
		return nil, err
	}

	return f.OS.Stat(name)
}

func (f *faultyOS) Remove(name string) error {
	f.Lock()
	err := f.removeErrs[name]
	f.Unlock()

	if err != nil {
		return err
	}

	return f.OS.Remove(name)
}

type recordingObserver struct {
	ops []string
}

func (o *recordingObserver) OperationFinished(op Op, relPath string, err error) {
	status := "ok"
	if err != nil {
		status = "err"
	}
	o.ops = append(o.ops, string(op)+":"+relPath+":"+status)
}

type testEnv struct {
	source  string
	replica string
	osProv  *faultyOS
	fs      *filesystem.Handler
	handler *Handler
	journal *journal.Journal
	logs    *bytes.Buffer
}

func newTestEnv(t *testing.T, options Options) *testEnv {
	t.Helper()

	env := &testEnv{
		source:  t.TempDir(),
		replica: t.TempDir(),
		osProv:  newFaultyOS(),
		logs:    &bytes.Buffer{},
	}

	fsHandler, err := filesystem.NewHandler(env.osProv, &schema.Unix{}, &filesystem.FileWalker{})
	require.NoError(t, err)
	env.fs = fsHandler

	logger := slog.New(slog.NewTextHandler(env.logs, nil))
	env.handler = NewHandler(fsHandler, env.osProv, &schema.Unix{}, logger, options)
	env.journal = journal.New(&schema.OS{}, &schema.Unix{}, env.handler, logger, t.TempDir())

	return env
}

func (env *testEnv) plan(t *testing.T) *plan.Plan {
	t.Helper()

	src, err := env.fs.Scan(env.source)
	require.NoError(t, err)

	rep, err := env.fs.Scan(env.replica)
	require.NoError(t, err)

	return plan.NewHandler(0).Diff(src, rep)
}

func (env *testEnv) execute(t *testing.T, ctx context.Context, observer Observer) *Result {
	t.Helper()

	return env.handler.Execute(ctx, env.plan(t), env.source, env.replica, env.journal, observer)
}

func writeFile(t *testing.T, root string, rel string, content string, mtime int64) {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, time.Unix(mtime, 0), time.Unix(mtime, 0)))
}

func readFile(t *testing.T, root string, rel string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)

	return string(data)
}

func TestExecute_Success_ExampleScenario(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{Threshold: 5})

	writeFile(t, env.source, "a.txt", "AAAAA", 100)
	writeFile(t, env.source, "sub/b.txt", "BBB", 100)
	writeFile(t, env.replica, "a.txt", "aaaaa", 90)
	writeFile(t, env.replica, "c.txt", "c", 50)

	observer := &recordingObserver{}
	res := env.execute(t, testContext(t), observer)

	require.Nil(t, res.Fatal)
	require.Empty(t, res.Errors)
	assert.Equal(t, 4, res.Attempted)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 2, res.Copied)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, uint64(8), res.BytesCopied)

	assert.Equal(t, []string{
		"mkdir:sub:ok",
		"copy:a.txt:ok",
		"copy:sub/b.txt:ok",
		"delete:c.txt:ok",
	}, observer.ops)

	assert.Equal(t, "AAAAA", readFile(t, env.replica, "a.txt"))
	assert.Equal(t, "BBB", readFile(t, env.replica, "sub/b.txt"))
	assert.NoFileExists(t, filepath.Join(env.replica, "c.txt"))

	info, err := os.Stat(filepath.Join(env.replica, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), info.ModTime().Unix())

	assert.True(t, env.plan(t).IsEmpty(), "a second plan should be empty")

	entries := env.journal.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, journal.InverseRemoveDir, entries[0].Inverse)
	assert.Equal(t, journal.InverseRestoreFile, entries[1].Inverse)
	assert.Equal(t, journal.InverseRemoveFile, entries[2].Inverse)
	assert.Equal(t, journal.InverseRestoreFile, entries[3].Inverse)

	assert.Contains(t, env.logs.String(), "Processed:")
}

func TestExecute_Success_DeletesEmptiedDirectories(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{Threshold: 5})

	writeFile(t, env.replica, "old/deeper/f", "f", 1)
	writeFile(t, env.replica, "old/g", "g", 1)

	res := env.execute(t, testContext(t), nil)

	require.Nil(t, res.Fatal)
	require.Empty(t, res.Errors)
	assert.Equal(t, 4, res.Deleted)
	assert.NoDirExists(t, filepath.Join(env.replica, "old"))
	assert.DirExists(t, env.replica)
}

func TestExecute_Success_FileReplacesDirectory(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{Threshold: 5})

	writeFile(t, env.source, "x", "file now", 100)
	writeFile(t, env.replica, "x/inner", "i", 1)
	writeFile(t, env.replica, "y", "unrelated", 1)

	res := env.execute(t, testContext(t), nil)

	require.Nil(t, res.Fatal)
	require.Empty(t, res.Errors)
	assert.Equal(t, "file now", readFile(t, env.replica, "x"))
	assert.NoFileExists(t, filepath.Join(env.replica, "y"))
}

func TestExecute_Success_DirectoryReplacesFile(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{Threshold: 5})

	writeFile(t, env.source, "x/inner", "inner", 100)
	writeFile(t, env.replica, "x", "was a file", 1)

	res := env.execute(t, testContext(t), nil)

	require.Nil(t, res.Fatal)
	require.Empty(t, res.Errors)
	assert.DirExists(t, filepath.Join(env.replica, "x"))
	assert.Equal(t, "inner", readFile(t, env.replica, "x/inner"))
}

func TestExecute_Fail_IsolatedOperation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{Threshold: 5})

	writeFile(t, env.source, "a.txt", "a", 100)
	writeFile(t, env.source, "locked.txt", "l", 100)
	writeFile(t, env.source, "z.txt", "z", 100)

	env.osProv.openErrs[filepath.Join(env.source, "locked.txt")] = os.ErrPermission

	res := env.execute(t, testContext(t), nil)

	require.Nil(t, res.Fatal)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, OpCopy, res.Errors[0].Op)
	assert.Equal(t, "locked.txt", res.Errors[0].Path)
	require.ErrorIs(t, res.Errors[0], os.ErrPermission)

	assert.Equal(t, 2, res.Copied)
	assert.Equal(t, "a", readFile(t, env.replica, "a.txt"))
	assert.Equal(t, "z", readFile(t, env.replica, "z.txt"))
	assert.NoFileExists(t, filepath.Join(env.replica, "locked.txt"))

	assert.Contains(t, env.logs.String(), "level=WARN")
}

func TestExecute_Fail_ChildrenOfFailedDirectory(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{Threshold: 5})

	writeFile(t, env.source, "sub/b.txt", "b", 100)
	writeFile(t, env.source, "sub/deeper/c.txt", "c", 100)
	writeFile(t, env.source, "other.txt", "o", 100)

	// A file in the way of the directory, appearing after the plan was made.
	require.NoError(t, os.WriteFile(filepath.Join(env.replica, "sub"), []byte("x"), 0o644))

	res := env.handler.Execute(testContext(t), &plan.Plan{
		ToCreateDir: []*plan.Action{
			{Path: "sub", Reason: plan.ReasonMissing, Source: mustDirRecord(t, env.source, "sub")},
			{Path: "sub/deeper", Reason: plan.ReasonMissing, Source: mustDirRecord(t, env.source, "sub/deeper")},
		},
		ToCopy: []*plan.Action{
			{Path: "other.txt", Reason: plan.ReasonMissing, Source: mustFileRecord(t, env.source, "other.txt")},
			{Path: "sub/b.txt", Reason: plan.ReasonMissing, Source: mustFileRecord(t, env.source, "sub/b.txt")},
		},
	}, env.source, env.replica, env.journal, nil)

	require.Nil(t, res.Fatal)
	require.Len(t, res.Errors, 1)
	require.ErrorIs(t, res.Errors[0], ErrKindConflict)

	require.Len(t, res.Skipped, 2)
	require.ErrorIs(t, res.Skipped[0], ErrParentFailed)
	assert.Equal(t, "sub/deeper", res.Skipped[0].Path)
	require.ErrorIs(t, res.Skipped[1], ErrParentFailed)
	assert.Equal(t, "sub/b.txt", res.Skipped[1].Path)

	assert.Equal(t, "o", readFile(t, env.replica, "other.txt"))
}

func TestExecute_Fail_SkippedChildrenDoNotEscalate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{Threshold: 10})

	for n := 0; n < 11; n++ {
		writeFile(t, env.source, "d/"+string(rune('a'+n)), "x", 100)
	}
	writeFile(t, env.source, "unrelated.txt", "u", 100)
	writeFile(t, env.replica, "d", "a file in the way", 1)

	env.osProv.removeErrs[filepath.Join(env.replica, "d")] = os.ErrPermission

	res := env.execute(t, testContext(t), nil)

	require.Nil(t, res.Fatal)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, OpDelete, res.Errors[0].Op)
	require.ErrorIs(t, res.Errors[0], os.ErrPermission)

	require.Len(t, res.Skipped, 12, "the directory and its eleven files")
	for _, skipped := range res.Skipped {
		require.ErrorIs(t, skipped, ErrParentFailed)
	}

	assert.Equal(t, "u", readFile(t, env.replica, "unrelated.txt"))
	assert.Equal(t, "a file in the way", readFile(t, env.replica, "d"))
}

func TestExecute_Fatal_ThresholdExceeded(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{Threshold: 1})

	for _, name := range []string{"a", "b", "c", "d"} {
		writeFile(t, env.source, name, name, 100)
	}
	env.osProv.renameErrs[filepath.Join(env.replica, "b")] = errors.New("disk failure")
	env.osProv.renameErrs[filepath.Join(env.replica, "c")] = errors.New("disk failure")

	res := env.execute(t, testContext(t), nil)

	require.NotNil(t, res.Fatal)
	require.ErrorIs(t, res.Fatal, ErrThresholdExceeded)
	assert.Len(t, res.Errors, 2)
	assert.Equal(t, 3, res.Attempted, "execution should stop at the escalation")
	assert.Equal(t, 1, res.Copied)
	assert.NoFileExists(t, filepath.Join(env.replica, "d"))

	assertNoTempFiles(t, env.replica)
}

func TestExecute_Fatal_ThresholdZero(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{Threshold: 0})

	writeFile(t, env.source, "a", "a", 100)
	env.osProv.openErrs[filepath.Join(env.source, "a")] = os.ErrPermission

	res := env.execute(t, testContext(t), nil)

	require.NotNil(t, res.Fatal)
	require.ErrorIs(t, res.Fatal, ErrThresholdExceeded)
}

func TestExecute_Fatal_ReplicaInaccessible(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{Threshold: 10})

	writeFile(t, env.source, "a", "a", 100)
	writeFile(t, env.source, "b", "b", 100)

	p := env.plan(t)

	env.osProv.openErrs[filepath.Join(env.source, "a")] = os.ErrPermission
	env.osProv.statErrs[env.replica] = os.ErrNotExist

	res := env.handler.Execute(testContext(t), p, env.source, env.replica, env.journal, nil)

	require.NotNil(t, res.Fatal)
	require.ErrorIs(t, res.Fatal, ErrReplicaInaccessible)
	assert.Equal(t, 1, res.Attempted)
}

func TestExecute_Fatal_Cancelled(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{Threshold: 10})
	writeFile(t, env.source, "a", "a", 100)

	p := env.plan(t)

	ctx, cancel := context.WithCancel(testContext(t))
	cancel()

	res := env.handler.Execute(ctx, p, env.source, env.replica, env.journal, nil)

	require.NotNil(t, res.Fatal)
	require.ErrorIs(t, res.Fatal, ErrPassCancelled)
	require.ErrorIs(t, res.Fatal, context.Canceled)
	assert.Equal(t, 0, res.Attempted)
}

func TestExecute_Fail_DirectoryNotEmpty(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{Threshold: 10})

	writeFile(t, env.replica, "old/f", "f", 1)
	env.osProv.removeErrs[filepath.Join(env.replica, "old", "f")] = os.ErrPermission

	res := env.execute(t, testContext(t), nil)

	require.Nil(t, res.Fatal)
	require.Len(t, res.Errors, 1)
	require.ErrorIs(t, res.Errors[0], os.ErrPermission)

	require.Len(t, res.Skipped, 1)
	require.ErrorIs(t, res.Skipped[0], ErrChildFailed)
	assert.Equal(t, "old", res.Skipped[0].Path)

	assert.FileExists(t, filepath.Join(env.replica, "old", "f"))
	assert.Equal(t, 0, env.journal.Len(), "failed deletions should not be journaled")
}

func TestExecute_Fail_DeepFailedDeletionCountsOnce(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{Threshold: 0})

	writeFile(t, env.replica, "a/b/c/locked", "l", 1)
	writeFile(t, env.replica, "a/b/other", "o", 1)
	env.osProv.removeErrs[filepath.Join(env.replica, "a", "b", "c", "locked")] = os.ErrPermission

	res := env.execute(t, testContext(t), nil)

	require.NotNil(t, res.Fatal, "the single real failure exceeds a zero threshold")
	require.Len(t, res.Errors, 1)
	require.ErrorIs(t, res.Errors[0], os.ErrPermission)
	assert.Empty(t, res.Skipped, "execution stops at the escalation")

	env = newTestEnv(t, Options{Threshold: 1})

	writeFile(t, env.replica, "a/b/c/locked", "l", 1)
	writeFile(t, env.replica, "a/b/other", "o", 1)
	env.osProv.removeErrs[filepath.Join(env.replica, "a", "b", "c", "locked")] = os.ErrPermission

	res = env.execute(t, testContext(t), nil)

	require.Nil(t, res.Fatal)
	require.Len(t, res.Errors, 1)

	var skippedPaths []string
	for _, skipped := range res.Skipped {
		require.ErrorIs(t, skipped, ErrChildFailed)
		skippedPaths = append(skippedPaths, skipped.Path)
	}
	assert.Equal(t, []string{"a/b/c", "a/b", "a"}, skippedPaths)

	assert.NoFileExists(t, filepath.Join(env.replica, "a", "b", "other"))
	assert.FileExists(t, filepath.Join(env.replica, "a", "b", "c", "locked"))
}

func TestExecute_Fail_InUseAndSpace(t *testing.T) {
	t.Parallel()

	inUse := &staticInUse{paths: map[string]struct{}{}}
	space := &staticSpace{}

	env := newTestEnv(t, Options{Threshold: 10, InUseChecker: inUse, SpaceChecker: space, SpaceFloor: 1})

	writeFile(t, env.source, "open.txt", "o", 100)
	writeFile(t, env.source, "huge.txt", strings.Repeat("h", 64), 100)
	writeFile(t, env.source, "fine.txt", "f", 100)

	inUse.paths[filepath.Join(env.source, "open.txt")] = struct{}{}
	space.tooLarge = 64

	res := env.execute(t, testContext(t), nil)

	require.Nil(t, res.Fatal)
	require.Len(t, res.Errors, 2)
	require.ErrorIs(t, res.Errors[0], ErrNotEnoughSpace)
	require.ErrorIs(t, res.Errors[1], ErrSourceFileInUse)
	assert.Equal(t, "f", readFile(t, env.replica, "fine.txt"))
}

func TestCopyFile_PreservesMetadata(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	writeFile(t, env.source, "a", "content", 100)
	require.NoError(t, os.Chmod(filepath.Join(env.source, "a"), 0o600))

	inv, err := env.fs.Scan(env.source)
	require.NoError(t, err)
	rec, ok := inv.Get("a")
	require.True(t, ok)

	dst := filepath.Join(env.replica, "a")
	n, err := env.handler.CopyFile(testContext(t), filepath.Join(env.source, "a"), dst, rec.Metadata)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.Equal(t, int64(100), info.ModTime().Unix())

	assertNoTempFiles(t, env.replica)
}

func TestCopyFile_Fail_LeavesNoTempFile(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	writeFile(t, env.source, "a", "content", 100)
	writeFile(t, env.replica, "a", "previous", 50)

	dst := filepath.Join(env.replica, "a")
	env.osProv.renameErrs[dst] = errors.New("rename failure")

	_, err := env.handler.CopyFile(testContext(t), filepath.Join(env.source, "a"), dst, &schema.Metadata{Perms: 0o644})
	require.Error(t, err)

	assert.Equal(t, "previous", readFile(t, env.replica, "a"), "the previous file should stay untouched")
	assertNoTempFiles(t, env.replica)
}

func TestCopyFile_Fail_HashMismatch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	writeFile(t, env.source, "a", "content", 100)

	decoy := filepath.Join(t.TempDir(), "decoy")
	require.NoError(t, os.WriteFile(decoy, []byte("c0ntent"), 0o644))

	// The temporary file reads back different bytes than were written.
	env.osProv.openHook = func(name string) string {
		if strings.HasSuffix(name, ".mirrord") {
			return decoy
		}

		return name
	}

	dst := filepath.Join(env.replica, "a")
	_, err := env.handler.CopyFile(testContext(t), filepath.Join(env.source, "a"), dst, &schema.Metadata{Perms: 0o644})
	require.ErrorIs(t, err, ErrHashMismatch)

	assert.NoFileExists(t, dst)
	assertNoTempFiles(t, env.replica)
}

func TestSplitDeletes(t *testing.T) {
	t.Parallel()

	deletes := []*plan.Action{
		{Path: "x/inner", Reason: plan.ReasonExtraneous},
		{Path: "old/f", Reason: plan.ReasonExtraneous},
		{Path: "x", Reason: plan.ReasonKind},
		{Path: "xy", Reason: plan.ReasonExtraneous},
	}

	preClear, remaining := splitDeletes(deletes)

	require.Len(t, preClear, 2)
	assert.Equal(t, "x/inner", preClear[0].Path)
	assert.Equal(t, "x", preClear[1].Path)

	require.Len(t, remaining, 2)
	assert.Equal(t, "old/f", remaining[0].Path)
	assert.Equal(t, "xy", remaining[1].Path)
}

type staticInUse struct {
	paths map[string]struct{}
}

func (s *staticInUse) IsInUse(path string) bool {
	_, ok := s.paths[path]

	return ok
}

type staticSpace struct {
	tooLarge uint64
}

func (s *staticSpace) HasEnoughFreeSpace(_ string, _ uint64, fileSize uint64) (bool, error) {
	return fileSize < s.tooLarge, nil
}

func mustFileRecord(t *testing.T, root string, rel string) *schema.Record {
	t.Helper()

	info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)

	return &schema.Record{
		Path:     rel,
		Kind:     schema.KindFile,
		Metadata: &schema.Metadata{Perms: uint32(info.Mode().Perm()), Size: uint64(info.Size())},
	}
}

func mustDirRecord(t *testing.T, root string, rel string) *schema.Record {
	t.Helper()

	info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)

	return &schema.Record{
		Path:     rel,
		Kind:     schema.KindDirectory,
		Metadata: &schema.Metadata{Perms: uint32(info.Mode().Perm()), IsDir: true},
	}
}

func assertNoTempFiles(t *testing.T, root string) {
	t.Helper()

	err := filepath.WalkDir(root, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		assert.NotContains(t, filepath.Base(path), ".mirrord", "temporary file left behind")

		return nil
	})
	require.NoError(t, err)
}
