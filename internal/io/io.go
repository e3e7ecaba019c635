// Package io implements the execution of a [plan.Plan] against the replica.
// Every successful mutation is recorded in a [journal.Journal], every failed
// one is isolated to its own path.
package io

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/desertwitch/mirrord/internal/journal"
	"github.com/desertwitch/mirrord/internal/plan"
	"github.com/desertwitch/mirrord/internal/schema"
	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

type fsProvider interface {
	IsEmptyFolder(path string) (bool, error)
}

type osProvider interface {
	CreateTemp(dir, pattern string) (*os.File, error)
	Open(name string) (*os.File, error)
	Remove(name string) error
	Rename(oldpath, newpath string) error
	Stat(name string) (os.FileInfo, error)
}

type unixProvider interface {
	Chmod(path string, mode uint32) error
	Chown(path string, uid, gid int) error
	Mkdir(path string, mode uint32) error
	UtimesNano(path string, times []unix.Timespec) error
}

type inUseProvider interface {
	IsInUse(path string) bool
}

type spaceProvider interface {
	HasEnoughFreeSpace(path string, minFree uint64, fileSize uint64) (bool, error)
}

// Observer is notified about every finished operation.
type Observer interface {
	OperationFinished(op Op, relPath string, err error)
}

// Options are the settings of the [Handler].
type Options struct {
	// Threshold is the amount of failed operations a pass tolerates, a pass
	// exceeding it escalates to fatal. A negative value disables it.
	Threshold int

	// SpaceFloor is the amount of bytes to keep free on the replica
	// filesystem, only checked with a SpaceChecker set.
	SpaceFloor uint64

	// SpaceChecker checks for free space before every copy, if set.
	SpaceChecker spaceProvider

	// InUseChecker skips source files in use by other processes, if set.
	InUseChecker inUseProvider

	// PreserveOwnership also copies the source owner and group.
	PreserveOwnership bool
}

// Result is the outcome of a single [Handler.Execute] call. Errors holds the
// failed operations, Skipped the operations not run because an operation on a
// related path failed; only the former count toward the threshold.
type Result struct {
	Attempted   int
	Created     int
	Copied      int
	Deleted     int
	BytesCopied uint64
	Errors      []*OperationError
	Skipped     []*OperationError
	Fatal       *FatalPassError
}

// Handler is the principal implementation for the IO services.
type Handler struct {
	fsHandler   fsProvider
	osHandler   osProvider
	unixHandler unixProvider
	logger      *slog.Logger
	options     Options
}

// NewHandler returns a pointer to a new [Handler].
func NewHandler(fsHandler fsProvider, osHandler osProvider, unixHandler unixProvider, logger *slog.Logger, options Options) *Handler {
	return &Handler{
		fsHandler:   fsHandler,
		osHandler:   osHandler,
		unixHandler: unixHandler,
		logger:      logger,
		options:     options,
	}
}

// execution is the state of one [Handler.Execute] call.
type execution struct {
	ctx         context.Context //nolint:containedctx
	sourceRoot  string
	replicaRoot string
	journal     *journal.Journal
	observer    Observer
	result      *Result
	failed      map[string]struct{}
	failedDels  map[string]struct{}
}

// Execute applies a [plan.Plan] to the replica. Deletions clearing the way
// for an element of another kind run first, then directories are created
// (parents first), files copied and the remaining deletions executed
// (children first).
//
// A failed operation is recorded in the [Result] and its path skipped, along
// with all operations beneath a failed directory. Execution stops on the
// first fatal condition, setting [Result.Fatal]; reverting the journal is
// left to the caller.
//
// Operations beneath a failed directory creation (or a failed deletion
// clearing the way for one), and directory deletions above a failed
// deletion, are skipped into [Result.Skipped].
func (i *Handler) Execute(ctx context.Context, p *plan.Plan, sourceRoot string, replicaRoot string, j *journal.Journal, observer Observer) *Result {
	ex := &execution{
		ctx:         ctx,
		sourceRoot:  sourceRoot,
		replicaRoot: replicaRoot,
		journal:     j,
		observer:    observer,
		result:      &Result{},
		failed:      make(map[string]struct{}),
		failedDels:  make(map[string]struct{}),
	}

	preClear, deletes := splitDeletes(p.ToDelete)

	phases := []struct {
		op      Op
		actions []*plan.Action
		fn      func(*Handler, *execution, *plan.Action) error
	}{
		{OpDelete, preClear, (*Handler).deleteElement},
		{OpCreateDir, p.ToCreateDir, (*Handler).createDirectory},
		{OpCopy, p.ToCopy, (*Handler).copyElement},
		{OpDelete, deletes, (*Handler).deleteElement},
	}

	for _, phase := range phases {
		for _, a := range phase.actions {
			if !i.runOperation(ex, phase.op, a, phase.fn) {
				return ex.result
			}
		}
	}

	return ex.result
}

// runOperation runs a single operation and reports if execution may continue.
func (i *Handler) runOperation(ex *execution, op Op, a *plan.Action, fn func(*Handler, *execution, *plan.Action) error) bool {
	if ex.ctx.Err() != nil {
		ex.result.Fatal = &FatalPassError{Reason: ErrPassCancelled, Err: ex.ctx.Err()}

		return false
	}

	ex.result.Attempted++

	var err error
	skipped := true

	switch {
	case op != OpDelete && ex.isBlocked(a.Path):
		err = ErrParentFailed
	case op == OpDelete && a.Replica.IsDir() && ex.hasFailedBeneath(a.Path):
		err = ErrChildFailed
	default:
		err = fn(i, ex, a)
		skipped = false
	}

	if ex.observer != nil {
		ex.observer.OperationFinished(op, a.Path, err)
	}

	if err == nil {
		return true
	}

	if op == OpCreateDir || (op == OpDelete && a.Reason == plan.ReasonKind) {
		ex.failed[a.Path] = struct{}{}
	}
	if op == OpDelete {
		ex.failedDels[a.Path] = struct{}{}
	}

	opErr := &OperationError{Op: op, Path: a.Path, Err: err}

	if skipped {
		ex.result.Skipped = append(ex.result.Skipped, opErr)
		i.logger.Warn("Skipped operation: failure on related path",
			"op", string(op),
			"path", a.Path,
			"err", err,
		)

		return true
	}

	ex.result.Errors = append(ex.result.Errors, opErr)
	i.logger.Warn("Skipped operation: failure during processing",
		"op", string(op),
		"path", a.Path,
		"err", err,
	)

	if fatal := i.checkEscalation(ex); fatal != nil {
		ex.result.Fatal = fatal

		return false
	}

	return true
}

// checkEscalation returns a [FatalPassError] if the amount of failures
// exceeds the threshold or the replica root became inaccessible.
func (i *Handler) checkEscalation(ex *execution) *FatalPassError {
	if i.options.Threshold >= 0 && len(ex.result.Errors) > i.options.Threshold {
		return &FatalPassError{
			Reason: ErrThresholdExceeded,
			Err:    fmt.Errorf("%d > %d", len(ex.result.Errors), i.options.Threshold),
		}
	}

	info, err := i.osHandler.Stat(ex.replicaRoot)
	if err != nil {
		return &FatalPassError{Reason: ErrReplicaInaccessible, Err: err}
	}
	if !info.IsDir() {
		return &FatalPassError{Reason: ErrReplicaInaccessible, Err: errors.New("not a directory")}
	}

	return nil
}

// isBlocked reports if an operation on relPath or one of its parents failed.
func (ex *execution) isBlocked(relPath string) bool {
	if len(ex.failed) == 0 {
		return false
	}

	prefix := ""
	for _, segment := range schema.SplitPath(relPath) {
		if prefix == "" {
			prefix = segment
		} else {
			prefix += "/" + segment
		}

		if _, failed := ex.failed[prefix]; failed {
			return true
		}
	}

	return false
}

// hasFailedBeneath reports if a deletion beneath relPath failed or was
// skipped.
func (ex *execution) hasFailedBeneath(relPath string) bool {
	for failed := range ex.failedDels {
		if failed != relPath && schema.IsWithin(failed, relPath) {
			return true
		}
	}

	return false
}

// splitDeletes separates the deletions clearing the way for an element of
// another kind (and everything beneath those) from all other deletions,
// retaining their order.
func splitDeletes(deletes []*plan.Action) ([]*plan.Action, []*plan.Action) {
	var kindPaths []string
	for _, a := range deletes {
		if a.Reason == plan.ReasonKind {
			kindPaths = append(kindPaths, a.Path)
		}
	}

	if len(kindPaths) == 0 {
		return nil, deletes
	}

	var preClear, remaining []*plan.Action

	for _, a := range deletes {
		cleared := false
		for _, k := range kindPaths {
			if schema.IsWithin(a.Path, k) {
				cleared = true

				break
			}
		}

		if cleared {
			preClear = append(preClear, a)
		} else {
			remaining = append(remaining, a)
		}
	}

	return preClear, remaining
}

// logSuccess logs a successful operation.
func (i *Handler) logSuccess(op Op, a *plan.Action, size uint64) {
	if op == OpCopy {
		i.logger.Info("Processed:",
			"op", string(op),
			"path", a.Path,
			"reason", string(a.Reason),
			"size", humanize.IBytes(size),
		)

		return
	}

	i.logger.Info("Processed:",
		"op", string(op),
		"path", a.Path,
		"reason", string(a.Reason),
	)
}
