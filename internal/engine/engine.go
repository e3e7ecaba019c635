// Package engine orchestrates single passes: it scans the source and the
// replica, computes the plan, executes it and rolls the replica back should
// the pass escalate.
package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/desertwitch/mirrord/internal/io"
	"github.com/desertwitch/mirrord/internal/journal"
	"github.com/desertwitch/mirrord/internal/plan"
	"github.com/desertwitch/mirrord/internal/schema"
	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const (
	replicaRootPerms = 0o755
	lockNameLength   = 16
)

type osProvider interface {
	MkdirAll(path string, perm os.FileMode) error
	MkdirTemp(dir, pattern string) (string, error)
	Remove(name string) error
	RemoveAll(path string) error
	Stat(name string) (os.FileInfo, error)
}

type unixProvider interface {
	Chmod(path string, mode uint32) error
	Mkdir(path string, mode uint32) error
	UtimesNano(path string, times []unix.Timespec) error
}

type scanner interface {
	Scan(root string) (*schema.Inventory, error)
}

type differ interface {
	Diff(source *schema.Inventory, replica *schema.Inventory) *plan.Plan
}

type executor interface {
	Execute(ctx context.Context, p *plan.Plan, sourceRoot string, replicaRoot string, j *journal.Journal, observer io.Observer) *io.Result
	CopyFile(ctx context.Context, src string, dst string, metadata *schema.Metadata) (uint64, error)
}

type inUseUpdater interface {
	Update() error
}

// Options are the settings of the [Engine].
type Options struct {
	// JournalDir is where a pass stashes replica files it overwrites or
	// deletes, the operating system's temporary directory when empty.
	JournalDir string

	// LockDir is where the replica lock files are kept, the operating
	// system's temporary directory when empty.
	LockDir string

	// InUseChecker is refreshed at the start of every pass, if set.
	InUseChecker inUseUpdater
}

// Engine is the principal implementation of a pass.
type Engine struct {
	osHandler   osProvider
	unixHandler unixProvider
	scanner     scanner
	differ      differ
	executor    executor
	clock       clockwork.Clock
	logger      *slog.Logger
	options     Options
	tracker     *Tracker
}

// NewEngine returns a pointer to a new [Engine].
func NewEngine(osHandler osProvider, unixHandler unixProvider, scanner scanner, differ differ, executor executor, clock clockwork.Clock, logger *slog.Logger, options Options) *Engine {
	return &Engine{
		osHandler:   osHandler,
		unixHandler: unixHandler,
		scanner:     scanner,
		differ:      differ,
		executor:    executor,
		clock:       clock,
		logger:      logger,
		options:     options,
		tracker:     NewTracker(clock),
	}
}

// Progress returns the [Progress] of the current (or last) pass.
func (e *Engine) Progress() Progress {
	return e.tracker.Progress()
}

// RunPass runs a single pass making the replica converge to the source. The
// returned [Report] is always in a final [State]: [StateAborted] when the
// replica was never touched, [StateRolledBack] when the pass escalated and
// was reverted, [StateCompleted] otherwise.
//
// A context cancelled while scanning aborts the pass. A context cancelled
// while executing escalates the pass, which is then rolled back regardless
// of the cancellation.
func (e *Engine) RunPass(ctx context.Context, source string, replica string) *Report {
	report := &Report{
		ID:        uuid.New(),
		Source:    source,
		Replica:   replica,
		State:     StateScanning,
		StartedAt: e.clock.Now(),
	}
	e.tracker.begin(report.ID)

	logger := e.logger.With("pass", report.ID.String())
	logger.Info("Pass started.", "source", source, "replica", replica)

	lock, err := e.acquireLock(replica)
	if err != nil {
		return e.abort(logger, report, err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("Failure releasing replica lock (skipped)", "path", lock.Path(), "err", err)
		}
	}()

	if e.options.InUseChecker != nil {
		if err := e.options.InUseChecker.Update(); err != nil {
			logger.Warn("Failure refreshing open file list (skipped)", "err", err)
		}
	}

	replicaMissing := e.replicaMissing(replica)

	sourceInv, replicaInv, err := e.scanBoth(ctx, source, replica, replicaMissing)
	if err != nil {
		return e.abort(logger, report, err)
	}
	logger.Debug("Scanned both trees.",
		"sourceElements", sourceInv.Len(),
		"sourceSize", humanize.IBytes(sourceInv.TotalSize()),
		"replicaElements", replicaInv.Len(),
		"replicaSize", humanize.IBytes(replicaInv.TotalSize()),
	)

	report.State = StateDiffing
	e.tracker.setState(StateDiffing)

	p := e.differ.Diff(sourceInv, replicaInv)
	report.Planned = p.Len()
	logger.Debug("Computed plan.",
		"createDirs", len(p.ToCreateDir),
		"copies", len(p.ToCopy),
		"deletes", len(p.ToDelete),
	)

	if replicaMissing {
		if err := e.createReplicaRoot(replica); err != nil {
			return e.abort(logger, report, err)
		}
	}

	report.State = StateExecuting
	e.tracker.setPlanned(p.Len(), p.BytesToCopy())

	j := journal.New(e.osHandler, e.unixHandler, e.executor, logger, e.options.JournalDir)

	res := e.executor.Execute(ctx, p, source, replica, j, e.tracker)
	report.applyResult(res)

	if res.Fatal != nil {
		report.Err = res.Fatal
		logger.Error("Pass escalated: rolling back all operations.",
			"err", res.Fatal,
			"operations", j.Len(),
		)

		report.RollbackErrors = j.Rollback(context.WithoutCancel(ctx))
		report.State = StateRolledBack

		return e.finish(logger, report)
	}

	j.Discard()
	report.State = StateCompleted

	return e.finish(logger, report)
}

func (e *Engine) abort(logger *slog.Logger, report *Report, err error) *Report {
	report.State = StateAborted
	report.Err = err

	return e.finish(logger, report)
}

func (e *Engine) finish(logger *slog.Logger, report *Report) *Report {
	report.FinishedAt = e.clock.Now()
	e.tracker.finish(report)

	switch report.State { //nolint:exhaustive
	case StateCompleted:
		logger.Info("Pass finished.", "report", report)
	case StateRolledBack:
		logger.Error("Pass rolled back.", "report", report)
	default:
		logger.Error("Pass aborted.", "report", report)
	}

	return report
}

// scanBoth scans the source and the replica concurrently, a missing replica
// counting as empty. The scans are not interruptible, a context cancelled
// meanwhile fails them afterwards.
func (e *Engine) scanBoth(ctx context.Context, source string, replica string, replicaMissing bool) (*schema.Inventory, *schema.Inventory, error) {
	var sourceInv, replicaInv *schema.Inventory
	var g errgroup.Group

	g.Go(func() error {
		inv, err := e.scanner.Scan(source)
		if err != nil {
			return fmt.Errorf("(engine) failed to scan source: %w", err)
		}
		sourceInv = inv

		return nil
	})

	g.Go(func() error {
		if replicaMissing {
			replicaInv = schema.NewInventory(replica)

			return nil
		}

		inv, err := e.scanner.Scan(replica)
		if err != nil {
			return fmt.Errorf("(engine) failed to scan replica: %w", err)
		}
		replicaInv = inv

		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if ctx.Err() != nil {
		return nil, nil, fmt.Errorf("(engine) %w", ctx.Err())
	}

	return sourceInv, replicaInv, nil
}

// replicaMissing reports if the replica root does not exist at all.
func (e *Engine) replicaMissing(replica string) bool {
	_, err := e.osHandler.Stat(replica)

	return errors.Is(err, fs.ErrNotExist)
}

// createReplicaRoot creates the missing replica root.
func (e *Engine) createReplicaRoot(replica string) error {
	if err := e.osHandler.MkdirAll(replica, replicaRootPerms); err != nil {
		return fmt.Errorf("(engine) failed to create replica root: %w", err)
	}
	e.logger.Info("Created missing replica root.", "path", replica)

	return nil
}

// acquireLock takes the exclusive lock of a replica.
func (e *Engine) acquireLock(replica string) (*flock.Flock, error) {
	path, err := e.lockPath(replica)
	if err != nil {
		return nil, err
	}

	lock := flock.New(path)

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("(engine) %w: %w", ErrLockFailure, err)
	}
	if !locked {
		return nil, fmt.Errorf("(engine) %w: %s", ErrPassLocked, path)
	}

	return lock, nil
}

// lockPath returns the lock file path for a replica, named after the hash of
// its absolute path.
func (e *Engine) lockPath(replica string) (string, error) {
	abs, err := filepath.Abs(replica)
	if err != nil {
		return "", fmt.Errorf("(engine) %w: %w", ErrLockFailure, err)
	}

	dir := e.options.LockDir
	if dir == "" {
		dir = os.TempDir()
	}

	sum := blake3.Sum256([]byte(abs))
	name := "mirrord-" + hex.EncodeToString(sum[:])[:lockNameLength] + ".lock"

	return filepath.Join(dir, name), nil
}
