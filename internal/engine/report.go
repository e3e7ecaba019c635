package engine

import (
	"log/slog"
	"time"

	"github.com/desertwitch/mirrord/internal/io"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Report is the outcome of a single pass.
type Report struct {
	ID      uuid.UUID
	Source  string
	Replica string
	State   State

	StartedAt  time.Time
	FinishedAt time.Time

	Planned     int
	Attempted   int
	Created     int
	Copied      int
	Deleted     int
	BytesCopied uint64

	// Errors holds the non-fatal operation errors.
	Errors []*io.OperationError

	// Skipped holds the operations skipped for a failure on a related path.
	Skipped []*io.OperationError

	// RollbackErrors holds the failed inversions of a rolled back pass.
	RollbackErrors []error

	// Err is the reason for an aborted or rolled back pass.
	Err error
}

// Duration returns the wall time the pass took.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}

	return r.FinishedAt.Sub(r.StartedAt)
}

// LogValue implements [slog.LogValuer].
func (r *Report) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("id", r.ID.String()),
		slog.String("state", r.State.String()),
		slog.Duration("took", r.Duration().Round(time.Millisecond)),
		slog.Int("planned", r.Planned),
		slog.Int("created", r.Created),
		slog.Int("copied", r.Copied),
		slog.Int("deleted", r.Deleted),
		slog.String("bytes", humanize.IBytes(r.BytesCopied)),
		slog.Int("errors", len(r.Errors)),
	}

	if len(r.Skipped) > 0 {
		attrs = append(attrs, slog.Int("skipped", len(r.Skipped)))
	}

	if len(r.RollbackErrors) > 0 {
		attrs = append(attrs, slog.Int("rollbackErrors", len(r.RollbackErrors)))
	}

	if r.Err != nil {
		attrs = append(attrs, slog.String("err", r.Err.Error()))
	}

	return slog.GroupValue(attrs...)
}

func (r *Report) applyResult(res *io.Result) {
	r.Attempted = res.Attempted
	r.Created = res.Created
	r.Copied = res.Copied
	r.Deleted = res.Deleted
	r.BytesCopied = res.BytesCopied
	r.Errors = res.Errors
	r.Skipped = res.Skipped
}
