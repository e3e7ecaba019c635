// Package scheduler runs passes on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/desertwitch/mirrord/internal/engine"
	"github.com/jonboulle/clockwork"
)

// ErrInvalidInterval is an error that occurs when the interval is not positive.
var ErrInvalidInterval = errors.New("interval must be positive")

type passRunner interface {
	RunPass(ctx context.Context, source string, replica string) *engine.Report
}

// Scheduler runs a pass immediately and then on every interval boundary,
// measured from its start. Passes never overlap: boundaries missed by an
// overrunning pass are skipped.
type Scheduler struct {
	runner   passRunner
	clock    clockwork.Clock
	logger   *slog.Logger
	source   string
	replica  string
	interval time.Duration
}

// NewScheduler returns a pointer to a new [Scheduler].
func NewScheduler(runner passRunner, clock clockwork.Clock, logger *slog.Logger, source string, replica string, interval time.Duration) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("(scheduler) %w: %v", ErrInvalidInterval, interval)
	}

	return &Scheduler{
		runner:   runner,
		clock:    clock,
		logger:   logger,
		source:   source,
		replica:  replica,
		interval: interval,
	}, nil
}

// Run runs passes until the context is cancelled, returning its error.
func (s *Scheduler) Run(ctx context.Context) error {
	start := s.clock.Now()

	for boundary := int64(0); ; {
		s.runner.RunPass(ctx, s.source, s.replica)

		if ctx.Err() != nil {
			return fmt.Errorf("(scheduler) %w", ctx.Err())
		}

		elapsed := s.clock.Since(start)
		next := int64(elapsed/s.interval) + 1

		if skipped := next - boundary - 1; skipped > 0 {
			s.logger.Warn("Pass overran the interval: skipping missed boundaries.",
				"skipped", skipped,
				"interval", s.interval,
			)
		}
		boundary = next

		wait := time.Duration(next)*s.interval - elapsed
		s.logger.Debug("Next pass scheduled.",
			"in", wait.Round(time.Second),
		)

		timer := s.clock.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()

			return fmt.Errorf("(scheduler) %w", ctx.Err())
		case <-timer.Chan():
		}
	}
}
