package engine

import (
	"sync"
	"time"

	"github.com/desertwitch/mirrord/internal/io"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Progress is a point-in-time snapshot of the [Engine]'s activity.
type Progress struct {
	PassID uuid.UUID
	State  State
	Passes int

	HasStarted  bool
	HasFinished bool
	StartTime   time.Time
	FinishTime  time.Time

	ProgressPct    float64
	TotalItems     int
	ProcessedItems int
	SuccessItems   int
	FailedItems    int
	BytesToCopy    uint64

	ETA      time.Time
	TimeLeft time.Duration

	LastReport *Report
}

// Tracker tracks the progress of the current pass. It is an [io.Observer].
type Tracker struct {
	sync.RWMutex

	clock clockwork.Clock

	passID     uuid.UUID
	state      State
	passes     int
	startTime  time.Time
	finishTime time.Time
	execStart  time.Time

	totalItems  int
	bytesToCopy uint64
	success     int
	failed      int

	lastReport *Report
}

// NewTracker returns a pointer to a new [Tracker].
func NewTracker(clock clockwork.Clock) *Tracker {
	return &Tracker{
		clock: clock,
	}
}

func (t *Tracker) begin(id uuid.UUID) {
	t.Lock()
	defer t.Unlock()

	t.passID = id
	t.state = StateScanning
	t.passes++
	t.startTime = t.clock.Now()
	t.finishTime = time.Time{}
	t.execStart = time.Time{}
	t.totalItems = 0
	t.bytesToCopy = 0
	t.success = 0
	t.failed = 0
}

func (t *Tracker) setState(state State) {
	t.Lock()
	defer t.Unlock()

	t.state = state
}

func (t *Tracker) setPlanned(items int, bytes uint64) {
	t.Lock()
	defer t.Unlock()

	t.state = StateExecuting
	t.totalItems = items
	t.bytesToCopy = bytes
	t.execStart = t.clock.Now()
}

func (t *Tracker) finish(report *Report) {
	t.Lock()
	defer t.Unlock()

	t.state = report.State
	t.finishTime = t.clock.Now()
	t.lastReport = report
}

// OperationFinished counts a finished operation.
func (t *Tracker) OperationFinished(_ io.Op, _ string, err error) {
	t.Lock()
	defer t.Unlock()

	if err != nil {
		t.failed++
	} else {
		t.success++
	}
}

// Progress returns the [Progress] of the current (or last) pass.
func (t *Tracker) Progress() Progress {
	t.RLock()
	defer t.RUnlock()

	processedItems := min(t.success+t.failed, t.totalItems)

	var progressPct float64
	if t.totalItems > 0 {
		progressPct = float64(processedItems) / float64(t.totalItems) * 100 //nolint:mnd
		progressPct = max(float64(0), min(progressPct, float64(100)))       //nolint:mnd
	} else if t.state.IsFinal() {
		progressPct = 100 //nolint:mnd
	}

	var eta time.Time
	var timeLeft time.Duration

	if t.state == StateExecuting && processedItems > 0 && processedItems < t.totalItems {
		elapsed := t.clock.Since(t.execStart)
		itemsPerSec := float64(processedItems) / max(elapsed.Seconds(), 1)

		if itemsPerSec > 0 {
			remainingSeconds := float64(t.totalItems-processedItems) / itemsPerSec
			timeLeft = time.Duration(remainingSeconds * float64(time.Second))
			eta = t.clock.Now().Add(timeLeft)
		}
	}

	return Progress{
		PassID:         t.passID,
		State:          t.state,
		Passes:         t.passes,
		HasStarted:     t.passes > 0,
		HasFinished:    t.state.IsFinal(),
		StartTime:      t.startTime,
		FinishTime:     t.finishTime,
		ProgressPct:    progressPct,
		TotalItems:     t.totalItems,
		ProcessedItems: processedItems,
		SuccessItems:   t.success,
		FailedItems:    t.failed,
		BytesToCopy:    t.bytesToCopy,
		ETA:            eta,
		TimeLeft:       timeLeft,
		LastReport:     t.lastReport,
	}
}
