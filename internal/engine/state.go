package engine

// State is the lifecycle state of a single pass.
type State int

const (
	// StateIdle is the state before any pass has started.
	StateIdle State = iota

	// StateScanning is the state while both trees are scanned.
	StateScanning

	// StateDiffing is the state while the plan is computed.
	StateDiffing

	// StateExecuting is the state while the plan is applied.
	StateExecuting

	// StateCompleted is the final state of a pass that was not escalated,
	// it may still have had non-fatal operation errors.
	StateCompleted

	// StateRolledBack is the final state of an escalated pass, all of its
	// replica mutations were reverted (as far as possible).
	StateRolledBack

	// StateAborted is the final state of a pass that never mutated the
	// replica, due to a failed scan or a held replica lock.
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateDiffing:
		return "diffing"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateRolledBack:
		return "rolled-back"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// IsFinal reports if the [State] ends a pass.
func (s State) IsFinal() bool {
	return s == StateCompleted || s == StateRolledBack || s == StateAborted
}
