package engine

import "errors"

var (
	// ErrPassLocked is an error that occurs when another pass (of possibly
	// another process) holds the lock of the replica.
	ErrPassLocked = errors.New("another pass holds the replica lock")

	// ErrLockFailure is an error that occurs when the replica lock could not
	// be established at all.
	ErrLockFailure = errors.New("failed to establish replica lock")
)
