package validation

import "errors"

var (
	// ErrNoPath occurs when a required path is empty.
	ErrNoPath = errors.New("no path")

	// ErrSourceNotFound occurs when the source does not exist.
	ErrSourceNotFound = errors.New("source does not exist")

	// ErrSourceNotDir occurs when the source is not a directory.
	ErrSourceNotDir = errors.New("source is not a directory")

	// ErrSourceUnreadable occurs when the source cannot be inspected.
	ErrSourceUnreadable = errors.New("source cannot be inspected")

	// ErrReplicaNotDir occurs when the replica exists but is not a directory.
	ErrReplicaNotDir = errors.New("replica exists but is not a directory")

	// ErrSamePaths occurs when source and replica are the same directory.
	ErrSamePaths = errors.New("source and replica are the same")

	// ErrNestedPaths occurs when either of source and replica is located
	// beneath the other.
	ErrNestedPaths = errors.New("source and replica are nested")

	// ErrInsideTree occurs when a working directory of the application is
	// located within the source or the replica, where it would be mirrored.
	ErrInsideTree = errors.New("directory is within source or replica")
)
