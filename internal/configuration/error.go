package configuration

import "errors"

var (
	// ErrInvalidValue is an error that occurs when a configuration value
	// cannot be parsed into the type of its setting.
	ErrInvalidValue = errors.New("invalid configuration value")

	// ErrMissingPaths is an error that occurs when the source or replica
	// path is not configured.
	ErrMissingPaths = errors.New("source and replica are both required")

	// ErrInvalidInterval is an error that occurs when the interval is below
	// one minute or not a whole amount of minutes.
	ErrInvalidInterval = errors.New("interval must be a positive amount of minutes")

	// ErrInvalidThreshold is an error that occurs when the threshold is negative.
	ErrInvalidThreshold = errors.New("threshold must not be negative")

	// ErrInvalidWindow is an error that occurs when the modification time
	// window is negative.
	ErrInvalidWindow = errors.New("modification time window must not be negative")
)
