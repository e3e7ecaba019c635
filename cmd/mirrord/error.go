package main

import "errors"

var (
	// ErrPassNotCompleted occurs when a single pass (--once) did not complete.
	ErrPassNotCompleted = errors.New("pass did not complete")

	// ErrTooManyArgs occurs when more positional arguments than source and
	// replica are given.
	ErrTooManyArgs = errors.New("only source and replica are accepted as arguments")
)
