package io

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceFileInUse is an error that occurs when the source file is
	// currently opened by another process of the operating system.
	ErrSourceFileInUse = errors.New("source file is currently in use")

	// ErrNotEnoughSpace is an error that occurs when there is not enough free
	// space to take the to be copied file on the replica filesystem.
	ErrNotEnoughSpace = errors.New("not enough free space on replica")

	// ErrHashMismatch is an error that occurs when there is a source/destination hash
	// mismatch, this usually means that there are underlying transfer/hardware issues.
	ErrHashMismatch = errors.New("hash mismatch")

	// ErrDirectoryNotEmpty is an error that occurs when a replica directory
	// is to be deleted but still holds elements.
	ErrDirectoryNotEmpty = errors.New("directory is not empty")

	// ErrKindConflict is an error that occurs when a directory is to be
	// created where a non-directory element exists.
	ErrKindConflict = errors.New("non-directory exists at path")

	// ErrParentFailed is an error that occurs when an operation is skipped
	// because an operation on one of its parent paths failed.
	ErrParentFailed = errors.New("operation on parent path failed")

	// ErrChildFailed is an error that occurs when a directory deletion is
	// skipped because the deletion of an element beneath it failed.
	ErrChildFailed = errors.New("deletion beneath path failed")

	// ErrThresholdExceeded is an error that occurs when a pass exceeds the
	// configured amount of failed operations.
	ErrThresholdExceeded = errors.New("failed operations exceed threshold")

	// ErrReplicaInaccessible is an error that occurs when the replica root
	// can no longer be accessed during a pass.
	ErrReplicaInaccessible = errors.New("replica root is inaccessible")

	// ErrPassCancelled is an error that occurs when the context of a pass is
	// cancelled while its operations are executed.
	ErrPassCancelled = errors.New("pass was cancelled")
)

// Op is the type of a single replica operation.
type Op string

const (
	// OpCreateDir creates a replica directory.
	OpCreateDir Op = "mkdir"

	// OpCopy copies a source file into the replica.
	OpCopy Op = "copy"

	// OpDelete deletes a replica element.
	OpDelete Op = "delete"
)

// OperationError is the error of a single failed operation. It is non-fatal
// for the pass: the path is skipped and the pass continues.
type OperationError struct {
	Op   Op
	Path string
	Err  error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("(io-%s) %s: %v", e.Op, e.Path, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// FatalPassError is the error escalating a pass to fatal, which results in
// all of the pass's operations being rolled back. Reason is one of
// [ErrThresholdExceeded], [ErrReplicaInaccessible] or [ErrPassCancelled].
type FatalPassError struct {
	Reason error
	Err    error
}

func (e *FatalPassError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("(io-fatal) %v", e.Reason)
	}

	return fmt.Sprintf("(io-fatal) %v: %v", e.Reason, e.Err)
}

func (e *FatalPassError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}

	return []error{e.Reason, e.Err}
}
