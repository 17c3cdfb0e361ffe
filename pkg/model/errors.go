package model

import (
	"errors"
	"fmt"
	"time"
)

// Defining possible errors
var (
	// ErrNotFound is returned when a lookup by id or name matches nothing.
	ErrNotFound = errors.New("record not found")

	// ErrNoTask is returned by Claim when no pending task is available.
	ErrNoTask = errors.New("no claimable task")

	// ErrNotClaimed is returned by Complete/Fail when the task is not held
	// in the processing state, e.g. it was already reclaimed by the stale
	// sweep.
	ErrNotClaimed = errors.New("task is not in processing state")
)

// InputError marks malformed or empty input to a stage. Not retried; the
// stage aborts.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input error: %s", e.Msg)
}

// ExternalToolError marks a failed call into an opaque collaborator
// (alignment binary, embedding model, remote API).
type ExternalToolError struct {
	Tool string
	Err  error
}

func (e *ExternalToolError) Error() string {
	return fmt.Sprintf("external tool %s: %v", e.Tool, e.Err)
}

func (e *ExternalToolError) Unwrap() error {
	return e.Err
}

// StorageError marks a store failure or constraint violation. Fatal to the
// current operation; never swallowed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// StaleClaimError is the synthetic failure recorded when the stale sweep
// reclaims a processing task from a worker presumed dead.
type StaleClaimError struct {
	WorkerID string
	Age      time.Duration
}

func (e *StaleClaimError) Error() string {
	return fmt.Sprintf("stale claim: worker %s made no progress for %s", e.WorkerID, e.Age)
}
