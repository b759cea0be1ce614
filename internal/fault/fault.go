// Package fault defines the error taxonomy shared by every warden component.
//
// Components wrap one of these sentinels with context; callers branch on them
// with errors.Is.
package fault

import "errors"

var (
	// ErrInvalidArgument marks malformed user names, specs, or out-of-range durations.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound marks unknown cells or operations that need a reservation the user lacks.
	ErrNotFound = errors.New("not found")
	// ErrExhausted marks an empty pool or a pool whose hosts are all unreachable.
	ErrExhausted = errors.New("resource exhausted")
	// ErrExecution marks a remote command that timed out or exited non-zero.
	ErrExecution = errors.New("execution failure")
	// ErrIO marks a persisted-record read or write error.
	ErrIO = errors.New("io failure")
)
