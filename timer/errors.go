package timer

import "errors"

var (
	// ErrInvalidInterval is returned for zero or negative intervals.
	ErrInvalidInterval = errors.New("timer: interval must be positive")

	// ErrInvalidRuns is returned when SetTimer is asked for fewer than one run.
	ErrInvalidRuns = errors.New("timer: run count must be positive")

	// ErrNilCallback is returned when a timer is registered without a callback.
	ErrNilCallback = errors.New("timer: callback cannot be nil")

	// ErrNotFound is returned for unknown or already deleted timer IDs.
	ErrNotFound = errors.New("timer: not found")

	// ErrAlreadyRunning is returned by Start when the background loop is active.
	ErrAlreadyRunning = errors.New("timer: already running")
)
