package domain

import "errors"

var (
	// ErrValidation marks input that is rejected before any dispatch work begins.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a lookup for a row that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTerminalState marks an update attempted against a submission or batch
	// that already reached a terminal status.
	ErrTerminalState = errors.New("terminal state")
)
