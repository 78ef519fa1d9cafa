package domain

import "errors"

var (
	// ErrNotFound is returned when no record satisfies the provided filters.
	ErrNotFound = errors.New("measurement not found")

	ErrAlreadyRunning    = errors.New("measurement session already running")
	ErrNotRunning        = errors.New("measurement session not running")
	ErrAlreadyConfigured = errors.New("instrument already configured")
	// ErrFaulted blocks Start until the instrument is configured again.
	ErrFaulted = errors.New("measurement session faulted, configure the instrument before starting")
)
