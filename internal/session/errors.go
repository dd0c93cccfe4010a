package session

import "errors"

// Failure classes surfaced by Run. Every error returned by a session wraps
// exactly one of these so callers can branch with errors.Is.
var (
	// ErrConfiguration marks invalid or contradictory session options. It is
	// always raised before any device is opened.
	ErrConfiguration = errors.New("configuration error")

	// ErrResource marks a missing or malformed reference signal, secondary
	// path or weight file.
	ErrResource = errors.New("resource error")

	// ErrDevice marks a failure opening, writing to or reading from an audio
	// device. It is fatal; the loop never retries a missed block.
	ErrDevice = errors.New("device error")
)

// ErrAlreadyRun is returned when Run is called on a Scheduler a second time.
var ErrAlreadyRun = errors.New("session already run")
