package fxlms

import "errors"

var (
	// ErrInvalidSecondaryPath is returned when secondary path coefficients are
	// empty or contain non-finite values.
	ErrInvalidSecondaryPath = errors.New("fxlms: invalid secondary path")

	// ErrInvalidParams is returned for non-positive filter dimensions or step
	// size, or a seed whose length does not match the filter length.
	ErrInvalidParams = errors.New("fxlms: invalid filter parameters")

	// ErrBlockSize is returned when a block does not have BlockSize samples.
	ErrBlockSize = errors.New("fxlms: block length mismatch")

	// ErrBlockInFlight is returned by Synthesize when the previous block has
	// not been completed with Update.
	ErrBlockInFlight = errors.New("fxlms: previous block has not been updated")

	// ErrNoBlockInFlight is returned by Update when no block was synthesized.
	ErrNoBlockInFlight = errors.New("fxlms: no synthesized block awaiting update")
)
