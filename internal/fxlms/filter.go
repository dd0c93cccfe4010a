// SPDX-License-Identifier: MIT
/*
Package fxlms implements the Filtered-X Least Mean Squares adaptive filter used
for single-channel feedforward active noise control.

Per block the filter runs two phases:

  - Synthesize: the reference block is staged into the reference history and
    passed through the secondary path model to extend the filtered-reference
    history. Each anti-noise sample is the inverted output of the current
    weights over the most recent FilterLength reference samples.
  - Update: once the residual at the error sensor has been captured, every
    tap moves by StepSize * fx[n-k] * e[n], sample by sample in block order,
    using the filtered-reference windows staged during Synthesize. Both
    histories then advance by one block.

Weights are frozen for the duration of a block (block-delayed LMS). Only one
block may be in flight: Synthesize fails until the previous block has been
updated, so synthesis never observes a partially applied update.

No step-size clamping is performed. A step size above the stability bound,
which scales with the filtered-reference power and the filter length, makes
the weights and the residual grow without bound.
*/
package fxlms

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Epsilon keeps the normalised step finite for silent reference windows.
const Epsilon = 1e-9

// Params holds the session-fixed filter configuration.
type Params struct {
	StepSize     float64   // LMS adaptation step (mu).
	FilterLength int       // Number of adaptive taps.
	BlockSize    int       // Samples per processed block.
	Normalized   bool      // Divide the step by the filtered-reference window energy (NLMS).
	Seed         []float64 // Optional initial weights, FilterLength long. Zero when nil.
}

// Validate reports invalid dimensions or step size.
func (p Params) Validate() error {
	switch {
	case p.FilterLength <= 0:
		return fmt.Errorf("%w: filter length must be positive, got %d", ErrInvalidParams, p.FilterLength)
	case p.BlockSize <= 0:
		return fmt.Errorf("%w: block size must be positive, got %d", ErrInvalidParams, p.BlockSize)
	case !(p.StepSize > 0) || math.IsInf(p.StepSize, 0):
		return fmt.Errorf("%w: step size must be positive and finite, got %v", ErrInvalidParams, p.StepSize)
	case p.Seed != nil && len(p.Seed) != p.FilterLength:
		return fmt.Errorf("%w: seed has %d weights, filter length is %d", ErrInvalidParams, len(p.Seed), p.FilterLength)
	}
	return nil
}

// Filter is the adaptive FxLMS controller. It is not safe for concurrent use;
// a single session loop owns it.
type Filter struct {
	params Params
	path   *SecondaryPath

	// weights in time-ascending order: weights[j] multiplies the sample j
	// positions after the oldest sample of the window, so w[k] = weights[L-1-k].
	weights []float64

	reference *History // raw reference, span FilterLength
	raw       *History // raw reference, span of the secondary path
	filtered  *History // filtered reference, span FilterLength

	inFlight bool
}

// NewFilter allocates the weight vector and histories for a session.
func NewFilter(params Params, path *SecondaryPath) (*Filter, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if path == nil {
		return nil, fmt.Errorf("%w: nil secondary path", ErrInvalidSecondaryPath)
	}

	f := &Filter{
		params:    params,
		path:      path,
		weights:   make([]float64, params.FilterLength),
		reference: NewHistory(params.FilterLength, params.BlockSize),
		raw:       NewHistory(path.Len(), params.BlockSize),
		filtered:  NewHistory(params.FilterLength, params.BlockSize),
	}
	if params.Seed != nil {
		f.setWeights(params.Seed)
	}
	f.params.Seed = nil
	return f, nil
}

// Synthesize stages the reference block and writes the anti-noise block into
// anti. Both slices must hold exactly BlockSize samples.
func (f *Filter) Synthesize(ref, anti []float64) error {
	if f.inFlight {
		return ErrBlockInFlight
	}
	if len(ref) != f.params.BlockSize || len(anti) != f.params.BlockSize {
		return fmt.Errorf("%w: got reference %d and output %d samples, want %d",
			ErrBlockSize, len(ref), len(anti), f.params.BlockSize)
	}

	f.reference.Stage(ref)
	f.raw.Stage(ref)
	f.path.Filter(f.raw.Window(), f.filtered.Staged())

	x := f.reference.Window()
	taps := len(f.weights)
	for n := range anti {
		anti[n] = -floats.Dot(f.weights, x[n:n+taps])
	}

	f.inFlight = true
	return nil
}

// Update adapts the weights from the residual captured for the block produced
// by the last Synthesize call, advances the histories and returns the RMS of
// the residual.
func (f *Filter) Update(residual []float64) (float64, error) {
	if !f.inFlight {
		return 0, ErrNoBlockInFlight
	}
	if len(residual) != f.params.BlockSize {
		return 0, fmt.Errorf("%w: got residual %d samples, want %d",
			ErrBlockSize, len(residual), f.params.BlockSize)
	}

	fx := f.filtered.Window()
	taps := len(f.weights)
	for n, e := range residual {
		window := fx[n : n+taps]
		step := f.params.StepSize
		if f.params.Normalized {
			step /= floats.Dot(window, window) + Epsilon
		}
		floats.AddScaled(f.weights, step*e, window)
	}

	f.reference.Commit()
	f.raw.Commit()
	f.filtered.Commit()
	f.inFlight = false

	return RMS(residual), nil
}

// Reset zeroes the weights and histories and discards any block in flight.
func (f *Filter) Reset() {
	clear(f.weights)
	f.reference.Reset()
	f.raw.Reset()
	f.filtered.Reset()
	f.inFlight = false
}

// Weights returns a copy of the tap weights, w[0] applying to the newest
// reference sample.
func (f *Filter) Weights() []float64 {
	out := make([]float64, len(f.weights))
	for k := range out {
		out[k] = f.weights[len(f.weights)-1-k]
	}
	return out
}

func (f *Filter) setWeights(w []float64) {
	for k, v := range w {
		f.weights[len(f.weights)-1-k] = v
	}
}

// InFlight reports whether a synthesized block awaits its update.
func (f *Filter) InFlight() bool { return f.inFlight }

func (f *Filter) StepSize() float64 { return f.params.StepSize }

func (f *Filter) FilterLength() int { return f.params.FilterLength }

func (f *Filter) BlockSize() int { return f.params.BlockSize }

func (f *Filter) SecondaryPath() *SecondaryPath { return f.path }

// RMS returns the root mean square of block, zero for an empty block.
func RMS(block []float64) float64 {
	if len(block) == 0 {
		return 0
	}
	return floats.Norm(block, 2) / math.Sqrt(float64(len(block)))
}
