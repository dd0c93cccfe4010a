// SPDX-License-Identifier: MIT
package fxlms

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultPathTaps is the length of the identity path used when no measured
// secondary path is available.
const DefaultPathTaps = 8

// SecondaryPath is a fixed FIR model of the actuator-to-sensor transfer
// function. It is read-only after construction and may be shared between
// goroutines without locking.
type SecondaryPath struct {
	taps     []float64
	reversed []float64 // taps in time-ascending order, for windowed dot products
}

// NewSecondaryPath copies coeffs into a new path model.
func NewSecondaryPath(coeffs []float64) (*SecondaryPath, error) {
	if len(coeffs) == 0 {
		return nil, fmt.Errorf("%w: no coefficients", ErrInvalidSecondaryPath)
	}
	for i, c := range coeffs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("%w: coefficient %d is %v", ErrInvalidSecondaryPath, i, c)
		}
	}

	taps := make([]float64, len(coeffs))
	copy(taps, coeffs)
	reversed := make([]float64, len(taps))
	for i, c := range taps {
		reversed[len(taps)-1-i] = c
	}
	return &SecondaryPath{taps: taps, reversed: reversed}, nil
}

// DefaultSecondaryPath returns a unit delta of DefaultPathTaps taps.
func DefaultSecondaryPath() *SecondaryPath {
	coeffs := make([]float64, DefaultPathTaps)
	coeffs[0] = 1
	path, _ := NewSecondaryPath(coeffs)
	return path
}

// Len returns the number of taps.
func (p *SecondaryPath) Len() int { return len(p.taps) }

// Taps returns a copy of the coefficients.
func (p *SecondaryPath) Taps() []float64 {
	out := make([]float64, len(p.taps))
	copy(out, p.taps)
	return out
}

// Filter convolves window (oldest sample first) with the path and writes the
// len(window)-Len()+1 fully overlapped outputs into out. It returns the number
// of samples written, which is zero when window is shorter than the path.
func (p *SecondaryPath) Filter(window, out []float64) int {
	n := len(window) - len(p.reversed) + 1
	if n <= 0 {
		return 0
	}
	n = min(n, len(out))
	m := len(p.reversed)
	for i := 0; i < n; i++ {
		out[i] = floats.Dot(p.reversed, window[i:i+m])
	}
	return n
}

// EstimateSecondaryPath identifies a causal FIR model of the given length from
// an excitation signal and the response recorded at the error sensor, by
// solving the least-squares system recorded[t] = sum_j h[j]*excitation[t-j].
func EstimateSecondaryPath(excitation, recorded []float64, taps int) ([]float64, error) {
	if taps <= 0 {
		return nil, fmt.Errorf("%w: tap count must be positive, got %d", ErrInvalidParams, taps)
	}
	n := min(len(excitation), len(recorded))
	rows := n - taps + 1
	if rows < taps {
		return nil, fmt.Errorf("%w: %d samples cannot determine %d taps", ErrInvalidParams, n, taps)
	}

	design := mat.NewDense(rows, taps, nil)
	target := mat.NewVecDense(rows, nil)
	for r := 0; r < rows; r++ {
		t := r + taps - 1
		for j := 0; j < taps; j++ {
			design.Set(r, j, excitation[t-j])
		}
		target.SetVec(r, recorded[t])
	}

	var h mat.VecDense
	if err := h.SolveVec(design, target); err != nil {
		return nil, fmt.Errorf("fxlms: solve secondary path: %w", err)
	}

	coeffs := make([]float64, taps)
	for i := range coeffs {
		coeffs[i] = h.AtVec(i)
	}
	return coeffs, nil
}
