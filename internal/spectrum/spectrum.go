// SPDX-License-Identifier: MIT

// Package spectrum computes magnitude spectra of signal blocks and frequency
// responses of FIR filters.
package spectrum

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"anc/pkg/bitint"
	"anc/pkg/utils"
)

// workspace holds pre-allocated buffers for FFT calculations.
type workspace struct {
	input     []float64    // ...for real input samples (windowed)
	fftOutput []complex128 // ...for FFT complex output
	magnitude []float64    // ...for magnitude output
	window    []float64    // ...for window function coefficients
}

// Analyzer computes Hann-windowed magnitude spectra of fixed-size blocks.
// It reuses its buffers and is not safe for concurrent use.
type Analyzer struct {
	size       int
	sampleRate float64
	fft        *fourier.FFT
	ws         workspace
}

// NewAnalyzer pre-allocates all buffers and the Hann window. size must be a
// power of two.
func NewAnalyzer(size int, sampleRate float64) (*Analyzer, error) {
	if !bitint.IsPowerOfTwo(size) || size < 2 {
		return nil, fmt.Errorf("spectrum: size must be a power of two, got %d", size)
	}
	if !(sampleRate > 0) {
		return nil, fmt.Errorf("spectrum: sample rate must be positive, got %v", sampleRate)
	}

	window := make([]float64, size)
	for i := range size {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}

	bins := size/2 + 1
	return &Analyzer{
		size:       size,
		sampleRate: sampleRate,
		fft:        fourier.NewFFT(size),
		ws: workspace{
			input:     make([]float64, size),
			fftOutput: make([]complex128, bins),
			magnitude: make([]float64, bins),
			window:    window,
		},
	}, nil
}

// Magnitudes windows block, zero padded or truncated to the analyzer size,
// and returns the magnitude of each bin from DC to Nyquist. The returned
// slice is reused by the next call.
func (a *Analyzer) Magnitudes(block []float64) []float64 {
	for i := range a.size {
		if i < len(block) {
			a.ws.input[i] = block[i] * a.ws.window[i]
		} else {
			a.ws.input[i] = 0
		}
	}
	a.fft.Coefficients(a.ws.fftOutput, a.ws.input)
	for i, c := range a.ws.fftOutput {
		a.ws.magnitude[i] = cmplx.Abs(c)
	}
	return a.ws.magnitude
}

// Frequency returns the centre frequency in Hz of bin i, or 0 when out of
// range.
func (a *Analyzer) Frequency(i int) float64 {
	if i < 0 || i >= len(a.ws.fftOutput) {
		return 0
	}
	return a.fft.Freq(i) * a.sampleRate
}

// Bin returns the bin nearest to freq.
func (a *Analyzer) Bin(freq float64) int {
	bin := int(math.Round(freq * float64(a.size) / a.sampleRate))
	return max(0, min(bin, len(a.ws.magnitude)-1))
}

// Peak returns the strongest bin of the last spectrum above DC and its
// frequency.
func (a *Analyzer) Peak() (int, float64) {
	bin := utils.PeakIndex(a.ws.magnitude, 1, len(a.ws.magnitude)-1)
	return bin, a.Frequency(bin)
}

// Size is the FFT length.
func (a *Analyzer) Size() int { return a.size }

// Response evaluates the frequency response of an FIR filter on at least
// size points (rounded up to a power of two covering every tap). It returns
// the bin frequencies and linear gains from DC to Nyquist.
func Response(taps []float64, size int, sampleRate float64) (freqs, gains []float64, err error) {
	if len(taps) == 0 {
		return nil, nil, fmt.Errorf("spectrum: no taps")
	}
	if !(sampleRate > 0) {
		return nil, nil, fmt.Errorf("spectrum: sample rate must be positive, got %v", sampleRate)
	}
	n := bitint.NextPowerOfTwo(max(size, len(taps), 2))

	padded := make([]float64, n)
	copy(padded, taps)
	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, padded)

	freqs = make([]float64, len(coeffs))
	gains = make([]float64, len(coeffs))
	for i, c := range coeffs {
		freqs[i] = fft.Freq(i) * sampleRate
		gains[i] = cmplx.Abs(c)
	}
	return freqs, gains, nil
}
