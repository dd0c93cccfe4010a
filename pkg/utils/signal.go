// Package utils holds small signal generators shared by the tone command and
// tests.
package utils

import (
	"math"
	"math/rand/v2"
)

// Sine returns n samples of a sine wave at frequency Hz.
func Sine(n int, sampleRate, frequency, amplitude float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / sampleRate
		out[i] = amplitude * math.Sin(2*math.Pi*frequency*t)
	}
	return out
}

// ComplexWave returns a 440 Hz fundamental with its second and third
// harmonics, peaking at amplitude.
func ComplexWave(n int, sampleRate, amplitude float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / sampleRate
		out[i] = amplitude * (math.Sin(2*math.Pi*440*t)*0.5 +
			math.Sin(2*math.Pi*880*t)*0.3 +
			math.Sin(2*math.Pi*1320*t)*0.2)
	}
	return out
}

// WhiteNoise returns n uniform samples in [-level, level) from a seeded source
// so excitation runs are reproducible.
func WhiteNoise(n int, level float64, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]float64, n)
	for i := range out {
		out[i] = level * (2*rng.Float64() - 1)
	}
	return out
}

// PeakIndex returns the index of the largest value in v[start:end], clamping
// the range to v. It returns 0 for an empty slice.
func PeakIndex(v []float64, start, end int) int {
	if len(v) == 0 {
		return 0
	}
	start = max(start, 0)
	end = min(end, len(v)-1)

	peak := start
	for i := start + 1; i <= end; i++ {
		if v[i] > v[peak] {
			peak = i
		}
	}
	return peak
}
