package signalio

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"github.com/sbinet/npyio/npy"
)

// LoadCoefficients reads a one-dimensional float32 or float64 NumPy array.
// Arrays of any other rank, and empty arrays, fail with ErrShape.
func LoadCoefficients(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	defer f.Close()

	r, err := npy.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFormat, path, err)
	}

	shape := r.Header.Descr.Shape
	if len(shape) != 1 || shape[0] == 0 {
		return nil, fmt.Errorf("%w: %s has shape %v", ErrShape, path, shape)
	}
	switch r.Header.Descr.Type {
	case "<f8", ">f8", "f8", "=f8":
		coeffs := make([]float64, shape[0])
		if err := r.Read(&coeffs); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrFormat, path, err)
		}
		return coeffs, nil
	case "<f4", ">f4", "f4", "=f4":
		raw := make([]float32, shape[0])
		if err := r.Read(&raw); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrFormat, path, err)
		}
		coeffs := make([]float64, len(raw))
		for i, v := range raw {
			coeffs[i] = float64(v)
		}
		return coeffs, nil
	default:
		return nil, fmt.Errorf("%w: %s has dtype %s, want float32 or float64", ErrFormat, path, r.Header.Descr.Type)
	}
}

// SaveCoefficients writes coeffs as a one-dimensional float64 array. The
// values read back by LoadCoefficients are bit-identical.
func SaveCoefficients(path string, coeffs []float64) (err error) {
	if len(coeffs) == 0 {
		return fmt.Errorf("%w: refusing to save an empty vector to %s", ErrShape, path)
	}
	for i, c := range coeffs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%w: coefficient %d is %v", ErrFormat, i, c)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return npy.Write(f, coeffs)
}
