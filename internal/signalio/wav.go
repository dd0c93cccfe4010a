// SPDX-License-Identifier: MIT

// Package signalio loads and stores the files a session consumes: mono WAV
// reference signals and one-dimensional NumPy coefficient arrays.
package signalio

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	ErrNotFound = errors.New("signalio: file not found")
	ErrFormat   = errors.New("signalio: unsupported format")
	ErrShape    = errors.New("signalio: array is not a non-empty vector")
)

const pcmFormat = 1

// LoadMono decodes a single-channel PCM WAV file and returns its samples
// scaled to [-1, 1) together with the sample rate.
func LoadMono(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, 0, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: %s is not a WAV file", ErrFormat, path)
	}
	if d.WavAudioFormat != pcmFormat {
		return nil, 0, fmt.Errorf("%w: %s uses audio format %d, want PCM", ErrFormat, path, d.WavAudioFormat)
	}
	if d.NumChans != 1 {
		return nil, 0, fmt.Errorf("%w: %s has %d channels, want mono", ErrFormat, path, d.NumChans)
	}
	switch d.BitDepth {
	case 16, 24, 32:
	default:
		return nil, 0, fmt.Errorf("%w: %s has %d-bit samples", ErrFormat, path, d.BitDepth)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: decode %s: %w", ErrFormat, path, err)
	}

	scale := float64(int64(1) << (d.BitDepth - 1))
	samples := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float64(v) / scale
	}
	return samples, int(d.SampleRate), nil
}

// SaveMono writes samples as a 16-bit mono PCM WAV file, clipping to full
// scale.
func SaveMono(path string, samples []float64, sampleRate int) (err error) {
	if sampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrFormat, sampleRate)
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

	enc := wav.NewEncoder(f, sampleRate, 16, 1, pcmFormat)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, v := range samples {
		buf.Data[i] = pcm16(v)
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

func pcm16(v float64) int {
	s := math.Round(v * 32768)
	return int(max(min(s, math.MaxInt16), math.MinInt16))
}
