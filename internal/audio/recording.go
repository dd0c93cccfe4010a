package audio

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"anc/internal/session"
)

const recordBitDepth = 32

// Recorder writes the error microphone signal to a 32-bit mono WAV file,
// one block at a time.
type Recorder struct {
	file       *os.File
	wavEncoder *wav.Encoder
	sampleBuf  *audio.IntBuffer // reused for every block
	frames     int
}

// NewRecorder creates path and prepares a reusable buffer of blockSize
// frames.
func NewRecorder(path string, sampleRate, blockSize int) (*Recorder, error) {
	if sampleRate <= 0 || blockSize <= 0 {
		return nil, fmt.Errorf("invalid recording format: %d Hz, %d frames", sampleRate, blockSize)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Recorder{
		file:       file,
		wavEncoder: wav.NewEncoder(file, sampleRate, recordBitDepth, 1, 1),
		sampleBuf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
			Data:           make([]int, blockSize),
			SourceBitDepth: recordBitDepth,
		},
	}, nil
}

// OpenRecorder adapts NewRecorder to session.RecorderFactory.
func OpenRecorder(path string, sampleRate, blockSize int) (session.Recorder, error) {
	r, err := NewRecorder(path, sampleRate, blockSize)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Write appends one block, clipping samples to full scale.
func (r *Recorder) Write(block []float32) error {
	if r.wavEncoder == nil {
		return errors.New("recorder closed")
	}
	if len(block) > cap(r.sampleBuf.Data) {
		r.sampleBuf.Data = make([]int, len(block))
	}
	r.sampleBuf.Data = r.sampleBuf.Data[:len(block)]
	for i, v := range block {
		s := math.Round(float64(v) * math.MaxInt32)
		r.sampleBuf.Data[i] = int(max(min(s, math.MaxInt32), -math.MaxInt32))
	}
	if err := r.wavEncoder.Write(r.sampleBuf); err != nil {
		return err
	}
	r.frames += len(block)
	return nil
}

// Frames reports how many samples have been written.
func (r *Recorder) Frames() int { return r.frames }

// Close finalises the WAV header and closes the file.
func (r *Recorder) Close() error {
	if r.wavEncoder == nil {
		return nil
	}
	encErr := r.wavEncoder.Close()
	r.wavEncoder = nil
	return errors.Join(encErr, r.file.Close())
}
