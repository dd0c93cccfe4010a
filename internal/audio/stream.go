// SPDX-License-Identifier: MIT
/*
Package audio is the PortAudio device layer of the noise canceller:
- Device enumeration and ID resolution
- Blocking float32 playback and capture streams, one block per call
- WAV recording of the error microphone

Streams are opened in blocking mode. The session loop is the only goroutine
touching a stream, so no locking is done here.
*/
package audio

import (
	"errors"
	"fmt"
	"time"

	"github.com/gordonklaus/portaudio"

	"anc/internal/log"
	"anc/internal/session"
)

// streamHandle is the subset of *portaudio.Stream the device layer uses.
type streamHandle interface {
	Start() error
	Stop() error
	Close() error
	Read() error
	Write() error
}

// paOpenStream opens a blocking stream bound to buf.
var paOpenStream = func(p portaudio.StreamParameters, buf []float32) (streamHandle, error) {
	s, err := portaudio.OpenStream(p, buf)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// xrunLogEvery limits xrun warnings to one per this many occurrences.
const xrunLogEvery = 100

// PortAudio opens blocking streams on host devices. Initialize must have been
// called first.
type PortAudio struct {
	// LowLatency selects the device's low latency instead of the high one.
	LowLatency bool
}

var _ session.Devices = PortAudio{}

// OpenOutput opens a playback stream with interleaved channels.
func (p PortAudio) OpenOutput(channels int, sampleRate float64, blockSize, device int) (session.Output, error) {
	if channels <= 0 || blockSize <= 0 {
		return nil, fmt.Errorf("invalid stream shape: %d channels, %d frames", channels, blockSize)
	}
	dev, err := OutputDevice(device)
	if err != nil {
		return nil, err
	}
	if channels > dev.MaxOutputChannels {
		return nil, fmt.Errorf("device %s has %d output channels, need %d", dev.Name, dev.MaxOutputChannels, channels)
	}

	latency := dev.DefaultHighOutputLatency
	if p.LowLatency {
		latency = dev.DefaultLowOutputLatency
	}
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  latency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: blockSize,
	}
	s, err := open(params, channels*blockSize, "output "+dev.Name, latency)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenInput opens a mono capture stream.
func (p PortAudio) OpenInput(sampleRate float64, blockSize, device int) (session.Input, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("invalid stream shape: %d frames", blockSize)
	}
	dev, err := InputDevice(device)
	if err != nil {
		return nil, err
	}

	latency := dev.DefaultHighInputLatency
	if p.LowLatency {
		latency = dev.DefaultLowInputLatency
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  latency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: blockSize,
	}
	s, err := open(params, blockSize, "input "+dev.Name, latency)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func open(params portaudio.StreamParameters, size int, name string, latency time.Duration) (*Stream, error) {
	buf := make([]float32, size)
	s, err := paOpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := s.Start(); err != nil {
		s.Close()
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	log.Infof("Audio: opened %s at %.0f Hz, %d frames, latency %v",
		name, params.SampleRate, params.FramesPerBuffer, latency)
	return &Stream{handle: s, buf: buf, name: name}, nil
}

// Stream is a started blocking stream with its bound buffer.
type Stream struct {
	handle streamHandle
	buf    []float32
	name   string
	xruns  int
	closed bool
}

// Write plays one block. block must hold exactly one buffer of interleaved
// samples. Output underflows are logged and tolerated.
func (s *Stream) Write(block []float32) error {
	if s.closed {
		return fmt.Errorf("%s: write on closed stream", s.name)
	}
	if len(block) != len(s.buf) {
		return fmt.Errorf("%s: block has %d samples, stream expects %d", s.name, len(block), len(s.buf))
	}
	copy(s.buf, block)
	if err := s.handle.Write(); err != nil && !s.xrun(err, portaudio.OutputUnderflowed) {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	return nil
}

// Read captures one block into block. Input overflows are logged and
// tolerated; the returned samples are still the freshest available.
func (s *Stream) Read(block []float32) error {
	if s.closed {
		return fmt.Errorf("%s: read on closed stream", s.name)
	}
	if len(block) != len(s.buf) {
		return fmt.Errorf("%s: block has %d samples, stream expects %d", s.name, len(block), len(s.buf))
	}
	if err := s.handle.Read(); err != nil && !s.xrun(err, portaudio.InputOverflowed) {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	copy(block, s.buf)
	return nil
}

func (s *Stream) xrun(err error, kind portaudio.Error) bool {
	var paErr portaudio.Error
	if !errors.As(err, &paErr) || paErr != kind {
		return false
	}
	if s.xruns%xrunLogEvery == 0 {
		log.Warnf("Audio: %s: %v (%d so far)", s.name, err, s.xruns+1)
	}
	s.xruns++
	return true
}

// Xruns reports how many underflows or overflows were tolerated.
func (s *Stream) Xruns() int { return s.xruns }

// Close stops and closes the stream. Further calls are no-ops.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.handle.Stop(), s.handle.Close())
}
