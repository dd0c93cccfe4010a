// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
)

// fakeStream is a blocking stream whose Read fills the bound buffer with
// a counter and whose Write records the bound buffer.
type fakeStream struct {
	buf      []float32
	params   portaudio.StreamParameters
	started  bool
	stopped  int
	closed   int
	written  [][]float32
	readErr  error
	writeErr error
	startErr error
	counter  float32
}

func (f *fakeStream) Start() error { f.started = true; return f.startErr }
func (f *fakeStream) Stop() error  { f.stopped++; return nil }
func (f *fakeStream) Close() error { f.closed++; return nil }

func (f *fakeStream) Read() error {
	for i := range f.buf {
		f.counter++
		f.buf[i] = f.counter
	}
	return f.readErr
}

func (f *fakeStream) Write() error {
	f.written = append(f.written, slices.Clone(f.buf))
	return f.writeErr
}

// mockStreams replaces paOpenStream and returns the streams it opens.
func mockStreams(t *testing.T, openErr error) *[]*fakeStream {
	t.Helper()
	orig := paOpenStream
	t.Cleanup(func() { paOpenStream = orig })

	var opened []*fakeStream
	paOpenStream = func(p portaudio.StreamParameters, buf []float32) (streamHandle, error) {
		if openErr != nil {
			return nil, openErr
		}
		f := &fakeStream{buf: buf, params: p}
		opened = append(opened, f)
		return f, nil
	}
	return &opened
}

func TestOpenOutputParameters(t *testing.T) {
	devices := mockHost(t)
	opened := mockStreams(t, nil)

	tests := []struct {
		name        string
		lowLatency  bool
		wantLatency time.Duration
	}{
		{"high latency", false, 16 * time.Millisecond},
		{"low latency", true, 4 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := PortAudio{LowLatency: tt.lowLatency}.OpenOutput(2, 16000, 128, DefaultDeviceID)
			if err != nil {
				t.Fatalf("OpenOutput: %v", err)
			}
			defer out.Close()

			f := (*opened)[len(*opened)-1]
			p := f.params
			if p.Output.Device != devices[1] || p.Output.Channels != 2 || p.Input.Channels != 0 {
				t.Errorf("output params = %+v", p.Output)
			}
			if p.Output.Latency != tt.wantLatency {
				t.Errorf("latency = %v, want %v", p.Output.Latency, tt.wantLatency)
			}
			if p.SampleRate != 16000 || p.FramesPerBuffer != 128 || len(f.buf) != 256 {
				t.Errorf("rate %v, frames %d, buffer %d", p.SampleRate, p.FramesPerBuffer, len(f.buf))
			}
			if !f.started {
				t.Error("stream not started")
			}
		})
	}
}

func TestOpenOutputErrors(t *testing.T) {
	mockHost(t)

	if _, err := (PortAudio{}).OpenOutput(4, 16000, 128, 1); err == nil {
		t.Error("expected error for more channels than the device has")
	}
	if _, err := (PortAudio{}).OpenOutput(1, 16000, 128, 0); err == nil {
		t.Error("expected error for an input-only device")
	}
	if _, err := (PortAudio{}).OpenOutput(0, 16000, 128, 1); err == nil {
		t.Error("expected error for zero channels")
	}

	mockStreams(t, errors.New("device unavailable"))
	if _, err := (PortAudio{}).OpenOutput(1, 16000, 128, 1); err == nil {
		t.Error("expected open error")
	}
}

func TestOpenStartFailureCloses(t *testing.T) {
	mockHost(t)
	orig := paOpenStream
	defer func() { paOpenStream = orig }()

	var f *fakeStream
	paOpenStream = func(p portaudio.StreamParameters, buf []float32) (streamHandle, error) {
		f = &fakeStream{buf: buf, startErr: errors.New("busy")}
		return f, nil
	}
	if _, err := (PortAudio{}).OpenInput(16000, 128, DefaultDeviceID); err == nil {
		t.Fatal("expected start error")
	}
	if f.closed != 1 {
		t.Errorf("stream closed %d times after failed start, want 1", f.closed)
	}
}

func TestStreamWriteRead(t *testing.T) {
	mockHost(t)
	opened := mockStreams(t, nil)

	out, err := PortAudio{}.OpenOutput(1, 16000, 4, 2)
	if err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	in, err := PortAudio{}.OpenInput(16000, 4, 2)
	if err != nil {
		t.Fatalf("OpenInput: %v", err)
	}
	outStream, inStream := (*opened)[0], (*opened)[1]

	block := []float32{0.1, 0.2, 0.3, 0.4}
	if err := out.Write(block); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !slices.Equal(outStream.written[0], block) {
		t.Errorf("written = %v, want %v", outStream.written[0], block)
	}
	if inStream.params.Input.Channels != 1 {
		t.Errorf("input channels = %d, want 1", inStream.params.Input.Channels)
	}

	got := make([]float32, 4)
	if err := in.Read(got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !slices.Equal(got, []float32{1, 2, 3, 4}) {
		t.Errorf("read = %v", got)
	}

	if err := out.Write(make([]float32, 3)); err == nil {
		t.Error("expected error for a short block")
	}
	if err := in.Read(make([]float32, 5)); err == nil {
		t.Error("expected error for a long block")
	}
}

func TestStreamXrunsTolerated(t *testing.T) {
	mockHost(t)
	opened := mockStreams(t, nil)

	out, _ := PortAudio{}.OpenOutput(1, 16000, 4, 1)
	in, _ := PortAudio{}.OpenInput(16000, 4, 0)
	outStream, inStream := (*opened)[0], (*opened)[1]
	outStream.writeErr = portaudio.OutputUnderflowed
	inStream.readErr = portaudio.InputOverflowed

	for i := 0; i < 3; i++ {
		if err := out.Write(make([]float32, 4)); err != nil {
			t.Fatalf("underflow not tolerated: %v", err)
		}
		if err := in.Read(make([]float32, 4)); err != nil {
			t.Fatalf("overflow not tolerated: %v", err)
		}
	}
	if n := out.(*Stream).Xruns(); n != 3 {
		t.Errorf("output xruns = %d, want 3", n)
	}

	// The opposite condition is a real failure.
	inStream.readErr = portaudio.OutputUnderflowed
	if err := in.Read(make([]float32, 4)); err == nil {
		t.Error("expected error for an unexpected stream condition")
	}
	outStream.writeErr = errors.New("device lost")
	if err := out.Write(make([]float32, 4)); err == nil {
		t.Error("expected error for a lost device")
	}
}

func TestStreamCloseOnce(t *testing.T) {
	mockHost(t)
	opened := mockStreams(t, nil)

	out, _ := PortAudio{}.OpenOutput(1, 16000, 4, 1)
	f := (*opened)[0]
	for i := 0; i < 2; i++ {
		if err := out.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	if f.stopped != 1 || f.closed != 1 {
		t.Errorf("stopped %d, closed %d; want 1, 1", f.stopped, f.closed)
	}
	if err := out.Write(make([]float32, 4)); err == nil {
		t.Error("expected error writing to a closed stream")
	}
}
