package session

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"anc/internal/fxlms"
)

// Device indices used by the simulated host.
const (
	controlDev   = 1
	recordDev    = 2
	referenceDev = 3
)

var errNotFound = errors.New("not found")

// simHost is an in-process audio host whose microphone hears the reference
// through a primary path and the control speaker through a secondary path.
// Stereo control output carries the reference on the left channel; a mono
// control stream and a separate reference stream are routed accordingly.
type simHost struct {
	t         testing.TB
	block     int
	primary   *fxlms.SecondaryPath
	secondary *fxlms.SecondaryPath
	refHist   *fxlms.History
	antiHist  *fxlms.History
	primaryIn []float64
	speakerIn []float64
	d, y      []float64

	outputs []*simOutput
	inputs  []*simInput

	openOutputErr map[int]error
	openInputErr  error
	readErrAt     int // block index of a failing read, -1 for none
	writeErrAt    int
}

func newSimHost(t testing.TB, block int, primary, secondary []float64) *simHost {
	t.Helper()
	p, err := fxlms.NewSecondaryPath(primary)
	if err != nil {
		t.Fatalf("primary path: %v", err)
	}
	s, err := fxlms.NewSecondaryPath(secondary)
	if err != nil {
		t.Fatalf("secondary path: %v", err)
	}
	return &simHost{
		t:             t,
		block:         block,
		primary:       p,
		secondary:     s,
		refHist:       fxlms.NewHistory(p.Len(), block),
		antiHist:      fxlms.NewHistory(s.Len(), block),
		primaryIn:     make([]float64, block),
		speakerIn:     make([]float64, block),
		d:             make([]float64, block),
		y:             make([]float64, block),
		openOutputErr: map[int]error{},
		readErrAt:     -1,
		writeErrAt:    -1,
	}
}

func (h *simHost) OpenOutput(channels int, sampleRate float64, blockSize, device int) (Output, error) {
	if err := h.openOutputErr[device]; err != nil {
		return nil, err
	}
	if blockSize != h.block {
		return nil, fmt.Errorf("block size %d, host runs %d", blockSize, h.block)
	}
	o := &simOutput{host: h, channels: channels, device: device, rate: sampleRate}
	h.outputs = append(h.outputs, o)
	return o, nil
}

func (h *simHost) OpenInput(sampleRate float64, blockSize, device int) (Input, error) {
	if h.openInputErr != nil {
		return nil, h.openInputErr
	}
	in := &simInput{host: h, device: device}
	h.inputs = append(h.inputs, in)
	return in, nil
}

func (h *simHost) opened() int { return len(h.outputs) + len(h.inputs) }

// assertReleased fails the test if any opened stream is still open.
func (h *simHost) assertReleased(t *testing.T) {
	t.Helper()
	for _, o := range h.outputs {
		if !o.closed {
			t.Errorf("output on device %d not closed", o.device)
		}
	}
	for _, in := range h.inputs {
		if !in.closed {
			t.Errorf("input on device %d not closed", in.device)
		}
	}
}

func (h *simHost) output(device int) *simOutput {
	for _, o := range h.outputs {
		if o.device == device {
			return o
		}
	}
	return nil
}

// capture produces the microphone block for everything played since the
// previous capture.
func (h *simHost) capture(dst []float32) {
	h.refHist.Stage(h.primaryIn)
	h.antiHist.Stage(h.speakerIn)
	h.primary.Filter(h.refHist.Window(), h.d)
	h.secondary.Filter(h.antiHist.Window(), h.y)
	for i := range dst {
		dst[i] = float32(h.d[i] + h.y[i])
	}
	h.refHist.Commit()
	h.antiHist.Commit()
	clear(h.primaryIn)
	clear(h.speakerIn)
}

type simOutput struct {
	host     *simHost
	channels int
	device   int
	rate     float64
	frames   [][]float32
	closed   bool
}

func (o *simOutput) Write(frame []float32) error {
	if o.closed {
		return errors.New("write on closed stream")
	}
	if len(o.frames) == o.host.writeErrAt {
		return errors.New("output underflow")
	}
	o.frames = append(o.frames, append([]float32(nil), frame...))

	h := o.host
	switch {
	case o.channels == 2:
		for i := range h.block {
			h.primaryIn[i] = float64(frame[2*i])
			h.speakerIn[i] = float64(frame[2*i+1])
		}
	case o.device == referenceDev:
		for i, v := range frame {
			h.primaryIn[i] = float64(v)
		}
	default:
		for i, v := range frame {
			h.speakerIn[i] = float64(v)
		}
	}
	return nil
}

func (o *simOutput) Close() error {
	o.closed = true
	return nil
}

type simInput struct {
	host   *simHost
	device int
	reads  int
	closed bool
}

func (in *simInput) Read(dst []float32) error {
	if in.closed {
		return errors.New("read on closed stream")
	}
	if in.reads == in.host.readErrAt {
		return errors.New("input overflow")
	}
	in.reads++
	in.host.capture(dst)
	return nil
}

func (in *simInput) Close() error {
	in.closed = true
	return nil
}

type memSignal struct {
	samples []float64
	rate    int
}

// memStore keeps signals and coefficient vectors in memory.
type memStore struct {
	signals map[string]memSignal
	coeffs  map[string][]float64
	saved   map[string][]float64
}

func newMemStore() *memStore {
	return &memStore{
		signals: map[string]memSignal{},
		coeffs:  map[string][]float64{},
		saved:   map[string][]float64{},
	}
}

func (s *memStore) LoadMono(path string) ([]float64, int, error) {
	sig, ok := s.signals[path]
	if !ok {
		return nil, 0, fmt.Errorf("%s: %w", path, errNotFound)
	}
	return sig.samples, sig.rate, nil
}

func (s *memStore) LoadCoefficients(path string) ([]float64, error) {
	c, ok := s.coeffs[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, errNotFound)
	}
	return append([]float64(nil), c...), nil
}

func (s *memStore) SaveCoefficients(path string, c []float64) error {
	s.saved[path] = append([]float64(nil), c...)
	return nil
}

// stepClock advances by step on every reading.
type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

// collector records every metrics record.
type collector struct {
	records []Metrics
	onFrame func(Metrics)
}

func (c *collector) Report(m Metrics) {
	c.records = append(c.records, m)
	if c.onFrame != nil {
		c.onFrame(m)
	}
}

func (c *collector) rms() []float64 {
	out := make([]float64, len(c.records))
	for i, m := range c.records {
		out[i] = m.ErrorRMS
	}
	return out
}

type memRecorder struct {
	blocks int
	closed bool
	err    error
}

func (r *memRecorder) Write([]float32) error {
	if r.err != nil {
		return r.err
	}
	r.blocks++
	return nil
}

func (r *memRecorder) Close() error {
	r.closed = true
	return nil
}
