// SPDX-License-Identifier: MIT

// Package session drives an active noise control session: it loads the
// reference and secondary path, opens the audio streams and runs the
// block-synchronous FxLMS loop until the reference is exhausted, the maximum
// duration elapses or the context is cancelled.
package session

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"anc/internal/fxlms"
	"anc/internal/log"
)

// State is a session lifecycle stage.
type State int32

const (
	StateInit State = iota
	StateStreaming
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateStreaming:
		return "STREAMING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Dependencies are the collaborators a Scheduler drives. Devices and Store
// are required.
type Dependencies struct {
	Devices      Devices
	Store        Store
	Reporter     Reporter        // Discard when nil
	OpenRecorder RecorderFactory // consulted only when Config.RecordFile is set
	Now          func() time.Time
}

// Scheduler runs one session. It is single use.
type Scheduler struct {
	cfg  Config
	deps Dependencies

	state   atomic.Int32
	frames  atomic.Uint64
	started atomic.Bool

	filter *fxlms.Filter
}

// New prepares a session. Nothing is validated or opened until Run.
func New(cfg Config, deps Dependencies) *Scheduler {
	if deps.Reporter == nil {
		deps.Reporter = Discard
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Scheduler{cfg: cfg, deps: deps}
}

// State reports the current lifecycle stage. Safe to call concurrently with
// Run.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Frames reports the number of blocks played so far. Safe to call
// concurrently with Run.
func (s *Scheduler) Frames() uint64 { return s.frames.Load() }

// Weights returns the adaptive filter's weights, or nil in pass-through mode
// or before the filter was built. Call it only after Run has returned.
func (s *Scheduler) Weights() []float64 {
	if s.filter == nil {
		return nil
	}
	return s.filter.Weights()
}

func (s *Scheduler) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		log.Debugf("Session: %s -> %s", prev, st)
	}
}

// Run executes the session. Cancelling ctx stops it cleanly at the next
// block boundary and Run returns nil. Every stream acquired is closed before
// Run returns, on success and failure alike.
func (s *Scheduler) Run(ctx context.Context) (err error) {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}

	l := &loop{cfg: s.cfg, deps: s.deps, frames: &s.frames}
	defer func() {
		l.release()
		if err != nil {
			s.setState(StateFailed)
			return
		}
		s.setState(StateStopped)
	}()

	if err := l.init(); err != nil {
		return err
	}
	s.filter = l.filter

	s.setState(StateStreaming)
	if err := l.stream(ctx); err != nil {
		return err
	}

	s.setState(StateStopping)
	return l.saveWeights()
}

// loop holds everything acquired during INIT. Buffers are allocated once.
type loop struct {
	cfg    Config
	deps   Dependencies
	frames *atomic.Uint64

	sampleRate int
	reference  *Reference
	filter     *fxlms.Filter

	output    Output // control speaker
	refOutput Output // separate reference speaker, may be nil
	input     Input  // error microphone, nil in pass-through
	recorder  Recorder

	refBlock  []float64
	antiBlock []float64
	errBlock  []float64
	outFrame  []float32
	refFrame  []float32
	inFrame   []float32

	warnedNonFinite bool
}

func (l *loop) init() error {
	cfg := l.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}
	if l.deps.Devices == nil || l.deps.Store == nil {
		return fmt.Errorf("%w: devices and store are required", ErrConfiguration)
	}

	samples, rate, err := l.deps.Store.LoadMono(cfg.ReferencePath)
	if err != nil {
		return fmt.Errorf("%w: reference %q: %w", ErrResource, cfg.ReferencePath, err)
	}
	if len(samples) == 0 {
		return fmt.Errorf("%w: reference %q is empty", ErrResource, cfg.ReferencePath)
	}
	if rate <= 0 {
		return fmt.Errorf("%w: reference %q has invalid sample rate %d", ErrResource, cfg.ReferencePath, rate)
	}
	switch {
	case cfg.SampleRate == 0:
		l.sampleRate = rate
	case cfg.SampleRate != rate:
		return fmt.Errorf("%w: reference is %d Hz, session is configured for %d Hz", ErrConfiguration, rate, cfg.SampleRate)
	default:
		l.sampleRate = cfg.SampleRate
	}
	l.reference = NewReference(samples, cfg.LoopReference)

	block := cfg.BlockSize
	l.refBlock = make([]float64, block)

	if cfg.Mode == ModeCancel {
		if err := l.buildFilter(); err != nil {
			return err
		}
		l.antiBlock = make([]float64, block)
		l.errBlock = make([]float64, block)
		l.inFrame = make([]float32, block)
	}

	return l.open()
}

func (l *loop) buildFilter() error {
	cfg := l.cfg

	path := fxlms.DefaultSecondaryPath()
	if cfg.SecondaryPathFile != "" {
		coeffs, err := l.deps.Store.LoadCoefficients(cfg.SecondaryPathFile)
		if err != nil {
			return fmt.Errorf("%w: secondary path %q: %w", ErrResource, cfg.SecondaryPathFile, err)
		}
		if path, err = fxlms.NewSecondaryPath(coeffs); err != nil {
			return fmt.Errorf("%w: secondary path %q: %w", ErrResource, cfg.SecondaryPathFile, err)
		}
	}

	var seed []float64
	if cfg.WeightsFile != "" {
		var err error
		if seed, err = l.deps.Store.LoadCoefficients(cfg.WeightsFile); err != nil {
			return fmt.Errorf("%w: weights %q: %w", ErrResource, cfg.WeightsFile, err)
		}
		if len(seed) != cfg.FilterLength {
			return fmt.Errorf("%w: weights %q hold %d taps, filter length is %d",
				ErrResource, cfg.WeightsFile, len(seed), cfg.FilterLength)
		}
	}

	f, err := fxlms.NewFilter(fxlms.Params{
		StepSize:     cfg.StepSize,
		FilterLength: cfg.FilterLength,
		BlockSize:    cfg.BlockSize,
		Normalized:   cfg.Normalized,
		Seed:         seed,
	}, path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	l.filter = f

	log.Infof("Session: FxLMS filter with %d taps, block %d, step %g, secondary path %d taps",
		cfg.FilterLength, cfg.BlockSize, cfg.StepSize, path.Len())
	return nil
}

// open acquires the streams. Anything opened before a failure is closed by
// release.
func (l *loop) open() error {
	cfg := l.cfg
	rate := float64(l.sampleRate)
	block := cfg.BlockSize

	wantReference := cfg.Mode == ModePassThrough || cfg.PlayReference
	separate := cfg.separateReference() && wantReference
	needControl := cfg.Mode == ModeCancel || !separate

	if needControl {
		channels := 1
		if cfg.SplitReferenceChannels {
			channels = 2
		}
		out, err := l.deps.Devices.OpenOutput(channels, rate, block, cfg.ControlDevice)
		if err != nil {
			return fmt.Errorf("%w: open control output %d: %w", ErrDevice, cfg.ControlDevice, err)
		}
		l.output = out
		l.outFrame = make([]float32, channels*block)
	}

	if separate {
		out, err := l.deps.Devices.OpenOutput(1, rate, block, cfg.ReferenceDevice)
		if err != nil {
			return fmt.Errorf("%w: open reference output %d: %w", ErrDevice, cfg.ReferenceDevice, err)
		}
		l.refOutput = out
		l.refFrame = make([]float32, block)
	}

	if cfg.Mode != ModeCancel {
		return nil
	}

	in, err := l.deps.Devices.OpenInput(rate, block, cfg.RecordDevice)
	if err != nil {
		return fmt.Errorf("%w: open error microphone %d: %w", ErrDevice, cfg.RecordDevice, err)
	}
	l.input = in

	if cfg.RecordFile != "" && l.deps.OpenRecorder != nil {
		rec, err := l.deps.OpenRecorder(cfg.RecordFile, l.sampleRate, block)
		if err != nil {
			return fmt.Errorf("%w: recording %q: %w", ErrResource, cfg.RecordFile, err)
		}
		l.recorder = rec
	}
	return nil
}

func (l *loop) stream(ctx context.Context) error {
	cfg := l.cfg
	start := l.deps.Now()
	log.Infof("Session: streaming %s at %d Hz", cfg.Mode, l.sampleRate)

	for {
		if cfg.MaxDuration > 0 && l.deps.Now().Sub(start) >= cfg.MaxDuration {
			log.Infof("Session: maximum duration %v reached after %d frames", cfg.MaxDuration, l.frames.Load())
			return nil
		}
		if ctx.Err() != nil {
			log.Infof("Session: stop requested after %d frames", l.frames.Load())
			return nil
		}
		if !l.reference.Next(l.refBlock) {
			log.Infof("Session: reference exhausted after %d frames", l.frames.Load())
			return nil
		}

		var err error
		if cfg.Mode == ModePassThrough {
			err = l.relay()
		} else {
			err = l.cancel()
		}
		if err != nil {
			return err
		}
	}
}

// relay plays one reference block without adaptation.
func (l *loop) relay() error {
	if err := l.writeOutputs(l.refBlock, nil); err != nil {
		return err
	}
	l.frames.Add(1)
	return nil
}

// cancel runs one full FxLMS round trip.
func (l *loop) cancel() error {
	if err := l.filter.Synthesize(l.refBlock, l.antiBlock); err != nil {
		return err
	}
	if err := l.writeOutputs(l.refBlock, l.antiBlock); err != nil {
		return err
	}

	if err := l.input.Read(l.inFrame); err != nil {
		return fmt.Errorf("%w: read error microphone: %w", ErrDevice, err)
	}
	if l.recorder != nil {
		if err := l.recorder.Write(l.inFrame); err != nil {
			log.Warnf("Session: recording stopped: %v", err)
			l.closeRecorder()
		}
	}
	for i, v := range l.inFrame {
		l.errBlock[i] = float64(v)
	}

	rms, err := l.filter.Update(l.errBlock)
	if err != nil {
		return err
	}
	if !l.warnedNonFinite && (math.IsNaN(rms) || math.IsInf(rms, 0)) {
		log.Warnf("Session: error RMS is %v at frame %d; the step size is above the stability bound", rms, l.frames.Load())
		l.warnedNonFinite = true
	}

	frame := l.frames.Add(1) - 1
	l.deps.Reporter.Report(Metrics{FrameIndex: frame, ErrorRMS: rms})
	return nil
}

// writeOutputs lays out and writes one block. anti is nil in pass-through.
func (l *loop) writeOutputs(ref, anti []float64) error {
	cfg := l.cfg
	playRef := anti == nil || cfg.PlayReference

	if l.output != nil {
		switch {
		case cfg.SplitReferenceChannels:
			for i := range ref {
				var left, right float64
				if playRef {
					left = ref[i]
				}
				if anti != nil {
					right = anti[i]
				}
				l.outFrame[2*i] = toSample(left)
				l.outFrame[2*i+1] = toSample(right)
			}
		case l.refOutput != nil || !playRef:
			for i, v := range anti {
				l.outFrame[i] = toSample(v)
			}
		default:
			// Single stream: reference mixed into the control speaker.
			for i := range ref {
				v := ref[i]
				if anti != nil {
					v += anti[i]
				}
				l.outFrame[i] = toSample(v)
			}
		}
		if err := l.output.Write(l.outFrame); err != nil {
			return fmt.Errorf("%w: write control output: %w", ErrDevice, err)
		}
	}

	if l.refOutput != nil {
		for i, v := range ref {
			l.refFrame[i] = toSample(v)
		}
		if err := l.refOutput.Write(l.refFrame); err != nil {
			return fmt.Errorf("%w: write reference output: %w", ErrDevice, err)
		}
	}
	return nil
}

func (l *loop) saveWeights() error {
	if l.filter == nil || l.cfg.SaveWeightsFile == "" {
		return nil
	}
	if err := l.deps.Store.SaveCoefficients(l.cfg.SaveWeightsFile, l.filter.Weights()); err != nil {
		return fmt.Errorf("%w: save weights %q: %w", ErrResource, l.cfg.SaveWeightsFile, err)
	}
	log.Infof("Session: weights saved to %s", l.cfg.SaveWeightsFile)
	return nil
}

// release closes every acquired stream in reverse order of acquisition.
// Close failures are logged; they never mask the session's own result.
func (l *loop) release() {
	l.closeRecorder()
	if l.input != nil {
		if err := l.input.Close(); err != nil {
			log.Warnf("Session: close error microphone: %v", err)
		}
		l.input = nil
	}
	if l.refOutput != nil {
		if err := l.refOutput.Close(); err != nil {
			log.Warnf("Session: close reference output: %v", err)
		}
		l.refOutput = nil
	}
	if l.output != nil {
		if err := l.output.Close(); err != nil {
			log.Warnf("Session: close control output: %v", err)
		}
		l.output = nil
	}
}

func (l *loop) closeRecorder() {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.Close(); err != nil {
		log.Warnf("Session: close recording: %v", err)
	}
	l.recorder = nil
}

// toSample converts to float32, clipping to the device's full scale.
func toSample(v float64) float32 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return float32(v)
}
