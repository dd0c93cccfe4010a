package session

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Mode selects how the block loop treats the reference signal.
type Mode int

const (
	// ModeCancel runs the adaptive filter and emits anti-noise.
	ModeCancel Mode = iota
	// ModePassThrough only relays the reference to playback, for auditioning
	// the uncancelled noise.
	ModePassThrough
)

func (m Mode) String() string {
	switch m {
	case ModeCancel:
		return "cancel"
	case ModePassThrough:
		return "passthrough"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts the mode names used by the CLI and config file.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cancel", "anc", "a":
		return ModeCancel, nil
	case "passthrough", "pass-through", "reference", "r":
		return ModePassThrough, nil
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrConfiguration, s)
}

// Device selectors. Non-negative values are host device indices.
const (
	DefaultDevice = -1 // the host's default device
	NoDevice      = -2 // no device; only valid where a stream is optional
)

const (
	DefaultBlockSize    = 128
	DefaultFilterLength = 128
	DefaultStepSize     = 5e-4
)

// Config is the immutable configuration of one session. It is copied into
// the Scheduler at construction.
type Config struct {
	Mode Mode

	ReferencePath     string // mono WAV holding the noise to cancel
	SecondaryPathFile string // 1-D coefficient array; identity path when empty
	WeightsFile       string // optional initial weights
	SaveWeightsFile   string // optional; written when the session stops cleanly
	RecordFile        string // optional WAV of the error microphone

	SampleRate   int // 0 uses the reference file's rate
	StepSize     float64
	BlockSize    int
	FilterLength int
	Normalized   bool

	SplitReferenceChannels bool // stereo output: reference left, anti-noise right
	PlayReference          bool // also play the reference while cancelling
	LoopReference          bool
	MaxDuration            time.Duration // 0 means unlimited

	ControlDevice   int
	RecordDevice    int
	ReferenceDevice int
}

// DefaultConfig returns a cancelling session on the default devices.
func DefaultConfig() Config {
	return Config{
		Mode:                   ModeCancel,
		StepSize:               DefaultStepSize,
		BlockSize:              DefaultBlockSize,
		FilterLength:           DefaultFilterLength,
		SplitReferenceChannels: true,
		PlayReference:          true,
		LoopReference:          true,
		ControlDevice:          DefaultDevice,
		RecordDevice:           DefaultDevice,
		ReferenceDevice:        NoDevice,
	}
}

// Validate checks the options that can be checked without touching any file
// or device. All failures wrap ErrConfiguration.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, v ...any) {
		problems = append(problems, fmt.Sprintf(format, v...))
	}

	if c.Mode != ModeCancel && c.Mode != ModePassThrough {
		add("unsupported mode %v", c.Mode)
	}
	if c.ReferencePath == "" {
		add("reference path is required")
	}
	if c.SampleRate < 0 {
		add("sample rate must not be negative, got %d", c.SampleRate)
	}
	if c.BlockSize <= 0 {
		add("block size must be positive, got %d", c.BlockSize)
	}
	if c.MaxDuration < 0 {
		add("max duration must not be negative, got %v", c.MaxDuration)
	}
	if !validSelector(c.ControlDevice) || c.ControlDevice == NoDevice {
		add("control device is required")
	}
	if !validSelector(c.ReferenceDevice) {
		add("invalid reference device %d", c.ReferenceDevice)
	}
	if c.SplitReferenceChannels && c.ReferenceDevice != NoDevice {
		add("a separate reference device cannot be combined with split channels")
	}

	if c.Mode == ModeCancel {
		if c.FilterLength <= 0 {
			add("filter length must be positive, got %d", c.FilterLength)
		}
		if !(c.StepSize > 0) || math.IsInf(c.StepSize, 0) {
			add("step size must be positive and finite, got %v", c.StepSize)
		}
		if !validSelector(c.RecordDevice) || c.RecordDevice == NoDevice {
			add("record device is required when cancelling")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// separateReference reports whether the reference gets its own output stream.
func (c Config) separateReference() bool {
	return !c.SplitReferenceChannels && c.ReferenceDevice != NoDevice
}

func validSelector(d int) bool {
	return d >= NoDevice
}
