package session

import (
	"context"
	"fmt"
	"time"

	"anc/internal/fxlms"
	"anc/internal/log"
	"anc/pkg/utils"
)

// MeasureConfig configures an offline secondary path measurement.
type MeasureConfig struct {
	SampleRate    int
	BlockSize     int
	Duration      time.Duration
	Level         float64 // peak excitation amplitude
	Taps          int
	Seed          uint64
	SplitChannels bool // play on the anti-noise (right) channel of a stereo stream
	ControlDevice int
	RecordDevice  int
}

// DefaultMeasureConfig plays three seconds of white noise at 16 kHz and
// fits a 256-tap path.
func DefaultMeasureConfig() MeasureConfig {
	return MeasureConfig{
		SampleRate:    16000,
		BlockSize:     DefaultBlockSize,
		Duration:      3 * time.Second,
		Level:         0.2,
		Taps:          256,
		Seed:          1,
		SplitChannels: true,
		ControlDevice: DefaultDevice,
		RecordDevice:  DefaultDevice,
	}
}

func (c MeasureConfig) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrConfiguration, c.SampleRate)
	case c.BlockSize <= 0:
		return fmt.Errorf("%w: block size must be positive, got %d", ErrConfiguration, c.BlockSize)
	case c.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive, got %v", ErrConfiguration, c.Duration)
	case !(c.Level > 0 && c.Level <= 1):
		return fmt.Errorf("%w: level must be in (0, 1], got %v", ErrConfiguration, c.Level)
	case c.Taps <= 0:
		return fmt.Errorf("%w: taps must be positive, got %d", ErrConfiguration, c.Taps)
	case c.ControlDevice < DefaultDevice || c.RecordDevice < DefaultDevice:
		return fmt.Errorf("%w: control and record devices are required", ErrConfiguration)
	}
	return nil
}

// Measure plays seeded white noise through the control speaker, records the
// error microphone and returns the least-squares FIR estimate of the path
// between them. Cancelling ctx aborts the measurement with ctx.Err().
func Measure(ctx context.Context, cfg MeasureConfig, devices Devices) ([]float64, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	block := cfg.BlockSize
	blocks := max(int(cfg.Duration.Seconds()*float64(cfg.SampleRate))/block, 1)
	excitation := utils.WhiteNoise(blocks*block, cfg.Level, cfg.Seed)
	recorded := make([]float64, len(excitation))

	channels := 1
	if cfg.SplitChannels {
		channels = 2
	}
	rate := float64(cfg.SampleRate)

	out, err := devices.OpenOutput(channels, rate, block, cfg.ControlDevice)
	if err != nil {
		return nil, fmt.Errorf("%w: open control output %d: %w", ErrDevice, cfg.ControlDevice, err)
	}
	defer closeLogged("control output", out.Close)

	in, err := devices.OpenInput(rate, block, cfg.RecordDevice)
	if err != nil {
		return nil, fmt.Errorf("%w: open error microphone %d: %w", ErrDevice, cfg.RecordDevice, err)
	}
	defer closeLogged("error microphone", in.Close)

	log.Infof("Measure: playing %d blocks of white noise at level %g", blocks, cfg.Level)

	outFrame := make([]float32, channels*block)
	inFrame := make([]float32, block)
	for b := 0; b < blocks; b++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk := excitation[b*block : (b+1)*block]
		for i, v := range chunk {
			outFrame[i*channels+channels-1] = toSample(v)
		}
		if err := out.Write(outFrame); err != nil {
			return nil, fmt.Errorf("%w: write control output: %w", ErrDevice, err)
		}
		if err := in.Read(inFrame); err != nil {
			return nil, fmt.Errorf("%w: read error microphone: %w", ErrDevice, err)
		}
		for i, v := range inFrame {
			recorded[b*block+i] = float64(v)
		}
	}

	taps, err := fxlms.EstimateSecondaryPath(excitation, recorded, cfg.Taps)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return taps, nil
}

func closeLogged(name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		log.Warnf("Measure: close %s: %v", name, err)
	}
}
