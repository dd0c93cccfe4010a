package cmd

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"anc/internal/config"
	"anc/internal/session"
	"anc/internal/signalio"
)

func TestToneCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	err := Execute(context.Background(), []string{
		"tone", path, "--frequency", "250", "--seconds", "0.5", "--amplitude", "0.4", "--sample-rate", "8000",
	})
	if err != nil {
		t.Fatalf("tone: %v", err)
	}

	samples, rate, err := signalio.LoadMono(path)
	if err != nil {
		t.Fatalf("LoadMono: %v", err)
	}
	if rate != 8000 || len(samples) != 4000 {
		t.Fatalf("got %d samples at %d Hz, want 4000 at 8000", len(samples), rate)
	}
	// 250 Hz at 8 kHz peaks every 32 samples starting at 8.
	if math.Abs(samples[8]-0.4) > 1e-3 {
		t.Errorf("samples[8] = %v, want ~0.4", samples[8])
	}
}

func TestToneCommandRejectsAmplitude(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	err := Execute(context.Background(), []string{"tone", path, "--amplitude", "1.5"})
	if !errors.Is(err, session.ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
}

func TestBadConfigFile(t *testing.T) {
	err := Execute(context.Background(), []string{"run", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	if !errors.Is(err, session.ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
}

func TestFlagsOverrideOnlyWhenSet(t *testing.T) {
	root := newRootCmd()
	run, _, err := root.Find([]string{"run"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if err := run.ParseFlags([]string{"--step-size", "0.01", "-c", "4", "--udp", "127.0.0.1:7000", "-d", "2s"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	opts := &options{stepSize: 0.01, control: 4, udp: "127.0.0.1:7000", duration: 2 * time.Second, filterLength: 7}
	cfg := config.Default()
	opts.apply(run, &cfg)

	if cfg.Filter.StepSize != 0.01 || cfg.Devices.Control != 4 {
		t.Errorf("set flags not applied: %+v", cfg)
	}
	if !cfg.Metrics.UDPEnabled || cfg.Metrics.UDPTargetAddress != "127.0.0.1:7000" {
		t.Errorf("udp flag not applied: %+v", cfg.Metrics)
	}
	if cfg.Session.MaxDuration != 2*time.Second {
		t.Errorf("MaxDuration = %v, want 2s", cfg.Session.MaxDuration)
	}
	if cfg.Filter.Length != session.DefaultFilterLength {
		t.Errorf("unset flag overrode the file: Length = %d", cfg.Filter.Length)
	}
	if cfg.Calibration.Duration != config.Default().Calibration.Duration {
		t.Error("run duration leaked into calibration")
	}
}

func TestMeasureFlags(t *testing.T) {
	root := newRootCmd()
	measure, _, err := root.Find([]string{"measure"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if err := measure.ParseFlags([]string{"-d", "5s", "--taps", "64", "-o", "path.npy"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	opts := &options{duration: 5 * time.Second, taps: 64, output: "path.npy"}
	cfg := config.Default()
	opts.apply(measure, &cfg)

	if cfg.Calibration.Duration != 5*time.Second || cfg.Calibration.Taps != 64 || cfg.Calibration.Output != "path.npy" {
		t.Errorf("calibration flags not applied: %+v", cfg.Calibration)
	}
	if cfg.Session.MaxDuration != 0 {
		t.Errorf("measure duration leaked into the session: %v", cfg.Session.MaxDuration)
	}
	if err := cfg.ToMeasure().Validate(); err != nil {
		t.Errorf("measure config invalid: %v", err)
	}
}
