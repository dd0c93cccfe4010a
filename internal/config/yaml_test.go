// SPDX-License-Identifier: MIT
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"anc/internal/log"
	"anc/internal/session"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig("")
	if err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected default config, got nil")
	}
	if cfg.Filter.BlockSize != session.DefaultBlockSize || cfg.Devices.Reference != session.NoDevice {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig("nonexistent.yaml")
	if err == nil {
		t.Errorf("expected error for missing file, got nil")
	}
	if cfg != nil {
		t.Errorf("expected nil config on error, got %+v", cfg)
	}
}

func TestLoadConfig_UnmarshalError(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, ":\n:bad")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Error("expected unmarshal error, got nil or wrong error")
	}
}

func TestLoadConfig_File(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, `
log_level: warn
session:
  mode: passthrough
  reference: noise.wav
  loop: false
  max_duration: 90s
filter:
  step_size: 0.001
  length: 64
  normalized: true
devices:
  control: 3
  reference: 4
metrics:
  udp_enabled: true
  udp_target_address: "127.0.0.1:7000"
  udp_send_interval: 50ms
calibration:
  taps: 128
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	sc, err := cfg.ToSession()
	if err != nil {
		t.Fatalf("ToSession: %v", err)
	}
	if sc.Mode != session.ModePassThrough || sc.ReferencePath != "noise.wav" || sc.LoopReference {
		t.Errorf("session fields not loaded: %+v", sc)
	}
	if sc.MaxDuration != 90*time.Second || sc.StepSize != 0.001 || sc.FilterLength != 64 || !sc.Normalized {
		t.Errorf("filter fields not loaded: %+v", sc)
	}
	if sc.BlockSize != session.DefaultBlockSize {
		t.Errorf("BlockSize = %d, want default %d", sc.BlockSize, session.DefaultBlockSize)
	}
	if sc.ControlDevice != 3 || sc.RecordDevice != session.DefaultDevice || sc.ReferenceDevice != 4 {
		t.Errorf("device fields not loaded: %+v", sc)
	}
	if !sc.PlayReference || !sc.SplitReferenceChannels {
		t.Error("unset booleans should keep their defaults")
	}
	if cfg.Metrics.UDPSendInterval != 50*time.Millisecond {
		t.Errorf("UDPSendInterval = %v", cfg.Metrics.UDPSendInterval)
	}
	if cfg.Level() != log.LevelWarn {
		t.Errorf("Level = %v, want WARN", cfg.Level())
	}

	mc := cfg.ToMeasure()
	if mc.Taps != 128 || mc.ControlDevice != 3 || mc.Duration != 3*time.Second {
		t.Errorf("unexpected measure config: %+v", mc)
	}
	if err := mc.Validate(); err != nil {
		t.Errorf("measure config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"mode", func(c *Config) { c.Session.Mode = "karaoke" }, "session.mode"},
		{"sample rate", func(c *Config) { c.Session.SampleRate = 100 }, "session.sample_rate"},
		{"duration", func(c *Config) { c.Session.MaxDuration = -time.Second }, "durations"},
		{"block size", func(c *Config) { c.Filter.BlockSize = MaxBlockSize + 1 }, "filter.block_size"},
		{"filter length", func(c *Config) { c.Filter.Length = MaxFilterTaps + 1 }, "filter.length"},
		{"log every", func(c *Config) { c.Metrics.LogEvery = -1 }, "log_every"},
		{"udp address", func(c *Config) {
			c.Metrics.UDPEnabled = true
			c.Metrics.UDPTargetAddress = "localhost"
		}, "udp_target_address"},
		{"udp interval", func(c *Config) {
			c.Metrics.UDPEnabled = true
			c.Metrics.UDPSendInterval = 0
		}, "udp_send_interval"},
		{"websocket address", func(c *Config) { c.Metrics.WebSocketAddress = "8080" }, "websocket_address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.LogLevel = "loud"
	cfg.Metrics.LogEvery = -1
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "log_level") || !strings.Contains(err.Error(), "log_every") {
		t.Errorf("Validate() = %v, want both problems", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ENV_DEBUG", "true")
	t.Setenv("ENV_FILTER_STEP_SIZE", "0.002")
	t.Setenv("ENV_FILTER_NORMALIZED", "not-a-bool")
	t.Setenv("ENV_UDP_ENABLED", "1")
	t.Setenv("ENV_UDP_TARGET_ADDRESS", "10.0.0.1:9999")
	t.Setenv("ENV_UDP_SEND_INTERVAL", "100ms")
	t.Setenv("ENV_WS_ADDRESS", "127.0.0.1:0")

	cfg, err := LoadConfig(writeTempConfig(t, "filter:\n  step_size: 0.5\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.Debug || cfg.Level() != log.LevelDebug {
		t.Error("ENV_DEBUG not applied")
	}
	if cfg.Filter.StepSize != 0.002 {
		t.Errorf("StepSize = %v, want env value 0.002", cfg.Filter.StepSize)
	}
	if cfg.Filter.Normalized {
		t.Error("unparseable bool should be ignored")
	}
	if !cfg.Metrics.UDPEnabled || cfg.Metrics.UDPTargetAddress != "10.0.0.1:9999" || cfg.Metrics.UDPSendInterval != 100*time.Millisecond {
		t.Errorf("UDP overrides not applied: %+v", cfg.Metrics)
	}
	if cfg.Metrics.WebSocketAddress != "127.0.0.1:0" {
		t.Errorf("WebSocketAddress = %q", cfg.Metrics.WebSocketAddress)
	}
}

func TestEnvOverrideInvalidatesConfig(t *testing.T) {
	t.Setenv("ENV_LOG_LEVEL", "loud")
	if _, err := LoadConfig(writeTempConfig(t, "")); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("err = %v, want invalid configuration", err)
	}
}
