// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"anc/internal/log"
	"anc/internal/session"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug       bool              `yaml:"debug"`     // Force debug logging regardless of log_level.
	LogLevel    string            `yaml:"log_level"` // Logging level (e.g., "debug", "info", "warn", "error").
	Session     SessionConfig     `yaml:"session"`
	Filter      FilterConfig      `yaml:"filter"`
	Devices     DevicesConfig     `yaml:"devices"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Calibration CalibrationConfig `yaml:"calibration"`
}

// SessionConfig describes what is played and for how long.
type SessionConfig struct {
	Mode          string        `yaml:"mode"`           // "cancel" or "passthrough".
	Reference     string        `yaml:"reference"`      // Mono WAV file with the noise to cancel.
	Loop          bool          `yaml:"loop"`           // Restart the reference when it runs out.
	PlayReference bool          `yaml:"play_reference"` // Also play the reference while cancelling.
	SplitChannels bool          `yaml:"split_channels"` // Stereo output, reference left and anti-noise right.
	MaxDuration   time.Duration `yaml:"max_duration"`   // Stop after this long (0 for unlimited).
	Preview       time.Duration `yaml:"preview"`        // Pass-through audition before cancelling.
	SampleRate    int           `yaml:"sample_rate"`    // Expected rate in Hz (0 takes the reference's).
	RecordFile    string        `yaml:"record_file"`    // WAV file for the error microphone.
}

// FilterConfig holds the adaptive filter settings.
type FilterConfig struct {
	StepSize      float64 `yaml:"step_size"`      // Adaptation rate (mu).
	Length        int     `yaml:"length"`         // Number of filter taps.
	BlockSize     int     `yaml:"block_size"`     // Frames per processing block.
	Normalized    bool    `yaml:"normalized"`     // Scale the step by the filtered reference power.
	SecondaryPath string  `yaml:"secondary_path"` // .npy coefficients; identity path when empty.
	Weights       string  `yaml:"weights"`        // .npy initial weights.
	SaveWeights   string  `yaml:"save_weights"`   // .npy file written on a clean stop.
}

// DevicesConfig selects PortAudio devices by host index. -1 is the host
// default; -2 disables the separate reference speaker.
type DevicesConfig struct {
	Control    int  `yaml:"control"`     // Anti-noise speaker.
	Record     int  `yaml:"record"`      // Error microphone.
	Reference  int  `yaml:"reference"`   // Separate reference speaker.
	LowLatency bool `yaml:"low_latency"` // Request low latency settings from PortAudio device.
}

// MetricsConfig holds settings for the per-block metrics observers.
type MetricsConfig struct {
	LogEvery         int           `yaml:"log_every"`          // Log one record per this many blocks (0 disables).
	WebSocketAddress string        `yaml:"websocket_address"`  // Listen address for the /metrics socket.
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Enable sending metrics over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port for UDP packets (e.g., "127.0.0.1:9090").
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between sending UDP packets.
	TUI              bool          `yaml:"tui"`                // Show the terminal monitor.
	LogFile          string        `yaml:"log_file"`           // Log destination while the monitor owns the terminal.
}

// CalibrationConfig holds the secondary path measurement settings.
type CalibrationConfig struct {
	Duration time.Duration `yaml:"duration"` // Length of the white noise excitation.
	Level    float64       `yaml:"level"`    // Peak excitation amplitude.
	Taps     int           `yaml:"taps"`     // Length of the fitted path.
	Seed     uint64        `yaml:"seed"`     // Noise seed.
	Output   string        `yaml:"output"`   // .npy file for the measured path.
}

// Default returns the built-in configuration.
func Default() Config {
	measure := session.DefaultMeasureConfig()
	return Config{
		Debug:    false,
		LogLevel: DefaultLogLevel,
		Session: SessionConfig{
			Mode:          DefaultMode,
			Loop:          true,
			PlayReference: true,
			SplitChannels: true,
		},
		Filter: FilterConfig{
			StepSize:  session.DefaultStepSize,
			Length:    session.DefaultFilterLength,
			BlockSize: session.DefaultBlockSize,
		},
		Devices: DevicesConfig{
			Control:   session.DefaultDevice,
			Record:    session.DefaultDevice,
			Reference: session.NoDevice,
		},
		Metrics: MetricsConfig{
			LogEvery:         DefaultMetricsEvery,
			UDPEnabled:       false, // Default UDP to false.
			UDPTargetAddress: DefaultUDPTarget,
			UDPSendInterval:  DefaultUDPInterval,
		},
		Calibration: CalibrationConfig{
			Duration: measure.Duration,
			Level:    measure.Level,
			Taps:     measure.Taps,
			Seed:     measure.Seed,
			Output:   DefaultCalibrationOut,
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("anc.yaml", "config.yaml"). If no file is found, it
// uses built-in defaults. After loading defaults or from file, it applies environment
// variable overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range []string{"anc.yaml", "config.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		log.Debugf("configuration: Loaded %s", path)
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields the session does not check itself: logging,
// metrics observers and limits. Every problem is reported.
func (c *Config) Validate() error {
	var errs []error

	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("log_level %q is not recognised", c.LogLevel))
	}
	if _, err := session.ParseMode(c.Session.Mode); err != nil {
		errs = append(errs, fmt.Errorf("session.mode: %w", err))
	}
	if r := c.Session.SampleRate; r != 0 && (r < MinSampleRate || r > MaxSampleRate) {
		errs = append(errs, fmt.Errorf("session.sample_rate %d outside [%d, %d]", r, MinSampleRate, MaxSampleRate))
	}
	if c.Session.MaxDuration < 0 || c.Session.Preview < 0 {
		errs = append(errs, errors.New("session durations must not be negative"))
	}
	if c.Filter.BlockSize > MaxBlockSize {
		errs = append(errs, fmt.Errorf("filter.block_size %d exceeds %d", c.Filter.BlockSize, MaxBlockSize))
	}
	if c.Filter.Length > MaxFilterTaps {
		errs = append(errs, fmt.Errorf("filter.length %d exceeds %d", c.Filter.Length, MaxFilterTaps))
	}
	if c.Metrics.LogEvery < 0 {
		errs = append(errs, errors.New("metrics.log_every must not be negative"))
	}

	// Transport Validation
	if c.Metrics.UDPEnabled {
		if _, _, err := net.SplitHostPort(c.Metrics.UDPTargetAddress); err != nil {
			errs = append(errs, fmt.Errorf("metrics.udp_target_address %q appears invalid: %w", c.Metrics.UDPTargetAddress, err))
		}
		if c.Metrics.UDPSendInterval <= 0 {
			errs = append(errs, errors.New("metrics.udp_send_interval must be positive when UDP is enabled"))
		}
	}
	if addr := c.Metrics.WebSocketAddress; addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("metrics.websocket_address %q appears invalid: %w", addr, err))
		}
	}

	return errors.Join(errs...)
}

// Level returns the effective log level. Debug overrides log_level.
func (c *Config) Level() log.LogLevel {
	if c.Debug {
		return log.LevelDebug
	}
	level, _ := log.ParseLevel(c.LogLevel)
	return level
}

// ToSession converts the file settings into a session configuration.
// The session validates the result when it runs.
func (c *Config) ToSession() (session.Config, error) {
	mode, err := session.ParseMode(c.Session.Mode)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		Mode:                   mode,
		ReferencePath:          c.Session.Reference,
		SecondaryPathFile:      c.Filter.SecondaryPath,
		WeightsFile:            c.Filter.Weights,
		SaveWeightsFile:        c.Filter.SaveWeights,
		RecordFile:             c.Session.RecordFile,
		SampleRate:             c.Session.SampleRate,
		StepSize:               c.Filter.StepSize,
		BlockSize:              c.Filter.BlockSize,
		FilterLength:           c.Filter.Length,
		Normalized:             c.Filter.Normalized,
		SplitReferenceChannels: c.Session.SplitChannels,
		PlayReference:          c.Session.PlayReference,
		LoopReference:          c.Session.Loop,
		MaxDuration:            c.Session.MaxDuration,
		ControlDevice:          c.Devices.Control,
		RecordDevice:           c.Devices.Record,
		ReferenceDevice:        c.Devices.Reference,
	}, nil
}

// ToMeasure converts the calibration settings into a measurement
// configuration. The sample rate defaults to the measurement default when the
// session does not pin one.
func (c *Config) ToMeasure() session.MeasureConfig {
	mc := session.DefaultMeasureConfig()
	if c.Session.SampleRate > 0 {
		mc.SampleRate = c.Session.SampleRate
	}
	mc.BlockSize = c.Filter.BlockSize
	mc.Duration = c.Calibration.Duration
	mc.Level = c.Calibration.Level
	mc.Taps = c.Calibration.Taps
	mc.Seed = c.Calibration.Seed
	mc.SplitChannels = c.Session.SplitChannels
	mc.ControlDevice = c.Devices.Control
	mc.RecordDevice = c.Devices.Record
	return mc
}

// applyEnvOverrides applies ENV_* variables on top of the loaded values.
// Unparseable values are ignored.
func (cfg *Config) applyEnvOverrides() {
	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
			log.Infof("configuration: Overriding debug from env: %v", bVal)
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
		log.Infof("configuration: Overriding log_level from env: %s", val)
	}

	// ENV_FILTER_{...}
	// These tune the adaptive filter without editing the file.

	// ENV_FILTER_STEP_SIZE
	if val, ok := os.LookupEnv("ENV_FILTER_STEP_SIZE"); ok {
		if fVal, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Filter.StepSize = fVal
			log.Infof("configuration: Overriding filter.step_size from env: %v", fVal)
		}
	}
	// ENV_FILTER_NORMALIZED
	if val, ok := os.LookupEnv("ENV_FILTER_NORMALIZED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Filter.Normalized = bVal
			log.Infof("configuration: Overriding filter.normalized from env: %v", bVal)
		}
	}

	// ENV_UDP_{...}
	// These are specific to the transport layer.

	// ENV_UDP_ENABLED
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Metrics.UDPEnabled = bVal
			log.Infof("configuration: Overriding metrics.udp_enabled from env: %v", bVal)
		}
	}
	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Metrics.UDPTargetAddress = val
		log.Infof("configuration: Overriding metrics.udp_target_address from env: %s", val)
	}
	// ENV_UDP_SEND_INTERVAL
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Metrics.UDPSendInterval = dur
			log.Infof("configuration: Overriding metrics.udp_send_interval from env: %s", dur)
		}
	}
	// ENV_WS_ADDRESS
	if val, ok := os.LookupEnv("ENV_WS_ADDRESS"); ok {
		cfg.Metrics.WebSocketAddress = val
		log.Infof("configuration: Overriding metrics.websocket_address from env: %s", val)
	}
}
