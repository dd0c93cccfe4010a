package config

import "time"

// Defaults and limits for the configuration file. Values not set in the file
// fall back to these.
const (
	DefaultLogLevel       = "info"
	DefaultMode           = "cancel"
	DefaultMetricsEvery   = 50                    // log one metrics record per this many blocks
	DefaultUDPTarget      = "127.0.0.1:9090"      // metrics datagram destination
	DefaultUDPInterval    = 16 * time.Millisecond // ~60 Hz
	DefaultMonitorQueue   = 64                    // terminal monitor backlog in records
	DefaultCalibrationOut = "secondary_path.npy"

	// Hardware and processing limits
	MinSampleRate = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate = 192000 // Maximum supported sample rate (Hz)
	MaxBlockSize  = 8192   // Maximum frames per block
	MaxFilterTaps = 1 << 16
)
