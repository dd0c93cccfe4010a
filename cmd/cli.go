package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"anc/internal/audio"
	"anc/internal/config"
	"anc/internal/log"
	"anc/internal/session"
	"anc/pkg/build"
)

// options holds the flag values. A flag only overrides the configuration
// file when it was set on the command line.
type options struct {
	configPath string
	verbose    bool

	// session
	sampleRate    int
	duration      time.Duration
	preview       time.Duration
	loop          bool
	playReference bool
	split         bool
	record        string

	// filter
	stepSize      float64
	filterLength  int
	blockSize     int
	normalized    bool
	secondaryPath string
	weights       string
	saveWeights   string

	// devices
	control    int
	mic        int
	reference  int
	lowLatency bool

	// observers
	tui       bool
	websocket string
	udp       string

	// measure
	taps   int
	level  float64
	seed   uint64
	output string

	// tone
	frequency float64
	seconds   float64
	amplitude float64
	complex   bool
}

// Execute builds the command tree and runs the command named by args.
func Execute(ctx context.Context, args []string) error {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

// cli carries the parsed flags and the loaded configuration between the root
// command and its subcommands.
type cli struct {
	opts options
	cfg  *config.Config
}

func newRootCmd() *cobra.Command {
	buildInfo := build.GetBuildFlags()
	c := &cli{}
	opts := &c.opts

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadConfig(opts.configPath)
			if err != nil {
				return fmt.Errorf("%w: %w", session.ErrConfiguration, err)
			}
			c.cfg = loaded
			opts.apply(cmd, c.cfg)

			log.SetLevel(c.cfg.Level())
			if opts.verbose {
				log.SetLevel(log.LevelDebug)
			}
			if err := c.cfg.Validate(); err != nil {
				return fmt.Errorf("%w: %w", session.ErrConfiguration, err)
			}
			return nil
		},
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "",
		"Configuration file. Defaults to anc.yaml or config.yaml in the working directory")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false,
		"Show verbose output")

	// Audio Device Configuration
	pf.IntVarP(&opts.control, "control", "c", config.Default().Devices.Control,
		"Control (anti-noise) speaker device ID. Use 'list' command to see available devices.")
	pf.IntVarP(&opts.mic, "mic", "m", config.Default().Devices.Record,
		"Error microphone device ID")
	pf.IntVar(&opts.reference, "reference-device", config.Default().Devices.Reference,
		"Separate reference speaker device ID (-2 for none)")
	pf.IntVarP(&opts.blockSize, "block-size", "b", config.Default().Filter.BlockSize,
		"The number of frames per block (affects latency)")
	pf.IntVarP(&opts.sampleRate, "sample-rate", "s", 0,
		"Sample rate, measured in Hertz (Hz). 0 uses the reference file's rate")
	pf.BoolVarP(&opts.lowLatency, "low-latency", "l", false,
		"Use low latency mode for real-time processing")
	pf.BoolVar(&opts.split, "split", true,
		"Stereo output with the reference on the left and anti-noise on the right")

	rootCmd.AddCommand(
		c.runCmd(),
		c.referenceCmd(),
		c.measureCmd(),
		c.toneCmd(),
		newListCmd(),
	)
	return rootCmd
}

// sessionFlags registers the flags shared by run and reference.
func sessionFlags(cmd *cobra.Command, opts *options) {
	f := cmd.Flags()
	f.DurationVarP(&opts.duration, "duration", "d", 0,
		"Stop after this long (0 runs until interrupted or the reference ends)")
	f.BoolVar(&opts.loop, "loop", true,
		"Restart the reference when it ends")
	f.BoolVar(&opts.tui, "tui", false,
		"Show the terminal monitor")
	f.StringVar(&opts.websocket, "ws", "",
		"Serve metrics over WebSocket on this address (e.g. 127.0.0.1:8080)")
	f.StringVar(&opts.udp, "udp", "",
		"Send metrics datagrams to this address (e.g. 127.0.0.1:9090)")
}

func (c *cli) runCmd() *cobra.Command {
	opts := &c.opts
	cmd := &cobra.Command{
		Use:   "run [reference.wav]",
		Short: "Cancel the reference noise with the adaptive filter",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				c.cfg.Session.Reference = args[0]
			}
			c.cfg.Session.Mode = "cancel"
			return runSession(cmd.Context(), c.cfg)
		},
	}
	sessionFlags(cmd, opts)

	f := cmd.Flags()
	f.Float64Var(&opts.stepSize, "step-size", config.Default().Filter.StepSize,
		"Adaptation step size (mu)")
	f.IntVarP(&opts.filterLength, "filter-length", "L", config.Default().Filter.Length,
		"Number of adaptive filter taps")
	f.BoolVarP(&opts.normalized, "normalized", "n", false,
		"Normalise the step by the filtered reference power (NLMS)")
	f.StringVarP(&opts.secondaryPath, "secondary-path", "p", "",
		"Secondary path coefficients (.npy). Identity path when empty")
	f.StringVar(&opts.weights, "weights", "",
		"Initial filter weights (.npy)")
	f.StringVar(&opts.saveWeights, "save-weights", "",
		"Write the adapted weights here (.npy) on a clean stop")
	f.BoolVar(&opts.playReference, "play-reference", true,
		"Also play the reference while cancelling")
	f.StringVarP(&opts.record, "record", "r", "",
		"Record the error microphone to this WAV file")
	f.DurationVar(&opts.preview, "preview", 0,
		"Play the reference alone for this long before cancelling")
	return cmd
}

func (c *cli) referenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reference [reference.wav]",
		Short: "Play the reference without cancellation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				c.cfg.Session.Reference = args[0]
			}
			c.cfg.Session.Mode = "passthrough"
			return runSession(cmd.Context(), c.cfg)
		},
	}
	sessionFlags(cmd, &c.opts)
	return cmd
}

func (c *cli) measureCmd() *cobra.Command {
	opts := &c.opts
	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Measure the secondary path with white noise",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMeasure(cmd.Context(), c.cfg)
		},
	}
	f := cmd.Flags()
	def := config.Default().Calibration
	f.DurationVarP(&opts.duration, "duration", "d", def.Duration,
		"Length of the white noise excitation")
	f.IntVar(&opts.taps, "taps", def.Taps,
		"Number of secondary path taps to fit")
	f.Float64Var(&opts.level, "level", def.Level,
		"Peak excitation amplitude in (0, 1]")
	f.Uint64Var(&opts.seed, "seed", def.Seed,
		"White noise seed")
	f.StringVarP(&opts.output, "output", "o", def.Output,
		"Output file for the coefficients (.npy)")
	return cmd
}

func (c *cli) toneCmd() *cobra.Command {
	opts := &c.opts
	cmd := &cobra.Command{
		Use:   "tone <output.wav>",
		Short: "Write a test tone to use as a reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeTone(args[0], opts)
		},
	}
	f := cmd.Flags()
	f.Float64VarP(&opts.frequency, "frequency", "f", 200, "Tone frequency in Hz")
	f.Float64Var(&opts.seconds, "seconds", 10, "Tone length in seconds")
	f.Float64VarP(&opts.amplitude, "amplitude", "a", 0.5, "Peak amplitude in (0, 1]")
	f.BoolVar(&opts.complex, "complex", false, "Write a 440 Hz tone with harmonics instead")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHost(func() error {
				return audio.ListDevices(cmd.OutOrStdout())
			})
		},
	}
}

// apply copies the flags set on the command line over cfg.
func (o *options) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("control") {
		cfg.Devices.Control = o.control
	}
	if changed("mic") {
		cfg.Devices.Record = o.mic
	}
	if changed("reference-device") {
		cfg.Devices.Reference = o.reference
	}
	if changed("low-latency") {
		cfg.Devices.LowLatency = o.lowLatency
	}
	if changed("block-size") {
		cfg.Filter.BlockSize = o.blockSize
	}
	if changed("sample-rate") {
		cfg.Session.SampleRate = o.sampleRate
	}
	if changed("split") {
		cfg.Session.SplitChannels = o.split
	}

	// run and reference
	if changed("loop") {
		cfg.Session.Loop = o.loop
	}
	if changed("tui") {
		cfg.Metrics.TUI = o.tui
	}
	if changed("ws") {
		cfg.Metrics.WebSocketAddress = o.websocket
	}
	if changed("udp") {
		cfg.Metrics.UDPEnabled = o.udp != ""
		cfg.Metrics.UDPTargetAddress = o.udp
	}
	if changed("step-size") {
		cfg.Filter.StepSize = o.stepSize
	}
	if changed("filter-length") {
		cfg.Filter.Length = o.filterLength
	}
	if changed("normalized") {
		cfg.Filter.Normalized = o.normalized
	}
	if changed("secondary-path") {
		cfg.Filter.SecondaryPath = o.secondaryPath
	}
	if changed("weights") {
		cfg.Filter.Weights = o.weights
	}
	if changed("save-weights") {
		cfg.Filter.SaveWeights = o.saveWeights
	}
	if changed("play-reference") {
		cfg.Session.PlayReference = o.playReference
	}
	if changed("record") {
		cfg.Session.RecordFile = o.record
	}
	if changed("preview") {
		cfg.Session.Preview = o.preview
	}

	// measure
	if cmd.Name() == "measure" {
		if changed("duration") {
			cfg.Calibration.Duration = o.duration
		}
		if changed("taps") {
			cfg.Calibration.Taps = o.taps
		}
		if changed("level") {
			cfg.Calibration.Level = o.level
		}
		if changed("seed") {
			cfg.Calibration.Seed = o.seed
		}
		if changed("output") {
			cfg.Calibration.Output = o.output
		}
	} else if changed("duration") {
		cfg.Session.MaxDuration = o.duration
	}
}
