package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"anc/internal/audio"
	"anc/internal/config"
	"anc/internal/log"
	"anc/internal/session"
	"anc/internal/signalio"
	"anc/internal/spectrum"
	"anc/internal/transport"
	"anc/internal/transport/udp"
	"anc/internal/tui"
	"anc/pkg/build"
	"anc/pkg/utils"
)

// responsePoints is the resolution used to summarise a measured path.
const responsePoints = 1024

// withHost runs fn between PortAudio initialisation and termination.
func withHost(fn func() error) error {
	if err := audio.Initialize(); err != nil {
		return fmt.Errorf("%w: %w", session.ErrDevice, err)
	}
	defer func() {
		if err := audio.Terminate(); err != nil {
			log.Warnf("%v", err)
		}
	}()
	return fn()
}

// observers assembles the metrics reporters selected in cfg. The returned
// cleanup releases them and must be called after the session has stopped.
func observers(cfg *config.Config) (session.Reporter, *tui.Monitor, func(), error) {
	var (
		reporters []session.Reporter
		closers   []func() error
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warnf("Metrics: close: %v", err)
			}
		}
	}

	if cfg.Metrics.LogEvery > 0 && !cfg.Metrics.TUI {
		reporters = append(reporters, transport.NewReporter(transport.NewLoggingTransport(cfg.Metrics.LogEvery)))
	}

	if addr := cfg.Metrics.WebSocketAddress; addr != "" {
		ws, err := transport.NewWebSocketTransport(addr)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("%w: websocket metrics on %s: %w", session.ErrResource, addr, err)
		}
		reporters = append(reporters, transport.NewReporter(ws))
		closers = append(closers, ws.Close)
	}

	if cfg.Metrics.UDPEnabled {
		sender, err := udp.NewSender(cfg.Metrics.UDPTargetAddress)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("%w: udp metrics: %w", session.ErrResource, err)
		}
		closers = append(closers, sender.Close)
		publisher, err := udp.NewPublisher(cfg.Metrics.UDPSendInterval, sender)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("%w: udp metrics: %w", session.ErrResource, err)
		}
		publisher.Start()
		reporters = append(reporters, publisher)
		closers = append(closers, publisher.Close)
	}

	var monitor *tui.Monitor
	if cfg.Metrics.TUI {
		monitor = tui.NewMonitor(build.GetBuildFlags().Name, config.DefaultMonitorQueue)
		reporters = append(reporters, monitor)
	}

	return session.Tee(reporters...), monitor, cleanup, nil
}

// runSession plays an optional pass-through preview, then the configured
// session.
func runSession(ctx context.Context, cfg *config.Config) error {
	sc, err := cfg.ToSession()
	if err != nil {
		return err
	}

	return withHost(func() error {
		deps := session.Dependencies{
			Devices:      audio.PortAudio{LowLatency: cfg.Devices.LowLatency},
			Store:        signalio.Files{},
			OpenRecorder: audio.OpenRecorder,
		}

		if sc.Mode == session.ModeCancel && cfg.Session.Preview > 0 {
			if err := preview(ctx, sc, deps, cfg); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
		}

		reporter, monitor, cleanup, err := observers(cfg)
		if err != nil {
			return err
		}
		defer cleanup()
		deps.Reporter = reporter

		sched := session.New(sc, deps)
		if monitor == nil {
			err = sched.Run(ctx)
		} else {
			err = runMonitored(ctx, sched, monitor, cfg.Metrics.LogFile)
		}
		log.Infof("Session: %s after %d frames", sched.State(), sched.Frames())
		return err
	})
}

// preview plays the reference alone for the configured time.
func preview(ctx context.Context, sc session.Config, deps session.Dependencies, cfg *config.Config) error {
	pc := sc
	pc.Mode = session.ModePassThrough
	pc.MaxDuration = cfg.Session.Preview
	pc.RecordFile = ""
	pc.SaveWeightsFile = ""

	log.Infof("Session: previewing the reference for %v", cfg.Session.Preview)
	if err := session.New(pc, deps).Run(ctx); err != nil {
		return fmt.Errorf("preview: %w", err)
	}
	return nil
}

// runMonitored runs the session in the background while the terminal monitor
// owns the screen. Quitting the monitor stops the session.
func runMonitored(ctx context.Context, sched *session.Scheduler, monitor *tui.Monitor, logFile string) error {
	restore, err := divertLogs(logFile)
	if err != nil {
		return err
	}
	defer restore()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- sched.Run(ctx)
		monitor.Close()
	}()

	uiErr := monitor.Run(ctx, cancel)
	if uiErr != nil {
		cancel()
	}
	return errors.Join(<-done, uiErr)
}

// divertLogs sends log output to path, or discards it when path is empty,
// until the returned function is called.
func divertLogs(path string) (func(), error) {
	if path == "" {
		log.SetOutput(io.Discard)
		return func() { log.SetOutput(os.Stderr) }, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: log file: %w", session.ErrResource, err)
	}
	log.SetOutput(f)
	return func() {
		log.SetOutput(os.Stderr)
		f.Close()
	}, nil
}

// runMeasure measures the secondary path and saves its coefficients.
func runMeasure(ctx context.Context, cfg *config.Config) error {
	mc := cfg.ToMeasure()
	out := cfg.Calibration.Output

	var taps []float64
	err := withHost(func() error {
		var err error
		taps, err = session.Measure(ctx, mc, audio.PortAudio{LowLatency: cfg.Devices.LowLatency})
		return err
	})
	if err != nil {
		return err
	}

	if err := signalio.SaveCoefficients(out, taps); err != nil {
		return fmt.Errorf("%w: %w", session.ErrResource, err)
	}
	logPathSummary(taps, float64(mc.SampleRate))
	log.Infof("Measure: %d taps saved to %s", len(taps), out)
	return nil
}

// logPathSummary reports the delay and strongest frequency of a measured
// path.
func logPathSummary(taps []float64, sampleRate float64) {
	mags := make([]float64, len(taps))
	for i, v := range taps {
		mags[i] = math.Abs(v)
	}
	delay := utils.PeakIndex(mags, 0, len(mags)-1)
	log.Infof("Measure: main tap %d (%.2f ms)", delay, 1000*float64(delay)/sampleRate)

	freqs, gains, err := spectrum.Response(taps, responsePoints, sampleRate)
	if err != nil {
		log.Warnf("Measure: response: %v", err)
		return
	}
	// Skip DC when looking for the strongest band.
	peak := utils.PeakIndex(gains, 1, len(gains)-1)
	log.Infof("Measure: peak gain %.2f at %.0f Hz", gains[peak], freqs[peak])
}

// writeTone writes a mono reference tone.
func writeTone(path string, o *options) error {
	if !(o.amplitude > 0 && o.amplitude <= 1) {
		return fmt.Errorf("%w: amplitude must be in (0, 1], got %v", session.ErrConfiguration, o.amplitude)
	}
	if !(o.seconds > 0) || !(o.frequency > 0) {
		return fmt.Errorf("%w: seconds and frequency must be positive", session.ErrConfiguration)
	}
	rate := o.sampleRate
	if rate == 0 {
		rate = session.DefaultMeasureConfig().SampleRate
	}

	n := int(o.seconds * float64(rate))
	var samples []float64
	if o.complex {
		samples = utils.ComplexWave(n, float64(rate), o.amplitude)
	} else {
		samples = utils.Sine(n, float64(rate), o.frequency, o.amplitude)
	}
	if err := signalio.SaveMono(path, samples, rate); err != nil {
		return fmt.Errorf("%w: %w", session.ErrResource, err)
	}
	log.Infof("Tone: %d samples at %d Hz written to %s", n, rate, path)
	return nil
}
