package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"anc/cmd"
	"anc/internal/log"
	"anc/internal/session"
	"anc/pkg/build"
)

// main wires signals to a context and hands over to the command tree. An
// interrupt stops a running session at the next block boundary; the process
// then exits normally.
func main() {
	// Development builds carry no ldflags and keep the "unknown" defaults.
	if err := build.Initialize(); err != nil {
		log.Debugf("Build information incomplete: %v", err)
	}

	// Limit OS threads to optimize for real-time audio processing:
	// - One thread dedicated to the block loop (time-critical)
	// - One thread for UI and I/O operations
	runtime.GOMAXPROCS(2)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		stop()
		log.Errorf("%v", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, session.ErrConfiguration):
		return 2
	case errors.Is(err, session.ErrDevice):
		return 3
	default:
		return 1
	}
}
