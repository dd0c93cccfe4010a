// Package transport carries per-block session metrics to observers outside
// the audio loop.
//
// The sinks here never block the caller: records are queued or overwritten
// and delivered from their own goroutines. Attaching one to a session
// therefore trades the synchronous reporting guarantee (every record is
// handled before the next block starts) for a loop that cannot be stalled by
// a slow observer. Records may be dropped under load.
package transport

import (
	"anc/internal/log"
	"anc/internal/session"
)

// Transport defines a generic interface for sending processed data or events.
// Implementations must be safe for concurrent use and must not block.
type Transport interface {
	Send(data any) error
	Close() error
}

// Reporter forwards session metrics to a Transport.
type Reporter struct {
	t      Transport
	failed bool
}

// NewReporter adapts t to session.Reporter.
func NewReporter(t Transport) *Reporter {
	return &Reporter{t: t}
}

// Report sends m. The first send failure is logged; later ones are silent.
func (r *Reporter) Report(m session.Metrics) {
	if err := r.t.Send(m); err != nil && !r.failed {
		log.Warnf("Transport: dropping metrics: %v", err)
		r.failed = true
	}
}

var _ session.Reporter = (*Reporter)(nil)
