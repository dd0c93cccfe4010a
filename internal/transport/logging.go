package transport

import (
	"sync/atomic"

	"anc/internal/log"
	"anc/internal/session"
)

// LoggingTransport logs every Nth metrics record at info level.
type LoggingTransport struct {
	every uint64
	count atomic.Uint64
}

// NewLoggingTransport logs one record in every. Values below one log all.
func NewLoggingTransport(every int) *LoggingTransport {
	log.Debugf("Transport: Using LoggingTransport (every %d)", every)
	return &LoggingTransport{every: uint64(max(every, 1))}
}

// Send logs data when it falls on the configured stride.
func (lt *LoggingTransport) Send(data any) error {
	n := lt.count.Add(1) - 1
	if n%lt.every != 0 {
		return nil
	}
	if m, ok := data.(session.Metrics); ok {
		log.Infof("Frame %6d  error RMS %.6f (%s)", m.FrameIndex, m.ErrorRMS, dbfs(m.ErrorRMS))
		return nil
	}
	log.Infof("Transport: %+v", data)
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	return nil
}

var _ Transport = (*LoggingTransport)(nil)
