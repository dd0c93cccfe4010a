// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"anc/internal/log"
	"anc/internal/session"
)

// DefaultInterval is the publishing period used when none is given (~60 Hz).
const DefaultInterval = 16 * time.Millisecond

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Monotonically increasing|
| Timestamp         | int64          | 8            | Nanoseconds since epoch |
| Frame Index       | uint64         | 8            | Session block counter   |
| Error RMS         | float32        | 4            | Residual RMS of block   |
+-----------------------------------------------------------------------------+
*/

// PacketSize is the length of every metrics packet.
const PacketSize = 4 + 8 + 8 + 4

// Packet is a decoded metrics datagram.
type Packet struct {
	Sequence   uint32
	Timestamp  time.Time
	FrameIndex uint64
	ErrorRMS   float32
}

// EncodePacket packs p into dst, which must hold PacketSize bytes.
func EncodePacket(dst []byte, p Packet) {
	binary.BigEndian.PutUint32(dst[0:], p.Sequence)
	binary.BigEndian.PutUint64(dst[4:], uint64(p.Timestamp.UnixNano()))
	binary.BigEndian.PutUint64(dst[12:], p.FrameIndex)
	binary.BigEndian.PutUint32(dst[20:], math.Float32bits(p.ErrorRMS))
}

// DecodePacket parses a datagram produced by a Publisher.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) != PacketSize {
		return Packet{}, fmt.Errorf("packet is %d bytes, want %d", len(b), PacketSize)
	}
	return Packet{
		Sequence:   binary.BigEndian.Uint32(b[0:]),
		Timestamp:  time.Unix(0, int64(binary.BigEndian.Uint64(b[4:]))),
		FrameIndex: binary.BigEndian.Uint64(b[12:]),
		ErrorRMS:   math.Float32frombits(binary.BigEndian.Uint32(b[20:])),
	}, nil
}

// Publisher keeps the latest metrics record and sends it over UDP at a fixed
// interval. Report only overwrites the stored record, so intermediate records
// between two ticks are never sent.
type Publisher struct {
	sender   *Sender
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex // protects ticker, doneChan, latest, fresh

	latest session.Metrics
	fresh  bool

	sequenceNum uint32
	packet      [PacketSize]byte
}

// NewPublisher creates a publisher around sender. A non-positive interval
// selects DefaultInterval.
func NewPublisher(interval time.Duration, sender *Sender) (*Publisher, error) {
	if sender == nil {
		return nil, errors.New("UDPPublisher: UDP sender cannot be nil")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	log.Debugf("UDPPublisher: Initializing (Interval: %s)", interval)
	return &Publisher{sender: sender, interval: interval}, nil
}

// Report stores m for the next tick.
func (p *Publisher) Report(m session.Metrics) {
	p.mu.Lock()
	p.latest = m
	p.fresh = true
	p.mu.Unlock()
}

// Start begins the periodic publishing. Calling it while running is a no-op.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		log.Warnf("UDPPublisher: Start called but already running.")
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	ticker, done := p.ticker, p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ticker.C:
				p.publish()
			case <-done:
				return
			}
		}
	}()
}

// Stop halts publishing and waits for the goroutine to exit. The last
// unsent record, if any, is flushed.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	close(p.doneChan)
	p.ticker.Stop()
	p.ticker = nil
	p.mu.Unlock()

	p.wg.Wait()
	p.publish()
	return nil
}

// publish sends the stored record if it changed since the last packet.
func (p *Publisher) publish() {
	p.mu.Lock()
	if !p.fresh {
		p.mu.Unlock()
		return
	}
	m := p.latest
	p.fresh = false
	p.mu.Unlock()

	p.sequenceNum++
	EncodePacket(p.packet[:], Packet{
		Sequence:   p.sequenceNum,
		Timestamp:  time.Now(),
		FrameIndex: m.FrameIndex,
		ErrorRMS:   float32(m.ErrorRMS),
	})
	if err := p.sender.Send(p.packet[:]); err != nil {
		log.Debugf("UDPPublisher: packet %d: %v", p.sequenceNum, err)
		return
	}
	log.Debugf("UDPPublisher: Sent packet %d (frame %d)", p.sequenceNum, m.FrameIndex)
}

// Close stops the publisher. The sender is left open for its owner.
func (p *Publisher) Close() error {
	return p.Stop()
}

var (
	_ session.Reporter           = (*Publisher)(nil)
	_ interface{ Close() error } = (*Publisher)(nil)
)
