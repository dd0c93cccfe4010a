package udp

import (
	"net"
	"testing"
	"time"

	"anc/internal/session"
)

func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func receive(t *testing.T, conn *net.UDPConn) Packet {
	t.Helper()
	buf := make([]byte, 64)
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	p, err := DecodePacket(buf[:n])
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	return p
}

func TestPacketEncoding(t *testing.T) {
	want := Packet{
		Sequence:   7,
		Timestamp:  time.Unix(1700000000, 123),
		FrameIndex: 1 << 40,
		ErrorRMS:   0.015625,
	}
	var buf [PacketSize]byte
	EncodePacket(buf[:], want)

	got, err := DecodePacket(buf[:])
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	if got.Sequence != want.Sequence || !got.Timestamp.Equal(want.Timestamp) ||
		got.FrameIndex != want.FrameIndex || got.ErrorRMS != want.ErrorRMS {
		t.Errorf("got %+v, want %+v", got, want)
	}
	// Sequence number is big-endian in the first four bytes.
	if buf[3] != 7 || buf[0] != 0 {
		t.Errorf("unexpected header bytes % x", buf[:4])
	}

	if _, err := DecodePacket(buf[:PacketSize-1]); err == nil {
		t.Error("expected error for a short packet")
	}
}

func TestPublisherSendsLatestRecord(t *testing.T) {
	conn := listen(t)
	sender, err := NewSender(conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()

	pub, err := NewPublisher(5*time.Millisecond, sender)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	pub.Report(session.Metrics{FrameIndex: 1, ErrorRMS: 0.5})
	pub.Report(session.Metrics{FrameIndex: 2, ErrorRMS: 0.25})
	pub.Start()
	pub.Start() // no-op while running

	p := receive(t, conn)
	if p.FrameIndex != 2 || p.ErrorRMS != 0.25 || p.Sequence != 1 {
		t.Errorf("packet = %+v, want frame 2, rms 0.25, sequence 1", p)
	}

	pub.Report(session.Metrics{FrameIndex: 3, ErrorRMS: 0.125})
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	p = receive(t, conn)
	if p.FrameIndex != 3 || p.Sequence != 2 {
		t.Errorf("packet after close = %+v, want frame 3, sequence 2", p)
	}
	if err := pub.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestPublisherValidation(t *testing.T) {
	if _, err := NewPublisher(time.Second, nil); err == nil {
		t.Error("expected error for nil sender")
	}

	conn := listen(t)
	sender, err := NewSender(conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()
	pub, err := NewPublisher(0, sender)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	if pub.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", pub.interval, DefaultInterval)
	}
}

func TestSenderClosed(t *testing.T) {
	conn := listen(t)
	sender, err := NewSender(conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	if err := sender.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sender.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := sender.Send([]byte{1}); err == nil {
		t.Error("expected error sending on a closed sender")
	}
	if _, err := NewSender("not an address"); err == nil {
		t.Error("expected error for an invalid address")
	}
}
