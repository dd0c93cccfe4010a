package session

import "testing"

func TestTee(t *testing.T) {
	var a, b []uint64
	r := Tee(
		ReporterFunc(func(m Metrics) { a = append(a, m.FrameIndex) }),
		ReporterFunc(func(m Metrics) { b = append(b, m.FrameIndex) }),
	)
	r.Report(Metrics{FrameIndex: 1})
	r.Report(Metrics{FrameIndex: 2})

	if len(a) != 2 || len(b) != 2 || a[1] != 2 || b[0] != 1 {
		t.Errorf("a = %v, b = %v", a, b)
	}
	if Tee() != Discard {
		t.Error("empty Tee should discard")
	}
	Discard.Report(Metrics{})
}
