// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"path/filepath"
	"testing"

	"anc/internal/signalio"
)

func TestRecorderRoundTrip(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "error_mic.wav")

	rec, err := OpenRecorder(filename, 16000, 4)
	if err != nil {
		t.Fatalf("OpenRecorder: %v", err)
	}
	blocks := [][]float32{
		{0, 0.5, -0.5, 0.25},
		{1.5, -2, 0.125, 0},
	}
	for _, b := range blocks {
		if err := rec.Write(b); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := rec.Write(blocks[0]); err == nil {
		t.Error("expected error writing after Close")
	}

	samples, rate, err := signalio.LoadMono(filename)
	if err != nil {
		t.Fatalf("LoadMono: %v", err)
	}
	if rate != 16000 || len(samples) != 8 {
		t.Fatalf("got %d samples at %d Hz, want 8 at 16000", len(samples), rate)
	}
	want := []float64{0, 0.5, -0.5, 0.25, 1, -1, 0.125, 0}
	for i := range want {
		if math.Abs(samples[i]-want[i]) > 1e-8 {
			t.Errorf("sample %d = %v, want %v", i, samples[i], want[i])
		}
	}
	if n := rec.(*Recorder).Frames(); n != 8 {
		t.Errorf("Frames = %d, want 8", n)
	}
}

func TestRecorderInvalid(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewRecorder(filepath.Join(dir, "a.wav"), 0, 128); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := NewRecorder(filepath.Join(dir, "missing", "a.wav"), 16000, 128); err == nil {
		t.Error("expected error for a missing directory")
	}
}
