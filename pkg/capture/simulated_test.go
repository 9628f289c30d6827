package capture

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestSimulatedLifecycle(t *testing.T) {
	s := NewSimulated(32, 24, 30)

	if _, err := s.Read(); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen before open, got %v", err)
	}

	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	if err := s.Open(); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("expected ErrAlreadyOpen on double open, got %v", err)
	}

	m, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("expected a frame from the simulated driver")
	}
	if !bytes.HasPrefix(m.Data, []byte{0xFF, 0xD8}) {
		t.Error("payload should start with the JPEG SOI marker")
	}
	if m.Meta["width"] != "32" || m.Meta["height"] != "24" || m.Meta["format"] != "jpeg" {
		t.Errorf("unexpected metadata: %v", m.Meta)
	}
	if m.Timestamp == "" {
		t.Error("measurement should carry a timestamp")
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close should be idempotent, got %v", err)
	}
	if _, err := s.Read(); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen after close, got %v", err)
	}
}

func TestSimulatedDevice(t *testing.T) {
	if got := NewSimulated(0, 0, 0).Device(); got != "sim" {
		t.Errorf("expected device \"sim\", got %q", got)
	}
}

// Pacing belongs to the driver: consecutive reads must be at least 1/fps
// apart even though the caller performs no sleep of its own.
func TestSimulatedReadPacing(t *testing.T) {
	s := NewSimulated(16, 16, 20) // 50ms interval
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Read(); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	for i := 0; i < 2; i++ {
		if _, err := s.Read(); err != nil {
			t.Fatal(err)
		}
	}
	elapsed := time.Since(start)

	// Slightly under 2 intervals to allow for encode time inside the first
	// read, which the pacing window absorbs.
	if elapsed < 90*time.Millisecond {
		t.Errorf("two paced reads at 20 fps took %v, expected about 100ms", elapsed)
	}
}

func TestSimulatedFramesVary(t *testing.T) {
	s := NewSimulated(16, 16, 1000)
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	a, err := s.Read()
	if err != nil || a == nil {
		t.Fatalf("read: %v %v", a, err)
	}
	b, err := s.Read()
	if err != nil || b == nil {
		t.Fatalf("read: %v %v", b, err)
	}
	if bytes.Equal(a.Data, b.Data) {
		t.Error("consecutive simulated frames should differ")
	}
}
