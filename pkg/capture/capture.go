// Package capture defines the contract for frame-producing devices and the
// drivers that implement it.
package capture

import (
	"errors"
	"iter"
	"time"
)

var (
	// ErrDeviceUnavailable means no device could be found or opened.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")
	// ErrDeviceNotReady means the device opened but refused a verification read.
	ErrDeviceNotReady = errors.New("capture: device opened but not readable")
	// ErrNotOpen means Read was called before a successful Open.
	ErrNotOpen = errors.New("capture: driver not open")
	// ErrAlreadyOpen means Open was called more than once on the same instance.
	// A reopen requires a fresh driver instance.
	ErrAlreadyOpen = errors.New("capture: driver already opened")
)

// Measurement is one captured unit. It is never mutated after construction.
type Measurement struct {
	Timestamp  string            // capture instant, ISO8601 UTC, millisecond precision
	Data       []byte            // encoded payload (JPEG for camera drivers)
	Meta       map[string]string // at minimum: width, height, format
	SemanticID string            // reserved for semantic tagging, empty by default
}

// NowISO returns the current UTC time in the fixed Measurement timestamp
// encoding, e.g. "2025-10-23T12:34:56.789Z".
func NowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// Driver is the capture port: open a device, read encoded frames, release it.
//
// Read returns (nil, nil) when no frame is available this call; that is a
// transient miss, not an error. Open may be called at most once per instance.
// Close is idempotent and safe on a driver that was never opened.
type Driver interface {
	Open() error
	Read() (*Measurement, error)
	Close() error

	// Device reports an identifier for the underlying device, for status
	// endpoints and logs.
	Device() string
}

// Frames returns a lazy, unbounded sequence of measurements pulled from d.
// The sequence ends on the first missed read or read error; it is not
// restartable.
func Frames(d Driver) iter.Seq[*Measurement] {
	return func(yield func(*Measurement) bool) {
		for {
			m, err := d.Read()
			if err != nil || m == nil {
				return
			}
			if !yield(m) {
				return
			}
		}
	}
}
