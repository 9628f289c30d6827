// Package grabber owns the background acquisition loop and publishes the most
// recent frame for any number of concurrent readers.
package grabber

import (
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caoyang/sensorlab/pkg/capture"
)

const (
	// Pause between retries after a missed read, so an idle device does not
	// busy-spin the loop.
	retryDelay = 50 * time.Millisecond

	// How long Stop waits for the loop to finish before releasing the device
	// anyway.
	stopTimeout = 2 * time.Second
)

// Factory creates a fresh capture driver. The grabber calls it on every
// start, so a reopen always gets a new driver instance.
type Factory func() capture.Driver

// Status is a snapshot of the grabber's state.
type Status struct {
	Enabled bool
	Running bool
	Device  string
	Meta    map[string]string
}

// Grabber runs at most one background loop that pulls frames from a capture
// driver and republishes the latest payload/metadata pair. Readers never
// block on hardware: Latest and Status only touch the guarded snapshot.
type Grabber struct {
	newDriver Factory

	// lifecycle serializes Start/Stop/SetEnabled so a close can never race an
	// open and two loops can never run against one device.
	lifecycle sync.Mutex
	driver    capture.Driver
	stop      chan struct{}
	done      chan struct{}

	// mu guards the published state below; it is held only for the duration
	// of a read or a swap, never across a capture.
	mu      sync.RWMutex
	enabled bool
	running bool
	device  string
	latest  []byte
	meta    map[string]string

	frames atomic.Uint64
}

// New creates a stopped, disabled grabber that will obtain its drivers from
// newDriver.
func New(newDriver Factory) *Grabber {
	return &Grabber{
		newDriver: newDriver,
		meta:      map[string]string{},
	}
}

// Start opens a fresh driver and launches the acquisition loop. It is a no-op
// if the loop is already running. Open failures are returned to the caller,
// never swallowed.
func (g *Grabber) Start() error {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()
	return g.startLocked()
}

func (g *Grabber) startLocked() error {
	if g.done != nil {
		select {
		case <-g.done:
			// The previous loop ended on its own (driver failure). Release
			// its driver before opening a new one.
			g.releaseLocked()
		default:
			return nil
		}
	}

	drv := g.newDriver()
	if err := drv.Open(); err != nil {
		return fmt.Errorf("open capture driver: %w", err)
	}

	g.driver = drv
	g.stop = make(chan struct{})
	g.done = make(chan struct{})

	g.mu.Lock()
	g.device = drv.Device()
	g.mu.Unlock()

	go g.loop(drv, g.stop, g.done)
	return nil
}

// loop pulls frames until told to stop. A read error ends the loop and clears
// running, but never crashes the process.
func (g *Grabber) loop(drv capture.Driver, stop <-chan struct{}, done chan<- struct{}) {
	g.mu.Lock()
	g.running = true
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.running = false
		g.mu.Unlock()
		close(done)
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}

		m, err := drv.Read()
		if err != nil {
			slog.Error("acquisition loop aborted", "device", drv.Device(), "error", err)
			return
		}
		if m == nil {
			select {
			case <-stop:
				return
			case <-time.After(retryDelay):
			}
			continue
		}

		g.frames.Add(1)
		g.mu.Lock()
		g.latest = m.Data
		g.meta = m.Meta
		g.mu.Unlock()
	}
}

// Stop signals the loop to end, joins it, releases the driver and clears the
// published frame. It is idempotent.
func (g *Grabber) Stop() {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()
	g.stopLocked()
}

func (g *Grabber) stopLocked() {
	if g.done != nil {
		close(g.stop)
		select {
		case <-g.done:
		case <-time.After(stopTimeout):
			slog.Warn("acquisition loop did not stop in time; releasing device anyway")
		}
	}
	g.releaseLocked()

	g.mu.Lock()
	g.latest = nil
	g.meta = map[string]string{}
	g.mu.Unlock()
}

func (g *Grabber) releaseLocked() {
	if g.driver != nil {
		if err := g.driver.Close(); err != nil {
			slog.Warn("closing capture driver", "error", err)
		}
		g.driver = nil
	}
	g.stop = nil
	g.done = nil
}

// SetEnabled switches the desired operating mode and couples it to the loop
// lifecycle: enabling starts the loop, disabling stops it. A call that does
// not change the mode is a no-op. A start failure is returned with enabled
// left true, so the state remains visible and a later reopen can recover.
func (g *Grabber) SetEnabled(flag bool) error {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()

	g.mu.Lock()
	if g.enabled == flag {
		g.mu.Unlock()
		return nil
	}
	g.enabled = flag
	g.mu.Unlock()

	if flag {
		return g.startLocked()
	}
	g.stopLocked()
	return nil
}

// Enabled reports the desired operating mode.
func (g *Grabber) Enabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enabled
}

// Latest returns the most recently published payload and metadata, or a nil
// payload if none has been captured. It never blocks on hardware.
func (g *Grabber) Latest() ([]byte, map[string]string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.latest, g.meta
}

// Status returns a consistent snapshot of the grabber state.
func (g *Grabber) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Status{
		Enabled: g.enabled,
		Running: g.running,
		Device:  g.device,
		Meta:    maps.Clone(g.meta),
	}
}

// FramesCaptured reports how many frames the loop has published since the
// grabber was created.
func (g *Grabber) FramesCaptured() uint64 {
	return g.frames.Load()
}
