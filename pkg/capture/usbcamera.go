package capture

import (
	"fmt"
	"strconv"
	"time"

	"gocv.io/x/gocv"
)

// Default USB camera settings.
const (
	DefaultWidth       = 640
	DefaultHeight      = 480
	DefaultFPS         = 30
	DefaultJPEGQuality = 85

	// Highest device index tried during auto-probing (exclusive).
	maxProbeIndex = 10
)

type driverState int

const (
	stateUnopened driverState = iota
	stateOpened
	stateClosed
)

// USBCameraConfig configures a USBCamera. Zero values fall back to the
// package defaults; DeviceID < 0 selects auto-probing.
type USBCameraConfig struct {
	DeviceID    int
	Width       int
	Height      int
	FPS         int
	JPEGQuality int
}

// USBCamera reads JPEG-encoded frames from a local camera via OpenCV.
//
// Width, height and fps are applied best-effort; the device may negotiate
// different values, and each Measurement reports the dimensions of the frame
// that was actually read. Read paces itself to the configured fps, so callers
// need no sleep discipline of their own.
type USBCamera struct {
	deviceID    int
	width       int
	height      int
	fps         int
	jpegQuality int

	interval time.Duration
	lastRead time.Time

	cam   *gocv.VideoCapture
	mat   gocv.Mat
	state driverState
}

// NewUSBCamera creates an unopened driver for the given configuration.
func NewUSBCamera(cfg USBCameraConfig) *USBCamera {
	if cfg.Width == 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height == 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.JPEGQuality == 0 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}

	return &USBCamera{
		deviceID:    cfg.DeviceID,
		width:       cfg.Width,
		height:      cfg.Height,
		fps:         cfg.FPS,
		jpegQuality: cfg.JPEGQuality,
		interval:    time.Second / time.Duration(cfg.FPS),
	}
}

// Open acquires the camera. With DeviceID < 0 it probes indices 0..9 and
// selects the first that both opens and yields a verification frame.
func (c *USBCamera) Open() error {
	if c.state != stateUnopened {
		return ErrAlreadyOpen
	}

	id := c.deviceID
	if id < 0 {
		probed, err := probeDeviceID(maxProbeIndex)
		if err != nil {
			return err
		}
		id = probed
	}

	cam, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return fmt.Errorf("%w: index %d: %v", ErrDeviceUnavailable, id, err)
	}
	if !cam.IsOpened() {
		_ = cam.Close()
		return fmt.Errorf("%w: index %d", ErrDeviceUnavailable, id)
	}

	// Best-effort configuration; devices are free to negotiate other values.
	cam.Set(gocv.VideoCaptureFrameWidth, float64(c.width))
	cam.Set(gocv.VideoCaptureFrameHeight, float64(c.height))
	cam.Set(gocv.VideoCaptureFPS, float64(c.fps))

	mat := gocv.NewMat()
	if ok := cam.Read(&mat); !ok || mat.Empty() {
		_ = mat.Close()
		_ = cam.Close()
		return fmt.Errorf("%w: index %d", ErrDeviceNotReady, id)
	}

	c.deviceID = id
	c.cam = cam
	c.mat = mat
	c.lastRead = time.Time{}
	c.state = stateOpened
	return nil
}

// Read captures and encodes one frame. It blocks until at least 1/fps has
// elapsed since the previous call, then performs exactly one capture.
// A capture or encode failure yields (nil, nil) for this call only.
func (c *USBCamera) Read() (*Measurement, error) {
	if c.state != stateOpened {
		return nil, ErrNotOpen
	}

	if !c.lastRead.IsZero() {
		if wait := c.interval - time.Since(c.lastRead); wait > 0 {
			time.Sleep(wait)
		}
	}
	c.lastRead = time.Now()

	if ok := c.cam.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, nil
	}

	w := c.mat.Cols()
	h := c.mat.Rows()

	params := []int{gocv.IMWriteJpegQuality, c.jpegQuality}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, c.mat, params)
	if err != nil {
		return nil, nil
	}
	defer buf.Close()

	// GetBytes is backed by a native buffer; copy before releasing it.
	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	return &Measurement{
		Timestamp: NowISO(),
		Data:      data,
		Meta: map[string]string{
			"width":  strconv.Itoa(w),
			"height": strconv.Itoa(h),
			"format": "jpeg",
		},
	}, nil
}

// Close releases the camera. It is idempotent and safe on a driver that
// never opened.
func (c *USBCamera) Close() error {
	if c.state == stateOpened {
		_ = c.mat.Close()
		err := c.cam.Close()
		c.cam = nil
		c.state = stateClosed
		return err
	}
	c.state = stateClosed
	return nil
}

// Device reports the camera index, or "auto" before probing resolved one.
func (c *USBCamera) Device() string {
	if c.deviceID < 0 {
		return "auto"
	}
	return strconv.Itoa(c.deviceID)
}

// probeDeviceID tries camera indices in ascending order and returns the first
// that opens and yields a frame.
func probeDeviceID(limit int) (int, error) {
	for i := 0; i < limit; i++ {
		cam, err := gocv.OpenVideoCapture(i)
		if err != nil || !cam.IsOpened() {
			if cam != nil {
				_ = cam.Close()
			}
			continue
		}
		mat := gocv.NewMat()
		ok := cam.Read(&mat)
		empty := mat.Empty()
		_ = mat.Close()
		_ = cam.Close()
		if ok && !empty {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: probed indices 0..%d", ErrDeviceUnavailable, limit-1)
}
