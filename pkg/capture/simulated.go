package capture

import (
	"bytes"
	"image"
	"image/jpeg"
	"strconv"
	"time"
)

// Simulated is a Driver that synthesizes JPEG test-pattern frames instead of
// touching hardware. It honors the same open/read/close contract and the same
// fps pacing as USBCamera, which makes it usable both for development without
// a camera and as the second implementation of the capture port.
type Simulated struct {
	width  int
	height int
	fps    int

	interval time.Duration
	lastRead time.Time
	frames   int
	state    driverState
}

// NewSimulated creates an unopened simulated driver. Zero values fall back to
// the package defaults.
func NewSimulated(width, height, fps int) *Simulated {
	if width == 0 {
		width = DefaultWidth
	}
	if height == 0 {
		height = DefaultHeight
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Simulated{
		width:    width,
		height:   height,
		fps:      fps,
		interval: time.Second / time.Duration(fps),
	}
}

func (s *Simulated) Open() error {
	if s.state != stateUnopened {
		return ErrAlreadyOpen
	}
	s.state = stateOpened
	s.lastRead = time.Time{}
	return nil
}

// Read produces one synthetic frame, paced to the configured fps.
func (s *Simulated) Read() (*Measurement, error) {
	if s.state != stateOpened {
		return nil, ErrNotOpen
	}

	if !s.lastRead.IsZero() {
		if wait := s.interval - time.Since(s.lastRead); wait > 0 {
			time.Sleep(wait)
		}
	}
	s.lastRead = time.Now()

	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	tint := byte(s.frames % 256)
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			offset := y*img.Stride + x*4
			img.Pix[offset] = tint
			img.Pix[offset+1] = byte((x * 255) / s.width)
			img.Pix[offset+2] = byte((y * 255) / s.height)
			img.Pix[offset+3] = 255
		}
	}
	s.frames++

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, nil
	}

	return &Measurement{
		Timestamp: NowISO(),
		Data:      buf.Bytes(),
		Meta: map[string]string{
			"width":  strconv.Itoa(s.width),
			"height": strconv.Itoa(s.height),
			"format": "jpeg",
		},
	}, nil
}

func (s *Simulated) Close() error {
	s.state = stateClosed
	return nil
}

func (s *Simulated) Device() string {
	return "sim"
}
