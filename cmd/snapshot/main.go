// Command snapshot grabs frames from a capture device and writes them to
// disk, either once or on a cron schedule.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/caoyang/sensorlab/pkg/capture"
	"github.com/caoyang/sensorlab/pkg/logger"
)

func main() {
	logger.Setup()

	var (
		device   = flag.Int("device", -1, "camera index (-1 = auto-probe)")
		width    = flag.Int("width", 640, "requested frame width")
		height   = flag.Int("height", 480, "requested frame height")
		fps      = flag.Int("fps", 10, "capture frame rate")
		quality  = flag.Int("quality", 85, "JPEG quality")
		outDir   = flag.String("out", "out", "output directory")
		verify   = flag.Int("verify", 10, "extra frames to read for stability after saving")
		schedule = flag.String("schedule", "", "cron expression for scheduled snapshots (empty = run once)")
		sim      = flag.Bool("sim", false, "use the simulated driver instead of a real camera")
	)
	flag.Parse()

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		logger.Fatal("Failed to create output directory", "error", err)
	}

	newDriver := func() capture.Driver {
		if *sim {
			return capture.NewSimulated(*width, *height, *fps)
		}
		return capture.NewUSBCamera(capture.USBCameraConfig{
			DeviceID:    *device,
			Width:       *width,
			Height:      *height,
			FPS:         *fps,
			JPEGQuality: *quality,
		})
	}

	if *schedule == "" {
		if err := grabOnce(newDriver, *outDir, *verify); err != nil {
			logger.Fatal("Snapshot failed", "error", err)
		}
		return
	}

	c := cron.New(cron.WithLogger(&logger.CronLogger{Logger: slog.Default()}))
	_, err := c.AddFunc(*schedule, func() {
		if err := grabOnce(newDriver, *outDir, 0); err != nil {
			slog.Error("Scheduled snapshot failed", "error", err)
		}
	})
	if err != nil {
		logger.Fatal("Invalid schedule", "schedule", *schedule, "error", err)
	}
	slog.Info("Running scheduled snapshots", "schedule", *schedule, "out", *outDir)
	c.Run()
}

// grabOnce opens a fresh driver, saves one frame, optionally reads a few more
// to verify the device is stable, and releases the device.
func grabOnce(newDriver func() capture.Driver, outDir string, verify int) error {
	drv := newDriver()
	if err := drv.Open(); err != nil {
		return err
	}
	defer drv.Close()

	m, err := drv.Read()
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("no frame from device %s", drv.Device())
	}

	name := filepath.Join(outDir, fmt.Sprintf("frame_%d.jpg", time.Now().Unix()))
	if err := os.WriteFile(name, m.Data, 0644); err != nil {
		return err
	}
	slog.Info("Saved frame", "file", name, "meta", m.Meta, "timestamp", m.Timestamp)

	if verify > 0 {
		count := 0
		for range capture.Frames(drv) {
			count++
			if count >= verify {
				break
			}
		}
		slog.Info("Verified continuous capture", "frames", count)
	}
	return nil
}
