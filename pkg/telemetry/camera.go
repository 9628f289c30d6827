package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/caoyang/sensorlab/pkg/grabber"
)

// RegisterCameraMetrics exposes the grabber's state as observable metrics:
// total frames published and whether the acquisition loop is running.
func RegisterCameraMetrics(g *grabber.Grabber) error {
	meter := otel.Meter("github.com/caoyang/sensorlab/pkg/telemetry")

	framesCaptured, err := meter.Int64ObservableCounter("camera.frames.captured",
		metric.WithDescription("Total frames published by the acquisition loop"),
		metric.WithUnit("{frames}"),
	)
	if err != nil {
		return err
	}

	loopRunning, err := meter.Int64ObservableGauge("camera.loop.running",
		metric.WithDescription("1 while the acquisition loop is running, 0 otherwise"),
	)
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(framesCaptured, int64(g.FramesCaptured()))
		running := int64(0)
		if g.Status().Running {
			running = 1
		}
		o.ObserveInt64(loopRunning, running)
		return nil
	}, framesCaptured, loopRunning)
	return err
}
