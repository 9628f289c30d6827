// Command tempsensor streams simulated temperature readings into InfluxDB,
// retrying failed writes with exponential backoff.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/caoyang/sensorlab/pkg/logger"
	"github.com/caoyang/sensorlab/pkg/sensorsim"
)

func main() {
	logger.Setup()

	url := getEnvStr("INFLUX_URL", "http://localhost:8086")
	org := getEnvStr("INFLUX_ORG", "basyx")
	bucket := getEnvStr("INFLUX_BUCKET", "test")
	token := os.Getenv("INFLUX_TOKEN")
	if token == "" {
		logger.Fatal("INFLUX_TOKEN must be set")
	}

	sensorID := getEnvStr("SENSOR_ID", "temp-001")
	location := getEnvStr("SENSOR_LOCATION", "lab-A")
	unit := getEnvStr("SENSOR_UNIT", "degC")
	period := time.Duration(getEnvInt("SENSOR_PERIOD_MS", 1000)) * time.Millisecond

	client := influxdb2.NewClient(url, token)
	defer client.Close()
	writeAPI := client.WriteAPIBlocking(org, bucket)

	sensor := sensorsim.NewTempSensor(nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Streaming temperature readings", "org", org, "bucket", bucket, "sensor_id", sensorID)

	for {
		value := sensorsim.Round3(sensor.Read(float64(time.Now().Unix())))

		point := influxdb2.NewPoint("sensor_temperature",
			map[string]string{
				"sensor_id": sensorID,
				"location":  location,
				"unit":      unit,
			},
			map[string]interface{}{"value": value},
			time.Now(),
		)

		expo := backoff.NewExponentialBackOff()
		expo.InitialInterval = time.Second
		expo.MaxInterval = 30 * time.Second

		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, writeAPI.WritePoint(ctx, point)
		},
			backoff.WithBackOff(expo),
			backoff.WithNotify(func(err error, next time.Duration) {
				slog.Warn("Write failed, backing off", "error", err, "retry_in", next)
			}),
		)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Error("Giving up on point", "error", err)
		} else {
			slog.Info("Wrote point", "value", value, "sensor_id", sensorID, "location", location)
		}

		select {
		case <-ctx.Done():
			slog.Info("Stopped")
			return
		case <-time.After(period):
		}
	}
}

func getEnvStr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return i
}
