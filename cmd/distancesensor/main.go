// Command distancesensor periodically uploads a simulated ultrasonic distance
// reading to an AAS submodel element.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/caoyang/sensorlab/pkg/aas"
	"github.com/caoyang/sensorlab/pkg/logger"
	"github.com/caoyang/sensorlab/pkg/sensorsim"
)

const distanceSemanticID = "Vehicle.ADAS.ParkAssist.Ultrasonic.Front.Center.Distance"

func main() {
	logger.Setup()

	url := os.Getenv("AAS_ELEMENT_URL")
	if url == "" {
		logger.Fatal("AAS_ELEMENT_URL must be set to the submodel-element endpoint")
	}
	period := time.Duration(getEnvInt("SENSOR_PERIOD_MS", 500)) * time.Millisecond

	client := aas.NewClient(url)
	sensor := sensorsim.NewDistanceSensor(nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Uploading distance readings", "url", url, "period", period)

	for {
		value := sensor.Read(float64(time.Now().UnixNano()) / 1e9)

		if err := client.PutProperty(ctx, distanceProperty(value)); err != nil {
			slog.Warn("Upload failed", "error", err)
		} else {
			slog.Info("Updated Distance_m", "value", value)
		}

		select {
		case <-ctx.Done():
			slog.Info("Stopped")
			return
		case <-time.After(period):
		}
	}
}

// distanceProperty builds the AAS v3 Property payload for a distance value.
// The value is a string on the wire even though its type is xs:double.
func distanceProperty(value float64) aas.Property {
	return aas.Property{
		ModelType: "Property",
		SemanticID: &aas.Reference{
			Keys: []aas.Key{
				{Type: "GlobalReference", Value: distanceSemanticID},
			},
			Type: "ExternalReference",
		},
		Value:     fmt.Sprintf("%g", value),
		ValueType: "xs:double",
		Description: []aas.LangString{
			{Language: "en", Text: "Measured distance to nearest obstacle."},
		},
		IDShort: "Distance_m",
	}
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
