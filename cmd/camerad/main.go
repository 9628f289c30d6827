package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/caoyang/sensorlab/cmd/camerad/handlers"
	"github.com/caoyang/sensorlab/pkg/capture"
	"github.com/caoyang/sensorlab/pkg/grabber"
	"github.com/caoyang/sensorlab/pkg/logger"
	"github.com/caoyang/sensorlab/pkg/telemetry"
)

func main() {
	logger.Setup()
	cfg := FromEnv()

	ctx := context.Background()
	shutdown, err := telemetry.Setup(ctx, "camerad")
	if err != nil {
		slog.Warn("Telemetry disabled", "error", err)
	} else {
		defer func() {
			if err := shutdown(ctx); err != nil {
				slog.Error("Error shutting down telemetry", "error", err)
			}
		}()
	}

	grab := grabber.New(func() capture.Driver {
		if cfg.Driver == "sim" {
			return capture.NewSimulated(cfg.Width, cfg.Height, cfg.FPS)
		}
		return capture.NewUSBCamera(capture.USBCameraConfig{
			DeviceID:    cfg.DeviceIndex,
			Width:       cfg.Width,
			Height:      cfg.Height,
			FPS:         cfg.FPS,
			JPEGQuality: cfg.JPEGQuality,
		})
	})

	if err := telemetry.RegisterCameraMetrics(grab); err != nil {
		slog.Warn("Failed to register camera metrics", "error", err)
	}

	// Honor the configured default, but stay up if the device is missing at
	// boot; the operator can retry via /camera/enable or /camera/reopen.
	if cfg.Enabled {
		if err := grab.SetEnabled(true); err != nil {
			slog.Warn("Camera start failed on boot", "error", err)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	h := &handlers.CameraHandler{
		Grabber:     grab,
		Width:       cfg.Width,
		Height:      cfg.Height,
		FPS:         cfg.FPS,
		SettleDelay: cfg.ReopenSettle,
	}

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "USB Camera Service. See /health /camera/status /camera/frame /camera/stream /camera/enable")
	})
	router.GET("/health", h.Health)
	router.GET("/camera/status", h.Status)
	router.PUT("/camera/enable", h.Enable)
	router.GET("/camera/frame", h.Frame)
	router.GET("/camera/stream", h.Stream)
	router.GET("/camera/ws", h.WS)
	router.POST("/camera/reopen", h.Reopen)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	slog.Info("Camera service listening", "addr", addr, "driver", cfg.Driver, "device", cfg.DeviceIndex)
	if err := router.Run(addr); err != nil {
		logger.Fatal("Server exited", "error", err)
	}
}
