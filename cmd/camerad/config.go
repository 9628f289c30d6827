package main

import (
	"os"
	"strconv"
	"time"
)

// Config holds the camera service settings, all sourced from the environment.
type Config struct {
	Host string
	Port int

	DeviceIndex int // -1 probes indices 0..9
	Enabled     bool
	Width       int
	Height      int
	FPS         int
	JPEGQuality int
	Driver      string // "usb" or "sim"

	ReopenSettle time.Duration
}

// FromEnv reads the configuration, falling back to documented defaults for
// anything unset or unparsable.
func FromEnv() Config {
	return Config{
		Host:         getEnvStr("SERVER_HOST", "0.0.0.0"),
		Port:         getEnvInt("SERVER_PORT", 8080),
		DeviceIndex:  getEnvInt("CAMERA_INDEX", -1),
		Enabled:      getEnvBool("CAMERA_ENABLED", true),
		Width:        getEnvInt("CAMERA_WIDTH", 640),
		Height:       getEnvInt("CAMERA_HEIGHT", 480),
		FPS:          getEnvInt("CAMERA_FPS", 10),
		JPEGQuality:  getEnvInt("CAMERA_JPEG_QUALITY", 85),
		Driver:       getEnvStr("CAMERA_DRIVER", "usb"),
		ReopenSettle: time.Duration(getEnvInt("CAMERA_REOPEN_SETTLE_MS", 200)) * time.Millisecond,
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

func getEnvBool(key string, fallback bool) bool {
	switch os.Getenv(key) {
	case "":
		return fallback
	case "1", "true", "True":
		return true
	default:
		return false
	}
}
