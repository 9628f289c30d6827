package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/caoyang/sensorlab/pkg/grabber"
)

// Pause before retrying when no frame has been published yet. Disabling the
// camera mid-stream is noticed within one such interval.
const streamRetryDelay = 50 * time.Millisecond

var (
	openStreams metric.Int64UpDownCounter

	wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
)

func init() {
	var err error
	meter := otel.Meter("github.com/caoyang/sensorlab/cmd/camerad")
	openStreams, err = meter.Int64UpDownCounter("camera.streams.open",
		metric.WithDescription("Number of live stream connections currently open"),
		metric.WithUnit("{connections}"),
	)
	if err != nil {
		slog.Error("Failed to create stream metrics", "error", err)
	}
}

// CameraHandler serves the camera endpoints. It never touches the device
// directly, only the grabber's published state and control methods.
type CameraHandler struct {
	Grabber *grabber.Grabber

	// Configured (requested) capture settings, reported by /camera/status.
	// The actual frame dimensions live in the measurement metadata.
	Width  int
	Height int
	FPS    int

	// Pause between stop and start during a forced reopen.
	SettleDelay time.Duration
}

// Health reports liveness plus the enable/run flags.
func (h *CameraHandler) Health(c *gin.Context) {
	st := h.Grabber.Status()
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"enabled": st.Enabled,
		"running": st.Running,
	})
}

// Status reports the full grabber state and the configured capture settings.
func (h *CameraHandler) Status(c *gin.Context) {
	st := h.Grabber.Status()
	c.JSON(http.StatusOK, gin.H{
		"enabled": st.Enabled,
		"running": st.Running,
		"device":  st.Device,
		"meta":    st.Meta,
		"width":   h.Width,
		"height":  h.Height,
		"fps":     h.FPS,
	})
}

// Enable switches the camera on or off. A start failure surfaces as a 500,
// not a silent success.
func (h *CameraHandler) Enable(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing 'enabled' boolean"})
		return
	}

	if err := h.Grabber.SetEnabled(*req.Enabled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": h.Grabber.Enabled()})
}

// Frame returns the latest captured frame as raw bytes.
func (h *CameraHandler) Frame(c *gin.Context) {
	if !h.Grabber.Enabled() {
		c.JSON(http.StatusConflict, gin.H{"error": "camera disabled"})
		return
	}
	data, meta := h.Grabber.Latest()
	if len(data) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame available yet"})
		return
	}
	c.Data(http.StatusOK, contentTypeFor(meta), data)
}

// Stream serves a live multipart stream of the latest frames. Each client
// iterates independently; the grabber tracks no subscribers. The loop ends
// when the client disconnects or the camera is disabled mid-stream.
func (h *CameraHandler) Stream(c *gin.Context) {
	if !h.Grabber.Enabled() {
		c.JSON(http.StatusConflict, gin.H{"error": "camera disabled"})
		return
	}

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")

	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "Streaming not supported")
		return
	}

	client := uuid.NewString()
	slog.Info("stream client connected", "client", client, "remote", c.ClientIP())
	if openStreams != nil {
		openStreams.Add(c.Request.Context(), 1)
		defer openStreams.Add(c.Request.Context(), -1)
	}
	defer slog.Info("stream client gone", "client", client)

	for {
		select {
		case <-c.Request.Context().Done():
			return
		default:
		}

		if !h.Grabber.Enabled() {
			return
		}

		data, meta := h.Grabber.Latest()
		if len(data) == 0 {
			time.Sleep(streamRetryDelay)
			continue
		}

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: %s\r\n", contentTypeFor(meta))
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data))
		if _, err := w.Write(data); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")
		flusher.Flush()
	}
}

// WS pushes the latest frame as binary websocket messages at the configured
// fps. Same conflict semantics as the multipart stream.
func (h *CameraHandler) WS(c *gin.Context) {
	if !h.Grabber.Enabled() {
		c.JSON(http.StatusConflict, gin.H{"error": "camera disabled"})
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := uuid.NewString()
	slog.Info("ws client connected", "client", client, "remote", c.ClientIP())
	defer slog.Info("ws client gone", "client", client)

	interval := time.Second / time.Duration(max(h.FPS, 1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}

		if !h.Grabber.Enabled() {
			return
		}

		data, _ := h.Grabber.Latest()
		if len(data) == 0 {
			continue
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return
		}
	}
}

// Reopen force-restarts the device: stop, settle, start. Intended for
// operator recovery when the driver has wedged while enabled.
func (h *CameraHandler) Reopen(c *gin.Context) {
	if !h.Grabber.Enabled() {
		c.JSON(http.StatusConflict, gin.H{"error": "camera disabled"})
		return
	}

	h.Grabber.Stop()
	time.Sleep(h.SettleDelay)
	if err := h.Grabber.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func contentTypeFor(meta map[string]string) string {
	switch meta["format"] {
	case "png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}
