package handlers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/caoyang/sensorlab/pkg/capture"
	"github.com/caoyang/sensorlab/pkg/grabber"
)

var fakeJPEG = append([]byte{0xFF, 0xD8}, []byte("fake-jpeg-body")...)

// fixedDriver yields the same frame on every read.
type fixedDriver struct {
	mu      sync.Mutex
	openErr error
	silent  bool // never yield a frame
	opened  bool
	opens   int
}

func (d *fixedDriver) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return d.openErr
	}
	d.opened = true
	d.opens++
	return nil
}

func (d *fixedDriver) Read() (*capture.Measurement, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return nil, capture.ErrNotOpen
	}
	if d.silent {
		return nil, nil
	}
	return &capture.Measurement{
		Timestamp: capture.NowISO(),
		Data:      fakeJPEG,
		Meta:      map[string]string{"width": "640", "height": "480", "format": "jpeg"},
	}, nil
}

func (d *fixedDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = false
	return nil
}

func (d *fixedDriver) Device() string { return "0" }

func (d *fixedDriver) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func newTestRouter(d capture.Driver) (*gin.Engine, *grabber.Grabber) {
	gin.SetMode(gin.TestMode)
	g := grabber.New(func() capture.Driver { return d })
	h := &CameraHandler{
		Grabber:     g,
		Width:       640,
		Height:      480,
		FPS:         10,
		SettleDelay: 10 * time.Millisecond,
	}

	router := gin.New()
	router.GET("/health", h.Health)
	router.GET("/camera/status", h.Status)
	router.PUT("/camera/enable", h.Enable)
	router.GET("/camera/frame", h.Frame)
	router.GET("/camera/stream", h.Stream)
	router.GET("/camera/ws", h.WS)
	router.POST("/camera/reopen", h.Reopen)
	return router, g
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(&fixedDriver{})

	w := doJSON(t, router, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["ok"] != true || resp["enabled"] != false || resp["running"] != false {
		t.Errorf("unexpected health payload: %v", resp)
	}
}

func TestStatusReportsConfig(t *testing.T) {
	router, _ := newTestRouter(&fixedDriver{})

	w := doJSON(t, router, http.MethodGet, "/camera/status", "")
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["width"] != float64(640) || resp["height"] != float64(480) || resp["fps"] != float64(10) {
		t.Errorf("unexpected status payload: %v", resp)
	}
}

func TestEnableMissingField(t *testing.T) {
	router, _ := newTestRouter(&fixedDriver{})

	for _, body := range []string{"", "{}", `{"other":1}`} {
		w := doJSON(t, router, http.MethodPut, "/camera/enable", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, w.Code)
		}
	}
}

func TestEnableStartFailure(t *testing.T) {
	router, _ := newTestRouter(&fixedDriver{openErr: capture.ErrDeviceUnavailable})

	w := doJSON(t, router, http.MethodPut, "/camera/enable", `{"enabled":true}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on start failure, got %d", w.Code)
	}
}

func TestFrameLifecycle(t *testing.T) {
	d := &fixedDriver{}
	router, g := newTestRouter(d)
	defer g.Stop()

	// Disabled: conflict.
	if w := doJSON(t, router, http.MethodGet, "/camera/frame", ""); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 while disabled, got %d", w.Code)
	}

	if w := doJSON(t, router, http.MethodPut, "/camera/enable", `{"enabled":true}`); w.Code != http.StatusOK {
		t.Fatalf("enable failed: %d %s", w.Code, w.Body.String())
	}

	waitFor(t, "first frame", func() bool {
		data, _ := g.Latest()
		return len(data) > 0
	})

	w := doJSON(t, router, http.MethodGet, "/camera/frame", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %q", ct)
	}
	if !bytes.Equal(w.Body.Bytes(), fakeJPEG) {
		t.Error("frame endpoint must return the published payload bytes as-is")
	}

	if w := doJSON(t, router, http.MethodPut, "/camera/enable", `{"enabled":false}`); w.Code != http.StatusOK {
		t.Fatalf("disable failed: %d", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/camera/frame", ""); w.Code != http.StatusConflict {
		t.Errorf("expected 409 after disable, got %d", w.Code)
	}
}

func TestFrameNotFoundBeforeFirstCapture(t *testing.T) {
	router, g := newTestRouter(&fixedDriver{silent: true})
	defer g.Stop()

	if err := g.SetEnabled(true); err != nil {
		t.Fatal(err)
	}
	if w := doJSON(t, router, http.MethodGet, "/camera/frame", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any capture, got %d", w.Code)
	}
}

func TestReopen(t *testing.T) {
	d := &fixedDriver{}
	router, g := newTestRouter(d)
	defer g.Stop()

	if w := doJSON(t, router, http.MethodPost, "/camera/reopen", ""); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 while disabled, got %d", w.Code)
	}

	if err := g.SetEnabled(true); err != nil {
		t.Fatal(err)
	}
	w := doJSON(t, router, http.MethodPost, "/camera/reopen", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if got := d.openCount(); got != 2 {
		t.Errorf("expected the device to be reopened (2 opens), got %d", got)
	}
}

func TestStreamConflictWhenDisabled(t *testing.T) {
	router, _ := newTestRouter(&fixedDriver{})
	if w := doJSON(t, router, http.MethodGet, "/camera/stream", ""); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestStreamDeliversAndTerminatesOnDisable(t *testing.T) {
	router, g := newTestRouter(&fixedDriver{})
	defer g.Stop()

	if err := g.SetEnabled(true); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first frame", func() bool {
		data, _ := g.Latest()
		return len(data) > 0
	})

	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/camera/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "multipart/x-mixed-replace") {
		t.Fatalf("unexpected stream content type %q", ct)
	}

	// First part: boundary line, headers, then the payload.
	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(line) != "--frame" {
		t.Fatalf("expected boundary line, got %q", line)
	}
	sawLength := false
	for {
		line, err = reader.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		if strings.HasPrefix(line, "Content-Length:") {
			sawLength = true
		}
		if strings.TrimSpace(line) == "" {
			break
		}
	}
	if !sawLength {
		t.Error("part headers must include Content-Length")
	}
	payload := make([]byte, len(fakeJPEG))
	if _, err := io.ReadFull(reader, payload); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(payload, fakeJPEG) {
		t.Error("stream part payload mismatch")
	}

	// Disabling mid-stream must end the response without a server fault.
	finished := make(chan struct{})
	go func() {
		io.Copy(io.Discard, reader)
		close(finished)
	}()
	if err := g.SetEnabled(false); err != nil {
		t.Fatal(err)
	}
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not terminate after disable")
	}
}

func TestWSConflictWhenDisabled(t *testing.T) {
	router, _ := newTestRouter(&fixedDriver{})
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/camera/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		conn.Close()
		t.Fatal("expected the handshake to be refused while disabled")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 handshake response, got %+v", resp)
	}
}

func TestWSDeliversFrames(t *testing.T) {
	router, g := newTestRouter(&fixedDriver{})
	defer g.Stop()

	if err := g.SetEnabled(true); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first frame", func() bool {
		data, _ := g.Latest()
		return len(data) > 0
	})

	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/camera/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if kind != websocket.BinaryMessage || !bytes.Equal(data, fakeJPEG) {
		t.Fatalf("unexpected ws message: type %d, %d bytes", kind, len(data))
	}

	// Disable ends the push loop; the read eventually fails.
	if err := g.SetEnabled(false); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			break
		}
	}
}
