package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/star/azeltrack/internal/tle"
	"github.com/star/azeltrack/internal/tracker"
	"github.com/star/azeltrack/internal/transform"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func testStore() *tle.Store {
	store := tle.NewStore()
	store.Set(tle.NewDataset("test", time.Date(2026, 2, 6, 3, 45, 0, 0, time.UTC), []tle.Entry{
		{CatalogNumber: 25544, Name: "ISS (ZARYA)"},
	}))
	return store
}

func testTracking() tracker.Config {
	return tracker.Config{
		Target:       "ISS (ZARYA)",
		Observer:     transform.NewObserver(40.0, -75.0, 0.1),
		UpdatePeriod: time.Second,
	}
}

func testConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		KeepaliveInterval:  30 * time.Second,
	}
}

var passSample = tracker.Sample{
	TimestampUTC: "2008-09-20T22:53:00+00:00",
	Satellite:    "ISS (ZARYA)",
	AzimuthDeg:   143.358,
	ElevationDeg: 13.598,
}

// sseEvent is one parsed "event:/data:" block.
type sseEvent struct {
	name string
	data string
}

// readEvent reads lines until a complete event with data has been seen.
func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		case line == "" && ev.data != "":
			return ev
		}
	}
}

// TestMetadataMessageJSON verifies the metadata message format.
func TestMetadataMessageJSON(t *testing.T) {
	h := NewHandler(tracker.NewHub(1), testStore(), testTracking(), testConfig(), testLogger())

	data, err := json.Marshal(h.metadata())
	if err != nil {
		t.Fatal(err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatal(err)
	}

	if parsed["type"] != "metadata" {
		t.Errorf("type = %v, want metadata", parsed["type"])
	}
	if parsed["satellite"] != "ISS (ZARYA)" {
		t.Errorf("satellite = %v, want ISS (ZARYA)", parsed["satellite"])
	}
	if parsed["dataset_fetched_at"] != "2026-02-06T03:45:00Z" {
		t.Errorf("dataset_fetched_at = %v, want 2026-02-06T03:45:00Z", parsed["dataset_fetched_at"])
	}
	obs, ok := parsed["observer"].(map[string]any)
	if !ok || obs["lat_deg"].(float64) != 40 || obs["alt_km"].(float64) != 0.1 {
		t.Errorf("observer = %v", parsed["observer"])
	}
}

func TestMetadataWithoutDataset(t *testing.T) {
	h := NewHandler(tracker.NewHub(1), tle.NewStore(), testTracking(), testConfig(), testLogger())
	m := h.metadata()
	if m.TLEAge != -1 {
		t.Errorf("tle_age_seconds = %d, want -1", m.TLEAge)
	}
	if m.DatasetFetchedAt != "" {
		t.Errorf("dataset_fetched_at = %q, want empty", m.DatasetFetchedAt)
	}
}

// TestSSEMessageFormat verifies headers and the wire format of the first
// events on a connection.
func TestSSEMessageFormat(t *testing.T) {
	hub := tracker.NewHub(4)
	hub.Emit(context.Background(), passSample)
	handler := NewHandler(hub, testStore(), testTracking(), testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/samples", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	ctx, cancel := context.WithTimeout(req.Context(), 200*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	handler.HandleSamples(w, req)

	resp := w.Result()
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Cache-Control") != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", resp.Header.Get("Cache-Control"))
	}

	body := w.Body.String()
	r := bufio.NewReader(strings.NewReader(body))
	first := readEvent(t, r)
	if first.name != "metadata" {
		t.Errorf("first event = %q, want metadata", first.name)
	}
	second := readEvent(t, r)
	if second.name != "sample" {
		t.Fatalf("second event = %q, want sample", second.name)
	}
	want := `{"timestamp_utc":"2008-09-20T22:53:00+00:00","satellite":"ISS (ZARYA)","azimuth_deg":143.358,"elevation_deg":13.598}`
	if second.data != want {
		t.Errorf("sample data = %s, want %s", second.data, want)
	}

	for _, line := range strings.Split(body, "\n") {
		if line == "" || line == ":" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") && !strings.HasPrefix(line, "event: ") && !strings.HasPrefix(line, "retry: ") {
			t.Errorf("unexpected SSE line: %q", line)
		}
	}
}

// TestSSELiveSamples verifies samples emitted after connect reach the client.
func TestSSELiveSamples(t *testing.T) {
	hub := tracker.NewHub(4)
	handler := NewHandler(hub, testStore(), testTracking(), testConfig(), testLogger())
	srv := httptest.NewServer(http.HandlerFunc(handler.HandleSamples))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?above=0")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	if ev := readEvent(t, r); ev.name != "metadata" {
		t.Fatalf("first event = %q, want metadata", ev.name)
	}

	below := passSample
	below.ElevationDeg = -12.5
	hub.Emit(context.Background(), below)
	hub.Emit(context.Background(), passSample)

	ev := readEvent(t, r)
	var s tracker.Sample
	if err := json.Unmarshal([]byte(ev.data), &s); err != nil {
		t.Fatal(err)
	}
	if s != passSample {
		t.Errorf("sample = %+v, want %+v (below-horizon sample should be filtered)", s, passSample)
	}
}

func TestStreamLimiterPerIP(t *testing.T) {
	l := newStreamLimiter(3, 0)

	for i := 0; i < 3; i++ {
		if err := l.acquire("10.0.0.1"); err != nil {
			t.Fatalf("acquire %d: %v", i+1, err)
		}
	}
	if err := l.acquire("10.0.0.1"); !errors.Is(err, errPerIPLimit) {
		t.Errorf("fourth acquire = %v, want errPerIPLimit", err)
	}
	if err := l.acquire("10.0.0.2"); err != nil {
		t.Errorf("other client refused: %v", err)
	}

	l.release("10.0.0.1")
	if err := l.acquire("10.0.0.1"); err != nil {
		t.Errorf("acquire after release: %v", err)
	}

	if c := l.count("10.0.0.1"); c != 3 {
		t.Errorf("count = %d, want 3", c)
	}
	if c := l.count("10.0.0.2"); c != 1 {
		t.Errorf("count = %d, want 1", c)
	}
}

func TestStreamLimiterGlobalCap(t *testing.T) {
	l := newStreamLimiter(10, 2)
	for _, ip := range []string{"a", "b"} {
		if err := l.acquire(ip); err != nil {
			t.Fatalf("acquire %s: %v", ip, err)
		}
	}
	err := l.acquire("c")
	if !errors.Is(err, errGlobalLimit) {
		t.Fatalf("acquire beyond cap = %v, want errGlobalLimit", err)
	}
	if got := limitReason(err); got != "limit_global" {
		t.Errorf("limitReason = %q", got)
	}

	l.release("a")
	if err := l.acquire("c"); err != nil {
		t.Errorf("acquire after release: %v", err)
	}
}

func TestStreamLimiterReleaseUnknown(t *testing.T) {
	l := newStreamLimiter(1, 1)
	l.release("never-seen")
	if err := l.acquire("a"); err != nil {
		t.Fatalf("acquire after stray release: %v", err)
	}
	if err := l.acquire("b"); !errors.Is(err, errGlobalLimit) {
		t.Errorf("stray release freed a global slot: %v", err)
	}
}

func TestStreamLimiterConcurrent(t *testing.T) {
	l := newStreamLimiter(100, 0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.acquire("10.0.0.1") == nil {
				defer l.release("10.0.0.1")
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if c := l.count("10.0.0.1"); c != 0 {
		t.Errorf("count after all released = %d, want 0", c)
	}
}

// TestRateLimitHTTPResponse verifies 429 response when limit exceeded.
func TestRateLimitHTTPResponse(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentPerIP = 1
	handler := NewHandler(tracker.NewHub(1), testStore(), testTracking(), cfg, testLogger())

	ready := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest("GET", "/api/v1/stream/samples", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		ctx, cancel := context.WithCancel(req.Context())
		req = req.WithContext(ctx)
		w := httptest.NewRecorder()

		go func() {
			time.Sleep(50 * time.Millisecond)
			close(ready)
			time.Sleep(200 * time.Millisecond)
			cancel()
		}()

		handler.HandleSamples(w, req)
	}()

	<-ready

	req := httptest.NewRequest("GET", "/api/v1/stream/samples", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	handler.HandleSamples(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	<-done
}

// TestInvalidQueryParams verifies error responses for a bad elevation filter.
func TestInvalidQueryParams(t *testing.T) {
	handler := NewHandler(tracker.NewHub(1), testStore(), testTracking(), testConfig(), testLogger())

	for _, q := range []string{"?above=abc", "?above=91", "?above=-90.5"} {
		t.Run(q, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/stream/samples"+q, nil)
			req.RemoteAddr = "127.0.0.1:12345"
			w := httptest.NewRecorder()
			handler.HandleSamples(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}
