package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/star/azeltrack/internal/tracker"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketFeed(t *testing.T) {
	hub := tracker.NewHub(4)
	handler := NewHandler(hub, testStore(), testTracking(), testConfig(), testLogger())
	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var meta map[string]any
	if err := conn.ReadJSON(&meta); err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if meta["type"] != "metadata" || meta["satellite"] != "ISS (ZARYA)" {
		t.Errorf("metadata = %v", meta)
	}

	hub.Emit(context.Background(), passSample)

	var s tracker.Sample
	if err := conn.ReadJSON(&s); err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if s != passSample {
		t.Errorf("sample = %+v, want %+v", s, passSample)
	}
}

func TestWebSocketSendsLatestOnConnect(t *testing.T) {
	hub := tracker.NewHub(4)
	hub.Emit(context.Background(), passSample)
	handler := NewHandler(hub, testStore(), testTracking(), testConfig(), testLogger())
	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var meta map[string]any
	if err := conn.ReadJSON(&meta); err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	var s tracker.Sample
	if err := conn.ReadJSON(&s); err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if s.AzimuthDeg != 143.358 {
		t.Errorf("azimuth = %v, want 143.358", s.AzimuthDeg)
	}
}

func TestWebSocketOriginCheck(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://console.example"}
	handler := NewHandler(tracker.NewHub(1), testStore(), testTracking(), cfg, testLogger())
	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer srv.Close()

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	if err == nil {
		t.Fatal("expected handshake failure for disallowed origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}

	header = http.Header{"Origin": []string{"https://console.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	conn.Close()
}

func TestWebSocketReleasesSlotOnClose(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentPerIP = 1
	handler := NewHandler(tracker.NewHub(1), testStore(), testTracking(), cfg, testLogger())
	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for handler.limiter.count("127.0.0.1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection slot not released after client closed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
