package tle

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

const (
	issText = "ISS (ZARYA)\n" +
		"1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9009\n" +
		"2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    01\n"
	starlinkText = "STARLINK-1007\n" +
		"1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9998\n" +
		"2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    07\n"
)

// serve starts a test server for h and returns its URL.
func serve(t *testing.T, h http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}

func text(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}
}

func status(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}
}

// TestFetcherBodyLimit verifies that responses exceeding the 50 MB limit
// return an error instead of consuming unbounded memory.
func TestFetcherBodyLimit(t *testing.T) {
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		chunk := []byte(strings.Repeat("A", 1<<20))
		for i := 0; i < 52; i++ {
			if _, err := w.Write(chunk); err != nil {
				return // Client closed connection.
			}
		}
	})

	_, err := NewFetcher(url, testLogger).Fetch(context.Background())
	if err == nil {
		t.Fatal("expected error for oversized response, got nil")
	}
	if !strings.Contains(err.Error(), "byte limit") {
		t.Errorf("expected body limit error, got: %v", err)
	}
}

func TestFetcherPrimary(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
		wantErr bool
	}{
		{"ok", text(issText), issText, false},
		{"server error", status(http.StatusInternalServerError), "", true},
		{"not found", status(http.StatusNotFound), "", true},
		{"unsolicited not modified", status(http.StatusNotModified), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := NewFetcher(serve(t, tt.handler), testLogger).Fetch(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if string(data) != tt.want {
				t.Errorf("body = %q, want %q", data, tt.want)
			}
		})
	}
}

func TestFetcherCancelled(t *testing.T) {
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := NewFetcher(url, testLogger).Fetch(ctx); err == nil {
		t.Fatal("expected error for cancelled fetch")
	}
}

// TestFetcherExtraURLs verifies that extra sources are appended to the
// primary one and that a failing extra source is skipped.
func TestFetcherExtraURLs(t *testing.T) {
	primary := serve(t, text(strings.TrimSuffix(starlinkText, "\n")))
	extra := serve(t, text(issText))
	failing := serve(t, status(http.StatusBadGateway))

	data, err := NewFetcher(primary, testLogger, failing, extra).Fetch(context.Background())
	if err != nil {
		t.Fatalf("primary fetch should succeed even when an extra fails: %v", err)
	}

	entries, err := Parse(strings.NewReader(string(data)), testLogger)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].CatalogNumber != 44713 || entries[1].CatalogNumber != 25544 {
		t.Errorf("catalog numbers = %d, %d; want 44713, 25544", entries[0].CatalogNumber, entries[1].CatalogNumber)
	}
}

func TestFetcherPrimaryFailureIsFatal(t *testing.T) {
	f := NewFetcher(serve(t, status(http.StatusServiceUnavailable)), testLogger, serve(t, text(issText)))
	if _, err := f.Fetch(context.Background()); err == nil {
		t.Fatal("expected error when the primary source fails")
	}
}

// TestFetcherConditional verifies that validators are sent back and a 304
// reuses the previous body.
func TestFetcherConditional(t *testing.T) {
	var full, notModified atomic.Int32
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "azeltrack/") {
			t.Errorf("User-Agent = %q", ua)
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		full.Add(1)
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(issText))
	})

	f := NewFetcher(url, testLogger)
	for i := 0; i < 3; i++ {
		data, err := f.Fetch(context.Background())
		if err != nil {
			t.Fatalf("fetch %d: %v", i+1, err)
		}
		if string(data) != issText {
			t.Fatalf("fetch %d: body = %q", i+1, data)
		}
	}
	if full.Load() != 1 || notModified.Load() != 2 {
		t.Errorf("full = %d, not modified = %d; want 1 and 2", full.Load(), notModified.Load())
	}
}

func TestFetcherDefaultSource(t *testing.T) {
	if got := NewFetcher("", testLogger).SourceURL(); got != defaultSourceURL {
		t.Errorf("SourceURL() = %q, want %q", got, defaultSourceURL)
	}
}
