package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/star/azeltrack/internal/auth"
	"github.com/star/azeltrack/internal/health"
	"github.com/star/azeltrack/internal/tle"
	"github.com/star/azeltrack/internal/tracker"
	"github.com/star/azeltrack/internal/transform"
)

const (
	issText = "ISS (ZARYA)\n" +
		"1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927\n" +
		"2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537\n"

	// High-drag element set that has re-entered by the end of January 2024.
	decayText = "ISS (ZARYA)\n" +
		"1 25544U 98067A   24001.50000000  .00500000  00000-0  50000-2 0  9994\n" +
		"2 25544  51.6400 120.0000 0005000  90.0000 270.0000 15.70000000 10008\n"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testDataset(t *testing.T, text string) *tle.Dataset {
	t.Helper()
	entries, err := tle.Parse(strings.NewReader(text), testLogger())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return tle.NewDataset("test", time.Now().Add(-time.Hour), entries)
}

type testEnv struct {
	store   *tle.Store
	hub     *tracker.Hub
	tracker *tracker.Tracker
	handler http.Handler
}

func newTestEnv(t *testing.T, ds *tle.Dataset, cfg Config, refresher *tle.Refresher) *testEnv {
	t.Helper()
	store := tle.NewStore()
	if ds != nil {
		store.Set(ds)
	}
	return newTestEnvWithStore(t, store, cfg, refresher)
}

func newTestEnvWithStore(t *testing.T, store *tle.Store, cfg Config, refresher *tle.Refresher) *testEnv {
	t.Helper()
	logger := testLogger()

	hub := tracker.NewHub(4)
	trk, err := tracker.New(tracker.Config{
		Target:       "ISS (ZARYA)",
		Observer:     transform.NewObserver(40.0, -75.0, 0.1),
		UpdatePeriod: time.Second,
	}, store, hub, logger)
	if err != nil {
		t.Fatalf("tracker: %v", err)
	}

	rd := health.NewReadiness()
	rd.Add("target", func() error {
		_, _, err := trk.Satellite()
		return err
	})

	srv := NewServer(context.Background(), cfg, Deps{
		Store:     store,
		Refresher: refresher,
		Tracker:   trk,
		Hub:       hub,
		Readiness: rd,
	}, logger)

	return &testEnv{store: store, hub: hub, tracker: trk, handler: srv.Handler()}
}

func (e *testEnv) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "192.0.2.10:40000"
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return body
}

func TestInfo(t *testing.T) {
	env := newTestEnv(t, testDataset(t, issText), Config{}, nil)

	w := env.do("GET", "/")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["satellite"] != "ISS (ZARYA)" || body["gravity"] != "wgs72" {
		t.Errorf("info = %v", body)
	}

	if w := env.do("GET", "/nope"); w.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", w.Code)
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t, nil, Config{}, nil)
	if w := env.do("GET", "/readyz"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("without dataset: status = %d, want 503", w.Code)
	}

	env.store.Set(testDataset(t, issText))
	if w := env.do("GET", "/readyz"); w.Code != http.StatusOK {
		t.Errorf("with dataset: status = %d, want 200", w.Code)
	}
}

func TestLatestLookAngles(t *testing.T) {
	env := newTestEnv(t, testDataset(t, issText), Config{}, nil)

	if w := env.do("GET", "/api/v1/lookangles"); w.Code != http.StatusNotFound {
		t.Errorf("before first sample: status = %d, want 404", w.Code)
	}

	s := tracker.Sample{
		TimestampUTC: "2008-09-20T22:53:00+00:00",
		Satellite:    "ISS (ZARYA)",
		AzimuthDeg:   143.358,
		ElevationDeg: 13.598,
	}
	env.hub.Emit(context.Background(), s)

	w := env.do("GET", "/api/v1/lookangles")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got tracker.Sample
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got != s {
		t.Errorf("sample = %+v, want %+v", got, s)
	}
}

func TestLookAnglesAt(t *testing.T) {
	env := newTestEnv(t, testDataset(t, issText), Config{}, nil)

	w := env.do("GET", "/api/v1/lookangles/at?t=2008-09-20T22:53:00Z")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	want := `{"timestamp_utc":"2008-09-20T22:53:00+00:00","satellite":"ISS (ZARYA)","azimuth_deg":143.358,"elevation_deg":13.598}`
	if got := strings.TrimSpace(w.Body.String()); got != want {
		t.Errorf("body = %s, want %s", got, want)
	}
}

func TestLookAnglesAtErrors(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		query      string
		wantStatus int
		wantKind   string
	}{
		{"missing t", issText, "", http.StatusBadRequest, ""},
		{"bad t", issText, "?t=yesterday", http.StatusBadRequest, ""},
		{"no dataset", "", "?t=2008-09-20T22:53:00Z", http.StatusServiceUnavailable, ""},
		{"decayed", decayText, "?t=2024-01-31T12:00:00Z", http.StatusUnprocessableEntity, "decayed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ds *tle.Dataset
			if tt.text != "" {
				ds = testDataset(t, tt.text)
			}
			env := newTestEnv(t, ds, Config{}, nil)

			w := env.do("GET", "/api/v1/lookangles/at"+tt.query)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			body := decodeBody(t, w)
			if body["error"] == nil {
				t.Error("expected error field in response")
			}
			if tt.wantKind != "" && body["kind"] != tt.wantKind {
				t.Errorf("kind = %v, want %s", body["kind"], tt.wantKind)
			}
		})
	}
}

func TestLookAnglesTargetMissing(t *testing.T) {
	ds := testDataset(t, strings.Replace(issText, "ISS (ZARYA)", "SOMETHING ELSE", 1))
	env := newTestEnv(t, ds, Config{}, nil)

	if w := env.do("GET", "/api/v1/lookangles/at?t=2008-09-20T22:53:00Z"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// TestPassesBudget verifies that unbounded pass queries are rejected with 400
// instead of consuming unbounded CPU.
func TestPassesBudget(t *testing.T) {
	env := newTestEnv(t, testDataset(t, issText), Config{}, nil)

	tests := []struct {
		name       string
		query      string
		wantStatus int
	}{
		{"horizon too long", "?hours=1000", http.StatusBadRequest},
		{"horizon zero", "?hours=0", http.StatusBadRequest},
		{"too many passes", "?max=500", http.StatusBadRequest},
		{"elevation out of range", "?min_elevation=95", http.StatusBadRequest},
		{"bad start", "?start=soon", http.StatusBadRequest},
		{"within budget", "?start=2008-09-20T12:00:00Z&hours=6&max=2", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("GET", "/api/v1/passes"+tt.query)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestPasses(t *testing.T) {
	env := newTestEnv(t, testDataset(t, issText), Config{}, nil)

	w := env.do("GET", "/api/v1/passes?start=2008-09-20T00:00:00Z&hours=24&min_elevation=0&max=3")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp passesResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.CatalogNumber != 25544 {
		t.Errorf("catalog_number = %d, want 25544", resp.CatalogNumber)
	}
	if len(resp.Passes) == 0 || len(resp.Passes) > 3 {
		t.Fatalf("got %d passes, want 1..3", len(resp.Passes))
	}
	for _, p := range resp.Passes {
		if !p.StartTime.Before(p.EndTime) || p.MaxElevation <= 0 {
			t.Errorf("malformed pass %+v", p)
		}
	}
}

func TestPassesForTarget(t *testing.T) {
	env := newTestEnv(t, testDataset(t, issText), Config{}, nil)

	w := env.do("GET", "/api/v1/passes/25544?start=2008-09-20T00:00:00Z&hours=12")
	if w.Code != http.StatusOK {
		t.Fatalf("by catalog number: status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["satellite"] != "ISS (ZARYA)" {
		t.Errorf("satellite = %v, want ISS (ZARYA)", body["satellite"])
	}
	if _, ok := body["passes"].([]any); !ok {
		t.Errorf("passes = %v, want array", body["passes"])
	}

	if w := env.do("GET", "/api/v1/passes/99999"); w.Code != http.StatusNotFound {
		t.Errorf("unknown target: status = %d, want 404", w.Code)
	}
}

func TestTLEMetadata(t *testing.T) {
	env := newTestEnv(t, nil, Config{}, nil)
	if w := env.do("GET", "/api/v1/tle/metadata"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("without dataset: status = %d, want 503", w.Code)
	}

	env.store.Set(testDataset(t, issText))
	w := env.do("GET", "/api/v1/tle/metadata")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp tleMetadataResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 || resp.Source != "test" {
		t.Errorf("count/source = %d/%s", resp.Count, resp.Source)
	}
	if resp.Target == nil || resp.Target.CatalogNumber != 25544 {
		t.Fatalf("target = %+v", resp.Target)
	}
	if resp.AgeSeconds < 3500 {
		t.Errorf("age_seconds = %d, want about 3600", resp.AgeSeconds)
	}
}

func TestTLEFetch(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(issText))
	}))
	defer upstream.Close()

	logger := testLogger()
	store := tle.NewStore()
	refresher := tle.NewRefresher(tle.NewFetcher(upstream.URL, logger), nil, store, time.Hour, logger)

	env := newTestEnvWithStore(t, store, Config{FetchRate: 0.001, FetchBurst: 1}, refresher)

	w := env.do("POST", "/api/v1/tle/fetch")
	if w.Code != http.StatusOK {
		t.Fatalf("first fetch: status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if store.Get() == nil || len(store.Get().Entries) != 1 {
		t.Fatal("fetch did not publish a dataset")
	}

	w = env.do("POST", "/api/v1/tle/fetch")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second fetch: status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	if w := env.do("GET", "/api/v1/tle/fetch"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET fetch: status = %d, want 405", w.Code)
	}
}

func TestTLEFetchDisabled(t *testing.T) {
	env := newTestEnv(t, testDataset(t, issText), Config{}, nil)
	if w := env.do("POST", "/api/v1/tle/fetch"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestAuthChain(t *testing.T) {
	cfg := Config{Auth: auth.Config{Enabled: true, Token: "t0ken"}}
	env := newTestEnv(t, testDataset(t, issText), cfg, nil)

	if w := env.do("GET", "/healthz"); w.Code != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", w.Code)
	}
	if w := env.do("GET", "/api/v1/lookangles/at?t=2008-09-20T22:53:00Z"); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest("GET", "/api/v1/lookangles/at?t=2008-09-20T22:53:00Z", nil)
	req.Header.Set("Authorization", "Bearer t0ken")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", w.Code)
	}
}

func TestIPRateLimiter(t *testing.T) {
	l := newIPRateLimiter(1, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if ok, _ := l.allow("a", now); !ok {
			t.Fatalf("request %d within burst rejected", i+1)
		}
	}
	ok, retry := l.allow("a", now)
	if ok {
		t.Fatal("request beyond burst allowed")
	}
	if retry != 1 {
		t.Errorf("retry = %d, want 1", retry)
	}
	if ok, _ := l.allow("b", now); !ok {
		t.Error("other client should have its own bucket")
	}
	if ok, _ := l.allow("a", now.Add(time.Second)); !ok {
		t.Error("token should be replenished after one second")
	}
}

func TestIPRateLimiterEvictsIdleBuckets(t *testing.T) {
	// One token per 10s with burst 3: a bucket refills completely in 30s.
	l := newIPRateLimiter(0.1, 3)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		if ok, _ := l.allow(ip, now); !ok {
			t.Fatalf("first request from %s rejected", ip)
		}
	}
	if n := l.size(); n != 3 {
		t.Fatalf("buckets = %d, want 3", n)
	}

	// 10.0.0.3 stays active; the other two go idle past a full refill.
	l.allow("10.0.0.3", now.Add(50*time.Second))
	l.allow("10.0.0.4", now.Add(70*time.Second))
	if n := l.size(); n != 2 {
		t.Errorf("buckets after sweep = %d, want 2 (idle clients evicted)", n)
	}

	// An evicted client starts with a full bucket, as it would have anyway.
	for i := 0; i < 3; i++ {
		if ok, _ := l.allow("10.0.0.1", now.Add(70*time.Second)); !ok {
			t.Fatalf("request %d after eviction rejected", i+1)
		}
	}
}

func TestIPRateLimiterZeroRateKeepsBuckets(t *testing.T) {
	l := newIPRateLimiter(0, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if ok, _ := l.allow("a", now); !ok {
		t.Fatal("burst token rejected")
	}
	l.allow("b", now.Add(24*time.Hour))
	if ok, _ := l.allow("a", now.Add(24*time.Hour)); ok {
		t.Error("a never-refilling bucket was reset by eviction")
	}
}
