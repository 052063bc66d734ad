package api

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/star/azeltrack/internal/auth"
	"github.com/star/azeltrack/internal/health"
	"github.com/star/azeltrack/internal/metrics"
	"github.com/star/azeltrack/internal/stream"
	"github.com/star/azeltrack/internal/tle"
	"github.com/star/azeltrack/internal/tracker"
)

// Config holds HTTP server configuration.
type Config struct {
	Addr       string
	Auth       auth.Config
	TrustProxy bool

	// FetchRate and FetchBurst bound manual TLE refreshes per client.
	FetchRate  float64 // requests per second
	FetchBurst int
}

// Deps are the components the API serves from. Refresher may be nil, in
// which case manual fetches are rejected.
type Deps struct {
	Store     *tle.Store
	Refresher *tle.Refresher
	Tracker   *tracker.Tracker
	Hub       *tracker.Hub
	Stream    *stream.Handler
	Readiness *health.Readiness
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server. Request contexts derive from
// baseCtx so long-lived streams end when it is cancelled.
func NewServer(baseCtx context.Context, cfg Config, deps Deps, logger *slog.Logger) *Server {
	if cfg.FetchRate <= 0 {
		cfg.FetchRate = 1.0 / 60
	}
	if cfg.FetchBurst <= 0 {
		cfg.FetchBurst = 1
	}
	if deps.Readiness == nil {
		deps.Readiness = health.NewReadiness()
	}

	h := &handlers{
		store:      deps.Store,
		refresher:  deps.Refresher,
		tracker:    deps.Tracker,
		hub:        deps.Hub,
		limiter:    newIPRateLimiter(cfg.FetchRate, cfg.FetchBurst),
		trustProxy: cfg.TrustProxy,
		logger:     logger.With("component", "api"),
	}

	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /{$}", h.info)
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", deps.Readiness.Readyz)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/v1/lookangles", h.latest)
	mux.HandleFunc("GET /api/v1/lookangles/at", h.lookAnglesAt)
	mux.HandleFunc("GET /api/v1/passes", h.listPasses)
	mux.HandleFunc("GET /api/v1/passes/{target}", h.listPassesFor)
	mux.HandleFunc("GET /api/v1/tle/metadata", h.tleMetadata)
	mux.HandleFunc("POST /api/v1/tle/fetch", h.tleFetch)
	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream/samples", deps.Stream.HandleSamples)
		mux.HandleFunc("GET /api/v1/ws/samples", deps.Stream.HandleWebSocket)
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(cfg.Auth)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return baseCtx },
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
