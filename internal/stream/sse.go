// Package stream serves the live look-angle feed to remote consumers over
// Server-Sent Events and WebSocket.
//
// SSE wire format, one named event per message:
//
//	event: metadata
//	data: {"type":"metadata","satellite":"ISS (ZARYA)","observer":{...},"tle_age_seconds":1800}
//
//	event: sample
//	data: {"timestamp_utc":"...","satellite":"ISS (ZARYA)","azimuth_deg":143.358,"elevation_deg":13.598}
//
// The metadata event is sent first on every connection, followed by the most
// recent sample if one exists. Keep-alive comments (:\n\n) are sent every
// KeepaliveInterval of silence.
package stream

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/star/azeltrack/internal/httputil"
	"github.com/star/azeltrack/internal/metrics"
	"github.com/star/azeltrack/internal/tle"
	"github.com/star/azeltrack/internal/tracker"
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	MaxTotal           int           // Max concurrent streams overall (default: 1000).
	KeepaliveInterval  time.Duration // Keep-alive interval (default: 30s).
	TrustProxy         bool          // Take the client IP from proxy headers.
	AllowedOrigins     []string      // WebSocket origins; empty allows any.
}

// Handler serves stream connections fed by a tracker hub.
type Handler struct {
	hub      *tracker.Hub
	store    *tle.Store
	tracking tracker.Config
	config   Config
	limiter  *streamLimiter
	logger   *slog.Logger
}

// NewHandler creates a new streaming handler.
func NewHandler(hub *tracker.Hub, store *tle.Store, tracking tracker.Config, config Config, logger *slog.Logger) *Handler {
	if config.MaxConcurrentPerIP <= 0 {
		config.MaxConcurrentPerIP = 10
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 30 * time.Second
	}
	return &Handler{
		hub:      hub,
		store:    store,
		tracking: tracking,
		config:   config,
		limiter:  newStreamLimiter(config.MaxConcurrentPerIP, config.MaxTotal),
		logger:   logger.With("component", "stream"),
	}
}

// HandleSamples serves the SSE sample stream.
// GET /api/v1/stream/samples?above=<deg>
func (h *Handler) HandleSamples(w http.ResponseWriter, r *http.Request) {
	above, ok := parseAbove(w, r)
	if !ok {
		return
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.admit(w, ip, "sse") {
		return
	}
	defer h.leave(ip, "sse", time.Now())

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The stream outlives the server's WriteTimeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &sseWriter{w: w, flusher: flusher, rc: rc, logger: h.logger}
	defer func() {
		h.logger.Debug("stream totals", "remote_ip", ip, "messages", c.messages, "bytes", c.bytes)
	}()

	sub := h.hub.Subscribe()
	defer sub.Close()

	// Jittered retry (3-7s) spreads reconnects after a restart.
	if err := c.retry(3000 + rand.Intn(4000)); err != nil {
		metrics.IncStreamErrors("send_error")
		return
	}
	if err := c.event("metadata", h.metadata()); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}
	if s, ok := h.hub.Latest(); ok && s.ElevationDeg >= above {
		if err := c.event("sample", s); err != nil {
			metrics.IncStreamErrors("send_error")
			return
		}
	}

	keepalive := time.NewTicker(h.config.KeepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case s, open := <-sub.C:
			if !open {
				return
			}
			if s.ElevationDeg < above {
				continue
			}
			if err := c.event("sample", s); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}
			keepalive.Reset(h.config.KeepaliveInterval)

		case <-keepalive.C:
			if err := c.keepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// admit enforces the concurrency limit and records the connection.
func (h *Handler) admit(w http.ResponseWriter, ip, transport string) bool {
	if err := h.limiter.acquire(ip); err != nil {
		metrics.IncStreamErrors(limitReason(err))
		h.logger.Warn("stream refused",
			"transport", transport,
			"remote_ip", ip,
			"open", h.limiter.count(ip),
			"error", err,
		)
		w.Header().Set("Retry-After", "30")
		writeJSONError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return false
	}
	metrics.IncStreamConnections(transport, "connect")
	metrics.IncStreamsActive(transport)
	h.logger.Info("stream connected", "transport", transport, "remote_ip", ip)
	return true
}

func (h *Handler) leave(ip, transport string, start time.Time) {
	h.limiter.release(ip)
	metrics.IncStreamConnections(transport, "disconnect")
	metrics.DecStreamsActive(transport)
	h.logger.Info("stream disconnected",
		"transport", transport,
		"remote_ip", ip,
		"duration_seconds", int(time.Since(start).Seconds()),
	)
}

// parseAbove reads the optional minimum-elevation filter.
func parseAbove(w http.ResponseWriter, r *http.Request) (float64, bool) {
	v := r.URL.Query().Get("above")
	if v == "" {
		return -90, true
	}
	deg, err := strconv.ParseFloat(v, 64)
	if err != nil || deg < -90 || deg > 90 {
		writeJSONError(w, http.StatusBadRequest, "invalid above parameter, must be -90 to 90")
		return 0, false
	}
	return deg, true
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (h *Handler) metadata() metadataMessage {
	m := metadataMessage{
		Type:      "metadata",
		Satellite: h.tracking.Target,
		Observer: observerPayload{
			LatDeg: h.tracking.Observer.LatDeg,
			LonDeg: h.tracking.Observer.LonDeg,
			AltKm:  h.tracking.Observer.AltKm,
		},
		UpdatePeriod: h.tracking.UpdatePeriod.Seconds(),
		TLEAge:       -1,
	}
	if ds := h.store.Get(); ds != nil {
		m.DatasetSource = ds.Source
		m.DatasetFetchedAt = ds.FetchedAt.UTC().Format(time.RFC3339)
		m.TLEAge = int(time.Since(ds.FetchedAt).Seconds())
	}
	return m
}

type metadataMessage struct {
	Type             string          `json:"type"`
	Satellite        string          `json:"satellite"`
	Observer         observerPayload `json:"observer"`
	UpdatePeriod     float64         `json:"update_period_seconds"`
	DatasetSource    string          `json:"dataset_source,omitempty"`
	DatasetFetchedAt string          `json:"dataset_fetched_at,omitempty"`
	TLEAge           int             `json:"tle_age_seconds"`
}

type observerPayload struct {
	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
	AltKm  float64 `json:"alt_km"`
}
