package stream

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/star/azeltrack/internal/httputil"
	"github.com/star/azeltrack/internal/metrics"
)

// maxClientMessage bounds what a WebSocket client may send; the feed is
// one-way and client messages are discarded.
const maxClientMessage = 512

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.config.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// HandleWebSocket serves the sample feed over a WebSocket: a metadata JSON
// message first, then one JSON text message per sample.
// GET /api/v1/ws/samples?above=<deg>
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	above, ok := parseAbove(w, r)
	if !ok {
		return
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.admit(w, ip, "websocket") {
		return
	}
	defer h.leave(ip, "websocket", time.Now())

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		metrics.IncStreamErrors("upgrade")
		h.logger.Debug("websocket upgrade failed", "remote_ip", ip, "error", err)
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe()
	defer sub.Close()

	pongWait := 2 * h.config.KeepaliveInterval
	conn.SetReadLimit(maxClientMessage)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// The read pump notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(v any) bool {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(v); err != nil {
			metrics.IncStreamErrors("send_error")
			h.logger.Warn("websocket send error", "remote_ip", ip, "error", err)
			return false
		}
		metrics.IncStreamMessages()
		return true
	}

	if !send(h.metadata()) {
		return
	}
	if s, ok := h.hub.Latest(); ok && s.ElevationDeg >= above {
		if !send(s) {
			return
		}
	}

	ping := time.NewTicker(h.config.KeepaliveInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-gone:
			return
		case s, open := <-sub.C:
			if !open {
				return
			}
			if s.ElevationDeg < above {
				continue
			}
			if !send(s) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				metrics.IncStreamErrors("send_error")
				return
			}
		}
	}
}
