package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/star/azeltrack/internal/metrics"
)

// writeTimeout bounds each write on a long-lived stream.
const writeTimeout = 30 * time.Second

// sseWriter frames messages on one SSE response and tracks what was sent.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	logger  *slog.Logger

	messages int64
	bytes    int64
}

// frame writes one raw SSE block under a fresh write deadline and flushes it.
func (c *sseWriter) frame(format string, args ...any) error {
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("could not set write deadline", "error", err)
	}
	n, err := fmt.Fprintf(c.w, format, args...)
	c.bytes += int64(n)
	metrics.AddStreamBytes(int64(n))
	if err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// event writes v as a named event: "event: <name>\ndata: {json}\n\n".
func (c *sseWriter) event(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	if err := c.frame("event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	c.messages++
	metrics.IncStreamMessages()
	return nil
}

// retry tells the browser how long to wait before reconnecting.
func (c *sseWriter) retry(ms int) error {
	return c.frame("retry: %d\n\n", ms)
}

// keepalive sends a comment line so idle proxies keep the connection open.
func (c *sseWriter) keepalive() error {
	return c.frame(":\n\n")
}
