package stream

import (
	"errors"
	"sync"
)

// defaultMaxTotal caps concurrent streams across all clients.
const defaultMaxTotal = 1000

var (
	errPerIPLimit  = errors.New("per-client stream limit reached")
	errGlobalLimit = errors.New("global stream limit reached")
)

// streamLimiter counts open SSE and WebSocket feeds per client IP and in
// total. Both transports draw from the same slots.
type streamLimiter struct {
	mu       sync.Mutex
	open     map[string]int
	total    int
	perIP    int
	capTotal int
}

func newStreamLimiter(perIP, capTotal int) *streamLimiter {
	if capTotal <= 0 {
		capTotal = defaultMaxTotal
	}
	return &streamLimiter{open: make(map[string]int), perIP: perIP, capTotal: capTotal}
}

// acquire takes a slot for ip. The global cap is checked first so a refused
// client learns whether waiting on its own feeds would help.
func (l *streamLimiter) acquire(ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.total >= l.capTotal:
		return errGlobalLimit
	case l.open[ip] >= l.perIP:
		return errPerIPLimit
	}
	l.open[ip]++
	l.total++
	return nil
}

// release returns a slot taken by acquire.
func (l *streamLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := l.open[ip] - 1; n > 0 {
		l.open[ip] = n
	} else {
		delete(l.open, ip)
	}
	if l.total > 0 {
		l.total--
	}
}

func (l *streamLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open[ip]
}

// limitReason maps an acquire error to a metrics label.
func limitReason(err error) string {
	if errors.Is(err, errGlobalLimit) {
		return "limit_global"
	}
	return "limit_per_ip"
}
