package health

import (
	"net/http"
	"sync"
)

// Healthz returns 200 "ok\n" unconditionally.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Check reports nil when its dependency is ready.
type Check func() error

// Readiness runs named checks in registration order.
type Readiness struct {
	mu     sync.RWMutex
	names  []string
	checks map[string]Check
}

// NewReadiness returns a Readiness with no checks; it reports ready.
func NewReadiness() *Readiness {
	return &Readiness{checks: make(map[string]Check)}
}

// Add registers a check. Adding an existing name replaces its check.
func (rd *Readiness) Add(name string, check Check) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if _, ok := rd.checks[name]; !ok {
		rd.names = append(rd.names, name)
	}
	rd.checks[name] = check
}

// Readyz returns 200 "ready\n" when every check passes, otherwise 503 with
// the first failing check.
func (rd *Readiness) Readyz(w http.ResponseWriter, r *http.Request) {
	rd.mu.RLock()
	defer rd.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")
	for _, name := range rd.names {
		if err := rd.checks[name](); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: " + name + ": " + err.Error() + "\n"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready\n"))
}
