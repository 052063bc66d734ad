package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "azeltrack_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "azeltrack_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	tleFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "azeltrack_tle_fetch_total",
			Help: "TLE fetch attempts by outcome.",
		},
		[]string{"status"},
	)

	tleFetchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "azeltrack_tle_fetch_duration_seconds",
			Help:    "Duration of TLE fetch, parse and store.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	tleDatasetAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "azeltrack_tle_dataset_age_seconds",
			Help: "Age of the current TLE dataset in seconds.",
		},
	)

	tleDatasetEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "azeltrack_tle_dataset_entries",
			Help: "Number of element sets in the current TLE dataset.",
		},
	)

	propagationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "azeltrack_propagation_failures_total",
			Help: "Skipped samples by propagation failure kind.",
		},
		[]string{"kind"},
	)

	computeDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "azeltrack_compute_duration_seconds",
			Help:    "Duration of one propagate and convert step.",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		},
	)

	samplesEmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "azeltrack_samples_emitted_total",
			Help: "Total look-angle samples emitted.",
		},
	)

	subscriberDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "azeltrack_subscriber_drops_total",
			Help: "Samples dropped because a subscriber was not keeping up.",
		},
	)

	lookAzimuthDegrees = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "azeltrack_azimuth_degrees",
			Help: "Azimuth of the most recent sample.",
		},
	)

	lookElevationDegrees = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "azeltrack_elevation_degrees",
			Help: "Elevation of the most recent sample.",
		},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "azeltrack_stream_connections_total",
			Help: "Stream connect and disconnect events.",
		},
		[]string{"transport", "event"},
	)

	streamsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "azeltrack_streams_active",
			Help: "Currently open streams.",
		},
		[]string{"transport"},
	)

	streamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "azeltrack_stream_messages_total",
			Help: "Messages written to stream clients.",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "azeltrack_stream_bytes_total",
			Help: "Bytes written to stream clients.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "azeltrack_stream_errors_total",
			Help: "Stream errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpDurationSeconds)
	prometheus.MustRegister(tleFetchTotal)
	prometheus.MustRegister(tleFetchDurationSeconds)
	prometheus.MustRegister(tleDatasetAgeSeconds)
	prometheus.MustRegister(tleDatasetEntries)
	prometheus.MustRegister(propagationFailuresTotal)
	prometheus.MustRegister(computeDurationSeconds)
	prometheus.MustRegister(samplesEmittedTotal)
	prometheus.MustRegister(subscriberDropsTotal)
	prometheus.MustRegister(lookAzimuthDegrees)
	prometheus.MustRegister(lookElevationDegrees)
	prometheus.MustRegister(streamConnectionsTotal)
	prometheus.MustRegister(streamsActive)
	prometheus.MustRegister(streamMessagesTotal)
	prometheus.MustRegister(streamBytesTotal)
	prometheus.MustRegister(streamErrorsTotal)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTLEFetch counts a fetch attempt and observes its duration.
// status is "success" or "error".
func RecordTLEFetch(status string, d time.Duration) {
	tleFetchTotal.WithLabelValues(status).Inc()
	tleFetchDurationSeconds.Observe(d.Seconds())
}

// SetTLEDatasetAge sets the current dataset age gauge.
func SetTLEDatasetAge(seconds float64) {
	tleDatasetAgeSeconds.Set(seconds)
}

// SetTLEDatasetCount sets the current dataset size gauge.
func SetTLEDatasetCount(n int) {
	tleDatasetEntries.Set(float64(n))
}

// IncPropagationFailure counts one skipped sample of the given failure kind.
func IncPropagationFailure(kind string) {
	propagationFailuresTotal.WithLabelValues(kind).Inc()
}

// ObserveCompute records the duration of one compute step.
func ObserveCompute(d time.Duration) {
	computeDurationSeconds.Observe(d.Seconds())
}

// RecordSample counts an emitted sample and exposes its angles.
func RecordSample(azimuthDeg, elevationDeg float64) {
	samplesEmittedTotal.Inc()
	lookAzimuthDegrees.Set(azimuthDeg)
	lookElevationDegrees.Set(elevationDeg)
}

// IncSubscriberDrops counts a sample dropped for a slow subscriber.
func IncSubscriberDrops() {
	subscriberDropsTotal.Inc()
}

// IncStreamConnections records a connect or disconnect event.
func IncStreamConnections(transport, event string) {
	streamConnectionsTotal.WithLabelValues(transport, event).Inc()
}

// IncStreamsActive increments the open stream gauge.
func IncStreamsActive(transport string) {
	streamsActive.WithLabelValues(transport).Inc()
}

// DecStreamsActive decrements the open stream gauge.
func DecStreamsActive(transport string) {
	streamsActive.WithLabelValues(transport).Dec()
}

// IncStreamMessages counts one message written to a stream client.
func IncStreamMessages() {
	streamMessagesTotal.Inc()
}

// AddStreamBytes adds n to the stream byte counter.
func AddStreamBytes(n int64) {
	streamBytesTotal.Add(float64(n))
}

// IncStreamErrors counts a stream error by reason.
func IncStreamErrors(reason string) {
	streamErrorsTotal.WithLabelValues(reason).Inc()
}

// knownRoutes are the exact paths served by the API.
var knownRoutes = map[string]bool{
	"/":                      true,
	"/healthz":               true,
	"/readyz":                true,
	"/metrics":               true,
	"/api/v1/lookangles":     true,
	"/api/v1/lookangles/at":  true,
	"/api/v1/passes":         true,
	"/api/v1/tle/metadata":   true,
	"/api/v1/tle/fetch":      true,
	"/api/v1/stream/samples": true,
	"/api/v1/ws/samples":     true,
}

const passesPrefix = "/api/v1/passes/"

// normalizeRoute maps a request path to a bounded label set so that
// arbitrary paths cannot blow up metric cardinality.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if strings.HasPrefix(path, passesPrefix) && len(path) > len(passesPrefix) {
		return passesPrefix + "{target}"
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so SSE handlers keep working
// behind the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack forwards to the underlying writer for WebSocket upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
