package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/azeltrack/internal/httputil"
	"github.com/star/azeltrack/internal/passes"
	"github.com/star/azeltrack/internal/sgp4"
	"github.com/star/azeltrack/internal/tle"
	"github.com/star/azeltrack/internal/tracker"
)

// Pass query bounds.
const (
	defaultPassHours   = 24.0
	maxPassHours       = 72.0
	defaultMaxPasses   = 10
	maxPassesLimit     = 50
	defaultMinElev     = 10.0
	manualFetchTimeout = 45 * time.Second
)

type handlers struct {
	store      *tle.Store
	refresher  *tle.Refresher
	tracker    *tracker.Tracker
	hub        *tracker.Hub
	limiter    *ipRateLimiter
	trustProxy bool
	logger     *slog.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type observerJSON struct {
	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
	AltKm  float64 `json:"alt_km"`
}

func (h *handlers) observer() observerJSON {
	o := h.tracker.Config().Observer
	return observerJSON{LatDeg: o.LatDeg, LonDeg: o.LonDeg, AltKm: o.AltKm}
}

// info describes the running service.
// GET /
func (h *handlers) info(w http.ResponseWriter, r *http.Request) {
	cfg := h.tracker.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"service":               "azeltrack",
		"satellite":             cfg.Target,
		"observer":              h.observer(),
		"update_period_seconds": cfg.UpdatePeriod.Seconds(),
		"gravity":               cfg.Gravity.String(),
		"endpoints": []string{
			"/api/v1/lookangles",
			"/api/v1/lookangles/at",
			"/api/v1/passes",
			"/api/v1/passes/{target}",
			"/api/v1/tle/metadata",
			"/api/v1/tle/fetch",
			"/api/v1/stream/samples",
			"/api/v1/ws/samples",
		},
	})
}

// latest returns the most recently emitted sample.
// GET /api/v1/lookangles
func (h *handlers) latest(w http.ResponseWriter, r *http.Request) {
	s, ok := h.hub.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no sample emitted yet")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// lookAnglesAt computes a sample on demand.
// GET /api/v1/lookangles/at?t=<RFC3339>
func (h *handlers) lookAnglesAt(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query().Get("t")
	if v == "" {
		writeError(w, http.StatusBadRequest, "missing t parameter (RFC3339)")
		return
	}
	at, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid t parameter, must be RFC3339")
		return
	}

	s, err := h.tracker.Compute(r.Context(), at)
	if err != nil {
		h.writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// writeTrackerError maps resolution and propagation failures to responses.
func (h *handlers) writeTrackerError(w http.ResponseWriter, err error) {
	var pe *sgp4.PropagationError
	switch {
	case errors.As(err, &pe):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":               err.Error(),
			"kind":                pe.Kind.String(),
			"code":                pe.Code,
			"minutes_since_epoch": pe.Minutes,
		})
	case errors.Is(err, tracker.ErrNoDataset):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, tracker.ErrSatelliteNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sgp4.ErrInvalidElements):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error("compute failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// passQuery holds validated pass prediction parameters.
type passQuery struct {
	start          time.Time
	hours, minElev float64
	max            int
}

func parsePassQuery(r *http.Request) (passQuery, string) {
	q := passQuery{
		start:   time.Now().UTC(),
		hours:   defaultPassHours,
		minElev: defaultMinElev,
		max:     defaultMaxPasses,
	}
	params := r.URL.Query()

	if v := params.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, "invalid start parameter, must be RFC3339"
		}
		q.start = t.UTC()
	}

	if v := params.Get("hours"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || !(f > 0) || f > maxPassHours {
			return q, "invalid hours parameter, must be > 0 and <= 72"
		}
		q.hours = f
	}
	if v := params.Get("min_elevation"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 90 {
			return q, "invalid min_elevation parameter, must be 0 to 90"
		}
		q.minElev = f
	}
	if v := params.Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPassesLimit {
			return q, "invalid max parameter, must be 1 to 50"
		}
		q.max = n
	}
	return q, ""
}

func (h *handlers) passRequest(q passQuery) passes.Request {
	cfg := h.tracker.Config()
	return passes.Request{
		Observer:     cfg.Observer,
		Start:        q.start,
		HorizonHours: q.hours,
		MinElevation: q.minElev,
		MaxPasses:    q.max,
		Gravity:      cfg.Gravity,
	}
}

type passesResponse struct {
	Satellite     string             `json:"satellite"`
	CatalogNumber int                `json:"catalog_number"`
	Observer      observerJSON       `json:"observer"`
	Start         time.Time          `json:"start"`
	HorizonHours  float64            `json:"horizon_hours"`
	MinElevation  float64            `json:"min_elevation"`
	Passes        []passes.PassEvent `json:"passes"`
}

// listPasses predicts upcoming passes of the tracked satellite.
// GET /api/v1/passes?start=&hours=&min_elevation=&max=
func (h *handlers) listPasses(w http.ResponseWriter, r *http.Request) {
	q, msg := parsePassQuery(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	sat, entry, err := h.tracker.Satellite()
	if err != nil {
		h.writeTrackerError(w, err)
		return
	}

	req := h.passRequest(q)
	found := passes.ForSatellite(r.Context(), sat, req)
	if found == nil {
		found = []passes.PassEvent{}
	}

	writeJSON(w, http.StatusOK, passesResponse{
		Satellite:     h.tracker.Config().Target,
		CatalogNumber: entry.CatalogNumber,
		Observer:      h.observer(),
		Start:         req.Start,
		HorizonHours:  req.HorizonHours,
		MinElevation:  req.MinElevation,
		Passes:        found,
	})
}

// listPassesFor predicts passes of any satellite in the current dataset, looked
// up by name or catalog number.
// GET /api/v1/passes/{target}
func (h *handlers) listPassesFor(w http.ResponseWriter, r *http.Request) {
	q, msg := parsePassQuery(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ds := h.store.Get()
	if ds == nil {
		writeError(w, http.StatusServiceUnavailable, tracker.ErrNoDataset.Error())
		return
	}
	target := r.PathValue("target")
	entry, ok := ds.Find(target)
	if !ok {
		writeError(w, http.StatusNotFound, "satellite "+strconv.Quote(target)+" not in TLE dataset")
		return
	}

	req := h.passRequest(q)
	req.Entries = []tle.Entry{entry}
	res := passes.Predict(r.Context(), req)[0]
	if res.Error != "" {
		writeError(w, http.StatusUnprocessableEntity, res.Error)
		return
	}
	if res.Passes == nil {
		res.Passes = []passes.PassEvent{}
	}

	writeJSON(w, http.StatusOK, passesResponse{
		Satellite:     entry.Name,
		CatalogNumber: entry.CatalogNumber,
		Observer:      h.observer(),
		Start:         req.Start,
		HorizonHours:  req.HorizonHours,
		MinElevation:  req.MinElevation,
		Passes:        res.Passes,
	})
}

type epochRangeJSON struct {
	Min time.Time `json:"min"`
	Max time.Time `json:"max"`
}

type targetJSON struct {
	Name          string    `json:"name"`
	CatalogNumber int       `json:"catalog_number"`
	Epoch         time.Time `json:"epoch"`
	Line1         string    `json:"line1"`
	Line2         string    `json:"line2"`
}

type tleMetadataResponse struct {
	Source      string         `json:"source"`
	FetchedAt   time.Time      `json:"fetched_at"`
	AgeSeconds  int            `json:"age_seconds"`
	Count       int            `json:"count"`
	EpochRange  epochRangeJSON `json:"epoch_range"`
	Target      *targetJSON    `json:"target,omitempty"`
	TargetError string         `json:"target_error,omitempty"`
}

func (h *handlers) metadata(ds *tle.Dataset) tleMetadataResponse {
	resp := tleMetadataResponse{
		Source:     ds.Source,
		FetchedAt:  ds.FetchedAt.UTC(),
		AgeSeconds: int(time.Since(ds.FetchedAt).Seconds()),
		Count:      len(ds.Entries),
		EpochRange: epochRangeJSON{Min: ds.EpochRange.Min, Max: ds.EpochRange.Max},
	}
	if e, ok := ds.Find(h.tracker.Config().Target); ok {
		resp.Target = &targetJSON{
			Name:          e.Name,
			CatalogNumber: e.CatalogNumber,
			Epoch:         e.Epoch,
			Line1:         e.Line1,
			Line2:         e.Line2,
		}
	} else {
		resp.TargetError = tracker.ErrSatelliteNotFound.Error()
	}
	return resp
}

// tleMetadata describes the current dataset.
// GET /api/v1/tle/metadata
func (h *handlers) tleMetadata(w http.ResponseWriter, r *http.Request) {
	ds := h.store.Get()
	if ds == nil {
		writeError(w, http.StatusServiceUnavailable, tracker.ErrNoDataset.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.metadata(ds))
}

// tleFetch triggers a manual refresh.
// POST /api/v1/tle/fetch
func (h *handlers) tleFetch(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "TLE fetching is disabled")
		return
	}

	ip := httputil.ClientIP(r, h.trustProxy)
	if ok, retry := h.limiter.allow(ip, time.Now()); !ok {
		h.logger.Warn("manual TLE fetch rate limited", "remote_ip", ip, "retry_after", retry)
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeError(w, http.StatusTooManyRequests, "too many fetch requests")
		return
	}

	// The fetch can outlast the server's write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(manualFetchTimeout + 5*time.Second)); err != nil {
		h.logger.Debug("could not extend write deadline", "error", err)
	}

	ctx, cancel := context.WithTimeout(r.Context(), manualFetchTimeout)
	defer cancel()

	ds, err := h.refresher.Refresh(ctx)
	if err != nil {
		h.logger.Warn("manual TLE fetch failed", "remote_ip", ip, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.metadata(ds))
}
