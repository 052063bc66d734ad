package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/star/azeltrack/internal/metrics"
	"github.com/star/azeltrack/internal/sgp4"
	"github.com/star/azeltrack/internal/tle"
	"github.com/star/azeltrack/internal/transform"
)

const tracerName = "github.com/star/azeltrack/internal/tracker"

var (
	// ErrNoDataset is returned while no element data has been loaded.
	ErrNoDataset = errors.New("no TLE dataset loaded")
	// ErrSatelliteNotFound is returned when the target is absent from the
	// current dataset.
	ErrSatelliteNotFound = errors.New("satellite not found in TLE dataset")
)

// Config is the tracker's explicit configuration.
type Config struct {
	Target       string
	Observer     transform.Observer
	UpdatePeriod time.Duration
	Gravity      sgp4.Gravity
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Target == "" {
		return errors.New("target satellite must not be empty")
	}
	if c.UpdatePeriod <= 0 {
		return fmt.Errorf("update period %v must be positive", c.UpdatePeriod)
	}
	return c.Observer.Validate()
}

// resolved is the target's propagator for one dataset. It is replaced, never
// modified, when the dataset changes.
type resolved struct {
	dataset *tle.Dataset
	entry   tle.Entry
	sat     *sgp4.Satellite
	err     error
}

// Tracker computes look-angle samples for the configured target from the
// dataset currently in the store.
type Tracker struct {
	cfg     Config
	store   *tle.Store
	emitter Emitter
	logger  *slog.Logger
	tracer  trace.Tracer

	current atomic.Pointer[resolved]
	mu      sync.Mutex // serializes satellite rebuilds
	now     func() time.Time
}

// New creates a Tracker. emitter receives every sample produced by Run.
func New(cfg Config, store *tle.Store, emitter Emitter, logger *slog.Logger) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tracker config: %w", err)
	}
	return &Tracker{
		cfg:     cfg,
		store:   store,
		emitter: emitter,
		logger:  logger.With("component", "tracker"),
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}, nil
}

// Config returns the tracker configuration.
func (t *Tracker) Config() Config {
	return t.cfg
}

// Satellite returns the initialized propagator for the target in the current
// dataset, rebuilding it only when the dataset has changed.
func (t *Tracker) Satellite() (*sgp4.Satellite, tle.Entry, error) {
	r, err := t.resolve()
	if err != nil {
		return nil, tle.Entry{}, err
	}
	return r.sat, r.entry, nil
}

func (t *Tracker) resolve() (*resolved, error) {
	ds := t.store.Get()
	if ds == nil {
		return nil, ErrNoDataset
	}
	if r := t.current.Load(); r != nil && r.dataset == ds {
		return r, r.err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if r := t.current.Load(); r != nil && r.dataset == ds {
		return r, r.err
	}

	r := &resolved{dataset: ds}
	entry, ok := ds.Find(t.cfg.Target)
	switch {
	case !ok:
		r.err = fmt.Errorf("%w: %q (source %s)", ErrSatelliteNotFound, t.cfg.Target, ds.Source)
	default:
		sat, err := sgp4.FromTLE(entry.Line1, entry.Line2, sgp4.WithGravity(t.cfg.Gravity))
		if err != nil {
			r.err = fmt.Errorf("initializing %q: %w", entry.Name, err)
			break
		}
		r.entry, r.sat = entry, sat
		t.logger.Info("satellite resolved",
			"satellite", t.cfg.Target,
			"name", entry.Name,
			"catalog_number", entry.CatalogNumber,
			"epoch", entry.Epoch.Format(time.RFC3339),
			"deep_space", sat.DeepSpace(),
			"gravity", sat.Gravity().String(),
		)
	}
	if r.err != nil {
		t.logger.Warn("satellite unavailable", "satellite", t.cfg.Target, "error", r.err)
	}
	t.current.Store(r)
	return r, r.err
}

// Compute propagates the target to at and converts the result into a sample.
// It is one synchronous unit of work with no side effects beyond metrics and
// tracing.
func (t *Tracker) Compute(ctx context.Context, at time.Time) (Sample, error) {
	_, span := t.tracer.Start(ctx, "tracker.compute",
		trace.WithAttributes(
			attribute.String("satellite", t.cfg.Target),
			attribute.String("instant", at.UTC().Format(time.RFC3339Nano)),
		),
	)
	defer span.End()

	start := time.Now()
	r, err := t.resolve()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Sample{}, err
	}
	span.SetAttributes(attribute.Int("catalog_number", r.entry.CatalogNumber))

	pos, err := r.sat.Propagate(at)
	if err != nil {
		var pe *sgp4.PropagationError
		if errors.As(err, &pe) {
			span.SetAttributes(
				attribute.String("kind", pe.Kind.String()),
				attribute.Int("code", pe.Code),
			)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Sample{}, err
	}

	la := transform.LookAnglesFromTEME(pos, at, t.cfg.Observer)
	metrics.ObserveCompute(time.Since(start))
	return NewSample(at, t.cfg.Target, la), nil
}

// Step computes one sample at the current time and emits it. Failures are
// logged and counted; the sample is skipped.
func (t *Tracker) Step(ctx context.Context) {
	t.StepAt(ctx, t.now())
}

// StepAt computes and emits the sample for at. A returned error has already
// been logged and counted.
func (t *Tracker) StepAt(ctx context.Context, at time.Time) error {
	s, err := t.Compute(ctx, at)
	if err != nil {
		t.logSkip(at, err)
		return err
	}
	if err := t.emitter.Emit(ctx, s); err != nil {
		t.logger.Warn("emit failed", "satellite", s.Satellite, "error", err)
		return err
	}
	metrics.RecordSample(s.AzimuthDeg, s.ElevationDeg)
	return nil
}

func (t *Tracker) logSkip(at time.Time, err error) {
	var pe *sgp4.PropagationError
	if errors.As(err, &pe) {
		metrics.IncPropagationFailure(pe.Kind.String())
		t.logger.Warn("propagation failed, skipping sample",
			"satellite", t.cfg.Target,
			"kind", pe.Kind.String(),
			"code", pe.Code,
			"minutes_since_epoch", pe.Minutes,
			"instant", at.UTC().Format(time.RFC3339Nano),
		)
		return
	}
	t.logger.Warn("no sample",
		"satellite", t.cfg.Target,
		"instant", at.UTC().Format(time.RFC3339Nano),
		"error", err,
	)
}

// Run emits a sample immediately and then once per update period until ctx
// is cancelled. Each iteration completes before cancellation is observed.
func (t *Tracker) Run(ctx context.Context) {
	t.logger.Info("tracking",
		"satellite", t.cfg.Target,
		"observer_lat", t.cfg.Observer.LatDeg,
		"observer_lon", t.cfg.Observer.LonDeg,
		"observer_alt_km", t.cfg.Observer.AltKm,
		"update_period", t.cfg.UpdatePeriod.String(),
	)

	ticker := time.NewTicker(t.cfg.UpdatePeriod)
	defer ticker.Stop()

	t.Step(ctx)
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("tracker stopped")
			return
		case <-ticker.C:
			t.Step(ctx)
		}
	}
}
