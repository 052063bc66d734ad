package tle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/star/azeltrack/internal/metrics"
)

// ErrEmptyDataset is returned when fetched or cached text holds no valid
// element sets. The current dataset is kept in that case.
var ErrEmptyDataset = errors.New("no valid element sets")

// Source produces raw element text. *Fetcher implements it.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	SourceURL() string
}

// Refresher keeps a Store populated from a Source, with an optional on-disk
// Cache for restarts.
type Refresher struct {
	source Source
	cache  *Cache
	store  *Store
	maxAge time.Duration
	logger *slog.Logger

	mu  sync.Mutex // serializes refreshes
	now func() time.Time
}

// NewRefresher creates a Refresher. cache may be nil.
func NewRefresher(source Source, cache *Cache, store *Store, maxAge time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{
		source: source,
		cache:  cache,
		store:  store,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
	}
}

// Store returns the store the refresher publishes to.
func (r *Refresher) Store() *Store {
	return r.store
}

// LoadCache restores the newest cached dataset into the store.
func (r *Refresher) LoadCache() (*Dataset, error) {
	if r.cache == nil {
		return nil, ErrNoCache
	}
	data, ts, err := r.cache.LoadLatest()
	if err != nil {
		return nil, err
	}
	entries, err := Parse(bytes.NewReader(data), r.logger)
	if err != nil {
		return nil, fmt.Errorf("parsing cached TLE data: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrEmptyDataset
	}

	ds := NewDataset("cache", ts, entries)
	r.publish(ds)
	r.logger.Info("loaded TLE data from cache",
		"count", len(entries),
		"cached_at", ts.Format(time.RFC3339),
	)
	return ds, nil
}

// Refresh fetches, parses and publishes a new dataset, then writes the raw
// text to the cache. Concurrent calls are serialized. On any failure the
// current dataset stays in place.
func (r *Refresher) Refresh(ctx context.Context) (*Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	ds, data, err := r.fetch(ctx)
	if err != nil {
		metrics.RecordTLEFetch("error", time.Since(start))
		return nil, err
	}
	r.publish(ds)
	metrics.RecordTLEFetch("success", time.Since(start))

	if r.cache != nil {
		if err := r.cache.Write(data, ds.FetchedAt); err != nil {
			r.logger.Warn("failed to write TLE cache", "dir", r.cache.Dir(), "error", err)
		}
	}

	r.logger.Info("TLE data refreshed",
		"source", ds.Source,
		"count", len(ds.Entries),
		"epoch_min", ds.EpochRange.Min.Format(time.RFC3339),
		"epoch_max", ds.EpochRange.Max.Format(time.RFC3339),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ds, nil
}

func (r *Refresher) fetch(ctx context.Context) (*Dataset, []byte, error) {
	data, err := r.source.Fetch(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching TLE data: %w", err)
	}
	entries, err := Parse(bytes.NewReader(data), r.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing TLE data: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil, ErrEmptyDataset
	}
	return NewDataset(r.source.SourceURL(), r.now().UTC(), entries), data, nil
}

func (r *Refresher) publish(ds *Dataset) {
	r.store.Set(ds)
	metrics.SetTLEDatasetCount(len(ds.Entries))
	metrics.SetTLEDatasetAge(r.now().Sub(ds.FetchedAt).Seconds())
}

// Stale reports whether the store is empty or its dataset is older than the
// configured maximum age.
func (r *Refresher) Stale(now time.Time) bool {
	age, ok := r.store.Age(now)
	return !ok || age > r.maxAge
}

// ageGaugeInterval is how often Run refreshes the dataset age gauge.
const ageGaugeInterval = 10 * time.Second

// Run refreshes immediately if the store is stale, then every interval,
// until ctx is cancelled. Failures are logged and retried on the next tick.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) {
	if r.Stale(r.now()) {
		if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("initial TLE refresh failed", "error", err)
		}
	}

	refresh := time.NewTicker(interval)
	defer refresh.Stop()
	age := time.NewTicker(ageGaugeInterval)
	defer age.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("TLE refresher stopped")
			return
		case <-refresh.C:
			if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("TLE refresh failed", "error", err)
			}
		case <-age.C:
			if seconds := r.store.AgeSeconds(); seconds >= 0 {
				metrics.SetTLEDatasetAge(seconds)
			}
		}
	}
}
