// Command lookangles computes look angles offline from a TLE file and prints
// one JSON sample per instant on stdout.
//
//	lookangles -tle stations.txt -target "ISS (ZARYA)" -lat 40 -lon -75 -alt 0.1 \
//	    -start 2008-09-20T22:50:00Z -count 10 -step 30s
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/star/azeltrack/internal/passes"
	"github.com/star/azeltrack/internal/sgp4"
	"github.com/star/azeltrack/internal/tle"
	"github.com/star/azeltrack/internal/tracker"
	"github.com/star/azeltrack/internal/transform"
)

type options struct {
	tlePath  string
	target   string
	lat, lon float64
	altKm    float64
	gravity  string
	start    string
	count    int
	step     time.Duration
	passes   float64
	minElev  float64
	verbose  bool
}

func main() {
	var o options
	flag.StringVar(&o.tlePath, "tle", "", "TLE file (2- or 3-line entries), - for stdin")
	flag.StringVar(&o.target, "target", "ISS (ZARYA)", "satellite name or catalog number")
	flag.Float64Var(&o.lat, "lat", 0, "observer geodetic latitude, degrees")
	flag.Float64Var(&o.lon, "lon", 0, "observer longitude, degrees east")
	flag.Float64Var(&o.altKm, "alt", 0, "observer altitude above the WGS-84 ellipsoid, km")
	flag.StringVar(&o.gravity, "gravity", "wgs72", "gravity model: wgs72, wgs72old or wgs84")
	flag.StringVar(&o.start, "start", "", "first instant, RFC3339 (default now)")
	flag.IntVar(&o.count, "count", 1, "number of samples")
	flag.DurationVar(&o.step, "step", time.Second, "spacing between samples")
	flag.Float64Var(&o.passes, "passes", 0, "also list passes over this many hours after start")
	flag.Float64Var(&o.minElev, "min-elevation", 10, "minimum culmination elevation for -passes, degrees")
	flag.BoolVar(&o.verbose, "v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(context.Background(), o, os.Stdin, os.Stdout, logger); err != nil {
		logger.Error("lookangles failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, stdin io.Reader, stdout io.Writer, logger *slog.Logger) error {
	if o.tlePath == "" {
		return errors.New("-tle is required")
	}
	if o.count < 1 {
		return fmt.Errorf("-count %d must be at least 1", o.count)
	}
	if o.step <= 0 {
		return fmt.Errorf("-step %v must be positive", o.step)
	}

	start := time.Now().UTC()
	if o.start != "" {
		t, err := time.Parse(time.RFC3339Nano, o.start)
		if err != nil {
			return fmt.Errorf("-start: %w", err)
		}
		start = t
	}

	gravity, err := sgp4.ParseGravity(o.gravity)
	if err != nil {
		return err
	}

	ds, err := loadDataset(o.tlePath, stdin, logger)
	if err != nil {
		return err
	}
	store := tle.NewStore()
	store.Set(ds)

	cfg := tracker.Config{
		Target:       o.target,
		Observer:     transform.NewObserver(o.lat, o.lon, o.altKm),
		UpdatePeriod: o.step,
		Gravity:      gravity,
	}
	trk, err := tracker.New(cfg, store, tracker.NewJSONLinesEmitter(stdout), logger)
	if err != nil {
		return err
	}
	sat, entry, err := trk.Satellite()
	if err != nil {
		return err
	}
	logger.Debug("satellite",
		"name", entry.Name,
		"catalog_number", entry.CatalogNumber,
		"epoch", entry.Epoch.Format(time.RFC3339),
		"deep_space", sat.DeepSpace(),
	)

	skipped := 0
	for i := 0; i < o.count; i++ {
		if err := trk.StepAt(ctx, start.Add(time.Duration(i)*o.step)); err != nil {
			skipped++
		}
	}
	if skipped > 0 {
		logger.Warn("samples skipped", "skipped", skipped, "count", o.count)
	}

	if o.passes > 0 {
		found := passes.ForSatellite(ctx, sat, passes.Request{
			Observer:     cfg.Observer,
			Start:        start,
			HorizonHours: o.passes,
			MinElevation: o.minElev,
			MaxPasses:    100,
			Gravity:      gravity,
		})
		for j, p := range found {
			logger.Info("pass",
				"index", j,
				"start", p.StartTime.Format(time.RFC3339),
				"max_elevation", p.MaxElevation,
				"azimuth_at_max", p.AzimuthAtMax,
				"end", p.EndTime.Format(time.RFC3339),
				"duration_seconds", p.DurationSeconds,
			)
		}
		logger.Info("passes found", "count", len(found))
	}
	return nil
}

func loadDataset(path string, stdin io.Reader, logger *slog.Logger) (*tle.Dataset, error) {
	var r io.Reader = stdin
	source := "stdin"
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("reading TLE file: %w", err)
		}
		defer f.Close()
		r, source = f, path
	}

	entries, err := tle.Parse(r, logger)
	if err != nil {
		return nil, fmt.Errorf("parsing TLE file: %w", err)
	}
	if len(entries) == 0 {
		return nil, tle.ErrEmptyDataset
	}
	return tle.NewDataset(source, time.Now().UTC(), entries), nil
}
