// Package passes predicts when a satellite rises above, culminates over and
// sets below an observer's horizon.
package passes

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/star/azeltrack/internal/sgp4"
	"github.com/star/azeltrack/internal/tle"
	"github.com/star/azeltrack/internal/transform"
)

// GroundTrackPoint is a sub-satellite position at a specific time during a pass.
type GroundTrackPoint struct {
	Time       time.Time `json:"time"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	AltitudeKm float64   `json:"altitude_km"`
	Elevation  float64   `json:"elevation"` // degrees above observer's horizon
}

// PassEvent describes a single satellite pass over an observer location.
type PassEvent struct {
	StartTime        time.Time          `json:"start_time"`
	MaxElevationTime time.Time          `json:"max_elevation_time"`
	EndTime          time.Time          `json:"end_time"`
	DurationSeconds  float64            `json:"duration_seconds"`
	MaxElevation     float64            `json:"max_elevation"`
	AzimuthAtMax     float64            `json:"azimuth_at_max"`
	RangeAtMaxKm     float64            `json:"range_at_max_km"`
	StartAzimuth     float64            `json:"start_azimuth"`
	EndAzimuth       float64            `json:"end_azimuth"`
	GroundTrack      []GroundTrackPoint `json:"ground_track"`
}

// SatellitePasses holds the predicted passes for one satellite.
type SatellitePasses struct {
	CatalogNumber int         `json:"catalog_number"`
	Name          string      `json:"name"`
	Passes        []PassEvent `json:"passes"`
	Error         string      `json:"error,omitempty"`
}

// Request holds the parameters for a pass prediction request.
type Request struct {
	Observer     transform.Observer
	Entries      []tle.Entry
	Start        time.Time
	HorizonHours float64
	MinElevation float64 // degrees
	MaxPasses    int
	Gravity      sgp4.Gravity
}

const (
	coarseStep      = 30 * time.Second
	fineStep        = 1 * time.Second
	groundTrackStep = 10 * time.Second
	minPassDuration = 10 * time.Second
)

// Predict computes passes for every entry in the request. Entries are
// processed concurrently, bounded by the number of CPUs; a failure for one
// entry is reported in its result and does not affect the others.
func Predict(ctx context.Context, req Request) []SatellitePasses {
	results := make([]SatellitePasses, len(req.Entries))
	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup

	for i, entry := range req.Entries {
		wg.Add(1)
		go func(idx int, e tle.Entry) {
			defer wg.Done()
			res := SatellitePasses{CatalogNumber: e.CatalogNumber, Name: e.Name}

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				res.Error = "cancelled"
				results[idx] = res
				return
			}

			sat, err := sgp4.FromTLE(e.Line1, e.Line2, sgp4.WithGravity(req.Gravity))
			if err != nil {
				res.Error = fmt.Sprintf("sgp4 init: %v", err)
				results[idx] = res
				return
			}
			res.Passes = ForSatellite(ctx, sat, req)
			results[idx] = res
		}(i, entry)
	}

	wg.Wait()
	return results
}

// ForSatellite finds passes of an already initialized satellite. Entries in
// req are ignored. Instants where propagation fails are treated as below the
// horizon.
func ForSatellite(ctx context.Context, sat *sgp4.Satellite, req Request) []PassEvent {
	sc := scanner{sat: sat, obs: req.Observer, minElev: req.MinElevation}
	end := req.Start.Add(time.Duration(req.HorizonHours * float64(time.Hour)))

	var passes []PassEvent
	t := req.Start
	for t.Before(end) && len(passes) < req.MaxPasses {
		if ctx.Err() != nil {
			break
		}

		la, _, ok := sc.look(t)
		if !ok || la.ElevationDeg <= 0 {
			t = t.Add(coarseStep)
			continue
		}

		pass, windowEnd := sc.refine(ctx, t, req.Start, end)
		if pass != nil && pass.EndTime.Sub(pass.StartTime) >= minPassDuration {
			passes = append(passes, *pass)
		}
		t = windowEnd.Add(coarseStep)
	}
	return passes
}

type scanner struct {
	sat     *sgp4.Satellite
	obs     transform.Observer
	minElev float64
}

// look returns the look angles and Earth-fixed position at t, and false if
// propagation failed.
func (sc scanner) look(t time.Time) (transform.LookAngles, transform.PositionECEF, bool) {
	teme, err := sc.sat.Propagate(t)
	if err != nil {
		return transform.LookAngles{}, transform.PositionECEF{}, false
	}
	ecef := transform.TEMEToECEF(teme, t)
	return transform.ECEFToLookAngles(sc.obs, ecef.X, ecef.Y, ecef.Z), ecef, true
}

// refine scans at fine resolution from one coarse step before coarseHit to
// find rise, culmination and set. It returns the pass, or nil if the
// satellite never reached the minimum elevation, and the time scanning
// stopped.
func (sc scanner) refine(ctx context.Context, coarseHit, windowStart, windowEnd time.Time) (*PassEvent, time.Time) {
	t := coarseHit.Add(-coarseStep)
	if t.Before(windowStart) {
		t = windowStart
	}

	var (
		pass     PassEvent
		rose     bool
		set      bool
		wasAbove bool
		visible  bool
	)

	for ; t.Before(windowEnd); t = t.Add(fineStep) {
		if ctx.Err() != nil {
			break
		}
		la, ecef, ok := sc.look(t)
		if !ok {
			continue
		}
		above := la.ElevationDeg >= sc.minElev

		// A pass that sets without reaching the minimum elevation ends the
		// window here so the coarse scan can continue.
		if !rose && visible && la.ElevationDeg <= 0 {
			break
		}
		visible = visible || la.ElevationDeg > 0

		switch {
		case above && !wasAbove && !rose:
			rose = true
			pass.StartTime = t
			pass.StartAzimuth = la.AzimuthDeg
			pass.culminate(t, la)
		case above && rose:
			if la.ElevationDeg > pass.MaxElevation {
				pass.culminate(t, la)
			}
		case !above && wasAbove && rose:
			pass.EndTime = t
			pass.EndAzimuth = la.AzimuthDeg
			set = true
		}
		if set {
			break
		}

		if above && rose && t.Sub(pass.StartTime)%groundTrackStep == 0 {
			geo := transform.ECEFToGeodetic(ecef.X, ecef.Y, ecef.Z)
			pass.GroundTrack = append(pass.GroundTrack, GroundTrackPoint{
				Time:       t,
				Latitude:   geo.LatDeg,
				Longitude:  geo.LonDeg,
				AltitudeKm: geo.AltKm,
				Elevation:  la.ElevationDeg,
			})
		}
		wasAbove = above
	}

	if !rose {
		return nil, t
	}

	// Still above the horizon when the window closed.
	if !set {
		pass.EndTime = t
		if la, _, ok := sc.look(t); ok {
			pass.EndAzimuth = la.AzimuthDeg
			if la.ElevationDeg > pass.MaxElevation {
				pass.culminate(t, la)
			}
		}
	}

	pass.DurationSeconds = pass.EndTime.Sub(pass.StartTime).Seconds()
	return &pass, pass.EndTime
}

func (p *PassEvent) culminate(t time.Time, la transform.LookAngles) {
	p.MaxElevation = la.ElevationDeg
	p.MaxElevationTime = t
	p.AzimuthAtMax = la.AzimuthDeg
	p.RangeAtMaxKm = la.RangeKm
}
