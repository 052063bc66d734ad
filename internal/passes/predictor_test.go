package passes

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/star/azeltrack/internal/sgp4"
	"github.com/star/azeltrack/internal/tle"
	"github.com/star/azeltrack/internal/transform"
)

// ISS element set with a February 2025 epoch.
var issTLE = tle.Entry{
	CatalogNumber: 25544,
	Name:          "ISS (ZARYA)",
	Line1:         "1 25544U 98067A   25045.18032407  .00016717  00000+0  30099-3 0  9996",
	Line2:         "2 25544  51.6412 193.5765 0003457 126.2851 233.8519 15.49874301495057",
	Epoch:         time.Date(2025, 2, 14, 4, 19, 40, 0, time.UTC),
}

var (
	nycObserver       = transform.NewObserver(40.7128, -74.006, 0.010)
	parrishFLObserver = transform.NewObserver(27.5867, -82.4251, 0)
)

var issStart = time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC)

func issRequest(obs transform.Observer, hours, minEl float64, maxPasses int) Request {
	return Request{
		Observer:     obs,
		Entries:      []tle.Entry{issTLE},
		Start:        issStart,
		HorizonHours: hours,
		MinElevation: minEl,
		MaxPasses:    maxPasses,
	}
}

// checkPass asserts the shape every reported pass must have. Passes cut
// off by the end of the search window are exempt from the duration floor.
func checkPass(t *testing.T, i int, p PassEvent, minEl float64, windowEnd time.Time) {
	t.Helper()
	if p.EndTime.Before(windowEnd) && p.DurationSeconds < 10 {
		t.Errorf("pass %d: duration %.1fs too short", i, p.DurationSeconds)
	}
	if p.MaxElevation < minEl || p.MaxElevation > 90 {
		t.Errorf("pass %d: max elevation %.2f outside [%.0f, 90]", i, p.MaxElevation, minEl)
	}
	for name, az := range map[string]float64{"start": p.StartAzimuth, "max": p.AzimuthAtMax, "end": p.EndAzimuth} {
		if az < 0 || az >= 360 {
			t.Errorf("pass %d: %s azimuth %.2f outside [0, 360)", i, name, az)
		}
	}
	if p.MaxElevationTime.Before(p.StartTime) || p.MaxElevationTime.After(p.EndTime) {
		t.Errorf("pass %d: start %v, max %v, end %v out of order", i, p.StartTime, p.MaxElevationTime, p.EndTime)
	}
	if len(p.GroundTrack) == 0 {
		t.Errorf("pass %d: empty ground track", i)
	}
	for j, gt := range p.GroundTrack {
		if gt.Time.Before(p.StartTime) || gt.Time.After(p.EndTime) {
			t.Errorf("pass %d point %d: %v outside the pass window", i, j, gt.Time)
		}
		if math.Abs(gt.Latitude) > 90 || math.Abs(gt.Longitude) > 180 {
			t.Errorf("pass %d point %d: bad lat/lon %.2f,%.2f", i, j, gt.Latitude, gt.Longitude)
		}
		if gt.AltitudeKm < 100 || gt.AltitudeKm > 1000 {
			t.Errorf("pass %d point %d: altitude %.0f km not LEO", i, j, gt.AltitudeKm)
		}
		if gt.Elevation < 0 || gt.Elevation > 90 {
			t.Errorf("pass %d point %d: elevation %.2f below horizon", i, j, gt.Elevation)
		}
	}
}

func TestPredictISS(t *testing.T) {
	tests := []struct {
		name  string
		obs   transform.Observer
		minEl float64
	}{
		{"nyc horizon", nycObserver, 0},
		{"nyc 10deg", nycObserver, 10},
		{"parrish horizon", parrishFLObserver, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := issRequest(tt.obs, 24, tt.minEl, 10)
			results := Predict(context.Background(), req)
			if len(results) != 1 {
				t.Fatalf("got %d satellite results, want 1", len(results))
			}
			sat := results[0]
			if sat.CatalogNumber != 25544 || sat.Error != "" {
				t.Fatalf("result = %d %q", sat.CatalogNumber, sat.Error)
			}
			if len(sat.Passes) == 0 {
				t.Fatal("no ISS passes in 24h")
			}
			for i, p := range sat.Passes {
				checkPass(t, i, p, tt.minEl, req.Start.Add(24*time.Hour))
				if i > 0 && !sat.Passes[i-1].EndTime.Before(p.StartTime) {
					t.Errorf("pass %d overlaps the previous one", i)
				}
			}
		})
	}
}

// A higher threshold keeps exactly the horizon passes that culminate above
// it. Low passes in between must not hide later qualifying ones.
func TestPredictMinElevationFilter(t *testing.T) {
	horizon := Predict(context.Background(), issRequest(nycObserver, 48, 0, 50))[0].Passes
	if len(horizon) == 0 {
		t.Fatal("no passes at the horizon threshold")
	}

	near := func(passes []PassEvent, at time.Time) bool {
		for _, p := range passes {
			if d := p.MaxElevationTime.Sub(at); d > -time.Minute && d < time.Minute {
				return true
			}
		}
		return false
	}

	for _, minEl := range []float64{10, 30, 45} {
		got := Predict(context.Background(), issRequest(nycObserver, 48, minEl, 50))[0].Passes
		for i, p := range got {
			if !near(horizon, p.MaxElevationTime) {
				t.Errorf("min elevation %.0f pass %d at %v has no horizon counterpart", minEl, i, p.MaxElevationTime)
			}
		}
		// Passes well clear of the threshold must all be found.
		for _, p := range horizon {
			if p.MaxElevation >= minEl+1 && !near(got, p.MaxElevationTime) {
				t.Errorf("min elevation %.0f missed the %.1f deg pass at %v", minEl, p.MaxElevation, p.MaxElevationTime)
			}
			if p.MaxElevation < minEl-1 && near(got, p.MaxElevationTime) {
				t.Errorf("min elevation %.0f kept the %.1f deg pass at %v", minEl, p.MaxElevation, p.MaxElevationTime)
			}
		}
	}
}

func TestPredictCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	results := Predict(ctx, issRequest(nycObserver, 24, 0, 10))
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestPredictInvalidTLE(t *testing.T) {
	badEntry := tle.Entry{
		CatalogNumber: 99999,
		Name:          "BAD SAT",
		Line1:   "1 99999U 00000A   25045.00000000  .00000000  00000+0  00000+0 0  0000",
		Line2:   "2 99999   0.0000   0.0000 0000000   0.0000   0.0000  0.00000000 0000",
	}

	req := issRequest(nycObserver, 24, 0, 10)
	req.Entries = append(req.Entries, badEntry)

	results := Predict(context.Background(), req)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	// ISS should succeed.
	if results[0].Error != "" {
		t.Errorf("ISS should succeed, got error: %s", results[0].Error)
	}
	// Bad satellite should report per-satellite error.
	if results[1].Error == "" {
		t.Error("bad TLE should report error")
	}
}

const meanEarthKm = 6371.0

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	h := math.Pow(math.Sin(dLat/2), 2) + math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Pow(math.Sin(dLon/2), 2)
	return 2 * meanEarthKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// maxGroundDistKm is the surface distance to the edge of the footprint seen
// at elevation elevDeg from altitude altKm: acos(R cos e / (R+h)) - e.
func maxGroundDistKm(elevDeg, altKm float64) float64 {
	e := elevDeg * math.Pi / 180
	central := math.Acos(math.Min(1, meanEarthKm*math.Cos(e)/(meanEarthKm+altKm))) - e
	return meanEarthKm * math.Max(0, central)
}

// TestGroundTrackPhysicalConsistency checks that each sub-satellite point
// lies within the footprint allowed by its elevation and altitude.
func TestGroundTrackPhysicalConsistency(t *testing.T) {
	const obsLat, obsLon = 27.5867, -82.4251

	req := issRequest(parrishFLObserver, 24, 0, 20)
	req.Start = time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC)
	sat := Predict(context.Background(), req)[0]
	if sat.Error != "" || len(sat.Passes) == 0 {
		t.Fatalf("passes = %d, error %q", len(sat.Passes), sat.Error)
	}

	for pi, p := range sat.Passes {
		for gi, gt := range p.GroundTrack {
			dist := haversineKm(obsLat, obsLon, gt.Latitude, gt.Longitude)
			limit := maxGroundDistKm(gt.Elevation, gt.AltitudeKm)
			if limit > 0 && dist > limit*1.5 {
				t.Errorf("pass %d point %d: %.0f km from observer, footprint allows %.0f km (el %.1f, alt %.0f km)",
					pi, gi, dist, limit, gt.Elevation, gt.AltitudeKm)
			}
		}
	}
}

func BenchmarkPredict100Sats24h(b *testing.B) {
	// 100 copies of the ISS element set under different catalog numbers.
	entries := make([]tle.Entry, 100)
	for i := range entries {
		entries[i] = issTLE
		entries[i].CatalogNumber = 25544 + i
	}

	req := issRequest(nycObserver, 24, 10, 10)
	req.Entries = entries

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Predict(context.Background(), req)
	}
}

func TestForSatelliteMatchesPredict(t *testing.T) {
	sat, err := sgp4.FromTLE(issTLE.Line1, issTLE.Line2)
	if err != nil {
		t.Fatalf("FromTLE: %v", err)
	}

	req := Request{
		Observer:     nycObserver,
		Start:        issStart,
		HorizonHours: 12,
		MinElevation: 0,
		MaxPasses:    10,
	}
	direct := ForSatellite(context.Background(), sat, req)

	req.Entries = []tle.Entry{issTLE}
	viaPredict := Predict(context.Background(), req)[0].Passes

	if len(direct) != len(viaPredict) {
		t.Fatalf("ForSatellite found %d passes, Predict found %d", len(direct), len(viaPredict))
	}
	for i := range direct {
		if !direct[i].StartTime.Equal(viaPredict[i].StartTime) || direct[i].MaxElevation != viaPredict[i].MaxElevation {
			t.Errorf("pass %d differs: %+v vs %+v", i, direct[i].StartTime, viaPredict[i].StartTime)
		}
	}
}

func TestCulminationMatchesLookAngles(t *testing.T) {
	sat, err := sgp4.FromTLE(issTLE.Line1, issTLE.Line2)
	if err != nil {
		t.Fatalf("FromTLE: %v", err)
	}
	passes := ForSatellite(context.Background(), sat, Request{
		Observer:     nycObserver,
		Start:        issStart,
		HorizonHours: 24,
		MaxPasses:    3,
	})
	if len(passes) == 0 {
		t.Fatal("expected at least one pass")
	}

	for i, p := range passes {
		pos, err := sat.Propagate(p.MaxElevationTime)
		if err != nil {
			t.Fatalf("Propagate: %v", err)
		}
		la := transform.LookAnglesFromTEME(pos, p.MaxElevationTime, nycObserver)
		if la.ElevationDeg != p.MaxElevation || la.AzimuthDeg != p.AzimuthAtMax || la.RangeKm != p.RangeAtMaxKm {
			t.Errorf("pass %d: culmination %+v does not match look angles %+v", i, p, la)
		}
		if p.RangeAtMaxKm < 400 || p.RangeAtMaxKm > 2500 {
			t.Errorf("pass %d: range at max %.0f km implausible for ISS", i, p.RangeAtMaxKm)
		}
	}
}

func TestPredictMaxPasses(t *testing.T) {
	results := Predict(context.Background(), issRequest(nycObserver, 48, 0, 1))
	if n := len(results[0].Passes); n != 1 {
		t.Errorf("got %d passes, want 1", n)
	}
}
