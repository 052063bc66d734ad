package transform

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378.137              // semi-major axis (km)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// minHorizontalKm is the horizontal line-of-sight length below which the
// azimuth is undefined and reported as 0.
const minHorizontalKm = 1e-9

// ErrInvalidObserver is wrapped by Observer.Validate failures.
var ErrInvalidObserver = errors.New("invalid observer location")

// Observer is a fixed ground location. Build it with NewObserver so the
// Earth-fixed position and the trigonometric terms of the local basis are
// computed once and reused for every lookup.
type Observer struct {
	LatDeg float64 // geodetic, north positive
	LonDeg float64 // east positive
	AltKm  float64 // above the WGS-84 ellipsoid

	x, y, z                        float64 // ECEF km
	sinLat, cosLat, sinLon, cosLon float64
}

// LookAngles holds azimuth, elevation, and range from observer to satellite.
type LookAngles struct {
	AzimuthDeg   float64 // [0, 360), 0 = North, clockwise
	ElevationDeg float64 // [-90, 90], 0 = horizon, 90 = zenith
	RangeKm      float64
}

// NewObserver creates an Observer from geodetic coordinates in degrees and
// altitude in kilometers. It does not validate; see Validate.
func NewObserver(latDeg, lonDeg, altKm float64) Observer {
	lat := latDeg * math.Pi / 180.0
	lon := lonDeg * math.Pi / 180.0

	o := Observer{
		LatDeg: latDeg,
		LonDeg: lonDeg,
		AltKm:  altKm,
		sinLat: math.Sin(lat),
		cosLat: math.Cos(lat),
		sinLon: math.Sin(lon),
		cosLon: math.Cos(lon),
	}

	// Radius of curvature in the prime vertical.
	N := wgs84A / math.Sqrt(1-wgs84E2*o.sinLat*o.sinLat)

	o.x = (N + altKm) * o.cosLat * o.cosLon
	o.y = (N + altKm) * o.cosLat * o.sinLon
	o.z = (N*(1-wgs84E2) + altKm) * o.sinLat
	return o
}

// Validate rejects non-finite values, latitudes outside [-90, 90] and
// longitudes outside [-180, 360).
func (o Observer) Validate() error {
	fields := [...]struct {
		name string
		v    float64
	}{{"latitude", o.LatDeg}, {"longitude", o.LonDeg}, {"altitude", o.AltKm}}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidObserver, f.name)
		}
	}
	if o.LatDeg < -90 || o.LatDeg > 90 {
		return fmt.Errorf("%w: latitude %v outside [-90, 90]", ErrInvalidObserver, o.LatDeg)
	}
	if o.LonDeg < -180 || o.LonDeg >= 360 {
		return fmt.Errorf("%w: longitude %v outside [-180, 360)", ErrInvalidObserver, o.LonDeg)
	}
	return nil
}

// ECEF returns the observer's Earth-fixed position in km.
func (o Observer) ECEF() (x, y, z float64) {
	return o.x, o.y, o.z
}

// GeodeticPoint holds a geodetic position.
type GeodeticPoint struct {
	LatDeg, LonDeg, AltKm float64
}

// ECEFToGeodetic converts ECEF coordinates (km) to geodetic coordinates
// using the iterative Bowring method. Converges in 2-3 iterations for Earth orbits.
func ECEFToGeodetic(x, y, z float64) GeodeticPoint {
	lon := math.Atan2(y, x)
	p := math.Sqrt(x*x + y*y)

	lat := math.Atan2(z, p*(1-wgs84E2))
	for i := 0; i < 5; i++ {
		sinLat := math.Sin(lat)
		N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		lat = math.Atan2(z+wgs84E2*N*sinLat, p)
	}

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - N
	} else {
		alt = math.Abs(z)/math.Abs(sinLat) - N*(1-wgs84E2)
	}

	return GeodeticPoint{
		LatDeg: lat * 180.0 / math.Pi,
		LonDeg: lon * 180.0 / math.Pi,
		AltKm:  alt,
	}
}

// ECEFToLookAngles computes azimuth, elevation, and range from an observer
// to a satellite given in ECEF km.
//
// Uses the SEZ (South-East-Zenith) topocentric rotation per Vallado Section 4.4.
// A target with no horizontal offset gets azimuth 0; a target at the
// observer's own position gets azimuth 0 and elevation 90.
func ECEFToLookAngles(obs Observer, satX, satY, satZ float64) LookAngles {
	rx := satX - obs.x
	ry := satY - obs.y
	rz := satZ - obs.z

	south := obs.sinLat*obs.cosLon*rx + obs.sinLat*obs.sinLon*ry - obs.cosLat*rz
	east := -obs.sinLon*rx + obs.cosLon*ry
	zenith := obs.cosLat*obs.cosLon*rx + obs.cosLat*obs.sinLon*ry + obs.sinLat*rz

	rangeKm := math.Sqrt(south*south + east*east + zenith*zenith)
	if rangeKm == 0 {
		return LookAngles{AzimuthDeg: 0, ElevationDeg: 90}
	}

	el := math.Asin(math.Max(-1, math.Min(1, zenith/rangeKm)))

	// North is -South, so az = atan2(east, -south).
	var azDeg float64
	if math.Hypot(south, east) >= minHorizontalKm {
		az := math.Atan2(east, -south)
		if az < 0 {
			az += 2 * math.Pi
		}
		azDeg = az * 180.0 / math.Pi
		if azDeg >= 360 {
			azDeg = 0
		}
	}

	return LookAngles{
		AzimuthDeg:   azDeg,
		ElevationDeg: el * 180.0 / math.Pi,
		RangeKm:      rangeKm,
	}
}

// LookAnglesFromTEME rotates a TEME position into the Earth-fixed frame at t
// and returns the observer's look angles to it.
func LookAnglesFromTEME(pos PositionTEME, t time.Time, obs Observer) LookAngles {
	ecef := TEMEToECEF(pos, t)
	return ECEFToLookAngles(obs, ecef.X, ecef.Y, ecef.Z)
}
