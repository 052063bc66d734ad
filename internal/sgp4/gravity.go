package sgp4

import (
	"fmt"
	"math"
	"strings"
)

// Gravity selects the set of geopotential constants used to initialize and
// propagate a satellite. Element sets published by NORAD/CelesTrak are fitted
// against WGS-72, which is therefore the default. Mixing models between
// initialization and propagation is not possible: the constants are captured
// in the Satellite at construction.
type Gravity int

const (
	WGS72 Gravity = iota
	WGS72Old
	WGS84
)

func (g Gravity) String() string {
	switch g {
	case WGS72:
		return "wgs72"
	case WGS72Old:
		return "wgs72old"
	case WGS84:
		return "wgs84"
	default:
		return "unknown"
	}
}

// gravConsts holds the derived constants for one gravity model.
type gravConsts struct {
	tumin         float64 // minutes in one time unit
	mu            float64 // km^3/s^2
	radiusEarthKm float64
	xke           float64 // sqrt(GM) in earth radii^1.5 per minute
	j2, j3, j4    float64
	j3oj2         float64
}

func (g Gravity) constants() gravConsts {
	var c gravConsts
	switch g {
	case WGS72Old:
		c.mu = 398600.79964
		c.radiusEarthKm = 6378.135
		c.xke = 0.0743669161
		c.j2 = 0.001082616
		c.j3 = -0.00000253881
		c.j4 = -0.00000165597
	case WGS84:
		c.mu = 398600.5
		c.radiusEarthKm = 6378.137
		c.xke = 60.0 / math.Sqrt(c.radiusEarthKm*c.radiusEarthKm*c.radiusEarthKm/c.mu)
		c.j2 = 0.00108262998905
		c.j3 = -0.00000253215306
		c.j4 = -0.00000161098761
	default:
		c.mu = 398600.8
		c.radiusEarthKm = 6378.135
		c.xke = 60.0 / math.Sqrt(c.radiusEarthKm*c.radiusEarthKm*c.radiusEarthKm/c.mu)
		c.j2 = 0.001082616
		c.j3 = -0.00000253881
		c.j4 = -0.00000165597
	}
	c.tumin = 1.0 / c.xke
	c.j3oj2 = c.j3 / c.j2
	return c
}

// ParseGravity maps a model name as returned by String back to a Gravity.
func ParseGravity(name string) (Gravity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "wgs72", "":
		return WGS72, nil
	case "wgs72old":
		return WGS72Old, nil
	case "wgs84":
		return WGS84, nil
	default:
		return WGS72, fmt.Errorf("unknown gravity model %q (want wgs72, wgs72old or wgs84)", name)
	}
}
