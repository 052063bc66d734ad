// Package transform provides the time systems and frame rotations between an
// SGP4 state vector and a ground observer's look angles.
//
// TEME (True Equator Mean Equinox) to ECEF (Earth-Centered Earth-Fixed) is a
// single rotation about the pole by GMST (TEME → PEF ≈ ECEF). Polar motion and
// the equation of the equinoxes are ignored, which costs tens of meters at
// most. All distances are kilometers.
//
// Reference: Vallado, "Fundamentals of Astrodynamics and Applications", Ch. 3-4.
package transform

import (
	"math"
	"time"
)

// PositionTEME is a satellite state vector in the TEME frame.
type PositionTEME struct {
	X, Y, Z    float64 // km
	VX, VY, VZ float64 // km/s
}

// PositionECEF is a state vector in the Earth-fixed frame.
type PositionECEF struct {
	X, Y, Z    float64 // km
	VX, VY, VZ float64 // km/s
}

// TEMEToECEF transforms a TEME position/velocity to ECEF at the given UTC time.
func TEMEToECEF(teme PositionTEME, t time.Time) PositionECEF {
	return TEMEToECEFWithGMST(teme, GMST(t))
}

// TEMEToECEFWithGMST transforms TEME to ECEF using a precomputed GMST angle (radians).
//
// Position transform: r_ECEF = R3(θ) * r_TEME
// Velocity transform: v_ECEF = R3(θ) * v_TEME - ω × r_ECEF
func TEMEToECEFWithGMST(teme PositionTEME, gmst float64) PositionECEF {
	cosG := math.Cos(gmst)
	sinG := math.Sin(gmst)

	x := teme.X*cosG + teme.Y*sinG
	y := -teme.X*sinG + teme.Y*cosG
	z := teme.Z

	// ω × r_ECEF = [-ω*y, ω*x, 0]
	vx := teme.VX*cosG + teme.VY*sinG + OmegaEarth*y
	vy := -teme.VX*sinG + teme.VY*cosG - OmegaEarth*x
	vz := teme.VZ

	return PositionECEF{X: x, Y: y, Z: z, VX: vx, VY: vy, VZ: vz}
}

// ValidateECEF checks that an ECEF position is physically reasonable for an
// Earth-orbiting satellite: finite, and between 6200 km and 50000 km from
// the geocenter.
func ValidateECEF(pos PositionECEF) bool {
	for _, v := range [...]float64{pos.X, pos.Y, pos.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	const (
		minRadius = 6200.0
		maxRadius = 50000.0
	)
	mag := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	return mag >= minRadius && mag <= maxRadius
}
