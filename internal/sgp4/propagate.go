package sgp4

import (
	"math"
	"time"

	"github.com/star/azeltrack/internal/transform"
)

const (
	keplerMaxIter   = 10
	keplerTol       = 1.0e-12
	keplerFailTol   = 1.0e-9
	keplerStepClamp = 0.95
)

// Propagate returns the TEME state vector at t.
func (s *Satellite) Propagate(t time.Time) (transform.PositionTEME, error) {
	jd, fr := transform.JDay(t)
	return s.PropagateJD(jd, fr)
}

// PropagateJD returns the TEME state vector at the split Julian date jd+fr.
func (s *Satellite) PropagateJD(jd, fr float64) (transform.PositionTEME, error) {
	return s.PropagateMinutes(s.MinutesSinceEpoch(jd, fr))
}

// MinutesSinceEpoch converts a split Julian date to minutes from the element epoch.
func (s *Satellite) MinutesSinceEpoch(jd, fr float64) float64 {
	return ((jd - s.jdEpoch) + (fr - s.frEpoch)) * 1440.0
}

// PropagateMinutes returns the TEME state vector tsince minutes after the
// element epoch (negative values propagate backwards). On failure the
// returned position is the zero value and err is a *PropagationError.
func (s *Satellite) PropagateMinutes(tsince float64) (transform.PositionTEME, error) {
	c := s.c
	t := tsince
	vkmpersec := c.radiusEarthKm * c.xke / 60.0

	// Secular gravity and drag.
	xmdf := s.mo + s.mdot*t
	argpdf := s.argpo + s.argpdot*t
	nodedf := s.nodeo + s.nodedot*t
	argpm := argpdf
	mm := xmdf
	t2 := t * t
	nodem := nodedf + s.nodecf*t2
	tempa := 1.0 - s.cc1*t
	tempe := s.bstar * s.cc4 * t
	templ := s.t2cof * t2

	if !s.isimp {
		delomg := s.omgcof * t
		delm := s.xmcof * (math.Pow(1.0+s.eta*math.Cos(xmdf), 3) - s.delmo)
		temp := delomg + delm
		mm = xmdf + temp
		argpm = argpdf - temp
		t3 := t2 * t
		t4 := t3 * t
		tempa = tempa - s.d2*t2 - s.d3*t3 - s.d4*t4
		tempe += s.bstar * s.cc5 * (math.Sin(mm) - s.sinmao)
		templ += s.t3cof*t3 + t4*(s.t4cof+t*s.t5cof)
	}

	nm := s.noUnkozai
	em := s.ecco
	inclm := s.inclo
	if s.deep {
		em, argpm, inclm, mm, nodem, nm = s.ds.dspace(s, t, em, argpm, inclm, mm, nodem)
	}

	if nm <= 0.0 {
		return transform.PositionTEME{}, propagationError(codeMeanMotion, tsince)
	}
	am := math.Pow(c.xke/nm, x2o3) * tempa * tempa
	nm = c.xke / math.Pow(am, 1.5)
	em -= tempe

	if em >= 1.0 || em < -0.001 {
		return transform.PositionTEME{}, propagationError(codeMeanEccentricity, tsince)
	}
	if em < 1.0e-6 {
		em = 1.0e-6
	}
	mm += s.noUnkozai * templ
	xlm := mm + argpm + nodem

	nodem = math.Mod(nodem, twoPi)
	argpm = math.Mod(argpm, twoPi)
	xlm = math.Mod(xlm, twoPi)
	mm = math.Mod(xlm-argpm-nodem, twoPi)

	sinim := math.Sin(inclm)
	cosim := math.Cos(inclm)

	// Lunar/solar periodics.
	ep := em
	xincp := inclm
	argpp := argpm
	nodep := nodem
	mp := mm
	sinip := sinim
	cosip := cosim
	aycof := s.aycof
	xlcof := s.xlcof
	con41 := s.con41
	x1mth2 := s.x1mth2
	x7thm1 := s.x7thm1

	if s.deep {
		ep, xincp, nodep, argpp, mp = s.ds.dpper(t, ep, xincp, nodep, argpp, mp)
		if xincp < 0.0 {
			xincp = -xincp
			nodep += math.Pi
			argpp -= math.Pi
		}
		if ep < 0.0 || ep > 1.0 {
			return transform.PositionTEME{}, propagationError(codePertEccentricity, tsince)
		}
		sinip = math.Sin(xincp)
		cosip = math.Cos(xincp)
		aycof = -0.5 * c.j3oj2 * sinip
		xlcof = longPeriodCoef(c.j3oj2, sinip, cosip)
	}

	// Long period periodics.
	axnl := ep * math.Cos(argpp)
	temp := 1.0 / (am * (1.0 - ep*ep))
	aynl := ep*math.Sin(argpp) + temp*aycof
	xl := mp + argpp + nodep + temp*xlcof*axnl

	// Kepler's equation.
	u := math.Mod(xl-nodep, twoPi)
	eo1 := u
	tem5 := 9999.9
	var sineo1, coseo1 float64
	for ktr := 1; math.Abs(tem5) >= keplerTol && ktr <= keplerMaxIter; ktr++ {
		sineo1 = math.Sin(eo1)
		coseo1 = math.Cos(eo1)
		tem5 = 1.0 - coseo1*axnl - sineo1*aynl
		tem5 = (u - aynl*coseo1 + axnl*sineo1 - eo1) / tem5
		if math.Abs(tem5) >= keplerStepClamp {
			tem5 = math.Copysign(keplerStepClamp, tem5)
		}
		eo1 += tem5
	}
	if math.Abs(tem5) > keplerFailTol || math.IsNaN(tem5) {
		return transform.PositionTEME{}, propagationError(codeKepler, tsince)
	}

	// Short period preliminary quantities.
	ecose := axnl*coseo1 + aynl*sineo1
	esine := axnl*sineo1 - aynl*coseo1
	el2 := axnl*axnl + aynl*aynl
	pl := am * (1.0 - el2)
	if pl < 0.0 {
		return transform.PositionTEME{}, propagationError(codeSemiLatus, tsince)
	}

	rl := am * (1.0 - ecose)
	rdotl := math.Sqrt(am) * esine / rl
	rvdotl := math.Sqrt(pl) / rl
	betal := math.Sqrt(1.0 - el2)
	temp = esine / (1.0 + betal)
	sinu := am / rl * (sineo1 - aynl - axnl*temp)
	cosu := am / rl * (coseo1 - axnl + aynl*temp)
	su := math.Atan2(sinu, cosu)
	sin2u := (cosu + cosu) * sinu
	cos2u := 1.0 - 2.0*sinu*sinu
	temp = 1.0 / pl
	temp1 := 0.5 * c.j2 * temp
	temp2 := temp1 * temp

	if s.deep {
		cosisq := cosip * cosip
		con41 = 3.0*cosisq - 1.0
		x1mth2 = 1.0 - cosisq
		x7thm1 = 7.0*cosisq - 1.0
	}

	// Short period periodics.
	mrt := rl*(1.0-1.5*temp2*betal*con41) + 0.5*temp1*x1mth2*cos2u
	su -= 0.25 * temp2 * x7thm1 * sin2u
	xnode := nodep + 1.5*temp2*cosip*sin2u
	xinc := xincp + 1.5*temp2*cosip*sinip*cos2u
	mvt := rdotl - nm*temp1*x1mth2*sin2u/c.xke
	rvdot := rvdotl + nm*temp1*(x1mth2*cos2u+1.5*con41)/c.xke

	// Orientation vectors.
	sinsu := math.Sin(su)
	cossu := math.Cos(su)
	snod := math.Sin(xnode)
	cnod := math.Cos(xnode)
	sini := math.Sin(xinc)
	cosi := math.Cos(xinc)
	xmx := -snod * cosi
	xmy := cnod * cosi
	ux := xmx*sinsu + cnod*cossu
	uy := xmy*sinsu + snod*cossu
	uz := sini * sinsu
	vx := xmx*cossu - cnod*sinsu
	vy := xmy*cossu - snod*sinsu
	vz := sini * cossu

	if mrt < 1.0 {
		return transform.PositionTEME{}, propagationError(codeDecayed, tsince)
	}

	re := c.radiusEarthKm
	return transform.PositionTEME{
		X:  mrt * ux * re,
		Y:  mrt * uy * re,
		Z:  mrt * uz * re,
		VX: (mvt*ux + rvdot*vx) * vkmpersec,
		VY: (mvt*uy + rvdot*vy) * vkmpersec,
		VZ: (mvt*uz + rvdot*vz) * vkmpersec,
	}, nil
}
