package transform

import (
	"math"
	"time"
)

// j2000 is the Julian Date of the J2000.0 epoch (January 1, 2000, 12:00:00 TT).
const j2000 = 2451545.0

// OmegaEarth is Earth's rotation rate in rad/s (IAU value).
const OmegaEarth = 7.292115146706979e-5

// JDay converts a UTC time to a Julian Date split into a whole part ending in
// .5 (midnight) and the fraction of the day, nanoseconds included.
// Keeping the two parts apart preserves sub-millisecond precision that a
// single float64 near 2.45e6 would lose.
func JDay(t time.Time) (jd, fr float64) {
	t = t.UTC()
	sec := float64(t.Second()) + float64(t.Nanosecond())/1e9
	return JDayParts(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), sec)
}

// JDayParts is JDay for calendar fields (Vallado's jday), valid 1900-2100.
func JDayParts(year, mon, day, hr, minute int, sec float64) (jd, fr float64) {
	y := float64(year)
	m := float64(mon)
	jd = 367.0*y -
		math.Floor((7*(y+math.Floor((m+9)/12.0)))*0.25) +
		math.Floor(275*m/9.0) +
		float64(day) + 1721013.5
	fr = (sec + float64(minute)*60.0 + float64(hr)*3600.0) / 86400.0
	return jd, fr
}

// JulianDate converts a time.Time (UTC) to a single Julian Date.
func JulianDate(t time.Time) float64 {
	jd, fr := JDay(t)
	return jd + fr
}

// GSTime returns Greenwich Mean Sidereal Time in radians [0, 2π) for a UT1
// Julian Date, using the IAU-82 model (Vallado Eq 3-47):
//
//	θ_GMST = 67310.54841 + (876600h + 8640184.812866)*T + 0.093104*T² - 6.2e-6*T³
//
// where T is Julian centuries of UT1 from J2000.0 and θ is in seconds of time.
func GSTime(jdut1 float64) float64 {
	tut1 := (jdut1 - j2000) / 36525.0
	temp := -6.2e-6*tut1*tut1*tut1 +
		0.093104*tut1*tut1 +
		(876600.0*3600+8640184.812866)*tut1 +
		67310.54841

	// Seconds of time to radians: 360°/86400s = 1/240 °/s.
	temp = math.Mod(temp*math.Pi/180/240.0, 2*math.Pi)
	if temp < 0 {
		temp += 2 * math.Pi
	}
	return temp
}

// GMST calculates Greenwich Mean Sidereal Time in radians for a UTC time.
// UT1-UTC is ignored.
func GMST(t time.Time) float64 {
	jd, fr := JDay(t)
	return GSTime(jd + fr)
}
