package sgp4

import (
	"math"

	"github.com/star/azeltrack/internal/transform"
)

const (
	twoPi = 2 * math.Pi
	x2o3  = 2.0 / 3.0

	// jdSGP4Epoch is 1949 December 31 00:00 UT, the origin of SGP4's epoch day count.
	jdSGP4Epoch = 2433281.5

	// deepSpacePeriodMin is the orbital period at or above which the
	// lunar/solar (SDP4) terms are applied.
	deepSpacePeriodMin = 225.0
)

// Satellite is an element set with its SGP4/SDP4 propagation constants
// derived once at construction. It is never modified afterwards, so a single
// Satellite may be propagated from many goroutines.
type Satellite struct {
	elements Elements
	gravity  Gravity
	c        gravConsts

	jdEpoch, frEpoch float64

	// Mean elements at epoch, radians and radians/minute.
	ecco, argpo, inclo, mo, nodeo float64
	noKozai, noUnkozai            float64
	bstar                         float64

	isimp bool // perigee below 220 km, simplified drag
	deep  bool

	aycof, con41, cc1, cc4, cc5   float64
	d2, d3, d4, delmo, eta        float64
	argpdot, omgcof, sinmao       float64
	t2cof, t3cof, t4cof, t5cof    float64
	x1mth2, x7thm1, mdot, nodedot float64
	xlcof, xmcof, nodecf          float64
	gsto                          float64

	ds *deepSpace
}

// Option configures NewSatellite.
type Option func(*Satellite)

// WithGravity selects the gravity model. The default is WGS72.
func WithGravity(g Gravity) Option {
	return func(s *Satellite) { s.gravity = g }
}

// FromTLE parses a TLE line pair and initializes a Satellite from it.
func FromTLE(line1, line2 string, opts ...Option) (*Satellite, error) {
	el, err := ParseElements(line1, line2)
	if err != nil {
		return nil, err
	}
	return NewSatellite(el, opts...)
}

// NewSatellite validates the elements and derives the propagation constants.
// Elements that cannot be propagated even at their own epoch are rejected
// with an *InvalidElementsError.
func NewSatellite(el Elements, opts ...Option) (*Satellite, error) {
	if err := el.Validate(); err != nil {
		return nil, err
	}

	s := &Satellite{elements: el, gravity: WGS72}
	for _, opt := range opts {
		opt(s)
	}
	s.c = s.gravity.constants()
	s.jdEpoch, s.frEpoch = el.EpochJD()

	const deg2rad = math.Pi / 180.0
	const xpdotp = 1440.0 / twoPi // rev/day per rad/min

	s.bstar = el.BStar
	s.ecco = el.Eccentricity
	s.inclo = el.InclinationDeg * deg2rad
	s.nodeo = el.RAANDeg * deg2rad
	s.argpo = el.ArgPerigeeDeg * deg2rad
	s.mo = el.MeanAnomalyDeg * deg2rad
	s.noKozai = el.MeanMotion / xpdotp

	s.init()

	if _, err := s.PropagateMinutes(0); err != nil {
		return nil, invalid("elements", "cannot propagate at epoch: %v", err)
	}
	return s, nil
}

// Elements returns the element set the satellite was built from.
func (s *Satellite) Elements() Elements { return s.elements }

// Gravity returns the gravity model in use.
func (s *Satellite) Gravity() Gravity { return s.gravity }

// DeepSpace reports whether the SDP4 lunar/solar terms are applied.
func (s *Satellite) DeepSpace() bool { return s.deep }

// init is Vallado's initl + sgp4init.
func (s *Satellite) init() {
	c := s.c
	epoch := (s.jdEpoch + s.frEpoch) - jdSGP4Epoch

	ss := 78.0/c.radiusEarthKm + 1.0
	qzms2t := math.Pow((120.0-78.0)/c.radiusEarthKm, 4)

	eccsq := s.ecco * s.ecco
	omeosq := 1.0 - eccsq
	rteosq := math.Sqrt(omeosq)
	cosio := math.Cos(s.inclo)
	cosio2 := cosio * cosio

	// Un-Kozai the mean motion.
	ak := math.Pow(c.xke/s.noKozai, x2o3)
	d1 := 0.75 * c.j2 * (3.0*cosio2 - 1.0) / (rteosq * omeosq)
	del := d1 / (ak * ak)
	adel := ak * (1.0 - del*del - del*(1.0/3.0+134.0*del*del/81.0))
	del = d1 / (adel * adel)
	s.noUnkozai = s.noKozai / (1.0 + del)

	ao := math.Pow(c.xke/s.noUnkozai, x2o3)
	sinio := math.Sin(s.inclo)
	po := ao * omeosq
	con42 := 1.0 - 5.0*cosio2
	s.con41 = -con42 - cosio2 - cosio2
	posq := po * po
	rp := ao * (1.0 - s.ecco)

	s.gsto = transform.GSTime(epoch + jdSGP4Epoch)

	s.isimp = rp < (220.0/c.radiusEarthKm + 1.0)

	sfour := ss
	qzms24 := qzms2t
	perige := (rp - 1.0) * c.radiusEarthKm

	// Adjust the atmosphere density parameter for low perigees.
	if perige < 156.0 {
		sfour = perige - 78.0
		if perige < 98.0 {
			sfour = 20.0
		}
		qzms24 = math.Pow((120.0-sfour)/c.radiusEarthKm, 4)
		sfour = sfour/c.radiusEarthKm + 1.0
	}

	pinvsq := 1.0 / posq
	tsi := 1.0 / (ao - sfour)
	s.eta = ao * s.ecco * tsi
	etasq := s.eta * s.eta
	eeta := s.ecco * s.eta
	psisq := math.Abs(1.0 - etasq)
	coef := qzms24 * math.Pow(tsi, 4)
	coef1 := coef / math.Pow(psisq, 3.5)
	cc2 := coef1 * s.noUnkozai * (ao*(1.0+1.5*etasq+eeta*(4.0+etasq)) +
		0.375*c.j2*tsi/psisq*s.con41*(8.0+3.0*etasq*(8.0+etasq)))
	s.cc1 = s.bstar * cc2

	cc3 := 0.0
	if s.ecco > 1.0e-4 {
		cc3 = -2.0 * coef * tsi * c.j3oj2 * s.noUnkozai * sinio / s.ecco
	}
	s.x1mth2 = 1.0 - cosio2
	s.cc4 = 2.0 * s.noUnkozai * coef1 * ao * omeosq *
		(s.eta*(2.0+0.5*etasq) + s.ecco*(0.5+2.0*etasq) -
			c.j2*tsi/(ao*psisq)*
				(-3.0*s.con41*(1.0-2.0*eeta+etasq*(1.5-0.5*eeta))+
					0.75*s.x1mth2*(2.0*etasq-eeta*(1.0+etasq))*math.Cos(2.0*s.argpo)))
	s.cc5 = 2.0 * coef1 * ao * omeosq * (1.0 + 2.75*(etasq+eeta) + eeta*etasq)

	cosio4 := cosio2 * cosio2
	temp1 := 1.5 * c.j2 * pinvsq * s.noUnkozai
	temp2 := 0.5 * temp1 * c.j2 * pinvsq
	temp3 := -0.46875 * c.j4 * pinvsq * pinvsq * s.noUnkozai
	s.mdot = s.noUnkozai + 0.5*temp1*rteosq*s.con41 +
		0.0625*temp2*rteosq*(13.0-78.0*cosio2+137.0*cosio4)
	s.argpdot = -0.5*temp1*con42 + 0.0625*temp2*(7.0-114.0*cosio2+395.0*cosio4) +
		temp3*(3.0-36.0*cosio2+49.0*cosio4)
	xhdot1 := -temp1 * cosio
	s.nodedot = xhdot1 + (0.5*temp2*(4.0-19.0*cosio2)+2.0*temp3*(3.0-7.0*cosio2))*cosio
	xpidot := s.argpdot + s.nodedot

	s.omgcof = s.bstar * cc3 * math.Cos(s.argpo)
	if s.ecco > 1.0e-4 {
		s.xmcof = -x2o3 * coef * s.bstar / eeta
	}
	s.nodecf = 3.5 * omeosq * xhdot1 * s.cc1
	s.t2cof = 1.5 * s.cc1
	s.xlcof = longPeriodCoef(c.j3oj2, sinio, cosio)
	s.aycof = -0.5 * c.j3oj2 * sinio
	s.delmo = math.Pow(1.0+s.eta*math.Cos(s.mo), 3)
	s.sinmao = math.Sin(s.mo)
	s.x7thm1 = 7.0*cosio2 - 1.0

	if twoPi/s.noUnkozai >= deepSpacePeriodMin {
		s.deep = true
		s.isimp = true
		s.ds = newDeepSpace(s, epoch, xpidot)
	}

	if !s.isimp {
		cc1sq := s.cc1 * s.cc1
		s.d2 = 4.0 * ao * tsi * cc1sq
		temp := s.d2 * tsi * s.cc1 / 3.0
		s.d3 = (17.0*ao + sfour) * temp
		s.d4 = 0.5 * temp * ao * tsi * (221.0*ao + 31.0*sfour) * s.cc1
		s.t3cof = s.d2 + 2.0*cc1sq
		s.t4cof = 0.25 * (3.0*s.d3 + s.cc1*(12.0*s.d2+10.0*cc1sq))
		s.t5cof = 0.2 * (3.0*s.d4 + 12.0*s.cc1*s.d3 + 6.0*s.d2*s.d2 +
			15.0*cc1sq*(2.0*s.d2+cc1sq))
	}
}

// longPeriodCoef guards the (1 + cos i) divisor for retrograde equatorial orbits.
func longPeriodCoef(j3oj2, sini, cosi float64) float64 {
	den := 1.0 + cosi
	if math.Abs(den) <= 1.5e-12 {
		den = 1.5e-12
	}
	return -0.25 * j3oj2 * sini * (3.0 + 5.0*cosi) / den
}
