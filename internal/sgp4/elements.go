package sgp4

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/star/azeltrack/internal/transform"
)

// tleLineLen is the fixed width of a TLE line including the checksum digit.
const tleLineLen = 69

// Elements holds the fields decoded from a two-line element set, in the
// units they are published in. Derived propagation constants live in
// Satellite, not here.
type Elements struct {
	CatalogNumber    int
	Classification   string
	IntlDesignator   string
	EpochYear        int     // four-digit year
	EpochDay         float64 // day of year, 1.0 = Jan 1 00:00 UTC
	MeanMotionDot    float64 // first derivative of mean motion / 2, rev/day²
	MeanMotionDDot   float64 // second derivative of mean motion / 6, rev/day³
	BStar            float64 // drag term, 1/earth radii
	EphemerisType    int
	ElementSetNumber int
	InclinationDeg   float64
	RAANDeg          float64
	Eccentricity     float64
	ArgPerigeeDeg    float64
	MeanAnomalyDeg   float64
	MeanMotion       float64 // rev/day
	RevNumber        int

	Line1, Line2 string
}

// EpochJD returns the element epoch as a split Julian date.
func (e Elements) EpochJD() (jd, fr float64) {
	dayOfYear := math.Floor(e.EpochDay)
	jd0, _ := transform.JDayParts(e.EpochYear, 1, 1, 0, 0, 0)
	return jd0 + dayOfYear - 1, e.EpochDay - dayOfYear
}

// Epoch returns the element epoch as a UTC time.
func (e Elements) Epoch() time.Time {
	start := time.Date(e.EpochYear, 1, 1, 0, 0, 0, 0, time.UTC)
	return start.Add(time.Duration((e.EpochDay - 1) * float64(24*time.Hour)))
}

// ParseElements decodes and validates a pair of TLE lines.
// Any rejection is an *InvalidElementsError wrapping ErrInvalidElements.
func ParseElements(line1, line2 string) (Elements, error) {
	line1 = strings.TrimRight(line1, "\r\n \t")
	line2 = strings.TrimRight(line2, "\r\n \t")

	if err := checkLine(line1, '1', "line1"); err != nil {
		return Elements{}, err
	}
	if err := checkLine(line2, '2', "line2"); err != nil {
		return Elements{}, err
	}

	var (
		el  = Elements{Line1: line1, Line2: line2}
		err error
	)

	// Line 1.
	if el.CatalogNumber, err = parseCatalog(line1[2:7]); err != nil {
		return Elements{}, invalid("catalog_number", "line1: %v", err)
	}
	el.Classification = strings.TrimSpace(line1[7:8])
	el.IntlDesignator = strings.TrimSpace(line1[9:17])

	yy, err := strconv.Atoi(strings.TrimSpace(line1[18:20]))
	if err != nil {
		return Elements{}, invalid("epoch_year", "%q is not a number", line1[18:20])
	}
	if yy < 57 {
		el.EpochYear = 2000 + yy
	} else {
		el.EpochYear = 1900 + yy
	}
	if el.EpochDay, err = parseFloatField(line1[20:32]); err != nil {
		return Elements{}, invalid("epoch_day", "%v", err)
	}
	if el.EpochDay < 1 || el.EpochDay >= 367 {
		return Elements{}, invalid("epoch_day", "%v outside [1, 367)", el.EpochDay)
	}
	if el.MeanMotionDot, err = parseFloatField(line1[33:43]); err != nil {
		return Elements{}, invalid("mean_motion_dot", "%v", err)
	}
	if el.MeanMotionDDot, err = parseImpliedDecimal(line1[44:52]); err != nil {
		return Elements{}, invalid("mean_motion_ddot", "%v", err)
	}
	if el.BStar, err = parseImpliedDecimal(line1[53:61]); err != nil {
		return Elements{}, invalid("bstar", "%v", err)
	}
	if el.EphemerisType, err = parseIntField(line1[62:63]); err != nil {
		return Elements{}, invalid("ephemeris_type", "%v", err)
	}
	if el.ElementSetNumber, err = parseIntField(line1[64:68]); err != nil {
		return Elements{}, invalid("element_set_number", "%v", err)
	}

	// Line 2.
	cat2, err := parseCatalog(line2[2:7])
	if err != nil {
		return Elements{}, invalid("catalog_number", "line2: %v", err)
	}
	if cat2 != el.CatalogNumber {
		return Elements{}, invalid("catalog_number", "line1 has %d, line2 has %d", el.CatalogNumber, cat2)
	}
	if el.InclinationDeg, err = parseFloatField(line2[8:16]); err != nil {
		return Elements{}, invalid("inclination", "%v", err)
	}
	if el.RAANDeg, err = parseFloatField(line2[17:25]); err != nil {
		return Elements{}, invalid("raan", "%v", err)
	}
	eccStr := strings.ReplaceAll(line2[26:33], " ", "0")
	if el.Eccentricity, err = strconv.ParseFloat("0."+eccStr, 64); err != nil {
		return Elements{}, invalid("eccentricity", "%q is not a number", line2[26:33])
	}
	if el.ArgPerigeeDeg, err = parseFloatField(line2[34:42]); err != nil {
		return Elements{}, invalid("arg_perigee", "%v", err)
	}
	if el.MeanAnomalyDeg, err = parseFloatField(line2[43:51]); err != nil {
		return Elements{}, invalid("mean_anomaly", "%v", err)
	}
	if el.MeanMotion, err = parseFloatField(line2[52:63]); err != nil {
		return Elements{}, invalid("mean_motion", "%v", err)
	}
	if el.RevNumber, err = parseIntField(line2[63:68]); err != nil {
		return Elements{}, invalid("rev_number", "%v", err)
	}

	if err := el.Validate(); err != nil {
		return Elements{}, err
	}
	return el, nil
}

// Validate checks the numeric ranges of decoded elements. It is called by
// ParseElements and again by NewSatellite for hand-built Elements.
func (e Elements) Validate() error {
	switch {
	case math.IsNaN(e.Eccentricity) || e.Eccentricity < 0 || e.Eccentricity >= 1:
		return invalid("eccentricity", "%v outside [0, 1)", e.Eccentricity)
	case !(e.MeanMotion > 0) || math.IsInf(e.MeanMotion, 0):
		return invalid("mean_motion", "%v must be positive", e.MeanMotion)
	case !inRange(e.InclinationDeg, 0, 180):
		return invalid("inclination", "%v outside [0, 180]", e.InclinationDeg)
	case !inRange(e.RAANDeg, 0, 360):
		return invalid("raan", "%v outside [0, 360]", e.RAANDeg)
	case !inRange(e.ArgPerigeeDeg, 0, 360):
		return invalid("arg_perigee", "%v outside [0, 360]", e.ArgPerigeeDeg)
	case !inRange(e.MeanAnomalyDeg, 0, 360):
		return invalid("mean_anomaly", "%v outside [0, 360]", e.MeanAnomalyDeg)
	case math.IsNaN(e.BStar) || math.IsInf(e.BStar, 0):
		return invalid("bstar", "%v is not finite", e.BStar)
	}
	return nil
}

func inRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

// checkLine validates length, line number and the modulo-10 checksum.
func checkLine(line string, number byte, name string) error {
	if len(line) != tleLineLen {
		return invalid(name, "length %d, expected %d", len(line), tleLineLen)
	}
	if line[0] != number {
		return invalid(name, "must start with '%c', got '%c'", number, line[0])
	}
	want := line[tleLineLen-1]
	if want < '0' || want > '9' {
		return invalid(name, "checksum character %q is not a digit", want)
	}
	if got := Checksum(line); got != int(want-'0') {
		return invalid(name, "checksum mismatch: computed %d, line has %c", got, want)
	}
	return nil
}

// Checksum computes the TLE modulo-10 checksum over the first 68 columns:
// digits count their value, '-' counts 1, everything else 0.
func Checksum(line string) int {
	n := len(line)
	if n > tleLineLen-1 {
		n = tleLineLen - 1
	}
	sum := 0
	for i := 0; i < n; i++ {
		c := line[i]
		switch {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return sum % 10
}

// parseCatalog decodes a five-column catalog number, including the Alpha-5
// form where a leading letter (I and O excluded) stands for 10..33.
func parseCatalog(field string) (int, error) {
	s := strings.TrimSpace(field)
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	lead := 0
	if c := s[0]; c >= 'A' && c <= 'Z' {
		if c == 'I' || c == 'O' {
			return 0, strconv.ErrSyntax
		}
		lead = int(c-'A') + 10
		if c > 'I' {
			lead--
		}
		if c > 'O' {
			lead--
		}
		s = s[1:]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return lead*10000 + n, nil
}

func parseFloatField(field string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(field), 64)
}

func parseIntField(field string) (int, error) {
	s := strings.TrimSpace(field)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// parseImpliedDecimal decodes the "±NNNNN±E" fields (n̈/6 and B*), where the
// mantissa has an implied leading decimal point.
func parseImpliedDecimal(field string) (float64, error) {
	if len(field) < 8 {
		return 0, strconv.ErrSyntax
	}
	sign := field[0]
	mant := strings.TrimSpace(field[1:6])
	exp := strings.TrimSpace(field[6:8])
	if mant == "" {
		return 0, nil
	}
	m, err := strconv.ParseFloat("0."+mant, 64)
	if err != nil {
		return 0, err
	}
	e := 0
	if exp != "" {
		if e, err = strconv.Atoi(exp); err != nil {
			return 0, err
		}
	}
	v := m * math.Pow(10, float64(e))
	if sign == '-' {
		v = -v
	}
	return v, nil
}
