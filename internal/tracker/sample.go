// Package tracker runs the periodic propagate, convert and emit loop for one
// satellite and one observer.
package tracker

import (
	"strconv"
	"time"

	"github.com/star/azeltrack/internal/transform"
)

// Sample is one emitted pointing record. Field names are part of the output
// format consumed downstream.
type Sample struct {
	TimestampUTC string  `json:"timestamp_utc"`
	Satellite    string  `json:"satellite"`
	AzimuthDeg   float64 `json:"azimuth_deg"`
	ElevationDeg float64 `json:"elevation_deg"`
}

const (
	timestampLayout      = "2006-01-02T15:04:05.000000-07:00"
	timestampLayoutWhole = "2006-01-02T15:04:05-07:00"
)

// FormatTimestamp renders t in UTC as ISO-8601 with an explicit +00:00
// offset and microseconds. The fraction is omitted when it is zero.
func FormatTimestamp(t time.Time) string {
	t = t.UTC().Truncate(time.Microsecond)
	if t.Nanosecond() == 0 {
		return t.Format(timestampLayoutWhole)
	}
	return t.Format(timestampLayout)
}

// Round3 rounds v to three decimals using the exact binary value of v, so
// 0.0055 (stored just below the tie) becomes 0.005 and exact ties go to even.
func Round3(v float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 3, 64), 64)
	if err != nil {
		return v
	}
	return r
}

// NewSample builds the record for look angles computed at t.
func NewSample(t time.Time, satellite string, la transform.LookAngles) Sample {
	az := Round3(la.AzimuthDeg)
	if az >= 360 {
		az = 0
	}
	return Sample{
		TimestampUTC: FormatTimestamp(t),
		Satellite:    satellite,
		AzimuthDeg:   az,
		ElevationDeg: Round3(la.ElevationDeg),
	}
}
