package telemetry

import (
	"fmt"
	"time"
)

// Record is one sensor reading as it is written to the store.
// All three measurements are always present; partial payloads never become a Record.
type Record struct {
	TemperatureC float64
	HumidityPct  float64
	LuxLevel     float64

	// RecordedAt is the ingest time, always UTC.
	RecordedAt time.Time
}

// Reading is a Record that has been persisted and received its store id.
type Reading struct {
	ID int64
	Record
}

// Extremes holds the rounded global temperature statistics.
// Every field is nil when the store holds no records.
type Extremes struct {
	MaxC *float64
	MinC *float64
	AvgC *float64
}

// MonthlyMax is the highest temperature seen within one calendar month.
type MonthlyMax struct {
	Year     int
	Month    time.Month
	MaxTempC float64
}

// Label renders the group as "<month>-<year>" without zero padding, e.g. "3-2025".
func (m MonthlyMax) Label() string {
	return fmt.Sprintf("%d-%d", int(m.Month), m.Year)
}

// Summary is the read model served by the sensor data endpoint.
type Summary struct {
	Extremes
	Latest        []Reading
	MonthlyMaxima []MonthlyMax
}
