// Package models provides request and response models for the AirPulse API.
package models

import (
	"time"

	"github.com/airpulse/airpulse/internal/airquality"
)

// Point represents a geographic coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// PointFrom converts a domain coordinate.
func PointFrom(c airquality.Coordinate) Point {
	return Point{Lat: c.Lat, Lon: c.Lon}
}

// HealthStatus represents the health status of a service.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "OK"
	HealthStatusDegraded HealthStatus = "DEGRADED"
	HealthStatusFail     HealthStatus = "FAIL"
)

// Timestamp is a time.Time rendered as RFC 3339 in UTC.
type Timestamp time.Time

// MarshalJSON implements json.Marshaler for Timestamp.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).UTC().Format(time.RFC3339) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for Timestamp.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	parsed, err := time.Parse(`"`+time.RFC3339+`"`, string(data))
	if err != nil {
		return err
	}
	*t = Timestamp(parsed)
	return nil
}

// Time returns the underlying time.Time.
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// TimestampPtr converts an optional time.
func TimestampPtr(t *time.Time) *Timestamp {
	if t == nil {
		return nil
	}
	ts := Timestamp(*t)
	return &ts
}
