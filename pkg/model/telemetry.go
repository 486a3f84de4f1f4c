package model

import "time"

// TelemetrySample is a single reading for one driver.
// A later sample for the same driver replaces the previous one.
type TelemetrySample struct {
	DriverID  string    `json:"driver_id"`
	Timestamp time.Time `json:"timestamp"`
	Position  GeoPoint  `json:"position"`
	Speed     float64   `json:"speed"`
	Throttle  float64   `json:"throttle"`
	Brake     float64   `json:"brake"`
	Steering  float64   `json:"steering"`
	Gear      int       `json:"gear"`
	RPM       int       `json:"rpm"`
	Sector    int       `json:"sector"`
	Lap       int       `json:"lap"`
	LapTime   *float64  `json:"lap_time,omitempty"` // completed lap time in seconds
}

// LiveSnapshot is the materialized per-driver view of the live stream.
// Drivers without a sample are absent.
type LiveSnapshot struct {
	Samples   map[string]TelemetrySample `json:"samples"`
	Timestamp time.Time                  `json:"timestamp"`
	Seq       uint64                     `json:"seq"`
}

// LiveTelemetry is the frame pushed over the live channel
type LiveTelemetry struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id"`
	Timestamp string                 `json:"timestamp"`
	Drivers   []*LiveDriverTelemetry `json:"drivers"`
}

// LiveDriverTelemetry is one batch entry. Optional values are pointers so that
// missing required fields can be detected.
type LiveDriverTelemetry struct {
	DriverID  string    `json:"driver_id"`
	Timestamp *float64  `json:"timestamp,omitempty"` // unix seconds, overrides frame timestamp
	Position  *GeoPoint `json:"position"`
	Speed     *float64  `json:"speed"`
	Throttle  float64   `json:"throttle"`
	Brake     float64   `json:"brake"`
	Steering  float64   `json:"steering,omitempty"`
	Gear      int       `json:"gear,omitempty"`
	RPM       int       `json:"rpm,omitempty"`
	Lap       int       `json:"lap"`
	Sector    int       `json:"sector"`
	LapTime   *float64  `json:"lap_time,omitempty"`
}

const LiveTelemetryType = "telemetry"
