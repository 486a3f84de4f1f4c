package model

// these are consumed on demand by presentation, the engine does not keep them

type BrakingPoint struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Intensity float64 `json:"intensity"`
}

type ThrottleSample struct {
	Timestamp float64 `json:"timestamp"`
	Throttle  float64 `json:"throttle"`
}

type CornerSpeed struct {
	Corner string  `json:"corner"`
	Speed  float64 `json:"speed"`
}

type SpeedPoint struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Speed float64 `json:"speed"`
}

type DriverAnalysis struct {
	DriverID        string           `json:"driver_id"`
	SessionID       string           `json:"session_id"`
	BrakingPoints   []BrakingPoint   `json:"braking_points"`
	ThrottleControl []ThrottleSample `json:"throttle_control"`
	CornerSpeeds    []CornerSpeed    `json:"corner_speeds"`
	SpeedMap        []SpeedPoint     `json:"speed_map"`
}

type DriverStats struct {
	ID          string  `json:"id"`
	AvgLapTime  float64 `json:"avg_lap_time"`
	BestLapTime float64 `json:"best_lap_time"`
	TopSpeed    float64 `json:"top_speed"`
	AvgSpeed    float64 `json:"avg_speed"`
	Consistency float64 `json:"consistency"`
}

type DriverComparison struct {
	SessionID string      `json:"session_id"`
	Driver1   DriverStats `json:"driver1"`
	Driver2   DriverStats `json:"driver2"`
}

// TelemetryPoint is an entry of the historic telemetry endpoint.
// Timestamp is in unix seconds there.
type TelemetryPoint struct {
	DriverID  string   `json:"driver_id"`
	Timestamp float64  `json:"timestamp"`
	Position  GeoPoint `json:"position"`
	Speed     float64  `json:"speed"`
	Throttle  float64  `json:"throttle"`
	Brake     float64  `json:"brake"`
	Steering  float64  `json:"steering"`
	Gear      int      `json:"gear"`
	RPM       int      `json:"rpm"`
	LapTime   *float64 `json:"lap_time,omitempty"`
	Sector    int      `json:"sector"`
}
