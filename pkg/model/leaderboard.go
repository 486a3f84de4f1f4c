package model

import "time"

// LeaderboardEntry as delivered by the leaderboard pull.
// Position is 1-based; a valid leaderboard holds the positions 1..N exactly once.
type LeaderboardEntry struct {
	Position      int     `json:"position"`
	Driver        Driver  `json:"driver"`
	LapTime       float64 `json:"lap_time"` // reference lap time used for gap computation
	Gap           float64 `json:"gap"`      // gap as reported by the backend, informational
	LastLap       float64 `json:"last_lap"`
	BestLap       float64 `json:"best_lap"`
	LapsCompleted int     `json:"laps_completed"`
}

type PollStatus struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Unreliable          bool      `json:"unreliable"`
	LastSuccess         time.Time `json:"last_success"`
	LastError           string    `json:"last_error,omitempty"`
}
