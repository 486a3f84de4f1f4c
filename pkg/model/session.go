package model

type SessionStatus string

const (
	SessionUpcoming  SessionStatus = "upcoming"
	SessionLive      SessionStatus = "live"
	SessionCompleted SessionStatus = "completed"
)

type Session struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Circuit  string        `json:"circuit"`
	Date     string        `json:"date"`
	Status   SessionStatus `json:"status"`
	Drivers  []Driver      `json:"drivers"`
	LapCount *int          `json:"lap_count,omitempty"`
	Duration string        `json:"duration,omitempty"`
}

func (s *Session) IsLive() bool {
	return s.Status == SessionLive
}
