package store

import (
	"time"

	"golang.org/x/exp/slices"

	"github.com/mpapenbr/racestate-live/pkg/model"
)

// Snapshot is a consistent copy of the whole store
type Snapshot struct {
	Revision      uint64
	Session       *model.Session
	Sessions      []model.Session
	Roster        []model.Driver
	Circuit       *model.Circuit
	Live          model.LiveSnapshot
	Leaderboard   []model.LeaderboardEntry
	LeaderboardAt time.Time
	Connection    model.ConnectionState
	Poll          model.PollStatus
}

// Driver returns the roster entry for id, falling back to the drivers of the
// active session
func (s *Snapshot) Driver(id string) (model.Driver, bool) {
	for _, d := range s.Roster {
		if d.ID == id {
			return d, true
		}
	}
	if s.Session != nil {
		for _, d := range s.Session.Drivers {
			if d.ID == id {
				return d, true
			}
		}
	}
	return model.Driver{}, false
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := Snapshot{
		Revision:      s.revision,
		Sessions:      slices.Clone(s.sessions),
		Roster:        slices.Clone(s.roster),
		Live:          s.liveLocked(),
		Leaderboard:   slices.Clone(s.leaderboard),
		LeaderboardAt: s.leaderboardAt,
		Connection:    s.conn,
		Poll:          s.poll,
	}
	if s.active != nil {
		sess := *s.active
		sess.Drivers = slices.Clone(sess.Drivers)
		ret.Session = &sess
	}
	if s.circuit != nil {
		c := *s.circuit
		c.Points = slices.Clone(c.Points)
		ret.Circuit = &c
	}
	return ret
}

func (s *Store) liveLocked() model.LiveSnapshot {
	samples := make(map[string]model.TelemetrySample, len(s.samples))
	for k, v := range s.samples {
		if v.LapTime != nil {
			lt := *v.LapTime
			v.LapTime = &lt
		}
		samples[k] = v
	}
	return model.LiveSnapshot{Samples: samples, Timestamp: s.liveAt, Seq: s.liveSeq}
}

func (s *Store) Live() model.LiveSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveLocked()
}

func (s *Store) Sample(driverID string) (model.TelemetrySample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.samples[driverID]
	return v, ok
}

func (s *Store) Leaderboard() []model.LeaderboardEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.leaderboard)
}

func (s *Store) Connection() model.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

func (s *Store) PollStatus() model.PollStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.poll
}

func (s *Store) ActiveSessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeIDLocked()
}

// IsActive reports whether id is the active session
func (s *Store) IsActive(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active != nil && s.active.ID == id
}

func (s *Store) Sessions() []model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.sessions)
}

func (s *Store) Roster() []model.Driver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.roster)
}

// DroppedNotifications is the number of older change notifications discarded
// to make room for newer ones
func (s *Store) DroppedNotifications() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}
