// Package store holds the race state of the active session.
//
// Writers are split by concern: the poller replaces the leaderboard and poll
// status, the stream client applies telemetry and connection state, the
// lifecycle controller sets roster, circuit and the active session. All
// writes that carry a session id are dropped when that session is no longer
// active. Readers always get copies.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/mpapenbr/racestate-live/log"
	"github.com/mpapenbr/racestate-live/pkg/model"
	"github.com/mpapenbr/racestate-live/pkg/utils/broadcast"
)

var (
	ErrInvalidLeaderboard = errors.New("invalid leaderboard")
	ErrUnknownSession     = errors.New("unknown session")
	ErrImmutable          = errors.New("value is immutable while a session is active")
)

type ChangeKind int

const (
	ChangeSession ChangeKind = iota
	ChangeRoster
	ChangeCircuit
	ChangeTelemetry
	ChangeLeaderboard
	ChangeConnection
	ChangePoll
)

func (k ChangeKind) String() string {
	return [...]string{
		"session", "roster", "circuit", "telemetry",
		"leaderboard", "connection", "poll",
	}[k]
}

// Change is sent to subscribers after each accepted mutation
type Change struct {
	Kind      ChangeKind
	SessionID string
	Revision  uint64
}

type (
	Option func(*Store)
	Store  struct {
		mu       sync.RWMutex
		revision uint64

		sessions []model.Session
		roster   []model.Driver
		circuit  *model.Circuit
		active   *model.Session

		samples       map[string]model.TelemetrySample
		liveSeq       uint64
		liveAt        time.Time
		leaderboard   []model.LeaderboardEntry
		leaderboardAt time.Time
		conn          model.ConnectionState
		poll          model.PollStatus

		changes  chan Change
		notifier broadcast.BroadcastServer[Change]
		dropped  uint64
		now      func() time.Time
		l        *log.Logger
	}
)

func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		s.l = l
	}
}

// WithClock replaces time.Now, used for leaderboard and live timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(opts ...Option) *Store {
	ret := &Store{
		samples: make(map[string]model.TelemetrySample),
		changes: make(chan Change, 256),
		now:     time.Now,
		l:       log.Default().Named("store"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.conn = model.ConnectionState{State: model.ConnClosed, Since: ret.now()}
	ret.notifier = broadcast.NewBroadcastServer("store", ret.changes,
		broadcast.WithBufferSize[Change](16),
		broadcast.WithKeepLatest[Change](),
		broadcast.WithLogger[Change](ret.l))
	return ret
}

// Subscribe returns a channel receiving a Change after every accepted mutation.
// Notifications may be coalesced, consumers should read the latest Snapshot.
func (s *Store) Subscribe() <-chan Change {
	return s.notifier.Subscribe()
}

func (s *Store) CancelSubscription(ch <-chan Change) {
	s.notifier.CancelSubscription(ch)
}

// Close stops change notifications. The store stays readable.
func (s *Store) Close() {
	s.notifier.Close()
}

// must be called without holding the lock.
// On overflow the oldest pending notifications are dropped, never c.
func (s *Store) notify(c Change) {
	if n := broadcast.PushLatest(s.changes, c); n > 0 {
		s.mu.Lock()
		s.dropped += uint64(n)
		s.mu.Unlock()
	}
}

// bumps the revision, caller holds the write lock
func (s *Store) changed(kind ChangeKind) Change {
	s.revision++
	return Change{Kind: kind, SessionID: s.activeIDLocked(), Revision: s.revision}
}

func (s *Store) activeIDLocked() string {
	if s.active == nil {
		return ""
	}
	return s.active.ID
}

// isStaleLocked reports whether a write tagged with sessionID must be dropped
func (s *Store) isStaleLocked(sessionID string) bool {
	return s.active == nil || s.active.ID != sessionID
}

// SetSessions sets the catalog of known sessions.
func (s *Store) SetSessions(sessions []model.Session) {
	s.mu.Lock()
	s.sessions = slices.Clone(sessions)
	c := s.changed(ChangeSession)
	s.mu.Unlock()
	s.notify(c)
}

// SetRoster sets the driver roster. It may only be replaced while no session is active.
func (s *Store) SetRoster(drivers []model.Driver) error {
	s.mu.Lock()
	if s.active != nil && s.roster != nil {
		s.mu.Unlock()
		return fmt.Errorf("roster: %w", ErrImmutable)
	}
	s.roster = slices.Clone(drivers)
	c := s.changed(ChangeRoster)
	s.mu.Unlock()
	s.notify(c)
	return nil
}

// SetCircuit sets the circuit. It may only be replaced while no session is active.
func (s *Store) SetCircuit(circuit model.Circuit) error {
	s.mu.Lock()
	if s.active != nil && s.circuit != nil {
		s.mu.Unlock()
		return fmt.Errorf("circuit: %w", ErrImmutable)
	}
	circuit.Points = slices.Clone(circuit.Points)
	s.circuit = &circuit
	c := s.changed(ChangeCircuit)
	s.mu.Unlock()
	s.notify(c)
	return nil
}

// SetActiveSession makes the session with the given id the active one and
// clears all live, leaderboard, poll and connection state. An empty id
// switches to idle. If a session catalog is set, the id must be part of it.
func (s *Store) SetActiveSession(id string) (*model.Session, error) {
	s.mu.Lock()
	var next *model.Session
	if id != "" {
		next = s.lookupSessionLocked(id)
		if next == nil {
			if len(s.sessions) > 0 {
				s.mu.Unlock()
				return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
			}
			next = &model.Session{ID: id}
		}
	}
	prev := s.activeIDLocked()
	s.active = next
	s.samples = make(map[string]model.TelemetrySample)
	s.liveSeq = 0
	s.liveAt = time.Time{}
	s.leaderboard = nil
	s.leaderboardAt = time.Time{}
	s.conn = model.ConnectionState{State: model.ConnClosed, Since: s.now()}
	s.poll = model.PollStatus{}
	c := s.changed(ChangeSession)
	s.mu.Unlock()

	s.l.Info("active session changed", log.String("from", prev), log.String("to", id))
	s.notify(c)
	if next == nil {
		return nil, nil
	}
	ret := *next
	return &ret, nil
}

func (s *Store) lookupSessionLocked(id string) *model.Session {
	idx := slices.IndexFunc(s.sessions, func(item model.Session) bool {
		return item.ID == id
	})
	if idx == -1 {
		return nil
	}
	ret := s.sessions[idx]
	ret.Drivers = slices.Clone(ret.Drivers)
	return &ret
}

// ApplyTelemetry stores the sample if it is newer than the one held for the
// driver. Returns true if the sample was accepted.
func (s *Store) ApplyTelemetry(sessionID string, sample model.TelemetrySample) bool {
	return s.ApplyTelemetryBatch(sessionID, []model.TelemetrySample{sample}) == 1
}

// ApplyTelemetryBatch applies the samples one by one with the rules of
// ApplyTelemetry. Ordering is checked per driver, not across the batch.
// Returns the number of accepted samples.
func (s *Store) ApplyTelemetryBatch(sessionID string, samples []model.TelemetrySample) int {
	s.mu.Lock()
	if s.isStaleLocked(sessionID) {
		s.mu.Unlock()
		s.l.Debug("dropping telemetry for inactive session",
			log.String("session", sessionID), log.Int("samples", len(samples)))
		return 0
	}
	accepted := 0
	for i := range samples {
		sample := samples[i]
		if sample.DriverID == "" {
			continue
		}
		if prev, ok := s.samples[sample.DriverID]; ok &&
			!sample.Timestamp.After(prev.Timestamp) {
			continue
		}
		if sample.LapTime != nil {
			lt := *sample.LapTime
			sample.LapTime = &lt
		}
		s.samples[sample.DriverID] = sample
		s.liveSeq++
		accepted++
	}
	if accepted == 0 {
		s.mu.Unlock()
		return 0
	}
	s.liveAt = s.now()
	c := s.changed(ChangeTelemetry)
	s.mu.Unlock()
	s.notify(c)
	return accepted
}

// ReplaceLeaderboard swaps the whole leaderboard. Invalid input is rejected
// with ErrInvalidLeaderboard and the previous leaderboard is kept.
// Input for an inactive session is dropped without validation.
func (s *Store) ReplaceLeaderboard(sessionID string, entries []model.LeaderboardEntry) error {
	s.mu.Lock()
	if s.isStaleLocked(sessionID) {
		s.mu.Unlock()
		s.l.Debug("dropping leaderboard for inactive session",
			log.String("session", sessionID))
		return nil
	}
	sorted, err := validateLeaderboard(entries)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.leaderboard = sorted
	s.leaderboardAt = s.now()
	c := s.changed(ChangeLeaderboard)
	s.mu.Unlock()
	s.notify(c)
	return nil
}

// validateLeaderboard checks that positions are exactly 1..N and driver ids
// are unique. Returns a copy sorted by position.
func validateLeaderboard(entries []model.LeaderboardEntry) ([]model.LeaderboardEntry, error) {
	n := len(entries)
	sorted := make([]model.LeaderboardEntry, n)
	seenDriver := make(map[string]struct{}, n)
	filled := make([]bool, n)
	for _, e := range entries {
		if e.Position < 1 || e.Position > n {
			return nil, fmt.Errorf("%w: position %d out of range 1..%d",
				ErrInvalidLeaderboard, e.Position, n)
		}
		if filled[e.Position-1] {
			return nil, fmt.Errorf("%w: duplicate position %d",
				ErrInvalidLeaderboard, e.Position)
		}
		if e.Driver.ID == "" {
			return nil, fmt.Errorf("%w: missing driver at position %d",
				ErrInvalidLeaderboard, e.Position)
		}
		if _, ok := seenDriver[e.Driver.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate driver %s",
				ErrInvalidLeaderboard, e.Driver.ID)
		}
		seenDriver[e.Driver.ID] = struct{}{}
		filled[e.Position-1] = true
		sorted[e.Position-1] = e
	}
	return sorted, nil
}

// SetConnectionState records the stream state. Returns false for stale writes.
func (s *Store) SetConnectionState(sessionID string, state model.ConnectionState) bool {
	s.mu.Lock()
	if s.isStaleLocked(sessionID) {
		s.mu.Unlock()
		return false
	}
	if state.Since.IsZero() {
		state.Since = s.now()
	}
	s.conn = state
	c := s.changed(ChangeConnection)
	s.mu.Unlock()
	s.notify(c)
	return true
}

// SetPollStatus records the health of the leaderboard pull.
// Returns false for stale writes.
func (s *Store) SetPollStatus(sessionID string, status model.PollStatus) bool {
	s.mu.Lock()
	if s.isStaleLocked(sessionID) {
		s.mu.Unlock()
		return false
	}
	s.poll = status
	c := s.changed(ChangePoll)
	s.mu.Unlock()
	s.notify(c)
	return true
}
