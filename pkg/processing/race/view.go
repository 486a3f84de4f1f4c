package race

import (
	"time"

	"github.com/samber/lo"

	"github.com/mpapenbr/racestate-live/pkg/model"
	"github.com/mpapenbr/racestate-live/pkg/store"
)

// RaceView is what presentation consumes: ordered entries with gaps, the
// adjacent battles and the health signals of both data sources
type RaceView struct {
	SessionID           string                `json:"session_id"`
	SessionName         string                `json:"session_name,omitempty"`
	LapCount            *int                  `json:"lap_count,omitempty"`
	Revision            uint64                `json:"revision"`
	GeneratedAt         time.Time             `json:"generated_at"`
	Entries             []Entry               `json:"entries"`
	Battles             []Battle              `json:"battles"`
	Connection          model.ConnectionState `json:"connection"`
	ConnectionIndicator string                `json:"connection_indicator"`
	PollUnreliable      bool                  `json:"poll_unreliable"`
	LiveDrivers         int                   `json:"live_drivers"`
	LiveSeq             uint64                `json:"live_seq"`
}

type (
	ViewOption func(*viewConfig)
	viewConfig struct {
		threshold float64
		now       func() time.Time
	}
)

func WithBattleThreshold(seconds float64) ViewOption {
	return func(c *viewConfig) {
		c.threshold = seconds
	}
}

func WithViewClock(now func() time.Time) ViewOption {
	return func(c *viewConfig) {
		c.now = now
	}
}

// BuildView composes ordering, gaps and battles for the given snapshot
func BuildView(snap *store.Snapshot, opts ...ViewOption) *RaceView {
	cfg := &viewConfig{threshold: DefaultBattleThreshold, now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	entries := OrderLeaderboard(snap)
	gaps := ComputeGaps(entries)
	for i := range entries {
		entries[i].Gap = gaps[i]
	}
	ret := &RaceView{
		Revision:            snap.Revision,
		GeneratedAt:         cfg.now(),
		Entries:             entries,
		Battles:             DetectBattles(entries, cfg.threshold),
		Connection:          snap.Connection,
		ConnectionIndicator: snap.Connection.Indicator(),
		PollUnreliable:      snap.Poll.Unreliable,
		LiveDrivers:         len(snap.Live.Samples),
		LiveSeq:             snap.Live.Seq,
	}
	if snap.Session != nil {
		ret.SessionID = snap.Session.ID
		ret.SessionName = snap.Session.Name
		ret.LapCount = snap.Session.LapCount
	}
	return ret
}

// CloseBattles returns only the battles below the threshold
func (v *RaceView) CloseBattles() []Battle {
	return lo.Filter(v.Battles, func(b Battle, _ int) bool { return b.Close })
}

// Leader returns the first entry if there is one
func (v *RaceView) Leader() (Entry, bool) {
	if len(v.Entries) == 0 {
		return Entry{}, false
	}
	return v.Entries[0], true
}
