// Package race derives the leaderboard view from a store snapshot.
// All functions are pure and deterministic for a given snapshot.
package race

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slices"

	"github.com/mpapenbr/racestate-live/pkg/model"
	"github.com/mpapenbr/racestate-live/pkg/store"
)

// DefaultBattleThreshold is the lap time gap in seconds below which two
// adjacent drivers are considered to be in a close battle
const DefaultBattleThreshold = 2.0

const (
	leaderText = "Leader"
	noDataText = "No data"
)

// Gap is the time delta to the leader
type Gap struct {
	Value  decimal.Decimal
	Valid  bool
	Leader bool
}

func (g Gap) String() string {
	return FormatGap(g)
}

func (g Gap) MarshalText() ([]byte, error) {
	return []byte(FormatGap(g)), nil
}

// Entry is a leaderboard line enriched with live data
type Entry struct {
	Position      int                    `json:"position"`
	Driver        model.Driver           `json:"driver"`
	LapTime       float64                `json:"lap_time"`
	LastLap       float64                `json:"last_lap"`
	BestLap       float64                `json:"best_lap"`
	LapsCompleted int                    `json:"laps_completed"`
	LiveLap       int                    `json:"live_lap,omitempty"`
	LiveOverride  bool                   `json:"live_override,omitempty"`
	Gap           Gap                    `json:"gap"`
	Live          *model.TelemetrySample `json:"live,omitempty"`
}

// Battle is an adjacent pair in the final order
type Battle struct {
	Ahead  model.Driver `json:"ahead"`
	Behind model.Driver `json:"behind"`
	// position of the driver ahead
	Position int     `json:"position"`
	Gap      float64 `json:"gap"`
	Close    bool    `json:"close"`
}

// OrderLeaderboard returns the polled leaderboard in position order. Driver
// details come from the roster when known. A live sample carrying a lap time
// that is newer than the leaderboard pull replaces last and best lap and the
// reference lap time. Position always stays with the polled value.
func OrderLeaderboard(snap *store.Snapshot) []Entry {
	if snap == nil || len(snap.Leaderboard) == 0 {
		return []Entry{}
	}
	polled := slices.Clone(snap.Leaderboard)
	slices.SortStableFunc(polled, func(a, b model.LeaderboardEntry) int {
		return a.Position - b.Position
	})
	return lo.Map(polled, func(item model.LeaderboardEntry, _ int) Entry {
		e := Entry{
			Position:      item.Position,
			Driver:        item.Driver,
			LapTime:       item.LapTime,
			LastLap:       item.LastLap,
			BestLap:       item.BestLap,
			LapsCompleted: item.LapsCompleted,
		}
		if d, ok := snap.Driver(item.Driver.ID); ok {
			e.Driver = d
		}
		sample, ok := snap.Live.Samples[item.Driver.ID]
		if !ok {
			return e
		}
		e.Live = &sample
		e.LiveLap = sample.Lap
		if sample.LapTime != nil && *sample.LapTime > 0 &&
			sample.Timestamp.After(snap.LeaderboardAt) {
			lt := *sample.LapTime
			e.LastLap = lt
			e.LapTime = lt
			if e.BestLap <= 0 || lt < e.BestLap {
				e.BestLap = lt
			}
			e.LiveOverride = true
		}
		return e
	})
}

// ComputeGaps computes the gap to the leader for each entry, indexed like
// entries. The gap is the sum of the lap time deltas between consecutive
// entries up to the entry, which equals the lap time delta to the leader.
// Missing lap times or negative results yield an invalid gap.
func ComputeGaps(entries []Entry) []Gap {
	if len(entries) == 0 {
		return []Gap{}
	}
	ret := make([]Gap, len(entries))
	ret[0] = Gap{Value: decimal.Zero, Valid: true, Leader: true}
	leaderLap := entries[0].LapTime
	cumulative := decimal.Zero
	prev := decimal.NewFromFloat(leaderLap)
	chain := leaderLap > 0
	for i := 1; i < len(entries); i++ {
		if entries[i].LapTime <= 0 || !chain {
			ret[i] = Gap{}
			continue
		}
		cur := decimal.NewFromFloat(entries[i].LapTime)
		cumulative = cumulative.Add(cur.Sub(prev))
		prev = cur
		if cumulative.IsNegative() {
			ret[i] = Gap{}
			continue
		}
		ret[i] = Gap{Value: cumulative, Valid: true}
	}
	return ret
}

// DetectBattles returns every adjacent pair with its absolute lap time gap.
// A pair is close if the gap is strictly below threshold.
func DetectBattles(entries []Entry, threshold float64) []Battle {
	if len(entries) < 2 {
		return []Battle{}
	}
	limit := decimal.NewFromFloat(threshold)
	ret := make([]Battle, 0, len(entries)-1)
	for i := 0; i+1 < len(entries); i++ {
		ahead, behind := entries[i], entries[i+1]
		b := Battle{Ahead: ahead.Driver, Behind: behind.Driver, Position: ahead.Position}
		if ahead.LapTime > 0 && behind.LapTime > 0 {
			gap := decimal.NewFromFloat(behind.LapTime).
				Sub(decimal.NewFromFloat(ahead.LapTime)).Abs()
			b.Gap = gap.InexactFloat64()
			b.Close = gap.LessThan(limit)
		}
		ret = append(ret, b)
	}
	return ret
}

// FormatGap renders "Leader" for the leader, "No data" for invalid gaps and
// "+s.fff" otherwise
func FormatGap(g Gap) string {
	switch {
	case g.Leader:
		return leaderText
	case !g.Valid:
		return noDataText
	default:
		return "+" + g.Value.StringFixed(3)
	}
}

// FormatLapTime renders seconds as m:ss.fff
func FormatLapTime(seconds float64) string {
	if seconds <= 0 {
		return noDataText
	}
	d := decimal.NewFromFloat(seconds).Round(3)
	mins := d.Div(decimal.NewFromInt(60)).Floor()
	secs := d.Sub(mins.Mul(decimal.NewFromInt(60)))
	return fmt.Sprintf("%d:%06s", mins.IntPart(), secs.StringFixed(3))
}
