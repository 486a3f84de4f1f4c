package processing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/racestate-live/pkg/model"
	"github.com/mpapenbr/racestate-live/pkg/processing/race"
	"github.com/mpapenbr/racestate-live/pkg/store"
)

func waitForView(
	t *testing.T,
	ch <-chan *race.RaceView,
	cond func(*race.RaceView) bool,
) *race.RaceView {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case v, ok := <-ch:
			require.True(t, ok)
			if cond(v) {
				return v
			}
		case <-timeout:
			t.Fatal("no matching view received")
			return nil
		}
	}
}

func TestProcessorEmitsViewOnLeaderboardChange(t *testing.T) {
	s := store.New()
	defer s.Close()
	_, err := s.SetActiveSession("monaco")
	require.NoError(t, err)

	p := NewProcessor(s, WithViewOptions(race.WithBattleThreshold(1.5)))
	views := p.Subscribe()
	p.Start(context.Background())
	defer p.Stop()

	require.NoError(t, s.ReplaceLeaderboard("monaco", []model.LeaderboardEntry{
		{Position: 1, Driver: model.Driver{ID: "VER"}, LapTime: 80.2},
		{Position: 2, Driver: model.Driver{ID: "HAM"}, LapTime: 81.5},
	}))

	v := waitForView(t, views, func(v *race.RaceView) bool { return len(v.Entries) == 2 })
	assert.Equal(t, "monaco", v.SessionID)
	assert.Equal(t, "+1.300", v.Entries[1].Gap.String())
	assert.True(t, v.Battles[0].Close)
	assert.Same(t, v, p.Current())
}

func TestProcessorRecomputeIsIdempotentPerRevision(t *testing.T) {
	s := store.New()
	defer s.Close()
	p := NewProcessor(s)
	defer p.Stop()

	v1 := p.Recompute()
	v2 := p.Recompute()
	assert.Same(t, v1, v2)

	_, err := s.SetActiveSession("A")
	require.NoError(t, err)
	v3 := p.Recompute()
	assert.NotSame(t, v1, v3)
	assert.Equal(t, "A", v3.SessionID)
	assert.Empty(t, v3.Entries)
}

func TestSlowSubscriberGetsFinalView(t *testing.T) {
	s := store.New()
	defer s.Close()
	_, err := s.SetActiveSession("monaco")
	require.NoError(t, err)

	p := NewProcessor(s)
	views := p.Subscribe()
	p.Start(context.Background())
	defer p.Stop()

	// nobody reads views during the burst
	t0 := time.Date(2024, 5, 26, 14, 0, 0, 0, time.UTC)
	for i := range 100 {
		s.ApplyTelemetry("monaco", model.TelemetrySample{
			DriverID: "VER", Timestamp: t0.Add(time.Duration(i) * time.Second),
		})
	}
	_, err = s.SetActiveSession("")
	require.NoError(t, err)

	v := waitForView(t, views, func(v *race.RaceView) bool { return v.SessionID == "" })
	assert.Empty(t, v.Entries)
	assert.Equal(t, s.Snapshot().Revision, v.Revision)
}
