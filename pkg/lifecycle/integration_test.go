package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/racestate-live/pkg/api"
	"github.com/mpapenbr/racestate-live/pkg/model"
	"github.com/mpapenbr/racestate-live/pkg/poller"
	"github.com/mpapenbr/racestate-live/pkg/store"
	"github.com/mpapenbr/racestate-live/pkg/stream"
	"github.com/mpapenbr/racestate-live/testsupport/fakebackend"
)

func TestSessionSwitchWithBackend(t *testing.T) {
	b := fakebackend.New(fakebackend.WithSessions(
		model.Session{ID: "A", Status: model.SessionLive},
		model.Session{ID: "B", Status: model.SessionLive},
	))
	defer b.Close()
	b.SetLeaderboard("A", []model.LeaderboardEntry{
		{Position: 1, Driver: model.Driver{ID: "VER"}, LapTime: 80.2},
	})
	b.SetLeaderboard("B", []model.LeaderboardEntry{
		{Position: 1, Driver: model.Driver{ID: "NOR"}, LapTime: 79.9},
		{Position: 2, Driver: model.Driver{ID: "PIA"}, LapTime: 80.1},
	})
	client, err := api.NewClient(b.URL())
	require.NoError(t, err)

	s := store.New()
	defer s.Close()
	s.SetSessions([]model.Session{{ID: "A"}, {ID: "B"}})
	p := poller.New(client, s, poller.WithInterval(20*time.Millisecond))
	sc := stream.New(b.LiveURL, s, stream.WithBackoff(5*time.Millisecond, 20*time.Millisecond))
	c := New(s, p, sc)
	defer c.Deactivate()

	_, err = c.Activate("A")
	require.NoError(t, err)
	connA := <-b.LiveConns()
	assert.Equal(t, "A", connA.SessionID)
	require.Eventually(t, func() bool { return len(s.Leaderboard()) == 1 },
		time.Second, 5*time.Millisecond)

	_, err = c.Activate("B")
	require.NoError(t, err)
	connB := <-b.LiveConns()
	assert.Equal(t, "B", connB.SessionID)

	// a late frame on the retired connection must not reach the store
	//nolint:errcheck // the connection may already be gone
	connA.SendRaw(`{"type":"telemetry","session_id":"A","timestamp":"2024-05-26T14:00:00Z",
		"drivers":[{"driver_id":"VER","position":{"lat":1,"lng":2},"speed":300}]}`)
	require.Eventually(t, func() bool {
		lb := s.Leaderboard()
		return len(lb) == 2 && lb[0].Driver.ID == "NOR"
	}, time.Second, 5*time.Millisecond)
	_, found := s.Sample("VER")
	assert.False(t, found)
	assert.Eventually(t, func() bool { return s.Connection().State == model.ConnOpen },
		time.Second, 5*time.Millisecond)
}
