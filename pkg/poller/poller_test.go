package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/racestate-live/pkg/model"
	"github.com/mpapenbr/racestate-live/pkg/store"
)

type fakeSource struct {
	mu      sync.Mutex
	calls   atomic.Int32
	entries []model.LeaderboardEntry
	err     error
	block   chan struct{}
}

//nolint:whitespace // can't make both editor and linter happy
func (f *fakeSource) GetLeaderboard(ctx context.Context, sessionID string) (
	[]model.LeaderboardEntry, error,
) {
	f.calls.Add(1)
	f.mu.Lock()
	entries, err, block := f.entries, f.err, f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return entries, err
}

func (f *fakeSource) set(entries []model.LeaderboardEntry, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries, f.err = entries, err
}

func twoCars() []model.LeaderboardEntry {
	return []model.LeaderboardEntry{
		{Position: 1, Driver: model.Driver{ID: "VER"}, LapTime: 80.2},
		{Position: 2, Driver: model.Driver{ID: "HAM"}, LapTime: 81.5},
	}
}

func newStore(t *testing.T, active string) *store.Store {
	t.Helper()
	s := store.New()
	t.Cleanup(s.Close)
	_, err := s.SetActiveSession(active)
	require.NoError(t, err)
	return s
}

func TestFirstPullIsImmediate(t *testing.T) {
	s := newStore(t, "A")
	src := &fakeSource{entries: twoCars()}
	p := New(src, s, WithInterval(time.Hour))
	p.Start("A")
	defer p.Stop()

	assert.Eventually(t, func() bool { return len(s.Leaderboard()) == 2 },
		time.Second, 5*time.Millisecond)
	assert.False(t, p.Unreliable())
	assert.False(t, s.PollStatus().LastSuccess.IsZero())
}

func TestFailuresKeepPreviousLeaderboard(t *testing.T) {
	s := newStore(t, "A")
	src := &fakeSource{entries: twoCars()}
	p := New(src, s, WithInterval(10*time.Millisecond))
	p.Start("A")
	defer p.Stop()
	require.Eventually(t, func() bool { return len(s.Leaderboard()) == 2 },
		time.Second, 5*time.Millisecond)

	src.set(nil, errors.New("connection refused"))
	require.Eventually(t, p.Unreliable, time.Second, 5*time.Millisecond)

	assert.Len(t, s.Leaderboard(), 2)
	status := s.PollStatus()
	assert.True(t, status.Unreliable)
	assert.GreaterOrEqual(t, status.ConsecutiveFailures, DefaultUnreliableAfter)
	assert.Equal(t, "connection refused", status.LastError)
}

func TestUnreliableResetsOnSuccess(t *testing.T) {
	s := newStore(t, "A")
	src := &fakeSource{err: errors.New("boom")}
	p := New(src, s, WithInterval(10*time.Millisecond))
	p.Start("A")
	defer p.Stop()
	require.Eventually(t, p.Unreliable, time.Second, 5*time.Millisecond)

	src.set(twoCars(), nil)
	require.Eventually(t, func() bool { return !p.Unreliable() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, p.Status().ConsecutiveFailures)
}

func TestInvalidLeaderboardCountsAsFailure(t *testing.T) {
	s := newStore(t, "A")
	dup := twoCars()
	dup[1].Position = 1
	src := &fakeSource{entries: dup}
	p := New(src, s, WithInterval(time.Hour), WithUnreliableAfter(1))
	p.Start("A")
	defer p.Stop()

	require.Eventually(t, p.Unreliable, time.Second, 5*time.Millisecond)
	assert.Empty(t, s.Leaderboard())
}

func TestStopHaltsPulls(t *testing.T) {
	s := newStore(t, "A")
	src := &fakeSource{entries: twoCars()}
	p := New(src, s, WithInterval(5*time.Millisecond))
	p.Start("A")
	require.Eventually(t, func() bool { return src.calls.Load() >= 3 },
		time.Second, time.Millisecond)
	p.Stop()
	p.Stop()
	calls := src.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, src.calls.Load())
}

func TestStopCancelsInflightPull(t *testing.T) {
	s := newStore(t, "A")
	src := &fakeSource{entries: twoCars(), block: make(chan struct{})}
	p := New(src, s, WithInterval(time.Hour))
	p.Start("A")
	require.Eventually(t, func() bool { return src.calls.Load() == 1 },
		time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Empty(t, s.Leaderboard())
	assert.Equal(t, 0, s.PollStatus().ConsecutiveFailures)
}

func TestPullForRetiredSessionIsDiscarded(t *testing.T) {
	s := newStore(t, "A")
	block := make(chan struct{})
	src := &fakeSource{entries: twoCars(), block: block}
	p := New(src, s, WithInterval(time.Hour))
	p.Start("A")
	require.Eventually(t, func() bool { return src.calls.Load() == 1 },
		time.Second, time.Millisecond)

	_, err := s.SetActiveSession("B")
	require.NoError(t, err)
	close(block)
	time.Sleep(20 * time.Millisecond)
	p.Stop()

	assert.Equal(t, "B", s.ActiveSessionID())
	assert.Empty(t, s.Leaderboard())
}
