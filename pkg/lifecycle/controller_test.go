package lifecycle

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/racestate-live/pkg/model"
	"github.com/mpapenbr/racestate-live/pkg/store"
)

// recorder collects the calls of the fakes in order
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakePoller struct {
	rec        *recorder
	store      *store.Store
	unreliable bool
}

func (p *fakePoller) Start(id string) {
	p.rec.add("poller.start %s (active=%s)", id, p.store.ActiveSessionID())
}
func (p *fakePoller) Stop()            { p.rec.add("poller.stop") }
func (p *fakePoller) Unreliable() bool { return p.unreliable }

type fakeStream struct {
	rec *recorder
}

func (s *fakeStream) Connect(id string) { s.rec.add("stream.connect %s", id) }
func (s *fakeStream) Disconnect()       { s.rec.add("stream.disconnect") }

func newController(t *testing.T) (*Controller, *store.Store, *recorder, *fakePoller) {
	t.Helper()
	s := store.New()
	t.Cleanup(s.Close)
	s.SetSessions([]model.Session{
		{ID: "A", Name: "Race A", Status: model.SessionLive},
		{ID: "B", Name: "Race B", Status: model.SessionLive},
	})
	rec := &recorder{}
	p := &fakePoller{rec: rec, store: s}
	return New(s, p, &fakeStream{rec: rec}), s, rec, p
}

func TestActivateFromIdle(t *testing.T) {
	c, s, rec, _ := newController(t)
	assert.True(t, c.Idle())

	session, err := c.Activate("A")
	require.NoError(t, err)
	assert.Equal(t, "Race A", session.Name)
	assert.Equal(t, "A", c.Active())
	assert.Equal(t, "A", s.ActiveSessionID())
	assert.Equal(t, []string{"poller.start A (active=A)", "stream.connect A"}, rec.get())
}

func TestSwitchStopsPreviousPairFirst(t *testing.T) {
	c, s, rec, _ := newController(t)
	_, err := c.Activate("A")
	require.NoError(t, err)
	s.ApplyTelemetry("A", model.TelemetrySample{DriverID: "VER", Timestamp: time.Now()})

	_, err = c.Activate("B")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"poller.start A (active=A)", "stream.connect A",
		"poller.stop", "stream.disconnect",
		"poller.start B (active=B)", "stream.connect B",
	}, rec.get())
	assert.Empty(t, s.Live().Samples)
}

func TestDeactivate(t *testing.T) {
	c, s, rec, _ := newController(t)
	_, err := c.Activate("A")
	require.NoError(t, err)

	c.Deactivate()
	assert.True(t, c.Idle())
	assert.False(t, s.IsActive("A"))
	assert.Equal(t, "", s.ActiveSessionID())
	assert.Equal(t, []string{
		"poller.start A (active=A)", "stream.connect A",
		"poller.stop", "stream.disconnect",
	}, rec.get())

	// nothing left to stop
	c.Deactivate()
	assert.Len(t, rec.get(), 4)
}

func TestUnknownSessionLeavesControllerIdle(t *testing.T) {
	c, s, rec, _ := newController(t)
	_, err := c.Activate("A")
	require.NoError(t, err)

	_, err = c.Activate("X")
	assert.ErrorIs(t, err, store.ErrUnknownSession)
	assert.True(t, c.Idle())
	assert.Equal(t, "", s.ActiveSessionID())
	assert.NotContains(t, rec.get(), "stream.connect X")
}

func TestDegraded(t *testing.T) {
	c, _, _, p := newController(t)
	p.unreliable = true
	assert.False(t, c.Degraded(), "idle is never degraded")
	_, err := c.Activate("A")
	require.NoError(t, err)
	assert.True(t, c.Degraded())
}
