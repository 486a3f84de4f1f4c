package natspub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/racestate-live/pkg/model"
	"github.com/mpapenbr/racestate-live/pkg/processing/race"
)

func connect(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := StartEmbedded("127.0.0.1", -1, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

type fakeActivator struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeActivator) get() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeActivator) Activate(id string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if id == "unknown" {
		return nil, errors.New("unknown session: unknown")
	}
	return &model.Session{ID: id}, nil
}

func view(sessionID string) *race.RaceView {
	return &race.RaceView{
		SessionID: sessionID,
		Revision:  7,
		Entries: []race.Entry{
			{Position: 1, Driver: model.Driver{ID: "VER"}, Gap: race.Gap{Leader: true, Valid: true}},
		},
		ConnectionIndicator: "Live",
	}
}

func TestPublishView(t *testing.T) {
	nc := connect(t)
	p, err := New(nc, WithPrefix("test"))
	require.NoError(t, err)
	defer p.Close()

	sub, err := nc.SubscribeSync("test.view.>")
	require.NoError(t, err)
	require.NoError(t, p.Publish(view("monaco.2024")))

	msg, err := sub.NextMsg(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "test.view.monaco_2024", msg.Subject)
	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "monaco.2024", got["session_id"])
	entries := got["entries"].([]any)
	assert.Equal(t, "Leader", entries[0].(map[string]any)["gap"])
	assert.Equal(t, int64(1), p.Published())
}

func TestLatestViewInKV(t *testing.T) {
	nc := connect(t)
	p, err := New(nc, WithKVBucket("views"))
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Latest(context.Background(), "s1")
	assert.Error(t, err)

	require.NoError(t, p.Publish(view("s1")))
	v2 := view("s1")
	v2.Revision = 8
	require.NoError(t, p.Publish(v2))

	data, err := p.Latest(context.Background(), "s1")
	require.NoError(t, err)
	var got struct {
		Revision uint64 `json:"revision"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, uint64(8), got.Revision)
}

func TestRunPublishesUntilClosed(t *testing.T) {
	nc := connect(t)
	p, err := New(nc)
	require.NoError(t, err)
	sub, err := nc.SubscribeSync(p.ViewSubject("s1"))
	require.NoError(t, err)

	views := make(chan *race.RaceView, 2)
	views <- view("s1")
	views <- view("s1")
	close(views)
	p.Run(context.Background(), views)

	for i := 0; i < 2; i++ {
		_, err := sub.NextMsg(time.Second)
		require.NoError(t, err)
	}
}

func TestControlActivate(t *testing.T) {
	nc := connect(t)
	act := &fakeActivator{}
	p, err := New(nc, WithActivator(act))
	require.NoError(t, err)
	defer p.Close()

	request := func(payload string) ControlReply {
		msg, err := nc.Request(p.ControlSubject(), []byte(payload), time.Second)
		require.NoError(t, err)
		var reply ControlReply
		require.NoError(t, json.Unmarshal(msg.Data, &reply))
		return reply
	}

	assert.Equal(t, ControlReply{OK: true}, request("s2\n"))
	assert.Equal(t, ControlReply{Error: "unknown session: unknown"}, request("unknown"))
	assert.Equal(t, ControlReply{OK: true}, request(""))
	assert.Equal(t, []string{"s2", "unknown", ""}, act.get())

	p.Close()
	_, err = nc.Request(p.ControlSubject(), []byte("s3"), 100*time.Millisecond)
	assert.Error(t, err)
}

func TestToken(t *testing.T) {
	assert.Equal(t, "idle", token(""))
	assert.Equal(t, "a_b_c_", token("a.b c>"))
	assert.Equal(t, "s1", token("s1"))
}
