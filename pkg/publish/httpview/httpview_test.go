package httpview

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/racestate-live/pkg/model"
	"github.com/mpapenbr/racestate-live/pkg/processing/race"
)

type fakeSource struct {
	mu      sync.Mutex
	current *race.RaceView
	subs    []chan *race.RaceView
}

func (f *fakeSource) Current() *race.RaceView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeSource) Subscribe() <-chan *race.RaceView {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan *race.RaceView, 4)
	f.subs = append(f.subs, ch)
	return ch
}

func (f *fakeSource) CancelSubscription(<-chan *race.RaceView) {}

func (f *fakeSource) emit(v *race.RaceView) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = v
	for _, ch := range f.subs {
		ch <- v
	}
}

func (f *fakeSource) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakeActivator struct{}

func (fakeActivator) Activate(id string) (*model.Session, error) {
	if id != "s1" {
		return nil, errors.New("unknown session")
	}
	return &model.Session{ID: id}, nil
}

func TestViewNotReady(t *testing.T) {
	srv := httptest.NewServer(New(&fakeSource{}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/view")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	var h healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, "closed", h.Connection)
}

func TestViewAndHealth(t *testing.T) {
	src := &fakeSource{current: &race.RaceView{
		SessionID: "s1", Revision: 3, ConnectionIndicator: "Live",
		Entries: []race.Entry{{Position: 1, Driver: model.Driver{ID: "VER"},
			Gap: race.Gap{Leader: true, Valid: true}}},
	}}
	srv := httptest.NewServer(New(src).Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/view", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dashboard.local")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://dashboard.local", resp.Header.Get("Access-Control-Allow-Origin"))
	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "Leader", got["entries"].([]any)[0].(map[string]any)["gap"])

	hresp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer hresp.Body.Close()
	var h healthResponse
	require.NoError(t, json.NewDecoder(hresp.Body).Decode(&h))
	assert.Equal(t, healthResponse{Session: "s1", Connection: "Live", Revision: 3}, h)
}

func TestPostSession(t *testing.T) {
	srv := httptest.NewServer(New(&fakeSource{}, WithActivator(fakeActivator{})).Handler())
	defer srv.Close()

	post := func(body string) int {
		resp, err := http.Post(srv.URL+"/session", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusOK, post(`{"session_id":"s1"}`))
	assert.Equal(t, http.StatusUnprocessableEntity, post(`{"session_id":"nope"}`))
	assert.Equal(t, http.StatusBadRequest, post(`not json`))
}

func TestPostSessionDisabledWithoutActivator(t *testing.T) {
	srv := httptest.NewServer(New(&fakeSource{}).Handler())
	defer srv.Close()
	resp, err := http.Post(srv.URL+"/session", "application/json",
		strings.NewReader(`{"session_id":"s1"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
}

func TestStreamViews(t *testing.T) {
	src := &fakeSource{current: &race.RaceView{SessionID: "s1", Revision: 1}}
	srv := httptest.NewServer(New(src).Handler())
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/view", nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	read := func() uint64 {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var v struct {
			Revision uint64 `json:"revision"`
		}
		require.NoError(t, conn.ReadJSON(&v))
		return v.Revision
	}
	assert.Equal(t, uint64(1), read())
	require.Eventually(t, func() bool { return src.subscribers() == 1 },
		time.Second, 5*time.Millisecond)
	src.emit(&race.RaceView{SessionID: "s1", Revision: 2})
	assert.Equal(t, uint64(2), read())
}
