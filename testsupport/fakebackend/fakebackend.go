// Package fakebackend provides an in-memory race data backend for tests.
package fakebackend

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/mpapenbr/racestate-live/pkg/model"
)

type (
	Option  func(*Backend)
	Backend struct {
		Server *httptest.Server

		mu           sync.Mutex
		version      string
		drivers      []model.Driver
		sessions     []model.Session
		circuit      *model.Circuit
		leaderboards map[string][]model.LeaderboardEntry
		telemetry    map[string][]model.TelemetryPoint
		analysis     map[string]*model.DriverAnalysis
		comparison   map[string]*model.DriverComparison
		statusFor    map[string]int
		requests     map[string]int
		rejectLive   bool

		upgrader  websocket.Upgrader
		liveConns chan *LiveConn
	}
	// LiveConn is a server side websocket connection of the live endpoint
	LiveConn struct {
		SessionID string
		Conn      *websocket.Conn
	}
)

func WithVersion(v string) Option {
	return func(b *Backend) {
		b.version = v
	}
}

func WithDrivers(d ...model.Driver) Option {
	return func(b *Backend) {
		b.drivers = d
	}
}

func WithSessions(s ...model.Session) Option {
	return func(b *Backend) {
		b.sessions = s
	}
}

func WithCircuit(c *model.Circuit) Option {
	return func(b *Backend) {
		b.circuit = c
	}
}

func New(opts ...Option) *Backend {
	b := &Backend{
		version:      "1.2.0",
		leaderboards: map[string][]model.LeaderboardEntry{},
		telemetry:    map[string][]model.TelemetryPoint{},
		analysis:     map[string]*model.DriverAnalysis{},
		comparison:   map[string]*model.DriverComparison{},
		statusFor:    map[string]int{},
		requests:     map[string]int{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		liveConns: make(chan *LiveConn, 16),
	}
	for _, opt := range opts {
		opt(b)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", b.root)
	mux.HandleFunc("GET /api/drivers", b.getDrivers)
	mux.HandleFunc("GET /api/drivers/{id}", b.getDriver)
	mux.HandleFunc("GET /api/sessions", b.getSessions)
	mux.HandleFunc("GET /api/sessions/{id}", b.getSession)
	mux.HandleFunc("GET /api/circuit", b.getCircuit)
	mux.HandleFunc("GET /api/leaderboard/{id}", b.getLeaderboard)
	mux.HandleFunc("GET /api/telemetry/{session}/{driver}", b.getTelemetry)
	mux.HandleFunc("GET /api/analysis/{session}/{driver}", b.getAnalysis)
	mux.HandleFunc("GET /api/comparison/{session}", b.getComparison)
	mux.HandleFunc("GET /ws/live/{id}", b.live)
	b.Server = httptest.NewServer(b.count(mux))
	return b
}

func (b *Backend) Close() {
	b.Server.Close()
}

func (b *Backend) URL() string {
	return b.Server.URL
}

// LiveURL is the websocket url for a session on this backend
func (b *Backend) LiveURL(sessionID string) string {
	return "ws" + strings.TrimPrefix(b.Server.URL, "http") + "/ws/live/" + sessionID
}

func (b *Backend) SetLeaderboard(sessionID string, entries []model.LeaderboardEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaderboards[sessionID] = entries
}

//nolint:whitespace // can't make both editor and linter happy
func (b *Backend) SetTelemetry(sessionID, driverID string,
	points []model.TelemetryPoint,
) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.telemetry[sessionID+"/"+driverID] = points
}

func (b *Backend) SetAnalysis(a *model.DriverAnalysis) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.analysis[a.SessionID+"/"+a.DriverID] = a
}

func (b *Backend) SetComparison(c *model.DriverComparison) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.comparison[c.SessionID] = c
}

// FailPath makes requests to path answer with code. code 0 restores normal operation.
func (b *Backend) FailPath(path string, code int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if code == 0 {
		delete(b.statusFor, path)
		return
	}
	b.statusFor[path] = code
}

// RejectLive makes the live endpoint refuse websocket upgrades
func (b *Backend) RejectLive(reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectLive = reject
}

func (b *Backend) Requests(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[path]
}

// LiveConns delivers every accepted live connection
func (b *Backend) LiveConns() <-chan *LiveConn {
	return b.liveConns
}

// Send writes v as JSON text frame
func (c *LiveConn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

func (c *LiveConn) SendRaw(data string) error {
	return c.Conn.WriteMessage(websocket.TextMessage, []byte(data))
}

func (c *LiveConn) Close() error {
	//nolint:errcheck // best effort close handshake
	c.Conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.Conn.Close()
}

func (b *Backend) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests[r.URL.Path]++
		code, fail := b.statusFor[r.URL.Path]
		b.mu.Unlock()
		if fail {
			http.Error(w, http.StatusText(code), code)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) root(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, map[string]string{"message": "race data api", "version": b.version})
}

func (b *Backend) getDrivers(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, b.drivers)
}

func (b *Backend) getDriver(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.drivers {
		if b.drivers[i].ID == r.PathValue("id") {
			writeJSON(w, b.drivers[i])
			return
		}
	}
	http.NotFound(w, r)
}

func (b *Backend) getSessions(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, b.sessions)
}

func (b *Backend) getSession(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.sessions {
		if b.sessions[i].ID == r.PathValue("id") {
			writeJSON(w, b.sessions[i])
			return
		}
	}
	http.NotFound(w, r)
}

func (b *Backend) getCircuit(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.circuit == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, b.circuit)
}

func (b *Backend) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries, ok := b.leaderboards[r.PathValue("id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, entries)
}

func (b *Backend) getTelemetry(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	points, ok := b.telemetry[r.PathValue("session")+"/"+r.PathValue("driver")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, points)
}

func (b *Backend) getAnalysis(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.analysis[r.PathValue("session")+"/"+r.PathValue("driver")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, a)
}

func (b *Backend) getComparison(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.comparison[r.PathValue("session")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, c)
}

func (b *Backend) live(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	reject := b.rejectLive
	b.mu.Unlock()
	if reject {
		http.Error(w, "live feed unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	lc := &LiveConn{SessionID: r.PathValue("id"), Conn: conn}
	select {
	case b.liveConns <- lc:
	default:
		conn.Close()
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	//nolint:errcheck // test backend
	json.NewEncoder(w).Encode(v)
}
