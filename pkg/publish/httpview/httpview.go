// Package httpview serves the current race view over HTTP and pushes view
// updates to websocket clients.
package httpview

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mpapenbr/racestate-live/log"
	"github.com/mpapenbr/racestate-live/pkg/model"
	"github.com/mpapenbr/racestate-live/pkg/processing/race"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

type (
	// ViewSource is implemented by processing.Processor
	ViewSource interface {
		Current() *race.RaceView
		Subscribe() <-chan *race.RaceView
		CancelSubscription(<-chan *race.RaceView)
	}
	// Activator is implemented by lifecycle.Controller
	Activator interface {
		Activate(sessionID string) (*model.Session, error)
	}
	Option func(*Server)
	Server struct {
		source    ViewSource
		activator Activator
		upgrader  websocket.Upgrader
		tlsConfig *tls.Config
		mu        sync.Mutex
		srv       *http.Server
		l         *log.Logger
	}
	healthResponse struct {
		Session        string `json:"session"`
		Connection     string `json:"connection"`
		PollUnreliable bool   `json:"poll_unreliable"`
		Revision       uint64 `json:"revision"`
	}
	activateResponse struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}
)

// WithActivator enables POST /session
func WithActivator(a Activator) Option {
	return func(s *Server) {
		s.activator = a
	}
}

// WithTLS serves https, see NewTLSConfig
func WithTLS(cfg *tls.Config) Option {
	return func(s *Server) {
		s.tlsConfig = cfg
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		s.l = l
	}
}

func New(source ViewSource, opts ...Option) *Server {
	ret := &Server{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		l: log.Default().Named("http"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Handler returns the routes wrapped with CORS and h2c support
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /view", s.getView)
	mux.HandleFunc("GET /healthz", s.getHealth)
	mux.HandleFunc("GET /ws/view", s.streamViews)
	if s.activator != nil {
		mux.HandleFunc("POST /session", s.postSession)
	}
	return h2c.NewHandler(newCORS().Handler(mux), &http2.Server{})
}

// Serve listens on addr until Shutdown is called
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ln)
}

func (s *Server) ServeListener(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         s.tlsConfig,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()
	var err error
	if s.tlsConfig != nil {
		s.l.Info("serving views (tls)", log.String("addr", ln.Addr().String()))
		err = srv.ServeTLS(ln, "", "")
	} else {
		s.l.Info("serving views", log.String("addr", ln.Addr().String()))
		err = srv.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) getView(w http.ResponseWriter, _ *http.Request) {
	v := s.source.Current()
	if v == nil {
		http.Error(w, "no view yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Connection: model.ConnClosed.String()}
	if v := s.source.Current(); v != nil {
		resp = healthResponse{
			Session:        v.SessionID,
			Connection:     v.ConnectionIndicator,
			PollUnreliable: v.PollUnreliable,
			Revision:       v.Revision,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) postSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, activateResponse{Error: err.Error()})
		return
	}
	if _, err := s.activator.Activate(strings.TrimSpace(req.SessionID)); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, activateResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, activateResponse{OK: true})
}

// streamViews sends the current view and every following one
func (s *Server) streamViews(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.l.Debug("upgrade failed", log.ErrorField(err))
		return
	}
	views := s.source.Subscribe()
	defer s.source.CancelSubscription(views)
	defer conn.Close()

	// the read side only processes control frames and detects the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(v *race.RaceView) error {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return conn.WriteJSON(v)
	}
	if v := s.source.Current(); v != nil {
		if err := send(v); err != nil {
			return
		}
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case v, ok := <-views:
			if !ok {
				//nolint:errcheck // closing anyway
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := send(v); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil,
				time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	//nolint:errcheck // client may be gone
	json.NewEncoder(w).Encode(v)
}

func newCORS() *cors.Cors {
	// views are read by browser dashboards on arbitrary origins
	return cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		AllowedHeaders: []string{"*"},
	})
}
