// Package stream maintains the live telemetry push connection of the active session.
package stream

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/racestate-live/log"
	"github.com/mpapenbr/racestate-live/pkg/model"
	"github.com/mpapenbr/racestate-live/pkg/store"
)

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultReadTimeout = 60 * time.Second
	maxFrameSize       = 1 << 20
)

type (
	// URLFunc resolves the push endpoint of a session (see api.Client.LiveURL)
	URLFunc func(sessionID string) string
	// RetryObserver is called before waiting for the next connection attempt
	RetryObserver func(attempt int, delay time.Duration)
	Option        func(*Client)

	Client struct {
		urlFor      URLFunc
		store       *store.Store
		dialer      *websocket.Dialer
		baseDelay   time.Duration
		maxDelay    time.Duration
		jitter      float64
		readTimeout time.Duration
		onRetry     RetryObserver
		location    *time.Location
		l           *log.Logger

		decoded   atomic.Int64
		discarded atomic.Int64
		stale     atomic.Int64
		applied   atomic.Int64

		mu      sync.Mutex
		cancel  context.CancelFunc
		conn    *websocket.Conn
		done    chan struct{}
		session string
		state   model.ConnectionState
	}
)

func WithBackoff(base, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = base
		c.maxDelay = maxDelay
	}
}

// WithJitter randomizes each delay by +/- factor. 0 disables jitter.
func WithJitter(factor float64) Option {
	return func(c *Client) {
		c.jitter = factor
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.readTimeout = d
	}
}

func WithRetryObserver(o RetryObserver) Option {
	return func(c *Client) {
		c.onRetry = o
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithLocation sets the zone of frame timestamps sent without offset
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		c.location = loc
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		c.l = l
	}
}

func New(urlFor URLFunc, s *store.Store, opts ...Option) *Client {
	ret := &Client{
		urlFor:      urlFor,
		store:       s,
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		readTimeout: DefaultReadTimeout,
		location:    time.Local,
		l:           log.Default().Named("stream"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.setupMetrics()
	return ret
}

// Connect opens the push connection for sessionID. A previous connection is
// closed first. Connection attempts continue in the background until
// Disconnect is called or the session is no longer active.
func (c *Client) Connect(sessionID string) {
	c.Disconnect()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.session = sessionID
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(ctx, sessionID)
	}()
}

// Disconnect closes the connection and stops retrying. It is safe to call
// repeatedly and returns after the connection loop has ended.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel, done, sessionID := c.cancel, c.done, c.session
	if cancel == nil {
		c.mu.Unlock()
		return
	}
	c.cancel = nil
	// canceled under the lock so that no new conn gets registered afterwards
	cancel()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		//nolint:errcheck // best effort close handshake
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	<-done
	c.setState(sessionID, model.ConnectionState{State: model.ConnClosed})
	c.l.Debug("disconnected", log.String("session", sessionID))
}

func (c *Client) State() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Discarded is the number of frames dropped because they failed validation
func (c *Client) Discarded() int64 { return c.discarded.Load() }

func (c *Client) Decoded() int64 { return c.decoded.Load() }

// Stale is the number of frames tagged with a session other than the active one
func (c *Client) Stale() int64 { return c.stale.Load() }

func (c *Client) newBackoff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.baseDelay,
		RandomizationFactor: c.jitter,
		Multiplier:          2,
		MaxInterval:         c.maxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func (c *Client) run(ctx context.Context, sessionID string) {
	bo := c.newBackoff()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if !c.store.IsActive(sessionID) {
			c.l.Debug("session no longer active, stop connecting",
				log.String("session", sessionID))
			return
		}
		c.setState(sessionID, model.ConnectionState{
			State: model.ConnConnecting, Attempt: attempt,
		})
		err := c.connectAndRead(ctx, sessionID, func() {
			bo.Reset()
			attempt = 0
		})
		if ctx.Err() != nil {
			return
		}
		state := model.ConnectionState{State: model.ConnReconnecting}
		if err != nil {
			state.LastError = err.Error()
		}
		if err == nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			c.setState(sessionID, model.ConnectionState{State: model.ConnClosed})
		}
		attempt++
		state.Attempt = attempt
		c.setState(sessionID, state)

		delay := bo.NextBackOff()
		c.l.Info("connection lost, reconnecting",
			log.String("session", sessionID),
			log.Int("attempt", attempt),
			log.Duration("delay", delay),
			log.ErrorField(err))
		if c.onRetry != nil {
			c.onRetry(attempt, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

//nolint:whitespace // can't make both editor and linter happy
func (c *Client) connectAndRead(ctx context.Context, sessionID string,
	onOpen func(),
) error {
	connID := uuid.New().String()
	l := c.l.With(log.String("session", sessionID), log.String("conn", connID))
	target := c.urlFor(sessionID)
	conn, resp, err := c.dialer.DialContext(ctx, target, http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		l.Debug("dial failed", log.String("url", target), log.ErrorField(err))
		return err
	}
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return ctx.Err()
	}
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	onOpen()
	c.setState(sessionID, model.ConnectionState{State: model.ConnOpen})
	l.Info("connected", log.String("url", target))

	conn.SetReadLimit(maxFrameSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	})
	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.pingLoop(conn, pingDone)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleFrame(sessionID, data, l)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.readTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil,
				time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// handleFrame applies a single inbound frame. Invalid frames are counted and dropped.
func (c *Client) handleFrame(sessionID string, data []byte, l *log.Logger) {
	frame, ts, err := DecodeFrame(data, c.location)
	if err != nil {
		c.discarded.Add(1)
		l.Debug("discarding frame", log.ErrorField(err))
		return
	}
	c.decoded.Add(1)
	if frame.SessionID != sessionID || !c.store.IsActive(sessionID) {
		c.stale.Add(1)
		l.Debug("ignoring frame for other session", log.String("frameSession", frame.SessionID))
		return
	}
	n := c.store.ApplyTelemetryBatch(sessionID, Samples(frame, ts))
	c.applied.Add(int64(n))
}

func (c *Client) setState(sessionID string, state model.ConnectionState) {
	c.mu.Lock()
	prev := c.state.State
	c.state = state
	c.mu.Unlock()
	if prev != state.State {
		c.l.Debug("connection state changed",
			log.String("session", sessionID),
			log.Stringer("from", prev),
			log.Stringer("to", state.State))
	}
	c.store.SetConnectionState(sessionID, state)
}

func (c *Client) setupMetrics() {
	meter := otel.GetMeterProvider().Meter("rsl.stream")
	for _, d := range []struct {
		name, desc string
		value      *atomic.Int64
	}{
		{"rsl.stream.frames.decoded", "Number of valid frames", &c.decoded},
		{"rsl.stream.frames.discarded", "Number of malformed frames", &c.discarded},
		{"rsl.stream.frames.stale", "Number of frames for inactive sessions", &c.stale},
		{"rsl.stream.samples.applied", "Number of accepted telemetry samples", &c.applied},
	} {
		value := d.value
		if _, err := meter.Int64ObservableCounter(
			d.name,
			metric.WithDescription(d.desc),
			metric.WithUnit("{count}"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(value.Load())
				return nil
			})); err != nil {
			c.l.Error("failed to register metric",
				log.String("metric", d.name), log.ErrorField(err))
		}
	}
}
