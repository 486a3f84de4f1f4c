// Package lifecycle switches the poller and the stream client between sessions.
package lifecycle

import (
	"sync"

	"github.com/mpapenbr/racestate-live/log"
	"github.com/mpapenbr/racestate-live/pkg/model"
	"github.com/mpapenbr/racestate-live/pkg/store"
)

type (
	// Poller is implemented by poller.Poller
	Poller interface {
		Start(sessionID string)
		Stop()
		Unreliable() bool
	}
	// StreamClient is implemented by stream.Client
	StreamClient interface {
		Connect(sessionID string)
		Disconnect()
	}
	Option     func(*Controller)
	Controller struct {
		store  *store.Store
		poller Poller
		stream StreamClient
		l      *log.Logger

		mu     sync.Mutex
		active string
	}
)

func WithLogger(l *log.Logger) Option {
	return func(c *Controller) {
		c.l = l
	}
}

func New(s *store.Store, p Poller, sc StreamClient, opts ...Option) *Controller {
	ret := &Controller{
		store:  s,
		poller: p,
		stream: sc,
		l:      log.Default().Named("lifecycle"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Activate makes sessionID the tracked session. The running poller and stream
// are stopped before the store is reset and the new pair is started.
// An empty sessionID returns the controller to idle.
func (c *Controller) Activate(sessionID string) (*model.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != "" {
		c.l.Debug("stopping session", log.String("session", c.active))
		c.poller.Stop()
		c.stream.Disconnect()
	}
	session, err := c.store.SetActiveSession(sessionID)
	if err != nil {
		c.active = ""
		//nolint:errcheck // idle is always accepted
		c.store.SetActiveSession("")
		return nil, err
	}
	c.active = sessionID
	if sessionID == "" {
		c.l.Info("idle")
		return nil, nil
	}
	c.poller.Start(sessionID)
	c.stream.Connect(sessionID)
	c.l.Info("session activated", log.String("session", sessionID))
	return session, nil
}

// Deactivate stops tracking. Same as Activate("").
func (c *Controller) Deactivate() {
	//nolint:errcheck // switching to idle does not fail
	c.Activate("")
}

// Active returns the tracked session id, empty when idle
func (c *Controller) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) Idle() bool {
	return c.Active() == ""
}

// Degraded reports whether the leaderboard pull of the active session is unreliable
func (c *Controller) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != "" && c.poller.Unreliable()
}
