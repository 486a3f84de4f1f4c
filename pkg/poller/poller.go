// Package poller pulls the authoritative leaderboard of the active session
// on a fixed interval.
package poller

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpapenbr/racestate-live/log"
	"github.com/mpapenbr/racestate-live/pkg/model"
	"github.com/mpapenbr/racestate-live/pkg/store"
)

const (
	DefaultInterval        = 5 * time.Second
	DefaultUnreliableAfter = 3
)

// LeaderboardSource is satisfied by api.Client
type LeaderboardSource interface {
	GetLeaderboard(ctx context.Context, sessionID string) ([]model.LeaderboardEntry, error)
}

type (
	Option func(*Poller)
	Poller struct {
		src             LeaderboardSource
		store           *store.Store
		interval        time.Duration
		unreliableAfter int
		now             func() time.Time
		l               *log.Logger
		tracer          trace.Tracer
		okCounter       metric.Int64Counter
		failCounter     metric.Int64Counter

		mu        sync.Mutex
		cancel    context.CancelFunc
		wg        sync.WaitGroup
		sessionID string
		status    model.PollStatus
	}
)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		p.interval = d
	}
}

// WithUnreliableAfter sets the number of consecutive failures that flag the poll as unreliable
func WithUnreliableAfter(n int) Option {
	return func(p *Poller) {
		p.unreliableAfter = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		p.now = now
	}
}

func WithLogger(l *log.Logger) Option {
	return func(p *Poller) {
		p.l = l
	}
}

func New(src LeaderboardSource, s *store.Store, opts ...Option) *Poller {
	ret := &Poller{
		src:             src,
		store:           s,
		interval:        DefaultInterval,
		unreliableAfter: DefaultUnreliableAfter,
		now:             time.Now,
		l:               log.Default().Named("poller"),
		tracer:          otel.Tracer("github.com/mpapenbr/racestate-live/pkg/poller"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	meter := otel.Meter("github.com/mpapenbr/racestate-live/pkg/poller")
	var err error
	if ret.okCounter, err = meter.Int64Counter("rsl.poll.success",
		metric.WithDescription("successful leaderboard pulls")); err != nil {
		ret.l.Warn("could not create counter", log.ErrorField(err))
	}
	if ret.failCounter, err = meter.Int64Counter("rsl.poll.failure",
		metric.WithDescription("failed leaderboard pulls")); err != nil {
		ret.l.Warn("could not create counter", log.ErrorField(err))
	}
	return ret
}

// Start begins pulling for sessionID. A running poll loop is stopped first.
// The first pull is issued immediately.
func (p *Poller) Start(sessionID string) {
	p.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.sessionID = sessionID
	p.status = model.PollStatus{}
	p.mu.Unlock()

	p.l.Debug("starting poller",
		log.String("session", sessionID),
		log.Duration("interval", p.interval))
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(ctx, sessionID)
	}()
}

// Stop halts the poll loop and waits for an in-flight pull to return.
// Calling Stop on a stopped poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
	p.l.Debug("poller stopped")
}

// Unreliable reports whether the configured number of consecutive pulls failed
func (p *Poller) Unreliable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.Unreliable
}

func (p *Poller) Status() model.PollStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) loop(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.pull(ctx, sessionID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pull(ctx, sessionID)
		}
	}
}

func (p *Poller) pull(ctx context.Context, sessionID string) {
	pullCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()
	pullCtx, span := p.tracer.Start(pullCtx, "poll leaderboard",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	entries, err := p.src.GetLeaderboard(pullCtx, sessionID)
	if err == nil {
		err = p.store.ReplaceLeaderboard(sessionID, entries)
	}
	if ctx.Err() != nil {
		// stopped while pulling, the result belongs to a retired cycle
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pull failed")
		p.failed(ctx, sessionID, err)
		return
	}
	span.SetAttributes(attribute.Int("leaderboard.entries", len(entries)))
	p.succeeded(ctx, sessionID)
}

func (p *Poller) failed(ctx context.Context, sessionID string, err error) {
	if p.failCounter != nil {
		p.failCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("session.id", sessionID)))
	}
	p.mu.Lock()
	p.status.ConsecutiveFailures++
	p.status.LastError = err.Error()
	becameUnreliable := !p.status.Unreliable &&
		p.status.ConsecutiveFailures >= p.unreliableAfter
	if becameUnreliable {
		p.status.Unreliable = true
	}
	status := p.status
	p.mu.Unlock()

	p.l.Warn("leaderboard pull failed",
		log.String("session", sessionID),
		log.Int("consecutiveFailures", status.ConsecutiveFailures),
		log.ErrorField(err))
	if becameUnreliable {
		p.l.Warn("leaderboard pull marked unreliable", log.String("session", sessionID))
	}
	p.store.SetPollStatus(sessionID, status)
}

func (p *Poller) succeeded(ctx context.Context, sessionID string) {
	if p.okCounter != nil {
		p.okCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("session.id", sessionID)))
	}
	p.mu.Lock()
	recovered := p.status.Unreliable
	p.status = model.PollStatus{LastSuccess: p.now()}
	status := p.status
	p.mu.Unlock()

	if recovered {
		p.l.Info("leaderboard pull recovered", log.String("session", sessionID))
	}
	p.store.SetPollStatus(sessionID, status)
}
