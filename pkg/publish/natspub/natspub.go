// Package natspub distributes race views over NATS and accepts session
// switches on a control subject.
package natspub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mpapenbr/racestate-live/log"
	"github.com/mpapenbr/racestate-live/pkg/model"
	"github.com/mpapenbr/racestate-live/pkg/processing/race"
)

const (
	DefaultPrefix = "rsl"
	idleKey       = "idle"
)

// Activator is implemented by lifecycle.Controller
type Activator interface {
	Activate(sessionID string) (*model.Session, error)
}

type ControlReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type (
	Option    func(*Publisher)
	Publisher struct {
		ctx       context.Context
		conn      *nats.Conn
		prefix    string
		bucket    string
		kv        jetstream.KeyValue
		activator Activator
		sub       *nats.Subscription
		l         *log.Logger
		published atomic.Int64
		closeOnce sync.Once
	}
)

func WithContext(ctx context.Context) Option {
	return func(p *Publisher) {
		p.ctx = ctx
	}
}

func WithPrefix(prefix string) Option {
	return func(p *Publisher) {
		p.prefix = prefix
	}
}

// WithKVBucket keeps the latest view per session in a JetStream KV bucket
func WithKVBucket(bucket string) Option {
	return func(p *Publisher) {
		p.bucket = bucket
	}
}

// WithActivator enables the control subject
func WithActivator(a Activator) Option {
	return func(p *Publisher) {
		p.activator = a
	}
}

func WithLogger(l *log.Logger) Option {
	return func(p *Publisher) {
		p.l = l
	}
}

func New(conn *nats.Conn, opts ...Option) (*Publisher, error) {
	ret := &Publisher{
		ctx:    context.Background(),
		conn:   conn,
		prefix: DefaultPrefix,
		l:      log.Default().Named("nats"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if err := ret.setupKV(); err != nil {
		return nil, err
	}
	if err := ret.setupControl(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (p *Publisher) setupKV() error {
	if p.bucket == "" {
		return nil
	}
	js, err := jetstream.New(p.conn)
	if err != nil {
		return err
	}
	p.kv, err = js.CreateOrUpdateKeyValue(p.ctx, jetstream.KeyValueConfig{
		Bucket:  p.bucket,
		History: 1,
	})
	return err
}

func (p *Publisher) setupControl() error {
	if p.activator == nil {
		return nil
	}
	var err error
	p.sub, err = p.conn.Subscribe(p.ControlSubject(), p.handleControl)
	return err
}

// ViewSubject is the subject views of sessionID are published to
func (p *Publisher) ViewSubject(sessionID string) string {
	return fmt.Sprintf("%s.view.%s", p.prefix, token(sessionID))
}

func (p *Publisher) ControlSubject() string {
	return p.prefix + ".control.activate"
}

// Publish sends the view and stores it as the latest one of its session
func (p *Publisher) Publish(v *race.RaceView) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.ViewSubject(v.SessionID), data); err != nil {
		return err
	}
	p.published.Add(1)
	if p.kv != nil && v.SessionID != "" {
		rev, err := p.kv.Put(p.ctx, token(v.SessionID), data)
		p.l.Debug("view put",
			log.String("key", token(v.SessionID)),
			log.Int("dataLen", len(data)),
			log.Uint64("rev", rev),
			log.ErrorField(err))
		return err
	}
	return nil
}

// Run publishes every view received until the channel is closed or ctx is done
func (p *Publisher) Run(ctx context.Context, views <-chan *race.RaceView) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			if err := p.Publish(v); err != nil {
				p.l.Warn("could not publish view",
					log.String("session", v.SessionID), log.ErrorField(err))
			}
		}
	}
}

// Latest returns the stored json view of sessionID
func (p *Publisher) Latest(ctx context.Context, sessionID string) ([]byte, error) {
	if p.kv == nil {
		return nil, errors.New("no kv bucket configured")
	}
	entry, err := p.kv.Get(ctx, token(sessionID))
	if err != nil {
		return nil, err
	}
	return entry.Value(), nil
}

func (p *Publisher) Published() int64 {
	return p.published.Load()
}

func (p *Publisher) handleControl(msg *nats.Msg) {
	sessionID := strings.TrimSpace(string(msg.Data))
	p.l.Info("activate request", log.String("session", sessionID))
	reply := ControlReply{OK: true}
	if _, err := p.activator.Activate(sessionID); err != nil {
		reply = ControlReply{Error: err.Error()}
	}
	data, _ := json.Marshal(reply)
	if err := msg.Respond(data); err != nil {
		p.l.Debug("could not respond", log.ErrorField(err))
	}
}

// Close stops serving the control subject. The connection is left open.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.sub != nil {
			//nolint:errcheck // shutting down
			p.sub.Unsubscribe()
		}
	})
}

// token makes s usable as a single subject token and KV key
func token(s string) string {
	if s == "" {
		return idleKey
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
