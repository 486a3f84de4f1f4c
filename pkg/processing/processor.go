package processing

import (
	"context"
	"sync"

	"github.com/mpapenbr/racestate-live/log"
	"github.com/mpapenbr/racestate-live/pkg/processing/race"
	"github.com/mpapenbr/racestate-live/pkg/store"
	"github.com/mpapenbr/racestate-live/pkg/utils/broadcast"
)

// Processor recomputes the race view whenever the store reports a change
// and hands the result to its subscribers.
type Processor struct {
	store       *store.Store
	viewOpts    []race.ViewOption
	views       chan *race.RaceView
	bcst        broadcast.BroadcastServer[*race.RaceView]
	l           *log.Logger
	mu          sync.Mutex
	current     *race.RaceView
	lastRev     uint64
	wg          sync.WaitGroup
	cancel      context.CancelFunc
	startedOnce sync.Once
}

type ProcessorOption func(proc *Processor)

func WithViewOptions(opts ...race.ViewOption) ProcessorOption {
	return func(proc *Processor) {
		proc.viewOpts = append(proc.viewOpts, opts...)
	}
}

func WithLogger(l *log.Logger) ProcessorOption {
	return func(proc *Processor) {
		proc.l = l
	}
}

func NewProcessor(s *store.Store, opts ...ProcessorOption) *Processor {
	ret := &Processor{
		store: s,
		views: make(chan *race.RaceView, 16),
		l:     log.Default().Named("processor"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.bcst = broadcast.NewBroadcastServer("views", ret.views,
		broadcast.WithBufferSize[*race.RaceView](4),
		broadcast.WithKeepLatest[*race.RaceView](),
		broadcast.WithLogger[*race.RaceView](ret.l))
	return ret
}

// Start consumes store changes until ctx is done or Stop is called.
// A view for the current state is produced right away.
func (p *Processor) Start(ctx context.Context) {
	p.startedOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		changes := p.store.Subscribe()
		p.Recompute()
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.store.CancelSubscription(changes)
			for {
				select {
				case <-ctx.Done():
					return
				case c, ok := <-changes:
					if !ok {
						return
					}
					// coalesce bursts, the snapshot holds everything anyway
					p.drain(changes)
					p.l.Debug("store changed",
						log.Stringer("kind", c.Kind),
						log.Uint64("rev", c.Revision))
					p.Recompute()
				}
			}
		}()
	})
}

func (p *Processor) drain(changes <-chan store.Change) {
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Stop ends the processing loop and closes all subscriptions
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.bcst.Close()
}

// Recompute builds a view from the current snapshot. Views for revisions
// already emitted are not sent again.
func (p *Processor) Recompute() *race.RaceView {
	snap := p.store.Snapshot()
	p.mu.Lock()
	if p.current != nil && snap.Revision <= p.lastRev {
		ret := p.current
		p.mu.Unlock()
		return ret
	}
	view := race.BuildView(&snap, p.viewOpts...)
	p.current = view
	p.lastRev = snap.Revision
	// sent under the lock so that views are queued in revision order
	if n := broadcast.PushLatest(p.views, view); n > 0 {
		p.l.Debug("view channel full, dropped older views",
			log.Int("dropped", n), log.Uint64("rev", view.Revision))
	}
	p.mu.Unlock()
	return view
}

// Current returns the latest computed view, nil before the first computation
func (p *Processor) Current() *race.RaceView {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Processor) Subscribe() <-chan *race.RaceView {
	return p.bcst.Subscribe()
}

func (p *Processor) CancelSubscription(ch <-chan *race.RaceView) {
	p.bcst.CancelSubscription(ch)
}
