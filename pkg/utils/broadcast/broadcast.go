package broadcast

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/racestate-live/log"
)

// BroadcastServer fans out every value received on the source channel to all
// subscribers. Slow subscribers are skipped after the send timeout, unless
// WithKeepLatest is set.
type BroadcastServer[T any] interface {
	Subscribe() <-chan T
	CancelSubscription(<-chan T)
	Close()
}

type broadcastServer[T any] struct {
	name           string
	source         <-chan T
	listeners      []chan T
	addListener    chan chan T
	removeListener chan (<-chan T)
	ctx            context.Context
	cancel         context.CancelFunc
	done           chan struct{}
	sendTimeout    time.Duration
	bufferSize     int
	keepLatest     bool
	l              *log.Logger
	numRcv         atomic.Int64
	numSnd         atomic.Int64
	numSkip        atomic.Int64
	numListeners   atomic.Int64
}

type Option[T any] func(*broadcastServer[T])

// WithSendTimeout sets how long a single listener may block a delivery
func WithSendTimeout[T any](d time.Duration) Option[T] {
	return func(b *broadcastServer[T]) {
		b.sendTimeout = d
	}
}

// WithBufferSize sets the capacity of subscriber channels
func WithBufferSize[T any](size int) Option[T] {
	return func(b *broadcastServer[T]) {
		b.bufferSize = size
	}
}

// WithKeepLatest makes room for a new value on a slow listener by dropping
// its oldest buffered value, so the newest value is always delivered.
// Requires a buffer size > 0.
func WithKeepLatest[T any]() Option[T] {
	return func(b *broadcastServer[T]) {
		b.keepLatest = true
	}
}

func WithLogger[T any](l *log.Logger) Option[T] {
	return func(b *broadcastServer[T]) {
		b.l = l
	}
}

func NewBroadcastServer[T any](
	name string,
	source <-chan T,
	opts ...Option[T],
) BroadcastServer[T] {
	ctx, cancel := context.WithCancel(context.Background())
	b := &broadcastServer[T]{
		name:           name,
		source:         source,
		addListener:    make(chan chan T),
		removeListener: make(chan (<-chan T)),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		sendTimeout:    50 * time.Millisecond,
		l:              log.Default().Named("broadcast"),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.setupMetrics()
	go b.serve()
	return b
}

// Subscribe returns a channel that is closed when the server is closed.
// After Close a closed channel is returned.
func (b *broadcastServer[T]) Subscribe() <-chan T {
	ch := make(chan T, b.bufferSize)
	select {
	case b.addListener <- ch:
	case <-b.done:
		close(ch)
	}
	return ch
}

func (b *broadcastServer[T]) CancelSubscription(ch <-chan T) {
	select {
	case b.removeListener <- ch:
	case <-b.done:
	}
}

func (b *broadcastServer[T]) Close() {
	b.cancel()
	<-b.done
	b.l.Debug("broadcast server closed",
		log.String("name", b.name),
		log.Int64("rcv", b.numRcv.Load()),
		log.Int64("snd", b.numSnd.Load()),
		log.Int64("skip", b.numSkip.Load()))
}

func (b *broadcastServer[T]) setupMetrics() {
	meter := otel.GetMeterProvider().Meter(fmt.Sprintf("rsl.broadcast.%s", b.name))
	attrs := metric.WithAttributes(attribute.String("name", b.name))
	for _, d := range []struct {
		name, desc string
		value      *atomic.Int64
	}{
		{"rsl.broadcast.rcv", "Number of received messages", &b.numRcv},
		{"rsl.broadcast.snd", "Number of sent messages", &b.numSnd},
		{"rsl.broadcast.skip", "Number of skipped messages", &b.numSkip},
		{"rsl.broadcast.listener", "Number of listeners", &b.numListeners},
	} {
		value := d.value
		if _, err := meter.Int64ObservableGauge(
			d.name,
			metric.WithDescription(d.desc),
			metric.WithUnit("{count}"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(value.Load(), attrs)
				return nil
			})); err != nil {
			b.l.Error("failed to register metric",
				log.String("metric", d.name), log.ErrorField(err))
		}
	}
}

//nolint:cyclop // select loop
func (b *broadcastServer[T]) serve() {
	defer func() {
		for _, listener := range b.listeners {
			close(listener)
		}
		b.listeners = nil
		b.numListeners.Store(0)
		close(b.done)
	}()
	for {
		select {
		case <-b.ctx.Done():
			return
		case ch := <-b.addListener:
			b.listeners = append(b.listeners, ch)
			b.numListeners.Store(int64(len(b.listeners)))
		case ch := <-b.removeListener:
			for i, listener := range b.listeners {
				if listener == ch {
					b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
					close(listener)
					break
				}
			}
			b.numListeners.Store(int64(len(b.listeners)))
		case msg, ok := <-b.source:
			if !ok {
				b.l.Debug("source closed", log.String("name", b.name))
				return
			}
			b.numRcv.Add(1)
			b.deliver(msg)
		}
	}
}

func (b *broadcastServer[T]) deliver(msg T) {
	for _, listener := range b.listeners {
		select {
		case listener <- msg:
			b.numSnd.Add(1)
		default:
			timer := time.NewTimer(b.sendTimeout)
			select {
			case listener <- msg:
				b.numSnd.Add(1)
			case <-timer.C:
				if b.keepLatest {
					b.numSkip.Add(int64(PushLatest(listener, msg)))
					b.numSnd.Add(1)
				} else {
					b.numSkip.Add(1)
				}
			case <-b.ctx.Done():
			}
			timer.Stop()
		}
	}
}

// PushLatest sends v on ch without blocking. If ch is full, the oldest
// buffered values are dropped until v fits. Returns the number of dropped
// values. On an unbuffered channel without a ready receiver v itself is
// dropped.
func PushLatest[T any](ch chan T, v T) (dropped int) {
	if cap(ch) == 0 {
		select {
		case ch <- v:
			return 0
		default:
			return 1
		}
	}
	for {
		select {
		case ch <- v:
			return dropped
		default:
		}
		select {
		case <-ch:
			dropped++
		default:
		}
	}
}
