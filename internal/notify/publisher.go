package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Proximyst/ban/internal/punishment/metrics"
)

// ErrBufferFull is returned by Emit when the async buffer cannot take more
// events.
var ErrBufferFull = errors.New("notify buffer full")

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("notify publisher closed")

// Sink delivers events to one destination.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Publisher hands events to a sink, synchronously or through a bounded
// buffer drained by a single goroutine.
type Publisher struct {
	sink    Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	buffer int
	queue  chan Event

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Publisher)

// WithAsyncBuffer switches to asynchronous delivery with a buffer of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		p.buffer = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithPublishTimeout bounds a single asynchronous delivery.
func WithPublishTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.timeout = d
	}
}

func NewPublisher(sink Sink, opts ...Option) *Publisher {
	p := &Publisher{
		sink:    sink,
		logger:  slog.Default(),
		metrics: metrics.New(nil),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer > 0 {
		p.queue = make(chan Event, p.buffer)
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Emit delivers or enqueues event. In async mode a full buffer drops the
// event and returns ErrBufferFull.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.metrics.EventsDropped.Inc()
		return ErrClosed
	}

	if p.queue == nil {
		err := p.sink.Publish(ctx, event)
		p.metrics.ObservePublish(err == nil)
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.queue <- event:
		return nil
	default:
		p.metrics.EventsDropped.Inc()
		return ErrBufferFull
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for event := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.sink.Publish(ctx, event)
		cancel()
		p.metrics.ObservePublish(err == nil)
		if err != nil {
			p.logger.Warn("failed to deliver punishment event",
				"event_id", event.ID, "kind", event.Kind, "error", err)
		}
	}
}

// Close stops accepting events and waits for the buffer to drain.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.queue != nil {
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
