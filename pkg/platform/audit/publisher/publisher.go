// Package publisher fans audit events out to a Store and optional sinks.
//
// In async mode events are queued on a bounded buffer and written by a
// background goroutine; a full buffer drops the event rather than block the
// request that produced it. Close drains whatever is queued.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"idledger/internal/platform/metrics"
	id "idledger/pkg/domain"
	audit "idledger/pkg/platform/audit"
)

var errBufferFull = errors.New("audit buffer full")

type Publisher struct {
	store   audit.Store
	sinks   []audit.Sink
	logger  *slog.Logger
	metrics *metrics.Metrics

	bufferSize int
	queue      chan audit.Event
	done       chan struct{}

	mu     sync.RWMutex
	closed bool
}

type Option func(*Publisher)

// WithAsyncBuffer enables async mode with a queue of n events.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		p.bufferSize = n
	}
}

func WithSink(sink audit.Sink) Option {
	return func(p *Publisher) {
		p.sinks = append(p.sinks, sink)
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

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufferSize > 0 {
		p.queue = make(chan audit.Event, p.bufferSize)
		p.done = make(chan struct{})
		go p.run()
	}
	return p
}

// Emit records event. It stamps a missing timestamp and category.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if p.queue == nil {
		return p.persist(ctx, event)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return p.persist(ctx, event)
	}
	select {
	case p.queue <- event:
		return nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.IncAuditDropped()
	}
	p.logger.WarnContext(ctx, "audit event dropped", "action", event.Action, "principal", event.Principal)
	return errBufferFull
}

func (p *Publisher) List(ctx context.Context, principal id.Principal) ([]audit.Event, error) {
	return p.store.ListByPrincipal(ctx, principal)
}

// Close stops accepting async work and blocks until the queue is drained.
func (p *Publisher) Close() {
	if p.queue == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	<-p.done
}

func (p *Publisher) run() {
	defer close(p.done)
	for event := range p.queue {
		if err := p.persist(context.Background(), event); err != nil {
			p.logger.Error("failed to persist audit event", "action", event.Action, "error", err)
		}
	}
}

func (p *Publisher) persist(ctx context.Context, event audit.Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		return err
	}
	for _, sink := range p.sinks {
		if err := sink.Append(ctx, event); err != nil {
			p.logger.WarnContext(ctx, "audit sink failed", "action", event.Action, "error", err)
		}
	}
	return nil
}
