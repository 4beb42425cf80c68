// Package publisher enriches audit events with request metadata and hands
// them to an audit store, synchronously or through a bounded buffer.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	audit "replate/pkg/platform/audit"
	"replate/pkg/requestcontext"
)

// ErrBufferFull is returned by Emit in async mode when the buffer is saturated.
var ErrBufferFull = errors.New("audit buffer full")

// Publisher fans audit events into a Store.
//
// Sync mode writes in the caller's goroutine and context, so a PostgreSQL
// outbox write joins the caller's transaction. Async mode decouples the write
// and must only be used with stores that do not need the caller's transaction.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger

	buf    chan audit.Event
	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

type Option func(*Publisher)

// WithAsyncBuffer enables async mode with a buffer of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.buf = make(chan audit.Event, n)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.Default(), closed: make(chan struct{})}
	for _, opt := range opts {
		opt(p)
	}
	if p.buf != nil {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Emit records event, filling ID, category, timestamp and request metadata
// from ctx when unset.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	enrich(ctx, &event)

	if p.buf == nil {
		return p.store.Append(ctx, event)
	}

	select {
	case p.buf <- event:
		return nil
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.logger.WarnContext(ctx, "audit buffer full, dropping event",
			"action", event.Action,
			"subject", event.Subject,
			"request_id", event.RequestID,
		)
		return ErrBufferFull
	}
}

// List returns events recorded for one aggregate.
func (p *Publisher) List(ctx context.Context, subject string) ([]audit.Event, error) {
	return p.store.ListBySubject(ctx, subject)
}

// Close drains the async buffer. Emit must not be called after Close.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.buf != nil {
			close(p.buf)
			p.wg.Wait()
		}
		close(p.closed)
	})
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for event := range p.buf {
		if err := p.store.Append(context.Background(), event); err != nil {
			p.logger.Error("failed to persist audit event",
				"action", event.Action,
				"subject", event.Subject,
				"error", err,
			)
		}
	}
}

func enrich(ctx context.Context, event *audit.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.Client == "" {
		event.Client = requestcontext.Client(ctx)
	}
	if event.ClientIP == "" {
		event.ClientIP = requestcontext.ClientIP(ctx)
	}
}
