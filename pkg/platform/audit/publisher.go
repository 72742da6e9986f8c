package audit

import (
	"context"
	"sync"
	"time"
)

// Publisher hands events to a sink, either synchronously or through a
// buffered channel. Emission must never fail a domain operation: in async
// mode a full buffer drops the event rather than blocking the caller.
type Publisher struct {
	sink  Appender
	inbox chan Event
	wg    sync.WaitGroup
	once  sync.Once

	mu     sync.RWMutex
	closed bool
}

type PublisherOption func(*Publisher)

// WithAsyncBuffer switches the publisher to asynchronous delivery with the
// given buffer size.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		p.inbox = make(chan Event, size)
	}
}

func NewPublisher(sink Appender, opts ...PublisherOption) *Publisher {
	p := &Publisher{sink: sink}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records an event. Timestamps default to now.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if p.inbox == nil {
		return p.sink.Append(ctx, event)
	}

	// The read lock excludes Close, so the inbox cannot be closed mid-send.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil
	}
	select {
	case p.inbox <- event:
	default:
		// Buffer full; the trail is best-effort in async mode.
	}
	return nil
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.inbox {
		_ = p.sink.Append(context.Background(), event)
	}
}

// Close stops accepting events and drains the buffer. Emit calls after Close
// are silently dropped.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.inbox == nil {
			return
		}
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.inbox)
		p.wg.Wait()
	})
}
