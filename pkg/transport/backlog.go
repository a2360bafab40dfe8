package transport

import (
	"context"
	"sync"
)

// Backlog is a listener's fixed-capacity FIFO of completed inbound
// sessions awaiting Accept. Admission control happens at Offer time so
// adapters can reject overflow at the protocol level before the session
// ever becomes visible.
type Backlog struct {
	mu     sync.Mutex
	ch     chan Session
	closed bool
}

// NewBacklog creates a backlog holding up to capacity sessions.
func NewBacklog(capacity int) *Backlog {
	if capacity <= 0 {
		capacity = DefaultBacklog
	}
	return &Backlog{ch: make(chan Session, capacity)}
}

// Offer enqueues a session without blocking. It reports false when the
// backlog is full or closed; the caller then rejects the session at the
// protocol level.
func (b *Backlog) Offer(s Session) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	select {
	case b.ch <- s:
		return true
	default:
		return false
	}
}

// Accept dequeues the oldest queued session. It blocks until a session
// arrives, ctx ends, or the backlog closes (then ErrListenerClosed).
func (b *Backlog) Accept(ctx context.Context) (Session, error) {
	select {
	case s, ok := <-b.ch:
		if !ok {
			return nil, ErrListenerClosed
		}
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of queued sessions.
func (b *Backlog) Len() int {
	return len(b.ch)
}

// Full reports whether the backlog is at capacity. Adapters use it to
// refuse handshakes early; Offer remains the authority.
func (b *Backlog) Full() bool {
	return len(b.ch) == cap(b.ch)
}

// Close shuts the backlog. Queued sessions that nobody claimed are
// closed; pending and future Accept calls fail with ErrListenerClosed.
func (b *Backlog) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for {
		select {
		case s := <-b.ch:
			_ = s.Close()
		default:
			close(b.ch)
			return
		}
	}
}
