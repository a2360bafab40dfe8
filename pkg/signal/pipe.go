package signal

import (
	"context"
	"sync"
)

// Pipe returns two connected in-memory signalers: messages sent on one
// end arrive at the other. Both ends share a close; closing either
// unblocks pending calls on both. Tests and in-process peers use it in
// place of a networked signaling channel.
func Pipe() (Signaler, Signaler) {
	shared := &pipeShared{closed: make(chan struct{})}
	ab := make(chan Message, pipeBuffer)
	ba := make(chan Message, pipeBuffer)

	a := &pipeEnd{shared: shared, send: ab, recv: ba}
	b := &pipeEnd{shared: shared, send: ba, recv: ab}
	return a, b
}

// pipeBuffer absorbs candidate bursts so trickle ICE does not require
// a reader on the other end at every instant.
const pipeBuffer = 16

type pipeShared struct {
	once   sync.Once
	closed chan struct{}
}

type pipeEnd struct {
	shared *pipeShared
	send   chan<- Message
	recv   <-chan Message
}

func (p *pipeEnd) Send(ctx context.Context, msg Message) error {
	select {
	case <-p.shared.closed:
		return ErrClosed
	default:
	}

	select {
	case p.send <- msg:
		return nil
	case <-p.shared.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Recv(ctx context.Context) (Message, error) {
	select {
	case msg := <-p.recv:
		return msg, nil
	case <-p.shared.closed:
		// Drain messages that raced the close.
		select {
		case msg := <-p.recv:
			return msg, nil
		default:
		}
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.shared.once.Do(func() { close(p.shared.closed) })
	return nil
}

var _ Signaler = (*pipeEnd)(nil)
