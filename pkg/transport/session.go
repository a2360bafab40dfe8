package transport

import (
	"context"
	"net"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
)

// State is the lifecycle state of a session.
// Transitions are monotonic: Connecting -> Open -> Closing -> Closed.
// Closed is terminal and reachable from every state; a handshake or I/O
// failure jumps straight to Closed with a typed reason.
type State int32

const (
	// StateConnecting indicates the transport-native handshake is in
	// progress. Sessions returned by Dial or Accept are already past it.
	StateConnecting State = iota

	// StateOpen indicates an established session carrying traffic.
	StateOpen

	// StateClosing indicates a close is in progress.
	StateClosing

	// StateClosed is terminal. Inspect the session's close reason to
	// distinguish a clean close from a failure.
	StateClosed
)

// stateNone marks the absence of a previous state in lifecycle events.
const stateNone State = -1

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return ""
	}
}

// Session is one bidirectional, ordered, message-oriented conversation
// with a peer, independent of the transport carrying it. Implementations
// exclusively own the native transport handle backing them.
type Session interface {
	// ID returns the unique session identifier.
	ID() string

	// Kind returns the transport kind carrying this session.
	Kind() endpoint.Kind

	// State returns the current lifecycle state.
	State() State

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr

	// RemoteAddr returns the peer's network address.
	RemoteAddr() net.Addr

	// Send transmits data as one message unit. The receiver's Receive
	// returns exactly these bytes in one call. Fails with a *SendError
	// once the session is no longer open; a ctx deadline surfaces as
	// SendWouldBlock.
	Send(ctx context.Context, data []byte) error

	// Receive returns the next complete message from the peer. A ctx
	// deadline surfaces as ReceiveTimeout; caller cancellation returns
	// ctx.Err() and never discards a message already received from the
	// transport.
	Receive(ctx context.Context) ([]byte, error)

	// Close closes the session. Idempotent and safe to call
	// concurrently; pending Send and Receive calls unblock with a
	// Closed error. Repeat calls return nil.
	Close() error

	// Done is closed once the session reaches Closed.
	Done() <-chan struct{}

	// CloseReason reports why the session closed: nil for a clean
	// close (local or peer), otherwise the terminal taxonomy error.
	CloseReason() error
}

// Listener accepts inbound sessions on a bound endpoint.
type Listener interface {
	// Accept returns the next established session from the backlog in
	// arrival order. Blocks until a session is available, ctx ends, or
	// the listener closes (ErrListenerClosed).
	Accept(ctx context.Context) (Session, error)

	// Endpoint returns the endpoint the listener is bound to, with the
	// actual port filled in when the bind address used port 0.
	Endpoint() endpoint.Endpoint

	// Sessions returns a snapshot of the live sessions this listener
	// produced. The listener does not own them; closing the listener
	// leaves accepted sessions running.
	Sessions() []Session

	// Close stops accepting. Sessions still queued in the backlog are
	// closed; already-accepted sessions stay open.
	Close() error
}
