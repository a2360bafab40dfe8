package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
	"github.com/uniwire/uniwire-go/pkg/log"
)

// Carrier is the transport-native half of a session. Adapters implement
// it over their library connection; Conn supplies everything else.
//
// ReadMessage and WriteMessage exchange whole messages: the carrier owns
// framing on stream transports and maps its library's close and reset
// signals to *ReceiveError / *SendError values where it can tell them
// apart. Close must unblock a pending ReadMessage and WriteMessage.
type Carrier interface {
	// ReadMessage blocks until one complete peer message arrives.
	ReadMessage() ([]byte, error)

	// WriteMessage sends data as one message unit, honoring the ctx
	// deadline where the transport supports write deadlines.
	WriteMessage(ctx context.Context, data []byte) error

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr

	// RemoteAddr returns the peer network address.
	RemoteAddr() net.Addr

	// Close tears down the transport connection.
	Close() error
}

// Conn is the session engine shared by every transport adapter. It owns
// the reader goroutine, the bounded inbound queue, lifecycle state,
// close-once semantics, and protocol event logging; the carrier supplies
// transport-native I/O.
//
// Construct it with NewConn after the transport handshake has completed.
type Conn struct {
	id      string
	kind    endpoint.Kind
	carrier Carrier
	opts    Options
	logger  log.Logger

	state atomic.Int32

	inbound chan []byte

	// readErr is written by the reader goroutine before it closes
	// inbound and read only after inbound is observed closed.
	readErr *ReceiveError

	writeMu sync.Mutex

	closeOnce sync.Once

	// closeCh closes on any termination; localCh additionally closes
	// when the termination was locally initiated, so Receive can fail
	// fast instead of draining buffered messages nobody wants.
	closeCh chan struct{}
	localCh chan struct{}

	// closeReason is written once inside closeOnce, before closeCh (and
	// localCh, when local) close.
	closeReason error
}

// Compile-time interface satisfaction check.
var _ Session = (*Conn)(nil)

// NewConn wraps a completed transport handshake in the shared session
// engine. The session starts Open and the reader goroutine starts
// immediately. dir records which side initiated: DirectionOut for
// dialed sessions, DirectionIn for accepted ones.
func NewConn(kind endpoint.Kind, carrier Carrier, dir log.Direction, opts Options) *Conn {
	opts = opts.WithDefaults()

	id := opts.SessionID
	if id == "" {
		id = uuid.New().String()
	}

	c := &Conn{
		id:      id,
		kind:    kind,
		carrier: carrier,
		opts:    opts,
		logger:  opts.Logger,
		inbound: make(chan []byte, opts.InboundBuffer),
		closeCh: make(chan struct{}),
		localCh: make(chan struct{}),
	}
	c.state.Store(int32(StateOpen))

	LogSessionState(c.logger, c.id, c.kind, carrier.RemoteAddr(), dir, StateConnecting, StateOpen, "")

	go c.readLoop()

	return c
}

// ID returns the session identifier.
func (c *Conn) ID() string { return c.id }

// Kind returns the transport kind.
func (c *Conn) Kind() endpoint.Kind { return c.kind }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr { return c.carrier.LocalAddr() }

// RemoteAddr returns the peer network address.
func (c *Conn) RemoteAddr() net.Addr { return c.carrier.RemoteAddr() }

// Done returns a channel that closes when the session reaches Closed.
func (c *Conn) Done() <-chan struct{} { return c.closeCh }

// CloseReason reports why the session ended: nil for a clean close
// (either side), a taxonomy error otherwise. It returns nil while the
// session is still open; readers should wait on Done first.
func (c *Conn) CloseReason() error {
	select {
	case <-c.closeCh:
		return c.closeReason
	default:
		return nil
	}
}

// Send transmits data as one message unit. Calls are serialized; the
// peer receives messages in call order. A ctx deadline bounds the write
// and surfaces as a retryable WouldBlock.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if c.opts.MaxMessageSize > 0 && uint32(len(data)) > c.opts.MaxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), c.opts.MaxMessageSize)
	}

	select {
	case <-c.closeCh:
		return &SendError{Kind: SendClosed}
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.carrier.WriteMessage(ctx, data); err != nil {
		return c.sendError(ctx, err)
	}

	LogFrame(c.logger, c.id, c.kind, c.carrier.RemoteAddr(), log.DirectionOut, len(data))
	return nil
}

func (c *Conn) sendError(ctx context.Context, err error) error {
	var se *SendError
	if errors.As(err, &se) {
		return err
	}
	if ctx.Err() != nil {
		return ctxSendError(ctx.Err())
	}
	select {
	case <-c.closeCh:
		return &SendError{Kind: SendClosed, Cause: err}
	default:
	}
	return &SendError{Kind: SendClosed, Cause: err}
}

// Receive returns the next complete peer message. Messages buffered
// before a peer close are still delivered; after the buffer drains the
// terminal read error surfaces. A locally closed session fails
// immediately. Cancellation never discards a message: a message not
// returned stays queued for the next call.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-c.localCh:
		return nil, c.localReceiveError()
	default:
	}

	select {
	case data, ok := <-c.inbound:
		if !ok {
			return nil, c.drainedReceiveError()
		}
		return data, nil
	case <-c.localCh:
		return nil, c.localReceiveError()
	case <-ctx.Done():
		return nil, ctxReceiveError(ctx.Err())
	}
}

func (c *Conn) localReceiveError() error {
	if re, ok := c.closeReason.(*ReceiveError); ok {
		return re
	}
	return &ReceiveError{Kind: ReceiveClosed}
}

func (c *Conn) drainedReceiveError() error {
	if c.readErr != nil {
		return c.readErr
	}
	return &ReceiveError{Kind: ReceiveClosed}
}

// Close performs a local close. Idempotent and concurrent-safe: the
// first call tears down the carrier and returns its error; subsequent
// calls return nil. Pending sends and receives unblock with Closed.
func (c *Conn) Close() error {
	return c.terminate(nil, log.DirectionOut, true)
}

// Abort terminates the session recording reason, which subsequent
// CloseReason and Receive calls surface. Adapters use it for keepalive
// death and protocol violations.
func (c *Conn) Abort(reason error) {
	c.terminate(reason, log.DirectionOut, true)
}

// terminate drives Open -> Closing -> Closed exactly once. local marks
// locally initiated termination; dir records initiative for the log.
func (c *Conn) terminate(reason error, dir log.Direction, local bool) error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.closeReason = reason
		if local {
			close(c.localCh)
		}

		remote := c.carrier.RemoteAddr()
		why := ""
		if reason != nil {
			why = reason.Error()
		}

		if c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
			LogSessionState(c.logger, c.id, c.kind, remote, dir, StateOpen, StateClosing, why)
		}

		closeErr = c.carrier.Close()

		old := State(c.state.Swap(int32(StateClosed)))
		LogSessionState(c.logger, c.id, c.kind, remote, dir, old, StateClosed, why)

		close(c.closeCh)
	})
	return closeErr
}

// readLoop is the single reader goroutine. It deposits complete
// messages into the bounded inbound queue; a full queue blocks here,
// exerting transport backpressure instead of dropping.
func (c *Conn) readLoop() {
	defer close(c.inbound)

	for {
		data, err := c.carrier.ReadMessage()
		if err != nil {
			rerr := c.toReceiveError(err)
			c.readErr = rerr

			// A clean peer close is not an error reason.
			var reason error
			if rerr.Kind != ReceiveClosed {
				reason = rerr
			}
			c.terminate(reason, log.DirectionIn, false)
			return
		}

		LogFrame(c.logger, c.id, c.kind, c.carrier.RemoteAddr(), log.DirectionIn, len(data))

		select {
		case c.inbound <- data:
		case <-c.localCh:
			return
		}
	}
}

func (c *Conn) toReceiveError(err error) *ReceiveError {
	var re *ReceiveError
	if errors.As(err, &re) {
		return re
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return &ReceiveError{Kind: ReceiveClosed, Cause: err}
	}
	return &ReceiveError{Kind: ReceiveReset, Cause: err}
}
