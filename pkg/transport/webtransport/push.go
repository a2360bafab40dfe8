package webtransport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	wt "github.com/quic-go/webtransport-go"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
	"github.com/uniwire/uniwire-go/pkg/log"
	"github.com/uniwire/uniwire-go/pkg/transport"
)

// errPushOneWay explains operations against the dead direction of a
// push stream.
var errPushOneWay = errors.New("push sessions carry data one way")

// pushSender is the send-only session over an outgoing push stream.
// Closing it finishes the stream; the receiving side observes a clean
// close once the buffered frames drain.
type pushSender struct {
	id     string
	parent *Session
	stream wt.SendStream
	writer *transport.FrameWriter
	logger log.Logger

	state atomic.Int32

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

var _ transport.Session = (*pushSender)(nil)

func newPushSender(parent *Session, stream wt.SendStream) *pushSender {
	ps := &pushSender{
		id:     uuid.New().String(),
		parent: parent,
		stream: stream,
		writer: transport.NewFrameWriterWithMaxSize(stream, parent.opts.MaxMessageSize),
		logger: parent.opts.Logger,
		done:   make(chan struct{}),
	}
	ps.state.Store(int32(transport.StateOpen))

	transport.LogSessionState(ps.logger, ps.id, endpoint.KindWebTransport, parent.RemoteAddr(), log.DirectionOut, transport.StateConnecting, transport.StateOpen, "push")

	// A push stream cannot outlive its session.
	go func() {
		select {
		case <-parent.Done():
			_ = ps.Close()
		case <-ps.done:
		}
	}()

	return ps
}

// ID returns the push session identifier.
func (ps *pushSender) ID() string { return ps.id }

// Kind returns the transport kind.
func (ps *pushSender) Kind() endpoint.Kind { return endpoint.KindWebTransport }

// State returns the current lifecycle state.
func (ps *pushSender) State() transport.State { return transport.State(ps.state.Load()) }

// LocalAddr returns the local network address of the parent session.
func (ps *pushSender) LocalAddr() net.Addr { return ps.parent.LocalAddr() }

// RemoteAddr returns the peer network address of the parent session.
func (ps *pushSender) RemoteAddr() net.Addr { return ps.parent.RemoteAddr() }

// Send transmits data as one frame on the push stream.
func (ps *pushSender) Send(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return transport.ErrMessageEmpty
	}

	select {
	case <-ps.done:
		return &transport.SendError{Kind: transport.SendClosed}
	default:
	}

	ps.writeMu.Lock()
	defer ps.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = ps.stream.SetWriteDeadline(deadline)
		defer ps.stream.SetWriteDeadline(time.Time{})
	}

	if err := ps.writer.WriteFrame(data); err != nil {
		var se *transport.SendError
		if errors.As(err, &se) {
			return err
		}
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return &transport.SendError{Kind: transport.SendWouldBlock, Cause: err}
			}
			return ctx.Err()
		}
		return &transport.SendError{Kind: transport.SendClosed, Cause: err}
	}

	transport.LogFrame(ps.logger, ps.id, endpoint.KindWebTransport, ps.RemoteAddr(), log.DirectionOut, len(data))
	return nil
}

// Receive always reports Closed: nothing ever arrives on an outgoing
// push stream.
func (ps *pushSender) Receive(ctx context.Context) ([]byte, error) {
	return nil, &transport.ReceiveError{Kind: transport.ReceiveClosed, Cause: errPushOneWay}
}

// Close finishes the push stream. Idempotent; repeat calls return nil.
func (ps *pushSender) Close() error {
	ps.closeOnce.Do(func() {
		remote := ps.RemoteAddr()
		if ps.state.CompareAndSwap(int32(transport.StateOpen), int32(transport.StateClosing)) {
			transport.LogSessionState(ps.logger, ps.id, endpoint.KindWebTransport, remote, log.DirectionOut, transport.StateOpen, transport.StateClosing, "")
		}
		ps.closeErr = ps.stream.Close()
		old := transport.State(ps.state.Swap(int32(transport.StateClosed)))
		transport.LogSessionState(ps.logger, ps.id, endpoint.KindWebTransport, remote, log.DirectionOut, old, transport.StateClosed, "")
		close(ps.done)
	})
	return ps.closeErr
}

// Done returns a channel that closes when the push session ends.
func (ps *pushSender) Done() <-chan struct{} { return ps.done }

// CloseReason reports nil: push senders only ever close locally.
func (ps *pushSender) CloseReason() error { return nil }

// pushReceiveCarrier adapts an inbound push stream to the session
// engine. The stream is one way: writes are refused with NotConnected,
// and the sender finishing the stream surfaces as a clean close.
type pushReceiveCarrier struct {
	sess   *wt.Session
	stream wt.ReceiveStream
	reader *transport.FrameReader

	closeOnce sync.Once
}

var _ transport.Carrier = (*pushReceiveCarrier)(nil)

func (c *pushReceiveCarrier) ReadMessage() ([]byte, error) {
	data, err := c.reader.ReadFrame()
	if err != nil {
		return nil, mapReadError(err)
	}
	return data, nil
}

func (c *pushReceiveCarrier) WriteMessage(ctx context.Context, data []byte) error {
	return &transport.SendError{Kind: transport.SendNotConnected, Cause: errPushOneWay}
}

func (c *pushReceiveCarrier) Close() error {
	c.closeOnce.Do(func() { c.stream.CancelRead(streamCancel) })
	return nil
}

// LocalAddr returns the local network address of the parent session.
func (c *pushReceiveCarrier) LocalAddr() net.Addr { return c.sess.LocalAddr() }

// RemoteAddr returns the peer network address of the parent session.
func (c *pushReceiveCarrier) RemoteAddr() net.Addr { return c.sess.RemoteAddr() }
