package webtransport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	wt "github.com/quic-go/webtransport-go"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
	"github.com/uniwire/uniwire-go/pkg/log"
	"github.com/uniwire/uniwire-go/pkg/transport"
)

// errClientInitiated explains OpenSession and AcceptSession called from
// the wrong side: WebTransport bidirectional streams are
// client-initiated.
var errClientInitiated = errors.New("bidirectional streams are client-initiated")

// Session is a WebTransport session. Beyond the uniform contract it
// carries unidirectional push streams, opened by either side with
// OpenPush and claimed by the peer with AcceptPush, and additional
// logical sessions multiplexed as bidirectional streams, opened by the
// dialing side with OpenSession and claimed by the acceptor with
// AcceptSession. Both kinds ride the same session and die with it.
type Session struct {
	*transport.Conn

	wt   *wt.Session
	dir  log.Direction
	opts transport.Options
}

var _ transport.Session = (*Session)(nil)

func newSession(conn *transport.Conn, wtsess *wt.Session, dir log.Direction, opts transport.Options) *Session {
	return &Session{Conn: conn, wt: wtsess, dir: dir, opts: opts}
}

// OpenSession opens an additional logical session on the underlying
// connection and returns it once the peer's hello answer arrives, which
// requires the peer to claim the stream with AcceptSession. Only the
// dialing side may open one.
func (s *Session) OpenSession(ctx context.Context) (transport.Session, error) {
	if s.dir != log.DirectionOut {
		return nil, fmt.Errorf("webtransport: open session: %w", errClientInitiated)
	}
	stream, err := s.wt.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("webtransport: open session: %w", err)
	}
	deadline := s.setupDeadline(ctx)
	if err := transport.WriteHello(stream, deadline); err != nil {
		return nil, abortStream(stream, "open session", err)
	}
	if err := transport.ReadHello(stream, deadline); err != nil {
		return nil, abortStream(stream, "open session", err)
	}

	opts := s.opts
	opts.SessionID = uuid.New().String()
	carrier := newStreamCarrier(s.wt, stream, opts)
	return transport.NewConn(endpoint.KindWebTransport, carrier, log.DirectionOut, opts), nil
}

// AcceptSession claims the next logical session the client multiplexed
// onto the connection. Only the accepting side may claim one.
func (s *Session) AcceptSession(ctx context.Context) (transport.Session, error) {
	if s.dir != log.DirectionIn {
		return nil, fmt.Errorf("webtransport: accept session: %w", errClientInitiated)
	}
	stream, err := s.wt.AcceptStream(ctx)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("webtransport: accept session: %w", err)
	}
	deadline := s.setupDeadline(ctx)
	if err := transport.ReadHello(stream, deadline); err != nil {
		return nil, abortStream(stream, "accept session", err)
	}
	if err := transport.WriteHello(stream, deadline); err != nil {
		return nil, abortStream(stream, "accept session", err)
	}

	opts := s.opts
	opts.SessionID = uuid.New().String()
	carrier := newStreamCarrier(s.wt, stream, opts)
	return transport.NewConn(endpoint.KindWebTransport, carrier, log.DirectionIn, opts), nil
}

// OpenPush opens a push stream to the peer and returns the send-only
// session carrying it. Receive on the returned session reports Closed;
// closing it finishes the stream, which the peer observes as a clean
// close.
func (s *Session) OpenPush(ctx context.Context) (transport.Session, error) {
	stream, err := s.wt.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("webtransport: open push: %w", err)
	}
	if err := transport.WriteHello(stream, s.setupDeadline(ctx)); err != nil {
		stream.CancelWrite(streamCancel)
		return nil, fmt.Errorf("webtransport: open push: %w", err)
	}
	return newPushSender(s, stream), nil
}

// AcceptPush claims the next push stream opened by the peer and returns
// the receive-only session carrying it. Send on the returned session
// fails NotConnected.
func (s *Session) AcceptPush(ctx context.Context) (transport.Session, error) {
	stream, err := s.wt.AcceptUniStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("webtransport: accept push: %w", err)
	}
	if err := transport.ReadHello(stream, s.setupDeadline(ctx)); err != nil {
		stream.CancelRead(streamCancel)
		return nil, fmt.Errorf("webtransport: accept push: %w", err)
	}

	opts := s.opts
	opts.SessionID = uuid.New().String()
	carrier := &pushReceiveCarrier{
		sess:   s.wt,
		stream: stream,
		reader: transport.NewFrameReaderWithMaxSize(stream, opts.MaxMessageSize),
	}
	return transport.NewConn(endpoint.KindWebTransport, carrier, log.DirectionIn, opts), nil
}

func (s *Session) setupDeadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(s.opts.ConnectTimeout)
}

// abortStream resets a stream whose session setup failed. The session
// and the streams already riding it stay up.
func abortStream(stream wt.Stream, op string, err error) error {
	stream.CancelRead(streamCancel)
	stream.CancelWrite(streamCancel)
	return fmt.Errorf("webtransport: %s: %w", op, err)
}

// streamCarrier adapts one multiplexed bidirectional stream to the
// transport.Carrier contract. Unlike the session carrier, Close
// finishes only the stream: the peer drains buffered frames and
// observes a clean close while the session keeps serving.
type streamCarrier struct {
	sess   *wt.Session
	stream wt.Stream
	framer *transport.Framer

	closeOnce sync.Once
	closeErr  error
}

var _ transport.Carrier = (*streamCarrier)(nil)

func newStreamCarrier(sess *wt.Session, stream wt.Stream, opts transport.Options) *streamCarrier {
	return &streamCarrier{
		sess:   sess,
		stream: stream,
		framer: transport.NewFramerWithMaxSize(stream, opts.MaxMessageSize),
	}
}

// ReadMessage blocks until one complete frame arrives on the stream.
func (c *streamCarrier) ReadMessage() ([]byte, error) {
	data, err := c.framer.ReadFrame()
	if err != nil {
		return nil, mapReadError(err)
	}
	return data, nil
}

// WriteMessage sends data as one frame, honoring the ctx deadline via a
// stream write deadline.
func (c *streamCarrier) WriteMessage(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.stream.SetWriteDeadline(deadline)
		defer c.stream.SetWriteDeadline(time.Time{})
	}
	return c.framer.WriteFrame(data)
}

// Close finishes the stream after buffered writes flush.
func (c *streamCarrier) Close() error {
	c.closeOnce.Do(func() {
		c.stream.CancelRead(streamCancel)
		c.closeErr = c.stream.Close()
	})
	return c.closeErr
}

// LocalAddr returns the local network address.
func (c *streamCarrier) LocalAddr() net.Addr { return c.sess.LocalAddr() }

// RemoteAddr returns the peer network address.
func (c *streamCarrier) RemoteAddr() net.Addr { return c.sess.RemoteAddr() }
