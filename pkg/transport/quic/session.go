package quic

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	quicgo "github.com/quic-go/quic-go"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
	"github.com/uniwire/uniwire-go/pkg/log"
	"github.com/uniwire/uniwire-go/pkg/transport"
)

// Session is a QUIC session. Beyond the uniform contract it multiplexes:
// either side opens an additional logical session with OpenSession and
// the peer claims it with AcceptSession, each riding its own stream on
// the shared connection. The first session owns the connection, so
// closing it closes every session multiplexed on it; closing a
// multiplexed session finishes only its stream.
type Session struct {
	*transport.Conn

	conn quicgo.Connection
	opts transport.Options
}

var _ transport.Session = (*Session)(nil)

func newSession(conn *transport.Conn, qconn quicgo.Connection, opts transport.Options) *Session {
	return &Session{Conn: conn, conn: qconn, opts: opts}
}

// OpenSession opens an additional logical session on the connection and
// returns it once the peer's hello answer arrives, which requires the
// peer to claim the stream with AcceptSession.
func (s *Session) OpenSession(ctx context.Context) (*Session, error) {
	stream, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		cerr := mapHelloError(err)
		transport.LogError(s.opts.Logger, s.ID(), endpoint.KindQUIC, s.RemoteAddr(), "connect", cerr)
		return nil, cerr
	}
	deadline := s.setupDeadline(ctx)
	if err := transport.WriteHello(stream, deadline); err != nil {
		return nil, s.abortStream(stream, "connect", err)
	}
	if err := transport.ReadHello(stream, deadline); err != nil {
		return nil, s.abortStream(stream, "connect", err)
	}

	opts := s.opts
	opts.SessionID = uuid.New().String()
	carrier := newStreamCarrier(s.conn, stream, opts)
	return newSession(transport.NewConn(endpoint.KindQUIC, carrier, log.DirectionOut, opts), s.conn, opts), nil
}

// AcceptSession claims the next logical session the peer multiplexed
// onto the connection.
func (s *Session) AcceptSession(ctx context.Context) (*Session, error) {
	stream, err := s.conn.AcceptStream(ctx)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		cerr := mapHelloError(err)
		transport.LogError(s.opts.Logger, s.ID(), endpoint.KindQUIC, s.RemoteAddr(), "accept", cerr)
		return nil, cerr
	}
	deadline := s.setupDeadline(ctx)
	if err := transport.ReadHello(stream, deadline); err != nil {
		return nil, s.abortStream(stream, "accept", err)
	}
	if err := transport.WriteHello(stream, deadline); err != nil {
		return nil, s.abortStream(stream, "accept", err)
	}

	opts := s.opts
	opts.SessionID = uuid.New().String()
	carrier := newStreamCarrier(s.conn, stream, opts)
	return newSession(transport.NewConn(endpoint.KindQUIC, carrier, log.DirectionIn, opts), s.conn, opts), nil
}

func (s *Session) setupDeadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(s.opts.ConnectTimeout)
}

// abortStream resets a stream whose session setup failed and maps the
// failure. The connection and the sessions already riding it stay up.
func (s *Session) abortStream(stream quicgo.Stream, op string, err error) *transport.ConnectError {
	stream.CancelRead(streamCancel)
	stream.CancelWrite(streamCancel)
	cerr := mapHelloError(err)
	transport.LogError(s.opts.Logger, s.ID(), endpoint.KindQUIC, s.RemoteAddr(), op, cerr)
	return cerr
}

// streamCarrier adapts one multiplexed stream to the transport.Carrier
// contract. Unlike the connection carrier, Close finishes only the
// stream: the peer drains buffered frames and observes a clean close
// while the connection keeps serving the sessions still riding it.
type streamCarrier struct {
	conn   quicgo.Connection
	stream quicgo.Stream
	framer *transport.Framer

	closeOnce sync.Once
	closeErr  error
}

var _ transport.Carrier = (*streamCarrier)(nil)

func newStreamCarrier(conn quicgo.Connection, stream quicgo.Stream, opts transport.Options) *streamCarrier {
	return &streamCarrier{
		conn:   conn,
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
func (c *streamCarrier) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the peer network address.
func (c *streamCarrier) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
