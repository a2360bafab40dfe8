package quic

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/uniwire/uniwire-go/pkg/transport"
)

// Application-level close codes carried in CONNECTION_CLOSE frames.
// The peer maps them back into the error taxonomy.
const (
	codeNormalClosure     quicgo.ApplicationErrorCode = 0x0
	codeConnectionRefused quicgo.ApplicationErrorCode = 0x1
	codeProtocolViolation quicgo.ApplicationErrorCode = 0x2
	codeMessageTooLarge   quicgo.ApplicationErrorCode = 0x3
	codeGoingAway         quicgo.ApplicationErrorCode = 0x4
)

// streamCancel resets one half of a multiplexed stream on local
// teardown.
const streamCancel quicgo.StreamErrorCode = 0x0

// alertNoApplicationProtocol is the TLS alert the peer sends when ALPN
// finds no common protocol.
const alertNoApplicationProtocol = 120

// quicCarrier adapts one QUIC connection with its session stream to the
// transport.Carrier contract. Messages ride the stream as
// length-prefixed frames; connection close codes carry the close
// reason. Liveness is transport-native, so there is no adapter
// watchdog: the QUIC idle timeout surfaces as a receive timeout.
type quicCarrier struct {
	conn   quicgo.Connection
	stream quicgo.Stream
	framer *transport.Framer

	closeMu     sync.Mutex
	closeCode   quicgo.ApplicationErrorCode
	closeReason string

	closeOnce sync.Once
	closeErr  error
}

var _ transport.Carrier = (*quicCarrier)(nil)

func newCarrier(conn quicgo.Connection, stream quicgo.Stream, opts transport.Options) *quicCarrier {
	return &quicCarrier{
		conn:      conn,
		stream:    stream,
		framer:    transport.NewFramerWithMaxSize(stream, opts.MaxMessageSize),
		closeCode: codeNormalClosure,
	}
}

// ReadMessage blocks until one complete frame arrives on the session
// stream.
func (c *quicCarrier) ReadMessage() ([]byte, error) {
	data, err := c.framer.ReadFrame()
	if err != nil {
		if errors.Is(err, transport.ErrMessageTooLarge) {
			c.armClose(codeMessageTooLarge, "message exceeds size limit")
		}
		return nil, mapReadError(err)
	}
	return data, nil
}

// mapReadError translates read failures into the taxonomy. Shared by
// the connection carrier and multiplexed streams. Errors it does not
// recognize pass through for the session engine to classify.
func mapReadError(err error) error {
	if errors.Is(err, transport.ErrMessageTooLarge) {
		return &transport.ReceiveError{Kind: transport.ReceiveReset, Cause: err}
	}
	var aerr *quicgo.ApplicationError
	if errors.As(err, &aerr) {
		if aerr.ErrorCode == codeNormalClosure {
			return &transport.ReceiveError{Kind: transport.ReceiveClosed, Cause: err}
		}
		return &transport.ReceiveError{Kind: transport.ReceiveReset, Cause: err}
	}
	var ierr *quicgo.IdleTimeoutError
	if errors.As(err, &ierr) {
		return &transport.ReceiveError{Kind: transport.ReceiveTimeout, Cause: err}
	}
	var serr *quicgo.StreamError
	if errors.As(err, &serr) {
		return &transport.ReceiveError{Kind: transport.ReceiveReset, Cause: err}
	}
	return err
}

// WriteMessage sends data as one frame, honoring the ctx deadline via a
// stream write deadline.
func (c *quicCarrier) WriteMessage(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.stream.SetWriteDeadline(deadline)
		defer c.stream.SetWriteDeadline(time.Time{})
	}
	return c.framer.WriteFrame(data)
}

// armClose sets the close code the teardown will carry. Effective only
// before the first Close call.
func (c *quicCarrier) armClose(code quicgo.ApplicationErrorCode, reason string) {
	c.closeMu.Lock()
	c.closeCode = code
	c.closeReason = reason
	c.closeMu.Unlock()
}

// Close tears down the connection, sending the armed close code. The
// peer's pending reads observe it as an application error.
func (c *quicCarrier) Close() error {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		code, reason := c.closeCode, c.closeReason
		c.closeMu.Unlock()
		c.closeErr = c.conn.CloseWithError(code, reason)
	})
	return c.closeErr
}

// LocalAddr returns the local network address.
func (c *quicCarrier) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the peer network address.
func (c *quicCarrier) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// maxIncomingStreams caps how many logical sessions a peer may
// multiplex onto one connection, the first session's stream included.
const maxIncomingStreams = 100

// newQUICConfig derives the quic-go configuration from session options.
// Keepalive maps to QUIC PING frames; the idle timeout is enforced by
// the transport itself.
func newQUICConfig(opts transport.Options) *quicgo.Config {
	cfg := &quicgo.Config{
		MaxIdleTimeout:       opts.IdleTimeout,
		HandshakeIdleTimeout: opts.ConnectTimeout,
		MaxIncomingStreams:   maxIncomingStreams,
		Allow0RTT:            true,
	}
	if !opts.KeepAlive.Disabled {
		cfg.KeepAlivePeriod = opts.KeepAlive.Interval
	}
	return cfg
}
