package webtransport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"
	wt "github.com/quic-go/webtransport-go"

	"github.com/uniwire/uniwire-go/pkg/transport"
)

// Application-level close codes carried in the session close capsule.
// The peer maps them back into the error taxonomy. They mirror the QUIC
// adapter's connection close codes.
const (
	codeNormalClosure     wt.SessionErrorCode = 0x0
	codeConnectionRefused wt.SessionErrorCode = 0x1
	codeProtocolViolation wt.SessionErrorCode = 0x2
	codeMessageTooLarge   wt.SessionErrorCode = 0x3
	codeGoingAway         wt.SessionErrorCode = 0x4
)

// streamCancel resets one half of a push or multiplexed stream on local
// teardown.
const streamCancel wt.StreamErrorCode = 0x0

// wtCarrier adapts one WebTransport session with its session stream to
// the transport.Carrier contract. Messages ride the stream as
// length-prefixed frames, the same wire shape as the QUIC adapter.
// Liveness is inherited from the underlying QUIC connection.
type wtCarrier struct {
	sess   *wt.Session
	stream wt.Stream
	framer *transport.Framer

	closeMu     sync.Mutex
	closeCode   wt.SessionErrorCode
	closeReason string

	closeOnce sync.Once
	closeErr  error
}

var _ transport.Carrier = (*wtCarrier)(nil)

func newCarrier(sess *wt.Session, stream wt.Stream, opts transport.Options) *wtCarrier {
	return &wtCarrier{
		sess:      sess,
		stream:    stream,
		framer:    transport.NewFramerWithMaxSize(stream, opts.MaxMessageSize),
		closeCode: codeNormalClosure,
	}
}

// ReadMessage blocks until one complete frame arrives on the session
// stream.
func (c *wtCarrier) ReadMessage() ([]byte, error) {
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
// the session carrier and push streams. Errors it does not recognize
// pass through for the session engine to classify.
func mapReadError(err error) error {
	if errors.Is(err, transport.ErrMessageTooLarge) {
		return &transport.ReceiveError{Kind: transport.ReceiveReset, Cause: err}
	}
	var serr *wt.SessionError
	if errors.As(err, &serr) {
		if serr.ErrorCode == codeNormalClosure {
			return &transport.ReceiveError{Kind: transport.ReceiveClosed, Cause: err}
		}
		return &transport.ReceiveError{Kind: transport.ReceiveReset, Cause: err}
	}
	var sterr *wt.StreamError
	if errors.As(err, &sterr) {
		return &transport.ReceiveError{Kind: transport.ReceiveReset, Cause: err}
	}
	var ierr *quicgo.IdleTimeoutError
	if errors.As(err, &ierr) {
		return &transport.ReceiveError{Kind: transport.ReceiveTimeout, Cause: err}
	}
	var aerr *quicgo.ApplicationError
	if errors.As(err, &aerr) {
		// The HTTP/3 connection went away underneath the session.
		return &transport.ReceiveError{Kind: transport.ReceiveReset, Cause: err}
	}
	return err
}

// WriteMessage sends data as one frame, honoring the ctx deadline via a
// stream write deadline.
func (c *wtCarrier) WriteMessage(ctx context.Context, data []byte) error {
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
func (c *wtCarrier) armClose(code wt.SessionErrorCode, reason string) {
	c.closeMu.Lock()
	c.closeCode = code
	c.closeReason = reason
	c.closeMu.Unlock()
}

// Close tears down the session, sending the armed close code. The
// peer's pending reads observe it as a session error.
func (c *wtCarrier) Close() error {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		code, reason := c.closeCode, c.closeReason
		c.closeMu.Unlock()
		c.closeErr = c.sess.CloseWithError(code, reason)
	})
	return c.closeErr
}

// LocalAddr returns the local network address.
func (c *wtCarrier) LocalAddr() net.Addr { return c.sess.LocalAddr() }

// RemoteAddr returns the peer network address.
func (c *wtCarrier) RemoteAddr() net.Addr { return c.sess.RemoteAddr() }

// newQUICConfig derives the quic-go configuration for the HTTP/3
// connection. WebTransport requires QUIC datagram support.
func newQUICConfig(opts transport.Options) *quicgo.Config {
	cfg := &quicgo.Config{
		MaxIdleTimeout:       opts.IdleTimeout,
		HandshakeIdleTimeout: opts.ConnectTimeout,
		EnableDatagrams:      true,
		Allow0RTT:            true,
	}
	if !opts.KeepAlive.Disabled {
		cfg.KeepAlivePeriod = opts.KeepAlive.Interval
	}
	return cfg
}
