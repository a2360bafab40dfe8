package webtransport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	quicgo "github.com/quic-go/quic-go"
	wt "github.com/quic-go/webtransport-go"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
	"github.com/uniwire/uniwire-go/pkg/log"
	"github.com/uniwire/uniwire-go/pkg/transport"
)

// clientSessionCache holds TLS session tickets across dials within the
// process, enabling resumption on repeat connections.
var clientSessionCache = tls.NewLRUClientSessionCache(64)

// Dial establishes a WebTransport session with the peer at ep: an
// HTTP/3 CONNECT against https://host:port/ followed by one
// bidirectional stream carrying the session preamble.
func Dial(ctx context.Context, ep endpoint.Endpoint, opts transport.Options) (transport.Session, error) {
	if ep.Kind != endpoint.KindWebTransport {
		return nil, fmt.Errorf("webtransport: cannot dial %s endpoint", ep.Kind)
	}
	opts = opts.WithDefaults()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}
	deadline, _ := ctx.Deadline()

	// The HTTP/3 layer pins ALPN to h3; the preamble identifies the
	// session protocol instead.
	tconf := transport.NewClientTLSConfig(ep.Security, nil)
	tconf.ClientSessionCache = clientSessionCache

	d := wt.Dialer{
		TLSClientConfig: tconf,
		QUICConfig:      newQUICConfig(opts),
	}

	start := time.Now()
	rsp, wtsess, err := d.Dial(ctx, "https://"+ep.HostPort()+"/", http.Header{})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		cerr := mapDialError(rsp, err)
		transport.LogError(opts.Logger, "", endpoint.KindWebTransport, nil, "connect", cerr)
		return nil, cerr
	}

	stream, err := wtsess.OpenStreamSync(ctx)
	if err != nil {
		return nil, abortDial(opts.Logger, wtsess, err)
	}
	if err := transport.WriteHello(stream, deadline); err != nil {
		return nil, abortDial(opts.Logger, wtsess, err)
	}
	if err := transport.ReadHello(stream, deadline); err != nil {
		return nil, abortDial(opts.Logger, wtsess, err)
	}

	if opts.SessionID == "" {
		opts.SessionID = uuid.New().String()
	}

	state := wtsess.ConnectionState()
	resumed := state.TLS.DidResume || state.Used0RTT
	transport.LogHandshake(opts.Logger, opts.SessionID, endpoint.KindWebTransport, wtsess.RemoteAddr(), log.DirectionOut, state.TLS.NegotiatedProtocol, resumed, time.Since(start))

	carrier := newCarrier(wtsess, stream, opts)
	conn := transport.NewConn(endpoint.KindWebTransport, carrier, log.DirectionOut, opts)
	return newSession(conn, wtsess, log.DirectionOut, opts), nil
}

// abortDial tears down a session whose setup failed and maps the
// failure.
func abortDial(logger log.Logger, sess *wt.Session, err error) *transport.ConnectError {
	cerr := mapHelloError(err)
	_ = sess.CloseWithError(codeProtocolViolation, "session setup failed")
	transport.LogError(logger, "", endpoint.KindWebTransport, sess.RemoteAddr(), "connect", cerr)
	return cerr
}

// mapDialError classifies a failed CONNECT. rsp is non-nil when the
// server answered with a status outside 2xx.
func mapDialError(rsp *http.Response, err error) *transport.ConnectError {
	if rsp != nil {
		if rsp.StatusCode == http.StatusServiceUnavailable {
			// Listeners at capacity answer 503.
			return &transport.ConnectError{Kind: transport.ConnectUnreachable, Cause: err}
		}
		if rsp.StatusCode >= 400 {
			// An HTTP/3 server that does not speak WebTransport.
			return &transport.ConnectError{Kind: transport.ConnectProtocolMismatch, Cause: err}
		}
	}
	var terr *quicgo.TransportError
	if errors.As(err, &terr) && terr.ErrorCode.IsCryptoError() {
		// Crypto-range codes carry the TLS alert in the low byte.
		if uint8(terr.ErrorCode) == alertNoApplicationProtocol {
			return &transport.ConnectError{Kind: transport.ConnectProtocolMismatch, Cause: err}
		}
		return &transport.ConnectError{Kind: transport.ConnectTLSHandshake, Cause: err}
	}
	var herr *quicgo.HandshakeTimeoutError
	var ierr *quicgo.IdleTimeoutError
	if errors.As(err, &herr) || errors.As(err, &ierr) || errors.Is(err, context.DeadlineExceeded) {
		return &transport.ConnectError{Kind: transport.ConnectTimeout, Cause: err}
	}
	if transport.IsTLSHandshakeError(err) {
		return &transport.ConnectError{Kind: transport.ConnectTLSHandshake, Cause: err}
	}
	return &transport.ConnectError{Kind: transport.ConnectUnreachable, Cause: err}
}

// alertNoApplicationProtocol is the TLS alert sent when ALPN finds no
// common protocol, here meaning the peer is not an HTTP/3 server.
const alertNoApplicationProtocol = 120

// mapHelloError classifies a failure of the session setup that follows
// a completed CONNECT.
func mapHelloError(err error) *transport.ConnectError {
	var serr *wt.SessionError
	if errors.As(err, &serr) {
		switch serr.ErrorCode {
		case codeConnectionRefused:
			// The listener refused admission, typically at capacity.
			return &transport.ConnectError{Kind: transport.ConnectUnreachable, Cause: err}
		case codeProtocolViolation:
			return &transport.ConnectError{Kind: transport.ConnectProtocolMismatch, Cause: err}
		default:
			return &transport.ConnectError{Kind: transport.ConnectUnreachable, Cause: err}
		}
	}
	if errors.Is(err, transport.ErrHelloMagic) || errors.Is(err, transport.ErrHelloVersion) {
		return &transport.ConnectError{Kind: transport.ConnectProtocolMismatch, Cause: err}
	}
	var ierr *quicgo.IdleTimeoutError
	if errors.As(err, &ierr) || errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return &transport.ConnectError{Kind: transport.ConnectTimeout, Cause: err}
	}
	return &transport.ConnectError{Kind: transport.ConnectUnreachable, Cause: err}
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
