package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	quicgo "github.com/quic-go/quic-go"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
	"github.com/uniwire/uniwire-go/pkg/log"
	"github.com/uniwire/uniwire-go/pkg/transport"
)

// clientSessionCache holds TLS session tickets across dials within the
// process, enabling resumption and 0-RTT on repeat connections.
var clientSessionCache = tls.NewLRUClientSessionCache(64)

// Dial establishes a QUIC session with the peer at ep. The connection
// handshake doubles as the session handshake: ALPN negotiates the
// protocol and the hello exchange on the session stream pins the wire
// version.
func Dial(ctx context.Context, ep endpoint.Endpoint, opts transport.Options) (transport.Session, error) {
	if ep.Kind != endpoint.KindQUIC {
		return nil, fmt.Errorf("quic: cannot dial %s endpoint", ep.Kind)
	}
	opts = opts.WithDefaults()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}
	deadline, _ := ctx.Deadline()

	protos := transport.ALPNProtocols(ep.Security)
	tconf := transport.NewClientTLSConfig(ep.Security, protos)
	tconf.ClientSessionCache = clientSessionCache

	start := time.Now()
	conn, err := quicgo.DialAddrEarly(ctx, ep.HostPort(), tconf, newQUICConfig(opts))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		cerr := mapDialError(err)
		transport.LogError(opts.Logger, "", endpoint.KindQUIC, nil, "connect", cerr)
		return nil, cerr
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, abortDial(opts.Logger, conn, err)
	}
	if err := transport.WriteHello(stream, deadline); err != nil {
		return nil, abortDial(opts.Logger, conn, err)
	}
	if err := transport.ReadHello(stream, deadline); err != nil {
		return nil, abortDial(opts.Logger, conn, err)
	}

	if opts.SessionID == "" {
		opts.SessionID = uuid.New().String()
	}

	state := conn.ConnectionState()
	resumed := state.TLS.DidResume || state.Used0RTT
	transport.LogHandshake(opts.Logger, opts.SessionID, endpoint.KindQUIC, conn.RemoteAddr(), log.DirectionOut, state.TLS.NegotiatedProtocol, resumed, time.Since(start))

	carrier := newCarrier(conn, stream, opts)
	return newSession(transport.NewConn(endpoint.KindQUIC, carrier, log.DirectionOut, opts), conn, opts), nil
}

// abortDial tears down a connection whose session setup failed and maps
// the failure.
func abortDial(logger log.Logger, conn quicgo.Connection, err error) *transport.ConnectError {
	cerr := mapHelloError(err)
	_ = conn.CloseWithError(codeProtocolViolation, "session setup failed")
	transport.LogError(logger, "", endpoint.KindQUIC, conn.RemoteAddr(), "connect", cerr)
	return cerr
}

// mapDialError classifies a failure of the QUIC handshake itself.
func mapDialError(err error) *transport.ConnectError {
	var terr *quicgo.TransportError
	if errors.As(err, &terr) && terr.ErrorCode.IsCryptoError() {
		// Crypto-range codes carry the TLS alert in the low byte.
		if uint8(terr.ErrorCode) == alertNoApplicationProtocol {
			return &transport.ConnectError{Kind: transport.ConnectProtocolMismatch, Cause: err}
		}
		return &transport.ConnectError{Kind: transport.ConnectTLSHandshake, Cause: err}
	}
	var verr *quicgo.VersionNegotiationError
	if errors.As(err, &verr) {
		return &transport.ConnectError{Kind: transport.ConnectProtocolMismatch, Cause: err}
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

// mapHelloError classifies a failure of the session setup that follows
// a completed QUIC handshake.
func mapHelloError(err error) *transport.ConnectError {
	var aerr *quicgo.ApplicationError
	if errors.As(err, &aerr) {
		switch aerr.ErrorCode {
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
