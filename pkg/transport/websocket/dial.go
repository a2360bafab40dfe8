package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
	"github.com/uniwire/uniwire-go/pkg/log"
	"github.com/uniwire/uniwire-go/pkg/transport"
)

// Dial establishes a WebSocket session with the peer at ep. The session
// protocol is offered as a WebSocket subprotocol and must be granted by
// the server. For wss endpoints the TLS handshake uses the endpoint's
// security material; ALPN stays plain HTTP, the subprotocol carries the
// negotiation.
func Dial(ctx context.Context, ep endpoint.Endpoint, opts transport.Options) (transport.Session, error) {
	if ep.Kind != endpoint.KindWebSocket {
		return nil, fmt.Errorf("websocket: cannot dial %s endpoint", ep.Kind)
	}
	opts = opts.WithDefaults()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	protocols := transport.ALPNProtocols(ep.Security)
	dialer := ws.Dialer{Protocols: protocols}
	if ep.TLS {
		dialer.TLSConfig = transport.NewClientTLSConfig(ep.Security, []string{"http/1.1"})
	}

	start := time.Now()
	conn, br, hs, err := dialer.Dial(ctx, ep.String())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		cerr := mapDialError(err)
		transport.LogError(opts.Logger, "", endpoint.KindWebSocket, nil, "connect", cerr)
		return nil, cerr
	}

	if hs.Protocol == "" {
		remote := conn.RemoteAddr()
		_ = conn.Close()
		cerr := &transport.ConnectError{
			Kind:  transport.ConnectProtocolMismatch,
			Cause: fmt.Errorf("server granted no subprotocol, offered %v", protocols),
		}
		transport.LogError(opts.Logger, "", endpoint.KindWebSocket, remote, "connect", cerr)
		return nil, cerr
	}

	if opts.SessionID == "" {
		opts.SessionID = uuid.New().String()
	}

	var source io.Reader = conn
	if br != nil {
		// Frames the server sent right behind the handshake response
		// are sitting in br.
		source = br
	}
	carrier := newCarrier(conn, source, ws.StateClientSide, opts, opts.SessionID)

	transport.LogHandshake(opts.Logger, opts.SessionID, endpoint.KindWebSocket, conn.RemoteAddr(), log.DirectionOut, hs.Protocol, false, time.Since(start))

	sess := transport.NewConn(endpoint.KindWebSocket, carrier, log.DirectionOut, opts)
	startWatchdog(sess, carrier, opts)
	return sess, nil
}

func mapDialError(err error) *transport.ConnectError {
	var se ws.StatusError
	if errors.As(err, &se) {
		// The server refused the upgrade. Listeners at capacity
		// answer 503.
		return &transport.ConnectError{Kind: transport.ConnectUnreachable, Cause: err}
	}
	if errors.Is(err, ws.ErrHandshakeBadSubProtocol) ||
		errors.Is(err, ws.ErrHandshakeBadUpgrade) ||
		errors.Is(err, ws.ErrHandshakeBadConnection) {
		return &transport.ConnectError{Kind: transport.ConnectProtocolMismatch, Cause: err}
	}
	if transport.IsTLSHandshakeError(err) {
		return &transport.ConnectError{Kind: transport.ConnectTLSHandshake, Cause: err}
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &transport.ConnectError{Kind: transport.ConnectTimeout, Cause: err}
	}
	return &transport.ConnectError{Kind: transport.ConnectUnreachable, Cause: err}
}
