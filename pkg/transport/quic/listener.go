package quic

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	quicgo "github.com/quic-go/quic-go"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
	"github.com/uniwire/uniwire-go/pkg/log"
	"github.com/uniwire/uniwire-go/pkg/transport"
)

// Listener accepts QUIC sessions. Connections arriving while the
// backlog is at capacity are refused with an application error before
// any stream is accepted, so overflow never costs the peer an
// established session that dies right after.
type Listener struct {
	id   string
	ep   endpoint.Endpoint
	opts transport.Options

	logger log.Logger

	ln        *quicgo.EarlyListener
	protocols []string

	backlog  *transport.Backlog
	registry *transport.Registry

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ transport.Listener = (*Listener)(nil)

// Listen binds a QUIC listener on ep. Port 0 binds an ephemeral port;
// Endpoint reports the resolved one. Certificates in the endpoint's
// security material are required.
func Listen(ep endpoint.Endpoint, opts transport.Options) (*Listener, error) {
	if ep.Kind != endpoint.KindQUIC {
		return nil, fmt.Errorf("quic: cannot listen on %s endpoint", ep.Kind)
	}
	opts = opts.WithDefaults()

	protos := transport.ALPNProtocols(ep.Security)
	tconf, err := transport.NewServerTLSConfig(ep.Security, protos)
	if err != nil {
		return nil, fmt.Errorf("quic listen: %w", err)
	}

	ln, err := quicgo.ListenAddrEarly(ep.HostPort(), tconf, newQUICConfig(opts))
	if err != nil {
		lerr := transport.MapListenError(err)
		transport.LogError(opts.Logger, "", endpoint.KindQUIC, nil, "listen", lerr)
		return nil, lerr
	}

	if ua, ok := ln.Addr().(*net.UDPAddr); ok {
		ep = ep.WithPort(ua.Port)
	}

	l := &Listener{
		id:        uuid.New().String(),
		ep:        ep,
		opts:      opts,
		logger:    opts.Logger,
		ln:        ln,
		protocols: protos,
		backlog:   transport.NewBacklog(opts.Backlog),
		registry:  transport.NewRegistry(),
		closed:    make(chan struct{}),
	}

	transport.LogListenerState(l.logger, l.id, endpoint.KindQUIC, "", "LISTENING", "")

	go l.acceptLoop()

	return l, nil
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept(context.Background())
		if err != nil {
			select {
			case <-l.closed:
			default:
				transport.LogError(l.logger, l.id, endpoint.KindQUIC, nil, "accept", err)
			}
			return
		}
		go l.handleConn(conn)
	}
}

// handleConn drives the session setup and hands the session to the
// backlog. Runs in its own goroutine per inbound connection. The hello
// exchange happens before waiting for handshake completion so that
// 0-RTT dials finish setup in their first flight.
func (l *Listener) handleConn(conn quicgo.EarlyConnection) {
	start := time.Now()

	if l.backlog.Full() {
		lerr := &transport.ListenError{Kind: transport.ListenBacklogFull}
		transport.LogError(l.logger, l.id, endpoint.KindQUIC, conn.RemoteAddr(), "accept", lerr)
		_ = conn.CloseWithError(codeConnectionRefused, "session backlog full")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.opts.ConnectTimeout)
	defer cancel()
	deadline, _ := ctx.Deadline()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(codeProtocolViolation, "session setup failed")
		return
	}
	if err := transport.ReadHello(stream, deadline); err != nil {
		transport.LogError(l.logger, l.id, endpoint.KindQUIC, conn.RemoteAddr(), "accept", err)
		_ = conn.CloseWithError(codeProtocolViolation, "session setup failed")
		return
	}
	if err := transport.WriteHello(stream, deadline); err != nil {
		_ = conn.CloseWithError(codeProtocolViolation, "session setup failed")
		return
	}

	select {
	case <-conn.HandshakeComplete():
	case <-ctx.Done():
		_ = conn.CloseWithError(codeProtocolViolation, "session setup timed out")
		return
	}

	state := conn.ConnectionState()
	if err := transport.VerifyTLS13(state.TLS); err != nil {
		transport.LogError(l.logger, l.id, endpoint.KindQUIC, conn.RemoteAddr(), "accept", err)
		_ = conn.CloseWithError(codeProtocolViolation, "TLS 1.3 required")
		return
	}
	if err := transport.VerifyNegotiatedProtocol(state.TLS, l.protocols...); err != nil {
		transport.LogError(l.logger, l.id, endpoint.KindQUIC, conn.RemoteAddr(), "accept", err)
		_ = conn.CloseWithError(codeProtocolViolation, "protocol not accepted")
		return
	}

	opts := l.opts
	opts.SessionID = uuid.New().String()

	carrier := newCarrier(conn, stream, opts)

	resumed := state.TLS.DidResume || state.Used0RTT
	transport.LogHandshake(l.logger, opts.SessionID, endpoint.KindQUIC, conn.RemoteAddr(), log.DirectionIn, state.TLS.NegotiatedProtocol, resumed, time.Since(start))

	sess := newSession(transport.NewConn(endpoint.KindQUIC, carrier, log.DirectionIn, opts), conn, opts)

	if !l.backlog.Offer(sess) {
		select {
		case <-l.closed:
			carrier.armClose(codeGoingAway, "listener closed")
			sess.Abort(transport.ErrListenerClosed)
		default:
			// The backlog filled between the admission check and here.
			lerr := &transport.ListenError{Kind: transport.ListenBacklogFull}
			transport.LogError(l.logger, l.id, endpoint.KindQUIC, conn.RemoteAddr(), "accept", lerr)
			carrier.armClose(codeConnectionRefused, "session backlog full")
			sess.Abort(lerr)
		}
		return
	}
	l.registry.Add(sess)
}

// Accept returns the next established session in arrival order.
func (l *Listener) Accept(ctx context.Context) (transport.Session, error) {
	return l.backlog.Accept(ctx)
}

// Endpoint returns the bound endpoint with the resolved port.
func (l *Listener) Endpoint() endpoint.Endpoint { return l.ep }

// Sessions returns a snapshot of live sessions this listener produced.
func (l *Listener) Sessions() []transport.Session { return l.registry.Snapshot() }

// Registry exposes the listener's session registry. The registry does
// not own the sessions; it merely tracks them until they close.
func (l *Listener) Registry() *transport.Registry { return l.registry }

// Close stops accepting and closes sessions still queued in the
// backlog. Sessions already claimed by Accept stay open.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.closeErr = l.ln.Close()
		l.backlog.Close()
		transport.LogListenerState(l.logger, l.id, endpoint.KindQUIC, "LISTENING", "CLOSED", "")
	})
	return l.closeErr
}
