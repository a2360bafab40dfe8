package websocket

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
	"github.com/uniwire/uniwire-go/pkg/log"
	"github.com/uniwire/uniwire-go/pkg/transport"
)

// Listener accepts WebSocket sessions. Inbound upgrades are refused
// with 503 while the backlog is at capacity, so overflow never costs
// the peer an established session that dies right after.
type Listener struct {
	id   string
	ep   endpoint.Endpoint
	opts transport.Options

	logger log.Logger

	ln        net.Listener
	upgrader  ws.Upgrader
	protocols []string

	backlog  *transport.Backlog
	registry *transport.Registry

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ transport.Listener = (*Listener)(nil)

// statusTryAgainLater is the IANA-registered close code 1013 (Try Again
// Later); gobwas/ws defines no named constant for it.
const statusTryAgainLater ws.StatusCode = 1013

// Listen binds a WebSocket listener on ep. Port 0 binds an ephemeral
// port; Endpoint reports the resolved one. A wss endpoint requires
// certificates in the endpoint's security material.
func Listen(ep endpoint.Endpoint, opts transport.Options) (*Listener, error) {
	if ep.Kind != endpoint.KindWebSocket {
		return nil, fmt.Errorf("websocket: cannot listen on %s endpoint", ep.Kind)
	}
	opts = opts.WithDefaults()

	raw, err := net.Listen("tcp", ep.HostPort())
	if err != nil {
		lerr := transport.MapListenError(err)
		transport.LogError(opts.Logger, "", endpoint.KindWebSocket, nil, "listen", lerr)
		return nil, lerr
	}

	ln := raw
	if ep.TLS {
		tconf, err := transport.NewServerTLSConfig(ep.Security, []string{"http/1.1"})
		if err != nil {
			_ = raw.Close()
			return nil, fmt.Errorf("websocket listen: %w", err)
		}
		ln = tls.NewListener(raw, tconf)
	}

	if ta, ok := raw.Addr().(*net.TCPAddr); ok {
		ep = ep.WithPort(ta.Port)
	}

	l := &Listener{
		id:        uuid.New().String(),
		ep:        ep,
		opts:      opts,
		logger:    opts.Logger,
		ln:        ln,
		protocols: transport.ALPNProtocols(ep.Security),
		backlog:   transport.NewBacklog(opts.Backlog),
		registry:  transport.NewRegistry(),
		closed:    make(chan struct{}),
	}
	l.upgrader = ws.Upgrader{
		Protocol: l.acceptsProtocol,
		OnBeforeUpgrade: func() (ws.HandshakeHeader, error) {
			if l.backlog.Full() {
				lerr := &transport.ListenError{Kind: transport.ListenBacklogFull}
				transport.LogError(l.logger, l.id, endpoint.KindWebSocket, nil, "accept", lerr)
				return nil, ws.RejectConnectionError(
					ws.RejectionStatus(http.StatusServiceUnavailable),
					ws.RejectionReason("session backlog full"),
				)
			}
			return nil, nil
		},
	}

	transport.LogListenerState(l.logger, l.id, endpoint.KindWebSocket, "", "LISTENING", "")

	go l.acceptLoop()

	return l, nil
}

func (l *Listener) acceptsProtocol(p []byte) bool {
	for _, candidate := range l.protocols {
		if string(p) == candidate {
			return true
		}
	}
	return false
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.closed:
			default:
				transport.LogError(l.logger, l.id, endpoint.KindWebSocket, nil, "accept", err)
			}
			return
		}
		go l.handleConn(conn)
	}
}

// handleConn drives the upgrade and hands the session to the backlog.
// Runs in its own goroutine per inbound connection.
func (l *Listener) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(l.opts.ConnectTimeout))
	start := time.Now()
	hs, err := l.upgrader.Upgrade(conn)
	if err != nil {
		// Rejection responses were already written by Upgrade.
		_ = conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	if hs.Protocol == "" {
		// The peer offered no protocol this listener serves.
		l.rejectProtocol(conn)
		return
	}

	opts := l.opts
	opts.SessionID = uuid.New().String()

	carrier := newCarrier(conn, conn, ws.StateServerSide, opts, opts.SessionID)

	transport.LogHandshake(l.logger, opts.SessionID, endpoint.KindWebSocket, conn.RemoteAddr(), log.DirectionIn, hs.Protocol, false, time.Since(start))

	sess := transport.NewConn(endpoint.KindWebSocket, carrier, log.DirectionIn, opts)
	startWatchdog(sess, carrier, opts)

	if !l.backlog.Offer(sess) {
		select {
		case <-l.closed:
			carrier.armClose(ws.StatusGoingAway, "listener closed")
			sess.Abort(transport.ErrListenerClosed)
		default:
			// The backlog filled between the upgrade check and here.
			lerr := &transport.ListenError{Kind: transport.ListenBacklogFull}
			transport.LogError(l.logger, l.id, endpoint.KindWebSocket, conn.RemoteAddr(), "accept", lerr)
			carrier.armClose(statusTryAgainLater, "session backlog full")
			sess.Abort(lerr)
		}
		return
	}
	l.registry.Add(sess)
}

func (l *Listener) rejectProtocol(conn net.Conn) {
	frame := ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusProtocolError, "subprotocol required"))
	_ = conn.SetWriteDeadline(time.Now().Add(controlWriteTimeout))
	_ = ws.WriteFrame(conn, frame)
	_ = conn.Close()
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
		transport.LogListenerState(l.logger, l.id, endpoint.KindWebSocket, "LISTENING", "CLOSED", "")
	})
	return l.closeErr
}
