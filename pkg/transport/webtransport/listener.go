package webtransport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	quicgo "github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	wt "github.com/quic-go/webtransport-go"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
	"github.com/uniwire/uniwire-go/pkg/log"
	"github.com/uniwire/uniwire-go/pkg/transport"
)

// Listener accepts WebTransport sessions. CONNECT requests arriving
// while the backlog is at capacity are answered 503 before the upgrade,
// so overflow never costs the peer an established session that dies
// right after.
type Listener struct {
	id   string
	ep   endpoint.Endpoint
	opts transport.Options

	logger log.Logger

	ln  *quicgo.EarlyListener
	wts *wt.Server

	backlog  *transport.Backlog
	registry *transport.Registry

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ transport.Listener = (*Listener)(nil)

// Listen binds a WebTransport listener on ep. Port 0 binds an ephemeral
// port; Endpoint reports the resolved one. Certificates in the
// endpoint's security material are required.
func Listen(ep endpoint.Endpoint, opts transport.Options) (*Listener, error) {
	if ep.Kind != endpoint.KindWebTransport {
		return nil, fmt.Errorf("webtransport: cannot listen on %s endpoint", ep.Kind)
	}
	opts = opts.WithDefaults()

	tconf, err := transport.NewServerTLSConfig(ep.Security, nil)
	if err != nil {
		return nil, fmt.Errorf("webtransport listen: %w", err)
	}

	// The QUIC listener is owned here rather than by the HTTP/3 server
	// so that closing it stops new connections without tearing down
	// sessions already handed out.
	ln, err := quicgo.ListenAddrEarly(ep.HostPort(), http3.ConfigureTLSConfig(tconf), newQUICConfig(opts))
	if err != nil {
		lerr := transport.MapListenError(err)
		transport.LogError(opts.Logger, "", endpoint.KindWebTransport, nil, "listen", lerr)
		return nil, lerr
	}

	if ua, ok := ln.Addr().(*net.UDPAddr); ok {
		ep = ep.WithPort(ua.Port)
	}

	l := &Listener{
		id:       uuid.New().String(),
		ep:       ep,
		opts:     opts,
		logger:   opts.Logger,
		ln:       ln,
		backlog:  transport.NewBacklog(opts.Backlog),
		registry: transport.NewRegistry(),
		closed:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handleUpgrade)
	l.wts = &wt.Server{H3: http3.Server{Handler: mux}}

	transport.LogListenerState(l.logger, l.id, endpoint.KindWebTransport, "", "LISTENING", "")

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
				transport.LogError(l.logger, l.id, endpoint.KindWebTransport, nil, "accept", err)
			}
			return
		}
		go func() {
			_ = l.wts.ServeQUICConn(conn)
		}()
	}
}

// handleUpgrade answers the CONNECT request. Admission is checked
// before the upgrade so refused peers get an HTTP status instead of a
// session that dies immediately.
func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if l.backlog.Full() {
		lerr := &transport.ListenError{Kind: transport.ListenBacklogFull}
		transport.LogError(l.logger, l.id, endpoint.KindWebTransport, nil, "accept", lerr)
		http.Error(w, "session backlog full", http.StatusServiceUnavailable)
		return
	}

	wtsess, err := l.wts.Upgrade(w, r)
	if err != nil {
		transport.LogError(l.logger, l.id, endpoint.KindWebTransport, nil, "accept", err)
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}

	// The session outlives this handler; setup continues elsewhere so
	// the HTTP/3 request goroutine is released.
	go l.handleSession(wtsess, start)
}

// handleSession drives the session setup and hands the session to the
// backlog.
func (l *Listener) handleSession(wtsess *wt.Session, start time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), l.opts.ConnectTimeout)
	defer cancel()
	deadline, _ := ctx.Deadline()

	stream, err := wtsess.AcceptStream(ctx)
	if err != nil {
		_ = wtsess.CloseWithError(codeProtocolViolation, "session setup failed")
		return
	}
	if err := transport.ReadHello(stream, deadline); err != nil {
		transport.LogError(l.logger, l.id, endpoint.KindWebTransport, wtsess.RemoteAddr(), "accept", err)
		_ = wtsess.CloseWithError(codeProtocolViolation, "session setup failed")
		return
	}
	if err := transport.WriteHello(stream, deadline); err != nil {
		_ = wtsess.CloseWithError(codeProtocolViolation, "session setup failed")
		return
	}

	opts := l.opts
	opts.SessionID = uuid.New().String()

	carrier := newCarrier(wtsess, stream, opts)

	state := wtsess.ConnectionState()
	resumed := state.TLS.DidResume || state.Used0RTT
	transport.LogHandshake(l.logger, opts.SessionID, endpoint.KindWebTransport, wtsess.RemoteAddr(), log.DirectionIn, state.TLS.NegotiatedProtocol, resumed, time.Since(start))

	conn := transport.NewConn(endpoint.KindWebTransport, carrier, log.DirectionIn, opts)
	sess := newSession(conn, wtsess, log.DirectionIn, opts)

	if !l.backlog.Offer(sess) {
		select {
		case <-l.closed:
			carrier.armClose(codeGoingAway, "listener closed")
			sess.Abort(transport.ErrListenerClosed)
		default:
			// The backlog filled between the admission check and here.
			lerr := &transport.ListenError{Kind: transport.ListenBacklogFull}
			transport.LogError(l.logger, l.id, endpoint.KindWebTransport, wtsess.RemoteAddr(), "accept", lerr)
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
// backlog. Sessions already claimed by Accept stay open, so the HTTP/3
// machinery serving them keeps running.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.closeErr = l.ln.Close()
		l.backlog.Close()
		transport.LogListenerState(l.logger, l.id, endpoint.KindWebTransport, "LISTENING", "CLOSED", "")
	})
	return l.closeErr
}
