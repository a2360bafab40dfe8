package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
	"github.com/uniwire/uniwire-go/pkg/log"
	"github.com/uniwire/uniwire-go/pkg/signal"
	"github.com/uniwire/uniwire-go/pkg/transport"
)

// Listener answers WebRTC offers arriving on its signaler. The
// endpoint is nominal: there is no bound socket, and connectivity
// comes from ICE. Offers arriving while the backlog is at capacity are
// answered with a busy reject before any PeerConnection is built, so
// overflow never costs the peer an established session that dies right
// after. Concurrent negotiations are correlated by the peer ID on
// their messages.
type Listener struct {
	id   string
	ep   endpoint.Endpoint
	cfg  Config
	opts transport.Options

	logger log.Logger
	sig    signal.Signaler

	backlog  *transport.Backlog
	registry *transport.Registry

	mu      sync.Mutex
	pending map[string]chan signal.Message

	cancel    context.CancelFunc
	closed    chan struct{}
	closeOnce sync.Once
}

var _ transport.Listener = (*Listener)(nil)

// Listen starts answering offers on the signaler. The caller keeps
// ownership of the signaler; closing the listener stops consuming it
// without closing it.
func Listen(ep endpoint.Endpoint, cfg Config) (*Listener, error) {
	if ep.Kind != endpoint.KindWebRTC {
		return nil, fmt.Errorf("webrtc: cannot listen on %s endpoint", ep.Kind)
	}
	if cfg.Signaler == nil {
		return nil, fmt.Errorf("webrtc: listen needs a signaler")
	}
	opts := cfg.Options.WithDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		id:       uuid.New().String(),
		ep:       ep,
		cfg:      cfg,
		opts:     opts,
		logger:   opts.Logger,
		sig:      cfg.Signaler,
		backlog:  transport.NewBacklog(opts.Backlog),
		registry: transport.NewRegistry(),
		pending:  make(map[string]chan signal.Message),
		cancel:   cancel,
		closed:   make(chan struct{}),
	}

	transport.LogListenerState(l.logger, l.id, endpoint.KindWebRTC, "", "LISTENING", "")

	go l.recvLoop(ctx)

	return l, nil
}

func (l *Listener) recvLoop(ctx context.Context) {
	for {
		msg, err := l.sig.Recv(ctx)
		if err != nil {
			select {
			case <-l.closed:
			default:
				if !errors.Is(err, signal.ErrClosed) {
					transport.LogError(l.logger, l.id, endpoint.KindWebRTC, nil, "accept", err)
				}
			}
			return
		}
		switch msg.Type {
		case signal.TypeOffer:
			if l.backlog.Full() {
				lerr := &transport.ListenError{Kind: transport.ListenBacklogFull}
				transport.LogError(l.logger, l.id, endpoint.KindWebRTC, nil, "accept", lerr)
				_ = l.sig.Send(ctx, signal.Message{
					Type:   signal.TypeReject,
					PeerID: msg.PeerID,
					Reason: "session backlog full",
				})
				continue
			}
			ch, ok := l.register(msg.PeerID)
			if !ok {
				// A negotiation with this peer ID is already running.
				continue
			}
			go l.answer(ctx, msg, ch)
		case signal.TypeCandidate, signal.TypeBye:
			l.route(msg)
		}
	}
}

// answer drives one negotiation and hands the session to the backlog.
// Runs in its own goroutine per inbound offer.
func (l *Listener) answer(ctx context.Context, offer signal.Message, ch <-chan signal.Message) {
	start := time.Now()
	defer l.unregister(offer.PeerID)

	ctx, cancel := context.WithTimeout(ctx, l.opts.ConnectTimeout)
	defer cancel()

	pc, err := newPeerConnection(l.cfg, l.opts)
	if err != nil {
		transport.LogError(l.logger, l.id, endpoint.KindWebRTC, nil, "accept", err)
		return
	}
	watch := watchConnection(pc)

	opened := make(chan openResult, 1)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			raw, err := dc.Detach()
			select {
			case opened <- openResult{dc: dc, raw: raw, err: err}:
			default:
			}
		})
	})

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(desc); err != nil {
		_ = pc.Close()
		transport.LogError(l.logger, l.id, endpoint.KindWebRTC, nil, "accept", err)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		transport.LogError(l.logger, l.id, endpoint.KindWebRTC, nil, "accept", err)
		return
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		transport.LogError(l.logger, l.id, endpoint.KindWebRTC, nil, "accept", err)
		return
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		_ = pc.Close()
		return
	}

	err = l.sig.Send(ctx, signal.Message{
		Type:   signal.TypeAnswer,
		PeerID: offer.PeerID,
		SDP:    pc.LocalDescription().SDP,
	})
	if err != nil {
		_ = pc.Close()
		return
	}

	var res openResult
wait:
	for {
		select {
		case msg := <-ch:
			switch msg.Type {
			case signal.TypeCandidate:
				if msg.Candidate != "" {
					_ = pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: msg.Candidate})
				}
			case signal.TypeBye:
				_ = pc.Close()
				return
			}
		case res = <-opened:
			break wait
		case <-watch.failed:
			transport.LogError(l.logger, l.id, endpoint.KindWebRTC, nil, "accept", watch.connectError())
			_ = pc.Close()
			return
		case <-ctx.Done():
			_ = pc.Close()
			return
		}
	}
	if res.err != nil {
		_ = pc.Close()
		transport.LogError(l.logger, l.id, endpoint.KindWebRTC, nil, "accept", fmt.Errorf("detach data channel: %w", res.err))
		return
	}

	opts := l.opts
	opts.SessionID = uuid.New().String()

	carrier := newCarrier(pc, res.dc, res.raw, opts)
	transport.LogHandshake(l.logger, opts.SessionID, endpoint.KindWebRTC, carrier.RemoteAddr(), log.DirectionIn, res.dc.Protocol(), false, time.Since(start))

	sess := transport.NewConn(endpoint.KindWebRTC, carrier, log.DirectionIn, opts)

	if !l.backlog.Offer(sess) {
		select {
		case <-l.closed:
			sess.Abort(transport.ErrListenerClosed)
		default:
			// The backlog filled between the admission check and here.
			lerr := &transport.ListenError{Kind: transport.ListenBacklogFull}
			transport.LogError(l.logger, l.id, endpoint.KindWebRTC, carrier.RemoteAddr(), "accept", lerr)
			sess.Abort(lerr)
		}
		return
	}
	l.registry.Add(sess)
}

func (l *Listener) register(peerID string) (chan signal.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.pending[peerID]; exists {
		return nil, false
	}
	ch := make(chan signal.Message, 8)
	l.pending[peerID] = ch
	return ch, true
}

func (l *Listener) unregister(peerID string) {
	l.mu.Lock()
	delete(l.pending, peerID)
	l.mu.Unlock()
}

func (l *Listener) route(msg signal.Message) {
	l.mu.Lock()
	ch := l.pending[msg.PeerID]
	l.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- msg:
	default:
	}
}

// Accept returns the next established session in arrival order.
func (l *Listener) Accept(ctx context.Context) (transport.Session, error) {
	return l.backlog.Accept(ctx)
}

// Endpoint returns the endpoint the listener was created with.
func (l *Listener) Endpoint() endpoint.Endpoint { return l.ep }

// Sessions returns a snapshot of live sessions this listener produced.
func (l *Listener) Sessions() []transport.Session { return l.registry.Snapshot() }

// Registry exposes the listener's session registry. The registry does
// not own the sessions; it merely tracks them until they close.
func (l *Listener) Registry() *transport.Registry { return l.registry }

// Close stops answering offers and closes sessions still queued in the
// backlog. Sessions already claimed by Accept stay open. The signaler
// is left open for its owner.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.cancel()
		l.backlog.Close()
		transport.LogListenerState(l.logger, l.id, endpoint.KindWebRTC, "LISTENING", "CLOSED", "")
	})
	return nil
}
