package webrtc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
	"github.com/uniwire/uniwire-go/pkg/log"
	"github.com/uniwire/uniwire-go/pkg/signal"
	"github.com/uniwire/uniwire-go/pkg/transport"
)

// Dial negotiates a data channel session with the peer behind the
// signaler: one offer with all candidates gathered, one answer back,
// then the channel opening. The endpoint names the peer; connectivity
// comes from ICE.
func Dial(ctx context.Context, ep endpoint.Endpoint, cfg Config) (transport.Session, error) {
	if ep.Kind != endpoint.KindWebRTC {
		return nil, fmt.Errorf("webrtc: cannot dial %s endpoint", ep.Kind)
	}
	if cfg.Signaler == nil {
		return nil, fmt.Errorf("webrtc: dial needs a signaler")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := cfg.Options.WithDefaults()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	start := time.Now()

	pc, err := newPeerConnection(cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("webrtc: peer connection: %w", err)
	}
	watch := watchConnection(pc)

	fail := func(err error) (transport.Session, error) {
		_ = pc.Close()
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		cerr := toConnectError(err)
		transport.LogError(opts.Logger, "", endpoint.KindWebRTC, nil, "connect", cerr)
		return nil, cerr
	}

	init := &webrtc.DataChannelInit{
		Ordered:        cfg.Ordered,
		MaxRetransmits: cfg.MaxRetransmits,
	}
	if len(ep.Security.Protocols) > 0 {
		init.Protocol = &ep.Security.Protocols[0]
	}
	dc, err := pc.CreateDataChannel(dataChannelLabel, init)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("webrtc: create data channel: %w", err)
	}

	opened := make(chan openResult, 1)
	dc.OnOpen(func() {
		raw, err := dc.Detach()
		opened <- openResult{dc: dc, raw: raw, err: err}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("webrtc: create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("webrtc: set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	peerID := uuid.New().String()
	err = cfg.Signaler.Send(ctx, signal.Message{
		Type:   signal.TypeOffer,
		PeerID: peerID,
		SDP:    pc.LocalDescription().SDP,
	})
	if err != nil {
		return fail(err)
	}

	// Candidates may trickle in ahead of the answer even though this
	// side signals vanilla; hold them until the remote description is
	// set.
	var early []string
	for answered := false; !answered; {
		msg, err := cfg.Signaler.Recv(ctx)
		if err != nil {
			return fail(err)
		}
		if msg.PeerID != "" && msg.PeerID != peerID {
			continue
		}
		switch msg.Type {
		case signal.TypeAnswer:
			desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}
			if err := pc.SetRemoteDescription(desc); err != nil {
				return fail(&transport.ConnectError{Kind: transport.ConnectProtocolMismatch, Cause: err})
			}
			for _, cand := range early {
				_ = pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: cand})
			}
			answered = true
		case signal.TypeCandidate:
			if msg.Candidate != "" {
				early = append(early, msg.Candidate)
			}
		case signal.TypeReject:
			return fail(&transport.ConnectError{
				Kind:  transport.ConnectUnreachable,
				Cause: fmt.Errorf("offer rejected: %s", msg.Reason),
			})
		case signal.TypeBye:
			return fail(&transport.ConnectError{
				Kind:  transport.ConnectUnreachable,
				Cause: errors.New("peer went away"),
			})
		}
	}

	var res openResult
	select {
	case res = <-opened:
		if res.err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("webrtc: detach data channel: %w", res.err)
		}
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
	case <-watch.failed:
		return fail(watch.connectError())
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	if opts.SessionID == "" {
		opts.SessionID = uuid.New().String()
	}

	carrier := newCarrier(pc, dc, res.raw, opts)
	transport.LogHandshake(opts.Logger, opts.SessionID, endpoint.KindWebRTC, carrier.RemoteAddr(), log.DirectionOut, dc.Protocol(), false, time.Since(start))

	return transport.NewConn(endpoint.KindWebRTC, carrier, log.DirectionOut, opts), nil
}

// toConnectError wraps a setup failure into the taxonomy unless it
// already carries a kind.
func toConnectError(err error) *transport.ConnectError {
	var cerr *transport.ConnectError
	if errors.As(err, &cerr) {
		return cerr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &transport.ConnectError{Kind: transport.ConnectTimeout, Cause: err}
	}
	return &transport.ConnectError{Kind: transport.ConnectUnreachable, Cause: err}
}
