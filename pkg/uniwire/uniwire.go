// Package uniwire is the module's front door. Dial and Listen accept
// any supported endpoint and dispatch to the adapter for its kind, so
// callers that treat transports uniformly never import an adapter
// package.
//
// WebRTC endpoints need a signaling channel; everything else in
// Options applies to all kinds alike. Callers that want WebRTC-only
// knobs such as unordered or partially reliable channels use the
// webrtc adapter package directly. Sessions keep their adapter's
// concrete type underneath, so kind-aware callers may type-assert for
// extras such as stream multiplexing or WebTransport push.
package uniwire

import (
	"context"
	"fmt"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
	"github.com/uniwire/uniwire-go/pkg/signal"
	"github.com/uniwire/uniwire-go/pkg/transport"
	"github.com/uniwire/uniwire-go/pkg/transport/quic"
	"github.com/uniwire/uniwire-go/pkg/transport/webrtc"
	"github.com/uniwire/uniwire-go/pkg/transport/websocket"
	"github.com/uniwire/uniwire-go/pkg/transport/webtransport"
)

// Options bundles the common session options with collaborators only
// some kinds need.
type Options struct {
	transport.Options

	// Signaler carries offer/answer negotiation for webrtc endpoints.
	// Required there, ignored everywhere else. The caller keeps
	// ownership and closes it.
	Signaler signal.Signaler

	// ICEServers lists STUN and TURN servers for webrtc endpoints.
	ICEServers []webrtc.ICEServer
}

func (o Options) webrtcConfig() webrtc.Config {
	return webrtc.Config{
		Options:    o.Options,
		Signaler:   o.Signaler,
		ICEServers: o.ICEServers,
	}
}

// Dial establishes an outbound session to ep.
func Dial(ctx context.Context, ep endpoint.Endpoint, opts Options) (transport.Session, error) {
	switch ep.Kind {
	case endpoint.KindQUIC:
		return quic.Dial(ctx, ep, opts.Options)
	case endpoint.KindWebSocket:
		return websocket.Dial(ctx, ep, opts.Options)
	case endpoint.KindWebRTC:
		return webrtc.Dial(ctx, ep, opts.webrtcConfig())
	case endpoint.KindWebTransport:
		return webtransport.Dial(ctx, ep, opts.Options)
	default:
		return nil, fmt.Errorf("no adapter for endpoint kind %v", ep.Kind)
	}
}

// DialAddr parses raw as an endpoint URL and dials it. The security
// material in sec is attached before dialing.
func DialAddr(ctx context.Context, raw string, sec endpoint.Security, opts Options) (transport.Session, error) {
	ep, err := endpoint.Parse(raw)
	if err != nil {
		return nil, err
	}
	return Dial(ctx, ep.WithSecurity(sec), opts)
}

// Listen binds a listener on ep.
func Listen(ep endpoint.Endpoint, opts Options) (transport.Listener, error) {
	switch ep.Kind {
	case endpoint.KindQUIC:
		return quic.Listen(ep, opts.Options)
	case endpoint.KindWebSocket:
		return websocket.Listen(ep, opts.Options)
	case endpoint.KindWebRTC:
		return webrtc.Listen(ep, opts.webrtcConfig())
	case endpoint.KindWebTransport:
		return webtransport.Listen(ep, opts.Options)
	default:
		return nil, fmt.Errorf("no adapter for endpoint kind %v", ep.Kind)
	}
}

// ListenAddr parses raw as an endpoint URL and listens on it. The
// security material in sec is attached before binding.
func ListenAddr(raw string, sec endpoint.Security, opts Options) (transport.Listener, error) {
	ep, err := endpoint.Parse(raw)
	if err != nil {
		return nil, err
	}
	return Listen(ep.WithSecurity(sec), opts)
}
