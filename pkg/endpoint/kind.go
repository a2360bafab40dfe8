package endpoint

import "fmt"

// Kind selects the transport adapter servicing an Endpoint.
type Kind int

const (
	// KindQUIC is a QUIC connection carrying framed messages on a
	// bidirectional stream.
	KindQUIC Kind = iota

	// KindWebSocket is a WebSocket connection, plain or TLS-wrapped.
	KindWebSocket

	// KindWebRTC is a WebRTC data channel negotiated through an external
	// signaling collaborator.
	KindWebRTC

	// KindWebTransport is a WebTransport session over HTTP/3.
	KindWebTransport
)

// String returns the canonical lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindQUIC:
		return "quic"
	case KindWebSocket:
		return "websocket"
	case KindWebRTC:
		return "webrtc"
	case KindWebTransport:
		return "webtransport"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// KindFromScheme maps a URL scheme to its transport kind.
// Both "ws" and "wss" map to KindWebSocket; the scheme's TLS implication
// is carried separately on the Endpoint.
func KindFromScheme(scheme string) (Kind, bool) {
	switch scheme {
	case "quic":
		return KindQUIC, true
	case "ws", "wss":
		return KindWebSocket, true
	case "webrtc":
		return KindWebRTC, true
	case "webtransport":
		return KindWebTransport, true
	default:
		return 0, false
	}
}
