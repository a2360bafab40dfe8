// Package transport provides the session engine shared by every
// transport adapter.
//
// The package handles:
//   - Session lifecycle state (Connecting, Open, Closing, Closed)
//   - The shared error taxonomy (connect, listen, send, receive)
//   - Length-prefixed message framing for stream transports
//   - Listener backlog and the non-owning session registry
//   - TLS 1.3 configuration builders
//   - Keep-alive liveness probing
//
// # Architecture
//
//	┌────────────────────────────────┐
//	│     Session (uniform API)      │
//	├────────────────────────────────┤
//	│    Conn (reader goroutine,     │
//	│  inbound queue, state, close)  │
//	├────────────────────────────────┤
//	│    Carrier (per transport)     │
//	├────────────────────────────────┤
//	│ quic │ websocket │ webrtc │ wt │
//	└────────────────────────────────┘
//
// Adapters implement Carrier over their native library connection and
// hand it to NewConn; Conn supplies everything above the transport. The
// lifecycle is monotonic: a session never leaves Closed, and every
// termination path reports a reason through CloseReason.
//
// # Framing
//
// Stream transports (QUIC, WebTransport) delimit messages with a 4-byte
// big-endian length prefix. Frame transports (WebSocket, WebRTC data
// channels) carry message boundaries natively.
//
// # TLS
//
// All TLS transports require TLS 1.3 with no fallback. Key exchange
// prefers X25519 with P-256 as the mandatory fallback. Session tickets
// stay enabled so QUIC clients can attempt 0-RTT resumption.
package transport
