// Package quic adapts QUIC connections to the uniform session contract.
//
// A session is one QUIC connection carrying one bidirectional stream.
// Messages travel on the stream as length-prefixed frames. ALPN
// negotiates the application protocol during the handshake, and a
// four-byte hello exchange on the stream pins the session wire version
// before the first message flows.
//
// Liveness is native: the keepalive interval maps to QUIC PING frames
// and the idle timeout to the connection's idle timer, so no watchdog
// runs in the adapter. Repeat dials resume TLS sessions and may carry
// the hello in 0-RTT data.
package quic
