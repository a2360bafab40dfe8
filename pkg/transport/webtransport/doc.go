// Package webtransport adapts WebTransport sessions to the uniform
// session contract.
//
// A session is one WebTransport session, established by an HTTP/3
// CONNECT, carrying one bidirectional stream. Messages travel on the
// stream as length-prefixed frames, and a four-byte hello exchange on
// the stream pins the session wire version before the first message
// flows. Admission control happens at the HTTP layer: a listener at
// capacity answers the CONNECT with 503.
//
// Beyond the primary stream, a session can open unidirectional push
// streams. The sender holds a send-only Session, the receiver accepts
// a receive-only one, and both close with the parent.
//
// Liveness is native: the keepalive interval maps to QUIC PING frames
// and the idle timeout to the connection's idle timer, so no watchdog
// runs in the adapter.
package webtransport
