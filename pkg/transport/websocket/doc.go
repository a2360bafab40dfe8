// Package websocket implements the WebSocket transport adapter.
//
// Each message travels as one binary frame, so message boundaries ride
// the protocol itself and no extra framing is needed. The adapter
// answers pings, feeds pongs to the keepalive watchdog, and translates
// close codes into the shared error taxonomy. Plain ws and TLS-backed
// wss endpoints share one code path, differing only in socket setup.
//
// The session protocol is negotiated as a WebSocket subprotocol.
// Dialers offer it, listeners grant it; a connection that negotiates
// none is refused on both sides.
package websocket
