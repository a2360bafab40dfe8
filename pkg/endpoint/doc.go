// Package endpoint describes where and how a session is established.
//
// An Endpoint is an immutable value: a transport kind, a host and port,
// and the security material consumed during the handshake. Endpoints are
// constructed once, either directly or by parsing the textual address
// form, and then handed to a transport adapter:
//
//	ep, err := endpoint.Parse("quic://device.local:4433")
//	ep = ep.WithSecurity(endpoint.Security{RootCAs: pool})
//
// # Address form
//
// Addresses use scheme://host:port with one scheme per transport kind:
//
//	quic://host:port          QUIC, always TLS 1.3
//	ws://host:port            WebSocket over plain TCP
//	wss://host:port           WebSocket over TLS
//	webrtc://host:port        WebRTC data channel (host:port is advisory;
//	                          routing happens through signaling)
//	webtransport://host:port  WebTransport over HTTP/3
//
// The port is mandatory. Servers may bind port 0 and read the actual
// port back from the listener.
package endpoint
