package endpoint

import (
	"crypto/tls"
	"crypto/x509"
)

// Security carries the TLS material consumed at handshake time.
//
// It is plain data: adapters read it when building their native TLS or
// DTLS configuration and never mutate it. Servers populate Certificates;
// clients populate RootCAs (or InsecureSkipVerify for tests and
// first-contact flows). Protocols feeds whatever negotiation mechanism
// the transport offers: ALPN for QUIC and WebTransport, the
// Sec-WebSocket-Protocol header for WebSocket, and the data channel
// protocol field for WebRTC.
type Security struct {
	// Certificates are presented to the peer during the handshake.
	// Required for servers on TLS transports.
	Certificates []tls.Certificate

	// RootCAs are the trust anchors used to verify the peer certificate.
	// nil means the host's root set.
	RootCAs *x509.CertPool

	// Protocols lists application protocol identifiers in preference
	// order. Empty means the transport default.
	Protocols []string

	// ServerName overrides the hostname verified against the peer
	// certificate. Empty means the Endpoint host.
	ServerName string

	// InsecureSkipVerify disables peer certificate verification.
	InsecureSkipVerify bool
}

// HasCertificates reports whether server-side TLS material is present.
func (s Security) HasCertificates() bool {
	return len(s.Certificates) > 0
}
