package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
)

// DefaultALPN is the application protocol identifier offered when the
// endpoint does not name one. Only transports that negotiate ALPN
// natively use it: QUIC offers it directly, WebTransport is pinned to
// h3, and WebSocket negotiates its subprotocol at the HTTP layer.
const DefaultALPN = "uniwire/1"

// ALPNProtocols returns the protocol identifiers a QUIC endpoint offers:
// the endpoint's own list, or DefaultALPN when it names none.
func ALPNProtocols(sec endpoint.Security) []string {
	if len(sec.Protocols) > 0 {
		return sec.Protocols
	}
	return []string{DefaultALPN}
}

// NewClientTLSConfig builds the client half of a TLS 1.3 handshake from
// endpoint security material. protos lists the ALPN identifiers to
// offer; nil offers none and leaves negotiation to the transport.
//
// Session tickets stay enabled so QUIC clients can resume against
// servers they have seen before.
func NewClientTLSConfig(sec endpoint.Security, protos []string) *tls.Config {
	return &tls.Config{
		// TLS 1.3 only - no fallback
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,

		Certificates: sec.Certificates,

		// CA pool for verifying server certificates
		RootCAs: sec.RootCAs,

		// Server name for verification
		ServerName: sec.ServerName,

		NextProtos: protos,

		// Curve preferences for key exchange
		CurvePreferences: []tls.CurveID{
			tls.X25519,    // Recommended
			tls.CurveP256, // Mandatory
		},

		// For testing and first-contact flows only
		InsecureSkipVerify: sec.InsecureSkipVerify,
	}
}

// NewServerTLSConfig builds the server half of a TLS 1.3 handshake.
// At least one certificate is required. When sec.RootCAs is set the
// server demands and verifies a client certificate (mutual TLS).
func NewServerTLSConfig(sec endpoint.Security, protos []string) (*tls.Config, error) {
	if !sec.HasCertificates() {
		return nil, fmt.Errorf("server certificate is required")
	}

	cfg := &tls.Config{
		// TLS 1.3 only - no fallback
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,

		Certificates: sec.Certificates,

		NextProtos: protos,

		// Curve preferences for key exchange
		CurvePreferences: []tls.CurveID{
			tls.X25519,    // Recommended
			tls.CurveP256, // Mandatory
		},
	}

	if sec.RootCAs != nil {
		cfg.ClientCAs = sec.RootCAs
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return cfg, nil
}

// VerifyTLS13 checks that a completed handshake used TLS 1.3.
func VerifyTLS13(state tls.ConnectionState) error {
	if state.Version != tls.VersionTLS13 {
		return fmt.Errorf("TLS version %x is not TLS 1.3 (0x0304)", state.Version)
	}
	return nil
}

// VerifyNegotiatedProtocol checks that the handshake settled on one of
// the accepted application protocols.
func VerifyNegotiatedProtocol(state tls.ConnectionState, accepted ...string) error {
	for _, p := range accepted {
		if state.NegotiatedProtocol == p {
			return nil
		}
	}
	return fmt.Errorf("negotiated protocol %q is not in %v", state.NegotiatedProtocol, accepted)
}

// IsTLSHandshakeError reports whether err stems from certificate
// verification or key exchange rather than unreachability. Adapters use
// it to classify dial failures.
func IsTLSHandshakeError(err error) bool {
	var (
		verify  *tls.CertificateVerificationError
		unknown x509.UnknownAuthorityError
		invalid x509.CertificateInvalidError
		host    x509.HostnameError
		record  tls.RecordHeaderError
		alert   tls.AlertError
	)
	return errors.As(err, &verify) ||
		errors.As(err, &unknown) ||
		errors.As(err, &invalid) ||
		errors.As(err, &host) ||
		errors.As(err, &record) ||
		errors.As(err, &alert)
}
