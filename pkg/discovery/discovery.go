package discovery

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"time"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
	"github.com/uniwire/uniwire-go/pkg/transport"
)

// mDNS service types.
const (
	// ServiceTypeUDP advertises listeners whose transport runs over
	// UDP: quic, webtransport, and webrtc rendezvous points.
	ServiceTypeUDP = "_uniwire._udp"

	// ServiceTypeTCP advertises listeners whose transport runs over
	// TCP: ws and wss.
	ServiceTypeTCP = "_uniwire._tcp"

	// Domain is the mDNS domain.
	Domain = "local"
)

// TXT record keys.
const (
	// TXTKeyScheme holds the endpoint scheme (quic, ws, wss, webrtc,
	// webtransport). Required; entries without it are not ours.
	TXTKeyScheme = "k"

	// TXTKeyProtocols holds comma-separated application protocol ids.
	TXTKeyProtocols = "p"

	// TXTKeyFingerprint holds a short certificate fingerprint.
	TXTKeyFingerprint = "fp"
)

// DefaultTTL is the record TTL applied when an announcement does not
// set one.
const DefaultTTL = 120 * time.Second

// Announcement describes one advertised listener.
type Announcement struct {
	// Instance names the service instance. Required; must be unique
	// on the link.
	Instance string

	// Endpoint supplies the scheme and port. The host part is not
	// published; browsers resolve the advertising host's addresses.
	Endpoint endpoint.Endpoint

	// Protocols lists application protocol ids offered on the
	// endpoint.
	Protocols []string

	// Fingerprint identifies the listener certificate. See
	// Fingerprint.
	Fingerprint string

	// Interface restricts advertising to one named interface. Empty
	// means all multicast-capable interfaces.
	Interface string

	// TTL overrides DefaultTTL.
	TTL time.Duration
}

// ForListener builds an announcement for a bound listener, publishing
// its resolved port, its protocols, and its certificate fingerprint.
func ForListener(instance string, l transport.Listener) Announcement {
	ep := l.Endpoint()
	ann := Announcement{
		Instance:  instance,
		Endpoint:  ep,
		Protocols: ep.Security.Protocols,
	}
	if len(ep.Security.Certificates) > 0 {
		ann.Fingerprint = Fingerprint(ep.Security.Certificates[0])
	}
	return ann
}

// Fingerprint returns the TXT form of a certificate identity: the
// first 64 bits of SHA-256 over the leaf DER, in hex. It identifies a
// listener across browses; it is too short to pin trust on.
func Fingerprint(cert tls.Certificate) string {
	if len(cert.Certificate) == 0 {
		return ""
	}
	sum := sha256.Sum256(cert.Certificate[0])
	return hex.EncodeToString(sum[:8])
}

// serviceTypeFor maps an endpoint kind to its mDNS service type.
func serviceTypeFor(kind endpoint.Kind) string {
	if kind == endpoint.KindWebSocket {
		return ServiceTypeTCP
	}
	return ServiceTypeUDP
}
