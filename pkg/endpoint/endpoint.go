package endpoint

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// Parse errors.
var (
	// ErrUnknownScheme is returned for schemes outside the supported set.
	ErrUnknownScheme = errors.New("unknown endpoint scheme")

	// ErrMissingPort is returned when the address omits the port.
	ErrMissingPort = errors.New("endpoint port is required")
)

// Endpoint is an immutable description of one side of a session: the
// transport kind, the network address, and the security material the
// handshake consumes. Construct it directly or via Parse, then derive
// variants with WithSecurity; never mutate one that has been handed to
// an adapter.
type Endpoint struct {
	// Kind selects the transport adapter.
	Kind Kind

	// Host is a hostname or literal IP address, without brackets.
	Host string

	// Port is the UDP or TCP port. Servers may use 0 to request an
	// ephemeral port.
	Port int

	// TLS reports whether the transport runs over TLS. It is implied
	// true for QUIC and WebTransport and distinguishes ws from wss.
	TLS bool

	// Security is the handshake material for this endpoint.
	Security Security
}

// Parse builds an Endpoint from its scheme://host:port address form.
// The returned Endpoint carries no Security; attach it with WithSecurity.
func Parse(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", raw, err)
	}

	kind, ok := KindFromScheme(u.Scheme)
	if !ok {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w: %q", raw, ErrUnknownScheme, u.Scheme)
	}

	portStr := u.Port()
	if portStr == "" {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", raw, ErrMissingPort)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: invalid port %q", raw, portStr)
	}

	host := u.Hostname()
	if host == "" {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: host is required", raw)
	}

	return Endpoint{
		Kind: kind,
		Host: host,
		Port: port,
		TLS:  schemeUsesTLS(u.Scheme),
	}, nil
}

func schemeUsesTLS(scheme string) bool {
	switch scheme {
	case "quic", "wss", "webtransport":
		return true
	default:
		// webrtc encrypts via DTLS internally; the TLS flag governs
		// the TLS material consumed by this layer.
		return false
	}
}

// WithSecurity returns a copy of the endpoint carrying the given
// security material. For WebSocket endpoints, attaching certificates
// upgrades the scheme to wss.
func (e Endpoint) WithSecurity(sec Security) Endpoint {
	e.Security = sec
	if e.Kind == KindWebSocket && sec.HasCertificates() {
		e.TLS = true
	}
	return e
}

// Scheme returns the URL scheme for the endpoint. For WebSocket
// endpoints it reflects the TLS flag (ws or wss).
func (e Endpoint) Scheme() string {
	if e.Kind == KindWebSocket {
		if e.TLS {
			return "wss"
		}
		return "ws"
	}
	return e.Kind.String()
}

// String renders the scheme://host:port address form.
func (e Endpoint) String() string {
	return e.Scheme() + "://" + e.HostPort()
}

// HostPort joins host and port for dialing or binding, bracketing IPv6
// literals as needed.
func (e Endpoint) HostPort() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// WithPort returns a copy of the endpoint with the port replaced.
// Listeners use it to report the actual port after binding port 0.
func (e Endpoint) WithPort(port int) Endpoint {
	e.Port = port
	return e
}
