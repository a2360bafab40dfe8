package endpoint_test

import (
	"crypto/tls"
	"errors"
	"testing"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKind endpoint.Kind
		wantHost string
		wantPort int
		wantTLS  bool
	}{
		{
			name:     "quic",
			raw:      "quic://device.local:4433",
			wantKind: endpoint.KindQUIC,
			wantHost: "device.local",
			wantPort: 4433,
			wantTLS:  true,
		},
		{
			name:     "plain websocket",
			raw:      "ws://127.0.0.1:8080",
			wantKind: endpoint.KindWebSocket,
			wantHost: "127.0.0.1",
			wantPort: 8080,
			wantTLS:  false,
		},
		{
			name:     "tls websocket",
			raw:      "wss://gateway.example.com:443",
			wantKind: endpoint.KindWebSocket,
			wantHost: "gateway.example.com",
			wantPort: 443,
			wantTLS:  true,
		},
		{
			name:     "webrtc",
			raw:      "webrtc://peer-7:0",
			wantKind: endpoint.KindWebRTC,
			wantHost: "peer-7",
			wantPort: 0,
			wantTLS:  false,
		},
		{
			name:     "webtransport",
			raw:      "webtransport://edge.example.com:4443",
			wantKind: endpoint.KindWebTransport,
			wantHost: "edge.example.com",
			wantPort: 4443,
			wantTLS:  true,
		},
		{
			name:     "ipv6 host",
			raw:      "quic://[::1]:4433",
			wantKind: endpoint.KindQUIC,
			wantHost: "::1",
			wantPort: 4433,
			wantTLS:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := endpoint.Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.raw, err)
			}
			if ep.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", ep.Kind, tt.wantKind)
			}
			if ep.Host != tt.wantHost {
				t.Errorf("Host = %q, want %q", ep.Host, tt.wantHost)
			}
			if ep.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", ep.Port, tt.wantPort)
			}
			if ep.TLS != tt.wantTLS {
				t.Errorf("TLS = %v, want %v", ep.TLS, tt.wantTLS)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{name: "unknown scheme", raw: "http://example.com:80", wantErr: endpoint.ErrUnknownScheme},
		{name: "missing port", raw: "quic://example.com", wantErr: endpoint.ErrMissingPort},
		{name: "missing host", raw: "ws://:8080"},
		{name: "bad port", raw: "ws://example.com:notaport"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := endpoint.Parse(tt.raw)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", tt.raw)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
			}
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	addrs := []string{
		"quic://device.local:4433",
		"ws://127.0.0.1:8080",
		"wss://gateway.example.com:443",
		"webrtc://peer-7:9",
		"webtransport://edge.example.com:4443",
		"quic://[::1]:4433",
	}

	for _, raw := range addrs {
		ep, err := endpoint.Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", raw, err)
		}
		if got := ep.String(); got != raw {
			t.Errorf("String() = %q, want %q", got, raw)
		}
	}
}

func TestWithSecurityUpgradesWebSocket(t *testing.T) {
	ep, err := endpoint.Parse("ws://127.0.0.1:8080")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	sec := endpoint.Security{Certificates: []tls.Certificate{{}}}
	secured := ep.WithSecurity(sec)

	if !secured.TLS {
		t.Error("expected TLS after attaching certificates")
	}
	if secured.Scheme() != "wss" {
		t.Errorf("Scheme() = %q, want wss", secured.Scheme())
	}
	// The original endpoint is unchanged.
	if ep.TLS {
		t.Error("original endpoint mutated")
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind endpoint.Kind
		want string
	}{
		{endpoint.KindQUIC, "quic"},
		{endpoint.KindWebSocket, "websocket"},
		{endpoint.KindWebRTC, "webrtc"},
		{endpoint.KindWebTransport, "webtransport"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(tt.kind), got, tt.want)
		}
	}
}

func TestHostPortIPv6(t *testing.T) {
	ep := endpoint.Endpoint{Kind: endpoint.KindQUIC, Host: "::1", Port: 4433, TLS: true}
	if got := ep.HostPort(); got != "[::1]:4433" {
		t.Errorf("HostPort() = %q, want [::1]:4433", got)
	}
}
