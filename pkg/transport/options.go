package transport

import (
	"time"

	"github.com/uniwire/uniwire-go/pkg/log"
)

// Default option values.
const (
	// DefaultConnectTimeout bounds Dial when the caller's ctx carries
	// no deadline.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultIdleTimeout closes sessions with no traffic in either
	// direction.
	DefaultIdleTimeout = 30 * time.Second

	// DefaultInboundBuffer is the number of complete messages buffered
	// per session before the reader blocks.
	DefaultInboundBuffer = 32

	// DefaultBacklog is the number of accepted-but-unclaimed sessions a
	// listener queues before rejecting new ones.
	DefaultBacklog = 16
)

// Options configures dialing and listening. The zero value uses the
// defaults above. Options are copied at Dial/Listen time; there is no
// shared or global configuration.
type Options struct {
	// ConnectTimeout bounds the transport-native handshake when the
	// dial ctx has no deadline of its own.
	ConnectTimeout time.Duration

	// IdleTimeout closes the session when no traffic flows for this
	// long. Keepalive probes count as traffic.
	IdleTimeout time.Duration

	// MaxMessageSize caps a single message in bytes.
	MaxMessageSize uint32

	// InboundBuffer is the per-session inbound message queue length. A
	// full queue blocks the transport reader, exerting backpressure on
	// the peer; messages are never dropped.
	InboundBuffer int

	// Backlog is the listener's accepted-session queue capacity.
	// Overflow is rejected at the protocol level.
	Backlog int

	// KeepAlive configures liveness probing. Transports with native
	// keepalive (QUIC, WebTransport) derive their probe interval from
	// it; the WebSocket adapter runs its own ping loop.
	KeepAlive KeepAliveConfig

	// Logger receives protocol events. Nil disables event logging.
	Logger log.Logger

	// SessionID fixes the session identifier instead of generating a
	// UUID. Useful for correlating logs across layers.
	SessionID string
}

// WithDefaults returns a copy with zero fields replaced by defaults.
func (o Options) WithDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.MaxMessageSize == 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	if o.InboundBuffer <= 0 {
		o.InboundBuffer = DefaultInboundBuffer
	}
	if o.Backlog <= 0 {
		o.Backlog = DefaultBacklog
	}
	o.KeepAlive = o.KeepAlive.withDefaults()
	if o.Logger == nil {
		o.Logger = log.NoopLogger{}
	}
	return o
}
