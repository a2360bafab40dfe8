package log

import "time"

// Event represents one protocol log event captured by a transport
// adapter. CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID uniquely identifies the session (UUID). Listener-scoped
	// events carry the listener ID instead.
	SessionID string `cbor:"2,keyasint"`

	// Transport names the transport kind (quic, websocket, webrtc,
	// webtransport).
	Transport string `cbor:"3,keyasint"`

	// Direction indicates traffic flow. State and error events use it
	// to distinguish locally from peer-initiated changes.
	Direction Direction `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the peer address (IP:port), when known.
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"7,keyasint,omitempty"`  // Message frames
	Handshake   *HandshakeEvent   `cbor:"8,keyasint,omitempty"`  // Connect/accept completion
	StateChange *StateChangeEvent `cbor:"9,keyasint,omitempty"`  // Lifecycle transitions
	Control     *ControlEvent     `cbor:"10,keyasint,omitempty"` // Ping/pong/close traffic
	Error       *ErrorEventData   `cbor:"11,keyasint,omitempty"` // Failures at any point
}

// Direction indicates the direction of traffic or initiative.
type Direction uint8

const (
	// DirectionIn indicates inbound traffic or a peer-initiated event.
	DirectionIn Direction = 0
	// DirectionOut indicates outbound traffic or a locally initiated event.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryHandshake covers connect and accept completion.
	CategoryHandshake Category = 0
	// CategoryFrame covers one application message on the wire.
	CategoryFrame Category = 1
	// CategoryControl covers transport control traffic (ping/pong/close).
	CategoryControl Category = 2
	// CategoryState covers lifecycle state transitions.
	CategoryState Category = 3
	// CategoryError covers failures.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryHandshake:
		return "HANDSHAKE"
	case CategoryFrame:
		return "FRAME"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures one application message crossing the adapter
// boundary.
type FrameEvent struct {
	// Size is the message payload size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is a prefix of the payload (truncated for large messages;
	// empty unless payload capture is enabled).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// HandshakeEvent captures the completion of a connect or accept.
type HandshakeEvent struct {
	// Protocol is the negotiated application protocol identifier
	// (ALPN value, WebSocket subprotocol, or data channel protocol).
	Protocol string `cbor:"1,keyasint,omitempty"`

	// Resumed indicates session resumption (0-RTT for QUIC-based kinds).
	Resumed bool `cbor:"2,keyasint,omitempty"`

	// Duration is the handshake wall time in nanoseconds.
	Duration time.Duration `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures session and listener lifecycle transitions.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntitySession indicates a session state change.
	StateEntitySession StateEntity = 0
	// StateEntityListener indicates a listener state change.
	StateEntityListener StateEntity = 1
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntitySession:
		return "SESSION"
	case StateEntityListener:
		return "LISTENER"
	default:
		return "UNKNOWN"
	}
}

// ControlEvent captures transport-level control traffic.
type ControlEvent struct {
	// Type of control message.
	Type ControlType `cbor:"1,keyasint"`

	// Code is the close status code, when the transport has one
	// (WebSocket close codes, QUIC application error codes).
	Code *int `cbor:"2,keyasint,omitempty"`

	// Reason is the close reason phrase, if any.
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ControlType indicates the type of control message.
type ControlType uint8

const (
	// ControlPing indicates a ping or keepalive probe.
	ControlPing ControlType = 0
	// ControlPong indicates a pong.
	ControlPong ControlType = 1
	// ControlClose indicates a close signal.
	ControlClose ControlType = 2
)

// String returns the control message type name.
func (c ControlType) String() string {
	switch c {
	case ControlPing:
		return "PING"
	case ControlPong:
		return "PONG"
	case ControlClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures a failure together with its taxonomy kind.
type ErrorEventData struct {
	// Op is the operation that failed (connect, accept, send, receive,
	// close, listen).
	Op string `cbor:"1,keyasint"`

	// Kind is the taxonomy kind name (for example "tls handshake
	// failed" or "backlog full").
	Kind string `cbor:"2,keyasint,omitempty"`

	// Message is the underlying cause, for humans.
	Message string `cbor:"3,keyasint"`
}
