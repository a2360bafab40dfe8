// Package signal defines the signaling collaborator WebRTC sessions
// negotiate through. The transport layer never transports signaling
// itself: applications bring a Signaler (an HTTP exchange, a message
// broker, the in-memory Pipe) and the WebRTC adapter drives the
// offer/answer/candidate conversation over it.
package signal

import (
	"context"
	"errors"
)

// ErrClosed is returned by Send and Recv after the signaler closed.
var ErrClosed = errors.New("signaler closed")

// Type identifies a signaling message.
type Type string

const (
	// TypeOffer carries an SDP offer from the dialing peer.
	TypeOffer Type = "offer"

	// TypeAnswer carries the SDP answer from the listening peer.
	TypeAnswer Type = "answer"

	// TypeCandidate carries one ICE candidate (trickle).
	TypeCandidate Type = "candidate"

	// TypeBye announces that the sender is going away.
	TypeBye Type = "bye"

	// TypeReject refuses an offer, typically because the listener's
	// backlog is full.
	TypeReject Type = "reject"
)

// Message is one signaling exchange unit. JSON is the conventional
// encoding for WebRTC signaling payloads; implementations that carry
// messages over a network marshal them with these tags.
type Message struct {
	// Type of the message.
	Type Type `json:"type"`

	// PeerID correlates messages of one negotiation when a signaler
	// multiplexes several peers.
	PeerID string `json:"peer_id,omitempty"`

	// SDP is the session description for offer and answer messages.
	SDP string `json:"sdp,omitempty"`

	// Candidate is the ICE candidate for candidate messages.
	Candidate string `json:"candidate,omitempty"`

	// Reason carries a human-readable cause on bye and reject.
	Reason string `json:"reason,omitempty"`
}

// Signaler carries signaling messages between two negotiating peers.
// Implementations must be safe for one sender and one receiver running
// concurrently.
type Signaler interface {
	// Send delivers a message to the remote peer.
	Send(ctx context.Context, msg Message) error

	// Recv blocks until the next message from the remote peer.
	Recv(ctx context.Context) (Message, error)

	// Close releases the signaling channel. Pending Send and Recv
	// calls unblock with ErrClosed.
	Close() error
}
