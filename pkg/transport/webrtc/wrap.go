package webrtc

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
	"github.com/uniwire/uniwire-go/pkg/log"
	"github.com/uniwire/uniwire-go/pkg/transport"
)

// Wrap adapts an externally negotiated data channel into a Session,
// for callers that run their own signaling and only want the session
// contract on top. The channel must already be open, and the API that
// built pc must have detached data channels enabled. Wrap takes
// ownership of pc and dc; closing the session closes both.
func Wrap(pc *webrtc.PeerConnection, dc *webrtc.DataChannel, opts transport.Options) (transport.Session, error) {
	opts = opts.WithDefaults()

	if state := dc.ReadyState(); state != webrtc.DataChannelStateOpen {
		return nil, fmt.Errorf("webrtc: data channel %q is %s, not open", dc.Label(), state)
	}
	raw, err := dc.Detach()
	if err != nil {
		return nil, fmt.Errorf("webrtc: detach data channel: %w", err)
	}

	if opts.SessionID == "" {
		opts.SessionID = uuid.New().String()
	}

	carrier := newCarrier(pc, dc, raw, opts)
	return transport.NewConn(endpoint.KindWebRTC, carrier, log.DirectionOut, opts), nil
}
