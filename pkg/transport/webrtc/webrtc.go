package webrtc

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/datachannel"
	"github.com/pion/webrtc/v4"

	"github.com/uniwire/uniwire-go/pkg/signal"
	"github.com/uniwire/uniwire-go/pkg/transport"
)

// dataChannelLabel names the data channel carrying the session.
const dataChannelLabel = "uniwire"

var errConnectionFailed = errors.New("peer connection failed")

// Config carries the WebRTC-specific knobs next to the common session
// options.
type Config struct {
	transport.Options

	// Signaler carries the offer/answer conversation with the peer.
	// Required; the adapter never transports signaling itself. The
	// caller keeps ownership and closes it.
	Signaler signal.Signaler

	// ICEServers lists STUN and TURN servers for candidate gathering.
	// Empty means host candidates only, which covers same-network and
	// loopback peers.
	ICEServers []ICEServer

	// Ordered preserves message order on the data channel. Nil means
	// true. Setting it to false voids the ordering guarantee of the
	// session contract in exchange for lower latency.
	Ordered *bool

	// MaxRetransmits bounds retransmissions, making delivery partially
	// reliable. Nil means fully reliable. Setting it voids the
	// delivery guarantee of the session contract.
	MaxRetransmits *uint16
}

// ICEServer describes one STUN or TURN server.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// newPeerConnection builds a PeerConnection with detached data
// channels and loopback candidates enabled. The ICE timers derive from
// the session options: a peer silent past the idle timeout fails the
// connection.
func newPeerConnection(cfg Config, opts transport.Options) (*webrtc.PeerConnection, error) {
	se := webrtc.SettingEngine{}
	se.DetachDataChannels()
	se.SetIncludeLoopbackCandidate(true)

	keepAlive := opts.KeepAlive.Interval
	if opts.KeepAlive.Disabled {
		keepAlive = 0
	}
	se.SetICETimeouts(opts.IdleTimeout/2, opts.IdleTimeout, keepAlive)

	conf := webrtc.Configuration{}
	for _, s := range cfg.ICEServers {
		conf.ICEServers = append(conf.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))
	return api.NewPeerConnection(conf)
}

// connWatch observes a PeerConnection during setup. It remembers
// whether ICE ever reached connectivity, which splits setup failures
// into Unreachable (no path to the peer) and TLSHandshake (path found,
// DTLS failed).
type connWatch struct {
	iceUp  atomic.Bool
	failed chan struct{}
	once   sync.Once
}

func watchConnection(pc *webrtc.PeerConnection) *connWatch {
	w := &connWatch{failed: make(chan struct{})}
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		switch s {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			w.iceUp.Store(true)
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			w.once.Do(func() { close(w.failed) })
		}
	})
	return w
}

func (w *connWatch) connectError() *transport.ConnectError {
	if w.iceUp.Load() {
		return &transport.ConnectError{Kind: transport.ConnectTLSHandshake, Cause: errConnectionFailed}
	}
	return &transport.ConnectError{Kind: transport.ConnectUnreachable, Cause: errConnectionFailed}
}

// openResult delivers a data channel once it opened and detached.
type openResult struct {
	dc  *webrtc.DataChannel
	raw datachannel.ReadWriteCloser
	err error
}
