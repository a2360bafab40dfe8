package webrtc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/datachannel"
	"github.com/pion/webrtc/v4"

	"github.com/uniwire/uniwire-go/pkg/transport"
)

const (
	// maxBufferedAmount is the high-water mark for unacknowledged
	// outbound data. Writes wait below it instead of growing the SCTP
	// send buffer without bound.
	maxBufferedAmount = 1 << 20

	// bufferedLowWater is where the data channel announces drained
	// buffer and waiting writes resume.
	bufferedLowWater = 512 << 10

	// closeLinger delays tearing down the PeerConnection after the
	// stream close so the reset reaches the peer first.
	closeLinger = 500 * time.Millisecond
)

// rtcCarrier adapts one detached data channel to the transport.Carrier
// contract. The channel is message-oriented, so no framing applies:
// one Write is one SCTP message and one Read returns one.
type rtcCarrier struct {
	pc  *webrtc.PeerConnection
	dc  *webrtc.DataChannel
	raw datachannel.ReadWriteCloser

	// readBuf is reused across reads; only the reader goroutine
	// touches it.
	readBuf []byte

	lowCh chan struct{}

	localAddr  net.Addr
	remoteAddr net.Addr

	armedMu  sync.Mutex
	armedErr error

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

var _ transport.Carrier = (*rtcCarrier)(nil)

func newCarrier(pc *webrtc.PeerConnection, dc *webrtc.DataChannel, raw datachannel.ReadWriteCloser, opts transport.Options) *rtcCarrier {
	c := &rtcCarrier{
		pc:      pc,
		dc:      dc,
		raw:     raw,
		readBuf: make([]byte, opts.MaxMessageSize),
		lowCh:   make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
	c.localAddr, c.remoteAddr = selectedAddrs(pc)

	dc.SetBufferedAmountLowThreshold(bufferedLowWater)
	dc.OnBufferedAmountLow(func() {
		select {
		case c.lowCh <- struct{}{}:
		default:
		}
	})

	// Replaces the setup-phase watcher: from here on a failed
	// connection surfaces on the blocked read.
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed {
			c.arm(&transport.ReceiveError{Kind: transport.ReceiveReset, Cause: errConnectionFailed})
			_ = c.raw.Close()
		}
	})

	return c
}

// ReadMessage blocks until one complete message arrives on the data
// channel.
func (c *rtcCarrier) ReadMessage() ([]byte, error) {
	for {
		n, err := c.raw.Read(c.readBuf)
		if err != nil {
			if armed := c.armed(); armed != nil {
				return nil, armed
			}
			if errors.Is(err, io.ErrShortBuffer) {
				return nil, &transport.ReceiveError{Kind: transport.ReceiveReset, Cause: transport.ErrMessageTooLarge}
			}
			return nil, err
		}
		if n == 0 {
			continue
		}
		data := make([]byte, n)
		copy(data, c.readBuf)
		return data, nil
	}
}

// WriteMessage sends data as one message. When the buffered amount is
// above the high-water mark the write waits for the channel to drain;
// a ctx deadline hit while waiting surfaces as WouldBlock.
func (c *rtcCarrier) WriteMessage(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for c.dc.BufferedAmount()+uint64(len(data)) > maxBufferedAmount {
		select {
		case <-c.lowCh:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return &transport.SendError{Kind: transport.SendWouldBlock, Cause: ctx.Err()}
			}
			return ctx.Err()
		case <-c.closed:
			return &transport.SendError{Kind: transport.SendClosed}
		}
	}
	_, err := c.raw.Write(data)
	return err
}

func (c *rtcCarrier) arm(err error) {
	c.armedMu.Lock()
	if c.armedErr == nil {
		c.armedErr = err
	}
	c.armedMu.Unlock()
}

func (c *rtcCarrier) armed() error {
	c.armedMu.Lock()
	defer c.armedMu.Unlock()
	return c.armedErr
}

// Close resets the data channel stream, which the peer reads as a
// clean end, and lingers briefly before dropping the PeerConnection so
// the reset is not outrun by the transport teardown.
func (c *rtcCarrier) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.raw.Close()
		pc := c.pc
		time.AfterFunc(closeLinger, func() { _ = pc.Close() })
	})
	return c.closeErr
}

// LocalAddr returns the local side of the selected candidate pair.
func (c *rtcCarrier) LocalAddr() net.Addr { return c.localAddr }

// RemoteAddr returns the remote side of the selected candidate pair.
func (c *rtcCarrier) RemoteAddr() net.Addr { return c.remoteAddr }

// selectedAddrs resolves the nominated ICE candidate pair into
// addresses. Nil when no pair is selected yet.
func selectedAddrs(pc *webrtc.PeerConnection) (local, remote net.Addr) {
	sctp := pc.SCTP()
	if sctp == nil {
		return nil, nil
	}
	dtls := sctp.Transport()
	if dtls == nil {
		return nil, nil
	}
	ice := dtls.ICETransport()
	if ice == nil {
		return nil, nil
	}
	pair, err := ice.GetSelectedCandidatePair()
	if err != nil || pair == nil {
		return nil, nil
	}
	if pair.Local != nil {
		local = &net.UDPAddr{IP: net.ParseIP(pair.Local.Address), Port: int(pair.Local.Port)}
	}
	if pair.Remote != nil {
		remote = &net.UDPAddr{IP: net.ParseIP(pair.Remote.Address), Port: int(pair.Remote.Port)}
	}
	return local, remote
}
