package websocket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
	"github.com/uniwire/uniwire-go/pkg/log"
	"github.com/uniwire/uniwire-go/pkg/transport"
)

// controlWriteTimeout bounds control frame writes (pong replies, probe
// pings, the teardown close) so a stalled peer cannot wedge the read
// loop.
const controlWriteTimeout = 5 * time.Second

// wsCarrier adapts one WebSocket connection to the transport.Carrier
// contract. Each message travels as a single binary frame. Control
// frames are handled inside ReadMessage: pings are answered, pongs feed
// the keepalive watchdog, a close frame ends the message stream.
type wsCarrier struct {
	conn net.Conn
	side ws.State

	id     string
	logger log.Logger

	// reader and control are driven only by the session read loop.
	reader  *wsutil.Reader
	control wsutil.FrameHandlerFunc

	ka atomic.Pointer[transport.KeepAlive]

	// writeMu serializes the message path against control replies
	// issued from the read loop.
	writeMu sync.Mutex
	broken  bool

	closeMu     sync.Mutex
	closeCode   ws.StatusCode
	closeReason string

	closeOnce sync.Once
	closeErr  error
}

var _ transport.Carrier = (*wsCarrier)(nil)

// newCarrier wraps an upgraded connection. source is the frame byte
// stream: the dialer may hand back a buffered reader holding frames the
// server sent right after the handshake.
func newCarrier(conn net.Conn, source io.Reader, side ws.State, opts transport.Options, id string) *wsCarrier {
	c := &wsCarrier{
		conn:      conn,
		side:      side,
		id:        id,
		logger:    opts.Logger,
		closeCode: ws.StatusNormalClosure,
	}
	c.control = wsutil.ControlFrameHandler(conn, side)
	c.reader = &wsutil.Reader{
		Source:         source,
		State:          side,
		MaxFrameSize:   int64(opts.MaxMessageSize),
		OnIntermediate: c.handleControl,
	}
	return c
}

// ReadMessage blocks until one complete data message arrives, replying
// to control frames along the way.
func (c *wsCarrier) ReadMessage() ([]byte, error) {
	for {
		hdr, err := c.reader.NextFrame()
		if err != nil {
			return nil, c.mapReadError(err)
		}
		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, c.reader); err != nil {
				return nil, c.mapReadError(err)
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := c.reader.Discard(); err != nil {
				return nil, c.mapReadError(err)
			}
			continue
		}

		// MaxFrameSize caps single frames; a fragmented message can
		// still exceed it, so the total is bounded here as well.
		max := c.reader.MaxFrameSize
		data, err := io.ReadAll(io.LimitReader(c.reader, max+1))
		if err != nil {
			return nil, c.mapReadError(err)
		}
		if int64(len(data)) > max {
			return nil, c.failTooLarge()
		}
		c.touch()
		return data, nil
	}
}

// handleControl answers a control frame under the write lock. It is
// installed as OnIntermediate and invoked directly for control frames
// between messages.
func (c *wsCarrier) handleControl(hdr ws.Header, rd io.Reader) error {
	c.touch()
	switch hdr.OpCode {
	case ws.OpPing:
		transport.LogControl(c.logger, c.id, endpoint.KindWebSocket, c.conn.RemoteAddr(), log.DirectionIn, log.ControlPing, nil, "")
	case ws.OpPong:
		transport.LogControl(c.logger, c.id, endpoint.KindWebSocket, c.conn.RemoteAddr(), log.DirectionIn, log.ControlPong, nil, "")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(controlWriteTimeout))
	defer c.conn.SetWriteDeadline(time.Time{})
	return c.control(hdr, rd)
}

func (c *wsCarrier) mapReadError(err error) error {
	var ce wsutil.ClosedError
	if errors.As(err, &ce) {
		code := int(ce.Code)
		transport.LogControl(c.logger, c.id, endpoint.KindWebSocket, c.conn.RemoteAddr(), log.DirectionIn, log.ControlClose, &code, ce.Reason)
		switch ce.Code {
		case ws.StatusNormalClosure, ws.StatusGoingAway:
			return &transport.ReceiveError{Kind: transport.ReceiveClosed, Cause: err}
		default:
			return &transport.ReceiveError{Kind: transport.ReceiveReset, Cause: err}
		}
	}
	if errors.Is(err, wsutil.ErrFrameTooLarge) {
		return c.failTooLarge()
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		// TCP teardown without a close handshake.
		return &transport.ReceiveError{Kind: transport.ReceiveReset, Cause: err}
	}
	return err
}

func (c *wsCarrier) failTooLarge() error {
	c.armClose(ws.StatusMessageTooBig, "message exceeds size limit")
	return &transport.ReceiveError{Kind: transport.ReceiveReset, Cause: transport.ErrMessageTooLarge}
}

// WriteMessage sends data as one binary frame. The frame is assembled
// off the socket and written in a single call; a short write leaves the
// stream unusable and poisons the carrier.
func (c *wsCarrier) WriteMessage(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload := data
	if c.side.ClientSide() {
		// Masking ciphers the buffer in place; the caller keeps its copy.
		payload = make([]byte, len(data))
		copy(payload, data)
	}
	frame := ws.NewFrame(ws.OpBinary, true, payload)
	if c.side.ClientSide() {
		frame = ws.MaskFrameInPlace(frame)
	}

	var buf bytes.Buffer
	buf.Grow(ws.MaxHeaderSize + len(payload))
	if err := ws.WriteFrame(&buf, frame); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.broken {
		return transport.ErrPartialFrame
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	n, err := c.conn.Write(buf.Bytes())
	if err != nil && n > 0 && n < buf.Len() {
		c.broken = true
		return fmt.Errorf("%w: %v", transport.ErrPartialFrame, err)
	}
	return err
}

// WritePing sends an empty ping frame. The keepalive watchdog uses it
// as its probe.
func (c *wsCarrier) WritePing() error {
	frame := ws.NewPingFrame(nil)
	if c.side.ClientSide() {
		frame = ws.MaskFrameInPlace(frame)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.broken {
		return transport.ErrPartialFrame
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(controlWriteTimeout))
	defer c.conn.SetWriteDeadline(time.Time{})
	if err := ws.WriteFrame(c.conn, frame); err != nil {
		return err
	}
	transport.LogControl(c.logger, c.id, endpoint.KindWebSocket, c.conn.RemoteAddr(), log.DirectionOut, log.ControlPing, nil, "")
	return nil
}

// armClose sets the status the teardown close frame will carry. It has
// effect only before the first Close call; reject and abort paths use
// it to replace the default normal closure.
func (c *wsCarrier) armClose(code ws.StatusCode, reason string) {
	c.closeMu.Lock()
	c.closeCode = code
	c.closeReason = reason
	c.closeMu.Unlock()
}

// Close sends the armed close frame and tears down the connection. The
// peer observes the close frame before the socket goes away; our own
// pending read unblocks with a closed-network error.
func (c *wsCarrier) Close() error {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		code, reason := c.closeCode, c.closeReason
		c.closeMu.Unlock()

		c.writeMu.Lock()
		if !c.broken {
			frame := ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason))
			if c.side.ClientSide() {
				frame = ws.MaskFrameInPlace(frame)
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(controlWriteTimeout))
			if err := ws.WriteFrame(c.conn, frame); err == nil {
				codeVal := int(code)
				transport.LogControl(c.logger, c.id, endpoint.KindWebSocket, c.conn.RemoteAddr(), log.DirectionOut, log.ControlClose, &codeVal, reason)
			}
		}
		c.writeMu.Unlock()

		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// LocalAddr returns the local network address.
func (c *wsCarrier) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the peer network address.
func (c *wsCarrier) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *wsCarrier) setKeepAlive(ka *transport.KeepAlive) { c.ka.Store(ka) }

func (c *wsCarrier) touch() {
	if ka := c.ka.Load(); ka != nil {
		ka.Touch()
	}
}

// startWatchdog runs the keepalive watchdog over the carrier. WebSocket
// has no transport-native liveness, so the adapter probes with pings;
// any live peer answers with a pong, which counts as activity. Silence
// is therefore bounded by the idle timeout.
func startWatchdog(sess *transport.Conn, c *wsCarrier, opts transport.Options) {
	cfg := opts.KeepAlive
	if cfg.Disabled {
		return
	}
	if opts.IdleTimeout > 0 {
		cfg.Timeout = opts.IdleTimeout
	}

	ka := transport.NewKeepAlive(cfg, c.WritePing, func() {
		sess.Abort(&transport.ReceiveError{
			Kind:  transport.ReceiveTimeout,
			Cause: errors.New("keepalive: no traffic within idle timeout"),
		})
	})
	c.setKeepAlive(ka)
	ka.Start(context.Background())

	go func() {
		<-sess.Done()
		ka.Stop()
	}()
}
