package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// The first bytes on a stream-transport session identify the protocol
// and the wire version before any message flows, so a peer speaking
// something else is refused deterministically instead of misparsing
// frames.
const (
	// HelloSize is the size of the session preamble in bytes.
	HelloSize = 4

	helloVersion = 1
)

var helloMagic = [2]byte{'u', 'w'}

// Preamble errors.
var (
	// ErrHelloMagic indicates the peer is not speaking the session
	// protocol.
	ErrHelloMagic = errors.New("peer is not speaking the session protocol")

	// ErrHelloVersion indicates a session protocol version this build
	// does not support.
	ErrHelloVersion = errors.New("unsupported session protocol version")
)

type helloWriter interface {
	io.Writer
	SetWriteDeadline(t time.Time) error
}

type helloReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// WriteHello sends the session preamble, bounded by deadline.
func WriteHello(w helloWriter, deadline time.Time) error {
	var buf [HelloSize]byte
	buf[0], buf[1] = helloMagic[0], helloMagic[1]
	binary.BigEndian.PutUint16(buf[2:], helloVersion)

	_ = w.SetWriteDeadline(deadline)
	defer w.SetWriteDeadline(time.Time{})
	_, err := w.Write(buf[:])
	return err
}

// ReadHello consumes and validates the peer's session preamble, bounded
// by deadline.
func ReadHello(r helloReader, deadline time.Time) error {
	var buf [HelloSize]byte
	_ = r.SetReadDeadline(deadline)
	defer r.SetReadDeadline(time.Time{})
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	if buf[0] != helloMagic[0] || buf[1] != helloMagic[1] {
		return fmt.Errorf("%w: %x", ErrHelloMagic, buf)
	}
	if v := binary.BigEndian.Uint16(buf[2:]); v != helloVersion {
		return fmt.Errorf("%w: %d", ErrHelloVersion, v)
	}
	return nil
}
