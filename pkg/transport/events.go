package transport

import (
	"errors"
	"net"
	"time"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
	"github.com/uniwire/uniwire-go/pkg/log"
)

// Event emission helpers shared by the session engine and the adapters.
// Every helper tolerates a nil logger.

func remoteString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

func newEvent(id string, kind endpoint.Kind, dir log.Direction, cat log.Category, remote net.Addr) log.Event {
	return log.Event{
		Timestamp:  time.Now(),
		SessionID:  id,
		Transport:  kind.String(),
		Direction:  dir,
		Category:   cat,
		RemoteAddr: remoteString(remote),
	}
}

// LogSessionState emits a session lifecycle transition. Pass stateNone
// as old for the initial transition into a state. Direction records who
// drove the change: DirectionOut for local initiative, DirectionIn for
// the peer.
func LogSessionState(logger log.Logger, id string, kind endpoint.Kind, remote net.Addr, dir log.Direction, old, new State, reason string) {
	ev := newEvent(id, kind, dir, log.CategoryState, remote)
	sc := &log.StateChangeEvent{
		Entity:   log.StateEntitySession,
		NewState: new.String(),
		Reason:   reason,
	}
	if old != stateNone {
		sc.OldState = old.String()
	}
	ev.StateChange = sc
	log.OrNoop(logger).Log(ev)
}

// LogListenerState emits a listener lifecycle transition.
func LogListenerState(logger log.Logger, id string, kind endpoint.Kind, oldState, newState, reason string) {
	ev := newEvent(id, kind, log.DirectionOut, log.CategoryState, nil)
	ev.StateChange = &log.StateChangeEvent{
		Entity:   log.StateEntityListener,
		OldState: oldState,
		NewState: newState,
		Reason:   reason,
	}
	log.OrNoop(logger).Log(ev)
}

// LogHandshake emits a connect or accept completion. Direction records
// which side initiated: DirectionOut for dialers, DirectionIn for
// accepted sessions.
func LogHandshake(logger log.Logger, id string, kind endpoint.Kind, remote net.Addr, dir log.Direction, protocol string, resumed bool, took time.Duration) {
	ev := newEvent(id, kind, dir, log.CategoryHandshake, remote)
	ev.Handshake = &log.HandshakeEvent{
		Protocol: protocol,
		Resumed:  resumed,
		Duration: took,
	}
	log.OrNoop(logger).Log(ev)
}

// LogFrame emits one application message crossing the adapter boundary.
// Only the size is recorded; payload bytes never reach the log.
func LogFrame(logger log.Logger, id string, kind endpoint.Kind, remote net.Addr, dir log.Direction, size int) {
	ev := newEvent(id, kind, dir, log.CategoryFrame, remote)
	ev.Frame = &log.FrameEvent{Size: size}
	log.OrNoop(logger).Log(ev)
}

// LogControl emits transport control traffic (ping, pong, close).
func LogControl(logger log.Logger, id string, kind endpoint.Kind, remote net.Addr, dir log.Direction, typ log.ControlType, code *int, reason string) {
	ev := newEvent(id, kind, dir, log.CategoryControl, remote)
	ev.Control = &log.ControlEvent{
		Type:   typ,
		Code:   code,
		Reason: reason,
	}
	log.OrNoop(logger).Log(ev)
}

// LogError emits a failure, extracting the taxonomy kind when err
// carries one.
func LogError(logger log.Logger, id string, kind endpoint.Kind, remote net.Addr, op string, err error) {
	if err == nil {
		return
	}
	ev := newEvent(id, kind, log.DirectionOut, log.CategoryError, remote)
	ev.Error = &log.ErrorEventData{
		Op:      op,
		Kind:    taxonomyKind(err),
		Message: err.Error(),
	}
	log.OrNoop(logger).Log(ev)
}

func taxonomyKind(err error) string {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Kind.String()
	}
	var le *ListenError
	if errors.As(err, &le) {
		return le.Kind.String()
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind.String()
	}
	var re *ReceiveError
	if errors.As(err, &re) {
		return re.Kind.String()
	}
	return ""
}
