package webtransport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/uniwire/uniwire-go/pkg/cert"
	"github.com/uniwire/uniwire-go/pkg/endpoint"
	"github.com/uniwire/uniwire-go/pkg/transport"
)

// newTestListener binds a listener with a fresh self-signed identity
// and returns the security material a client needs to trust it.
func newTestListener(t *testing.T, opts transport.Options) (*Listener, endpoint.Security) {
	t.Helper()
	id, err := cert.GenerateSelfSigned(cert.Options{})
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	ep, err := endpoint.Parse("webtransport://127.0.0.1:0")
	if err != nil {
		t.Fatalf("parse endpoint: %v", err)
	}
	ep = ep.WithSecurity(endpoint.Security{
		Certificates: []tls.Certificate{id.TLSCertificate()},
	})
	l, err := Listen(ep, opts)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, endpoint.Security{RootCAs: id.Pool()}
}

func dialListener(t *testing.T, l *Listener, sec endpoint.Security, opts transport.Options) *Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := Dial(ctx, l.Endpoint().WithSecurity(sec), opts)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess.(*Session)
}

func acceptOne(t *testing.T, l *Listener) *Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := l.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	return sess.(*Session)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestRoundTrip(t *testing.T) {
	l, sec := newTestListener(t, transport.Options{})
	client := dialListener(t, l, sec, transport.Options{})
	server := acceptOne(t, l)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	want := []byte("Hello via WebTransport!")
	if err := client.Send(ctx, want); err != nil {
		t.Fatalf("client send: %v", err)
	}
	got, err := server.Receive(ctx)
	if err != nil {
		t.Fatalf("server receive: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("server received %q, want %q", got, want)
	}

	if err := server.Send(ctx, got); err != nil {
		t.Fatalf("server send: %v", err)
	}
	echo, err := client.Receive(ctx)
	if err != nil {
		t.Fatalf("client receive: %v", err)
	}
	if !bytes.Equal(echo, want) {
		t.Errorf("client received %q, want %q", echo, want)
	}
}

func TestSessionIdentity(t *testing.T) {
	l, sec := newTestListener(t, transport.Options{})
	client := dialListener(t, l, sec, transport.Options{})
	server := acceptOne(t, l)
	defer server.Close()

	if client.Kind() != endpoint.KindWebTransport {
		t.Errorf("kind = %v, want webtransport", client.Kind())
	}
	if client.State() != transport.StateOpen {
		t.Errorf("state = %v, want OPEN", client.State())
	}
	if client.ID() == "" {
		t.Error("client session has no ID")
	}
	if client.ID() == server.ID() {
		t.Error("both session ends share an ID")
	}
	if client.RemoteAddr() == nil || client.LocalAddr() == nil {
		t.Error("session addresses missing")
	}
}

func TestListenerResolvesEphemeralPort(t *testing.T) {
	l, _ := newTestListener(t, transport.Options{})
	ep := l.Endpoint()
	if ep.Port == 0 {
		t.Fatal("listener did not resolve the ephemeral port")
	}
	if ep.Kind != endpoint.KindWebTransport {
		t.Errorf("kind = %v, want webtransport", ep.Kind)
	}
	if ep.Scheme() != "webtransport" {
		t.Errorf("scheme = %q, want webtransport", ep.Scheme())
	}
}

func TestListenRequiresCertificates(t *testing.T) {
	ep, err := endpoint.Parse("webtransport://127.0.0.1:0")
	if err != nil {
		t.Fatalf("parse endpoint: %v", err)
	}
	if _, err := Listen(ep, transport.Options{}); err == nil {
		t.Fatal("webtransport listener without certificates should fail")
	}
}

func TestBacklogFullRejectsDial(t *testing.T) {
	l, sec := newTestListener(t, transport.Options{Backlog: 1})

	dialListener(t, l, sec, transport.Options{})

	// Admission happens after the dialer returns; wait until the
	// session is actually queued.
	waitFor(t, func() bool { return l.backlog.Len() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Dial(ctx, l.Endpoint().WithSecurity(sec), transport.Options{})
	if err == nil {
		t.Fatal("dial should fail while the backlog is full")
	}
	var ce *transport.ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *transport.ConnectError", err)
	}
	if ce.Kind != transport.ConnectUnreachable {
		t.Errorf("kind = %v, want ConnectUnreachable", ce.Kind)
	}

	// Claiming the queued session frees the slot for the next dial.
	server := acceptOne(t, l)
	defer server.Close()

	next := dialListener(t, l, sec, transport.Options{})
	if next.State() != transport.StateOpen {
		t.Errorf("state after freed slot = %v, want OPEN", next.State())
	}
}

func TestUntrustedCertificate(t *testing.T) {
	l, _ := newTestListener(t, transport.Options{})

	// No root pool: the listener's self-signed certificate cannot
	// verify.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Dial(ctx, l.Endpoint().WithSecurity(endpoint.Security{}), transport.Options{})
	if err == nil {
		t.Fatal("dial against an untrusted certificate should fail")
	}
	var ce *transport.ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *transport.ConnectError", err)
	}
	if ce.Kind != transport.ConnectTLSHandshake {
		t.Errorf("kind = %v, want ConnectTLSHandshake", ce.Kind)
	}
}

func TestDialTimeout(t *testing.T) {
	// A bound but unserved UDP socket swallows the handshake packets.
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer pc.Close()
	port := pc.LocalAddr().(*net.UDPAddr).Port

	ep, err := endpoint.Parse(fmt.Sprintf("webtransport://127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("parse endpoint: %v", err)
	}

	_, err = Dial(context.Background(), ep, transport.Options{
		ConnectTimeout: 300 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("dial to a silent peer should time out")
	}
	var ce *transport.ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *transport.ConnectError", err)
	}
	if ce.Kind != transport.ConnectTimeout {
		t.Errorf("kind = %v, want ConnectTimeout", ce.Kind)
	}
}

func TestDialCanceled(t *testing.T) {
	l, sec := newTestListener(t, transport.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Dial(ctx, l.Endpoint().WithSecurity(sec), transport.Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestPeerCloseDeliversClosed(t *testing.T) {
	l, sec := newTestListener(t, transport.Options{})
	client := dialListener(t, l, sec, transport.Options{})
	server := acceptOne(t, l)
	defer server.Close()

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := server.Receive(ctx)
	var re *transport.ReceiveError
	if !errors.As(err, &re) {
		t.Fatalf("receive error = %v, want *transport.ReceiveError", err)
	}
	if re.Kind != transport.ReceiveClosed {
		t.Errorf("kind = %v, want ReceiveClosed", re.Kind)
	}

	<-server.Done()
	if reason := server.CloseReason(); reason != nil {
		t.Errorf("close reason = %v, want nil for a clean peer close", reason)
	}
}

func TestCloseIdempotent(t *testing.T) {
	l, sec := newTestListener(t, transport.Options{})
	client := dialListener(t, l, sec, transport.Options{})
	server := acceptOne(t, l)
	defer server.Close()

	if err := client.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if client.State() != transport.StateClosed {
		t.Errorf("state = %v, want CLOSED", client.State())
	}
}

func TestOversizeInboundTerminatesSession(t *testing.T) {
	l, sec := newTestListener(t, transport.Options{MaxMessageSize: 1024})
	client := dialListener(t, l, sec, transport.Options{MaxMessageSize: 1 << 20})
	server := acceptOne(t, l)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Send(ctx, bytes.Repeat([]byte{0xAB}, 4096)); err != nil {
		t.Fatalf("send: %v", err)
	}

	_, err := server.Receive(ctx)
	var re *transport.ReceiveError
	if !errors.As(err, &re) {
		t.Fatalf("receive error = %v, want *transport.ReceiveError", err)
	}
	if re.Kind != transport.ReceiveReset {
		t.Errorf("kind = %v, want ReceiveReset", re.Kind)
	}
	if !errors.Is(err, transport.ErrMessageTooLarge) {
		t.Errorf("error should wrap ErrMessageTooLarge, got %v", err)
	}
}

func TestPushRoundTrip(t *testing.T) {
	l, sec := newTestListener(t, transport.Options{})
	client := dialListener(t, l, sec, transport.Options{})
	server := acceptOne(t, l)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	push, err := server.OpenPush(ctx)
	if err != nil {
		t.Fatalf("open push: %v", err)
	}
	in, err := client.AcceptPush(ctx)
	if err != nil {
		t.Fatalf("accept push: %v", err)
	}

	want := []byte("pushed update")
	if err := push.Send(ctx, want); err != nil {
		t.Fatalf("push send: %v", err)
	}
	got, err := in.Receive(ctx)
	if err != nil {
		t.Fatalf("push receive: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("received %q, want %q", got, want)
	}

	// The reverse direction does not exist on a push stream.
	_, err = push.Receive(ctx)
	var re *transport.ReceiveError
	if !errors.As(err, &re) || re.Kind != transport.ReceiveClosed {
		t.Errorf("sender receive = %v, want ReceiveClosed", err)
	}
	err = in.Send(ctx, []byte("reply"))
	var se *transport.SendError
	if !errors.As(err, &se) {
		t.Fatalf("receiver send = %v, want *transport.SendError", err)
	}
	if se.Kind != transport.SendNotConnected {
		t.Errorf("kind = %v, want SendNotConnected", se.Kind)
	}

	// Finishing the stream surfaces as a clean close once drained.
	if err := push.Close(); err != nil {
		t.Fatalf("push close: %v", err)
	}
	_, err = in.Receive(ctx)
	if !errors.As(err, &re) {
		t.Fatalf("receive after close = %v, want *transport.ReceiveError", err)
	}
	if re.Kind != transport.ReceiveClosed {
		t.Errorf("kind = %v, want ReceiveClosed", re.Kind)
	}
	<-in.Done()
	if reason := in.CloseReason(); reason != nil {
		t.Errorf("close reason = %v, want nil for a finished push", reason)
	}
}

func TestPushClosesWithParent(t *testing.T) {
	l, sec := newTestListener(t, transport.Options{})
	dialListener(t, l, sec, transport.Options{})
	server := acceptOne(t, l)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	push, err := server.OpenPush(ctx)
	if err != nil {
		t.Fatalf("open push: %v", err)
	}

	if err := server.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case <-push.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("push did not close with its session")
	}
	if push.State() != transport.StateClosed {
		t.Errorf("state = %v, want CLOSED", push.State())
	}

	err = push.Send(ctx, []byte("late"))
	var se *transport.SendError
	if !errors.As(err, &se) {
		t.Fatalf("send after close = %v, want *transport.SendError", err)
	}
	if se.Kind != transport.SendClosed {
		t.Errorf("kind = %v, want SendClosed", se.Kind)
	}
}

func TestSessionMultiplex(t *testing.T) {
	l, sec := newTestListener(t, transport.Options{})
	client := dialListener(t, l, sec, transport.Options{})
	server := acceptOne(t, l)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		sess transport.Session
		err  error
	}
	acceptCh := make(chan result, 1)
	go func() {
		sess, err := server.AcceptSession(ctx)
		acceptCh <- result{sess, err}
	}()

	xc, err := client.OpenSession(ctx)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	defer xc.Close()

	r := <-acceptCh
	if r.err != nil {
		t.Fatalf("AcceptSession: %v", r.err)
	}
	xs := r.sess
	defer xs.Close()

	if xc.ID() == client.ID() {
		t.Error("multiplexed session shares the first session's ID")
	}

	want := []byte("hello on a second stream")
	if err := xc.Send(ctx, want); err != nil {
		t.Fatalf("send on multiplexed session: %v", err)
	}
	got, err := xs.Receive(ctx)
	if err != nil {
		t.Fatalf("receive on multiplexed session: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("multiplexed payload = %q, want %q", got, want)
	}

	if err := xs.Send(ctx, got); err != nil {
		t.Fatalf("reply on multiplexed session: %v", err)
	}
	if _, err := xc.Receive(ctx); err != nil {
		t.Fatalf("receive reply: %v", err)
	}

	// Closing the multiplexed session leaves the first one serving.
	if err := xc.Close(); err != nil {
		t.Fatalf("close multiplexed session: %v", err)
	}
	_, err = xs.Receive(ctx)
	var re *transport.ReceiveError
	if !errors.As(err, &re) || re.Kind != transport.ReceiveClosed {
		t.Errorf("receive after close = %v, want ReceiveClosed", err)
	}
	<-xs.Done()
	if reason := xs.CloseReason(); reason != nil {
		t.Errorf("close reason = %v, want nil for a clean peer close", reason)
	}

	if err := client.Send(ctx, []byte("first stream survives")); err != nil {
		t.Fatalf("send on first session: %v", err)
	}
	if _, err := server.Receive(ctx); err != nil {
		t.Fatalf("receive on first session: %v", err)
	}
}

func TestSessionInitiationSides(t *testing.T) {
	l, sec := newTestListener(t, transport.Options{})
	client := dialListener(t, l, sec, transport.Options{})
	server := acceptOne(t, l)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The server never opens bidirectional streams; the client never
	// accepts them.
	if _, err := server.OpenSession(ctx); !errors.Is(err, errClientInitiated) {
		t.Errorf("server OpenSession = %v, want errClientInitiated", err)
	}
	if _, err := client.AcceptSession(ctx); !errors.Is(err, errClientInitiated) {
		t.Errorf("client AcceptSession = %v, want errClientInitiated", err)
	}
}

func TestListenerCloseUnblocksAccept(t *testing.T) {
	l, _ := newTestListener(t, transport.Options{})

	errCh := make(chan error, 1)
	go func() {
		_, err := l.Accept(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, transport.ErrListenerClosed) {
			t.Errorf("accept error = %v, want ErrListenerClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("accept did not unblock")
	}
}
