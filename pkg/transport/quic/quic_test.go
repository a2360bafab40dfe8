package quic

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	quicgo "github.com/quic-go/quic-go"

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
	ep, err := endpoint.Parse("quic://127.0.0.1:0")
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

func dialListener(t *testing.T, l *Listener, sec endpoint.Security, opts transport.Options) transport.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := Dial(ctx, l.Endpoint().WithSecurity(sec), opts)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func acceptOne(t *testing.T, l *Listener) transport.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := l.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	return sess
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

// openExtra multiplexes one more logical session onto the pair's
// connection and returns its two ends.
func openExtra(t *testing.T, opener, acceptor *Session) (*Session, *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		sess *Session
		err  error
	}
	acceptCh := make(chan result, 1)
	go func() {
		sess, err := acceptor.AcceptSession(ctx)
		acceptCh <- result{sess, err}
	}()

	opened, err := opener.OpenSession(ctx)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	t.Cleanup(func() { opened.Close() })

	r := <-acceptCh
	if r.err != nil {
		t.Fatalf("AcceptSession: %v", r.err)
	}
	t.Cleanup(func() { r.sess.Close() })
	return opened, r.sess
}

func TestRoundTrip(t *testing.T) {
	l, sec := newTestListener(t, transport.Options{})
	client := dialListener(t, l, sec, transport.Options{})
	server := acceptOne(t, l)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	want := []byte("Hello via QUIC!")
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

	if client.Kind() != endpoint.KindQUIC {
		t.Errorf("kind = %v, want quic", client.Kind())
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

func TestMessageOrder(t *testing.T) {
	l, sec := newTestListener(t, transport.Options{})
	client := dialListener(t, l, sec, transport.Options{})
	server := acceptOne(t, l)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const n = 20
	for i := 0; i < n; i++ {
		if err := client.Send(ctx, []byte(fmt.Sprintf("msg-%02d", i))); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		got, err := server.Receive(ctx)
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		if want := fmt.Sprintf("msg-%02d", i); string(got) != want {
			t.Fatalf("message %d = %q, want %q", i, got, want)
		}
	}
}

func TestLargeMessageRoundTrip(t *testing.T) {
	l, sec := newTestListener(t, transport.Options{})
	client := dialListener(t, l, sec, transport.Options{})
	server := acceptOne(t, l)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload := bytes.Repeat([]byte{0x5A}, 60000)
	if err := client.Send(ctx, payload); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := server.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestListenerResolvesEphemeralPort(t *testing.T) {
	l, _ := newTestListener(t, transport.Options{})
	ep := l.Endpoint()
	if ep.Port == 0 {
		t.Fatal("listener did not resolve the ephemeral port")
	}
	if ep.Kind != endpoint.KindQUIC {
		t.Errorf("kind = %v, want quic", ep.Kind)
	}
	if ep.Scheme() != "quic" {
		t.Errorf("scheme = %q, want quic", ep.Scheme())
	}
}

func TestListenRequiresCertificates(t *testing.T) {
	ep, err := endpoint.Parse("quic://127.0.0.1:0")
	if err != nil {
		t.Fatalf("parse endpoint: %v", err)
	}
	if _, err := Listen(ep, transport.Options{}); err == nil {
		t.Fatal("quic listener without certificates should fail")
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

func TestALPNMismatch(t *testing.T) {
	l, sec := newTestListener(t, transport.Options{})
	sec.Protocols = []string{"other/9"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Dial(ctx, l.Endpoint().WithSecurity(sec), transport.Options{})
	if err == nil {
		t.Fatal("dial with a foreign protocol should fail")
	}
	var ce *transport.ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *transport.ConnectError", err)
	}
	if ce.Kind != transport.ConnectProtocolMismatch {
		t.Errorf("kind = %v, want ConnectProtocolMismatch", ce.Kind)
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

	ep, err := endpoint.Parse(fmt.Sprintf("quic://127.0.0.1:%d", port))
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

func TestSessionMultiplex(t *testing.T) {
	l, sec := newTestListener(t, transport.Options{})
	client, ok := dialListener(t, l, sec, transport.Options{}).(*Session)
	if !ok {
		t.Fatal("dialed session is not a *Session")
	}
	server, ok := acceptOne(t, l).(*Session)
	if !ok {
		t.Fatal("accepted session is not a *Session")
	}
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	xc, xs := openExtra(t, client, server)

	if xc.ID() == client.ID() {
		t.Error("multiplexed session shares the first session's ID")
	}
	if xc.Kind() != endpoint.KindQUIC {
		t.Errorf("kind = %v, want quic", xc.Kind())
	}
	if xc.State() != transport.StateOpen {
		t.Errorf("state = %v, want OPEN", xc.State())
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

	// The first session keeps carrying its own traffic.
	if err := client.Send(ctx, []byte("still on the first stream")); err != nil {
		t.Fatalf("send on first session: %v", err)
	}
	if _, err := server.Receive(ctx); err != nil {
		t.Fatalf("receive on first session: %v", err)
	}

	// Either side may open: multiplex one back from the acceptor.
	yc, ys := openExtra(t, server, client)
	if err := yc.Send(ctx, []byte("opened by the acceptor")); err != nil {
		t.Fatalf("send on reverse session: %v", err)
	}
	if _, err := ys.Receive(ctx); err != nil {
		t.Fatalf("receive on reverse session: %v", err)
	}
}

func TestMultiplexedCloseKeepsConnection(t *testing.T) {
	l, sec := newTestListener(t, transport.Options{})
	client, ok := dialListener(t, l, sec, transport.Options{}).(*Session)
	if !ok {
		t.Fatal("dialed session is not a *Session")
	}
	server, ok := acceptOne(t, l).(*Session)
	if !ok {
		t.Fatal("accepted session is not a *Session")
	}
	defer server.Close()

	xc, xs := openExtra(t, client, server)

	if err := xc.Close(); err != nil {
		t.Fatalf("close multiplexed session: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := xs.Receive(ctx)
	var re *transport.ReceiveError
	if !errors.As(err, &re) {
		t.Fatalf("receive error = %v, want *transport.ReceiveError", err)
	}
	if re.Kind != transport.ReceiveClosed {
		t.Errorf("kind = %v, want ReceiveClosed", re.Kind)
	}
	<-xs.Done()
	if reason := xs.CloseReason(); reason != nil {
		t.Errorf("close reason = %v, want nil for a clean peer close", reason)
	}

	// The first session outlives the multiplexed one.
	if err := client.Send(ctx, []byte("first stream survives")); err != nil {
		t.Fatalf("send on first session: %v", err)
	}
	if _, err := server.Receive(ctx); err != nil {
		t.Fatalf("receive on first session: %v", err)
	}
}

func TestFirstSessionCloseClosesMultiplexed(t *testing.T) {
	l, sec := newTestListener(t, transport.Options{})
	client, ok := dialListener(t, l, sec, transport.Options{}).(*Session)
	if !ok {
		t.Fatal("dialed session is not a *Session")
	}
	server, ok := acceptOne(t, l).(*Session)
	if !ok {
		t.Fatal("accepted session is not a *Session")
	}
	defer server.Close()

	xc, xs := openExtra(t, client, server)

	// The first session owns the connection, so closing it takes the
	// multiplexed sessions down on both ends.
	if err := client.Close(); err != nil {
		t.Fatalf("close first session: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := xs.Receive(ctx)
	var re *transport.ReceiveError
	if !errors.As(err, &re) {
		t.Fatalf("receive error = %v, want *transport.ReceiveError", err)
	}
	if re.Kind != transport.ReceiveClosed {
		t.Errorf("kind = %v, want ReceiveClosed", re.Kind)
	}

	<-xc.Done()
	if reason := xc.CloseReason(); reason != nil {
		t.Errorf("local multiplexed close reason = %v, want nil", reason)
	}
	<-xs.Done()
	if reason := xs.CloseReason(); reason != nil {
		t.Errorf("remote multiplexed close reason = %v, want nil", reason)
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

func TestIdleTimeoutSurfacesAsReceiveTimeout(t *testing.T) {
	opts := transport.Options{
		IdleTimeout: 300 * time.Millisecond,
		KeepAlive:   transport.KeepAliveConfig{Disabled: true},
	}
	l, sec := newTestListener(t, opts)
	client := dialListener(t, l, sec, opts)
	server := acceptOne(t, l)
	defer server.Close()

	// No traffic flows and keepalive is off, so the connection idles
	// out and the blocked receive reports it.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Receive(ctx)
	var re *transport.ReceiveError
	if !errors.As(err, &re) {
		t.Fatalf("receive error = %v, want *transport.ReceiveError", err)
	}
	if re.Kind != transport.ReceiveTimeout {
		t.Errorf("kind = %v, want ReceiveTimeout", re.Kind)
	}
}

func TestHelloRejectsForeignClient(t *testing.T) {
	l, sec := newTestListener(t, transport.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Speak raw QUIC with the right ALPN but garbage instead of the
	// hello.
	tconf := transport.NewClientTLSConfig(sec, []string{transport.DefaultALPN})
	conn, err := quicgo.DialAddrEarly(ctx, l.Endpoint().HostPort(), tconf, nil)
	if err != nil {
		t.Fatalf("raw dial: %v", err)
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if _, err := stream.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF}); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = stream.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = io.ReadFull(stream, make([]byte, transport.HelloSize))
	var aerr *quicgo.ApplicationError
	if !errors.As(err, &aerr) {
		t.Fatalf("read error = %v, want *quic.ApplicationError", err)
	}
	if aerr.ErrorCode != codeProtocolViolation {
		t.Errorf("close code = %#x, want %#x", aerr.ErrorCode, codeProtocolViolation)
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
