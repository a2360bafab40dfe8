package webrtc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
	"github.com/uniwire/uniwire-go/pkg/signal"
	"github.com/uniwire/uniwire-go/pkg/transport"
)

// newTestListener starts a listener on one end of an in-memory
// signaling pipe and returns the other end for dialing.
func newTestListener(t *testing.T, opts transport.Options) (*Listener, signal.Signaler) {
	t.Helper()
	ls, ds := signal.Pipe()
	t.Cleanup(func() { ls.Close() })

	ep, err := endpoint.Parse("webrtc://127.0.0.1:0")
	if err != nil {
		t.Fatalf("parse endpoint: %v", err)
	}
	l, err := Listen(ep, Config{Options: opts, Signaler: ls})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, ds
}

func dialListener(t *testing.T, l *Listener, sig signal.Signaler, opts transport.Options) transport.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sess, err := Dial(ctx, l.Endpoint(), Config{Options: opts, Signaler: sig})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func acceptOne(t *testing.T, l *Listener) transport.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
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

func TestRoundTrip(t *testing.T) {
	l, sig := newTestListener(t, transport.Options{})
	client := dialListener(t, l, sig, transport.Options{})
	server := acceptOne(t, l)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	want := []byte("Hello via WebRTC!")
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
	l, sig := newTestListener(t, transport.Options{})
	client := dialListener(t, l, sig, transport.Options{})
	server := acceptOne(t, l)
	defer server.Close()

	if client.Kind() != endpoint.KindWebRTC {
		t.Errorf("kind = %v, want webrtc", client.Kind())
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
	if client.RemoteAddr() == nil {
		t.Error("selected candidate pair not reflected in the remote address")
	}
}

func TestMessageOrder(t *testing.T) {
	l, sig := newTestListener(t, transport.Options{})
	client := dialListener(t, l, sig, transport.Options{})
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

func TestBacklogFullRejectsDial(t *testing.T) {
	l, sig := newTestListener(t, transport.Options{Backlog: 1})

	dialListener(t, l, sig, transport.Options{})

	// Admission happens after the dialer returns; wait until the
	// session is actually queued.
	waitFor(t, func() bool { return l.backlog.Len() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := Dial(ctx, l.Endpoint(), Config{Signaler: sig})
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

	next := dialListener(t, l, sig, transport.Options{})
	if next.State() != transport.StateOpen {
		t.Errorf("state after freed slot = %v, want OPEN", next.State())
	}
}

func TestDialTimeout(t *testing.T) {
	// A signaler nobody answers on.
	sig, other := signal.Pipe()
	defer other.Close()

	ep, err := endpoint.Parse("webrtc://127.0.0.1:0")
	if err != nil {
		t.Fatalf("parse endpoint: %v", err)
	}

	_, err = Dial(context.Background(), ep, Config{
		Options:  transport.Options{ConnectTimeout: time.Second},
		Signaler: sig,
	})
	if err == nil {
		t.Fatal("dial with no answering peer should time out")
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
	l, sig := newTestListener(t, transport.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Dial(ctx, l.Endpoint(), Config{Signaler: sig})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestDialRequiresSignaler(t *testing.T) {
	ep, err := endpoint.Parse("webrtc://127.0.0.1:0")
	if err != nil {
		t.Fatalf("parse endpoint: %v", err)
	}
	if _, err := Dial(context.Background(), ep, Config{}); err == nil {
		t.Fatal("dial without a signaler should fail")
	}
}

func TestListenRequiresSignaler(t *testing.T) {
	ep, err := endpoint.Parse("webrtc://127.0.0.1:0")
	if err != nil {
		t.Fatalf("parse endpoint: %v", err)
	}
	if _, err := Listen(ep, Config{}); err == nil {
		t.Fatal("listen without a signaler should fail")
	}
}

func TestPeerCloseDeliversClosed(t *testing.T) {
	l, sig := newTestListener(t, transport.Options{})
	client := dialListener(t, l, sig, transport.Options{})
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
	l, sig := newTestListener(t, transport.Options{})
	client := dialListener(t, l, sig, transport.Options{})
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
	l, sig := newTestListener(t, transport.Options{MaxMessageSize: 1024})
	client := dialListener(t, l, sig, transport.Options{MaxMessageSize: 1 << 20})
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

func TestWrapExternallyNegotiated(t *testing.T) {
	opts := transport.Options{}.WithDefaults()

	pcA, err := newPeerConnection(Config{}, opts)
	if err != nil {
		t.Fatalf("peer connection A: %v", err)
	}
	pcB, err := newPeerConnection(Config{}, opts)
	if err != nil {
		t.Fatalf("peer connection B: %v", err)
	}

	dcA, err := pcA.CreateDataChannel("external", nil)
	if err != nil {
		t.Fatalf("create data channel: %v", err)
	}
	openedA := make(chan struct{})
	dcA.OnOpen(func() { close(openedA) })

	openedB := make(chan *webrtc.DataChannel, 1)
	pcB.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() { openedB <- dc })
	})

	offer, err := pcA.CreateOffer(nil)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	gatherA := webrtc.GatheringCompletePromise(pcA)
	if err := pcA.SetLocalDescription(offer); err != nil {
		t.Fatalf("set local offer: %v", err)
	}
	<-gatherA
	if err := pcB.SetRemoteDescription(*pcA.LocalDescription()); err != nil {
		t.Fatalf("set remote offer: %v", err)
	}
	answer, err := pcB.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("create answer: %v", err)
	}
	gatherB := webrtc.GatheringCompletePromise(pcB)
	if err := pcB.SetLocalDescription(answer); err != nil {
		t.Fatalf("set local answer: %v", err)
	}
	<-gatherB
	if err := pcA.SetRemoteDescription(*pcB.LocalDescription()); err != nil {
		t.Fatalf("set remote answer: %v", err)
	}

	var dcB *webrtc.DataChannel
	select {
	case <-openedA:
	case <-time.After(10 * time.Second):
		t.Fatal("outbound channel did not open")
	}
	select {
	case dcB = <-openedB:
	case <-time.After(10 * time.Second):
		t.Fatal("inbound channel did not open")
	}

	sa, err := Wrap(pcA, dcA, transport.Options{})
	if err != nil {
		t.Fatalf("wrap A: %v", err)
	}
	defer sa.Close()
	sb, err := Wrap(pcB, dcB, transport.Options{})
	if err != nil {
		t.Fatalf("wrap B: %v", err)
	}
	defer sb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	want := []byte("externally negotiated")
	if err := sa.Send(ctx, want); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := sb.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("received %q, want %q", got, want)
	}
	if sa.Kind() != endpoint.KindWebRTC {
		t.Errorf("kind = %v, want webrtc", sa.Kind())
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
