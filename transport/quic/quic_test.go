package quic

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mistrzunio/multipla-poc/certs"
	"github.com/mistrzunio/multipla-poc/transport"
)

// recordingHandler captures peer states and inbound byte counts for
// assertions against a live link.
type recordingHandler struct {
	mu        sync.Mutex
	peers     map[transport.Peer]transport.PeerState
	bytesRecv int
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{peers: make(map[transport.Peer]transport.PeerState)}
}

func (h *recordingHandler) HandlePeerState(peer transport.Peer, state transport.PeerState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[peer] = state
}

func (h *recordingHandler) HandleBytes(peer transport.Peer, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bytesRecv += len(data)
}

func (h *recordingHandler) connectedPeer() (transport.Peer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for p, s := range h.peers {
		if s == transport.StateConnected {
			return p, true
		}
	}
	return "", false
}

func (h *recordingHandler) received() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bytesRecv
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// Run must return promptly on context cancellation even while a peer
// connection with an open inbound stream is alive; keepalives must not
// hold the read loop open past shutdown.
func TestRunReturnsOnCancelWithLivePeer(t *testing.T) {
	cert, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	lh := newRecordingHandler()
	listener, err := Listen("127.0.0.1:0", cert, lh, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	lctx, lcancel := context.WithCancel(context.Background())
	defer lcancel()
	listenerDone := make(chan error, 1)
	go func() { listenerDone <- listener.Run(lctx) }()

	dh := newRecordingHandler()
	dialer := NewDialer(listener.Addr().String(), cert.FingerprintBase64(), dh, nil)
	dctx, dcancel := context.WithCancel(context.Background())
	defer dcancel()
	dialerDone := make(chan error, 1)
	go func() { dialerDone <- dialer.Run(dctx) }()

	waitFor(t, func() bool {
		_, ok := dh.connectedPeer()
		return ok
	}, "dialer never reported connected")
	waitFor(t, func() bool {
		_, ok := lh.connectedPeer()
		return ok
	}, "listener never reported connected")

	// Park the dialer's read loop on a live inbound stream: the listener
	// opens a stream toward it and writes a couple of bytes.
	peer, _ := lh.connectedPeer()
	stream, err := listener.OpenStream(context.Background(), peer)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if _, err := stream.Write([]byte{0x00, 0x01}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	waitFor(t, func() bool { return dh.received() >= 2 }, "dialer never received bytes")

	dcancel()
	select {
	case <-dialerDone:
	case <-time.After(3 * time.Second):
		t.Fatal("dialer Run did not return after cancellation")
	}

	lcancel()
	select {
	case <-listenerDone:
	case <-time.After(3 * time.Second):
		t.Fatal("listener Run did not return after cancellation")
	}
}

func TestDialerRejectsWrongFingerprint(t *testing.T) {
	cert, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	lh := newRecordingHandler()
	listener, err := Listen("127.0.0.1:0", cert, lh, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	lctx, lcancel := context.WithCancel(context.Background())
	defer lcancel()
	go listener.Run(lctx)

	other, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	dh := newRecordingHandler()
	dialer := NewDialer(listener.Addr().String(), other.FingerprintBase64(), dh, nil)
	dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dcancel()

	if err := dialer.Run(dctx); err == nil {
		t.Fatal("expected dial to fail on fingerprint mismatch")
	}
}
