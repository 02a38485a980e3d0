// Package srt implements the pairwise transport over an SRT connection,
// for deployments where SRT is already part of the network path. Unlike
// QUIC there are no sub-streams: the connection itself is the single
// ordered byte stream in each direction.
package srt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	srtgo "github.com/zsiec/srtgo"

	"github.com/mistrzunio/multipla-poc/transport"
)

// readBufferSize is sized for a batch of SRT payloads (1316 bytes each).
const readBufferSize = 1316 * 10

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

var errUnknownPeer = errors.New("srt: no connection for peer")

// Compile-time interface check.
var _ transport.Transport = (*Link)(nil)

// Link is an SRT implementation of transport.Transport, either accepting
// connections on a listen address or dialing one remote peer.
type Link struct {
	log     *slog.Logger
	handler transport.Handler

	listenAddr string
	dialAddr   string
	streamID   string

	mu    sync.Mutex
	conns map[transport.Peer]*srtgo.Conn
}

// Listen creates a Link accepting SRT connections on addr. Incoming
// connections must present a stream ID. If log is nil, slog.Default() is used.
func Listen(addr string, h transport.Handler, log *slog.Logger) *Link {
	if log == nil {
		log = slog.Default()
	}
	return &Link{
		log:        log.With("component", "srt-link"),
		handler:    h,
		listenAddr: addr,
		conns:      make(map[transport.Peer]*srtgo.Conn),
	}
}

// NewDialer creates a Link that dials addr with the given stream ID when
// Run starts. If log is nil, slog.Default() is used.
func NewDialer(addr, streamID string, h transport.Handler, log *slog.Logger) *Link {
	if log == nil {
		log = slog.Default()
	}
	if streamID == "" {
		streamID = "multipla"
	}
	return &Link{
		log:      log.With("component", "srt-link"),
		handler:  h,
		dialAddr: addr,
		streamID: streamID,
		conns:    make(map[transport.Peer]*srtgo.Conn),
	}
}

// Run drives the accept and read loops until the context is cancelled.
func (l *Link) Run(ctx context.Context) error {
	if l.listenAddr != "" {
		return l.runListener(ctx)
	}
	return l.runDialer(ctx)
}

func (l *Link) runListener(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	listener, err := srtgo.Listen(l.listenAddr, cfg)
	if err != nil {
		return fmt.Errorf("srt listen on %s: %w", l.listenAddr, err)
	}
	l.log.Info("listening", "addr", l.listenAddr)

	listener.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.log.Warn("accept error", "error", err)
			continue
		}

		peer := transport.Peer(conn.RemoteAddr().String())
		l.log.Info("peer connected", "peer", peer, "stream_id", conn.StreamID())
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.servePeer(ctx, peer, conn)
		}()
	}
}

func (l *Link) runDialer(ctx context.Context) error {
	peer := transport.Peer(l.dialAddr)
	l.handler.HandlePeerState(peer, transport.StateConnecting)

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = l.streamID

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(l.dialAddr, cfg)
		ch <- dialResult{conn, err}
	}()

	var conn *srtgo.Conn
	select {
	case res := <-ch:
		if res.err != nil {
			l.handler.HandlePeerState(peer, transport.StateDisconnected)
			return fmt.Errorf("srt dial %s: %w", l.dialAddr, res.err)
		}
		conn = res.conn
	case <-ctx.Done():
		return nil
	}
	l.log.Info("connected", "peer", peer)

	l.servePeer(ctx, peer, conn)
	return nil
}

// servePeer tracks the connection, reports Connected, and pumps inbound
// bytes into the handler until the connection dies.
func (l *Link) servePeer(ctx context.Context, peer transport.Peer, conn *srtgo.Conn) {
	l.mu.Lock()
	l.conns[peer] = conn
	l.mu.Unlock()

	l.handler.HandlePeerState(peer, transport.StateConnected)
	defer func() {
		l.mu.Lock()
		delete(l.conns, peer)
		l.mu.Unlock()
		conn.Close()
		l.handler.HandlePeerState(peer, transport.StateDisconnected)
	}()

	// Close the connection when the context is cancelled so the blocking
	// read below unblocks; the listener's wg.Wait and the dialer's Run
	// both depend on this loop returning.
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := conn.Read(buf)
		if n > 0 {
			l.handler.HandleBytes(peer, buf[:n])
		}
		if err != nil {
			l.log.Debug("connection closed", "peer", peer, "error", err)
			return
		}
	}
}

// OpenStream returns the outbound half of the peer's connection.
func (l *Link) OpenStream(ctx context.Context, peer transport.Peer) (transport.Stream, error) {
	conn, err := l.conn(peer)
	if err != nil {
		return nil, err
	}
	return &connStream{conn: conn}, nil
}

// ClosePeer closes the SRT connection to a peer.
func (l *Link) ClosePeer(peer transport.Peer) error {
	conn, err := l.conn(peer)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

func (l *Link) conn(peer transport.Peer) (*srtgo.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	conn, ok := l.conns[peer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownPeer, peer)
	}
	return conn, nil
}

// connStream adapts an SRT connection's write half to transport.Stream.
type connStream struct {
	conn *srtgo.Conn
}

func (s *connStream) Write(p []byte) (int, error) {
	return s.conn.Write(p)
}

func (s *connStream) Close() error {
	s.conn.Close()
	return nil
}
