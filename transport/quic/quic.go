// Package quic implements the pairwise transport over a single QUIC
// connection, with one unidirectional stream per direction. The listener
// side presents a self-signed certificate; the dialing side pins it by
// SHA-256 fingerprint instead of a CA chain.
package quic

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/mistrzunio/multipla-poc/certs"
	"github.com/mistrzunio/multipla-poc/transport"
)

const alpnProtocol = "multipla/1"

// readBufferSize is the per-read buffer for inbound stream reads.
const readBufferSize = 64 << 10

const (
	maxIdleTimeout  = 30 * time.Second
	keepAlivePeriod = 10 * time.Second
)

// closeCodeTeardown is the application error code sent when the session
// binder tears a peer down.
const closeCodeTeardown quic.ApplicationErrorCode = 0

var errUnknownPeer = errors.New("quic: no connection for peer")

// Compile-time interface check.
var _ transport.Transport = (*Link)(nil)

// Link is a QUIC implementation of transport.Transport. A Link is either
// a listener (accepting one peer at a time, the binder enforces the
// single-peer policy) or a dialer bound to one remote address.
type Link struct {
	log      *slog.Logger
	handler  transport.Handler
	listener *quic.Listener

	// Dialer-side fields.
	dialAddr    string
	fingerprint string

	mu    sync.Mutex
	conns map[transport.Peer]quic.Connection
}

// Listen creates a Link accepting QUIC connections on addr with the given
// self-signed certificate. If log is nil, slog.Default() is used.
func Listen(addr string, cert *certs.CertInfo, h transport.Handler, log *slog.Logger) (*Link, error) {
	if log == nil {
		log = slog.Default()
	}

	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert.TLSCert},
		NextProtos:   []string{alpnProtocol},
	}

	listener, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quic listen on %s: %w", addr, err)
	}

	l := &Link{
		log:      log.With("component", "quic-link"),
		handler:  h,
		listener: listener,
		conns:    make(map[transport.Peer]quic.Connection),
	}
	l.log.Info("listening", "addr", addr, "fingerprint", cert.FingerprintBase64())
	return l, nil
}

// NewDialer creates a Link that dials addr when Run starts. fingerprint,
// when non-empty, is the base64 SHA-256 fingerprint of the certificate
// the listener is expected to present; an empty fingerprint accepts any
// certificate. If log is nil, slog.Default() is used.
func NewDialer(addr, fingerprint string, h transport.Handler, log *slog.Logger) *Link {
	if log == nil {
		log = slog.Default()
	}
	return &Link{
		log:         log.With("component", "quic-link"),
		handler:     h,
		dialAddr:    addr,
		fingerprint: fingerprint,
		conns:       make(map[transport.Peer]quic.Connection),
	}
}

// Addr returns the listener's local address, or nil for a dialer. Useful
// when listening on port 0.
func (l *Link) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  maxIdleTimeout,
		KeepAlivePeriod: keepAlivePeriod,
	}
}

// Run drives the accept and read loops until the context is cancelled.
func (l *Link) Run(ctx context.Context) error {
	if l.listener != nil {
		return l.runListener(ctx)
	}
	return l.runDialer(ctx)
}

func (l *Link) runListener(ctx context.Context) error {
	defer l.listener.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		l.listener.Close()
		return nil
	})
	g.Go(func() error {
		for {
			conn, err := l.listener.Accept(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("quic accept: %w", err)
			}
			peer := transport.Peer(conn.RemoteAddr().String())
			l.log.Info("peer connected", "peer", peer)
			g.Go(func() error {
				l.servePeer(ctx, peer, conn)
				return nil
			})
		}
	})
	return g.Wait()
}

func (l *Link) runDialer(ctx context.Context) error {
	peer := transport.Peer(l.dialAddr)
	l.handler.HandlePeerState(peer, transport.StateConnecting)

	tlsConf := &tls.Config{
		NextProtos: []string{alpnProtocol},
		// The listener presents a self-signed certificate; trust is
		// established by fingerprint pinning, not a CA chain.
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: l.verifyFingerprint,
	}

	conn, err := quic.DialAddr(ctx, l.dialAddr, tlsConf, quicConfig())
	if err != nil {
		l.handler.HandlePeerState(peer, transport.StateDisconnected)
		return fmt.Errorf("quic dial %s: %w", l.dialAddr, err)
	}
	l.log.Info("connected", "peer", peer)

	l.servePeer(ctx, peer, conn)
	return nil
}

// verifyFingerprint pins the presented leaf certificate to the expected
// SHA-256 fingerprint when one was configured.
func (l *Link) verifyFingerprint(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if l.fingerprint == "" {
		return nil
	}
	if len(rawCerts) == 0 {
		return errors.New("quic: peer presented no certificate")
	}
	sum := sha256.Sum256(rawCerts[0])
	got := base64.StdEncoding.EncodeToString(sum[:])
	if got != l.fingerprint {
		return fmt.Errorf("quic: certificate fingerprint mismatch: got %s", got)
	}
	return nil
}

// servePeer tracks the connection, reports Connected, and pumps the
// single inbound unidirectional stream into the handler. It returns when
// the connection dies, reporting Disconnected.
func (l *Link) servePeer(ctx context.Context, peer transport.Peer, conn quic.Connection) {
	l.mu.Lock()
	l.conns[peer] = conn
	l.mu.Unlock()

	l.handler.HandlePeerState(peer, transport.StateConnected)
	defer func() {
		l.mu.Lock()
		delete(l.conns, peer)
		l.mu.Unlock()
		l.handler.HandlePeerState(peer, transport.StateDisconnected)
	}()

	// Close the connection when the context is cancelled so the stream
	// read below unblocks; keepalives would otherwise hold it open
	// indefinitely on the dialer side, where no listener teardown helps.
	stop := context.AfterFunc(ctx, func() {
		conn.CloseWithError(closeCodeTeardown, "shutting down")
	})
	defer stop()

	// A send-only peer never opens an inbound stream; AcceptUniStream
	// then returns only when the connection closes, which is exactly the
	// disconnect signal needed.
	stream, err := conn.AcceptUniStream(ctx)
	if err != nil {
		l.log.Debug("no inbound stream", "peer", peer, "error", err)
		return
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			l.handler.HandleBytes(peer, buf[:n])
		}
		if err != nil {
			l.log.Debug("inbound stream closed", "peer", peer, "error", err)
			return
		}
	}
}

// OpenStream opens the single outbound unidirectional stream to a
// connected peer.
func (l *Link) OpenStream(ctx context.Context, peer transport.Peer) (transport.Stream, error) {
	conn, err := l.conn(peer)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("quic open stream to %s: %w", peer, err)
	}
	return stream, nil
}

// ClosePeer closes the QUIC connection to a peer.
func (l *Link) ClosePeer(peer transport.Peer) error {
	conn, err := l.conn(peer)
	if err != nil {
		return err
	}
	return conn.CloseWithError(closeCodeTeardown, "closed by binder")
}

func (l *Link) conn(peer transport.Peer) (quic.Connection, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	conn, ok := l.conns[peer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownPeer, peer)
	}
	return conn, nil
}
