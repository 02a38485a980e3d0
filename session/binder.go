// Package session binds a single remote peer to the framing pipeline: the
// outbound packet queue on the sender side, or the reassembler, bootstrap
// machine, and decoder on the receiver side. The binder owns the peer
// binding lifecycle across transport connect and disconnect events.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mistrzunio/multipla-poc/codec"
	"github.com/mistrzunio/multipla-poc/media"
	"github.com/mistrzunio/multipla-poc/transport"
	"github.com/mistrzunio/multipla-poc/wire"
)

// Role selects which half of the link a binder drives.
type Role int

// Binder roles.
const (
	RoleSender Role = iota
	RoleReceiver
)

// defaultQueueDepth bounds the outbound unit queue: ~2 seconds of video
// at 30 fps, enough to absorb transport write jitter without letting the
// encoder callback block.
const defaultQueueDepth = 60

// Binder errors returned from Send.
var (
	ErrNoPeer   = errors.New("session: no peer bound")
	ErrPeerGone = errors.New("session: peer binding torn down")
)

// Config configures a Binder.
type Config struct {
	Role      Role
	Transport transport.Transport

	// Decoder is the external decode collaborator. Required for
	// RoleReceiver, ignored for RoleSender.
	Decoder codec.Decoder

	// QueueDepth bounds the outbound unit queue. Zero means the default.
	QueueDepth int

	Log *slog.Logger
}

// Binder associates at most one remote peer with one outbound stream and
// one inbound reassembly/decode pipeline. A second peer connecting while
// one is bound is rejected: first-connected wins.
type Binder struct {
	log *slog.Logger
	cfg Config

	mu      sync.Mutex
	binding *peerBinding

	rejectedPeers atomic.Int64
}

// peerBinding is the per-peer state record: one queue and stream for the
// sender role, one reassembler/bootstrap pair for the receiver role.
type peerBinding struct {
	peer        transport.Peer
	log         *slog.Logger
	connectedAt time.Time
	cancel      context.CancelFunc
	done        chan struct{}
	closeOnce   sync.Once

	// Sender side.
	out    chan []byte
	stream transport.Stream

	// Receiver side. mu serializes unit dispatch against teardown so a
	// decode submission can never race an invalidated session handle.
	mu     sync.Mutex
	closed bool
	reasm  *wire.Reassembler
	boot   *codec.Bootstrap
	dec    codec.Decoder

	unitsSent     atomic.Int64
	framesDropped atomic.Int64
	unitsReceived atomic.Int64
	framesDecoded atomic.Int64
	decodeErrors  atomic.Int64
}

// NewBinder creates a Binder for the given role. The returned Binder
// implements transport.Handler and should be registered with the
// transport before Run is called on it.
func NewBinder(cfg Config) (*Binder, error) {
	if cfg.Transport == nil {
		return nil, errors.New("session: transport is required")
	}
	if cfg.Role == RoleReceiver && cfg.Decoder == nil {
		return nil, errors.New("session: receiver role requires a decoder")
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Binder{
		log: log.With("component", "binder"),
		cfg: cfg,
	}, nil
}

// HandlePeerState reacts to transport connectivity events, building the
// peer binding on connect and tearing it down on disconnect.
func (b *Binder) HandlePeerState(peer transport.Peer, state transport.PeerState) {
	switch state {
	case transport.StateConnecting:
		b.log.Debug("peer connecting", "peer", peer)
	case transport.StateConnected:
		b.bind(peer)
	case transport.StateDisconnected:
		b.unbind(peer, "disconnected")
	}
}

func (b *Binder) bind(peer transport.Peer) {
	b.mu.Lock()
	if b.binding != nil {
		current := b.binding.peer
		b.mu.Unlock()
		if current == peer {
			b.log.Debug("peer already bound", "peer", peer)
			return
		}
		// First-connected wins. The rejection is reported, not silent.
		b.rejectedPeers.Add(1)
		b.log.Warn("peer already active, rejecting connection",
			"active", current, "rejected", peer)
		if err := b.cfg.Transport.ClosePeer(peer); err != nil {
			b.log.Debug("closing rejected peer", "peer", peer, "error", err)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	pb := &peerBinding{
		peer:        peer,
		log:         b.log.With("peer", peer),
		connectedAt: time.Now(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	switch b.cfg.Role {
	case RoleSender:
		pb.out = make(chan []byte, b.cfg.QueueDepth)
	case RoleReceiver:
		pb.reasm = wire.NewReassembler(pb.log)
		pb.boot = codec.NewBootstrap(b.cfg.Decoder, pb.log)
		pb.dec = b.cfg.Decoder
	}

	b.binding = pb
	b.mu.Unlock()

	pb.log.Info("peer bound", "role", b.roleName())

	if b.cfg.Role == RoleSender {
		go b.runSender(ctx, pb)
	}
}

func (b *Binder) unbind(peer transport.Peer, reason string) {
	b.mu.Lock()
	pb := b.binding
	if pb == nil || pb.peer != peer {
		b.mu.Unlock()
		return
	}
	b.binding = nil
	b.mu.Unlock()

	b.teardown(pb, reason)
}

// teardown stops the binding. For the receiver role, decode submissions
// are stopped synchronously (under pb.mu) before the decoder session is
// invalidated; this ordering protects the codec handle.
func (b *Binder) teardown(pb *peerBinding, reason string) {
	pb.closeOnce.Do(func() {
		pb.cancel()

		pb.mu.Lock()
		pb.closed = true
		if pb.boot != nil {
			pb.boot.Reset()
		}
		if pb.reasm != nil {
			pb.reasm.Reset()
		}
		stream := pb.stream
		pb.stream = nil
		pb.mu.Unlock()

		if stream != nil {
			if err := stream.Close(); err != nil {
				pb.log.Debug("closing outbound stream", "error", err)
			}
		}
		close(pb.done)

		stats := b.bindingStats(pb)
		pb.log.Info("peer unbound", "reason", reason,
			"units_sent", stats.UnitsSent,
			"frames_dropped_outbound", stats.FramesDroppedOutbound,
			"units_received", stats.UnitsReceived,
			"frames_decoded", stats.FramesDecoded,
			"uptime_ms", stats.UptimeMs)
	})
}

// fault tears down the binding after an unrecoverable peer-level error,
// closing the transport link as well.
func (b *Binder) fault(peer transport.Peer, err error) {
	b.log.Error("peer fault", "peer", peer, "error", err)
	if cerr := b.cfg.Transport.ClosePeer(peer); cerr != nil {
		b.log.Debug("closing faulted peer", "peer", peer, "error", cerr)
	}
	b.unbind(peer, "fault")
}

// HandleBytes feeds transport read data into the bound peer's reassembly
// pipeline. Bytes from an unbound peer are dropped.
func (b *Binder) HandleBytes(peer transport.Peer, data []byte) {
	b.mu.Lock()
	pb := b.binding
	b.mu.Unlock()

	if pb == nil || pb.peer != peer {
		b.log.Debug("bytes from unbound peer, dropping", "peer", peer, "len", len(data))
		return
	}
	if pb.reasm == nil {
		pb.log.Debug("inbound bytes on sender-role binding, dropping", "len", len(data))
		return
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.closed {
		return
	}

	for _, unit := range pb.reasm.Feed(data) {
		pb.unitsReceived.Add(1)
		sess, ok := pb.boot.Admit(unit)
		if !ok {
			continue
		}
		if err := pb.dec.Decode(sess, unit); err != nil {
			pb.decodeErrors.Add(1)
			pb.log.Warn("decode failed, skipping frame", "error", err)
			continue
		}
		pb.framesDecoded.Add(1)
	}
}

// Send enqueues one encoded unit for the bound peer. Configuration units
// block until queued (they are small and must arrive); frame units are
// dropped when the queue is saturated, trading delivery for latency.
// Called from the encoder's unit-produced callback.
func (b *Binder) Send(unit []byte) error {
	b.mu.Lock()
	pb := b.binding
	b.mu.Unlock()

	if pb == nil || pb.out == nil {
		return ErrNoPeer
	}
	if len(unit) == 0 {
		return wire.ErrEmptyPayload
	}

	if media.Kind(unit).IsConfig() {
		select {
		case pb.out <- unit:
			return nil
		case <-pb.done:
			return ErrPeerGone
		}
	}

	select {
	case pb.out <- unit:
		return nil
	case <-pb.done:
		return ErrPeerGone
	default:
		pb.framesDropped.Add(1)
		pb.log.Debug("outbound queue saturated, dropping frame")
		return nil
	}
}

// runSender opens the outbound stream and drains the unit queue into the
// packetizer until teardown or an unrecoverable write error.
func (b *Binder) runSender(ctx context.Context, pb *peerBinding) {
	stream, err := b.cfg.Transport.OpenStream(ctx, pb.peer)
	if err != nil {
		if ctx.Err() == nil {
			b.fault(pb.peer, fmt.Errorf("open outbound stream: %w", err))
		}
		return
	}

	pb.mu.Lock()
	if pb.closed {
		pb.mu.Unlock()
		stream.Close()
		return
	}
	pb.stream = stream
	pb.mu.Unlock()

	pk := wire.NewPacketizer(stream)
	for {
		select {
		case <-ctx.Done():
			return
		case unit := <-pb.out:
			if err := pk.Emit(unit); err != nil {
				if ctx.Err() == nil {
					b.fault(pb.peer, err)
				}
				return
			}
			pb.unitsSent.Add(1)
		}
	}
}

// Peer returns the currently bound peer, or "" when none is bound.
func (b *Binder) Peer() transport.Peer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.binding == nil {
		return ""
	}
	return b.binding.peer
}

func (b *Binder) roleName() string {
	if b.cfg.Role == RoleSender {
		return "sender"
	}
	return "receiver"
}
