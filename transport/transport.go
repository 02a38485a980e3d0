// Package transport defines the pairwise byte-stream contract between the
// session layer and a concrete link implementation. A transport delivers
// ordered bytes per peer, reports peer connectivity changes, and hands out
// one outbound stream per peer on request.
package transport

import "context"

// Peer identifies the remote endpoint of a link.
type Peer string

// PeerState is the connectivity of a peer as reported by the transport.
type PeerState int

// Peer connectivity states.
const (
	StateConnecting PeerState = iota
	StateConnected
	StateDisconnected
)

// String returns the state name for log output.
func (s PeerState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Stream is one ordered outbound byte stream to a peer. Write may accept
// fewer bytes than requested without reporting an error; callers retry
// the remaining range.
type Stream interface {
	Write(p []byte) (int, error)
	Close() error
}

// Handler receives transport events. HandleBytes for a given peer is
// always invoked from a single goroutine, in delivery order, so the
// receiver side needs no locking around its reassembly buffer. State
// changes for a peer arrive on the same goroutine as that peer's bytes
// or before the first byte.
type Handler interface {
	HandlePeerState(peer Peer, state PeerState)
	HandleBytes(peer Peer, data []byte)
}

// Transport is a pairwise ordered byte-stream link. Implementations own
// the accept and read loops; Run blocks until the context is cancelled.
type Transport interface {
	// OpenStream opens the single outbound stream to a connected peer.
	OpenStream(ctx context.Context, peer Peer) (Stream, error)

	// ClosePeer tears down the link to a peer, for example when the
	// session binder rejects a second connection or reacts to a fault.
	ClosePeer(peer Peer) error

	// Run drives the transport's accept and read loops.
	Run(ctx context.Context) error
}
