package session

import "time"

// Stats is a point-in-time snapshot of a binder's counters, suitable for
// JSON serialization in a debug endpoint or final disconnect log line.
type Stats struct {
	Peer                  string `json:"peer,omitempty"`
	ConnectedAt           int64  `json:"connectedAt,omitempty"`
	UptimeMs              int64  `json:"uptimeMs,omitempty"`
	UnitsSent             int64  `json:"unitsSent"`
	FramesDroppedOutbound int64  `json:"framesDroppedOutbound"`
	UnitsReceived         int64  `json:"unitsReceived"`
	FramesDecoded         int64  `json:"framesDecoded"`
	DecodeErrors          int64  `json:"decodeErrors"`
	BootstrapDrops        int64  `json:"bootstrapDrops"`
	Renegotiations        int64  `json:"renegotiations"`
	CreateFailures        int64  `json:"createFailures"`
	ProtocolViolations    int64  `json:"protocolViolations"`
	RejectedPeers         int64  `json:"rejectedPeers"`
}

// Stats returns a snapshot of the binder's counters. With no peer bound,
// only the rejection counter is populated.
func (b *Binder) Stats() Stats {
	b.mu.Lock()
	pb := b.binding
	b.mu.Unlock()

	if pb == nil {
		return Stats{RejectedPeers: b.rejectedPeers.Load()}
	}
	return b.bindingStats(pb)
}

// bindingStats snapshots one binding's counters. It takes pb.mu itself to
// read the bootstrap and reassembler tallies consistently with unit
// dispatch; callers must not hold the lock.
func (b *Binder) bindingStats(pb *peerBinding) Stats {
	s := Stats{
		Peer:                  string(pb.peer),
		ConnectedAt:           pb.connectedAt.UnixMilli(),
		UptimeMs:              time.Since(pb.connectedAt).Milliseconds(),
		UnitsSent:             pb.unitsSent.Load(),
		FramesDroppedOutbound: pb.framesDropped.Load(),
		UnitsReceived:         pb.unitsReceived.Load(),
		FramesDecoded:         pb.framesDecoded.Load(),
		DecodeErrors:          pb.decodeErrors.Load(),
		RejectedPeers:         b.rejectedPeers.Load(),
	}

	pb.mu.Lock()
	if pb.boot != nil {
		s.BootstrapDrops = pb.boot.DroppedUnits()
		s.Renegotiations = pb.boot.Renegotiations()
		s.CreateFailures = pb.boot.CreateFailures()
	}
	if pb.reasm != nil {
		s.ProtocolViolations = pb.reasm.Violations()
	}
	pb.mu.Unlock()

	return s
}
