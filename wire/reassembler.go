package wire

import (
	"encoding/binary"
	"log/slog"
)

// Reassembler reconstructs encoded units from an ordered byte stream
// delivered in arbitrarily chunked reads. Complete packets are extracted
// as soon as they are available; partial trailing bytes stay buffered for
// the next Feed call. Exactly one inbound worker per peer feeds a given
// Reassembler, so no internal locking is needed.
type Reassembler struct {
	log *slog.Logger
	buf []byte

	// skip counts the remaining bytes of an oversized payload being
	// discarded to keep framing alignment. int64 so a corrupt 4 GiB
	// length cannot overflow on 32-bit platforms.
	skip int64

	violations int64
}

// NewReassembler creates a Reassembler. If log is nil, slog.Default() is used.
func NewReassembler(log *slog.Logger) *Reassembler {
	if log == nil {
		log = slog.Default()
	}
	return &Reassembler{log: log.With("component", "reassembler")}
}

// Feed appends b to the receive buffer and extracts every complete unit,
// in the order their packets were written. Running out of bytes mid-packet
// is the normal streaming case, not an error. Zero-length and oversized
// payloads are counted as protocol violations and skipped; the stream
// continues.
func (r *Reassembler) Feed(b []byte) [][]byte {
	r.buf = append(r.buf, b...)

	var units [][]byte
	for {
		if r.skip > 0 {
			n := min(r.skip, int64(len(r.buf)))
			r.buf = r.buf[n:]
			r.skip -= n
			if r.skip > 0 {
				break
			}
		}

		if len(r.buf) < LengthSize {
			break
		}
		// Validate before converting to int: on 32-bit platforms a corrupt
		// length like 0xFFFFFFFF would otherwise wrap negative and slip
		// past both checks into the allocation below.
		length := binary.BigEndian.Uint32(r.buf)

		if length == 0 {
			r.violations++
			r.log.Warn("zero-length payload, dropping packet")
			r.buf = r.buf[LengthSize:]
			continue
		}
		if length > MaxPayloadSize {
			r.violations++
			r.log.Warn("oversized payload, discarding", "length", length)
			r.buf = r.buf[LengthSize:]
			r.skip = int64(length)
			continue
		}

		payloadLen := int(length)
		total := LengthSize + payloadLen
		if len(r.buf) < total {
			break
		}

		unit := make([]byte, payloadLen)
		copy(unit, r.buf[LengthSize:total])
		units = append(units, unit)
		r.buf = r.buf[total:]
	}

	// Drop the backing array once fully drained so a long-lived peer
	// binding does not pin the largest chunk ever received.
	if len(r.buf) == 0 {
		r.buf = nil
	}

	return units
}

// Pending returns the number of buffered bytes awaiting the rest of a packet.
func (r *Reassembler) Pending() int {
	return len(r.buf)
}

// Violations returns the number of protocol violations seen so far.
func (r *Reassembler) Violations() int64 {
	return r.violations
}

// Reset discards all buffered bytes and any in-progress oversized-payload
// skip. Called on peer disconnect.
func (r *Reassembler) Reset() {
	r.buf = nil
	r.skip = 0
}
