// Package wire implements the length-prefixed packet framing used on the
// link: each encoded unit travels as a 4-byte big-endian length followed
// by the payload bytes. The Packetizer writes packets to an outbound
// stream; the Reassembler reconstructs units from the inbound byte stream
// regardless of how the transport chunks it.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// LengthSize is the size of the packet length prefix in bytes.
const LengthSize = 4

// MaxPayloadSize is the sanity bound on a single payload. A length field
// above this is treated as a protocol violation, not an allocation request.
const MaxPayloadSize = 8 << 20

// Framing violations surfaced by AppendPacket.
var (
	ErrEmptyPayload    = errors.New("wire: empty payload")
	ErrPayloadTooLarge = errors.New("wire: payload exceeds maximum size")
)

// errNoProgress is returned when the outbound stream repeatedly accepts
// zero bytes without reporting an error.
var errNoProgress = errors.New("wire: stream write made no progress")

// AppendPacket appends the wire form of payload (length prefix plus
// payload bytes) to dst and returns the extended slice.
func AppendPacket(dst, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return dst, ErrEmptyPayload
	}
	if len(payload) > MaxPayloadSize {
		return dst, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	var lenBuf [LengthSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, payload...), nil
}

// Packetizer wraps encoded units into length-prefixed packets and writes
// them to an outbound stream. The stream may accept fewer bytes than
// requested without error; Emit retries the remaining range until the
// packet is fully written or the stream reports an unrecoverable error.
// A Packetizer is not safe for concurrent use; one outbound worker owns it.
type Packetizer struct {
	w       io.Writer
	scratch []byte
}

// NewPacketizer creates a Packetizer writing to w.
func NewPacketizer(w io.Writer) *Packetizer {
	return &Packetizer{w: w}
}

// Emit writes one unit as a single packet. Errors are unrecoverable for
// the stream and must be surfaced to the session binder as a peer fault.
func (p *Packetizer) Emit(unit []byte) error {
	pkt, err := AppendPacket(p.scratch[:0], unit)
	if err != nil {
		return err
	}
	p.scratch = pkt[:0]

	for len(pkt) > 0 {
		n, err := p.w.Write(pkt)
		if err != nil {
			return fmt.Errorf("wire: write packet: %w", err)
		}
		if n <= 0 {
			return errNoProgress
		}
		pkt = pkt[n:]
	}
	return nil
}
