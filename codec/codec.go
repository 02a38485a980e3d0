// Package codec defines the decoder collaborator contract and the
// bootstrap state machine that gates frame dispatch until a complete
// configuration set has been received and turned into a decoder session.
package codec

import "bytes"

// Session is an opaque handle to one live decoder session. The Decoder
// implementation chooses the concrete type; callers only pass it back.
type Session any

// Decoder is the external decode collaborator. Decode submissions are
// asynchronous: decoded frames are delivered on the decoder's own
// execution context to whatever sink the implementation was built with,
// in submission order for a single session.
type Decoder interface {
	// Create builds a decoder session from a complete configuration set.
	// A failure is fatal to that bootstrap attempt only.
	Create(cfg *ConfigurationSet) (Session, error)

	// Decode submits one frame unit to a session. Single-frame failures
	// are non-fatal; the caller skips and continues.
	Decode(s Session, unit []byte) error

	// Invalidate tears down a session. No Decode call may be in flight
	// or issued afterwards for this handle.
	Invalidate(s Session)
}

// ConfigurationSet accumulates the two configuration units that together
// describe the decode parameters for a session. It is complete once both
// are present and immutable from then on; renegotiation replaces the
// whole set.
type ConfigurationSet struct {
	Primary   []byte
	Secondary []byte
}

// Complete reports whether both configuration units are present.
func (c *ConfigurationSet) Complete() bool {
	return len(c.Primary) > 0 && len(c.Secondary) > 0
}

// Matches reports whether the stored unit of the given slot is bytewise
// identical to unit. Comparison is by content, not arrival, so periodic
// config refreshes do not retrigger session construction.
func (c *ConfigurationSet) Matches(primary bool, unit []byte) bool {
	if primary {
		return bytes.Equal(c.Primary, unit)
	}
	return bytes.Equal(c.Secondary, unit)
}

// clear drops both units, returning the set to empty.
func (c *ConfigurationSet) clear() {
	c.Primary = nil
	c.Secondary = nil
}
