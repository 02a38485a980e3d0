package codec

import (
	"log/slog"

	"github.com/mistrzunio/multipla-poc/media"
)

// State is the bootstrap machine's position between connection and the
// first decodable frame.
type State int

// Bootstrap states. Frame units only reach the decoder in StateReady.
const (
	StateAwaitingPrimary State = iota
	StateAwaitingSecondary
	StateReady
)

// String returns the state name for log output.
func (s State) String() string {
	switch s {
	case StateAwaitingPrimary:
		return "awaiting-primary"
	case StateAwaitingSecondary:
		return "awaiting-secondary"
	default:
		return "ready"
	}
}

// Bootstrap accumulates configuration units until a complete set exists,
// constructs the decoder session exactly once per set, and gates frame
// dispatch until then. In Ready, differing configuration units trigger a
// renegotiation: the live session is invalidated before a new one can be
// built from the incoming pair. Bootstrap is not safe for concurrent use;
// the session binder serializes Admit, Reset, and teardown per peer.
type Bootstrap struct {
	log     *slog.Logger
	dec     Decoder
	state   State
	set     ConfigurationSet
	session Session

	droppedUnits   int64
	renegotiations int64
	createFailures int64
}

// NewBootstrap creates a Bootstrap in StateAwaitingPrimary driving the
// given decoder. If log is nil, slog.Default() is used.
func NewBootstrap(dec Decoder, log *slog.Logger) *Bootstrap {
	if log == nil {
		log = slog.Default()
	}
	return &Bootstrap{
		log: log.With("component", "bootstrap"),
		dec: dec,
	}
}

// State returns the current bootstrap state.
func (b *Bootstrap) State() State {
	return b.state
}

// Session returns the live decoder session, or nil before Ready.
func (b *Bootstrap) Session() Session {
	return b.session
}

// DroppedUnits returns how many units were discarded before Ready.
func (b *Bootstrap) DroppedUnits() int64 {
	return b.droppedUnits
}

// Renegotiations returns how many times a differing configuration set
// replaced a live session.
func (b *Bootstrap) Renegotiations() int64 {
	return b.renegotiations
}

// CreateFailures returns how many bootstrap attempts the decoder rejected.
func (b *Bootstrap) CreateFailures() int64 {
	return b.createFailures
}

// Admit routes one reconstructed unit through the state machine. For a
// frame unit in Ready it returns the live session and true, meaning the
// caller should submit the unit for decoding. Configuration units and
// gated frames return nil and false.
func (b *Bootstrap) Admit(unit []byte) (Session, bool) {
	kind := media.Kind(unit)
	if kind.IsConfig() {
		b.admitConfig(kind, unit)
		return nil, false
	}

	if b.state != StateReady {
		b.droppedUnits++
		b.log.Debug("frame before configuration complete, dropping", "state", b.state)
		return nil, false
	}
	return b.session, true
}

func (b *Bootstrap) admitConfig(kind media.UnitKind, unit []byte) {
	primary := kind == media.KindConfigPrimary

	if b.state == StateReady {
		if b.set.Matches(primary, unit) {
			// Periodic refresh of the active configuration.
			return
		}
		// Differing configuration mid-session: tear the session down
		// before admitting the new pair.
		b.renegotiations++
		b.log.Info("configuration changed, renegotiating", "kind", kind)
		b.invalidate()
		b.set.clear()
		b.state = StateAwaitingPrimary
	}

	switch b.state {
	case StateAwaitingPrimary:
		if !primary {
			// Secondary before primary cannot form a set.
			b.droppedUnits++
			b.log.Debug("secondary config before primary, dropping")
			return
		}
		b.set.Primary = append([]byte(nil), unit...)
		b.state = StateAwaitingSecondary

	case StateAwaitingSecondary:
		if primary {
			// A repeated or revised primary replaces the stored one.
			b.set.Primary = append([]byte(nil), unit...)
			return
		}
		b.set.Secondary = append([]byte(nil), unit...)
		b.create()
	}
}

// create builds the decoder session from the completed set. On failure the
// attempt is abandoned and the machine re-arms for the next pair.
func (b *Bootstrap) create() {
	sess, err := b.dec.Create(&b.set)
	if err != nil {
		b.createFailures++
		b.log.Error("decoder session creation failed", "error", err)
		b.set.clear()
		b.state = StateAwaitingPrimary
		return
	}
	b.session = sess
	b.state = StateReady

	if info, err := media.ParseSPS(b.set.Primary); err == nil {
		b.log.Info("decoder session created",
			"codec", info.CodecString(),
			"width", info.Width,
			"height", info.Height)
	} else {
		b.log.Info("decoder session created")
	}
}

// Reset invalidates any live session and returns to AwaitingPrimary,
// discarding the stored configuration. Called on peer disconnect.
func (b *Bootstrap) Reset() {
	b.invalidate()
	b.set.clear()
	b.state = StateAwaitingPrimary
}

func (b *Bootstrap) invalidate() {
	if b.session != nil {
		b.dec.Invalidate(b.session)
		b.session = nil
	}
}
