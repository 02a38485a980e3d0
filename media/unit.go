// Package media defines the encoded unit vocabulary shared by the sender
// and receiver sides of a link: marker-byte classification of H.264 NAL
// units, Annex B stream splitting, and SPS parameter extraction.
package media

// UnitKind labels an encoded unit by its leading marker byte.
type UnitKind int

// Unit kinds. Configuration units carry decode parameters and must be
// delivered before any frame unit is decodable.
const (
	KindFrame UnitKind = iota
	KindConfigPrimary
	KindConfigSecondary
)

// String returns the kind name for log output.
func (k UnitKind) String() string {
	switch k {
	case KindConfigPrimary:
		return "config-primary"
	case KindConfigSecondary:
		return "config-secondary"
	default:
		return "frame"
	}
}

// IsConfig reports whether the kind is one of the two configuration kinds.
func (k UnitKind) IsConfig() bool {
	return k == KindConfigPrimary || k == KindConfigSecondary
}

// H.264 NAL header marker bytes for parameter sets. Each parameter set
// shows up either with the nal_ref_idc reference bits set (0x67, 0x68)
// or cleared (0x27, 0x28) depending on the encoder.
const (
	markerSPSRef    = 0x67
	markerSPSNonRef = 0x27
	markerPPSRef    = 0x68
	markerPPSNonRef = 0x28
)

// Kind classifies an encoded unit by its first byte. Only the marker byte
// is inspected; unrecognized markers and empty units classify as frames,
// leaving validity judgments to the decoder.
func Kind(unit []byte) UnitKind {
	if len(unit) == 0 {
		return KindFrame
	}
	switch unit[0] {
	case markerSPSRef, markerSPSNonRef:
		return KindConfigPrimary
	case markerPPSRef, markerPPSNonRef:
		return KindConfigSecondary
	default:
		return KindFrame
	}
}
