package codec

import (
	"errors"
	"fmt"
	"testing"
)

var (
	sps1 = []byte{0x67, 0x42, 0xE0, 0x1E}
	sps2 = []byte{0x67, 0x42, 0xE0, 0x28} // differing primary
	pps1 = []byte{0x68, 0xCE, 0x38, 0x80}
	idr1 = []byte{0x65, 0x88, 0x84, 0x00}
)

// fakeDecoder records the call sequence so tests can assert ordering
// between session invalidation and construction.
type fakeDecoder struct {
	events    []string
	nextID    int
	createErr error
}

type fakeSession struct{ id int }

func (d *fakeDecoder) Create(cfg *ConfigurationSet) (Session, error) {
	if d.createErr != nil {
		err := d.createErr
		d.createErr = nil
		return nil, err
	}
	if !cfg.Complete() {
		return nil, errors.New("incomplete configuration set")
	}
	d.nextID++
	d.events = append(d.events, fmt.Sprintf("create:%d", d.nextID))
	return &fakeSession{id: d.nextID}, nil
}

func (d *fakeDecoder) Decode(s Session, unit []byte) error {
	d.events = append(d.events, fmt.Sprintf("decode:%d", s.(*fakeSession).id))
	return nil
}

func (d *fakeDecoder) Invalidate(s Session) {
	d.events = append(d.events, fmt.Sprintf("invalidate:%d", s.(*fakeSession).id))
}

func assertEvents(t *testing.T, dec *fakeDecoder, want ...string) {
	t.Helper()
	if len(dec.events) != len(want) {
		t.Fatalf("events: got %v, want %v", dec.events, want)
	}
	for i := range want {
		if dec.events[i] != want[i] {
			t.Fatalf("events: got %v, want %v", dec.events, want)
		}
	}
}

func TestBootstrapGatesFramesUntilReady(t *testing.T) {
	t.Parallel()
	dec := &fakeDecoder{}
	b := NewBootstrap(dec, nil)

	if _, ok := b.Admit(idr1); ok {
		t.Fatal("frame admitted before any configuration")
	}

	b.Admit(sps1)
	if b.State() != StateAwaitingSecondary {
		t.Fatalf("state: got %v, want awaiting-secondary", b.State())
	}
	if _, ok := b.Admit(idr1); ok {
		t.Fatal("frame admitted before secondary config")
	}

	b.Admit(pps1)
	if b.State() != StateReady {
		t.Fatalf("state: got %v, want ready", b.State())
	}

	sess, ok := b.Admit(idr1)
	if !ok || sess == nil {
		t.Fatal("frame not admitted after configuration complete")
	}

	if b.DroppedUnits() != 2 {
		t.Errorf("dropped units: got %d, want 2", b.DroppedUnits())
	}
	assertEvents(t, dec, "create:1")
}

func TestBootstrapIdempotentRepeatConfig(t *testing.T) {
	t.Parallel()
	dec := &fakeDecoder{}
	b := NewBootstrap(dec, nil)

	b.Admit(sps1)
	b.Admit(pps1)
	// Identical pair again: keepalive refresh, no new session.
	b.Admit(sps1)
	b.Admit(pps1)

	if b.State() != StateReady {
		t.Fatalf("state: got %v, want ready", b.State())
	}
	assertEvents(t, dec, "create:1")
	if b.Renegotiations() != 0 {
		t.Errorf("renegotiations: got %d, want 0", b.Renegotiations())
	}
}

func TestBootstrapRenegotiation(t *testing.T) {
	t.Parallel()
	dec := &fakeDecoder{}
	b := NewBootstrap(dec, nil)

	b.Admit(sps1)
	b.Admit(pps1)

	// Differing primary invalidates the live session exactly once,
	// strictly before the replacement session is constructed.
	b.Admit(sps2)
	if b.State() != StateAwaitingSecondary {
		t.Fatalf("state after differing primary: got %v", b.State())
	}
	b.Admit(pps1)
	if b.State() != StateReady {
		t.Fatalf("state: got %v, want ready", b.State())
	}

	assertEvents(t, dec, "create:1", "invalidate:1", "create:2")
	if b.Renegotiations() != 1 {
		t.Errorf("renegotiations: got %d, want 1", b.Renegotiations())
	}
}

func TestBootstrapSecondaryBeforePrimary(t *testing.T) {
	t.Parallel()
	dec := &fakeDecoder{}
	b := NewBootstrap(dec, nil)

	b.Admit(pps1)
	if b.State() != StateAwaitingPrimary {
		t.Fatalf("state: got %v, want awaiting-primary", b.State())
	}
	if b.DroppedUnits() != 1 {
		t.Errorf("dropped units: got %d, want 1", b.DroppedUnits())
	}

	b.Admit(sps1)
	b.Admit(pps1)
	if b.State() != StateReady {
		t.Fatalf("state: got %v, want ready", b.State())
	}
}

func TestBootstrapPrimaryReplacedWhileAwaitingSecondary(t *testing.T) {
	t.Parallel()
	dec := &fakeDecoder{}
	b := NewBootstrap(dec, nil)

	b.Admit(sps1)
	b.Admit(sps2) // latest primary wins
	b.Admit(pps1)

	if b.State() != StateReady {
		t.Fatalf("state: got %v, want ready", b.State())
	}
	assertEvents(t, dec, "create:1")
}

func TestBootstrapCreateFailureRearms(t *testing.T) {
	t.Parallel()
	dec := &fakeDecoder{createErr: errors.New("unsupported profile")}
	b := NewBootstrap(dec, nil)

	b.Admit(sps1)
	b.Admit(pps1)
	if b.State() != StateAwaitingPrimary {
		t.Fatalf("state after create failure: got %v", b.State())
	}
	if b.CreateFailures() != 1 {
		t.Errorf("create failures: got %d, want 1", b.CreateFailures())
	}
	if _, ok := b.Admit(idr1); ok {
		t.Fatal("frame admitted after failed bootstrap")
	}

	// The next pair re-arms the attempt.
	b.Admit(sps1)
	b.Admit(pps1)
	if b.State() != StateReady {
		t.Fatalf("state: got %v, want ready", b.State())
	}
	assertEvents(t, dec, "create:1")
}

func TestBootstrapReset(t *testing.T) {
	t.Parallel()
	dec := &fakeDecoder{}
	b := NewBootstrap(dec, nil)

	b.Admit(sps1)
	b.Admit(pps1)
	b.Reset()

	if b.State() != StateAwaitingPrimary {
		t.Fatalf("state after reset: got %v", b.State())
	}
	if b.Session() != nil {
		t.Fatal("session survived reset")
	}
	assertEvents(t, dec, "create:1", "invalidate:1")

	// Double reset must not invalidate twice.
	b.Reset()
	assertEvents(t, dec, "create:1", "invalidate:1")
}

func TestConfigurationSetRecord(t *testing.T) {
	t.Parallel()
	set := ConfigurationSet{Primary: sps1, Secondary: pps1}
	rec := set.Record()
	if rec == nil {
		t.Fatal("expected a decoder configuration record")
	}

	// configurationVersion, profile, compatibility, level from the SPS.
	if rec[0] != 1 || rec[1] != sps1[1] || rec[2] != sps1[2] || rec[3] != sps1[3] {
		t.Errorf("record header: got % X", rec[:4])
	}

	incomplete := ConfigurationSet{Primary: sps1}
	if incomplete.Record() != nil {
		t.Error("incomplete set produced a record")
	}
}
