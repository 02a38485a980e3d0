package media

import "testing"

func TestKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		unit []byte
		want UnitKind
	}{
		{"sps reference", []byte{0x67, 0x42, 0xE0, 0x1E}, KindConfigPrimary},
		{"sps non-reference", []byte{0x27, 0x42, 0xE0, 0x1E}, KindConfigPrimary},
		{"pps reference", []byte{0x68, 0xCE, 0x38, 0x80}, KindConfigSecondary},
		{"pps non-reference", []byte{0x28, 0xCE, 0x38, 0x80}, KindConfigSecondary},
		{"idr slice", []byte{0x65, 0x88, 0x84}, KindFrame},
		{"non-idr slice", []byte{0x41, 0x9A, 0x00}, KindFrame},
		{"sei", []byte{0x06, 0x05, 0x10}, KindFrame},
		{"unrecognized marker", []byte{0xFF}, KindFrame},
		{"empty", nil, KindFrame},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Kind(tc.unit); got != tc.want {
				t.Errorf("Kind(% X): got %v, want %v", tc.unit, got, tc.want)
			}
		})
	}
}

func TestUnitKindString(t *testing.T) {
	t.Parallel()
	if KindConfigPrimary.String() != "config-primary" {
		t.Errorf("unexpected: %s", KindConfigPrimary)
	}
	if KindConfigSecondary.String() != "config-secondary" {
		t.Errorf("unexpected: %s", KindConfigSecondary)
	}
	if KindFrame.String() != "frame" {
		t.Errorf("unexpected: %s", KindFrame)
	}
	if !KindConfigPrimary.IsConfig() || !KindConfigSecondary.IsConfig() {
		t.Error("config kinds should report IsConfig")
	}
	if KindFrame.IsConfig() {
		t.Error("frame kind should not report IsConfig")
	}
}
