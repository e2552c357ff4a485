package fingerprint

import "testing"

func TestMachineStable(t *testing.T) {
	a := Machine()
	b := Machine()
	if a == "" || a != b {
		t.Fatalf("fingerprint should be stable and non-empty: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected sha256 hex length 64, got %d", len(a))
	}
	if len(Short()) != 16 {
		t.Fatalf("short fingerprint should be 16 chars")
	}
}
