package domain

import "testing"

func TestNewIDDerivesFromPort(t *testing.T) {
	if got := NewID(4000); got != ID(4000) {
		t.Errorf("NewID(4000) = %d, want 4000", got)
	}
}

func TestIDString(t *testing.T) {
	if got := ID(42).String(); got != "42" {
		t.Errorf("String() = %q, want %q", got, "42")
	}
}

func TestSelfIsSingletonRing(t *testing.T) {
	n := Self("10.0.0.1:9000")
	want := NeighborInfo{Next: "10.0.0.1:9000", NNext: "10.0.0.1:9000", Prev: "10.0.0.1:9000"}
	if n != want {
		t.Errorf("Self(...) = %+v, want %+v", n, want)
	}
}
