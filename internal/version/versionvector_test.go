package version

import "testing"

func TestVersionVectorEmpty(t *testing.T) {
	vv := NewVersionVector()
	if vv.GetVersion("AA") != 0 {
		t.Fatalf("expected 0 for unknown replica, got %d", vv.GetVersion("AA"))
	}
	if !vv.HasVersion(Version{Replica: "AA", Counter: 0}) {
		t.Fatalf("empty vector should have version 0 of any replica")
	}
	if vv.HasVersion(Version{Replica: "AA", Counter: 1}) {
		t.Fatalf("empty vector should not have version 1")
	}
}

func TestVersionVectorUpdateAndIncrement(t *testing.T) {
	vv := NewVersionVector()
	v1 := vv.IncVersion("AA")
	if v1 != (Version{Replica: "AA", Counter: 1}) {
		t.Fatalf("unexpected version: %v", v1)
	}
	v2 := vv.IncVersion("AA")
	if v2.Counter != 2 {
		t.Fatalf("expected counter 2, got %d", v2.Counter)
	}
	vv.UpdateVersion("BB", 5)
	if vv.GetVersion("BB") != 5 {
		t.Fatalf("expected BB=5")
	}
	vv.UpdateVersion("BB", 3) // must not lower
	if vv.GetVersion("BB") != 5 {
		t.Fatalf("update must not lower a counter, got %d", vv.GetVersion("BB"))
	}
}

func TestVersionVectorDominatesAndComparison(t *testing.T) {
	a := NewVersionVector()
	a.UpdateVersion("AA", 3)
	a.UpdateVersion("BB", 1)

	b := NewVersionVector()
	b.UpdateVersion("AA", 2)

	if !a.Dominates(b) {
		t.Fatalf("a should dominate b")
	}
	if b.Dominates(a) {
		t.Fatalf("b should not dominate a")
	}

	c := NewVersionVector()
	c.UpdateVersion("AA", 3)
	c.UpdateVersion("BB", 1)
	if !a.Equal(c) {
		t.Fatalf("a and c should be equal")
	}
}

func TestVersionVectorMerge(t *testing.T) {
	a := NewVersionVector()
	a.UpdateVersion("AA", 3)
	b := NewVersionVector()
	b.UpdateVersion("AA", 1)
	b.UpdateVersion("BB", 4)

	a.Merge(b)
	if a.GetVersion("AA") != 3 {
		t.Fatalf("merge should keep the max for AA, got %d", a.GetVersion("AA"))
	}
	if a.GetVersion("BB") != 4 {
		t.Fatalf("merge should pick up BB from o, got %d", a.GetVersion("BB"))
	}
}

func TestVersionVectorCloneIsIndependent(t *testing.T) {
	a := NewVersionVector()
	a.UpdateVersion("AA", 1)
	b := a.Clone()
	b.UpdateVersion("AA", 2)
	if a.GetVersion("AA") != 1 {
		t.Fatalf("mutating the clone must not affect the original")
	}
}

func TestVersionVectorString(t *testing.T) {
	vv := NewVersionVector()
	if vv.String() != "{}" {
		t.Fatalf("expected {} for empty vector, got %q", vv.String())
	}
	vv.UpdateVersion("BB", 1)
	vv.UpdateVersion("AA", 3)
	if vv.String() != "{AA:3 BB:1}" {
		t.Fatalf("expected sorted replica order, got %q", vv.String())
	}
}
