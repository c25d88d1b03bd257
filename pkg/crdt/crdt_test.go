package crdt

import (
	"reflect"
	"testing"
)

func TestGrowSetMergeIsUnion(t *testing.T) {
	a := NewGrowSet("x", "y")
	b := NewGrowSet("y", "z")

	merged := a.Merge(b).(*GrowSet)
	if got, want := merged.Slice(), []string{"x", "y", "z"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("merged = %v, want %v", got, want)
	}
}

func TestGrowSetMergeIsCommutative(t *testing.T) {
	a := NewGrowSet("x", "y")
	b := NewGrowSet("y", "z")

	ab := a.Merge(b).(*GrowSet).Slice()
	ba := b.Merge(a).(*GrowSet).Slice()
	if !reflect.DeepEqual(ab, ba) {
		t.Fatalf("merge not commutative: a.Merge(b)=%v b.Merge(a)=%v", ab, ba)
	}
}

func TestGrowSetMergeIsAssociative(t *testing.T) {
	a := NewGrowSet("x")
	b := NewGrowSet("y")
	c := NewGrowSet("z")

	left := a.Merge(b).Merge(c).(*GrowSet).Slice()
	right := a.Merge(b.Merge(c)).(*GrowSet).Slice()
	if !reflect.DeepEqual(left, right) {
		t.Fatalf("merge not associative: left=%v right=%v", left, right)
	}
}

func TestGrowSetMergeIsIdempotent(t *testing.T) {
	a := NewGrowSet("x", "y")
	once := a.Merge(a).(*GrowSet).Slice()
	twice := a.Merge(a).Merge(a).(*GrowSet).Slice()
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("merge not idempotent: once=%v twice=%v", once, twice)
	}
}

func TestGrowSetDoesNotMutateReceiver(t *testing.T) {
	a := NewGrowSet("x")
	b := NewGrowSet("y")
	_ = a.Merge(b)
	if a.Contains("y") {
		t.Fatal("Merge mutated the receiver")
	}
}

func TestGrowSetAddIsImmutable(t *testing.T) {
	a := NewGrowSet("x")
	b := a.Add("y")
	if a.Contains("y") {
		t.Fatal("Add mutated the receiver")
	}
	if !b.Contains("x") || !b.Contains("y") {
		t.Fatalf("Add result missing elements: %v", b.Slice())
	}
}

func TestNilGrowSetContainsNothing(t *testing.T) {
	var g *GrowSet
	if g.Contains("anything") {
		t.Fatal("nil GrowSet reported containing an element")
	}
	if g.Slice() != nil {
		t.Fatal("nil GrowSet.Slice() should return nil")
	}
}
