package tracker

import (
	"reflect"
	"testing"
)

func TestFirstObservationPrimesSilently(t *testing.T) {
	tr := New()
	if added := tr.Diff([]int{1, 2, 3}); added != nil {
		t.Fatalf("first Diff = %v, want nil", added)
	}
	if tr.Known() != 3 {
		t.Fatalf("known = %d, want 3", tr.Known())
	}
}

func TestDiffReportsAdditionsSorted(t *testing.T) {
	tr := New()
	tr.Diff([]int{1, 2, 3})

	added := tr.Diff([]int{9, 1, 2, 3, 5})
	if !reflect.DeepEqual(added, []int{5, 9}) {
		t.Fatalf("Diff = %v, want [5 9]", added)
	}
}

func TestDiffIgnoresRemovals(t *testing.T) {
	tr := New()
	tr.Diff([]int{1, 2, 3})

	if added := tr.Diff([]int{1, 2}); added != nil {
		t.Fatalf("removal-only Diff = %v, want nil", added)
	}

	// 3 vanished and came back: it counts as new again.
	added := tr.Diff([]int{1, 2, 3})
	if !reflect.DeepEqual(added, []int{3}) {
		t.Fatalf("reappearing subnet Diff = %v, want [3]", added)
	}
}

func TestEmptyFeedAfterPriming(t *testing.T) {
	tr := New()
	tr.Diff([]int{1, 2})
	if added := tr.Diff(nil); added != nil {
		t.Fatalf("empty feed Diff = %v, want nil", added)
	}
	if tr.Known() != 0 {
		t.Fatalf("known after empty feed = %d, want 0", tr.Known())
	}
}
