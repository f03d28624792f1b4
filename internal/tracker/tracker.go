// Package tracker detects newly registered subnets across refresh
// cycles.
package tracker

import (
	"sort"
	"sync"
)

// Tracker remembers the set of subnet IDs seen on the previous refresh
// and reports additions. The first observation primes the known set
// without reporting anything, so a process restart against an
// established chain does not announce every existing subnet as new.
// Subnets disappearing from the feed are forgotten silently.
type Tracker struct {
	mu     sync.Mutex
	known  map[int]struct{}
	primed bool
}

func New() *Tracker {
	return &Tracker{known: make(map[int]struct{})}
}

// Diff compares current against the known set, returns the new IDs in
// ascending order, and adopts current as the new known set. The first
// call always returns nil.
func (t *Tracker) Diff(current []int) []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[int]struct{}, len(current))
	for _, id := range current {
		next[id] = struct{}{}
	}

	if !t.primed {
		t.known = next
		t.primed = true
		return nil
	}

	var added []int
	for id := range next {
		if _, ok := t.known[id]; !ok {
			added = append(added, id)
		}
	}
	t.known = next

	sort.Ints(added)
	return added
}

// Known returns the current known set size.
func (t *Tracker) Known() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.known)
}
