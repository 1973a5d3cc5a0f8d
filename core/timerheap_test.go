package core

import (
	"math/rand"
	"sort"
	"testing"
)

// TestTimerHeap_PopExpiredSubset verifies expiration selection
// Given: Timers at deadlines 10, 20, 30, 40, 50 inserted in shuffled order
// When: PopExpired(30) is called
// Then: Exactly the deadlines <= 30 fire, in non-decreasing order, and the rest remain
func TestTimerHeap_PopExpiredSubset(t *testing.T) {
	th := NewTimerHeap()
	for _, d := range []uint64{40, 10, 50, 30, 20} {
		th.Insert(d, d)
	}

	var fired []uint64
	n := th.PopExpired(30, func(tag any) {
		fired = append(fired, tag.(uint64))
	})

	if n != 3 {
		t.Errorf("PopExpired(30) = %d, want 3", n)
	}
	want := []uint64{10, 20, 30}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Errorf("fired[%d] = %d, want %d", i, fired[i], want[i])
		}
	}
	if th.Len() != 2 {
		t.Errorf("Len() after expiry = %d, want 2", th.Len())
	}
}

// TestTimerHeap_PeekDeadline verifies the earliest-deadline view
// Given: An empty heap, then timers at 300 and 100
// When: PeekDeadline is called after each step
// Then: Empty reports false; otherwise the minimum deadline is returned without removal
func TestTimerHeap_PeekDeadline(t *testing.T) {
	th := NewTimerHeap()

	if _, ok := th.PeekDeadline(); ok {
		t.Error("PeekDeadline() on empty heap = true, want false")
	}

	th.Insert(300, "late")
	th.Insert(100, "early")

	d, ok := th.PeekDeadline()
	if !ok {
		t.Fatal("PeekDeadline() = false, want true")
	}
	if d != 100 {
		t.Errorf("PeekDeadline() = %d, want 100", d)
	}
	if th.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (peek must not remove)", th.Len())
	}
}

// TestTimerHeap_EqualDeadlinesExpireTogether verifies tie handling
// Given: Three timers registered at the same deadline
// When: PopExpired is called at that deadline
// Then: All three fire in the same call (relative order is unspecified)
func TestTimerHeap_EqualDeadlinesExpireTogether(t *testing.T) {
	th := NewTimerHeap()
	th.Insert(42, "a")
	th.Insert(42, "b")
	th.Insert(42, "c")

	fired := make(map[string]bool)
	n := th.PopExpired(42, func(tag any) {
		fired[tag.(string)] = true
	})

	if n != 3 {
		t.Errorf("PopExpired(42) = %d, want 3", n)
	}
	for _, name := range []string{"a", "b", "c"} {
		if !fired[name] {
			t.Errorf("timer %q did not fire", name)
		}
	}
	if th.Len() != 0 {
		t.Errorf("Len() = %d, want 0", th.Len())
	}
}

// TestTimerHeap_DrainIsSorted verifies the heap property over random input
// Given: 500 timers at random deadlines
// When: The heap is fully drained via PopExpired
// Then: Every timer fires exactly once, in non-decreasing deadline order
func TestTimerHeap_DrainIsSorted(t *testing.T) {
	th := NewTimerHeap()
	rng := rand.New(rand.NewSource(7))

	const count = 500
	inserted := make([]uint64, 0, count)
	for i := 0; i < count; i++ {
		d := uint64(rng.Intn(100000))
		inserted = append(inserted, d)
		th.Insert(d, d)
	}

	var fired []uint64
	th.PopExpired(^uint64(0), func(tag any) {
		fired = append(fired, tag.(uint64))
	})

	if len(fired) != count {
		t.Fatalf("fired %d timers, want %d", len(fired), count)
	}
	if !sort.SliceIsSorted(fired, func(i, j int) bool { return fired[i] < fired[j] }) {
		t.Error("timers fired out of deadline order")
	}

	sort.Slice(inserted, func(i, j int) bool { return inserted[i] < inserted[j] })
	for i := range inserted {
		if fired[i] != inserted[i] {
			t.Fatalf("fired[%d] = %d, want %d", i, fired[i], inserted[i])
		}
	}
}

// TestTimerHeap_ReentrantInsertFromCallback verifies callback re-entrancy
// Given: One expired timer whose callback inserts a new, later timer
// When: PopExpired runs
// Then: The insert succeeds and the new timer is pending afterwards
func TestTimerHeap_ReentrantInsertFromCallback(t *testing.T) {
	th := NewTimerHeap()
	th.Insert(5, "first")

	n := th.PopExpired(10, func(tag any) {
		th.Insert(100, "second")
	})

	if n != 1 {
		t.Errorf("PopExpired(10) = %d, want 1", n)
	}
	d, ok := th.PeekDeadline()
	if !ok || d != 100 {
		t.Errorf("PeekDeadline() = %d, %v, want 100, true", d, ok)
	}
}
