package core

import (
	"container/heap"
	"math"
	"sync"
)

// TimerEntry maps an absolute deadline to an opaque task handle.
type TimerEntry struct {
	DeadlineNS uint64
	Tag        any
}

// timerPQ implements heap.Interface ordered by deadline. Ties at equal
// deadline have no secondary ordering key; they expire together in arbitrary
// relative order.
type timerPQ []TimerEntry

func (h timerPQ) Len() int           { return len(h) }
func (h timerPQ) Less(i, j int) bool { return h[i].DeadlineNS < h[j].DeadlineNS }
func (h timerPQ) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *timerPQ) Push(x any)        { *h = append(*h, x.(TimerEntry)) }

func (h *timerPQ) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = TimerEntry{} // avoid memory leak
	*h = old[:n-1]
	return item
}

// TimerHeap is a deadline-ordered min-heap driving time-based wakeups.
// All operations are guarded by one mutex; only the ready queues need to be
// lock-free, timer traffic is far lower.
type TimerHeap struct {
	mu sync.Mutex
	pq timerPQ
}

// NewTimerHeap creates an empty heap.
func NewTimerHeap() *TimerHeap {
	th := &TimerHeap{pq: make(timerPQ, 0, 16)}
	heap.Init(&th.pq)
	return th
}

// Insert registers tag to expire at the absolute deadline (nanoseconds).
func (th *TimerHeap) Insert(deadlineNS uint64, tag any) {
	th.mu.Lock()
	defer th.mu.Unlock()
	heap.Push(&th.pq, TimerEntry{DeadlineNS: deadlineNS, Tag: tag})
}

// PeekDeadline returns the earliest registered deadline. The second result
// is false when the heap is empty.
func (th *TimerHeap) PeekDeadline() (uint64, bool) {
	th.mu.Lock()
	defer th.mu.Unlock()
	if len(th.pq) == 0 {
		return math.MaxUint64, false
	}
	return th.pq[0].DeadlineNS, true
}

// PopExpired removes every entry with deadline <= nowNS and invokes fn for
// each, in non-decreasing deadline order. It returns the number removed.
// Entries are collected under the lock and dispatched outside it, so fn may
// re-enter the heap.
func (th *TimerHeap) PopExpired(nowNS uint64, fn func(tag any)) int {
	th.mu.Lock()
	var expired []TimerEntry
	for len(th.pq) > 0 && th.pq[0].DeadlineNS <= nowNS {
		expired = append(expired, heap.Pop(&th.pq).(TimerEntry))
	}
	th.mu.Unlock()

	for _, e := range expired {
		fn(e.Tag)
	}
	return len(expired)
}

// Len returns the number of pending timers.
func (th *TimerHeap) Len() int {
	th.mu.Lock()
	defer th.mu.Unlock()
	return len(th.pq)
}
