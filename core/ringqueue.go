package core

import "sync/atomic"

const minRingCapacity = 2

// RingQueue is a bounded, lock-free, multi-producer/multi-consumer ring
// buffer. Every slot carries a sequence number; producers claim the tail and
// consumers claim the head with CAS loops, so each enqueued value is handed
// to exactly one consumer, with no loss and no duplication. Cross-producer
// FIFO order is not guaranteed, only order-of-claim.
//
// Enqueue never blocks: it reports false when the ring is full, and the
// caller decides whether to retry, fall back to another queue, or apply
// backpressure.
type RingQueue[T any] struct {
	mask  uint64
	slots []ringSlot[T]
	head  atomic.Uint64
	tail  atomic.Uint64
}

type ringSlot[T any] struct {
	seq  atomic.Uint64
	data T
}

// roundUpPow2 returns the smallest power of two >= v.
func roundUpPow2(v uint64) uint64 {
	if v < minRingCapacity {
		return minRingCapacity
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}

// NewRingQueue creates a ring with at least the requested capacity.
// Capacity is rounded up to a power of two so index math uses a bitmask.
func NewRingQueue[T any](capacity int) *RingQueue[T] {
	if capacity < minRingCapacity {
		capacity = minRingCapacity
	}
	capPow2 := roundUpPow2(uint64(capacity))
	q := &RingQueue[T]{
		mask:  capPow2 - 1,
		slots: make([]ringSlot[T], capPow2),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q
}

// Enqueue places v into the ring. It returns false, without blocking, if the
// ring is at capacity.
func (q *RingQueue[T]) Enqueue(v T) bool {
	var slot *ringSlot[T]
	pos := q.tail.Load()
	for {
		slot = &q.slots[pos&q.mask]
		seq := slot.seq.Load()
		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			// Slot is free for this tail position; claim it.
			if q.tail.CompareAndSwap(pos, pos+1) {
				slot.data = v
				slot.seq.Store(pos + 1)
				return true
			}
			pos = q.tail.Load()
		case diff < 0:
			// Slot still holds a value a consumer has not taken: full.
			return false
		default:
			// Another producer claimed this position; reload.
			pos = q.tail.Load()
		}
	}
}

// Dequeue removes and returns one value. The second result is false if no
// value is currently claimable.
func (q *RingQueue[T]) Dequeue() (T, bool) {
	var slot *ringSlot[T]
	var zero T
	pos := q.head.Load()
	for {
		slot = &q.slots[pos&q.mask]
		seq := slot.seq.Load()
		diff := int64(seq) - int64(pos+1)
		switch {
		case diff == 0:
			if q.head.CompareAndSwap(pos, pos+1) {
				v := slot.data
				slot.data = zero // release the reference
				slot.seq.Store(pos + q.mask + 1)
				return v, true
			}
			pos = q.head.Load()
		case diff < 0:
			return zero, false
		default:
			pos = q.head.Load()
		}
	}
}

// Len reports the approximate number of queued values. It is only a
// monitoring hint; concurrent producers and consumers move it constantly.
func (q *RingQueue[T]) Len() int {
	tail := q.tail.Load()
	head := q.head.Load()
	if tail < head {
		return 0
	}
	n := tail - head
	if n > q.mask+1 {
		n = q.mask + 1
	}
	return int(n)
}

// Cap returns the fixed capacity of the ring.
func (q *RingQueue[T]) Cap() int {
	return int(q.mask + 1)
}

// IsEmpty reports whether the ring currently appears empty.
func (q *RingQueue[T]) IsEmpty() bool {
	return q.Len() == 0
}
