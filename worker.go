package asyncruntime

import (
	"context"
	"fmt"
	"time"

	"fortio.org/safecast"

	"github.com/corewind/go-async-runtime/core"
	"github.com/corewind/go-async-runtime/reactor"
)

// worker is one scheduling loop bound to one local ready queue. The local
// queue is written only by its own worker (SpawnLocal and re-files), which
// keeps the cheap same-worker continuation path free of cross-thread wakeup
// traffic; everything external arrives through the global queue.
type worker struct {
	id    int
	rt    *Runtime
	local *core.RingQueue[*task]
	tc    *TaskContext
}

func newWorker(rt *Runtime, id, localCapacity int) *worker {
	w := &worker{
		id:    id,
		rt:    rt,
		local: core.NewRingQueue[*task](localCapacity),
	}
	w.tc = &TaskContext{rt: rt, workerID: id}
	return w
}

// loop runs until shutdown. Selection order: local queue, then global queue,
// then idle on the wake signal.
func (w *worker) loop(ctx context.Context) {
	rt := w.rt
	for {
		select {
		case <-rt.stop:
			return
		default:
		}

		t, ok := w.next()
		if !ok {
			select {
			case <-rt.stop:
				return
			case <-ctx.Done():
				rt.Shutdown()
				return
			case <-rt.wake:
			}
			continue
		}
		w.execute(t)
	}
}

func (w *worker) next() (*task, bool) {
	if t, ok := w.local.Dequeue(); ok {
		return t, true
	}
	return w.rt.global.Dequeue()
}

// execute runs one resume step and re-files the task according to the
// status it returned and whether it parked itself.
func (w *worker) execute(t *task) {
	rt := w.rt
	tc := w.tc

	t.wake.Store(taskRunning)
	tc.current = t
	tc.parked = false

	status := t.resumable.Resume(tc)

	tc.current = nil

	switch {
	case status == StatusDone:
		t.wake.Store(taskDone)
		rt.stats.completed.Add(1)
		rt.trace("task done", core.F("worker", w.id))
		rt.maybeAutoShutdown()

	case tc.parked:
		// The reactor or timer registration made during this resume now
		// owns the re-enqueue. If a wakeup already landed while Resume
		// was still running, this worker consumes it here; after the
		// CAS fails, only we can move the task out of running-wake.
		if t.wake.CompareAndSwap(taskRunning, taskParked) {
			return
		}
		t.wake.Store(taskQueued)
		rt.enqueueGlobal(t)

	default:
		// StatusRunning or StatusYielded without parking: still
		// schedulable. Local queue first, global fallback.
		t.wake.Store(taskQueued)
		if !w.local.Enqueue(t) {
			rt.enqueueGlobal(t)
		}
	}
}

// TaskContext is the per-worker execution context handed to every Resume
// call. It is only valid for the duration of that call; tasks must not
// retain it across suspensions.
type TaskContext struct {
	rt       *Runtime
	workerID int
	current  *task
	parked   bool
}

// Worker returns the index of the worker executing the current resume.
func (tc *TaskContext) Worker() int {
	return tc.workerID
}

// CancelToken returns the cancellation flag shared by this task's tree.
func (tc *TaskContext) CancelToken() *CancelToken {
	if tc.current == nil {
		return nil
	}
	return tc.current.cancel
}

// SpawnLocal enqueues a new task directly onto the calling worker's local
// queue, skipping the global queue and its synchronization cost. The child
// inherits the caller's CancelToken. Falls back to the global queue when the
// local queue is full; returns ErrQueueFull when both are.
func (tc *TaskContext) SpawnLocal(r Resumable) error {
	if r == nil {
		return ErrNilResumable
	}
	if tc.current == nil {
		return ErrNotInTask
	}
	rt := tc.rt
	t := newTask(r, tc.current.cancel)
	rt.stats.spawned.Add(1)
	if !rt.workers[tc.workerID].local.Enqueue(t) {
		if !rt.global.Enqueue(t) {
			rt.stats.unspawn()
			return ErrQueueFull
		}
		rt.signalWake()
	}
	rt.trace("task spawned local", core.F("worker", tc.workerID))
	return nil
}

// AwaitIO parks the current task until the handle reports readiness for the
// given interest mask. On success the task is owned by the reactor: this
// resume call must return StatusYielded, and the task will be re-enqueued
// when the event fires. Registrations are one-shot; re-await after every
// partial operation. A registration error leaves the task runnable and is
// returned to the task for handling.
func (tc *TaskContext) AwaitIO(fd int, interest reactor.Interest) error {
	if tc.current == nil {
		return ErrNotInTask
	}
	rt := tc.rt
	if err := rt.poller.Add(fd, interest, tc.current); err != nil {
		return fmt.Errorf("await io on fd %d: %w", fd, err)
	}
	rt.pendingIO.Add(1)
	rt.stats.ioSubmitted.Add(1)
	rt.stats.parks.Add(1)
	tc.parked = true
	rt.trace("task parked on io", core.F("worker", tc.workerID), core.F("fd", fd))
	return nil
}

// CancelIO withdraws an AwaitIO registration made by an earlier resume of
// this task, typically after a racing timer won. It reports whether the
// registration was still pending (false means the event already fired or
// was never made).
func (tc *TaskContext) CancelIO(fd int) (bool, error) {
	if tc.current == nil {
		return false, ErrNotInTask
	}
	rt := tc.rt
	removed, err := rt.poller.Remove(fd)
	if err != nil {
		return removed, fmt.Errorf("cancel io on fd %d: %w", fd, err)
	}
	if removed {
		rt.pendingIO.Add(-1)
	}
	return removed, nil
}

// AwaitDeadline parks the current task until the absolute deadline. Same
// ownership rule as AwaitIO: return StatusYielded after a successful call.
func (tc *TaskContext) AwaitDeadline(deadline time.Time) error {
	if tc.current == nil {
		return ErrNotInTask
	}
	ns, err := safecast.Conv[uint64](deadline.UnixNano())
	if err != nil {
		return fmt.Errorf("await deadline %v: %w", deadline, err)
	}
	rt := tc.rt
	rt.timers.Insert(ns, tc.current)
	rt.stats.parks.Add(1)
	tc.parked = true
	rt.trace("task parked on timer", core.F("worker", tc.workerID), core.F("deadline_ns", ns))
	return nil
}

// AwaitAfter parks the current task for at least the given duration.
// Wakeup latency is bounded by the duration plus one poll tick.
func (tc *TaskContext) AwaitAfter(d time.Duration) error {
	return tc.AwaitDeadline(time.Now().Add(d))
}
