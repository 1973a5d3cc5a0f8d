package asyncruntime

import "sync/atomic"

// Status is what a resume step reports back to the scheduler.
type Status uint8

const (
	// StatusRunning means the task has more work and should be resumed
	// again soon. It is re-queued unless the task parked itself during
	// this resume.
	StatusRunning Status = iota

	// StatusYielded means the task cooperatively gave up its turn. It is
	// handled exactly like StatusRunning: re-queued unless parked.
	StatusYielded

	// StatusDone means the task finished. The runtime drops its reference;
	// the task's data returns to caller ownership and is never resumed
	// again.
	StatusDone
)

// String returns the status name for logs and test failures.
func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusYielded:
		return "yielded"
	case StatusDone:
		return "done"
	default:
		return "unknown"
	}
}

// Resumable is the unit of schedulable work: one resume step that runs to
// completion uninterrupted and reports how to re-file the task. The runtime
// never inspects the implementing value beyond calling Resume; its state is
// caller-owned and, by the single-resumer invariant, never touched by more
// than one goroutine at a time.
type Resumable interface {
	Resume(tc *TaskContext) Status
}

// ResumeFunc adapts a plain function to Resumable, in the manner of
// http.HandlerFunc.
type ResumeFunc func(tc *TaskContext) Status

// Resume calls f.
func (f ResumeFunc) Resume(tc *TaskContext) Status {
	return f(tc)
}

// Per-task scheduling state. The transitions collapse racing wakeups (an io
// event and a timer expiring together) into a single re-enqueue and guarantee
// a task is never handed to two workers at once.
const (
	taskParked      uint32 = iota // not scheduled; awaiting an external wakeup
	taskQueued                    // sitting in a ready queue
	taskRunning                   // inside Resume on some worker
	taskRunningWake               // a wakeup arrived mid-resume; the owning worker re-files
	taskDone                      // Resume returned Done; never scheduled again
)

// task is the runtime's internal record for one spawned Resumable.
type task struct {
	resumable Resumable
	cancel    *CancelToken
	wake      atomic.Uint32
}

func newTask(r Resumable, tok *CancelToken) *task {
	t := &task{resumable: r, cancel: tok}
	t.wake.Store(taskQueued)
	return t
}

// CancelToken is a shared cooperative-cancellation flag. Cancelling only
// sets the flag; a task that never checks it never stops. Tokens are created
// alongside a task tree and are never owned by the Runtime: SpawnLocal
// children inherit their parent's token, and SpawnGlobalWithToken lets
// callers link independently spawned tasks to one flag.
type CancelToken struct {
	flag atomic.Bool
}

// NewCancelToken creates an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel requests cancellation. The signal cannot be missed once written.
func (t *CancelToken) Cancel() {
	if t != nil {
		t.flag.Store(true)
	}
}

// Cancelled reports whether cancellation was requested. Non-blocking.
func (t *CancelToken) Cancelled() bool {
	return t != nil && t.flag.Load()
}
