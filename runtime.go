package asyncruntime

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"fortio.org/safecast"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/corewind/go-async-runtime/core"
	"github.com/corewind/go-async-runtime/reactor"
)

const (
	// DefaultGlobalQueueCapacity is the global ready ring size.
	DefaultGlobalQueueCapacity = 1024
	// DefaultLocalQueueCapacity is each worker's local ring size.
	DefaultLocalQueueCapacity = 256
	// DefaultPollInterval bounds how long the polling goroutine sleeps in
	// the reactor; it is also the upper bound on timer wakeup latency
	// beyond the deadline.
	DefaultPollInterval = 10 * time.Millisecond
	// DefaultReactorBatch is the number of events drained per reactor wait.
	DefaultReactorBatch = 1024
)

var (
	// ErrQueueFull is returned by spawn when every eligible ready queue is
	// at capacity. The queues are bounded by design; callers apply
	// backpressure or retry.
	ErrQueueFull = errors.New("asyncruntime: ready queue full")
	// ErrInvalidWorkerCount is returned by New for a negative worker count.
	ErrInvalidWorkerCount = errors.New("asyncruntime: negative worker count")
	// ErrNilResumable is returned by spawn for a nil Resumable.
	ErrNilResumable = errors.New("asyncruntime: nil resumable")
	// ErrNotInTask is returned by TaskContext methods called outside a
	// resume step.
	ErrNotInTask = errors.New("asyncruntime: not inside a task resume")
	// ErrAlreadyRunning is returned by Run after the first call; a Runtime
	// runs once.
	ErrAlreadyRunning = errors.New("asyncruntime: run already called")
	// ErrShuttingDown is returned by spawn after shutdown was requested.
	ErrShuttingDown = errors.New("asyncruntime: shutting down")
)

// Config configures a Runtime. The zero value is usable: NumCPU workers,
// default queue capacities, the platform reactor, and no logging.
type Config struct {
	// Workers is the number of worker goroutines. 0 means runtime.NumCPU.
	Workers int

	// GlobalQueueCapacity and LocalQueueCapacity size the ready rings;
	// both are rounded up to powers of two. 0 picks the defaults.
	GlobalQueueCapacity int
	LocalQueueCapacity  int

	// PollInterval bounds the reactor wait so pending timers and shutdown
	// are observed promptly. 0 picks DefaultPollInterval.
	PollInterval time.Duration

	// ReactorBatch is the event batch size per reactor wait. 0 picks
	// DefaultReactorBatch.
	ReactorBatch int

	// Reactor is the readiness backend. nil picks the platform default
	// (epoll on linux, kqueue on the BSD family, manual elsewhere).
	// The Runtime takes ownership and closes it in Close.
	Reactor reactor.Reactor

	// Logger receives runtime logs. nil discards them.
	Logger core.Logger

	// Tracing enables per-event debug logging from the start; it can be
	// toggled at any time with SetTracing.
	Tracing bool

	// AutoShutdown stops the runtime once it is quiescent: every spawned
	// task completed and nothing is parked on the reactor or the timer
	// heap. Toggle at any time with EnableAutoShutdown.
	AutoShutdown bool
}

// Runtime multiplexes spawned tasks onto a fixed set of worker goroutines,
// with a dedicated polling goroutine converting reactor readiness and timer
// deadlines back into ready-queue entries.
type Runtime struct {
	workers      []*worker
	global       *core.RingQueue[*task]
	timers       *core.TimerHeap
	poller       reactor.Reactor
	log          core.Logger
	pollInterval time.Duration
	batch        int

	tracing      atomic.Bool
	autoShutdown atomic.Bool
	started      atomic.Bool

	stop     chan struct{} // closed by Shutdown
	stopOnce sync.Once
	wake     chan struct{} // nudges idle workers after a global enqueue
	done     chan struct{} // closed when Run returns

	closeOnce sync.Once
	closeErr  error

	stats     counters
	pendingIO atomic.Int64

	spinWarn rate.Sometimes
}

// New creates a runtime. A worker count of 0 means runtime.NumCPU; a
// negative count is an error. Failures leave no goroutines behind: workers
// and the polling goroutine only start inside Run.
func New(cfg Config) (*Runtime, error) {
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWorkerCount, cfg.Workers)
	}
	numWorkers := cfg.Workers
	if numWorkers == 0 {
		numWorkers = runtime.NumCPU()
	}
	globalCap := cfg.GlobalQueueCapacity
	if globalCap <= 0 {
		globalCap = DefaultGlobalQueueCapacity
	}
	localCap := cfg.LocalQueueCapacity
	if localCap <= 0 {
		localCap = DefaultLocalQueueCapacity
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	batch := cfg.ReactorBatch
	if batch <= 0 {
		batch = DefaultReactorBatch
	}
	logger := cfg.Logger
	if logger == nil {
		logger = core.NewNoOpLogger()
	}

	poller := cfg.Reactor
	if poller == nil {
		var err error
		poller, err = reactor.NewDefault()
		if err != nil {
			return nil, fmt.Errorf("create reactor: %w", err)
		}
	}

	rt := &Runtime{
		global:       core.NewRingQueue[*task](globalCap),
		timers:       core.NewTimerHeap(),
		poller:       poller,
		log:          logger,
		pollInterval: pollInterval,
		batch:        batch,
		stop:         make(chan struct{}),
		wake:         make(chan struct{}, numWorkers*2),
		done:         make(chan struct{}),
		spinWarn:     rate.Sometimes{Interval: time.Second},
	}
	rt.tracing.Store(cfg.Tracing)
	rt.autoShutdown.Store(cfg.AutoShutdown)

	rt.workers = make([]*worker, numWorkers)
	for i := range rt.workers {
		rt.workers[i] = newWorker(rt, i, localCap)
	}
	return rt, nil
}

// SpawnGlobal enqueues a task onto the global ready queue with a fresh
// CancelToken. This is the entry point for externally-originated work; tasks
// spawning from inside a resume should prefer TaskContext.SpawnLocal.
func (rt *Runtime) SpawnGlobal(r Resumable) error {
	return rt.SpawnGlobalWithToken(r, NewCancelToken())
}

// SpawnGlobalWithToken is SpawnGlobal with a caller-supplied CancelToken,
// linking the new task into an existing cancellation tree.
func (rt *Runtime) SpawnGlobalWithToken(r Resumable, tok *CancelToken) error {
	if r == nil {
		return ErrNilResumable
	}
	if rt.stopped() {
		return ErrShuttingDown
	}
	t := newTask(r, tok)
	rt.stats.spawned.Add(1)
	if !rt.global.Enqueue(t) {
		rt.stats.unspawn()
		return ErrQueueFull
	}
	rt.signalWake()
	rt.trace("task spawned global")
	return nil
}

// Run starts the workers and the polling goroutine and blocks until
// Shutdown is called, quiescence triggers auto-shutdown, or ctx is
// cancelled. It returns the first reactor error, if any. A Runtime runs
// once; subsequent calls return ErrAlreadyRunning.
func (rt *Runtime) Run(ctx context.Context) error {
	if !rt.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(rt.done)

	rt.log.Info("runtime starting",
		core.F("workers", len(rt.workers)),
		core.F("global_queue_cap", rt.global.Cap()),
		core.F("poll_interval", rt.pollInterval))

	var g errgroup.Group
	g.Go(func() error {
		return rt.pollLoop(ctx)
	})
	for _, w := range rt.workers {
		w := w
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	err := g.Wait()

	stats := rt.stats.snapshot()
	rt.log.Info("runtime stopped",
		core.F("spawned", stats.Spawned),
		core.F("completed", stats.Completed),
		core.F("reactor_events", stats.ReactorEvents),
		core.F("timer_expirations", stats.TimerExpirations))
	return err
}

// Shutdown requests an orderly stop. Idle workers and the polling goroutine
// unblock; busy workers finish their current resume and drain what remains
// in their queues before exiting. Idempotent and safe from any goroutine,
// including from inside a task.
func (rt *Runtime) Shutdown() {
	rt.stopOnce.Do(func() {
		rt.log.Info("shutdown requested")
		close(rt.stop)
	})
}

// Close shuts the runtime down, waits for Run to return, and releases the
// reactor. Safe to call whether or not Run was ever called.
func (rt *Runtime) Close() error {
	rt.Shutdown()
	if rt.started.Load() {
		<-rt.done
	}
	rt.closeOnce.Do(func() {
		rt.closeErr = rt.poller.Close()
	})
	return rt.closeErr
}

// SetTracing toggles per-event debug logging.
func (rt *Runtime) SetTracing(enabled bool) {
	rt.tracing.Store(enabled)
}

// EnableAutoShutdown toggles quiescence detection.
func (rt *Runtime) EnableAutoShutdown(enabled bool) {
	rt.autoShutdown.Store(enabled)
	if enabled {
		rt.maybeAutoShutdown()
	}
}

// Stats returns a snapshot of the runtime counters.
func (rt *Runtime) Stats() RuntimeStats {
	return rt.stats.snapshot()
}

// Workers returns the number of worker goroutines.
func (rt *Runtime) Workers() int {
	return len(rt.workers)
}

// QueueDepths reports the approximate depth of the global queue and of each
// worker's local queue, for monitoring.
func (rt *Runtime) QueueDepths() (global int, locals []int) {
	locals = make([]int, len(rt.workers))
	for i, w := range rt.workers {
		locals[i] = w.local.Len()
	}
	return rt.global.Len(), locals
}

// PendingIO returns the number of outstanding reactor registrations.
func (rt *Runtime) PendingIO() int64 {
	return rt.pendingIO.Load()
}

// PendingTimers returns the number of pending timer-heap entries.
func (rt *Runtime) PendingTimers() int {
	return rt.timers.Len()
}

func (rt *Runtime) stopped() bool {
	select {
	case <-rt.stop:
		return true
	default:
		return false
	}
}

func (rt *Runtime) signalWake() {
	select {
	case rt.wake <- struct{}{}:
	default:
	}
}

func (rt *Runtime) trace(msg string, fields ...core.Field) {
	if rt.tracing.Load() {
		rt.log.Debug(msg, fields...)
	}
}

// enqueueGlobal re-files a task the runtime already owns. Unlike spawn, it
// must not drop the task, so a full ring is retried with a scheduler yield,
// exactly the backpressure a bounded ring imposes on internal producers.
func (rt *Runtime) enqueueGlobal(t *task) {
	for !rt.global.Enqueue(t) {
		rt.spinWarn.Do(func() {
			rt.log.Warn("global ready queue full, spinning",
				core.F("capacity", rt.global.Cap()))
		})
		runtime.Gosched()
	}
	rt.signalWake()
}

// wakeTask moves a parked task back to the ready queues, or defers to the
// owning worker when the task is still inside Resume. Racing wakeups (an io
// event and a timer expiring together) collapse into one schedule.
func (rt *Runtime) wakeTask(t *task) {
	for {
		switch t.wake.Load() {
		case taskParked:
			if t.wake.CompareAndSwap(taskParked, taskQueued) {
				rt.stats.unparks.Add(1)
				rt.enqueueGlobal(t)
				return
			}
		case taskRunning:
			if t.wake.CompareAndSwap(taskRunning, taskRunningWake) {
				rt.stats.unparks.Add(1)
				return
			}
		default:
			// Queued, running-wake, or done: nothing to deliver.
			return
		}
	}
}

// maybeAutoShutdown stops the runtime once it is quiescent. Spawn counts
// are incremented before enqueue, so spawned == completed with nothing
// parked means nothing is queued, running, or pending anywhere.
func (rt *Runtime) maybeAutoShutdown() {
	if !rt.autoShutdown.Load() {
		return
	}
	if rt.pendingIO.Load() != 0 || rt.timers.Len() != 0 {
		return
	}
	if rt.stats.spawned.Load() != rt.stats.completed.Load() {
		return
	}
	rt.trace("quiescent")
	rt.Shutdown()
}

// pollLoop is the dedicated polling goroutine: it drains the reactor with a
// timeout bounded by the next timer deadline (so a pending timer is never
// missed even with no io activity), then expires the timer heap.
func (rt *Runtime) pollLoop(ctx context.Context) error {
	events := make([]reactor.Event, rt.batch)
	for {
		select {
		case <-rt.stop:
			return nil
		case <-ctx.Done():
			rt.Shutdown()
			return nil
		default:
		}

		timeout := rt.pollInterval
		if next, ok := rt.timers.PeekDeadline(); ok {
			now := nowNS()
			if next <= now {
				timeout = 0
			} else if until := next - now; until < uint64(timeout) {
				timeout = time.Duration(until)
			}
		}

		n, err := rt.poller.Wait(events, timeout)
		if err != nil {
			if errors.Is(err, reactor.ErrClosed) {
				return nil
			}
			rt.log.Error("reactor wait failed", core.F("error", err))
			rt.Shutdown()
			return fmt.Errorf("reactor wait: %w", err)
		}

		for i := 0; i < n; i++ {
			t, ok := events[i].Tag.(*task)
			if !ok || t == nil {
				continue
			}
			rt.pendingIO.Add(-1)
			rt.stats.reactorEvents.Add(1)
			rt.trace("io wakeup", core.F("fd", events[i].FD))
			rt.wakeTask(t)
			events[i] = reactor.Event{} // release the task reference
		}

		rt.timers.PopExpired(nowNS(), func(tag any) {
			t, ok := tag.(*task)
			if !ok || t == nil {
				return
			}
			rt.stats.timerExpirations.Add(1)
			rt.trace("timer wakeup")
			rt.wakeTask(t)
		})

		rt.maybeAutoShutdown()
	}
}

// nowNS is the current wall clock in nanoseconds, matching the unit used by
// AwaitDeadline.
func nowNS() uint64 {
	ns, err := safecast.Conv[uint64](time.Now().UnixNano())
	if err != nil {
		return 0 // clock before the epoch; treat everything as expired
	}
	return ns
}
