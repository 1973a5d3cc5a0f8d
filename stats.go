package asyncruntime

import "sync/atomic"

// RuntimeStats is a point-in-time snapshot of the runtime's monotonically
// increasing counters. Each counter is written only by the subsystem that
// owns the event and read with atomic loads, so a snapshot is cheap and
// never blocks the scheduler.
type RuntimeStats struct {
	// Spawned counts tasks accepted by SpawnGlobal/SpawnLocal.
	Spawned uint64
	// Completed counts resume calls that returned StatusDone.
	Completed uint64
	// ReactorEvents counts readiness events delivered by the reactor.
	ReactorEvents uint64
	// TimerExpirations counts timer-heap deadlines that fired.
	TimerExpirations uint64
	// IOSubmitted counts successful AwaitIO registrations.
	IOSubmitted uint64
	// Parks counts suspensions onto the reactor or the timer heap.
	Parks uint64
	// Unparks counts wakeups delivered back to the ready queues.
	Unparks uint64
}

type counters struct {
	spawned          atomic.Uint64
	completed        atomic.Uint64
	reactorEvents    atomic.Uint64
	timerExpirations atomic.Uint64
	ioSubmitted      atomic.Uint64
	parks            atomic.Uint64
	unparks          atomic.Uint64
}

func (c *counters) snapshot() RuntimeStats {
	return RuntimeStats{
		Spawned:          c.spawned.Load(),
		Completed:        c.completed.Load(),
		ReactorEvents:    c.reactorEvents.Load(),
		TimerExpirations: c.timerExpirations.Load(),
		IOSubmitted:      c.ioSubmitted.Load(),
		Parks:            c.parks.Load(),
		Unparks:          c.unparks.Load(),
	}
}

// unspawn rolls back a spawned increment after a failed enqueue.
func (c *counters) unspawn() {
	c.spawned.Add(^uint64(0))
}
