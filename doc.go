// Package asyncruntime provides a cooperative M:N task execution runtime for Go.
//
// Tasks are resumable units of work multiplexed onto a fixed set of worker
// goroutines, with a dedicated polling goroutine converting I/O readiness and
// timer deadlines into scheduling decisions. Tasks suspend themselves at
// explicit await points and are resumed when the awaited event fires.
//
// # Quick Start
//
// Create a runtime, spawn tasks, and run until quiescent:
//
//	rt, _ := asyncruntime.New(asyncruntime.Config{Workers: 4, AutoShutdown: true})
//	defer rt.Close()
//
//	rt.SpawnGlobal(asyncruntime.ResumeFunc(func(tc *asyncruntime.TaskContext) asyncruntime.Status {
//		// Your code here - one uninterrupted resume step
//		return asyncruntime.StatusDone
//	}))
//
//	rt.Run(context.Background()) // returns once every task completed
//
// # Key Concepts
//
// Resumable: The unit of schedulable work. Each Resume call runs to completion
// uninterrupted and reports whether the task is done, yielded, or still running.
//
// TaskContext: Handed to every Resume call. Provides SpawnLocal for cheap
// same-worker spawning, AwaitIO/AwaitDeadline/AwaitAfter for suspension, and
// the task's CancelToken.
//
// Runtime: The execution engine. Workers pull from their own local ready queue
// first and fall back to the shared global queue; there is no work stealing.
//
// # Suspension
//
// A task parks itself by calling AwaitIO or AwaitDeadline during a resume and
// then returning StatusYielded. The runtime re-enqueues it when the readiness
// event or deadline fires. A task is never resumed on two workers at once,
// even when racing wakeups (an I/O event and a timer) arrive together.
//
// # Cancellation
//
// Cancellation is cooperative: CancelToken.Cancel sets a flag that the task
// must check from its own Resume. SpawnLocal children inherit their parent's
// token, so one Cancel stops a whole task tree at its next resume steps.
//
// # Example
//
//	import (
//		"context"
//		"time"
//
//		asyncruntime "github.com/corewind/go-async-runtime"
//	)
//
//	func main() {
//		rt, _ := asyncruntime.New(asyncruntime.Config{AutoShutdown: true})
//		defer rt.Close()
//
//		n := 3
//		rt.SpawnGlobal(asyncruntime.ResumeFunc(func(tc *asyncruntime.TaskContext) asyncruntime.Status {
//			if n == 0 {
//				return asyncruntime.StatusDone
//			}
//			n--
//			tc.AwaitAfter(100 * time.Millisecond) // park until the deadline
//			return asyncruntime.StatusYielded
//		}))
//
//		rt.Run(context.Background())
//	}
//
// For more details, see https://github.com/corewind/go-async-runtime
package asyncruntime
