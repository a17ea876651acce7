// Package drainloop provides a single-threaded, deferred-release task
// executor with bounded draining and hold-count accounting, designed to
// make queue-backlog starvation an observable, measurable condition
// rather than an incidental side effect of a platform event loop.
//
// # Architecture
//
// The package is built around three components:
//
//   - [Registry]: tracks live [Handle] instances via weak membership.
//     It never keeps a handle alive, and never removes a handle whose
//     hold count is non-zero. Removal is explicit and deterministic,
//     driven by the hold count reaching zero during a drain.
//   - [Executor]: a cooperative FIFO work queue. [Executor.Acquire]
//     eagerly increments the target handle's hold count and enqueues the
//     matching release as a task; the release only happens when a
//     bounded [Executor.Drain] pass reaches it. [Executor.NoteStateChange]
//     models the cost amplification of external saves: each one appends
//     a pending-changes task, independent of acquisition.
//   - [Driver]: a harness that performs many acquire-use cycles without
//     draining, then attempts budgeted drains gated by a token bucket,
//     reproducing the backlog stampede a starved run loop produces.
//
// # Execution Model
//
// Acquire, NoteStateChange, and Drain all execute on one logical thread
// of control. The only "concurrency" modeled is the interleaving of
// immediate work (hold-count increments) against queued work (releases
// and pending-changes tasks, executed only during an explicit drain).
//
// Drain honors a (time budget, op budget) pair and processes tasks in
// strict FIFO order. Running out of budget mid-queue is a normal,
// reportable outcome ([DrainReport.TasksRemaining] > 0), not an error:
// there is no fatal path in this core. Once popped, a task always runs
// to completion; there is no cancellation of in-flight tasks.
//
// # Thread Safety
//
// Executor methods must be called from a single goroutine. Callers that
// need multi-goroutine access must serialize all entry points behind a
// [Serializer], which runs the executor on one dedicated goroutine and
// accepts submissions from any goroutine. The entire value of the
// design is exposing what happens when that serialization point becomes
// a bottleneck.
//
// # Usage
//
//	reg := drainloop.NewRegistry()
//	exec, err := drainloop.New(reg)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	h := reg.NewHandle("worker-ctx")
//	exec.Acquire(h, func() {
//		// deferred action; runs during Drain, before the release
//	})
//	exec.NoteStateChange(h) // external save: more backlog
//
//	report := exec.Drain(100*time.Millisecond, 50)
//	if report.TasksRemaining > 0 {
//		// backlog exhaustion: the stampede did not dissipate in one pass
//	}
package drainloop
