package drainloop

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Standard errors.
var (
	// ErrNilRegistry is returned by New when no registry is supplied.
	ErrNilRegistry = errors.New("drainloop: executor requires a registry")
)

// Unlimited disables one side of the drain budget. It is untyped so it
// can be passed as either the time budget or the op budget.
const Unlimited = -1

// DrainReport describes the outcome of a single Drain pass.
//
// Running out of budget mid-queue is a normal, reportable outcome
// (TasksRemaining > 0), representing a stampede that can't fully
// dissipate in one pass. There is no error path.
type DrainReport struct {
	// TasksExecuted is the number of tasks popped and run this pass.
	TasksExecuted int
	// TasksRemaining is the backlog left when the pass ended, including
	// any tasks enqueued by actions that ran during the pass.
	TasksRemaining int
	// Elapsed is the wall time consumed by the pass.
	Elapsed time.Duration
	// LiveCount is the registry's live handle count after the pass.
	LiveCount int
}

// Overloaded reports whether the pass ended with backlog remaining.
func (r DrainReport) Overloaded() bool {
	return r.TasksRemaining > 0
}

// Executor models a cooperative, single-threaded task queue whose
// draining is the ONLY way deferred releases occur.
//
// Acquire eagerly increments the target handle's hold count and defers
// the matching decrement behind a queued task: retain-then-defer-release,
// where the increment is eager but the decrement is lazy and
// queue-gated. With enough outstanding acquisitions, a budgeted Drain
// cannot keep up, and the backlog becomes observable via DrainReport.
//
// All methods must be called from a single goroutine; see Serializer
// for multi-goroutine access.
type Executor struct {
	// Prevent copying
	_ [0]func()

	// OnOverload, if non-nil, is invoked synchronously at the end of
	// any Drain pass that exhausted its budget with backlog remaining.
	OnOverload func(DrainReport)

	registry *Registry
	logger   *logiface.Logger[logiface.Event]
	metrics  *metrics

	queue taskQueue

	// pendingChanges counts "process pending changes" tasks currently
	// enqueued. Incremented by NoteStateChange, decremented only when
	// a Drain pass executes the task.
	pendingChanges atomic.Int64
}

// New creates an Executor draining into the given registry.
func New(registry *Registry, opts ...Option) (*Executor, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	e := &Executor{
		registry: registry,
		logger:   cfg.logger,
	}
	if cfg.metricsEnabled {
		e.metrics = newMetrics()
	}
	return e, nil
}

// Registry returns the registry this executor drains into.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// QueueLen returns the current backlog length.
func (e *Executor) QueueLen() int {
	return e.queue.len()
}

// PendingChanges returns the number of pending-changes tasks currently
// enqueued. It decreases monotonically only through Drain.
func (e *Executor) PendingChanges() int64 {
	return e.pendingChanges.Load()
}

// Acquire increments the handle's hold count by 1 immediately, then
// wraps action together with the implicit release continuation into a
// task appended to the queue. The action is NOT run here; it is
// deferred until a Drain pass reaches it, and the hold count only comes
// back down when that task's release continuation executes.
//
// Acquiring a finalized or nil handle is a no-op.
func (e *Executor) Acquire(h *Handle, action func()) {
	if h == nil || h.Finalized() {
		return
	}

	holds := h.holdCount.Add(1)
	if !h.tryTransition(HandleCreated, HandleHeld) {
		h.tryTransition(HandleDraining, HandleHeld)
	}

	e.queue.push(task{kind: taskRelease, handle: h, action: action})
	e.observeDepth()

	e.logger.Trace().
		Uint64("handle", h.id).
		Int64("holds", holds).
		Int("backlog", e.queue.len()).
		Log("acquire")
}

// NoteStateChange records that the owner mutated or saved the handle
// outside any deferred action. It appends a lightweight pending-changes
// task to the queue: every external save adds backlog, independent of
// Acquire.
//
// Noting a finalized or nil handle is a no-op.
func (e *Executor) NoteStateChange(h *Handle) {
	if h == nil || h.Finalized() {
		return
	}

	e.pendingChanges.Add(1)
	e.queue.push(task{kind: taskPendingChanges, handle: h})
	e.observeDepth()

	e.logger.Trace().
		Uint64("handle", h.id).
		Int64("pending", e.pendingChanges.Load()).
		Log("state change noted")
}

// Drain repeatedly pops the head of the queue and executes it until the
// queue is empty, the elapsed wall time reaches timeBudget, or the
// number of executed tasks reaches opBudget. Pass [Unlimited] (or any
// negative value) to disable either budget; a zero budget executes zero
// tasks and returns immediately.
//
// Tasks run in strict FIFO order, no skipping, no reordering, even
// under budget pressure: a partial drain executes a strict prefix of
// the queue. Never fails; see DrainReport.
func (e *Executor) Drain(timeBudget time.Duration, opBudget int) DrainReport {
	start := time.Now()
	executed := 0

	for {
		if opBudget >= 0 && executed >= opBudget {
			break
		}
		if timeBudget >= 0 && time.Since(start) >= timeBudget {
			break
		}
		t, ok := e.queue.pop()
		if !ok {
			break
		}
		taskStart := start
		if e.metrics != nil {
			taskStart = time.Now()
		}
		e.run(t)
		executed++
		if e.metrics != nil {
			e.metrics.recordTask(time.Since(taskStart))
		}
	}

	report := DrainReport{
		TasksExecuted:  executed,
		TasksRemaining: e.queue.len(),
		Elapsed:        time.Since(start),
		LiveCount:      e.registry.Count(),
	}

	if e.metrics != nil {
		e.metrics.recordDrain(report)
	}

	e.logger.Debug().
		Int("executed", report.TasksExecuted).
		Int("remaining", report.TasksRemaining).
		Dur("elapsed", report.Elapsed).
		Int("live", report.LiveCount).
		Log("drain pass")

	if report.Overloaded() && e.OnOverload != nil {
		e.OnOverload(report)
	}

	return report
}

// run executes a single popped task to completion.
func (e *Executor) run(t task) {
	switch t.kind {
	case taskPendingChanges:
		e.pendingChanges.Add(-1)
	case taskRelease:
		if t.action != nil {
			t.action()
		}
		e.release(t.handle)
	}
}

// release is the deferred continuation paired with one Acquire.
// Decrements the hold count; at zero, finalizes the handle and removes
// it from the registry. Releasing a finalized handle is a no-op
// (double-release safety).
func (e *Executor) release(h *Handle) {
	if h == nil || h.Finalized() {
		return
	}

	holds := h.holdCount.Add(-1)
	if holds < 0 {
		// Unpaired release; restore the floor.
		h.holdCount.Store(0)
		return
	}

	h.tryTransition(HandleHeld, HandleDraining)

	if holds == 0 {
		h.setState(HandleFinalized)
		e.registry.Unregister(h)
		e.logger.Debug().
			Uint64("handle", h.id).
			Str("label", h.label).
			Log("handle finalized")
	}
}

func (e *Executor) observeDepth() {
	if e.metrics != nil {
		e.metrics.observeDepth(e.queue.len())
	}
}
