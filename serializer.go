package drainloop

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"
)

// Standard errors.
var (
	// ErrSerializerAlreadyRunning is returned when Run is called on a
	// serializer that is already running.
	ErrSerializerAlreadyRunning = errors.New("drainloop: serializer is already running")

	// ErrSerializerTerminated is returned when operations are attempted
	// on a terminated serializer.
	ErrSerializerTerminated = errors.New("drainloop: serializer has been terminated")

	// ErrNilExecutor is returned by NewSerializer when no executor is
	// supplied.
	ErrNilExecutor = errors.New("drainloop: serializer requires an executor")
)

// SerializerState represents the current state of a Serializer.
//
// State Machine:
//
//	StateAwake (0) → StateRunning (1)        [Run]
//	StateRunning (1) → StateTerminating (2)  [context cancellation]
//	StateTerminating (2) → StateTerminated (3)
//	StateTerminated (3) → (terminal)
type SerializerState uint64

const (
	// StateAwake indicates the serializer has been created but not started.
	StateAwake SerializerState = 0
	// StateRunning indicates the serializer is processing submissions.
	StateRunning SerializerState = 1
	// StateTerminating indicates shutdown has begun but not completed.
	StateTerminating SerializerState = 2
	// StateTerminated indicates the serializer has fully stopped.
	StateTerminated SerializerState = 3
)

// String returns a human-readable representation of the state.
func (s SerializerState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state machine with cache-line padding.
//
// PERFORMANCE: Uses pure atomic CAS operations with no mutex.
// Cache-line padding prevents false sharing between cores.
type fastState struct { // betteralign:ignore
	_ [64]byte      // Cache line padding (before value) //nolint:unused
	v atomic.Uint64 // State value
	_ [56]byte      // Pad to complete cache line (64 - 8 = 56) //nolint:unused
}

// load returns the current state atomically.
func (s *fastState) load() SerializerState {
	return SerializerState(s.v.Load())
}

// store atomically stores an irreversible state (StateTerminated).
func (s *fastState) store(state SerializerState) {
	s.v.Store(uint64(state))
}

// tryTransition attempts to atomically transition from one state to
// another. Returns true if the transition was successful.
func (s *fastState) tryTransition(from, to SerializerState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// submitBuffer is the capacity of the serializer mailbox. Submit blocks
// when the mailbox is full; that backpressure is part of the model, the
// serialization point is supposed to be the bottleneck under load.
const submitBuffer = 1024

// Serializer runs an Executor on one dedicated goroutine and accepts
// submissions from any goroutine, serializing all entry points behind a
// single logical thread of control as the executor's model requires.
//
// The serializer does not drain on its own; callers still decide when
// and with what budget to call Drain, preserving the property that a
// starved drain schedule produces observable backlog.
type Serializer struct {
	// Prevent copying
	_ [0]func()

	exec        *Executor
	state       fastState
	submissions chan func(*Executor)

	// inflight counts goroutines currently inside Submit. Incremented
	// before the state check, so shutdown can wait out every submitter
	// that observed a pre-termination state before the final flush.
	inflight atomic.Int64

	// loopDone is closed when the run loop exits.
	loopDone chan struct{}
}

// NewSerializer creates a serializer for the given executor. The
// executor must not be used directly once the serializer is running.
func NewSerializer(exec *Executor) (*Serializer, error) {
	if exec == nil {
		return nil, ErrNilExecutor
	}
	return &Serializer{
		exec:        exec,
		submissions: make(chan func(*Executor), submitBuffer),
		loopDone:    make(chan struct{}),
	}, nil
}

// State returns the current serializer state.
func (s *Serializer) State() SerializerState {
	return s.state.load()
}

// Done returns a channel closed when the run loop has exited.
func (s *Serializer) Done() <-chan struct{} {
	return s.loopDone
}

// Run processes submissions on the calling goroutine until ctx is
// cancelled. Submissions already in the mailbox at cancellation are
// executed before Run returns, so a Submit that succeeded is never
// silently dropped.
//
// Returns ErrSerializerAlreadyRunning if called concurrently, and
// ErrSerializerTerminated if called after a previous Run returned.
func (s *Serializer) Run(ctx context.Context) error {
	if !s.state.tryTransition(StateAwake, StateRunning) {
		if s.state.load() == StateRunning {
			return ErrSerializerAlreadyRunning
		}
		return ErrSerializerTerminated
	}

	defer func() {
		s.state.store(StateTerminated)
		close(s.loopDone)
	}()

	for {
		select {
		case <-ctx.Done():
			s.state.tryTransition(StateRunning, StateTerminating)
			// Wait out submitters that passed the state check before the
			// transition; flush while waiting so a full mailbox cannot
			// block them. Submitters arriving after the transition are
			// rejected by the state check and never send.
			for s.inflight.Load() > 0 {
				s.flush()
				runtime.Gosched()
			}
			s.flush()
			return ctx.Err()
		case fn := <-s.submissions:
			fn(s.exec)
		}
	}
}

// flush executes submissions already buffered at termination.
func (s *Serializer) flush() {
	for {
		select {
		case fn := <-s.submissions:
			fn(s.exec)
		default:
			return
		}
	}
}

// Submit schedules fn to run on the serializer goroutine with exclusive
// access to the executor. Safe to call from any goroutine; submissions
// from a single goroutine execute in submission order. Blocks while the
// mailbox is full.
//
// Submitting before Run starts is allowed; the submission waits in the
// mailbox. Returns ErrSerializerTerminated after the run loop exits.
func (s *Serializer) Submit(fn func(*Executor)) error {
	if fn == nil {
		return nil
	}
	s.inflight.Add(1)
	defer s.inflight.Add(-1)
	if s.state.load() >= StateTerminating {
		return ErrSerializerTerminated
	}
	select {
	case s.submissions <- fn:
		return nil
	case <-s.loopDone:
		return ErrSerializerTerminated
	}
}

// Acquire submits an Executor.Acquire call.
func (s *Serializer) Acquire(h *Handle, action func()) error {
	return s.Submit(func(e *Executor) { e.Acquire(h, action) })
}

// NoteStateChange submits an Executor.NoteStateChange call.
func (s *Serializer) NoteStateChange(h *Handle) error {
	return s.Submit(func(e *Executor) { e.NoteStateChange(h) })
}

// Drain submits an Executor.Drain call and waits for its report.
func (s *Serializer) Drain(timeBudget time.Duration, opBudget int) (DrainReport, error) {
	reply := make(chan DrainReport, 1)
	if err := s.Submit(func(e *Executor) {
		reply <- e.Drain(timeBudget, opBudget)
	}); err != nil {
		return DrainReport{}, err
	}
	select {
	case r := <-reply:
		return r, nil
	case <-s.loopDone:
		// The run loop waits out inflight submitters and flushes the
		// mailbox on exit, so a successful Submit always produces a
		// report.
		return <-reply, nil
	}
}
