package drainloop

import (
	"sync/atomic"
)

// HandleState represents the lifecycle state of a Handle.
//
// State Machine:
//
//	HandleCreated (0) → HandleHeld (1)       [first Acquire]
//	HandleHeld (1) → HandleDraining (2)      [first release task executes]
//	HandleDraining (2) → HandleHeld (1)      [Acquire while draining]
//	HandleDraining (2) → HandleFinalized (3) [hold count reaches 0]
//	HandleFinalized (3) → (terminal)
//
// A handle can remain in HandleHeld indefinitely if Drain is never
// called, or exhausts its budget before reaching the handle's release
// task. That is the deadlock-adjacent condition this package exists to
// expose, not a bug.
type HandleState uint32

const (
	// HandleCreated indicates the handle exists but has never been acquired.
	HandleCreated HandleState = 0
	// HandleHeld indicates the hold count is non-zero with no release executed yet.
	HandleHeld HandleState = 1
	// HandleDraining indicates at least one release task has executed,
	// but the hold count has not yet reached zero.
	HandleDraining HandleState = 2
	// HandleFinalized indicates the hold count reached zero and the
	// handle was unregistered. Terminal.
	HandleFinalized HandleState = 3
)

// String returns a human-readable representation of the state.
func (s HandleState) String() string {
	switch s {
	case HandleCreated:
		return "Created"
	case HandleHeld:
		return "Held"
	case HandleDraining:
		return "Draining"
	case HandleFinalized:
		return "Finalized"
	default:
		return "Unknown"
	}
}

// Handle represents one long-lived resource instance, analogous to a
// managed persistence context: a resource whose finalization is gated
// on its hold count reaching zero.
//
// Handles are created via [Registry.NewHandle]. The registry references
// them weakly (relation and lookup, never ownership): reaching a hold
// count of zero is the sole condition permitting removal, and the
// registry performs no work to force the hold count down.
//
// The hold count is mutated only on the executor's logical thread, but
// is stored atomically so observers (tests, metrics scrapes) may read
// it from any goroutine.
type Handle struct {
	_ [0]func() // Prevent copying

	label     string
	id        uint64
	holdCount atomic.Int64
	state     atomic.Uint32
}

// ID returns the registry-assigned unique identity of the handle.
func (h *Handle) ID() uint64 {
	return h.id
}

// Label returns the live-name label the handle was created with.
func (h *Handle) Label() string {
	return h.label
}

// HoldCount returns the current hold count. Always >= 0.
func (h *Handle) HoldCount() int64 {
	return h.holdCount.Load()
}

// State returns the current lifecycle state atomically.
func (h *Handle) State() HandleState {
	return HandleState(h.state.Load())
}

// Finalized reports whether the handle has reached its terminal state.
func (h *Handle) Finalized() bool {
	return h.State() == HandleFinalized
}

// tryTransition attempts to atomically transition from one state to
// another. Returns true if the transition was successful.
// PERFORMANCE: Pure CAS, no validation of transition validity.
func (h *Handle) tryTransition(from, to HandleState) bool {
	return h.state.CompareAndSwap(uint32(from), uint32(to))
}

// setState atomically stores an irreversible state (HandleFinalized).
// Using setState for temporary states is a BUG (breaks CAS logic).
func (h *Handle) setState(state HandleState) {
	h.state.Store(uint32(state))
}
