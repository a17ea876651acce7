package drainloop

import (
	"testing"
)

func TestHandleState_String(t *testing.T) {
	cases := map[HandleState]string{
		HandleCreated:   "Created",
		HandleHeld:      "Held",
		HandleDraining:  "Draining",
		HandleFinalized: "Finalized",
		HandleState(42): "Unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}

// TestHandle_StateMachine walks a handle through the full lifecycle via
// the executor: Created → Held → Draining → Finalized.
func TestHandle_StateMachine(t *testing.T) {
	reg := NewRegistry()
	exec, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}

	h := reg.NewHandle("lifecycle")
	if h.State() != HandleCreated {
		t.Fatalf("state = %v, want Created", h.State())
	}

	exec.Acquire(h, nil)
	exec.Acquire(h, nil)
	if h.State() != HandleHeld {
		t.Fatalf("state = %v after acquire, want Held", h.State())
	}
	if h.HoldCount() != 2 {
		t.Fatalf("holdCount = %d, want 2", h.HoldCount())
	}

	// First release executes; hold count is still non-zero.
	exec.Drain(Unlimited, 1)
	if h.State() != HandleDraining {
		t.Fatalf("state = %v after partial drain, want Draining", h.State())
	}
	if h.HoldCount() != 1 {
		t.Fatalf("holdCount = %d, want 1", h.HoldCount())
	}

	exec.Drain(Unlimited, Unlimited)
	if h.State() != HandleFinalized {
		t.Fatalf("state = %v after full drain, want Finalized", h.State())
	}
	if h.HoldCount() != 0 {
		t.Fatalf("holdCount = %d, want 0", h.HoldCount())
	}
	if !h.Finalized() {
		t.Fatal("Finalized() = false")
	}
}

// TestHandle_ReacquireWhileDraining verifies Draining → Held when a new
// acquisition lands between releases.
func TestHandle_ReacquireWhileDraining(t *testing.T) {
	reg := NewRegistry()
	exec, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}

	h := reg.NewHandle("reacquire")
	exec.Acquire(h, nil)
	exec.Acquire(h, nil)
	exec.Drain(Unlimited, 1) // Draining, holdCount=1

	exec.Acquire(h, nil)
	if h.State() != HandleHeld {
		t.Fatalf("state = %v after reacquire, want Held", h.State())
	}
	if h.HoldCount() != 2 {
		t.Fatalf("holdCount = %d, want 2", h.HoldCount())
	}

	exec.Drain(Unlimited, Unlimited)
	if !h.Finalized() {
		t.Fatal("handle not finalized after full drain")
	}
}

func TestHandle_Accessors(t *testing.T) {
	reg := NewRegistry()
	h := reg.NewHandle("accessors")
	if h.ID() == 0 {
		t.Fatal("ID() = 0, want non-zero")
	}
	if h.Label() != "accessors" {
		t.Fatalf("Label() = %q", h.Label())
	}
	if h.HoldCount() != 0 {
		t.Fatalf("HoldCount() = %d, want 0", h.HoldCount())
	}
}
