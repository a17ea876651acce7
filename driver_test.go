package drainloop

import (
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// TestDriver_StarvedRunLoop reproduces the accumulation failure mode:
// many cycles, no drain opportunities granted, backlog and live count
// grow without bound until an eventual generous drain clears them.
func TestDriver_StarvedRunLoop(t *testing.T) {
	exec, reg := newTestExecutor(t)

	d := NewDriver(exec, DriverConfig{
		Cycles:          300,
		HandlesPerCycle: 4,
		SaveEvery:       2,
		DrainThreshold:  10,
		TimeBudget:      time.Millisecond,
		OpBudget:        25,
		// No tokens: every mid-run drain attempt is denied.
		DrainRate:  0,
		DrainBurst: 0,
	})

	report := d.Run()

	if report.HandlesCreated != 1200 {
		t.Fatalf("HandlesCreated = %d, want 1200", report.HandlesCreated)
	}
	if report.SavesIssued != 600 {
		t.Fatalf("SavesIssued = %d, want 600", report.SavesIssued)
	}
	if report.DrainsGranted != 0 {
		t.Fatalf("DrainsGranted = %d, want 0", report.DrainsGranted)
	}
	if report.DrainsAttempted != 30 {
		t.Fatalf("DrainsAttempted = %d, want 30", report.DrainsAttempted)
	}
	if !report.Starved() {
		t.Fatal("run not starved")
	}
	if report.Backlog != 1800 {
		t.Fatalf("Backlog = %d, want 1800", report.Backlog)
	}
	if report.LiveCount != 1200 {
		t.Fatalf("LiveCount = %d, want 1200", report.LiveCount)
	}
	if report.PendingChanges != 600 {
		t.Fatalf("PendingChanges = %d, want 600", report.PendingChanges)
	}
	if report.ActionsRun != 0 {
		t.Fatalf("ActionsRun = %d before any drain, want 0", report.ActionsRun)
	}

	// The eventual unbounded drain dissipates the stampede.
	final := exec.Drain(Unlimited, Unlimited)
	if final.TasksRemaining != 0 {
		t.Fatalf("TasksRemaining = %d after unbounded drain, want 0", final.TasksRemaining)
	}
	if got := reg.Count(); got != 0 {
		t.Fatalf("Count = %d after unbounded drain, want 0", got)
	}
	if got := d.Report().ActionsRun; got != 1200 {
		t.Fatalf("ActionsRun = %d after drain, want 1200", got)
	}
}

// TestDriver_GrantedDrainsMakePartialProgress: with tokens available,
// mid-run drains run but small budgets cannot keep up with the
// acquisition rate.
func TestDriver_GrantedDrainsMakePartialProgress(t *testing.T) {
	exec, _ := newTestExecutor(t)

	d := NewDriver(exec, DriverConfig{
		Cycles:          100,
		HandlesPerCycle: 10,
		DrainThreshold:  5,
		TimeBudget:      10 * time.Millisecond,
		OpBudget:        5,
		DrainRate:       rate.Inf,
		DrainBurst:      1,
	})

	report := d.Run()

	if report.DrainsGranted != 20 {
		t.Fatalf("DrainsGranted = %d, want 20", report.DrainsGranted)
	}
	executed := 0
	for _, r := range report.Drains {
		if r.TasksExecuted != 5 {
			t.Fatalf("mid-run pass executed %d, want 5 (budget)", r.TasksExecuted)
		}
		if !r.Overloaded() {
			t.Fatal("mid-run pass unexpectedly cleared the backlog")
		}
		executed += r.TasksExecuted
	}
	if want := 1000 - executed; report.Backlog != want {
		t.Fatalf("Backlog = %d, want %d", report.Backlog, want)
	}
	// 100 releases drained, so 100 handles were reclaimed.
	if want := 1000 - executed; report.LiveCount != want {
		t.Fatalf("LiveCount = %d, want %d", report.LiveCount, want)
	}
}

func TestDriver_RunCycleWithSave(t *testing.T) {
	exec, _ := newTestExecutor(t)
	d := NewDriver(exec, DriverConfig{})

	d.RunCycle(10, false)
	if got := d.Report().SavesIssued; got != 0 {
		t.Fatalf("SavesIssued = %d with withSave=false, want 0", got)
	}

	d.RunCycle(10, true)
	if got := d.Report().SavesIssued; got != 10 {
		t.Fatalf("SavesIssued = %d with withSave=true, want 10", got)
	}
	if got := len(d.Handles()); got != 20 {
		t.Fatalf("Handles() length = %d, want 20", got)
	}
	if got := exec.QueueLen(); got != 30 {
		t.Fatalf("QueueLen = %d, want 30", got)
	}
}
