package drainloop

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
	"golang.org/x/time/rate"
)

// DriverConfig tunes a Driver run.
//
// The interesting regime is many cycles with a low DrainRate and small
// budgets: holds accumulate eagerly while releases trickle out of the
// queue, and the backlog compounds until a drain pass can no longer
// clear it.
type DriverConfig struct {
	// Cycles is the number of acquire-use cycles to run.
	Cycles int
	// HandlesPerCycle is the number of handles created per cycle.
	// Defaults to 1.
	HandlesPerCycle int
	// SaveEvery sets the save cadence for cycles run with saves
	// enabled: a NoteStateChange is issued for every k-th handle within
	// a cycle (1 or 0 = every handle). Run treats 0 as saves disabled;
	// RunCycle follows its withSave argument.
	SaveEvery int
	// DrainThreshold is the number of cycles between drain attempts.
	// 0 means no mid-run drains: the queue never gets a chance to drain
	// while cycles run, mirroring the original failure mode.
	DrainThreshold int
	// TimeBudget and OpBudget bound each mid-run drain attempt.
	TimeBudget time.Duration
	OpBudget   int
	// DrainRate and DrainBurst configure the token bucket gating drain
	// opportunities, modeling a starved run loop: a drain attempt that
	// finds no token is skipped entirely. A zero DrainRate with zero
	// DrainBurst grants no opportunities.
	DrainRate  rate.Limit
	DrainBurst int
	// Label prefixes handle labels. Defaults to "ctx".
	Label string
	// Logger, if non-nil, receives per-cycle and summary events.
	Logger *logiface.Logger[logiface.Event]
}

// DriverReport aggregates the observable outcome of a Driver run.
type DriverReport struct {
	// HandlesCreated is the total number of handles acquired.
	HandlesCreated int
	// SavesIssued is the total number of NoteStateChange calls.
	SavesIssued int
	// ActionsRun is the number of deferred actions that executed.
	ActionsRun int
	// DrainsAttempted counts drain opportunities sought; DrainsGranted
	// counts those the token bucket allowed.
	DrainsAttempted int
	DrainsGranted   int
	// Drains holds the report of every granted drain pass, in order.
	Drains []DrainReport
	// LiveCount, Backlog, and PendingChanges are the terminal
	// accumulation measurements.
	LiveCount      int
	Backlog        int
	PendingChanges int64
	// Elapsed is the wall time of the whole run.
	Elapsed time.Duration
}

// Starved reports whether the run ended with backlog outstanding.
func (r DriverReport) Starved() bool {
	return r.Backlog > 0
}

// Driver orchestrates many acquire-use cycles against an executor,
// deliberately withholding drains, then measures what a bounded,
// rate-limited drain schedule can recover.
//
// The driver retains strong references to every handle it creates:
// accumulation must be the product of hold counts and a starved queue,
// not of the collector racing the registry's weak membership.
type Driver struct {
	exec    *Executor
	limiter *rate.Limiter
	cfg     DriverConfig

	handles []*Handle
	report  DriverReport
}

// NewDriver creates a driver for the given executor.
func NewDriver(exec *Executor, cfg DriverConfig) *Driver {
	if cfg.HandlesPerCycle <= 0 {
		cfg.HandlesPerCycle = 1
	}
	if cfg.Label == "" {
		cfg.Label = "ctx"
	}
	return &Driver{
		exec:    exec,
		limiter: rate.NewLimiter(cfg.DrainRate, cfg.DrainBurst),
		cfg:     cfg,
	}
}

// RunCycle creates n handles, acquires each, and conditionally notes a
// state change, without ever draining. withSave applies the SaveEvery
// cadence; withSave=false issues no saves regardless of configuration.
func (d *Driver) RunCycle(n int, withSave bool) {
	cadence := d.cfg.SaveEvery
	if cadence <= 0 {
		cadence = 1
	}
	for i := 0; i < n; i++ {
		h := d.exec.Registry().NewHandle(fmt.Sprintf("%s-%d", d.cfg.Label, d.report.HandlesCreated))
		d.handles = append(d.handles, h)

		d.exec.Acquire(h, func() {
			d.report.ActionsRun++
		})
		d.report.HandlesCreated++

		if withSave && i%cadence == 0 {
			d.exec.NoteStateChange(h)
			d.report.SavesIssued++
		}
	}
}

// TryDrain seeks a drain opportunity from the token bucket and, if
// granted, performs one budgeted drain pass.
func (d *Driver) TryDrain() (DrainReport, bool) {
	d.report.DrainsAttempted++
	if !d.limiter.Allow() {
		return DrainReport{}, false
	}
	r := d.exec.Drain(d.cfg.TimeBudget, d.cfg.OpBudget)
	d.report.DrainsGranted++
	d.report.Drains = append(d.report.Drains, r)
	return r, true
}

// Run executes the configured number of cycles, attempting a budgeted
// drain after every DrainThreshold cycles, and returns the accumulated
// report. It does not perform a final unlimited drain; the terminal
// backlog is the measurement.
func (d *Driver) Run() DriverReport {
	start := time.Now()

	for cycle := 0; cycle < d.cfg.Cycles; cycle++ {
		d.RunCycle(d.cfg.HandlesPerCycle, d.cfg.SaveEvery > 0)

		if d.cfg.DrainThreshold > 0 && (cycle+1)%d.cfg.DrainThreshold == 0 {
			if r, ok := d.TryDrain(); ok {
				d.cfg.Logger.Debug().
					Int("cycle", cycle).
					Int("executed", r.TasksExecuted).
					Int("remaining", r.TasksRemaining).
					Log("mid-run drain")
			}
		}
	}

	d.report.LiveCount = d.exec.Registry().Count()
	d.report.Backlog = d.exec.QueueLen()
	d.report.PendingChanges = d.exec.PendingChanges()
	d.report.Elapsed = time.Since(start)

	d.cfg.Logger.Info().
		Int("handles", d.report.HandlesCreated).
		Int("saves", d.report.SavesIssued).
		Int("live", d.report.LiveCount).
		Int("backlog", d.report.Backlog).
		Int("drainsGranted", d.report.DrainsGranted).
		Dur("elapsed", d.report.Elapsed).
		Log("driver run complete")

	return d.report
}

// Handles returns the driver's strong references, in creation order.
func (d *Driver) Handles() []*Handle {
	return d.handles
}

// Report returns the report accumulated so far.
func (d *Driver) Report() DriverReport {
	return d.report
}
