//go:build linux

// Package scheduler drives the periodic STOP/CONT duty cycle: sleep
// run_secs, signal STOP, sleep stop_secs, signal CONT, repeat until the
// target set or the launched child disappears.
package scheduler

import (
	"context"
	"syscall"
	"time"

	"github.com/ja7ad/throttled/internal/signalctl"
	"github.com/ja7ad/throttled/internal/target"
)

// Plan is the (run, stop) duty-cycle period.
type Plan struct {
	RunSecs  float64
	StopSecs float64
}

// Resolve returns the current Target Set to signal. It is called fresh
// before every STOP phase since membership may have changed.
type Resolve func() target.Set

// OnStop is invoked the instant a STOP has been delivered to at least one
// member of a target set, before the stop-phase sleep begins. It is the
// earliest point at which a caller must treat "a STOP has gone out" as
// true: a cycle interrupted mid-stop-phase (SIGINT/SIGTERM) returns
// without ever reaching OnTick, so a caller that only set its own
// "STOP was sent" bookkeeping from OnTick would skip the guaranteed final
// CONT for exactly that cycle.
type OnStop func(set target.Set)

// OnTick is invoked after every completed STOP+CONT cycle with the set
// that was signalled, for diagnostics.
type OnTick func(set target.Set)

// Done reports whether the run loop should stop (e.g. the launched child
// has been reaped, or no attached PID answers a zero-signal probe
// anymore). Checked twice per iteration: before the run-phase sleep and
// again after it, before the STOP phase.
type Done func() bool

// Run drives ticks until resolve returns an empty set, a full-set signal
// delivery fails, done reports completion, or ctx is cancelled. Both sleep
// phases are suspension points: cancelling ctx (the caller's response to
// SIGINT/SIGTERM) cuts a sleep short exactly like an EINTR would cut short
// a blocking nanosleep(2), instead of waiting out the remainder of a
// stop_secs that can run up to 99x run_secs for low -l values. A cycle
// that is interrupted mid-STOP leaves its target set stopped; resuming it
// is the caller's responsibility, not this loop's.
func Run(ctx context.Context, plan Plan, resolve Resolve, done Done, onStop OnStop, onTick OnTick) {
	runDur := secsToDuration(plan.RunSecs)
	stopDur := secsToDuration(plan.StopSecs)

	for {
		if ctx.Err() != nil {
			return
		}
		if done != nil && done() {
			return
		}

		if interruptibleSleep(ctx, runDur) {
			return
		}

		if done != nil && done() {
			return
		}

		set := resolve()
		if set.Empty() {
			return
		}

		if signalctl.Send(set, syscall.SIGSTOP) == 0 {
			return
		}
		if onStop != nil {
			onStop(set)
		}

		if interruptibleSleep(ctx, stopDur) {
			return
		}

		if signalctl.Send(set, syscall.SIGCONT) == 0 {
			return
		}

		if onTick != nil {
			onTick(set)
		}
	}
}

func secsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// after is a seam for tests; production returns a real timer channel.
var after = time.After

// interruptibleSleep waits for d or until ctx is cancelled, whichever
// comes first, reporting whether the wait was cut short.
func interruptibleSleep(ctx context.Context, d time.Duration) (cancelled bool) {
	select {
	case <-after(d):
		return false
	case <-ctx.Done():
		return true
	}
}
