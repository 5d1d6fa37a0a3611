//go:build linux

// Package lifecycle is the controller's lifecycle: it installs signal
// wiring, orchestrates launch vs. attach mode, and guarantees Cleanup runs
// on every exit path.
//
// Go never delivers POSIX signals straight into arbitrary code the way a
// C sigaction handler would; os/signal.Notify already funnels them through
// a buffered channel read by one goroutine, the standard-library equivalent
// of a self-pipe. Outside the main flow, Controller state is mutated only by
// that goroutine and, in launch mode, by the child-reaping goroutine (which
// stores childExitCode and closes childDone); both only ever touch the
// atomic fields below, the childDone channel, and the mutex-guarded target
// set, matching a disciplined shared-resource policy without hand-rolled
// sig_atomic_t globals.
package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/ja7ad/throttled/internal/config"
	"github.com/ja7ad/throttled/internal/humanize"
	"github.com/ja7ad/throttled/internal/procinspect"
	"github.com/ja7ad/throttled/internal/ptybroker"
	"github.com/ja7ad/throttled/internal/resolver"
	"github.com/ja7ad/throttled/internal/scheduler"
	"github.com/ja7ad/throttled/internal/signalctl"
	"github.com/ja7ad/throttled/internal/target"
)

// Controller holds the process-wide state a signal handler and the main
// flow share.
type Controller struct {
	cfg           *config.Configuration
	resolverFlags resolver.Flags
	originalPIDs  []target.Target

	launched *ptybroker.Launched

	mu        sync.Mutex
	targetSet target.Set

	anyStopSent   atomic.Bool
	sigintPending atomic.Int32 // pending signal number to re-raise at exit, 0 = none
	childExitCode atomic.Int32
	childDone     chan struct{}

	// scheduleCancel aborts the scheduler's current sleep the instant
	// SIGINT/SIGTERM is handled, rather than waiting for the natural STOP
	// or CONT tick boundary. Set once before scheduler.Run is called.
	scheduleCancel atomic.Pointer[context.CancelFunc]

	cleanupOnce sync.Once
}

// New builds a Controller from a validated Configuration.
func New(cfg *config.Configuration) *Controller {
	return &Controller{
		cfg:           cfg,
		resolverFlags: cfg.ResolverFlags(),
		originalPIDs:  append([]target.Target(nil), cfg.Targets...),
		childDone:     make(chan struct{}),
	}
}

// Run executes the controller to completion and returns the process exit
// code.
func (c *Controller) Run() int {
	defer c.cleanup()

	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGTSTP,
		syscall.SIGCONT, syscall.SIGWINCH, syscall.SIGUSR1)
	defer signal.Stop(sigCh)
	go c.handleSignals(sigCh)

	if c.cfg.Mode == config.ModeLaunch {
		return c.runLaunch()
	}
	return c.runAttach()
}

func (c *Controller) runLaunch() int {
	launched, err := ptybroker.Launch(ptybroker.Options{
		Argv:        c.cfg.Argv,
		TTY:         c.cfg.WantTTY,
		WantNoGroup: c.cfg.WantGroup == config.GroupForceOff,
	})
	if err != nil {
		slog.Error("launch failed", "err", err)
		return 1
	}
	c.launched = launched
	c.originalPIDs = []target.Target{target.Target(launched.PID)}

	// The idiomatic-Go equivalent of an async SIGCHLD handler: a goroutine
	// blocked in Wait, which performs the wait4(2) reap itself instead of
	// us polling in a signal handler.
	go func() {
		err := launched.Cmd.Wait()
		c.childExitCode.Store(int32(exitCodeFromWait(err, launched.Cmd.ProcessState)))
		close(c.childDone)
	}()

	resolve := func() target.Set {
		set := resolver.Resolve(c.currentOriginal(), c.resolverFlags)
		c.setTargetSet(set)
		return set
	}
	done := func() bool {
		select {
		case <-c.childDone:
			return true
		default:
			return false
		}
	}
	// anyStopSent must flip the instant a STOP goes out, not after a full
	// STOP+CONT cycle completes: a SIGINT/SIGTERM landing mid-stop-phase
	// cuts the cycle short before onTick ever runs, and cleanup's
	// guaranteed final CONT depends on this flag already being set.
	onStop := func(set target.Set) { c.anyStopSent.Store(true) }

	ctx, cancel := context.WithCancel(context.Background())
	c.scheduleCancel.Store(&cancel)
	defer cancel()

	scheduler.Run(ctx, scheduler.Plan{RunSecs: c.cfg.RunSecs, StopSecs: c.cfg.StopSecs}, resolve, done, onStop, nil)

	<-c.childDone
	if pending := c.sigintPending.Load(); pending != 0 {
		return 128 + int(pending)
	}
	return int(c.childExitCode.Load())
}

func (c *Controller) runAttach() int {
	resolve := func() target.Set {
		set := resolver.Resolve(c.originalPIDs, c.resolverFlags)
		c.setTargetSet(set)
		return set
	}
	done := func() bool {
		for _, t := range c.originalPIDs {
			if !t.IsPGID() && procinspect.Alive(t.PID()) {
				return false
			}
			if t.IsPGID() && signalctl.SendOne(t, 0) {
				return false
			}
		}
		return true
	}
	// See the matching comment in runLaunch: anyStopSent must be set from
	// onStop, not onTick, so cleanup's final CONT still fires for a cycle
	// interrupted between STOP and CONT.
	onStop := func(set target.Set) { c.anyStopSent.Store(true) }

	ctx, cancel := context.WithCancel(context.Background())
	c.scheduleCancel.Store(&cancel)
	defer cancel()

	scheduler.Run(ctx, scheduler.Plan{RunSecs: c.cfg.RunSecs, StopSecs: c.cfg.StopSecs}, resolve, done, onStop, nil)

	if pending := c.sigintPending.Load(); pending != 0 {
		return 128 + int(pending)
	}
	return 0
}

// currentOriginal returns the targets to resolve from in launch mode: just
// the launched child's pid.
func (c *Controller) currentOriginal() []target.Target {
	return c.originalPIDs
}

func (c *Controller) setTargetSet(set target.Set) {
	c.mu.Lock()
	c.targetSet = set
	c.mu.Unlock()
}

func (c *Controller) getTargetSet() target.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetSet
}

// handleSignals is the single goroutine that plays the role of
// asynchronous signal handlers. It never mutates Controller state outside
// the atomic fields and the mutex-guarded target set.
func (c *Controller) handleSignals(sigCh chan os.Signal) {
	for sig := range sigCh {
		switch sig {
		case syscall.SIGTSTP:
			// Signals the cached target set rather than re-resolving it
			// the way §4.7 literally describes: this handler runs on the
			// same goroutine as every other signal branch, and a fresh
			// resolve here would mean a full /proc snapshot on a path
			// that needs to stay simple and fast.
			set := c.getTargetSet()
			signalctl.Send(set, syscall.SIGTSTP)
			signalctl.Send(set, syscall.SIGSTOP)
			_ = syscall.Kill(syscall.Getpid(), syscall.SIGSTOP)
		case syscall.SIGCONT:
			signalctl.Send(c.getTargetSet(), syscall.SIGCONT)
		case syscall.SIGWINCH:
			if c.launched != nil {
				c.launched.CloneWinsize()
			}
			signalctl.Send(c.getTargetSet(), syscall.SIGWINCH)
		case syscall.SIGINT, syscall.SIGTERM:
			c.sigintPending.Store(int32(sig.(syscall.Signal)))
			// Abort the scheduler's current sleep right away instead of
			// waiting for the next STOP/CONT tick boundary, which for a
			// low -l value can be up to 99 times run_secs away.
			if cancel := c.scheduleCancel.Load(); cancel != nil {
				(*cancel)()
			}
			// The target may currently be SIGSTOPped; a TERM sent to a
			// stopped process is queued by the kernel and won't be
			// delivered until something resumes it, so resume first.
			signalctl.Send(c.getTargetSet(), syscall.SIGCONT)
			if c.cfg.Mode == config.ModeLaunch && c.launched != nil {
				// Unblock the main flow waiting on childDone by nudging
				// the child; Cleanup (deferred in Run) does the rest.
				_ = signalctl.SendOne(target.Target(c.launched.PID), syscall.SIGTERM)
			}
			return
		case syscall.SIGUSR1:
			c.emitDiagnostic()
		}
	}
}

// emitDiagnostic implements the USR1/INFO handler: a human-readable
// listing of original PIDs and current targets, enriched with a
// best-effort cgroup path and RSS per PID target. PGID targets get no
// cgroup or RSS line.
func (c *Controller) emitDiagnostic() {
	set := c.getTargetSet()
	slog.Info("throttled status", "original", c.originalPIDs, "targets", set.Slice())
	for _, t := range set.Slice() {
		if t.IsPGID() {
			continue
		}
		if path, err := procinspect.CgroupPath(t.PID()); err == nil {
			slog.Info("target cgroup", "pid", t.PID(), "cgroup", path)
		}
		if rss, err := procinspect.RSSBytes(t.PID()); err == nil {
			slog.Info("target rss", "pid", t.PID(), "rss", humanize.Bytes(rss).String())
		}
	}
}

// cleanup runs the controller's teardown routine. It is safe to invoke more than
// once; the expensive/one-shot parts are guarded by cleanupOnce.
func (c *Controller) cleanup() {
	c.cleanupOnce.Do(func() {
		if c.launched != nil {
			c.launched.Close()
		}
		if c.anyStopSent.Load() {
			signalctl.Send(c.getTargetSet(), syscall.SIGCONT)
		}
		if c.cfg.Mode == config.ModeLaunch && c.launched != nil && c.isForeground() {
			signalctl.SendOne(target.Target(c.launched.PID), syscall.SIGTERM)
		}
		if c.launched != nil {
			c.launched.RestoreForeground()
		}
		if pending := c.sigintPending.Load(); pending != 0 {
			sig := syscall.Signal(pending)
			signal.Reset(sig)
			_ = syscall.Kill(syscall.Getpid(), sig)
		}
	})
}

// isForeground reports whether the controller's process group is the
// terminal's foreground group, relevant for deciding whether the final
// TERM and terminal restoration in cleanup are appropriate. In attach
// mode there is no launched child/terminal probe, so it is always false.
func (c *Controller) isForeground() bool {
	return c.launched != nil && c.launched.IsForeground
}

// exitCodeFromWait translates a reaped child's wait status into the
// Controller's own exit code: the child's exit code on a normal exit, its
// terminating signal number if killed, else raw>>8.
func exitCodeFromWait(err error, ps *os.ProcessState) int {
	if err == nil {
		if ps != nil {
			return ps.ExitCode()
		}
		return 0
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return int(ws.Signal())
			}
			return ws.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return 1
}

func asExitError(err error, out **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*out = ee
		return true
	}
	return false
}
