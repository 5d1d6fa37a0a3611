//go:build linux

// Package ptybroker launches the throttled command (LAUNCH mode), optionally
// allocating a pty and making it the child's controlling terminal, and
// mirrors window-size changes from the controller's own terminal onto it.
//
// Go's os/exec already performs the fork/exec handshake a readiness pipe
// would otherwise need: Cmd.Start applies SysProcAttr (Setsid/Setctty/Setpgid)
// in the forked child before calling execve, and reports an exec failure
// back to the parent through its own internal error pipe before Start
// returns. By the time Start returns a nil error, the child's session/group
// setup is already in effect, so there is nothing left for a second,
// hand-rolled pipe to guarantee. This package relies on that built-in
// guarantee instead of reimplementing fork(2) by hand, which the Go runtime
// does not allow arbitrary code to run between fork and exec on.
package ptybroker

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/containerd/console"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/ja7ad/throttled/internal/config"
)

// Options configures a launch.
type Options struct {
	Argv        []string
	TTY         config.TTYWant
	WantNoGroup bool // true for the launch-mode analogue of -G
}

// Launched describes a running child and the resources the controller must
// clean up.
type Launched struct {
	Cmd *exec.Cmd
	PID int

	PTYMaster    console.Console // nil if no pty was allocated
	Foreground   console.Console // the controller's own terminal, for termios restore; nil if none was found
	UsedPTY      bool
	UsedNewGroup bool
	IsForeground bool // this process's group is the terminal's foreground group
}

// Launch forks argv and returns once the child has begun
// executing (or failed to).
func Launch(opts Options) (*Launched, error) {
	if len(opts.Argv) == 0 {
		return nil, fmt.Errorf("ptybroker: empty argv")
	}

	termFile, isForeground := locateTerminal()
	usePTY := wantsPTY(opts.TTY, termFile != nil)

	cmd := exec.Command(opts.Argv[0], opts.Argv[1:]...)

	l := &Launched{Cmd: cmd}

	if usePTY {
		master, slavePath, err := console.NewPty()
		if err != nil {
			return nil, fmt.Errorf("ptybroker: allocate pty: %w", err)
		}
		slave, err := os.OpenFile(slavePath, os.O_RDWR, 0)
		if err != nil {
			_ = master.Close()
			return nil, fmt.Errorf("ptybroker: open pty slave: %w", err)
		}

		cmd.Stdin = slave
		cmd.Stdout = slave
		cmd.Stderr = slave
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Setsid:  true,
			Setctty: true,
			Ctty:    0, // slave is fd 0 in the child (cmd.Stdin)
		}

		if err := cmd.Start(); err != nil {
			_ = slave.Close()
			_ = master.Close()
			return nil, fmt.Errorf("ptybroker: start: %w", err)
		}
		// The slave lives in the child now; the parent's copy is only
		// needed to hand it to exec.Cmd, and must be closed so the
		// child's exit releases the pty.
		_ = slave.Close()

		if err := master.SetRaw(); err != nil {
			// Non-fatal: a pty that can't go raw still throttles fine,
			// it just echoes/cooks input.
		}

		if termFile != nil {
			if src, err := console.ConsoleFromFile(termFile); err == nil {
				_ = master.ResizeFrom(src)
			}
		}

		l.PTYMaster = master
		l.UsedPTY = true
	} else {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if !opts.WantNoGroup {
			cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
			l.UsedNewGroup = true
		}

		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("ptybroker: start: %w", err)
		}
	}

	l.IsForeground = isForeground
	if isForeground && termFile != nil {
		if fg, err := console.ConsoleFromFile(termFile); err == nil {
			l.Foreground = fg
		}
	}

	l.PID = cmd.Process.Pid
	return l, nil
}

// Close releases the pty master and any saved terminal state. It is safe
// to call multiple times.
func (l *Launched) Close() {
	if l == nil {
		return
	}
	if l.PTYMaster != nil {
		_ = l.PTYMaster.Close()
		l.PTYMaster = nil
	}
}

// RestoreForeground restores the controller's own terminal to the mode it
// was in before launch, if one was captured. Safe to call more than once.
func (l *Launched) RestoreForeground() {
	if l == nil || l.Foreground == nil {
		return
	}
	_ = l.Foreground.Reset()
}

// CloneWinsize copies the controller's terminal window size onto the pty
// master, used by the WINCH handler.
func (l *Launched) CloneWinsize() {
	if l == nil || l.PTYMaster == nil || l.Foreground == nil {
		return
	}
	_ = l.PTYMaster.ResizeFrom(l.Foreground)
}

// wantsPTY applies the tty-mode decision.
func wantsPTY(want config.TTYWant, haveTerminal bool) bool {
	switch want {
	case config.TTYForceOff:
		return false
	case config.TTYForceOn, config.TTYForceOnEvenWithoutTTY:
		return true
	default: // TTYAuto
		return haveTerminal
	}
}

// locateTerminal finds the first of stdin, stderr, stdout that refers to a
// terminal, in that precedence order, and reports whether this process's
// group is the terminal's foreground group.
func locateTerminal() (f *os.File, foreground bool) {
	for _, candidate := range []*os.File{os.Stdin, os.Stderr, os.Stdout} {
		if term.IsTerminal(int(candidate.Fd())) {
			return candidate, isForegroundOn(candidate)
		}
	}
	return nil, false
}

func isForegroundOn(f *os.File) bool {
	pgrp, err := unix.IoctlGetInt(int(f.Fd()), unix.TIOCGPGRP)
	if err != nil {
		return false
	}
	return pgrp == unix.Getpgrp()
}
