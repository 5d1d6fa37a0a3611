//go:build linux

// Package signalctl sends STOP/CONT/TSTP/WINCH/TERM to a resolved Target
// Set and interprets the kernel's per-call return codes. Partial failure is
// normal: a missing process just means the set is eroding.
package signalctl

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/ja7ad/throttled/internal/target"
)

// forbidden destinations: PID 0 means "this process's group" and PID 1 is
// init, neither of which throttled may ever signal.
func forbidden(t target.Target) bool {
	pid := t.PID()
	return pid == 0 || pid == 1
}

// kill is a seam for tests; production always calls unix.Kill, which sends
// to the process (positive) or the whole process group (negative, kernel
// semantics for negative pids to kill(2)).
var kill = unix.Kill

// Send delivers sig to every member of set and returns how many deliveries
// succeeded. It never signals PID 0 or 1, silently skipping them as if
// delivery had failed for that member.
func Send(set target.Set, sig syscall.Signal) int {
	delivered := 0
	for t := range set {
		if forbidden(t) {
			continue
		}
		if err := kill(int(t), sig); err == nil {
			delivered++
		}
	}
	return delivered
}

// SendOne delivers sig to a single target, honoring the same PID 0/1
// restriction. It reports whether delivery succeeded.
func SendOne(t target.Target, sig syscall.Signal) bool {
	if forbidden(t) {
		return false
	}
	return kill(int(t), sig) == nil
}
