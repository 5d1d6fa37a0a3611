//go:build linux

// Package procinspect enumerates processes, resolves a PID to its PGID, and
// walks parent/child relations. It offers two back-ends: a fast per-PID PGID
// probe via getpgid(2), and a full /proc table scan used when the caller
// needs the parent/child graph (descendant expansion). No capability probe
// runs at startup; the caller picks a back-end on every call, and a failed
// table scan falls back to the per-PID probe, not the other way round.
package procinspect

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Entry is one row of a process-table snapshot.
type Entry struct {
	PID  int
	PPID int
	PGID int
}

// PgidOf resolves pid to its process group id using a single getpgid(2)
// call. It returns (0, false) when the process is gone or unreadable;
// callers must treat that as NONE, not an error.
func PgidOf(pid int) (pgid int, ok bool) {
	g, err := unix.Getpgid(pid)
	if err != nil {
		return 0, false
	}
	return g, true
}

// Snapshot walks /proc and returns one Entry per process currently visible
// to this user. It is considerably slower than PgidOf and goes stale the
// instant it is taken, so callers must not cache it across scheduler ticks.
func Snapshot() ([]Entry, error) {
	dir, err := os.Open("/proc")
	if err != nil {
		return nil, err
	}
	defer dir.Close()

	names, err := dir.Readdirnames(-1)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		pid, err := strconv.Atoi(name)
		if err != nil || pid <= 0 {
			continue
		}
		e, ok := readStat(pid)
		if !ok {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// readStat parses /proc/<pid>/stat for the ppid and pgrp fields. The comm
// field (2nd, in parens) may itself contain spaces or parens, so everything
// up to the last ") " is skipped rather than split naively.
func readStat(pid int) (Entry, bool) {
	f, err := os.Open(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return Entry{}, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return Entry{}, false
	}
	line := sc.Text()
	i := strings.LastIndex(line, ") ")
	if i < 0 {
		return Entry{}, false
	}
	fields := strings.Fields(line[i+2:])
	// fields[0]=state fields[1]=ppid fields[2]=pgrp
	if len(fields) < 3 {
		return Entry{}, false
	}
	ppid, err1 := strconv.Atoi(fields[1])
	pgrp, err2 := strconv.Atoi(fields[2])
	if err1 != nil || err2 != nil {
		return Entry{}, false
	}
	return Entry{PID: pid, PPID: ppid, PGID: pgrp}, true
}

// ByPGID builds a PID->PGID lookup from a snapshot.
func ByPGID(entries []Entry) map[int]int {
	pgidByPID := make(map[int]int, len(entries))
	for _, e := range entries {
		pgidByPID[e.PID] = e.PGID
	}
	return pgidByPID
}

// ChildrenByParent builds the parent->children adjacency used for
// descendant expansion, augmented with the detached-double-forker
// heuristic: any process reparented to init (PPID==1) whose own PID
// differs from its PGID is additionally listed as a child of its PGID.
// This heuristic is a best-effort guess, not a correctness guarantee
// (see DESIGN.md).
func ChildrenByParent(entries []Entry) map[int][]int {
	children := make(map[int][]int, len(entries))
	for _, e := range entries {
		children[e.PPID] = append(children[e.PPID], e.PID)
		if e.PPID == 1 && e.PID != e.PGID {
			children[e.PGID] = append(children[e.PGID], e.PID)
		}
	}
	return children
}

// Alive reports whether pid is a live process, using a zero-signal probe
// (kill(pid, 0)).
func Alive(pid int) bool {
	if pid <= 1 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}
