//go:build linux

package procinspect

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// CgroupPath returns a best-effort, human-readable cgroup membership string
// for pid, used only to enrich the verbose (-v) USR1/INFO diagnostic
// payload emitted by the lifecycle controller. It is never consulted by the
// scheduler or resolver; losing this information never affects throttling.
//
// It parses /proc-exposed text tables line by line, the same way this
// package's other readers parse /proc/<pid>/stat, rather than linking a
// cgroup-management library, since nothing here mutates cgroup membership.
func CgroupPath(pid int) (string, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/cgroup", pid))
	if err != nil {
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	var unified string
	for sc.Scan() {
		line := sc.Text()
		// format: hierarchy-ID:controller-list:cgroup-path
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		if parts[1] == "" {
			// cgroup v2 unified hierarchy has an empty controller list.
			unified = parts[2]
			continue
		}
		if unified == "" {
			unified = parts[2]
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if unified == "" {
		return "", fmt.Errorf("procinspect: no cgroup entry for pid %d", pid)
	}
	return unified, nil
}
