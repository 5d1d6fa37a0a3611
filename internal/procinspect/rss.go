//go:build linux

package procinspect

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// RSSBytes returns the resident set size, in bytes, for pid. It prefers
// smaps_rollup (aggregated since kernel 4.14) and falls back to statm's
// resident page count, used only to enrich the verbose USR1/INFO
// diagnostic; nothing in the throttling path depends on it.
func RSSBytes(pid int) (uint64, error) {
	if f, err := os.Open(fmt.Sprintf("/proc/%d/smaps_rollup", pid)); err == nil {
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if strings.HasPrefix(sc.Text(), "Rss:") {
				fields := strings.Fields(sc.Text())
				if len(fields) >= 2 {
					kb, err := strconv.ParseUint(fields[1], 10, 64)
					if err == nil {
						return kb * 1024, nil
					}
				}
			}
		}
	}

	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid))
	if err != nil {
		return 0, fmt.Errorf("procinspect: read rss for pid %d: %w", pid, err)
	}
	fields := strings.Fields(string(b))
	if len(fields) < 2 {
		return 0, fmt.Errorf("procinspect: malformed statm for pid %d", pid)
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("procinspect: malformed statm for pid %d: %w", pid, err)
	}
	return pages * uint64(os.Getpagesize()), nil
}
