//go:build linux

// Package resolver expands a user-supplied PID/PGID list into the current
// Target Set to signal, honoring the group/children/no-group expansion
// flags. It is invoked repeatedly, once per scheduler tick, since process
// trees shift between ticks.
package resolver

import (
	"github.com/ja7ad/throttled/internal/procinspect"
	"github.com/ja7ad/throttled/internal/target"
)

// Flags controls how the Resolve expands the user-supplied list.
type Flags struct {
	WantGroup    bool // include -G/-g tri-state resolved to a plain bool by the config adapter
	WantNoGroup  bool // explicit -G: never collapse a PID into its PGID
	WantChildren bool // -c: expand to descendants
}

// Resolve computes the current Target Set from the user-supplied list u.
func Resolve(u []target.Target, f Flags) target.Set {
	if !f.WantGroup && !f.WantChildren {
		return target.NewSet(u...)
	}

	if !f.WantChildren {
		return groupOnly(u)
	}

	return withChildren(u, f)
}

// groupOnly implements the fast path: no descendant
// expansion, just map each positive PID to its PGID via a single syscall
// per entry.
func groupOnly(u []target.Target) target.Set {
	out := target.NewSet()
	for _, t := range u {
		if t.IsPGID() {
			out.Add(t)
			continue
		}
		pgid, ok := procinspect.PgidOf(t.PID())
		if !ok || pgid <= 1 {
			// ungrouped or vanished: retain as a bare PID.
			out.Add(t)
			continue
		}
		out.Add(target.Target(-pgid))
	}
	return out
}

// withChildren implements the slow path: a full-table snapshot, BFS
// descendant expansion that never crosses into an already-protected group,
// followed by the group-collapse pass only when want_group is set and
// want_nogroup is not.
func withChildren(u []target.Target, f Flags) target.Set {
	entries, err := procinspect.Snapshot()
	if err != nil {
		// Degrade to the fast path rather than fail the tick outright.
		return groupOnly(u)
	}

	pgidByPID := procinspect.ByPGID(entries)
	childrenByParent := procinspect.ChildrenByParent(entries)

	protected := make(map[int]struct{})
	for _, t := range u {
		if t.IsPGID() {
			protected[t.PID()] = struct{}{}
		}
	}

	seen := make(map[int]struct{})
	expanded := target.NewSet()
	queue := make([]target.Target, 0, len(u))
	queue = append(queue, u...)

	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]

		pid := t.PID()
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}
		expanded.Add(t)

		for _, child := range childrenByParent[pid] {
			if _, ok := seen[child]; ok {
				continue
			}
			if pgid, ok := pgidByPID[child]; ok {
				if _, isProtected := protected[pgid]; isProtected {
					// The child belongs to a group already present in U
					// as a PGID target; do not cross into it and
					// re-expand it as an individual PID.
					continue
				}
			}
			queue = append(queue, target.Target(child))
		}
	}

	if !f.WantGroup || f.WantNoGroup {
		return expanded
	}

	out := target.NewSet()
	for t := range expanded {
		if t.IsPGID() {
			out.Add(t)
			continue
		}
		pgid, ok := pgidByPID[t.PID()]
		if !ok || pgid <= 1 {
			out.Add(t)
			continue
		}
		out.Add(target.Target(-pgid))
	}
	return out
}
