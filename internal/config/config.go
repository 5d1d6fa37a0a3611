//go:build linux

// Package config validates and normalizes the raw flags parsed by the CLI
// layer into an immutable Configuration record. Nothing downstream ever
// sees an unvalidated record.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/ja7ad/throttled/internal/resolver"
	"github.com/ja7ad/throttled/internal/target"
)

// Mode distinguishes launching a fresh command from attaching to existing
// processes.
type Mode int

const (
	// ModeLaunch forks argv and throttles it.
	ModeLaunch Mode = iota
	// ModeAttach throttles already-running PIDs/PGIDs.
	ModeAttach
)

// GroupWant is the tri-state want_group field.
type GroupWant int

const (
	GroupDefault GroupWant = iota
	GroupForceOn
	GroupForceOff
)

// TTYWant is the want_tty field.
type TTYWant int

const (
	TTYAuto TTYWant = iota
	TTYForceOn
	TTYForceOnEvenWithoutTTY
	TTYForceOff
)

const (
	defaultLimitPct = 50.0
	defaultRunSecs  = 1.0
	minLimitPct     = 1.0
	maxLimitPct     = 99.0
)

// Configuration is the immutable, validated record the rest of throttled
// consumes. Build one with Build; never construct it by hand downstream.
type Configuration struct {
	Mode Mode
	Argv []string // ModeLaunch only

	Targets []target.Target // ModeAttach only, deduplicated

	LimitPct float64
	RunSecs  float64
	StopSecs float64

	WantGroup    GroupWant
	WantChildren bool
	WantTTY      TTYWant

	Verbose bool
	DryRun  bool
}

// ResolverFlags derives the resolver's expansion flags from the tri-state
// WantGroup field. Kept as the single place that mapping is expressed so a
// real run and a dry-run preview can never resolve a different target set
// from the same Configuration.
func (c *Configuration) ResolverFlags() resolver.Flags {
	return resolver.Flags{
		WantChildren: c.WantChildren,
		WantGroup:    c.WantGroup != GroupForceOff,
		WantNoGroup:  c.WantGroup == GroupForceOff,
	}
}

// Raw mirrors the flags as parsed off the command line, before validation.
// Pointers distinguish "not supplied" from "supplied as zero".
type Raw struct {
	Mode Mode
	Argv []string

	PIDStrings []string

	LimitPct *float64
	RunSecs  *float64
	StopSecs *float64

	WantGroup    GroupWant
	WantChildren bool
	WantTTY      TTYWant

	Verbose bool
	DryRun  bool
}

// Error is returned for every CONFIG_INVALID violation; Option names the
// offending flag.
type Error struct {
	Option string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid -%s: %s", e.Option, e.Reason)
}

// Build validates and normalizes r into a Configuration, or returns a
// *Error describing the first violation found.
func Build(r Raw) (*Configuration, error) {
	cfg := &Configuration{
		Mode:         r.Mode,
		Argv:         r.Argv,
		WantGroup:    r.WantGroup,
		WantChildren: r.WantChildren,
		WantTTY:      r.WantTTY,
		Verbose:      r.Verbose,
		DryRun:       r.DryRun,
	}

	suppliedCount := 0
	if r.LimitPct != nil {
		suppliedCount++
	}
	if r.RunSecs != nil {
		suppliedCount++
	}
	if r.StopSecs != nil {
		suppliedCount++
	}
	if suppliedCount == 3 {
		return nil, &Error{Option: "l/r/s", Reason: "at most two of limit, run, and stop may be given; the third is derived"}
	}

	if r.StopSecs != nil && *r.StopSecs <= 0 {
		return nil, &Error{Option: "s", Reason: "must be a positive number of seconds"}
	}
	if r.RunSecs != nil && *r.RunSecs <= 0 {
		return nil, &Error{Option: "r", Reason: "must be a positive number of seconds"}
	}

	limit, run, stop, err := deriveDutyCycle(r)
	if err != nil {
		return nil, err
	}

	cfg.LimitPct = limit
	cfg.RunSecs = run
	cfg.StopSecs = stop

	if r.Mode == ModeAttach {
		targets, err := parsePIDs(r.PIDStrings)
		if err != nil {
			return nil, err
		}
		if len(targets) == 0 {
			return nil, &Error{Option: "p", Reason: "attach mode requires at least one PID or PGID"}
		}
		// Dry-run is a side-effect-free preview: it must still print the
		// resolved target set for PIDs/PGIDs that aren't currently alive
		// (the normal case for a preview), so the reachability probe is
		// skipped rather than gating it.
		if !r.DryRun {
			for _, t := range targets {
				if !procAlive(int(t)) {
					return nil, &Error{Option: "p", Reason: fmt.Sprintf("%s is not reachable", t.String())}
				}
			}
		}
		cfg.Targets = targets
	}

	return cfg, nil
}

// deriveDutyCycle fills in whichever one of {limit, run, stop} the caller
// left unsupplied: exactly the missing field is derived from
// the other two; fields genuinely absent from all three get their plain
// defaults (run=1.0, limit=50) rather than a formula derivation.
func deriveDutyCycle(r Raw) (limit, run, stop float64, err error) {
	switch {
	case r.LimitPct != nil:
		limit, err = normalizeLimit(r.LimitPct)
		if err != nil {
			return 0, 0, 0, err
		}
		switch {
		case r.RunSecs != nil:
			run = *r.RunSecs
			stop = run * (100.0/limit - 1.0)
		case r.StopSecs != nil:
			stop = *r.StopSecs
			run = stop / (100.0/limit - 1.0)
		default:
			run = defaultRunSecs
			stop = run * (100.0/limit - 1.0)
		}

	case r.RunSecs != nil:
		run = *r.RunSecs
		if r.StopSecs != nil {
			stop = *r.StopSecs
			limit = 100.0 * run / (run + stop)
		} else {
			limit = defaultLimitPct
			stop = run * (100.0/limit - 1.0)
		}

	case r.StopSecs != nil:
		limit = defaultLimitPct
		stop = *r.StopSecs
		run = stop / (100.0/limit - 1.0)

	default:
		limit = defaultLimitPct
		run = defaultRunSecs
		stop = run * (100.0/limit - 1.0)
	}

	if limit < minLimitPct || limit > maxLimitPct {
		return 0, 0, 0, &Error{Option: "l", Reason: "derived limit falls outside 1..99 percent"}
	}
	if run <= 0 {
		return 0, 0, 0, &Error{Option: "r", Reason: "derived run duration must be positive"}
	}
	if stop <= 0 {
		return 0, 0, 0, &Error{Option: "s", Reason: "derived stop duration must be positive"}
	}
	return limit, run, stop, nil
}

// normalizeLimit applies the fraction-to-percent rule and range check.
func normalizeLimit(raw *float64) (float64, error) {
	if raw == nil {
		return defaultLimitPct, nil
	}
	v := *raw
	if v > 0 && v <= 1 {
		v *= 100
	}
	if v < minLimitPct || v > maxLimitPct {
		return 0, &Error{Option: "l", Reason: "must be between 1 and 99 percent"}
	}
	return v, nil
}

// parsePIDs accepts comma-separated or repeated PID/PGID entries,
// deduplicating as it goes. PID 0 and 1, and PGID -1, are rejected.
func parsePIDs(raw []string) ([]target.Target, error) {
	seen := make(map[target.Target]struct{})
	out := make([]target.Target, 0, len(raw))
	for _, entry := range raw {
		for _, piece := range strings.Split(entry, ",") {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			n, err := strconv.Atoi(piece)
			if err != nil {
				return nil, &Error{Option: "p", Reason: fmt.Sprintf("%q is not an integer", piece)}
			}
			if n == 0 || n == 1 || n == -1 {
				return nil, &Error{Option: "p", Reason: fmt.Sprintf("%d is not a valid pid/pgid", n)}
			}
			t := target.Target(n)
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out, nil
}

// procAlive is a thin wrapper so tests can't accidentally depend on
// internal/procinspect's broader surface just to validate PIDs. It takes
// the raw signed target value, not just a PID: kill(2) with a negative
// first argument is a well-defined zero-signal probe against a whole
// process group, succeeding if any member of that group is still alive, so
// the same call validates both PID and PGID targets.
func procAlive(signedTarget int) bool {
	return unix.Kill(signedTarget, 0) == nil
}
