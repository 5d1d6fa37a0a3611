//go:build linux

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ja7ad/throttled/internal/config"
	"github.com/ja7ad/throttled/internal/lifecycle"
	"github.com/ja7ad/throttled/internal/resolver"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

type flagSet struct {
	limitPct float64
	runSecs  float64
	stopSecs float64

	pids []string

	group   bool
	nogroup bool
	kids    bool

	tty    int
	notty  bool
	dryRun bool

	verbose bool
}

func run(args []string) int {
	var fs flagSet

	root := &cobra.Command{
		Use:   "throttled [flags] [-p pid,pid... | -- cmd args...]",
		Short: "Limit a process's CPU share by alternating STOP and CONT",
		Long: `throttled limits the effective CPU share of one or more target
processes by periodically alternating STOP and CONTINUE signals, the way a
cgroup CPU quota would, on systems where cgroups are unavailable or
inconvenient.

Run a fresh command and throttle it:

  throttled -l 50 -- make -j

Attach to one or more already-running processes or process groups
(negative = PGID):

  throttled -l 25 -p 1234,5678`,
		Version:           version,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE: func(cmd *cobra.Command, argv []string) error {
			return execute(cmd, fs, argv)
		},
	}

	root.Flags().Float64VarP(&fs.limitPct, "limit", "l", 50, "CPU percentage limit (1-99, or a fraction in (0,1])")
	root.Flags().Float64VarP(&fs.runSecs, "run", "r", 0, "seconds to let the target run per cycle")
	root.Flags().Float64VarP(&fs.stopSecs, "stop", "s", 0, "seconds to suspend the target per cycle")
	root.Flags().StringSliceVarP(&fs.pids, "pids", "p", nil, "comma-separated or repeated PIDs/PGIDs to attach to")
	root.Flags().BoolVarP(&fs.group, "group", "g", false, "force throttling the whole process group")
	root.Flags().BoolVarP(&fs.nogroup, "nogroup", "G", false, "never collapse a PID into its process group")
	root.Flags().BoolVarP(&fs.kids, "children", "c", false, "expand the target set to include descendants")
	root.Flags().CountVarP(&fs.tty, "tty", "t", "force pty allocation (repeat to force it even without a controlling terminal)")
	root.Flags().BoolVarP(&fs.notty, "no-tty", "T", false, "never allocate a pty")
	root.Flags().BoolVarP(&fs.dryRun, "dry-run", "n", false, "print what would happen and exit without signalling anything")
	root.Flags().BoolVarP(&fs.verbose, "verbose", "v", false, "emit progress to the diagnostic stream")

	var manual, showVersion bool
	root.Flags().BoolVarP(&manual, "manual", "H", false, "print the extended manual and exit")
	root.Flags().BoolVarP(&showVersion, "version", "V", false, "print the version and exit")

	root.SetArgs(args)

	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	root.PreRun = func(cmd *cobra.Command, _ []string) {
		if fs.verbose {
			lvl.Set(slog.LevelDebug)
		}
	}

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		switch {
		case showVersion:
			fmt.Println("throttled", version)
		case manual:
			fmt.Println(cmd.Long)
		default:
			return nil
		}
		exitCode = 0
		return errDoneEarly
	}

	root.SilenceErrors = true
	if err := root.Execute(); err != nil {
		if err == errDoneEarly {
			return exitCode
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		// Invalid config and usage errors alike exit 2.
		return 2
	}
	return exitCode
}

// errDoneEarly signals that the PersistentPreRunE stage already printed its
// output and set exitCode; it is never shown to the user.
var errDoneEarly = fmt.Errorf("throttled: done")

// exitCode carries the result out of RunE, since cobra's Execute only
// tells us whether an error occurred, not the process's intended exit
// status, since the launched child's own exit code must propagate.
var exitCode int

func execute(cmd *cobra.Command, fs flagSet, argv []string) error {
	raw := config.Raw{
		Verbose: fs.verbose,
		DryRun:  fs.dryRun,
	}

	if cmd.Flags().Changed("limit") {
		v := fs.limitPct
		raw.LimitPct = &v
	}
	if cmd.Flags().Changed("run") {
		v := fs.runSecs
		raw.RunSecs = &v
	}
	if cmd.Flags().Changed("stop") {
		v := fs.stopSecs
		raw.StopSecs = &v
	}

	switch {
	case fs.group:
		raw.WantGroup = config.GroupForceOn
	case fs.nogroup:
		raw.WantGroup = config.GroupForceOff
	default:
		raw.WantGroup = config.GroupDefault
	}
	raw.WantChildren = fs.kids

	switch {
	case fs.notty:
		raw.WantTTY = config.TTYForceOff
	case fs.tty >= 2:
		raw.WantTTY = config.TTYForceOnEvenWithoutTTY
	case fs.tty == 1:
		raw.WantTTY = config.TTYForceOn
	default:
		raw.WantTTY = config.TTYAuto
	}

	if len(argv) > 0 {
		raw.Mode = config.ModeLaunch
		raw.Argv = argv
	} else {
		raw.Mode = config.ModeAttach
		raw.PIDStrings = fs.pids
	}

	cfg, err := config.Build(raw)
	if err != nil {
		exitCode = 2
		return err
	}

	if cfg.DryRun {
		exitCode = 0
		printDryRun(cfg)
		return nil
	}

	ctrl := lifecycle.New(cfg)
	exitCode = ctrl.Run()
	return nil
}

// printDryRun implements the -n contract: launch mode prints the argv
// that would run; attach mode prints the resolved target set as a single
// comma-joined line. In verbose mode an aligned table is appended below
// that line, never replacing it.
func printDryRun(cfg *config.Configuration) {
	if cfg.Mode == config.ModeLaunch {
		fmt.Println(strings.Join(cfg.Argv, " "))
		return
	}

	set := resolver.Resolve(cfg.Targets, cfg.ResolverFlags())
	targets := set.Slice()

	parts := make([]string, len(targets))
	for i, t := range targets {
		parts[i] = t.String()
	}
	fmt.Println(strings.Join(parts, ","))

	if cfg.Verbose {
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TARGET\tKIND")
		for _, t := range targets {
			kind := "pid"
			if t.IsPGID() {
				kind = "pgid"
			}
			fmt.Fprintf(tw, "%s\t%s\n", t.String(), kind)
		}
		tw.Flush()
	}
}
