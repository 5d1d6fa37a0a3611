//go:build linux

package main

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureStdout redirects os.Stdout for the duration of fn and returns
// everything written to it.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	require.NoError(t, w.Close())
	var sb strings.Builder
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		sb.WriteString(sc.Text())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// TestDryRunAttachPreviewsUnreachablePIDsWithoutError is Scenario 3 / §8
// "Dry run attach": throttled -n -p <pids> must print the resolved target
// set and exit 0 even when those PIDs aren't currently alive, the normal
// case for a preview. It must never reach CONFIG_INVALID on the liveness
// probe the way a real attach would.
func TestDryRunAttachPreviewsUnreachablePIDsWithoutError(t *testing.T) {
	out := captureStdout(t, func() {
		// -G pins the preview to the bare PIDs supplied, independent of
		// whichever process group this test binary happens to run under.
		code := run([]string{"-n", "-G", "-p", "999999,999998"})
		assert.Equal(t, 0, code)
	})
	// The resolved target set prints in sorted order, not input order.
	assert.Equal(t, "999998,999999\n", out)
}

func TestDryRunLaunchPrintsArgvWithoutExecuting(t *testing.T) {
	out := captureStdout(t, func() {
		code := run([]string{"-n", "--", "definitely-not-a-real-binary", "arg1"})
		assert.Equal(t, 0, code)
	})
	assert.Equal(t, "definitely-not-a-real-binary arg1\n", out)
}

func TestAllThreeDutyCycleFlagsRejected(t *testing.T) {
	code := run([]string{"-l", "50", "-r", "1", "-s", "1", "--", "true"})
	assert.Equal(t, 2, code)
}

func TestDryRunAttachAcceptsLivePID(t *testing.T) {
	me := strconv.Itoa(os.Getpid())
	out := captureStdout(t, func() {
		// -G: this test binary's own process group may or may not collapse
		// onto a PGID depending on the environment it runs in, so pin the
		// preview to the bare PID to keep the assertion deterministic.
		code := run([]string{"-n", "-G", "-p", me})
		assert.Equal(t, 0, code)
	})
	assert.Equal(t, me+"\n", out)
}
