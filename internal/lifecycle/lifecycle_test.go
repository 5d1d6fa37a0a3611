//go:build linux

package lifecycle

import (
	"context"
	"os"
	"os/exec"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/throttled/internal/config"
	"github.com/ja7ad/throttled/internal/target"
)

func TestExitCodeFromWaitSuccess(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	assert.Equal(t, 0, exitCodeFromWait(nil, cmd.ProcessState))
}

func TestExitCodeFromWaitNonZeroExit(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 7")
	err := cmd.Run()
	require.Error(t, err)
	assert.Equal(t, 7, exitCodeFromWait(err, cmd.ProcessState))
}

func TestExitCodeFromWaitSignaled(t *testing.T) {
	cmd := exec.Command("sh", "-c", "kill -TERM $$")
	err := cmd.Run()
	require.Error(t, err)
	got := exitCodeFromWait(err, cmd.ProcessState)
	assert.Equal(t, 15, got) // SIGTERM
}

func TestNewBuildsResolverFlagsFromConfig(t *testing.T) {
	cfg := &config.Configuration{
		Mode:         config.ModeAttach,
		WantGroup:    config.GroupForceOn,
		WantChildren: true,
	}
	c := New(cfg)
	assert.True(t, c.resolverFlags.WantGroup)
	assert.False(t, c.resolverFlags.WantNoGroup)
	assert.True(t, c.resolverFlags.WantChildren)
}

func TestNewCopiesTargetsSoMutationCannotAliasConfig(t *testing.T) {
	cfg := &config.Configuration{
		Mode:    config.ModeAttach,
		Targets: []target.Target{target.Target(100), target.Target(-200)},
	}
	c := New(cfg)
	assert.NotNil(t, c.childDone)
	require.Equal(t, cfg.Targets, c.originalPIDs)

	c.originalPIDs[0] = target.Target(999)
	assert.Equal(t, target.Target(100), cfg.Targets[0], "mutating the controller's copy must not change the Configuration")
}

func TestIsForegroundFalseWithoutLaunch(t *testing.T) {
	cfg := &config.Configuration{Mode: config.ModeAttach}
	c := New(cfg)
	assert.False(t, c.isForeground())
}

// TestHandleSignalsCancelsScheduleOnInterrupt exercises the SIGINT/SIGTERM
// branch directly against a synthetic channel: it must cancel the
// scheduler's context immediately rather than waiting for the next STOP/CONT
// tick boundary, record the pending signal, and return.
func TestHandleSignalsCancelsScheduleOnInterrupt(t *testing.T) {
	cfg := &config.Configuration{Mode: config.ModeAttach}
	c := New(cfg)

	cancelled := false
	cancel := context.CancelFunc(func() { cancelled = true })
	c.scheduleCancel.Store(&cancel)

	sigCh := make(chan os.Signal, 1)
	sigCh <- syscall.SIGTERM
	close(sigCh)

	c.handleSignals(sigCh)

	assert.True(t, cancelled, "scheduleCancel must be invoked without waiting for the scheduler's next tick")
	assert.Equal(t, int32(syscall.SIGTERM), c.sigintPending.Load())
}
