//go:build linux

package ptybroker

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/throttled/internal/config"
)

func TestWantsPTY(t *testing.T) {
	assert.False(t, wantsPTY(config.TTYForceOff, true))
	assert.False(t, wantsPTY(config.TTYForceOff, false))
	assert.True(t, wantsPTY(config.TTYForceOn, false))
	assert.True(t, wantsPTY(config.TTYForceOnEvenWithoutTTY, false))
	assert.True(t, wantsPTY(config.TTYAuto, true))
	assert.False(t, wantsPTY(config.TTYAuto, false))
}

func TestIsForegroundOnNonTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "not-a-tty")
	require.NoError(t, err)
	defer f.Close()

	assert.False(t, isForegroundOn(f), "a plain file is never a controlling terminal")
}

func TestLaunchRejectsEmptyArgv(t *testing.T) {
	_, err := Launch(Options{})
	require.Error(t, err)
}

func TestLaunchPlainCommandWithoutTTY(t *testing.T) {
	l, err := Launch(Options{Argv: []string{"true"}, TTY: config.TTYForceOff})
	require.NoError(t, err)
	defer l.Close()

	assert.False(t, l.UsedPTY)
	assert.True(t, l.UsedNewGroup)
	assert.Greater(t, l.PID, 0)

	_ = l.Cmd.Wait()
}

func TestLaunchPlainCommandHonorsNoGroup(t *testing.T) {
	l, err := Launch(Options{Argv: []string{"true"}, TTY: config.TTYForceOff, WantNoGroup: true})
	require.NoError(t, err)
	defer l.Close()

	assert.False(t, l.UsedNewGroup)
	_ = l.Cmd.Wait()
}

func TestCloseIsSafeWithoutPTY(t *testing.T) {
	l := &Launched{}
	assert.NotPanics(t, func() { l.Close() })
	assert.NotPanics(t, func() { l.Close() }) // idempotent
}

func TestRestoreForegroundNoopWithoutCapturedTerminal(t *testing.T) {
	l := &Launched{}
	assert.NotPanics(t, func() { l.RestoreForeground() })
}

func TestCloneWinsizeNoopWithoutPTY(t *testing.T) {
	l := &Launched{}
	assert.NotPanics(t, func() { l.CloneWinsize() })
}
