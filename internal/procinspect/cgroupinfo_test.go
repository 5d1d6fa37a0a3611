//go:build linux

package procinspect

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCgroupPathSelf(t *testing.T) {
	path, err := CgroupPath(os.Getpid())
	if err != nil {
		t.Skipf("no cgroup entry available in this environment: %v", err)
	}
	assert.NotEmpty(t, path)
}

func TestCgroupPathNoSuchPid(t *testing.T) {
	_, err := CgroupPath(999999)
	require.Error(t, err)
}
