//go:build linux

package procinspect

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRSSBytesSelf(t *testing.T) {
	rss, err := RSSBytes(os.Getpid())
	require.NoError(t, err)
	assert.Greater(t, rss, uint64(0))
}

func TestRSSBytesNoSuchPid(t *testing.T) {
	_, err := RSSBytes(999999)
	require.Error(t, err)
}
