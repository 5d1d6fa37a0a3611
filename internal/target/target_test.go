//go:build linux

package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetPIDAndIsPGID(t *testing.T) {
	cases := []struct {
		t        Target
		wantPID  int
		wantPGID bool
		wantStr  string
	}{
		{Target(55), 55, false, "55"},
		{Target(-55), 55, true, "-55"},
		{Target(1), 1, false, "1"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.wantPID, tc.t.PID())
		assert.Equal(t, tc.wantPGID, tc.t.IsPGID())
		assert.Equal(t, tc.wantStr, tc.t.String())
	}
}

func TestSetDeduplicatesAndReportsMembership(t *testing.T) {
	s := NewSet(Target(1), Target(1), Target(-2))
	assert.Len(t, s, 2)
	assert.True(t, s.Has(Target(1)))
	assert.True(t, s.Has(Target(-2)))
	assert.False(t, s.Has(Target(3)))
}

func TestSetEmpty(t *testing.T) {
	assert.True(t, NewSet().Empty())
	assert.False(t, NewSet(Target(1)).Empty())
}

func TestSetAddIsIdempotent(t *testing.T) {
	s := NewSet()
	s.Add(Target(10))
	s.Add(Target(10))
	assert.Len(t, s, 1)
}

func TestSetSliceIsSortedAndDeduplicated(t *testing.T) {
	s := NewSet(Target(5), Target(-3), Target(5), Target(1))
	assert.Equal(t, []Target{Target(-3), Target(1), Target(5)}, s.Slice())
}
