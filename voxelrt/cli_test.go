package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/voxbuild/voxelrt/rt/alloc"
	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
)

func TestParseKey(t *testing.T) {
	k, err := parseKey("1, 2,3")
	require.NoError(t, err)
	assert.Equal(t, core.UVec3{X: 1, Y: 2, Z: 3}, k)

	for _, bad := range []string{"", "1,2", "1,2,x", "1,2,3,4", "-1,0,0"} {
		_, err := parseKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestApplyOp(t *testing.T) {
	s := alloc.NewFirstFitAllocator(1024)
	for _, op := range []string{"a:100", "a:200", "a:50", "d:2", "r:3:120", "c"} {
		_, err := applyOp(s, op)
		require.NoError(t, err, op)
	}
	require.NoError(t, s.Validate())
	assert.Len(t, s.Allocations(), 2)
	assert.Equal(t, uint64(1024-100-120), s.FreeSize())
	assert.Len(t, s.FreeBlocks(), 1)

	for _, bad := range []string{"x", "a", "a:big", "d:99", "r:1", "a:4096", "c:1"} {
		_, err := applyOp(s, bad)
		assert.Error(t, err, bad)
	}
}
