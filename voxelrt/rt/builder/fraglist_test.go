package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
	"github.com/gekko3d/voxbuild/voxelrt/rt/volume"
)

func TestFragList_MatchesRegion(t *testing.T) {
	for _, workers := range []int{1, 4} {
		r := newRig(t, workers)
		offset := core.UVec3{X: 8, Y: 16, Z: 0}
		g := r.sphereAt(t, offset, 16, 5)

		n, err := r.frags.Build(offset, core.Splat(16), false)
		require.NoError(t, err)
		require.Equal(t, uint32(g.Count()), n)

		frags, err := r.frags.ReadFragments(n)
		require.NoError(t, err)
		seen := make(map[core.UVec3]bool, n)
		for _, f := range frags {
			assert.Equal(t, uint32(5), f.Value)
			assert.Equal(t, uint32(5), g.Voxel(int(f.Pos.X), int(f.Pos.Y), int(f.Pos.Z)), "fragment %s", f.Pos)
			assert.False(t, seen[f.Pos], "duplicate fragment %s", f.Pos)
			seen[f.Pos] = true
		}
	}
}

func TestFragList_EmptyRegion(t *testing.T) {
	r := newRig(t, 1)
	n, err := r.frags.Build(core.UVec3{}, core.Splat(8), false)
	require.NoError(t, err)
	assert.Zero(t, n)

	frags, err := r.frags.ReadFragments(0)
	require.NoError(t, err)
	assert.Empty(t, frags)
}

func TestFragList_CrossingBoundary(t *testing.T) {
	r := newRig(t, 1)
	g := volume.NewDenseGrid(core.Splat(1))
	g.SetVoxel(0, 0, 0, 3)
	require.NoError(t, r.atlas.WriteGrid(core.UVec3{}, g))

	// x 28..35 wraps onto 28..31, 0..3
	n, err := r.frags.Build(core.UVec3{X: 28}, core.UVec3{X: 8, Y: 1, Z: 1}, true)
	require.NoError(t, err)
	require.Equal(t, uint32(1), n)
	frags, err := r.frags.ReadFragments(n)
	require.NoError(t, err)
	assert.Equal(t, Fragment{Pos: core.UVec3{X: 4}, Value: 3}, frags[0])

	// without wrapping the voxels past the atlas are ignored
	n, err = r.frags.Build(core.UVec3{X: 28}, core.UVec3{X: 8, Y: 1, Z: 1}, false)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFragList_Errors(t *testing.T) {
	r := newRig(t, 1)
	_, err := r.frags.Build(core.UVec3{}, core.UVec3{X: 0, Y: 4, Z: 4}, false)
	assert.ErrorIs(t, err, ErrInvalidDim)

	_, err = r.frags.Build(core.UVec3{}, core.Splat(64), true)
	assert.ErrorIs(t, err, ErrRegionTooLarge)

	_, err = r.frags.Build(core.UVec3{X: 40}, core.Splat(4), false)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	_, err = r.frags.ReadFragments(r.frags.Capacity() + 1)
	assert.ErrorIs(t, err, ErrRegionTooLarge)
}
