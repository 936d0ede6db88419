package app

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/voxbuild/voxelrt/rt/alloc"
	"github.com/gekko3d/voxbuild/voxelrt/rt/builder"
	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
)

func testConfig(tree string) Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.AtlasDim = [3]uint32{64, 64, 16}
	cfg.ChunkDim = 16
	cfg.SceneDim = [3]uint32{2, 2, 1}
	cfg.Tree = tree
	cfg.NodePoolBytes = 1 << 20
	cfg.LeafPoolBytes = 1 << 20
	cfg.PreallocBytes = 192 << 10
	cfg.ScratchBytes = 192 << 10
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	dev, err := OpenDevice(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(dev.Release)
	e, err := NewEngine(cfg, dev, nil)
	require.NoError(t, err)
	return e
}

func TestEngine_BuildScene(t *testing.T) {
	for _, tree := range []string{TreeOctree, TreeContree} {
		t.Run(tree, func(t *testing.T) {
			cfg := testConfig(tree)
			if tree == TreeContree {
				cfg.Strategy = alloc.KindBestFit
			}
			e := newTestEngine(t, cfg)

			rep, err := e.BuildScene(SphereContent(cfg.ChunkDim))
			require.NoError(t, err)
			require.Len(t, rep.Chunks, 4)
			assert.Equal(t, 4, rep.Placed())
			assert.Equal(t, 4, e.Scene().Len())
			assert.Equal(t, 4, rep.Nodes.Live)
			assert.Equal(t, 4, rep.Regions)
			if tree == TreeContree {
				require.NotNil(t, rep.Leaves)
				assert.Equal(t, 4, rep.Leaves.Live)
			} else {
				assert.Nil(t, rep.Leaves)
			}

			for _, c := range rep.Chunks {
				assert.False(t, c.Skipped)
				assert.Greater(t, c.Voxels, uint32(1000))
				require.NoError(t, e.Verify(c.Key), "chunk %s", c.Key)

				node, leaf, ok := e.Scene().Entry(c.Key)
				assert.True(t, ok)
				assert.Equal(t, c.NodeOffset, node)
				assert.Equal(t, c.LeafOffset, leaf)
			}
			assert.Equal(t, 4, rep.Stats["chunks"])
			assert.Contains(t, rep.Timings, "tree")

			out, err := rep.JSON()
			require.NoError(t, err)
			assert.Contains(t, string(out), rep.ID.String())
		})
	}
}

func TestEngine_EmptyChunkIsSkipped(t *testing.T) {
	e := newTestEngine(t, testConfig(TreeOctree))

	c, err := e.BuildChunk(core.UVec3{X: 1}, builder.Sphere{Radius: 0, Value: 3})
	require.NoError(t, err)
	assert.True(t, c.Skipped)
	assert.Equal(t, "empty", c.Reason)
	require.NoError(t, e.Verify(core.UVec3{X: 1}))

	nodes, _ := e.Pools()
	assert.Empty(t, nodes.Allocations())
	_, _, ok := e.Scene().Entry(core.UVec3{X: 1})
	assert.False(t, ok)
}

func TestEngine_RebuildEmptiesChunk(t *testing.T) {
	e := newTestEngine(t, testConfig(TreeContree))
	key := core.UVec3{Y: 1}

	_, err := e.BuildChunk(key, builder.FullSphere(16, 2))
	require.NoError(t, err)
	c, err := e.BuildChunk(key, builder.Sphere{})
	require.NoError(t, err)
	assert.True(t, c.Skipped)

	nodes, leaves := e.Pools()
	assert.Empty(t, nodes.Allocations())
	assert.Empty(t, leaves.Allocations())
	assert.Equal(t, 1, e.Regions().Len(), "the atlas region is reused")
}

func TestEngine_FailedRebuildClearsSceneEntry(t *testing.T) {
	cfg := testConfig(TreeOctree)
	cfg.PreallocBytes = 4 << 10
	cfg.ScratchBytes = 4 << 10
	e := newTestEngine(t, cfg)
	key := core.UVec3{X: 1}

	_, err := e.BuildChunk(key, builder.Sphere{Center: mgl32.Vec3{8, 8, 8}, Radius: 1.5, Value: 3})
	require.NoError(t, err)
	_, _, ok := e.Scene().Entry(key)
	require.True(t, ok)

	_, err = e.BuildChunk(key, builder.FullSphere(16, 3))
	assert.ErrorIs(t, err, builder.ErrScratchOverflow)
	node, leaf, ok := e.Scene().Entry(key)
	assert.False(t, ok)
	assert.Equal(t, uint32(builder.EmptyChunk), node)
	assert.Equal(t, uint32(builder.EmptyChunk), leaf)
	assert.Zero(t, e.Scene().Len())
}

func TestEngine_AtlasFullCompacts(t *testing.T) {
	cfg := testConfig(TreeOctree)
	cfg.AtlasDim = [3]uint32{32, 16, 16}
	cfg.SceneDim = [3]uint32{4, 1, 1}
	e := newTestEngine(t, cfg)
	content := SphereContent(cfg.ChunkDim)

	rep, err := e.BuildScene(content)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Placed())
	for _, c := range rep.Chunks[2:] {
		assert.True(t, c.Skipped)
		assert.Contains(t, c.Reason, alloc.ErrAtlasFull.Error())
	}

	// freeing chunk 0 lets compaction make room; chunk 1 moves to the origin
	require.NoError(t, e.RemoveChunk(core.UVec3{}))
	c, err := e.BuildChunk(core.UVec3{X: 2}, content(core.UVec3{X: 2}))
	require.NoError(t, err)
	assert.False(t, c.Skipped)
	assert.Equal(t, core.UVec3{X: 16}, c.AtlasOffset)
	assert.Equal(t, 1, e.Profiler().Count("regions_moved"))

	require.NoError(t, e.Verify(core.UVec3{X: 1}))
	require.NoError(t, e.Verify(core.UVec3{X: 2}))
	g, err := e.Region(core.UVec3{X: 1})
	require.NoError(t, err)
	assert.Equal(t, content(core.UVec3{X: 1}).Value, g.Voxel(8, 8, 8))
}

func TestEngine_Errors(t *testing.T) {
	e := newTestEngine(t, testConfig(TreeOctree))
	_, err := e.BuildChunk(core.UVec3{Z: 1}, builder.FullSphere(16, 1))
	assert.ErrorIs(t, err, builder.ErrOutOfBounds)
	_, err = e.Region(core.UVec3{})
	assert.ErrorIs(t, err, alloc.ErrIDNotFound)

	cfg := testConfig("quadtree")
	_, err = NewEngine(cfg, nil, nil)
	assert.Error(t, err)
}
