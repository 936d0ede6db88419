package builder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
	"github.com/gekko3d/voxbuild/voxelrt/rt/gpu"
	"github.com/gekko3d/voxbuild/voxelrt/rt/kernels"
	"github.com/gekko3d/voxbuild/voxelrt/rt/volume"
)

type rig struct {
	dev   *gpu.SoftDevice
	atlas *Atlas
	plain *PlainWriter
	frags *FragListBuilder
}

func newRig(t *testing.T, workers int) *rig {
	t.Helper()
	dev := gpu.NewSoftDevice(kernels.Registry(), core.NewNopLogger(), gpu.SoftOptions{Workers: workers, ValidateOnSubmit: true})
	t.Cleanup(dev.Release)
	atlas, err := NewAtlas(dev, core.Splat(32))
	require.NoError(t, err)
	return &rig{
		dev:   dev,
		atlas: atlas,
		plain: NewPlainWriter(dev, atlas, nil),
		frags: NewFragListBuilder(dev, atlas, 32*32*32, nil),
	}
}

func smallOctreeOptions() OctreeOptions {
	return OctreeOptions{
		PoolBytes:     1 << 20,
		PreallocBytes: 256 << 10,
		ScratchBytes:  256 << 10,
		Strategy:      "first_fit",
	}
}

func smallContreeOptions() ContreeOptions {
	return ContreeOptions{
		NodePoolBytes:     1 << 20,
		LeafPoolBytes:     1 << 20,
		NodePreallocBytes: 120 << 10,
		LeafPreallocBytes: 128 << 10,
		MaxDim:            16,
		Strategy:          "best_fit",
	}
}

// sphereAt writes FullSphere(dim) at offset and returns the host copy of
// the region.
func (r *rig) sphereAt(t *testing.T, offset core.UVec3, dim uint32, value uint32) *volume.DenseGrid {
	t.Helper()
	require.NoError(t, r.plain.Write(offset, core.Splat(dim), FullSphere(dim, value)))
	g, err := r.atlas.ReadGrid(offset, core.Splat(dim))
	require.NoError(t, err)
	return g
}

func forEachVoxel(dim uint32, fn func(x, y, z uint32)) {
	for z := uint32(0); z < dim; z++ {
		for y := uint32(0); y < dim; y++ {
			for x := uint32(0); x < dim; x++ {
				fn(x, y, z)
			}
		}
	}
}
