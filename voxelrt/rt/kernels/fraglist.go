package kernels

import (
	"github.com/gekko3d/voxbuild/voxelrt/rt/gpu"
	"github.com/gekko3d/voxbuild/voxelrt/rt/shaders"
)

const (
	FragListInfo uint32 = iota
	FragListVoxelDimIndirect
	FragListResult
	FragListFragments
	FragListAtlas
)

const (
	// FragmentWords is the size of one fragment in 32-bit words.
	FragmentWords = 2
	// FragmentCoordBits is the width of each packed coordinate.
	FragmentCoordBits = 10
)

var (
	fragInfoReadOffset = word("FragListMakerInfo", "atlas_read_offset")
	fragInfoCrossing   = word("FragListMakerInfo", "is_crossing_boundary")
	fragInfoReadDim    = word("FragListMakerInfo", "atlas_read_dim")
	fragInfoAtlasDim   = word("FragListMakerInfo", "atlas_dim")
	fragResultLen      = word("FragListBuildResult", "frag_list_len")
)

// FragList extracts the non-empty voxels of an atlas box as fragments.
var FragList = newModule("fraglist", shaders.FragListWGSL, []gpu.LayoutEntry{
	{Binding: FragListInfo, Kind: gpu.BindingUniform, Name: "frag_list_maker_info"},
	{Binding: FragListVoxelDimIndirect, Kind: gpu.BindingStorage, Name: "voxel_dim_indirect"},
	{Binding: FragListResult, Kind: gpu.BindingStorage, Name: "frag_list_build_result"},
	{Binding: FragListFragments, Kind: gpu.BindingStorage, Name: "fragments"},
	{Binding: FragListAtlas, Kind: gpu.BindingReadOnlyStorage, Name: "atlas"},
}, []entry{
	{name: "init_buffers", workgroup: one, writes: []uint32{FragListVoxelDimIndirect, FragListResult}, body: fragInitBuffers},
	{name: "frag_list_maker", workgroup: volume, writes: []uint32{FragListResult, FragListFragments}, body: fragListMaker},
})

// PackCoord packs a region-relative voxel coordinate into a fragment.
func PackCoord(x, y, z uint32) uint32 {
	return x | y<<FragmentCoordBits | z<<(2*FragmentCoordBits)
}

func UnpackCoord(c uint32) (x, y, z uint32) {
	const mask = 1<<FragmentCoordBits - 1
	return c & mask, c >> FragmentCoordBits & mask, c >> (2 * FragmentCoordBits) & mask
}

func fragInitBuffers(inv *gpu.Invocation) {
	inv.Buffer(FragListResult).Store(fragResultLen, 0)
	dim := loadVec3(inv.Buffer(FragListInfo), fragInfoReadDim)
	storeArgs(inv.Buffer(FragListVoxelDimIndirect), divCeil(dim[0], wgVolume), divCeil(dim[1], wgVolume), divCeil(dim[2], wgVolume))
}

func fragListMaker(inv *gpu.Invocation) {
	info := inv.Buffer(FragListInfo)
	gid := inv.GlobalID
	if anyGE(gid, loadVec3(info, fragInfoReadDim)) {
		return
	}
	off := loadVec3(info, fragInfoReadOffset)
	atlasDim := loadVec3(info, fragInfoAtlasDim)
	p := [3]uint32{off[0] + gid[0], off[1] + gid[1], off[2] + gid[2]}
	if info.Load(fragInfoCrossing) != 0 {
		for i := range p {
			p[i] %= atlasDim[i]
		}
	} else if anyGE(p, atlasDim) {
		return
	}
	v := inv.Buffer(FragListAtlas).Load(atlasIndex(p, atlasDim))
	if v == 0 {
		return
	}
	i := inv.Buffer(FragListResult).Add(fragResultLen, 1)
	frags := inv.Buffer(FragListFragments)
	if i >= frags.Len()/FragmentWords {
		return
	}
	frags.Store(i*FragmentWords, PackCoord(gid[0], gid[1], gid[2]))
	frags.Store(i*FragmentWords+1, v)
}
