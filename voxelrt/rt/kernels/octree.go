package kernels

import (
	"github.com/gekko3d/voxbuild/voxelrt/rt/gpu"
	"github.com/gekko3d/voxbuild/voxelrt/rt/shaders"
)

const (
	OctreeInfo uint32 = iota
	OctreeState
	OctreeAllocNumberIndirect
	OctreeVoxelCountIndirect
	OctreeFragments
	OctreeNodes
	OctreeResult
)

// OctreeTile is the number of node entries allocated per subdivided node.
const OctreeTile = 8

var (
	octInfoFragLen  = word("OctreeBuildInfo", "frag_list_len")
	octInfoMaxLevel = word("OctreeBuildInfo", "max_level")
	octInfoCapacity = word("OctreeBuildInfo", "capacity")

	octStateLevelBegin = word("OctreeBuildState", "level_begin")
	octStateLevelEnd   = word("OctreeBuildState", "level_end")
	octStateAllocEnd   = word("OctreeBuildState", "alloc_end")
	octStateOverflow   = word("OctreeBuildState", "overflow")
	octStateLevel      = word("OctreeBuildState", "level")

	octResultSize     = word("OctreeBuildResult", "size_u32")
	octResultOverflow = word("OctreeBuildResult", "overflow")
)

// Octree builds a sparse voxel octree from a fragment list, one level per
// pass.
var Octree = newModule("octree", shaders.OctreeWGSL, []gpu.LayoutEntry{
	{Binding: OctreeInfo, Kind: gpu.BindingUniform, Name: "octree_build_info"},
	{Binding: OctreeState, Kind: gpu.BindingStorage, Name: "octree_build_state"},
	{Binding: OctreeAllocNumberIndirect, Kind: gpu.BindingStorage, Name: "alloc_number_indirect"},
	{Binding: OctreeVoxelCountIndirect, Kind: gpu.BindingStorage, Name: "voxel_count_indirect"},
	{Binding: OctreeFragments, Kind: gpu.BindingReadOnlyStorage, Name: "fragments"},
	{Binding: OctreeNodes, Kind: gpu.BindingStorage, Name: "octree_data_single"},
	{Binding: OctreeResult, Kind: gpu.BindingStorage, Name: "octree_build_result"},
}, []entry{
	{name: "init_buffers", workgroup: one, writes: []uint32{OctreeState, OctreeAllocNumberIndirect, OctreeVoxelCountIndirect, OctreeResult}, body: octInitBuffers},
	{name: "init_node", workgroup: linear, writes: []uint32{OctreeNodes}, body: octInitNode},
	{name: "tag_node", workgroup: linear, writes: []uint32{OctreeNodes}, body: octTagNode},
	{name: "alloc_node", workgroup: linear, writes: []uint32{OctreeState, OctreeNodes}, body: octAllocNode},
	{name: "modify_args", workgroup: one, writes: []uint32{OctreeState, OctreeAllocNumberIndirect, OctreeVoxelCountIndirect, OctreeResult}, body: octModifyArgs},
})

// OctreeChild is the index within a tile of the child containing the
// packed coordinate at the given bit.
func OctreeChild(coord, bit uint32) uint32 {
	x, y, z := UnpackCoord(coord)
	return (x>>bit)&1 | ((y>>bit)&1)<<1 | ((z>>bit)&1)<<2
}

func octInitBuffers(inv *gpu.Invocation) {
	info := inv.Buffer(OctreeInfo)
	st := inv.Buffer(OctreeState)
	st.Store(octStateLevelBegin, 0)
	st.Store(octStateLevelEnd, OctreeTile)
	st.Store(octStateAllocEnd, OctreeTile)
	st.Store(octStateOverflow, 0)
	st.Store(octStateLevel, 0)
	storeArgs(inv.Buffer(OctreeAllocNumberIndirect), 1, 1, 1)
	storeLinearArgs(inv.Buffer(OctreeVoxelCountIndirect), info.Load(octInfoFragLen))
	res := inv.Buffer(OctreeResult)
	res.Store(octResultSize, OctreeTile)
	res.Store(octResultOverflow, 0)
}

func octInitNode(inv *gpu.Invocation) {
	st := inv.Buffer(OctreeState)
	i := st.Load(octStateLevelBegin) + linearID(inv)
	if i >= st.Load(octStateLevelEnd) {
		return
	}
	inv.Buffer(OctreeNodes).Store(i, 0)
}

func octTagNode(inv *gpu.Invocation) {
	info := inv.Buffer(OctreeInfo)
	f := linearID(inv)
	if f >= info.Load(octInfoFragLen) {
		return
	}
	frags := inv.Buffer(OctreeFragments)
	coord, value := frags.Load(f*FragmentWords), frags.Load(f*FragmentWords+1)
	nodes := inv.Buffer(OctreeNodes)
	level := inv.Buffer(OctreeState).Load(octStateLevel)
	top := info.Load(octInfoMaxLevel) - 1

	var base uint32
	for j := uint32(0); j < level; j++ {
		base = nodes.Load(base+OctreeChild(coord, top-j)) & ptrMask
		if base == 0 {
			return
		}
	}
	idx := base + OctreeChild(coord, top-level)
	if level == top {
		nodes.Store(idx, value)
	} else {
		nodes.Or(idx, occupied)
	}
}

func octAllocNode(inv *gpu.Invocation) {
	st := inv.Buffer(OctreeState)
	i := st.Load(octStateLevelBegin) + linearID(inv)
	if i >= st.Load(octStateLevelEnd) {
		return
	}
	nodes := inv.Buffer(OctreeNodes)
	if nodes.Load(i)&occupied == 0 {
		return
	}
	ptr := st.Add(octStateAllocEnd, OctreeTile)
	if ptr+OctreeTile > inv.Buffer(OctreeInfo).Load(octInfoCapacity) {
		st.Store(octStateOverflow, 1)
		return
	}
	nodes.Store(i, occupied|ptr)
}

func octModifyArgs(inv *gpu.Invocation) {
	info := inv.Buffer(OctreeInfo)
	st := inv.Buffer(OctreeState)
	end := min(st.Load(octStateAllocEnd), info.Load(octInfoCapacity))
	begin := st.Load(octStateLevelEnd)
	st.Store(octStateLevelBegin, begin)
	st.Store(octStateLevelEnd, end)
	st.Store(octStateLevel, st.Load(octStateLevel)+1)
	storeLinearArgs(inv.Buffer(OctreeAllocNumberIndirect), end-begin)
	storeLinearArgs(inv.Buffer(OctreeVoxelCountIndirect), info.Load(octInfoFragLen))
	res := inv.Buffer(OctreeResult)
	res.Store(octResultSize, end)
	res.Store(octResultOverflow, st.Load(octStateOverflow))
}

// OctreeOccupied is the occupied bit of an inner octree entry. Leaf
// entries hold the raw voxel value and are occupied when non-zero.
const OctreeOccupied = occupied
