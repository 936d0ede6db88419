package kernels

import (
	"math/bits"

	"github.com/gekko3d/voxbuild/voxelrt/rt/gpu"
	"github.com/gekko3d/voxbuild/voxelrt/rt/shaders"
)

const (
	ContreeInfo uint32 = iota
	ContreeState
	ContreeLevelDispatchIndirect
	ContreeConcatDispatchIndirect
	ContreeAtlas
	ContreeDenseNodes
	ContreeSparseNodes
	ContreePackedNodes
	ContreeNodeData
	ContreeLeafData
	ContreeResult
	ContreeFragImgResult
	ContreeVoxelDimIndirect
)

const (
	// NodeWords is the size of one contree node element in 32-bit words.
	NodeWords = 3
	// LeafWords is the size of one leaf element in 32-bit words.
	LeafWords = 1
)

var (
	ctInfoDim        = word("ContreeBuildInfo", "dim")
	ctInfoMaxLevel   = word("ContreeBuildInfo", "max_level")
	ctInfoNodeOffset = word("ContreeBuildInfo", "node_write_offset")
	ctInfoLeafOffset = word("ContreeBuildInfo", "leaf_write_offset")
	ctInfoReadOffset = word("ContreeBuildInfo", "atlas_read_offset")
	ctInfoNodeCap    = word("ContreeBuildInfo", "node_capacity")
	ctInfoAtlasDim   = word("ContreeBuildInfo", "atlas_dim")
	ctInfoLeafCap    = word("ContreeBuildInfo", "leaf_capacity")

	ctStateDepth     = word("ContreeBuildState", "depth")
	ctStateLeafCount = word("ContreeBuildState", "leaf_count")
	ctStateOverflow  = word("ContreeBuildState", "overflow")
	ctStateCounters  = word("ContreeBuildState", "counter_for_levels")
	ctStatePacked    = word("ContreeBuildState", "packed_for_levels")
	ctStateOffsets   = word("ContreeBuildState", "node_offset_for_levels")

	ctResultNodeLen  = word("ContreeBuildResult", "node_len")
	ctResultLeafLen  = word("ContreeBuildResult", "leaf_len")
	ctResultOverflow = word("ContreeBuildResult", "overflow")

	fragImgActive = word("FragImgBuildResult", "active_voxel_len")
)

// Contree builds a 64-ary tree straight from an atlas region, finest
// depth first.
var Contree = newModule("contree", shaders.ContreeWGSL, []gpu.LayoutEntry{
	{Binding: ContreeInfo, Kind: gpu.BindingUniform, Name: "contree_build_info"},
	{Binding: ContreeState, Kind: gpu.BindingStorage, Name: "contree_build_state"},
	{Binding: ContreeLevelDispatchIndirect, Kind: gpu.BindingStorage, Name: "level_dispatch_indirect"},
	{Binding: ContreeConcatDispatchIndirect, Kind: gpu.BindingStorage, Name: "concat_dispatch_indirect"},
	{Binding: ContreeAtlas, Kind: gpu.BindingReadOnlyStorage, Name: "atlas"},
	{Binding: ContreeDenseNodes, Kind: gpu.BindingStorage, Name: "dense_nodes"},
	{Binding: ContreeSparseNodes, Kind: gpu.BindingStorage, Name: "sparse_nodes"},
	{Binding: ContreePackedNodes, Kind: gpu.BindingStorage, Name: "packed_nodes"},
	{Binding: ContreeNodeData, Kind: gpu.BindingStorage, Name: "contree_node_data"},
	{Binding: ContreeLeafData, Kind: gpu.BindingStorage, Name: "contree_leaf_data"},
	{Binding: ContreeResult, Kind: gpu.BindingStorage, Name: "contree_build_result"},
	{Binding: ContreeFragImgResult, Kind: gpu.BindingStorage, Name: "frag_img_build_result"},
	{Binding: ContreeVoxelDimIndirect, Kind: gpu.BindingStorage, Name: "voxel_dim_indirect"},
}, []entry{
	{name: "buffer_setup", workgroup: one, writes: []uint32{ContreeState, ContreeLevelDispatchIndirect, ContreeConcatDispatchIndirect, ContreeResult, ContreeFragImgResult, ContreeVoxelDimIndirect}, body: ctBufferSetup},
	{name: "frag_img_maker", workgroup: volume, writes: []uint32{ContreeFragImgResult}, body: ctFragImgMaker},
	{name: "leaf_write", workgroup: linear, writes: []uint32{ContreeState, ContreeDenseNodes, ContreeSparseNodes, ContreeLeafData}, body: ctLeafWrite},
	{name: "buffer_update", workgroup: one, writes: []uint32{ContreeState, ContreeLevelDispatchIndirect}, body: ctBufferUpdate},
	{name: "tree_write", workgroup: linear, writes: []uint32{ContreeState, ContreeDenseNodes, ContreeSparseNodes, ContreePackedNodes}, body: ctTreeWrite},
	{name: "last_buffer_update", workgroup: one, writes: []uint32{ContreeState, ContreeConcatDispatchIndirect, ContreePackedNodes, ContreeResult}, body: ctLastBufferUpdate},
	{name: "concat", workgroup: linear, writes: []uint32{ContreeNodeData}, body: ctConcat},
})

// CellsAt is the number of cells at node depth d (64^d).
func CellsAt(d uint32) uint32 { return 1 << (6 * d) }

// DenseBase is the first cell of depth d in the per-depth node regions.
func DenseBase(d uint32) uint32 {
	var base uint32
	for j := uint32(0); j < d; j++ {
		base += CellsAt(j)
	}
	return base
}

// ContreeChild is the child index of the voxel or cell at offset
// (x, y, z) within its 4x4x4 parent.
func ContreeChild(x, y, z uint32) uint32 { return x + y*4 + z*16 }

func childOffset(b uint32) [3]uint32 { return [3]uint32{b & 3, b >> 2 & 3, b >> 4} }

func cellOf(c, side uint32) [3]uint32 {
	return [3]uint32{c % side, c / side % side, c / (side * side)}
}

func setBit(mask *uint64, b uint32) { *mask |= 1 << b }

func loadNode(m *gpu.Memory, i uint32) [3]uint32 {
	return [3]uint32{m.Load(i * NodeWords), m.Load(i*NodeWords + 1), m.Load(i*NodeWords + 2)}
}

func storeNode(m *gpu.Memory, i uint32, n [3]uint32) {
	m.Store(i*NodeWords, n[0])
	m.Store(i*NodeWords+1, n[1])
	m.Store(i*NodeWords+2, n[2])
}

func ctBufferSetup(inv *gpu.Invocation) {
	info := inv.Buffer(ContreeInfo)
	st := inv.Buffer(ContreeState)
	depth := info.Load(ctInfoMaxLevel) - 2
	st.Store(ctStateDepth, depth)
	st.Store(ctStateLeafCount, 0)
	st.Store(ctStateOverflow, 0)
	for i := uint32(0); i < MaxContreeLevels; i++ {
		st.Store(ctStateCounters+i, 0)
		st.Store(ctStatePacked+i, 0)
		st.Store(ctStateOffsets+i, 0)
	}
	st.Store(ctStateOffsets+MaxContreeLevels, 0)
	storeLinearArgs(inv.Buffer(ContreeLevelDispatchIndirect), CellsAt(depth))
	storeArgs(inv.Buffer(ContreeConcatDispatchIndirect), 0, 1, 1)
	side := info.Load(ctInfoDim) / wgVolume
	storeArgs(inv.Buffer(ContreeVoxelDimIndirect), side, side, side)
	inv.Buffer(ContreeFragImgResult).Store(fragImgActive, 0)
	res := inv.Buffer(ContreeResult)
	res.Store(ctResultNodeLen, 0)
	res.Store(ctResultLeafLen, 0)
	res.Store(ctResultOverflow, 0)
}

func ctFragImgMaker(inv *gpu.Invocation) {
	info := inv.Buffer(ContreeInfo)
	dim := info.Load(ctInfoDim)
	gid := inv.GlobalID
	if anyGE(gid, [3]uint32{dim, dim, dim}) {
		return
	}
	off := loadVec3(info, ctInfoReadOffset)
	p := [3]uint32{off[0] + gid[0], off[1] + gid[1], off[2] + gid[2]}
	if inv.Buffer(ContreeAtlas).Load(atlasIndex(p, loadVec3(info, ctInfoAtlasDim))) != 0 {
		inv.Buffer(ContreeFragImgResult).Add(fragImgActive, 1)
	}
}

func ctLeafWrite(inv *gpu.Invocation) {
	info := inv.Buffer(ContreeInfo)
	st := inv.Buffer(ContreeState)
	c := linearID(inv)
	d := st.Load(ctStateDepth)
	if c >= CellsAt(d) {
		return
	}
	side := uint32(1) << (2 * d)
	cell := cellOf(c, side)
	off := loadVec3(info, ctInfoReadOffset)
	atlasDim := loadVec3(info, ctInfoAtlasDim)
	atlas := inv.Buffer(ContreeAtlas)
	dense := inv.Buffer(ContreeDenseNodes)
	db := DenseBase(d)

	var (
		vals [64]uint32
		mask uint64
	)
	for b := uint32(0); b < 64; b++ {
		o := childOffset(b)
		p := [3]uint32{off[0] + cell[0]*4 + o[0], off[1] + cell[1]*4 + o[1], off[2] + cell[2]*4 + o[2]}
		vals[b] = atlas.Load(atlasIndex(p, atlasDim))
		if vals[b] != 0 {
			setBit(&mask, b)
		}
	}
	n := uint32(bits.OnesCount64(mask))
	if n == 0 {
		dense.Store(db+c, 0)
		return
	}
	lb := st.Add(ctStateLeafCount, n)
	if lb+n > info.Load(ctInfoLeafCap) {
		st.Store(ctStateOverflow, 1)
		dense.Store(db+c, 0)
		return
	}
	leaves := inv.Buffer(ContreeLeafData)
	leafOff := info.Load(ctInfoLeafOffset)
	r := uint32(0)
	for b := uint32(0); b < 64; b++ {
		if vals[b] != 0 {
			leaves.Store(leafOff+lb+r, vals[b])
			r++
		}
	}
	s := st.Add(ctStateCounters+d, 1)
	storeNode(inv.Buffer(ContreeSparseNodes), db+s, [3]uint32{uint32(mask), uint32(mask >> 32), contreeLeaf | lb})
	dense.Store(db+c, s+1)
}

func ctBufferUpdate(inv *gpu.Invocation) {
	st := inv.Buffer(ContreeState)
	depth := st.Load(ctStateDepth) - 1
	st.Store(ctStateDepth, depth)
	storeLinearArgs(inv.Buffer(ContreeLevelDispatchIndirect), CellsAt(depth))
}

func ctTreeWrite(inv *gpu.Invocation) {
	st := inv.Buffer(ContreeState)
	c := linearID(inv)
	d := st.Load(ctStateDepth)
	if c >= CellsAt(d) {
		return
	}
	side := uint32(1) << (2 * d)
	cs := side * 4
	cell := cellOf(c, side)
	db, cdb := DenseBase(d), DenseBase(d+1)
	dense := inv.Buffer(ContreeDenseNodes)

	var (
		kids [64]uint32
		mask uint64
	)
	for b := uint32(0); b < 64; b++ {
		o := childOffset(b)
		x, y, z := cell[0]*4+o[0], cell[1]*4+o[1], cell[2]*4+o[2]
		kids[b] = dense.Load(cdb + x + y*cs + z*cs*cs)
		if kids[b] != 0 {
			setBit(&mask, b)
		}
	}
	n := uint32(bits.OnesCount64(mask))
	if n == 0 {
		dense.Store(db+c, 0)
		return
	}
	sparse := inv.Buffer(ContreeSparseNodes)
	packed := inv.Buffer(ContreePackedNodes)
	pb := st.Add(ctStatePacked+d+1, n)
	r := uint32(0)
	for b := uint32(0); b < 64; b++ {
		if kids[b] != 0 {
			storeNode(packed, cdb+pb+r, loadNode(sparse, cdb+kids[b]-1))
			r++
		}
	}
	s := st.Add(ctStateCounters+d, 1)
	storeNode(sparse, db+s, [3]uint32{uint32(mask), uint32(mask >> 32), pb})
	dense.Store(db+c, s+1)
}

func ctLastBufferUpdate(inv *gpu.Invocation) {
	info := inv.Buffer(ContreeInfo)
	st := inv.Buffer(ContreeState)
	packed := inv.Buffer(ContreePackedNodes)
	if st.Load(ctStateCounters) > 0 {
		storeNode(packed, 0, loadNode(inv.Buffer(ContreeSparseNodes), 0))
		st.Store(ctStatePacked, 1)
	}
	levels := info.Load(ctInfoMaxLevel) - 1
	st.Store(ctStateOffsets, 0)
	for d := uint32(0); d < levels; d++ {
		st.Store(ctStateOffsets+d+1, st.Load(ctStateOffsets+d)+st.Load(ctStatePacked+d))
	}
	total := st.Load(ctStateOffsets + levels)
	if total > info.Load(ctInfoNodeCap) {
		st.Store(ctStateOverflow, 1)
	}
	res := inv.Buffer(ContreeResult)
	res.Store(ctResultNodeLen, total)
	res.Store(ctResultLeafLen, st.Load(ctStateLeafCount))
	overflow := st.Load(ctStateOverflow)
	res.Store(ctResultOverflow, overflow)
	if overflow != 0 {
		storeArgs(inv.Buffer(ContreeConcatDispatchIndirect), 0, 1, 1)
		return
	}
	storeLinearArgs(inv.Buffer(ContreeConcatDispatchIndirect), total)
}

func ctConcat(inv *gpu.Invocation) {
	info := inv.Buffer(ContreeInfo)
	st := inv.Buffer(ContreeState)
	i := linearID(inv)
	levels := info.Load(ctInfoMaxLevel) - 1
	if i >= st.Load(ctStateOffsets+levels) {
		return
	}
	d := uint32(0)
	for d+1 < levels && st.Load(ctStateOffsets+d+1) <= i {
		d++
	}
	node := loadNode(inv.Buffer(ContreePackedNodes), DenseBase(d)+i-st.Load(ctStateOffsets+d))
	if node[2]&contreeLeaf != 0 {
		node[2] = contreeLeaf | (node[2]&ptrMask + info.Load(ctInfoLeafOffset))
	} else {
		node[2] += st.Load(ctStateOffsets+d+1) + info.Load(ctInfoNodeOffset)
	}
	nodeOff := info.Load(ctInfoNodeOffset)
	storeNode(inv.Buffer(ContreeNodeData), nodeOff+i, node)
}

// ContreeLeafFlag marks a node pointer whose children are leaves.
const ContreeLeafFlag = contreeLeaf

// PtrMask selects the index bits of an octree entry or contree pointer.
const PtrMask = ptrMask
