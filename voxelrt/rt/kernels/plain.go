package kernels

import (
	"math"

	"github.com/gekko3d/voxbuild/voxelrt/rt/gpu"
	"github.com/gekko3d/voxbuild/voxelrt/rt/shaders"
)

const (
	PlainRegionInfo uint32 = iota
	PlainRegionIndirect
	PlainAtlas
)

var (
	regionOffset   = word("RegionInfo", "offset")
	regionRadius   = word("RegionInfo", "radius")
	regionDim      = word("RegionInfo", "dim")
	regionValue    = word("RegionInfo", "value")
	regionCenter   = word("RegionInfo", "center")
	regionAtlasDim = word("RegionInfo", "atlas_dim")
)

// Plain writes a filled sphere into a box of the atlas.
var Plain = newModule("plain", shaders.PlainWGSL, []gpu.LayoutEntry{
	{Binding: PlainRegionInfo, Kind: gpu.BindingUniform, Name: "region_info"},
	{Binding: PlainRegionIndirect, Kind: gpu.BindingStorage, Name: "region_indirect"},
	{Binding: PlainAtlas, Kind: gpu.BindingStorage, Name: "atlas"},
}, []entry{
	{name: "chunk_setup", workgroup: one, writes: []uint32{PlainRegionIndirect}, body: chunkSetup},
	{name: "chunk_init", workgroup: volume, writes: []uint32{PlainAtlas}, body: chunkInit},
})

func chunkSetup(inv *gpu.Invocation) {
	info := inv.Buffer(PlainRegionInfo)
	dim := loadVec3(info, regionDim)
	storeArgs(inv.Buffer(PlainRegionIndirect), divCeil(dim[0], wgVolume), divCeil(dim[1], wgVolume), divCeil(dim[2], wgVolume))
}

func chunkInit(inv *gpu.Invocation) {
	info := inv.Buffer(PlainRegionInfo)
	gid := inv.GlobalID
	if anyGE(gid, loadVec3(info, regionDim)) {
		return
	}
	off := loadVec3(info, regionOffset)
	atlasDim := loadVec3(info, regionAtlasDim)
	p := [3]uint32{off[0] + gid[0], off[1] + gid[1], off[2] + gid[2]}
	if anyGE(p, atlasDim) {
		return
	}
	var d2 float32
	for i := range 3 {
		c := math.Float32frombits(info.Load(regionCenter + uint32(i)))
		d := float32(gid[i]) + 0.5 - c
		d2 += d * d
	}
	r := math.Float32frombits(info.Load(regionRadius))
	var v uint32
	if float32(math.Sqrt(float64(d2))) <= r {
		v = info.Load(regionValue)
	}
	inv.Buffer(PlainAtlas).Store(atlasIndex(p, atlasDim), v)
}
