package builder

import (
	"errors"
	"fmt"

	"github.com/gekko3d/voxbuild/voxelrt/rt/alloc"
	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
	"github.com/gekko3d/voxbuild/voxelrt/rt/gpu"
	"github.com/gekko3d/voxbuild/voxelrt/rt/kernels"
	"github.com/gekko3d/voxbuild/voxelrt/rt/layout"
)

const (
	nodeBytes = kernels.NodeWords * 4
	leafBytes = kernels.LeafWords * 4
)

type ContreeOptions struct {
	NodePoolBytes     uint64
	LeafPoolBytes     uint64
	NodePreallocBytes uint64
	LeafPreallocBytes uint64
	// MaxDim bounds the chunk side and sizes the per-depth scratch.
	MaxDim   uint32
	Strategy alloc.Kind
}

func DefaultContreeOptions() ContreeOptions {
	return ContreeOptions{
		NodePoolBytes:     64 * 1024 * 1024,
		LeafPoolBytes:     64 * 1024 * 1024,
		NodePreallocBytes: defaultPrealloc,
		LeafPreallocBytes: defaultPrealloc,
		MaxDim:            64,
		Strategy:          alloc.KindFirstFit,
	}
}

// ContreeBuilder builds 64-ary trees straight from atlas regions. Nodes
// and leaves are written in place into their pools at the pre-allocated
// offsets, so confirming a build only shrinks the allocations.
type ContreeBuilder struct {
	dev    gpu.Device
	atlas  *Atlas
	opts   ContreeOptions
	logger core.Logger

	nodePool alloc.Strategy
	leafPool alloc.Strategy
	chunks   *ChunkTable
	nodeData gpu.Buffer
	leafData gpu.Buffer

	info          gpu.Buffer
	state         gpu.Buffer
	levelIndirect dispatchArgs
	concatInd     dispatchArgs
	voxelDimInd   dispatchArgs
	result        gpu.Buffer
	fragImg       gpu.Buffer
	ps            *pipelineSet
	infoData      *layout.DataBuilder
	cache         *gpu.CommandCache
	probe         *gpu.CommandList
}

// NewContreeBuilder panics on an unusable MaxDim, an unknown pool
// strategy, or a kernel that cannot be created.
func NewContreeBuilder(dev gpu.Device, atlas *Atlas, opts ContreeOptions, logger core.Logger) *ContreeBuilder {
	if err := checkContreeSide(opts.MaxDim); err != nil {
		panic(err)
	}
	nodePool, err := alloc.New(opts.Strategy, opts.NodePoolBytes/nodeBytes*nodeBytes)
	if err != nil {
		panic(err)
	}
	leafPool, err := alloc.New(opts.Strategy, opts.LeafPoolBytes/leafBytes*leafBytes)
	if err != nil {
		panic(err)
	}
	// one region per node depth, 64^d cells each
	cells := uint64(kernels.DenseBase(core.Log4(opts.MaxDim)))
	b := &ContreeBuilder{
		dev:           dev,
		atlas:         atlas,
		opts:          opts,
		logger:        core.Named(logger, "contree"),
		nodePool:      nodePool,
		leafPool:      leafPool,
		chunks:        NewChunkTable(),
		nodeData:      storage(dev, "contree_node_data", nodePool.TotalSize()),
		leafData:      storage(dev, "contree_leaf_data", leafPool.TotalSize()),
		info:          uniform(dev, "contree_build_info", "ContreeBuildInfo"),
		state:         storage(dev, "contree_build_state", structOf("ContreeBuildState").Size),
		levelIndirect: newDispatchArgs(dev, "level_dispatch_indirect"),
		concatInd:     newDispatchArgs(dev, "concat_dispatch_indirect"),
		voxelDimInd:   newDispatchArgs(dev, "voxel_dim_indirect"),
		result:        storage(dev, "contree_build_result", structOf("ContreeBuildResult").Size),
		fragImg:       storage(dev, "frag_img_build_result", structOf("FragImgBuildResult").Size),
		infoData:      layout.NewDataBuilder(structOf("ContreeBuildInfo")),
		cache:         gpu.NewCommandCache(),
	}
	dense := storage(dev, "dense_nodes", cells*4)
	sparse := storage(dev, "sparse_nodes", cells*nodeBytes)
	packed := storage(dev, "packed_nodes", cells*nodeBytes)
	b.ps = newPipelineSet(dev, kernels.Contree,
		b.info, b.state, b.levelIndirect.staging, b.concatInd.staging, atlas.Buffer(),
		dense, sparse, packed, b.nodeData, b.leafData, b.result, b.fragImg, b.voxelDimInd.staging)

	r := gpu.NewRecorder("contree/probe")
	b.ps.bind(r, "buffer_setup").DispatchGroups(one).Barrier(gpu.BarrierAll)
	publish(r, b.voxelDimInd)
	b.ps.bind(r, "frag_img_maker").DispatchIndirect(b.voxelDimInd.indirect, 0)
	if b.probe, err = r.Finish(); err != nil {
		panic(err)
	}
	return b
}

func (b *ContreeBuilder) NodePool() alloc.Strategy { return b.nodePool }
func (b *ContreeBuilder) LeafPool() alloc.Strategy { return b.leafPool }
func (b *ContreeBuilder) Chunks() *ChunkTable      { return b.chunks }
func (b *ContreeBuilder) NodeData() gpu.Buffer     { return b.nodeData }
func (b *ContreeBuilder) LeafData() gpu.Buffer     { return b.leafData }

func checkContreeSide(side uint32) error {
	if side < 4 || !core.IsPowerOfFour(side) || core.Log4(side)+1 > kernels.MaxContreeLevels {
		return fmt.Errorf("contree side %d must be a power of four >= 4: %w", side, ErrInvalidDim)
	}
	return nil
}

// ContreeLevel returns k+1 for a cube of side 4^k.
func ContreeLevel(dim core.UVec3) (uint32, error) {
	if !dim.IsCube() {
		return 0, fmt.Errorf("contree dimension %s is not a cube: %w", dim, ErrInvalidDim)
	}
	if err := checkContreeSide(dim.X); err != nil {
		return 0, err
	}
	return core.Log4(dim.X) + 1, nil
}

func (b *ContreeBuilder) check(offset, dim core.UVec3) (uint32, error) {
	levels, err := ContreeLevel(dim)
	if err != nil {
		return 0, err
	}
	if dim.X > b.opts.MaxDim {
		return 0, fmt.Errorf("contree dimension %s above max %d: %w", dim, b.opts.MaxDim, ErrRegionTooLarge)
	}
	return levels, b.atlas.checkRegion(offset, dim)
}

func (b *ContreeBuilder) record(levels uint32) (*gpu.CommandList, error) {
	r := gpu.NewRecorder(fmt.Sprintf("contree/levels=%d", levels))
	update := func(last bool) {
		if last {
			b.ps.bind(r, "last_buffer_update").DispatchGroups(one).Barrier(gpu.BarrierAll)
			publish(r, b.concatInd)
			return
		}
		b.ps.bind(r, "buffer_update").DispatchGroups(one).Barrier(gpu.BarrierAll)
		publish(r, b.levelIndirect)
	}
	b.ps.bind(r, "buffer_setup").DispatchGroups(one).Barrier(gpu.BarrierAll)
	publish(r, b.levelIndirect, b.concatInd)
	b.ps.bind(r, "leaf_write").DispatchIndirect(b.levelIndirect.indirect, 0).ShaderBarrier()
	update(levels == 2)
	for j := uint32(1); j+1 < levels; j++ {
		b.ps.bind(r, "tree_write").DispatchIndirect(b.levelIndirect.indirect, 0).ShaderBarrier()
		update(j == levels-2)
	}
	b.ps.bind(r, "concat").DispatchIndirect(b.concatInd.indirect, 0)
	return r.Finish()
}

func (b *ContreeBuilder) writeInfo(offset, dim core.UVec3, levels uint32, nodes, leaves alloc.Allocation) error {
	b.infoData.Reset()
	b.infoData.MustSetField("dim", dim.X).
		MustSetField("max_level", levels).
		MustSetField("node_write_offset", uint32(nodes.Offset/nodeBytes)).
		MustSetField("leaf_write_offset", uint32(leaves.Offset/leafBytes)).
		MustSetField("atlas_read_offset", offset).
		MustSetField("node_capacity", uint32(nodes.Size/nodeBytes)).
		MustSetField("atlas_dim", b.atlas.Dim()).
		MustSetField("leaf_capacity", uint32(leaves.Size/leafBytes))
	if err := b.dev.WriteBuffer(b.info, 0, b.infoData.Bytes()); err != nil {
		return fmt.Errorf("failed to write contree build info: %w", err)
	}
	return nil
}

// ActiveVoxels counts the non-empty voxels of a region.
func (b *ContreeBuilder) ActiveVoxels(offset, dim core.UVec3) (uint32, error) {
	levels, err := b.check(offset, dim)
	if err != nil {
		return 0, err
	}
	if err := b.writeInfo(offset, dim, levels, alloc.Allocation{}, alloc.Allocation{}); err != nil {
		return 0, err
	}
	if err := gpu.SubmitAndWait(b.dev, b.probe); err != nil {
		return 0, err
	}
	res, err := readStruct(b.dev, b.fragImg, "FragImgBuildResult")
	if err != nil {
		return 0, err
	}
	return mustU32(res, "active_voxel_len"), nil
}

// BuildAndAlloc builds the chunk at key from the atlas region at offset.
// An empty region yields (nil, nil) and leaves no allocation behind.
func (b *ContreeBuilder) BuildAndAlloc(key, offset, dim core.UVec3) (*Placement, error) {
	levels, err := b.check(offset, dim)
	if err != nil {
		return nil, err
	}
	active, err := b.ActiveVoxels(offset, dim)
	if err != nil {
		return nil, fmt.Errorf("failed to probe region: %w", err)
	}
	if err := b.chunks.release(key, b.nodePool, b.leafPool); err != nil {
		return nil, err
	}
	if active == 0 {
		b.logger.Debugf("chunk %s: empty, skipped", key)
		return nil, nil
	}

	nodes, err := b.nodePool.Allocate(b.opts.NodePreallocBytes / nodeBytes * nodeBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to pre-allocate contree nodes for chunk %s: %w", key, err)
	}
	leaves, err := b.leafPool.Allocate(b.opts.LeafPreallocBytes / leafBytes * leafBytes)
	if err != nil {
		return nil, errors.Join(
			fmt.Errorf("failed to pre-allocate contree leaves for chunk %s: %w", key, err),
			b.nodePool.Deallocate(nodes.ID))
	}
	fail := func(err error) (*Placement, error) {
		return nil, errors.Join(err, b.nodePool.Deallocate(nodes.ID), b.leafPool.Deallocate(leaves.ID))
	}

	list, hit, err := b.cache.GetOrRecord(levels, func() (*gpu.CommandList, error) { return b.record(levels) })
	if err != nil {
		return fail(err)
	}
	b.logger.Debugf("levels=%d cached=%v dispatches=%d", levels, hit, list.Dispatches())
	if err := b.writeInfo(offset, dim, levels, nodes, leaves); err != nil {
		return fail(err)
	}
	if err := gpu.SubmitAndWait(b.dev, list); err != nil {
		return fail(err)
	}
	res, err := readStruct(b.dev, b.result, "ContreeBuildResult")
	if err != nil {
		return fail(err)
	}
	nodeLen, leafLen := mustU32(res, "node_len"), mustU32(res, "leaf_len")
	if mustU32(res, "overflow") != 0 {
		return fail(fmt.Errorf("contree of chunk %s needs %d nodes and %d leaves: %w", key, nodeLen, leafLen, ErrScratchOverflow))
	}
	if nodeLen == 0 || leafLen == 0 {
		return fail(nil)
	}

	if nodes, err = b.shrink(b.nodePool, nodes, uint64(nodeLen)*nodeBytes); err != nil {
		return fail(err)
	}
	if leaves, err = b.shrink(b.leafPool, leaves, uint64(leafLen)*leafBytes); err != nil {
		return fail(err)
	}

	p := Placement{
		Key:        key,
		NodeID:     nodes.ID,
		LeafID:     leaves.ID,
		NodeOffset: uint32(nodes.Offset / nodeBytes),
		NodeLen:    nodeLen,
		LeafOffset: uint32(leaves.Offset / leafBytes),
		LeafLen:    leafLen,
		Levels:     levels,
		Voxels:     active,
	}
	b.chunks.Set(p)
	b.logger.Debugf("chunk %s: %d voxels, %d nodes at %d, %d leaves at %d", key, active, nodeLen, p.NodeOffset, leafLen, p.LeafOffset)
	return &p, nil
}

// shrink confirms a written allocation. The data is already in place, so
// the allocation must not move.
func (b *ContreeBuilder) shrink(pool alloc.Strategy, a alloc.Allocation, size uint64) (alloc.Allocation, error) {
	r, err := pool.Resize(a.ID, size)
	if err != nil {
		return a, err
	}
	if r.Offset != a.Offset {
		return a, fmt.Errorf("allocation %d moved from %d to %d on shrink", a.ID, a.Offset, r.Offset)
	}
	return r, nil
}

// Remove frees the chunk at key, if any.
func (b *ContreeBuilder) Remove(key core.UVec3) error {
	return b.chunks.release(key, b.nodePool, b.leafPool)
}

// ContreeChunk is a downloaded chunk, pointers still absolute.
type ContreeChunk struct {
	Placement
	Nodes  []uint32
	Leaves []uint32
}

// ReadChunk downloads a placed chunk's nodes and leaves.
func (b *ContreeBuilder) ReadChunk(key core.UVec3) (*ContreeChunk, error) {
	p, ok := b.chunks.Get(key)
	if !ok {
		return nil, fmt.Errorf("chunk %s: %w", key, alloc.ErrIDNotFound)
	}
	nodes, err := b.dev.ReadBuffer(b.nodeData, uint64(p.NodeOffset)*nodeBytes, uint64(p.NodeLen)*nodeBytes)
	if err != nil {
		return nil, err
	}
	leaves, err := b.dev.ReadBuffer(b.leafData, uint64(p.LeafOffset)*leafBytes, uint64(p.LeafLen)*leafBytes)
	if err != nil {
		return nil, err
	}
	return &ContreeChunk{Placement: p, Nodes: core.BytesToU32s(nodes), Leaves: core.BytesToU32s(leaves)}, nil
}
