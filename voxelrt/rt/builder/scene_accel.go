package builder

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/voxbuild/voxelrt/rt/bvh"
	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
	"github.com/gekko3d/voxbuild/voxelrt/rt/gpu"
)

// EmptyChunk fills both fields of an unplaced scene table entry.
const EmptyChunk = 0xffffffff

// SceneAccel is the per-scene chunk table the tracer walks: one
// (node_offset, leaf_offset) pair per chunk of a grid, indexed
// x + y*sx + z*sx*sy, plus a BVH over the placed chunks.
type SceneAccel struct {
	dev      gpu.Device
	grid     core.UVec3
	chunkDim uint32
	logger   core.Logger

	mu      sync.Mutex
	entries []uint32
	placed  map[core.UVec3]struct{}
	dirty   bool
	buf     gpu.Buffer
	tree    *bvh.Tree
	order   []core.UVec3
	builder bvh.ChunkBuilder
}

func NewSceneAccel(dev gpu.Device, grid core.UVec3, chunkDim uint32, logger core.Logger) (*SceneAccel, error) {
	if grid.AnyZero() || chunkDim == 0 {
		return nil, fmt.Errorf("scene grid %s of chunk side %d: %w", grid, chunkDim, ErrInvalidDim)
	}
	stride := structOf("ChunkEntry").Size
	n := grid.Volume()
	buf, err := dev.CreateBuffer("scene_chunks", n*stride, gpu.UsageScratch)
	if err != nil {
		return nil, fmt.Errorf("failed to create scene table: %w", err)
	}
	s := &SceneAccel{
		dev:      dev,
		grid:     grid,
		chunkDim: chunkDim,
		logger:   core.Named(logger, "scene"),
		entries:  make([]uint32, n*stride/4),
		placed:   make(map[core.UVec3]struct{}),
		buf:      buf,
		dirty:    true,
	}
	for i := range s.entries {
		s.entries[i] = EmptyChunk
	}
	s.tree = s.builder.Build(nil)
	return s, nil
}

func (s *SceneAccel) Grid() core.UVec3   { return s.grid }
func (s *SceneAccel) Buffer() gpu.Buffer { return s.buf }

func (s *SceneAccel) slot(key core.UVec3) (uint64, error) {
	if key.X >= s.grid.X || key.Y >= s.grid.Y || key.Z >= s.grid.Z {
		return 0, fmt.Errorf("chunk %s outside scene grid %s: %w", key, s.grid, ErrOutOfBounds)
	}
	return key.Index(s.grid) * 2, nil
}

// Set records p for the chunk at key; nil clears the entry.
func (s *SceneAccel) Set(key core.UVec3, p *Placement) error {
	i, err := s.slot(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		s.entries[i], s.entries[i+1] = EmptyChunk, EmptyChunk
		delete(s.placed, key)
	} else {
		s.entries[i], s.entries[i+1] = p.NodeOffset, p.LeafOffset
		s.placed[key] = struct{}{}
	}
	s.dirty = true
	return nil
}

// Entry returns the offsets recorded for key.
func (s *SceneAccel) Entry(key core.UVec3) (node, leaf uint32, ok bool) {
	i, err := s.slot(key)
	if err != nil {
		return 0, 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok = s.placed[key]
	return s.entries[i], s.entries[i+1], ok
}

// Len is the number of placed chunks.
func (s *SceneAccel) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.placed)
}

// Bounds is the world box of the chunk at key.
func (s *SceneAccel) Bounds(key core.UVec3) [2]mgl32.Vec3 {
	lo := key.Mul(s.chunkDim).Vec3()
	return [2]mgl32.Vec3{lo, lo.Add(mgl32.Vec3{float32(s.chunkDim), float32(s.chunkDim), float32(s.chunkDim)})}
}

// Upload writes the table to the device and rebuilds the BVH if anything
// changed since the last upload.
func (s *SceneAccel) Upload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	if err := s.dev.WriteBuffer(s.buf, 0, core.U32sToBytes(s.entries)); err != nil {
		return fmt.Errorf("failed to upload scene table: %w", err)
	}
	s.order = s.order[:0]
	for k := range s.placed {
		s.order = append(s.order, k)
	}
	sort.Slice(s.order, func(i, j int) bool { return s.order[i].Less(s.order[j]) })
	aabbs := make([][2]mgl32.Vec3, len(s.order))
	for i, k := range s.order {
		aabbs[i] = s.Bounds(k)
	}
	s.tree = s.builder.Build(aabbs)
	s.dirty = false
	s.logger.Debugf("uploaded %d chunks, %d bvh nodes", len(s.order), len(s.tree.Nodes))
	return nil
}

// ChunksIn returns the placed chunks overlapping the world box [lo, hi) as
// of the last Upload.
func (s *SceneAccel) ChunksIn(lo, hi mgl32.Vec3) []core.UVec3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys(s.tree.Query(lo, hi))
}

// ChunksInFrustum returns the placed chunks at least partly inside f as of
// the last Upload.
func (s *SceneAccel) ChunksInFrustum(f core.Frustum) []core.UVec3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys(s.tree.Cull(f.Intersects))
}

func (s *SceneAccel) keys(idx []int) []core.UVec3 {
	out := make([]core.UVec3, len(idx))
	for i, j := range idx {
		out[i] = s.order[j]
	}
	return out
}

// BVH is the hierarchy built by the last Upload.
func (s *SceneAccel) BVH() *bvh.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree
}
