package builder

import (
	"sort"
	"sync"

	"github.com/gekko3d/voxbuild/voxelrt/rt/alloc"
	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
)

// Placement records where one chunk's tree lives. Offsets are in elements
// of the respective pool (u32 entries for octrees, 12-byte nodes and u32
// leaves for contrees). Leaf is zero for octrees.
type Placement struct {
	Key        core.UVec3
	NodeID     uint64
	LeafID     uint64
	NodeOffset uint32
	NodeLen    uint32
	LeafOffset uint32
	LeafLen    uint32
	Levels     uint32
	// Voxels is the number of non-empty voxels the tree was built from.
	Voxels uint32
}

// ChunkTable maps chunk keys to their placements.
type ChunkTable struct {
	mu      sync.RWMutex
	entries map[core.UVec3]Placement
}

func NewChunkTable() *ChunkTable {
	return &ChunkTable{entries: make(map[core.UVec3]Placement)}
}

func (t *ChunkTable) Get(key core.UVec3) (Placement, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.entries[key]
	return p, ok
}

func (t *ChunkTable) Set(p Placement) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[p.Key] = p
}

func (t *ChunkTable) Delete(key core.UVec3) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

func (t *ChunkTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Placements returns every entry ordered by key (z-major).
func (t *ChunkTable) Placements() []Placement {
	t.mu.RLock()
	out := make([]Placement, 0, len(t.entries))
	for _, p := range t.entries {
		out = append(out, p)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// release frees whatever key holds in the given pools and forgets it.
func (t *ChunkTable) release(key core.UVec3, nodes, leaves alloc.Strategy) error {
	p, ok := t.Get(key)
	if !ok {
		return nil
	}
	t.Delete(key)
	if err := nodes.Deallocate(p.NodeID); err != nil {
		return err
	}
	if leaves != nil && p.LeafID != 0 {
		return leaves.Deallocate(p.LeafID)
	}
	return nil
}
