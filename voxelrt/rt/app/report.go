package app

import (
	"time"

	"github.com/google/uuid"

	"github.com/gekko3d/voxbuild/voxelrt/rt/alloc"
	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
)

type ChunkReport struct {
	Key         core.UVec3 `json:"key"`
	AtlasOffset core.UVec3 `json:"atlas_offset"`
	Voxels      uint32     `json:"voxels"`
	NodeOffset  uint32     `json:"node_offset"`
	NodeLen     uint32     `json:"node_len"`
	LeafOffset  uint32     `json:"leaf_offset"`
	LeafLen     uint32     `json:"leaf_len"`
	Skipped     bool       `json:"skipped,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

type PoolReport struct {
	Total  uint64 `json:"total"`
	Free   uint64 `json:"free"`
	Blocks int    `json:"free_blocks"`
	Live   int    `json:"allocations"`
}

// BuildReport summarizes one BuildScene pass.
type BuildReport struct {
	ID       uuid.UUID        `json:"id"`
	Backend  string           `json:"backend"`
	Tree     string           `json:"tree"`
	ChunkDim uint32           `json:"chunk_dim"`
	Chunks   []ChunkReport    `json:"chunks"`
	Nodes    PoolReport       `json:"node_pool"`
	Leaves   *PoolReport      `json:"leaf_pool,omitempty"`
	Regions  int              `json:"atlas_regions"`
	Stats    map[string]int   `json:"stats"`
	Timings  map[string]int64 `json:"timings_us"`
	Elapsed  time.Duration    `json:"elapsed_ns"`
}

func (r *BuildReport) fill(e *Engine) {
	nodes, leaves := e.Pools()
	r.Nodes = poolReport(nodes)
	if leaves != nil {
		lr := poolReport(leaves)
		r.Leaves = &lr
	}
	r.Regions = e.regions.Len()

	p := e.profiler
	p.mu.Lock()
	defer p.mu.Unlock()
	r.Stats = make(map[string]int, len(p.Counts))
	for k, v := range p.Counts {
		r.Stats[k] = v
	}
	r.Timings = make(map[string]int64, len(p.Scopes))
	for k, v := range p.Scopes {
		r.Timings[k] = v.Microseconds()
	}
}

func poolReport(s alloc.Strategy) PoolReport {
	return PoolReport{
		Total:  s.TotalSize(),
		Free:   s.FreeSize(),
		Blocks: len(s.FreeBlocks()),
		Live:   len(s.Allocations()),
	}
}

// Placed counts the chunks that hold a tree.
func (r *BuildReport) Placed() int {
	n := 0
	for _, c := range r.Chunks {
		if !c.Skipped {
			n++
		}
	}
	return n
}

// JSON renders the report for machine consumption.
func (r *BuildReport) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
