// Package bvh builds a bounding volume hierarchy over placed chunk bounds,
// serialized in the BVHNode layout shared with the shaders.
package bvh

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/voxbuild/voxelrt/rt/layout"
	"github.com/gekko3d/voxbuild/voxelrt/rt/shaders"
)

var nodeLayout = layout.MustParse(shaders.StructsWGSL).MustStruct("BVHNode")

// NodeSize is the byte size of one serialized node.
var NodeSize = nodeLayout.Size

type BVHNode struct {
	Min       mgl32.Vec3
	Max       mgl32.Vec3
	Left      int32
	Right     int32
	LeafFirst int32
	LeafCount int32
}

func (n *BVHNode) IsLeaf() bool { return n.LeafCount > 0 }

func (n *BVHNode) ToBytes() []byte {
	d := layout.NewDataBuilder(nodeLayout)
	d.MustSetField("aabb_min", n.Min.Vec4(0)).
		MustSetField("aabb_max", n.Max.Vec4(0)).
		MustSetField("left", n.Left).
		MustSetField("right", n.Right).
		MustSetField("leaf_first", n.LeafFirst).
		MustSetField("leaf_count", n.LeafCount)
	return d.Bytes()
}

type AABBItem struct {
	Min      mgl32.Vec3
	Max      mgl32.Vec3
	Centroid mgl32.Vec3
	Index    int
}

// Tree is a built hierarchy; node 0 is the root. An empty tree has a
// single node with no leaf.
type Tree struct {
	Nodes []BVHNode
}

type ChunkBuilder struct{}

// Build splits at the median centroid of the longest axis, one item per
// leaf. LeafFirst indexes aabbs.
func (b *ChunkBuilder) Build(aabbs [][2]mgl32.Vec3) *Tree {
	if len(aabbs) == 0 {
		return &Tree{Nodes: []BVHNode{{Left: -1, Right: -1, LeafFirst: -1}}}
	}

	items := make([]AABBItem, len(aabbs))
	for i, bounds := range aabbs {
		items[i] = AABBItem{
			Min:      bounds[0],
			Max:      bounds[1],
			Centroid: bounds[0].Add(bounds[1]).Mul(0.5),
			Index:    i,
		}
	}

	t := &Tree{Nodes: make([]BVHNode, 0, 2*len(items)-1)}
	b.recursiveBuild(items, &t.Nodes)
	return t
}

func (b *ChunkBuilder) recursiveBuild(items []AABBItem, nodes *[]BVHNode) int32 {
	idx := int32(len(*nodes))
	*nodes = append(*nodes, BVHNode{Left: -1, Right: -1, LeafFirst: -1, LeafCount: 0})

	inf := float32(math.Inf(1))
	minB := mgl32.Vec3{inf, inf, inf}
	maxB := mgl32.Vec3{-inf, -inf, -inf}
	for _, it := range items {
		for a := 0; a < 3; a++ {
			minB[a] = min(minB[a], it.Min[a])
			maxB[a] = max(maxB[a], it.Max[a])
		}
	}

	(*nodes)[idx].Min = minB
	(*nodes)[idx].Max = maxB

	if len(items) == 1 {
		(*nodes)[idx].LeafFirst = int32(items[0].Index)
		(*nodes)[idx].LeafCount = 1
		return idx
	}

	extent := maxB.Sub(minB)
	axis := 0
	if extent.Y() > extent.X() {
		axis = 1
	}
	if extent.Z() > extent[axis] {
		axis = 2
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Centroid[axis] < items[j].Centroid[axis]
	})

	mid := len(items) / 2
	left := b.recursiveBuild(items[:mid], nodes)
	right := b.recursiveBuild(items[mid:], nodes)
	(*nodes)[idx].Left = left
	(*nodes)[idx].Right = right

	return idx
}

// Bytes serializes every node in order.
func (t *Tree) Bytes() []byte {
	out := make([]byte, 0, uint64(len(t.Nodes))*NodeSize)
	for i := range t.Nodes {
		out = append(out, t.Nodes[i].ToBytes()...)
	}
	return out
}

func overlaps(aMin, aMax, bMin, bMax mgl32.Vec3) bool {
	for i := 0; i < 3; i++ {
		if aMax[i] <= bMin[i] || bMax[i] <= aMin[i] {
			return false
		}
	}
	return true
}

// Query returns the item indices whose bounds overlap [lo, hi), sorted.
func (t *Tree) Query(lo, hi mgl32.Vec3) []int {
	return t.Cull(func(nMin, nMax mgl32.Vec3) bool { return overlaps(nMin, nMax, lo, hi) })
}

// Cull returns the sorted leaf items whose bounds pass visible. Subtrees
// whose bounds fail are skipped whole, so visible must accept every box
// that contains an accepted one.
func (t *Tree) Cull(visible func(lo, hi mgl32.Vec3) bool) []int {
	var out []int
	stack := []int32{0}
	for len(stack) > 0 {
		n := &t.Nodes[stack[len(stack)-1]]
		stack = stack[:len(stack)-1]
		if n.LeafFirst < 0 && n.Left < 0 {
			continue
		}
		if !visible(n.Min, n.Max) {
			continue
		}
		if n.IsLeaf() {
			out = append(out, int(n.LeafFirst))
			continue
		}
		stack = append(stack, n.Left, n.Right)
	}
	sort.Ints(out)
	return out
}
