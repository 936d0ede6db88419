package bvh

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i32At(data []byte, off uint64) int32 {
	return int32(binary.LittleEndian.Uint32(data[off : off+4]))
}

func TestNodeLayout(t *testing.T) {
	assert.Equal(t, uint64(48), NodeSize)
	assert.Equal(t, uint64(32), nodeLayout.Offset("left"))
	assert.Equal(t, uint64(44), nodeLayout.Offset("leaf_count"))
}

func TestTwoChunksSplit(t *testing.T) {
	aabbs := [][2]mgl32.Vec3{
		{{-100, -1, -1}, {-98, 1, 1}},
		{{100, -1, -1}, {102, 1, 1}},
	}

	builder := &ChunkBuilder{}
	data := builder.Build(aabbs).Bytes()

	// root plus two leaves
	if uint64(len(data)) != NodeSize*3 {
		t.Fatalf("Expected %d bytes (3 nodes), got %d", NodeSize*3, len(data))
	}

	rootMinX := math.Float32frombits(binary.LittleEndian.Uint32(data[0:4]))
	rootMaxX := math.Float32frombits(binary.LittleEndian.Uint32(data[16:20]))
	if rootMinX > -100 {
		t.Errorf("Root min X should be <= -100, got %f", rootMinX)
	}
	if rootMaxX < 102 {
		t.Errorf("Root max X should be >= 102, got %f", rootMaxX)
	}

	leftIdx := i32At(data, 32)
	rightIdx := i32At(data, 36)
	if leftIdx == -1 || rightIdx == -1 {
		t.Fatalf("Root should have two children, got %d and %d", leftIdx, rightIdx)
	}
	if leftIdx == rightIdx {
		t.Error("Left and right indices should be different")
	}

	for _, child := range []int32{leftIdx, rightIdx} {
		off := uint64(child) * NodeSize
		if l := i32At(data, off+32); l != -1 {
			t.Errorf("Child %d should be a leaf (left=-1), got %d", child, l)
		}
		if c := i32At(data, off+44); c != 1 {
			t.Errorf("Child %d should hold one chunk, got %d", child, c)
		}
	}
}

func TestSingleChunk(t *testing.T) {
	tree := (&ChunkBuilder{}).Build([][2]mgl32.Vec3{{{0, 0, 0}, {1, 1, 1}}})
	require.Len(t, tree.Nodes, 1)

	root := tree.Nodes[0]
	assert.Equal(t, int32(-1), root.Left)
	assert.Equal(t, int32(-1), root.Right)
	assert.Equal(t, int32(0), root.LeafFirst)
	assert.Equal(t, int32(1), root.LeafCount)
}

func TestEmptyBVH(t *testing.T) {
	tree := (&ChunkBuilder{}).Build(nil)
	data := tree.Bytes()
	if uint64(len(data)) != NodeSize {
		t.Fatalf("Expected one empty root node, got %d bytes", len(data))
	}
	assert.Empty(t, tree.Query(mgl32.Vec3{-1e9, -1e9, -1e9}, mgl32.Vec3{1e9, 1e9, 1e9}))
}

func TestQueryGrid(t *testing.T) {
	// 4x4x1 grid of unit chunks of side 16
	var aabbs [][2]mgl32.Vec3
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			lo := mgl32.Vec3{float32(x * 16), float32(y * 16), 0}
			aabbs = append(aabbs, [2]mgl32.Vec3{lo, lo.Add(mgl32.Vec3{16, 16, 16})})
		}
	}
	tree := (&ChunkBuilder{}).Build(aabbs)
	assert.Len(t, tree.Nodes, 2*len(aabbs)-1)

	// touching faces do not overlap
	got := tree.Query(mgl32.Vec3{16, 16, 0}, mgl32.Vec3{32, 32, 16})
	assert.Equal(t, []int{5}, got)

	got = tree.Query(mgl32.Vec3{8, 8, 0}, mgl32.Vec3{24, 24, 1})
	assert.Equal(t, []int{0, 1, 4, 5}, got)

	assert.Empty(t, tree.Query(mgl32.Vec3{0, 0, 20}, mgl32.Vec3{64, 64, 30}))
}

func TestCull(t *testing.T) {
	var aabbs [][2]mgl32.Vec3
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			lo := mgl32.Vec3{float32(x * 16), float32(y * 16), 0}
			aabbs = append(aabbs, [2]mgl32.Vec3{lo, lo.Add(mgl32.Vec3{16, 16, 16})})
		}
	}
	tree := (&ChunkBuilder{}).Build(aabbs)

	// first column; any box containing one of its chunks also passes
	got := tree.Cull(func(lo, hi mgl32.Vec3) bool { return lo.X() < 16 })
	assert.Equal(t, []int{0, 4, 8, 12}, got)

	assert.Empty(t, tree.Cull(func(lo, hi mgl32.Vec3) bool { return false }))
	assert.Len(t, tree.Cull(func(lo, hi mgl32.Vec3) bool { return true }), 16)
}
