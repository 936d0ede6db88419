package layout

import (
	"testing"

	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWGSL = `
/* outer is declared first on purpose /* nested */ */
struct Outer {
    count: u32,             // 0
    dim: vec3<u32>,         // 16
    flag: u32,              // 28
    inner: Inner,           // 32
    levels: array<u32, 4>,  // 64
    tail: array<Inner>,     // 80, runtime sized
}

struct Inner {
    a: atomic<u32>,
    @align(16) b: vec3<f32>,
}
`

func TestParseComputesWGSLOffsets(t *testing.T) {
	r, err := Parse(testWGSL)
	require.NoError(t, err)
	assert.Equal(t, []string{"Inner", "Outer"}, r.Names())

	inner := r.MustStruct("Inner")
	assert.Equal(t, uint64(32), inner.Size)
	assert.Equal(t, uint64(16), inner.Align)

	outer := r.MustStruct("Outer")
	assert.Equal(t, uint64(80), outer.Size)

	cases := map[string]uint64{
		"count":     0,
		"dim":       16,
		"flag":      28,
		"inner":     32,
		"inner.a":   32,
		"inner.b":   48,
		"levels[0]": 64,
		"levels[2]": 72,
		"tail[1].b": 80 + 32 + 16,
	}
	for path, want := range cases {
		assert.Equal(t, want, outer.Offset(path), path)
	}
}

func TestLocateErrors(t *testing.T) {
	outer := MustParse(testWGSL).MustStruct("Outer")

	_, _, err := outer.Locate("missing")
	assert.Error(t, err)
	_, _, err = outer.Locate("levels[4]")
	assert.Error(t, err)
	_, _, err = outer.Locate("count.x")
	assert.Error(t, err)
	_, _, err = outer.Locate("levels[x]")
	assert.Error(t, err)
	_, _, err = outer.Locate("")
	assert.Error(t, err)
}

func TestUnresolvedStruct(t *testing.T) {
	_, err := Parse(`struct A { b: B }`)
	assert.ErrorContains(t, err, "A")
}

func TestBuilderAndReaderRoundTrip(t *testing.T) {
	outer := MustParse(testWGSL).MustStruct("Outer")
	b := NewDataBuilder(outer)

	require.NoError(t, b.SetField("count", uint32(7)))
	require.NoError(t, b.SetField("dim", core.UVec3{X: 16, Y: 8, Z: 4}))
	require.NoError(t, b.SetField("flag", true))
	require.NoError(t, b.SetField("inner.a", 3))
	require.NoError(t, b.SetField("inner.b", mgl32.Vec3{1, 2, 3}))
	require.NoError(t, b.SetField("levels[3]", uint32(99)))
	assert.Len(t, b.Bytes(), 80)

	r := NewDataReader(outer, b.Bytes())
	count, err := r.U32("count")
	require.NoError(t, err)
	assert.Equal(t, uint32(7), count)

	dim, err := r.UVec3("dim")
	require.NoError(t, err)
	assert.Equal(t, core.UVec3{X: 16, Y: 8, Z: 4}, dim)

	flag, _ := r.U32("flag")
	assert.Equal(t, uint32(1), flag)
	a, _ := r.U32("inner.a")
	assert.Equal(t, uint32(3), a)
	l3, _ := r.U32("levels[3]")
	assert.Equal(t, uint32(99), l3)
	l0, _ := r.U32("levels[0]")
	assert.Equal(t, uint32(0), l0)

	b.Reset()
	count, _ = NewDataReader(outer, b.Bytes()).U32("count")
	assert.Zero(t, count)
}

func TestBuilderRejectsMismatchedValues(t *testing.T) {
	outer := MustParse(testWGSL).MustStruct("Outer")
	b := NewDataBuilder(outer)

	assert.Error(t, b.SetField("count", float32(1)))
	assert.Error(t, b.SetField("dim", uint32(1)))
	assert.Error(t, b.SetField("inner.b", core.UVec3{}))
	assert.Error(t, b.SetField("inner", uint32(1)))
	assert.Error(t, b.SetField("count", "seven"))
	assert.Error(t, b.SetField("tail[0].a", uint32(1)), "runtime tail lies past the fixed size")
	assert.Panics(t, func() { b.MustSetField("nope", uint32(1)) })
}

func TestReaderShortBuffer(t *testing.T) {
	outer := MustParse(testWGSL).MustStruct("Outer")
	_, err := NewDataReader(outer, make([]byte, 8)).U32("flag")
	assert.Error(t, err)
	_, err = NewDataReader(outer, make([]byte, 80)).U32("dim")
	assert.Error(t, err)
}
