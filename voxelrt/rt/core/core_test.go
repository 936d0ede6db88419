package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPowerChecks(t *testing.T) {
	for _, n := range []uint32{1, 4, 16, 64, 256, 1024} {
		assert.True(t, IsPowerOfFour(n), "%d", n)
	}
	for _, n := range []uint32{0, 2, 8, 32, 12, 100} {
		assert.False(t, IsPowerOfFour(n), "%d", n)
	}
	assert.True(t, IsPowerOfTwo(32))
	assert.False(t, IsPowerOfTwo(0))
	assert.False(t, IsPowerOfTwo(24))

	assert.Equal(t, uint32(4), Log2(16))
	assert.Equal(t, uint32(3), Log4(64))
	assert.Equal(t, uint32(3), DivCeil(9, 4))
	assert.Equal(t, uint64(24), AlignUp(13, 12))
}

func TestUVec3(t *testing.T) {
	d := UVec3{4, 3, 2}
	assert.Equal(t, uint64(24), d.Volume())
	assert.Equal(t, uint64(1+2*4+1*12), UVec3{1, 2, 1}.Index(d))
	assert.True(t, UVec3{4, 3, 1}.FitsIn(d))
	assert.False(t, UVec3{5, 1, 1}.FitsIn(d))
	assert.True(t, UVec3{0, 1, 1}.AnyZero())
	assert.True(t, Splat(8).IsCube())
	assert.Equal(t, "(4,3,2)", d.String())
	assert.True(t, UVec3{9, 9, 0}.Less(UVec3{0, 0, 1}))
}
