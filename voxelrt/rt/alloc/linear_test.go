package alloc

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstFitAllocator(t *testing.T) {
	a := NewFirstFitAllocator(100000)

	a1, err := a.Allocate(200)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), a1.Size)
	assert.Equal(t, uint64(0), a1.Offset)
	assert.Equal(t, uint64(1), a1.ID)

	a2, err := a.Allocate(300)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), a2.Offset)

	a3, err := a.Allocate(100)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), a3.Offset)

	got, ok := a.Lookup(a2.ID)
	require.True(t, ok)
	assert.Equal(t, a2, got)

	require.NoError(t, a.Deallocate(a2.ID))

	// The freed hole is reused.
	a4, err := a.Allocate(250)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), a4.Offset)

	a.Reset()
	_, ok = a.Lookup(a1.ID)
	assert.False(t, ok)
	again, err := a.Allocate(100)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), again.Offset)
	assert.Equal(t, uint64(1), again.ID, "reset rewinds ids")
}

func TestFirstFitTakesFirstBlock(t *testing.T) {
	a := NewFirstFitAllocator(1000)
	a.free = []FreeBlock{{0, 200}, {200, 300}, {500, 100}}

	got, err := a.Allocate(100)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got.Offset)
	assert.Equal(t, FreeBlock{Offset: 100, Size: 100}, a.free[0])
}

func TestBestFitPicksSmallestThatFits(t *testing.T) {
	a := NewBestFitAllocator(1000)
	a.free = []FreeBlock{{0, 300}, {400, 100}, {600, 250}}

	got, err := a.Allocate(120)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), got.Offset)
	assert.Equal(t, []FreeBlock{{0, 300}, {400, 100}, {720, 130}}, a.FreeBlocks())
}

func TestBestFitTieGoesToFirstSeen(t *testing.T) {
	a := NewBestFitAllocator(1000)
	a.free = []FreeBlock{{0, 50}, {100, 200}, {400, 200}}

	got, err := a.Allocate(150)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got.Offset)
}

func TestCoalesceMergesNeighbours(t *testing.T) {
	for name, s := range map[string]Strategy{
		"first_fit": NewFirstFitAllocator(300),
		"best_fit":  NewBestFitAllocator(300),
	} {
		t.Run(name, func(t *testing.T) {
			A, _ := s.Allocate(100)
			B, _ := s.Allocate(100)
			_, _ = s.Allocate(100)

			require.NoError(t, s.Deallocate(B.ID))
			require.NoError(t, s.Deallocate(A.ID))

			assert.Equal(t, []FreeBlock{{Offset: 0, Size: 200}}, s.FreeBlocks())

			AB, err := s.Allocate(A.Size + B.Size)
			require.NoError(t, err)
			assert.Equal(t, A.Offset, AB.Offset)
			require.NoError(t, s.Validate())
		})
	}
}

func TestCleanupCompactsByOffset(t *testing.T) {
	const total = 1000
	a := NewFirstFitAllocator(total)
	A, _ := a.Allocate(100)
	B, _ := a.Allocate(200)
	C, _ := a.Allocate(150)

	require.NoError(t, a.Deallocate(B.ID))
	a.Cleanup()

	gotA, _ := a.Lookup(A.ID)
	gotC, _ := a.Lookup(C.ID)
	assert.Equal(t, uint64(0), gotA.Offset)
	assert.Equal(t, uint64(100), gotC.Offset)
	assert.Equal(t, []FreeBlock{{Offset: 250, Size: total - 250}}, a.FreeBlocks())
	require.NoError(t, a.Validate())
}

func TestCleanupKeepsOffsetOrderNotIDOrder(t *testing.T) {
	a := NewFirstFitAllocator(1000)
	a1, _ := a.Allocate(100)
	a2, _ := a.Allocate(200)
	a3, _ := a.Allocate(150)

	require.NoError(t, a.Deallocate(a2.ID))
	a4, err := a.Allocate(150)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), a4.Offset)

	a.Cleanup()

	l1, _ := a.Lookup(a1.ID)
	l4, _ := a.Lookup(a4.ID)
	l3, _ := a.Lookup(a3.ID)
	assert.Equal(t, uint64(0), l1.Offset)
	assert.Equal(t, uint64(100), l4.Offset)
	assert.Equal(t, uint64(250), l3.Offset)
}

func TestCleanupOfFullPoolLeavesNoFreeBlock(t *testing.T) {
	a := NewBestFitAllocator(300)
	for i := 0; i < 3; i++ {
		_, err := a.Allocate(100)
		require.NoError(t, err)
	}
	a.Cleanup()
	assert.Empty(t, a.FreeBlocks())
	require.NoError(t, a.Validate())
}

func TestAllocateTooLargeLeavesStateUntouched(t *testing.T) {
	a := NewFirstFitAllocator(500)
	_, err := a.Allocate(200)
	require.NoError(t, err)
	before := a.FreeBlocks()

	_, err = a.Allocate(301)
	assert.ErrorIs(t, err, ErrNotEnoughMemory)
	assert.Equal(t, before, a.FreeBlocks())
	assert.Len(t, a.Allocations(), 1)

	next, err := a.Allocate(10)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next.ID, "failed allocations do not consume ids")
}

func TestUnknownID(t *testing.T) {
	a := NewFirstFitAllocator(100)
	_, ok := a.Lookup(42)
	assert.False(t, ok)
	assert.ErrorIs(t, a.Deallocate(42), ErrIDNotFound)
	_, err := a.Resize(42, 10)
	assert.ErrorIs(t, err, ErrIDNotFound)
}

func TestResize(t *testing.T) {
	t.Run("shrink in place returns the tail", func(t *testing.T) {
		a := NewFirstFitAllocator(1000)
		x, _ := a.Allocate(400)
		y, _ := a.Allocate(100)

		got, err := a.Resize(x.ID, 150)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), got.Offset)
		assert.Equal(t, uint64(150), got.Size)
		assert.Equal(t, []FreeBlock{{150, 250}, {500, 500}}, a.FreeBlocks())

		_, err = a.Resize(y.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, []FreeBlock{{150, 850}}, a.FreeBlocks())
		require.NoError(t, a.Validate())
	})

	t.Run("grow in place into the next free block", func(t *testing.T) {
		a := NewFirstFitAllocator(1000)
		x, _ := a.Allocate(100)

		got, err := a.Resize(x.ID, 300)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), got.Offset)
		assert.Equal(t, uint64(300), got.Size)
		assert.Equal(t, []FreeBlock{{300, 700}}, a.FreeBlocks())
	})

	t.Run("grow by moving", func(t *testing.T) {
		a := NewFirstFitAllocator(1000)
		x, _ := a.Allocate(100)
		_, _ = a.Allocate(100)

		got, err := a.Resize(x.ID, 250)
		require.NoError(t, err)
		assert.Equal(t, uint64(200), got.Offset)
		assert.Equal(t, []FreeBlock{{0, 100}, {450, 550}}, a.FreeBlocks())
		require.NoError(t, a.Validate())
	})

	t.Run("no room", func(t *testing.T) {
		a := NewFirstFitAllocator(300)
		x, _ := a.Allocate(100)
		_, _ = a.Allocate(150)

		_, err := a.Resize(x.ID, 200)
		assert.ErrorIs(t, err, ErrResizeNoSpace)
		got, _ := a.Lookup(x.ID)
		assert.Equal(t, uint64(100), got.Size)
		require.NoError(t, a.Validate())
	})

	t.Run("same size is a no-op", func(t *testing.T) {
		a := NewBestFitAllocator(300)
		x, _ := a.Allocate(100)
		got, err := a.Resize(x.ID, 100)
		require.NoError(t, err)
		assert.Equal(t, x, got)
	})
}

// Random allocate/deallocate/resize traffic must keep free blocks and live
// allocations tiling the pool exactly.
func TestCoverageInvariantUnderRandomTraffic(t *testing.T) {
	for _, kind := range []Kind{KindFirstFit, KindBestFit} {
		t.Run(string(kind), func(t *testing.T) {
			const total = 1 << 16
			s, err := New(kind, total)
			require.NoError(t, err)

			rng := rand.New(rand.NewSource(7))
			var live []uint64
			for step := 0; step < 5000; step++ {
				switch op := rng.Intn(10); {
				case op < 5:
					a, err := s.Allocate(uint64(rng.Intn(2048) + 1))
					if err == nil {
						live = append(live, a.ID)
					} else {
						assert.ErrorIs(t, err, ErrNotEnoughMemory)
					}
				case op < 8 && len(live) > 0:
					i := rng.Intn(len(live))
					require.NoError(t, s.Deallocate(live[i]))
					live = append(live[:i], live[i+1:]...)
				case op < 9 && len(live) > 0:
					_, _ = s.Resize(live[rng.Intn(len(live))], uint64(rng.Intn(4096)+1))
				default:
					s.Cleanup()
				}
				if err := s.Validate(); err != nil {
					t.Fatalf("step %d: %v", step, err)
				}
			}

			var used uint64
			for _, a := range s.Allocations() {
				used += a.Size
			}
			assert.Equal(t, uint64(total), used+s.FreeSize())
		})
	}
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New("worst_fit", 10)
	assert.Error(t, err)
}
