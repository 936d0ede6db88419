package core

import "math/bits"

func IsPowerOfTwo(n uint32) bool { return n != 0 && n&(n-1) == 0 }

// IsPowerOfFour: a power of two whose single bit sits on an even position.
func IsPowerOfFour(n uint32) bool { return IsPowerOfTwo(n) && n&0x55555555 != 0 }

// Log2 of a power of two.
func Log2(n uint32) uint32 { return uint32(bits.TrailingZeros32(n)) }

// Log4 of a power of four.
func Log4(n uint32) uint32 { return Log2(n) / 2 }

func DivCeil(a, b uint32) uint32 { return (a + b - 1) / b }

func AlignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) / align * align
}
