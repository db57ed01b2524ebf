// SPDX-License-Identifier: MIT
/*
Package bitint provides the power-of-two helpers used to size transform
blocks, ring buffers and driver buffers.

All functions are allocation free and safe to call from the audio callback.

	// Round a partition size up to the next transform size
	n := bitint.NextPowerOfTwo(200) // 256

	// Ring indices can be wrapped with a mask when the size is a power of two
	if bitint.IsPowerOfTwo(size) {
		mask := size - 1
		_ = (pos + 1) & mask
	}

NextPowerOfTwo subtracts one before taking the bit length so that exact
powers of two are preserved:

	size=8: bits.Len(7) = 3, 1<<3 = 8
	size=9: bits.Len(8) = 4, 1<<4 = 16
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size.
// Zero and negative sizes return 1.
func NextPowerOfTwo(size int) int {
	if size <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two.
//
//	Input  Output  Binary
//	8      true    1000 & 0111 = 0000
//	7      false   0111 & 0110 = 0110
//	0      false   Not positive
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// Log2 returns floor(log2(n)) for n >= 1 and 0 otherwise.
// For powers of two this is the exact exponent.
func Log2(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n)) - 1
}
