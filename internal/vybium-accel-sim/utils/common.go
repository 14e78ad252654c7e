package utils

// IsPowerOfTwo checks if a number is a power of 2
func IsPowerOfTwo(n uint64) bool {
	return n > 0 && (n&(n-1)) == 0
}

// Log2 computes the base-2 logarithm of a power of 2.
// Returns -1 when n is not a power of 2.
func Log2(n uint64) int {
	if !IsPowerOfTwo(n) {
		return -1
	}

	result := 0
	for n > 1 {
		n >>= 1
		result++
	}
	return result
}

// NextPowerOfTwo returns the smallest power of 2 >= n
func NextPowerOfTwo(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	if IsPowerOfTwo(n) {
		return n
	}

	power := uint64(1)
	for power < n {
		power <<= 1
	}
	return power
}

// PrevPowerOfTwo returns the largest power of 2 <= n, or 0 for n == 0
func PrevPowerOfTwo(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	power := uint64(1)
	for power<<1 <= n && power<<1 != 0 {
		power <<= 1
	}
	return power
}

// CeilDiv returns ceil(a / b). A zero divisor yields 0.
func CeilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// AlignUp rounds n up to the next multiple of alignment (a power of 2)
func AlignUp(n, alignment uint64) uint64 {
	if alignment <= 1 {
		return n
	}
	return (n + alignment - 1) &^ (alignment - 1)
}

// MinU64 returns the smaller of a and b
func MinU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// MaxU64 returns the larger of a and b
func MaxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
