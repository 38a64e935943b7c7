package util

import "runtime"

// ReasonableParallelism picks a practical default worker count for a
// background task executor, based on available CPU parallelism.
// Heuristic: nextPow2(2*GOMAXPROCS), clamped to [1..64].
func ReasonableParallelism() int {
	p := runtime.GOMAXPROCS(0)
	if p < 1 {
		p = 1
	}
	n := int(NextPow2(uint64(p * 2)))
	if n < 1 {
		n = 1
	}
	if n > 64 {
		n = 64
	}
	return n
}
