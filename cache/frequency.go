package cache

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kvtier/tiercache/internal/util"
)

// frequencyBuffer is a power-of-two ring buffer over recently sampled
// tokens of type T. Slot selection is lock-free (a bare atomic increment);
// the write into that slot takes a short mutex rather than an unsynchronized
// slice write, so that -race stays quiet over token types that are
// themselves pointers. Losing a race for the same slot just overwrites the
// other writer's sample, which is fine for approximate sampling.
// getFrequencies takes a point-in-time snapshot and aggregates counts per
// distinct non-zero-value token, returned ascending by count
// (least-frequent first).
type frequencyBuffer[T comparable] struct {
	current atomic.Uint64
	mask    uint64

	mu     sync.Mutex
	buffer []T

	zero T
}

// newFrequencyBuffer rounds capacity up to the next power of two.
func newFrequencyBuffer[T comparable](capacity uint64) *frequencyBuffer[T] {
	cap2 := util.NextPow2(capacity)
	return &frequencyBuffer[T]{
		mask:   cap2 - 1,
		buffer: make([]T, cap2),
	}
}

// insertRecord records a single access sample. Concurrent calls may race on
// the same slot; the loser's write is simply overwritten.
func (f *frequencyBuffer[T]) insertRecord(t T) {
	idx := f.current.Add(1) & f.mask
	f.mu.Lock()
	f.buffer[idx] = t
	f.mu.Unlock()
}

// frequency pairs a sampled token with how many times it was observed in
// the current buffer snapshot.
type frequency[T comparable] struct {
	Token T
	Count uint64
}

// getFrequencies takes a snapshot of the buffer and returns the distinct
// non-default tokens sorted ascending by observed count.
func (f *frequencyBuffer[T]) getFrequencies() []frequency[T] {
	counts := make(map[T]uint64)

	f.mu.Lock()
	snapshot := make([]T, len(f.buffer))
	copy(snapshot, f.buffer)
	f.mu.Unlock()

	for _, entry := range snapshot {
		if entry == f.zero {
			continue
		}
		counts[entry]++
	}

	out := make([]frequency[T], 0, len(counts))
	for tok, n := range counts {
		out = append(out, frequency[T]{Token: tok, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count < out[j].Count })
	return out
}
