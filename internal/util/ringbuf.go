package util

import "sync"

// RingBuffer keeps the newest cap items pushed to it and is safe for
// concurrent use. Reads return copies, oldest first.
type RingBuffer[T any] struct {
	mu   sync.RWMutex
	slot []T
	next int  // slot the next Push writes
	full bool // every slot holds an item
}

// NewRingBuffer creates a ring buffer holding at least one item.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	return &RingBuffer[T]{slot: make([]T, max(capacity, 1))}
}

func (r *RingBuffer[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slot[r.next] = item
	r.next++
	if r.next == len(r.slot) {
		r.next = 0
		r.full = true
	}
}

func (r *RingBuffer[T]) Snapshot() []T {
	return r.Last(-1)
}

// Last returns the newest n items. n < 0 or n beyond Len returns all.
func (r *RingBuffer[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered := r.slot[:r.next]
	if r.full {
		ordered = append(append([]T(nil), r.slot[r.next:]...), r.slot[:r.next]...)
	}
	if n < 0 || n > len(ordered) {
		n = len(ordered)
	}
	return append([]T(nil), ordered[len(ordered)-n:]...)
}

func (r *RingBuffer[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.slot)
	}
	return r.next
}
