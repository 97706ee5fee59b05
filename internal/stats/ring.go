package stats

// Ring is a bounded FIFO buffer. Once full, each Push evicts the oldest item
// in O(1). The zero value is not usable; create one with NewRing.
//
// Ring is not safe for concurrent use; callers provide their own locking.
type Ring[T any] struct {
	data []T
	pos  int
	full bool
}

// NewRing returns a Ring holding at most capacity items. A non-positive
// capacity is treated as 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{data: make([]T, capacity)}
}

// Push appends v, evicting the oldest item if the ring is full.
func (r *Ring[T]) Push(v T) {
	r.data[r.pos] = v
	r.pos++
	if r.pos >= len(r.data) {
		r.pos = 0
		r.full = true
	}
}

// Len returns the number of items currently held.
func (r *Ring[T]) Len() int {
	if r.full {
		return len(r.data)
	}
	return r.pos
}

// Cap returns the maximum number of items the ring holds.
func (r *Ring[T]) Cap() int { return len(r.data) }

// Items returns a copy of the held items, oldest first.
func (r *Ring[T]) Items() []T {
	return r.Last(r.Len())
}

// Last returns a copy of the n most recent items, oldest first. n is clamped
// to Len.
func (r *Ring[T]) Last(n int) []T {
	n = min(max(n, 0), r.Len())
	out := make([]T, n)
	if n == 0 {
		return out
	}
	// Index of the oldest wanted item.
	start := (r.pos - n + len(r.data)) % len(r.data)
	k := copy(out, r.data[start:min(start+n, len(r.data))])
	copy(out[k:], r.data[:n-k])
	return out
}
