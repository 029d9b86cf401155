package world

// History is a fixed-capacity append buffer. Once full, each push drops
// the oldest entry. Capacity is fixed at construction.
type History[T any] struct {
	capacity int
	items    []T
}

// NewHistory creates an empty history with the given capacity.
func NewHistory[T any](capacity int) *History[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &History[T]{
		capacity: capacity,
		items:    make([]T, 0, capacity),
	}
}

// Push appends one item, evicting the oldest when over capacity.
func (h *History[T]) Push(item T) {
	h.items = append(h.items, item)
	if len(h.items) > h.capacity {
		copy(h.items, h.items[1:])
		h.items = h.items[:len(h.items)-1]
	}
}

// Snapshot returns the current contents in insertion order as an
// independent copy.
func (h *History[T]) Snapshot() []T {
	return append([]T(nil), h.items...)
}

// Len returns the number of stored items.
func (h *History[T]) Len() int {
	return len(h.items)
}

// Capacity returns the fixed capacity.
func (h *History[T]) Capacity() int {
	return h.capacity
}
