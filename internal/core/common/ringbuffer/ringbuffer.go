// Package ringbuffer provides a bounded FIFO buffer that evicts the oldest
// entry once capacity is reached. It is not safe for concurrent use; owners
// guard it with their own lock.
package ringbuffer

type Ring[T any] struct {
	items []T
	head  int
	size  int
}

func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

func (r *Ring[T]) Cap() int { return len(r.items) }

func (r *Ring[T]) Len() int { return r.size }

// Push appends v and returns the evicted entry, if any.
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	if r.size == len(r.items) {
		evicted = r.items[r.head]
		r.items[r.head] = v
		r.head = (r.head + 1) % len(r.items)
		return evicted, true
	}
	r.items[(r.head+r.size)%len(r.items)] = v
	r.size++
	return evicted, false
}

// Oldest returns the entry at the front without removing it.
func (r *Ring[T]) Oldest() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[r.head], true
}

// PopOldest removes and returns the entry at the front.
func (r *Ring[T]) PopOldest() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	v := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.size--
	return v, true
}

// DropWhile pops entries from the front while pred holds, stopping after
// max removals when max > 0. It returns the number removed.
func (r *Ring[T]) DropWhile(pred func(T) bool, max int) int {
	removed := 0
	for r.size > 0 && (max <= 0 || removed < max) {
		if !pred(r.items[r.head]) {
			break
		}
		r.PopOldest()
		removed++
	}
	return removed
}

// At returns the i-th entry counting from the oldest.
func (r *Ring[T]) At(i int) T {
	return r.items[(r.head+i)%len(r.items)]
}

// Set replaces the i-th entry counting from the oldest.
func (r *Ring[T]) Set(i int, v T) {
	r.items[(r.head+i)%len(r.items)] = v
}

// Slice copies the contents oldest first.
func (r *Ring[T]) Slice() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.At(i)
	}
	return out
}

// Newest walks entries newest first until fn returns false.
func (r *Ring[T]) Newest(fn func(T) bool) {
	for i := r.size - 1; i >= 0; i-- {
		if !fn(r.At(i)) {
			return
		}
	}
}

func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
}
