package refresh

// ring is a fixed-capacity FIFO. Pushing into a full ring drops the oldest
// element.
type ring[T any] struct {
	buf   []T
	head  int
	count int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) Len() int { return r.count }

func (r *ring[T]) Cap() int { return len(r.buf) }

func (r *ring[T]) Push(v T) {
	if r.count == len(r.buf) {
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[(r.head+r.count)%len(r.buf)] = v
	r.count++
}

// Front returns the oldest element.
func (r *ring[T]) Front() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.buf[r.head], true
}

// PopFront removes the oldest element.
func (r *ring[T]) PopFront() {
	if r.count == 0 {
		return
	}
	var zero T
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.count--
}

// Each visits elements oldest first.
func (r *ring[T]) Each(fn func(T)) {
	for i := 0; i < r.count; i++ {
		fn(r.buf[(r.head+i)%len(r.buf)])
	}
}
