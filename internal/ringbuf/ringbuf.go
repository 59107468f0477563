// Package ringbuf provides a bounded FIFO window backed by a preallocated
// circular buffer. Pushing into a full window overwrites the oldest element,
// so memory stays fixed no matter how long the stream runs.
package ringbuf

// Window is a fixed-capacity FIFO. It is not safe for concurrent use; each
// tracker owns its windows and is driven from a single goroutine.
type Window[T any] struct {
	buf   []T
	head  int // index of the oldest element
	count int
}

// New creates a window holding at most capacity elements.
// Capacity below 1 is clamped to 1.
func New[T any](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Window[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when the window is full.
// Returns the evicted element and true if an eviction happened.
func (w *Window[T]) Push(v T) (evicted T, ok bool) {
	if w.count < len(w.buf) {
		w.buf[(w.head+w.count)%len(w.buf)] = v
		w.count++
		return evicted, false
	}
	evicted = w.buf[w.head]
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
	return evicted, true
}

// Values returns a copy of the contents, oldest first.
func (w *Window[T]) Values() []T {
	return w.AppendTo(make([]T, 0, w.count))
}

// AppendTo appends the contents, oldest first, to dst and returns it.
// Lets hot paths reuse a scratch slice.
func (w *Window[T]) AppendTo(dst []T) []T {
	for i := 0; i < w.count; i++ {
		dst = append(dst, w.buf[(w.head+i)%len(w.buf)])
	}
	return dst
}

// At returns the i-th element in chronological order (0 = oldest).
func (w *Window[T]) At(i int) T {
	return w.buf[(w.head+i)%len(w.buf)]
}

// Last returns the newest element, or the zero value and false when empty.
func (w *Window[T]) Last() (T, bool) {
	var zero T
	if w.count == 0 {
		return zero, false
	}
	return w.At(w.count - 1), true
}

// Len returns the current number of elements.
func (w *Window[T]) Len() int { return w.count }

// Cap returns the fixed capacity.
func (w *Window[T]) Cap() int { return len(w.buf) }

// Full reports whether the next Push will evict.
func (w *Window[T]) Full() bool { return w.count == len(w.buf) }

// Reset empties the window without releasing its storage.
func (w *Window[T]) Reset() {
	var zero T
	for i := range w.buf {
		w.buf[i] = zero
	}
	w.head = 0
	w.count = 0
}
