package metrics

// ring keeps the most recent items up to a fixed capacity, dropping the
// oldest first
type ring[T any] struct {
	items []T
	start int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{items: make([]T, capacity)}
}

func (r *ring[T]) push(item T) {
	if r.size < len(r.items) {
		r.items[(r.start+r.size)%len(r.items)] = item
		r.size++
		return
	}
	r.items[r.start] = item
	r.start = (r.start + 1) % len(r.items)
}

// slice returns a copy ordered oldest to newest
func (r *ring[T]) slice() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.start+i)%len(r.items)]
	}
	return out
}

// updateNewest calls fn on items from newest to oldest until it returns true
func (r *ring[T]) updateNewest(fn func(*T) bool) bool {
	for i := r.size - 1; i >= 0; i-- {
		if fn(&r.items[(r.start+i)%len(r.items)]) {
			return true
		}
	}
	return false
}

func (r *ring[T]) reset() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.start = 0
	r.size = 0
}
