package sparse

// Ring is a fixed-capacity FIFO buffer. Push never fails: once the buffer is
// full the oldest item is evicted. Index 0 is always the oldest item.
type Ring[T any] struct {
	Items    []T
	Capacity int

	head  int // slot holding the oldest item
	count int
}

// NewRing returns an empty ring with the given capacity. Capacities below one
// are raised to one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		Items:    make([]T, capacity),
		Capacity: capacity,
	}
}

// NewFilledRing returns a ring that is already full of fill, so its length is
// constant from the first frame.
func NewFilledRing[T any](capacity int, fill T) *Ring[T] {
	r := NewRing[T](capacity)
	r.Fill(fill)
	return r
}

// Len returns the number of items held.
func (r *Ring[T]) Len() int {
	return r.count
}

// Full reports whether the next Push will evict.
func (r *Ring[T]) Full() bool {
	return r.count == r.Capacity
}

// Push appends v as the newest item. When the ring is full the oldest item is
// evicted and returned with evicted set to true.
func (r *Ring[T]) Push(v T) (old T, evicted bool) {
	if r.count < r.Capacity {
		r.Items[(r.head+r.count)%r.Capacity] = v
		r.count++
		return old, false
	}
	old = r.Items[r.head]
	r.Items[r.head] = v
	r.head = (r.head + 1) % r.Capacity
	return old, true
}

// At returns the i-th item, oldest first. It panics when i is out of range,
// like a slice index would.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.count {
		panic("sparse: ring index out of range")
	}
	return r.Items[(r.head+i)%r.Capacity]
}

// Newest returns the most recently pushed item and false when empty.
func (r *Ring[T]) Newest() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.Items[(r.head+r.count-1)%r.Capacity], true
}

// SetNewest overwrites the most recently pushed item. It is a no-op on an
// empty ring.
func (r *Ring[T]) SetNewest(v T) {
	if r.count == 0 {
		return
	}
	r.Items[(r.head+r.count-1)%r.Capacity] = v
}

// Fill makes the ring full with every slot set to v.
func (r *Ring[T]) Fill(v T) {
	for i := range r.Items {
		r.Items[i] = v
	}
	r.head = 0
	r.count = r.Capacity
}

// Do calls f for each item, oldest first.
func (r *Ring[T]) Do(f func(i int, v T)) {
	for i := 0; i < r.count; i++ {
		f(i, r.Items[(r.head+i)%r.Capacity])
	}
}

// Snapshot copies the items, oldest first, into dst (grown if needed) and
// returns it.
func (r *Ring[T]) Snapshot(dst []T) []T {
	if cap(dst) < r.count {
		dst = make([]T, r.count)
	}
	dst = dst[:r.count]
	n := copy(dst, r.Items[r.head:min(r.head+r.count, r.Capacity)])
	copy(dst[n:], r.Items[:r.count-n])
	return dst
}

// SpectralHistory keeps the last Capacity spectra in preallocated rows so that
// pushing a frame never allocates.
type SpectralHistory struct {
	rows *Ring[[]float64]
	bins int
}

// NewSpectralHistory returns a history of capacity zero spectra of the given
// bin count.
func NewSpectralHistory(capacity, bins int) *SpectralHistory {
	rows := NewRing[[]float64](capacity)
	for i := 0; i < rows.Capacity; i++ {
		rows.Push(make([]float64, bins))
	}
	return &SpectralHistory{rows: rows, bins: bins}
}

// Len returns the number of spectra held, which is always the capacity.
func (h *SpectralHistory) Len() int { return h.rows.Len() }

// Bins returns the spectrum length.
func (h *SpectralHistory) Bins() int { return h.bins }

// Push copies spectrum into the slot of the oldest frame and makes it the
// newest.
func (h *SpectralHistory) Push(spectrum []float64) {
	oldest := h.rows.At(0)
	copy(oldest, spectrum)
	h.rows.Push(oldest)
}

// TemporalMax writes the per-bin maximum across all held spectra into dst.
func (h *SpectralHistory) TemporalMax(dst []float64) []float64 {
	if cap(dst) < h.bins {
		dst = make([]float64, h.bins)
	}
	dst = dst[:h.bins]
	copy(dst, h.rows.At(0))
	for i := 1; i < h.rows.Len(); i++ {
		row := h.rows.At(i)
		for j, v := range row {
			if v > dst[j] {
				dst[j] = v
			}
		}
	}
	return dst
}
