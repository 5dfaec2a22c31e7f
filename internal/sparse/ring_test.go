package sparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_PushEvictsOldest(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 3; i++ {
		_, evicted := r.Push(i)
		assert.False(t, evicted)
	}
	assert.True(t, r.Full())

	old, evicted := r.Push(4)
	assert.True(t, evicted)
	assert.Equal(t, 1, old)
	assert.Equal(t, []int{2, 3, 4}, r.Snapshot(nil))
	assert.Equal(t, 3, r.Len())
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := NewRing[float64](0)
	assert.Equal(t, 1, r.Capacity)
	r.Push(1)
	r.Push(2)
	assert.Equal(t, []float64{2}, r.Snapshot(nil))
}

func TestRing_NewestAndSetNewest(t *testing.T) {
	r := NewRing[string](2)
	_, ok := r.Newest()
	assert.False(t, ok)
	r.SetNewest("ignored")
	assert.Equal(t, 0, r.Len())

	r.Push("a")
	r.Push("b")
	r.Push("c")
	v, ok := r.Newest()
	require.True(t, ok)
	assert.Equal(t, "c", v)

	r.SetNewest("C")
	assert.Equal(t, []string{"b", "C"}, r.Snapshot(nil))
}

func TestRing_FillResetsOrder(t *testing.T) {
	r := NewRing[bool](4)
	r.Push(true)
	r.Push(true)
	r.Fill(false)
	assert.Equal(t, 4, r.Len())
	assert.Equal(t, []bool{false, false, false, false}, r.Snapshot(nil))

	r.Push(true)
	assert.Equal(t, []bool{false, false, false, true}, r.Snapshot(nil))
}

func TestRing_AtPanicsOutOfRange(t *testing.T) {
	r := NewFilledRing(2, 7)
	assert.Equal(t, 7, r.At(1))
	assert.Panics(t, func() { r.At(2) })
	assert.Panics(t, func() { r.At(-1) })
}

func TestRing_DoVisitsOldestFirst(t *testing.T) {
	r := NewRing[int](3)
	for i := 0; i < 5; i++ {
		r.Push(i)
	}
	var got []int
	r.Do(func(i int, v int) {
		assert.Equal(t, len(got), i)
		got = append(got, v)
	})
	assert.Equal(t, []int{2, 3, 4}, got)
}

func TestRing_SnapshotReusesDst(t *testing.T) {
	r := NewFilledRing(3, 1.5)
	dst := make([]float64, 0, 8)
	out := r.Snapshot(dst)
	assert.Len(t, out, 3)
	assert.Equal(t, 8, cap(out))
}

func TestRing_LengthConstantOncePrefilled(t *testing.T) {
	r := NewFilledRing(5, 0.0)
	for i := 0; i < 17; i++ {
		r.Push(float64(i))
		assert.Equal(t, 5, r.Len())
	}
	assert.Equal(t, []float64{12, 13, 14, 15, 16}, r.Snapshot(nil))
}

func TestSpectralHistory_TemporalMax(t *testing.T) {
	h := NewSpectralHistory(3, 4)
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, 4, h.Bins())
	assert.Equal(t, []float64{0, 0, 0, 0}, h.TemporalMax(nil))

	h.Push([]float64{1, 0, 0, 5})
	h.Push([]float64{0, 2, 0, 1})
	h.Push([]float64{0, 0, 3, 1})
	assert.Equal(t, []float64{1, 2, 3, 5}, h.TemporalMax(nil))

	// the first spectrum ages out
	h.Push([]float64{0, 0, 0, 0})
	assert.Equal(t, []float64{0, 2, 3, 1}, h.TemporalMax(nil))
	assert.Equal(t, 3, h.Len())
}

func TestSpectralHistory_PushCopies(t *testing.T) {
	h := NewSpectralHistory(2, 2)
	in := []float64{4, 4}
	h.Push(in)
	in[0] = 100
	assert.Equal(t, []float64{4, 4}, h.TemporalMax(nil))
}
