package sparse

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nan = math.NaN()

func feed(tr *SequenceTracker, vs ...float64) []Transition {
	out := make([]Transition, 0, len(vs))
	for _, v := range vs {
		out = append(out, tr.Update(v))
	}
	return out
}

func countTrue(bs []bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}

func TestSequenceTracker_InitialState(t *testing.T) {
	tr := NewSequenceTracker(6, 4, 10)
	assert.False(t, tr.Active())
	assert.Equal(t, 11, tr.Idle())
	assert.True(t, math.IsNaN(tr.BestVelocity()))
	assert.Equal(t, []float64{0, 0, 0, 0}, tr.Ledger(nil))
	assert.Equal(t, make([]bool, 6), tr.Membership(nil))
	assert.Len(t, tr.Velocities(nil), 6)
}

func TestSequenceTracker_ThreeDetectionsOpenOneSequence(t *testing.T) {
	tr := NewSequenceTracker(20, 10, 10)
	trs := feed(tr, 0.5, 0.5, 0.5)

	assert.True(t, trs[0].Started)
	assert.False(t, trs[1].Started)
	assert.False(t, trs[2].Started)

	ledger := tr.Ledger(nil)
	assert.Equal(t, 0.5, ledger[len(ledger)-1])
	assert.Equal(t, 0.0, ledger[len(ledger)-2])

	mask := tr.Membership(nil)
	assert.Equal(t, 3, countTrue(mask))
	assert.Equal(t, []bool{true, true, true}, mask[len(mask)-3:])
	assert.True(t, tr.Active())
	assert.Equal(t, 0.5, tr.BestVelocity())
}

func TestSequenceTracker_TimeoutStartsNewSequence(t *testing.T) {
	tr := NewSequenceTracker(20, 10, 10)
	feed(tr, 0.5, 0.5, 0.5)

	var ended *SequenceSummary
	for i := 0; i < 11; i++ {
		out := tr.Update(nan)
		if i < 10 {
			assert.Nil(t, out.Ended, "frame %d", i)
			assert.True(t, tr.Active())
		} else {
			ended = out.Ended
		}
	}
	require.NotNil(t, ended)
	want := SequenceSummary{Peak: 0.5, FirstFrame: 0, LastFrame: 2, Detections: 3}
	if diff := cmp.Diff(want, *ended); diff != "" {
		t.Errorf("ended summary mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, tr.Active())

	out := tr.Update(0.3)
	assert.True(t, out.Started)

	ledger := tr.Ledger(nil)
	assert.Equal(t, []float64{0.5, 0.3}, ledger[len(ledger)-2:])

	mask := tr.Membership(nil)
	assert.Equal(t, 1, countTrue(mask))
	assert.True(t, mask[len(mask)-1])
}

func TestSequenceTracker_GapWithinTimeoutContinues(t *testing.T) {
	tr := NewSequenceTracker(12, 10, 10)
	feed(tr, 0.5, 0.7, 0.6)
	feed(tr, nan, nan, nan, nan, nan)
	out := tr.Update(0.4)
	assert.False(t, out.Started)

	ledger := tr.Ledger(nil)
	assert.Equal(t, 0.7, ledger[len(ledger)-1])
	assert.Equal(t, 0.0, ledger[len(ledger)-2])

	mask := tr.Membership(nil)
	want := []bool{true, true, true, false, false, false, false, false, true}
	assert.Equal(t, want, mask[len(mask)-len(want):])
	assert.Equal(t, 4, countTrue(mask))
}

func TestSequenceTracker_ExactlyTimeoutIsStillActive(t *testing.T) {
	tr := NewSequenceTracker(30, 5, 10)
	tr.Update(1.0)
	for i := 0; i < 10; i++ {
		tr.Update(nan)
	}
	assert.Equal(t, 10, tr.Idle())
	assert.True(t, tr.Active())

	out := tr.Update(2.0)
	assert.False(t, out.Started)
	assert.Equal(t, []float64{0, 0, 0, 0, 2.0}, tr.Ledger(nil))
}

func TestSequenceTracker_LedgerKeepsMostRecent(t *testing.T) {
	tr := NewSequenceTracker(4, 3, 0)
	// a timeout of zero makes every detection after a gap a new sequence
	feed(tr, 1, nan, 2, nan, 3, nan, 4)
	assert.Equal(t, []float64{2, 3, 4}, tr.Ledger(nil))
}

func TestSequenceTracker_AllNoneHasNoBestVelocity(t *testing.T) {
	tr := NewSequenceTracker(8, 10, 10)
	for i := 0; i < 40; i++ {
		out := tr.Update(nan)
		assert.False(t, out.Started)
		assert.Nil(t, out.Ended)
		assert.True(t, math.IsNaN(tr.BestVelocity()), "frame %d", i)
		assert.Len(t, tr.Velocities(nil), 8)
		assert.Len(t, tr.Membership(nil), 8)
	}
	assert.Equal(t, make([]float64, 10), tr.Ledger(nil))
}

func TestSequenceTracker_BestVelocityAgesOut(t *testing.T) {
	tr := NewSequenceTracker(3, 2, 10)
	feed(tr, 0.9, 0.2)
	assert.Equal(t, 0.9, tr.BestVelocity())
	feed(tr, nan, nan)
	assert.Equal(t, 0.2, tr.BestVelocity())
	tr.Update(nan)
	assert.True(t, math.IsNaN(tr.BestVelocity()))
}

func TestSequenceTracker_Flush(t *testing.T) {
	tr := NewSequenceTracker(5, 2, 10)
	assert.Nil(t, tr.Flush())

	feed(tr, nan, 0.4, 0.6)
	got := tr.Flush()
	require.NotNil(t, got)
	assert.Equal(t, SequenceSummary{Peak: 0.6, FirstFrame: 1, LastFrame: 2, Detections: 2}, *got)
	assert.Nil(t, tr.Flush())

	// flushing does not rewrite the ledger
	assert.Equal(t, []float64{0, 0.6}, tr.Ledger(nil))
}
