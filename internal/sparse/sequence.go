package sparse

import "math"

// SequenceSummary describes one completed (or flushed) sequence.
type SequenceSummary struct {
	Peak       float64 `json:"peak_mps"`
	FirstFrame int64   `json:"first_frame"`
	LastFrame  int64   `json:"last_frame"`
	Detections int     `json:"detections"`
}

// Transition reports what changed in the sequence state machine on a frame.
type Transition struct {
	// Started is set when this frame opened a new ledger slot.
	Started bool
	// Ended is set on the frame the idle counter first passes the timeout.
	Ended *SequenceSummary
}

// SequenceTracker debounces per-frame velocities into sequences. It is
// active while the idle counter is at most timeout and idle otherwise; every
// idle -> active transition opens a new ledger slot.
type SequenceTracker struct {
	timeout int
	idle    int
	frame   int64

	velocities *Ring[float64]
	member     *Ring[bool]
	ledger     *Ring[float64]

	open    bool
	current SequenceSummary
}

// NewSequenceTracker returns a tracker with historyFrames slots of velocity
// history, a ledger of savedSequences peaks and an idle timeout in frames.
func NewSequenceTracker(historyFrames, savedSequences, timeout int) *SequenceTracker {
	return &SequenceTracker{
		timeout:    timeout,
		idle:       timeout + 1,
		velocities: NewFilledRing(historyFrames, math.NaN()),
		member:     NewFilledRing(historyFrames, false),
		ledger:     NewFilledRing(savedSequences, 0.0),
	}
}

// Update advances the state machine by one frame. v is NaN for no detection.
func (t *SequenceTracker) Update(v float64) Transition {
	var tr Transition
	t.member.Push(false)

	if math.IsNaN(v) {
		t.idle++
		if t.open && t.idle == t.timeout+1 {
			closed := t.current
			tr.Ended = &closed
			t.open = false
		}
	} else {
		if t.idle > t.timeout {
			t.ledger.Push(v)
			t.member.Fill(false)
			t.open = true
			t.current = SequenceSummary{Peak: v, FirstFrame: t.frame}
			tr.Started = true
		}
		t.idle = 0
		t.member.SetNewest(true)

		if peak, _ := t.ledger.Newest(); v > peak {
			t.ledger.SetNewest(v)
		}
		t.current.Peak, _ = t.ledger.Newest()
		t.current.LastFrame = t.frame
		t.current.Detections++
	}

	t.velocities.Push(v)
	t.frame++
	return tr
}

// Flush closes the active sequence, if any, and returns its summary. It is
// meant for session shutdown and does not touch the ledger.
func (t *SequenceTracker) Flush() *SequenceSummary {
	if !t.open {
		return nil
	}
	t.open = false
	closed := t.current
	return &closed
}

// Active reports whether a sequence is ongoing.
func (t *SequenceTracker) Active() bool { return t.idle <= t.timeout }

// Idle returns the number of frames since the last detection.
func (t *SequenceTracker) Idle() int { return t.idle }

// BestVelocity returns the largest defined velocity in the history, or NaN
// when every slot is empty.
func (t *SequenceTracker) BestVelocity() float64 {
	best := math.NaN()
	t.velocities.Do(func(_ int, v float64) {
		if !math.IsNaN(v) && (math.IsNaN(best) || v > best) {
			best = v
		}
	})
	return best
}

// Velocities copies the velocity history, oldest first.
func (t *SequenceTracker) Velocities(dst []float64) []float64 { return t.velocities.Snapshot(dst) }

// Membership copies the active-sequence mask, aligned with Velocities.
func (t *SequenceTracker) Membership(dst []bool) []bool { return t.member.Snapshot(dst) }

// Ledger copies the saved sequence peaks, oldest first.
func (t *SequenceTracker) Ledger(dst []float64) []float64 { return t.ledger.Snapshot(dst) }
