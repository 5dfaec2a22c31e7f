package monitoring

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/sparse-speed/internal/timeutil"
)

// DefaultOverrunLogInterval is the minimum gap between two overrun log lines.
const DefaultOverrunLogInterval = 10 * time.Second

// BudgetStats is a snapshot of FrameBudget counters.
type BudgetStats struct {
	Frames   uint64        `json:"frames"`
	Overruns uint64        `json:"overruns"`
	Worst    time.Duration `json:"worst_ns"`
	Budget   time.Duration `json:"budget_ns"`
}

// FrameBudget counts frames whose processing took longer than the interval
// between frames. Overruns are logged through Logf at most once per
// LogInterval; the counts in the log line cover everything since start.
type FrameBudget struct {
	mu          sync.Mutex
	clock       timeutil.Clock
	budget      time.Duration
	LogInterval time.Duration

	frames, overruns uint64
	worst            time.Duration
	lastLog          time.Time
	logged           bool
}

// NewFrameBudget returns a budget of one frame interval. A nil clock uses
// the real clock.
func NewFrameBudget(budget time.Duration, clock timeutil.Clock) *FrameBudget {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &FrameBudget{clock: clock, budget: budget, LogInterval: DefaultOverrunLogInterval}
}

// SetBudget changes the per-frame budget, for example after a session
// restart at a different frame rate. Counters are kept.
func (b *FrameBudget) SetBudget(budget time.Duration) {
	b.mu.Lock()
	b.budget = budget
	b.mu.Unlock()
}

// Observe records one frame that took elapsed to process and reports whether
// it overran.
func (b *FrameBudget) Observe(elapsed time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames++
	if elapsed > b.worst {
		b.worst = elapsed
	}
	if b.budget <= 0 || elapsed <= b.budget {
		return false
	}
	b.overruns++

	now := b.clock.Now()
	if !b.logged || now.Sub(b.lastLog) >= b.LogInterval {
		Logf("frame processing took %v, budget %v (%s overruns in %s frames)",
			elapsed.Round(time.Microsecond), b.budget.Round(time.Microsecond),
			humanize.Comma(int64(b.overruns)), humanize.Comma(int64(b.frames)))
		b.lastLog = now
		b.logged = true
	}
	return true
}

// Stats returns the counters.
func (b *FrameBudget) Stats() BudgetStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BudgetStats{Frames: b.frames, Overruns: b.overruns, Worst: b.worst, Budget: b.budget}
}
