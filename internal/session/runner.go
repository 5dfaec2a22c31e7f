// Package session runs one sensor session: it pulls frames from a sensor
// client, runs them through the sparse processor and fans the results out to
// display and storage consumers without ever blocking on them.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/sparse-speed/internal/config"
	"github.com/banshee-data/sparse-speed/internal/monitoring"
	"github.com/banshee-data/sparse-speed/internal/sensor"
	"github.com/banshee-data/sparse-speed/internal/sparse"
	"github.com/banshee-data/sparse-speed/internal/timeutil"
)

// Update is what consumers receive after each processed frame.
type Update struct {
	Result *sparse.Result
	Frame  sensor.FrameInfo

	UpdateRate float64
	// BinVelocities maps spectrum bins to m/s. Shared; do not modify.
	BinVelocities []float64
	// Display is the display configuration in effect for this frame.
	Display config.Display
}

// Recorder persists sessions and completed sequences. Calls happen on a
// goroutine of their own, never on the acquisition loop.
type Recorder interface {
	StartSession(ctx context.Context, cfg sensor.Config, info sensor.SessionInfo, updateRate float64) error
	RecordSequence(ctx context.Context, s sparse.SequenceSummary) error
	EndSession(ctx context.Context) error
}

// Stats are the runner's counters.
type Stats struct {
	Frames   uint64                 `json:"frames"`
	Missed   uint64                 `json:"missed"`
	BadFrame uint64                 `json:"bad_frames"`
	Rejected uint64                 `json:"rejected"`
	Dropped  map[string]uint64      `json:"dropped"`
	Budget   monitoring.BudgetStats `json:"budget"`
}

// Options configures a Runner.
type Options struct {
	Sensor   sensor.Config
	Config   *config.ProcessingConfig
	Recorder Recorder
	Clock    timeutil.Clock
	// SequenceQueue bounds completed sequences awaiting the recorder.
	SequenceQueue int
}

// Runner owns the acquisition loop for one sensor client.
type Runner struct {
	client   sensor.Client
	sensor   sensor.Config
	recorder Recorder
	clock    timeutil.Clock
	budget   *monitoring.FrameBudget
	seqQueue int

	// mu guards cfg, proc and latest. The loop holds it for the duration of
	// Process so configuration changes land between frames.
	mu     sync.Mutex
	cfg    *config.ProcessingConfig
	proc   *sparse.Processor
	info   sensor.SessionInfo
	latest *Update

	subsMu sync.Mutex
	subs   map[string]*subscriber

	frames   atomic.Uint64
	missed   atomic.Uint64
	badFrame atomic.Uint64
	rejected atomic.Uint64
}

type subscriber struct {
	ch      chan *Update
	dropped atomic.Uint64
}

// NewRunner returns a runner for client.
func NewRunner(client sensor.Client, opts Options) *Runner {
	if opts.Config == nil {
		opts.Config = config.DefaultProcessingConfig()
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.SequenceQueue <= 0 {
		opts.SequenceQueue = 16
	}
	return &Runner{
		client:   client,
		sensor:   opts.Sensor,
		recorder: opts.Recorder,
		clock:    opts.Clock,
		budget:   monitoring.NewFrameBudget(0, opts.Clock),
		seqQueue: opts.SequenceQueue,
		cfg:      opts.Config.Clone(),
		subs:     make(map[string]*subscriber),
	}
}

// Subscribe registers a consumer. Updates are dropped for it whenever its
// buffer is full. Subscriptions must be made before Run; the channel is
// closed when Run returns. Runners are single use.
func (r *Runner) Subscribe(name string, buffer int) <-chan *Update {
	if buffer < 1 {
		buffer = 1
	}
	s := &subscriber{ch: make(chan *Update, buffer)}
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	if old, ok := r.subs[name]; ok {
		close(old.ch)
	}
	r.subs[name] = s
	return s.ch
}

func (r *Runner) publish(u *Update) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, s := range r.subs {
		select {
		case s.ch <- u:
		default:
			s.dropped.Add(1)
		}
	}
}

func (r *Runner) closeSubscribers() {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, s := range r.subs {
		close(s.ch)
	}
}

// Run sets up the session and processes frames until ctx is cancelled or the
// source ends. Both are a clean exit. Any open sequence is flushed to the
// recorder before returning.
func (r *Runner) Run(ctx context.Context) error {
	defer r.closeSubscribers()

	info, err := r.client.SetupSession(ctx, r.sensor)
	if err != nil {
		return fmt.Errorf("setup session: %w", err)
	}
	defer func() {
		if derr := r.client.Disconnect(); derr != nil {
			monitoring.Logf("sensor disconnect: %v", derr)
		}
	}()

	sp, err := info.ProcessorSession(r.sensor)
	if err != nil {
		return err
	}
	r.mu.Lock()
	proc, err := sparse.NewProcessor(sp, r.cfg.Params())
	if err == nil {
		r.proc, r.info = proc, info
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}
	rate := proc.UpdateRate()
	r.budget.SetBudget(time.Duration(float64(time.Second) / rate))
	monitoring.Logf("session started: %d depths, %.2f Hz update rate, %d frame history",
		sp.NumDepths, rate, proc.HistoryFrames())

	if err := r.client.StartStreaming(ctx); err != nil {
		return fmt.Errorf("start streaming: %w", err)
	}

	ended := make(chan sparse.SequenceSummary, r.seqQueue)
	var wg sync.WaitGroup
	if r.recorder != nil {
		// The recorder outlives ctx so the final flush can be stored.
		recCtx := context.WithoutCancel(ctx)
		if err := r.recorder.StartSession(recCtx, r.sensor, info, rate); err != nil {
			monitoring.Logf("recorder: start session: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.recordLoop(recCtx, ended)
		}()
	}
	defer func() {
		r.mu.Lock()
		last := proc.Flush()
		r.mu.Unlock()
		if last != nil {
			r.enqueue(ended, *last)
		}
		close(ended)
		wg.Wait()
	}()

	vs := proc.BinVelocities()
	for {
		fi, sweep, err := r.client.Next(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil, errors.Is(err, io.EOF):
			monitoring.Logf("session stopped after %d frames", r.frames.Load())
			return nil
		case errors.Is(err, sensor.ErrBadFrame):
			r.badFrame.Add(1)
			monitoring.Logf("skipping frame: %v", err)
			continue
		default:
			return fmt.Errorf("read frame: %w", err)
		}
		r.missed.Add(uint64(fi.Missed))

		r.mu.Lock()
		start := r.clock.Now()
		res, err := proc.Process(sweep)
		r.budget.Observe(r.clock.Since(start))
		display := r.cfg.Display()
		r.mu.Unlock()
		if err != nil {
			r.rejected.Add(1)
			monitoring.Logf("frame %d rejected: %v", fi.Sequence, err)
			continue
		}
		r.frames.Add(1)

		u := &Update{Result: res, Frame: fi, UpdateRate: rate, BinVelocities: vs, Display: display}
		r.mu.Lock()
		r.latest = u
		r.mu.Unlock()
		r.publish(u)

		if res.SequenceEnded != nil {
			r.enqueue(ended, *res.SequenceEnded)
		}
	}
}

func (r *Runner) enqueue(ch chan<- sparse.SequenceSummary, s sparse.SequenceSummary) {
	if r.recorder == nil {
		return
	}
	select {
	case ch <- s:
	default:
		monitoring.Logf("recorder queue full, dropping sequence with peak %.2f m/s", s.Peak)
	}
}

func (r *Runner) recordLoop(ctx context.Context, ended <-chan sparse.SequenceSummary) {
	for s := range ended {
		if err := r.recorder.RecordSequence(ctx, s); err != nil {
			monitoring.Logf("recorder: %v", err)
		}
	}
	if err := r.recorder.EndSession(ctx); err != nil {
		monitoring.Logf("recorder: end session: %v", err)
	}
}

// UpdateConfig applies a runtime patch. It takes effect from the next frame.
func (r *Runner) UpdateConfig(patch *config.ProcessingConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.cfg.Clone()
	if err := next.Update(patch); err != nil {
		return err
	}
	if r.proc != nil {
		if err := r.proc.SetMinSpeed(next.GetMinSpeed()); err != nil {
			return err
		}
	}
	r.cfg = next
	return nil
}

// Config returns a copy of the configuration in effect.
func (r *Runner) Config() *config.ProcessingConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Clone()
}

// Latest returns the most recent update, or nil before the first frame.
func (r *Runner) Latest() *Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// SessionInfo returns the sensor session, zero before setup.
func (r *Runner) SessionInfo() sensor.SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info
}

// Stats returns the runner's counters.
func (r *Runner) Stats() Stats {
	st := Stats{
		Frames:   r.frames.Load(),
		Missed:   r.missed.Load(),
		BadFrame: r.badFrame.Load(),
		Rejected: r.rejected.Load(),
		Dropped:  make(map[string]uint64),
		Budget:   r.budget.Stats(),
	}
	r.subsMu.Lock()
	for name, s := range r.subs {
		st.Dropped[name] = s.dropped.Load()
	}
	r.subsMu.Unlock()
	return st
}
