package sensor

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/banshee-data/sparse-speed/internal/sparse"
	"github.com/banshee-data/sparse-speed/internal/timeutil"
)

// SimOptions shapes the synthetic scene: a reflector that passes by at a
// fixed speed for PassDuration out of every PassPeriod, over gaussian noise.
type SimOptions struct {
	SubsweepRate float64 // Hz
	Speed        float64 // m/s
	PassPeriod   time.Duration
	PassDuration time.Duration
	Amplitude    float64
	NoiseStdDev  float64
	Offset       float64
	Seed         int64

	Clock timeutil.Clock
	// Unpaced returns frames as fast as they are pulled.
	Unpaced bool
}

// DefaultSimOptions is a 2 m/s pass lasting two seconds every eight.
func DefaultSimOptions() SimOptions {
	return SimOptions{
		SubsweepRate: 6000,
		Speed:        2,
		PassPeriod:   8 * time.Second,
		PassDuration: 2 * time.Second,
		Amplitude:    400,
		NoiseStdDev:  20,
		Offset:       1000,
		Seed:         1,
	}
}

// SimulatedClient produces synthetic frames for development without a
// sensor attached.
type SimulatedClient struct {
	opts SimOptions
	rng  *rand.Rand

	cfg     Config
	depths  int
	period  time.Duration
	session *SessionInfo
	ticker  timeutil.Ticker
	frame   uint32
}

// NewSimulatedClient returns a simulator. A zero SubsweepRate or PassPeriod
// takes the default. A zero PassDuration means the reflector never moves and
// only noise is produced; start from DefaultSimOptions for the full scene.
func NewSimulatedClient(opts SimOptions) *SimulatedClient {
	def := DefaultSimOptions()
	if opts.SubsweepRate <= 0 {
		opts.SubsweepRate = def.SubsweepRate
	}
	if opts.PassPeriod <= 0 {
		opts.PassPeriod = def.PassPeriod
	}
	if opts.PassDuration < 0 {
		opts.PassDuration = 0
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &SimulatedClient{opts: opts, rng: rand.New(rand.NewSource(opts.Seed))}
}

// SetupSession sizes frames from cfg.
func (c *SimulatedClient) SetupSession(ctx context.Context, cfg Config) (SessionInfo, error) {
	if err := cfg.Validate(); err != nil {
		return SessionInfo{}, fmt.Errorf("invalid sensor config: %w", err)
	}
	c.cfg = cfg
	c.depths = cfg.ExpectedDepths()
	c.period = time.Duration(float64(cfg.NumSubsweeps) / c.opts.SubsweepRate * float64(time.Second))
	info := SessionInfo{
		SubsweepRate: c.opts.SubsweepRate,
		RangeStart:   cfg.RangeStart,
		RangeLength:  float64(c.depths-1) * BaseStepLength * float64(cfg.StepSize),
		DataLength:   c.depths * cfg.NumSubsweeps,
	}
	c.session = &info
	return info, nil
}

// StartStreaming starts the frame clock.
func (c *SimulatedClient) StartStreaming(ctx context.Context) error {
	if c.session == nil {
		return ErrSessionNotReady
	}
	if !c.opts.Unpaced && c.ticker == nil {
		c.ticker = c.opts.Clock.NewTicker(c.period)
	}
	return nil
}

// FramePeriod returns the time one frame spans.
func (c *SimulatedClient) FramePeriod() time.Duration { return c.period }

// Next waits for the next tick and renders a frame.
func (c *SimulatedClient) Next(ctx context.Context) (FrameInfo, *sparse.Sweep, error) {
	if c.session == nil {
		return FrameInfo{}, nil, ErrSessionNotReady
	}
	if c.ticker != nil {
		select {
		case <-ctx.Done():
			return FrameInfo{}, nil, ctx.Err()
		case <-c.ticker.C():
		}
	} else if err := ctx.Err(); err != nil {
		return FrameInfo{}, nil, err
	}

	sweep, err := sparse.NewSweep(c.cfg.NumSubsweeps, c.depths, c.render(c.frame))
	if err != nil {
		return FrameInfo{}, nil, err
	}
	info := FrameInfo{Sequence: c.frame, Received: c.opts.Clock.Now()}
	c.frame++
	return info, sweep, nil
}

// InPass reports whether the reflector moves during frame k.
func (c *SimulatedClient) InPass(k uint32) bool {
	start := time.Duration(k) * c.period
	return start%c.opts.PassPeriod < c.opts.PassDuration
}

func (c *SimulatedClient) render(k uint32) []float64 {
	rows := c.cfg.NumSubsweeps
	data := make([]float64, rows*c.depths)
	moving := c.opts.Speed > 0 && c.InPass(k)
	hz := c.opts.Speed / sparse.HalfWavelength
	target := c.depths / 2
	t0 := float64(k) * float64(rows) / c.opts.SubsweepRate
	for i := 0; i < rows; i++ {
		t := t0 + float64(i)/c.opts.SubsweepRate
		for j := 0; j < c.depths; j++ {
			v := c.opts.Offset + c.rng.NormFloat64()*c.opts.NoiseStdDev
			if moving && j == target {
				v += c.opts.Amplitude * math.Sin(2*math.Pi*hz*t)
			}
			data[i*c.depths+j] = v
		}
	}
	return data
}

// Disconnect stops the frame clock.
func (c *SimulatedClient) Disconnect() error {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	c.session = nil
	return nil
}
