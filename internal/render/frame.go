// Package render turns processor results into display frames and serves
// them: a websocket stream, an echarts page and PNG plots. Nothing here feeds
// back into processing.
package render

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/sparse-speed/internal/sensor"
	"github.com/banshee-data/sparse-speed/internal/session"
	"github.com/banshee-data/sparse-speed/internal/units"
)

// Spectrum axis smoothing.
const (
	SpectrumTauDecay   = 0.5 // s
	SpectrumTauGrow    = 0
	SpectrumHysteresis = 0.2
	// SpectrumFloor keeps the axis from zooming in on pure noise.
	SpectrumFloor = 10.0

	// SequenceTextMin is the smallest last-sequence speed worth labelling.
	SequenceTextMin = 1e-3
)

// Spectrum is the normalised spectral density against speed.
type Spectrum struct {
	Speed     []float64 `json:"speed"`
	Density   []float64 `json:"density"`
	Threshold float64   `json:"threshold"`
	YMax      float64   `json:"y_max"`
	XMax      float64   `json:"x_max"`
}

// History is the scatter of defined velocities. T is seconds before now.
type History struct {
	T       []float64 `json:"t"`
	Speed   []float64 `json:"speed"`
	Current []bool    `json:"current"`
	TMin    float64   `json:"t_min"`
	YMax    float64   `json:"y_max"`
}

// Frame is one display update in the selected speed unit.
type Frame struct {
	Frame     int64  `json:"frame"`
	Unit      string `json:"unit"`
	UnitLabel string `json:"unit_label"`

	// Depths are the range bin centres, metres.
	Depths []float64 `json:"depths_m,omitempty"`
	// Data holds the raw time series per depth when the data plot is shown.
	Data [][]float64 `json:"data,omitempty"`

	Spectrum *Spectrum `json:"spectrum,omitempty"`
	History  *History  `json:"history,omitempty"`

	// Speed is the best speed in the history, absent when there is none.
	Speed     *float64 `json:"speed,omitempty"`
	SpeedText string   `json:"speed_text,omitempty"`

	Sequences    []float64 `json:"sequences"`
	SequenceText string    `json:"sequence_text,omitempty"`
	SequenceYMax float64   `json:"sequence_y_max"`
}

// Builder converts updates into frames. It keeps the smoothed spectrum axis,
// so one builder serves one session.
type Builder struct {
	depths []float64
	smooth *SmoothMax
}

// NewBuilder returns a builder for a session.
func NewBuilder(info sensor.SessionInfo, numSubsweeps int, updateRate float64) *Builder {
	return &Builder{
		depths: RangeDepths(info, numSubsweeps),
		smooth: NewSmoothMax(updateRate, SpectrumTauDecay, SpectrumTauGrow, SpectrumHysteresis),
	}
}

// RangeDepths spreads the depth bins evenly over the reported range.
func RangeDepths(info sensor.SessionInfo, numSubsweeps int) []float64 {
	n, err := info.Depths(numSubsweeps)
	if err != nil {
		return nil
	}
	ds := make([]float64, n)
	if n == 1 {
		ds[0] = info.RangeStart
		return ds
	}
	return floats.Span(ds, info.RangeStart, info.RangeStart+info.RangeLength)
}

// FormatSpeed renders a speed for display, e.g. "7.2 km/h".
func FormatSpeed(v float64, unit string) string {
	return fmt.Sprintf("%.1f %s", v, units.Label(unit))
}

// Build renders u. Unit and plot visibility come from u.Display.
func (b *Builder) Build(u *session.Update) *Frame {
	res := u.Result
	unit := u.Display.SpeedUnit
	if !units.IsValid(unit) {
		unit = units.MPS
	}
	scale := units.Factor(unit)

	var maxVel float64
	if n := len(u.BinVelocities); n > 0 {
		maxVel = u.BinVelocities[n-1] * scale
	}
	yMax := maxVel * 1.2

	f := &Frame{
		Frame:        res.Frame,
		Unit:         unit,
		UnitLabel:    units.Label(unit),
		Depths:       b.depths,
		SequenceYMax: yMax,
	}

	// The axis limit is tracked every frame so it is settled when the plot
	// is switched on.
	peak := SpectrumFloor
	if len(res.SpectralDensity) > 0 {
		peak = math.Max(peak, floats.Max(res.SpectralDensity))
	}
	ymax := b.smooth.Update(peak)
	if u.Display.ShowSDPlot {
		speeds := make([]float64, len(u.BinVelocities))
		floats.ScaleTo(speeds, scale, u.BinVelocities)
		f.Spectrum = &Spectrum{
			Speed:     speeds,
			Density:   res.SpectralDensity,
			Threshold: res.SpectralThreshold,
			YMax:      ymax,
			XMax:      maxVel,
		}
	}

	if u.Display.ShowDataPlot && res.Sweep != nil {
		f.Data = make([][]float64, res.Sweep.Depths())
		for j := range f.Data {
			f.Data[j] = mat.Col(nil, j, res.Sweep)
		}
	}

	if u.Display.ShowVelHistoryPlot {
		f.History = buildHistory(res.VelocityHistory, res.BelongsToLastSequence, u.UpdateRate, scale)
		f.History.YMax = yMax
	}

	if res.HasVelocity() {
		v := res.Velocity * scale
		f.Speed = &v
		f.SpeedText = FormatSpeed(v, unit)
	}

	f.Sequences = make([]float64, len(res.SequenceVelocities))
	floats.ScaleTo(f.Sequences, scale, res.SequenceVelocities)
	if n := len(f.Sequences); n > 0 && f.Sequences[n-1] > SequenceTextMin {
		f.SequenceText = FormatSpeed(f.Sequences[n-1], unit)
	}
	return f
}

// buildHistory keeps the defined samples, placing sample i of n at
// -(n-1-i)/rate seconds.
func buildHistory(vs []float64, member []bool, rate, scale float64) *History {
	n := len(vs)
	h := &History{}
	if rate > 0 && n > 0 {
		h.TMin = -float64(n-1) / rate
	}
	for i, v := range vs {
		if math.IsNaN(v) {
			continue
		}
		t := 0.0
		if rate > 0 {
			t = -float64(n-1-i) / rate
		}
		h.T = append(h.T, t)
		h.Speed = append(h.Speed, v*scale)
		h.Current = append(h.Current, i < len(member) && member[i])
	}
	return h
}
