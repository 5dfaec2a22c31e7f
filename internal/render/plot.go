package render

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/sparse-speed/internal/security"
)

var (
	currentColor = color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff}
	earlierColor = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
)

// ErrNoHistory is returned when a frame carries no speed history to plot.
var ErrNoHistory = errors.New("frame has no speed history")

// HistoryPlot draws the speed history scatter.
func HistoryPlot(f *Frame) (*plot.Plot, error) {
	if f.History == nil {
		return nil, ErrNoHistory
	}
	h := f.History
	p := plot.New()
	p.Title.Text = "Speed history"
	if f.SpeedText != "" {
		p.Title.Text += " - " + f.SpeedText
	}
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = speedAxisName(f)
	p.X.Min, p.X.Max = h.TMin, 0
	p.Y.Min, p.Y.Max = 0, h.YMax
	p.Add(plotter.NewGrid())

	var current, earlier plotter.XYs
	for i := range h.T {
		pt := plotter.XY{X: h.T[i], Y: h.Speed[i]}
		if h.Current[i] {
			current = append(current, pt)
		} else {
			earlier = append(earlier, pt)
		}
	}
	for _, series := range []struct {
		name string
		pts  plotter.XYs
		c    color.Color
	}{{"earlier", earlier, earlierColor}, {"current sequence", current, currentColor}} {
		if len(series.pts) == 0 {
			continue
		}
		s, err := plotter.NewScatter(series.pts)
		if err != nil {
			return nil, err
		}
		s.GlyphStyle.Color = series.c
		s.GlyphStyle.Radius = vg.Points(3)
		p.Add(s)
		p.Legend.Add(series.name, s)
	}
	p.Legend.Top = true
	return p, nil
}

// SequencePlot draws the saved sequence peaks, newest on the right.
func SequencePlot(f *Frame) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Sequences"
	if f.SequenceText != "" {
		p.Title.Text += " - " + f.SequenceText
	}
	p.X.Label.Text = "History"
	p.Y.Label.Text = speedAxisName(f)
	p.Y.Min, p.Y.Max = 0, f.SequenceYMax
	if len(f.Sequences) == 0 {
		return p, nil
	}

	bars, err := plotter.NewBarChart(plotter.Values(f.Sequences), vg.Points(20))
	if err != nil {
		return nil, err
	}
	bars.Color = earlierColor
	bars.LineStyle.Width = 0
	p.Add(bars)

	n := len(f.Sequences)
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("%d", i-n+1)
	}
	p.NominalX(names...)
	return p, nil
}

// WritePNG renders p as a PNG of the given size.
func WritePNG(w io.Writer, p *plot.Plot, width, height vg.Length) error {
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePlots writes the history and sequence plots of f into dir, named with
// prefix. It returns the files written.
func SavePlots(dir, prefix string, f *Frame) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}
	prefix = security.SanitizeFilename(prefix)

	var written []string
	save := func(name string, p *plot.Plot) error {
		path, err := security.JoinWithin(dir, prefix+"_"+name+".png")
		if err != nil {
			return err
		}
		if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
			return fmt.Errorf("save %s: %w", filepath.Base(path), err)
		}
		written = append(written, path)
		return nil
	}

	if hp, err := HistoryPlot(f); err == nil {
		if err := save("history", hp); err != nil {
			return written, err
		}
	} else if !errors.Is(err, ErrNoHistory) {
		return written, err
	}

	sp, err := SequencePlot(f)
	if err != nil {
		return written, err
	}
	if err := save("sequences", sp); err != nil {
		return written, err
	}
	return written, nil
}
