package render

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// RenderPage writes an HTML page charting f. Only the plots present in the
// frame are drawn; the sequence bars are always shown.
func RenderPage(w io.Writer, f *Frame) error {
	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsHost)
	page.PageTitle = "Sparse speed"

	if f.Spectrum != nil {
		page.AddCharts(spectrumChart(f))
	}
	if f.History != nil {
		page.AddCharts(historyChart(f))
	}
	page.AddCharts(sequenceChart(f))
	return page.Render(w)
}

func speedAxisName(f *Frame) string {
	return fmt.Sprintf("Speed (%s)", f.UnitLabel)
}

func spectrumChart(f *Frame) *charts.Line {
	sp := f.Spectrum
	asd := make([]opts.LineData, len(sp.Speed))
	for i := range sp.Speed {
		asd[i] = opts.LineData{Value: []interface{}{sp.Speed[i], sp.Density[i]}}
	}
	threshold := []opts.LineData{
		{Value: []interface{}{0.0, sp.Threshold}},
		{Value: []interface{}{sp.XMax, sp.Threshold}},
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Spectral density", Subtitle: fmt.Sprintf("frame %d", f.Frame)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Min: 0, Max: sp.XMax, Name: speedAxisName(f), NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: 0, Max: sp.YMax, Name: "Normalized ASD"}),
	)
	line.AddSeries("asd", asd, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	line.AddSeries("threshold", threshold,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed", Color: "#000000"}),
	)
	return line
}

func historyChart(f *Frame) *charts.Scatter {
	h := f.History
	var current, earlier []opts.ScatterData
	for i := range h.T {
		d := opts.ScatterData{Value: []interface{}{h.T[i], h.Speed[i]}}
		if h.Current[i] {
			current = append(current, d)
		} else {
			earlier = append(earlier, d)
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Speed history", Subtitle: f.SpeedText}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Min: h.TMin, Max: 0, Name: "Time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: 0, Max: h.YMax, Name: speedAxisName(f)}),
	)
	scatter.AddSeries("earlier", earlier,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "#1f77b4"}))
	scatter.AddSeries("current sequence", current,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ff7f0e"}))
	return scatter
}

func sequenceChart(f *Frame) *charts.Bar {
	n := len(f.Sequences)
	x := make([]string, n)
	y := make([]opts.BarData, n)
	for i, v := range f.Sequences {
		x[i] = fmt.Sprintf("%d", i-n+1)
		y[i] = opts.BarData{Value: v}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Sequences", Subtitle: f.SequenceText}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "History"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: 0, Max: f.SequenceYMax, Name: speedAxisName(f)}),
	)
	bar.SetXAxis(x).AddSeries("peak", y,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top", Formatter: "{c}"}))
	return bar
}
