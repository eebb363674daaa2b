package monitor

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot/plotter"

	"github.com/banshee-data/zvertex/internal/vertexfinder"
)

// EchartsAssetsHost serves the echarts javascript for rendered pages.
var EchartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

func scatterData(pts plotter.XYs) []opts.ScatterData {
	data := make([]opts.ScatterData, 0, len(pts))
	for _, p := range pts {
		data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
	}
	return data
}

// RenderEventChart writes an HTML scatter chart of the event: one point per
// track at (z, vertex rank), noise on row -1, and the fitted vertices.
func RenderEventChart(w io.Writer, title string, res *vertexfinder.Result, tracks []vertexfinder.Track) error {
	return eventScatter(title, res, tracks).Render(w)
}

// ChartEvent is one event of a multi-event page.
type ChartEvent struct {
	Title  string
	Tracks []vertexfinder.Track
	Result *vertexfinder.Result
}

// RenderPage writes one HTML page holding a chart per event.
func RenderPage(w io.Writer, events []ChartEvent) error {
	page := components.NewPage()
	for _, ev := range events {
		page.AddCharts(eventScatter(ev.Title, ev.Result, ev.Tracks))
	}
	page.SetAssetsHost(EchartsAssetsHost)
	return page.Render(w)
}

func eventScatter(title string, res *vertexfinder.Result, tracks []vertexfinder.Track) *charts.Scatter {
	assigned, noise, vertices := eventSeries(res, tracks)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "zvertex", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: EchartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("vertices=%d selected=%d noise=%d", len(res.Vertices), res.Selected, res.Noise)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "z (cm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "vertex", Min: noiseRow, NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("tracks", scatterData(assigned), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	scatter.AddSeries("noise", scatterData(noise), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	scatter.AddSeries("vertices", scatterData(vertices), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	return scatter
}
