package report

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/shiftstack/internal/trajectory"
)

// ErrNoResults is returned when there is nothing to chart.
var ErrNoResults = errors.New("no results to chart")

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// ResultsPage describes an HTML page of result charts.
type ResultsPage struct {
	Title   string
	Width   int
	Height  int
	Results []trajectory.Trajectory
	// AssetsHost overrides where the echarts scripts are loaded from.
	AssetsHost string
}

func lhRange(trs []trajectory.Trajectory) (float64, float64) {
	lo, hi := trs[0].Likelihood, trs[0].Likelihood
	for _, tr := range trs[1:] {
		lo = min(lo, tr.Likelihood)
		hi = max(hi, tr.Likelihood)
	}
	if lo == hi {
		hi = lo + 1
	}
	return lo, hi
}

func (rp ResultsPage) init(title string) opts.Initialization {
	return opts.Initialization{PageTitle: title, Theme: "dark", Width: "900px", Height: "900px", AssetsHost: rp.AssetsHost}
}

func (rp ResultsPage) visualMap(lo, hi float64) opts.VisualMap {
	return opts.VisualMap{
		Show:       opts.Bool(true),
		Calculable: opts.Bool(true),
		Min:        float32(lo),
		Max:        float32(hi),
		Dimension:  "2",
		InRange:    &opts.VisualMapInRange{Color: viridis},
	}
}

// Velocities plots every result in velocity space coloured by likelihood.
func (rp ResultsPage) Velocities() *charts.Scatter {
	lo, hi := lhRange(rp.Results)
	data := make([]opts.ScatterData, 0, len(rp.Results))
	for _, tr := range rp.Results {
		data = append(data, opts.ScatterData{Value: []interface{}{tr.VX, tr.VY, tr.Likelihood}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(rp.init(rp.Title+" velocities")),
		charts.WithTitleOpts(opts.Title{Title: "Result Velocities", Subtitle: fmt.Sprintf("%s results=%d", rp.Title, len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "vx (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "vy (px)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(rp.visualMap(lo, hi)),
	)
	scatter.AddSeries("velocities", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	return scatter
}

// Origins plots every result at its origin pixel coloured by likelihood.
func (rp ResultsPage) Origins() *charts.Scatter {
	lo, hi := lhRange(rp.Results)
	data := make([]opts.ScatterData, 0, len(rp.Results))
	for _, tr := range rp.Results {
		data = append(data, opts.ScatterData{Value: []interface{}{tr.X, tr.Y, tr.Likelihood}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(rp.init(rp.Title+" origins")),
		charts.WithTitleOpts(opts.Title{Title: "Result Origins", Subtitle: fmt.Sprintf("%s %dx%d", rp.Title, rp.Width, rp.Height)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: rp.Width, Name: "x (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: rp.Height, Name: "y (px)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(rp.visualMap(lo, hi)),
	)
	scatter.AddSeries("origins", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))
	return scatter
}

// Render writes both charts as one HTML page.
func (rp ResultsPage) Render(w io.Writer) error {
	if len(rp.Results) == 0 {
		return ErrNoResults
	}
	page := components.NewPage()
	if rp.AssetsHost != "" {
		page.SetAssetsHost(rp.AssetsHost)
	}
	page.AddCharts(rp.Origins(), rp.Velocities())
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render results page: %w", err)
	}
	return nil
}

// WriteResultsChart renders the velocity scatter of trajectories as a
// standalone HTML page.
func WriteResultsChart(w io.Writer, trajectories []trajectory.Trajectory, title string) error {
	if len(trajectories) == 0 {
		return ErrNoResults
	}
	rp := ResultsPage{Title: title, Results: trajectories}
	if err := rp.Velocities().Render(w); err != nil {
		return fmt.Errorf("failed to render results chart: %w", err)
	}
	return nil
}
