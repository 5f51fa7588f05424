// Package report renders search results for humans: PNG light-curve plots
// with gonum/plot and interactive HTML charts with go-echarts.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/shiftstack/internal/filtering"
)

// ErrNoPoints is returned when a curve has no usable step to draw.
var ErrNoPoints = errors.New("curve has no usable steps")

var (
	retainedColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	clippedColor  = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	fluxColor     = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

// CurvePlot is a light curve with the outcome of filtering it.
type CurvePlot struct {
	Title  string
	Times  []float64 // optional, defaults to the step index
	Curve  filtering.Curve
	Result filtering.Result
}

func (cp CurvePlot) x(i int) float64 {
	if i < len(cp.Times) {
		return cp.Times[i]
	}
	return float64(i)
}

// WriteTo renders the plot as a PNG.
func (cp CurvePlot) WriteTo(w io.Writer) (int64, error) {
	retained := make(map[int]bool, len(cp.Result.Retained))
	for _, i := range cp.Result.Retained {
		retained[i] = true
	}

	var kept, clipped, all plotter.XYs
	for _, i := range cp.Curve.UsableIndices() {
		pt := plotter.XY{X: cp.x(i), Y: cp.Curve.Signal[i]}
		all = append(all, pt)
		if retained[i] {
			kept = append(kept, pt)
		} else {
			clipped = append(clipped, pt)
		}
	}
	if len(all) == 0 {
		return 0, ErrNoPoints
	}

	p := plot.New()
	p.Title.Text = cp.Title
	p.X.Label.Text = "Time"
	p.Y.Label.Text = "Flux"

	line, err := plotter.NewLine(all)
	if err != nil {
		return 0, fmt.Errorf("failed to create curve line: %w", err)
	}
	line.Width = vg.Points(1)
	line.Color = color.Gray{Y: 160}
	p.Add(line)

	if len(kept) > 0 {
		s, err := plotter.NewScatter(kept)
		if err != nil {
			return 0, fmt.Errorf("failed to create retained scatter: %w", err)
		}
		s.GlyphStyle.Color = retainedColor
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		s.GlyphStyle.Radius = vg.Points(3)
		p.Add(s)
		p.Legend.Add(fmt.Sprintf("retained (%d)", len(kept)), s)
	}
	if len(clipped) > 0 {
		s, err := plotter.NewScatter(clipped)
		if err != nil {
			return 0, fmt.Errorf("failed to create clipped scatter: %w", err)
		}
		s.GlyphStyle.Color = clippedColor
		s.GlyphStyle.Shape = draw.CrossGlyph{}
		s.GlyphStyle.Radius = vg.Points(3)
		p.Add(s)
		p.Legend.Add(fmt.Sprintf("clipped (%d)", len(clipped)), s)
	}

	if len(kept) > 0 {
		flux, err := plotter.NewLine(plotter.XYs{
			{X: all[0].X, Y: cp.Result.Flux},
			{X: all[len(all)-1].X, Y: cp.Result.Flux},
		})
		if err != nil {
			return 0, fmt.Errorf("failed to create flux line: %w", err)
		}
		flux.Color = fluxColor
		flux.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(flux)
		p.Legend.Add(fmt.Sprintf("flux %.2f, lh %.2f", cp.Result.Flux, cp.Result.Likelihood), flux)
	}
	p.Legend.Top = true

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return 0, fmt.Errorf("failed to create png writer: %w", err)
	}
	return wt.WriteTo(w)
}

// WriteCurvePlot renders c and the outcome of filtering it as a PNG,
// using step indices for the time axis.
func WriteCurvePlot(w io.Writer, c filtering.Curve, res filtering.Result, title string) error {
	_, err := CurvePlot{Title: title, Curve: c, Result: res}.WriteTo(w)
	return err
}
