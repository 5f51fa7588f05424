package report

import (
	"fmt"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/shiftstack/internal/raster"
)

// StampPlot is a heat map of a coadded stamp centred on a result.
type StampPlot struct {
	Title string
	Stamp *raster.Image
}

// stampGrid adapts a raster to plotter.GridXYZ. Masked pixels draw as 0.
type stampGrid struct {
	img *raster.Image
}

func (g stampGrid) Dims() (c, r int) { return g.img.Width, g.img.Height }
func (g stampGrid) X(c int) float64  { return float64(c - g.img.Width/2) }
func (g stampGrid) Y(r int) float64  { return float64(g.img.Height/2 - r) }
func (g stampGrid) Z(c, r int) float64 {
	v := g.img.At(c, r)
	if !raster.IsValid(v) {
		return 0
	}
	return float64(v)
}

// WriteTo renders the stamp as a PNG.
func (sp StampPlot) WriteTo(w io.Writer) (int64, error) {
	if sp.Stamp == nil || sp.Stamp.Width == 0 || sp.Stamp.Height == 0 {
		return 0, ErrNoPoints
	}

	hm := plotter.NewHeatMap(stampGrid{img: sp.Stamp}, palette.Heat(16, 1))
	if hm.Min == hm.Max || math.IsNaN(hm.Min) {
		hm.Min, hm.Max = 0, math.Max(hm.Max, 0)+1
	}

	p := plot.New()
	p.Title.Text = sp.Title
	p.X.Label.Text = "dx (px)"
	p.Y.Label.Text = "dy (px)"
	p.Add(hm)

	wt, err := p.WriterTo(5*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return 0, fmt.Errorf("failed to create png writer: %w", err)
	}
	return wt.WriteTo(w)
}
