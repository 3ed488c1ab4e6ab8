// Package plot renders spectroscopy traces and simulated waveforms as PNG.
package plot

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Panel is one subplot: a measured trace and an optional fitted curve over
// the same X axis.
type Panel struct {
	Title  string
	XLabel string
	YLabel string
	X      []float64
	Y      []float64
	Fit    []float64
}

// Row draws the panels side by side and writes a PNG to w.
func Row(w io.Writer, panels []Panel) error {
	if len(panels) == 0 {
		return errors.New("nothing to plot")
	}

	row := make([]*plot.Plot, len(panels))
	for i, p := range panels {
		pl, err := panel(p)
		if err != nil {
			return fmt.Errorf("panel %q: %w", p.Title, err)
		}
		row[i] = pl
	}

	width := vg.Length(len(panels)) * 5 * vg.Inch
	img := vgimg.New(width, 4*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      1,
		Cols:      len(panels),
		PadX:      vg.Millimeter * 4,
		PadY:      vg.Millimeter * 4,
		PadTop:    vg.Millimeter * 2,
		PadBottom: vg.Millimeter * 2,
		PadLeft:   vg.Millimeter * 2,
		PadRight:  vg.Millimeter * 2,
	}

	canvases := plot.Align([][]*plot.Plot{row}, tiles, dc)
	for i, pl := range row {
		pl.Draw(canvases[0][i])
	}

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(w); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}

// SaveRow writes Row output to path.
func SaveRow(path string, panels []Panel) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Row(f, panels); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func panel(p Panel) (*plot.Plot, error) {
	if len(p.X) == 0 {
		return nil, errors.New("empty trace")
	}
	if len(p.X) != len(p.Y) {
		return nil, fmt.Errorf("x has %d points, y has %d", len(p.X), len(p.Y))
	}
	if p.Fit != nil && len(p.Fit) != len(p.X) {
		return nil, fmt.Errorf("fit has %d points, x has %d", len(p.Fit), len(p.X))
	}

	pl := plot.New()
	pl.Title.Text = p.Title
	pl.X.Label.Text = p.XLabel
	pl.Y.Label.Text = p.YLabel
	pl.Add(plotter.NewGrid())

	pts := xys(p.X, p.Y)
	if len(pts) == 0 {
		return nil, errors.New("no finite points")
	}
	data, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	pl.Add(data)

	if p.Fit != nil {
		fit, err := plotter.NewLine(xys(p.X, p.Fit))
		if err != nil {
			return nil, err
		}
		fit.LineStyle.Color = lineColor(1)
		fit.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		pl.Add(fit)
		pl.Legend.Add("data", data)
		pl.Legend.Add("fit", fit)
	}
	return pl, nil
}

// xys pairs x and y, skipping points where either is NaN or infinite.
func xys(x, y []float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(x))
	for i := range x {
		if !finite(x[i]) || !finite(y[i]) {
			continue
		}
		pts = append(pts, plotter.XY{X: x[i], Y: y[i]})
	}
	return pts
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Waveforms plots every analog port of one controller against time in ns.
func Waveforms(w io.Writer, title string, ports map[int][]float64) error {
	if len(ports) == 0 {
		return errors.New("no samples")
	}

	keys := make([]int, 0, len(ports))
	for k := range ports {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	pl := plot.New()
	pl.Title.Text = title
	pl.X.Label.Text = "Time [ns]"
	pl.Y.Label.Text = "Output [V]"

	for i, k := range keys {
		samples := ports[k]
		pts := make(plotter.XYs, len(samples))
		for t, v := range samples {
			pts[t].X = float64(t)
			pts[t].Y = v
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("port %d: %w", k, err)
		}
		line.LineStyle.Color = lineColor(i)
		pl.Add(line)
		pl.Legend.Add(fmt.Sprintf("AO %d", k), line)
	}

	wt, err := pl.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

var palette = []color.Color{
	color.RGBA{R: 38, G: 139, B: 210, A: 255},
	color.RGBA{R: 220, G: 50, B: 47, A: 255},
	color.RGBA{R: 133, G: 153, B: 0, A: 255},
	color.RGBA{R: 211, G: 54, B: 130, A: 255},
	color.RGBA{R: 181, G: 137, B: 0, A: 255},
}

func lineColor(i int) color.Color {
	return palette[i%len(palette)]
}
