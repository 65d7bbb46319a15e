// Package render draws accident maps: the regional scatter by location
// category and the cluster density map. Figures are explicit values that
// can be written as PNG or opened as an interactive page.
package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"path/filepath"

	"github.com/paulmach/orb"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/alxndrch/accimap/internal/fsutil"
)

// DefaultDPI is used when WritePNG is given a non-positive resolution.
const DefaultDPI = 100

const (
	titleHeight   = vg.Length(30)
	colorBarWidth = vg.Length(72)
	panelPad      = vg.Length(12)
)

// Basemapper supplies a background image covering extent in the given CRS.
// A nil image with a nil error means no background.
type Basemapper interface {
	Image(ctx context.Context, extent orb.Bound, crs string) (image.Image, error)
}

// Layer is one point series of a view, kept for the interactive page.
type Layer struct {
	Name   string
	Points []orb.Point
	// Values colors each point through the view's value range when set.
	Values []float64
	Labels []string
	Color  color.Color
	// Size is the marker diameter in pixels.
	Size float64
}

// View is the data behind one panel.
type View struct {
	Title  string
	Extent orb.Bound
	Layers []Layer
	// ValueMin and ValueMax bound Layer.Values; equal values mean the view
	// has no value scale.
	ValueMin, ValueMax float64
}

// Figure is a page of map panels.
type Figure struct {
	Title         string
	Width, Height vg.Length

	// Panels is a row-major grid; every row has the same length.
	Panels   [][]*plot.Plot
	ColorBar *plot.Plot

	Views    []View
	Warnings []string
}

// panelAspect returns the width/height ratio of one data area in a grid
// of rows×cols panels, accounting for the figure title, panel titles and
// an optional color bar.
func panelAspect(w, h vg.Length, rows, cols int, colorBar bool) float64 {
	if colorBar {
		w -= colorBarWidth
	}
	pw := (w - panelPad*vg.Length(cols+1)) / vg.Length(cols)
	ph := (h - titleHeight - panelPad*vg.Length(rows+1)) / vg.Length(rows)
	ph -= titleHeight // panel title
	if pw <= 0 || ph <= 0 {
		return 1
	}
	return float64(pw / ph)
}

func newMapPlot(title string, extent orb.Bound) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.HideAxes()
	p.X.Padding, p.Y.Padding = 0, 0
	setExtent(p, extent)
	return p
}

func setExtent(p *plot.Plot, extent orb.Bound) {
	p.X.Min, p.X.Max = extent.Min[0], extent.Max[0]
	p.Y.Min, p.Y.Max = extent.Min[1], extent.Max[1]
}

// addBasemap draws img stretched over extent. Plotters added before the
// scatter sit beneath it.
func addBasemap(p *plot.Plot, img image.Image, extent orb.Bound) {
	if img == nil {
		return
	}
	p.Add(plotter.NewImage(img, extent.Min[0], extent.Min[1], extent.Max[0], extent.Max[1]))
}

func xys(points []orb.Point) plotter.XYs {
	out := make(plotter.XYs, len(points))
	for i, pt := range points {
		out[i].X, out[i].Y = pt[0], pt[1]
	}
	return out
}

// addScatter adds points as filled circles and returns the scatter, which
// is nil for an empty series.
func addScatter(p *plot.Plot, points []orb.Point, c color.Color, radius vg.Length) (*plotter.Scatter, error) {
	if len(points) == 0 {
		return nil, nil
	}
	s, err := plotter.NewScatter(xys(points))
	if err != nil {
		return nil, fmt.Errorf("scatter: %w", err)
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Radius = radius
	s.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(s)
	return s, nil
}

func (f *Figure) draw(dc draw.Canvas) {
	area := dc
	if f.Title != "" {
		sty := plot.New().Title.TextStyle
		sty.Font.Size = vg.Points(15)
		sty.XAlign = draw.XCenter
		sty.YAlign = draw.YTop
		dc.FillText(sty, vg.Point{X: (dc.Min.X + dc.Max.X) / 2, Y: dc.Max.Y - panelPad/2}, f.Title)
		area = draw.Crop(dc, 0, 0, 0, -titleHeight)
	}

	if f.ColorBar != nil {
		w := area.Max.X - area.Min.X
		bar := draw.Crop(area, w-colorBarWidth, -panelPad, 4*panelPad, -4*panelPad)
		f.ColorBar.Draw(bar)
		area = draw.Crop(area, 0, -colorBarWidth, 0, 0)
	}

	if len(f.Panels) == 0 || len(f.Panels[0]) == 0 {
		return
	}
	tiles := draw.Tiles{
		Rows: len(f.Panels), Cols: len(f.Panels[0]),
		PadX: panelPad, PadY: panelPad,
		PadTop: panelPad, PadBottom: panelPad,
		PadLeft: panelPad, PadRight: panelPad,
	}
	canvases := plot.Align(f.Panels, tiles, area)
	for i, row := range f.Panels {
		for j, p := range row {
			if p != nil {
				p.Draw(canvases[i][j])
			}
		}
	}
}

// WritePNG renders the figure at dpi and encodes it as PNG.
func (f *Figure) WritePNG(w io.Writer, dpi float64) error {
	if dpi <= 0 || math.IsNaN(dpi) {
		dpi = DefaultDPI
	}
	c := vgimg.NewWith(vgimg.UseWH(f.Width, f.Height), vgimg.UseDPI(int(math.Round(dpi))))
	f.draw(draw.New(c))
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(w); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// Save writes the figure as a PNG file, creating parent directories. The
// file is always closed; a close failure is reported when nothing else
// failed first.
func (f *Figure) Save(fs fsutil.FileSystem, path string, dpi float64) (err error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	out, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := f.WritePNG(out, dpi); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
