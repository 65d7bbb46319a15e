package render

import (
	"context"
	"fmt"
	"image/color"
	"math"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/alxndrch/accimap/internal/cluster"
	"github.com/alxndrch/accimap/internal/geo"
	"github.com/alxndrch/accimap/internal/monitoring"
)

// ClusterOptions controls ClusterFigure.
type ClusterOptions struct {
	Region       string
	RegionName   string
	RegionColumn string

	Width, Height vg.Length

	// Marker radii for the smallest and largest cluster.
	MinRadius, MaxRadius vg.Length
	PointRadius          vg.Length
}

// DefaultClusterOptions draws on an A4 landscape page.
func DefaultClusterOptions() ClusterOptions {
	return ClusterOptions{
		Region:       "JHM",
		RegionColumn: "region",
		Width:        DefaultPageHeight,
		Height:       DefaultPageWidth,
		MinRadius:    vg.Points(6),
		MaxRadius:    vg.Points(28),
		PointRadius:  vg.Points(0.6),
	}
}

func (o ClusterOptions) withDefaults() ClusterOptions {
	d := DefaultClusterOptions()
	if o.RegionColumn == "" {
		o.RegionColumn = d.RegionColumn
	}
	if o.Width <= 0 {
		o.Width = d.Width
	}
	if o.Height <= 0 {
		o.Height = d.Height
	}
	if o.MinRadius <= 0 {
		o.MinRadius = d.MinRadius
	}
	if o.MaxRadius < o.MinRadius {
		o.MaxRadius = o.MinRadius
	}
	if o.PointRadius <= 0 {
		o.PointRadius = d.PointRadius
	}
	if o.RegionName == "" {
		o.RegionName = geo.RegionName(o.Region)
	}
	return o
}

// bubbleRadius scales with the square root of count so marker area tracks
// the number of accidents.
func bubbleRadius(count, lo, hi int, minR, maxR vg.Length) vg.Length {
	if hi <= lo {
		return maxR
	}
	f := (math.Sqrt(float64(count)) - math.Sqrt(float64(lo))) /
		(math.Sqrt(float64(hi)) - math.Sqrt(float64(lo)))
	f = math.Max(0, math.Min(1, f))
	return minR + vg.Length(f)*(maxR-minR)
}

// ClusterFigure draws the accidents of one region as a grey scatter with
// one marker per cluster on top. Marker size and color follow the member
// count; a color bar gives the scale. bm may be nil.
func ClusterFigure(ctx context.Context, gt *geo.Table, clusters []cluster.Cluster, opts ClusterOptions, bm Basemapper) (*Figure, error) {
	opts = opts.withDefaults()
	if err := geo.RequireGeoColumns(gt, opts.RegionColumn); err != nil {
		return nil, err
	}

	title := fmt.Sprintf("Shluky nehod: %s", opts.RegionName)
	fig := &Figure{Title: title, Width: opts.Width, Height: opts.Height}

	region := gt.FilterRegion(opts.RegionColumn, opts.Region)
	extent, ok := regionExtent(region)
	extent = geo.FitAspect(extent, panelAspect(opts.Width, opts.Height, 1, 1, len(clusters) > 0))

	p := newMapPlot(fmt.Sprintf("%d shluků, %d nehod", len(clusters), cluster.Total(clusters)), extent)
	fig.Panels = [][]*plot.Plot{{p}}

	if !ok {
		msg := fmt.Sprintf("EmptyResult: region %q has no located accidents to cluster", opts.Region)
		monitoring.Warnf("%s", msg)
		fig.Warnings = append(fig.Warnings, msg)
	} else if bm != nil {
		img, err := bm.Image(ctx, extent, region.CRS)
		if err != nil {
			return nil, fmt.Errorf("basemap for region %s: %w", opts.Region, err)
		}
		addBasemap(p, img, extent)
	}

	points := region.Points()
	bg, err := addScatter(p, points, backgroundGrey, opts.PointRadius)
	if err != nil {
		return nil, err
	}
	if bg != nil {
		p.Legend.Add("nehoda", bg)
	}
	view := View{
		Title:  title,
		Extent: extent,
		Layers: []Layer{{Name: "nehody", Points: points, Color: backgroundGrey, Size: 3}},
	}

	if len(clusters) == 0 {
		fig.Views = []View{view}
		return fig, nil
	}

	lo, hi := cluster.CountRange(clusters)
	cm := countColorMap(lo, hi)
	view.ValueMin, view.ValueMax = cm.Min(), cm.Max()

	centres := make(plotter.XYs, len(clusters))
	labels := make([]string, len(clusters))
	layer := Layer{Name: "shluky"}
	for i, c := range clusters {
		col := colorAt(cm, float64(c.Count))
		r := bubbleRadius(c.Count, lo, hi, opts.MinRadius, opts.MaxRadius)

		s, err := plotter.NewScatter(plotter.XYs{{X: c.Centroid[0], Y: c.Centroid[1]}})
		if err != nil {
			return nil, fmt.Errorf("cluster %d marker: %w", c.ID, err)
		}
		s.GlyphStyle.Color = withAlpha(col, 0xd0)
		s.GlyphStyle.Radius = r
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(s)
		if i == 0 {
			p.Legend.Add("shluk (velikost = počet nehod)", s)
		}

		centres[i].X, centres[i].Y = c.Centroid[0], c.Centroid[1]
		labels[i] = strconv.Itoa(c.Count)

		layer.Points = append(layer.Points, c.Centroid)
		layer.Values = append(layer.Values, float64(c.Count))
		layer.Labels = append(layer.Labels, fmt.Sprintf("shluk %d", c.ID))
	}
	layer.Size = markerPixels(opts.MaxRadius)
	view.Layers = append(view.Layers, layer)
	fig.Views = []View{view}

	l, err := plotter.NewLabels(plotter.XYLabels{XYs: centres, Labels: labels})
	if err != nil {
		return nil, fmt.Errorf("cluster labels: %w", err)
	}
	for i := range l.TextStyle {
		l.TextStyle[i].XAlign = draw.XCenter
		l.TextStyle[i].YAlign = draw.YCenter
		l.TextStyle[i].Font.Size = vg.Points(8)
	}
	p.Add(l)
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	bar := plot.New()
	bar.HideX()
	bar.Y.Label.Text = "počet nehod"
	bar.Add(&plotter.ColorBar{ColorMap: cm, Vertical: true, Colors: 256})
	fig.ColorBar = bar

	monitoring.Logf("cluster figure: %d clusters over %d accidents, sizes %d-%d", len(clusters), len(points), lo, hi)
	return fig, nil
}

func withAlpha(c color.Color, a uint8) color.Color {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	n.A = a
	return n
}
