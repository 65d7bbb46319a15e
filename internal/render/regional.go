package render

import (
	"context"
	"fmt"
	"image/color"

	"github.com/paulmach/orb"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"

	"github.com/alxndrch/accimap/internal/geo"
	"github.com/alxndrch/accimap/internal/monitoring"
)

// A4 portrait.
const (
	DefaultPageWidth  = 8.27 * vg.Inch
	DefaultPageHeight = 11.69 * vg.Inch
)

// Extent padding around the plotted points.
const (
	extentPad      = 0.05
	minSpanMetres  = 1000.0
	minSpanDegrees = 0.01
)

// RegionalOptions controls RegionalFigure.
type RegionalOptions struct {
	Region     string
	RegionName string

	RegionColumn   string
	LocationColumn string
	InTownCode     string
	OutOfTownCode  string

	Width, Height vg.Length

	InTownColor     color.Color
	OutOfTownColor  color.Color
	InTownRadius    vg.Length
	OutOfTownRadius vg.Length
}

// DefaultRegionalOptions draws South Moravia from the police export.
func DefaultRegionalOptions() RegionalOptions {
	return RegionalOptions{
		Region:          "JHM",
		RegionColumn:    "region",
		LocationColumn:  "p5a",
		InTownCode:      "1",
		OutOfTownCode:   "2",
		Width:           DefaultPageWidth,
		Height:          DefaultPageHeight,
		InTownColor:     color.NRGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
		OutOfTownColor:  color.NRGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
		InTownRadius:    vg.Points(1),
		OutOfTownRadius: vg.Points(0.7),
	}
}

func (o RegionalOptions) withDefaults() RegionalOptions {
	d := DefaultRegionalOptions()
	if o.RegionColumn == "" {
		o.RegionColumn = d.RegionColumn
	}
	if o.LocationColumn == "" {
		o.LocationColumn = d.LocationColumn
	}
	if o.InTownCode == "" {
		o.InTownCode = d.InTownCode
	}
	if o.OutOfTownCode == "" {
		o.OutOfTownCode = d.OutOfTownCode
	}
	if o.Width <= 0 {
		o.Width = d.Width
	}
	if o.Height <= 0 {
		o.Height = d.Height
	}
	if o.InTownColor == nil {
		o.InTownColor = d.InTownColor
	}
	if o.OutOfTownColor == nil {
		o.OutOfTownColor = d.OutOfTownColor
	}
	if o.RegionName == "" {
		o.RegionName = geo.RegionName(o.Region)
	}
	return o
}

// regionExtent returns the padded bound of t, or a unit square when t has
// no points.
func regionExtent(t *geo.Table) (orb.Bound, bool) {
	b, ok := t.Bound()
	if !ok {
		return orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}, false
	}
	minSpan := minSpanMetres
	if t.CRS == geo.CRSWGS84 {
		minSpan = minSpanDegrees
	}
	return geo.Extent(b, extentPad, minSpan), true
}

// RegionalFigure draws the accidents of one region in two stacked panels:
// in-town on top, out-of-town below, over a shared basemap. An empty
// region or category yields empty panels and a warning. bm may be nil.
func RegionalFigure(ctx context.Context, gt *geo.Table, opts RegionalOptions, bm Basemapper) (*Figure, error) {
	opts = opts.withDefaults()
	if err := geo.RequireGeoColumns(gt, opts.RegionColumn, opts.LocationColumn); err != nil {
		return nil, err
	}

	fig := &Figure{
		Title:  fmt.Sprintf("Nehody: %s", opts.RegionName),
		Width:  opts.Width,
		Height: opts.Height,
	}
	warn := func(format string, v ...interface{}) {
		msg := fmt.Sprintf(format, v...)
		monitoring.Warnf("%s", msg)
		fig.Warnings = append(fig.Warnings, msg)
	}

	region := gt.FilterRegion(opts.RegionColumn, opts.Region)
	in, out, other := region.SplitByLocation(opts.LocationColumn, opts.InTownCode, opts.OutOfTownCode)
	monitoring.Logf("region %s: %d accidents (%d in town, %d out of town, %d other)",
		opts.Region, region.Len(), in.Len(), out.Len(), other.Len())

	extent, ok := regionExtent(region)
	extent = geo.FitAspect(extent, panelAspect(opts.Width, opts.Height, 2, 1, false))

	top := newMapPlot(fmt.Sprintf("Nehody v obci (%s)", opts.RegionName), extent)
	bottom := newMapPlot(fmt.Sprintf("Nehody mimo obec (%s)", opts.RegionName), extent)
	fig.Panels = [][]*plot.Plot{{top}, {bottom}}

	if !ok {
		warn("EmptyResult: region %q has no located accidents", opts.Region)
	} else if bm != nil {
		img, err := bm.Image(ctx, extent, region.CRS)
		if err != nil {
			return nil, fmt.Errorf("basemap for region %s: %w", opts.Region, err)
		}
		addBasemap(top, img, extent)
		addBasemap(bottom, img, extent)
	}

	categories := []struct {
		name   string
		p      *plot.Plot
		t      *geo.Table
		c      color.Color
		radius vg.Length
	}{
		{"v obci", top, in, opts.InTownColor, opts.InTownRadius},
		{"mimo obec", bottom, out, opts.OutOfTownColor, opts.OutOfTownRadius},
	}
	for _, cat := range categories {
		if ok && cat.t.Len() == 0 {
			warn("EmptyResult: region %q has no accidents %s", opts.Region, cat.name)
		}
		if _, err := addScatter(cat.p, cat.t.Points(), cat.c, cat.radius); err != nil {
			return nil, err
		}
		fig.Views = append(fig.Views, View{
			Title:  cat.p.Title.Text,
			Extent: extent,
			Layers: []Layer{{
				Name:   cat.name,
				Points: cat.t.Points(),
				Color:  cat.c,
				Size:   markerPixels(cat.radius),
			}},
		})
	}
	return fig, nil
}

// markerPixels converts a glyph radius to an HTML marker diameter.
func markerPixels(radius vg.Length) float64 {
	d := 2 * radius.Points() * 96 / 72
	if d < 2 {
		d = 2
	}
	return d
}
