package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// Extent pads b by padFrac of its larger side on every edge and widens a
// degenerate (single point or line) bound to at least minSpan.
func Extent(b orb.Bound, padFrac, minSpan float64) orb.Bound {
	w, h := b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]
	span := math.Max(w, h)
	pad := span * padFrac
	if span < minSpan {
		pad = (minSpan - span) / 2
	}
	b = b.Pad(pad)

	// Widen whichever axis is still thinner than minSpan.
	if w := b.Max[0] - b.Min[0]; w < minSpan {
		d := (minSpan - w) / 2
		b.Min[0] -= d
		b.Max[0] += d
	}
	if h := b.Max[1] - b.Min[1]; h < minSpan {
		d := (minSpan - h) / 2
		b.Min[1] -= d
		b.Max[1] += d
	}
	return b
}

// FitAspect grows b around its centre so width/height equals aspect.
// Maps drawn into a fixed-size panel keep a 1:1 scale this way.
func FitAspect(b orb.Bound, aspect float64) orb.Bound {
	if aspect <= 0 || math.IsNaN(aspect) || math.IsInf(aspect, 0) {
		return b
	}
	w, h := b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]
	if w <= 0 || h <= 0 {
		return b
	}
	c := b.Center()
	if w/h < aspect {
		w = h * aspect
	} else {
		h = w / aspect
	}
	return orb.Bound{
		Min: orb.Point{c[0] - w/2, c[1] - h/2},
		Max: orb.Point{c[0] + w/2, c[1] + h/2},
	}
}

// ToWGS84Bound reprojects b by sampling its corners and edge midpoints,
// which is enough for the gently curved graticules of the supported
// projections at regional scale.
func ToWGS84Bound(p Projection, b orb.Bound) orb.Bound {
	c := b.Center()
	samples := []orb.Point{
		b.Min, b.Max,
		{b.Min[0], b.Max[1]}, {b.Max[0], b.Min[1]},
		{c[0], b.Min[1]}, {c[0], b.Max[1]},
		{b.Min[0], c[1]}, {b.Max[0], c[1]},
	}
	out := orb.MultiPoint{}
	for _, s := range samples {
		out = append(out, p.ToWGS84(s))
	}
	return out.Bound()
}
