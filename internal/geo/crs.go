package geo

import (
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Supported coordinate reference systems.
const (
	CRSKrovak      = "EPSG:5514" // S-JTSK / Krovak East North
	CRSWGS84       = "EPSG:4326" // longitude, latitude in degrees
	CRSWebMercator = "EPSG:3857"
)

// Projection converts between a CRS and WGS84 longitude/latitude.
type Projection interface {
	Code() string
	ToWGS84(p orb.Point) orb.Point
	FromWGS84(ll orb.Point) orb.Point
}

type wgs84 struct{}

func (wgs84) Code() string                     { return CRSWGS84 }
func (wgs84) ToWGS84(p orb.Point) orb.Point    { return p }
func (wgs84) FromWGS84(ll orb.Point) orb.Point { return ll }

type webMercator struct{}

func (webMercator) Code() string                     { return CRSWebMercator }
func (webMercator) ToWGS84(p orb.Point) orb.Point    { return project.Mercator.ToWGS84(p) }
func (webMercator) FromWGS84(ll orb.Point) orb.Point { return project.WGS84.ToMercator(ll) }

var projections = map[string]Projection{
	CRSKrovak:      krovakEastNorth{k: newKrovak()},
	CRSWGS84:       wgs84{},
	CRSWebMercator: webMercator{},
}

// normalizeCRS accepts "epsg:5514" and "EPSG:5514" alike.
func normalizeCRS(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// LookupProjection returns the projection for a CRS code.
func LookupProjection(code string) (Projection, bool) {
	p, ok := projections[normalizeCRS(code)]
	return p, ok
}

// IsSupportedCRS reports whether code names a known projection.
func IsSupportedCRS(code string) bool {
	_, ok := LookupProjection(code)
	return ok
}

// SupportedCRS lists the known CRS codes.
func SupportedCRS() []string {
	out := make([]string, 0, len(projections))
	for k := range projections {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
