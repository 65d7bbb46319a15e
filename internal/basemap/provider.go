// Package basemap fetches XYZ map tiles and warps them into the
// coordinate system of the plotted data.
package basemap

import (
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"
)

// ProviderNone disables the basemap.
const ProviderNone = "none"

// DefaultProvider needs no API key.
const DefaultProvider = "CartoDB.Positron"

// Provider describes an XYZ tile service. URL may contain the
// placeholders {s} {z} {x} {y} {r} and {apikey}.
type Provider struct {
	Name        string
	URL         string
	Subdomains  []string
	MaxZoom     int
	Attribution string
}

var providers = map[string]Provider{
	"CartoDB.Positron": {
		Name:        "CartoDB.Positron",
		URL:         "https://{s}.basemaps.cartocdn.com/light_all/{z}/{x}/{y}{r}.png",
		Subdomains:  []string{"a", "b", "c", "d"},
		MaxZoom:     20,
		Attribution: "(C) OpenStreetMap contributors (C) CARTO",
	},
	"Stamen.TonerLite": {
		Name:        "Stamen.TonerLite",
		URL:         "https://tiles.stadiamaps.com/tiles/stamen_toner_lite/{z}/{x}/{y}{r}.png?api_key={apikey}",
		MaxZoom:     20,
		Attribution: "(C) Stadia Maps (C) Stamen Design (C) OpenStreetMap contributors",
	},
	"OpenStreetMap.Mapnik": {
		Name:        "OpenStreetMap.Mapnik",
		URL:         "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
		MaxZoom:     19,
		Attribution: "(C) OpenStreetMap contributors",
	},
}

// LookupProvider returns a built-in provider. Names match case-insensitively.
func LookupProvider(name string) (Provider, bool) {
	if p, ok := providers[name]; ok {
		return p, true
	}
	for k, p := range providers {
		if strings.EqualFold(k, name) {
			return p, true
		}
	}
	return Provider{}, false
}

// ProviderNames lists the built-in providers in sorted order.
func ProviderNames() []string {
	out := make([]string, 0, len(providers))
	for k := range providers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CustomProvider wraps a user supplied URL template.
func CustomProvider(url string) Provider {
	return Provider{Name: "custom", URL: url, MaxZoom: 19}
}

// TileURL expands the template for one tile. Subdomains rotate by tile
// position so neighbouring tiles spread across hosts.
func (p Provider) TileURL(t maptile.Tile, apiKey string) string {
	var sub string
	if len(p.Subdomains) > 0 {
		sub = p.Subdomains[int(t.X+t.Y)%len(p.Subdomains)]
	}
	r := strings.NewReplacer(
		"{s}", sub,
		"{z}", strconv.Itoa(int(t.Z)),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
		"{r}", "",
		"{apikey}", apiKey,
	)
	return r.Replace(p.URL)
}

// CacheKey identifies the provider's tiles in the persistent cache.
func (p Provider) CacheKey() string {
	if p.Name == "custom" || p.Name == "" {
		return p.URL
	}
	return p.Name
}
