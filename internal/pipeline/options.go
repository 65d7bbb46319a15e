package pipeline

import (
	"fmt"

	"gonum.org/v1/plot/vg"

	"github.com/alxndrch/accimap/internal/basemap"
	"github.com/alxndrch/accimap/internal/cluster"
	"github.com/alxndrch/accimap/internal/config"
	"github.com/alxndrch/accimap/internal/geo"
	"github.com/alxndrch/accimap/internal/httputil"
	"github.com/alxndrch/accimap/internal/render"
	"github.com/alxndrch/accimap/internal/table"
	"github.com/alxndrch/accimap/internal/timeutil"
)

// OpenOptions selects the input sheet or table.
func OpenOptions(cfg *config.MapConfig) table.OpenOptions {
	return table.OpenOptions{Table: cfg.GetInputTable(), Sheet: cfg.GetInputSheet()}
}

// GeoOptions maps the coordinate columns and CRS.
func GeoOptions(cfg *config.MapConfig) geo.Options {
	return geo.Options{XColumn: cfg.GetXColumn(), YColumn: cfg.GetYColumn(), CRS: cfg.GetCRS()}
}

// ClusterOptions maps the k-means parameters.
func ClusterOptions(cfg *config.MapConfig) cluster.Options {
	return cluster.Options{
		K:       cfg.GetClusters(),
		MaxIter: cfg.GetClusterMaxIter(),
		Tol:     cfg.GetClusterTol(),
		NInit:   cfg.GetClusterNInit(),
		Seed:    cfg.GetClusterSeed(),
	}
}

// RegionalOptions maps the regional figure layout and styling.
func RegionalOptions(cfg *config.MapConfig) (render.RegionalOptions, error) {
	in, err := render.ParseHexColor(cfg.GetInTownColor())
	if err != nil {
		return render.RegionalOptions{}, fmt.Errorf("in_town_color: %w", err)
	}
	out, err := render.ParseHexColor(cfg.GetOutOfTownColor())
	if err != nil {
		return render.RegionalOptions{}, fmt.Errorf("out_of_town_color: %w", err)
	}
	return render.RegionalOptions{
		Region:          cfg.GetRegion(),
		RegionName:      cfg.GetRegionName(),
		RegionColumn:    cfg.GetRegionColumn(),
		LocationColumn:  cfg.GetLocationColumn(),
		InTownCode:      cfg.GetInTownCode(),
		OutOfTownCode:   cfg.GetOutOfTownCode(),
		Width:           vg.Length(cfg.GetPageWidthIn()) * vg.Inch,
		Height:          vg.Length(cfg.GetPageHeightIn()) * vg.Inch,
		InTownColor:     in,
		OutOfTownColor:  out,
		InTownRadius:    vg.Points(cfg.GetInTownMarkerPt()),
		OutOfTownRadius: vg.Points(cfg.GetOutOfTownMarkerPt()),
	}, nil
}

// ClusterFigureOptions maps the cluster figure layout.
func ClusterFigureOptions(cfg *config.MapConfig) render.ClusterOptions {
	opts := render.DefaultClusterOptions()
	opts.Region = cfg.GetRegion()
	opts.RegionName = cfg.GetRegionName()
	opts.RegionColumn = cfg.GetRegionColumn()
	opts.Width = vg.Length(cfg.GetClusterWidthIn()) * vg.Inch
	opts.Height = vg.Length(cfg.GetClusterHeightIn()) * vg.Inch
	return opts
}

// NewBasemap builds the tile layer described by cfg. It returns nil when
// the basemap is disabled. The caller closes the returned cache, if any.
func NewBasemap(cfg *config.MapConfig, client httputil.HTTPClient, clock timeutil.Clock) (*basemap.Layer, *basemap.Cache, error) {
	if cfg.BasemapDisabled() {
		return nil, nil, nil
	}

	var provider basemap.Provider
	if url := cfg.GetBasemapURL(); url != "" {
		provider = basemap.CustomProvider(url)
	} else {
		p, ok := basemap.LookupProvider(cfg.GetBasemapProvider())
		if !ok {
			return nil, nil, fmt.Errorf("unknown basemap provider %q", cfg.GetBasemapProvider())
		}
		provider = p
	}

	var cache *basemap.Cache
	if path := cfg.GetTileCache(); path != "" {
		c, err := basemap.OpenCache(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open tile cache: %w", err)
		}
		cache = c
	}

	if client == nil {
		client = httputil.NewTileClient(cfg.GetBasemapTimeout(), cfg.GetUserAgent())
	}
	layer := basemap.NewLayer(basemap.Options{
		Provider:  provider,
		APIKey:    cfg.GetBasemapAPIKey(),
		Zoom:      cfg.GetBasemapZoom(),
		MaxTiles:  cfg.GetBasemapMaxTiles(),
		WarpWidth: cfg.GetBasemapWarpWidth(),
		Retries:   cfg.GetBasemapRetries(),
		Client:    client,
		Clock:     clock,
		Cache:     cache,
	})
	return layer, cache, nil
}
