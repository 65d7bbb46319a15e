// Package pipeline runs accimap end to end: load the accident table,
// attach geometry, then draw the regional and cluster figures.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alxndrch/accimap/internal/cluster"
	"github.com/alxndrch/accimap/internal/config"
	"github.com/alxndrch/accimap/internal/fsutil"
	"github.com/alxndrch/accimap/internal/geo"
	"github.com/alxndrch/accimap/internal/monitoring"
	"github.com/alxndrch/accimap/internal/render"
	"github.com/alxndrch/accimap/internal/table"
	"github.com/alxndrch/accimap/internal/timeutil"
)

// Loader reads the input table.
type Loader func(ctx context.Context, path string, opts table.OpenOptions) (*table.Table, error)

// Runner holds the collaborators of one run. Zero fields get production
// defaults: the OS filesystem, table.Open, the browser opener, the real
// clock and a tile layer built from Config.
type Runner struct {
	Config  *config.MapConfig
	FS      fsutil.FileSystem
	Basemap render.Basemapper
	Opener  render.Opener
	Loader  Loader
	Clock   timeutil.Clock

	runID string
}

// RunID identifies the most recent Run in log lines.
func (r *Runner) RunID() string { return r.runID }

func (r *Runner) logf(format string, v ...interface{}) {
	monitoring.Logf("[%s] "+format, append([]interface{}{r.runID}, v...)...)
}

// ClusterRegion runs k-means over the located accidents of one region and
// returns the non-empty clusters ordered by ID.
func ClusterRegion(gt *geo.Table, column, region string, opts cluster.Options) ([]cluster.Cluster, error) {
	if err := geo.RequireGeoColumns(gt, column); err != nil {
		return nil, err
	}
	points := gt.FilterRegion(column, region).Points()
	res, err := cluster.KMeans(points, opts)
	if err != nil {
		return nil, fmt.Errorf("cluster region %s: %w", region, err)
	}
	monitoring.Logf("k-means: %d points, k=%d, %d iterations, inertia %.4g", len(points), opts.K, res.Iterations, res.Inertia)
	return cluster.Aggregate(res), nil
}

// Run executes the whole pipeline. The first error stops it.
func (r *Runner) Run(ctx context.Context) error {
	r.runID = uuid.NewString()
	if r.Clock == nil {
		r.Clock = timeutil.RealClock{}
	}
	start := r.Clock.Now()
	cfg := r.Config
	if cfg == nil {
		cfg = config.Empty()
	}
	if r.FS == nil {
		r.FS = fsutil.OSFileSystem{}
	}
	if r.Opener == nil {
		r.Opener = render.BrowserOpener{}
	}
	if r.Loader == nil {
		r.Loader = table.Open
	}

	bm := r.Basemap
	if bm == nil {
		layer, cache, err := NewBasemap(cfg, nil, r.Clock)
		if err != nil {
			return err
		}
		if cache != nil {
			defer cache.Close()
		}
		if layer != nil {
			bm = layer
			r.logf("basemap: %s", layer.Attribution())
		}
	}

	// Load
	t, err := r.Loader(ctx, cfg.GetInput(), OpenOptions(cfg))
	if err != nil {
		return err
	}
	r.logf("loaded %d rows, %d columns from %s", t.Len(), len(t.Columns), cfg.GetInput())

	if err := geo.RequireColumns(t, cfg.GetXColumn(), cfg.GetYColumn(), cfg.GetRegionColumn(), cfg.GetLocationColumn()); err != nil {
		return err
	}

	// Geocode
	gt, err := geo.MakeGeo(t, GeoOptions(cfg))
	if err != nil {
		return err
	}
	r.logf("geocoded %d of %d rows in %s", gt.Len(), t.Len(), gt.CRS)

	// Regional figure
	ropts, err := RegionalOptions(cfg)
	if err != nil {
		return err
	}
	fig, err := render.RegionalFigure(ctx, gt, ropts, bm)
	if err != nil {
		return err
	}
	if err := r.output(fig, cfg.GetGeoOutput(), cfg); err != nil {
		return err
	}

	// Cluster figure
	clusters, err := ClusterRegion(gt, cfg.GetRegionColumn(), cfg.GetRegion(), ClusterOptions(cfg))
	var countErr *cluster.ClusterCountError
	switch {
	case errors.As(err, &countErr) && countErr.Available == 0:
		// Nothing to cluster; the figure below carries the warning.
		clusters = nil
	case err != nil:
		return err
	default:
		r.logf("%d clusters over %d accidents", len(clusters), cluster.Total(clusters))
	}
	fig, err = render.ClusterFigure(ctx, gt, clusters, ClusterFigureOptions(cfg), bm)
	if err != nil {
		return err
	}
	if err := r.output(fig, cfg.GetClusterOutput(), cfg); err != nil {
		return err
	}

	r.logf("done in %s", r.Clock.Since(start).Round(time.Millisecond))
	return nil
}

// output saves and shows fig as configured. An empty path skips the file.
func (r *Runner) output(fig *render.Figure, path string, cfg *config.MapConfig) error {
	if path != "" {
		if err := fig.Save(r.FS, path, cfg.GetDPI()); err != nil {
			return err
		}
		r.logf("wrote %s", path)
	}
	if cfg.GetShow() {
		page, err := render.Show(r.FS, fig, path, r.Opener)
		if err != nil {
			return err
		}
		r.logf("opened %s", page)
	}
	return nil
}
