package pipeline

import (
	"context"
	"errors"
	"image/color"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alxndrch/accimap/internal/basemap"
	"github.com/alxndrch/accimap/internal/cluster"
	"github.com/alxndrch/accimap/internal/config"
	"github.com/alxndrch/accimap/internal/fsutil"
	"github.com/alxndrch/accimap/internal/geo"
	"github.com/alxndrch/accimap/internal/httputil"
	"github.com/alxndrch/accimap/internal/render"
	"github.com/alxndrch/accimap/internal/table"
	"github.com/alxndrch/accimap/internal/testutil"
	"github.com/alxndrch/accimap/internal/timeutil"
)

func ptr[T any](v T) *T { return &v }

// smallConfig renders tiny figures without a basemap.
func smallConfig(region string, clusters int) *config.MapConfig {
	cfg := config.Empty()
	cfg.Region = ptr(region)
	cfg.Clusters = ptr(clusters)
	cfg.ClusterSeed = ptr(uint64(42))
	cfg.BasemapProvider = ptr("none")
	cfg.GeoOutput = ptr(filepath.Join("out", "geo1.png"))
	cfg.ClusterOutput = ptr(filepath.Join("out", "geo2.png"))
	cfg.DPI = ptr(20.0)
	cfg.PageWidthIn, cfg.PageHeightIn = ptr(3.0), ptr(4.0)
	cfg.ClusterWidthIn, cfg.ClusterHeightIn = ptr(4.0), ptr(3.0)
	return cfg
}

func staticLoader(t *table.Table) Loader {
	return func(context.Context, string, table.OpenOptions) (*table.Table, error) {
		return t, nil
	}
}

func TestRunScenario(t *testing.T) {
	rec := testutil.CaptureLogs(t)
	mem := fsutil.NewMemoryFileSystem()
	r := &Runner{
		Config: smallConfig("A", 2),
		FS:     mem,
		Loader: staticLoader(testutil.ScenarioTable()),
	}
	require.NoError(t, r.Run(context.Background()))

	for _, name := range []string{"geo1.png", "geo2.png"} {
		data, err := mem.ReadFile(filepath.Join("out", name))
		require.NoError(t, err, name)
		cfg := testutil.AssertPNG(t, data)
		assert.Greater(t, cfg.Width, 0)
	}

	_, err := uuid.Parse(r.RunID())
	require.NoError(t, err)
	logs := strings.Join(rec.Lines(), "\n")
	assert.Contains(t, logs, "["+r.RunID()+"] geocoded 4 of 5 rows")
	assert.Contains(t, logs, "2 clusters over 4 accidents")
	assert.IsType(t, render.BrowserOpener{}, r.Opener)
	assert.IsType(t, timeutil.RealClock{}, r.Clock)
}

func TestRunTimedByClock(t *testing.T) {
	rec := testutil.CaptureLogs(t)
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := &Runner{
		Config: smallConfig("A", 2),
		FS:     fsutil.NewMemoryFileSystem(),
		Loader: staticLoader(testutil.ScenarioTable()),
		Clock:  clock,
	}
	require.NoError(t, r.Run(context.Background()))
	assert.Contains(t, strings.Join(rec.Lines(), "\n"), "["+r.RunID()+"] done in 0s")
}

func TestRunShow(t *testing.T) {
	testutil.MuteLogs(t)
	mem := fsutil.NewMemoryFileSystem()
	cfg := smallConfig("A", 2)
	cfg.Show = ptr(true)
	cfg.ClusterOutput = ptr("")

	var opened []string
	r := &Runner{
		Config: cfg,
		FS:     mem,
		Loader: staticLoader(testutil.ScenarioTable()),
		Opener: openerFunc(func(p string) error { opened = append(opened, p); return nil }),
	}
	require.NoError(t, r.Run(context.Background()))

	require.Len(t, opened, 2)
	assert.Equal(t, filepath.Join("out", "geo1.html"), opened[0])
	assert.True(t, strings.HasSuffix(opened[1], ".html"))
	assert.False(t, mem.Exists(filepath.Join("out", "geo2.png")), "an empty path skips the file")
}

type openerFunc func(string) error

func (f openerFunc) Open(p string) error { return f(p) }

func TestRunMissingColumn(t *testing.T) {
	testutil.MuteLogs(t)
	mem := fsutil.NewMemoryFileSystem()
	in := table.New([]string{"d", "e", "region"}, [][]string{{"1", "1", "A"}})
	r := &Runner{Config: smallConfig("A", 1), FS: mem, Loader: staticLoader(in)}

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, geo.ErrInput))

	var ie *geo.InputError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "p5a", ie.Column)
	assert.Empty(t, mem.Files(), "input errors are reported before any plotting")
}

func TestRunLoaderError(t *testing.T) {
	testutil.MuteLogs(t)
	cfg := smallConfig("A", 1)
	cfg.Input = ptr(filepath.Join(t.TempDir(), "absent.csv.gz"))
	r := &Runner{Config: cfg, FS: fsutil.NewMemoryFileSystem()}

	err := r.Run(context.Background())
	assert.True(t, errors.Is(err, table.ErrInput))
}

func TestRunEmptyInput(t *testing.T) {
	rec := testutil.CaptureLogs(t)
	mem := fsutil.NewMemoryFileSystem()
	r := &Runner{Config: smallConfig("JHM", 13), FS: mem, Loader: staticLoader(table.New(nil, nil))}

	require.NoError(t, r.Run(context.Background()))
	for _, name := range []string{"geo1.png", "geo2.png"} {
		data, err := mem.ReadFile(filepath.Join("out", name))
		require.NoError(t, err)
		testutil.AssertPNG(t, data)
	}
	assert.Contains(t, strings.Join(rec.Lines(), "\n"), "warning: EmptyResult")
}

func TestRunTooFewPoints(t *testing.T) {
	testutil.MuteLogs(t)
	mem := fsutil.NewMemoryFileSystem()
	r := &Runner{Config: smallConfig("A", 13), FS: mem, Loader: staticLoader(testutil.ScenarioTable())}

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, cluster.ErrClusterCount))
	assert.True(t, mem.Exists(filepath.Join("out", "geo1.png")), "the regional figure is written before clustering")
	assert.False(t, mem.Exists(filepath.Join("out", "geo2.png")))
}

func TestRunWithTileServer(t *testing.T) {
	testutil.MuteLogs(t)
	ts := testutil.NewTileServer(t, color.RGBA{R: 230, G: 230, B: 220, A: 255})
	cachePath := filepath.Join(t.TempDir(), "tiles.db")

	cfg := smallConfig("JHM", 3)
	cfg.BasemapURL = ptr(ts.Template())
	cfg.BasemapMaxTiles = ptr(4)
	cfg.BasemapWarpWidth = ptr(64)
	cfg.TileCache = ptr(cachePath)
	mem := fsutil.NewMemoryFileSystem()

	r := &Runner{Config: cfg, FS: mem, Loader: staticLoader(testutil.RegionalTable(40))}
	require.NoError(t, r.Run(context.Background()))

	assert.Greater(t, ts.Requests(), 0)
	for _, ua := range ts.UserAgents() {
		assert.True(t, strings.HasPrefix(ua, "accimap/"), ua)
	}
	assert.True(t, mem.Exists(filepath.Join("out", "geo2.png")))

	cache, err := basemap.OpenCache(cachePath)
	require.NoError(t, err)
	n, err := cache.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ts.Requests(), n)
	require.NoError(t, cache.Close())

	// A second run is served from the cache.
	before := ts.Requests()
	r = &Runner{Config: cfg, FS: fsutil.NewMemoryFileSystem(), Loader: staticLoader(testutil.RegionalTable(40))}
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, before, ts.Requests())
}

func TestRunBasemapFailure(t *testing.T) {
	testutil.MuteLogs(t)
	cfg := smallConfig("JHM", 3)
	cfg.BasemapURL = ptr("https://tiles.example.org/{z}/{x}/{y}.png")

	client := httputil.NewMockHTTPClient()
	client.AddResponse(503, nil)
	layer, cache, err := NewBasemap(cfg, client, timeutil.NewMockClock(time.Unix(0, 0)))
	require.NoError(t, err)
	assert.Nil(t, cache)

	mem := fsutil.NewMemoryFileSystem()
	r := &Runner{Config: cfg, FS: mem, Basemap: layer, Loader: staticLoader(testutil.RegionalTable(20))}
	err = r.Run(context.Background())
	require.Error(t, err)

	var se *basemap.ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 503, se.StatusCode)
	assert.Empty(t, mem.Files())
}

func TestNewBasemap(t *testing.T) {
	cfg := config.Empty()
	cfg.BasemapProvider = ptr("none")
	layer, cache, err := NewBasemap(cfg, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, layer)
	assert.Nil(t, cache)

	cfg = config.Empty()
	layer, _, err = NewBasemap(cfg, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, layer)
	assert.Contains(t, layer.Attribution(), "CARTO")

	cfg.BasemapProvider = ptr("Nope")
	_, _, err = NewBasemap(cfg, nil, nil)
	assert.Error(t, err)
}

func TestClusterRegion(t *testing.T) {
	gt, err := geo.MakeGeo(testutil.ScenarioTable(), geo.DefaultOptions())
	require.NoError(t, err)

	clusters, err := ClusterRegion(gt, "region", "A", cluster.Options{K: 2, Seed: 42})
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, 4, cluster.Total(clusters))
	for _, c := range clusters {
		assert.Equal(t, 2, c.Count)
	}

	_, err = ClusterRegion(gt, "kraj", "A", cluster.Options{K: 2})
	assert.True(t, errors.Is(err, geo.ErrInput))

	_, err = ClusterRegion(gt, "region", "B", cluster.Options{K: 1})
	assert.True(t, errors.Is(err, cluster.ErrClusterCount))
}

func TestOptionsFromDefaults(t *testing.T) {
	cfg := config.Defaults()

	ropts, err := RegionalOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, "Jihomoravský kraj", ropts.RegionName)
	assert.Equal(t, color.NRGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}, ropts.InTownColor)

	copts := ClusterOptions(cfg)
	assert.Equal(t, cluster.DefaultOptions(), copts)

	assert.Equal(t, geo.DefaultOptions(), GeoOptions(cfg))
	assert.Equal(t, table.OpenOptions{Table: "accidents"}, OpenOptions(cfg))

	fo := ClusterFigureOptions(cfg)
	assert.Greater(t, fo.Width, fo.Height, "cluster figure is landscape")
}
