package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/vg"

	"github.com/alxndrch/accimap/internal/basemap"
	"github.com/alxndrch/accimap/internal/cluster"
	"github.com/alxndrch/accimap/internal/fsutil"
	"github.com/alxndrch/accimap/internal/geo"
	"github.com/alxndrch/accimap/internal/table"
	"github.com/alxndrch/accimap/internal/testutil"
)

type fakeBasemap struct {
	img     image.Image
	err     error
	extents []orb.Bound
	crs     []string
}

func (f *fakeBasemap) Image(_ context.Context, extent orb.Bound, crs string) (image.Image, error) {
	f.extents = append(f.extents, extent)
	f.crs = append(f.crs, crs)
	return f.img, f.err
}

func solidImage(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func scenarioGeo(t *testing.T) *geo.Table {
	t.Helper()
	gt, err := geo.MakeGeo(testutil.ScenarioTable(), geo.DefaultOptions())
	require.NoError(t, err)
	return gt
}

func smallRegional(region string) RegionalOptions {
	opts := DefaultRegionalOptions()
	opts.Region = region
	opts.Width, opts.Height = 3*vg.Inch, 4*vg.Inch
	return opts
}

func TestRegionalFigureScenario(t *testing.T) {
	testutil.MuteLogs(t)
	bm := &fakeBasemap{img: solidImage(color.RGBA{R: 200, G: 220, B: 240, A: 255})}

	fig, err := RegionalFigure(context.Background(), scenarioGeo(t), smallRegional("A"), bm)
	require.NoError(t, err)

	require.Len(t, fig.Panels, 2)
	require.Len(t, fig.Views, 2)
	assert.Equal(t, []orb.Point{{1, 1}, {100, 100}}, fig.Views[0].Layers[0].Points)
	assert.Equal(t, []orb.Point{{2, 2}, {101, 101}}, fig.Views[1].Layers[0].Points)
	assert.Empty(t, fig.Warnings)
	assert.Equal(t, "Nehody: A", fig.Title)

	// One basemap for both panels, in the data CRS, covering every point.
	require.Len(t, bm.extents, 1)
	assert.Equal(t, geo.CRSKrovak, bm.crs[0])
	ext := bm.extents[0]
	assert.True(t, ext.Contains(orb.Point{1, 1}))
	assert.True(t, ext.Contains(orb.Point{101, 101}))
	assert.Equal(t, ext, fig.Views[0].Extent)
	assert.Equal(t, ext, fig.Views[1].Extent)

	var buf bytes.Buffer
	require.NoError(t, fig.WritePNG(&buf, 40))
	cfg := testutil.AssertPNG(t, buf.Bytes())
	assert.Equal(t, 120, cfg.Width)
	assert.Equal(t, 160, cfg.Height)
}

func TestRegionalFigureEmptyRegion(t *testing.T) {
	rec := testutil.CaptureLogs(t)
	bm := &fakeBasemap{}

	fig, err := RegionalFigure(context.Background(), scenarioGeo(t), smallRegional("ZZZ"), bm)
	require.NoError(t, err)

	assert.Empty(t, bm.extents, "empty region must not fetch a basemap")
	require.Len(t, fig.Warnings, 1)
	assert.Contains(t, fig.Warnings[0], "EmptyResult")
	assert.Contains(t, strings.Join(rec.Lines(), "\n"), "warning: EmptyResult")
	for _, v := range fig.Views {
		assert.Empty(t, v.Layers[0].Points)
	}

	var buf bytes.Buffer
	require.NoError(t, fig.WritePNG(&buf, 30))
	testutil.AssertPNG(t, buf.Bytes())
}

func TestRegionalFigureEmptyCategory(t *testing.T) {
	testutil.MuteLogs(t)
	in := table.New(
		[]string{"d", "e", "region", "p5a"},
		[][]string{{"1", "1", "A", "1"}, {"5", "5", "A", "1"}},
	)
	gt, err := geo.MakeGeo(in, geo.DefaultOptions())
	require.NoError(t, err)

	fig, err := RegionalFigure(context.Background(), gt, smallRegional("A"), nil)
	require.NoError(t, err)
	require.Len(t, fig.Warnings, 1)
	assert.Contains(t, fig.Warnings[0], "mimo obec")
}

func TestRegionalFigureEmptyInput(t *testing.T) {
	testutil.MuteLogs(t)
	gt, err := geo.MakeGeo(table.New(nil, nil), geo.DefaultOptions())
	require.NoError(t, err)

	fig, err := RegionalFigure(context.Background(), gt, smallRegional("JHM"), &fakeBasemap{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, fig.WritePNG(&buf, 30))
	testutil.AssertPNG(t, buf.Bytes())
}

func TestRegionalFigureMissingColumn(t *testing.T) {
	in := table.New([]string{"d", "e", "kraj"}, [][]string{{"1", "1", "A"}})
	gt, err := geo.MakeGeo(in, geo.DefaultOptions())
	require.NoError(t, err)

	_, err = RegionalFigure(context.Background(), gt, smallRegional("A"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, geo.ErrInput))
}

func TestRegionalFigureBasemapError(t *testing.T) {
	testutil.MuteLogs(t)
	bm := &fakeBasemap{err: &basemap.ServiceError{URL: "http://tiles/1/2/3.png", StatusCode: 503, Err: errors.New("unavailable")}}

	_, err := RegionalFigure(context.Background(), scenarioGeo(t), smallRegional("A"), bm)
	require.Error(t, err)
	var se *basemap.ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 503, se.StatusCode)
}

func scenarioClusters(t *testing.T, gt *geo.Table) []cluster.Cluster {
	t.Helper()
	res, err := cluster.KMeans(gt.FilterRegion("region", "A").Points(), cluster.Options{K: 2, Seed: 42})
	require.NoError(t, err)
	return cluster.Aggregate(res)
}

func smallCluster(region string) ClusterOptions {
	opts := DefaultClusterOptions()
	opts.Region = region
	opts.Width, opts.Height = 4*vg.Inch, 3*vg.Inch
	return opts
}

func TestClusterFigure(t *testing.T) {
	testutil.MuteLogs(t)
	gt := scenarioGeo(t)
	clusters := scenarioClusters(t, gt)
	bm := &fakeBasemap{img: solidImage(color.White)}

	fig, err := ClusterFigure(context.Background(), gt, clusters, smallCluster("A"), bm)
	require.NoError(t, err)

	require.Len(t, fig.Panels, 1)
	assert.NotNil(t, fig.ColorBar)
	assert.Len(t, bm.extents, 1)

	require.Len(t, fig.Views, 1)
	layers := fig.Views[0].Layers
	require.Len(t, layers, 2)
	assert.Len(t, layers[0].Points, 4)
	assert.Equal(t, []float64{2, 2}, layers[1].Values)
	assert.Equal(t, []string{"shluk 0", "shluk 1"}, layers[1].Labels)

	var buf bytes.Buffer
	require.NoError(t, fig.WritePNG(&buf, 40))
	cfg := testutil.AssertPNG(t, buf.Bytes())
	assert.Equal(t, 160, cfg.Width)
}

func TestClusterFigureNoClusters(t *testing.T) {
	testutil.MuteLogs(t)
	fig, err := ClusterFigure(context.Background(), scenarioGeo(t), nil, smallCluster("ZZZ"), nil)
	require.NoError(t, err)
	assert.Nil(t, fig.ColorBar)
	require.Len(t, fig.Warnings, 1)

	var buf bytes.Buffer
	require.NoError(t, fig.WritePNG(&buf, 30))
	testutil.AssertPNG(t, buf.Bytes())
}

func TestBubbleRadius(t *testing.T) {
	minR, maxR := vg.Points(4), vg.Points(20)
	assert.Equal(t, minR, bubbleRadius(1, 1, 100, minR, maxR))
	assert.Equal(t, maxR, bubbleRadius(100, 1, 100, minR, maxR))
	assert.Equal(t, maxR, bubbleRadius(7, 7, 7, minR, maxR))

	// Area, not radius, is proportional to the count.
	mid := bubbleRadius(25, 0, 100, minR, maxR)
	assert.InDelta(t, float64(minR+(maxR-minR)/2), float64(mid), 1e-9)
}

func TestSaveWritesPNG(t *testing.T) {
	testutil.MuteLogs(t)
	fig, err := RegionalFigure(context.Background(), scenarioGeo(t), smallRegional("A"), nil)
	require.NoError(t, err)

	mem := fsutil.NewMemoryFileSystem()
	path := filepath.Join("out", "maps", "geo1.png")
	require.NoError(t, fig.Save(mem, path, 30))

	assert.True(t, mem.Exists(filepath.Join("out", "maps")))
	data, err := mem.ReadFile(path)
	require.NoError(t, err)
	testutil.AssertPNG(t, data)
}

func TestSaveOnDisk(t *testing.T) {
	testutil.MuteLogs(t)
	fig, err := RegionalFigure(context.Background(), scenarioGeo(t), smallRegional("A"), nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "geo1.png")
	require.NoError(t, fig.Save(fsutil.OSFileSystem{}, path, 30))

	data, err := fsutil.OSFileSystem{}.ReadFile(path)
	require.NoError(t, err)
	testutil.AssertPNG(t, data)
}

func TestSaveErrors(t *testing.T) {
	testutil.MuteLogs(t)
	fig, err := RegionalFigure(context.Background(), scenarioGeo(t), smallRegional("A"), nil)
	require.NoError(t, err)

	closeErr := errors.New("disk full")
	mem := fsutil.NewMemoryFileSystem()
	mem.CloseErr = closeErr
	err = fig.Save(mem, "geo1.png", 30)
	require.Error(t, err)
	assert.True(t, errors.Is(err, closeErr))

	createErr := errors.New("read-only")
	mem = fsutil.NewMemoryFileSystem()
	mem.CreateErr = createErr
	err = fig.Save(mem, "geo1.png", 30)
	assert.True(t, errors.Is(err, createErr))
}

func TestShow(t *testing.T) {
	testutil.MuteLogs(t)
	gt := scenarioGeo(t)
	fig, err := ClusterFigure(context.Background(), gt, scenarioClusters(t, gt), smallCluster("A"), nil)
	require.NoError(t, err)

	var opened []string
	opener := OpenerFunc(func(path string) error {
		opened = append(opened, path)
		return nil
	})

	mem := fsutil.NewMemoryFileSystem()
	page, err := Show(mem, fig, filepath.Join("out", "geo2.png"), opener)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("out", "geo2.html"), page)
	assert.Equal(t, []string{page}, opened)

	html, err := mem.ReadFile(page)
	require.NoError(t, err)
	assert.Contains(t, string(html), "echarts")
	assert.Contains(t, string(html), "shluk 1")
	assert.Contains(t, string(html), "data:image/png;base64,", "the composed figure with its basemap is embedded")
	assert.Less(t, strings.Index(string(html), "data:image/png"), strings.LastIndex(string(html), "</body>"))

	// Without a figure path the page goes to a temporary file.
	page, err = Show(mem, fig, "", opener)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(page), "accimap-"))
	assert.True(t, strings.HasSuffix(page, ".html"))
	assert.Len(t, opened, 2)
}

func TestShowOpenerError(t *testing.T) {
	testutil.MuteLogs(t)
	fig, err := RegionalFigure(context.Background(), scenarioGeo(t), smallRegional("A"), nil)
	require.NoError(t, err)

	boom := errors.New("no display")
	page, err := Show(fsutil.NewMemoryFileSystem(), fig, "geo1.png", OpenerFunc(func(string) error { return boom }))
	assert.Equal(t, "geo1.html", page)
	assert.True(t, errors.Is(err, boom))
}

func TestWriteHTMLFallbackColors(t *testing.T) {
	fig := &Figure{
		Title: "test",
		Views: []View{{
			Title:  "panel",
			Extent: orb.Bound{Max: orb.Point{10, 10}},
			Layers: []Layer{{Name: "uncolored", Points: []orb.Point{{1, 2}}, Size: 4}},
		}},
	}
	var buf bytes.Buffer
	require.NoError(t, fig.WriteHTML(&buf))
	assert.Contains(t, buf.String(), hexString(generateColors(1)[0]))
	assert.NotContains(t, buf.String(), "data:image/png", "a figure without panels has nothing to embed")
}

func TestBrowserOpenerIsDefault(t *testing.T) {
	var o Opener = BrowserOpener{}
	assert.Equal(t, io.Discard, orDiscard(o.(BrowserOpener).Stdout))

	var buf bytes.Buffer
	assert.Equal(t, io.Writer(&buf), orDiscard(&buf))
}
