package basemap

import (
	"context"
	"errors"
	"image"
	"image/color"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alxndrch/accimap/internal/geo"
	"github.com/alxndrch/accimap/internal/httputil"
	"github.com/alxndrch/accimap/internal/testutil"
	"github.com/alxndrch/accimap/internal/timeutil"
)

// brnoWGS84 spans four zoom-10 tiles.
var brnoWGS84 = orb.Bound{Min: orb.Point{16.5, 49.1}, Max: orb.Point{16.7, 49.3}}

var tileColor = color.RGBA{R: 10, G: 120, B: 200, A: 255}

func TestChooseZoom(t *testing.T) {
	jhm := orb.Bound{Min: orb.Point{15.4, 48.5}, Max: orb.Point{17.8, 49.7}}
	tests := []struct {
		name     string
		maxZoom  int
		maxTiles int
		want     int
	}{
		{"span driven", 20, 64, 10},
		{"tile budget", 20, 20, 9},
		{"tight budget", 20, 6, 8},
		{"provider max zoom", 7, 64, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChooseZoom(jhm, tt.maxZoom, tt.maxTiles))
		})
	}

	// Degenerate spans fall back to the provider's maximum, then the budget.
	pt := orb.Bound{Min: orb.Point{16.6, 49.2}, Max: orb.Point{16.6, 49.2}}
	assert.Equal(t, 19, ChooseZoom(pt, 19, 64))
}

func TestTileRange(t *testing.T) {
	tl, br := TileRange(brnoWGS84, 10)
	assert.Equal(t, uint32(558), tl.X)
	assert.Equal(t, uint32(350), tl.Y)
	assert.Equal(t, uint32(559), br.X)
	assert.Equal(t, uint32(351), br.Y)
	assert.Equal(t, 4, tileCount(tl, br))
}

func newTestLayer(t *testing.T, ts *testutil.TileServer, opts Options) *Layer {
	t.Helper()
	opts.Provider = CustomProvider(ts.Template())
	if opts.Client == nil {
		opts.Client = httputil.NewTileClient(5*time.Second, "accimap/test")
	}
	if opts.Zoom == 0 {
		opts.Zoom = 10
	}
	if opts.WarpWidth == 0 {
		opts.WarpWidth = 64
	}
	return NewLayer(opts)
}

func TestLayerImage(t *testing.T) {
	testutil.MuteLogs(t)
	ts := testutil.NewTileServer(t, tileColor)
	layer := newTestLayer(t, ts, Options{})

	img, err := layer.Image(context.Background(), brnoWGS84, geo.CRSWGS84)
	require.NoError(t, err)
	require.NotNil(t, img)

	assert.Equal(t, image.Rect(0, 0, 64, 64), img.Bounds())
	assert.Equal(t, tileColor, color.RGBAModel.Convert(img.At(32, 32)))
	assert.Equal(t, tileColor, color.RGBAModel.Convert(img.At(0, 63)))

	assert.Equal(t, 4, ts.Requests())
	assert.Equal(t, 4, layer.Fetched)
	for _, ua := range ts.UserAgents() {
		assert.Equal(t, "accimap/test", ua)
	}

	// A second figure over the same extent is served from memory.
	_, err = layer.Image(context.Background(), brnoWGS84, geo.CRSWGS84)
	require.NoError(t, err)
	assert.Equal(t, 4, ts.Requests())
}

func TestLayerImageKrovak(t *testing.T) {
	testutil.MuteLogs(t)
	ts := testutil.NewTileServer(t, tileColor)
	layer := newTestLayer(t, ts, Options{Zoom: 9, WarpWidth: 80})

	extent := orb.Bound{Min: orb.Point{-610000, -1170000}, Max: orb.Point{-590000, -1155000}}
	img, err := layer.Image(context.Background(), extent, geo.CRSKrovak)
	require.NoError(t, err)

	// Height follows the 4:3 extent aspect.
	assert.Equal(t, image.Rect(0, 0, 80, 60), img.Bounds())
	assert.Equal(t, tileColor, color.RGBAModel.Convert(img.At(40, 30)))
	assert.Positive(t, ts.Requests())
}

func TestLayerDisabled(t *testing.T) {
	var nilLayer *Layer
	img, err := nilLayer.Image(context.Background(), brnoWGS84, geo.CRSWGS84)
	assert.NoError(t, err)
	assert.Nil(t, img)

	layer := NewLayer(Options{})
	assert.True(t, layer.Disabled())
	img, err = layer.Image(context.Background(), brnoWGS84, geo.CRSWGS84)
	assert.NoError(t, err)
	assert.Nil(t, img)
	assert.Empty(t, layer.Attribution())
}

func TestLayerRejectsBadInput(t *testing.T) {
	testutil.MuteLogs(t)
	ts := testutil.NewTileServer(t, tileColor)
	layer := newTestLayer(t, ts, Options{})

	_, err := layer.Image(context.Background(), brnoWGS84, "EPSG:2065")
	assert.True(t, errors.Is(err, geo.ErrInput))

	_, err = layer.Image(context.Background(), orb.Bound{}, geo.CRSWGS84)
	assert.Error(t, err)
	assert.Zero(t, ts.Requests())
}

func TestLayerRetriesWithBackoff(t *testing.T) {
	testutil.MuteLogs(t)
	mock := httputil.NewMockHTTPClient()
	for i := 0; i < 3; i++ {
		mock.AddResponse(http.StatusServiceUnavailable, nil)
	}
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	layer := NewLayer(Options{
		Provider: CustomProvider("http://tiles.invalid/{z}/{x}/{y}.png"),
		Zoom:     10,
		Retries:  2,
		Client:   mock,
		Clock:    clock,
	})
	_, err := layer.Image(context.Background(), brnoWGS84, geo.CRSWGS84)

	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "http://tiles.invalid/10/558/350.png", se.URL)
	assert.Equal(t, 3, mock.RequestCount())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.Sleeps())
}

func TestLayerRetryRecovers(t *testing.T) {
	testutil.MuteLogs(t)
	mock := httputil.NewMockHTTPClient()
	mock.AddErrorResponse(errors.New("connection reset"))
	for i := 0; i < 4; i++ {
		mock.AddResponse(http.StatusOK, testutil.PNGTile(tileColor, 256))
	}
	clock := timeutil.NewMockClock(time.Time{})

	layer := NewLayer(Options{
		Provider:     CustomProvider("http://tiles.invalid/{z}/{x}/{y}.png"),
		Zoom:         10,
		WarpWidth:    32,
		Retries:      1,
		RetryBackoff: 250 * time.Millisecond,
		Client:       mock,
		Clock:        clock,
	})
	img, err := layer.Image(context.Background(), brnoWGS84, geo.CRSWGS84)
	require.NoError(t, err)
	assert.NotNil(t, img)
	assert.Equal(t, 5, mock.RequestCount())
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, clock.Sleeps())
}

func TestLayerClientErrorNotRetried(t *testing.T) {
	testutil.MuteLogs(t)
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusUnauthorized, []byte("missing api key"))
	clock := timeutil.NewMockClock(time.Time{})

	layer := NewLayer(Options{
		Provider: CustomProvider("http://tiles.invalid/{z}/{x}/{y}.png"),
		Zoom:     10,
		Retries:  3,
		Client:   mock,
		Clock:    clock,
	})
	_, err := layer.Image(context.Background(), brnoWGS84, geo.CRSWGS84)

	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, 1, mock.RequestCount())
	assert.Empty(t, clock.Sleeps())
}

func TestLayerUndecodableTile(t *testing.T) {
	testutil.MuteLogs(t)
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, []byte("<html>rate limited</html>"))

	layer := NewLayer(Options{
		Provider: CustomProvider("http://tiles.invalid/{z}/{x}/{y}.png"),
		Zoom:     10,
		Client:   mock,
	})
	_, err := layer.Image(context.Background(), brnoWGS84, geo.CRSWGS84)

	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.Contains(t, se.Error(), "decode tile")
}

func TestLayerCancelledContext(t *testing.T) {
	testutil.MuteLogs(t)
	ts := testutil.NewTileServer(t, tileColor)
	layer := newTestLayer(t, ts, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := layer.Image(ctx, brnoWGS84, geo.CRSWGS84)

	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLayerPersistentCache(t *testing.T) {
	testutil.MuteLogs(t)
	ts := testutil.NewTileServer(t, tileColor)
	cache, err := OpenCache(filepath.Join(t.TempDir(), "tiles.db"))
	require.NoError(t, err)
	defer cache.Close()

	first := newTestLayer(t, ts, Options{Cache: cache})
	_, err = first.Image(context.Background(), brnoWGS84, geo.CRSWGS84)
	require.NoError(t, err)
	assert.Equal(t, 4, ts.Requests())

	n, err := cache.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// A fresh layer (new process) reads every tile from SQLite.
	second := newTestLayer(t, ts, Options{Cache: cache})
	img, err := second.Image(context.Background(), brnoWGS84, geo.CRSWGS84)
	require.NoError(t, err)
	assert.Equal(t, tileColor, color.RGBAModel.Convert(img.At(10, 10)))
	assert.Equal(t, 4, ts.Requests())
	assert.Zero(t, second.Fetched)
}
