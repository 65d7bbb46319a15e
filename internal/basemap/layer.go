package basemap

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"net/http"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"golang.org/x/image/draw"

	"github.com/alxndrch/accimap/internal/geo"
	"github.com/alxndrch/accimap/internal/httputil"
	"github.com/alxndrch/accimap/internal/monitoring"
	"github.com/alxndrch/accimap/internal/timeutil"
)

const (
	// TileSize is the edge of a standard XYZ tile in pixels.
	TileSize = 256

	// DefaultMaxTiles bounds how many tiles one basemap may download.
	DefaultMaxTiles = 64
	// DefaultWarpWidth is the output width of the warped basemap in pixels.
	DefaultWarpWidth = 1200
	// DefaultRetryBackoff is multiplied by the attempt number between retries.
	DefaultRetryBackoff = time.Second

	maxTileBytes = 8 << 20
	maxLatitude  = 85.05112878
	warpStep     = 16
)

// ServiceError reports a tile request that failed after all retries.
// StatusCode is zero when no HTTP response was received.
type ServiceError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("basemap tile %s: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("basemap tile %s: %v", e.URL, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Options configures a Layer.
type Options struct {
	Provider Provider
	APIKey   string
	// Zoom fixes the tile zoom; zero chooses it from the extent.
	Zoom      int
	MaxTiles  int
	WarpWidth int

	Retries      int
	RetryBackoff time.Duration

	Client httputil.HTTPClient
	Clock  timeutil.Clock
	// Cache is optional; tiles are always kept in memory for the layer's
	// lifetime.
	Cache *Cache
}

// Layer produces basemap images for plot extents.
type Layer struct {
	opts Options
	mem  map[maptile.Tile]image.Image

	// Fetched counts tiles downloaded over HTTP.
	Fetched int
}

// NewLayer applies defaults to opts. A provider without a URL yields a
// disabled layer whose Image returns nil.
func NewLayer(opts Options) *Layer {
	if opts.MaxTiles <= 0 {
		opts.MaxTiles = DefaultMaxTiles
	}
	if opts.WarpWidth <= 0 {
		opts.WarpWidth = DefaultWarpWidth
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.Provider.MaxZoom <= 0 {
		opts.Provider.MaxZoom = 19
	}
	if opts.Client == nil {
		opts.Client = httputil.NewStandardClient(nil)
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Layer{opts: opts, mem: make(map[maptile.Tile]image.Image)}
}

// Disabled reports whether the layer draws nothing.
func (l *Layer) Disabled() bool {
	return l == nil || l.opts.Provider.URL == ""
}

// Attribution returns the provider's credit line.
func (l *Layer) Attribution() string {
	if l.Disabled() {
		return ""
	}
	return l.opts.Provider.Attribution
}

// Image returns a basemap covering extent, warped into crs so that pixel
// (0,0) is the extent's top-left corner. The image height follows the
// extent aspect ratio. A disabled layer returns nil, nil.
func (l *Layer) Image(ctx context.Context, extent orb.Bound, crs string) (image.Image, error) {
	if l.Disabled() {
		return nil, nil
	}
	proj, ok := geo.LookupProjection(crs)
	if !ok {
		return nil, &geo.InputError{Reason: fmt.Sprintf("unsupported CRS %q", crs)}
	}
	w, h := extent.Max[0]-extent.Min[0], extent.Max[1]-extent.Min[1]
	if !(w > 0 && h > 0) {
		return nil, fmt.Errorf("basemap extent %v is empty", extent)
	}

	ll := clampLatitude(geo.ToWGS84Bound(proj, extent))
	z := l.opts.Zoom
	if z <= 0 {
		z = ChooseZoom(ll, l.opts.Provider.MaxZoom, l.opts.MaxTiles)
	} else if z > l.opts.Provider.MaxZoom {
		z = l.opts.Provider.MaxZoom
	}
	topLeft, bottomRight := TileRange(ll, maptile.Zoom(z))
	monitoring.Logf("basemap %s: zoom %d, %d tiles", l.opts.Provider.Name, z, tileCount(topLeft, bottomRight))

	mosaic, err := l.mosaic(ctx, topLeft, bottomRight)
	if err != nil {
		return nil, err
	}
	return warp(mosaic, topLeft, proj, extent, l.opts.WarpWidth), nil
}

// ChooseZoom picks a zoom from the lon/lat span, clamps it to maxZoom and
// lowers it until the tile range fits in maxTiles.
func ChooseZoom(ll orb.Bound, maxZoom, maxTiles int) int {
	lon, lat := ll.Max[0]-ll.Min[0], ll.Max[1]-ll.Min[1]
	z := maxZoom
	if lon > 0 && lat > 0 {
		zl := int(math.Ceil(math.Log2(720 / lon)))
		za := int(math.Ceil(math.Log2(720 / lat)))
		z = min(max(zl, za), maxZoom)
	}
	z = max(z, 0)
	for z > 0 {
		lo, hi := TileRange(ll, maptile.Zoom(z))
		if tileCount(lo, hi) <= maxTiles {
			break
		}
		z--
	}
	return z
}

// TileRange returns the top-left and bottom-right tiles covering ll.
func TileRange(ll orb.Bound, z maptile.Zoom) (topLeft, bottomRight maptile.Tile) {
	ll = clampLatitude(ll)
	topLeft = maptile.At(orb.Point{ll.Min[0], ll.Max[1]}, z)
	bottomRight = maptile.At(orb.Point{ll.Max[0], ll.Min[1]}, z)
	return topLeft, bottomRight
}

func tileCount(topLeft, bottomRight maptile.Tile) int {
	return int(bottomRight.X-topLeft.X+1) * int(bottomRight.Y-topLeft.Y+1)
}

func clampLatitude(b orb.Bound) orb.Bound {
	b.Min[1] = math.Max(b.Min[1], -maxLatitude)
	b.Max[1] = math.Min(b.Max[1], maxLatitude)
	return b
}

// mosaic fetches the tiles one after another and stitches them.
func (l *Layer) mosaic(ctx context.Context, topLeft, bottomRight maptile.Tile) (*image.RGBA, error) {
	nx := int(bottomRight.X - topLeft.X + 1)
	ny := int(bottomRight.Y - topLeft.Y + 1)
	out := image.NewRGBA(image.Rect(0, 0, nx*TileSize, ny*TileSize))

	for ty := topLeft.Y; ty <= bottomRight.Y; ty++ {
		for tx := topLeft.X; tx <= bottomRight.X; tx++ {
			t := maptile.New(tx, ty, topLeft.Z)
			img, err := l.tile(ctx, t)
			if err != nil {
				return nil, err
			}
			x0 := int(tx-topLeft.X) * TileSize
			y0 := int(ty-topLeft.Y) * TileSize
			cell := image.Rect(x0, y0, x0+TileSize, y0+TileSize)
			if img.Bounds().Dx() == TileSize && img.Bounds().Dy() == TileSize {
				draw.Draw(out, cell, img, img.Bounds().Min, draw.Src)
			} else {
				draw.BiLinear.Scale(out, cell, img, img.Bounds(), draw.Src, nil)
			}
		}
	}
	return out, nil
}

// tile returns a decoded tile from memory, the persistent cache or the
// network, in that order.
func (l *Layer) tile(ctx context.Context, t maptile.Tile) (image.Image, error) {
	if img, ok := l.mem[t]; ok {
		return img, nil
	}

	key := l.opts.Provider.CacheKey()
	url := l.opts.Provider.TileURL(t, l.opts.APIKey)

	var data []byte
	if l.opts.Cache != nil {
		cached, ok, err := l.opts.Cache.Get(ctx, key, t)
		if err != nil {
			monitoring.Warnf("tile cache read failed: %v", err)
		} else if ok {
			data = cached
		}
	}

	fromNetwork := data == nil
	if fromNetwork {
		var err error
		data, err = l.fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		l.Fetched++
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &ServiceError{URL: url, StatusCode: http.StatusOK, Err: fmt.Errorf("decode tile: %w", err)}
	}
	if fromNetwork && l.opts.Cache != nil {
		if err := l.opts.Cache.Put(ctx, key, t, data, l.opts.Clock.Now()); err != nil {
			monitoring.Warnf("tile cache write failed: %v", err)
		}
	}
	l.mem[t] = img
	return img, nil
}

// fetch downloads one tile, retrying transport failures, 429 and 5xx
// responses with linear backoff.
func (l *Layer) fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	var lastStatus int
	for attempt := 0; attempt <= l.opts.Retries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * l.opts.RetryBackoff
			monitoring.Logf("retrying tile %s in %v (attempt %d/%d)", url, wait, attempt, l.opts.Retries)
			if err := l.opts.Clock.Sleep(ctx, wait); err != nil {
				return nil, &ServiceError{URL: url, StatusCode: lastStatus, Err: err}
			}
		}
		data, status, err := httputil.GetBytes(ctx, l.opts.Client, url, maxTileBytes)
		if err == nil {
			return data, nil
		}
		lastErr, lastStatus = err, status
		if ctx.Err() != nil || !retryable(status) {
			break
		}
	}
	return nil, &ServiceError{URL: url, StatusCode: lastStatus, Err: lastErr}
}

func retryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

// warp resamples the Web Mercator mosaic onto a regular grid in the data
// CRS. The data-to-tile mapping is computed exactly every warpStep pixels
// and interpolated bilinearly in between.
func warp(mosaic *image.RGBA, origin maptile.Tile, proj geo.Projection, extent orb.Bound, width int) *image.RGBA {
	w, h := extent.Max[0]-extent.Min[0], extent.Max[1]-extent.Min[1]
	height := max(int(math.Round(float64(width)*h/w)), 1)
	out := image.NewRGBA(image.Rect(0, 0, width, height))

	gw := (width+warpStep-1)/warpStep + 1
	gh := (height+warpStep-1)/warpStep + 1
	grid := make([]orb.Point, gw*gh)
	for gy := 0; gy < gh; gy++ {
		for gx := 0; gx < gw; gx++ {
			px := float64(gx * warpStep)
			py := float64(gy * warpStep)
			data := orb.Point{
				extent.Min[0] + px/float64(width)*w,
				extent.Max[1] - py/float64(height)*h,
			}
			f := maptile.Fraction(proj.ToWGS84(data), origin.Z)
			grid[gy*gw+gx] = orb.Point{
				(f[0] - float64(origin.X)) * TileSize,
				(f[1] - float64(origin.Y)) * TileSize,
			}
		}
	}

	mb := mosaic.Bounds()
	for y := 0; y < height; y++ {
		fy := (float64(y) + 0.5) / warpStep
		gy := min(int(fy), gh-2)
		ty := fy - float64(gy)
		for x := 0; x < width; x++ {
			fx := (float64(x) + 0.5) / warpStep
			gx := min(int(fx), gw-2)
			tx := fx - float64(gx)

			p00, p10 := grid[gy*gw+gx], grid[gy*gw+gx+1]
			p01, p11 := grid[(gy+1)*gw+gx], grid[(gy+1)*gw+gx+1]
			sx := lerp(lerp(p00[0], p10[0], tx), lerp(p01[0], p11[0], tx), ty)
			sy := lerp(lerp(p00[1], p10[1], tx), lerp(p01[1], p11[1], tx), ty)

			ix, iy := int(math.Floor(sx)), int(math.Floor(sy))
			if ix < mb.Min.X || iy < mb.Min.Y || ix >= mb.Max.X || iy >= mb.Max.Y {
				continue // transparent
			}
			out.SetRGBA(x, y, mosaic.RGBAAt(ix, iy))
		}
	}
	return out
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }
