package basemap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"
)

func TestCacheMigratesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiles.db")
	cache, err := OpenCache(path)
	if err != nil {
		t.Fatalf("OpenCache failed: %v", err)
	}

	version, dirty, err := cache.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("schema version = %d dirty = %v, want 1 clean", version, dirty)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopening an up-to-date cache is a no-op.
	cache, err = OpenCache(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer cache.Close()
	if version, _, err := cache.SchemaVersion(); err != nil || version != 1 {
		t.Errorf("after reopen: version = %d, err = %v", version, err)
	}
}

func TestCacheGetPut(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "tiles.db"))
	if err != nil {
		t.Fatalf("OpenCache failed: %v", err)
	}
	defer cache.Close()

	ctx := context.Background()
	tile := maptile.New(558, 350, 10)

	if _, ok, err := cache.Get(ctx, DefaultProvider, tile); err != nil || ok {
		t.Fatalf("Get on empty cache = %v, %v", ok, err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := cache.Put(ctx, DefaultProvider, tile, []byte("v1"), now); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := cache.Put(ctx, DefaultProvider, tile, []byte("v2"), now.Add(time.Hour)); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	data, ok, err := cache.Get(ctx, DefaultProvider, tile)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if string(data) != "v2" {
		t.Errorf("Get = %q, want the replaced tile v2", data)
	}

	// Providers do not share tiles.
	if _, ok, err := cache.Get(ctx, "OpenStreetMap.Mapnik", tile); err != nil || ok {
		t.Errorf("other provider Get = %v, %v", ok, err)
	}

	n, err := cache.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}
