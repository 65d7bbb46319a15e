package basemap

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/paulmach/orb/maptile"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Cache persists raw tile bytes in SQLite, keyed by provider and tile.
type Cache struct {
	db *sql.DB
}

// OpenCache opens or creates the tile cache at path and brings its schema
// up to date.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open tile cache: %w", err)
	}
	// A single connection avoids SQLITE_BUSY between the migrator and us.
	db.SetMaxOpenConns(1)

	c := &Cache{db: db}
	if err := c.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(c.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

func (c *Cache) migrateUp() error {
	m, err := c.newMigrate()
	if err != nil {
		return err
	}
	// Not closing m: that would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("tile cache migration failed: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version.
func (c *Cache) SchemaVersion() (version uint, dirty bool, err error) {
	m, err := c.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Get returns the cached bytes for a tile. ok is false on a miss.
func (c *Cache) Get(ctx context.Context, provider string, t maptile.Tile) (data []byte, ok bool, err error) {
	err = c.db.QueryRowContext(ctx,
		`SELECT data FROM tiles WHERE provider = ? AND zoom = ? AND x = ? AND y = ?`,
		provider, int(t.Z), int64(t.X), int64(t.Y),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached tile %v: %w", t, err)
	}
	return data, true, nil
}

// Put stores or replaces a tile.
func (c *Cache) Put(ctx context.Context, provider string, t maptile.Tile, data []byte, fetchedAt time.Time) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tiles (provider, zoom, x, y, data, fetched_at) VALUES (?, ?, ?, ?, ?, ?)`,
		provider, int(t.Z), int64(t.X), int64(t.Y), data, fetchedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store tile %v: %w", t, err)
	}
	return nil
}

// Len returns the number of cached tiles.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tiles`).Scan(&n)
	return n, err
}

// Close releases the database.
func (c *Cache) Close() error {
	return c.db.Close()
}
