package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alxndrch/accimap/internal/basemap"
	"github.com/alxndrch/accimap/internal/geo"
	"github.com/alxndrch/accimap/internal/monitoring"
	"github.com/alxndrch/accimap/internal/version"
)

// DefaultConfigPath is where cmd/accimap looks for a config file when
// -config is not given. A missing file there is not an error.
const DefaultConfigPath = "accimap.json"

// MapConfig is the root configuration for one accimap run.
// Every field is optional; the Get* accessors supply the default for any
// field left nil, so partial JSON or YAML files are safe.
type MapConfig struct {
	// Input table
	Input      *string `json:"input,omitempty" yaml:"input,omitempty"`
	InputTable *string `json:"input_table,omitempty" yaml:"input_table,omitempty"` // SQLite table name
	InputSheet *string `json:"input_sheet,omitempty" yaml:"input_sheet,omitempty"` // XLSX sheet name

	// Column mapping
	XColumn        *string `json:"x_column,omitempty" yaml:"x_column,omitempty"`
	YColumn        *string `json:"y_column,omitempty" yaml:"y_column,omitempty"`
	RegionColumn   *string `json:"region_column,omitempty" yaml:"region_column,omitempty"`
	LocationColumn *string `json:"location_column,omitempty" yaml:"location_column,omitempty"`
	InTownCode     *string `json:"in_town_code,omitempty" yaml:"in_town_code,omitempty"`
	OutOfTownCode  *string `json:"out_of_town_code,omitempty" yaml:"out_of_town_code,omitempty"`
	CRS            *string `json:"crs,omitempty" yaml:"crs,omitempty"`

	// Region selection
	Region     *string `json:"region,omitempty" yaml:"region,omitempty"`
	RegionName *string `json:"region_name,omitempty" yaml:"region_name,omitempty"`

	// Clustering
	Clusters       *int     `json:"clusters,omitempty" yaml:"clusters,omitempty"`
	ClusterSeed    *uint64  `json:"cluster_seed,omitempty" yaml:"cluster_seed,omitempty"` // 0 = random
	ClusterMaxIter *int     `json:"cluster_max_iter,omitempty" yaml:"cluster_max_iter,omitempty"`
	ClusterNInit   *int     `json:"cluster_n_init,omitempty" yaml:"cluster_n_init,omitempty"`
	ClusterTol     *float64 `json:"cluster_tol,omitempty" yaml:"cluster_tol,omitempty"`

	// Output
	GeoOutput     *string  `json:"geo_output,omitempty" yaml:"geo_output,omitempty"`
	ClusterOutput *string  `json:"cluster_output,omitempty" yaml:"cluster_output,omitempty"`
	DPI           *float64 `json:"dpi,omitempty" yaml:"dpi,omitempty"`
	Show          *bool    `json:"show,omitempty" yaml:"show,omitempty"`

	// Styling
	PageWidthIn       *float64 `json:"page_width_in,omitempty" yaml:"page_width_in,omitempty"`
	PageHeightIn      *float64 `json:"page_height_in,omitempty" yaml:"page_height_in,omitempty"`
	ClusterWidthIn    *float64 `json:"cluster_width_in,omitempty" yaml:"cluster_width_in,omitempty"`
	ClusterHeightIn   *float64 `json:"cluster_height_in,omitempty" yaml:"cluster_height_in,omitempty"`
	InTownColor       *string  `json:"in_town_color,omitempty" yaml:"in_town_color,omitempty"`
	OutOfTownColor    *string  `json:"out_of_town_color,omitempty" yaml:"out_of_town_color,omitempty"`
	InTownMarkerPt    *float64 `json:"in_town_marker_pt,omitempty" yaml:"in_town_marker_pt,omitempty"`
	OutOfTownMarkerPt *float64 `json:"out_of_town_marker_pt,omitempty" yaml:"out_of_town_marker_pt,omitempty"`

	// Basemap
	BasemapProvider  *string `json:"basemap_provider,omitempty" yaml:"basemap_provider,omitempty"` // "none" disables
	BasemapURL       *string `json:"basemap_url,omitempty" yaml:"basemap_url,omitempty"`
	BasemapAPIKey    *string `json:"basemap_api_key,omitempty" yaml:"basemap_api_key,omitempty"`
	BasemapZoom      *int    `json:"basemap_zoom,omitempty" yaml:"basemap_zoom,omitempty"` // 0 = auto
	BasemapMaxTiles  *int    `json:"basemap_max_tiles,omitempty" yaml:"basemap_max_tiles,omitempty"`
	BasemapRetries   *int    `json:"basemap_retries,omitempty" yaml:"basemap_retries,omitempty"`
	BasemapTimeout   *string `json:"basemap_timeout,omitempty" yaml:"basemap_timeout,omitempty"` // duration string like "30s"
	BasemapWarpWidth *int    `json:"basemap_warp_width,omitempty" yaml:"basemap_warp_width,omitempty"`
	TileCache        *string `json:"tile_cache,omitempty" yaml:"tile_cache,omitempty"`
	UserAgent        *string `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`

	LogLevel *string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
}

var hexColorRE = regexp.MustCompile(`^#([0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// Empty returns a MapConfig with all fields set to nil.
func Empty() *MapConfig {
	return &MapConfig{}
}

// Defaults returns a MapConfig with every field populated from its getter.
// With no overrides accimap plots region JHM from accidents.csv.gz into geo1.png and geo2.png.
func Defaults() *MapConfig {
	c := Empty()
	return &MapConfig{
		Input:             ptrString(c.GetInput()),
		InputTable:        ptrString(c.GetInputTable()),
		InputSheet:        ptrString(c.GetInputSheet()),
		XColumn:           ptrString(c.GetXColumn()),
		YColumn:           ptrString(c.GetYColumn()),
		RegionColumn:      ptrString(c.GetRegionColumn()),
		LocationColumn:    ptrString(c.GetLocationColumn()),
		InTownCode:        ptrString(c.GetInTownCode()),
		OutOfTownCode:     ptrString(c.GetOutOfTownCode()),
		CRS:               ptrString(c.GetCRS()),
		Region:            ptrString(c.GetRegion()),
		RegionName:        ptrString(c.GetRegionName()),
		Clusters:          ptrInt(c.GetClusters()),
		ClusterSeed:       ptrUint64(c.GetClusterSeed()),
		ClusterMaxIter:    ptrInt(c.GetClusterMaxIter()),
		ClusterNInit:      ptrInt(c.GetClusterNInit()),
		ClusterTol:        ptrFloat64(c.GetClusterTol()),
		GeoOutput:         ptrString(c.GetGeoOutput()),
		ClusterOutput:     ptrString(c.GetClusterOutput()),
		DPI:               ptrFloat64(c.GetDPI()),
		Show:              ptrBool(c.GetShow()),
		PageWidthIn:       ptrFloat64(c.GetPageWidthIn()),
		PageHeightIn:      ptrFloat64(c.GetPageHeightIn()),
		ClusterWidthIn:    ptrFloat64(c.GetClusterWidthIn()),
		ClusterHeightIn:   ptrFloat64(c.GetClusterHeightIn()),
		InTownColor:       ptrString(c.GetInTownColor()),
		OutOfTownColor:    ptrString(c.GetOutOfTownColor()),
		InTownMarkerPt:    ptrFloat64(c.GetInTownMarkerPt()),
		OutOfTownMarkerPt: ptrFloat64(c.GetOutOfTownMarkerPt()),
		BasemapProvider:   ptrString(c.GetBasemapProvider()),
		BasemapURL:        ptrString(c.GetBasemapURL()),
		BasemapAPIKey:     ptrString(c.GetBasemapAPIKey()),
		BasemapZoom:       ptrInt(c.GetBasemapZoom()),
		BasemapMaxTiles:   ptrInt(c.GetBasemapMaxTiles()),
		BasemapRetries:    ptrInt(c.GetBasemapRetries()),
		BasemapTimeout:    ptrString(c.GetBasemapTimeout().String()),
		BasemapWarpWidth:  ptrInt(c.GetBasemapWarpWidth()),
		TileCache:         ptrString(c.GetTileCache()),
		UserAgent:         ptrString(c.GetUserAgent()),
		LogLevel:          ptrString(c.GetLogLevel()),
	}
}

// Load reads a MapConfig from a JSON (.json) or YAML (.yaml, .yml) file.
// The file must be under 1MB. Fields omitted from the file retain their
// default values.
func Load(path string) (*MapConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *MapConfig) Validate() error {
	if c.DPI != nil && *c.DPI <= 0 {
		return fmt.Errorf("dpi must be positive, got %f", *c.DPI)
	}
	if c.Clusters != nil && *c.Clusters < 1 {
		return fmt.Errorf("clusters must be at least 1, got %d", *c.Clusters)
	}
	if c.ClusterMaxIter != nil && *c.ClusterMaxIter < 1 {
		return fmt.Errorf("cluster_max_iter must be at least 1, got %d", *c.ClusterMaxIter)
	}
	if c.ClusterNInit != nil && *c.ClusterNInit < 1 {
		return fmt.Errorf("cluster_n_init must be at least 1, got %d", *c.ClusterNInit)
	}
	if c.ClusterTol != nil && *c.ClusterTol < 0 {
		return fmt.Errorf("cluster_tol must be non-negative, got %f", *c.ClusterTol)
	}

	for name, v := range map[string]*float64{
		"page_width_in":     c.PageWidthIn,
		"page_height_in":    c.PageHeightIn,
		"cluster_width_in":  c.ClusterWidthIn,
		"cluster_height_in": c.ClusterHeightIn,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}
	for name, v := range map[string]*float64{
		"in_town_marker_pt":     c.InTownMarkerPt,
		"out_of_town_marker_pt": c.OutOfTownMarkerPt,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", name, *v)
		}
	}
	for name, v := range map[string]*string{
		"in_town_color":     c.InTownColor,
		"out_of_town_color": c.OutOfTownColor,
	} {
		if v != nil && !hexColorRE.MatchString(*v) {
			return fmt.Errorf("%s must be a #rrggbb hex color, got %q", name, *v)
		}
	}

	if c.CRS != nil && !geo.IsSupportedCRS(*c.CRS) {
		return fmt.Errorf("unsupported crs %q (supported: %s)", *c.CRS, strings.Join(geo.SupportedCRS(), ", "))
	}

	if c.BasemapRetries != nil && *c.BasemapRetries < 0 {
		return fmt.Errorf("basemap_retries must be non-negative, got %d", *c.BasemapRetries)
	}
	if c.BasemapMaxTiles != nil && *c.BasemapMaxTiles < 1 {
		return fmt.Errorf("basemap_max_tiles must be at least 1, got %d", *c.BasemapMaxTiles)
	}
	if c.BasemapZoom != nil && (*c.BasemapZoom < 0 || *c.BasemapZoom > 22) {
		return fmt.Errorf("basemap_zoom must be between 0 and 22, got %d", *c.BasemapZoom)
	}
	if c.BasemapWarpWidth != nil && *c.BasemapWarpWidth < 16 {
		return fmt.Errorf("basemap_warp_width must be at least 16, got %d", *c.BasemapWarpWidth)
	}
	if c.BasemapTimeout != nil && *c.BasemapTimeout != "" {
		if _, err := time.ParseDuration(*c.BasemapTimeout); err != nil {
			return fmt.Errorf("invalid basemap_timeout '%s': %w", *c.BasemapTimeout, err)
		}
	}
	if c.BasemapProvider != nil && (c.BasemapURL == nil || *c.BasemapURL == "") {
		name := *c.BasemapProvider
		if name != basemap.ProviderNone {
			if _, ok := basemap.LookupProvider(name); !ok {
				return fmt.Errorf("unknown basemap_provider %q (known: %s)", name, strings.Join(basemap.ProviderNames(), ", "))
			}
		}
	}

	if c.LogLevel != nil {
		if _, err := monitoring.ParseLevel(*c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// GetInput returns the input table path or the default.
func (c *MapConfig) GetInput() string {
	if c.Input == nil || *c.Input == "" {
		return "accidents.csv.gz"
	}
	return *c.Input
}

// GetInputTable returns the SQLite table name or the default.
func (c *MapConfig) GetInputTable() string {
	if c.InputTable == nil || *c.InputTable == "" {
		return "accidents"
	}
	return *c.InputTable
}

// GetInputSheet returns the XLSX sheet name; empty means the first sheet.
func (c *MapConfig) GetInputSheet() string {
	if c.InputSheet == nil {
		return ""
	}
	return *c.InputSheet
}

// GetXColumn returns the easting column name or the default.
func (c *MapConfig) GetXColumn() string {
	if c.XColumn == nil || *c.XColumn == "" {
		return "d"
	}
	return *c.XColumn
}

// GetYColumn returns the northing column name or the default.
func (c *MapConfig) GetYColumn() string {
	if c.YColumn == nil || *c.YColumn == "" {
		return "e"
	}
	return *c.YColumn
}

// GetRegionColumn returns the region column name or the default.
func (c *MapConfig) GetRegionColumn() string {
	if c.RegionColumn == nil || *c.RegionColumn == "" {
		return "region"
	}
	return *c.RegionColumn
}

// GetLocationColumn returns the location-category column or the default.
func (c *MapConfig) GetLocationColumn() string {
	if c.LocationColumn == nil || *c.LocationColumn == "" {
		return "p5a"
	}
	return *c.LocationColumn
}

// GetInTownCode returns the category code for accidents inside a municipality.
func (c *MapConfig) GetInTownCode() string {
	if c.InTownCode == nil || *c.InTownCode == "" {
		return "1"
	}
	return *c.InTownCode
}

// GetOutOfTownCode returns the category code for accidents outside a municipality.
func (c *MapConfig) GetOutOfTownCode() string {
	if c.OutOfTownCode == nil || *c.OutOfTownCode == "" {
		return "2"
	}
	return *c.OutOfTownCode
}

// GetCRS returns the coordinate reference system of the coordinate columns.
func (c *MapConfig) GetCRS() string {
	if c.CRS == nil || *c.CRS == "" {
		return geo.CRSKrovak
	}
	return *c.CRS
}

// GetRegion returns the region code to plot.
func (c *MapConfig) GetRegion() string {
	if c.Region == nil || *c.Region == "" {
		return "JHM"
	}
	return *c.Region
}

// GetRegionName returns the display name for the region, falling back to
// the built-in table of Czech regions and finally to the code itself.
func (c *MapConfig) GetRegionName() string {
	if c.RegionName != nil && *c.RegionName != "" {
		return *c.RegionName
	}
	return geo.RegionName(c.GetRegion())
}

// GetClusters returns the k-means cluster count.
func (c *MapConfig) GetClusters() int {
	if c.Clusters == nil {
		return 13
	}
	return *c.Clusters
}

// GetClusterSeed returns the k-means seed; 0 picks a random seed per run.
func (c *MapConfig) GetClusterSeed() uint64 {
	if c.ClusterSeed == nil {
		return 0
	}
	return *c.ClusterSeed
}

// GetClusterMaxIter returns the per-restart iteration cap.
func (c *MapConfig) GetClusterMaxIter() int {
	if c.ClusterMaxIter == nil {
		return 300
	}
	return *c.ClusterMaxIter
}

// GetClusterNInit returns how many seeded restarts k-means runs.
func (c *MapConfig) GetClusterNInit() int {
	if c.ClusterNInit == nil {
		return 10
	}
	return *c.ClusterNInit
}

// GetClusterTol returns the centroid-shift convergence tolerance.
func (c *MapConfig) GetClusterTol() float64 {
	if c.ClusterTol == nil {
		return 1e-4
	}
	return *c.ClusterTol
}

// GetGeoOutput returns the regional figure path; empty disables saving.
func (c *MapConfig) GetGeoOutput() string {
	if c.GeoOutput == nil {
		return "geo1.png"
	}
	return *c.GeoOutput
}

// GetClusterOutput returns the cluster figure path; empty disables saving.
func (c *MapConfig) GetClusterOutput() string {
	if c.ClusterOutput == nil {
		return "geo2.png"
	}
	return *c.ClusterOutput
}

// GetDPI returns the raster resolution.
func (c *MapConfig) GetDPI() float64 {
	if c.DPI == nil {
		return 100
	}
	return *c.DPI
}

// GetShow reports whether figures should also be opened interactively.
func (c *MapConfig) GetShow() bool {
	if c.Show == nil {
		return false
	}
	return *c.Show
}

// GetPageWidthIn returns the regional figure width (A4 portrait).
func (c *MapConfig) GetPageWidthIn() float64 {
	if c.PageWidthIn == nil {
		return 8.27
	}
	return *c.PageWidthIn
}

// GetPageHeightIn returns the regional figure height (A4 portrait).
func (c *MapConfig) GetPageHeightIn() float64 {
	if c.PageHeightIn == nil {
		return 11.69
	}
	return *c.PageHeightIn
}

// GetClusterWidthIn returns the cluster figure width (A4 landscape).
func (c *MapConfig) GetClusterWidthIn() float64 {
	if c.ClusterWidthIn == nil {
		return 11.69
	}
	return *c.ClusterWidthIn
}

// GetClusterHeightIn returns the cluster figure height (A4 landscape).
func (c *MapConfig) GetClusterHeightIn() float64 {
	if c.ClusterHeightIn == nil {
		return 8.27
	}
	return *c.ClusterHeightIn
}

// GetInTownColor returns the marker color for in-town accidents.
func (c *MapConfig) GetInTownColor() string {
	if c.InTownColor == nil || *c.InTownColor == "" {
		return "#1f77b4"
	}
	return *c.InTownColor
}

// GetOutOfTownColor returns the marker color for out-of-town accidents.
func (c *MapConfig) GetOutOfTownColor() string {
	if c.OutOfTownColor == nil || *c.OutOfTownColor == "" {
		return "#d62728"
	}
	return *c.OutOfTownColor
}

// GetInTownMarkerPt returns the in-town marker radius in points.
func (c *MapConfig) GetInTownMarkerPt() float64 {
	if c.InTownMarkerPt == nil {
		return 1.0
	}
	return *c.InTownMarkerPt
}

// GetOutOfTownMarkerPt returns the out-of-town marker radius in points.
func (c *MapConfig) GetOutOfTownMarkerPt() float64 {
	if c.OutOfTownMarkerPt == nil {
		return 0.7
	}
	return *c.OutOfTownMarkerPt
}

// GetBasemapProvider returns the tile provider name; "none" disables the basemap.
func (c *MapConfig) GetBasemapProvider() string {
	if c.BasemapProvider == nil || *c.BasemapProvider == "" {
		return basemap.DefaultProvider
	}
	return *c.BasemapProvider
}

// GetBasemapURL returns a custom tile URL template, if any.
func (c *MapConfig) GetBasemapURL() string {
	if c.BasemapURL == nil {
		return ""
	}
	return *c.BasemapURL
}

// GetBasemapAPIKey returns the tile provider API key, if any.
func (c *MapConfig) GetBasemapAPIKey() string {
	if c.BasemapAPIKey == nil {
		return ""
	}
	return *c.BasemapAPIKey
}

// GetBasemapZoom returns a fixed tile zoom; 0 selects the zoom from the extent.
func (c *MapConfig) GetBasemapZoom() int {
	if c.BasemapZoom == nil {
		return 0
	}
	return *c.BasemapZoom
}

// GetBasemapMaxTiles returns the tile budget per basemap.
func (c *MapConfig) GetBasemapMaxTiles() int {
	if c.BasemapMaxTiles == nil {
		return 64
	}
	return *c.BasemapMaxTiles
}

// GetBasemapRetries returns how many times a failed tile fetch is retried.
func (c *MapConfig) GetBasemapRetries() int {
	if c.BasemapRetries == nil {
		return 0
	}
	return *c.BasemapRetries
}

// GetBasemapTimeout parses and returns the per-request tile timeout.
func (c *MapConfig) GetBasemapTimeout() time.Duration {
	if c.BasemapTimeout == nil || *c.BasemapTimeout == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.BasemapTimeout)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}

// GetBasemapWarpWidth returns the pixel width of the reprojected basemap.
func (c *MapConfig) GetBasemapWarpWidth() int {
	if c.BasemapWarpWidth == nil {
		return 1200
	}
	return *c.BasemapWarpWidth
}

// GetTileCache returns the SQLite tile cache path; empty keeps tiles in memory only.
func (c *MapConfig) GetTileCache() string {
	if c.TileCache == nil {
		return ""
	}
	return *c.TileCache
}

// GetUserAgent returns the User-Agent sent with tile requests.
func (c *MapConfig) GetUserAgent() string {
	if c.UserAgent == nil || *c.UserAgent == "" {
		return version.UserAgent()
	}
	return *c.UserAgent
}

// GetLogLevel returns the minimum log level.
func (c *MapConfig) GetLogLevel() string {
	if c.LogLevel == nil || *c.LogLevel == "" {
		return "info"
	}
	return *c.LogLevel
}

// BasemapDisabled reports whether plots should be drawn without tiles.
func (c *MapConfig) BasemapDisabled() bool {
	return c.GetBasemapProvider() == basemap.ProviderNone && c.GetBasemapURL() == ""
}
