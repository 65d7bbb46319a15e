// Command accimap draws maps of traffic accidents for one Czech region:
// a scatter of in-town and out-of-town accidents and a k-means cluster map.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alxndrch/accimap/internal/basemap"
	"github.com/alxndrch/accimap/internal/cluster"
	"github.com/alxndrch/accimap/internal/config"
	"github.com/alxndrch/accimap/internal/monitoring"
	"github.com/alxndrch/accimap/internal/pipeline"
	"github.com/alxndrch/accimap/internal/version"
)

var (
	configPath  = flag.String("config", "", "Config file (.json, .yaml); defaults to "+config.DefaultConfigPath+" when present")
	input       = flag.String("input", "accidents.csv.gz", "Accident table (.csv, .csv.gz, .db, .sqlite, .xlsx)")
	region      = flag.String("region", "JHM", "Region code to plot")
	clusters    = flag.Int("clusters", cluster.DefaultK, "Number of k-means clusters")
	seed        = flag.Uint64("seed", 0, "k-means seed (0 = random)")
	geoOut      = flag.String("geo-out", "geo1.png", "Regional figure PNG (empty to skip)")
	clusterOut  = flag.String("cluster-out", "geo2.png", "Cluster figure PNG (empty to skip)")
	dpi         = flag.Float64("dpi", 100, "PNG resolution")
	show        = flag.Bool("show", false, "Open interactive views in the browser")
	basemapName = flag.String("basemap", basemap.DefaultProvider, "Basemap provider, or \"none\"")
	tileCache   = flag.String("tile-cache", "", "SQLite tile cache path (empty = memory only)")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath, setFlags())
	if err != nil {
		monitoring.Logger.Error().Err(err).Msg("configuration")
		os.Exit(1)
	}
	if err := monitoring.SetLevel(cfg.GetLogLevel()); err != nil {
		monitoring.Logger.Error().Err(err).Msg("configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	r := &pipeline.Runner{Config: cfg}
	err = r.Run(ctx)
	stop()
	if err != nil {
		monitoring.Logger.Error().Err(err).Str("run", r.RunID()).Msg("accimap failed")
		os.Exit(1)
	}
}

// setFlags returns the names of flags given on the command line.
func setFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// loadConfig reads the config file, if any, then applies the flags that
// were set explicitly.
func loadConfig(path string, set map[string]bool) (*config.MapConfig, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			path = config.DefaultConfigPath
		}
	}

	cfg := config.Empty()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
		monitoring.Logf("loaded config %s", path)
	}

	applyFlags(cfg, set)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func applyFlags(cfg *config.MapConfig, set map[string]bool) {
	if set["input"] {
		cfg.Input = input
	}
	if set["region"] {
		cfg.Region = region
	}
	if set["clusters"] {
		cfg.Clusters = clusters
	}
	if set["seed"] {
		cfg.ClusterSeed = seed
	}
	if set["geo-out"] {
		cfg.GeoOutput = geoOut
	}
	if set["cluster-out"] {
		cfg.ClusterOutput = clusterOut
	}
	if set["dpi"] {
		cfg.DPI = dpi
	}
	if set["show"] {
		cfg.Show = show
	}
	if set["basemap"] {
		cfg.BasemapProvider = basemapName
	}
	if set["tile-cache"] {
		cfg.TileCache = tileCache
	}
	if set["log-level"] {
		cfg.LogLevel = logLevel
	}
}
