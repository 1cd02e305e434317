// Package mapconfig describes the tile source and initial viewport of the viewer.
//
// A Config is loaded once at startup (compiled-in defaults, optionally replaced
// by a YAML document) and is read-only afterwards. Callers receive it by value.
package mapconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"
)

// ProjectionWebMercator is the only projection the engine renders.
const ProjectionWebMercator = "EPSG:3857"

// View is the initial viewport.
type View struct {
	// Center is a [longitude, latitude] pair.
	Center [2]float64 `yaml:"center" json:"center" doc:"Initial center as [longitude, latitude]" example:"[127.5,36.5]"`
	Zoom   float64    `yaml:"zoom" json:"zoom" doc:"Initial zoom level" example:"7"`
}

// Config is the static map configuration.
type Config struct {
	TileURL     string  `yaml:"tileUrl" json:"tileUrl" doc:"XYZ tile URL template or pmtiles:// archive path" example:"https://{a-c}.tile.openstreetmap.org/{z}/{x}/{y}.png"`
	Attribution string  `yaml:"attribution,omitempty" json:"attribution,omitempty" doc:"Attribution text shown with the tiles"`
	InitialView View    `yaml:"initialView" json:"initialView" doc:"Initial viewport"`
	MinZoom     float64 `yaml:"minZoom" json:"minZoom" doc:"Lower zoom clamp" example:"6"`
	MaxZoom     float64 `yaml:"maxZoom" json:"maxZoom" doc:"Upper zoom clamp" example:"19"`
	TileSize    int     `yaml:"tileSize" json:"tileSize" doc:"Tile edge length in pixels" example:"256"`
	Projection  string  `yaml:"projection" json:"projection" doc:"Coordinate reference system" example:"EPSG:3857"`
}

// Default returns the built-in configuration: OpenStreetMap tiles centred on
// the Korean peninsula.
func Default() Config {
	return Config{
		TileURL:     "https://{a-c}.tile.openstreetmap.org/{z}/{x}/{y}.png",
		Attribution: "© OpenStreetMap contributors",
		InitialView: View{
			Center: [2]float64{127.5, 36.5},
			Zoom:   7,
		},
		MinZoom:    6,
		MaxZoom:    19,
		TileSize:   256,
		Projection: ProjectionWebMercator,
	}
}

// Load returns the default configuration, or the YAML document at path when
// path is non-empty. Fields missing from the document keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read map config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse map config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every field is present and sane.
func (c Config) Validate() error {
	var errs []string

	if c.TileURL == "" {
		errs = append(errs, "tileUrl is required")
	} else if !strings.HasPrefix(c.TileURL, "pmtiles://") {
		for _, p := range []string{"{z}", "{x}"} {
			if !strings.Contains(c.TileURL, p) {
				errs = append(errs, fmt.Sprintf("tileUrl must contain %s", p))
			}
		}
		if !strings.Contains(c.TileURL, "{y}") && !strings.Contains(c.TileURL, "{-y}") {
			errs = append(errs, "tileUrl must contain {y} or {-y}")
		}
	}
	lon, lat := c.InitialView.Center[0], c.InitialView.Center[1]
	if lon < -180 || lon > 180 {
		errs = append(errs, fmt.Sprintf("initialView.center longitude must be in [-180,180], got %g", lon))
	}
	if lat < -85.0511 || lat > 85.0511 {
		errs = append(errs, fmt.Sprintf("initialView.center latitude must be in [-85.0511,85.0511], got %g", lat))
	}
	if c.MinZoom < 0 {
		errs = append(errs, fmt.Sprintf("minZoom must be >= 0, got %g", c.MinZoom))
	}
	if c.MaxZoom > 28 {
		errs = append(errs, fmt.Sprintf("maxZoom must be <= 28, got %g", c.MaxZoom))
	}
	if c.MinZoom > c.MaxZoom {
		errs = append(errs, fmt.Sprintf("minZoom (%g) must not exceed maxZoom (%g)", c.MinZoom, c.MaxZoom))
	}
	if z := c.InitialView.Zoom; z < c.MinZoom || z > c.MaxZoom {
		errs = append(errs, fmt.Sprintf("initialView.zoom must be within [%g,%g], got %g", c.MinZoom, c.MaxZoom, z))
	}
	if c.TileSize <= 0 {
		errs = append(errs, fmt.Sprintf("tileSize must be positive, got %d", c.TileSize))
	}
	if c.Projection != ProjectionWebMercator {
		errs = append(errs, fmt.Sprintf("projection must be %s, got %q", ProjectionWebMercator, c.Projection))
	}

	if len(errs) > 0 {
		return fmt.Errorf("map config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Center returns the initial center as a lon/lat point.
func (c Config) Center() orb.Point {
	return orb.Point{c.InitialView.Center[0], c.InitialView.Center[1]}
}

// YAML renders the configuration as a YAML document.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
