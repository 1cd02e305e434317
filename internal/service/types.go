// Package service contains the viewer's backend services: the tile proxy
// and the change bus that connects sessions to their streams.
package service

import "errors"

var (
	// ErrTileNotFound is returned when the source has no tile at an address.
	ErrTileNotFound = errors.New("tile not found")
	// ErrTileTooLarge is returned when an upstream tile exceeds the size limit.
	ErrTileTooLarge = errors.New("tile exceeds size limit")
	// ErrUnknownSession is returned for commands addressed to a session that
	// is not mounted.
	ErrUnknownSession = errors.New("unknown session")
)

// Tile is one tile's bytes and media type.
type Tile struct {
	Data        []byte
	ContentType string
}

// CacheStats describes the tile cache.
type CacheStats struct {
	Entries    int    `json:"entries" doc:"Tiles held in the cache" example:"42"`
	Bytes      int64  `json:"bytes" doc:"Bytes held in the cache" example:"1048576"`
	LimitBytes int64  `json:"limitBytes" doc:"Cache capacity in bytes" example:"67108864"`
	Size       string `json:"size" doc:"Human-readable cache size" example:"1.0 MiB"`
	Limit      string `json:"limit" doc:"Human-readable cache capacity" example:"64 MiB"`
	Hits       uint64 `json:"hits" doc:"Requests served from the cache"`
	Misses     uint64 `json:"misses" doc:"Requests fetched from the source"`
}

// TileJSON is a TileJSON 3.0.0 document for the configured source.
type TileJSON struct {
	TileJSON    string     `json:"tilejson" doc:"TileJSON version" example:"3.0.0"`
	Name        string     `json:"name,omitempty" doc:"Tileset name"`
	Scheme      string     `json:"scheme" doc:"Tile row scheme" example:"xyz"`
	Tiles       []string   `json:"tiles" doc:"Tile URL templates"`
	Attribution string     `json:"attribution,omitempty" doc:"Attribution HTML"`
	MinZoom     float64    `json:"minzoom" doc:"Minimum zoom level"`
	MaxZoom     float64    `json:"maxzoom" doc:"Maximum zoom level"`
	Bounds      [4]float64 `json:"bounds" doc:"Extent as west, south, east, north"`
	Center      [3]float64 `json:"center" doc:"Default view as lon, lat, zoom"`
}
