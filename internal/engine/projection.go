package engine

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

const (
	// EarthRadius is the sphere radius of EPSG:3857 in meters.
	EarthRadius = 6378137.0
	// halfWorld is the projected distance from the origin to the world edge.
	halfWorld = math.Pi * EarthRadius
)

// FromLonLat projects a lon/lat point into Web Mercator meters.
func FromLonLat(ll orb.Point) orb.Point {
	return project.WGS84.ToMercator(ll)
}

// ToLonLat converts Web Mercator meters back to lon/lat.
func ToLonLat(p orb.Point) orb.Point {
	return project.Mercator.ToWGS84(p)
}

// ResolutionForZoom returns meters per pixel at zoom z for a tile grid of
// tileSize pixels.
func ResolutionForZoom(z float64, tileSize int) float64 {
	return 2 * halfWorld / float64(tileSize) / math.Pow(2, z)
}

// ZoomForResolution is the inverse of ResolutionForZoom.
func ZoomForResolution(res float64, tileSize int) float64 {
	return math.Log2(2 * halfWorld / float64(tileSize) / res)
}

// PointResolution returns the ground distance covered by one pixel at the
// projected coordinate c, correcting Mercator's scale distortion.
func PointResolution(res float64, c orb.Point) float64 {
	lat := ToLonLat(c).Lat()
	return res * math.Cos(lat*math.Pi/180)
}
