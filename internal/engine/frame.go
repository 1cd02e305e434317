package engine

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// maxTilesPerLayer bounds the placements of one layer in one frame.
const maxTilesPerLayer = 512

// edgeTolerance keeps a viewport edge that lands on a tile boundary from
// pulling in a zero-width row or column.
const edgeTolerance = 1e-9

// Size is the map viewport in CSS pixels.
type Size struct {
	Width  int
	Height int
}

// Empty reports whether the viewport has no area.
func (s Size) Empty() bool { return s.Width <= 0 || s.Height <= 0 }

// Pixel is a viewport position, origin top-left.
type Pixel struct {
	X float64
	Y float64
}

// Frame is one rendered state of the map.
type Frame struct {
	Size       Size
	Center     orb.Point
	Resolution float64
	Zoom       float64
	Rotation   float64
	Layers     []LayerFrame
}

// LayerFrame holds the tile placements of one visible layer. Placements are in
// the unrotated viewport; the target rotates the whole layer by Rotation about
// the viewport center.
type LayerFrame struct {
	Index    int
	Opacity  float64
	TileZoom maptile.Zoom
	Tiles    []TilePlacement
}

// TilePlacement positions one tile.
type TilePlacement struct {
	Tile maptile.Tile
	URL  string
	Left float64
	Top  float64
	Size float64
}

// placeTiles computes the tiles of source covering a viewport of size centred
// on center at zoom and rotation.
func placeTiles(source *XYZ, size Size, center orb.Point, zoom, rotation float64) (maptile.Zoom, []TilePlacement) {
	tz := int(math.Round(zoom))
	tz = max(0, min(tz, 22))
	res := ResolutionForZoom(zoom, source.TileSize())
	span := 2 * halfWorld / math.Pow(2, float64(tz))

	w, h := float64(size.Width), float64(size.Height)
	cos, sin := math.Abs(math.Cos(rotation)), math.Abs(math.Sin(rotation))
	ex := (w*cos + h*sin) / 2 * res
	ey := (w*sin + h*cos) / 2 * res

	n := int(1) << tz
	minX := int(math.Floor((center[0]-ex+halfWorld)/span + edgeTolerance))
	maxX := int(math.Ceil((center[0]+ex+halfWorld)/span-edgeTolerance)) - 1
	minY := max(0, int(math.Floor((halfWorld-(center[1]+ey))/span+edgeTolerance)))
	maxY := min(n-1, int(math.Ceil((halfWorld-(center[1]-ey))/span-edgeTolerance))-1)

	var out []TilePlacement
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if len(out) >= maxTilesPerLayer {
				return maptile.Zoom(tz), out
			}
			wx := ((x % n) + n) % n
			t := maptile.New(uint32(wx), uint32(y), maptile.Zoom(tz))
			left := -halfWorld + float64(x)*span
			top := halfWorld - float64(y)*span
			out = append(out, TilePlacement{
				Tile: t,
				URL:  source.TileURL(t),
				Left: w/2 + (left-center[0])/res,
				Top:  h/2 - (top-center[1])/res,
				Size: span / res,
			})
		}
	}
	return maptile.Zoom(tz), out
}
