package shell

import (
	"fmt"

	"github.com/paulmach/orb/maptile"

	"github.com/joeblew999/plat-viewer/internal/engine"
	"github.com/joeblew999/plat-viewer/internal/humastar"
	"github.com/joeblew999/plat-viewer/internal/viewer"
)

// Template data for the fragments under internal/templates/fragments.

type pageView struct {
	humastar.PageData
	Title       string
	Attribution string
	Controls    controlsView
}

type controlsView struct {
	Routes     map[string]string
	Fullscreen fullscreenView
	Layers     layersView
	North      viewer.NorthArrowView
	Info       viewer.MapInfoView
	Scale      scaleView
}

type fullscreenView struct {
	Title  string
	Route  string
	Active bool
}

type layersView struct {
	Open        bool
	Items       []viewer.LayerItem
	OpenRoute   string
	ToggleRoute string
}

type scaleView struct {
	Width    int
	Label    string
	Segments []struct{}
}

type mapView struct {
	Rotation float64
	Layers   []layerView
}

type layerView struct {
	Opacity float64
	Tiles   []tileView
}

type tileView struct {
	Src  string
	Left float64
	Top  float64
	Size float64
}

func newControlsView(s *viewer.Session, routes map[string]string) controlsView {
	state := s.Container.State()
	return controlsView{
		Routes:     routes,
		Fullscreen: newFullscreenView(s, routes),
		Layers:     newLayersView(s, state, routes),
		North:      viewer.NorthArrow(state.Rotation),
		Info:       viewer.MapInfo(state.Coordinates, state.Zoom),
		Scale:      newScaleView(s),
	}
}

func newFullscreenView(s *viewer.Session, routes map[string]string) fullscreenView {
	return fullscreenView{
		Title:  s.Fullscreen.Title(),
		Route:  routes[opFullscreenToggle],
		Active: s.Fullscreen.IsFullscreen(),
	}
}

func newLayersView(s *viewer.Session, state viewer.State, routes map[string]string) layersView {
	return layersView{
		Open:        s.Layers.IsOpen(),
		Items:       s.Layers.Items(state.Layers),
		OpenRoute:   routes[opLayersOpen],
		ToggleRoute: routes[opLayersToggle],
	}
}

func newScaleView(s *viewer.Session) scaleView {
	bar, ok := s.Container.ScaleBar()
	if !ok {
		return scaleView{}
	}
	return scaleView{Width: bar.Width, Label: bar.Label, Segments: make([]struct{}, bar.Steps)}
}

// newMapView positions the frame's tiles. Tiles are loaded through the proxy
// when proxy is set or the source has no direct URL.
func newMapView(f engine.Frame, proxy bool) mapView {
	v := mapView{Rotation: f.Rotation, Layers: make([]layerView, 0, len(f.Layers))}
	for _, lf := range f.Layers {
		lv := layerView{Opacity: lf.Opacity, Tiles: make([]tileView, len(lf.Tiles))}
		for i, p := range lf.Tiles {
			src := p.URL
			if proxy || src == "" {
				src = ProxyTileURL(p.Tile)
			}
			lv.Tiles[i] = tileView{Src: src, Left: p.Left, Top: p.Top, Size: p.Size}
		}
		v.Layers = append(v.Layers, lv)
	}
	return v
}

// ProxyTileURL is the path of a tile served by the tile proxy.
func ProxyTileURL(t maptile.Tile) string {
	return fmt.Sprintf("/tiles/%d/%d/%d", t.Z, t.X, t.Y)
}
