package api

import (
	"context"

	"github.com/joeblew999/plat-viewer/internal/service"
)

type InfoBody struct {
	Name       string             `json:"name" doc:"Service name"`
	Version    string             `json:"version" doc:"Service version"`
	TileSource string             `json:"tile_source" doc:"Configured tile source"`
	ProxyTiles bool               `json:"proxy_tiles" doc:"Whether pages load tiles through /tiles"`
	Sessions   int                `json:"sessions" doc:"Mounted sessions"`
	Cache      service.CacheStats `json:"cache" doc:"Tile cache usage"`
	Features   []string           `json:"features" doc:"Available features"`
}

func (h *APIHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	body := InfoBody{
		Name:       "plat-viewer",
		Version:    h.svc.Version,
		TileSource: h.svc.Config.TileURL,
		ProxyTiles: h.svc.ProxyTiles,
		Features:   []string{"xyz", "tile-proxy", "datastar", "fullscreen"},
	}
	if h.svc.Sessions != nil {
		body.Sessions = h.svc.Sessions.Len()
	}
	if h.svc.Tiles != nil {
		body.Cache = h.svc.Tiles.Stats()
		if _, ok := h.svc.Tiles.Archive(); ok {
			body.Features = append(body.Features, "pmtiles")
		}
	}
	return &struct{ Body InfoBody }{Body: body}, nil
}
