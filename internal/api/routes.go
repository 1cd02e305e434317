// Package api defines the Huma REST routes and handlers.
package api

import (
	"context"
	"math"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-viewer/internal/engine"
	"github.com/joeblew999/plat-viewer/internal/humastar"
	"github.com/joeblew999/plat-viewer/internal/mapconfig"
	"github.com/joeblew999/plat-viewer/internal/service"
	"github.com/joeblew999/plat-viewer/internal/viewer"
)

// Services holds the dependencies of the API handlers.
type Services struct {
	Config   mapconfig.Config
	Tiles    *service.TileService
	Sessions *viewer.Registry
	Version  string
	// ProxyTiles reports whether pages load tiles through /tiles.
	ProxyTiles bool
}

// Types

type SIDInput struct {
	SID string `path:"sid" doc:"Session ID" example:"0b6d3f4e-8a51-4f7c-9d63-2c1e7f0a9b11"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

type ConfigOutput struct {
	Body mapconfig.Config
}

// SessionsInput pages through the mounted session ids.
type SessionsInput struct {
	humastar.PageInput
}

// SessionBody is a mounted session's display state. Its Link headers offer
// the commands that would change something in the current state.
type SessionBody struct {
	ID    string       `json:"id" doc:"Session ID"`
	State viewer.State `json:"state" doc:"Display state"`

	minZoom float64
	maxZoom float64
}

var sessionActions = []humastar.ActionDef{
	{Rel: "zoom-in", Pattern: "/viewer/%s/zoom-in", Method: "POST", Title: "Zoom in"},
	{Rel: "zoom-out", Pattern: "/viewer/%s/zoom-out", Method: "POST", Title: "Zoom out"},
	{Rel: "home", Pattern: "/viewer/%s/home", Method: "POST", Title: "Reset view"},
	{Rel: "layers", Pattern: "/viewer/%s/layers/toggle", Method: "POST", Title: "Toggle layer"},
	{Rel: "fullscreen", Pattern: "/viewer/%s/fullscreen/toggle", Method: "POST", Title: "Fullscreen"},
}

// Actions implements humastar.Actor.
func (b SessionBody) Actions() []humastar.Action {
	if !b.State.Mounted {
		return nil
	}
	return humastar.ActionsFor(b.ID, sessionActions, func(rel string) bool {
		switch rel {
		case "zoom-in":
			return b.State.Zoom < b.maxZoom
		case "zoom-out":
			return b.State.Zoom > b.minZoom
		case "layers":
			return len(b.State.Layers) > 0
		}
		return true
	})
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterRoutes registers every REST route of svc.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterInfo registers the service description route.
func (h *APIHandler) RegisterInfo(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

// RegisterConfig registers the map configuration route.
func (h *APIHandler) RegisterConfig(api huma.API) {
	huma.Get(api, "/api/v1/config", h.GetConfig, huma.OperationTags("config"))
	huma.Get(api, "/api/v1/tilejson", h.GetTileJSON, huma.OperationTags("config"))
}

// RegisterSessions registers session inspection routes.
func (h *APIHandler) RegisterSessions(api huma.API) {
	huma.Get(api, "/api/v1/sessions", h.GetSessions, huma.OperationTags("sessions"))
	huma.Get(api, "/api/v1/sessions/{sid}", h.GetSession, huma.OperationTags("sessions"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: h.svc.Version}}, nil
}

func (h *APIHandler) GetConfig(ctx context.Context, input *struct{}) (*ConfigOutput, error) {
	return &ConfigOutput{Body: h.svc.Config}, nil
}

func (h *APIHandler) GetSessions(ctx context.Context, input *SessionsInput) (*struct {
	Body humastar.PageBody[string]
}, error) {
	var ids []string
	if h.svc.Sessions != nil {
		ids = h.svc.Sessions.IDs()
	}
	return &struct {
		Body humastar.PageBody[string]
	}{Body: humastar.Paginate(ids, input.PageInput)}, nil
}

func (h *APIHandler) GetSession(ctx context.Context, input *SIDInput) (*struct{ Body SessionBody }, error) {
	if h.svc.Sessions == nil {
		return nil, huma.Error404NotFound("session not found")
	}
	s, ok := h.svc.Sessions.Get(input.SID)
	if !ok {
		return nil, huma.Error404NotFound("session not found", service.ErrUnknownSession)
	}
	return &struct{ Body SessionBody }{Body: SessionBody{
		ID:      s.ID,
		State:   s.Container.State(),
		minZoom: h.svc.Config.MinZoom,
		maxZoom: h.svc.Config.MaxZoom,
	}}, nil
}

// GetTileJSON describes the configured source as TileJSON 3.0.0.
func (h *APIHandler) GetTileJSON(ctx context.Context, input *struct{}) (*struct{ Body service.TileJSON }, error) {
	cfg := h.svc.Config
	tj := service.TileJSON{
		TileJSON:    "3.0.0",
		Name:        "base",
		Scheme:      "xyz",
		Attribution: cfg.Attribution,
		MinZoom:     cfg.MinZoom,
		MaxZoom:     cfg.MaxZoom,
		Bounds:      [4]float64{-180, -maxLatitude, 180, maxLatitude},
		Center:      [3]float64{cfg.InitialView.Center[0], cfg.InitialView.Center[1], cfg.InitialView.Zoom},
	}

	archived := false
	if h.svc.Tiles != nil {
		if hdr, ok := h.svc.Tiles.Archive(); ok {
			archived = true
			tj.MinZoom = math.Max(cfg.MinZoom, float64(hdr.MinZoom))
			tj.MaxZoom = math.Min(cfg.MaxZoom, float64(hdr.MaxZoom))
			tj.Bounds = hdr.Bounds()
		}
	}
	if h.svc.ProxyTiles || archived {
		tj.Tiles = []string{"/tiles/{z}/{x}/{y}"}
	} else {
		tj.Tiles = engine.ExpandURL(cfg.TileURL)
	}
	return &struct{ Body service.TileJSON }{Body: tj}, nil
}

// maxLatitude is the Web Mercator latitude limit.
const maxLatitude = 85.0511
