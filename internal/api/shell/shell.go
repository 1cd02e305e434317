// Package shell serves the viewer page and the per-session Datastar stream
// and command endpoints that drive it.
//
// Opening the page's stream mounts a Map Container for that page; the stream
// ending unmounts it. Commands address a mounted session by id.
package shell

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-viewer/internal/humastar"
	"github.com/joeblew999/plat-viewer/internal/mapconfig"
	"github.com/joeblew999/plat-viewer/internal/templates"
	"github.com/joeblew999/plat-viewer/internal/viewer"
)

// Tag groups the session operations in the OpenAPI document. The page
// discovers its routes from operations carrying it.
const Tag = "viewer"

// Operation IDs of the session routes.
const (
	opStream           = "stream"
	opZoomIn           = "zoom-in"
	opZoomOut          = "zoom-out"
	opHome             = "home"
	opLayersOpen       = "layers-open"
	opLayersToggle     = "layers-toggle"
	opFullscreenToggle = "fullscreen-toggle"
	opFullscreenChange = "fullscreen-change"
	opFullscreenError  = "fullscreen-error"
	opPointerDown      = "pointer-down"
	opPointerMove      = "pointer-move"
	opPointerUp        = "pointer-up"
	opWheel            = "wheel"
	opResize           = "resize"
)

const pageTitle = "Map Viewer"

// Options configures a Handler.
type Options struct {
	Config   mapconfig.Config
	Registry *viewer.Registry
	Renderer *templates.Renderer
	Logger   *zap.Logger

	// ProxyTiles makes the page load every tile through /tiles.
	ProxyTiles bool
	// FrameInterval is the engine render loop period.
	FrameInterval time.Duration
	// NewID generates session ids. Defaults to uuid.NewString.
	NewID func() string
}

// Handler serves the page shell.
type Handler struct {
	humastar.Handler
	opts Options
	log  *zap.Logger
	api  huma.API
}

// NewHandler creates a page shell handler.
func NewHandler(opts Options) *Handler {
	if opts.Renderer == nil {
		opts.Renderer = templates.Default()
	}
	if opts.Registry == nil {
		opts.Registry = viewer.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Handler{
		Handler: humastar.Handler{Renderer: opts.Renderer},
		opts:    opts,
		log:     opts.Logger.Named("shell"),
	}
}

// Registry returns the sessions mounted by this handler.
func (h *Handler) Registry() *viewer.Registry { return h.opts.Registry }

// RegisterRoutes registers the page, the stream and every command.
func (h *Handler) RegisterRoutes(api huma.API) {
	h.api = api

	huma.Register(api, huma.Operation{
		OperationID: "viewer-page",
		Method:      http.MethodGet,
		Path:        "/viewer",
		Summary:     "Viewer page",
		Tags:        []string{"page"},
	}, h.Page)

	huma.Register(api, huma.Operation{
		OperationID: opStream,
		Method:      http.MethodGet,
		Path:        "/viewer/{sid}/stream",
		Summary:     "Session stream",
		Description: "Mounts a map container for the session and streams Datastar patches until the client disconnects.",
		Tags:        []string{Tag},
		Extensions:  map[string]any{humastar.SSEExtension: true},
	}, h.Stream)

	h.registerCommands(api)
}

// PageOutput is an HTML document.
type PageOutput struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Body         []byte
}

// Page renders the viewer page for a fresh session id.
func (h *Handler) Page(ctx context.Context, input *struct{}) (*PageOutput, error) {
	sid := h.opts.NewID()
	pd := humastar.BuildPageData(h.api, Tag, map[string]string{"sid": sid}, initialSignals())

	cfg := h.opts.Config
	view := pageView{
		PageData:    pd,
		Title:       pageTitle,
		Attribution: cfg.Attribution,
		Controls: controlsView{
			Routes:     pd.Routes,
			Fullscreen: fullscreenView{Title: "Fullscreen", Route: pd.Routes[opFullscreenToggle]},
			Layers:     layersView{OpenRoute: pd.Routes[opLayersOpen], ToggleRoute: pd.Routes[opLayersToggle]},
			North:      viewer.NorthArrow(0),
			Info:       viewer.MapInfo(nil, cfg.InitialView.Zoom),
		},
	}

	var buf bytes.Buffer
	if err := h.Renderer.RenderToBuffer(&buf, "page", view); err != nil {
		h.log.Error("render page", zap.Error(err))
		return nil, huma.Error500InternalServerError("render page", err)
	}
	return &PageOutput{
		ContentType:  "text/html; charset=utf-8",
		CacheControl: "no-store",
		Body:         buf.Bytes(),
	}, nil
}

// initialSignals declares every signal the page's handlers write.
func initialSignals() map[string]any {
	return map[string]any{
		"width":  0,
		"height": 0,
		"px":     0,
		"py":     0,
		"dy":     0,
		"rotate": false,
		"layer":  "",
	}
}
