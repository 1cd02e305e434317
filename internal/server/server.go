// Package server assembles the viewer's HTTP surface: the Huma REST API, the
// page shell with its session streams, the tile proxy and /metrics.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-viewer/internal/api"
	"github.com/joeblew999/plat-viewer/internal/api/shell"
	"github.com/joeblew999/plat-viewer/internal/humastar"
	"github.com/joeblew999/plat-viewer/internal/mapconfig"
	"github.com/joeblew999/plat-viewer/internal/metrics"
	"github.com/joeblew999/plat-viewer/internal/service"
	"github.com/joeblew999/plat-viewer/internal/templates"
	"github.com/joeblew999/plat-viewer/internal/viewer"
)

// Version is reported by /health and the OpenAPI document.
const Version = "1.0.0"

// Config holds the server configuration.
type Config struct {
	Host string
	Port string

	Map mapconfig.Config
	// TileCacheBytes bounds the tile proxy cache. Zero disables it.
	TileCacheBytes int64
	// ProxyTiles makes pages load every tile through /tiles.
	ProxyTiles bool
	// CORSOrigins lists the origins allowed to fetch /tiles. Empty allows any.
	CORSOrigins []string
	// TemplatesDir overrides the compiled-in templates when set.
	TemplatesDir string
	// FrameInterval is the engine render loop period of each session.
	FrameInterval time.Duration

	Logger *zap.Logger
}

// Server is the viewer HTTP server.
type Server struct {
	config   Config
	log      *zap.Logger
	mux      *http.ServeMux
	handler  http.Handler
	humaAPI  huma.API
	tiles    *service.TileService
	sessions *viewer.Registry
	renderer *templates.Renderer

	// base is the parent of every request context; cancelling it ends the
	// session streams so their sessions unmount.
	base       context.Context
	cancelBase context.CancelFunc
	srv        *http.Server
}

// New creates a new viewer server.
func New(cfg Config) (*Server, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	renderer := templates.Default()
	if cfg.TemplatesDir != "" {
		r, err := templates.FromDir(cfg.TemplatesDir)
		if err != nil {
			return nil, fmt.Errorf("load templates from %s: %w", cfg.TemplatesDir, err)
		}
		renderer = r
		log.Info("loaded templates", zap.String("dir", cfg.TemplatesDir))
	}

	tiles, err := service.NewTileService(service.TileServiceOptions{
		Source:     cfg.Map.TileURL,
		TileSize:   cfg.Map.TileSize,
		CacheBytes: cfg.TileCacheBytes,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("plat-viewer API", Version)
	humaConfig.Info.Description = "Server-driven web map viewer: page shell, session streams, tile proxy and REST inspection."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, humastar.LinkTransformer())

	s := &Server{
		config:   cfg,
		log:      log,
		mux:      mux,
		humaAPI:  humago.New(mux, humaConfig),
		tiles:    tiles,
		sessions: viewer.NewRegistry(),
		renderer: renderer,
	}
	s.routes()
	s.handler = metrics.Middleware(routePattern(mux), mux)

	s.base, s.cancelBase = context.WithCancel(context.Background())
	s.srv = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.base },
	}
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Sessions returns the mounted sessions.
func (s *Server) Sessions() *viewer.Registry { return s.sessions }

// ListenAndServe listens on the configured host and port. It returns
// http.ErrServerClosed after Shutdown.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Serve accepts connections on l.
func (s *Server) Serve(l net.Listener) error {
	return s.srv.Serve(l)
}

// Shutdown ends every open session stream, which unmounts its session, then
// waits for connections to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelBase()
	return s.srv.Shutdown(ctx)
}

// Close releases the tile source.
func (s *Server) Close() error {
	return s.tiles.Close()
}

func (s *Server) routes() {
	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	api.RegisterRoutes(s.humaAPI, &api.Services{
		Config:     s.config.Map,
		Tiles:      s.tiles,
		Sessions:   s.sessions,
		Version:    Version,
		ProxyTiles: s.config.ProxyTiles,
	})

	// Page shell and session routes using Huma + Datastar SDK
	shell.NewHandler(shell.Options{
		Config:        s.config.Map,
		Registry:      s.sessions,
		Renderer:      s.renderer,
		Logger:        s.log,
		ProxyTiles:    s.config.ProxyTiles,
		FrameInterval: s.config.FrameInterval,
	}).RegisterRoutes(s.humaAPI)

	// Hypermedia links are derived from the registered operations.
	humastar.AutoLinks(s.humaAPI)

	tileCORS := s.tileCORS()
	s.mux.Handle("GET /tiles/{z}/{x}/{y}", tileCORS.Handler(api.NewTileHandler(s.tiles, s.log)))
	s.mux.Handle("OPTIONS /tiles/{z}/{x}/{y}", tileCORS.Handler(http.NotFoundHandler()))
	s.mux.Handle("GET /metrics", metrics.Handler())
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
}

func (s *Server) tileCORS() *cors.Cors {
	origins := s.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Range"},
		ExposedHeaders: []string{"Content-Length", "Content-Type"},
		MaxAge:         3600,
	})
}

// handleRoot sends browsers to the viewer page and advertises the API
// entry points.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	for _, link := range humastar.RootLinks() {
		w.Header().Add("Link", link)
	}
	http.Redirect(w, r, "/viewer", http.StatusSeeOther)
}

// routePattern labels requests by their mux pattern so metrics stay bounded
// by route rather than by session id.
func routePattern(mux *http.ServeMux) func(*http.Request) string {
	return func(r *http.Request) string {
		_, pattern := mux.Handler(r)
		if pattern == "" {
			return "unmatched"
		}
		if _, path, ok := strings.Cut(pattern, " "); ok {
			return path
		}
		return pattern
	}
}
