package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-viewer/internal/service"
)

// TileHandler serves /tiles/{z}/{x}/{y} from the tile service. It is a plain
// handler so the server can wrap it with CORS for cross-origin map clients.
type TileHandler struct {
	tiles *service.TileService
	log   *zap.Logger
}

// NewTileHandler creates a tile handler.
func NewTileHandler(tiles *service.TileService, log *zap.Logger) *TileHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TileHandler{tiles: tiles, log: log.Named("tiles")}
}

// ServeHTTP implements http.Handler. A trailing extension on y is ignored.
func (h *TileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t, ok := parseTile(r.PathValue("z"), r.PathValue("x"), r.PathValue("y"))
	if !ok {
		http.Error(w, "invalid tile address", http.StatusBadRequest)
		return
	}

	tile, err := h.tiles.Get(r.Context(), t)
	switch {
	case errors.Is(err, service.ErrTileNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		http.Error(w, "tile source unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", tile.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(tile.Data)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(tile.Data); err != nil {
		h.log.Debug("write tile", zap.Error(err))
	}
}

func parseTile(zs, xs, ys string) (maptile.Tile, bool) {
	if i := strings.IndexByte(ys, '.'); i >= 0 {
		ys = ys[:i]
	}
	z, err := strconv.ParseUint(zs, 10, 32)
	if err != nil {
		return maptile.Tile{}, false
	}
	x, err := strconv.ParseUint(xs, 10, 32)
	if err != nil {
		return maptile.Tile{}, false
	}
	y, err := strconv.ParseUint(ys, 10, 32)
	if err != nil {
		return maptile.Tile{}, false
	}
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(z)), true
}
