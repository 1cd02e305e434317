package shell

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-viewer/internal/engine"
	"github.com/joeblew999/plat-viewer/internal/humastar"
	"github.com/joeblew999/plat-viewer/internal/metrics"
	"github.com/joeblew999/plat-viewer/internal/viewer"
)

// CommandInput addresses a session and carries the page's signals.
type CommandInput struct {
	SID     string `path:"sid" doc:"Session ID"`
	RawBody []byte
}

type command struct {
	id      string
	path    string
	summary string
	run     func(s *viewer.Session, sig humastar.Signals)
}

var commands = []command{
	{opZoomIn, "zoom-in", "Zoom in one level", func(s *viewer.Session, _ humastar.Signals) {
		s.Zoom.ZoomIn()
	}},
	{opZoomOut, "zoom-out", "Zoom out one level", func(s *viewer.Session, _ humastar.Signals) {
		s.Zoom.ZoomOut()
	}},
	{opHome, "home", "Reset to the initial view", func(s *viewer.Session, _ humastar.Signals) {
		s.Zoom.Home()
	}},
	{opLayersOpen, "layers/open", "Open or close the layer menu", func(s *viewer.Session, _ humastar.Signals) {
		s.ToggleLayerMenu()
	}},
	{opLayersToggle, "layers/toggle", "Toggle the visibility of the layer named by the layer signal", func(s *viewer.Session, sig humastar.Signals) {
		s.Layers.Click(sig.String("layer"))
	}},
	{opFullscreenToggle, "fullscreen/toggle", "Enter or leave fullscreen", func(s *viewer.Session, _ humastar.Signals) {
		s.Fullscreen.Click()
	}},
	{opFullscreenChange, "fullscreen/change", "Report the page's fullscreen element", func(s *viewer.Session, sig humastar.Signals) {
		s.Doc.NotifyFullscreenChange(sig.String("element"))
	}},
	{opFullscreenError, "fullscreen/error", "Report a rejected fullscreen request", func(s *viewer.Session, sig humastar.Signals) {
		metrics.FullscreenRejections.Inc()
		s.Doc.Reject(sig.String("message"))
	}},
	{opPointerDown, "pointer-down", "Start a pan, or a rotation with the rotate signal", func(s *viewer.Session, sig humastar.Signals) {
		s.Container.PointerDown(pixel(sig), sig.Bool("rotate"))
	}},
	{opPointerMove, "pointer-move", "Move the pointer", func(s *viewer.Session, sig humastar.Signals) {
		s.Container.PointerMove(pixel(sig))
	}},
	{opPointerUp, "pointer-up", "End the current gesture", func(s *viewer.Session, _ humastar.Signals) {
		s.Container.PointerUp()
	}},
	{opWheel, "wheel", "Zoom around the pointer", func(s *viewer.Session, sig humastar.Signals) {
		s.Container.Wheel(pixel(sig), sig.Float("dy"))
	}},
	{opResize, "resize", "Resize the viewport", func(s *viewer.Session, sig humastar.Signals) {
		s.Container.Resize(engine.Size{Width: sig.Int("width"), Height: sig.Int("height")})
	}},
}

func pixel(sig humastar.Signals) engine.Pixel {
	return engine.Pixel{X: sig.Float("px"), Y: sig.Float("py")}
}

func (h *Handler) registerCommands(api huma.API) {
	for _, c := range commands {
		huma.Register(api, huma.Operation{
			OperationID:   c.id,
			Method:        http.MethodPost,
			Path:          "/viewer/{sid}/" + c.path,
			Summary:       c.summary,
			Tags:          []string{Tag},
			DefaultStatus: http.StatusNoContent,
		}, h.handle(c))
	}
}

// handle runs c against the addressed session. Commands for sessions that
// are not mounted do nothing.
func (h *Handler) handle(c command) func(context.Context, *CommandInput) (*struct{}, error) {
	return func(ctx context.Context, input *CommandInput) (*struct{}, error) {
		signals, err := humastar.ParseSignals(input.RawBody)
		if err != nil {
			return nil, huma.Error400BadRequest("Invalid signals: " + err.Error())
		}
		metrics.Commands.WithLabelValues(c.id).Inc()

		s, ok := h.opts.Registry.Get(input.SID)
		if !ok {
			h.log.Debug("command for unknown session",
				zap.String("command", c.id), zap.String("session", input.SID))
			return &struct{}{}, nil
		}
		c.run(s, signals)
		return &struct{}{}, nil
	}
}
