package shell

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-viewer/internal/engine"
	"github.com/joeblew999/plat-viewer/internal/humastar"
	"github.com/joeblew999/plat-viewer/internal/metrics"
	"github.com/joeblew999/plat-viewer/internal/service"
	"github.com/joeblew999/plat-viewer/internal/viewer"
)

// StreamInput identifies the session. Datastar sends the page's signals as
// the datastar query parameter of a GET.
type StreamInput struct {
	SID      string `path:"sid" doc:"Session ID" example:"0b6d3f4e-8a51-4f7c-9d63-2c1e7f0a9b11"`
	Datastar string `query:"datastar" doc:"Datastar signals as JSON"`
}

// Stream mounts a session for the lifetime of the request and patches the
// page whenever the session changes.
func (h *Handler) Stream(ctx context.Context, input *StreamInput) (*huma.StreamResponse, error) {
	signals, err := humastar.ParseSignals([]byte(input.Datastar))
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid signals: " + err.Error())
	}
	size := engine.Size{Width: signals.Int("width"), Height: signals.Int("height")}

	return h.Handler.Stream(func(sse humastar.SSE) {
		h.serve(ctx, sse, input.SID, size)
	}), nil
}

func (h *Handler) serve(ctx context.Context, sse humastar.SSE, sid string, size engine.Size) {
	log := h.log.With(zap.String("session", sid))

	s := viewer.NewSession(sid, h.opts.Config, viewer.SessionOptions{
		Logger:        h.opts.Logger,
		FrameInterval: h.opts.FrameInterval,
	})
	if !h.opts.Registry.AddIfAbsent(s) {
		log.Warn("session already mounted")
		_ = sse.Error("session already open in another tab")
		return
	}
	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	s.Mount(size)
	defer func() {
		h.opts.Registry.Remove(s)
		s.Unmount()
		log.Info("session unmounted")
	}()
	log.Info("session mounted", zap.Int("width", size.Width), zap.Int("height", size.Height))

	routes := humastar.BuildPageData(h.api, Tag, map[string]string{"sid": sid}, nil).Routes
	if err := h.paint(sse, s, routes, allChanges); err != nil {
		log.Debug("stream closed", zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.C:
			if !ok {
				return
			}
			if err := h.paint(sse, s, routes, sub.Take()); err != nil {
				log.Debug("stream closed", zap.Error(err))
				return
			}
		}
	}
}

var allChanges = map[string]bool{
	service.ChangeView:       true,
	service.ChangePointer:    true,
	service.ChangeLayers:     true,
	service.ChangeFullscreen: true,
	service.ChangeFrame:      true,
	service.ChangeScript:     true,
}

// paint patches the fragments affected by changes.
func (h *Handler) paint(sse humastar.SSE, s *viewer.Session, routes map[string]string, changes map[string]bool) error {
	var fragments []string
	if changes[service.ChangeView] {
		fragments = append(fragments, "north-arrow", "map-info", "scale-line")
	}
	if changes[service.ChangePointer] && !changes[service.ChangeView] {
		fragments = append(fragments, "map-info")
	}
	if changes[service.ChangeLayers] {
		fragments = append(fragments, "layer-control")
	}
	if changes[service.ChangeFullscreen] {
		fragments = append(fragments, "fullscreen-control")
	}

	if len(fragments) > 0 {
		view := newControlsView(s, routes)
		for _, name := range fragments {
			if err := h.patchFragment(sse, name, fragmentData(name, view)); err != nil {
				return err
			}
		}
	}

	if changes[service.ChangeFrame] {
		if f, ok := s.TakeFrame(); ok {
			if err := h.patchFragment(sse, "map-layers", newMapView(f, h.opts.ProxyTiles)); err != nil {
				return err
			}
			metrics.FramesRendered.Inc()
			if !changes[service.ChangeView] {
				if err := h.patchFragment(sse, "scale-line", newScaleView(s)); err != nil {
					return err
				}
			}
		}
	}

	if changes[service.ChangeScript] {
		for _, js := range s.DrainScripts() {
			if err := sse.Script(js); err != nil {
				return err
			}
		}
	}
	return nil
}

func fragmentData(name string, v controlsView) any {
	switch name {
	case "fullscreen-control":
		return v.Fullscreen
	case "layer-control":
		return v.Layers
	case "north-arrow":
		return v.North
	case "map-info":
		return v.Info
	case "scale-line":
		return v.Scale
	}
	return v
}

// patchFragment renders a fragment and replaces the element with the same id.
func (h *Handler) patchFragment(sse humastar.SSE, name string, data any) error {
	html, err := h.Fragment(name, data)
	if err != nil {
		h.log.Error("render fragment", zap.String("fragment", name), zap.Error(err))
		return fmt.Errorf("render %s: %w", name, err)
	}
	return sse.Replace(html, "#"+name)
}
