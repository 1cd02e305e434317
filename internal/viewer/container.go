// Package viewer holds the Map Container and its control widgets.
//
// A Container owns one engine.Map for as long as it is mounted. It mirrors
// engine events into display state and turns control intents into engine
// calls. Widgets never see the engine; they receive callbacks.
package viewer

import (
	"sync"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-viewer/internal/engine"
	"github.com/joeblew999/plat-viewer/internal/host"
	"github.com/joeblew999/plat-viewer/internal/mapconfig"
	"github.com/joeblew999/plat-viewer/internal/service"
)

const (
	// ContainerElementID is the page element the map is mounted into.
	ContainerElementID = "map-container"

	// BaseLayerID identifies the single tile layer built on mount.
	BaseLayerID   = "base"
	baseLayerName = "Base map"

	zoomDuration = 250 * time.Millisecond
	homeDuration = 500 * time.Millisecond

	scaleLineMinWidth = 100
)

// Layer is one entry of the container's ordered layer list.
type Layer struct {
	ID      string
	Name    string
	Visible bool
	handle  *engine.TileLayer
}

// LayerState is a read-only copy of a Layer.
type LayerState struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Visible bool   `json:"visible"`
}

// State is a snapshot of the container's display state.
type State struct {
	Mounted     bool         `json:"mounted"`
	Zoom        float64      `json:"zoom"`
	Rotation    float64      `json:"rotation"`
	Coordinates *orb.Point   `json:"coordinates,omitempty"`
	Layers      []LayerState `json:"layers"`
}

// ContainerOptions configures a Container.
type ContainerOptions struct {
	Session string
	Logger  *zap.Logger
	Bus     *service.EventBus

	// FrameInterval is passed to the engine render loop.
	FrameInterval time.Duration
	// Now is the view's animation clock. Defaults to time.Now.
	Now func() time.Time
}

// Container owns the map engine for its mounted lifetime.
type Container struct {
	cfg  mapconfig.Config
	doc  *host.Document
	opts ContainerOptions
	log  *zap.Logger

	mu       sync.Mutex
	m        *engine.Map
	scale    *engine.ScaleLine
	keys     []engine.ListenerKey
	zoom     float64
	rotation float64
	coords   *orb.Point
	layers   []*Layer
}

// NewContainer creates an unmounted container.
func NewContainer(cfg mapconfig.Config, doc *host.Document, opts ContainerOptions) *Container {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Container{
		cfg:  cfg,
		doc:  doc,
		opts: opts,
		log:  log.Named("container").With(zap.String("session", opts.Session)),
		zoom: cfg.InitialView.Zoom,
	}
}

// Mount builds the engine and attaches it to target. A nil target mounts
// without a render loop. Mounting a mounted container does nothing.
func (c *Container) Mount(target engine.Target, size engine.Size) {
	zoom := c.cfg.InitialView.Zoom
	c.mount(target, size, engine.NewView(engine.ViewOptions{
		Center:   engine.FromLonLat(c.cfg.Center()),
		Zoom:     &zoom,
		MinZoom:  c.cfg.MinZoom,
		MaxZoom:  c.cfg.MaxZoom,
		TileSize: c.cfg.TileSize,
		Now:      c.opts.Now,
	}))
}

func (c *Container) mount(target engine.Target, size engine.Size, view *engine.View) {
	c.mu.Lock()
	if c.m != nil {
		c.mu.Unlock()
		return
	}

	base := engine.NewTileLayer(engine.NewXYZ(c.cfg.TileURL, c.cfg.TileSize))
	m := engine.NewMap(engine.MapOptions{
		Layers:        []*engine.TileLayer{base},
		View:          view,
		FrameInterval: c.opts.FrameInterval,
	})
	m.SetSize(size)
	scale := engine.NewScaleLine(engine.ScaleLineOptions{MinWidth: scaleLineMinWidth, Bar: true})
	m.AddControl(scale)

	c.keys = []engine.ListenerKey{
		m.On(engine.EventPointerMove, c.onPointerMove),
		view.On(engine.EventChangeResolution, c.onResolution),
		view.On(engine.EventChangeRotation, c.onRotation),
	}
	c.m, c.scale = m, scale
	if z, ok := view.Zoom(); ok {
		c.zoom = z
	}
	c.rotation = view.Rotation()
	c.coords = nil
	c.layers = []*Layer{{ID: BaseLayerID, Name: baseLayerName, Visible: true, handle: base}}
	c.syncLayerVisibility()
	c.mu.Unlock()

	// The render loop may call back into the listeners, so it starts after
	// the container lock is released.
	m.SetTarget(target)
	c.log.Debug("mounted", zap.String("tiles", c.cfg.TileURL))
	c.publish(service.ChangeView)
}

// Unmount removes the listeners and detaches the engine. It is safe to call
// on every exit path and more than once.
func (c *Container) Unmount() {
	c.mu.Lock()
	m, keys := c.m, c.keys
	c.m, c.scale, c.keys = nil, nil, nil
	c.mu.Unlock()
	if m == nil {
		return
	}

	engine.Unlisten(keys...)
	// Dispose waits for the render loop, which may be blocked on c.mu
	// inside a listener; the lock must not be held here.
	m.Dispose()
	c.log.Debug("unmounted")
}

// Mounted reports whether the container owns an engine.
func (c *Container) Mounted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m != nil
}

func (c *Container) current() *engine.Map {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m
}

func (c *Container) onPointerMove(e engine.Event) {
	ll := engine.ToLonLat(e.Coordinate)
	c.mu.Lock()
	if c.m == nil {
		c.mu.Unlock()
		return
	}
	c.coords = &ll
	c.mu.Unlock()
	c.publish(service.ChangePointer)
}

func (c *Container) onResolution(engine.Event) {
	c.mu.Lock()
	if c.m == nil {
		c.mu.Unlock()
		return
	}
	z, ok := c.m.View().Zoom()
	if !ok {
		c.mu.Unlock()
		return
	}
	c.zoom = z
	c.mu.Unlock()
	c.publish(service.ChangeView)
}

func (c *Container) onRotation(engine.Event) {
	c.mu.Lock()
	if c.m == nil {
		c.mu.Unlock()
		return
	}
	c.rotation = c.m.View().Rotation()
	c.mu.Unlock()
	c.publish(service.ChangeView)
}

// ZoomIn animates one zoom level in.
func (c *Container) ZoomIn() { c.zoomBy(1) }

// ZoomOut animates one zoom level out.
func (c *Container) ZoomOut() { c.zoomBy(-1) }

func (c *Container) zoomBy(delta float64) {
	m := c.current()
	if m == nil {
		return
	}
	z, ok := m.View().Zoom()
	if !ok {
		return
	}
	m.View().Animate(engine.ToZoom(z+delta), engine.Over(zoomDuration))
}

// Home animates back to the configured initial view with north up.
func (c *Container) Home() {
	m := c.current()
	if m == nil {
		return
	}
	m.View().Animate(
		engine.ToCenter(engine.FromLonLat(c.cfg.Center())),
		engine.ToZoom(c.cfg.InitialView.Zoom),
		engine.ToRotation(0),
		engine.Over(homeDuration),
	)
}

// ToggleLayer flips the visibility of the layer with id. Unknown ids are
// ignored.
func (c *Container) ToggleLayer(id string) {
	c.mu.Lock()
	if c.m == nil {
		c.mu.Unlock()
		return
	}
	found := false
	for _, l := range c.layers {
		if l.ID == id {
			l.Visible = !l.Visible
			found = true
			break
		}
	}
	if found {
		c.syncLayerVisibility()
	}
	c.mu.Unlock()

	if found {
		c.publish(service.ChangeLayers)
	}
}

// syncLayerVisibility derives every engine handle's flag from the display
// flag. Caller holds c.mu. Handle listeners must not take c.mu.
func (c *Container) syncLayerVisibility() {
	for _, l := range c.layers {
		l.handle.SetVisible(l.Visible)
	}
}

// ToggleFullscreen requests fullscreen on the container element when nothing
// is fullscreen and exits fullscreen otherwise. A rejected request is logged.
func (c *Container) ToggleFullscreen() {
	if c.current() == nil {
		return
	}
	if c.doc.FullscreenElement() == "" {
		c.doc.RequestFullscreen(ContainerElementID, func(err error) {
			c.log.Warn("fullscreen request failed", zap.Error(err))
		})
		return
	}
	c.doc.ExitFullscreen()
}

// State returns a snapshot of the display state.
func (c *Container) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		Mounted:  c.m != nil,
		Zoom:     c.zoom,
		Rotation: c.rotation,
		Layers:   make([]LayerState, len(c.layers)),
	}
	if c.coords != nil {
		p := *c.coords
		s.Coordinates = &p
	}
	for i, l := range c.layers {
		s.Layers[i] = LayerState{ID: l.ID, Name: l.Name, Visible: l.Visible}
	}
	return s
}

// ScaleBar returns the scale line's latest bar.
func (c *Container) ScaleBar() (engine.ScaleBar, bool) {
	c.mu.Lock()
	scale := c.scale
	c.mu.Unlock()
	if scale == nil {
		return engine.ScaleBar{}, false
	}
	return scale.Bar()
}

// PointerMove forwards a pointer position to the engine.
func (c *Container) PointerMove(p engine.Pixel) {
	if m := c.current(); m != nil {
		m.HandlePointerMove(p)
	}
}

// PointerDown starts a pan, or a rotation when rotate is set.
func (c *Container) PointerDown(p engine.Pixel, rotate bool) {
	if m := c.current(); m != nil {
		m.HandlePointerDown(p, rotate)
	}
}

// PointerUp ends the current gesture.
func (c *Container) PointerUp() {
	if m := c.current(); m != nil {
		m.HandlePointerUp()
	}
}

// Wheel zooms around p.
func (c *Container) Wheel(p engine.Pixel, deltaY float64) {
	if m := c.current(); m != nil {
		m.HandleWheel(p, deltaY)
	}
}

// Resize updates the viewport size.
func (c *Container) Resize(s engine.Size) {
	if m := c.current(); m != nil {
		m.SetSize(s)
	}
}

func (c *Container) publish(kind string) {
	if c.opts.Bus != nil {
		c.opts.Bus.Publish(service.Event{Session: c.opts.Session, Kind: kind})
	}
}
