package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"
)

// DefaultFrameInterval is the render loop period.
const DefaultFrameInterval = 40 * time.Millisecond

// Target receives rendered frames. Render must not block.
type Target interface {
	Render(Frame)
}

// Control is updated after every rendered frame.
type Control interface {
	Update(Frame)
}

// MapOptions configures a Map.
type MapOptions struct {
	Target        Target
	Layers        []*TileLayer
	View          *View
	FrameInterval time.Duration
}

// Map ties a view and layers to a render target. It emits pointermove and
// change:size; view and layer events are emitted by those objects.
type Map struct {
	observable

	targetMu sync.Mutex // serialises SetTarget

	mu       sync.Mutex
	target   Target
	layers   []*TileLayer
	view     *View
	controls []Control
	size     Size
	dirty    bool
	interval time.Duration
	stop     context.CancelFunc
	done     chan struct{}

	gesture  gesture
	internal []ListenerKey
}

type gesture struct {
	active bool
	rotate bool
	last   Pixel
}

// NewMap creates a map and attaches it to opts.Target when set.
func NewMap(opts MapOptions) *Map {
	m := &Map{
		layers:   opts.Layers,
		view:     opts.View,
		interval: opts.FrameInterval,
		dirty:    true,
	}
	if m.view == nil {
		m.view = NewView(ViewOptions{})
	}
	if m.interval <= 0 {
		m.interval = DefaultFrameInterval
	}

	invalidate := func(Event) { m.invalidate() }
	for _, t := range []EventType{EventChangeCenter, EventChangeResolution, EventChangeRotation} {
		m.internal = append(m.internal, m.view.On(t, invalidate))
	}
	for _, l := range m.layers {
		m.internal = append(m.internal, l.On(EventChangeVisible, invalidate))
	}

	if opts.Target != nil {
		m.SetTarget(opts.Target)
	}
	return m
}

// View returns the map's view.
func (m *Map) View() *View { return m.view }

// Layers returns the map's layers in draw order.
func (m *Map) Layers() []*TileLayer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*TileLayer(nil), m.layers...)
}

// AddControl registers a control updated after each frame.
func (m *Map) AddControl(c Control) {
	m.mu.Lock()
	m.controls = append(m.controls, c)
	m.dirty = true
	m.mu.Unlock()
}

// Controls returns the registered controls.
func (m *Map) Controls() []Control {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Control(nil), m.controls...)
}

// Target returns the current render target, or nil when detached.
func (m *Map) Target() Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// SetTarget attaches the map to t and starts the render loop. A nil target
// detaches the map and stops the loop; in-flight animations are abandoned.
func (m *Map) SetTarget(t Target) {
	m.targetMu.Lock()
	defer m.targetMu.Unlock()

	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.target = nil
	m.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	if t == nil {
		m.view.CancelAnimations()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done = make(chan struct{})
	m.mu.Lock()
	m.target = t
	m.stop, m.done = cancel, done
	m.dirty = true
	m.mu.Unlock()

	go m.loop(ctx, done)
}

// Dispose detaches the map and drops its internal subscriptions.
func (m *Map) Dispose() {
	m.SetTarget(nil)
	m.mu.Lock()
	keys := m.internal
	m.internal = nil
	m.mu.Unlock()
	Unlisten(keys...)
}

func (m *Map) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Tick(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Tick(now)
		}
	}
}

// Tick advances animations to now and renders a frame if anything changed.
func (m *Map) Tick(now time.Time) {
	m.view.Advance(now)

	m.mu.Lock()
	if !m.dirty || m.target == nil || m.size.Empty() {
		m.mu.Unlock()
		return
	}
	m.dirty = false
	target := m.target
	controls := append([]Control(nil), m.controls...)
	m.mu.Unlock()

	frame := m.RenderFrame()
	for _, c := range controls {
		c.Update(frame)
	}
	target.Render(frame)
}

// RenderFrame computes the current frame.
func (m *Map) RenderFrame() Frame {
	m.mu.Lock()
	size := m.size
	layers := append([]*TileLayer(nil), m.layers...)
	m.mu.Unlock()

	f := Frame{
		Size:       size,
		Center:     m.view.Center(),
		Resolution: m.view.Resolution(),
		Rotation:   m.view.Rotation(),
	}
	z, ok := m.view.Zoom()
	if !ok {
		return f
	}
	f.Zoom = z
	for i, l := range layers {
		if !l.Visible() {
			continue
		}
		tz, tiles := placeTiles(l.Source(), size, f.Center, z, f.Rotation)
		f.Layers = append(f.Layers, LayerFrame{
			Index:    i,
			Opacity:  l.Opacity(),
			TileZoom: tz,
			Tiles:    tiles,
		})
	}
	return f
}

// Size returns the viewport size.
func (m *Map) Size() Size {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// SetSize resizes the viewport.
func (m *Map) SetSize(s Size) {
	m.mu.Lock()
	changed := m.size != s
	m.size = s
	if changed {
		m.dirty = true
	}
	m.mu.Unlock()
	if changed {
		m.dispatch(Event{Type: EventChangeSize})
	}
}

func (m *Map) invalidate() {
	m.mu.Lock()
	m.dirty = true
	m.mu.Unlock()
}

// CoordinateFromPixel converts a viewport pixel to projected coordinates.
func (m *Map) CoordinateFromPixel(p Pixel) orb.Point {
	size := m.Size()
	c := m.view.Center()
	res := m.view.Resolution()
	rot := m.view.Rotation()

	vx := (p.X - float64(size.Width)/2) * res
	vy := -(p.Y - float64(size.Height)/2) * res
	cos, sin := math.Cos(rot), math.Sin(rot)
	return orb.Point{
		c[0] + vx*cos - vy*sin,
		c[1] + vx*sin + vy*cos,
	}
}

// PixelFromCoordinate converts projected coordinates to a viewport pixel.
func (m *Map) PixelFromCoordinate(coord orb.Point) Pixel {
	size := m.Size()
	c := m.view.Center()
	res := m.view.Resolution()
	rot := m.view.Rotation()
	if res == 0 {
		return Pixel{X: float64(size.Width) / 2, Y: float64(size.Height) / 2}
	}

	vx, vy := coord[0]-c[0], coord[1]-c[1]
	cos, sin := math.Cos(rot), math.Sin(rot)
	x := vx*cos + vy*sin
	y := -vx*sin + vy*cos
	return Pixel{
		X: float64(size.Width)/2 + x/res,
		Y: float64(size.Height)/2 - y/res,
	}
}

// HandlePointerMove emits pointermove at p and continues an active drag
// gesture: plain drags pan, rotate drags turn the view around its center.
func (m *Map) HandlePointerMove(p Pixel) {
	m.mu.Lock()
	g := m.gesture
	if g.active {
		m.gesture.last = p
	}
	size := m.size
	m.mu.Unlock()

	if g.active {
		m.view.CancelAnimations()
		if g.rotate {
			cx, cy := float64(size.Width)/2, float64(size.Height)/2
			prev := math.Atan2(cy-g.last.Y, g.last.X-cx)
			cur := math.Atan2(cy-p.Y, p.X-cx)
			m.view.SetRotation(normalizeRotation(m.view.Rotation() - (cur - prev)))
		} else {
			from := m.CoordinateFromPixel(g.last)
			to := m.CoordinateFromPixel(p)
			c := m.view.Center()
			m.view.SetCenter(orb.Point{c[0] + from[0] - to[0], c[1] + from[1] - to[1]})
		}
	}

	m.dispatch(Event{Type: EventPointerMove, Pixel: p, Coordinate: m.CoordinateFromPixel(p)})
}

// HandlePointerDown starts a drag gesture at p.
func (m *Map) HandlePointerDown(p Pixel, rotate bool) {
	m.mu.Lock()
	m.gesture = gesture{active: true, rotate: rotate, last: p}
	m.mu.Unlock()
}

// HandlePointerUp ends the current drag gesture.
func (m *Map) HandlePointerUp() {
	m.mu.Lock()
	m.gesture = gesture{}
	m.mu.Unlock()
}

// HandleWheel zooms one level per wheel step around p. Negative deltaY zooms in.
func (m *Map) HandleWheel(p Pixel, deltaY float64) {
	if deltaY == 0 {
		return
	}
	m.view.CancelAnimations()
	m.view.AdjustZoom(-math.Copysign(1, deltaY), m.CoordinateFromPixel(p))
}
