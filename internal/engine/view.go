package engine

import (
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"
)

// ViewOptions configures a View. Center is in projected coordinates. A nil
// Zoom leaves the view without a resolution until one is set.
type ViewOptions struct {
	Center   orb.Point
	Zoom     *float64
	MinZoom  float64
	MaxZoom  float64
	Rotation float64
	TileSize int

	// Now is the clock used to timestamp animations. Defaults to time.Now.
	Now func() time.Time
}

// View holds center, zoom and rotation. It emits change:center,
// change:resolution and change:rotation.
type View struct {
	observable

	mu       sync.Mutex
	center   orb.Point
	zoom     float64
	hasZoom  bool
	rotation float64
	minZoom  float64
	maxZoom  float64
	tileSize int
	anims    []*running
	now      func() time.Time
}

// NewView creates a view.
func NewView(opts ViewOptions) *View {
	v := &View{
		center:   opts.Center,
		rotation: opts.Rotation,
		minZoom:  opts.MinZoom,
		maxZoom:  opts.MaxZoom,
		tileSize: opts.TileSize,
		now:      opts.Now,
	}
	if v.maxZoom <= 0 || v.maxZoom < v.minZoom {
		v.maxZoom = 28
	}
	if v.tileSize <= 0 {
		v.tileSize = 256
	}
	if v.now == nil {
		v.now = time.Now
	}
	if opts.Zoom != nil {
		v.zoom = v.clampZoom(*opts.Zoom)
		v.hasZoom = true
	}
	v.center = clampCenter(v.center)
	return v
}

// Center returns the projected center.
func (v *View) Center() orb.Point {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.center
}

// Zoom returns the current zoom level. ok is false while the view has no
// resolution.
func (v *View) Zoom() (z float64, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.zoom, v.hasZoom
}

// Resolution returns meters per pixel, or 0 when undefined.
func (v *View) Resolution() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.hasZoom {
		return 0
	}
	return ResolutionForZoom(v.zoom, v.tileSize)
}

// Rotation returns the rotation in radians.
func (v *View) Rotation() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rotation
}

// MinZoom returns the lower zoom clamp.
func (v *View) MinZoom() float64 { return v.minZoom }

// MaxZoom returns the upper zoom clamp.
func (v *View) MaxZoom() float64 { return v.maxZoom }

// TileSize returns the tile grid size in pixels.
func (v *View) TileSize() int { return v.tileSize }

// SetCenter moves the view to c.
func (v *View) SetCenter(c orb.Point) {
	v.mu.Lock()
	evs := v.set(c, v.zoom, v.hasZoom, v.rotation)
	v.mu.Unlock()
	v.emit(evs)
}

// SetZoom sets the zoom level, clamped to the view's bounds.
func (v *View) SetZoom(z float64) {
	v.mu.Lock()
	evs := v.set(v.center, z, true, v.rotation)
	v.mu.Unlock()
	v.emit(evs)
}

// SetRotation sets the rotation in radians.
func (v *View) SetRotation(r float64) {
	v.mu.Lock()
	evs := v.set(v.center, v.zoom, v.hasZoom, r)
	v.mu.Unlock()
	v.emit(evs)
}

// AdjustZoom changes the zoom by delta while keeping the projected anchor at
// the same screen position.
func (v *View) AdjustZoom(delta float64, anchor orb.Point) {
	v.mu.Lock()
	if !v.hasZoom {
		v.mu.Unlock()
		return
	}
	z := v.clampZoom(v.zoom + delta)
	scale := math.Pow(2, v.zoom-z)
	c := orb.Point{
		anchor[0] + (v.center[0]-anchor[0])*scale,
		anchor[1] + (v.center[1]-anchor[1])*scale,
	}
	evs := v.set(c, z, true, v.rotation)
	v.mu.Unlock()
	v.emit(evs)
}

// Animate starts a transition built from opts and cancels any transition in
// flight. Without a resolution the final state is applied at once.
func (v *View) Animate(opts ...AnimateOption) {
	a := Animation{Easing: InAndOut}
	for _, o := range opts {
		o(&a)
	}

	v.mu.Lock()
	if !v.hasZoom && a.Zoom == nil {
		evs := v.finish(&running{Animation: a})
		v.mu.Unlock()
		v.emit(evs)
		return
	}
	r := &running{
		Animation:  a,
		start:      v.now(),
		fromCenter: v.center,
		fromZoom:   v.zoom,
		fromRot:    v.rotation,
	}
	if !v.hasZoom {
		r.fromZoom = *a.Zoom
	}
	if a.Rotation != nil {
		r.rotDelta = shortestRotation(v.rotation, *a.Rotation)
	}
	v.anims = []*running{r}
	v.mu.Unlock()
}

// Animations returns the transitions in flight.
func (v *View) Animations() []Animation {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Animation, len(v.anims))
	for i, r := range v.anims {
		out[i] = r.Animation
	}
	return out
}

// Animating reports whether a transition is in flight.
func (v *View) Animating() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.anims) > 0
}

// CancelAnimations stops transitions in flight where they are.
func (v *View) CancelAnimations() {
	v.mu.Lock()
	v.anims = nil
	v.mu.Unlock()
}

// Advance applies transitions in flight at time now and reports whether
// anything was still animating.
func (v *View) Advance(now time.Time) bool {
	v.mu.Lock()
	if len(v.anims) == 0 {
		v.mu.Unlock()
		return false
	}

	var evs []EventType
	remaining := v.anims[:0]
	for _, r := range v.anims {
		p, done := r.progress(now)
		if done {
			evs = append(evs, v.finish(r)...)
			continue
		}
		c, z, rot := v.center, v.zoom, v.rotation
		if r.Center != nil {
			c = orb.Point{
				r.fromCenter[0] + p*(r.Center[0]-r.fromCenter[0]),
				r.fromCenter[1] + p*(r.Center[1]-r.fromCenter[1]),
			}
		}
		if r.Zoom != nil {
			z = r.fromZoom + p*(*r.Zoom-r.fromZoom)
		}
		if r.Rotation != nil {
			rot = r.fromRot + p*r.rotDelta
		}
		evs = append(evs, v.set(c, z, true, rot)...)
		remaining = append(remaining, r)
	}
	v.anims = remaining
	v.mu.Unlock()

	v.emit(evs)
	return true
}

// finish applies the final state of r. Caller holds v.mu.
func (v *View) finish(r *running) []EventType {
	c, z, has, rot := v.center, v.zoom, v.hasZoom, v.rotation
	if r.Center != nil {
		c = *r.Center
	}
	if r.Zoom != nil {
		z, has = *r.Zoom, true
	}
	if r.Rotation != nil {
		rot = normalizeRotation(*r.Rotation)
	}
	return v.set(c, z, has, rot)
}

// set assigns state and returns the change events to emit. Caller holds v.mu.
func (v *View) set(c orb.Point, z float64, hasZoom bool, rot float64) []EventType {
	var evs []EventType
	c = clampCenter(c)
	if c != v.center {
		v.center = c
		evs = append(evs, EventChangeCenter)
	}
	if hasZoom {
		z = v.clampZoom(z)
		if !v.hasZoom || z != v.zoom {
			v.zoom, v.hasZoom = z, true
			evs = append(evs, EventChangeResolution)
		}
	}
	if rot != v.rotation {
		v.rotation = rot
		evs = append(evs, EventChangeRotation)
	}
	return evs
}

func (v *View) emit(evs []EventType) {
	for _, t := range evs {
		v.dispatch(Event{Type: t})
	}
}

func (v *View) clampZoom(z float64) float64 {
	return math.Max(v.minZoom, math.Min(z, v.maxZoom))
}

// clampCenter keeps the center's northing inside the projected world.
func clampCenter(c orb.Point) orb.Point {
	c[1] = math.Max(-halfWorld, math.Min(c[1], halfWorld))
	return c
}
