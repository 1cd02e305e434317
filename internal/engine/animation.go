package engine

import (
	"math"
	"time"

	"github.com/paulmach/orb"
)

// Easing maps animation progress in [0,1] to eased progress in [0,1].
type Easing func(t float64) float64

// InAndOut starts slow, speeds up, and slows down again.
func InAndOut(t float64) float64 {
	return t * t * (3 - 2*t)
}

// Linear applies no easing.
func Linear(t float64) float64 {
	return t
}

// Animation is a requested view transition. Nil targets are left unchanged.
// Zoom is the requested value; clamping to the view's bounds happens when the
// animation is applied.
type Animation struct {
	Center   *orb.Point
	Zoom     *float64
	Rotation *float64
	Duration time.Duration
	Easing   Easing
}

// AnimateOption configures an Animation.
type AnimateOption func(*Animation)

// ToCenter animates the center to c (projected coordinates).
func ToCenter(c orb.Point) AnimateOption {
	return func(a *Animation) { a.Center = &c }
}

// ToZoom animates the zoom level to z.
func ToZoom(z float64) AnimateOption {
	return func(a *Animation) { a.Zoom = &z }
}

// ToRotation animates the rotation to r radians.
func ToRotation(r float64) AnimateOption {
	return func(a *Animation) { a.Rotation = &r }
}

// Over sets the animation duration.
func Over(d time.Duration) AnimateOption {
	return func(a *Animation) { a.Duration = d }
}

// WithEasing overrides the default InAndOut easing.
func WithEasing(e Easing) AnimateOption {
	return func(a *Animation) { a.Easing = e }
}

// running is an Animation in flight.
type running struct {
	Animation
	start      time.Time
	fromCenter orb.Point
	fromZoom   float64
	fromRot    float64
	rotDelta   float64
}

// progress returns eased progress at now and whether the animation is done.
func (r *running) progress(now time.Time) (float64, bool) {
	if r.Duration <= 0 {
		return 1, true
	}
	t := float64(now.Sub(r.start)) / float64(r.Duration)
	if t >= 1 {
		return 1, true
	}
	if t < 0 {
		t = 0
	}
	ease := r.Easing
	if ease == nil {
		ease = InAndOut
	}
	return ease(t), false
}

// normalizeRotation maps r into (-π, π].
func normalizeRotation(r float64) float64 {
	r = math.Mod(r+math.Pi, 2*math.Pi)
	if r <= 0 {
		r += 2 * math.Pi
	}
	return r - math.Pi
}

// shortestRotation returns the signed delta from -> to taking the short way.
func shortestRotation(from, to float64) float64 {
	d := to - from
	if math.Abs(d) > math.Pi {
		d -= math.Copysign(2*math.Pi, d)
	}
	return d
}
