package engine

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestView(zoom *float64) (*View, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	v := NewView(ViewOptions{
		Center:   FromLonLat(orb.Point{127.5, 36.5}),
		Zoom:     zoom,
		MinZoom:  6,
		MaxZoom:  19,
		TileSize: 256,
		Now:      clock.Now,
	})
	return v, clock
}

func zoomPtr(z float64) *float64 { return &z }

func TestProjectionRoundTrip(t *testing.T) {
	ll := orb.Point{127.123456789, 36.987654321}
	back := ToLonLat(FromLonLat(ll))
	assert.InDelta(t, ll[0], back[0], 1e-9)
	assert.InDelta(t, ll[1], back[1], 1e-9)

	origin := FromLonLat(orb.Point{0, 0})
	assert.InDelta(t, 0, origin[0], 1e-6)
	assert.InDelta(t, 0, origin[1], 1e-6)
}

func TestResolutionZoomInverse(t *testing.T) {
	assert.InDelta(t, 156543.03392804097, ResolutionForZoom(0, 256), 1e-6)
	for _, z := range []float64{0, 3.5, 7, 19} {
		assert.InDelta(t, z, ZoomForResolution(ResolutionForZoom(z, 256), 256), 1e-9)
	}
}

func TestViewZoomUndefined(t *testing.T) {
	v, _ := newTestView(nil)
	_, ok := v.Zoom()
	assert.False(t, ok)
	assert.Zero(t, v.Resolution())

	v.SetZoom(8)
	z, ok := v.Zoom()
	assert.True(t, ok)
	assert.Equal(t, 8.0, z)
}

func TestViewClampsZoom(t *testing.T) {
	v, _ := newTestView(zoomPtr(30))
	z, _ := v.Zoom()
	assert.Equal(t, 19.0, z)

	v.SetZoom(1)
	z, _ = v.Zoom()
	assert.Equal(t, 6.0, z)
}

func TestAnimateRecordsRequestedTarget(t *testing.T) {
	v, clock := newTestView(zoomPtr(19))

	v.Animate(ToZoom(20), Over(250*time.Millisecond))
	anims := v.Animations()
	require.Len(t, anims, 1)
	assert.Equal(t, 20.0, *anims[0].Zoom)
	assert.Equal(t, 250*time.Millisecond, anims[0].Duration)
	assert.Nil(t, anims[0].Center)

	clock.t = clock.t.Add(time.Second)
	assert.True(t, v.Advance(clock.t))
	assert.False(t, v.Animating())

	z, _ := v.Zoom()
	assert.Equal(t, 19.0, z, "engine clamps the requested zoom")
}

func TestAnimateInterpolatesAndFinishes(t *testing.T) {
	v, clock := newTestView(zoomPtr(7))
	start := clock.t
	target := FromLonLat(orb.Point{126.9, 37.5})

	v.Animate(ToCenter(target), ToZoom(9), ToRotation(0.5), Over(500*time.Millisecond), WithEasing(Linear))

	v.Advance(start.Add(250 * time.Millisecond))
	z, _ := v.Zoom()
	assert.InDelta(t, 8, z, 1e-9)
	assert.InDelta(t, 0.25, v.Rotation(), 1e-9)
	assert.True(t, v.Animating())

	v.Advance(start.Add(600 * time.Millisecond))
	z, _ = v.Zoom()
	assert.Equal(t, 9.0, z)
	assert.InDelta(t, 0.5, v.Rotation(), 1e-12)
	assert.Equal(t, target, v.Center())
	assert.False(t, v.Animating())
}

func TestAnimateReplacesTransitionInFlight(t *testing.T) {
	v, _ := newTestView(zoomPtr(7))
	v.Animate(ToZoom(8), Over(time.Second))
	v.Animate(ToZoom(6), Over(time.Second))

	anims := v.Animations()
	require.Len(t, anims, 1)
	assert.Equal(t, 6.0, *anims[0].Zoom)
}

func TestAnimateRotationTakesShortPath(t *testing.T) {
	v, clock := newTestView(zoomPtr(7))
	v.SetRotation(3)
	start := clock.t

	v.Animate(ToRotation(-3), Over(time.Second), WithEasing(Linear))
	v.Advance(start.Add(500 * time.Millisecond))
	// 3 -> -3 the short way passes through π rather than 0.
	assert.Greater(t, math.Abs(v.Rotation()), 3.0)

	v.Advance(start.Add(2 * time.Second))
	assert.InDelta(t, -3, v.Rotation(), 1e-9)
}

func TestViewEventsAndUnlisten(t *testing.T) {
	v, _ := newTestView(zoomPtr(7))
	var got []EventType
	k1 := v.On(EventChangeResolution, func(e Event) { got = append(got, e.Type) })
	k2 := v.On(EventChangeRotation, func(e Event) { got = append(got, e.Type) })

	v.SetZoom(8)
	v.SetZoom(8)
	v.SetRotation(1)
	assert.Equal(t, []EventType{EventChangeResolution, EventChangeRotation}, got)

	Unlisten(k1, k2)
	assert.Zero(t, v.ListenerCount(EventChangeResolution))
	v.SetZoom(9)
	v.SetRotation(0)
	assert.Len(t, got, 2)

	// Removing twice is harmless.
	Unlisten(k1)
}

func TestExpandURL(t *testing.T) {
	urls := ExpandURL("https://{a-c}.tile.openstreetmap.org/{z}/{x}/{y}.png")
	assert.Equal(t, []string{
		"https://a.tile.openstreetmap.org/{z}/{x}/{y}.png",
		"https://b.tile.openstreetmap.org/{z}/{x}/{y}.png",
		"https://c.tile.openstreetmap.org/{z}/{x}/{y}.png",
	}, urls)

	assert.Equal(t, []string{"http://host/L{z}/{x}/{y}.png"}, ExpandURL("http://host/L{z}/{x}/{y}.png"))
}

func TestTileURL(t *testing.T) {
	src := NewXYZ("http://host/SD/L{z}/{x}/{y}.png", 256)
	assert.Equal(t, "http://host/SD/L7/109/49.png", src.TileURL(maptile.New(109, 49, 7)))

	tms := NewXYZ("http://host/{z}/{x}/{-y}.png", 256)
	assert.Equal(t, "http://host/1/0/1.png", tms.TileURL(maptile.New(0, 0, 1)))

	sub := NewXYZ("https://{a-c}.example.com/{z}/{x}/{y}.png", 256)
	// (x << z) + y = (1 << 1) + 1 = 3 -> index 0
	assert.Equal(t, "https://a.example.com/1/1/1.png", sub.TileURL(maptile.New(1, 1, 1)))

	archive := NewXYZ("pmtiles://./data/base.pmtiles", 256)
	assert.Empty(t, archive.TileURL(maptile.New(0, 0, 0)))
}

func TestLayerVisibilityEvents(t *testing.T) {
	l := NewTileLayer(NewXYZ("http://host/{z}/{x}/{y}.png", 256))
	assert.True(t, l.Visible())

	n := 0
	l.On(EventChangeVisible, func(Event) { n++ })
	l.SetVisible(false)
	l.SetVisible(false)
	l.SetVisible(true)
	assert.Equal(t, 2, n)
}

func TestPixelCoordinateRoundTrip(t *testing.T) {
	v, _ := newTestView(zoomPtr(7))
	m := NewMap(MapOptions{View: v})
	m.SetSize(Size{Width: 800, Height: 600})

	center := m.CoordinateFromPixel(Pixel{X: 400, Y: 300})
	assert.InDelta(t, v.Center()[0], center[0], 1e-6)
	assert.InDelta(t, v.Center()[1], center[1], 1e-6)

	for _, rot := range []float64{0, 0.7, -2.1} {
		v.SetRotation(rot)
		p := Pixel{X: 123, Y: 456}
		back := m.PixelFromCoordinate(m.CoordinateFromPixel(p))
		assert.InDelta(t, p.X, back.X, 1e-6)
		assert.InDelta(t, p.Y, back.Y, 1e-6)
	}

	v.SetRotation(0)
	right := m.CoordinateFromPixel(Pixel{X: 401, Y: 300})
	assert.InDelta(t, v.Resolution(), right[0]-center[0], 1e-6)
	up := m.CoordinateFromPixel(Pixel{X: 400, Y: 299})
	assert.InDelta(t, v.Resolution(), up[1]-center[1], 1e-6)
}

func TestPlaceTilesWholeWorld(t *testing.T) {
	src := NewXYZ("http://host/{z}/{x}/{y}.png", 256)
	tz, tiles := placeTiles(src, Size{Width: 512, Height: 512}, orb.Point{0, 0}, 1, 0)
	assert.Equal(t, maptile.Zoom(1), tz)
	require.Len(t, tiles, 4)

	first := tiles[0]
	assert.Equal(t, maptile.New(0, 0, 1), first.Tile)
	assert.InDelta(t, 0, first.Left, 1e-6)
	assert.InDelta(t, 0, first.Top, 1e-6)
	assert.InDelta(t, 256, first.Size, 1e-6)
	assert.Equal(t, "http://host/1/0/0.png", first.URL)
}

func TestPlaceTilesWrapsX(t *testing.T) {
	src := NewXYZ("http://host/{z}/{x}/{y}.png", 256)
	_, tiles := placeTiles(src, Size{Width: 1024, Height: 256}, orb.Point{0, 0}, 1, 0)
	for _, p := range tiles {
		assert.Less(t, p.Tile.X, uint32(2))
	}
}

type recordingTarget struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *recordingTarget) Render(f Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *recordingTarget) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestTickRendersOnlyWhenDirty(t *testing.T) {
	v, clock := newTestView(zoomPtr(7))
	layer := NewTileLayer(NewXYZ("http://host/{z}/{x}/{y}.png", 256))
	m := NewMap(MapOptions{View: v, Layers: []*TileLayer{layer}, FrameInterval: time.Hour})
	m.SetSize(Size{Width: 256, Height: 256})

	target := &recordingTarget{}
	m.mu.Lock()
	m.target = target
	m.mu.Unlock()

	m.Tick(clock.t)
	assert.Equal(t, 1, target.count())
	m.Tick(clock.t)
	assert.Equal(t, 1, target.count())

	layer.SetVisible(false)
	m.Tick(clock.t)
	require.Equal(t, 2, target.count())
	assert.Empty(t, target.frames[1].Layers)
}

func TestSetTargetStartsAndStopsLoop(t *testing.T) {
	v, _ := newTestView(zoomPtr(7))
	m := NewMap(MapOptions{View: v, FrameInterval: time.Millisecond})
	m.SetSize(Size{Width: 100, Height: 100})

	target := &recordingTarget{}
	m.SetTarget(target)
	assert.Eventually(t, func() bool { return target.count() > 0 }, time.Second, time.Millisecond)

	v.Animate(ToZoom(8), Over(time.Hour))
	m.SetTarget(nil)
	assert.Nil(t, m.Target())
	assert.False(t, v.Animating(), "detaching abandons animations")

	n := target.count()
	v.SetZoom(9)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, target.count())
}

func TestDragPansAndWheelZooms(t *testing.T) {
	v, _ := newTestView(zoomPtr(7))
	m := NewMap(MapOptions{View: v})
	m.SetSize(Size{Width: 800, Height: 600})
	before := v.Center()
	res := v.Resolution()

	m.HandlePointerDown(Pixel{X: 100, Y: 100}, false)
	m.HandlePointerMove(Pixel{X: 110, Y: 100})
	m.HandlePointerUp()
	after := v.Center()
	assert.InDelta(t, before[0]-10*res, after[0], 1e-6)
	assert.InDelta(t, before[1], after[1], 1e-6)

	m.HandleWheel(Pixel{X: 400, Y: 300}, -120)
	z, _ := v.Zoom()
	assert.Equal(t, 8.0, z)
	assert.InDelta(t, after[0], v.Center()[0], 1e-6)

	m.HandleWheel(Pixel{X: 400, Y: 300}, 3)
	z, _ = v.Zoom()
	assert.Equal(t, 7.0, z)
}

func TestPointerMoveEmitsCoordinate(t *testing.T) {
	v, _ := newTestView(zoomPtr(7))
	m := NewMap(MapOptions{View: v})
	m.SetSize(Size{Width: 800, Height: 600})

	var got Event
	m.On(EventPointerMove, func(e Event) { got = e })
	m.HandlePointerMove(Pixel{X: 400, Y: 300})
	assert.Equal(t, EventPointerMove, got.Type)
	ll := ToLonLat(got.Coordinate)
	assert.InDelta(t, 127.5, ll[0], 1e-9)
	assert.InDelta(t, 36.5, ll[1], 1e-9)
}

func TestScaleBar(t *testing.T) {
	bar := computeScaleBar(ResolutionForZoom(0, 256), 100)
	assert.Equal(t, "20000 km", bar.Label)
	assert.Equal(t, 128, bar.Width)

	small := computeScaleBar(0.5, 100)
	assert.Equal(t, "50 m", small.Label)
	assert.Equal(t, 100, small.Width)
}

func TestScaleLineUpdate(t *testing.T) {
	s := NewScaleLine(ScaleLineOptions{MinWidth: 100, Bar: true})
	_, ok := s.Bar()
	assert.False(t, ok)

	s.Update(Frame{Resolution: ResolutionForZoom(7, 256), Center: FromLonLat(orb.Point{127.5, 36.5})})
	bar, ok := s.Bar()
	require.True(t, ok)
	assert.GreaterOrEqual(t, bar.Width, 100)
	assert.Equal(t, 4, bar.Steps)
	assert.Contains(t, bar.Label, "km")
}
