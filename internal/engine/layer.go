package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/paulmach/orb/maptile"
)

var rangePattern = regexp.MustCompile(`\{([a-z0-9])-([a-z0-9])\}`)

// XYZ is a tile source addressed by a {z}/{x}/{y} URL template. A {a-c} or
// {0-3} range expands into one template per value; tiles are spread across
// them by coordinate hash.
type XYZ struct {
	template string
	urls     []string
	tileSize int
}

// NewXYZ creates a source from template.
func NewXYZ(template string, tileSize int) *XYZ {
	if tileSize <= 0 {
		tileSize = 256
	}
	return &XYZ{template: template, urls: ExpandURL(template), tileSize: tileSize}
}

// Template returns the unexpanded URL template.
func (s *XYZ) Template() string { return s.template }

// TileSize returns the tile edge length in pixels.
func (s *XYZ) TileSize() int { return s.tileSize }

// URLs returns the expanded templates.
func (s *XYZ) URLs() []string { return s.urls }

// TileURL returns the URL of t. Archive sources (pmtiles://) have no direct URL
// and return "".
func (s *XYZ) TileURL(t maptile.Tile) string {
	if len(s.urls) == 0 || strings.HasPrefix(s.template, "pmtiles://") {
		return ""
	}
	idx := ((uint64(t.X) << uint64(t.Z)) + uint64(t.Y)) % uint64(len(s.urls))
	return FillTemplate(s.urls[idx], t)
}

// FillTemplate substitutes {z}, {x}, {y} and {-y} in a single template.
func FillTemplate(tmpl string, t maptile.Tile) string {
	n := uint32(1) << uint32(t.Z)
	r := strings.NewReplacer(
		"{z}", strconv.FormatUint(uint64(t.Z), 10),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
		"{-y}", strconv.FormatUint(uint64(n-1-t.Y), 10),
	)
	return r.Replace(tmpl)
}

// ExpandURL expands the first {a-c} style range of template.
func ExpandURL(template string) []string {
	m := rangePattern.FindStringSubmatchIndex(template)
	if m == nil {
		return []string{template}
	}
	start, stop := template[m[2]], template[m[4]]
	if stop < start {
		return []string{template}
	}
	var urls []string
	for c := start; c <= stop; c++ {
		urls = append(urls, template[:m[0]]+string(c)+template[m[1]:])
	}
	return urls
}

// TileLayer draws tiles from an XYZ source. It emits change:visible.
type TileLayer struct {
	observable

	mu      sync.Mutex
	source  *XYZ
	visible bool
	opacity float64
}

// NewTileLayer creates a visible, opaque layer.
func NewTileLayer(source *XYZ) *TileLayer {
	return &TileLayer{source: source, visible: true, opacity: 1}
}

// Source returns the layer's tile source.
func (l *TileLayer) Source() *XYZ { return l.source }

// Visible reports whether the layer is drawn.
func (l *TileLayer) Visible() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.visible
}

// SetVisible shows or hides the layer.
func (l *TileLayer) SetVisible(v bool) {
	l.mu.Lock()
	changed := l.visible != v
	l.visible = v
	l.mu.Unlock()
	if changed {
		l.dispatch(Event{Type: EventChangeVisible})
	}
}

// Opacity returns the layer opacity in [0,1].
func (l *TileLayer) Opacity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opacity
}

// SetOpacity sets the layer opacity, clamped to [0,1].
func (l *TileLayer) SetOpacity(o float64) {
	l.mu.Lock()
	l.opacity = max(0, min(o, 1))
	l.mu.Unlock()
	l.dispatch(Event{Type: EventChangeVisible})
}

func (l *TileLayer) String() string {
	return fmt.Sprintf("TileLayer(%s)", l.source.template)
}
