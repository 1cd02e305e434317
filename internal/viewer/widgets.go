package viewer

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-viewer/internal/host"
)

// CoordinatePlaceholder is shown by MapInfo before the pointer has moved.
const CoordinatePlaceholder = "N/A"

// ZoomControl forwards its three buttons to callbacks.
type ZoomControl struct {
	OnZoomIn  func()
	OnZoomOut func()
	OnHome    func()
}

// ZoomIn handles the zoom-in button.
func (z ZoomControl) ZoomIn() { call(z.OnZoomIn) }

// ZoomOut handles the zoom-out button.
func (z ZoomControl) ZoomOut() { call(z.OnZoomOut) }

// Home handles the reset button.
func (z ZoomControl) Home() { call(z.OnHome) }

func call(fn func()) {
	if fn != nil {
		fn()
	}
}

// FullscreenControl shows whether the page is fullscreen. Its state follows
// the document's fullscreen-change notification, since the user can also
// leave fullscreen from browser UI.
type FullscreenControl struct {
	doc      *host.Document
	onToggle func()
	onChange func()

	mu           sync.Mutex
	isFullscreen bool
	remove       func()
}

// NewFullscreenControl creates a control. onToggle is the container's toggle
// command; onChange, if set, is called after the displayed state changed.
func NewFullscreenControl(doc *host.Document, onToggle, onChange func()) *FullscreenControl {
	return &FullscreenControl{doc: doc, onToggle: onToggle, onChange: onChange}
}

// Mount subscribes to fullscreen-change notifications.
func (f *FullscreenControl) Mount() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remove != nil {
		return
	}
	f.remove = f.doc.OnFullscreenChange(func(element string) {
		f.mu.Lock()
		f.isFullscreen = element != ""
		f.mu.Unlock()
		call(f.onChange)
	})
}

// Unmount removes the subscription. Safe to call more than once.
func (f *FullscreenControl) Unmount() {
	f.mu.Lock()
	remove := f.remove
	f.remove = nil
	f.mu.Unlock()
	if remove != nil {
		remove()
	}
}

// Click flips the displayed state optimistically and invokes the toggle. The
// next notification overrides the guess.
func (f *FullscreenControl) Click() {
	f.mu.Lock()
	f.isFullscreen = !f.isFullscreen
	f.mu.Unlock()
	call(f.onChange)
	call(f.onToggle)
}

// IsFullscreen returns the displayed state.
func (f *FullscreenControl) IsFullscreen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isFullscreen
}

// Title returns the button label for the displayed state.
func (f *FullscreenControl) Title() string {
	if f.IsFullscreen() {
		return "Exit fullscreen"
	}
	return "Fullscreen"
}

// LayerControl is the layer menu. Its only state is whether the menu is open;
// checkbox state is always read from the layers passed to Items.
type LayerControl struct {
	onToggle func(id string)

	mu     sync.Mutex
	isOpen bool
}

// NewLayerControl creates a closed layer menu.
func NewLayerControl(onToggle func(id string)) *LayerControl {
	return &LayerControl{onToggle: onToggle}
}

// ToggleOpen opens or closes the menu.
func (l *LayerControl) ToggleOpen() {
	l.mu.Lock()
	l.isOpen = !l.isOpen
	l.mu.Unlock()
}

// IsOpen reports whether the menu is shown.
func (l *LayerControl) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isOpen
}

// Click handles one checkbox click and toggles the layer exactly once.
func (l *LayerControl) Click(id string) {
	if l.onToggle != nil {
		l.onToggle(id)
	}
}

// LayerItem is one rendered checkbox.
type LayerItem struct {
	ID      string
	Name    string
	Checked bool
}

// Items maps layers to checkboxes.
func (l *LayerControl) Items(layers []LayerState) []LayerItem {
	items := make([]LayerItem, len(layers))
	for i, ly := range layers {
		items[i] = LayerItem{ID: ly.ID, Name: ly.Name, Checked: ly.Visible}
	}
	return items
}

// NorthArrowView is the rendered north indicator.
type NorthArrowView struct {
	Angle     float64 // radians, the negated map rotation
	Transform string  // CSS transform
}

// NorthArrow turns the indicator against the map rotation so it keeps
// pointing at true north.
func NorthArrow(rotation float64) NorthArrowView {
	angle := -rotation
	if angle == 0 {
		angle = 0 // no "-0" in CSS
	}
	return NorthArrowView{
		Angle:     angle,
		Transform: "rotate(" + strconv.FormatFloat(angle, 'g', -1, 64) + "rad)",
	}
}

// MapInfoView is the rendered coordinate and zoom readout.
type MapInfoView struct {
	Coordinates string
	Zoom        string
}

// MapInfo formats the pointer coordinate and zoom level.
func MapInfo(coords *orb.Point, zoom float64) MapInfoView {
	v := MapInfoView{
		Coordinates: CoordinatePlaceholder,
		Zoom:        fmt.Sprintf("%.2f", zoom),
	}
	if coords != nil {
		v.Coordinates = fmt.Sprintf("%.6f, %.6f", coords.Lon(), coords.Lat())
	}
	return v
}
