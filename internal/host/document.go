// Package host models the browser document a viewer page runs in.
//
// The browser owns real fullscreen state. A Document mirrors it from the
// change notifications the page reports, relays fullscreen requests to the
// page over a Bridge, and resolves rejected requests when the page reports
// them.
package host

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDetached is the rejection reason for requests made while no page is
// connected.
var ErrDetached = errors.New("host: document is not attached to a page")

// Bridge delivers scripts to the connected page.
type Bridge interface {
	Run(script string)
}

// BridgeFunc adapts a function to Bridge.
type BridgeFunc func(script string)

// Run implements Bridge.
func (f BridgeFunc) Run(script string) { f(script) }

// FullscreenListener receives the id of the element that is now fullscreen,
// or "" after fullscreen was exited.
type FullscreenListener func(element string)

// Document is the per-page host document.
type Document struct {
	mu         sync.Mutex
	bridge     Bridge
	fullscreen string
	listeners  map[int]FullscreenListener
	nextID     int
	pending    []func(error)
}

// NewDocument creates a document relaying through bridge. A nil bridge
// rejects every request with ErrDetached.
func NewDocument(bridge Bridge) *Document {
	return &Document{bridge: bridge, listeners: map[int]FullscreenListener{}}
}

// FullscreenElement returns the id of the fullscreen element, or "".
func (d *Document) FullscreenElement() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fullscreen
}

// OnFullscreenChange registers fn and returns the function that removes it.
// Calling remove more than once is a no-op.
func (d *Document) OnFullscreenChange(fn FullscreenListener) (remove func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.listeners, id)
			d.mu.Unlock()
		})
	}
}

// ListenerCount returns the number of registered fullscreen listeners.
func (d *Document) ListenerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners)
}

// RequestFullscreen asks the page to make element fullscreen. It returns
// immediately; if the page rejects the request, onReject is called with the
// reason. The state changes only when the page reports it.
func (d *Document) RequestFullscreen(element string, onReject func(error)) {
	d.mu.Lock()
	bridge := d.bridge
	if bridge != nil && onReject != nil {
		d.pending = append(d.pending, onReject)
	}
	d.mu.Unlock()

	if bridge == nil {
		if onReject != nil {
			onReject(ErrDetached)
		}
		return
	}
	bridge.Run(fmt.Sprintf("window.viewerRequestFullscreen(%q)", element))
}

// ExitFullscreen asks the page to leave fullscreen.
func (d *Document) ExitFullscreen() {
	d.mu.Lock()
	bridge := d.bridge
	d.mu.Unlock()
	if bridge != nil {
		bridge.Run("window.viewerExitFullscreen()")
	}
}

// NotifyFullscreenChange records the page's fullscreen element and informs
// listeners. A non-empty element settles pending requests.
func (d *Document) NotifyFullscreenChange(element string) {
	d.mu.Lock()
	d.fullscreen = element
	if element != "" {
		d.pending = nil
	}
	listeners := make([]FullscreenListener, 0, len(d.listeners))
	for _, fn := range d.listeners {
		listeners = append(listeners, fn)
	}
	d.mu.Unlock()

	for _, fn := range listeners {
		fn(element)
	}
}

// Reject fails every pending fullscreen request with the page's message.
func (d *Document) Reject(message string) {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	err := fmt.Errorf("fullscreen request rejected: %s", message)
	for _, fn := range pending {
		fn(err)
	}
}

// Detach drops the bridge. Pending requests are rejected with ErrDetached.
func (d *Document) Detach() {
	d.mu.Lock()
	d.bridge = nil
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, fn := range pending {
		fn(ErrDetached)
	}
}
